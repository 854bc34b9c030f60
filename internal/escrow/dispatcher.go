package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/rossfreedman/rally-sub007/internal/logging"
	"github.com/rossfreedman/rally-sub007/internal/retry"
)

// Transport sends a single message over an external channel. Declared
// here so the escrow package doesn't import the messaging client;
// satisfied by notify.Sender implementations.
type Transport interface {
	Send(ctx context.Context, channel, address, subject, body string) error
}

// NotifyDispatcher delivers disclosed lineups to both captains over the
// messaging transport. Each recipient send is retried with backoff;
// failures are reported per recipient and never touch session state.
type NotifyDispatcher struct {
	transport Transport
	attempts  int
	baseDelay time.Duration
}

// NewDispatcher creates a dispatcher over the given transport.
func NewDispatcher(transport Transport) *NotifyDispatcher {
	return &NotifyDispatcher{
		transport: transport,
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
	}
}

func (d *NotifyDispatcher) Dispatch(ctx context.Context, session *Session) DispatchResult {
	log := logging.L(ctx)

	subject := fmt.Sprintf("Lineups disclosed: %s vs %s",
		session.Initiator.CaptainName, session.Recipient.CaptainName)
	body := disclosureBody(session)

	var failed []string
	delivered := 0
	for _, party := range []Party{session.Initiator, session.Recipient} {
		if party.ContactAddress == "" {
			log.Warn("no contact address for disclosure recipient",
				"sessionId", session.ID, "team", party.TeamID)
			failed = append(failed, party.CaptainName)
			continue
		}

		err := retry.Do(ctx, d.attempts, d.baseDelay, func() error {
			return d.transport.Send(ctx, string(party.ContactChannel), party.ContactAddress, subject, body)
		})
		if err != nil {
			log.Warn("disclosure send failed",
				"sessionId", session.ID, "team", party.TeamID, "error", err)
			failed = append(failed, party.CaptainName)
			continue
		}
		delivered++
	}

	switch {
	case len(failed) == 0:
		return DispatchResult{Outcome: DispatchDelivered}
	case delivered > 0:
		return DispatchResult{Outcome: DispatchPartial, Failed: failed}
	default:
		return DispatchResult{Outcome: DispatchFailed, Failed: failed}
	}
}

// disclosureBody renders the message both captains receive. Both
// lineups always travel together; there is no per-side variant that
// could leak one lineup without the other.
func disclosureBody(session *Session) string {
	return fmt.Sprintf(
		"Lineup escrow complete.\n\n%s lineup:\n%s\n\n%s lineup:\n%s\n",
		session.Initiator.CaptainName, session.InitiatorLineup,
		session.Recipient.CaptainName, session.RecipientLineup,
	)
}
