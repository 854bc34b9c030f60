package escrow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockTransport records sends and fails addresses on demand.
type mockTransport struct {
	mu    sync.Mutex
	sends []sentMessage
	fail  map[string]bool // address -> always fail
}

type sentMessage struct {
	channel, address, subject, body string
}

func (m *mockTransport) Send(ctx context.Context, channel, address, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[address] {
		return errors.New("gateway unavailable")
	}
	m.sends = append(m.sends, sentMessage{channel, address, subject, body})
	return nil
}

func disclosedSession() *Session {
	now := time.Now()
	return &Session{
		ID: "esc_test",
		Initiator: Party{
			TeamID: "team-a", CaptainName: "Alice",
			ContactChannel: ChannelSMS, ContactAddress: "+15550001111",
		},
		Recipient: Party{
			TeamID: "team-b", CaptainName: "Bianca",
			ContactChannel: ChannelEmail, ContactAddress: "bianca@example.com",
		},
		InitiatorLineup: "initiator lineup",
		RecipientLineup: "recipient lineup",
		Status:          StatusDisclosed,
		DisclosedAt:     &now,
	}
}

func fastDispatcher(transport Transport) *NotifyDispatcher {
	d := NewDispatcher(transport)
	d.baseDelay = time.Millisecond
	return d
}

func TestDispatch_DeliversToBothCaptains(t *testing.T) {
	transport := &mockTransport{}
	d := fastDispatcher(transport)

	result := d.Dispatch(context.Background(), disclosedSession())
	if result.Outcome != DispatchDelivered {
		t.Fatalf("Expected delivered, got %s (%v)", result.Outcome, result.Failed)
	}

	if len(transport.sends) != 2 {
		t.Fatalf("Expected 2 sends, got %d", len(transport.sends))
	}
	if transport.sends[0].channel != "sms" || transport.sends[1].channel != "email" {
		t.Errorf("Unexpected channels: %s, %s", transport.sends[0].channel, transport.sends[1].channel)
	}

	// Both lineups travel together in every message.
	for _, msg := range transport.sends {
		if !strings.Contains(msg.body, "initiator lineup") || !strings.Contains(msg.body, "recipient lineup") {
			t.Errorf("Message to %s missing a lineup: %q", msg.address, msg.body)
		}
	}
}

func TestDispatch_PartialFailure(t *testing.T) {
	transport := &mockTransport{fail: map[string]bool{"bianca@example.com": true}}
	d := fastDispatcher(transport)

	result := d.Dispatch(context.Background(), disclosedSession())
	if result.Outcome != DispatchPartial {
		t.Fatalf("Expected partial, got %s", result.Outcome)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "Bianca" {
		t.Errorf("Expected Bianca in failed list, got %v", result.Failed)
	}
}

func TestDispatch_AllFail(t *testing.T) {
	transport := &mockTransport{fail: map[string]bool{
		"+15550001111":       true,
		"bianca@example.com": true,
	}}
	d := fastDispatcher(transport)

	result := d.Dispatch(context.Background(), disclosedSession())
	if result.Outcome != DispatchFailed {
		t.Fatalf("Expected failed, got %s", result.Outcome)
	}
	if len(result.Failed) != 2 {
		t.Errorf("Expected both captains in failed list, got %v", result.Failed)
	}
}

func TestDispatch_MissingAddress(t *testing.T) {
	transport := &mockTransport{}
	d := fastDispatcher(transport)

	session := disclosedSession()
	session.Recipient.ContactAddress = ""

	result := d.Dispatch(context.Background(), session)
	if result.Outcome != DispatchPartial {
		t.Fatalf("Expected partial, got %s", result.Outcome)
	}
	if len(transport.sends) != 1 {
		t.Errorf("Expected 1 send, got %d", len(transport.sends))
	}
}
