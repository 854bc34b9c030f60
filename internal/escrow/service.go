package escrow

import (
	"context"
	"strings"
	"time"

	"github.com/rossfreedman/rally-sub007/internal/idgen"
	"github.com/rossfreedman/rally-sub007/internal/logging"
	"github.com/rossfreedman/rally-sub007/internal/metrics"
	"github.com/rossfreedman/rally-sub007/internal/traces"
)

// Dispatcher delivers both lineups to both captains once a session is
// disclosed. Delivery failure never rolls back the disclosure; it is an
// operational concern, not a protocol-state one.
type Dispatcher interface {
	Dispatch(ctx context.Context, session *Session) DispatchResult
}

// DispatchResult reports how disclosure delivery went.
type DispatchResult struct {
	Outcome string   `json:"outcome"` // "delivered", "partial", or "failed"
	Failed  []string `json:"failed,omitempty"`
}

const (
	DispatchDelivered = "delivered"
	DispatchPartial   = "partial"
	DispatchFailed    = "failed"
)

// Events receives session status-change notifications. Implemented by
// the realtime hub; optional.
type Events interface {
	SessionStatusChanged(session *Session)
}

// CreateRequest contains the parameters for opening an escrow session.
type CreateRequest struct {
	Initiator       Party  `json:"initiator" binding:"required"`
	InitiatorLineup string `json:"initiatorLineup" binding:"required"`
	Recipient       Party  `json:"recipient" binding:"required"`
	TTL             string `json:"ttl"` // Duration string, e.g. "24h"; default 48h
}

// Service orchestrates the escrow protocol. The store enforces
// atomicity; the service enforces business rules and triggers the
// disclosure dispatch exactly once per session.
type Service struct {
	store      Store
	dispatcher Dispatcher
	events     Events
	ttl        time.Duration
	now        func() time.Time
}

// NewService creates a new escrow service.
func NewService(store Store, dispatcher Dispatcher) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
}

// WithTTL overrides the default submission window.
func (s *Service) WithTTL(d time.Duration) *Service {
	if d > 0 {
		s.ttl = d
	}
	return s
}

// WithEvents adds a status-change listener.
func (s *Service) WithEvents(e Events) *Service {
	s.events = e
	return s
}

// WithClock overrides the time source (for testing).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a new escrow session holding the initiator's lineup.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	req.InitiatorLineup = strings.TrimSpace(req.InitiatorLineup)
	if req.InitiatorLineup == "" {
		return nil, ErrEmptyLineup
	}
	if strings.TrimSpace(req.Recipient.CaptainName) == "" {
		return nil, ErrMissingRecipient
	}
	if !ValidChannel(req.Initiator.ContactChannel) {
		return nil, ErrInvalidChannel
	}
	// The recipient's address may be confirmed later, but if one is
	// given now it needs a channel to go with it.
	if req.Recipient.ContactAddress != "" && !ValidChannel(req.Recipient.ContactChannel) {
		return nil, ErrInvalidChannel
	}

	ttl := s.ttl
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			return nil, ErrInvalidTTL
		}
		// Zero is legal: the session is born past its deadline, so the
		// next sweep (or the first submit) expires it.
		ttl = d
	}

	now := s.now()
	session := &Session{
		ID:              idgen.WithPrefix("esc_"),
		Initiator:       req.Initiator,
		Recipient:       req.Recipient,
		InitiatorLineup: req.InitiatorLineup,
		Status:          StatusAwaitingRecipient,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}

	ctx, span := traces.StartSpan(ctx, "escrow.create", traces.SessionID(session.ID))
	defer span.End()

	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}

	metrics.EscrowSessionsCreated.Inc()
	return session, nil
}

// SubmitRecipientLineup records the opposing captain's lineup. The
// first call to win the store's conditional update discloses the
// session and triggers delivery; any duplicate or late call gets the
// terminal outcome back with no second dispatch, which makes the whole
// operation idempotent under retries.
func (s *Service) SubmitRecipientLineup(ctx context.Context, id, lineup string) (Outcome, *Session, error) {
	lineup = strings.TrimSpace(lineup)
	if lineup == "" {
		return "", nil, ErrEmptyLineup
	}

	ctx, span := traces.StartSpan(ctx, "escrow.submit", traces.SessionID(id))
	defer span.End()

	outcome, session, err := s.store.SubmitRecipientLineup(ctx, id, lineup, s.now())
	if err != nil {
		return "", nil, err
	}

	switch {
	case outcome == OutcomeDisclosed:
		metrics.EscrowSessionsTotal.WithLabelValues(string(StatusDisclosed)).Inc()
		s.statusChanged(session)
		s.dispatchOnce(ctx, session)
	case session.lazyExpired:
		// This submit flipped an overdue session before the sweeper got
		// to it; report the expiry the same way the sweeper would.
		s.reportExpired(session)
	}

	return outcome, session, nil
}

// Cancel withdraws the session. Only the initiating team may cancel,
// and only while the session is still awaiting the opponent.
func (s *Service) Cancel(ctx context.Context, id, requesterTeamID string) (Outcome, *Session, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.cancel", traces.SessionID(id))
	defer span.End()

	session, err := s.store.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if requesterTeamID != session.Initiator.TeamID {
		return "", nil, ErrUnauthorized
	}
	wasOpen := session.Status == StatusAwaitingRecipient

	outcome, session, err := s.store.Cancel(ctx, id, s.now())
	if err != nil {
		return "", nil, err
	}

	// A repeat cancel is idempotent; only the transition itself counts.
	switch {
	case outcome == OutcomeCancelled && wasOpen:
		metrics.EscrowSessionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
		s.statusChanged(session)
	case session.lazyExpired:
		s.reportExpired(session)
	}

	return outcome, session, nil
}

// Get returns a session by ID, unredacted. Callers serving one side of
// the escrow must use ViewFor to avoid leaking the other side's lineup.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

// UpdateRecipientContact corrects where the opposing captain is
// reached. Team identity is fixed at creation; only the address moves.
func (s *Service) UpdateRecipientContact(ctx context.Context, id string, channel Channel, address string) (*Session, error) {
	if !ValidChannel(channel) {
		return nil, ErrInvalidChannel
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrMissingRecipient
	}
	return s.store.UpdateRecipientContact(ctx, id, channel, address)
}

// SweepExpired expires every session past its deadline and returns how
// many were flipped.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	swept, err := s.store.SweepExpired(ctx, now, 100)
	if err != nil {
		return 0, err
	}
	for _, session := range swept {
		s.reportExpired(session)
	}
	return len(swept), nil
}

// reportExpired records an expiry transition once, whichever path (the
// sweeper or a late submit/cancel) performed the flip.
func (s *Service) reportExpired(session *Session) {
	metrics.EscrowSessionsTotal.WithLabelValues(string(StatusExpired)).Inc()
	s.statusChanged(session)
}

// dispatchOnce invokes disclosure delivery at most once per session.
// The dispatch_count guard is recorded before the dispatch call, so a
// process restart mid-dispatch can never produce a second delivery.
func (s *Service) dispatchOnce(ctx context.Context, session *Session) {
	log := logging.L(ctx)

	won, err := s.store.MarkDispatched(ctx, session.ID)
	if err != nil {
		log.Error("failed to record disclosure dispatch", "sessionId", session.ID, "error", err)
		return
	}
	if !won {
		return
	}
	session.DispatchCount = 1

	result := s.dispatcher.Dispatch(ctx, session)
	metrics.EscrowDispatchesTotal.WithLabelValues(result.Outcome).Inc()

	switch result.Outcome {
	case DispatchDelivered:
		log.Info("disclosure delivered", "sessionId", session.ID)
	case DispatchPartial:
		log.Warn("disclosure partially delivered",
			"sessionId", session.ID, "failed", result.Failed)
	default:
		// The session stays disclosed; delivery is retried at the
		// operator level, never the state transition.
		log.Error("disclosure delivery failed", "sessionId", session.ID, "failed", result.Failed)
	}
}

func (s *Service) statusChanged(session *Session) {
	if s.events != nil {
		s.events.SessionStatusChanged(session)
	}
}

// ViewerRole identifies which side of the escrow is reading a session.
type ViewerRole string

const (
	ViewerInitiator ViewerRole = "initiator"
	ViewerRecipient ViewerRole = "recipient"
)

// ViewFor returns a copy of the session redacted for the given viewer.
// Before disclosure neither side can see the other's lineup; after
// disclosure both see both. An unrecognized viewer sees no lineups
// until disclosure.
func (s *Session) ViewFor(role ViewerRole) *Session {
	cp := *s
	if cp.Status == StatusDisclosed {
		return &cp
	}
	switch role {
	case ViewerInitiator:
		cp.RecipientLineup = ""
	case ViewerRecipient:
		cp.InitiatorLineup = ""
		cp.RecipientLineup = ""
	default:
		cp.InitiatorLineup = ""
		cp.RecipientLineup = ""
	}
	return &cp
}
