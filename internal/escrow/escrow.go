// Package escrow implements the lineup escrow commit/reveal protocol.
//
// Flow:
//  1. Initiating captain creates a session with their lineup sealed in
//  2. Opposing captain receives a link and submits their own lineup
//  3. First successful submission flips the session to disclosed
//  4. Both lineups are delivered to both captains at once
//
// Neither captain can read the other's lineup before both are committed.
// All coordination goes through the store's conditional status update;
// the service holds no cross-request state.
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound  = errors.New("escrow session not found")
	ErrUnauthorized     = errors.New("not authorized for this escrow operation")
	ErrEmptyLineup      = errors.New("lineup must not be empty")
	ErrMissingRecipient = errors.New("recipient captain name is required")
	ErrInvalidChannel   = errors.New("contact channel must be sms or email")
	ErrInvalidTTL       = errors.New("ttl must be a non-negative duration")
	ErrSessionClosed    = errors.New("escrow session is no longer open")
)

// Status represents the state of an escrow session.
type Status string

const (
	StatusAwaitingRecipient Status = "awaiting_recipient" // Initiator committed, waiting on opponent
	StatusDisclosed         Status = "disclosed"          // Both lineups in, revealed to both sides
	StatusCancelled         Status = "cancelled"          // Initiator withdrew before opponent submitted
	StatusExpired           Status = "expired"            // Opponent never submitted before the deadline
)

// Channel is the delivery channel for a captain's contact address.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ValidChannel reports whether c is a known delivery channel.
func ValidChannel(c Channel) bool {
	return c == ChannelSMS || c == ChannelEmail
}

// DefaultTTL is the default window the opposing captain has to submit.
const DefaultTTL = 48 * time.Hour

// Party identifies one side of the escrow and where to reach them.
type Party struct {
	TeamID         string  `json:"teamId"`
	CaptainName    string  `json:"captainName"`
	ContactChannel Channel `json:"contactChannel"`
	ContactAddress string  `json:"contactAddress"`
}

// Session is the persisted escrow record.
//
// InitiatorLineup is immutable after creation. RecipientLineup is empty
// until the opposing captain submits, then immutable. DispatchCount
// never exceeds 1.
type Session struct {
	ID              string     `json:"id"`
	Initiator       Party      `json:"initiator"`
	Recipient       Party      `json:"recipient"`
	InitiatorLineup string     `json:"initiatorLineup,omitempty"`
	RecipientLineup string     `json:"recipientLineup,omitempty"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	DisclosedAt     *time.Time `json:"disclosedAt,omitempty"`
	ExpiresAt       time.Time  `json:"expiresAt"`
	DispatchCount   int        `json:"dispatchCount"`

	// lazyExpired marks a session whose expiry flip was performed by the
	// current store call rather than the sweeper. Stores set it on the
	// returned copy only; the service uses it to report the transition
	// exactly once.
	lazyExpired bool
}

// IsTerminal returns true if the session is in a final state.
func (s *Session) IsTerminal() bool {
	switch s.Status {
	case StatusDisclosed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Outcome classifies the result of an action against a session. Races
// against a session that already left awaiting_recipient are expected
// results, not errors, so the caller can render them gracefully.
type Outcome string

const (
	OutcomeDisclosed        Outcome = "disclosed"         // This call won the disclosure
	OutcomeAlreadyDisclosed Outcome = "already_disclosed" // Someone else already disclosed it
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeExpired          Outcome = "expired"
)

// Store persists escrow sessions.
//
// SubmitRecipientLineup and Cancel are conditional updates: the
// transition out of awaiting_recipient happens only if the session is
// still in that state at the instant of the update. Exactly one caller
// wins a race; everyone else observes the terminal outcome.
type Store interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)

	// SubmitRecipientLineup atomically stores the lineup and flips the
	// session to disclosed, but only while it is awaiting_recipient and
	// not past expires_at. On a lost race it returns the terminal
	// outcome and the session as it stands.
	SubmitRecipientLineup(ctx context.Context, id, lineup string, now time.Time) (Outcome, *Session, error)

	// Cancel flips the session to cancelled under the same conditional
	// discipline. Cancellation can never race past a disclosure.
	Cancel(ctx context.Context, id string, now time.Time) (Outcome, *Session, error)

	// UpdateRecipientContact corrects the recipient's contact address.
	// Only legal while awaiting_recipient; returns ErrSessionClosed
	// otherwise.
	UpdateRecipientContact(ctx context.Context, id string, channel Channel, address string) (*Session, error)

	// MarkDispatched records that disclosure delivery is being invoked
	// for this session. Returns true exactly once per session; the
	// dispatch_count guard survives process restarts.
	MarkDispatched(ctx context.Context, id string) (bool, error)

	// SweepExpired flips every awaiting_recipient session past its
	// deadline to expired and returns the flipped sessions.
	SweepExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error)
}
