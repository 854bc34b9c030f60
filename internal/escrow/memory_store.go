package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for demo/development mode.
// The mutex stands in for the database's conditional update: every
// transition checks the current status under the lock.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

func (m *MemoryStore) Create(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	// Copy so callers can't mutate the stored record.
	cp := *session
	return &cp, nil
}

func (m *MemoryStore) SubmitRecipientLineup(ctx context.Context, id, lineup string, now time.Time) (Outcome, *Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return "", nil, ErrSessionNotFound
	}

	if outcome, flipped, done := terminalOutcome(session, now); done {
		cp := *session
		cp.lazyExpired = flipped
		return outcome, &cp, nil
	}

	disclosed := now
	session.RecipientLineup = lineup
	session.Status = StatusDisclosed
	session.DisclosedAt = &disclosed

	cp := *session
	return OutcomeDisclosed, &cp, nil
}

func (m *MemoryStore) Cancel(ctx context.Context, id string, now time.Time) (Outcome, *Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return "", nil, ErrSessionNotFound
	}

	if outcome, flipped, done := terminalOutcome(session, now); done {
		cp := *session
		cp.lazyExpired = flipped
		return outcome, &cp, nil
	}

	session.Status = StatusCancelled

	cp := *session
	return OutcomeCancelled, &cp, nil
}

func (m *MemoryStore) UpdateRecipientContact(ctx context.Context, id string, channel Channel, address string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.Status != StatusAwaitingRecipient {
		return nil, ErrSessionClosed
	}

	session.Recipient.ContactChannel = channel
	session.Recipient.ContactAddress = address

	cp := *session
	return &cp, nil
}

func (m *MemoryStore) MarkDispatched(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if session.DispatchCount > 0 {
		return false, nil
	}
	session.DispatchCount = 1
	return true, nil
}

func (m *MemoryStore) SweepExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept []*Session
	for _, session := range m.sessions {
		if session.Status != StatusAwaitingRecipient || session.ExpiresAt.After(now) {
			continue
		}
		session.Status = StatusExpired
		cp := *session
		swept = append(swept, &cp)
		if limit > 0 && len(swept) >= limit {
			break
		}
	}
	return swept, nil
}

// terminalOutcome maps a session that already left awaiting_recipient
// (or sat past its deadline unswept) to the outcome a late caller sees.
// An unswept expired session is flipped here so the lazy path and the
// sweeper agree; flipped reports whether this call did the flip.
func terminalOutcome(session *Session, now time.Time) (outcome Outcome, flipped, done bool) {
	switch session.Status {
	case StatusDisclosed:
		return OutcomeAlreadyDisclosed, false, true
	case StatusCancelled:
		return OutcomeCancelled, false, true
	case StatusExpired:
		return OutcomeExpired, false, true
	}
	if !session.ExpiresAt.After(now) {
		session.Status = StatusExpired
		return OutcomeExpired, true, true
	}
	return "", false, false
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
