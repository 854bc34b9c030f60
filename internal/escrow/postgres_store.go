package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists escrow sessions in PostgreSQL.
//
// Every transition out of awaiting_recipient is a single conditional
// UPDATE guarded on the current status, so two racing submissions (or a
// submit racing a cancel) resolve to exactly one winner inside the
// database with no application-level locking.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id,
		       initiator_team_id, initiator_captain, initiator_channel, initiator_address,
		       recipient_team_id, recipient_captain, recipient_channel, recipient_address,
		       initiator_lineup, recipient_lineup,
		       status, created_at, disclosed_at, expires_at, dispatch_count`

func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_sessions (
			id,
			initiator_team_id, initiator_captain, initiator_channel, initiator_address,
			recipient_team_id, recipient_captain, recipient_channel, recipient_address,
			initiator_lineup, recipient_lineup,
			status, created_at, disclosed_at, expires_at, dispatch_count
		) VALUES (
			$1,
			$2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			$12, $13, $14, $15, $16
		)`,
		s.ID,
		s.Initiator.TeamID, s.Initiator.CaptainName, string(s.Initiator.ContactChannel), s.Initiator.ContactAddress,
		s.Recipient.TeamID, s.Recipient.CaptainName, string(s.Recipient.ContactChannel), nullString(s.Recipient.ContactAddress),
		s.InitiatorLineup, nullString(s.RecipientLineup),
		string(s.Status), s.CreatedAt, nullTime(s.DisclosedAt), s.ExpiresAt, s.DispatchCount,
	)
	if err != nil {
		return fmt.Errorf("insert escrow session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM escrow_sessions WHERE id = $1`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	return s, err
}

func (p *PostgresStore) SubmitRecipientLineup(ctx context.Context, id, lineup string, now time.Time) (Outcome, *Session, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_sessions
		SET status = 'disclosed', recipient_lineup = $2, disclosed_at = $3
		WHERE id = $1 AND status = 'awaiting_recipient' AND expires_at > $3`,
		id, lineup, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("submit recipient lineup: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return "", nil, err
	}

	if rows == 1 {
		s, err := p.Get(ctx, id)
		if err != nil {
			return "", nil, err
		}
		return OutcomeDisclosed, s, nil
	}

	return p.lostRace(ctx, id, now)
}

func (p *PostgresStore) Cancel(ctx context.Context, id string, now time.Time) (Outcome, *Session, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_sessions
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'awaiting_recipient' AND expires_at > $2`,
		id, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("cancel escrow session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return "", nil, err
	}

	if rows == 1 {
		s, err := p.Get(ctx, id)
		if err != nil {
			return "", nil, err
		}
		return OutcomeCancelled, s, nil
	}

	return p.lostRace(ctx, id, now)
}

// lostRace classifies a conditional update that matched no row: either
// the session does not exist, or it already reached a terminal state.
// An awaiting session past its deadline is flipped to expired here so
// late callers and the sweeper report the same thing.
func (p *PostgresStore) lostRace(ctx context.Context, id string, now time.Time) (Outcome, *Session, error) {
	s, err := p.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}

	switch s.Status {
	case StatusDisclosed:
		return OutcomeAlreadyDisclosed, s, nil
	case StatusCancelled:
		return OutcomeCancelled, s, nil
	case StatusExpired:
		return OutcomeExpired, s, nil
	}

	// Still awaiting_recipient, so the guard that failed was the
	// deadline. Expire it in place; a concurrent winner just means the
	// sweeper got there first.
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_sessions
		SET status = 'expired'
		WHERE id = $1 AND status = 'awaiting_recipient' AND expires_at <= $2`,
		id, now,
	)
	if err != nil {
		return "", nil, fmt.Errorf("expire stale session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return "", nil, err
	}
	s.Status = StatusExpired
	s.lazyExpired = rows == 1
	return OutcomeExpired, s, nil
}

func (p *PostgresStore) UpdateRecipientContact(ctx context.Context, id string, channel Channel, address string) (*Session, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_sessions
		SET recipient_channel = $2, recipient_address = $3
		WHERE id = $1 AND status = 'awaiting_recipient'`,
		id, string(channel), address,
	)
	if err != nil {
		return nil, fmt.Errorf("update recipient contact: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Distinguish missing from closed.
		if _, err := p.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrSessionClosed
	}
	return p.Get(ctx, id)
}

func (p *PostgresStore) MarkDispatched(ctx context.Context, id string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_sessions
		SET dispatch_count = 1
		WHERE id = $1 AND dispatch_count = 0`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark dispatched: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (p *PostgresStore) SweepExpired(ctx context.Context, now time.Time, limit int) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE escrow_sessions
		SET status = 'expired'
		WHERE id IN (
			SELECT id FROM escrow_sessions
			WHERE status = 'awaiting_recipient' AND expires_at <= $1
			LIMIT $2
		)
		RETURNING `+sessionColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sweep expired sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var swept []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		swept = append(swept, s)
	}
	return swept, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(sc scanner) (*Session, error) {
	s := &Session{}
	var (
		initiatorChannel string
		recipientChannel string
		recipientAddress sql.NullString
		recipientLineup  sql.NullString
		status           string
		disclosedAt      sql.NullTime
	)

	err := sc.Scan(
		&s.ID,
		&s.Initiator.TeamID, &s.Initiator.CaptainName, &initiatorChannel, &s.Initiator.ContactAddress,
		&s.Recipient.TeamID, &s.Recipient.CaptainName, &recipientChannel, &recipientAddress,
		&s.InitiatorLineup, &recipientLineup,
		&status, &s.CreatedAt, &disclosedAt, &s.ExpiresAt, &s.DispatchCount,
	)
	if err != nil {
		return nil, err
	}

	s.Initiator.ContactChannel = Channel(initiatorChannel)
	s.Recipient.ContactChannel = Channel(recipientChannel)
	s.Recipient.ContactAddress = recipientAddress.String
	s.RecipientLineup = recipientLineup.String
	s.Status = Status(status)
	if disclosedAt.Valid {
		s.DisclosedAt = &disclosedAt.Time
	}

	return s, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
