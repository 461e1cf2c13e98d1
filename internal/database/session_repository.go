package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSessionNotFound is returned when a session is not found in the database.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository handles all database operations for sessions.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a new session repository instance.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db.pool}
}

const sessionColumns = `id, user_id, node_id, model_id, hf_repo, context_length, minutes_purchased,
	amount_sats, state, payment_method, payment_reference, created_at, paid_at, started_at,
	expires_at, ended_at`

// Create inserts a new session in pending_payment state.
func (r *SessionRepository) Create(ctx context.Context, s *Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(ctx, query,
		s.ID, s.UserID, s.NodeID, s.ModelID, s.HFRepo, s.ContextLength, s.MinutesPurchased,
		s.AmountSats, s.State, s.PaymentMethod, s.PaymentReference, s.CreatedAt, s.PaidAt, s.StartedAt,
		s.ExpiresAt, s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by id. Returns ErrSessionNotFound if absent.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// MarkPaid records PaymentObserved, guarded by a paid_at IS NULL
// precondition so a duplicated settlement callback is a silent no-op
// rather than a second transition (the double-settlement open question).
func (r *SessionRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time, newState SessionState) (bool, error) {
	query := `UPDATE sessions SET state = $2, paid_at = $3
		WHERE id = $1 AND paid_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id, newState, paidAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark session paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkStarted records NodeReady, guarded symmetrically by a
// started_at IS NULL precondition.
func (r *SessionRepository) MarkStarted(ctx context.Context, id string, startedAt, expiresAt time.Time) (bool, error) {
	query := `UPDATE sessions SET state = $2, started_at = $3, expires_at = $4
		WHERE id = $1 AND started_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id, SessionActive, startedAt, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark session started: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetState transitions a session to a new state unconditionally. Used
// for transitions that are not exposed to duplicate external callbacks
// (CancelRequested, ExpiryTick, EndRequested, settlement/refund completion).
func (r *SessionRepository) SetState(ctx context.Context, id string, state SessionState) error {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return fmt.Errorf("failed to set session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// End marks a session ended at the given time.
func (r *SessionRepository) End(ctx context.Context, id string, endedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET state = $2, ended_at = $3 WHERE id = $1`,
		id, SessionEnded, endedAt)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListByState returns every session in the given state, for Scheduler
// sweeps (active sessions for expiry, pending_payment for invoice polling).
func (r *SessionRepository) ListByState(ctx context.Context, state SessionState) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE state = $1 ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions in state %s: %w", state, err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) scanOne(ctx context.Context, query string, arg any) (*Session, error) {
	row := r.db.QueryRow(ctx, query, arg)
	s, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func scanSessionRow(row rowScanner) (*Session, error) {
	var s Session
	var stateStr, methodStr string

	err := row.Scan(
		&s.ID, &s.UserID, &s.NodeID, &s.ModelID, &s.HFRepo, &s.ContextLength, &s.MinutesPurchased,
		&s.AmountSats, &stateStr, &methodStr, &s.PaymentReference, &s.CreatedAt, &s.PaidAt, &s.StartedAt,
		&s.ExpiresAt, &s.EndedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}

	state, err := ParseSessionState(stateStr)
	if err != nil {
		return nil, err
	}
	s.State = state

	method, err := ParsePaymentMethod(methodStr)
	if err != nil {
		return nil, err
	}
	s.PaymentMethod = method

	return &s, nil
}
