package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrBalanceNotFound is returned when adjusting the balance of a user row that does not exist.
	ErrBalanceNotFound = errors.New("user not found")
	// ErrBalanceWouldGoNegative is returned when a debit exceeds the user's current balance.
	ErrBalanceWouldGoNegative = errors.New("balance would go negative")
)

// LedgerRepository handles the balance and transaction-row primitives the
// Ledger service composes into Credit/Debit/Transfer under a single
// serializable transaction.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new ledger repository instance.
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{pool: db.pool}
}

// BeginSerializable starts a serializable transaction, the isolation
// level the Ledger requires so that concurrent debits on the same user
// are strictly ordered rather than racing on a stale balance read.
func (r *LedgerRepository) BeginSerializable(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
}

// AdjustBalance applies delta (positive for credit, negative for debit) to
// a user's balance within the given transaction. A debit that would drive
// the balance negative is rejected at the SQL layer by the WHERE clause,
// so no read-then-write race is possible even under repeatable read.
func (r *LedgerRepository) AdjustBalance(ctx context.Context, tx pgx.Tx, userID string, delta int64) (int64, error) {
	var newBalance int64
	err := tx.QueryRow(ctx, `UPDATE users SET balance_sats = balance_sats + $2
		WHERE id = $1 AND balance_sats + $2 >= 0
		RETURNING balance_sats`, userID, delta).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.getBalanceTx(ctx, tx, userID); getErr != nil {
				return 0, ErrBalanceNotFound
			}
			return 0, ErrBalanceWouldGoNegative
		}
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return newBalance, nil
}

func (r *LedgerRepository) getBalanceTx(ctx context.Context, tx pgx.Tx, userID string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance_sats FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// InsertTransaction records one ledger transaction row within the caller's
// transaction. Every balance mutation gets exactly one of these.
func (r *LedgerRepository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *LedgerTransaction) error {
	query := `INSERT INTO ledger_transactions (
		id, user_id, type, amount_sats, fee_sats, description, related_session_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.UserID, t.Type, t.AmountSats, t.FeeSats, t.Description, t.RelatedSessionID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger transaction: %w", err)
	}
	return nil
}

// ListTransactions returns a page of a user's ledger history, newest first.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID string, page, size int) ([]*LedgerTransaction, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}

	query := `SELECT id, user_id, type, amount_sats, fee_sats, description, related_session_id, created_at
		FROM ledger_transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*LedgerTransaction
	for rows.Next() {
		var t LedgerTransaction
		var typeStr string
		if err := rows.Scan(&t.ID, &t.UserID, &typeStr, &t.AmountSats, &t.FeeSats, &t.Description, &t.RelatedSessionID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger transaction row: %w", err)
		}
		txType, err := ParseLedgerTxType(typeStr)
		if err != nil {
			return nil, err
		}
		t.Type = txType
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
