// Package ledger is the transactional internal balance store: atomic
// credit/debit with typed transaction records, over a relational
// database. Every public operation runs inside a single serializable
// transaction so that concurrent debits on the same user are strictly
// ordered rather than racing on a stale balance read.
package ledger

import (
	"context"

	"infermarket/internal/database"
)

// TxStore is the narrow set of balance/row primitives a Ledger operation
// composes inside one serializable transaction. Grounded on the
// interface-per-package convention used for LND/auth abstractions in the
// wider Lightning tooling ecosystem, this lets ledger arithmetic be unit
// tested against an in-memory fake instead of a live Postgres instance.
type TxStore interface {
	// AdjustBalance applies delta (positive credits, negative debits) to
	// a user's balance. A debit that would drive the balance negative
	// fails with ErrInsufficientFunds; adjusting a user that does not
	// exist fails with ErrUserNotFound.
	AdjustBalance(ctx context.Context, userID string, delta int64) (newBalance int64, err error)

	// InsertTransaction records one ledger transaction row.
	InsertTransaction(ctx context.Context, t *database.LedgerTransaction) error
}

// Store is the Ledger's persistence dependency.
type Store interface {
	// WithSerializableTx runs fn inside a single serializable
	// transaction, committing on nil return and rolling back otherwise.
	WithSerializableTx(ctx context.Context, fn func(TxStore) error) error

	// ListTransactions returns a page of a user's ledger history, newest first.
	ListTransactions(ctx context.Context, userID string, page, size int) ([]*database.LedgerTransaction, error)

	// GetBalance returns a user's current balance outside any transaction.
	GetBalance(ctx context.Context, userID string) (int64, error)
}
