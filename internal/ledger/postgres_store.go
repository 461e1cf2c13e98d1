package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"infermarket/internal/database"
	"infermarket/pkg/logger"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PostgresStore is the Postgres-backed Store implementation, wrapping
// database.LedgerRepository's serializable-transaction primitives.
type PostgresStore struct {
	repo     *database.LedgerRepository
	userRepo *database.UserRepository
}

// NewPostgresStore creates a new Postgres-backed ledger store.
func NewPostgresStore(repo *database.LedgerRepository, userRepo *database.UserRepository) *PostgresStore {
	return &PostgresStore{repo: repo, userRepo: userRepo}
}

const maxSerializationRetries = 3

// WithSerializableTx runs fn inside a serializable transaction, retrying
// a bounded number of times on a serialization failure (Postgres error
// code 40001), which Serializable isolation can surface when two
// transactions touching the same user race.
func (s *PostgresStore) WithSerializableTx(ctx context.Context, fn func(TxStore) error) error {
	var lastErr error
	for attempt := 0; attempt < maxSerializationRetries; attempt++ {
		tx, err := s.repo.BeginSerializable(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		adapter := &txStoreAdapter{repo: s.repo, tx: tx}
		fnErr := fn(adapter)
		if fnErr != nil {
			_ = tx.Rollback(ctx)
			if isSerializationFailure(fnErr) {
				lastErr = fnErr
				logger.Warn("ledger transaction serialization conflict, retrying",
					zap.Int("attempt", attempt+1), zap.Error(fnErr))
				continue
			}
			return fnErr
		}

		if err := tx.Commit(ctx); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				logger.Warn("ledger transaction serialization conflict, retrying",
					zap.Int("attempt", attempt+1), zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}
	return fmt.Errorf("ledger transaction failed after %d retries: %w", maxSerializationRetries, lastErr)
}

func isSerializationFailure(err error) bool {
	return strings.Contains(err.Error(), "40001")
}

// ListTransactions delegates straight to the repository; it does not need
// transactional isolation since it is a read of already-committed history.
func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, page, size int) ([]*database.LedgerTransaction, error) {
	return s.repo.ListTransactions(ctx, userID, page, size)
}

// GetBalance reads the user's balance outside any transaction.
func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.userRepo.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return balance, nil
}

// txStoreAdapter implements TxStore over one open pgx.Tx.
type txStoreAdapter struct {
	repo *database.LedgerRepository
	tx   pgx.Tx
}

func (a *txStoreAdapter) AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	balance, err := a.repo.AdjustBalance(ctx, a.tx, userID, delta)
	if err != nil {
		if errors.Is(err, database.ErrBalanceNotFound) {
			return 0, ErrUserNotFound
		}
		if errors.Is(err, database.ErrBalanceWouldGoNegative) {
			return 0, ErrInsufficientFunds
		}
		return 0, err
	}
	return balance, nil
}

func (a *txStoreAdapter) InsertTransaction(ctx context.Context, t *database.LedgerTransaction) error {
	return a.repo.InsertTransaction(ctx, a.tx, t)
}
