package ledger

import (
	"context"
	"fmt"
	"time"

	"infermarket/internal/database"

	"github.com/google/uuid"
)

// Service is the Ledger: the only component permitted to mutate a user's
// balance. Every mutation runs inside one serializable transaction paired
// with exactly one inserted transaction row, so balance history is always
// fully reconstructible by summing a user's transactions.
type Service struct {
	store Store
}

// NewService creates a new Ledger service over the given Store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Credit adds amount to user's balance and records one transaction row.
// amount must be positive; use Debit to remove funds.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, txType database.LedgerTxType, description string, relatedSessionID *string) (*database.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var rec *database.LedgerTransaction
	err := s.store.WithSerializableTx(ctx, func(tx TxStore) error {
		if _, err := tx.AdjustBalance(ctx, userID, amount); err != nil {
			return err
		}
		rec = &database.LedgerTransaction{
			ID:               uuid.New().String(),
			UserID:           userID,
			Type:             txType,
			AmountSats:       amount,
			Description:      description,
			RelatedSessionID: relatedSessionID,
			CreatedAt:        time.Now(),
		}
		return tx.InsertTransaction(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Debit removes amount from user's balance and records one transaction
// row. Fails with ErrInsufficientFunds if the user's balance cannot cover
// amount; the check and the deduction happen atomically at the SQL layer,
// so no concurrent debit can race past a stale balance read.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, txType database.LedgerTxType, description string, relatedSessionID *string) (*database.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var rec *database.LedgerTransaction
	err := s.store.WithSerializableTx(ctx, func(tx TxStore) error {
		if _, err := tx.AdjustBalance(ctx, userID, -amount); err != nil {
			return err
		}
		rec = &database.LedgerTransaction{
			ID:               uuid.New().String(),
			UserID:           userID,
			Type:             txType,
			AmountSats:       -amount,
			Description:      description,
			RelatedSessionID: relatedSessionID,
			CreatedAt:        time.Now(),
		}
		return tx.InsertTransaction(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// TransferResult holds the transaction rows produced by Transfer: the
// payer's debit, the payee's net credit, and the house's commission credit.
type TransferResult struct {
	Debit       *database.LedgerTransaction
	PayeeCredit *database.LedgerTransaction
	HouseCredit *database.LedgerTransaction
}

// Transfer moves amount out of fromUserID and splits it between toUserID
// (amount-fee) and houseUserID (fee), as one atomic debit plus two
// credits. All three writes commit together or none do.
//
// This is the primitive a single-step "pay the node, take a commission"
// flow would use, but session settlement does not call it: by the time
// settle() runs, the session's cost was already collected from the payer
// up front (for a wallet session, a plain Debit with TxSessionPayment at
// PaymentObserved; for a lightning session, the paid invoice), so
// settlement only ever needs to split money that is already out of the
// payer's balance between the node owner and the house, which is two
// Credits, not a three-way Transfer. Transfer stays a public Ledger
// operation for callers that do want payer-debit-and-split as one
// atomic step.
func (s *Service) Transfer(ctx context.Context, fromUserID, toUserID, houseUserID string, amount, fee int64, typeOut, typeIn database.LedgerTxType, relatedSessionID *string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if fee < 0 || fee > amount {
		return nil, fmt.Errorf("%w: fee must be between 0 and amount", ErrInvalidAmount)
	}

	payeeAmount := amount - fee

	var result TransferResult
	err := s.store.WithSerializableTx(ctx, func(tx TxStore) error {
		if _, err := tx.AdjustBalance(ctx, fromUserID, -amount); err != nil {
			return err
		}
		result.Debit = &database.LedgerTransaction{
			ID:               uuid.New().String(),
			UserID:           fromUserID,
			Type:             typeOut,
			AmountSats:       -amount,
			FeeSats:          fee,
			Description:      "session payment",
			RelatedSessionID: relatedSessionID,
			CreatedAt:        time.Now(),
		}
		if err := tx.InsertTransaction(ctx, result.Debit); err != nil {
			return err
		}

		if payeeAmount > 0 {
			if _, err := tx.AdjustBalance(ctx, toUserID, payeeAmount); err != nil {
				return err
			}
			result.PayeeCredit = &database.LedgerTransaction{
				ID:               uuid.New().String(),
				UserID:           toUserID,
				Type:             typeIn,
				AmountSats:       payeeAmount,
				Description:      "node earning",
				RelatedSessionID: relatedSessionID,
				CreatedAt:        time.Now(),
			}
			if err := tx.InsertTransaction(ctx, result.PayeeCredit); err != nil {
				return err
			}
		}

		if fee > 0 {
			if _, err := tx.AdjustBalance(ctx, houseUserID, fee); err != nil {
				return err
			}
			result.HouseCredit = &database.LedgerTransaction{
				ID:               uuid.New().String(),
				UserID:           houseUserID,
				Type:             database.TxCommission,
				AmountSats:       fee,
				Description:      "platform commission",
				RelatedSessionID: relatedSessionID,
				CreatedAt:        time.Now(),
			}
			if err := tx.InsertTransaction(ctx, result.HouseCredit); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance returns a user's current balance.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	return s.store.GetBalance(ctx, userID)
}

// ListTransactions returns a page of a user's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string, page, size int) ([]*database.LedgerTransaction, error) {
	return s.store.ListTransactions(ctx, userID, page, size)
}
