package ledger

import (
	"context"
	"testing"

	"infermarket/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store used to unit test Ledger arithmetic
// without a live Postgres instance, mirroring the interface split
// documented in interface.go.
type fakeStore struct {
	balances map[string]int64
	txs      []*database.LedgerTransaction
}

func newFakeStore(balances map[string]int64) *fakeStore {
	return &fakeStore{balances: balances}
}

func (f *fakeStore) WithSerializableTx(ctx context.Context, fn func(TxStore) error) error {
	// Snapshot so a failed fn leaves balances untouched, mirroring a
	// rolled-back transaction.
	snapshot := make(map[string]int64, len(f.balances))
	for k, v := range f.balances {
		snapshot[k] = v
	}
	txsLenBefore := len(f.txs)

	adapter := &fakeTxStore{store: f}
	if err := fn(adapter); err != nil {
		f.balances = snapshot
		f.txs = f.txs[:txsLenBefore]
		return err
	}
	return nil
}

func (f *fakeStore) ListTransactions(ctx context.Context, userID string, page, size int) ([]*database.LedgerTransaction, error) {
	var out []*database.LedgerTransaction
	for i := len(f.txs) - 1; i >= 0; i-- {
		if f.txs[i].UserID == userID {
			out = append(out, f.txs[i])
		}
	}
	return out, nil
}

func (f *fakeStore) GetBalance(ctx context.Context, userID string) (int64, error) {
	bal, ok := f.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	return bal, nil
}

type fakeTxStore struct {
	store *fakeStore
}

func (f *fakeTxStore) AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	bal, ok := f.store.balances[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	newBal := bal + delta
	if newBal < 0 {
		return 0, ErrInsufficientFunds
	}
	f.store.balances[userID] = newBal
	return newBal, nil
}

func (f *fakeTxStore) InsertTransaction(ctx context.Context, t *database.LedgerTransaction) error {
	f.store.txs = append(f.store.txs, t)
	return nil
}

func TestCredit_IncreasesBalanceAndRecordsTransaction(t *testing.T) {
	store := newFakeStore(map[string]int64{"user-1": 1000})
	svc := NewService(store)

	tx, err := svc.Credit(context.Background(), "user-1", 500, database.TxDeposit, "deposit", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(500), tx.AmountSats)

	bal, err := svc.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), bal)
}

func TestCredit_RejectsNonPositiveAmount(t *testing.T) {
	store := newFakeStore(map[string]int64{"user-1": 1000})
	svc := NewService(store)

	_, err := svc.Credit(context.Background(), "user-1", 0, database.TxDeposit, "deposit", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Credit(context.Background(), "user-1", -5, database.TxDeposit, "deposit", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDebit_RejectsInsufficientFunds(t *testing.T) {
	store := newFakeStore(map[string]int64{"user-1": 100})
	svc := NewService(store)

	_, err := svc.Debit(context.Background(), "user-1", 500, database.TxSessionPayment, "session payment", nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err := svc.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal, "balance must be unchanged after a rejected debit")
}

func TestDebit_Succeeds(t *testing.T) {
	store := newFakeStore(map[string]int64{"user-1": 1000})
	svc := NewService(store)

	tx, err := svc.Debit(context.Background(), "user-1", 300, database.TxSessionPayment, "session payment", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-300), tx.AmountSats)

	bal, err := svc.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), bal)
}

func TestTransfer_SplitsAmountBetweenPayeeAndHouse(t *testing.T) {
	store := newFakeStore(map[string]int64{
		"payer": 1000,
		"node":  0,
		"house": 0,
	})
	svc := NewService(store)

	result, err := svc.Transfer(context.Background(), "payer", "node", "house", 300, 30,
		database.TxSessionPayment, database.TxNodeEarning, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(-300), result.Debit.AmountSats)
	assert.Equal(t, int64(270), result.PayeeCredit.AmountSats)
	assert.Equal(t, int64(30), result.HouseCredit.AmountSats)

	payerBal, _ := svc.GetBalance(context.Background(), "payer")
	nodeBal, _ := svc.GetBalance(context.Background(), "node")
	houseBal, _ := svc.GetBalance(context.Background(), "house")
	assert.Equal(t, int64(700), payerBal)
	assert.Equal(t, int64(270), nodeBal)
	assert.Equal(t, int64(30), houseBal)

	// Balance conservation: total sats in the system is unchanged by a transfer.
	assert.Equal(t, int64(1000), payerBal+nodeBal+houseBal)
}

func TestTransfer_FailsAtomicallyWhenPayerCannotCover(t *testing.T) {
	store := newFakeStore(map[string]int64{
		"payer": 50,
		"node":  0,
		"house": 0,
	})
	svc := NewService(store)

	_, err := svc.Transfer(context.Background(), "payer", "node", "house", 300, 30,
		database.TxSessionPayment, database.TxNodeEarning, nil)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	nodeBal, _ := svc.GetBalance(context.Background(), "node")
	houseBal, _ := svc.GetBalance(context.Background(), "house")
	assert.Equal(t, int64(0), nodeBal, "node must not be credited when the debit fails")
	assert.Equal(t, int64(0), houseBal, "house must not be credited when the debit fails")
}

func TestTransfer_RejectsFeeGreaterThanAmount(t *testing.T) {
	store := newFakeStore(map[string]int64{"payer": 1000, "node": 0, "house": 0})
	svc := NewService(store)

	_, err := svc.Transfer(context.Background(), "payer", "node", "house", 100, 200,
		database.TxSessionPayment, database.TxNodeEarning, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTransfer_ZeroFeeCreditsPayeeTheFullAmount(t *testing.T) {
	store := newFakeStore(map[string]int64{"payer": 1000, "node": 0, "house": 0})
	svc := NewService(store)

	result, err := svc.Transfer(context.Background(), "payer", "node", "house", 300, 0,
		database.TxSessionPayment, database.TxNodeEarning, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(300), result.PayeeCredit.AmountSats)
	assert.Nil(t, result.HouseCredit, "no commission row when fee is zero")
}

func TestListTransactions_ReturnsNewestFirst(t *testing.T) {
	store := newFakeStore(map[string]int64{"user-1": 1000})
	svc := NewService(store)

	_, err := svc.Credit(context.Background(), "user-1", 100, database.TxDeposit, "first", nil)
	require.NoError(t, err)
	_, err = svc.Credit(context.Background(), "user-1", 200, database.TxDeposit, "second", nil)
	require.NoError(t, err)

	txs, err := svc.ListTransactions(context.Background(), "user-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "second", txs[0].Description)
	assert.Equal(t, "first", txs[1].Description)
}
