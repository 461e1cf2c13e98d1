package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"infermarket/internal/database"
	"infermarket/internal/lightning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	mu      sync.Mutex
	byState map[database.SessionState][]*database.Session
}

func (f *fakeSessionStore) ListByState(ctx context.Context, state database.SessionState) ([]*database.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*database.Session(nil), f.byState[state]...), nil
}

type fakeNodeRegistry struct {
	mu           sync.Mutex
	stale        []*database.Node
	offlineCalls []string
}

func (f *fakeNodeRegistry) ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*database.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*database.Node(nil), f.stale...), nil
}

func (f *fakeNodeRegistry) MarkOffline(ctx context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offlineCalls = append(f.offlineCalls, nodeID)
	return nil
}

type fakeInvoiceStore struct {
	mu          sync.Mutex
	byPurpose   map[database.InvoicePurpose][]*database.Invoice
	paidCalls   []string
	expireCalls []string
}

func (f *fakeInvoiceStore) ListPendingByPurpose(ctx context.Context, purpose database.InvoicePurpose) ([]*database.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*database.Invoice(nil), f.byPurpose[purpose]...), nil
}

func (f *fakeInvoiceStore) MarkPaid(ctx context.Context, paymentHash string, settledAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paidCalls = append(f.paidCalls, paymentHash)
	return true, nil
}

func (f *fakeInvoiceStore) MarkExpired(ctx context.Context, paymentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expireCalls = append(f.expireCalls, paymentHash)
	return nil
}

type fakeLightningGateway struct {
	mu      sync.Mutex
	results map[string]*lightning.InvoiceLookupResult
}

func (f *fakeLightningGateway) LookupInvoice(ctx context.Context, paymentHashHex string) (*lightning.InvoiceLookupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[paymentHashHex]; ok {
		return r, nil
	}
	return &lightning.InvoiceLookupResult{State: lightning.InvoiceLookupPending}, nil
}

type fakeDepositLedger struct {
	mu      sync.Mutex
	credits map[string]int64
}

func (f *fakeDepositLedger) Credit(ctx context.Context, userID string, amount int64, txType database.LedgerTxType, description string, relatedSessionID *string) (*database.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credits == nil {
		f.credits = make(map[string]int64)
	}
	f.credits[userID] += amount
	return &database.LedgerTransaction{}, nil
}

type fakeOrchestrator struct {
	mu               sync.Mutex
	observedPayments []string
	expiredInvoices  []string
	expiryTicks      []string
	startingTimeouts []string
	nodeFailed       []string
}

func (f *fakeOrchestrator) ObservePayment(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observedPayments = append(f.observedPayments, sessionID)
	return nil
}

func (f *fakeOrchestrator) HandleInvoiceExpired(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiredInvoices = append(f.expiredInvoices, sessionID)
	return nil
}

func (f *fakeOrchestrator) HandleExpiryTick(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiryTicks = append(f.expiryTicks, sessionID)
	return nil
}

func (f *fakeOrchestrator) HandleStartingTimeout(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startingTimeouts = append(f.startingTimeouts, sessionID)
	return nil
}

func (f *fakeOrchestrator) HandleNodeFailed(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodeFailed = append(f.nodeFailed, sessionID)
	return nil
}

func newTestService(sessions *fakeSessionStore, nodes *fakeNodeRegistry, invoices *fakeInvoiceStore, lg *fakeLightningGateway, deposits *fakeDepositLedger, orch *fakeOrchestrator) *Service {
	return NewService(sessions, nodes, invoices, lg, deposits, orch, Config{})
}

func TestSweepExpiry_FiresOnlyForPastDeadline(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Minute)
	sessions := &fakeSessionStore{byState: map[database.SessionState][]*database.Session{
		database.SessionActive: {
			{ID: "sess-expired", ExpiresAt: &past},
			{ID: "sess-active", ExpiresAt: &future},
		},
	}}
	orch := &fakeOrchestrator{}
	svc := newTestService(sessions, &fakeNodeRegistry{}, &fakeInvoiceStore{}, &fakeLightningGateway{}, &fakeDepositLedger{}, orch)

	svc.sweepExpiry(context.Background())

	assert.Equal(t, []string{"sess-expired"}, orch.expiryTicks)
}

func TestSweepHeartbeats_FailsSessionForBusyNodeElseMarksOffline(t *testing.T) {
	sessID := "sess-1"
	nodes := &fakeNodeRegistry{stale: []*database.Node{
		{ID: "node-busy", CurrentSessionID: &sessID},
		{ID: "node-idle"},
	}}
	orch := &fakeOrchestrator{}
	svc := newTestService(&fakeSessionStore{}, nodes, &fakeInvoiceStore{}, &fakeLightningGateway{}, &fakeDepositLedger{}, orch)

	svc.sweepHeartbeats(context.Background())

	assert.Equal(t, []string{"sess-1"}, orch.nodeFailed)
	assert.Equal(t, []string{"node-idle"}, nodes.offlineCalls)
}

func TestPollSessionInvoices_PaidRoutesToObservePayment(t *testing.T) {
	invoices := &fakeInvoiceStore{byPurpose: map[database.InvoicePurpose][]*database.Invoice{
		database.InvoiceForSession: {
			{PaymentHash: "hash-1", RelatedID: "sess-1"},
		},
	}}
	lg := &fakeLightningGateway{results: map[string]*lightning.InvoiceLookupResult{
		"hash-1": {State: lightning.InvoiceLookupPaid, SettledAmountSats: 500},
	}}
	orch := &fakeOrchestrator{}
	svc := newTestService(&fakeSessionStore{}, &fakeNodeRegistry{}, invoices, lg, &fakeDepositLedger{}, orch)

	svc.pollSessionInvoices(context.Background())

	assert.Equal(t, []string{"hash-1"}, invoices.paidCalls)
	assert.Equal(t, []string{"sess-1"}, orch.observedPayments)
}

func TestPollSessionInvoices_ExpiredRoutesToHandleInvoiceExpired(t *testing.T) {
	invoices := &fakeInvoiceStore{byPurpose: map[database.InvoicePurpose][]*database.Invoice{
		database.InvoiceForSession: {
			{PaymentHash: "hash-2", RelatedID: "sess-2"},
		},
	}}
	lg := &fakeLightningGateway{results: map[string]*lightning.InvoiceLookupResult{
		"hash-2": {State: lightning.InvoiceLookupExpired},
	}}
	orch := &fakeOrchestrator{}
	svc := newTestService(&fakeSessionStore{}, &fakeNodeRegistry{}, invoices, lg, &fakeDepositLedger{}, orch)

	svc.pollSessionInvoices(context.Background())

	assert.Equal(t, []string{"hash-2"}, invoices.expireCalls)
	assert.Equal(t, []string{"sess-2"}, orch.expiredInvoices)
}

func TestPollSessionInvoices_PendingDoesNothing(t *testing.T) {
	invoices := &fakeInvoiceStore{byPurpose: map[database.InvoicePurpose][]*database.Invoice{
		database.InvoiceForSession: {
			{PaymentHash: "hash-3", RelatedID: "sess-3"},
		},
	}}
	orch := &fakeOrchestrator{}
	svc := newTestService(&fakeSessionStore{}, &fakeNodeRegistry{}, invoices, &fakeLightningGateway{}, &fakeDepositLedger{}, orch)

	svc.pollSessionInvoices(context.Background())

	assert.Empty(t, orch.observedPayments)
	assert.Empty(t, orch.expiredInvoices)
}

func TestPollDepositInvoices_PaidCreditsWallet(t *testing.T) {
	invoices := &fakeInvoiceStore{byPurpose: map[database.InvoicePurpose][]*database.Invoice{
		database.InvoiceForDeposit: {
			{PaymentHash: "hash-4", RelatedID: "user-1", AmountSats: 10_000},
		},
	}}
	lg := &fakeLightningGateway{results: map[string]*lightning.InvoiceLookupResult{
		"hash-4": {State: lightning.InvoiceLookupPaid},
	}}
	deposits := &fakeDepositLedger{}
	svc := newTestService(&fakeSessionStore{}, &fakeNodeRegistry{}, invoices, lg, deposits, &fakeOrchestrator{})

	svc.pollDepositInvoices(context.Background())

	assert.Equal(t, int64(10_000), deposits.credits["user-1"])
}

func TestSweepStartingTimeouts_UsesLongerDeadlineForDynamicModel(t *testing.T) {
	longAgo := time.Now().UTC().Add(-20 * time.Minute)
	recentlyPaid := time.Now().UTC().Add(-5 * time.Minute)
	sessions := &fakeSessionStore{byState: map[database.SessionState][]*database.Session{
		database.SessionStarting: {
			{ID: "catalogued-timed-out", ModelID: "model-a", PaidAt: &longAgo},
			{ID: "hf-still-loading", ModelID: "", PaidAt: &longAgo},
			{ID: "catalogued-recent", ModelID: "model-a", PaidAt: &recentlyPaid},
		},
	}}
	orch := &fakeOrchestrator{}
	svc := newTestService(sessions, &fakeNodeRegistry{}, &fakeInvoiceStore{}, &fakeLightningGateway{}, &fakeDepositLedger{}, orch)
	svc.cfg = Config{StartingTimeout: 10 * time.Minute, HFStartingTimeout: 30 * time.Minute}.withDefaults()

	svc.sweepStartingTimeouts(context.Background())

	assert.Equal(t, []string{"catalogued-timed-out"}, orch.startingTimeouts)
}

func TestRun_StopsCleanlyOnContextCancel(t *testing.T) {
	svc := newTestService(&fakeSessionStore{}, &fakeNodeRegistry{}, &fakeInvoiceStore{}, &fakeLightningGateway{}, &fakeDepositLedger{}, &fakeOrchestrator{})
	svc.cfg = Config{
		HeartbeatTimeout: time.Second, HeartbeatPoll: time.Millisecond, InvoicePoll: time.Millisecond,
		ExpiryPoll: time.Millisecond, StartingTimeout: time.Second, HFStartingTimeout: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
	require.True(t, true)
}
