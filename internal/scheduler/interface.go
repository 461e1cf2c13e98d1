// Package scheduler is the Expiry/Heartbeat Scheduler: the coordinator's
// only source of time-driven events. Every other trigger into the
// Orchestrator originates from an inbound request or callback; this
// package is what fires ExpiryTick when nobody is asking, sweeps nodes
// that stopped heartbeating, polls Lightning invoices that no webhook
// confirmed, and times out sessions stuck in starting. All four loops
// are re-armed from durable state on every tick, so a coordinator
// restart never loses a pending transition.
package scheduler

import (
	"context"
	"time"

	"infermarket/internal/database"
	"infermarket/internal/lightning"
)

// SessionStore is the slice of internal/database.SessionRepository the
// Scheduler needs to find sessions due for a time-driven event.
type SessionStore interface {
	ListByState(ctx context.Context, state database.SessionState) ([]*database.Session, error)
}

// NodeRegistry is the slice of internal/registry.Service the Scheduler
// needs for the heartbeat sweep.
type NodeRegistry interface {
	ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*database.Node, error)
	MarkOffline(ctx context.Context, nodeID string) error
}

// InvoiceStore is the slice of internal/database.InvoiceRepository the
// Scheduler needs for the Lightning poll loop.
type InvoiceStore interface {
	ListPendingByPurpose(ctx context.Context, purpose database.InvoicePurpose) ([]*database.Invoice, error)
	MarkPaid(ctx context.Context, paymentHash string, settledAt time.Time) (bool, error)
	MarkExpired(ctx context.Context, paymentHash string) error
}

// LightningGateway is the slice of internal/lightning.Client the
// Scheduler needs to check a BOLT-11 invoice's settlement state.
type LightningGateway interface {
	LookupInvoice(ctx context.Context, paymentHashHex string) (*lightning.InvoiceLookupResult, error)
}

// DepositLedger is the slice of internal/ledger.Service the Scheduler
// needs to credit a confirmed wallet deposit.
type DepositLedger interface {
	Credit(ctx context.Context, userID string, amount int64, txType database.LedgerTxType, description string, relatedSessionID *string) (*database.LedgerTransaction, error)
}

// Orchestrator is the slice of internal/orchestrator.Service the
// Scheduler drives time-driven events through.
type Orchestrator interface {
	ObservePayment(ctx context.Context, sessionID string) error
	HandleInvoiceExpired(ctx context.Context, sessionID string) error
	HandleExpiryTick(ctx context.Context, sessionID string) error
	HandleStartingTimeout(ctx context.Context, sessionID string) error
	HandleNodeFailed(ctx context.Context, sessionID string) error
}
