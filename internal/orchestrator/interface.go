// Package orchestrator is the Session Orchestrator: the central state
// machine that drives a session from pending_payment through
// starting -> active -> settling/refunding -> ended, coordinating the
// Lightning Gateway, Ledger, Node Registry, Session Store, and the Node
// RPC client. Events for a single session_id are linearized through a
// per-session mailbox (mailbox.go) so the state machine never races
// itself.
package orchestrator

import (
	"context"
	"time"

	"infermarket/internal/database"
	"infermarket/internal/ledger"
	"infermarket/internal/lightning"
	"infermarket/internal/noderpc"
)

// SessionStore is the Orchestrator's session persistence dependency.
// database.SessionRepository satisfies this directly.
type SessionStore interface {
	Create(ctx context.Context, s *database.Session) error
	GetByID(ctx context.Context, id string) (*database.Session, error)
	MarkPaid(ctx context.Context, id string, paidAt time.Time, newState database.SessionState) (bool, error)
	MarkStarted(ctx context.Context, id string, startedAt, expiresAt time.Time) (bool, error)
	SetState(ctx context.Context, id string, state database.SessionState) error
	End(ctx context.Context, id string, endedAt time.Time) error
	ListByState(ctx context.Context, state database.SessionState) ([]*database.Session, error)
}

// NodeRegistry is the slice of internal/registry.Service the Orchestrator
// drives reservations through.
type NodeRegistry interface {
	GetByID(ctx context.Context, id string) (*database.Node, error)
	TryReserve(ctx context.Context, nodeID, sessionID string) error
	Release(ctx context.Context, nodeID, sessionID string) error
	MarkOffline(ctx context.Context, nodeID string) error
}

// LedgerClient is the slice of internal/ledger.Service the Orchestrator
// composes for payment, settlement, and refund.
type LedgerClient interface {
	Debit(ctx context.Context, userID string, amount int64, txType database.LedgerTxType, description string, relatedSessionID *string) (*database.LedgerTransaction, error)
	Credit(ctx context.Context, userID string, amount int64, txType database.LedgerTxType, description string, relatedSessionID *string) (*database.LedgerTransaction, error)
	Transfer(ctx context.Context, fromUserID, toUserID, houseUserID string, amount, fee int64, typeOut, typeIn database.LedgerTxType, relatedSessionID *string) (*ledger.TransferResult, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// LightningGateway is the slice of internal/lightning.Client the
// Orchestrator needs to create a session-payment invoice.
type LightningGateway interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string, expirySeconds int64) (*lightning.InvoiceResult, error)
}

// InvoiceStore persists the session-payment invoice NewSession creates,
// so the Scheduler's poll loop and the check_payment endpoint can find it
// by session id independent of the Orchestrator's in-memory mailboxes.
type InvoiceStore interface {
	Create(ctx context.Context, inv *database.Invoice) error
}

// NodeCaller is the slice of internal/noderpc.Client the Orchestrator
// drives LoadModel/StopModel through.
type NodeCaller interface {
	LoadModel(ctx context.Context, endpoint string, req noderpc.LoadModelRequest) error
	StopModel(ctx context.Context, endpoint string)
}

// Bridge is the Streaming Bridge, opened when a session becomes active
// and closed on settlement/refund/expiry.
type Bridge interface {
	Open(sessionID, nodeEndpoint string, expiresAt time.Time)
	Close(sessionID string)
}

// Pusher delivers push-channel frames to a user's connected client.
type Pusher interface {
	PushToUser(userID string, frame any)
}
