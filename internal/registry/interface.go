// Package registry is the Node Registry: the database-backed store of
// known nodes — capabilities, hardware, price, liveness, and current
// occupant. Every read and write goes straight to the Store; there is no
// in-memory or Redis cache in front of it. It is the sole authority over a node's
// online/busy/offline status; every transition into or out of busy goes
// through TryReserve/Release.
package registry

import (
	"context"
	"time"

	"infermarket/internal/database"
)

// Store is the Registry's persistence dependency. database.NodeRepository
// satisfies this directly.
type Store interface {
	Create(ctx context.Context, node *database.Node) error
	GetByID(ctx context.Context, id string) (*database.Node, error)
	ListAvailable(ctx context.Context) ([]*database.Node, error)
	Heartbeat(ctx context.Context, nodeID string, hardware database.HardwareDescriptor, models []database.ModelDescriptor, at time.Time) error
	TryReserve(ctx context.Context, nodeID, sessionID string) error
	Release(ctx context.Context, nodeID, sessionID string) error
	MarkOffline(ctx context.Context, nodeID string) error
	ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*database.Node, error)
}

// Ledger is the narrow slice of internal/ledger.Service the Registry
// needs to collect a node's one-time registration fee.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, txType database.LedgerTxType, description string, relatedSessionID *string) (*database.LedgerTransaction, error)
	Credit(ctx context.Context, userID string, amount int64, txType database.LedgerTxType, description string, relatedSessionID *string) (*database.LedgerTransaction, error)
}
