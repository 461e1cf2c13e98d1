package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"infermarket/internal/database"
	"infermarket/internal/ledger"
	"infermarket/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionLookup is the narrow slice of internal/database.SessionRepository
// the Registry needs to annotate a busy node with its occupant's expiry,
// for ListAvailable's "online_busy_with_eta" view.
type SessionLookup interface {
	GetByID(ctx context.Context, id string) (*database.Session, error)
}

// Capabilities is what an owner submits to RegisterNode: the hardware
// shape, advertised price, and model catalogue of one machine.
type Capabilities struct {
	Name               string
	Endpoint           string
	Hardware           database.HardwareDescriptor
	PricePerMinuteSats int64
	Models             []database.ModelDescriptor
}

// AvailableNode is one entry of ListAvailable's snapshot: a node plus,
// when busy, the time its current session is expected to free it.
type AvailableNode struct {
	Node    *database.Node
	BusyETA *time.Time
}

// Service is the Node Registry.
type Service struct {
	store    Store
	ledger   Ledger
	sessions SessionLookup

	registrationFeeSats int64
}

// NewService creates a new Registry service.
func NewService(store Store, ledger Ledger, sessions SessionLookup, registrationFeeSats int64) *Service {
	return &Service{store: store, ledger: ledger, sessions: sessions, registrationFeeSats: registrationFeeSats}
}

// RegisterNode debits the one-time registration fee from owner's balance,
// then creates the node row in the online state. If node creation fails
// (most commonly a duplicate hardware fingerprint from the same owner),
// the fee is refunded so the failure leaves no side effect, mirroring the
// Orchestrator's own "no reserved node left behind on failure" discipline.
func (s *Service) RegisterNode(ctx context.Context, ownerID string, caps Capabilities) (*database.Node, error) {
	if _, err := s.ledger.Debit(ctx, ownerID, s.registrationFeeSats, database.TxWithdrawal, "node registration fee", nil); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, ledger.ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to debit registration fee: %w", err)
	}

	node := &database.Node{
		ID:                 uuid.New().String(),
		Name:               caps.Name,
		OwnerUserID:        ownerID,
		Endpoint:           caps.Endpoint,
		Hardware:           caps.Hardware,
		PricePerMinuteSats: caps.PricePerMinuteSats,
		Models:             caps.Models,
		Status:             database.NodeOnline,
		LastHeartbeatAt:    time.Now().UTC(),
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.store.Create(ctx, node); err != nil {
		if _, refundErr := s.ledger.Credit(ctx, ownerID, s.registrationFeeSats, database.TxRefund, "node registration failed, fee refunded", nil); refundErr != nil {
			logger.Error("failed to refund registration fee after failed node creation",
				zap.String("owner_id", ownerID), zap.Error(refundErr))
		}
		if errors.Is(err, database.ErrDuplicateHardwareFingerprint) {
			return nil, ErrDuplicateHardware
		}
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	logger.Info("node registered", zap.String("node_id", node.ID), zap.String("owner_id", ownerID))
	return node, nil
}

// Heartbeat records liveness, hardware, and model-list for a node,
// re-admitting it to online if it had gone offline.
func (s *Service) Heartbeat(ctx context.Context, nodeID string, hardware database.HardwareDescriptor, models []database.ModelDescriptor) error {
	err := s.store.Heartbeat(ctx, nodeID, hardware, models, time.Now().UTC())
	if err != nil {
		if errors.Is(err, database.ErrNodeNotFound) {
			return ErrNodeNotFound
		}
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// ListAvailable returns every non-offline node, annotating busy nodes
// with their current session's expiry as a best-effort ETA.
func (s *Service) ListAvailable(ctx context.Context) ([]AvailableNode, error) {
	nodes, err := s.store.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list available nodes: %w", err)
	}

	out := make([]AvailableNode, 0, len(nodes))
	for _, n := range nodes {
		entry := AvailableNode{Node: n}
		if n.Status == database.NodeBusy && n.CurrentSessionID != nil {
			sess, err := s.sessions.GetByID(ctx, *n.CurrentSessionID)
			if err == nil && sess.ExpiresAt != nil {
				entry.BusyETA = sess.ExpiresAt
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// TryReserve is the only path into the busy state: an atomic
// compare-and-set from online to busy, guarded by sessionID as the new
// occupant.
func (s *Service) TryReserve(ctx context.Context, nodeID, sessionID string) error {
	err := s.store.TryReserve(ctx, nodeID, sessionID)
	if err != nil {
		if errors.Is(err, database.ErrNodeAlreadyBusy) {
			return ErrNodeBusy
		}
		return fmt.Errorf("failed to reserve node: %w", err)
	}
	return nil
}

// Release reverses a reservation. It is a no-op if the node is not
// currently held by sessionID, so a duplicated release from a cleanup
// path that races a prior one is harmless.
func (s *Service) Release(ctx context.Context, nodeID, sessionID string) error {
	if err := s.store.Release(ctx, nodeID, sessionID); err != nil {
		return fmt.Errorf("failed to release node: %w", err)
	}
	return nil
}

// MarkOffline transitions a node to offline; used by the Scheduler's
// heartbeat sweep.
func (s *Service) MarkOffline(ctx context.Context, nodeID string) error {
	if err := s.store.MarkOffline(ctx, nodeID); err != nil {
		return fmt.Errorf("failed to mark node offline: %w", err)
	}
	return nil
}

// ListStaleHeartbeats returns every non-offline node whose heartbeat is
// older than cutoff, for the Scheduler's liveness sweep.
func (s *Service) ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*database.Node, error) {
	nodes, err := s.store.ListStaleHeartbeats(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale nodes: %w", err)
	}
	return nodes, nil
}

// GetByID returns a node by id.
func (s *Service) GetByID(ctx context.Context, id string) (*database.Node, error) {
	node, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNodeNotFound) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return node, nil
}
