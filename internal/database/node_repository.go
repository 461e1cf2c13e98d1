package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNodeNotFound is returned when a node is not found in the database.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeAlreadyBusy is returned by a reservation compare-and-set that loses the race.
	ErrNodeAlreadyBusy = errors.New("node is already reserved")
	// ErrDuplicateHardwareFingerprint is returned when an owner re-registers identical hardware.
	ErrDuplicateHardwareFingerprint = errors.New("hardware fingerprint already registered by this owner")
)

// NodeRepository handles all database operations for nodes.
type NodeRepository struct {
	db *pgxpool.Pool
}

// NewNodeRepository creates a new node repository instance.
func NewNodeRepository(db *DB) *NodeRepository {
	return &NodeRepository{db: db.pool}
}

// Create inserts a new node row in the online state.
func (r *NodeRepository) Create(ctx context.Context, node *Node) error {
	hardwareJSON, err := json.Marshal(node.Hardware)
	if err != nil {
		return fmt.Errorf("failed to marshal hardware: %w", err)
	}
	modelsJSON, err := json.Marshal(node.Models)
	if err != nil {
		return fmt.Errorf("failed to marshal models: %w", err)
	}

	query := `INSERT INTO nodes (
		id, name, owner_user_id, endpoint, hardware, price_per_minute_sats,
		models, status, current_session_id, last_heartbeat_at, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		node.ID, node.Name, node.OwnerUserID, node.Endpoint, hardwareJSON, node.PricePerMinuteSats,
		modelsJSON, node.Status, node.CurrentSessionID, node.LastHeartbeatAt, node.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateHardwareFingerprint
		}
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

// GetByID retrieves a node by id. Returns ErrNodeNotFound if absent.
func (r *NodeRepository) GetByID(ctx context.Context, id string) (*Node, error) {
	query := `SELECT id, name, owner_user_id, endpoint, hardware, price_per_minute_sats,
		models, status, current_session_id, last_heartbeat_at, created_at
	FROM nodes WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// ListAvailable returns every node that is not offline, for matching and
// for the public `/api/nodes/online` listing.
func (r *NodeRepository) ListAvailable(ctx context.Context) ([]*Node, error) {
	query := `SELECT id, name, owner_user_id, endpoint, hardware, price_per_minute_sats,
		models, status, current_session_id, last_heartbeat_at, created_at
	FROM nodes WHERE status != 'offline' ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list available nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return nodes, nil
}

// Heartbeat updates a node's liveness, hardware, and model list, and
// re-admits an offline node to online. It never clears a busy node's
// reservation — only Release (via TryReserve's compare-and-set) does.
func (r *NodeRepository) Heartbeat(ctx context.Context, nodeID string, hardware HardwareDescriptor, models []ModelDescriptor, at time.Time) error {
	hardwareJSON, err := json.Marshal(hardware)
	if err != nil {
		return fmt.Errorf("failed to marshal hardware: %w", err)
	}
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("failed to marshal models: %w", err)
	}

	query := `UPDATE nodes SET
		hardware = $2,
		models = $3,
		last_heartbeat_at = $4,
		status = CASE WHEN status = 'offline' THEN 'online' ELSE status END
	WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, nodeID, hardwareJSON, modelsJSON, at)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// TryReserve atomically transitions a node from online to busy, the only
// path into the busy state. Returns ErrNodeAlreadyBusy if the node is not
// currently online (lost the race, or offline).
func (r *NodeRepository) TryReserve(ctx context.Context, nodeID, sessionID string) error {
	query := `UPDATE nodes SET status = 'busy', current_session_id = $2
		WHERE id = $1 AND status = 'online'`

	tag, err := r.db.Exec(ctx, query, nodeID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to reserve node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNodeAlreadyBusy
	}
	return nil
}

// Release reverses a reservation. It is a no-op if the node is not
// currently held by sessionID, so a duplicated release is harmless.
func (r *NodeRepository) Release(ctx context.Context, nodeID, sessionID string) error {
	query := `UPDATE nodes SET status = 'online', current_session_id = NULL
		WHERE id = $1 AND current_session_id = $2`

	_, err := r.db.Exec(ctx, query, nodeID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to release node: %w", err)
	}
	return nil
}

// MarkOffline transitions a node to offline. Used by the Scheduler's
// heartbeat sweep; it does not touch current_session_id, since the
// Orchestrator's failure path is responsible for clearing the
// reservation once it has settled the session.
func (r *NodeRepository) MarkOffline(ctx context.Context, nodeID string) error {
	_, err := r.db.Exec(ctx, `UPDATE nodes SET status = 'offline' WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("failed to mark node offline: %w", err)
	}
	return nil
}

// ListStaleHeartbeats returns every non-offline node whose last heartbeat
// is older than the cutoff, for the Scheduler's liveness sweep.
func (r *NodeRepository) ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*Node, error) {
	query := `SELECT id, name, owner_user_id, endpoint, hardware, price_per_minute_sats,
		models, status, current_session_id, last_heartbeat_at, created_at
	FROM nodes WHERE status != 'offline' AND last_heartbeat_at < $1`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return nodes, nil
}

func (r *NodeRepository) scanOne(ctx context.Context, query string, arg any) (*Node, error) {
	row := r.db.QueryRow(ctx, query, arg)
	n, err := scanNodeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, err
	}
	return n, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeRow(row rowScanner) (*Node, error) {
	var n Node
	var hardwareJSON, modelsJSON []byte
	var statusStr string

	err := row.Scan(
		&n.ID, &n.Name, &n.OwnerUserID, &n.Endpoint, &hardwareJSON, &n.PricePerMinuteSats,
		&modelsJSON, &statusStr, &n.CurrentSessionID, &n.LastHeartbeatAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan node row: %w", err)
	}

	if err := json.Unmarshal(hardwareJSON, &n.Hardware); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hardware: %w", err)
	}
	if err := json.Unmarshal(modelsJSON, &n.Models); err != nil {
		return nil, fmt.Errorf("failed to unmarshal models: %w", err)
	}

	status, err := ParseNodeStatus(statusStr)
	if err != nil {
		return nil, err
	}
	n.Status = status

	return &n, nil
}
