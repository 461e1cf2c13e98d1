package queue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stream and consumer group names shared between the API's webhook
// handlers, which publish, and the coordinator's consumer goroutines,
// which consume.
const (
	// StreamNodeEvents carries the node load-progress/ready/load_failed
	// callback; the consumer translates each message into the matching
	// Orchestrator event.
	StreamNodeEvents = "node_events"

	// StreamNodeHeartbeats carries a fire-and-forget audit event per
	// node heartbeat. The node's liveness itself is updated synchronously
	// by the heartbeat handler (TryReserve must see fresh state
	// immediately); this stream only feeds the consumer's observability
	// counters, so a consumer lagging or down never affects matching.
	StreamNodeHeartbeats = "node_heartbeats"

	GroupOrchestrator = "orchestrator"
)

// NodeCallbackMessage is what the webhook handler publishes to the
// node_events stream when a node POSTs to /internal/node_callback/{session_id}.
// It is consumed by the coordinator's node-events consumer goroutine,
// which translates it into the matching Orchestrator event (NodeReady,
// NodeLoadFailed, or a ModelStatus push).
type NodeCallbackMessage struct {
	SessionID string `json:"session_id"`
	Event     string `json:"event"` // downloading | loading | ready | load_failed
	Message   string `json:"message,omitempty"`
}

// ToJSON serializes the NodeCallbackMessage to JSON bytes.
func (m *NodeCallbackMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node callback message: %w", err)
	}
	return data, nil
}

// FromJSONNodeCallback deserializes JSON bytes into a NodeCallbackMessage
// and validates it.
func FromJSONNodeCallback(data []byte) (*NodeCallbackMessage, error) {
	msg := &NodeCallbackMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node callback message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks that the NodeCallbackMessage has all required fields
// with valid values.
func (m *NodeCallbackMessage) Validate() error {
	if m.SessionID == "" {
		return errors.New("session_id is required")
	}
	switch m.Event {
	case "downloading", "loading", "ready", "load_failed":
	default:
		return fmt.Errorf("event must be one of downloading|loading|ready|load_failed (got %q)", m.Event)
	}
	return nil
}

// NodeHeartbeatMessage is published whenever a node's heartbeat callback
// arrives, as the audit event carried by StreamNodeHeartbeats. The
// Scheduler's stale-heartbeat sweep does not read it; the node's liveness
// is updated synchronously by the heartbeat handler.
type NodeHeartbeatMessage struct {
	NodeID string `json:"node_id"`
}

// ToJSON serializes the NodeHeartbeatMessage to JSON bytes.
func (m *NodeHeartbeatMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node heartbeat message: %w", err)
	}
	return data, nil
}

// FromJSONNodeHeartbeat deserializes JSON bytes into a NodeHeartbeatMessage
// and validates it.
func FromJSONNodeHeartbeat(data []byte) (*NodeHeartbeatMessage, error) {
	msg := &NodeHeartbeatMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node heartbeat message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks that the NodeHeartbeatMessage has all required fields.
func (m *NodeHeartbeatMessage) Validate() error {
	if m.NodeID == "" {
		return errors.New("node_id is required")
	}
	return nil
}
