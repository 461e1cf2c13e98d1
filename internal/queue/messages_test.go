package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// NodeCallbackMessage Tests
// =============================================================================

func TestNodeCallbackMessage_ToJSON(t *testing.T) {
	msg := &NodeCallbackMessage{
		SessionID: "550e8400-e29b-41d4-a716-446655440000",
		Event:     "ready",
	}

	data, err := msg.ToJSON()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", result["session_id"])
	assert.Equal(t, "ready", result["event"])
	assert.NotContains(t, result, "message")
}

func TestFromJSONNodeCallback_Success(t *testing.T) {
	jsonData := []byte(`{
		"session_id": "550e8400-e29b-41d4-a716-446655440000",
		"event": "load_failed",
		"message": "out of memory"
	}`)

	msg, err := FromJSONNodeCallback(jsonData)
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", msg.SessionID)
	assert.Equal(t, "load_failed", msg.Event)
	assert.Equal(t, "out of memory", msg.Message)
}

func TestFromJSONNodeCallback_InvalidJSON(t *testing.T) {
	msg, err := FromJSONNodeCallback([]byte(`invalid json`))
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}

func TestNodeCallbackMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     NodeCallbackMessage
		wantErr string
	}{
		{
			name:    "missing session id",
			msg:     NodeCallbackMessage{Event: "ready"},
			wantErr: "session_id is required",
		},
		{
			name:    "unknown event",
			msg:     NodeCallbackMessage{SessionID: "s1", Event: "bogus"},
			wantErr: "event must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNodeCallbackMessage_Validate_AllEventsAccepted(t *testing.T) {
	for _, event := range []string{"downloading", "loading", "ready", "load_failed"} {
		msg := NodeCallbackMessage{SessionID: "s1", Event: event}
		assert.NoError(t, msg.Validate(), "event %q should be valid", event)
	}
}

// =============================================================================
// NodeHeartbeatMessage Tests
// =============================================================================

func TestNodeHeartbeatMessage_ToJSON(t *testing.T) {
	msg := &NodeHeartbeatMessage{NodeID: "node-1"}

	data, err := msg.ToJSON()
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "node-1", result["node_id"])
}

func TestFromJSONNodeHeartbeat_Success(t *testing.T) {
	msg, err := FromJSONNodeHeartbeat([]byte(`{"node_id": "node-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "node-1", msg.NodeID)
}

func TestFromJSONNodeHeartbeat_MissingNodeID(t *testing.T) {
	msg, err := FromJSONNodeHeartbeat([]byte(`{}`))
	assert.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "node_id is required")
}

func TestFromJSONNodeHeartbeat_InvalidJSON(t *testing.T) {
	msg, err := FromJSONNodeHeartbeat([]byte(`not json`))
	assert.Error(t, err)
	assert.Nil(t, msg)
}
