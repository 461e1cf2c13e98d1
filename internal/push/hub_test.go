package push

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"infermarket/internal/noderpc"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthorizer struct {
	owners map[string]string // sessionID -> userID
}

func (f *fakeAuthorizer) IsOwner(ctx context.Context, sessionID, userID string) (bool, error) {
	return f.owners[sessionID] == userID, nil
}

type fakeChatHandler struct {
	calls chan string
}

func (f *fakeChatHandler) HandleChatMessage(ctx context.Context, sessionID, prompt string, params noderpc.SamplingParams) error {
	f.calls <- sessionID
	return nil
}

type fakeEnder struct {
	calls chan string
}

func (f *fakeEnder) EndSession(ctx context.Context, sessionID, requestedBy string) error {
	f.calls <- sessionID
	return nil
}

func newTestServer(t *testing.T, authz SessionAuthorizer, chat ChatHandler, ender SessionEnder) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(authz, chat, ender)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		hub.ServeWS(c, c.Query("user_id"))
	})
	server := httptest.NewServer(router)
	return server, hub
}

func dialWS(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_StartSession_RequiresOwnership(t *testing.T) {
	authz := &fakeAuthorizer{owners: map[string]string{"sess-1": "user-1"}}
	server, _ := newTestServer(t, authz, &fakeChatHandler{calls: make(chan string, 1)}, &fakeEnder{calls: make(chan string, 1)})
	defer server.Close()

	conn := dialWS(t, server, "user-2")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": FrameStartSession, "session_id": "sess-1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, FrameError, resp["type"])
}

func TestHub_ChatMessage_RoutesToChatHandlerOnceSessionBound(t *testing.T) {
	authz := &fakeAuthorizer{owners: map[string]string{"sess-1": "user-1"}}
	chat := &fakeChatHandler{calls: make(chan string, 1)}
	server, _ := newTestServer(t, authz, chat, &fakeEnder{calls: make(chan string, 1)})
	defer server.Close()

	conn := dialWS(t, server, "user-1")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": FrameStartSession, "session_id": "sess-1"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": FrameChatMessage, "prompt": "hello"}))

	select {
	case sessionID := <-chat.calls:
		assert.Equal(t, "sess-1", sessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("chat handler was never invoked")
	}
}

func TestHub_ChatMessage_RejectedWithoutBoundSession(t *testing.T) {
	authz := &fakeAuthorizer{}
	server, _ := newTestServer(t, authz, &fakeChatHandler{calls: make(chan string, 1)}, &fakeEnder{calls: make(chan string, 1)})
	defer server.Close()

	conn := dialWS(t, server, "user-1")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": FrameChatMessage, "prompt": "hello"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, FrameError, resp["type"])
}

func TestHub_PushToUser_DeliversToAllUserConnections(t *testing.T) {
	authz := &fakeAuthorizer{}
	server, hub := newTestServer(t, authz, &fakeChatHandler{calls: make(chan string, 1)}, &fakeEnder{calls: make(chan string, 1)})
	defer server.Close()

	conn1 := dialWS(t, server, "user-1")
	defer conn1.Close()
	conn2 := dialWS(t, server, "user-1")
	defer conn2.Close()

	time.Sleep(50 * time.Millisecond) // let registration race settle
	hub.PushToUser("user-1", map[string]any{"type": FrameSessionStarted, "session_id": "sess-1"})

	for _, c := range []*websocket.Conn{conn1, conn2} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(data, &resp))
		assert.Equal(t, FrameSessionStarted, resp["type"])
	}
}

func TestHub_EndSession_RoutesToSessionEnder(t *testing.T) {
	authz := &fakeAuthorizer{owners: map[string]string{"sess-1": "user-1"}}
	ender := &fakeEnder{calls: make(chan string, 1)}
	server, _ := newTestServer(t, authz, &fakeChatHandler{calls: make(chan string, 1)}, ender)
	defer server.Close()

	conn := dialWS(t, server, "user-1")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": FrameStartSession, "session_id": "sess-1"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": FrameEndSession}))

	select {
	case sessionID := <-ender.calls:
		assert.Equal(t, "sess-1", sessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("end session handler was never invoked")
	}
}

