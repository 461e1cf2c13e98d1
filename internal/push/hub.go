// Package push is the client push transport: one websocket connection
// per client, authenticated by bearer token before upgrade, carrying
// session lifecycle frames (session_started, model_status, session_ready,
// session_ended, node_freed) and the chat relay (chat_message in,
// ai_token/ai_response/error out). A connection only ever acts on the
// session_id it resolved server-side via SessionAuthorizer, never one a
// client frame merely claims.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"infermarket/internal/noderpc"
	"infermarket/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// SessionAuthorizer resolves whether userID owns sessionID, so a client
// cannot bind its connection to someone else's session by claiming its id.
type SessionAuthorizer interface {
	IsOwner(ctx context.Context, sessionID, userID string) (bool, error)
}

// ChatHandler is the slice of internal/bridge.Service the Hub drives
// chat_message frames through.
type ChatHandler interface {
	HandleChatMessage(ctx context.Context, sessionID, prompt string, params noderpc.SamplingParams) error
}

// SessionEnder is the slice of internal/orchestrator.Service the Hub
// drives end_session frames through.
type SessionEnder interface {
	EndSession(ctx context.Context, sessionID, requestedBy string) error
}

// Conn is one authenticated client connection. It is attached to at most
// one session at a time.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	userID string

	mu        sync.Mutex
	sessionID string
}

// Hub tracks every connected client and routes frames by user id (for
// session lifecycle pushes originating in the Orchestrator) or by
// session id (for the Bridge's chat relay, which only knows a session id).
type Hub struct {
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	byUser    map[string]map[*Conn]struct{}
	bySession map[string]*Conn

	authz SessionAuthorizer
	chat  ChatHandler
	ender SessionEnder
}

// NewHub creates a Hub. CheckOrigin is left permissive here since the
// connection is already bearer-token authenticated before upgrade;
// deployments behind a browser frontend should tighten it at the reverse proxy.
func NewHub(authz SessionAuthorizer, chat ChatHandler, ender SessionEnder) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		byUser:    make(map[string]map[*Conn]struct{}),
		bySession: make(map[string]*Conn),
		authz:     authz,
		chat:      chat,
		ender:     ender,
	}
}

// ServeWS upgrades the request to a websocket connection for an already
// authenticated userID and starts its read/write pumps.
func (h *Hub) ServeWS(c *gin.Context, userID string) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	conn := &Conn{ws: ws, send: make(chan []byte, 64), userID: userID}
	h.register(conn)

	go h.writePump(conn)
	go h.readPump(conn)
}

func (h *Hub) register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[conn.userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.byUser[conn.userID] = set
	}
	set[conn] = struct{}{}
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byUser[conn.userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.byUser, conn.userID)
		}
	}
	conn.mu.Lock()
	sessionID := conn.sessionID
	conn.mu.Unlock()
	if sessionID != "" {
		if current, ok := h.bySession[sessionID]; ok && current == conn {
			delete(h.bySession, sessionID)
		}
	}
}

func (h *Hub) bindSession(conn *Conn, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.mu.Lock()
	conn.sessionID = sessionID
	conn.mu.Unlock()
	h.bySession[sessionID] = conn
}

// PushToUser delivers frame to every connection open for userID.
func (h *Hub) PushToUser(userID string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("failed to marshal push frame", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.byUser[userID] {
		h.enqueue(conn, data)
	}
}

// PushToSession delivers frame to the single connection currently bound
// to sessionID, reporting whether the connection's send buffer had room.
// The Bridge uses this to detect backpressure on the streaming relay: a
// slow client must not silently drop tokens, so a false return here
// tells the Bridge to cancel the generation rather than keep streaming
// into a buffer nobody is draining.
func (h *Hub) PushToSession(sessionID string, frame any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("failed to marshal push frame", zap.Error(err))
		return false
	}
	h.mu.RLock()
	conn, ok := h.bySession[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.enqueue(conn, data)
}

func (h *Hub) enqueue(conn *Conn, data []byte) bool {
	select {
	case conn.send <- data:
		return true
	default:
		logger.Warn("dropping push frame: connection send buffer full", zap.String("user_id", conn.userID))
		return false
	}
}

func (h *Hub) writePump(conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.ws.Close()
	}()

	for {
		select {
		case data, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(conn *Conn) {
	defer func() {
		h.unregister(conn)
		conn.ws.Close()
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", zap.String("user_id", conn.userID), zap.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(conn, "", "malformed frame")
			continue
		}
		h.handleFrame(conn, &frame)
	}
}

func (h *Hub) handleFrame(conn *Conn, frame *inboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch frame.Type {
	case FrameStartSession, FrameResumeSession:
		owner, err := h.authz.IsOwner(ctx, frame.SessionID, conn.userID)
		if err != nil || !owner {
			h.sendError(conn, frame.SessionID, "not authorized for session")
			return
		}
		h.bindSession(conn, frame.SessionID)

	case FrameChatMessage:
		sessionID := h.boundSession(conn)
		if sessionID == "" || (frame.SessionID != "" && frame.SessionID != sessionID) {
			h.sendError(conn, frame.SessionID, "no session bound to connection")
			return
		}
		params := noderpc.SamplingParams{
			Temperature: frame.Sampling.Temperature, TopK: frame.Sampling.TopK, TopP: frame.Sampling.TopP,
			MinP: frame.Sampling.MinP, TypicalP: frame.Sampling.TypicalP,
			XTCThreshold: frame.Sampling.XTCThreshold, XTCProbability: frame.Sampling.XTCProbability,
			DRYMultiplier: frame.Sampling.DRYMultiplier, DRYBase: frame.Sampling.DRYBase,
			RepeatPenalty: frame.Sampling.RepeatPenalty, SamplerOrder: frame.Sampling.SamplerOrder,
			Seed: frame.Sampling.Seed, MaxTokens: frame.Sampling.MaxTokens,
		}
		go func() {
			genCtx, genCancel := context.WithTimeout(context.Background(), time.Hour)
			defer genCancel()
			if err := h.chat.HandleChatMessage(genCtx, sessionID, frame.Prompt, params); err != nil {
				h.sendError(conn, sessionID, err.Error())
			}
		}()

	case FrameEndSession:
		sessionID := h.boundSession(conn)
		if sessionID == "" {
			h.sendError(conn, frame.SessionID, "no session bound to connection")
			return
		}
		if err := h.ender.EndSession(ctx, sessionID, conn.userID); err != nil {
			h.sendError(conn, sessionID, err.Error())
		}

	default:
		h.sendError(conn, frame.SessionID, "unknown frame type")
	}
}

func (h *Hub) boundSession(conn *Conn) string {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.sessionID
}

func (h *Hub) sendError(conn *Conn, sessionID, message string) {
	data, err := json.Marshal(map[string]any{"type": FrameError, "session_id": sessionID, "message": message, "id": uuid.New().String()})
	if err != nil {
		return
	}
	h.enqueue(conn, data)
}
