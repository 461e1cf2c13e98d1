// Package bridge is the Streaming Bridge: the per-session relay opened
// when a session becomes active and closed on settlement, refund, or
// expiry. It forwards chat_message frames to the node's streaming RPC
// and relays ai_token/ai_response/error frames back to the client's push
// connection, enforcing the one-in-flight-generation-per-session rule
// and the per-token idle deadline.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"infermarket/internal/noderpc"
	"infermarket/pkg/logger"

	"go.uber.org/zap"
)

// defaultIdleTimeout is the per-token idle deadline: if the node has not
// produced a token within this window, the generation is cancelled.
const defaultIdleTimeout = 180 * time.Second

// NodeStreamer is the slice of internal/noderpc.Client the Bridge drives
// chat generation through.
type NodeStreamer interface {
	ChatStream(ctx context.Context, endpoint string, req noderpc.ChatStreamRequest, onToken func(noderpc.ChatToken) error) error
	StopModel(ctx context.Context, endpoint string)
}

// Pusher delivers a frame to whichever client connection is attached to
// a session, resolved server-side by the push Hub rather than trusted
// from the frame's sender. It reports whether the frame was accepted
// into the connection's send buffer, so the Bridge can detect a slow
// client instead of silently dropping tokens.
type Pusher interface {
	PushToSession(sessionID string, frame any) bool
}

type sessionBridge struct {
	endpoint  string
	expiresAt time.Time

	mu     sync.Mutex
	busy   bool
	cancel context.CancelFunc
}

func (sb *sessionBridge) tryAcquire() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.busy {
		return false
	}
	sb.busy = true
	return true
}

func (sb *sessionBridge) release() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.busy = false
	sb.cancel = nil
}

func (sb *sessionBridge) setCancel(cancel context.CancelFunc) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.cancel = cancel
}

func (sb *sessionBridge) cancelInFlight() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.cancel != nil {
		sb.cancel()
	}
}

// Service is the Streaming Bridge.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*sessionBridge

	streamer    NodeStreamer
	pusher      Pusher
	idleTimeout time.Duration
}

// NewService creates a Bridge. idleTimeout of 0 uses the spec default of 180s.
func NewService(streamer NodeStreamer, pusher Pusher, idleTimeout time.Duration) *Service {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Service{
		sessions:    make(map[string]*sessionBridge),
		streamer:    streamer,
		pusher:      pusher,
		idleTimeout: idleTimeout,
	}
}

// Open registers sessionID as active, accepting chat_message frames until Close.
func (b *Service) Open(sessionID, nodeEndpoint string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sessionID] = &sessionBridge{endpoint: nodeEndpoint, expiresAt: expiresAt}
}

// Close cancels any in-flight generation for sessionID and removes it,
// rejecting all further chat_message frames.
func (b *Service) Close(sessionID string) {
	b.mu.Lock()
	sb, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	if !ok {
		return
	}
	sb.cancelInFlight()
}

func (b *Service) get(sessionID string) (*sessionBridge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotOpen
	}
	return sb, nil
}

// HandleChatMessage forwards prompt and params to the node's streaming
// RPC, relaying ai_token frames as they arrive and a final ai_response on
// completion. It blocks until the generation finishes, is cancelled by
// Close, or goes idle past the per-token deadline. A call for a session
// that already has a generation in flight returns ErrGenerationBusy
// without contacting the node.
func (b *Service) HandleChatMessage(ctx context.Context, sessionID, prompt string, params noderpc.SamplingParams) error {
	sb, err := b.get(sessionID)
	if err != nil {
		return err
	}
	if time.Now().After(sb.expiresAt) {
		return ErrSessionExpired
	}
	if !sb.tryAcquire() {
		return ErrGenerationBusy
	}
	defer sb.release()

	genCtx, cancel := context.WithCancel(ctx)
	sb.setCancel(cancel)
	defer cancel()

	idleTimer := time.NewTimer(b.idleTimeout)
	defer idleTimer.Stop()
	idleDone := make(chan struct{})
	defer close(idleDone)
	go func() {
		select {
		case <-idleTimer.C:
			cancel()
		case <-idleDone:
		}
	}()

	var response strings.Builder
	streamErr := b.streamer.ChatStream(genCtx, sb.endpoint, noderpc.ChatStreamRequest{Prompt: prompt, SamplingParams: params},
		func(tok noderpc.ChatToken) error {
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(b.idleTimeout)

			response.WriteString(tok.Token)
			if !b.pusher.PushToSession(sessionID, map[string]any{
				"type": "ai_token", "session_id": sessionID, "token": tok.Token, "is_final": tok.IsFinal,
			}) {
				b.pusher.PushToSession(sessionID, map[string]any{"type": "error", "session_id": sessionID, "message": "backpressure"})
				return ErrBackpressure
			}
			if tok.IsFinal {
				b.pusher.PushToSession(sessionID, map[string]any{
					"type": "ai_response", "session_id": sessionID, "response": response.String(), "streaming_complete": true,
				})
			}
			return nil
		})

	if streamErr != nil {
		logger.Warn("chat generation ended with error", zap.String("session_id", sessionID), zap.Error(streamErr))
		if streamErr != ErrBackpressure {
			b.pusher.PushToSession(sessionID, map[string]any{"type": "error", "session_id": sessionID, "message": streamErr.Error()})
		}
		return streamErr
	}
	return nil
}
