package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"infermarket/internal/noderpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamer struct {
	mu        sync.Mutex
	tokens    []string
	stopCalls int
	delay     time.Duration
	blockCh   chan struct{}
}

func (f *fakeStreamer) ChatStream(ctx context.Context, endpoint string, req noderpc.ChatStreamRequest, onToken func(noderpc.ChatToken) error) error {
	for i, tok := range f.tokens {
		if f.blockCh != nil {
			select {
			case <-f.blockCh:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		isFinal := i == len(f.tokens)-1
		if err := onToken(noderpc.ChatToken{Token: tok, IsFinal: isFinal}); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStreamer) StopModel(ctx context.Context, endpoint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

type fakePusher struct {
	mu      sync.Mutex
	frames  []any
	dropAll bool
}

func (f *fakePusher) PushToSession(sessionID string, frame any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return !f.dropAll
}

func (f *fakePusher) framesByType(t string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, fr := range f.frames {
		m := fr.(map[string]any)
		if m["type"] == t {
			out = append(out, fr)
		}
	}
	return out
}

func TestHandleChatMessage_RelaysTokensAndFinalResponse(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"hel", "lo"}}
	pusher := &fakePusher{}
	svc := NewService(streamer, pusher, time.Second)
	svc.Open("sess-1", "http://node", time.Now().Add(time.Hour))

	err := svc.HandleChatMessage(context.Background(), "sess-1", "hi", noderpc.SamplingParams{})
	require.NoError(t, err)

	assert.Len(t, pusher.framesByType("ai_token"), 2)
	responses := pusher.framesByType("ai_response")
	require.Len(t, responses, 1)
	assert.Equal(t, "hello", responses[0].(map[string]any)["response"])
}

func TestHandleChatMessage_RejectsWhenSessionNotOpen(t *testing.T) {
	svc := NewService(&fakeStreamer{}, &fakePusher{}, time.Second)
	err := svc.HandleChatMessage(context.Background(), "missing", "hi", noderpc.SamplingParams{})
	require.ErrorIs(t, err, ErrSessionNotOpen)
}

func TestHandleChatMessage_RejectsAfterExpiry(t *testing.T) {
	svc := NewService(&fakeStreamer{}, &fakePusher{}, time.Second)
	svc.Open("sess-1", "http://node", time.Now().Add(-time.Minute))

	err := svc.HandleChatMessage(context.Background(), "sess-1", "hi", noderpc.SamplingParams{})
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestHandleChatMessage_RejectsSecondConcurrentGeneration(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"a", "b"}, blockCh: make(chan struct{})}
	svc := NewService(streamer, &fakePusher{}, time.Second)
	svc.Open("sess-1", "http://node", time.Now().Add(time.Hour))

	done := make(chan error, 1)
	go func() {
		done <- svc.HandleChatMessage(context.Background(), "sess-1", "first", noderpc.SamplingParams{})
	}()

	// Give the first generation time to acquire the busy flag.
	time.Sleep(20 * time.Millisecond)
	err := svc.HandleChatMessage(context.Background(), "sess-1", "second", noderpc.SamplingParams{})
	require.ErrorIs(t, err, ErrGenerationBusy)

	close(streamer.blockCh)
	require.NoError(t, <-done)
}

func TestClose_CancelsInFlightGeneration(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"a", "b", "c"}, delay: 50 * time.Millisecond}
	svc := NewService(streamer, &fakePusher{}, time.Second)
	svc.Open("sess-1", "http://node", time.Now().Add(time.Hour))

	done := make(chan error, 1)
	go func() {
		done <- svc.HandleChatMessage(context.Background(), "sess-1", "hi", noderpc.SamplingParams{})
	}()

	time.Sleep(10 * time.Millisecond)
	svc.Close("sess-1")

	err := <-done
	require.Error(t, err)
}

func TestHandleChatMessage_BackpressureCancelsGeneration(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"a", "b", "c"}}
	pusher := &fakePusher{dropAll: true}
	svc := NewService(streamer, pusher, time.Second)
	svc.Open("sess-1", "http://node", time.Now().Add(time.Hour))

	err := svc.HandleChatMessage(context.Background(), "sess-1", "hi", noderpc.SamplingParams{})
	require.ErrorIs(t, err, ErrBackpressure)

	errors := pusher.framesByType("error")
	require.Len(t, errors, 1)
	assert.Equal(t, "backpressure", errors[0].(map[string]any)["message"])
}

func TestHandleChatMessage_IdleDeadlineCancelsGeneration(t *testing.T) {
	streamer := &fakeStreamer{tokens: []string{"a", "b"}, blockCh: make(chan struct{})}
	svc := NewService(streamer, &fakePusher{}, 10*time.Millisecond)
	svc.Open("sess-1", "http://node", time.Now().Add(time.Hour))

	err := svc.HandleChatMessage(context.Background(), "sess-1", "hi", noderpc.SamplingParams{})
	require.Error(t, err)
}
