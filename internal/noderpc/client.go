// Package noderpc is the coordinator's client side of the Node RPC
// contract: load a model, stream chat tokens, and request a best-effort
// stop. The node's own llama.cpp wrapper is an external collaborator;
// this package only speaks its HTTP surface.
package noderpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"infermarket/pkg/logger"

	"go.uber.org/zap"
)

// Client is a thin HTTP driver over one node's RPC endpoint.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a node RPC client with the given per-request timeout
// used for non-streaming calls (LoadModel, StopModel); streaming chat
// calls are bounded by the caller's context instead.
func NewClient(requestTimeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: requestTimeout}}
}

// LoadModel asks a node to begin loading a model, synchronously or
// asynchronously depending on its implementation; readiness is always
// reported later via the node's callback webhook, never by this call's
// response.
func (c *Client) LoadModel(ctx context.Context, endpoint string, req LoadModelRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal load model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/models/load", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build load model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Error("node load model request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("failed to reach node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("node returned status %d for load model", resp.StatusCode)
	}
	return nil
}

// StopModel asks a node to cancel the model it currently has loaded or
// generating. Best-effort: called both on ExpiryTick mid-generation and
// on node-initiated failure cleanup, so a failure here is logged but
// never blocks the caller's own state transition.
func (c *Client) StopModel(ctx context.Context, endpoint string) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/chat/stop", nil)
	if err != nil {
		logger.Warn("failed to build stop model request", zap.String("endpoint", endpoint), zap.Error(err))
		return
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn("node stop model request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()
}

// ChatStream opens the node's streaming chat RPC and invokes onToken for
// each NDJSON line until is_final or the stream ends. It reads with
// bufio.Scanner the same way the teacher's exchange package decodes JSON
// HTTP bodies, generalized here to a line-delimited stream.
func (c *Client) ChatStream(ctx context.Context, endpoint string, req ChatStreamRequest, onToken func(ChatToken) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal chat stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/chat/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build chat stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Error("node chat stream request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("failed to reach node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("node returned status %d for chat stream", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tok ChatToken
		if err := json.Unmarshal(line, &tok); err != nil {
			return fmt.Errorf("failed to decode chat token: %w", err)
		}
		if err := onToken(tok); err != nil {
			return err
		}
		if tok.IsFinal {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("chat stream read error: %w", err)
	}
	return nil
}
