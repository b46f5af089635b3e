// Copyright 2025 the vcode authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	vlog "github.com/vibe-stack/vcode-sub002/internal/log"
)

// remoteResponseLimit bounds how much of a remote response body is read.
const remoteResponseLimit = 8 * 1024 * 1024

// RemoteClient reaches a tool server over HTTP. Each request is one
// POST carrying a JSON-RPC envelope; the response body carries the
// matching envelope. Reachability is probed once at start with the
// protocol handshake.
type RemoteClient struct {
	id     string
	cfg    *ServerConfig
	logger *slog.Logger
	http   *http.Client

	nextID atomic.Int64

	mu         sync.RWMutex
	running    bool
	tools      []ToolDefinition
	serverInfo Implementation
}

// NewRemoteClient creates a client for an sse or https server config.
func NewRemoteClient(id string, cfg *ServerConfig, logger *slog.Logger) *RemoteClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteClient{
		id:     id,
		cfg:    cfg,
		logger: logger.With(vlog.ServerKey, id),
		http: &http.Client{
			Timeout: time.Duration(cfg.Timeout()) * time.Second,
		},
	}
}

// Start probes the remote server with the protocol handshake and runs
// initial tool discovery. There is no persistent connection to hold
// open afterwards.
func (c *RemoteClient) Start(ctx context.Context) error {
	params, err := json.Marshal(map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": Implementation{
			Name:    clientName,
			Version: clientVersionValue,
		},
	})
	if err != nil {
		return err
	}

	result, err := c.post(ctx, methodInitialize, params)
	if err != nil {
		return ErrUnreachable(c.id, c.cfg.URL, err)
	}
	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return ErrHandshakeFailed(c.id, err)
	}

	c.mu.Lock()
	c.serverInfo = init.ServerInfo
	c.running = true
	c.mu.Unlock()

	if _, err := c.ListTools(ctx); err != nil {
		c.logger.Warn("remote tool discovery failed", vlog.Error(err))
	}

	c.logger.Info("remote tool server reachable",
		"url", c.cfg.URL,
		"server_name", init.ServerInfo.Name)
	return nil
}

// Stop marks the client stopped. Remote servers have no process to
// terminate.
func (c *RemoteClient) Stop() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	return nil
}

// Done returns a channel that never closes; remote servers have no
// exit to observe.
func (c *RemoteClient) Done() <-chan struct{} {
	return nil
}

// ExitStatus always reports a clean status for remote servers.
func (c *RemoteClient) ExitStatus() (int, error) {
	return 0, nil
}

// ServerInfo returns what the remote server reported at probe time.
func (c *RemoteClient) ServerInfo() Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Tools returns the cached tool definitions from the last discovery.
func (c *RemoteClient) Tools() []ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolDefinition, len(c.tools))
	copy(out, c.tools)
	return out
}

// OnToolsChanged is a no-op; remote servers cannot push notifications
// over per-request POST.
func (c *RemoteClient) OnToolsChanged(func([]ToolDefinition)) {}

// OnLogMessage is a no-op for the same reason as OnToolsChanged.
func (c *RemoteClient) OnLogMessage(func(LogMessageParams)) {}

// ListTools queries the server for its tools and refreshes the cache.
func (c *RemoteClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.post(ctx, methodListTools, nil)
	if err != nil {
		return nil, err
	}
	var list ListToolsResult
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, &ProtocolError{Code: codeInternalError, Message: "malformed tools/list result"}
	}

	c.mu.Lock()
	c.tools = list.Tools
	c.mu.Unlock()
	return list.Tools, nil
}

// CallTool invokes a tool on the remote server.
func (c *RemoteClient) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResponse, error) {
	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if !running {
		return nil, ErrServerNotRunning(c.id)
	}

	params, err := json.Marshal(ToolCallRequest{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	result, err := c.post(ctx, methodCallTool, params)
	if err != nil {
		return nil, err
	}
	var resp ToolCallResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, &ProtocolError{Code: codeInternalError, Message: "malformed tools/call result"}
	}
	return &resp, nil
}

// post sends one JSON-RPC request over HTTP and decodes the response
// envelope from the body.
func (c *RemoteClient) post(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	var p any
	if len(params) > 0 {
		p = params
	}
	env, err := newRequest(id, method, p)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("posting %s: unexpected status %s", method, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, remoteResponseLimit))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	var reply Envelope
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if reply.Error != nil {
		return nil, reply.Error
	}
	return reply.Result, nil
}
