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
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	vlog "github.com/vibe-stack/vcode-sub002/internal/log"
)

// toolDiscoveryRetryDelay is the pause before the single retry of the
// initial tools/list after a failed attempt.
const toolDiscoveryRetryDelay = 500 * time.Millisecond

// Client speaks the tool server protocol to a single server over a
// transport. It correlates requests with responses by id, enforces
// per-request timeouts and dispatches server notifications.
type Client struct {
	id     string
	cfg    *ServerConfig
	tr     transport
	logs   *LogCapture
	logger *slog.Logger

	nextID atomic.Int64

	// ready flips true once the handshake completes and false on stop;
	// tool listing before that point serves the cache only.
	ready atomic.Bool

	mu      sync.Mutex
	pending map[int64]chan *Envelope
	stopped bool

	toolsMu    sync.RWMutex
	tools      []ToolDefinition
	serverInfo Implementation
	caps       ServerCapabilities

	// onToolsChanged fires after the tool cache is refreshed in
	// response to a tools/list_changed notification.
	onToolsChanged func([]ToolDefinition)
	// onLogMessage fires for each logging/message notification.
	onLogMessage func(LogMessageParams)

	readerDone chan struct{}
}

// NewClient creates a client for a stdio server. The server process is
// not started until Start.
func NewClient(id string, cfg *ServerConfig, logs *LogCapture, logger *slog.Logger) *Client {
	c := newClient(id, cfg, logs, logger)
	c.tr = newStdioTransport(id, cfg, logs, c.logger)
	return c
}

// newClientWithTransport wires a client to an existing transport.
// Used by tests.
func newClientWithTransport(id string, cfg *ServerConfig, tr transport, logs *LogCapture, logger *slog.Logger) *Client {
	c := newClient(id, cfg, logs, logger)
	c.tr = tr
	return c
}

func newClient(id string, cfg *ServerConfig, logs *LogCapture, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		id:         id,
		cfg:        cfg,
		logs:       logs,
		logger:     logger.With(vlog.ServerKey, id),
		pending:    make(map[int64]chan *Envelope),
		readerDone: make(chan struct{}),
	}
}

// OnToolsChanged registers a callback fired after the tool cache is
// refreshed. Must be called before Start.
func (c *Client) OnToolsChanged(fn func([]ToolDefinition)) {
	c.onToolsChanged = fn
}

// OnLogMessage registers a callback fired for each logging/message
// notification. Must be called before Start.
func (c *Client) OnLogMessage(fn func(LogMessageParams)) {
	c.onLogMessage = fn
}

// Start launches the transport, runs the protocol handshake and
// performs the initial tool discovery.
func (c *Client) Start(ctx context.Context) error {
	if err := c.tr.Start(); err != nil {
		return ErrSpawnFailed(c.id, err)
	}
	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		_ = c.Stop()
		return err
	}

	c.ready.Store(true)

	c.toolsMu.RLock()
	hasTools := c.caps.Tools != nil
	c.toolsMu.RUnlock()
	if !hasTools {
		// A server without the tools capability contributes nothing to
		// the aggregate table but may still run.
		return nil
	}

	// Discovery failure does not fail the start: retry once, then leave
	// the list empty until a list_changed notification refreshes it.
	if _, err := c.ListTools(ctx); err != nil {
		c.logger.Warn("initial tool discovery failed, retrying", vlog.Error(err))
		time.Sleep(toolDiscoveryRetryDelay)
		if _, err := c.ListTools(ctx); err != nil {
			c.logger.Warn("tool discovery failed, continuing without tools", vlog.Error(err))
		}
	}
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
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

	result, err := c.call(ctx, methodInitialize, params)
	if err != nil {
		if IsCode(err, ErrorCodeRequestTimeout) {
			return ErrHandshakeTimeout(c.id, c.cfg.Timeout())
		}
		return ErrHandshakeFailed(c.id, err)
	}

	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return ErrHandshakeFailed(c.id, err)
	}

	c.toolsMu.Lock()
	c.serverInfo = init.ServerInfo
	c.caps = init.Capabilities
	c.toolsMu.Unlock()

	if err := c.notify(notifInitialized, nil); err != nil {
		return ErrHandshakeFailed(c.id, err)
	}

	c.logger.Info("tool server handshake complete",
		"server_name", init.ServerInfo.Name,
		"server_version", init.ServerInfo.Version,
		"protocol_version", init.ProtocolVersion)
	return nil
}

// Stop shuts the client down. A shutdown notification is attempted
// first (the process may already be gone), then all in-flight requests
// fail immediately and the underlying process is terminated.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	wasReady := c.ready.Load()
	c.mu.Unlock()
	c.ready.Store(false)

	if wasReady {
		_ = c.notify(methodShutdown, nil)
	}
	c.failPending()
	return c.tr.Close()
}

// failPending rejects every pending request. Waiters receive a nil
// envelope and map it to a stopped-server error.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Done is closed once the server process has exited.
func (c *Client) Done() <-chan struct{} {
	return c.tr.Done()
}

// ExitStatus reports the process exit code, valid after Done is closed.
func (c *Client) ExitStatus() (int, error) {
	return c.tr.ExitStatus()
}

// ServerInfo returns the name and version the server reported during
// its handshake.
func (c *Client) ServerInfo() Implementation {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	return c.serverInfo
}

// Tools returns the cached tool definitions from the last discovery.
// The cache survives the server stopping.
func (c *Client) Tools() []ToolDefinition {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	out := make([]ToolDefinition, len(c.tools))
	copy(out, c.tools)
	return out
}

// ListTools queries the server for its tools and refreshes the cache.
// Before the handshake completes it returns the last known set without
// a protocol call.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if !c.ready.Load() {
		return c.Tools(), nil
	}

	result, err := c.call(ctx, methodListTools, nil)
	if err != nil {
		return nil, err
	}

	var list ListToolsResult
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, &ProtocolError{Code: codeInternalError, Message: "malformed tools/list result"}
	}

	c.toolsMu.Lock()
	c.tools = list.Tools
	c.toolsMu.Unlock()
	return list.Tools, nil
}

// CallTool invokes a tool on the server and returns its content items.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResponse, error) {
	if !c.ready.Load() {
		return nil, ErrServerNotRunning(c.id)
	}

	params, err := json.Marshal(ToolCallRequest{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}

	result, err := c.call(ctx, methodCallTool, params)
	if err != nil {
		return nil, err
	}

	var resp ToolCallResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, &ProtocolError{Code: codeInternalError, Message: "malformed tools/call result"}
	}
	return &resp, nil
}

// call sends a request and waits for the matching response, the
// configured timeout or context cancellation, whichever comes first.
func (c *Client) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan *Envelope, 1)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrServerStopped(c.id)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	var p any
	if len(params) > 0 {
		p = params
	}
	env, err := newRequest(id, method, p)
	if err != nil {
		c.removePending(id)
		return nil, err
	}
	data, err := EncodeEnvelope(env)
	if err != nil {
		c.removePending(id)
		return nil, err
	}
	if err := c.tr.Send(data); err != nil {
		c.removePending(id)
		return nil, err
	}

	timeout := time.Duration(c.cfg.Timeout()) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env, ok := <-ch:
		if !ok || env == nil {
			return nil, ErrServerStopped(c.id)
		}
		if env.Error != nil {
			return nil, env.Error
		}
		return env.Result, nil
	case <-timer.C:
		c.removePending(id)
		c.logger.Warn("request timed out",
			vlog.MethodKey, method,
			vlog.RequestIDKey, id,
			"timeout_seconds", c.cfg.Timeout())
		return nil, ErrRequestTimeout(method, c.cfg.Timeout())
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

// notify sends a one-way notification.
func (c *Client) notify(method string, params json.RawMessage) error {
	var p any
	if len(params) > 0 {
		p = params
	}
	env, err := newNotification(method, p)
	if err != nil {
		return err
	}
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return c.tr.Send(data)
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop consumes stdout lines until the stream ends, dispatching
// responses to their waiters and notifications to their handlers.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	defer c.failPending()

	for line := range c.tr.Lines() {
		env, err := DecodeLine(line)
		if err != nil {
			c.logger.Debug("dropping malformed wire line", vlog.Error(err))
			continue
		}
		if env == nil {
			// Foreign output such as a startup banner.
			continue
		}

		switch {
		case env.IsResponse():
			c.dispatchResponse(env)
		case env.IsNotification():
			c.handleNotification(env)
		default:
			// Server-to-client requests are not supported.
			c.logger.Debug("dropping unexpected envelope", vlog.MethodKey, env.Method)
		}
	}
}

func (c *Client) dispatchResponse(env *Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[*env.ID]
	if ok {
		delete(c.pending, *env.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late response after a timeout, or an id we never issued.
		c.logger.Debug("dropping unmatched response", vlog.RequestIDKey, *env.ID)
		return
	}
	ch <- env
}

func (c *Client) handleNotification(env *Envelope) {
	switch env.Method {
	case notifToolsChanged:
		c.logger.Debug("tool list changed, refreshing")
		go c.refreshTools()
	case notifLogMessage:
		var params LogMessageParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			c.logger.Debug("malformed logging notification", vlog.Error(err))
			return
		}
		if c.logs != nil {
			c.logs.Append(LogSourceProtocol, params.Level, string(params.Data))
		}
		if c.onLogMessage != nil {
			c.onLogMessage(params)
		}
	default:
		c.logger.Debug("ignoring notification", vlog.MethodKey, env.Method)
	}
}

// refreshTools re-runs discovery after a change notification. Errors
// leave the previous cache in place.
func (c *Client) refreshTools() {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(c.cfg.Timeout())*time.Second)
	defer cancel()

	tools, err := c.ListTools(ctx)
	if err != nil {
		c.logger.Warn("tool refresh failed", vlog.Error(err))
		return
	}
	if c.onToolsChanged != nil {
		c.onToolsChanged(tools)
	}
}
