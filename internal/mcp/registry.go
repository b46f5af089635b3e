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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	vlog "github.com/vibe-stack/vcode-sub002/internal/log"
)

// restartBackoffBase is the initial delay before an automatic restart.
const restartBackoffBase = time.Second

// restartBackoffMax caps the automatic restart delay.
const restartBackoffMax = 30 * time.Second

// restartSettleDelay separates the stop and start halves of a restart.
const restartSettleDelay = 100 * time.Millisecond

// Registry manages the full set of configured tool servers: their
// lifecycles, their configurations and the aggregate tool table.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverEntry

	store   *ConfigStore
	state   *StateStore
	bus     *eventBus
	metrics *Metrics
	logger  *slog.Logger

	// newClient builds the protocol client for an entry. Overridable
	// in tests.
	newClient func(id string, cfg *ServerConfig, logs *LogCapture) serverClient
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics attaches activity metrics.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithStateStore attaches runtime state persistence, enabling Resume.
func WithStateStore(s *StateStore) RegistryOption {
	return func(r *Registry) { r.state = s }
}

// NewRegistry loads the configured servers from the store. All servers
// begin stopped.
func NewRegistry(store *ConfigStore, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		servers: make(map[string]*serverEntry),
		store:   store,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bus = newEventBus(r.logger)
	r.newClient = func(id string, cfg *ServerConfig, logs *LogCapture) serverClient {
		switch cfg.Type() {
		case ConnectionSSE, ConnectionHTTPS:
			return NewRemoteClient(id, cfg, r.logger)
		default:
			return NewClient(id, cfg, logs, r.logger)
		}
	}

	// A malformed settings file degrades to an empty configuration
	// rather than taking the whole registry down.
	configs, err := store.Load()
	if err != nil {
		r.logger.Warn("could not load tool server settings, starting empty", vlog.Error(err))
		configs = map[string]*ServerConfig{}
	}
	for id, cfg := range configs {
		r.servers[id] = &serverEntry{
			cfg:    cfg,
			status: StatusStopped,
			logs:   NewLogCapture(0),
		}
	}

	r.logger.Debug("tool server registry loaded", "servers", len(r.servers))
	return r, nil
}

// Subscribe registers a lifecycle event handler and returns a disposer.
func (r *Registry) Subscribe(handler EventHandler) func() {
	return r.bus.subscribe(handler)
}

// List returns snapshots of every registered server, ordered by id.
func (r *Registry) List() []ServerInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServerInstance, 0, len(r.servers))
	for id, e := range r.servers {
		out = append(out, r.snapshotLocked(id, e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a snapshot of one server.
func (r *Registry) Get(id string) (ServerInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.servers[id]
	if !ok {
		return ServerInstance{}, ErrServerNotFound(id)
	}
	return r.snapshotLocked(id, e), nil
}

func (r *Registry) snapshotLocked(id string, e *serverEntry) ServerInstance {
	inst := ServerInstance{
		ID:           id,
		Name:         e.cfg.DisplayName(id),
		Config:       e.cfg.Clone(),
		Status:       e.status,
		LastError:    e.lastError,
		RestartCount: e.restartCount,
		StartedAt:    e.startedAt,
		Info:         e.info,
	}
	if e.client != nil {
		inst.ToolCount = len(e.client.Tools())
	}
	return inst
}

// AddServer registers a new server and persists the configuration
// immediately. The server is not started.
func (r *Registry) AddServer(id string, cfg *ServerConfig) error {
	if err := ValidateServerID(id); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.servers[id]; exists {
		return ErrServerAlreadyExists(id)
	}
	r.servers[id] = &serverEntry{
		cfg:    cfg,
		status: StatusStopped,
		logs:   NewLogCapture(0),
	}
	if err := r.persistLocked(); err != nil {
		delete(r.servers, id)
		return err
	}

	r.logger.Info("tool server added", vlog.ServerKey, id)
	return nil
}

// RemoveServer stops a server if needed, removes it and persists the
// configuration. The stop goes through StopServer so the usual
// lifecycle event and bookkeeping fire.
func (r *Registry) RemoveServer(id string) error {
	if err := r.StopServer(id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, id)
	if err := r.persistLocked(); err != nil {
		return err
	}

	r.logger.Info("tool server removed", vlog.ServerKey, id)
	return nil
}

// UpdateServer replaces a server's configuration wholesale and persists
// it. Fields absent from cfg are cleared, not merged; callers editing a
// single field read the current config first, as the enable and disable
// commands do. A running server is stopped first and restarted only
// when the new configuration leaves it enabled.
func (r *Registry) UpdateServer(ctx context.Context, id string, cfg *ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	e, ok := r.servers[id]
	if !ok {
		r.mu.RUnlock()
		return ErrServerNotFound(id)
	}
	wasRunning := e.status == StatusRunning || e.status == StatusStarting
	r.mu.RUnlock()

	if err := r.StopServer(id); err != nil {
		return err
	}

	r.mu.Lock()
	e, ok = r.servers[id]
	if !ok {
		r.mu.Unlock()
		return ErrServerNotFound(id)
	}
	e.cfg = cfg
	e.client = nil
	e.lastError = ""
	err := r.persistLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.logger.Info("tool server updated", vlog.ServerKey, id)

	if wasRunning && !cfg.Disabled {
		return r.StartServer(ctx, id)
	}
	return nil
}

// StartServer starts a server. Starting an already running or starting
// server is a no-op.
func (r *Registry) StartServer(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return ErrServerNotFound(id)
	}
	if e.status == StatusRunning || e.status == StatusStarting {
		r.mu.Unlock()
		return nil
	}

	e.status = StatusStarting
	e.stopping = false
	e.lastError = ""
	e.generation++
	gen := e.generation
	e.logs.Clear()
	client := r.newClient(id, e.cfg, e.logs)
	e.client = client
	cfg := e.cfg
	r.mu.Unlock()

	r.bus.emit(Event{Type: EventStarting, ServerID: id, Status: StatusStarting})

	client.OnToolsChanged(func([]ToolDefinition) {
		r.bus.emit(Event{Type: EventToolsChanged, ServerID: id, Status: StatusRunning})
	})

	if err := client.Start(ctx); err != nil {
		r.mu.Lock()
		e.status = StatusError
		e.lastError = err.Error()
		r.mu.Unlock()

		r.metrics.serverStartFailed(id)
		r.bus.emit(Event{Type: EventError, ServerID: id, Status: StatusError, Error: err.Error()})
		r.logger.Error("tool server failed to start", vlog.ServerKey, id, vlog.Error(err))
		return err
	}

	r.mu.Lock()
	e.status = StatusRunning
	e.startedAt = time.Now()
	e.info = client.ServerInfo()
	r.mu.Unlock()

	r.metrics.serverStarted(id)
	r.bus.emit(Event{Type: EventRunning, ServerID: id, Status: StatusRunning})
	r.logger.Info("tool server running",
		vlog.ServerKey, id,
		"tools", len(client.Tools()))

	if done := client.Done(); done != nil {
		go r.monitorExit(id, gen, cfg, client, done)
	}
	r.saveRuntimeState()
	return nil
}

// StopServer stops a server. Stopping an already stopped server is a
// no-op.
func (r *Registry) StopServer(id string) error {
	r.mu.Lock()
	e, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return ErrServerNotFound(id)
	}
	if e.status == StatusStopped {
		r.mu.Unlock()
		return nil
	}
	wasRunning := e.status == StatusRunning
	client := r.beginStopLocked(e)
	r.mu.Unlock()

	if client != nil {
		_ = client.Stop()
	}

	r.mu.Lock()
	e.status = StatusStopped
	r.mu.Unlock()

	if wasRunning {
		r.metrics.serverStopped(id, true)
	}
	r.bus.emit(Event{Type: EventStopped, ServerID: id, Status: StatusStopped})
	r.logger.Info("tool server stopped", vlog.ServerKey, id)
	r.saveRuntimeState()
	return nil
}

// beginStopLocked marks an entry as intentionally stopping and bumps
// its generation so the exit monitor stands down. Returns the client to
// stop outside the lock, or nil.
func (r *Registry) beginStopLocked(e *serverEntry) serverClient {
	e.stopping = true
	e.generation++
	return e.client
}

// RestartServer stops and starts a server, counting the restart. A
// short settle delay lets the old process release its resources.
func (r *Registry) RestartServer(ctx context.Context, id string) error {
	if err := r.StopServer(id); err != nil {
		return err
	}
	time.Sleep(restartSettleDelay)

	r.mu.Lock()
	if e, ok := r.servers[id]; ok {
		e.restartCount++
	}
	r.mu.Unlock()

	return r.StartServer(ctx, id)
}

// StartAll starts every enabled server concurrently. Individual start
// failures do not prevent the others from starting; the first error is
// returned. The shared context is passed through uncancelled so one
// server's failure never aborts a sibling mid-handshake.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	var ids []string
	for id, e := range r.servers {
		if !e.cfg.Disabled {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return r.StartServer(ctx, id)
		})
	}
	return g.Wait()
}

// StopAll stops every server concurrently.
func (r *Registry) StopAll() error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return r.StopServer(id)
		})
	}
	return g.Wait()
}

// Resume starts the servers recorded as running by the previous
// session, skipping any that were since disabled or removed.
func (r *Registry) Resume(ctx context.Context) error {
	if r.state == nil {
		return nil
	}
	state, err := r.state.Load()
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, id := range state.Running {
		r.mu.RLock()
		e, ok := r.servers[id]
		skip := !ok || e.cfg.Disabled
		r.mu.RUnlock()
		if skip {
			continue
		}
		id := id
		g.Go(func() error {
			return r.StartServer(ctx, id)
		})
	}
	return g.Wait()
}

// saveRuntimeState persists the set of running server ids.
func (r *Registry) saveRuntimeState() {
	if r.state == nil {
		return
	}

	r.mu.RLock()
	var running []string
	for id, e := range r.servers {
		if e.status == StatusRunning {
			running = append(running, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(running)
	if err := r.state.Save(running); err != nil {
		r.logger.Warn("failed to save runtime state", vlog.Error(err))
	}
}

// monitorExit watches a stdio server process and classifies its exit.
// Operator-initiated stops bump the entry generation first, so a stale
// monitor simply returns.
func (r *Registry) monitorExit(id string, gen int, cfg *ServerConfig, client serverClient, done <-chan struct{}) {
	<-done
	code, _ := client.ExitStatus()

	r.mu.Lock()
	e, ok := r.servers[id]
	if !ok || e.generation != gen || e.stopping {
		r.mu.Unlock()
		return
	}

	clean := code == 0
	if clean {
		e.status = StatusStopped
	} else {
		e.status = StatusError
		e.lastError = exitDiagnostic(code, e.logs)
	}
	lastError := e.lastError
	restarts := e.restartCount
	r.mu.Unlock()

	r.metrics.serverStopped(id, clean)
	if clean {
		r.bus.emit(Event{Type: EventStopped, ServerID: id, Status: StatusStopped})
		r.logger.Info("tool server exited", vlog.ServerKey, id)
	} else {
		r.bus.emit(Event{Type: EventError, ServerID: id, Status: StatusError, Error: lastError})
		r.logger.Error("tool server crashed",
			vlog.ServerKey, id,
			"code", code,
			"last_error", lastError)
	}
	r.saveRuntimeState()

	if !clean && restarts < cfg.RetryAttempts {
		delay := calculateBackoff(restarts)
		r.logger.Info("restarting tool server",
			vlog.ServerKey, id,
			"attempt", restarts+1,
			"delay", delay)
		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Timeout())*time.Second)
		defer cancel()
		if err := r.RestartServer(ctx, id); err != nil {
			r.logger.Error("automatic restart failed", vlog.ServerKey, id, vlog.Error(err))
		}
	}
}

// exitDiagnostic builds the failure message for an abnormal exit,
// preferring the server's final stderr line.
func exitDiagnostic(code int, logs *LogCapture) string {
	if last := logs.LastStderrLine(); last != "" {
		return last
	}
	if code < 0 {
		return "process terminated"
	}
	return fmt.Sprintf("exited with code %d", code)
}

// calculateBackoff returns the delay before restart attempt n,
// doubling from the base up to the cap.
func calculateBackoff(attempt int) time.Duration {
	delay := restartBackoffBase << attempt
	if delay > restartBackoffMax || delay <= 0 {
		return restartBackoffMax
	}
	return delay
}

// GetAllTools returns the aggregate tool table across all running
// servers, ordered by server id then tool name.
func (r *Registry) GetAllTools() []AggregateTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AggregateTool
	for id, e := range r.servers {
		if e.status != StatusRunning || e.client == nil {
			continue
		}
		for _, tool := range e.client.Tools() {
			out = append(out, AggregateTool{ToolDefinition: tool, ServerID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServerID != out[j].ServerID {
			return out[i].ServerID < out[j].ServerID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ServerTools returns the cached tool list of one server, whatever its
// status. The cache survives stops.
func (r *Registry) ServerTools(id string) ([]ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.servers[id]
	if !ok {
		return nil, ErrServerNotFound(id)
	}
	if e.client == nil {
		return nil, nil
	}
	return e.client.Tools(), nil
}

// CallTool invokes a tool on a specific server. The tool must be
// present in the server's cache.
func (r *Registry) CallTool(ctx context.Context, serverID, toolName string, arguments json.RawMessage) (*ToolCallResponse, error) {
	r.mu.RLock()
	e, ok := r.servers[serverID]
	if !ok {
		r.mu.RUnlock()
		return nil, ErrServerNotFound(serverID)
	}
	if e.status != StatusRunning || e.client == nil {
		r.mu.RUnlock()
		return nil, ErrServerNotRunning(serverID)
	}
	client := e.client
	r.mu.RUnlock()

	found := false
	for _, tool := range client.Tools() {
		if tool.Name == toolName {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrToolNotFound(serverID, toolName)
	}

	start := time.Now()
	resp, err := client.CallTool(ctx, toolName, arguments)
	r.metrics.toolCalled(serverID, toolName, time.Since(start).Seconds(), err)
	if err != nil {
		r.logger.Warn("tool call failed",
			vlog.ServerKey, serverID,
			vlog.ToolKey, toolName,
			vlog.Error(err))
		return nil, err
	}
	return resp, nil
}

// Logs returns up to n recent log lines for a server, oldest first.
func (r *Registry) Logs(id string, n int) ([]LogEntry, error) {
	r.mu.RLock()
	e, ok := r.servers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrServerNotFound(id)
	}
	return e.logs.Tail(n), nil
}

// Reload re-reads the configuration store and reconciles the registry:
// new servers are added stopped, removed servers are stopped and
// dropped, and changed servers are updated in place. Stops go through
// StopServer so the usual events, metrics and state saves fire.
func (r *Registry) Reload(ctx context.Context) error {
	configs, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.RLock()
	current := make(map[string]*ServerConfig, len(r.servers))
	wasRunning := make(map[string]bool, len(r.servers))
	for id, e := range r.servers {
		current[id] = e.cfg
		wasRunning[id] = e.status == StatusRunning || e.status == StatusStarting
	}
	r.mu.RUnlock()

	for id := range current {
		if _, keep := configs[id]; keep {
			continue
		}
		if err := r.StopServer(id); err != nil {
			r.logger.Error("stop during reload failed", vlog.ServerKey, id, vlog.Error(err))
		}
		r.mu.Lock()
		delete(r.servers, id)
		r.mu.Unlock()
	}

	var toRestart []string
	for id, next := range configs {
		prev, known := current[id]
		if !known {
			r.mu.Lock()
			r.servers[id] = &serverEntry{
				cfg:    next,
				status: StatusStopped,
				logs:   NewLogCapture(0),
			}
			r.mu.Unlock()
			continue
		}
		if configsEqual(prev, next) {
			continue
		}
		if err := r.StopServer(id); err != nil {
			r.logger.Error("stop during reload failed", vlog.ServerKey, id, vlog.Error(err))
			continue
		}
		r.mu.Lock()
		if e, ok := r.servers[id]; ok {
			e.cfg = next
			e.client = nil
			e.lastError = ""
		}
		r.mu.Unlock()
		if wasRunning[id] && !next.Disabled {
			toRestart = append(toRestart, id)
		}
	}

	for _, id := range toRestart {
		if err := r.StartServer(ctx, id); err != nil {
			r.logger.Error("restart after reload failed", vlog.ServerKey, id, vlog.Error(err))
		}
	}

	r.logger.Info("tool server configuration reloaded", "servers", len(configs))
	return nil
}

// persistLocked writes the current configs to the store. Callers hold
// the write lock.
func (r *Registry) persistLocked() error {
	configs := make(map[string]*ServerConfig, len(r.servers))
	for id, e := range r.servers {
		configs[id] = e.cfg
	}
	return r.store.Save(configs)
}

// configsEqual compares two configs by their JSON form.
func configsEqual(a, b *ServerConfig) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
