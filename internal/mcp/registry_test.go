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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServerClient satisfies serverClient without spawning processes.
type fakeServerClient struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	startFn  func(ctx context.Context) error
	tools    []ToolDefinition
	info     Implementation
	logs     *LogCapture

	done     chan struct{}
	exitCode int

	callFn func(name string, args json.RawMessage) (*ToolCallResponse, error)
}

func newFakeServerClient() *fakeServerClient {
	return &fakeServerClient{
		info: Implementation{Name: "fake", Version: "0.0.1"},
		done: make(chan struct{}),
	}
}

func (f *fakeServerClient) Start(ctx context.Context) error {
	f.mu.Lock()
	f.starts++
	fn := f.startFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startErr
}

func (f *fakeServerClient) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeServerClient) ServerInfo() Implementation { return f.info }

func (f *fakeServerClient) Tools() []ToolDefinition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools
}

func (f *fakeServerClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	return f.Tools(), nil
}

func (f *fakeServerClient) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolCallResponse, error) {
	if f.callFn != nil {
		return f.callFn(name, args)
	}
	return &ToolCallResponse{Content: []ContentItem{{Type: "text", Text: "ok"}}}, nil
}

func (f *fakeServerClient) OnToolsChanged(func([]ToolDefinition)) {}
func (f *fakeServerClient) OnLogMessage(func(LogMessageParams))   {}
func (f *fakeServerClient) Done() <-chan struct{}                 { return f.done }
func (f *fakeServerClient) ExitStatus() (int, error)              { return f.exitCode, nil }

// exit simulates the server process exiting with the given code.
func (f *fakeServerClient) exit(code int) {
	f.exitCode = code
	close(f.done)
}

type testRegistry struct {
	*Registry
	path  string
	fakes map[string]*fakeServerClient
	mu    sync.Mutex
}

// fake returns the most recent client built for a server id.
func (tr *testRegistry) fake(id string) *fakeServerClient {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.fakes[id]
}

func newTestRegistry(t *testing.T, configs map[string]*ServerConfig, opts ...RegistryOption) *testRegistry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	store := NewConfigStoreAt(path)
	if len(configs) > 0 {
		require.NoError(t, store.Save(configs))
	}

	state := NewStateStoreAt(filepath.Join(dir, "mcp-state.json"))
	opts = append(opts, WithStateStore(state))
	r, err := NewRegistry(store, opts...)
	require.NoError(t, err)

	tr := &testRegistry{Registry: r, path: path, fakes: map[string]*fakeServerClient{}}
	r.newClient = func(id string, cfg *ServerConfig, logs *LogCapture) serverClient {
		f := newFakeServerClient()
		f.logs = logs
		f.tools = []ToolDefinition{{Name: id + "_tool", Description: "tool of " + id}}
		tr.mu.Lock()
		tr.fakes[id] = f
		tr.mu.Unlock()
		return f
	}
	t.Cleanup(func() { _ = r.StopAll() })
	return tr
}

func stdioConfig() *ServerConfig {
	return &ServerConfig{Command: "fake-server"}
}

func TestRegistryAddListRemove(t *testing.T) {
	tr := newTestRegistry(t, nil)

	require.NoError(t, tr.AddServer("alpha", stdioConfig()))
	require.NoError(t, tr.AddServer("beta", stdioConfig()))

	err := tr.AddServer("alpha", stdioConfig())
	assert.True(t, IsCode(err, ErrorCodeAlreadyExists))

	err = tr.AddServer("bad id!", stdioConfig())
	assert.True(t, IsCode(err, ErrorCodeValidation))

	list := tr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, StatusStopped, list[0].Status)

	require.NoError(t, tr.RemoveServer("alpha"))
	err = tr.RemoveServer("alpha")
	assert.True(t, IsCode(err, ErrorCodeNotFound))

	// Persistence is immediate.
	data, err := os.ReadFile(tr.path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"alpha"`)
	assert.Contains(t, string(data), `"beta"`)
}

func TestRegistryStartStopIdempotent(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})
	ctx := context.Background()

	require.NoError(t, tr.StartServer(ctx, "alpha"))
	require.NoError(t, tr.StartServer(ctx, "alpha"))
	assert.Equal(t, 1, tr.fake("alpha").starts)

	inst, err := tr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, inst.Status)
	assert.False(t, inst.StartedAt.IsZero())
	assert.Equal(t, "fake", inst.Info.Name)

	require.NoError(t, tr.StopServer("alpha"))
	require.NoError(t, tr.StopServer("alpha"))
	assert.Equal(t, 1, tr.fake("alpha").stops)

	inst, err = tr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, inst.Status)
}

func TestRegistryStartFailure(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})

	var events []Event
	var mu sync.Mutex
	unsubscribe := tr.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer unsubscribe()

	tr.Registry.newClient = func(id string, cfg *ServerConfig, logs *LogCapture) serverClient {
		f := newFakeServerClient()
		f.startErr = ErrSpawnFailed(id, os.ErrNotExist)
		return f
	}

	err := tr.StartServer(context.Background(), "alpha")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrorCodeSpawn))

	inst, err := tr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusError, inst.Status)
	assert.NotEmpty(t, inst.LastError)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, EventStarting, events[0].Type)
	assert.Equal(t, EventError, events[len(events)-1].Type)
}

func TestRegistryLifecycleEvents(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})

	var mu sync.Mutex
	var types []EventType
	unsubscribe := tr.Subscribe(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, tr.StartServer(ctx, "alpha"))
	require.NoError(t, tr.StopServer("alpha"))

	mu.Lock()
	assert.Equal(t, []EventType{EventStarting, EventRunning, EventStopped}, types)
	mu.Unlock()

	// Disposed subscriptions receive nothing further.
	unsubscribe()
	unsubscribe()
	require.NoError(t, tr.StartServer(ctx, "alpha"))
	mu.Lock()
	assert.Len(t, types, 3)
	mu.Unlock()
}

func TestRegistryGetAllTools(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{
		"beta":  stdioConfig(),
		"alpha": stdioConfig(),
		"idle":  stdioConfig(),
	})
	ctx := context.Background()
	require.NoError(t, tr.StartServer(ctx, "alpha"))
	require.NoError(t, tr.StartServer(ctx, "beta"))

	tools := tr.GetAllTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "alpha", tools[0].ServerID)
	assert.Equal(t, "alpha_tool", tools[0].Name)
	assert.Equal(t, "beta", tools[1].ServerID)

	// Stopped servers contribute nothing.
	require.NoError(t, tr.StopServer("alpha"))
	tools = tr.GetAllTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "beta", tools[0].ServerID)
}

func TestRegistryCallTool(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})
	ctx := context.Background()

	_, err := tr.CallTool(ctx, "ghost", "alpha_tool", nil)
	assert.True(t, IsCode(err, ErrorCodeNotFound))

	_, err = tr.CallTool(ctx, "alpha", "alpha_tool", nil)
	assert.True(t, IsCode(err, ErrorCodeNotRunning))

	require.NoError(t, tr.StartServer(ctx, "alpha"))

	_, err = tr.CallTool(ctx, "alpha", "no_such_tool", nil)
	assert.True(t, IsCode(err, ErrorCodeToolNotFound))

	resp, err := tr.CallTool(ctx, "alpha", "alpha_tool", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content[0].Text)
}

func TestRegistryUpdateServer(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})
	ctx := context.Background()
	require.NoError(t, tr.StartServer(ctx, "alpha"))
	first := tr.fake("alpha")

	updated := &ServerConfig{Command: "fake-server", Args: []string{"--verbose"}}
	require.NoError(t, tr.UpdateServer(ctx, "alpha", updated))

	// The old client was stopped and a fresh one started.
	assert.Equal(t, 1, first.stops)
	second := tr.fake("alpha")
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, second.starts)

	inst, err := tr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, inst.Status)
	assert.Equal(t, []string{"--verbose"}, inst.Config.Args)
}

func TestRegistryUpdateDisabledStaysStopped(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})
	ctx := context.Background()
	require.NoError(t, tr.StartServer(ctx, "alpha"))

	updated := &ServerConfig{Command: "fake-server", Disabled: true}
	require.NoError(t, tr.UpdateServer(ctx, "alpha", updated))

	inst, err := tr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, inst.Status)
}

func TestRegistryCleanExitMarksStopped(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})
	require.NoError(t, tr.StartServer(context.Background(), "alpha"))

	tr.fake("alpha").exit(0)

	require.Eventually(t, func() bool {
		inst, err := tr.Get("alpha")
		return err == nil && inst.Status == StatusStopped
	}, 2*time.Second, 10*time.Millisecond)

	inst, err := tr.Get("alpha")
	require.NoError(t, err)
	assert.Empty(t, inst.LastError)
}

func TestRegistryCrashRetainsStderr(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})
	require.NoError(t, tr.StartServer(context.Background(), "alpha"))

	f := tr.fake("alpha")
	f.logs.Append(LogSourceStderr, "", "fatal: port 9000 already in use")
	f.exit(1)

	require.Eventually(t, func() bool {
		inst, err := tr.Get("alpha")
		return err == nil && inst.Status == StatusError
	}, 2*time.Second, 10*time.Millisecond)

	inst, err := tr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "fatal: port 9000 already in use", inst.LastError)
}

func TestRegistryAutoRestartAfterCrash(t *testing.T) {
	cfg := stdioConfig()
	cfg.RetryAttempts = 1
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": cfg})
	require.NoError(t, tr.StartServer(context.Background(), "alpha"))

	first := tr.fake("alpha")
	first.exit(1)

	require.Eventually(t, func() bool {
		inst, err := tr.Get("alpha")
		return err == nil && inst.Status == StatusRunning && inst.RestartCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.NotSame(t, first, tr.fake("alpha"))
}

func TestRegistryRestartCountsAndStartsFresh(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})
	ctx := context.Background()
	require.NoError(t, tr.StartServer(ctx, "alpha"))
	first := tr.fake("alpha")

	require.NoError(t, tr.RestartServer(ctx, "alpha"))

	inst, err := tr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, inst.Status)
	assert.Equal(t, 1, inst.RestartCount)
	assert.Equal(t, 1, first.stops)
	assert.NotSame(t, first, tr.fake("alpha"))
}

func TestRegistryStartAllSkipsDisabled(t *testing.T) {
	disabled := stdioConfig()
	disabled.Disabled = true
	tr := newTestRegistry(t, map[string]*ServerConfig{
		"alpha": stdioConfig(),
		"beta":  stdioConfig(),
		"off":   disabled,
	})

	require.NoError(t, tr.StartAll(context.Background()))

	for _, inst := range tr.List() {
		if inst.ID == "off" {
			assert.Equal(t, StatusStopped, inst.Status)
		} else {
			assert.Equal(t, StatusRunning, inst.Status)
		}
	}

	require.NoError(t, tr.StopAll())
	for _, inst := range tr.List() {
		assert.Equal(t, StatusStopped, inst.Status)
	}
}

func TestRegistryStartAllFailureLeavesSiblingsAlone(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{
		"bad":  stdioConfig(),
		"slow": stdioConfig(),
	})

	base := tr.Registry.newClient
	tr.Registry.newClient = func(id string, cfg *ServerConfig, logs *LogCapture) serverClient {
		f := base(id, cfg, logs).(*fakeServerClient)
		switch id {
		case "bad":
			f.startErr = ErrSpawnFailed(id, os.ErrNotExist)
		case "slow":
			f.startFn = func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(200 * time.Millisecond):
					return nil
				}
			}
		}
		return f
	}

	// One server failing to start must not abort the others
	// mid-handshake.
	err := tr.StartAll(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrorCodeSpawn))

	inst, err := tr.Get("slow")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, inst.Status)

	inst, err = tr.Get("bad")
	require.NoError(t, err)
	assert.Equal(t, StatusError, inst.Status)
}

func TestRegistryUpdateWhileRunningStopBookkeeping(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()},
		WithMetrics(metrics))
	ctx := context.Background()
	require.NoError(t, tr.StartServer(ctx, "alpha"))

	var mu sync.Mutex
	var types []EventType
	unsubscribe := tr.Subscribe(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})
	defer unsubscribe()

	updated := &ServerConfig{Command: "fake-server", Args: []string{"--next"}}
	require.NoError(t, tr.UpdateServer(ctx, "alpha", updated))

	// The update stops the old instance through the normal path, so the
	// stop is observable and the running gauge stays honest.
	mu.Lock()
	assert.Equal(t, []EventType{EventStopped, EventStarting, EventRunning}, types)
	mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.serversRunning))

	require.NoError(t, tr.RemoveServer("alpha"))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.serversRunning))
}

func TestRegistrySnapshotConfigIsACopy(t *testing.T) {
	cfg := stdioConfig()
	cfg.Args = []string{"--root", "/srv"}
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": cfg})

	inst, err := tr.Get("alpha")
	require.NoError(t, err)
	inst.Config.Command = "changed"
	inst.Config.Args[0] = "--mangled"

	inst, err = tr.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "fake-server", inst.Config.Command)
	assert.Equal(t, []string{"--root", "/srv"}, inst.Config.Args)
}

func TestRegistryResume(t *testing.T) {
	dir := t.TempDir()
	store := NewConfigStoreAt(filepath.Join(dir, "settings.json"))
	require.NoError(t, store.Save(map[string]*ServerConfig{
		"alpha": stdioConfig(),
		"beta":  stdioConfig(),
	}))
	state := NewStateStoreAt(filepath.Join(dir, "mcp-state.json"))
	require.NoError(t, state.Save([]string{"alpha", "gone"}))

	r, err := NewRegistry(store, WithStateStore(state))
	require.NoError(t, err)
	r.newClient = func(id string, cfg *ServerConfig, logs *LogCapture) serverClient {
		return newFakeServerClient()
	}
	t.Cleanup(func() { _ = r.StopAll() })

	require.NoError(t, r.Resume(context.Background()))

	inst, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, inst.Status)

	inst, err = r.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, inst.Status)
}

func TestRegistryMalformedSettingsStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	r, err := NewRegistry(NewConfigStoreAt(path))
	require.NoError(t, err)
	assert.Empty(t, r.List())
}

func TestRegistryServerTools(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"alpha": stdioConfig()})

	tools, err := tr.ServerTools("alpha")
	require.NoError(t, err)
	assert.Empty(t, tools)

	require.NoError(t, tr.StartServer(context.Background(), "alpha"))
	tools, err = tr.ServerTools("alpha")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "alpha_tool", tools[0].Name)

	// The cache survives a stop.
	require.NoError(t, tr.StopServer("alpha"))
	tools, err = tr.ServerTools("alpha")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	_, err = tr.ServerTools("ghost")
	assert.True(t, IsCode(err, ErrorCodeNotFound))
}

func TestRegistryReload(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{
		"alpha": stdioConfig(),
		"beta":  stdioConfig(),
	})
	ctx := context.Background()
	require.NoError(t, tr.StartServer(ctx, "beta"))
	betaFake := tr.fake("beta")

	// Rewrite the settings file behind the registry's back: alpha
	// changes, beta disappears, gamma is new.
	store := NewConfigStoreAt(tr.path)
	require.NoError(t, store.Save(map[string]*ServerConfig{
		"alpha": {Command: "fake-server", Args: []string{"--new"}},
		"gamma": stdioConfig(),
	}))

	require.NoError(t, tr.Reload(ctx))

	list := tr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, []string{"--new"}, list[0].Config.Args)
	assert.Equal(t, "gamma", list[1].ID)
	assert.Equal(t, 1, betaFake.stops)

	_, err := tr.Get("beta")
	assert.True(t, IsCode(err, ErrorCodeNotFound))
}
