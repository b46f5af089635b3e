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
	"time"
)

// Status is the lifecycle state of a tool server.
type Status string

const (
	// StatusStopped means the server is configured but not running.
	StatusStopped Status = "stopped"
	// StatusStarting means the server is spawning or mid-handshake.
	StatusStarting Status = "starting"
	// StatusRunning means the handshake completed and tools are usable.
	StatusRunning Status = "running"
	// StatusError means the last start or run ended in failure.
	StatusError Status = "error"
)

// ServerInstance is a point-in-time snapshot of a registered server.
type ServerInstance struct {
	// ID is the server's unique identifier.
	ID string `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// Config is the server's configuration.
	Config *ServerConfig `json:"config"`
	// Status is the lifecycle state at snapshot time.
	Status Status `json:"status"`
	// LastError describes the most recent failure, if any.
	LastError string `json:"lastError,omitempty"`
	// RestartCount is how many times the server has been restarted.
	RestartCount int `json:"restartCount"`
	// StartedAt is when the server last entered the running state.
	StartedAt time.Time `json:"startedAt,omitzero"`
	// Info is what the server reported during its handshake.
	Info Implementation `json:"info,omitzero"`
	// ToolCount is the number of tools in the server's cache.
	ToolCount int `json:"toolCount"`
}

// serverClient is the per-server protocol surface the registry drives.
// Satisfied by Client for stdio servers and RemoteClient for sse and
// https servers.
type serverClient interface {
	Start(ctx context.Context) error
	Stop() error
	ServerInfo() Implementation
	Tools() []ToolDefinition
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResponse, error)
	OnToolsChanged(func([]ToolDefinition))
	OnLogMessage(func(LogMessageParams))
	Done() <-chan struct{}
	ExitStatus() (int, error)
}

// serverEntry is the registry's mutable record for one server. All
// fields are guarded by the registry mutex.
type serverEntry struct {
	cfg          *ServerConfig
	status       Status
	client       serverClient
	logs         *LogCapture
	lastError    string
	restartCount int
	startedAt    time.Time
	info         Implementation

	// stopping marks an operator-initiated stop so the exit monitor
	// does not report it as a failure.
	stopping bool
	// generation invalidates stale exit monitors after a restart.
	generation int
}
