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
	"log/slog"
	"sync"

	"github.com/google/uuid"

	vlog "github.com/vibe-stack/vcode-sub002/internal/log"
)

// EventType identifies a server lifecycle event.
type EventType string

const (
	// EventStarting fires when a server begins starting up.
	EventStarting EventType = "starting"
	// EventRunning fires once the handshake completes.
	EventRunning EventType = "running"
	// EventStopped fires when a server stops cleanly.
	EventStopped EventType = "stopped"
	// EventError fires when a server fails to start or exits abnormally.
	EventError EventType = "error"
	// EventToolsChanged fires when a server's tool list changes.
	EventToolsChanged EventType = "tools_changed"
)

// Event describes one lifecycle transition of a tool server.
type Event struct {
	// Type is the kind of transition.
	Type EventType `json:"type"`
	// ServerID identifies the server.
	ServerID string `json:"serverId"`
	// Status is the server's status after the transition.
	Status Status `json:"status"`
	// Error holds the failure message for EventError.
	Error string `json:"error,omitempty"`
}

// EventHandler receives lifecycle events. Handlers run synchronously on
// the emitting goroutine and must not block.
type EventHandler func(Event)

// eventBus fans lifecycle events out to subscribers.
type eventBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
	logger   *slog.Logger
}

func newEventBus(logger *slog.Logger) *eventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &eventBus{
		handlers: make(map[string]EventHandler),
		logger:   logger,
	}
}

// subscribe registers a handler and returns a disposer that removes it.
// The disposer is idempotent.
func (b *eventBus) subscribe(handler EventHandler) func() {
	token := uuid.NewString()

	b.mu.Lock()
	b.handlers[token] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, token)
			b.mu.Unlock()
		})
	}
}

// emit delivers an event to every subscriber. A panicking handler is
// logged and does not disturb the others.
func (b *eventBus) emit(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						vlog.EventKey, string(event.Type),
						"panic", r)
				}
			}()
			h(event)
		}()
	}
}
