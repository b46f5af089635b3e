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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vibe-stack/vcode-sub002/internal/config"
)

// stateFileName is the runtime state file, kept next to the settings
// file. Runtime state lives in its own file so the frequent saves on
// start and stop never contend with configuration writes to
// settings.json.
const stateFileName = "mcp-state.json"

// RuntimeState records which servers were running so a relaunch can
// resume them.
type RuntimeState struct {
	// Running lists server ids that were running at save time.
	Running []string `json:"running"`
	// SavedAt records when the state was written.
	SavedAt time.Time `json:"savedAt"`
}

// StateStore persists runtime state in a dedicated file.
type StateStore struct {
	path string
	mu   sync.Mutex
}

// NewStateStore returns a store backed by the default state file in
// the vcode config directory.
func NewStateStore() (*StateStore, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	return &StateStore{path: filepath.Join(dir, stateFileName)}, nil
}

// NewStateStoreAt returns a store backed by the given file.
func NewStateStoreAt(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}

// Load reads the saved runtime state. A missing file yields an empty
// state.
func (s *StateStore) Load() (*RuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RuntimeState{}, nil
		}
		return nil, fmt.Errorf("loading runtime state: %w", err)
	}
	state := &RuntimeState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("loading runtime state: %w", err)
	}
	return state, nil
}

// Save writes the runtime state atomically (temp file plus rename).
func (s *StateStore) Save(running []string) error {
	state := &RuntimeState{
		Running: running,
		SavedAt: time.Now(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("saving runtime state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("saving runtime state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("saving runtime state: %w", err)
	}
	return nil
}
