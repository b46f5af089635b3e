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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// SettingsStore reads and writes one section of the shared application
// settings file. The file is a JSON object owned by the whole application;
// a store only touches its own top-level key and preserves every other key
// byte-for-byte when saving.
type SettingsStore struct {
	// path is the settings file location
	path string

	// key is the top-level key this store owns (e.g. "mcpServers")
	key string

	// bareForm enables the legacy whole-document fallback on load
	bareForm bool
	// reserved lists section keys owned by other stores; their presence
	// marks the document as sectioned, ruling out the bare form
	reserved []string

	// mu serializes load/save against the file
	mu sync.Mutex
}

// NewSettingsStore creates a store for the given top-level key, backed by
// the application settings file.
func NewSettingsStore(key string) (*SettingsStore, error) {
	path, err := SettingsPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path: %w", err)
	}
	return &SettingsStore{path: path, key: key}, nil
}

// NewSettingsStoreAt creates a store backed by an explicit file path.
// Used by tests and by callers that relocate the settings file.
func NewSettingsStoreAt(path, key string) *SettingsStore {
	return &SettingsStore{path: path, key: key}
}

// AllowBareForm enables a fallback for settings files written before
// sections were introduced: when the store's section is absent, the
// whole document is tried as the section value. Documents containing
// any of the reserved keys are already sectioned and never fall back.
func (s *SettingsStore) AllowBareForm(reserved ...string) *SettingsStore {
	s.bareForm = true
	s.reserved = reserved
	return s
}

// Path returns the settings file location.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load reads the store's section and unmarshals it into out.
//
// A missing file yields no data and no error. If the file exists but the
// section is absent, the whole document is tried as a bare top-level form
// for backward compatibility with settings files written before sections
// were introduced.
func (s *SettingsStore) Load(out any) (found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read settings file: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to parse settings file: %w", err)
	}

	section, ok := doc[s.key]
	if !ok {
		if !s.bareForm {
			return false, nil
		}
		for _, key := range s.reserved {
			if _, sectioned := doc[key]; sectioned {
				return false, nil
			}
		}
		// Bare top-level form: the document itself is the section. A
		// document holding only unrelated settings is not an error.
		if err := json.Unmarshal(data, out); err != nil {
			return false, nil
		}
		return true, nil
	}

	if err := json.Unmarshal(section, out); err != nil {
		return false, fmt.Errorf("failed to parse settings section %q: %w", s.key, err)
	}
	return true, nil
}

// Save marshals v into the store's section and writes the settings file,
// preserving all unrelated top-level keys. The write is atomic (temp file
// plus rename).
func (s *SettingsStore) Save(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := make(map[string]json.RawMessage)

	existing, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		// A malformed settings file is replaced rather than failing the
		// save; the unrelated keys are already unrecoverable at that point.
		if err := json.Unmarshal(existing, &doc); err != nil {
			doc = make(map[string]json.RawMessage)
		}
	case os.IsNotExist(err):
		// Fresh file
	default:
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	section, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal settings section %q: %w", s.key, err)
	}
	doc[s.key] = section

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings file: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return fmt.Errorf("failed to save settings file: %w", err)
	}

	return nil
}
