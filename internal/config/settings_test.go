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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testSection struct {
	Servers map[string]string `json:"servers"`
}

func TestSettingsStore_MissingFile(t *testing.T) {
	store := NewSettingsStoreAt(filepath.Join(t.TempDir(), "settings.json"), "mcpServers")

	var out testSection
	found, err := store.Load(&out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSettingsStore_RoundTrip(t *testing.T) {
	store := NewSettingsStoreAt(filepath.Join(t.TempDir(), "settings.json"), "mcpServers")

	in := testSection{Servers: map[string]string{"github": "npx"}}
	require.NoError(t, store.Save(in))

	var out testSection
	found, err := store.Load(&out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, in, out)
}

func TestSettingsStore_PreservesUnrelatedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	seed := `{"theme":"dark","editor":{"tabSize":2},"mcpServers":{"servers":{}}}`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0600))

	store := NewSettingsStoreAt(path, "mcpServers")
	require.NoError(t, store.Save(testSection{Servers: map[string]string{"a": "b"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc, "theme")
	require.Contains(t, doc, "editor")
	require.JSONEq(t, `"dark"`, string(doc["theme"]))
	require.JSONEq(t, `{"tabSize":2}`, string(doc["editor"]))
}

func TestSettingsStore_BareTopLevelForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	// Settings written before the section key existed: the document itself
	// is the section.
	seed := `{"servers":{"legacy":"uvx"}}`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0600))

	store := NewSettingsStoreAt(path, "mcpServers").AllowBareForm("mcpRuntime")

	var out testSection
	found, err := store.Load(&out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "uvx", out.Servers["legacy"])
}

func TestSettingsStore_BareFormRequiresOptIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	seed := `{"servers":{"legacy":"uvx"}}`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0600))

	store := NewSettingsStoreAt(path, "mcpServers")

	var out testSection
	found, err := store.Load(&out)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSettingsStore_BareFormSkippedWhenSectioned(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	// A reserved sibling section proves the document is already
	// sectioned, so the whole document must not be read as servers.
	seed := `{"mcpRuntime":{"running":["fs"]}}`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0600))

	store := NewSettingsStoreAt(path, "mcpServers").AllowBareForm("mcpRuntime")

	var out map[string]json.RawMessage
	found, err := store.Load(&out)
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, out)
}

func TestSettingsStore_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	store := NewSettingsStoreAt(path, "mcpServers")

	var out testSection
	_, err := store.Load(&out)
	require.Error(t, err)

	// Save replaces the malformed file rather than failing.
	require.NoError(t, store.Save(testSection{Servers: map[string]string{"a": "b"}}))
	found, err := store.Load(&out)
	require.NoError(t, err)
	require.True(t, found)
}
