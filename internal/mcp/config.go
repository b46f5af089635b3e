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
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/vibe-stack/vcode-sub002/internal/config"
)

// ConnectionType describes how a tool server is reached.
type ConnectionType string

const (
	// ConnectionStdio runs the server as a child process speaking
	// newline-delimited JSON-RPC over stdin/stdout.
	ConnectionStdio ConnectionType = "stdio"
	// ConnectionSSE reaches the server over HTTP with server-sent events.
	ConnectionSSE ConnectionType = "sse"
	// ConnectionHTTPS reaches the server over plain HTTPS POST.
	ConnectionHTTPS ConnectionType = "https"
)

// settingsKey is the section of the settings document that holds
// tool server configurations.
const settingsKey = "mcpServers"

// legacyStateKey is the settings section earlier releases used for
// runtime state before it moved to its own file. A document carrying
// it is sectioned, so the bare-form fallback must not apply.
const legacyStateKey = "mcpRuntime"

// DefaultRequestTimeout is the per-request timeout applied when a
// server config does not set one, in seconds.
const DefaultRequestTimeout = 30

// serverIDPattern validates server ids: a letter followed by up to 63
// letters, digits, hyphens or underscores.
var serverIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// ServerConfig describes a single configured tool server.
type ServerConfig struct {
	// Name is a human-readable display name. Defaults to the id.
	Name string `json:"name,omitempty"`
	// Command is the executable to spawn for stdio servers.
	Command string `json:"command,omitempty"`
	// Args are passed to the command.
	Args []string `json:"args,omitempty"`
	// Env holds extra environment variables as KEY=VALUE pairs.
	Env []string `json:"env,omitempty"`
	// ConnectionType selects the transport. Defaults to stdio.
	ConnectionType ConnectionType `json:"connectionType,omitempty"`
	// URL is the endpoint for sse and https servers.
	URL string `json:"url,omitempty"`
	// Disabled excludes the server from StartAll and resume.
	Disabled bool `json:"disabled,omitempty"`
	// AutoApprove lists tool names that may be called without
	// interactive confirmation.
	AutoApprove []string `json:"autoApprove,omitempty"`
	// TimeoutSeconds overrides the per-request timeout.
	TimeoutSeconds int `json:"timeout,omitempty"`
	// RetryAttempts bounds automatic restarts after failures.
	RetryAttempts int `json:"retryAttempts,omitempty"`
}

// Type returns the effective connection type, defaulting to stdio.
func (c *ServerConfig) Type() ConnectionType {
	if c.ConnectionType == "" {
		return ConnectionStdio
	}
	return c.ConnectionType
}

// Timeout returns the effective per-request timeout in seconds.
func (c *ServerConfig) Timeout() int {
	if c.TimeoutSeconds <= 0 {
		return DefaultRequestTimeout
	}
	return c.TimeoutSeconds
}

// DisplayName returns the configured name, or id when unset.
func (c *ServerConfig) DisplayName(id string) string {
	if c.Name != "" {
		return c.Name
	}
	return id
}

// Clone returns a deep copy of the config. Snapshots hand out clones
// so a caller mutating one cannot reach back into registry state.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Args = slices.Clone(c.Args)
	out.Env = slices.Clone(c.Env)
	out.AutoApprove = slices.Clone(c.AutoApprove)
	return &out
}

// ValidateServerID checks that id is acceptable as a server id.
func ValidateServerID(id string) error {
	if !serverIDPattern.MatchString(id) {
		return ErrInvalidServerID(id)
	}
	return nil
}

// Validate checks the config for internal consistency.
func (c *ServerConfig) Validate() error {
	switch c.Type() {
	case ConnectionStdio:
		if strings.TrimSpace(c.Command) == "" {
			return ErrInvalidConfig("stdio servers require a command")
		}
	case ConnectionSSE, ConnectionHTTPS:
		if strings.TrimSpace(c.URL) == "" {
			return ErrInvalidConfig(fmt.Sprintf("%s servers require a url", c.Type()))
		}
	default:
		return ErrInvalidConfig(fmt.Sprintf("unknown connection type %q", c.ConnectionType))
	}
	for _, kv := range c.Env {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return ErrInvalidConfig(fmt.Sprintf("env entry %q is not KEY=VALUE", kv))
		}
	}
	if c.TimeoutSeconds < 0 {
		return ErrInvalidConfig("timeout must not be negative")
	}
	if c.RetryAttempts < 0 {
		return ErrInvalidConfig("retryAttempts must not be negative")
	}
	return nil
}

// sensitiveEnvPattern matches env keys whose values should be redacted
// in logs and status output.
var sensitiveEnvPattern = regexp.MustCompile(`(?i)(token|secret|key|password|credential)`)

// RedactedEnv returns a copy of the env list with sensitive values
// replaced by asterisks.
func (c *ServerConfig) RedactedEnv() []string {
	if len(c.Env) == 0 {
		return nil
	}
	out := make([]string, len(c.Env))
	for i, kv := range c.Env {
		key, _, ok := strings.Cut(kv, "=")
		if ok && sensitiveEnvPattern.MatchString(key) {
			out[i] = key + "=****"
		} else {
			out[i] = kv
		}
	}
	return out
}

// ExpandedEnv returns a copy of the env list with ${VAR} references in
// values substituted from the parent process environment. Keys are
// never expanded.
func (c *ServerConfig) ExpandedEnv() []string {
	if len(c.Env) == 0 {
		return nil
	}
	out := make([]string, len(c.Env))
	for i, kv := range c.Env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			out[i] = kv
			continue
		}
		out[i] = key + "=" + os.ExpandEnv(value)
	}
	return out
}

// ConfigStore loads and persists the set of configured tool servers.
type ConfigStore struct {
	store *config.SettingsStore
}

// NewConfigStore returns a store backed by the default settings file.
func NewConfigStore() (*ConfigStore, error) {
	store, err := config.NewSettingsStore(settingsKey)
	if err != nil {
		return nil, err
	}
	return &ConfigStore{store: store.AllowBareForm(legacyStateKey)}, nil
}

// NewConfigStoreAt returns a store backed by the given settings file.
// Used by tests and the --settings flag.
func NewConfigStoreAt(path string) *ConfigStore {
	return &ConfigStore{store: config.NewSettingsStoreAt(path, settingsKey).AllowBareForm(legacyStateKey)}
}

// Path returns the settings file location.
func (s *ConfigStore) Path() string {
	return s.store.Path()
}

// Load reads all server configs. A missing settings file yields an
// empty map.
func (s *ConfigStore) Load() (map[string]*ServerConfig, error) {
	configs := map[string]*ServerConfig{}
	found, err := s.store.Load(&configs)
	if err != nil {
		return nil, fmt.Errorf("loading tool server settings: %w", err)
	}
	if !found {
		return map[string]*ServerConfig{}, nil
	}
	return configs, nil
}

// Save writes all server configs back, preserving unrelated settings.
func (s *ConfigStore) Save(configs map[string]*ServerConfig) error {
	if err := s.store.Save(configs); err != nil {
		return fmt.Errorf("saving tool server settings: %w", err)
	}
	return nil
}
