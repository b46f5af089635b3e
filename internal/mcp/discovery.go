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
	_ "embed"
	"fmt"
	"os/exec"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// CatalogEntry describes a well-known tool server the CLI can suggest.
type CatalogEntry struct {
	// ID is the suggested server id.
	ID string `yaml:"id" json:"id"`
	// Name is the display name.
	Name string `yaml:"name" json:"name"`
	// Description says what the server provides.
	Description string `yaml:"description" json:"description"`
	// Runtime is the executable that must be installed to run it.
	Runtime string `yaml:"runtime" json:"runtime"`
	// Command and Args form the launch command.
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
	// Homepage links to the server's documentation.
	Homepage string `yaml:"homepage" json:"homepage,omitempty"`
}

// Available reports whether the entry's runtime is on PATH.
func (e CatalogEntry) Available() bool {
	_, err := exec.LookPath(e.Runtime)
	return err == nil
}

// ServerConfig builds a configuration for adding the entry to the
// registry.
func (e CatalogEntry) ServerConfig() *ServerConfig {
	return &ServerConfig{
		Name:    e.Name,
		Command: e.Command,
		Args:    append([]string(nil), e.Args...),
	}
}

type catalogFile struct {
	Servers []CatalogEntry `yaml:"servers"`
}

// LoadCatalog returns the embedded catalog of well-known servers.
func LoadCatalog() ([]CatalogEntry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(catalogYAML, &file); err != nil {
		return nil, fmt.Errorf("parsing server catalog: %w", err)
	}
	return file.Servers, nil
}

// ResolveCatalogEntry finds the catalog entry with the given id.
func ResolveCatalogEntry(id string) (CatalogEntry, error) {
	entries, err := LoadCatalog()
	if err != nil {
		return CatalogEntry{}, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return CatalogEntry{}, fmt.Errorf("no catalog entry %q", id)
}

// DiscoverAvailable returns the catalog entries whose runtimes are
// installed on this machine.
func DiscoverAvailable() ([]CatalogEntry, error) {
	entries, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	var out []CatalogEntry
	for _, e := range entries {
		if e.Available() {
			out = append(out, e)
		}
	}
	return out, nil
}
