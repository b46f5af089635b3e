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
	"strings"

	"github.com/vibe-stack/vcode-sub002/pkg/tools"
)

// toolNamespaceSep joins a server id and tool name into the namespaced
// name exposed to assistant integrations.
const toolNamespaceSep = "."

// serverTool adapts one aggregate tool to the tools.Tool interface.
// The namespaced name keeps tools from different servers distinct even
// when their bare names collide.
type serverTool struct {
	registry    *Registry
	serverID    string
	def         ToolDefinition
	params      map[string]tools.Descriptor
	autoApprove bool
}

// AdaptTools exposes the registry's aggregate tool table as tools.Tool
// values. The result reflects the table at call time.
func (r *Registry) AdaptTools() []tools.Tool {
	aggregate := r.GetAllTools()
	out := make([]tools.Tool, 0, len(aggregate))
	for _, at := range aggregate {
		out = append(out, &serverTool{
			registry:    r,
			serverID:    at.ServerID,
			def:         at.ToolDefinition,
			params:      DescribeSchema(at.InputSchema),
			autoApprove: r.ToolAutoApproved(at.ServerID, at.Name),
		})
	}
	return out
}

// ToolAutoApproved reports whether the server's configuration lists the
// tool for unattended execution. A single "*" entry approves every tool
// the server offers.
func (r *Registry) ToolAutoApproved(serverID, toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.servers[serverID]
	if !ok {
		return false
	}
	for _, name := range entry.cfg.AutoApprove {
		if name == "*" || name == toolName {
			return true
		}
	}
	return false
}

// SplitToolName splits a namespaced tool name back into server id and
// bare tool name. The bare name may itself contain the separator.
func SplitToolName(namespaced string) (serverID, toolName string, ok bool) {
	serverID, toolName, ok = strings.Cut(namespaced, toolNamespaceSep)
	if !ok || serverID == "" || toolName == "" {
		return "", "", false
	}
	return serverID, toolName, true
}

func (t *serverTool) Name() string {
	return t.serverID + toolNamespaceSep + t.def.Name
}

func (t *serverTool) Description() string {
	return t.def.Description
}

func (t *serverTool) Parameters() map[string]tools.Descriptor {
	return t.params
}

// AutoApproved reports whether the tool may run without per-call
// confirmation, as configured on its server.
func (t *serverTool) AutoApproved() bool {
	return t.autoApprove
}

func (t *serverTool) Execute(ctx context.Context, arguments json.RawMessage) (*tools.Result, error) {
	resp, err := t.registry.CallTool(ctx, t.serverID, t.def.Name, arguments)
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Text:    flattenContent(resp.Content),
		IsError: resp.IsError,
	}, nil
}

// flattenContent joins the textual parts of a tool response. Non-text
// items are represented by their type so callers see they were there.
func flattenContent(items []ContentItem) string {
	var parts []string
	for _, item := range items {
		switch item.Type {
		case "text":
			parts = append(parts, item.Text)
		default:
			parts = append(parts, "["+item.Type+" content]")
		}
	}
	return strings.Join(parts, "\n")
}

// schemaNode is the subset of JSON Schema the converter understands.
type schemaNode struct {
	Type        string                `json:"type"`
	Description string                `json:"description"`
	Enum        []json.RawMessage     `json:"enum"`
	Items       json.RawMessage       `json:"items"`
	Properties  map[string]schemaNode `json:"properties"`
	Required    []string              `json:"required"`
}

// DescribeSchema converts a tool's JSON-Schema input into parameter
// descriptors. Constructs the converter does not understand become
// KindUnknown rather than being dropped.
func DescribeSchema(schema json.RawMessage) map[string]tools.Descriptor {
	if len(schema) == 0 {
		return nil
	}
	var root schemaNode
	if err := json.Unmarshal(schema, &root); err != nil {
		return nil
	}
	if len(root.Properties) == 0 {
		return nil
	}

	required := make(map[string]bool, len(root.Required))
	for _, name := range root.Required {
		required[name] = true
	}

	out := make(map[string]tools.Descriptor, len(root.Properties))
	for name, prop := range root.Properties {
		d := describeNode(prop)
		d.Required = required[name]
		out[name] = d
	}
	return out
}

func describeNode(node schemaNode) tools.Descriptor {
	d := tools.Descriptor{Description: node.Description}

	switch node.Type {
	case "string":
		d.Kind = tools.KindString
		for _, raw := range node.Enum {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				d.Enum = append(d.Enum, s)
			}
		}
	case "number":
		d.Kind = tools.KindNumber
	case "integer":
		d.Kind = tools.KindInteger
	case "boolean":
		d.Kind = tools.KindBoolean
	case "array":
		d.Kind = tools.KindArray
		if len(node.Items) > 0 {
			var item schemaNode
			if err := json.Unmarshal(node.Items, &item); err == nil {
				inner := describeNode(item)
				d.Items = &inner
			}
		}
	case "object":
		d.Kind = tools.KindObject
		if len(node.Properties) > 0 {
			required := make(map[string]bool, len(node.Required))
			for _, name := range node.Required {
				required[name] = true
			}
			d.Properties = make(map[string]tools.Descriptor, len(node.Properties))
			for name, prop := range node.Properties {
				inner := describeNode(prop)
				inner.Required = required[name]
				d.Properties[name] = inner
			}
		}
	default:
		// Unions, $ref and anything else pass through unclassified.
		d.Kind = tools.KindUnknown
	}
	return d
}
