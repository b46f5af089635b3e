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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibe-stack/vcode-sub002/pkg/tools"
)

func TestDescribeSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path":  {"type": "string", "description": "File path"},
			"mode":  {"type": "string", "enum": ["read", "write"]},
			"depth": {"type": "integer"},
			"ratio": {"type": "number"},
			"force": {"type": "boolean"},
			"names": {"type": "array", "items": {"type": "string"}},
			"opts": {
				"type": "object",
				"properties": {"follow": {"type": "boolean"}},
				"required": ["follow"]
			},
			"weird": {"anyOf": [{"type": "string"}, {"type": "null"}]}
		},
		"required": ["path", "depth"]
	}`)

	params := DescribeSchema(schema)
	require.Len(t, params, 8)

	assert.Equal(t, tools.KindString, params["path"].Kind)
	assert.Equal(t, "File path", params["path"].Description)
	assert.True(t, params["path"].Required)

	assert.Equal(t, []string{"read", "write"}, params["mode"].Enum)
	assert.False(t, params["mode"].Required)

	assert.Equal(t, tools.KindInteger, params["depth"].Kind)
	assert.True(t, params["depth"].Required)
	assert.Equal(t, tools.KindNumber, params["ratio"].Kind)
	assert.Equal(t, tools.KindBoolean, params["force"].Kind)

	require.Equal(t, tools.KindArray, params["names"].Kind)
	require.NotNil(t, params["names"].Items)
	assert.Equal(t, tools.KindString, params["names"].Items.Kind)

	require.Equal(t, tools.KindObject, params["opts"].Kind)
	require.Contains(t, params["opts"].Properties, "follow")
	assert.True(t, params["opts"].Properties["follow"].Required)

	assert.Equal(t, tools.KindUnknown, params["weird"].Kind)
}

func TestDescribeSchemaDegenerateInputs(t *testing.T) {
	assert.Nil(t, DescribeSchema(nil))
	assert.Nil(t, DescribeSchema(json.RawMessage(`not json`)))
	assert.Nil(t, DescribeSchema(json.RawMessage(`{"type":"object"}`)))
}

func TestSplitToolName(t *testing.T) {
	server, tool, ok := SplitToolName("fs.read_file")
	require.True(t, ok)
	assert.Equal(t, "fs", server)
	assert.Equal(t, "read_file", tool)

	// The bare tool name may contain the separator.
	server, tool, ok = SplitToolName("fs.ns.read")
	require.True(t, ok)
	assert.Equal(t, "fs", server)
	assert.Equal(t, "ns.read", tool)

	_, _, ok = SplitToolName("no-separator")
	assert.False(t, ok)
	_, _, ok = SplitToolName(".leading")
	assert.False(t, ok)
}

func TestAdaptToolsNamespacingAndExecute(t *testing.T) {
	tr := newTestRegistry(t, map[string]*ServerConfig{"fs": stdioConfig()})
	require.NoError(t, tr.StartServer(context.Background(), "fs"))

	adapted := tr.AdaptTools()
	require.Len(t, adapted, 1)
	assert.Equal(t, "fs.fs_tool", adapted[0].Name())

	result, err := adapted[0].Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.False(t, result.IsError)
}

func TestToolAutoApproved(t *testing.T) {
	named := stdioConfig()
	named.AutoApprove = []string{"fs_tool"}
	wild := stdioConfig()
	wild.AutoApprove = []string{"*"}
	tr := newTestRegistry(t, map[string]*ServerConfig{"fs": named, "any": wild})
	require.NoError(t, tr.StartServer(context.Background(), "fs"))

	assert.True(t, tr.ToolAutoApproved("fs", "fs_tool"))
	assert.False(t, tr.ToolAutoApproved("fs", "other_tool"))
	assert.True(t, tr.ToolAutoApproved("any", "anything"))
	assert.False(t, tr.ToolAutoApproved("missing", "fs_tool"))

	adapted := tr.AdaptTools()
	require.Len(t, adapted, 1)
	st, ok := adapted[0].(*serverTool)
	require.True(t, ok)
	assert.True(t, st.AutoApproved())
}

func TestFlattenContent(t *testing.T) {
	text := flattenContent([]ContentItem{
		{Type: "text", Text: "first"},
		{Type: "image", Data: "aGk=", MimeType: "image/png"},
		{Type: "text", Text: "second"},
	})
	assert.Equal(t, "first\n[image content]\nsecond", text)
}
