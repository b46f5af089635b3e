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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRemoteTestServer serves JSON-RPC over POST the way a remote tool
// server would.
func newRemoteTestServer(t *testing.T, tools []ToolDefinition) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var env Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))

		reply := Envelope{JSONRPC: jsonrpcVersion, ID: env.ID}
		switch env.Method {
		case methodInitialize:
			raw, _ := json.Marshal(InitializeResult{
				ProtocolVersion: protocolVersion,
				Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
				ServerInfo:      Implementation{Name: "remote-fake", Version: "2.0.0"},
			})
			reply.Result = raw
		case methodListTools:
			raw, _ := json.Marshal(ListToolsResult{Tools: tools})
			reply.Result = raw
		case methodCallTool:
			raw, _ := json.Marshal(ToolCallResponse{
				Content: []ContentItem{{Type: "text", Text: "remote ok"}},
			})
			reply.Result = raw
		default:
			reply.Error = &ProtocolError{Code: codeMethodNotFound, Message: "no such method"}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(reply))
	}))
}

func TestRemoteClientProbeAndCall(t *testing.T) {
	srv := newRemoteTestServer(t, []ToolDefinition{{Name: "remote_tool"}})
	defer srv.Close()

	cfg := &ServerConfig{ConnectionType: ConnectionHTTPS, URL: srv.URL}
	c := NewRemoteClient("remote", cfg, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, "remote-fake", c.ServerInfo().Name)

	tools := c.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "remote_tool", tools[0].Name)

	resp, err := c.CallTool(context.Background(), "remote_tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "remote ok", resp.Content[0].Text)

	require.NoError(t, c.Stop())
	_, err = c.CallTool(context.Background(), "remote_tool", nil)
	assert.True(t, IsCode(err, ErrorCodeNotRunning))
}

func TestRemoteClientUnreachable(t *testing.T) {
	cfg := &ServerConfig{
		ConnectionType: ConnectionHTTPS,
		URL:            "http://127.0.0.1:1/nothing-here",
		TimeoutSeconds: 1,
	}
	c := NewRemoteClient("remote", cfg, nil)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrorCodeUnreachable))
}

func TestRemoteClientProtocolError(t *testing.T) {
	srv := newRemoteTestServer(t, nil)
	defer srv.Close()

	cfg := &ServerConfig{ConnectionType: ConnectionSSE, URL: srv.URL}
	c := NewRemoteClient("remote", cfg, nil)
	require.NoError(t, c.Start(context.Background()))

	_, err := c.post(context.Background(), "bogus/method", nil)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, codeMethodNotFound, pe.Code)
}
