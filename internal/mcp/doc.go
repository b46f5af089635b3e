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

/*
Package mcp implements the Model Context Protocol (MCP) subsystem for vcode.

MCP enables the editor to integrate with external tool-server processes that
expose capabilities like file system access, database queries, or custom
operations. This package launches and supervises those processes, speaks the
newline-delimited JSON-RPC wire protocol with them, discovers the tools each
one exposes, and brokers tool invocations from higher layers.

# Overview

The implementation consists of several components:

  - Wire codec: encodes and decodes single-line JSON-RPC envelopes
  - Client: one per provider process; framing, request/response correlation,
    timeouts, and notification dispatch over stdio
  - RemoteClient: remote servers reached over sse/https connection types
  - Registry: owns every ServerInstance, persists configuration, aggregates
    tools across running servers, and publishes lifecycle events
  - Discovery catalog: static knowledge of well-known installable servers
  - Tool adapter: bridges discovered tools to the pkg/tools interface

# Server Lifecycle

Start a registry and a configured server:

	store, err := mcp.NewConfigStore()
	if err != nil {
	    return err
	}
	reg, err := mcp.NewRegistry(store, mcp.WithLogger(logger))
	if err != nil {
	    return err
	}
	if err := reg.StartServer(ctx, "filesystem"); err != nil {
	    return err
	}

The registry handles process spawning, the initialize/initialized handshake,
tool discovery, status tracking, and graceful shutdown. Stopping a server
rejects every request still awaiting a response, so no caller hangs past a
stop.

# Tool Discovery

Once a server is running, its tools appear in the aggregate table:

	for _, tool := range reg.GetAllTools() {
	    fmt.Printf("%s.%s - %s\n", tool.ServerID, tool.Name, tool.Description)
	}

	result, err := reg.CallTool(ctx, "filesystem", "read_file", args)
*/
package mcp
