package mcp

import (
	"encoding/json"
	"fmt"
)

// ToolDefinition represents an MCP tool definition.
// Maps to the MCP protocol's Tool schema.
type ToolDefinition struct {
	// Name is the unique identifier for this tool within its server
	Name string `json:"name"`

	// Description explains what the tool does
	Description string `json:"description"`

	// InputSchema defines the expected input parameters using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema"`
}

// AggregateTool is a ToolDefinition annotated with its owning server.
// Tool names are unique per server, not globally, so the aggregate key is
// always (ServerID, Name).
type AggregateTool struct {
	ToolDefinition

	// ServerID is the server that provides this tool
	ServerID string `json:"serverId"`
}

// ToolCallRequest represents a request to execute an MCP tool.
type ToolCallRequest struct {
	// Name is the tool to execute
	Name string `json:"name"`

	// Arguments contains the input parameters for the tool
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResponse represents the result of an MCP tool execution.
type ToolCallResponse struct {
	// Content contains the tool's output
	Content []ContentItem `json:"content"`

	// IsError indicates if the tool execution failed
	IsError bool `json:"isError,omitempty"`
}

// ContentItem represents a piece of content in an MCP response.
type ContentItem struct {
	// Type is the content type (text, image, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`
}

// ServerCapabilities describes what features an MCP server supports.
type ServerCapabilities struct {
	// Tools indicates if the server provides tools
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability describes tool-related capabilities.
type ToolsCapability struct {
	// ListChanged indicates if the server sends notifications when tools change
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeResult is the payload of a successful initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

// Implementation identifies a protocol party (client or server).
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ListToolsResult is the payload of a tools/list response.
type ListToolsResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// LogMessageParams is the payload of a logging/message notification.
type LogMessageParams struct {
	Level  string          `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ProtocolError represents a structured error returned by a provider.
// It is surfaced to callers verbatim.
type ProtocolError struct {
	// Code is the JSON-RPC error code
	Code int `json:"code"`

	// Message describes the error
	Message string `json:"message"`

	// Data contains additional error details
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (code %d, data: %s)", e.Message, e.Code, string(e.Data))
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Common JSON-RPC error codes.
const (
	// codeMethodNotFound indicates the method doesn't exist
	codeMethodNotFound = -32601

	// codeInvalidParams indicates invalid method parameters
	codeInvalidParams = -32602

	// codeInternalError indicates an internal server error
	codeInternalError = -32603
)

// Protocol method and notification names.
const (
	methodInitialize   = "initialize"
	methodListTools    = "tools/list"
	methodCallTool     = "tools/call"
	methodShutdown     = "shutdown"
	notifInitialized   = "notifications/initialized"
	notifToolsChanged  = "notifications/tools/list_changed"
	notifLogMessage    = "logging/message"
	protocolVersion    = "2024-11-05"
	clientName         = "vcode"
	clientVersionValue = "1.0.0"
)
