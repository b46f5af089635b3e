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
	"errors"
	"fmt"
)

// ErrorCode represents a category of tool-server error.
type ErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeAlreadyExists indicates a server already exists.
	ErrorCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// ErrorCodeNotRunning indicates a server is not running.
	ErrorCodeNotRunning ErrorCode = "NOT_RUNNING"
	// ErrorCodeSpawn indicates the provider process could not be created.
	ErrorCodeSpawn ErrorCode = "SPAWN_FAILED"
	// ErrorCodeHandshakeTimeout indicates the initialize exchange timed out.
	ErrorCodeHandshakeTimeout ErrorCode = "HANDSHAKE_TIMEOUT"
	// ErrorCodeHandshake indicates the initialize exchange failed at the protocol level.
	ErrorCodeHandshake ErrorCode = "HANDSHAKE_FAILED"
	// ErrorCodeRequestTimeout indicates a single request received no response in time.
	ErrorCodeRequestTimeout ErrorCode = "REQUEST_TIMEOUT"
	// ErrorCodeServerStopped indicates the server was stopped while requests were in flight.
	ErrorCodeServerStopped ErrorCode = "SERVER_STOPPED"
	// ErrorCodeToolNotFound indicates a call referenced an unregistered tool.
	ErrorCodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"
	// ErrorCodeUnreachable indicates a remote server failed its reachability probe.
	ErrorCodeUnreachable ErrorCode = "UNREACHABLE"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation ErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig ErrorCode = "CONFIG"
)

// ServerError is an error type that includes suggestions for resolution.
type ServerError struct {
	// Code is the error category.
	Code ErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Cause
}

// NewServerError creates a new ServerError.
func NewServerError(code ErrorCode, message string) *ServerError {
	return &ServerError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *ServerError) WithDetail(detail string) *ServerError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *ServerError) WithSuggestions(suggestions ...string) *ServerError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *ServerError) WithCause(cause error) *ServerError {
	e.Cause = cause
	return e
}

// ErrServerNotFound creates an error for when a server is not found.
func ErrServerNotFound(id string) *ServerError {
	return NewServerError(ErrorCodeNotFound, fmt.Sprintf("tool server %q not found", id)).
		WithSuggestions(
			"Check the server id: vcode-tools servers list",
			fmt.Sprintf("Add the server: vcode-tools servers add %s --command <cmd>", id),
		)
}

// ErrServerAlreadyExists creates an error for when a server already exists.
func ErrServerAlreadyExists(id string) *ServerError {
	return NewServerError(ErrorCodeAlreadyExists, fmt.Sprintf("tool server %q already exists", id)).
		WithSuggestions(
			"Use a different id for the new server",
			fmt.Sprintf("Remove the existing server: vcode-tools servers remove %s", id),
		)
}

// ErrServerNotRunning creates an error for an operation against a non-running server.
func ErrServerNotRunning(id string) *ServerError {
	return NewServerError(ErrorCodeNotRunning, fmt.Sprintf("tool server %q is not running", id)).
		WithSuggestions(
			"Run the configured servers: vcode-tools run",
			fmt.Sprintf("Verify the server starts: vcode-tools servers test %s", id),
		)
}

// ErrSpawnFailed creates an error for when the provider process could not be created.
func ErrSpawnFailed(id string, cause error) *ServerError {
	return NewServerError(ErrorCodeSpawn, fmt.Sprintf("failed to spawn tool server %q", id)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			"Verify the command is installed and in your PATH",
			fmt.Sprintf("Check server logs: vcode-tools servers logs %s", id),
		)
}

// ErrHandshakeTimeout creates an error for an initialize exchange that timed out.
func ErrHandshakeTimeout(id string, seconds int) *ServerError {
	return NewServerError(ErrorCodeHandshakeTimeout,
		fmt.Sprintf("tool server %q did not complete its handshake", id)).
		WithDetail(fmt.Sprintf("no initialize response within %ds", seconds)).
		WithSuggestions(
			fmt.Sprintf("Check server logs: vcode-tools servers logs %s", id),
			"Verify the server implements the protocol handshake",
			"Try increasing the configured timeout",
		)
}

// ErrHandshakeFailed creates an error for an initialize exchange the provider rejected.
func ErrHandshakeFailed(id string, cause error) *ServerError {
	return NewServerError(ErrorCodeHandshake,
		fmt.Sprintf("tool server %q rejected the handshake", id)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrRequestTimeout creates an error for a request that received no response in time.
func ErrRequestTimeout(method string, seconds int) *ServerError {
	return NewServerError(ErrorCodeRequestTimeout,
		fmt.Sprintf("request %q timed out after %ds", method, seconds)).
		WithSuggestions(
			"Check if the server is responding",
			"Try increasing the configured timeout",
		)
}

// ErrServerStopped creates the failure used to reject requests still
// pending when their server stops.
func ErrServerStopped(id string) *ServerError {
	return NewServerError(ErrorCodeServerStopped, fmt.Sprintf("tool server %q stopped", id)).
		WithDetail("the server was stopped before a response arrived")
}

// ErrToolNotFound creates an error for a call referencing an unregistered tool.
func ErrToolNotFound(id, tool string) *ServerError {
	return NewServerError(ErrorCodeToolNotFound,
		fmt.Sprintf("tool %q is not registered for server %q", tool, id)).
		WithSuggestions(
			fmt.Sprintf("List the server's tools: vcode-tools tools list %s", id),
		)
}

// ErrUnreachable creates an error for a remote server that failed its probe.
func ErrUnreachable(id, url string, cause error) *ServerError {
	return NewServerError(ErrorCodeUnreachable,
		fmt.Sprintf("tool server %q is unreachable", id)).
		WithDetail(fmt.Sprintf("probe of %s failed: %v", url, cause)).
		WithCause(cause).
		WithSuggestions(
			"Verify the URL and that the remote server is up",
		)
}

// ErrInvalidServerID creates an error for an invalid server id.
func ErrInvalidServerID(id string) *ServerError {
	return NewServerError(ErrorCodeValidation, fmt.Sprintf("invalid server id %q", id)).
		WithDetail("ids must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters")
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(detail string) *ServerError {
	return NewServerError(ErrorCodeConfig, "invalid tool server configuration").
		WithDetail(detail)
}

// IsCode reports whether err is a ServerError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
