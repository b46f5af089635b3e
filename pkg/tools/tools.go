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

// Package tools defines the tool-calling surface exposed to assistant
// integrations. A Tool is a named, typed operation an assistant may
// invoke; its parameters are described by Descriptors rather than raw
// JSON Schema so integrations do not need a schema implementation.
package tools

import (
	"context"
	"encoding/json"
)

// Kind classifies a parameter's type.
type Kind string

const (
	// KindString is a text parameter.
	KindString Kind = "string"
	// KindNumber is a floating-point parameter.
	KindNumber Kind = "number"
	// KindInteger is an integral parameter.
	KindInteger Kind = "integer"
	// KindBoolean is a true/false parameter.
	KindBoolean Kind = "boolean"
	// KindArray is a list parameter with homogeneous items.
	KindArray Kind = "array"
	// KindObject is a nested structure parameter.
	KindObject Kind = "object"
	// KindUnknown marks a parameter whose schema could not be
	// classified. Callers should pass such values through untouched.
	KindUnknown Kind = "unknown"
)

// Descriptor describes one parameter of a tool.
type Descriptor struct {
	// Kind is the parameter's type class.
	Kind Kind `json:"kind"`
	// Description explains the parameter to the caller.
	Description string `json:"description,omitempty"`
	// Required marks parameters the caller must supply.
	Required bool `json:"required,omitempty"`
	// Enum lists the allowed values for string parameters.
	Enum []string `json:"enum,omitempty"`
	// Items describes the element type of array parameters.
	Items *Descriptor `json:"items,omitempty"`
	// Properties describes the fields of object parameters.
	Properties map[string]Descriptor `json:"properties,omitempty"`
}

// Result is the outcome of a tool invocation.
type Result struct {
	// Text is the tool's textual output.
	Text string `json:"text"`
	// IsError marks output that describes a tool-level failure.
	IsError bool `json:"isError,omitempty"`
}

// Tool is a named operation an assistant may invoke.
type Tool interface {
	// Name returns the tool's unique name.
	Name() string
	// Description explains what the tool does.
	Description() string
	// Parameters describes the tool's input by parameter name.
	Parameters() map[string]Descriptor
	// Execute runs the tool with JSON-encoded arguments.
	Execute(ctx context.Context, arguments json.RawMessage) (*Result, error)
}
