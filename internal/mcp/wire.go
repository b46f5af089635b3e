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
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonrpcVersion tags every envelope on the wire.
const jsonrpcVersion = "2.0"

// Envelope is one protocol message: a request, response, or notification.
// Whichever subset of fields is present determines its kind.
type Envelope struct {
	// JSONRPC is the protocol version tag, always "2.0"
	JSONRPC string `json:"jsonrpc"`

	// ID correlates a request with its response; absent on notifications
	ID *int64 `json:"id,omitempty"`

	// Method names the operation (requests and notifications)
	Method string `json:"method,omitempty"`

	// Params carries the operation arguments
	Params json.RawMessage `json:"params,omitempty"`

	// Result carries a successful response payload
	Result json.RawMessage `json:"result,omitempty"`

	// Error carries a failed response payload
	Error *ProtocolError `json:"error,omitempty"`
}

// IsResponse reports whether the envelope answers an earlier request:
// an id paired with a result or error.
func (e *Envelope) IsResponse() bool {
	return e.ID != nil && (e.Result != nil || e.Error != nil)
}

// IsNotification reports whether the envelope is a server-initiated
// notification: a method with no id.
func (e *Envelope) IsNotification() bool {
	return e.Method != "" && e.ID == nil
}

// newRequest builds a request envelope.
func newRequest(id int64, method string, params any) (*Envelope, error) {
	env := &Envelope{JSONRPC: jsonrpcVersion, ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		env.Params = raw
	}
	return env, nil
}

// newNotification builds a notification envelope (no id, no reply expected).
func newNotification(method string, params any) (*Envelope, error) {
	env := &Envelope{JSONRPC: jsonrpcVersion, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
		}
		env.Params = raw
	}
	return env, nil
}

// EncodeEnvelope serializes an envelope as one self-contained JSON object
// terminated by a single newline. json.Marshal escapes any newline inside
// string values, so the frame never contains an embedded unescaped newline.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeLine parses one line from a provider's output stream.
//
// Providers may interleave startup banners or logging on the same stream,
// so lines that do not begin with '{' are classified as foreign output and
// dropped: DecodeLine returns (nil, nil) for them. A line that looks like
// JSON but fails to parse is a protocol-level parse error.
func DecodeLine(line []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	return &env, nil
}
