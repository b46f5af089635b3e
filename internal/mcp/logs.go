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
	"sync"
	"time"
)

// defaultLogCapacity bounds how many log lines are retained per server.
const defaultLogCapacity = 500

// LogSource identifies where a captured log line came from.
type LogSource string

const (
	// LogSourceStderr marks lines read from the server's stderr.
	LogSourceStderr LogSource = "stderr"
	// LogSourceProtocol marks logging/message notifications from the server.
	LogSourceProtocol LogSource = "protocol"
)

// LogEntry is one captured log line from a tool server.
type LogEntry struct {
	// Timestamp records when the line was captured.
	Timestamp time.Time `json:"timestamp"`
	// Source says whether the line came over stderr or the protocol.
	Source LogSource `json:"source"`
	// Level is the protocol-reported level, empty for stderr lines.
	Level string `json:"level,omitempty"`
	// Message is the line content.
	Message string `json:"message"`
}

// LogCapture retains the most recent log lines from a tool server in a
// fixed-size ring. Older lines are discarded once the capacity is reached.
type LogCapture struct {
	mu       sync.Mutex
	entries  []LogEntry
	start    int
	count    int
	lastLine string
}

// NewLogCapture creates a capture retaining up to capacity lines.
// A non-positive capacity uses the default.
func NewLogCapture(capacity int) *LogCapture {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &LogCapture{entries: make([]LogEntry, capacity)}
}

// Append records a log line, evicting the oldest line when full.
func (c *LogCapture) Append(source LogSource, level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := LogEntry{
		Timestamp: time.Now(),
		Source:    source,
		Level:     level,
		Message:   message,
	}
	idx := (c.start + c.count) % len(c.entries)
	c.entries[idx] = entry
	if c.count < len(c.entries) {
		c.count++
	} else {
		c.start = (c.start + 1) % len(c.entries)
	}
	if source == LogSourceStderr && message != "" {
		c.lastLine = message
	}
}

// Entries returns the retained lines, oldest first.
func (c *LogCapture) Entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]LogEntry, c.count)
	for i := 0; i < c.count; i++ {
		out[i] = c.entries[(c.start+i)%len(c.entries)]
	}
	return out
}

// Tail returns up to n of the most recent lines, oldest first.
func (c *LogCapture) Tail(n int) []LogEntry {
	entries := c.Entries()
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// LastStderrLine returns the most recent non-empty stderr line, used as
// the diagnostic when a server exits with a failing status.
func (c *LogCapture) LastStderrLine() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLine
}

// Clear discards all retained lines.
func (c *LogCapture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = 0
	c.count = 0
	c.lastLine = ""
}
