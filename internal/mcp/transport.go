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
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	vlog "github.com/vibe-stack/vcode-sub002/internal/log"
)

// maxLineSize bounds a single wire line. Some servers return large tool
// results in one response.
const maxLineSize = 1024 * 1024

// closeGracePeriod is how long Close waits for the process to exit after
// stdin is closed before killing it.
const closeGracePeriod = 3 * time.Second

// transport moves wire lines to and from a tool server process. The
// client owns exactly one transport for its lifetime.
type transport interface {
	// Start launches the underlying process and begins reading.
	Start() error
	// Send writes one encoded envelope. Safe for concurrent use.
	Send(data []byte) error
	// Lines yields raw stdout lines. Closed when the stream ends.
	Lines() <-chan []byte
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitStatus reports the exit code and error. Valid after Done.
	ExitStatus() (int, error)
	// Close shuts the process down, killing it if it lingers.
	Close() error
}

// stdioTransport runs a tool server as a child process and speaks
// newline-delimited JSON-RPC over its stdin/stdout. Stderr is captured
// into the server's log ring.
type stdioTransport struct {
	id     string
	cfg    *ServerConfig
	logs   *LogCapture
	logger *slog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	lines chan []byte
	done  chan struct{}

	exitMu   sync.Mutex
	exitCode int
	exitErr  error

	closeOnce sync.Once
	closeErr  error
}

// newStdioTransport builds a transport for a stdio server config. The
// process is not started until Start.
func newStdioTransport(id string, cfg *ServerConfig, logs *LogCapture, logger *slog.Logger) *stdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &stdioTransport{
		id:     id,
		cfg:    cfg,
		logs:   logs,
		logger: logger.With(vlog.ServerKey, id),
		lines:  make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

// Start launches the process and spawns the reader goroutines.
func (t *stdioTransport) Start() error {
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = append(os.Environ(), t.cfg.ExpandedEnv()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", t.cfg.Command, err)
	}
	t.cmd = cmd
	t.stdin = stdin

	var readers sync.WaitGroup
	readers.Add(2)
	go t.readStdout(stdout, &readers)
	go t.readStderr(stderr, &readers)
	go t.reap(&readers)

	t.logger.Debug("tool server process started",
		"command", t.cfg.Command,
		"pid", cmd.Process.Pid)
	return nil
}

func (t *stdioTransport) readStdout(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(t.lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		// The scanner reuses its buffer, so hand out a copy.
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		t.lines <- line
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("stdout stream ended", vlog.Error(err))
	}
}

func (t *stdioTransport) readStderr(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if t.logs != nil {
			t.logs.Append(LogSourceStderr, "", line)
		}
		t.logger.Debug("server stderr", "line", line)
	}
}

// reap waits for both readers to drain their pipes, then collects the
// process exit status.
func (t *stdioTransport) reap(readers *sync.WaitGroup) {
	readers.Wait()
	err := t.cmd.Wait()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	t.exitMu.Lock()
	t.exitCode = code
	t.exitErr = err
	t.exitMu.Unlock()
	close(t.done)

	t.logger.Debug("tool server process exited", "code", code)
}

// Send writes one encoded envelope to the server's stdin.
func (t *stdioTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.stdin == nil {
		return fmt.Errorf("transport not started")
	}
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("writing to server stdin: %w", err)
	}
	return nil
}

// Lines yields raw stdout lines, closed when the stream ends.
func (t *stdioTransport) Lines() <-chan []byte {
	return t.lines
}

// Done is closed once the process has exited.
func (t *stdioTransport) Done() <-chan struct{} {
	return t.done
}

// ExitStatus reports the process exit code and error. Only meaningful
// after Done is closed.
func (t *stdioTransport) ExitStatus() (int, error) {
	t.exitMu.Lock()
	defer t.exitMu.Unlock()
	return t.exitCode, t.exitErr
}

// Close shuts the process down. Stdin is closed first so well-behaved
// servers can exit cleanly; lingerers are killed after a grace period.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.cmd == nil {
			return
		}

		t.writeMu.Lock()
		if t.stdin != nil {
			t.closeErr = t.stdin.Close()
		}
		t.writeMu.Unlock()

		select {
		case <-t.done:
		case <-time.After(closeGracePeriod):
			t.logger.Debug("tool server did not exit, killing")
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			<-t.done
		}
	})
	return t.closeErr
}
