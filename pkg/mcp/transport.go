package mcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// stopGrace is how long Stop waits for the subprocess to exit on its own
// before killing it.
const stopGrace = 5 * time.Second

// Transport owns one MCP server subprocess and moves newline-delimited
// messages over its stdin/stdout. Stderr is drained into the logger so
// diagnostic output never blocks the server or pollutes the protocol stream.
type Transport struct {
	logger *slog.Logger

	// writeMu serializes writers so concurrent frames never interleave.
	// It is never held together with mu: Stop must be able to close stdin
	// while a write is blocked on a full pipe.
	writeMu sync.Mutex

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	started bool
	stopped bool
}

// NewTransport creates a transport that has not spawned anything yet.
func NewTransport(logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{logger: logger}
}

// Start spawns the server subprocess with piped stdio. Calling Start on a
// running transport is a no-op success.
func (t *Transport) Start(command string, args []string, env map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return ErrClosed
	}
	if t.started {
		return nil
	}
	if command == "" {
		return &StartError{Command: command, Err: errors.New("command is required")}
	}

	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &StartError{Command: command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &StartError{Command: command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &StartError{Command: command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &StartError{Command: command, Err: err}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.started = true

	go t.drainStderr(stderr)

	return nil
}

// WriteLine writes one newline-terminated message. A closed pipe surfaces
// as ErrDisconnected. The write happens outside the state lock: a subprocess
// that stops draining stdin blocks the writer on the full pipe, and Stop
// must still be able to acquire the lock and close stdin to unblock it.
func (t *Transport) WriteLine(data []byte) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	stdin := t.stdin
	t.mu.Unlock()

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := stdin.Write(buf); err != nil {
		return fmt.Errorf("%w: write: %v", ErrDisconnected, err)
	}
	return nil
}

// Reader exposes the server's stdout stream. The caller owns line framing;
// a read past end of stream means the process exited.
func (t *Transport) Reader() io.Reader {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stdout == nil {
		return eofReader{}
	}
	return t.stdout
}

// Running reports whether the subprocess was started and not yet stopped.
func (t *Transport) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.stopped
}

// Stop terminates the subprocess, waiting briefly for a clean exit before
// killing it. Best-effort and safe to call any number of times.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	cmd := t.cmd
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.stdout != nil {
		t.stdout.Close()
	}
	if t.stderr != nil {
		t.stderr.Close()
	}
	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(stopGrace):
		t.logger.Warn("mcp server did not exit, killing", "pid", cmd.Process.Pid)
		cmd.Process.Kill()
		<-done
	}
}

func (t *Transport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		t.logger.Debug("mcp stderr", "line", line)
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
