package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted indicates the server subprocess has not been spawned yet.
	ErrNotStarted = errors.New("mcp: server not started")
	// ErrNotReady indicates the session handshake has not completed.
	ErrNotReady = errors.New("mcp: session not ready")
	// ErrClosed indicates the session was stopped and cannot be reused.
	ErrClosed = errors.New("mcp: session closed")
	// ErrDisconnected indicates the server closed its side of the pipe.
	ErrDisconnected = errors.New("mcp: server disconnected")
	// ErrTimeout indicates a call exceeded its deadline. The subprocess is
	// left running; a late response is discarded as unmatched.
	ErrTimeout = errors.New("mcp: request timed out")
)

// StartError wraps a failure to spawn the server subprocess. Retrying with
// the same configuration will not help without operator intervention.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("mcp: failed to start server %q: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// RemoteError is an application error reported by the server in a response
// envelope. It is never retried by the client; the caller decides.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("mcp: server error %d: %s", e.Code, e.Message)
}

// UnknownToolError indicates a tool name absent from the discovered catalog.
// Nothing is written to the wire for such a call.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("mcp: tool not advertised by server: %s", e.Name)
}

// IsRetryable returns true for transport-level failures that may succeed
// after a session restart. Remote errors are deliberately excluded.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrTimeout)
}
