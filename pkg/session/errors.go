package session

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers of the session.
var (
	// ErrTransportClosed is returned to every blocked caller once the
	// underlying connection has been closed or has failed.
	ErrTransportClosed = errors.New("dapcore/session: transport closed")

	// ErrShuttingDown is returned to every blocked caller and to new
	// Execute calls once Shutdown has been invoked.
	ErrShuttingDown = errors.New("dapcore/session: session shutting down")

	// ErrProtocolViolation marks incoming bytes the decoder cannot turn
	// into a DAP message (bad framing or an undecodable body). It is
	// fatal to the session. A response whose RequestSeq matches nothing
	// we sent is not a violation: it is logged and dropped.
	ErrProtocolViolation = errors.New("dapcore/session: protocol violation")
)

// AdapterError wraps an unsuccessful response: Success was false. The
// adapter's own Message field, if any, is preserved.
type AdapterError struct {
	Command string
	Message string
}

func (e *AdapterError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dapcore/session: adapter rejected %q", e.Command)
	}
	return fmt.Sprintf("dapcore/session: adapter rejected %q: %s", e.Command, e.Message)
}
