// Package errors provides the error taxonomy for the transport layer.
package errors

import (
	"errors"
	"fmt"
)

// Common transport errors
var (
	// ErrProtocol marks a malformed frame or verb misuse. Local to the
	// request; session state is never touched.
	ErrProtocol = errors.New("protocol error")

	// ErrUpstream marks a tool-invocation failure. Delivered as an in-band
	// error frame; the session stays open for retry.
	ErrUpstream = errors.New("upstream error")

	// ErrTransport marks a mid-stream read/write failure. Terminates only
	// the affected stream, never the session store or the process.
	ErrTransport = errors.New("transport error")
)

// ProtocolError describes a malformed frame or verb misuse.
type ProtocolError struct {
	// Reason says what was wrong with the request.
	Reason string
}

// Error returns the error message.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// Unwrap makes the error match ErrProtocol.
func (*ProtocolError) Unwrap() error {
	return ErrProtocol
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

// UpstreamError wraps a failure raised by the tool invoker.
type UpstreamError struct {
	// Method is the protocol method that was being invoked.
	Method string
	// Err is the underlying error.
	Err error
}

// Error returns the error message.
func (e *UpstreamError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("upstream error invoking %q: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("upstream error: %v", e.Err)
}

// Unwrap returns the underlying error chain, including ErrUpstream.
func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// NewUpstreamError creates a new upstream error.
func NewUpstreamError(method string, err error) *UpstreamError {
	return &UpstreamError{Method: method, Err: err}
}
