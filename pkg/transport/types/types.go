// Package types provides the shared interfaces between the streamable HTTP
// transport and the tool-invocation layer behind it.
package types

import (
	"context"
	"net/http"

	"golang.org/x/exp/jsonrpc2"

	"github.com/codemaster-ai/codemaster/pkg/transport/session"
)

// Middleware is a function that wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// ToolInvoker executes decoded protocol frames against the tool logic.
// Implementations must be safe for concurrent use across sessions.
type ToolInvoker interface {
	// Invoke executes the frame for the session and returns a channel of
	// response frames, closed after the final frame. A request expecting a
	// single result yields exactly one frame; a request expecting partial
	// results yields several. Notifications may return a nil channel.
	//
	// Errors returned here, and panics raised below this boundary, are
	// surfaced to the client as in-band protocol error frames; they never
	// terminate the session.
	Invoke(ctx context.Context, sess *session.Session, req *jsonrpc2.Request) (<-chan jsonrpc2.Message, error)
}

// FramePublisher queues server-initiated frames for in-order delivery on a
// session's server-to-client stream.
type FramePublisher interface {
	Publish(sessionID string, msg jsonrpc2.Message) error
}
