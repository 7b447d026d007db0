// Package streamable implements the Streamable HTTP transport binding: it
// classifies inbound requests on the MCP endpoint by verb and headers,
// drives the per-session stream state machine, and delegates payloads to
// the tool invoker.
package streamable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/jsonrpc2"

	"github.com/codemaster-ai/codemaster/pkg/config"
	"github.com/codemaster-ai/codemaster/pkg/logger"
	transporterrors "github.com/codemaster-ai/codemaster/pkg/transport/errors"
	"github.com/codemaster-ai/codemaster/pkg/transport/session"
	"github.com/codemaster-ai/codemaster/pkg/transport/types"
)

const (
	// StreamableHTTPEndpoint is the endpoint for streamable HTTP
	StreamableHTTPEndpoint = "/mcp"

	// SessionHeader carries the opaque session id on every request after
	// the first.
	SessionHeader = "Mcp-Session-Id"

	// lastEventIDHeader carries the client's resume token: the id of the
	// last stream event it received.
	lastEventIDHeader = "Last-Event-ID"

	// maxBodySize bounds POST bodies; a single protocol frame never comes
	// close to this.
	maxBodySize = 4 << 20

	defaultKeepAliveInterval = 30 * time.Second
)

// Binding multiplexes the HTTP verbs of the MCP endpoint onto the session
// store and the tool invoker. It is safe for concurrent use.
type Binding struct {
	store   *session.Store
	invoker types.ToolInvoker

	// streams holds the outbound frame queue per session id.
	streams sync.Map

	keepAliveInterval time.Duration
	replayLimit       int
}

// NewBinding creates a transport binding over the given store and invoker.
func NewBinding(store *session.Store, invoker types.ToolInvoker) *Binding {
	b := &Binding{
		store:             store,
		invoker:           invoker,
		keepAliveInterval: defaultKeepAliveInterval,
		replayLimit:       defaultReplayLimit,
	}
	// Whenever a session leaves the store, by DELETE or by the sweeper,
	// its replay buffer goes with it.
	store.OnRemove(b.releaseStream)
	return b
}

// releaseStream terminates and drops the outbound frame queue of a removed
// session, ending any stream still attached to it.
func (b *Binding) releaseStream(sessionID string) {
	if st, ok := b.streams.LoadAndDelete(sessionID); ok {
		st.(*stream).terminate()
	}
}

// ServeHTTP dispatches a request on the MCP endpoint by verb.
func (b *Binding) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b.handleGet(w, r)
	case http.MethodPost:
		b.handlePost(w, r)
	case http.MethodDelete:
		b.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "protocol_error", "method not allowed")
	}
}

// Publish queues a server-initiated frame for in-order delivery on the
// session's stream. Frames queued before a GET attaches are delivered once
// it does.
func (b *Binding) Publish(sessionID string, msg jsonrpc2.Message) error {
	if _, err := b.store.Get(sessionID); err != nil {
		return err
	}
	return b.streamFor(sessionID).publish(msg)
}

func (b *Binding) streamFor(sessionID string) *stream {
	if st, ok := b.streams.Load(sessionID); ok {
		return st.(*stream)
	}
	st, _ := b.streams.LoadOrStore(sessionID, newStream(b.replayLimit))
	return st.(*stream)
}

// resolveSession finds the session named by the request header, or creates
// one from the query-parameter configuration when no header is present. On
// failure it writes the error response and returns false.
func (b *Binding) resolveSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if id := r.Header.Get(SessionHeader); id != "" {
		sess, err := b.store.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "session_not_found", fmt.Sprintf("unknown session %q", id))
			return nil, false
		}
		sess.Touch()
		return sess, true
	}

	cfg, err := config.ResolveQuery(r.URL.Query())
	if err != nil {
		var violation *config.SchemaViolationError
		if errors.As(err, &violation) {
			writeError(w, http.StatusBadRequest, "schema_violation", violation.Error())
		} else {
			logger.Errorf("Failed to resolve session configuration: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve configuration")
		}
		return nil, false
	}

	sess := b.store.Create(*cfg)
	sessionsCreated.Inc()
	w.Header().Set(SessionHeader, sess.ID())
	logger.Infow("session established",
		"session_id", sess.ID(),
		"timeout", sess.Timeout().String(),
		"debug", cfg.Debug,
	)
	return sess, true
}

// handleGet opens or resumes the server-to-client frame stream.
func (b *Binding) handleGet(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		writeError(w, http.StatusBadRequest, "protocol_error",
			"Accept must contain 'text/event-stream' for GET requests")
		return
	}

	next := 0
	if eid := r.Header.Get(lastEventIDHeader); eid != "" {
		// A resume token only makes sense for an existing stream; without a
		// session header there is nothing to resume.
		if r.Header.Get(SessionHeader) == "" {
			writeError(w, http.StatusBadRequest, "protocol_error",
				fmt.Sprintf("%s requires a %s header", lastEventIDHeader, SessionHeader))
			return
		}
		last, err := strconv.Atoi(eid)
		if err != nil || last < 0 {
			writeError(w, http.StatusBadRequest, "protocol_error",
				fmt.Sprintf("malformed %s %q", lastEventIDHeader, eid))
			return
		}
		next = last + 1
	}

	sess, ok := b.resolveSession(w, r)
	if !ok {
		return
	}
	if err := sess.Advance(session.StreamStateOpen); err != nil {
		if sess.State() == session.StreamStateDraining {
			writeError(w, http.StatusGone, "stream_gone", "session stream is no longer resumable")
			return
		}
		writeError(w, http.StatusNotFound, "session_not_found", "session is closed")
		return
	}

	st := b.streamFor(sess.ID())
	if !st.claim() {
		writeError(w, http.StatusConflict, "protocol_error", "session already has an open stream")
		return
	}
	defer st.release()

	// Reject resume tokens that point past the replay window before
	// committing to the event-stream response.
	if _, ok := st.eventsFrom(next); !ok {
		if err := sess.Advance(session.StreamStateDraining); err == nil {
			logger.Warnw("resume point lost, session draining", "session_id", sess.ID())
		}
		writeError(w, http.StatusGone, "stream_gone", "acknowledged frame is outside the replay window")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}

	w.Header().Set(SessionHeader, sess.ID())
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	b.deliver(w, r, flusher, sess, st, next)
}

// deliver writes queued frames in order until the stream terminates or the
// client goes away. The store is never locked across a client write; the
// activity timestamp is updated around each blocking write, not during it.
func (b *Binding) deliver(
	w http.ResponseWriter,
	r *http.Request,
	flusher http.Flusher,
	sess *session.Session,
	st *stream,
	next int,
) {
	keepAlive := time.NewTicker(b.keepAliveInterval)
	defer keepAlive.Stop()

	for {
		evs, ok := st.eventsFrom(next)
		if !ok {
			// The replay window moved past a slow client mid-stream.
			if err := sess.Advance(session.StreamStateDraining); err == nil {
				logger.Warnw("client fell behind replay window, session draining",
					"session_id", sess.ID())
			}
			return
		}

		for _, ev := range evs {
			sess.Touch()
			if _, err := fmt.Fprintf(w, "id: %d\nevent: message\ndata: %s\n\n", ev.id, ev.data); err != nil {
				b.onStreamDisconnect(sess, st, next)
				return
			}
			flusher.Flush()
			next = ev.id + 1
			sess.Touch()
			framesDelivered.Inc()
		}

		select {
		case <-st.signal:
		case <-st.done:
			// Explicit termination: tell the client before hanging up.
			fmt.Fprint(w, "event: close\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/session/terminated\"}\n\n")
			flusher.Flush()
			return
		case <-r.Context().Done():
			b.onStreamDisconnect(sess, st, next)
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				b.onStreamDisconnect(sess, st, next)
				return
			}
			flusher.Flush()
		}
	}
}

// onStreamDisconnect handles a transport-level loss of the GET stream.
// While the replay window still covers the client's position the session
// stays Open, awaiting a resume token; otherwise it drains until swept.
func (b *Binding) onStreamDisconnect(sess *session.Session, st *stream, next int) {
	if st.canResume(next) {
		logger.Debugw("stream disconnected, session resumable",
			"session_id", sess.ID(), "next_event", next)
		return
	}
	if err := sess.Advance(session.StreamStateDraining); err == nil {
		logger.Infow("stream disconnected without resume support, session draining",
			"session_id", sess.ID())
	}
}

// handlePost accepts exactly one protocol frame, forwards it to the tool
// invoker, and answers inline or as a finite stream of partial results.
func (b *Binding) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "protocol_error", "failed to read request body")
		return
	}

	// Malformed bodies are rejected before any session lookup so they can
	// never touch session state.
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		writeError(w, http.StatusBadRequest, "protocol_error", "POST requires a non-empty body")
		return
	}
	if trimmed[0] == '[' {
		writeError(w, http.StatusBadRequest, "protocol_error", "batch requests are not supported")
		return
	}
	if !isValidJSONRPC2Raw(trimmed) {
		writeError(w, http.StatusBadRequest, "protocol_error", "invalid JSON-RPC 2.0 frame")
		return
	}
	msg, err := jsonrpc2.DecodeMessage(trimmed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "protocol_error", "invalid JSON-RPC 2.0 frame")
		return
	}

	req, ok := msg.(*jsonrpc2.Request)
	if !ok {
		// A client-to-server response frame has no reply; accept and drop.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	sess, ok := b.resolveSession(w, r)
	if !ok {
		return
	}

	if isNotification(req) {
		frames, err := b.safeInvoke(r.Context(), sess, req)
		if err != nil {
			logger.Warnw("notification handling failed", "method", req.Method, "error", err)
		}
		drain(frames)
		sess.Touch()
		w.WriteHeader(http.StatusAccepted)
		return
	}

	frames, err := b.safeInvoke(r.Context(), sess, req)
	if err != nil {
		upstreamErrors.Inc()
		logger.Warnw("tool invocation failed",
			"session_id", sess.ID(), "method", req.Method, "error", err)
		b.writeInlineFrame(w, errorFrame(req.ID.Raw(), jsonrpcInternalError, err.Error()))
		sess.Touch()
		return
	}

	first, ok := <-frames
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		sess.Touch()
		return
	}
	second, more := <-frames
	if !more {
		data, err := jsonrpc2.EncodeMessage(first)
		if err != nil {
			logger.Errorf("Failed to encode response frame: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to encode response")
			return
		}
		b.writeInlineFrame(w, data)
		sess.Touch()
		return
	}

	b.streamPostResponse(w, r, sess, first, second, frames)
}

// streamPostResponse answers a POST with a finite event-stream of partial
// result frames.
func (b *Binding) streamPostResponse(
	w http.ResponseWriter,
	r *http.Request,
	sess *session.Session,
	first, second jsonrpc2.Message,
	rest <-chan jsonrpc2.Message,
) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming not supported")
		return
	}

	w.Header().Set(SessionHeader, sess.ID())
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeFrame := func(msg jsonrpc2.Message) bool {
		data, err := jsonrpc2.EncodeMessage(msg)
		if err != nil {
			logger.Errorf("Failed to encode partial result frame: %v", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		framesDelivered.Inc()
		return true
	}

	for _, msg := range []jsonrpc2.Message{first, second} {
		if !writeFrame(msg) {
			return
		}
	}
	for {
		select {
		case msg, ok := <-rest:
			if !ok {
				sess.Touch()
				return
			}
			if !writeFrame(msg) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleDelete terminates the named session. Removal is idempotent, so
// concurrent DELETE calls on the same id all succeed.
func (b *Binding) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		writeError(w, http.StatusNotFound, "session_not_found", "missing Mcp-Session-Id header")
		return
	}

	// Remove triggers releaseStream through the store's removal hook, which
	// terminates any attached stream and frees the replay buffer.
	b.store.Remove(id)
	sessionsTerminated.Inc()
	logger.Infow("session terminated", "session_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// safeInvoke calls the tool invoker, converting returned errors and panics
// into upstream errors so no failure below this boundary can escape
// uncontrolled.
func (b *Binding) safeInvoke(
	ctx context.Context,
	sess *session.Session,
	req *jsonrpc2.Request,
) (frames <-chan jsonrpc2.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			frames = nil
			err = transporterrors.NewUpstreamError(req.Method, fmt.Errorf("panic: %v", rec))
		}
	}()

	frames, err = b.invoker.Invoke(ctx, sess, req)
	if err != nil {
		return nil, transporterrors.NewUpstreamError(req.Method, err)
	}
	if frames == nil {
		empty := make(chan jsonrpc2.Message)
		close(empty)
		frames = empty
	}
	return frames, nil
}

func (b *Binding) writeInlineFrame(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		logger.Warnf("Failed to write response frame: %v", err)
	}
}

func drain(frames <-chan jsonrpc2.Message) {
	if frames == nil {
		return
	}
	for range frames {
	}
}

// isValidJSONRPC2Raw checks if the raw JSON contains 'jsonrpc': '2.0'.
func isValidJSONRPC2Raw(data []byte) bool {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return false
	}
	ver, ok := raw["jsonrpc"].(string)
	return ok && ver == "2.0"
}

func isNotification(req *jsonrpc2.Request) bool {
	return req.ID.Raw() == nil
}

// acceptsEventStream reports whether any Accept header value admits an
// event-stream response.
func acceptsEventStream(r *http.Request) bool {
	accept := strings.Split(strings.Join(r.Header.Values("Accept"), ","), ",")
	for _, c := range accept {
		c = strings.TrimSpace(c)
		if c == "*/*" || c == "text/event-stream" || strings.HasPrefix(c, "text/event-stream;") {
			return true
		}
	}
	return false
}

const jsonrpcInternalError = -32603

// errorFrame builds an encoded in-band JSON-RPC error frame.
func errorFrame(id any, code int, message string) []byte {
	data, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}

// writeError reports a request-local failure with a structured body.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"kind":    kind,
			"message": message,
		},
	}); err != nil {
		logger.Warnf("Failed to write error response: %v", err)
	}
}
