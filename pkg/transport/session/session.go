// Package session provides session records and the session store for the
// streamable HTTP transport, with per-session idle timeouts and a
// forward-only stream state machine.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codemaster-ai/codemaster/pkg/config"
)

// StreamState is the delivery state of a session's server-to-client stream.
// Transitions only move forward: Idle → Open → Draining → Closed. Closed is
// terminal and the session id becomes unusable.
type StreamState int

const (
	// StreamStateIdle means no stream has been opened for the session yet.
	StreamStateIdle StreamState = iota
	// StreamStateOpen means a stream is attached, or detached but still
	// resumable from its replay window.
	StreamStateOpen
	// StreamStateDraining means the stream was lost without resume support;
	// the session is waiting to be reclaimed by the sweeper.
	StreamStateDraining
	// StreamStateClosed is terminal.
	StreamStateClosed
)

// String returns the lowercase name of the state.
func (s StreamState) String() string {
	switch s {
	case StreamStateIdle:
		return "idle"
	case StreamStateOpen:
		return "open"
	case StreamStateDraining:
		return "draining"
	case StreamStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the server-side state for one logical client connection.
// The id, creation time, timeout, and configuration snapshot are fixed at
// creation; the activity timestamp and stream state mutate under the
// session's own lock so independent sessions never block each other.
type Session struct {
	id      string
	created time.Time
	cfg     config.Config
	timeout time.Duration

	mu      sync.RWMutex
	updated time.Time
	state   StreamState
	data    any
}

func newSession(id string, cfg config.Config) *Session {
	now := time.Now()
	return &Session{
		id:      id,
		created: now,
		updated: now,
		cfg:     cfg,
		timeout: cfg.Timeout(),
		state:   StreamStateIdle,
	}
}

// Detached creates a throwaway session that is not registered in any store.
// Health probes use one so a probe never reads or writes live session state.
func Detached() *Session {
	return newSession("probe-"+uuid.NewString(), config.Default())
}

// ID returns the opaque session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time of the session.
func (s *Session) CreatedAt() time.Time { return s.created }

// Config returns the immutable configuration snapshot bound at creation.
func (s *Session) Config() config.Config { return s.cfg }

// Timeout returns the session's idle timeout.
func (s *Session) Timeout() time.Duration { return s.timeout }

// UpdatedAt returns the last activity time of the session.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Touch updates the session's last activity time. The timestamp is
// monotonically non-decreasing.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := time.Now(); now.After(s.updated) {
		s.updated = now
	}
}

// State returns the current stream state.
func (s *Session) State() StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Advance moves the stream state forward. Re-asserting the current state is
// a no-op; moving backward or out of Closed returns
// ErrInvalidStateTransition.
func (s *Session) Advance(next StreamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next == s.state {
		return nil
	}
	if s.state == StreamStateClosed || next < s.state {
		return ErrInvalidStateTransition
	}
	s.state = next
	return nil
}

// close forces the terminal state, regardless of the current one.
func (s *Session) close() {
	s.mu.Lock()
	s.state = StreamStateClosed
	s.mu.Unlock()
}

// expiredAt reports whether the session has been idle longer than its
// timeout as of now.
func (s *Session) expiredAt(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.updated) > s.timeout
}

// GetData returns the invoker-owned per-session state.
func (s *Session) GetData() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// SetData attaches invoker-owned per-session state.
func (s *Session) SetData(data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
}
