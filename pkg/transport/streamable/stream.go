package streamable

import (
	"errors"
	"sync"

	"golang.org/x/exp/jsonrpc2"
)

// defaultReplayLimit is the number of frames retained per session for
// resumption. A reconnecting client whose acknowledgment point has been
// trimmed past can no longer resume and the session drains.
const defaultReplayLimit = 256

var errStreamClosed = errors.New("stream is closed")

// event is one frame on a session's server-to-client stream, tagged with
// its absolute position so clients can acknowledge delivery.
type event struct {
	id   int
	data []byte
}

// stream is the ordered outbound frame queue for one session. Frames are
// assigned strictly increasing ids; a bounded suffix is retained for replay
// after reconnects. At most one HTTP response may claim the stream at a
// time, which is what makes delivery at-most-once.
type stream struct {
	mu      sync.Mutex
	events  []event
	base    int // absolute id of events[0]
	limit   int
	claimed bool
	closed  bool

	// signal is 1-buffered: publish wakes the delivery loop without blocking.
	signal chan struct{}
	done   chan struct{}
}

func newStream(limit int) *stream {
	if limit <= 0 {
		limit = defaultReplayLimit
	}
	return &stream{
		limit:  limit,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// publish encodes the frame and appends it to the queue, trimming the
// replay window to the retention limit.
func (st *stream) publish(msg jsonrpc2.Message) error {
	data, err := jsonrpc2.EncodeMessage(msg)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return errStreamClosed
	}
	st.events = append(st.events, event{id: st.base + len(st.events), data: data})
	if drop := len(st.events) - st.limit; drop > 0 {
		st.events = st.events[drop:]
		st.base += drop
	}
	st.mu.Unlock()

	select {
	case st.signal <- struct{}{}:
	default:
	}
	return nil
}

// eventsFrom returns a copy of the queued frames starting at the absolute
// id next. It returns ok=false when that point has been trimmed out of the
// replay window, meaning resumption is no longer possible.
func (st *stream) eventsFrom(next int) ([]event, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if next < st.base {
		return nil, false
	}
	idx := next - st.base
	if idx >= len(st.events) {
		return nil, true
	}
	out := make([]event, len(st.events)-idx)
	copy(out, st.events[idx:])
	return out, true
}

// claim takes exclusive delivery ownership of the stream. It fails when
// another HTTP response is already attached.
func (st *stream) claim() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.claimed || st.closed {
		return false
	}
	st.claimed = true
	return true
}

// release gives up delivery ownership so a later GET can resume.
func (st *stream) release() {
	st.mu.Lock()
	st.claimed = false
	st.mu.Unlock()
}

// terminate closes the stream; an attached delivery loop wakes up and sends
// its termination event. Safe to call more than once.
func (st *stream) terminate() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	close(st.done)
}

// canResume reports whether a client acknowledged up to next could still
// replay the remainder of the queue.
func (st *stream) canResume(next int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return next >= st.base
}
