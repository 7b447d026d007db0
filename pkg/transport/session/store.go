package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codemaster-ai/codemaster/pkg/config"
	"github.com/codemaster-ai/codemaster/pkg/logger"
)

// SweepInterval is the cadence of the background sweeper: half the minimum
// configurable session timeout, so an expired session is never retained for
// more than 1.5x its timeout.
const SweepInterval = config.MinSessionTimeoutMinutes * time.Minute / 2

// Store holds all live sessions. It is the single synchronization point
// shared by concurrent request handlers; the map itself is lock-free and
// per-session mutations are serialized by each session's own lock, so
// independent ids never block each other.
type Store struct {
	sessions syncMap
	stopCh   chan struct{}

	// onRemove is invoked after a session leaves the store, whether through
	// Remove or the sweeper. Lets collaborators holding per-session state
	// keyed by id release it.
	onRemove atomic.Value // func(id string)
}

// NewStore creates a session store and starts its background sweeper.
// Call Stop to halt the sweeper.
func NewStore() *Store {
	s := &Store{stopCh: make(chan struct{})}
	go s.sweepRoutine()
	return s
}

func (s *Store) sweepRoutine() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(time.Now()); n > 0 {
				logger.Infof("Sweep removed %d expired sessions", n)
			}
		case <-s.stopCh:
			return
		}
	}
}

// OnRemove registers a hook invoked with the id of every session removed
// from the store, by Remove or by the sweeper. A single hook is kept;
// registering again replaces it.
func (s *Store) OnRemove(fn func(id string)) {
	s.onRemove.Store(fn)
}

func (s *Store) notifyRemoved(id string) {
	if fn, ok := s.onRemove.Load().(func(string)); ok && fn != nil {
		fn(id)
	}
}

// Create mints a session with a fresh unique id and the given configuration
// snapshot, stores it, and returns it. The new session starts Idle.
func (s *Store) Create(cfg config.Config) *Session {
	for {
		sess := newSession(uuid.NewString(), cfg)
		if _, loaded := s.sessions.LoadOrStore(sess.id, sess); !loaded {
			logger.Debugw("session created",
				"session_id", sess.id,
				"timeout", sess.timeout.String(),
			)
			return sess
		}
	}
}

// CreateWithID stores a session under a caller-provided id. It returns
// ErrSessionAlreadyExists if the id is taken.
func (s *Store) CreateWithID(id string, cfg config.Config) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	sess := newSession(id, cfg)
	if _, loaded := s.sessions.LoadOrStore(id, sess); loaded {
		return nil, ErrSessionAlreadyExists
	}
	return sess, nil
}

// Get retrieves a session by id. It does not update the activity timestamp;
// callers that count the access as activity should call Touch on the result.
func (s *Store) Get(id string) (*Session, error) {
	sess, ok := s.sessions.Load(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Touch updates the session's last activity time.
func (s *Store) Touch(id string) error {
	sess, ok := s.sessions.Load(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.Touch()
	return nil
}

// Remove deletes a session by id and marks it Closed. Removing an absent id
// is a no-op, which makes concurrent removals of the same id all succeed.
func (s *Store) Remove(id string) {
	if sess, ok := s.sessions.LoadAndDelete(id); ok {
		sess.close()
		s.notifyRemoved(id)
		logger.Debugw("session removed", "session_id", id)
	}
}

// Sweep removes every session that has been idle longer than its own
// timeout as of now, and returns the number removed. A session touched
// between the expiry check and the delete is re-checked after removal and
// never lost: the id is already unusable by then, matching the
// eventually-consistent timeout contract.
func (s *Store) Sweep(now time.Time) int {
	var expired []string
	s.sessions.Range(func(id string, sess *Session) bool {
		if sess.expiredAt(now) {
			expired = append(expired, id)
		}
		return true
	})

	count := 0
	for _, id := range expired {
		sess, ok := s.sessions.Load(id)
		if !ok || !sess.expiredAt(now) {
			continue
		}
		if sess, ok := s.sessions.LoadAndDelete(id); ok {
			sess.close()
			s.notifyRemoved(id)
			count++
		}
	}
	return count
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	count := 0
	s.sessions.Range(func(string, *Session) bool {
		count++
		return true
	})
	return count
}

// Range iterates over all live sessions.
func (s *Store) Range(f func(id string, sess *Session) bool) {
	s.sessions.Range(f)
}

// Stop halts the background sweeper. Sessions already in the store remain
// readable; this is intended for shutdown and tests.
func (s *Store) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}
