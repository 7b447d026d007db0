package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemaster-ai/codemaster/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore()
	t.Cleanup(store.Stop)
	return store
}

func TestCreateMintsUniqueIDs(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sess := store.Create(config.Default())
		require.NotEmpty(t, sess.ID())
		require.False(t, seen[sess.ID()], "duplicate session id %s", sess.ID())
		seen[sess.ID()] = true
	}
	assert.Equal(t, 100, store.Count())
}

func TestGetAndTouch(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sess := store.Create(config.Default())

	got, err := store.Get(sess.ID())
	require.NoError(t, err)
	assert.Same(t, sess, got)

	before := sess.UpdatedAt()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Touch(sess.ID()))
	assert.True(t, sess.UpdatedAt().After(before))
}

func TestGetUnknownID(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.Get("no-such-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Touch("no-such-session"), ErrSessionNotFound)
}

func TestCreateWithID(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	sess, err := store.CreateWithID("fixed-id", config.Default())
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", sess.ID())

	_, err = store.CreateWithID("fixed-id", config.Default())
	assert.ErrorIs(t, err, ErrSessionAlreadyExists)
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sess := store.Create(config.Default())

	store.Remove(sess.ID())
	assert.Equal(t, StreamStateClosed, sess.State())

	_, err := store.Get(sess.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Removing again is a no-op, not an error.
	store.Remove(sess.ID())
	store.Remove("never-existed")
}

func TestConcurrentRemovesAllSucceed(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sess := store.Create(config.Default())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Remove(sess.ID())
		}()
	}
	wg.Wait()

	_, err := store.Get(sess.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, StreamStateClosed, sess.State())
}

func TestSweepRemovesOnlyExpiredSessions(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	short := config.Config{SessionTimeout: 5}
	long := config.Config{SessionTimeout: 120}
	expired := store.Create(short)
	alive := store.Create(long)

	// Six minutes of inactivity: past the short timeout, within the long one.
	now := time.Now().Add(6 * time.Minute)
	removed := store.Sweep(now)

	assert.Equal(t, 1, removed)
	_, err := store.Get(expired.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(alive.ID())
	assert.NoError(t, err)
}

func TestExpiredButUnsweptSessionRemainsUsable(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sess := store.Create(config.Config{SessionTimeout: 5})

	// Past its timeout but no sweep has run: still present and touchable.
	assert.True(t, sess.expiredAt(time.Now().Add(6*time.Minute)))

	got, err := store.Get(sess.ID())
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.NoError(t, store.Touch(sess.ID()))
}

func TestSweepDoesNotRemoveRecentlyTouchedSessions(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	sess := store.Create(config.Config{SessionTimeout: 5})

	// Touch resets the idle clock; sweeping at the original deadline keeps it.
	sess.Touch()
	removed := store.Sweep(sess.UpdatedAt().Add(4 * time.Minute))

	assert.Equal(t, 0, removed)
	_, err := store.Get(sess.ID())
	assert.NoError(t, err)
}

func TestSweepCoexistsWithConcurrentCreateAndRemove(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				sess := store.Create(config.Default())
				store.Remove(sess.ID())
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			store.Sweep(time.Now().Add(time.Hour))
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestRemoveAndSweepNotifyRemovalHook(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	var mu sync.Mutex
	var removed []string
	store.OnRemove(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		removed = append(removed, id)
	})

	direct := store.Create(config.Default())
	store.Remove(direct.ID())

	swept := store.Create(config.Config{SessionTimeout: 5})
	require.Equal(t, 1, store.Sweep(time.Now().Add(6*time.Minute)))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{direct.ID(), swept.ID()}, removed)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Stop()
	store.Stop()
}
