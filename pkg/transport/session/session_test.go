package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemaster-ai/codemaster/pkg/config"
)

func TestNewSessionDefaults(t *testing.T) {
	t.Parallel()

	sess := newSession("test-id", config.Default())

	assert.Equal(t, "test-id", sess.ID())
	assert.Equal(t, StreamStateIdle, sess.State())
	assert.Equal(t, 30*time.Minute, sess.Timeout())
	assert.False(t, sess.CreatedAt().IsZero())
	assert.Equal(t, sess.CreatedAt(), sess.UpdatedAt())
}

func TestSessionConfigSnapshotIsImmutable(t *testing.T) {
	t.Parallel()

	cfg := config.Config{APIKey: "key", SessionTimeout: 10}
	sess := newSession("test-id", cfg)

	cfg.APIKey = "mutated"
	cfg.SessionTimeout = 99

	assert.Equal(t, "key", sess.Config().APIKey)
	assert.Equal(t, 10, sess.Config().SessionTimeout)
	assert.Equal(t, 10*time.Minute, sess.Timeout())
}

func TestTouchIsMonotonic(t *testing.T) {
	t.Parallel()

	sess := newSession("test-id", config.Default())
	before := sess.UpdatedAt()

	time.Sleep(5 * time.Millisecond)
	sess.Touch()
	first := sess.UpdatedAt()
	assert.True(t, first.After(before))

	sess.Touch()
	assert.False(t, sess.UpdatedAt().Before(first))
}

func TestStreamStateAdvancesForwardOnly(t *testing.T) {
	t.Parallel()

	sess := newSession("test-id", config.Default())

	require.NoError(t, sess.Advance(StreamStateOpen))
	assert.Equal(t, StreamStateOpen, sess.State())

	// Re-asserting the current state is a no-op.
	require.NoError(t, sess.Advance(StreamStateOpen))

	// Backward is rejected.
	assert.ErrorIs(t, sess.Advance(StreamStateIdle), ErrInvalidStateTransition)
	assert.Equal(t, StreamStateOpen, sess.State())

	require.NoError(t, sess.Advance(StreamStateDraining))
	require.NoError(t, sess.Advance(StreamStateClosed))

	// Closed is terminal.
	assert.ErrorIs(t, sess.Advance(StreamStateOpen), ErrInvalidStateTransition)
	assert.Equal(t, StreamStateClosed, sess.State())
}

func TestStreamStateSkipsAreAllowedForward(t *testing.T) {
	t.Parallel()

	sess := newSession("test-id", config.Default())
	require.NoError(t, sess.Advance(StreamStateClosed))
	assert.Equal(t, StreamStateClosed, sess.State())
}

func TestStreamStateNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StreamStateIdle.String())
	assert.Equal(t, "open", StreamStateOpen.String())
	assert.Equal(t, "draining", StreamStateDraining.String())
	assert.Equal(t, "closed", StreamStateClosed.String())
}

func TestSessionData(t *testing.T) {
	t.Parallel()

	sess := newSession("test-id", config.Default())
	assert.Nil(t, sess.GetData())

	sess.SetData(map[string]string{"workflow": "active"})
	data, ok := sess.GetData().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "active", data["workflow"])
}
