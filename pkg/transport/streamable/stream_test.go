package streamable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/jsonrpc2"
)

func mustNotification(t *testing.T, method string) jsonrpc2.Message {
	t.Helper()
	msg, err := jsonrpc2.NewNotification(method, nil)
	require.NoError(t, err)
	return msg
}

func TestStreamPublishAssignsSequentialIDs(t *testing.T) {
	t.Parallel()

	st := newStream(0)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.publish(mustNotification(t, fmt.Sprintf("notifications/test/%d", i))))
	}

	evs, ok := st.eventsFrom(0)
	require.True(t, ok)
	require.Len(t, evs, 3)
	for i, ev := range evs {
		assert.Equal(t, i, ev.id)
		assert.Contains(t, string(ev.data), fmt.Sprintf("notifications/test/%d", i))
	}
}

func TestStreamEventsFromOffset(t *testing.T) {
	t.Parallel()

	st := newStream(0)
	for i := 0; i < 4; i++ {
		require.NoError(t, st.publish(mustNotification(t, "notifications/test")))
	}

	evs, ok := st.eventsFrom(2)
	require.True(t, ok)
	require.Len(t, evs, 2)
	assert.Equal(t, 2, evs[0].id)
	assert.Equal(t, 3, evs[1].id)

	// Past the end is an empty-but-resumable position.
	evs, ok = st.eventsFrom(4)
	require.True(t, ok)
	assert.Empty(t, evs)
}

func TestStreamTrimsReplayWindow(t *testing.T) {
	t.Parallel()

	st := newStream(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.publish(mustNotification(t, "notifications/test")))
	}

	// Events 0 and 1 fell out of the window.
	_, ok := st.eventsFrom(0)
	assert.False(t, ok)
	_, ok = st.eventsFrom(1)
	assert.False(t, ok)
	assert.False(t, st.canResume(1))

	evs, ok := st.eventsFrom(2)
	require.True(t, ok)
	require.Len(t, evs, 3)
	assert.Equal(t, 2, evs[0].id)
	assert.Equal(t, 4, evs[2].id)
	assert.True(t, st.canResume(2))
}

func TestStreamClaimIsExclusive(t *testing.T) {
	t.Parallel()

	st := newStream(0)
	require.True(t, st.claim())
	assert.False(t, st.claim())

	st.release()
	assert.True(t, st.claim())
}

func TestStreamTerminate(t *testing.T) {
	t.Parallel()

	st := newStream(0)
	st.terminate()
	st.terminate() // safe to repeat

	select {
	case <-st.done:
	default:
		t.Fatal("done channel not closed after terminate")
	}

	err := st.publish(mustNotification(t, "notifications/test"))
	assert.ErrorIs(t, err, errStreamClosed)
	assert.False(t, st.claim())
}

func TestStreamPublishSignalsWithoutBlocking(t *testing.T) {
	t.Parallel()

	st := newStream(0)
	// Nothing is consuming the signal channel; repeated publishes must not
	// block on it.
	for i := 0; i < 10; i++ {
		require.NoError(t, st.publish(mustNotification(t, "notifications/test")))
	}

	select {
	case <-st.signal:
	default:
		t.Fatal("expected a pending wakeup signal")
	}
}
