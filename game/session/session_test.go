package session

import (
	"testing"
	"time"

	"github.com/lorechronicles/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AcquireRelease(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(1)
	require.NoError(t, err)

	_, err = m.Acquire(1)
	assert.ErrorIs(t, err, ErrBusy)

	// A different session is unaffected.
	release2, err := m.Acquire(2)
	require.NoError(t, err)
	release2()

	release()
	release3, err := m.Acquire(1)
	require.NoError(t, err)
	release3()
}

func TestManager_ForgetIdleSkipsHeldLock(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(1)
	require.NoError(t, err)

	// A sweep must not detach a lock a step is still holding.
	assert.False(t, m.ForgetIdle(1))
	_, err = m.Acquire(1)
	assert.ErrorIs(t, err, ErrBusy)

	release()
	assert.True(t, m.ForgetIdle(1))
	assert.True(t, m.ForgetIdle(1), "unknown entries count as gone")

	release2, err := m.Acquire(1)
	require.NoError(t, err)
	release2()
}

func TestManager_Forget(t *testing.T) {
	m := NewManager()
	release, err := m.Acquire(1)
	require.NoError(t, err)
	release()
	m.Forget(1)

	release, err = m.Acquire(1)
	require.NoError(t, err)
	release()
}

func TestMergeFlags_Overwrites(t *testing.T) {
	sess := &model.GameSession{}

	require.NoError(t, MergeFlags(sess, map[string]interface{}{"met_hermit": true, "gold": 3.0}))
	require.NoError(t, MergeFlags(sess, map[string]interface{}{"gold": 5.0}))

	flags, err := Flags(sess)
	require.NoError(t, err)
	assert.Equal(t, true, flags["met_hermit"])
	assert.Equal(t, 5.0, flags["gold"])
}

func TestMergeFlags_NilNoop(t *testing.T) {
	sess := &model.GameSession{}
	require.NoError(t, MergeFlags(sess, nil))
	assert.Empty(t, sess.StoryFlags)
}

func TestAppendAction_BoundedWindow(t *testing.T) {
	sess := &model.GameSession{}
	for i := 0; i < 15; i++ {
		require.NoError(t, AppendAction(sess, ActionEntry{
			Text:      string(rune('a' + i)),
			Timestamp: time.Now(),
		}))
	}

	history, err := RecentActions(sess)
	require.NoError(t, err)
	require.Len(t, history, 10)
	assert.Equal(t, "f", history[0].Text) // oldest five dropped
	assert.Equal(t, "o", history[9].Text)
}
