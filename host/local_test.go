package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesense/backend"
	"framesense/messages"
)

func TestLocalSessionRoundTrip(t *testing.T) {
	l := NewLocal(t.TempDir(), nil, nil)
	defer l.Close()

	user, err := l.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, user, "empty state dir has no session")

	saved := &backend.User{ID: "u1", Email: "a@b.c", Tier: "premium", Token: "tok"}
	require.NoError(t, l.SaveSession(saved))

	loaded, err := l.LoadSession()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "a@b.c", loaded.Email)
	assert.Equal(t, "tok", loaded.Token)

	require.NoError(t, l.ClearSession())
	loaded, err = l.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Clearing an already-clear session is fine.
	assert.NoError(t, l.ClearSession())
}

func TestLocalAppStateRoundTrip(t *testing.T) {
	l := NewLocal(t.TempDir(), nil, nil)
	defer l.Close()

	state, err := l.LoadAppState()
	require.NoError(t, err)
	assert.Empty(t, state.ScreenshotData)

	require.NoError(t, l.SaveAppState(messages.AppState{
		ScreenshotData: "aGVsbG8=",
		LastBounds:     &messages.Bounds{Width: 200, Height: 150},
	}))

	state, err = l.LoadAppState()
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", state.ScreenshotData)
	require.NotNil(t, state.LastBounds)
	assert.Equal(t, 200, state.LastBounds.Width)
}

func TestLocalWindowGeometryTracked(t *testing.T) {
	l := NewLocal(t.TempDir(), nil, nil)
	defer l.Close()

	require.NoError(t, l.ResizeWindow(600, 120))
	require.NoError(t, l.ShowWindow())

	info, err := l.GetWindowInfo()
	require.NoError(t, err)
	assert.Equal(t, 600, info.Width)
	assert.Equal(t, 120, info.Height)
	assert.True(t, info.Visible)
}

func TestLocalPostDeliversEvents(t *testing.T) {
	l := NewLocal(t.TempDir(), nil, nil)

	l.Post(messages.ChatSubmit{Text: "hi"})
	ev := <-l.Events()
	sub, ok := ev.(messages.ChatSubmit)
	require.True(t, ok)
	assert.Equal(t, "hi", sub.Text)

	require.NoError(t, l.Close())
	assert.NoError(t, l.Close(), "close is idempotent")
	l.Post(messages.ChatSubmit{Text: "dropped"}) // must not panic after close

	_, open := <-l.Events()
	assert.False(t, open, "event channel closes with the adapter")
}

func TestLocalOCRWithoutEngine(t *testing.T) {
	l := NewLocal(t.TempDir(), nil, nil)
	defer l.Close()

	_, err := l.ExtractTextOCR(context.Background(), "aGk=")
	assert.Error(t, err, "no engine configured degrades to an error")
}
