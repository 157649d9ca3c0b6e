package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesense/backend"
	"framesense/host"
	"framesense/messages"
	"framesense/ocr"
	"framesense/ui"
	"framesense/windowstate"
)

// fakeAnalyzer replays scripted chunks and records requests.
type fakeAnalyzer struct {
	mu       sync.Mutex
	requests []backend.AnalyzeRequest
	chunks   []string
	convID   string
	err      error
	block    chan struct{} // when set, Analyze waits before returning
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req backend.AnalyzeRequest, onChunk func(string)) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	chunks, convID, err, block := f.chunks, f.convID, f.err, f.block
	f.mu.Unlock()

	for _, c := range chunks {
		onChunk(c)
	}
	if block != nil {
		<-block
	}
	return convID, err
}

func (f *fakeAnalyzer) recorded() []backend.AnalyzeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.AnalyzeRequest(nil), f.requests...)
}

type fakeWindowHost struct {
	host.Commander
	mu      sync.Mutex
	resizes int
}

func (f *fakeWindowHost) ResizeWindow(w, h int) error {
	f.mu.Lock()
	f.resizes++
	f.mu.Unlock()
	return nil
}
func (f *fakeWindowHost) ShowWindow() error { return nil }

func (f *fakeWindowHost) resizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resizes
}

// harness wires a Pipeline whose posted events are pumped back in on
// the test goroutine, standing in for the event loop.
type harness struct {
	pipe   *Pipeline
	window *fakeWindowHost
	events chan messages.Event
}

func newHarness(an Analyzer) *harness {
	h := &harness{
		window: &fakeWindowHost{},
		events: make(chan messages.Event, 64),
	}
	sync := windowstate.New(h.window, 900, nil)
	h.pipe = New(an, sync, func() ui.State { return ui.State{Active: ui.PanelChat} },
		func(ev messages.Event) { h.events <- ev }, "GPT-3.5-turbo", nil)
	return h
}

// pump routes events into the pipeline until the stream for the
// current send finishes.
func (h *harness) pump(t *testing.T) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.events:
			switch ev := ev.(type) {
			case messages.StreamChunk:
				h.pipe.ApplyChunk(ev.ResultID, ev.Text)
			case messages.StreamDone:
				h.pipe.FinishStream(ev.ResultID, ev.ConversationID, ev.Err)
				return
			}
		case <-deadline:
			t.Fatal("timed out pumping pipeline events")
		}
	}
}

func TestSendStreamsChunksInOrder(t *testing.T) {
	an := &fakeAnalyzer{chunks: []string{"Hel", "lo, ", "world"}, convID: "conv-1"}
	h := newHarness(an)

	require.NoError(t, h.pipe.Send(context.Background(), "What does this say?"))
	h.pump(t)

	cur := h.pipe.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "Hello, world", cur.Content)
	assert.Equal(t, KindAnswer, cur.Kind)
	assert.False(t, cur.Streaming)
	assert.Equal(t, "conv-1", h.pipe.ConversationID())
	assert.Greater(t, h.window.resizeCount(), 0, "content growth requested a resize")
}

func TestConversationIDAttachedToSubsequentSend(t *testing.T) {
	an := &fakeAnalyzer{chunks: []string{"first"}, convID: "conv-9"}
	h := newHarness(an)

	require.NoError(t, h.pipe.Send(context.Background(), "first question"))
	h.pump(t)

	require.NoError(t, h.pipe.Send(context.Background(), "follow-up"))
	h.pump(t)

	reqs := an.recorded()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].ConversationID)
	assert.Equal(t, "conv-9", reqs[1].ConversationID)
}

func TestSendRejectsEmptyMessageWithoutImage(t *testing.T) {
	h := newHarness(&fakeAnalyzer{})

	err := h.pipe.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Nil(t, h.pipe.Current())
}

func TestSendAllowsEmptyMessageWithImage(t *testing.T) {
	an := &fakeAnalyzer{chunks: []string{"an image"}}
	h := newHarness(an)
	h.pipe.SetImageContext("aGVsbG8=")

	require.NoError(t, h.pipe.Send(context.Background(), ""))
	h.pump(t)

	reqs := an.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "aGVsbG8=", reqs[0].ImageData)
}

func TestSendIsSingleFlight(t *testing.T) {
	an := &fakeAnalyzer{block: make(chan struct{})}
	h := newHarness(an)

	require.NoError(t, h.pipe.Send(context.Background(), "one"))
	err := h.pipe.Send(context.Background(), "two")
	assert.ErrorIs(t, err, ErrBusy)

	close(an.block)
	h.pump(t)

	require.NoError(t, h.pipe.Send(context.Background(), "three"))
	h.pump(t)
	assert.Len(t, an.recorded(), 2)
}

func TestOCRAnnotationAppendedToQuestion(t *testing.T) {
	an := &fakeAnalyzer{chunks: []string{"ok"}}
	h := newHarness(an)

	h.pipe.SetImageContext("aGVsbG8=")
	h.pipe.SetOCRContext(ocr.Result{Text: "Hello", Confidence: 0.92, HasText: true})

	require.NoError(t, h.pipe.Send(context.Background(), "What does this say?"))
	h.pump(t)

	reqs := an.recorded()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Question, "What does this say?")
	assert.Contains(t, reqs[0].Question, "Text detected in the image:")
	assert.Contains(t, reqs[0].Question, "Hello")
}

func TestFailureProducesErrorResult(t *testing.T) {
	an := &fakeAnalyzer{err: errors.New("boom")}
	h := newHarness(an)

	require.NoError(t, h.pipe.Send(context.Background(), "hello?"))
	h.pump(t)

	cur := h.pipe.Current()
	require.NotNil(t, cur)
	assert.Equal(t, KindError, cur.Kind)
	assert.NotEmpty(t, cur.Content, "error results keep the panel coherent")
}

func TestAuthFailureGetsSessionMessage(t *testing.T) {
	an := &fakeAnalyzer{err: backend.ErrRefreshRejected}
	h := newHarness(an)

	require.NoError(t, h.pipe.Send(context.Background(), "hello?"))
	h.pump(t)

	cur := h.pipe.Current()
	require.NotNil(t, cur)
	assert.Equal(t, KindError, cur.Kind)
	assert.Contains(t, cur.Content, "log in")
}

func TestStaleChunksDroppedAfterReset(t *testing.T) {
	an := &fakeAnalyzer{chunks: []string{"stale"}}
	h := newHarness(an)

	require.NoError(t, h.pipe.Send(context.Background(), "old question"))

	// A new selection discards the result before its chunks land.
	h.pipe.Reset()
	h.pump(t)

	assert.Nil(t, h.pipe.Current(), "discarded result stays discarded")
	require.Len(t, h.pipe.History(), 1)
	assert.Empty(t, h.pipe.History()[0].Content, "stale chunk never applied")
}

func TestStaleCompletionKeepsConversationFresh(t *testing.T) {
	an := &fakeAnalyzer{convID: "conv-old", block: make(chan struct{})}
	h := newHarness(an)

	require.NoError(t, h.pipe.Send(context.Background(), "old question"))

	// A new selection starts a fresh conversation while the old
	// transport is still in flight.
	h.pipe.Reset()
	require.Empty(t, h.pipe.ConversationID())

	close(an.block)
	h.pump(t)

	assert.Empty(t, h.pipe.ConversationID(),
		"a retired completion must not reinstall its conversation id")
}

func TestResetReleasesSingleFlight(t *testing.T) {
	an := &fakeAnalyzer{block: make(chan struct{})}
	h := newHarness(an)

	require.NoError(t, h.pipe.Send(context.Background(), "one"))

	// Superseding the in-flight send must not leave the fresh chat
	// session answering busy until the old transport finishes.
	h.pipe.Reset()
	require.NoError(t, h.pipe.Send(context.Background(), "two"))

	close(an.block)
	h.pump(t)
	h.pump(t)
	assert.Len(t, an.recorded(), 2)
}

func TestHistoryBounded(t *testing.T) {
	an := &fakeAnalyzer{chunks: []string{"x"}}
	h := newHarness(an)

	for i := 0; i < historyLimit+5; i++ {
		require.NoError(t, h.pipe.Send(context.Background(), "q"))
		h.pump(t)
	}
	assert.Len(t, h.pipe.History(), historyLimit)
}
