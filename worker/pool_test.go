package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framesense/ocr"
)

type slowEngine struct {
	delay time.Duration
	res   ocr.Result
	err   error
	calls atomic.Int32
}

func (e *slowEngine) Extract(ctx context.Context, imageData string) (ocr.Result, error) {
	e.calls.Add(1)
	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return ocr.Result{}, ctx.Err()
	}
	return e.res, e.err
}

func TestPoolDeliversResult(t *testing.T) {
	engine := &slowEngine{res: ocr.Result{Text: "hi", Confidence: 0.9, HasText: true}}
	p := New(engine, 1, nil)
	defer p.Close()

	done := make(chan struct{})
	var got ocr.Result
	ok := p.Submit(context.Background(), "aGk=", func(res ocr.Result, err error) {
		require.NoError(t, err)
		got = res
		close(done)
	})
	require.True(t, ok)

	<-done
	assert.Equal(t, "hi", got.Text)
	assert.True(t, got.HasText)
}

func TestPoolDropsWhenBusy(t *testing.T) {
	engine := &slowEngine{delay: 100 * time.Millisecond}
	p := New(engine, 1, nil)
	defer p.Close()

	done := make(chan struct{})
	ok := p.Submit(context.Background(), "a", func(ocr.Result, error) { close(done) })
	require.True(t, ok, "first submit should succeed")

	// With one worker and a 1-slot queue, at most one more submit can
	// be accepted; the next must drop.
	ok2 := p.Submit(context.Background(), "b", func(ocr.Result, error) {})
	ok3 := p.Submit(context.Background(), "c", func(ocr.Result, error) {})
	assert.False(t, ok2 && ok3, "expected back-pressure to drop a submit")
	<-done
}

func TestPoolHonorsDeadline(t *testing.T) {
	engine := &slowEngine{delay: 5 * time.Second}
	p := New(engine, 1, nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	ok := p.Submit(ctx, "a", func(_ ocr.Result, err error) { done <- err })
	require.True(t, ok)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("deadline not honored")
	}
}

func TestPoolPropagatesEngineError(t *testing.T) {
	engine := &slowEngine{err: errors.New("no text model configured")}
	p := New(engine, 1, nil)
	defer p.Close()

	done := make(chan error, 1)
	require.True(t, p.Submit(context.Background(), "a", func(_ ocr.Result, err error) { done <- err }))
	assert.Error(t, <-done)
}
