package worker

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"framesense/ocr"
)

// ResultCallback is invoked on OCR completion from a worker goroutine.
// Callers should pass a closure that posts back into their own loop.
type ResultCallback func(res ocr.Result, err error)

// Pool is a fixed-size OCR worker pool with a 1-slot input queue
// (strict back-pressure: a second capture while one is in flight is
// dropped, not queued behind it).
type Pool struct {
	engine ocr.Engine
	log    *zap.Logger
	jobs   chan job
	wg     sync.WaitGroup
}

type job struct {
	ctx       context.Context
	imageData string
	cb        ResultCallback
}

// New creates a worker pool. Size defaults to NumCPU when size<=0.
func New(engine ocr.Engine, size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{engine: engine, log: logger, jobs: make(chan job, 1)}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.log.Debug("worker: starting text extraction", zap.Int("image_bytes", len(j.imageData)))
				res, err := p.extract(j.ctx, j.imageData)
				p.log.Debug("worker: extraction completed", zap.Int("text_len", len(res.Text)), zap.Error(err))
				j.cb(res, err)
			}
		}()
	}
}

// Submit enqueues an extraction job if the single-slot queue is free.
// Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, imageData string, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, imageData: imageData, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

// extract runs the engine with a deadline-aware path: if ctx expires
// first, the call returns ctx.Err() and the engine finishes in the
// background.
func (p *Pool) extract(ctx context.Context, imageData string) (ocr.Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		return p.engine.Extract(ctx, imageData)
	}
	type outcome struct {
		res ocr.Result
		err error
	}
	resCh := make(chan outcome, 1)
	go func() {
		res, err := p.engine.Extract(ctx, imageData)
		resCh <- outcome{res, err}
	}()
	select {
	case o := <-resCh:
		return o.res, o.err
	case <-ctx.Done():
		return ocr.Result{}, ctx.Err()
	}
}
