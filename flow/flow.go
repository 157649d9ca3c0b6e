// Package flow orchestrates a screen-region capture end to end:
// overlay, selection result, capture, detached OCR, chat panel.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"framesense/host"
	"framesense/messages"
	"framesense/ocr"
	"framesense/pipeline"
	"framesense/ui"
	"framesense/windowstate"
	"framesense/worker"
)

const (
	// selectionTimeout bounds how long a selection request holds the
	// in-flight flag when the host never answers.
	selectionTimeout = 30 * time.Second
	// cooldown debounces re-triggering right after a result lands.
	cooldown = 500 * time.Millisecond
)

// ErrSelectionCancelled marks a selection the user abandoned, either
// by dismissing the overlay or by dragging a region below the minimum
// size. It is not a failure and never produces a notice.
var ErrSelectionCancelled = errors.New("selection cancelled")

// Notifier surfaces a user-visible failure notice.
type Notifier func(message string)

// Controller drives the capture/selection flow. All methods must be
// called from the event loop goroutine; OCR runs detached on the
// worker pool and re-enters via HandleOCRComplete.
type Controller struct {
	host     host.Commander
	pipeline *pipeline.Pipeline
	ui       *ui.Coordinator
	sync     *windowstate.Synchronizer
	pool     *worker.Pool
	post     func(messages.Event)
	notify   Notifier
	log      *zap.Logger

	ocrDeadline time.Duration
	now         func() time.Time

	busyUntil time.Time
	imageID   string
}

// New constructs a Controller. notify may be nil (notices are only
// logged then).
func New(commander host.Commander, pipe *pipeline.Pipeline, coord *ui.Coordinator, sync *windowstate.Synchronizer, pool *worker.Pool, post func(messages.Event), notify Notifier, ocrDeadline time.Duration, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ocrDeadline <= 0 {
		ocrDeadline = 20 * time.Second
	}
	return &Controller{
		host:        commander,
		pipeline:    pipe,
		ui:          coord,
		sync:        sync,
		pool:        pool,
		post:        post,
		notify:      notify,
		log:         logger,
		ocrDeadline: ocrDeadline,
		now:         time.Now,
	}
}

// StartSelection clears stale context and asks the host for a
// selection overlay. Repeated triggers while a selection is in flight
// are ignored.
func (c *Controller) StartSelection() {
	if c.now().Before(c.busyUntil) {
		c.log.Debug("selection already in flight, ignoring trigger")
		return
	}
	c.busyUntil = c.now().Add(selectionTimeout)

	// Switching contexts discards the previous result, conversation
	// and panels before anything new appears.
	c.pipeline.Reset()
	c.ui.CloseAll()
	c.sync.Apply(c.ui.State(), 0)

	if err := c.host.CreateSelectionOverlay(); err != nil {
		c.log.Error("failed to create selection overlay", zap.Error(err))
		c.busyUntil = c.now()
		c.fail("Could not start screen selection")
	}
}

// HandleSelectionResult processes the host's selection-result event.
// A region below the minimum size in either dimension is a cancelled
// selection, not an error.
func (c *Controller) HandleSelectionResult(ctx context.Context, ev messages.SelectionResult) {
	c.busyUntil = c.now().Add(cooldown)

	if !ev.Success {
		c.log.Warn("selection failed", zap.String("message", ev.Message))
		if err := c.host.CloseSelectionOverlay(); err != nil {
			c.log.Debug("overlay close failed", zap.Error(err))
		}
		c.fail("Screen selection failed")
		return
	}
	if err := validateSelection(ev); errors.Is(err, ErrSelectionCancelled) {
		c.log.Info("selection cancelled", zap.String("reason", err.Error()))
		return
	}

	if ev.ImageData == "" {
		// Bounds-only result: ask the host to capture the region; it
		// answers with a second selection-result carrying the image.
		if err := c.host.ProcessScreenSelection(ctx, *ev.Bounds); err != nil {
			c.log.Error("capture command failed", zap.Error(err))
			c.fail("Screen capture failed")
		}
		return
	}

	c.pipeline.SetImageContext(ev.ImageData)
	c.startOCR(ctx, ev.ImageData)

	c.ui.Open(ui.PanelChat)
	c.sync.Apply(c.ui.State(), 0)
}

// validateSelection classifies a successful selection result as either
// usable or cancelled.
func validateSelection(ev messages.SelectionResult) error {
	if ev.Bounds != nil && (ev.Bounds.Width < ocr.MinDimension || ev.Bounds.Height < ocr.MinDimension) {
		return fmt.Errorf("%w: region %dx%d below %dpx minimum",
			ErrSelectionCancelled, ev.Bounds.Width, ev.Bounds.Height, ocr.MinDimension)
	}
	if ev.ImageData == "" && ev.Bounds == nil {
		return fmt.Errorf("%w: result carried neither image nor bounds", ErrSelectionCancelled)
	}
	return nil
}

// startOCR submits a detached extraction job. Its failure yields an
// empty OCR context and never surfaces to the user.
func (c *Controller) startOCR(ctx context.Context, imageData string) {
	imageID := uuid.NewString()
	c.imageID = imageID

	jobCtx, cancel := context.WithTimeout(ctx, c.ocrDeadline)
	submitted := c.pool.Submit(jobCtx, imageData, func(res ocr.Result, err error) {
		defer cancel()
		c.post(messages.OCRComplete{ImageID: imageID, Result: res, Err: err})
	})
	if !submitted {
		cancel()
		c.log.Warn("OCR pool busy, continuing without text context")
	}
}

// HandleOCRComplete applies extracted text to the pipeline when it
// still belongs to the current image.
func (c *Controller) HandleOCRComplete(ev messages.OCRComplete) {
	if ev.ImageID != c.imageID {
		c.log.Debug("dropping stale OCR result")
		return
	}
	if ev.Err != nil {
		c.log.Warn("OCR extraction failed, continuing without text context", zap.Error(ev.Err))
		return
	}
	c.log.Info("OCR context ready",
		zap.Bool("has_text", ev.Result.HasText), zap.Float64("confidence", ev.Result.Confidence))
	c.pipeline.SetOCRContext(ev.Result)
}

func (c *Controller) fail(message string) {
	if c.notify != nil {
		c.notify(message)
	}
}
