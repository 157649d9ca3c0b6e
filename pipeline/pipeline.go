// Package pipeline turns a user message plus optional image/OCR
// context into a backend analyze request and renders the response
// incrementally into the current AIResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"framesense/backend"
	"framesense/messages"
	"framesense/ocr"
	"framesense/ui"
	"framesense/windowstate"
)

var (
	// ErrEmptyMessage rejects a send with no text and no image.
	ErrEmptyMessage = errors.New("pipeline: empty message with no image context")
	// ErrBusy rejects a send while one is already in flight.
	ErrBusy = errors.New("pipeline: send already in progress")
)

// Analyzer is the AI capability contract. Two implementations exist:
// the backend-proxied client (backend.Client) and the direct
// OpenRouter caller (DirectAnalyzer); one is selected at startup by
// configuration.
type Analyzer interface {
	Analyze(ctx context.Context, req backend.AnalyzeRequest, onChunk func(string)) (conversationID string, err error)
}

// growthStep is the content delta that counts as meaningful growth
// and triggers a window-size re-apply.
const growthStep = 120

// Pipeline owns the current AIResult, the shared image/OCR context
// and the conversation id. All methods except the goroutine spawned
// by Send must be called from the event loop goroutine; chunk and
// completion messages are posted back through post and re-enter via
// ApplyChunk/FinishStream on that same goroutine, so no locking is
// needed.
type Pipeline struct {
	analyzer Analyzer
	sync     *windowstate.Synchronizer
	uiState  func() ui.State
	post     func(messages.Event)
	log      *zap.Logger

	model          string
	conversationID string
	imageContext   string
	ocrContext     ocr.Result

	current       *AIResult
	history       []AIResult
	sendingID     string
	lastResizeLen int
}

// New constructs a Pipeline. uiState reports the current panel state
// for sizing; post delivers events back into the event loop.
func New(analyzer Analyzer, sync *windowstate.Synchronizer, uiState func() ui.State, post func(messages.Event), model string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		analyzer: analyzer,
		sync:     sync,
		uiState:  uiState,
		post:     post,
		model:    model,
		log:      logger,
	}
}

// SetModel selects the model attached to subsequent requests.
func (p *Pipeline) SetModel(model string) {
	if model != "" {
		p.model = model
	}
}

// Model returns the currently selected model identifier.
func (p *Pipeline) Model() string { return p.model }

// SetImageContext installs a fresh capture as the shared image
// context. The previous OCR annotation no longer applies to it.
func (p *Pipeline) SetImageContext(imageData string) {
	p.imageContext = imageData
	p.ocrContext = ocr.Result{}
}

// SetOCRContext attaches extracted text for the current image.
func (p *Pipeline) SetOCRContext(res ocr.Result) { p.ocrContext = res }

// ImageContext returns the shared image payload ("" when absent).
func (p *Pipeline) ImageContext() string { return p.imageContext }

// ConversationID returns the id captured from the backend, if any.
func (p *Pipeline) ConversationID() string { return p.conversationID }

// Current returns the result being displayed, nil when none.
func (p *Pipeline) Current() *AIResult { return p.current }

// History returns past results, most recent first.
func (p *Pipeline) History() []AIResult { return p.history }

// Reset discards the current result (into history), the image/OCR
// context and the conversation id. Used when a new selection starts:
// switching contexts starts a fresh conversation. An in-flight send
// keeps running; its writes land on the discarded result and must not
// block the fresh session, so the single-flight guard is released too.
func (p *Pipeline) Reset() {
	p.retireCurrent()
	p.imageContext = ""
	p.ocrContext = ocr.Result{}
	p.conversationID = ""
	p.sendingID = ""
}

func (p *Pipeline) retireCurrent() {
	if p.current != nil {
		p.history = pushHistory(p.history, *p.current)
		p.current = nil
	}
	p.lastResizeLen = 0
}

// Send validates and dispatches a user message. The network call runs
// in its own goroutine; chunks and completion come back as events.
func (p *Pipeline) Send(ctx context.Context, text string) error {
	question := strings.TrimSpace(text)
	if question == "" && p.imageContext == "" {
		return ErrEmptyMessage
	}
	if p.sendingID != "" {
		return ErrBusy
	}

	if p.ocrContext.HasText {
		question = formatWithOCR(question, p.ocrContext.Text)
	}

	req := backend.AnalyzeRequest{
		Question:       question,
		ConversationID: p.conversationID,
		Model:          p.model,
		ImageData:      p.imageContext,
	}

	p.retireCurrent()
	p.current = newResult()
	p.sendingID = p.current.ID
	resultID := p.current.ID

	p.log.Info("dispatching analyze request",
		zap.String("result_id", resultID),
		zap.String("model", req.Model),
		zap.Bool("has_image", req.ImageData != ""),
		zap.Bool("has_conversation", req.ConversationID != ""))

	go func() {
		convID, err := p.analyzer.Analyze(ctx, req, func(chunk string) {
			p.post(messages.StreamChunk{ResultID: resultID, Text: chunk})
		})
		p.post(messages.StreamDone{ResultID: resultID, ConversationID: convID, Err: err})
	}()
	return nil
}

// ApplyChunk appends streamed text to the matching result. Chunks for
// a discarded result are stale writes and are dropped.
func (p *Pipeline) ApplyChunk(resultID, text string) {
	if p.current == nil || p.current.ID != resultID {
		p.log.Debug("dropping stale stream chunk", zap.String("result_id", resultID))
		return
	}
	if text == "" {
		return
	}
	p.current.Content += text
	p.maybeResize()
}

// maybeResize re-applies the window size after meaningful growth:
// the first visible content, then every growthStep bytes.
func (p *Pipeline) maybeResize() {
	n := len(p.current.Content)
	if p.lastResizeLen == 0 || n-p.lastResizeLen >= growthStep {
		p.sync.Apply(p.uiState(), n)
		p.lastResizeLen = n
	}
}

// FinishStream finalizes the matching result and captures the
// conversation id for subsequent requests. A completion for a retired
// result is entirely stale: its conversation id belongs to the
// discarded session and must not leak into the current one.
func (p *Pipeline) FinishStream(resultID, conversationID string, err error) {
	if p.sendingID == resultID {
		p.sendingID = ""
	}
	if p.current == nil || p.current.ID != resultID {
		if err != nil {
			p.log.Warn("stale analyze request failed", zap.Error(err))
		}
		return
	}
	if conversationID != "" {
		p.conversationID = conversationID
	}
	p.current.Streaming = false

	if err == nil {
		p.log.Info("analyze request completed",
			zap.String("result_id", resultID), zap.Int("content_len", len(p.current.Content)))
		return
	}

	p.log.Error("analyze request failed", zap.String("result_id", resultID), zap.Error(err))
	if p.current.Content != "" {
		return
	}
	p.current.Kind = KindError
	p.current.Content = errorContent(err)
	p.sync.Apply(p.uiState(), len(p.current.Content))
	p.lastResizeLen = len(p.current.Content)
}

func errorContent(err error) string {
	switch {
	case errors.Is(err, backend.ErrUnauthorized), errors.Is(err, backend.ErrRefreshRejected):
		return "Your session has expired. Please log in again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	default:
		return "Something went wrong while analyzing. Please try again."
	}
}

func formatWithOCR(question, ocrText string) string {
	annotation := fmt.Sprintf("Text detected in the image:\n%s", strings.TrimSpace(ocrText))
	if question == "" {
		return annotation
	}
	return question + "\n\n" + annotation
}
