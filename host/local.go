package host

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"framesense/backend"
	"framesense/clipboard"
	"framesense/messages"
	"framesense/ocr"
	"framesense/screenshot"
)

// Local is the in-process host adapter used when no external shell is
// attached: capture and clipboard run natively, session and app state
// live in JSON files under the state directory, and window commands
// track geometry in memory.
type Local struct {
	stateDir string
	engine   ocr.Engine
	log      *zap.Logger
	events   chan messages.Event

	clipOnce sync.Once
	clipErr  error

	mu      sync.Mutex
	width   int
	height  int
	visible bool
	closed  bool
}

// NewLocal constructs a Local adapter. engine may be nil, in which
// case OCR requests fail and the flow degrades to no OCR context.
func NewLocal(stateDir string, engine ocr.Engine, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		stateDir: stateDir,
		engine:   engine,
		log:      logger,
		events:   make(chan messages.Event, 16),
	}
}

func (l *Local) ShowWindow() error {
	l.mu.Lock()
	l.visible = true
	l.mu.Unlock()
	return nil
}

func (l *Local) ResizeWindow(width, height int) error {
	l.mu.Lock()
	l.width, l.height = width, height
	l.mu.Unlock()
	return nil
}

func (l *Local) GetWindowInfo() (messages.WindowInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return messages.WindowInfo{Width: l.width, Height: l.height, Visible: l.visible}, nil
}

func (l *Local) CreateSelectionOverlay() error {
	// No native overlay in local mode; selection bounds arrive from
	// whoever drives the flow (tests, the demo trigger).
	return nil
}

func (l *Local) CloseSelectionOverlay() error { return nil }

// ProcessScreenSelection captures the region in the background and
// posts the outcome as a selection-result event, matching the async
// contract of a real shell.
func (l *Local) ProcessScreenSelection(ctx context.Context, bounds messages.Bounds) error {
	go func() {
		data, err := screenshot.CaptureRegion(bounds)
		if err != nil {
			l.log.Warn("local capture failed", zap.Error(err))
			l.post(messages.SelectionResult{Success: false, Message: err.Error()})
			return
		}
		l.post(messages.SelectionResult{
			Success:   true,
			ImageData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
			Bounds:    &bounds,
		})
	}()
	return nil
}

func (l *Local) ExtractTextOCR(ctx context.Context, imageData string) (ocr.Result, error) {
	if l.engine == nil {
		return ocr.Result{}, errors.New("no OCR engine configured")
	}
	return l.engine.Extract(ctx, imageData)
}

func (l *Local) SaveSession(user *backend.User) error {
	return l.writeJSON("user_session.json", user)
}

func (l *Local) LoadSession() (*backend.User, error) {
	var user backend.User
	ok, err := l.readJSON("user_session.json", &user)
	if err != nil || !ok {
		return nil, err
	}
	if user.ID == "" {
		return nil, nil
	}
	return &user, nil
}

func (l *Local) ClearSession() error {
	err := os.Remove(filepath.Join(l.stateDir, "user_session.json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *Local) SaveAppState(state messages.AppState) error {
	return l.writeJSON("app_state.json", state)
}

func (l *Local) LoadAppState() (messages.AppState, error) {
	var state messages.AppState
	if _, err := l.readJSON("app_state.json", &state); err != nil {
		return messages.AppState{}, err
	}
	return state, nil
}

func (l *Local) CopyToClipboard(text string) error {
	l.clipOnce.Do(func() {
		l.clipErr = clipboard.Init()
	})
	if l.clipErr != nil {
		return l.clipErr
	}
	return clipboard.Write(text)
}

func (l *Local) Events() <-chan messages.Event { return l.events }

func (l *Local) EmitFrontendReady() error {
	l.log.Debug("frontend ready")
	return nil
}

// Post injects an event as if the host had emitted it. Used by the
// hotkey trigger and by tests.
func (l *Local) Post(ev messages.Event) {
	l.post(ev)
}

func (l *Local) post(ev messages.Event) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.log.Warn("local host event dropped, queue full", zap.String("event", ev.Type()))
	}
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.events)
	return nil
}

func (l *Local) writeJSON(name string, v any) error {
	if err := os.MkdirAll(l.stateDir, 0700); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(l.stateDir, name), data, 0600)
}

func (l *Local) readJSON(name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(l.stateDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

var _ Commander = (*Local)(nil)
