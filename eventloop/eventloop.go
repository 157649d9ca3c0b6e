// Package eventloop is the single-threaded application coordinator.
// Every piece of mutable state (session, panels, pipeline, flow) is
// touched only from Run's goroutine; async work posts messages back.
package eventloop

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"framesense/flow"
	"framesense/host"
	"framesense/messages"
	"framesense/pipeline"
	"framesense/session"
	"framesense/ui"
	"framesense/windowstate"
)

// BusyFunc is told when an AI request starts and finishes, e.g. to
// update the tray tooltip.
type BusyFunc func(busy bool)

// Loop routes host events, hotkey triggers, OCR completions and
// stream updates into the domain services.
type Loop struct {
	host     host.Commander
	session  *session.Store
	pipeline *pipeline.Pipeline
	flow     *flow.Controller
	ui       *ui.Coordinator
	sync     *windowstate.Synchronizer
	log      *zap.Logger

	busy   BusyFunc
	events chan messages.Event
	done   chan struct{}
}

// New creates a Loop over fully-constructed services.
func New(commander host.Commander, sess *session.Store, pipe *pipeline.Pipeline, flowCtrl *flow.Controller, coord *ui.Coordinator, sync *windowstate.Synchronizer, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		host:     commander,
		session:  sess,
		pipeline: pipe,
		flow:     flowCtrl,
		ui:       coord,
		sync:     sync,
		log:      logger,
		events:   make(chan messages.Event, 64),
		done:     make(chan struct{}),
	}
}

// SetBusyNotifier installs an optional busy-state observer.
func (l *Loop) SetBusyNotifier(fn BusyFunc) { l.busy = fn }

// Post delivers an event into the loop from any goroutine. It blocks
// if the loop is saturated and drops only after shutdown.
func (l *Loop) Post(ev messages.Event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// Run restores persisted state, announces readiness to the host and
// processes events until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	l.restoreAppState()
	l.session.LoadCurrentUser(ctx)
	if err := l.host.EmitFrontendReady(); err != nil {
		l.log.Warn("failed to announce readiness to host", zap.Error(err))
	}

	hostEvents := l.host.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-hostEvents:
			if !ok {
				l.log.Info("host event channel closed, stopping")
				return nil
			}
			l.dispatch(ctx, ev)
		case ev := <-l.events:
			l.dispatch(ctx, ev)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, ev messages.Event) {
	l.log.Debug("event", zap.String("type", ev.Type()))
	switch ev := ev.(type) {
	case messages.HotkeyPressed:
		l.flow.StartSelection()
	case messages.SelectionResult:
		l.flow.HandleSelectionResult(ctx, ev)
	case messages.OCRComplete:
		l.flow.HandleOCRComplete(ev)
	case messages.ChatSubmit:
		l.handleChatSubmit(ctx, ev)
	case messages.StreamChunk:
		l.pipeline.ApplyChunk(ev.ResultID, ev.Text)
	case messages.StreamDone:
		l.handleStreamDone(ev)
	case messages.ModelSelected:
		l.handleModelSelected(ctx, ev)
	case messages.PanelToggle:
		l.handlePanelToggle(ev)
	case messages.LoginRequest:
		l.handleLogin(ctx, ev)
	case messages.LogoutRequest:
		l.session.Logout(ctx)
	case messages.PaymentSuccess:
		l.handlePaymentSuccess(ctx, ev)
	case messages.CopyResult:
		l.handleCopyResult()
	case messages.SaveStateAndClose:
		l.handleSaveStateAndClose()
	case messages.FrontendReady:
		// The host replayed our own readiness signal; nothing to do.
	default:
		l.log.Warn("unhandled event", zap.String("type", ev.Type()))
	}
}

func (l *Loop) handleChatSubmit(ctx context.Context, ev messages.ChatSubmit) {
	err := l.pipeline.Send(ctx, ev.Text)
	switch {
	case err == nil:
		l.setBusy(true)
	case errors.Is(err, pipeline.ErrEmptyMessage):
		l.log.Debug("ignoring empty message without image context")
	case errors.Is(err, pipeline.ErrBusy):
		l.log.Debug("send already in progress, ignoring submit")
	default:
		l.log.Error("chat submit failed", zap.Error(err))
	}
}

func (l *Loop) handleStreamDone(ev messages.StreamDone) {
	l.pipeline.FinishStream(ev.ResultID, ev.ConversationID, ev.Err)
	l.setBusy(false)
}

func (l *Loop) handleModelSelected(ctx context.Context, ev messages.ModelSelected) {
	user := l.session.CurrentUser()
	tier := ""
	if user != nil {
		tier = user.Tier
	}
	if !l.session.Backend().CanUseModel(ctx, tier, ev.Model) {
		l.log.Warn("model not available for tier", zap.String("model", ev.Model), zap.String("tier", tier))
		return
	}
	l.pipeline.SetModel(ev.Model)
	l.ui.Close(ui.PanelModelSelector)
	l.sync.ShrinkToCompact(ui.PanelModelSelector)
}

func (l *Loop) handlePanelToggle(ev messages.PanelToggle) {
	panel, ok := ui.ParsePanel(ev.Panel)
	if !ok {
		l.log.Warn("unknown panel", zap.String("panel", ev.Panel))
		return
	}
	if ev.Open {
		l.ui.Open(panel)
		contentLen := 0
		if cur := l.pipeline.Current(); cur != nil {
			contentLen = len(cur.Content)
		}
		l.sync.Apply(l.ui.State(), contentLen)
		return
	}
	l.ui.Close(panel)
	l.sync.ShrinkToCompact(panel)
}

func (l *Loop) handlePaymentSuccess(ctx context.Context, ev messages.PaymentSuccess) {
	l.log.Info("payment confirmed, refreshing account status", zap.String("plan", ev.Plan))
	if user := l.session.RefreshUserStatus(ctx); user != nil {
		l.log.Info("account status updated", zap.String("tier", user.Tier))
	}
}

// handleLogin authenticates on behalf of the host's login UI. Session
// listeners carry the outcome; failures are only logged here.
func (l *Loop) handleLogin(ctx context.Context, ev messages.LoginRequest) {
	user, err := l.session.Login(ctx, ev.Email, ev.Password)
	if err != nil {
		l.log.Warn("login failed", zap.String("email", ev.Email), zap.Error(err))
		return
	}
	l.log.Info("logged in", zap.String("email", user.Email), zap.String("tier", user.Tier))
}

// handleCopyResult copies the current answer text to the clipboard.
// Streaming results copy whatever has arrived so far.
func (l *Loop) handleCopyResult() {
	cur := l.pipeline.Current()
	if cur == nil || cur.Content == "" {
		l.log.Debug("nothing to copy")
		return
	}
	if err := l.host.CopyToClipboard(cur.Content); err != nil {
		l.log.Warn("failed to copy result to clipboard", zap.Error(err))
	}
}

// handleSaveStateAndClose persists the capture context before the
// host tears the window down.
func (l *Loop) handleSaveStateAndClose() {
	st := messages.AppState{
		ScreenshotData:       l.pipeline.ImageContext(),
		LastWindowClosedTime: time.Now().UnixMilli(),
	}
	if err := l.host.SaveAppState(st); err != nil {
		l.log.Warn("failed to save app state", zap.Error(err))
	}
	l.ui.CloseAll()
}

// restoreAppState reloads the capture context saved by a previous
// save-state-and-close.
func (l *Loop) restoreAppState() {
	st, err := l.host.LoadAppState()
	if err != nil {
		l.log.Debug("no app state to restore", zap.Error(err))
		return
	}
	if st.ScreenshotData == "" {
		return
	}
	l.log.Info("restoring capture context from previous run")
	l.pipeline.SetImageContext(st.ScreenshotData)
}

func (l *Loop) setBusy(b bool) {
	if l.busy != nil {
		l.busy(b)
	}
}
