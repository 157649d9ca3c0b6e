package messages

import "framesense/ocr"

// Event is the base interface for everything delivered into the
// application event loop: host-emitted events, hotkey triggers, and
// completions posted back by background tasks.
type Event interface {
	Type() string
}

// Event type constants for identification and wire framing.
const (
	TypeHotkeyPressed     = "HotkeyPressed"
	TypeSelectionResult   = "selection-result"
	TypeSaveStateAndClose = "save-state-and-close"
	TypeFrontendReady     = "frontend-ready"
	TypeChatSubmit        = "chat-submit"
	TypeModelSelected     = "model-selected"
	TypePanelToggle       = "panel-toggle"
	TypePaymentSuccess    = "payment-success"
	TypeCopyResult        = "copy-result"
	TypeLoginRequest      = "login-request"
	TypeLogoutRequest     = "logout-request"
	TypeOCRComplete       = "OCRComplete"
	TypeStreamChunk       = "StreamChunk"
	TypeStreamDone        = "StreamDone"
)

// Bounds describes a rectangular screen region in virtual-screen
// coordinates.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WindowInfo is the host's report of actual main-window geometry.
// Width/Height are zero when the host could not determine them.
type WindowInfo struct {
	Width   int  `json:"width"`
	Height  int  `json:"height"`
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Visible bool `json:"visible"`
}

// AppState is the denormalized capture state persisted across window
// teardown (save-state-and-close) and restored on the next start.
type AppState struct {
	ScreenshotData       string  `json:"screenshot_data,omitempty"`
	LastBounds           *Bounds `json:"last_bounds,omitempty"`
	LastWindowClosedTime int64   `json:"last_window_closed_time,omitempty"`
}

// HotkeyPressed - posted by the hotkey listener when the capture
// combination is detected.
type HotkeyPressed struct{}

func (HotkeyPressed) Type() string { return TypeHotkeyPressed }

// SelectionResult - emitted by the host when a selection overlay
// completes, either with captured image data or an error message.
type SelectionResult struct {
	Success   bool    `json:"success"`
	ImageData string  `json:"imageData,omitempty"` // base64 PNG
	Bounds    *Bounds `json:"bounds,omitempty"`
	Message   string  `json:"message,omitempty"`
}

func (SelectionResult) Type() string { return TypeSelectionResult }

// SaveStateAndClose - the host is about to tear the window down and
// asks the client to persist state first.
type SaveStateAndClose struct{}

func (SaveStateAndClose) Type() string { return TypeSaveStateAndClose }

// ChatSubmit - the user submitted a message from the chat panel.
type ChatSubmit struct {
	Text string `json:"text"`
}

func (ChatSubmit) Type() string { return TypeChatSubmit }

// ModelSelected - the user picked a model in the model selector.
type ModelSelected struct {
	Model string `json:"model"`
}

func (ModelSelected) Type() string { return TypeModelSelected }

// PanelToggle - the user toggled a floating panel (chat box, model
// selector, profile menu) from the host UI.
type PanelToggle struct {
	Panel string `json:"panel"`
	Open  bool   `json:"open"`
}

func (PanelToggle) Type() string { return TypePanelToggle }

// PaymentSuccess - deep-link payment confirmation; the session should
// re-verify the user so a tier upgrade becomes visible.
type PaymentSuccess struct {
	Plan string `json:"plan,omitempty"`
}

func (PaymentSuccess) Type() string { return TypePaymentSuccess }

// LoginRequest - the host's login UI submitted credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (LoginRequest) Type() string { return TypeLoginRequest }

// LogoutRequest - the user asked to log out from the host UI.
type LogoutRequest struct{}

func (LogoutRequest) Type() string { return TypeLogoutRequest }

// CopyResult - the user asked for the current AI answer to be copied
// to the clipboard.
type CopyResult struct{}

func (CopyResult) Type() string { return TypeCopyResult }

// FrontendReady - the host replayed the readiness signal back to us.
type FrontendReady struct{}

func (FrontendReady) Type() string { return TypeFrontendReady }

// OCRComplete - posted by a worker when background text extraction for
// the current image context finishes. Err is informational only; OCR
// failure degrades to an empty context.
type OCRComplete struct {
	ImageID string
	Result  ocr.Result
	Err     error
}

func (OCRComplete) Type() string { return TypeOCRComplete }

// StreamChunk - one decoded chunk of AI response text for the result
// identified by ResultID. Chunks are applied strictly in post order.
type StreamChunk struct {
	ResultID string
	Text     string
}

func (StreamChunk) Type() string { return TypeStreamChunk }

// StreamDone - the AI response for ResultID finished (or failed).
// ConversationID carries a backend-assigned id when one was returned.
type StreamDone struct {
	ResultID       string
	ConversationID string
	Err            error
}

func (StreamDone) Type() string { return TypeStreamDone }
