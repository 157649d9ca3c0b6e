// Package host defines the command surface of the native shell that
// owns windows, pixels, and durable session storage, plus the event
// stream it emits back. Two implementations exist: a TCP JSON-RPC
// client for an external shell, and an in-process local adapter.
package host

import (
	"context"

	"framesense/backend"
	"framesense/messages"
	"framesense/ocr"
)

// Commander is the RPC-style command surface consumed by the client.
// Commands are fire-and-forget unless a result is returned; failures
// of window commands degrade the flow rather than aborting it.
type Commander interface {
	// Window control.
	ShowWindow() error
	ResizeWindow(width, height int) error
	GetWindowInfo() (messages.WindowInfo, error)

	// Selection overlay and capture.
	CreateSelectionOverlay() error
	CloseSelectionOverlay() error
	// ProcessScreenSelection captures the region; the outcome arrives
	// asynchronously as a selection-result event.
	ProcessScreenSelection(ctx context.Context, bounds messages.Bounds) error

	// OCR.
	ExtractTextOCR(ctx context.Context, imageData string) (ocr.Result, error)

	// Durable session snapshot.
	SaveSession(user *backend.User) error
	LoadSession() (*backend.User, error)
	ClearSession() error

	// Capture state persisted across window teardown.
	SaveAppState(state messages.AppState) error
	LoadAppState() (messages.AppState, error)

	CopyToClipboard(text string) error

	// Events delivers host-emitted events (selection-result,
	// save-state-and-close, chat-submit, ...). The channel closes when
	// the host connection ends.
	Events() <-chan messages.Event

	// EmitFrontendReady signals the host that this layer is ready.
	EmitFrontendReady() error

	Close() error
}
