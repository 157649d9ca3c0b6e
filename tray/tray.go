// Package tray runs the system tray icon and menu. systray.Run must
// own a goroutine for the life of the process.
package tray

import (
	"github.com/getlantern/systray"
	"go.uber.org/zap"
)

const defaultTooltip = "FrameSense"

// Handlers receive tray menu actions.
type Handlers struct {
	OnCapture func()
	OnQuit    func()
}

var log = zap.NewNop()

// Run starts the tray loop and blocks until Quit. Call from a
// dedicated goroutine.
func Run(handlers Handlers, logger *zap.Logger) {
	if logger != nil {
		log = logger
	}
	systray.Run(func() { onReady(handlers) }, func() {
		if handlers.OnQuit != nil {
			handlers.OnQuit()
		}
	})
}

// Quit tears the tray down and unblocks Run.
func Quit() { systray.Quit() }

// UpdateTooltip sets the hover text, e.g. while a capture is busy.
func UpdateTooltip(text string) {
	if text == "" {
		text = defaultTooltip
	}
	systray.SetTooltip(text)
}

func onReady(handlers Handlers) {
	systray.SetIcon(iconData)
	systray.SetTitle(defaultTooltip)
	systray.SetTooltip(defaultTooltip)

	mCapture := systray.AddMenuItem("Start Capture", "Select a screen region to ask about")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit FrameSense")

	go func() {
		for {
			select {
			case <-mCapture.ClickedCh:
				log.Debug("tray: capture clicked")
				if handlers.OnCapture != nil {
					handlers.OnCapture()
				}
			case <-mQuit.ClickedCh:
				log.Info("tray: quit clicked")
				systray.Quit()
				return
			}
		}
	}()
}
