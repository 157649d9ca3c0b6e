// Package hotkey registers a global hotkey combination and invokes a
// callback when it fires.
package hotkey

import (
	"strings"
	"unicode"

	gohook "github.com/robotn/gohook"
	"go.uber.org/zap"
)

type combo struct {
	ctrl  bool
	alt   bool
	shift bool
	cmd   bool
	key   rune
}

// Listen starts a background goroutine watching for the configured
// combination (e.g. "Alt+C") and calls callback on each match. The
// callback runs on the hook goroutine; it should only post an event
// and return.
func Listen(hotkeyConfig string, logger *zap.Logger, callback func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, ok := parseCombo(hotkeyConfig)
	if !ok {
		logger.Warn("invalid hotkey configuration, hotkey disabled", zap.String("hotkey", hotkeyConfig))
		return
	}
	logger.Info("registering global hotkey", zap.String("hotkey", hotkeyConfig))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("hotkey goroutine panicked", zap.Any("panic", r))
			}
		}()

		evChan := gohook.Start()
		if evChan == nil {
			logger.Error("hook event channel unavailable, hotkey disabled")
			return
		}

		var ctrl, alt, shift, cmd bool
		for ev := range evChan {
			switch ev.Kind {
			case gohook.KeyDown:
				switch ev.Rawcode {
				case 162, 163:
					ctrl = true
				case 164, 165:
					alt = true
				case 160, 161:
					shift = true
				case 91, 92:
					cmd = true
				default:
					if matchesKey(ev.Keychar, ev.Rawcode, c.key) &&
						ctrl == c.ctrl && alt == c.alt && shift == c.shift && cmd == c.cmd {
						logger.Debug("hotkey combination detected", zap.String("hotkey", hotkeyConfig))
						callback()
					}
				}
			case gohook.KeyUp:
				switch ev.Rawcode {
				case 162, 163:
					ctrl = false
				case 164, 165:
					alt = false
				case 160, 161:
					shift = false
				case 91, 92:
					cmd = false
				}
			}
		}
		logger.Warn("hook event channel closed")
	}()
}

// matchesKey compares against both the translated character and the
// virtual-key code; some layouts report only one of the two.
func matchesKey(keychar rune, rawcode uint16, want rune) bool {
	if unicode.ToLower(keychar) == want {
		return true
	}
	// Virtual-key codes for A-Z and 0-9 match ASCII uppercase.
	return unicode.ToLower(rune(rawcode)) == want
}

func parseCombo(config string) (combo, bool) {
	var c combo
	parts := strings.Split(strings.ToLower(config), "+")
	for _, part := range parts {
		switch part = strings.TrimSpace(part); part {
		case "ctrl", "control":
			c.ctrl = true
		case "alt":
			c.alt = true
		case "shift":
			c.shift = true
		case "win", "cmd", "super":
			c.cmd = true
		default:
			if len([]rune(part)) != 1 {
				return combo{}, false
			}
			c.key = []rune(part)[0]
		}
	}
	if c.key == 0 {
		return combo{}, false
	}
	return c, true
}
