// Package windowstate keeps the host window geometry consistent with
// the logical UI state. Sizing is a pure function; applying it is
// best-effort and tolerant of concurrent callers.
package windowstate

import (
	"go.uber.org/zap"

	"framesense/host"
	"framesense/ui"
)

const (
	// WindowWidth is fixed; only height tracks UI state.
	WindowWidth = 600

	// HeightCompact is the idle bar.
	HeightCompact = 50
	// HeightChat is the chat input panel.
	HeightChat = 120
	// HeightModelSelector and HeightProfileMenu are fixed panel sizes.
	HeightModelSelector = 320
	HeightProfileMenu   = 280

	// maxHeightScreenFraction bounds content height relative to the
	// screen.
	maxHeightScreenFraction = 0.6

	// shrinkTolerance absorbs host-side decoration/rounding when
	// comparing reported height against an expected panel height.
	shrinkTolerance = 16

	defaultScreenHeight = 900
)

// contentBreakpoint maps content length (runes of streamed text) to a
// window height. The table is ordered; the first entry whose Chars is
// >= the content length wins.
type contentBreakpoint struct {
	Chars  int
	Height int
}

var contentBreakpoints = []contentBreakpoint{
	{Chars: 200, Height: 220},
	{Chars: 600, Height: 320},
	{Chars: 1200, Height: 420},
	{Chars: 2400, Height: 540},
}

// Synchronizer issues resize/show commands derived from UI state.
type Synchronizer struct {
	host         host.Commander
	screenHeight int
	log          *zap.Logger
}

// New constructs a Synchronizer. screenHeight bounds content growth;
// pass 0 for a sane default.
func New(commander host.Commander, screenHeight int, logger *zap.Logger) *Synchronizer {
	if screenHeight <= 0 {
		screenHeight = defaultScreenHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{host: commander, screenHeight: screenHeight, log: logger}
}

// DesiredSize computes the target window dimensions from the current
// UI state and the active result's content length. Pure.
func (s *Synchronizer) DesiredSize(state ui.State, contentLen int) (width, height int) {
	if contentLen > 0 {
		return WindowWidth, s.contentHeight(contentLen)
	}
	switch state.Active {
	case ui.PanelChat:
		return WindowWidth, HeightChat
	case ui.PanelModelSelector:
		return WindowWidth, HeightModelSelector
	case ui.PanelProfileMenu:
		return WindowWidth, HeightProfileMenu
	default:
		return WindowWidth, HeightCompact
	}
}

func (s *Synchronizer) contentHeight(contentLen int) int {
	max := int(float64(s.screenHeight) * maxHeightScreenFraction)
	for _, bp := range contentBreakpoints {
		if contentLen <= bp.Chars {
			if bp.Height > max {
				return max
			}
			return bp.Height
		}
	}
	return max
}

// Apply issues the resize for the given state/content and re-asserts
// visibility and focus (some hosts silently drop focus on resize).
// Failures are absorbed: a missed resize must not block content.
func (s *Synchronizer) Apply(state ui.State, contentLen int) {
	width, height := s.DesiredSize(state, contentLen)
	if err := s.host.ResizeWindow(width, height); err != nil {
		s.log.Warn("window resize failed", zap.Int("width", width), zap.Int("height", height), zap.Error(err))
	}
	if err := s.host.ShowWindow(); err != nil {
		s.log.Warn("window show failed", zap.Error(err))
	}
}

// ShrinkToCompact returns the window to the compact bar after the
// given panel closed. Before shrinking it re-reads the actual window
// size and only shrinks when that size is attributable to the closing
// panel: a taller window means another panel expanded it concurrently
// and must not be shrunk out from under. Best-effort by design; the
// re-read is the agreed race mitigation, not a lock.
func (s *Synchronizer) ShrinkToCompact(closing ui.Panel) {
	expected := s.panelHeight(closing)

	info, err := s.host.GetWindowInfo()
	if err != nil {
		s.log.Warn("window info unavailable, skipping shrink", zap.Error(err))
		return
	}
	if info.Height <= HeightCompact {
		return
	}
	if info.Height > expected+shrinkTolerance {
		s.log.Debug("skipping shrink, window expanded by another panel",
			zap.Int("actual", info.Height), zap.Int("expected", expected), zap.String("closing", closing.String()))
		return
	}

	if err := s.host.ResizeWindow(WindowWidth, HeightCompact); err != nil {
		s.log.Warn("shrink to compact failed", zap.Error(err))
	}
}

func (s *Synchronizer) panelHeight(p ui.Panel) int {
	switch p {
	case ui.PanelChat:
		return HeightChat
	case ui.PanelModelSelector:
		return HeightModelSelector
	case ui.PanelProfileMenu:
		return HeightProfileMenu
	default:
		return HeightCompact
	}
}
