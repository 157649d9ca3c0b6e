// Package ui holds the mutual-exclusion state machine over the
// floating panels. Every transition is a pure function of the current
// state and one event, so no interleaving of handlers can observe two
// panels open at once.
package ui

import "sync"

// Panel identifies one of the mutually-exclusive floating surfaces.
type Panel int

const (
	PanelNone Panel = iota
	PanelChat
	PanelModelSelector
	PanelProfileMenu
)

func (p Panel) String() string {
	switch p {
	case PanelChat:
		return "chat"
	case PanelModelSelector:
		return "model-selector"
	case PanelProfileMenu:
		return "profile-menu"
	default:
		return "none"
	}
}

// ParsePanel maps a host panel name to its Panel value.
func ParsePanel(name string) (Panel, bool) {
	switch name {
	case "chat":
		return PanelChat, true
	case "model-selector", "models":
		return PanelModelSelector, true
	case "profile-menu", "profile":
		return PanelProfileMenu, true
	default:
		return PanelNone, false
	}
}

// State is the visibility state: exactly one active panel (possibly
// PanelNone). The boolean views are derived, never stored, so they
// cannot disagree.
type State struct {
	Active Panel
}

func (s State) ChatOpen() bool          { return s.Active == PanelChat }
func (s State) ModelSelectorOpen() bool { return s.Active == PanelModelSelector }
func (s State) ProfileMenuOpen() bool   { return s.Active == PanelProfileMenu }

// EventKind enumerates the visibility transitions.
type EventKind int

const (
	// EventOpen activates a panel, closing every other one in the same
	// update.
	EventOpen EventKind = iota
	// EventClose deactivates a panel only if it is the active one.
	EventClose
	// EventCloseAll forces PanelNone unconditionally.
	EventCloseAll
)

// Event is one requested transition.
type Event struct {
	Kind  EventKind
	Panel Panel
}

// Reduce computes the next state. It is total: every (state, event)
// pair yields a defined next state.
func Reduce(s State, ev Event) State {
	switch ev.Kind {
	case EventOpen:
		if ev.Panel == PanelNone {
			return State{Active: PanelNone}
		}
		return State{Active: ev.Panel}
	case EventClose:
		if s.Active == ev.Panel {
			return State{Active: PanelNone}
		}
		return s
	case EventCloseAll:
		return State{Active: PanelNone}
	default:
		return s
	}
}

// ChangeFunc observes applied transitions. prev and next differ.
type ChangeFunc func(prev, next State)

// Coordinator applies visibility events atomically and notifies the
// observer once per effective transition.
type Coordinator struct {
	mu       sync.Mutex
	state    State
	onChange ChangeFunc
}

// NewCoordinator constructs a Coordinator starting at PanelNone.
// onChange may be nil.
func NewCoordinator(onChange ChangeFunc) *Coordinator {
	return &Coordinator{onChange: onChange}
}

// State returns the current visibility state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open activates the panel, closing all others in the same update.
func (c *Coordinator) Open(p Panel) {
	c.apply(Event{Kind: EventOpen, Panel: p})
}

// Close deactivates the panel; closing a non-active panel is a no-op.
func (c *Coordinator) Close(p Panel) {
	c.apply(Event{Kind: EventClose, Panel: p})
}

// CloseAll forces every panel closed.
func (c *Coordinator) CloseAll() {
	c.apply(Event{Kind: EventCloseAll})
}

func (c *Coordinator) apply(ev Event) {
	c.mu.Lock()
	prev := c.state
	next := Reduce(prev, ev)
	c.state = next
	cb := c.onChange
	c.mu.Unlock()

	if cb != nil && next != prev {
		cb(prev, next)
	}
}
