package schemas

import (
	"time"
)

// -- Input Schemas --

// KeyEventData represents a structured key event, including the main key and active modifiers.
type KeyEventData struct {
	// Key is the DOM key value (e.g., "a", "Enter", "Tab").
	Key       string
	Modifiers KeyModifier
}

// KeyModifier mirrors the CDP input.DispatchKeyEvent modifiers bitfield.
type KeyModifier int

const (
	ModNone  KeyModifier = 0
	ModAlt   KeyModifier = 1
	ModCtrl  KeyModifier = 2
	ModMeta  KeyModifier = 4
	ModShift KeyModifier = 8
)

// MouseEventType defines the type of a mouse event.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton defines the mouse button being pressed.
type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEventData is one low-level mouse event.
type MouseEventData struct {
	Type       MouseEventType `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Button     MouseButton    `json:"button"`
	Buttons    int64          `json:"buttons"`
	ClickCount int            `json:"clickCount"`
}

// TouchEventType defines the phase of a touch event.
type TouchEventType string

const (
	TouchStart TouchEventType = "touchStart"
	TouchMove  TouchEventType = "touchMove"
	TouchEnd   TouchEventType = "touchEnd"
)

// TouchPoint is a single contact.
type TouchPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TouchEventData is one touch event with its active contacts.
type TouchEventData struct {
	Type   TouchEventType `json:"type"`
	Points []TouchPoint   `json:"points"`
}

// -- Session Schemas --

// Capabilities is what an attached session supports. Negotiated once after
// connect and cached for the session's lifetime.
type Capabilities struct {
	SimulateInput      bool `json:"simulateInput"`
	InjectStyle        bool `json:"injectStyle"`
	ModifyDOM          bool `json:"modifyDom"`
	CaptureScreenshots bool `json:"captureScreenshots"`
}

// Supports reports whether an action type can run with these capabilities.
func (c Capabilities) Supports(t ActionType) bool {
	switch t {
	case ActionTypeClick, ActionTypeType, ActionTypeKeyboard, ActionTypeFocus:
		return c.SimulateInput
	}
	return true
}

// TabInfo describes an attachable tab.
type TabInfo struct {
	ID       int    `json:"id"`
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Attached bool   `json:"attached"`
}

// PageEventType discriminates PageEvent.
type PageEventType string

const (
	PageEventRoute       PageEventType = "route"
	PageEventDOM         PageEventType = "dom"
	PageEventSessionLost PageEventType = "session-lost"
)

// MutationType mirrors MutationRecord.type.
type MutationType string

const (
	MutationChildList     MutationType = "childList"
	MutationAttributes    MutationType = "attributes"
	MutationCharacterData MutationType = "characterData"
)

// DOMMutation is a condensed MutationRecord.
type DOMMutation struct {
	Type          MutationType `json:"type"`
	Target        string       `json:"target"`
	TagName       string       `json:"tagName"`
	AttributeName string       `json:"attributeName,omitempty"`
	// Interactive is true when the target (or an added node) is focusable.
	Interactive  bool `json:"interactive"`
	AddedNodes   int  `json:"addedNodes,omitempty"`
	RemovedNodes int  `json:"removedNodes,omitempty"`
}

// PageEvent is pushed by the control channel to subscribers.
type PageEvent struct {
	Type      PageEventType `json:"type"`
	URL       string        `json:"url,omitempty"`
	Mutations []DOMMutation `json:"mutations,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// -- Interaction Result Schemas --

// FocusTrap is a detected keyboard trap.
type FocusTrap struct {
	// Position is the step index at which the trap was confirmed.
	Position int `json:"position"`
	// Cycle is the repeating set of selectors, in visit order.
	Cycle []string `json:"cycle"`
}

// FocusNavigationResult is the outcome of a Tab walk.
type FocusNavigationResult struct {
	Success        bool          `json:"success"`
	Start          *NodeInfo     `json:"start,omitempty"`
	End            *NodeInfo     `json:"end,omitempty"`
	FocusPath      []NodeInfo    `json:"focusPath"`
	FocusTraps     []FocusTrap   `json:"focusTraps"`
	NavigationTime time.Duration `json:"navigationTime"`
	Errors         []string      `json:"errors,omitempty"`
}

// Visited reports whether selector appeared anywhere on the path.
func (r FocusNavigationResult) Visited(selector string) bool {
	for _, n := range r.FocusPath {
		if n.Selector == selector {
			return true
		}
	}
	return false
}

// InteractionKind names a pointer/touch interaction.
type InteractionKind string

const (
	InteractionClick InteractionKind = "click"
	InteractionDrag  InteractionKind = "drag"
	InteractionTap   InteractionKind = "tap"
)

// InteractionResult is pass/fail against accessibility expectations.
type InteractionResult struct {
	Kind   InteractionKind `json:"kind"`
	Target string          `json:"target"`
	Passed bool            `json:"passed"`
	// KeyboardActivatable is set when the target was cross-checked against
	// a keyboard focus path.
	KeyboardActivatable bool          `json:"keyboardActivatable"`
	FocusAfter          *NodeInfo     `json:"focusAfter,omitempty"`
	Duration            time.Duration `json:"duration"`
	Reasons             []string      `json:"reasons,omitempty"`
}
