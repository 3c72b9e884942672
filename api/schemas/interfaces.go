package schemas

import (
	"context"
)

// -- Control Channel Interfaces --

// InputChannel simulates user input. Injected events are observably ordered
// on the page, so implementations run one operation at a time.
type InputChannel interface {
	// DispatchKey presses and releases a key with modifiers.
	DispatchKey(ctx context.Context, data KeyEventData) error
	// InsertText types text as the focused element's input.
	InsertText(ctx context.Context, text string) error
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error
	DispatchTouchEvent(ctx context.Context, data TouchEventData) error
	// Focus moves focus to the element programmatically.
	Focus(ctx context.Context, selector string) error
	// Blur removes focus from whatever element holds it.
	Blur(ctx context.Context) error
}

// IntrospectionChannel reads DOM, style, and layout state.
type IntrospectionChannel interface {
	// QueryElements returns every element matching selector in document order.
	QueryElements(ctx context.Context, selector string) ([]NodeInfo, error)
	// QueryElement returns the first match or ErrElementNotFound.
	QueryElement(ctx context.Context, selector string) (NodeInfo, error)
	ComputedStyle(ctx context.Context, selector string, properties []string) (ComputedStyle, error)
	BoundingRect(ctx context.Context, selector string) (BoundingBox, error)
	// EffectiveBackground resolves the first non-transparent background
	// color behind the element.
	EffectiveBackground(ctx context.Context, selector string) (string, error)
	// ActiveElement returns the focused element; ok is false when focus is
	// on the document body.
	ActiveElement(ctx context.Context) (info NodeInfo, ok bool, err error)
	Viewport(ctx context.Context) (Viewport, error)
	IsLoading(ctx context.Context) (bool, error)
	GetAttribute(ctx context.Context, selector, name string) (value string, present bool, err error)
	// StyleRuleCount counts the CSS rules across every style sheet the page
	// can enumerate.
	StyleRuleCount(ctx context.Context) (int, error)
}

// PageChannel covers navigation and capture.
type PageChannel interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// Screenshot captures the viewport, or just the element when selector is
	// non-empty. Returns PNG bytes.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
}

// StyleChannel mutates styles and attributes.
type StyleChannel interface {
	// AddStyleSheet installs (or replaces) a dedicated sheet under id.
	AddStyleSheet(ctx context.Context, id, css string) error
	RemoveStyleSheet(ctx context.Context, id string) error
	// InsertRule appends a single rule to the shared injection sheet,
	// addressable later by id.
	InsertRule(ctx context.Context, id, rule string) error
	DeleteRule(ctx context.Context, id string) error
	SetAttribute(ctx context.Context, selector, name, value string) error
	RemoveAttribute(ctx context.Context, selector, name string) error
}

// ControlChannel is a session-scoped client for one attached tab. Every
// operation fails with ErrSessionLost once the target navigates away or
// closes.
type ControlChannel interface {
	InputChannel
	IntrospectionChannel
	PageChannel
	StyleChannel

	ID() string
	TabID() int
	Capabilities() Capabilities
	// Subscribe streams page events until the returned func is called.
	Subscribe(buffer int) (<-chan PageEvent, func())
	Close(ctx context.Context) error
}
