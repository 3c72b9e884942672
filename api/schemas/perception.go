package schemas

import (
	"strconv"
	"strings"
	"time"
)

// -- Perception Schemas --

// Viewport is the layout viewport size in CSS pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BoundingBox is an element's border box in viewport coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the box area.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Center returns the center point of the box.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Intersects reports whether any part of the box lies inside the viewport.
func (b BoundingBox) Intersects(vp Viewport) bool {
	return b.X < vp.Width && b.Y < vp.Height && b.X+b.Width > 0 && b.Y+b.Height > 0
}

// ComputedStyle maps CSS property names to their resolved values.
type ComputedStyle map[string]string

// Get returns the value of prop, or "" if it was not read.
func (c ComputedStyle) Get(prop string) string {
	return strings.TrimSpace(c[prop])
}

// Clone returns an independent copy.
func (c ComputedStyle) Clone() ComputedStyle {
	if c == nil {
		return nil
	}
	out := make(ComputedStyle, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// IsHidden reports whether the style removes the element from view.
func (c ComputedStyle) IsHidden() bool {
	if c.Get("display") == "none" || c.Get("visibility") == "hidden" || c.Get("visibility") == "collapse" {
		return true
	}
	if op := c.Get("opacity"); op != "" {
		if f, err := strconv.ParseFloat(op, 64); err == nil && f <= 0 {
			return true
		}
	}
	return false
}

// StyleProperties is the set of properties read for every perceived element.
var StyleProperties = []string{
	"display", "visibility", "opacity",
	"outline-style", "outline-width", "outline-color", "outline-offset",
	"box-shadow", "border-style", "border-width", "border-color",
	"color", "background-color", "font-size", "font-weight", "cursor",
}

// NodeInfo is the identity of a DOM element as reported by the control channel.
type NodeInfo struct {
	// Selector uniquely addresses the element in the current document.
	Selector   string            `json:"selector"`
	TagName    string            `json:"tagName"`
	TabIndex   int               `json:"tabIndex"`
	Role       string            `json:"role,omitempty"`
	Label      string            `json:"label,omitempty"`
	Text       string            `json:"text,omitempty"`
	Disabled   bool              `json:"disabled,omitempty"`
	Clickable  bool              `json:"clickable,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ElementDescriptor is one focusable element in a perception snapshot.
type ElementDescriptor struct {
	NodeInfo
	Style      ComputedStyle `json:"style"`
	Box        BoundingBox   `json:"box"`
	InViewport bool          `json:"inViewport"`
}

// IsVisible applies the snapshot visibility filter.
func (e ElementDescriptor) IsVisible() bool {
	return e.Box.Width > 0 && e.Box.Height > 0 && !e.Style.IsHidden()
}

func (e ElementDescriptor) clone() ElementDescriptor {
	out := e
	out.Style = e.Style.Clone()
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// PerceivedState is an immutable page snapshot. Accessors hand out copies so
// holders cannot change what other holders see.
type PerceivedState struct {
	url        string
	viewport   Viewport
	elements   []ElementDescriptor
	active     *NodeInfo
	capturedAt time.Time
}

// NewPerceivedState builds a snapshot. The inputs are copied.
func NewPerceivedState(url string, vp Viewport, elements []ElementDescriptor, active *NodeInfo, at time.Time) *PerceivedState {
	s := &PerceivedState{url: url, viewport: vp, capturedAt: at}
	s.elements = make([]ElementDescriptor, len(elements))
	for i, e := range elements {
		s.elements[i] = e.clone()
	}
	if active != nil {
		a := *active
		s.active = &a
	}
	return s
}

func (s *PerceivedState) URL() string           { return s.url }
func (s *PerceivedState) Viewport() Viewport    { return s.viewport }
func (s *PerceivedState) CapturedAt() time.Time { return s.capturedAt }
func (s *PerceivedState) Len() int              { return len(s.elements) }

// Elements returns a copy of the ordered element list.
func (s *PerceivedState) Elements() []ElementDescriptor {
	out := make([]ElementDescriptor, len(s.elements))
	for i, e := range s.elements {
		out[i] = e.clone()
	}
	return out
}

// Element looks up an element by selector.
func (s *PerceivedState) Element(selector string) (ElementDescriptor, bool) {
	for _, e := range s.elements {
		if e.Selector == selector {
			return e.clone(), true
		}
	}
	return ElementDescriptor{}, false
}

// ActiveElement returns the focused element, if any.
func (s *PerceivedState) ActiveElement() (NodeInfo, bool) {
	if s.active == nil {
		return NodeInfo{}, false
	}
	return *s.active, true
}
