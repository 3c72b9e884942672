// internal/browser/fakepage/element.go
package fakepage

import (
	"strconv"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// Element is one node of the in-memory document.
type Element struct {
	Selector   string
	TagName    string
	TabIndex   int
	Role       string
	Label      string
	Text       string
	Disabled   bool
	Clickable  bool
	Attributes map[string]string
	Box        schemas.BoundingBox
	// Style is the computed style without focus.
	Style schemas.ComputedStyle
	// FocusStyle overlays Style while the element has focus. It models the
	// page's own :focus rules and the user agent focus ring.
	FocusStyle schemas.ComputedStyle
	// Background is what EffectiveBackground reports.
	Background string
}

var nativelyFocusable = map[string]bool{
	"a": true, "button": true, "input": true, "select": true, "textarea": true, "summary": true,
}

func baseStyle() schemas.ComputedStyle {
	return schemas.ComputedStyle{
		"display":          "inline-block",
		"visibility":       "visible",
		"opacity":          "1",
		"outline-style":    "none",
		"outline-width":    "0px",
		"outline-color":    "rgb(0, 0, 0)",
		"outline-offset":   "0px",
		"box-shadow":       "none",
		"border-style":     "none",
		"border-width":     "0px",
		"border-color":     "rgb(0, 0, 0)",
		"color":            "rgb(0, 0, 0)",
		"background-color": "rgba(0, 0, 0, 0)",
		"font-size":        "16px",
		"font-weight":      "400",
		"cursor":           "auto",
	}
}

// userAgentFocusRing is what Chrome paints for :focus-visible by default.
func userAgentFocusRing() schemas.ComputedStyle {
	return schemas.ComputedStyle{
		"outline-style": "auto",
		"outline-width": "1px",
		"outline-color": "rgb(16, 16, 16)",
	}
}

// NewElement builds an element addressed as tag#id with browser defaults:
// natively focusable tags get tab index 0 and the user agent focus ring.
func NewElement(tag, id string) *Element {
	e := &Element{
		Selector:   tag + "#" + id,
		TagName:    tag,
		TabIndex:   -1,
		Attributes: map[string]string{"id": id},
		Box:        schemas.BoundingBox{Width: 120, Height: 32},
		Style:      baseStyle(),
		Background: "rgb(255, 255, 255)",
	}
	if nativelyFocusable[tag] {
		e.TabIndex = 0
		e.FocusStyle = userAgentFocusRing()
	}
	if tag == "a" || tag == "button" {
		e.Clickable = true
	}
	return e
}

func Button(id, text string) *Element {
	return NewElement("button", id).WithText(text)
}

func Link(id, href, text string) *Element {
	return NewElement("a", id).WithAttr("href", href).WithText(text)
}

func Input(id, label string) *Element {
	e := NewElement("input", id)
	if label != "" {
		e.WithAttr("aria-label", label)
	}
	return e
}

// Div is not focusable unless given a tab index.
func Div(id, text string) *Element {
	e := NewElement("div", id).WithText(text)
	e.Style["display"] = "block"
	return e
}

func (e *Element) WithText(text string) *Element {
	e.Text = text
	return e
}

// WithAttr sets an attribute, keeping derived fields in sync.
func (e *Element) WithAttr(name, value string) *Element {
	e.setAttr(name, value)
	return e
}

func (e *Element) WithTabIndex(n int) *Element {
	return e.WithAttr("tabindex", strconv.Itoa(n))
}

func (e *Element) WithBox(x, y, w, h float64) *Element {
	e.Box = schemas.BoundingBox{X: x, Y: y, Width: w, Height: h}
	return e
}

func (e *Element) WithStyle(prop, value string) *Element {
	e.Style[prop] = value
	return e
}

func (e *Element) WithFocusStyle(prop, value string) *Element {
	if e.FocusStyle == nil {
		e.FocusStyle = schemas.ComputedStyle{}
	}
	e.FocusStyle[prop] = value
	return e
}

// WithoutFocusRing models an author rule like `:focus { outline: none }`.
func (e *Element) WithoutFocusRing() *Element {
	e.FocusStyle = nil
	return e
}

func (e *Element) WithBackground(color string) *Element {
	e.Background = color
	return e
}

// WithClickHandler marks the element as having a click listener.
func (e *Element) WithClickHandler() *Element {
	e.Clickable = true
	e.Attributes["onclick"] = "handle()"
	return e
}

func (e *Element) Hidden() *Element {
	e.Style["display"] = "none"
	return e
}

func (e *Element) WithDisabled() *Element {
	e.Disabled = true
	e.Attributes["disabled"] = ""
	return e
}

func (e *Element) setAttr(name, value string) {
	e.Attributes[name] = value
	switch name {
	case "tabindex":
		if n, err := strconv.Atoi(value); err == nil {
			e.TabIndex = n
		}
	case "aria-label":
		e.Label = value
	case "role":
		e.Role = value
		if value == "button" || value == "link" {
			e.Clickable = true
		}
	}
}

func (e *Element) removeAttr(name string) {
	delete(e.Attributes, name)
	switch name {
	case "tabindex":
		if nativelyFocusable[e.TagName] {
			e.TabIndex = 0
		} else {
			e.TabIndex = -1
		}
	case "aria-label":
		e.Label = ""
	case "role":
		e.Role = ""
	}
}

func (e *Element) focusable() bool {
	if e.Disabled || e.Style.IsHidden() {
		return false
	}
	_, hasTabIndex := e.Attributes["tabindex"]
	return e.TabIndex >= 0 || hasTabIndex
}

func (e *Element) info() schemas.NodeInfo {
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return schemas.NodeInfo{
		Selector:   e.Selector,
		TagName:    e.TagName,
		TabIndex:   e.TabIndex,
		Role:       e.Role,
		Label:      e.Label,
		Text:       e.Text,
		Disabled:   e.Disabled,
		Clickable:  e.Clickable,
		Attributes: attrs,
	}
}

func (e *Element) clone() *Element {
	out := *e
	out.Attributes = make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		out.Attributes[k] = v
	}
	out.Style = e.Style.Clone()
	out.FocusStyle = e.FocusStyle.Clone()
	return &out
}
