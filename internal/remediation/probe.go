// internal/remediation/probe.go
package remediation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/style"
	"github.com/xkilldash9x/focusfix/internal/injection"
)

// Channel is what detection, injection and verification need from the
// control channel.
type Channel interface {
	injection.Channel
	Focus(ctx context.Context, selector string) error
	Blur(ctx context.Context) error
	ActiveElement(ctx context.Context) (schemas.NodeInfo, bool, error)
	QueryElement(ctx context.Context, selector string) (schemas.NodeInfo, error)
	ComputedStyle(ctx context.Context, selector string, properties []string) (schemas.ComputedStyle, error)
	EffectiveBackground(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context, selector string) ([]byte, error)
}

// indicatorProperties are the properties a focus indicator can be drawn with.
var indicatorProperties = []string{
	"outline-style", "outline-width", "outline-color", "outline-offset",
	"box-shadow", "border-style", "border-width", "border-color",
	"color", "background-color",
}

// probe serializes reads that depend on which element has focus. The page
// has one focused element, so concurrent tasks take turns.
type probe struct {
	ch Channel
	mu sync.Mutex
}

// styles returns the element's indicator styles unfocused and focused.
func (p *probe) styles(ctx context.Context, selector string) (rest, focused schemas.ComputedStyle, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Blur(ctx); err != nil {
		return nil, nil, err
	}
	rest, err = p.ch.ComputedStyle(ctx, selector, indicatorProperties)
	if err != nil {
		return nil, nil, err
	}
	if err := p.ch.Focus(ctx, selector); err != nil {
		return nil, nil, err
	}
	focused, err = p.ch.ComputedStyle(ctx, selector, indicatorProperties)
	if blurErr := p.ch.Blur(ctx); err == nil {
		err = blurErr
	}
	return rest, focused, err
}

// focusable reports whether programmatic focus lands on the element.
func (p *probe) focusable(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Focus(ctx, selector); err != nil {
		return false, err
	}
	active, ok, err := p.ch.ActiveElement(ctx)
	if blurErr := p.ch.Blur(ctx); err == nil {
		err = blurErr
	}
	if err != nil {
		return false, err
	}
	return ok && active.Selector == selector, nil
}

// screenshot captures the element focused, so focus styling is in frame.
func (p *probe) screenshot(ctx context.Context, selector string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Focus(ctx, selector); err != nil {
		return nil, err
	}
	shot, err := p.ch.Screenshot(ctx, selector)
	if blurErr := p.ch.Blur(ctx); err == nil {
		err = blurErr
	}
	return shot, err
}

// contrast measures the text contrast of the element against what is behind it.
func (p *probe) contrast(ctx context.Context, selector string) (fg, bg style.Color, ratio float64, err error) {
	cs, err := p.ch.ComputedStyle(ctx, selector, []string{"color"})
	if err != nil {
		return fg, bg, 0, err
	}
	bgValue, err := p.ch.EffectiveBackground(ctx, selector)
	if err != nil {
		return fg, bg, 0, err
	}
	bg, ok := style.ParseColor(bgValue)
	if !ok || bg.IsTransparent() {
		bg = style.White
	}
	bg = bg.Over(style.White)
	fg, ok = style.ParseColor(cs.Get("color"))
	if !ok {
		return fg, bg, 0, fmt.Errorf("unparseable text color %q on %q", cs.Get("color"), selector)
	}
	fg = fg.Over(bg)
	return fg, bg, style.ContrastRatio(fg, bg), nil
}

// hasIndicator reports whether focusing visibly changes the element: an
// outline, or a changed box-shadow, border or background.
func hasIndicator(rest, focused schemas.ComputedStyle) bool {
	if outlineVisible(focused) && !sameOutline(rest, focused) {
		return true
	}
	if outlineVisible(focused) && outlineVisible(rest) {
		// A permanent outline still indicates nothing about focus.
		return false
	}
	if sh := focused.Get("box-shadow"); sh != "" && sh != "none" && sh != rest.Get("box-shadow") {
		return true
	}
	if borderVisible(focused) && !sameBorder(rest, focused) {
		return true
	}
	return focused.Get("background-color") != rest.Get("background-color")
}

func outlineVisible(cs schemas.ComputedStyle) bool {
	switch cs.Get("outline-style") {
	case "", "none", "hidden":
		return false
	}
	return pixels(cs.Get("outline-width")) > 0
}

func borderVisible(cs schemas.ComputedStyle) bool {
	switch cs.Get("border-style") {
	case "", "none", "hidden":
		return false
	}
	return pixels(cs.Get("border-width")) > 0
}

func sameOutline(a, b schemas.ComputedStyle) bool {
	return a.Get("outline-style") == b.Get("outline-style") &&
		a.Get("outline-width") == b.Get("outline-width") &&
		a.Get("outline-color") == b.Get("outline-color")
}

func sameBorder(a, b schemas.ComputedStyle) bool {
	return a.Get("border-style") == b.Get("border-style") &&
		a.Get("border-width") == b.Get("border-width") &&
		a.Get("border-color") == b.Get("border-color")
}

// pixels parses a computed length such as "2px". Keywords are approximated.
func pixels(v string) float64 {
	switch v {
	case "thin":
		return 1
	case "medium":
		return 3
	case "thick":
		return 5
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	if err != nil {
		return 0
	}
	return f
}
