// internal/humanoid/pointer.go
package humanoid

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// MinTargetSize is the WCAG 2.5.8 minimum touch target edge in CSS pixels.
const MinTargetSize = 24.0

// Pointer simulates mouse and touch interactions and checks each target
// against keyboard expectations.
type Pointer struct {
	h *Humanoid

	mu        sync.Mutex
	focusPath *schemas.FocusNavigationResult
	walkSteps int
}

// SetFocusPath supplies the keyboard walk used to cross-check pointer
// targets. Without one, the first interaction runs its own walk.
func (p *Pointer) SetFocusPath(res schemas.FocusNavigationResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focusPath = &res
}

// ResetFocusPath forgets the cached walk, e.g. after the DOM changed.
func (p *Pointer) ResetFocusPath() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focusPath = nil
}

// SetWalkSteps bounds the walk a pointer runs on its own.
func (p *Pointer) SetWalkSteps(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.walkSteps = n
}

func (p *Pointer) keyboardPath(ctx context.Context) (schemas.FocusNavigationResult, error) {
	p.mu.Lock()
	cached, steps := p.focusPath, p.walkSteps
	p.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	if steps <= 0 {
		steps = 50
	}
	// The walk moves focus, so restore the starting point afterwards.
	startSel, _, err := p.h.keyboard.activeSelector(ctx)
	if err != nil {
		return schemas.FocusNavigationResult{}, err
	}
	res, err := p.h.keyboard.WalkFocusOrder(ctx, steps)
	if err != nil {
		return res, err
	}
	if startSel == bodySelector {
		err = p.h.ch.Blur(ctx)
	} else {
		err = p.h.ch.Focus(ctx, startSel)
	}
	if err != nil {
		return res, err
	}
	p.SetFocusPath(res)
	return res, nil
}

// moveTo glides the mouse to target along an interpolated path.
func (p *Pointer) moveTo(ctx context.Context, target Vector2D, buttons int64, steps int) error {
	p.h.mu.Lock()
	from := p.h.currentPos
	p.h.mu.Unlock()

	button := schemas.ButtonNone
	if buttons != 0 {
		button = schemas.ButtonLeft
	}
	for _, pt := range p.h.interpolatePath(from, target, steps) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := schemas.MouseEventData{Type: schemas.MouseMove, X: pt.X, Y: pt.Y, Button: button, Buttons: buttons}
		if err := p.h.ch.DispatchMouseEvent(ctx, ev); err != nil {
			return err
		}
		p.h.mu.Lock()
		p.h.currentPos = pt
		p.h.mu.Unlock()
		if err := p.h.sleep(ctx, 8*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pointer) button(ctx context.Context, typ schemas.MouseEventType, at Vector2D) error {
	ev := schemas.MouseEventData{Type: typ, X: at.X, Y: at.Y, Button: schemas.ButtonLeft, ClickCount: 1}
	if typ == schemas.MousePress {
		ev.Buttons = 1
	}
	return p.h.ch.DispatchMouseEvent(ctx, ev)
}

// locate resolves the element and its box. A target with no area cannot be
// interacted with.
func (p *Pointer) locate(ctx context.Context, selector string) (schemas.NodeInfo, schemas.BoundingBox, error) {
	info, err := p.h.ch.QueryElement(ctx, selector)
	if err != nil {
		return schemas.NodeInfo{}, schemas.BoundingBox{}, err
	}
	box, err := p.h.ch.BoundingRect(ctx, selector)
	if err != nil {
		return info, box, err
	}
	return info, box, nil
}

// crossCheck applies the keyboard expectation: anything a pointer can
// activate must also be reachable by Tab.
func (p *Pointer) crossCheck(ctx context.Context, info schemas.NodeInfo, res *schemas.InteractionResult) error {
	path, err := p.keyboardPath(ctx)
	if err != nil {
		return err
	}
	res.KeyboardActivatable = path.Visited(info.Selector)
	if info.Clickable && !res.KeyboardActivatable {
		res.Passed = false
		res.Reasons = append(res.Reasons, "clickable element is not reachable with the keyboard")
	}
	return nil
}

func (p *Pointer) focusAfter(ctx context.Context, res *schemas.InteractionResult) error {
	info, ok, err := p.h.ch.ActiveElement(ctx)
	if err != nil {
		return err
	}
	if ok {
		res.FocusAfter = &info
	}
	return nil
}

// Click moves to selector, presses and releases the left button.
func (p *Pointer) Click(ctx context.Context, selector string) (schemas.InteractionResult, error) {
	began := time.Now()
	res := schemas.InteractionResult{Kind: schemas.InteractionClick, Target: selector, Passed: true}
	defer func() { res.Duration = time.Since(began) }()

	info, box, err := p.locate(ctx, selector)
	if err != nil {
		return res, fmt.Errorf("click %q: %w", selector, err)
	}
	if box.Area() <= 0 {
		res.Passed = false
		res.Reasons = append(res.Reasons, "target has no visible area")
		return res, nil
	}
	// Cross-check before clicking; the walk must not observe effects of the
	// click itself.
	if err := p.crossCheck(ctx, info, &res); err != nil {
		return res, fmt.Errorf("click %q: keyboard cross-check: %w", selector, err)
	}

	target := p.h.aimPoint(box)
	if err := p.moveTo(ctx, target, 0, p.h.cfg.DragSteps); err != nil {
		return res, fmt.Errorf("click %q: move: %w", selector, err)
	}
	if err := p.button(ctx, schemas.MousePress, target); err != nil {
		return res, fmt.Errorf("click %q: press: %w", selector, err)
	}
	holdErr := p.h.sleep(ctx, p.h.clickHoldDuration())
	// Always release, even when the hold was cut short, so the page never
	// sees a stuck button.
	releaseCtx := ctx
	if holdErr != nil {
		releaseCtx = context.WithoutCancel(ctx)
	}
	if err := p.button(releaseCtx, schemas.MouseRelease, target); err != nil {
		return res, fmt.Errorf("click %q: release: %w", selector, err)
	}
	if holdErr != nil {
		return res, holdErr
	}
	if err := p.focusAfter(ctx, &res); err != nil {
		return res, fmt.Errorf("click %q: %w", selector, err)
	}
	p.h.logger.Debug("Click simulated.", zap.String("selector", selector), zap.Bool("passed", res.Passed))
	return res, nil
}

// Drag presses on from, follows an interpolated path to to and releases.
func (p *Pointer) Drag(ctx context.Context, from, to string) (schemas.InteractionResult, error) {
	began := time.Now()
	res := schemas.InteractionResult{Kind: schemas.InteractionDrag, Target: from, Passed: true}
	defer func() { res.Duration = time.Since(began) }()

	fromInfo, fromBox, err := p.locate(ctx, from)
	if err != nil {
		return res, fmt.Errorf("drag from %q: %w", from, err)
	}
	_, toBox, err := p.locate(ctx, to)
	if err != nil {
		return res, fmt.Errorf("drag to %q: %w", to, err)
	}
	if fromBox.Area() <= 0 || toBox.Area() <= 0 {
		res.Passed = false
		res.Reasons = append(res.Reasons, "drag endpoint has no visible area")
		return res, nil
	}

	// Dragging is the pointer-only path; the source must offer a keyboard
	// alternative, which at minimum means being reachable by Tab.
	path, err := p.keyboardPath(ctx)
	if err != nil {
		return res, fmt.Errorf("drag %q: keyboard cross-check: %w", from, err)
	}
	res.KeyboardActivatable = path.Visited(fromInfo.Selector)
	if !res.KeyboardActivatable {
		res.Passed = false
		res.Reasons = append(res.Reasons, "drag source has no keyboard-reachable alternative")
	}

	start, end := p.h.aimPoint(fromBox), p.h.aimPoint(toBox)
	if err := p.moveTo(ctx, start, 0, p.h.cfg.DragSteps/2+1); err != nil {
		return res, fmt.Errorf("drag: approach: %w", err)
	}
	if err := p.button(ctx, schemas.MousePress, start); err != nil {
		return res, fmt.Errorf("drag: press: %w", err)
	}
	moveErr := p.moveTo(ctx, end, 1, p.h.cfg.DragSteps)
	releaseCtx := ctx
	if moveErr != nil {
		releaseCtx = context.WithoutCancel(ctx)
	}
	p.h.mu.Lock()
	releaseAt := p.h.currentPos
	p.h.mu.Unlock()
	if err := p.button(releaseCtx, schemas.MouseRelease, releaseAt); err != nil {
		return res, fmt.Errorf("drag: release: %w", err)
	}
	if moveErr != nil {
		return res, fmt.Errorf("drag: move: %w", moveErr)
	}
	if err := p.focusAfter(ctx, &res); err != nil {
		return res, err
	}
	return res, nil
}

// Tap touches selector and lifts. Touch targets must also meet the minimum
// size.
func (p *Pointer) Tap(ctx context.Context, selector string) (schemas.InteractionResult, error) {
	began := time.Now()
	res := schemas.InteractionResult{Kind: schemas.InteractionTap, Target: selector, Passed: true}
	defer func() { res.Duration = time.Since(began) }()

	info, box, err := p.locate(ctx, selector)
	if err != nil {
		return res, fmt.Errorf("tap %q: %w", selector, err)
	}
	if box.Area() <= 0 {
		res.Passed = false
		res.Reasons = append(res.Reasons, "target has no visible area")
		return res, nil
	}
	if box.Width < MinTargetSize || box.Height < MinTargetSize {
		res.Passed = false
		res.Reasons = append(res.Reasons, fmt.Sprintf("touch target %.0fx%.0f is below %.0fx%.0f", box.Width, box.Height, MinTargetSize, MinTargetSize))
	}
	if err := p.crossCheck(ctx, info, &res); err != nil {
		return res, fmt.Errorf("tap %q: keyboard cross-check: %w", selector, err)
	}

	at := p.h.aimPoint(box)
	point := []schemas.TouchPoint{{X: at.X, Y: at.Y}}
	if err := p.h.ch.DispatchTouchEvent(ctx, schemas.TouchEventData{Type: schemas.TouchStart, Points: point}); err != nil {
		return res, fmt.Errorf("tap %q: touch start: %w", selector, err)
	}
	holdErr := p.h.sleep(ctx, p.h.clickHoldDuration())
	endCtx := ctx
	if holdErr != nil {
		endCtx = context.WithoutCancel(ctx)
	}
	if err := p.h.ch.DispatchTouchEvent(endCtx, schemas.TouchEventData{Type: schemas.TouchEnd}); err != nil {
		return res, fmt.Errorf("tap %q: touch end: %w", selector, err)
	}
	if holdErr != nil {
		return res, holdErr
	}
	if err := p.focusAfter(ctx, &res); err != nil {
		return res, err
	}
	return res, nil
}
