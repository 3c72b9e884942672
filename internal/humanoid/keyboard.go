// internal/humanoid/keyboard.go
package humanoid

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// bodySelector stands for focus resting on the document itself.
const bodySelector = "body"

// Keyboard simulates key presses and Tab-order walks.
type Keyboard struct {
	h *Humanoid
}

var modifierNames = map[string]schemas.KeyModifier{
	"ctrl": schemas.ModCtrl, "control": schemas.ModCtrl,
	"shift": schemas.ModShift,
	"alt":   schemas.ModAlt, "option": schemas.ModAlt,
	"meta": schemas.ModMeta, "cmd": schemas.ModMeta, "command": schemas.ModMeta,
}

var keyAliases = map[string]string{
	"tab": "Tab", "enter": "Enter", "return": "Enter", "esc": "Escape", "escape": "Escape",
	"space": " ", "backspace": "Backspace", "delete": "Delete",
	"up": "ArrowUp", "down": "ArrowDown", "left": "ArrowLeft", "right": "ArrowRight",
	"arrowup": "ArrowUp", "arrowdown": "ArrowDown", "arrowleft": "ArrowLeft", "arrowright": "ArrowRight",
	"home": "Home", "end": "End", "pageup": "PageUp", "pagedown": "PageDown",
}

// ParseKeyExpression turns "shift+Tab" or "ctrl+a" into a key event.
func ParseKeyExpression(expr string) (schemas.KeyEventData, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return schemas.KeyEventData{}, fmt.Errorf("humanoid: empty key expression")
	}
	if expr == "+" || expr == " " {
		return schemas.KeyEventData{Key: expr}, nil
	}
	parts := strings.Split(expr, "+")
	var data schemas.KeyEventData
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if i < len(parts)-1 {
			mod, ok := modifierNames[strings.ToLower(part)]
			if !ok {
				return schemas.KeyEventData{}, fmt.Errorf("humanoid: unknown modifier %q in %q", part, expr)
			}
			data.Modifiers |= mod
			continue
		}
		if part == "" {
			return schemas.KeyEventData{}, fmt.Errorf("humanoid: missing key in %q", expr)
		}
		if alias, ok := keyAliases[strings.ToLower(part)]; ok {
			part = alias
		}
		data.Key = part
	}
	return data, nil
}

// press sends one key with a human hold time and settles briefly after.
func (k *Keyboard) press(ctx context.Context, data schemas.KeyEventData) error {
	if err := k.h.ch.DispatchKey(ctx, data); err != nil {
		return err
	}
	return k.h.sleep(ctx, k.h.keyHoldDuration())
}

// SimulateKeySequence presses each key expression in order, pausing between
// keys like a person would.
func (k *Keyboard) SimulateKeySequence(ctx context.Context, keys []string) error {
	events := make([]schemas.KeyEventData, 0, len(keys))
	for _, expr := range keys {
		data, err := ParseKeyExpression(expr)
		if err != nil {
			return err
		}
		events = append(events, data)
	}
	for i, data := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if err := k.h.sleep(ctx, k.h.keyPauseDuration()); err != nil {
				return err
			}
		}
		if err := k.press(ctx, data); err != nil {
			return fmt.Errorf("humanoid: key %q: %w", keys[i], err)
		}
	}
	return nil
}

// Type focuses selector and types text one character at a time.
func (k *Keyboard) Type(ctx context.Context, selector, text string) error {
	if err := k.h.ch.Focus(ctx, selector); err != nil {
		return fmt.Errorf("humanoid: failed to focus selector '%s': %w", selector, err)
	}
	for i, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if err := k.h.sleep(ctx, k.h.keyPauseDuration()); err != nil {
				return err
			}
		}
		if err := k.press(ctx, schemas.KeyEventData{Key: string(r)}); err != nil {
			return fmt.Errorf("humanoid: failed to send key '%c': %w", r, err)
		}
	}
	return nil
}

// activeSelector reads the focused element. Focus on the document reports
// bodySelector and a nil descriptor.
func (k *Keyboard) activeSelector(ctx context.Context) (string, *schemas.NodeInfo, error) {
	info, ok, err := k.h.ch.ActiveElement(ctx)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return bodySelector, nil, nil
	}
	return info.Selector, &info, nil
}

// WalkFocusOrder presses Tab up to maxSteps times and records where focus
// lands after each press.
//
// The walk succeeds once focus comes back to where it started. A trap is
// flagged when the focused element repeats within the trailing window
// before that happens; the walk then stops, since Tab cannot leave the
// trapped region.
func (k *Keyboard) WalkFocusOrder(ctx context.Context, maxSteps int) (schemas.FocusNavigationResult, error) {
	began := time.Now()
	result := schemas.FocusNavigationResult{FocusPath: []schemas.NodeInfo{}, FocusTraps: []schemas.FocusTrap{}}
	finish := func() schemas.FocusNavigationResult {
		result.NavigationTime = time.Since(began)
		if n := len(result.FocusPath); n > 0 {
			end := result.FocusPath[n-1]
			result.End = &end
		}
		return result
	}

	startSel, startInfo, err := k.activeSelector(ctx)
	if err != nil {
		return finish(), fmt.Errorf("humanoid: read initial focus: %w", err)
	}
	result.Start = startInfo

	window := k.h.cfg.TrapWindow
	visits := []string{startSel}
	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return finish(), err
		}
		if step > 1 {
			if err := k.h.sleep(ctx, k.h.keyPauseDuration()); err != nil {
				return finish(), err
			}
		}
		if err := k.press(ctx, schemas.KeyEventData{Key: "Tab"}); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return finish(), fmt.Errorf("humanoid: tab press %d: %w", step, err)
		}
		sel, info, err := k.activeSelector(ctx)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			return finish(), fmt.Errorf("humanoid: read focus after step %d: %w", step, err)
		}
		if info != nil {
			result.FocusPath = append(result.FocusPath, *info)
		}

		if sel == startSel {
			result.Success = true
			return finish(), nil
		}

		if cycle := trailingCycle(visits, sel, window); cycle != nil {
			result.FocusTraps = append(result.FocusTraps, schemas.FocusTrap{Position: step, Cycle: cycle})
			k.h.logger.Info("Focus trap detected.",
				zap.Int("position", step),
				zap.Strings("cycle", cycle))
			return finish(), nil
		}
		visits = append(visits, sel)
	}

	// Ran out of steps without wrapping or trapping. Long tab orders are
	// not a defect.
	result.Success = true
	return finish(), nil
}

// trailingCycle reports the repeating run when sel already appears among the
// last window-1 visits, oldest first. Focus landing on the body is passage
// through browser UI and never forms a cycle.
func trailingCycle(visits []string, sel string, window int) []string {
	if sel == bodySelector {
		return nil
	}
	lo := len(visits) - (window - 1)
	if lo < 0 {
		lo = 0
	}
	for i := len(visits) - 1; i >= lo; i-- {
		if visits[i] != sel {
			continue
		}
		cycle := append([]string(nil), visits[i:]...)
		for _, c := range cycle {
			if c == bodySelector {
				return nil
			}
		}
		return cycle
	}
	return nil
}
