// internal/remediation/verifier.go
package remediation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// baseline is the element as it looked before a fix was applied.
type baseline struct {
	rest       schemas.ComputedStyle
	focused    schemas.ComputedStyle
	contrast   float64
	screenshot []byte
}

// Verifier re-inspects an element after a fix and classifies it.
type Verifier struct {
	probe       *probe
	screenshots bool
	now         func() time.Time
}

func newVerifier(p *probe, screenshots bool) *Verifier {
	return &Verifier{probe: p, screenshots: screenshots, now: time.Now}
}

// capture records what verification of sol will compare against.
func (v *Verifier) capture(ctx context.Context, sol schemas.CSSFixSolution) (baseline, error) {
	var b baseline
	var err error
	switch sol.FixType {
	case schemas.FixFocusVisible:
		if b.rest, b.focused, err = v.probe.styles(ctx, sol.TargetSelector); err != nil {
			return b, err
		}
	case schemas.FixColorContrast:
		if _, _, b.contrast, err = v.probe.contrast(ctx, sol.TargetSelector); err != nil {
			return b, err
		}
	}
	if v.wantsScreenshot(sol) {
		shot, err := v.probe.screenshot(ctx, sol.TargetSelector)
		if err != nil && schemas.IsSessionError(err) {
			return b, err
		}
		b.screenshot = shot
	}
	return b, nil
}

func (v *Verifier) wantsScreenshot(sol schemas.CSSFixSolution) bool {
	if !v.screenshots || !v.probe.ch.Capabilities().CaptureScreenshots {
		return false
	}
	return sol.FixType == schemas.FixFocusVisible || sol.FixType == schemas.FixColorContrast
}

// Verify inspects the element after sol was applied. Only session errors are
// returned; anything else the page fails to report counts against the fix.
func (v *Verifier) Verify(ctx context.Context, sol schemas.CSSFixSolution, before baseline) (schemas.VerificationResult, error) {
	ev := schemas.VerificationEvidence{Notes: map[string]string{}}
	var passed bool

	switch sol.FixType {
	case schemas.FixFocusVisible:
		rest, focused, err := v.probe.styles(ctx, sol.TargetSelector)
		if err != nil {
			if schemas.IsSessionError(err) {
				return schemas.VerificationResult{}, err
			}
			ev.Notes["error"] = err.Error()
			break
		}
		ev.StyleBefore, ev.StyleAfter = before.focused, focused
		ev.FocusIndicatorPresent = hasIndicator(rest, focused)
		ev.VisualChange = !cmp.Equal(before.focused, focused, cmpopts.EquateEmpty())

	case schemas.FixColorContrast:
		_, _, after, err := v.probe.contrast(ctx, sol.TargetSelector)
		if err != nil {
			if schemas.IsSessionError(err) {
				return schemas.VerificationResult{}, err
			}
			ev.Notes["error"] = err.Error()
			break
		}
		ev.ContrastBefore, ev.ContrastAfter = before.contrast, after
		ev.ContrastImproved = after > before.contrast+0.01
		ev.VisualChange = ev.ContrastImproved
		passed = ev.ContrastImproved

	case schemas.FixKeyboardNavigation:
		ok, err := v.probe.focusable(ctx, sol.TargetSelector)
		if err != nil {
			if schemas.IsSessionError(err) {
				return schemas.VerificationResult{}, err
			}
			ev.Notes["error"] = err.Error()
			break
		}
		ev.KeyboardAccessible = ok
		passed = ok

	case schemas.FixAccessibleName:
		info, err := v.probe.ch.QueryElement(ctx, sol.TargetSelector)
		if err != nil {
			if schemas.IsSessionError(err) {
				return schemas.VerificationResult{}, err
			}
			ev.Notes["error"] = err.Error()
			break
		}
		ev.LabelPresent = info.Label != ""
		passed = ev.LabelPresent

	default:
		ev.Notes["error"] = fmt.Sprintf("no verification for fix type %q", sol.FixType)
	}

	if before.screenshot != nil {
		after, err := v.probe.screenshot(ctx, sol.TargetSelector)
		if err != nil && schemas.IsSessionError(err) {
			return schemas.VerificationResult{}, err
		}
		if err == nil {
			ev.ScreenshotBefore, ev.ScreenshotAfter = fingerprint(before.screenshot), fingerprint(after)
			if !bytes.Equal(before.screenshot, after) {
				ev.VisualChange = true
			}
		}
	}
	if sol.FixType == schemas.FixFocusVisible {
		passed = ev.VisualChange && ev.FocusIndicatorPresent
	}
	if len(ev.Notes) == 0 {
		ev.Notes = nil
	}

	return schemas.VerificationResult{
		Passed:     passed,
		Confidence: confidenceOf(sol, passed),
		Evidence:   ev,
		CheckedAt:  v.now(),
	}, nil
}

// fingerprint identifies a capture in evidence without embedding the image.
func fingerprint(png []byte) string {
	sum := sha256.Sum256(png)
	return hex.EncodeToString(sum[:8])
}

func confidenceOf(sol schemas.CSSFixSolution, passed bool) float64 {
	if !passed {
		return 0
	}
	return sol.Confidence
}
