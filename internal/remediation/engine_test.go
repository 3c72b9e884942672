// internal/remediation/engine_test.go
package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/fakepage"
	"github.com/xkilldash9x/focusfix/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.RemediationConfig {
	return config.RemediationConfig{
		MaxConcurrentTasks:  5,
		VerifyEnabled:       true,
		RollbackOnFailure:   true,
		TargetContrastRatio: 4.5,
		OutlineWidthPx:      3,
		OutlineOffsetPx:     2,
		StrategyOrder:       []string{"stylesheet", "rule", "inline"},
	}
}

func newEngine(t *testing.T, page *fakepage.Page, cfg config.RemediationConfig) *Engine {
	t.Helper()
	e, err := NewEngine(page, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

// describe builds the descriptor perception would report for selector.
func describe(t *testing.T, page *fakepage.Page, selector string) schemas.ElementDescriptor {
	t.Helper()
	ctx := context.Background()
	info, err := page.QueryElement(ctx, selector)
	require.NoError(t, err)
	cs, err := page.ComputedStyle(ctx, selector, nil)
	require.NoError(t, err)
	box, err := page.BoundingRect(ctx, selector)
	require.NoError(t, err)
	return schemas.ElementDescriptor{NodeInfo: info, Style: cs, Box: box, InViewport: true}
}

func focusedStyle(t *testing.T, page *fakepage.Page, selector string) schemas.ComputedStyle {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, page.Focus(ctx, selector))
	cs, err := page.ComputedStyle(ctx, selector, indicatorProperties)
	require.NoError(t, err)
	require.NoError(t, page.Blur(ctx))
	return cs
}

func TestRemediateMissingFocusIndicator(t *testing.T) {
	page := fakepage.New("https://example.test/form",
		fakepage.Button("submit", "Submit").WithoutFocusRing(),
	)
	e := newEngine(t, page, testConfig())

	task, err := e.RemediateElement(context.Background(), Target{Element: describe(t, page, "button#submit")})
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusCompleted, task.Status)
	assert.True(t, task.RollbackAvailable)
	require.Len(t, task.AppliedFixes, 1)
	require.Len(t, task.Issues, 1)

	issue := task.Issues[0]
	assert.Equal(t, schemas.IssueMissingFocus, issue.Type)
	assert.Equal(t, schemas.IssueFixed, issue.Status)
	require.Len(t, issue.Attempts, 1)

	attempt := issue.Attempts[0]
	sol := attempt.Solution
	assert.Equal(t, schemas.FixFocusVisible, sol.FixType)
	assert.Contains(t, sol.CSS, ":focus")
	assert.Contains(t, sol.CSS, "outline")
	assert.Greater(t, sol.Confidence, 0.0)
	assert.Contains(t, sol.WCAGCriteria, "2.4.7")

	require.NotNil(t, attempt.Verification)
	assert.True(t, attempt.Verification.Passed)
	assert.True(t, attempt.Verification.Evidence.FocusIndicatorPresent)
	assert.True(t, attempt.Verification.Evidence.VisualChange)
	assert.Equal(t, "stylesheet", attempt.Strategy)
	assert.False(t, task.StartedAt.IsZero())
	assert.False(t, task.CompletedAt.Before(task.StartedAt))
}

func TestRemediateLowContrast(t *testing.T) {
	page := fakepage.New("https://example.test",
		fakepage.Button("pale", "Continue").WithStyle("color", "rgb(164, 164, 164)"),
	)
	e := newEngine(t, page, testConfig())

	issue := schemas.AccessibilityIssue{
		ID:       "contrast-1",
		Type:     schemas.IssueLowContrast,
		Severity: schemas.SeverityMajor,
		Evidence: map[string]interface{}{"ratio": 2.5},
		Status:   schemas.IssueOpen,
	}
	task, err := e.RemediateElement(context.Background(), Target{
		Element: describe(t, page, "button#pale"),
		Issues:  []schemas.AccessibilityIssue{issue},
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusCompleted, task.Status)

	attempt := task.Issues[0].Attempts[0]
	assert.Equal(t, schemas.FixColorContrast, attempt.Solution.FixType)
	assert.Contains(t, attempt.Solution.Description, "2.50:1")
	assert.Contains(t, attempt.Solution.Description, "4.5:1")
	require.NotNil(t, attempt.Verification)
	ev := attempt.Verification.Evidence
	assert.True(t, ev.ContrastImproved)
	assert.GreaterOrEqual(t, ev.ContrastAfter, 4.5)
	assert.Less(t, ev.ContrastBefore, ev.ContrastAfter)
}

func TestRemediateKeyboardInaccessibleAndRollback(t *testing.T) {
	ctx := context.Background()
	page := fakepage.New("https://example.test",
		fakepage.Div("menu", "Menu").WithClickHandler(),
	)
	e := newEngine(t, page, testConfig())

	task, err := e.RemediateElement(ctx, Target{Element: describe(t, page, "div#menu")})
	require.NoError(t, err)
	require.Equal(t, schemas.StatusCompleted, task.Status)
	assert.Equal(t, schemas.IssueKeyboardInaccessible, task.Issues[0].Type)

	attempt := task.Issues[0].Attempts[0]
	assert.Equal(t, "attributes", attempt.Strategy)
	assert.True(t, attempt.Verification.Evidence.KeyboardAccessible)

	el, _ := page.Element("div#menu")
	assert.Equal(t, "0", el.Attributes["tabindex"])
	assert.Equal(t, "button", el.Attributes["role"])

	require.NoError(t, e.RollbackRemediation(ctx, task.ID))
	el, _ = page.Element("div#menu")
	_, hasTab := el.Attributes["tabindex"]
	_, hasRole := el.Attributes["role"]
	assert.False(t, hasTab)
	assert.False(t, hasRole)

	got, ok := e.Task(task.ID)
	require.True(t, ok)
	assert.Equal(t, schemas.StatusRolledBack, got.Status)
	assert.False(t, got.RollbackAvailable)
	assert.Equal(t, schemas.IssueReverted, got.Issues[0].Status)

	err = e.RollbackRemediation(ctx, task.ID)
	assert.ErrorIs(t, err, ErrRollbackUnavailable)
}

func TestRollbackRestoresPreFixStyle(t *testing.T) {
	ctx := context.Background()
	page := fakepage.New("https://example.test",
		fakepage.Button("save", "Save").WithoutFocusRing().WithStyle("border-style", "solid").WithStyle("border-width", "1px"),
	)
	e := newEngine(t, page, testConfig())
	before := focusedStyle(t, page, "button#save")

	task, err := e.RemediateElement(ctx, Target{Element: describe(t, page, "button#save")})
	require.NoError(t, err)
	require.Equal(t, schemas.StatusCompleted, task.Status)
	fixID := task.AppliedFixes[0]
	assert.NotEqual(t, before.Get("outline-style"), focusedStyle(t, page, "button#save").Get("outline-style"))

	require.NoError(t, e.RollbackRemediation(ctx, task.ID))

	after := focusedStyle(t, page, "button#save")
	for _, prop := range []string{"outline-style", "outline-width", "outline-color", "box-shadow", "border-style", "border-width", "border-color"} {
		assert.Equal(t, before.Get(prop), after.Get(prop), prop)
	}
	assert.NotContains(t, strings.Join(page.SheetIDs(), " "), fixID)
	assert.NotContains(t, strings.Join(page.RuleIDs(), " "), fixID)
	assert.Empty(t, page.InjectedCSS())
}

func TestFailedVerificationRollsBack(t *testing.T) {
	page := fakepage.New("https://example.test",
		// An important inline outline wins over any injected rule.
		fakepage.Button("stuck", "Stuck").WithoutFocusRing().WithAttr("style", "outline: none !important"),
	)
	e := newEngine(t, page, testConfig())

	task, err := e.RemediateElement(context.Background(), Target{Element: describe(t, page, "button#stuck")})
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusFailed, task.Status)
	assert.Empty(t, task.AppliedFixes)
	assert.False(t, task.RollbackAvailable)
	require.Len(t, task.Issues, 1)
	assert.Equal(t, schemas.IssueUnfixed, task.Issues[0].Status)

	attempt := task.Issues[0].Attempts[0]
	assert.True(t, attempt.Applied)
	assert.True(t, attempt.RolledBack)
	require.NotNil(t, attempt.Verification)
	assert.False(t, attempt.Verification.Passed)
	assert.Empty(t, page.SheetIDs())
}

func TestFailedVerificationWithoutRollbackKeepsFix(t *testing.T) {
	page := fakepage.New("https://example.test",
		fakepage.Button("stuck", "Stuck").WithoutFocusRing().WithAttr("style", "outline: none !important"),
	)
	cfg := testConfig()
	cfg.RollbackOnFailure = false
	e := newEngine(t, page, cfg)

	task, err := e.RemediateElement(context.Background(), Target{Element: describe(t, page, "button#stuck")})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusFailed, task.Status)
	assert.Len(t, task.AppliedFixes, 1)
	assert.Len(t, page.SheetIDs(), 1)
}

func TestPartialRollbackLeavesStateIntact(t *testing.T) {
	ctx := context.Background()
	page := fakepage.New("https://example.test",
		fakepage.Button("dim", "Dim").WithoutFocusRing().WithStyle("color", "rgb(164, 164, 164)"),
	)
	e := newEngine(t, page, testConfig())

	task, err := e.RemediateElement(ctx, Target{Element: describe(t, page, "button#dim")})
	require.NoError(t, err)
	require.Equal(t, schemas.StatusCompleted, task.Status)
	require.Len(t, task.AppliedFixes, 2)
	assert.Equal(t, schemas.IssueMissingFocus, task.Issues[0].Type)
	assert.Equal(t, schemas.IssueLowContrast, task.Issues[1].Type)

	page.Fail("RemoveStyleSheet", errors.New("sheet is locked"), 1)
	err = e.RollbackRemediation(ctx, task.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialRollback)

	got, _ := e.Task(task.ID)
	assert.Equal(t, schemas.StatusCompleted, got.Status)
	assert.True(t, got.RollbackAvailable)
	assert.NotEmpty(t, got.Error)
	assert.Len(t, page.SheetIDs(), 2, "nothing is removed out of order")

	require.NoError(t, e.RollbackRemediation(ctx, task.ID))
	got, _ = e.Task(task.ID)
	assert.Equal(t, schemas.StatusRolledBack, got.Status)
	assert.Empty(t, page.SheetIDs())
}

func TestRemediateMultipleRespectsConcurrencyBound(t *testing.T) {
	var elements []*fakepage.Element
	var selectors []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("b%d", i)
		elements = append(elements, fakepage.Button(id, "Item").WithoutFocusRing())
		selectors = append(selectors, "button#"+id)
	}
	page := fakepage.New("https://example.test/list", elements...)
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 5
	e := newEngine(t, page, cfg)

	targets := make([]Target, len(selectors))
	for i, sel := range selectors {
		targets[i] = Target{Element: describe(t, page, sel)}
	}
	page.SetLatency(time.Millisecond)

	var maxSeen atomic.Int32
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			n := int32(0)
			for _, task := range e.Tasks() {
				if task.Status == schemas.StatusInProgress {
					n++
				}
			}
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(200 * time.Microsecond)
		}
	}()

	tasks, err := e.RemediateMultipleElements(context.Background(), targets)
	close(stop)
	wg.Wait()
	require.NoError(t, err)

	require.Len(t, tasks, 20)
	for _, task := range tasks {
		assert.Equal(t, schemas.StatusCompleted, task.Status, task.Element.Selector)
	}
	assert.LessOrEqual(t, maxSeen.Load(), int32(5))
	assert.Greater(t, maxSeen.Load(), int32(0))
	assert.Len(t, page.SheetIDs(), 20)
}

func TestRemediateMultipleMergesDuplicateSelectors(t *testing.T) {
	page := fakepage.New("https://example.test/form",
		fakepage.Button("submit", "Submit").WithoutFocusRing(),
		fakepage.Button("cancel", "Cancel").WithoutFocusRing(),
	)
	e := newEngine(t, page, testConfig())

	submit := describe(t, page, "button#submit")
	targets := []Target{
		{Element: submit},
		{Element: describe(t, page, "button#cancel")},
		{Element: submit},
	}
	tasks, err := e.RemediateMultipleElements(context.Background(), targets)
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Len(t, e.Tasks(), 2)
	for _, task := range tasks {
		assert.Equal(t, schemas.StatusCompleted, task.Status, task.Element.Selector)
		assert.Len(t, task.AppliedFixes, 1, task.Element.Selector)
	}
	assert.Len(t, page.SheetIDs(), 2)
	cs := focusedStyle(t, page, "button#submit")
	assert.NotEqual(t, "none", cs.Get("outline-style"))
}

func TestMergeTargets(t *testing.T) {
	el := schemas.ElementDescriptor{NodeInfo: schemas.NodeInfo{Selector: "a#help"}}
	focus := schemas.AccessibilityIssue{ID: "i1", Type: schemas.IssueMissingFocus}
	contrast := schemas.AccessibilityIssue{ID: "i2", Type: schemas.IssueLowContrast}
	other := schemas.ElementDescriptor{NodeInfo: schemas.NodeInfo{Selector: "a#home"}}

	got := mergeTargets([]Target{
		{Element: el, Issues: []schemas.AccessibilityIssue{focus}},
		{Element: other},
		{Element: el, Issues: []schemas.AccessibilityIssue{focus, contrast}},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a#help", got[0].Element.Selector)
	require.Len(t, got[0].Issues, 2)
	assert.Equal(t, schemas.IssueMissingFocus, got[0].Issues[0].Type)
	assert.Equal(t, schemas.IssueLowContrast, got[0].Issues[1].Type)

	got = mergeTargets([]Target{
		{Element: el, Issues: []schemas.AccessibilityIssue{focus}},
		{Element: el},
	})
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Issues, "an undetected duplicate sends the element back to detection")
}

func TestRemediateMultipleHonoursCancellation(t *testing.T) {
	page := fakepage.New("https://example.test", fakepage.Button("a", "A").WithoutFocusRing())
	e := newEngine(t, page, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tasks, err := e.RemediateMultipleElements(ctx, []Target{{Element: describe(t, page, "button#a")}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tasks)
	assert.Empty(t, e.Tasks())
}

func TestPanicInOneTaskDoesNotAbortBatch(t *testing.T) {
	page := fakepage.New("https://example.test",
		fakepage.Button("a", "A").WithoutFocusRing(),
		fakepage.Button("b", "B").WithoutFocusRing(),
		fakepage.Button("c", "C").WithoutFocusRing(),
	)
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 1
	e := newEngine(t, page, cfg)

	var calls atomic.Int32
	e.generator.newID = func() string {
		if calls.Add(1) == 1 {
			panic("generator exploded")
		}
		return fmt.Sprintf("sol-%d", calls.Load())
	}

	targets := []Target{
		{Element: describe(t, page, "button#a")},
		{Element: describe(t, page, "button#b")},
		{Element: describe(t, page, "button#c")},
	}
	tasks, err := e.RemediateMultipleElements(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, schemas.StatusFailed, tasks[0].Status)
	assert.Contains(t, tasks[0].Error, "generator exploded")
	assert.Equal(t, schemas.StatusCompleted, tasks[1].Status)
	assert.Equal(t, schemas.StatusCompleted, tasks[2].Status)
}

func TestSessionLossFailsTask(t *testing.T) {
	page := fakepage.New("https://example.test", fakepage.Button("a", "A").WithoutFocusRing())
	e := newEngine(t, page, testConfig())
	target := Target{Element: describe(t, page, "button#a")}
	page.Lose()

	task, err := e.RemediateElement(context.Background(), target)
	require.Error(t, err)
	assert.True(t, schemas.IsSessionError(err))
	assert.Equal(t, schemas.StatusFailed, task.Status)
}

func TestLowConfidenceFixesAreNotApplied(t *testing.T) {
	page := fakepage.New("https://example.test", fakepage.Button("a", "A").WithoutFocusRing())
	cfg := testConfig()
	cfg.MinConfidence = 0.95
	e := newEngine(t, page, cfg)

	task, err := e.RemediateElement(context.Background(), Target{Element: describe(t, page, "button#a")})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusFailed, task.Status)
	assert.Contains(t, task.Issues[0].Attempts[0].Error, "below minimum")
	assert.Zero(t, page.CallCount("AddStyleSheet"))
}

func TestVerificationDisabledTrustsInjection(t *testing.T) {
	page := fakepage.New("https://example.test", fakepage.Button("a", "A").WithoutFocusRing())
	cfg := testConfig()
	cfg.VerifyEnabled = false
	e := newEngine(t, page, cfg)

	task, err := e.RemediateElement(context.Background(), Target{Element: describe(t, page, "button#a")})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusCompleted, task.Status)
	assert.Nil(t, task.Issues[0].Attempts[0].Verification)
}

func TestScreenshotEvidence(t *testing.T) {
	page := fakepage.New("https://example.test", fakepage.Button("a", "A").WithoutFocusRing())
	cfg := testConfig()
	cfg.CaptureScreenshots = true
	e := newEngine(t, page, cfg)

	task, err := e.RemediateElement(context.Background(), Target{Element: describe(t, page, "button#a")})
	require.NoError(t, err)
	ev := task.Issues[0].Attempts[0].Verification.Evidence
	assert.NotEmpty(t, ev.ScreenshotBefore)
	assert.NotEqual(t, ev.ScreenshotBefore, ev.ScreenshotAfter)
}

func TestRollbackErrors(t *testing.T) {
	page := fakepage.New("https://example.test", fakepage.Button("ok", "OK"))
	e := newEngine(t, page, testConfig())

	err := e.RollbackRemediation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	// A well-formed button has nothing to fix, so there is nothing to roll back.
	task, err := e.RemediateElement(context.Background(), Target{Element: describe(t, page, "button#ok")})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusCompleted, task.Status)
	assert.Empty(t, task.Issues)
	assert.False(t, task.RollbackAvailable)
	assert.ErrorIs(t, e.RollbackRemediation(context.Background(), task.ID), ErrRollbackUnavailable)
}

func TestReport(t *testing.T) {
	page := fakepage.New("https://example.test",
		fakepage.Button("good", "Good").WithoutFocusRing(),
		fakepage.Button("stuck", "Stuck").WithoutFocusRing().WithAttr("style", "outline: none !important"),
	)
	e := newEngine(t, page, testConfig())
	_, err := e.RemediateMultipleElements(context.Background(), []Target{
		{Element: describe(t, page, "button#good")},
		{Element: describe(t, page, "button#stuck")},
	})
	require.NoError(t, err)

	r := e.Report()
	assert.Equal(t, 2, r.Total)
	assert.Equal(t, 1, r.Successful)
	assert.Equal(t, 1, r.Failed)

	md := r.Markdown(false)
	assert.Contains(t, md, "- Total tasks: 2")
	assert.Contains(t, md, "- Successful: 1")
	assert.Contains(t, md, "- Failed: 1")
	assert.Contains(t, md, "`button#good` | completed | 1 |")
	assert.NotContains(t, md, "### missing-focus")

	itemized := r.Markdown(true)
	assert.Contains(t, itemized, "### missing-focus")
	assert.Contains(t, itemized, "2.4.7")
	assert.Contains(t, itemized, "failed verification (rolled back)")
}
