// internal/remediation/report.go
package remediation

import (
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// TaskSummary is one row of a remediation report.
type TaskSummary struct {
	ID       string                       `json:"id"`
	Selector string                       `json:"selector"`
	Status   schemas.RemediationStatus    `json:"status"`
	Fixes    int                          `json:"fixes"`
	Duration time.Duration                `json:"duration"`
	Error    string                       `json:"error,omitempty"`
	Issues   []schemas.AccessibilityIssue `json:"issues,omitempty"`
}

// Report aggregates every task the engine has run.
type Report struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Failed      int           `json:"failed"`
	RolledBack  int           `json:"rolledBack"`
	Pending     int           `json:"pending"`
	Tasks       []TaskSummary `json:"tasks"`
}

// Report summarizes the engine's tasks. Rolled-back tasks had succeeded and
// are counted separately from Successful.
func (e *Engine) Report() Report {
	tasks := e.Tasks()
	r := Report{GeneratedAt: e.now(), Total: len(tasks), Tasks: make([]TaskSummary, 0, len(tasks))}
	for _, t := range tasks {
		switch t.Status {
		case schemas.StatusCompleted:
			r.Successful++
		case schemas.StatusFailed:
			r.Failed++
		case schemas.StatusRolledBack:
			r.RolledBack++
		default:
			r.Pending++
		}
		r.Tasks = append(r.Tasks, TaskSummary{
			ID:       t.ID,
			Selector: t.Element.Selector,
			Status:   t.Status,
			Fixes:    len(t.AppliedFixes),
			Duration: t.Duration(),
			Error:    t.Error,
			Issues:   t.Issues,
		})
	}
	return r
}

// Markdown renders the report. With itemized set every issue is listed with
// its attempts and verification evidence.
func (r Report) Markdown(itemized bool) string {
	var sb strings.Builder
	sb.WriteString("# Remediation Report\n\n")
	fmt.Fprintf(&sb, "- Total tasks: %d\n", r.Total)
	fmt.Fprintf(&sb, "- Successful: %d\n", r.Successful)
	fmt.Fprintf(&sb, "- Failed: %d\n", r.Failed)
	if r.RolledBack > 0 {
		fmt.Fprintf(&sb, "- Rolled back: %d\n", r.RolledBack)
	}
	if r.Pending > 0 {
		fmt.Fprintf(&sb, "- Pending: %d\n", r.Pending)
	}

	if len(r.Tasks) == 0 {
		return sb.String()
	}
	sb.WriteString("\n| Task | Element | Status | Fixes | Duration |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, t := range r.Tasks {
		fmt.Fprintf(&sb, "| %s | `%s` | %s | %d | %s |\n",
			shortID(t.ID), t.Selector, t.Status, t.Fixes, t.Duration.Round(time.Millisecond))
	}

	if !itemized {
		return sb.String()
	}
	for _, t := range r.Tasks {
		fmt.Fprintf(&sb, "\n## `%s` (%s)\n", t.Selector, t.Status)
		if t.Error != "" {
			fmt.Fprintf(&sb, "\n> %s\n", t.Error)
		}
		if len(t.Issues) == 0 {
			sb.WriteString("\nNo issues detected.\n")
			continue
		}
		for _, is := range t.Issues {
			fmt.Fprintf(&sb, "\n### %s (%s, WCAG %s): %s\n\n%s\n",
				is.Type, is.Severity, strings.Join(is.WCAGCriteria, ", "), is.Status, is.Description)
			for n, a := range is.Attempts {
				writeAttempt(&sb, n+1, a)
			}
		}
	}
	return sb.String()
}

func writeAttempt(sb *strings.Builder, n int, a schemas.RemediationAttempt) {
	fmt.Fprintf(sb, "\n%d. %s", n, a.Solution.Description)
	if a.Strategy != "" {
		fmt.Fprintf(sb, " via %s", a.Strategy)
	}
	switch {
	case a.Error != "":
		fmt.Fprintf(sb, ": error: %s", a.Error)
	case a.Verification != nil && a.Verification.Passed:
		sb.WriteString(": verified")
	case a.Verification != nil:
		sb.WriteString(": failed verification")
	case a.Applied:
		sb.WriteString(": applied")
	}
	if a.RolledBack {
		sb.WriteString(" (rolled back)")
	}
	sb.WriteByte('\n')
	if a.Solution.CSS != "" {
		fmt.Fprintf(sb, "\n   ```css\n   %s\n   ```\n", a.Solution.CSS)
	}
	if v := a.Verification; v != nil {
		ev := v.Evidence
		fmt.Fprintf(sb, "   - visual change: %t, focus indicator: %t, contrast improved: %t, keyboard accessible: %t, label: %t\n",
			ev.VisualChange, ev.FocusIndicatorPresent, ev.ContrastImproved, ev.KeyboardAccessible, ev.LabelPresent)
		if ev.ContrastBefore > 0 || ev.ContrastAfter > 0 {
			fmt.Fprintf(sb, "   - contrast: %.2f:1 -> %.2f:1\n", ev.ContrastBefore, ev.ContrastAfter)
		}
		if ev.ScreenshotBefore != "" {
			fmt.Fprintf(sb, "   - screenshots: %s -> %s\n", ev.ScreenshotBefore, ev.ScreenshotAfter)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
