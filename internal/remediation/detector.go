// internal/remediation/detector.go
package remediation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// interactiveRoles are ARIA roles whose elements must take keyboard focus.
var interactiveRoles = map[string]bool{
	"button": true, "link": true, "checkbox": true, "menuitem": true,
	"tab": true, "switch": true, "option": true, "radio": true, "textbox": true,
}

// Detector finds accessibility issues on a single element.
type Detector struct {
	probe *probe
	level schemas.WCAGLevel
	newID func() string
}

func newDetector(p *probe, level schemas.WCAGLevel) *Detector {
	return &Detector{probe: p, level: level, newID: uuid.NewString}
}

// Detect inspects el on the live page and returns its issues in remediation
// preference order.
func (d *Detector) Detect(ctx context.Context, el schemas.ElementDescriptor) ([]schemas.AccessibilityIssue, error) {
	return d.DetectAt(ctx, el, d.level)
}

// DetectAt is Detect against an explicit conformance level.
func (d *Detector) DetectAt(ctx context.Context, el schemas.ElementDescriptor, level schemas.WCAGLevel) ([]schemas.AccessibilityIssue, error) {
	if level == "" {
		level = d.level
	}
	var issues []schemas.AccessibilityIssue
	focusable := el.TabIndex >= 0 && !el.Disabled

	if el.Clickable && !focusable && !el.Disabled {
		issues = append(issues, d.issue(schemas.IssueKeyboardInaccessible, schemas.SeverityCritical,
			[]string{"2.1.1"},
			fmt.Sprintf("%s responds to pointer input but cannot receive keyboard focus", el.Selector),
			map[string]interface{}{"tabIndex": el.TabIndex, "role": el.Role}))
	}

	if focusable {
		rest, focused, err := d.probe.styles(ctx, el.Selector)
		if err != nil {
			return nil, fmt.Errorf("detect focus indicator on %q: %w", el.Selector, err)
		}
		if !hasIndicator(rest, focused) {
			issues = append(issues, d.issue(schemas.IssueMissingFocus, schemas.SeverityMajor,
				[]string{"2.4.7"},
				fmt.Sprintf("%s shows no visible change when focused", el.Selector),
				map[string]interface{}{
					"outlineStyle": focused.Get("outline-style"),
					"outlineWidth": focused.Get("outline-width"),
					"boxShadow":    focused.Get("box-shadow"),
				}))
		}
	}

	if strings.TrimSpace(el.Text) != "" {
		fg, bg, ratio, err := d.probe.contrast(ctx, el.Selector)
		if err != nil && schemas.IsSessionError(err) {
			return nil, err
		}
		if err == nil && ratio < level.MinimumContrast() {
			issues = append(issues, d.issue(schemas.IssueLowContrast, contrastSeverity(ratio),
				[]string{"1.4.3"},
				fmt.Sprintf("%s text contrast is %.2f:1, below %.1f:1", el.Selector, ratio, level.MinimumContrast()),
				map[string]interface{}{"ratio": ratio, "foreground": fg.Hex(), "background": bg.Hex()}))
		}
	}

	if needsName(el) && accessibleName(el) == "" {
		issues = append(issues, d.issue(schemas.IssueMissingLabel, schemas.SeverityMinor,
			[]string{"4.1.2"},
			fmt.Sprintf("%s has no accessible name", el.Selector),
			nil))
	}

	for i := range issues {
		issues[i].Selector = el.Selector
	}
	sortIssues(issues)
	return issues, nil
}

func (d *Detector) issue(t schemas.IssueType, sev schemas.Severity, criteria []string, desc string, evidence map[string]interface{}) schemas.AccessibilityIssue {
	return schemas.AccessibilityIssue{
		ID:           d.newID(),
		Type:         t,
		Severity:     sev,
		WCAGCriteria: criteria,
		Description:  desc,
		Evidence:     evidence,
		Status:       schemas.IssueOpen,
	}
}

func contrastSeverity(ratio float64) schemas.Severity {
	if ratio < 3.0 {
		return schemas.SeverityMajor
	}
	return schemas.SeverityMinor
}

func needsName(el schemas.ElementDescriptor) bool {
	switch el.TagName {
	case "button", "a", "input", "select", "textarea":
		return true
	}
	return interactiveRoles[el.Role]
}

func accessibleName(el schemas.ElementDescriptor) string {
	for _, v := range []string{el.Label, el.Attributes["aria-labelledby"], el.Attributes["title"], el.Text} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// sortIssues orders issues by type preference, then by severity.
func sortIssues(issues []schemas.AccessibilityIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Type.Rank() != b.Type.Rank() {
			return a.Type.Rank() < b.Type.Rank()
		}
		return a.Severity.Weight() > b.Severity.Weight()
	})
}
