package schemas

import (
	"fmt"
	"time"
)

// -- Remediation Schemas --

// IssueType classifies an accessibility defect.
type IssueType string

const (
	IssueKeyboardInaccessible IssueType = "keyboard-inaccessible"
	IssueMissingFocus         IssueType = "missing-focus"
	IssueLowContrast          IssueType = "low-contrast"
	IssueMissingLabel         IssueType = "missing-label"
)

// issueRank orders issue types by remediation preference, lowest first.
var issueRank = map[IssueType]int{
	IssueKeyboardInaccessible: 0,
	IssueMissingFocus:         1,
	IssueLowContrast:          2,
	IssueMissingLabel:         3,
}

// Rank returns the issue type's position in the preference order.
func (t IssueType) Rank() int {
	if r, ok := issueRank[t]; ok {
		return r
	}
	return len(issueRank)
}

// Severity grades an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Weight maps severity to a task priority.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// IssueStatus tracks an issue through remediation.
type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueFixed    IssueStatus = "fixed"
	IssueUnfixed  IssueStatus = "unfixed"
	IssueReverted IssueStatus = "reverted"
)

// AccessibilityIssue is one detected defect on one element.
type AccessibilityIssue struct {
	ID           string                 `json:"id"`
	Type         IssueType              `json:"type"`
	Selector     string                 `json:"selector,omitempty"`
	Severity     Severity               `json:"severity"`
	WCAGCriteria []string               `json:"wcagCriteria"`
	Description  string                 `json:"description"`
	Evidence     map[string]interface{} `json:"evidence,omitempty"`
	Status       IssueStatus            `json:"status"`
	Attempts     []RemediationAttempt   `json:"attempts,omitempty"`
}

// FixType classifies a generated fix.
type FixType string

const (
	FixFocusVisible       FixType = "focus-visible"
	FixColorContrast      FixType = "color-contrast"
	FixKeyboardNavigation FixType = "keyboard-navigation"
	FixAccessibleName     FixType = "accessible-name"
)

// VisualImpact estimates how noticeable a fix is.
type VisualImpact string

const (
	ImpactNone     VisualImpact = "none"
	ImpactLow      VisualImpact = "low"
	ImpactModerate VisualImpact = "moderate"
)

// AttributeChange is a DOM attribute a fix sets.
type AttributeChange struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CSSFixSolution is immutable once generated.
type CSSFixSolution struct {
	ID             string  `json:"id"`
	IssueID        string  `json:"issueId"`
	FixType        FixType `json:"fixType"`
	TargetSelector string  `json:"targetSelector"`
	// CSS is a complete style sheet fragment (selectors and blocks).
	CSS string `json:"css,omitempty"`
	// InlineDeclarations is the same fix without selectors, for the inline
	// strategy. Empty when the fix depends on a pseudo-class.
	InlineDeclarations string            `json:"inlineDeclarations,omitempty"`
	Attributes         []AttributeChange `json:"attributes,omitempty"`
	Description        string            `json:"description"`
	Confidence         float64           `json:"confidence"`
	Priority           int               `json:"priority"`
	Reversible         bool              `json:"reversible"`
	WCAGCriteria       []string          `json:"wcagCriteria"`
	VisualImpact       VisualImpact      `json:"visualImpact"`
}

// InjectionKey identifies the slot a solution occupies; re-applying a fix with
// the same key replaces the earlier one.
func (s CSSFixSolution) InjectionKey() string {
	return fmt.Sprintf("%s|%s", s.TargetSelector, s.FixType)
}

// VerificationEvidence records what verification observed.
type VerificationEvidence struct {
	VisualChange          bool              `json:"visualChange"`
	FocusIndicatorPresent bool              `json:"focusIndicatorPresent"`
	ContrastImproved      bool              `json:"contrastImproved"`
	KeyboardAccessible    bool              `json:"keyboardAccessible"`
	LabelPresent          bool              `json:"labelPresent"`
	ContrastBefore        float64           `json:"contrastBefore,omitempty"`
	ContrastAfter         float64           `json:"contrastAfter,omitempty"`
	StyleBefore           ComputedStyle     `json:"styleBefore,omitempty"`
	StyleAfter            ComputedStyle     `json:"styleAfter,omitempty"`
	ScreenshotBefore      string            `json:"screenshotBefore,omitempty"`
	ScreenshotAfter       string            `json:"screenshotAfter,omitempty"`
	Notes                 map[string]string `json:"notes,omitempty"`
}

// VerificationResult is the pass/fail classification of one applied fix.
type VerificationResult struct {
	Passed     bool                 `json:"passed"`
	Confidence float64              `json:"confidence"`
	Evidence   VerificationEvidence `json:"evidence"`
	CheckedAt  time.Time            `json:"checkedAt"`
}

// RemediationAttempt is append-only history on its issue.
type RemediationAttempt struct {
	Timestamp    time.Time           `json:"timestamp"`
	Solution     CSSFixSolution      `json:"solution"`
	Strategy     string              `json:"strategy,omitempty"`
	Applied      bool                `json:"applied"`
	Error        string              `json:"error,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	RolledBack   bool                `json:"rolledBack"`
}

// RemediationStatus is the lifecycle of a RemediationTask.
type RemediationStatus string

const (
	StatusPending    RemediationStatus = "pending"
	StatusInProgress RemediationStatus = "in-progress"
	StatusCompleted  RemediationStatus = "completed"
	StatusFailed     RemediationStatus = "failed"
	StatusRolledBack RemediationStatus = "rolled-back"
)

// CanTransition reports whether moving from s to next is allowed.
func (s RemediationStatus) CanTransition(next RemediationStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted:
		return next == StatusRolledBack
	}
	return false
}

// ElementContext is the surroundings a fix generator takes into account.
type ElementContext struct {
	ParentSelector   string   `json:"parentSelector,omitempty"`
	SiblingSelectors []string `json:"siblingSelectors,omitempty"`
	// Background is the effective background color behind the element.
	Background  string        `json:"background,omitempty"`
	Theme       string        `json:"theme,omitempty"` // "light" or "dark"
	ParentStyle ComputedStyle `json:"parentStyle,omitempty"`
}

// RemediationTask is the unit of work for one element.
type RemediationTask struct {
	ID                string               `json:"id"`
	Element           ElementDescriptor    `json:"element"`
	Context           ElementContext       `json:"context"`
	Issues            []AccessibilityIssue `json:"issues"`
	Priority          int                  `json:"priority"`
	Status            RemediationStatus    `json:"status"`
	AppliedFixes      []string             `json:"appliedFixes"`
	RollbackAvailable bool                 `json:"rollbackAvailable"`
	Error             string               `json:"error,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	StartedAt         time.Time            `json:"startedAt,omitempty"`
	CompletedAt       time.Time            `json:"completedAt,omitempty"`
}

// Duration is the time between start and completion.
func (t RemediationTask) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// PriorityFor derives task priority from the most severe issue.
func PriorityFor(issues []AccessibilityIssue) int {
	max := 0
	for _, is := range issues {
		if w := is.Severity.Weight(); w > max {
			max = w
		}
	}
	return max
}
