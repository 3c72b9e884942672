// internal/planning/decision.go
package planning

import (
	"context"
	"errors"
	"sort"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// ErrNoState is returned when a task needs a snapshot to plan from.
var ErrNoState = errors.New("planning: task requires a perceived state")

// ErrUnknownTask is returned for task types no strategy understands.
var ErrUnknownTask = errors.New("planning: unknown task type")

// Planner turns a task and the current page snapshot into a decision.
type Planner interface {
	Plan(ctx context.Context, task schemas.TaskDescriptor, state *schemas.PerceivedState) (Decision, error)
}

// Decision is either a Primitive plan to execute now or a Composite list of
// subtasks to enqueue in order.
type Decision interface {
	isDecision()
}

// Primitive carries one executable plan.
type Primitive struct {
	Plan schemas.ActionPlan
}

// Composite replaces its task with ordered subtasks.
type Composite struct {
	Subtasks []schemas.TaskDescriptor
}

func (Primitive) isDecision() {}
func (Composite) isDecision() {}

// OrderIssues sorts issues by remediation preference: keyboard-inaccessible,
// missing-focus, low-contrast, missing-label. Ties keep the more severe issue
// first, then their original order.
func OrderIssues(issues []schemas.AccessibilityIssue) []schemas.AccessibilityIssue {
	out := append([]schemas.AccessibilityIssue(nil), issues...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Type.Rank(), out[j].Type.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Severity.Weight() > out[j].Severity.Weight()
	})
	return out
}

// PreferredFix picks the issue to remediate first when several co-occur on
// one element.
func PreferredFix(issues []schemas.AccessibilityIssue) (schemas.AccessibilityIssue, bool) {
	if len(issues) == 0 {
		return schemas.AccessibilityIssue{}, false
	}
	return OrderIssues(issues)[0], true
}
