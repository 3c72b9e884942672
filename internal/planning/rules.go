// internal/planning/rules.go
package planning

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// DefaultWalkSteps bounds a focus-trap sweep when the task does not.
const DefaultWalkSteps = 50

// RuleBased decomposes tasks deterministically. It is the default strategy
// and the fallback for every other one.
type RuleBased struct {
	logger    *zap.Logger
	walkSteps int
	newID     func() string
}

var _ Planner = (*RuleBased)(nil)

// NewRuleBased creates the deterministic planner. walkSteps bounds focus
// sweeps for tasks that set no MaxSteps.
func NewRuleBased(logger *zap.Logger, walkSteps int) *RuleBased {
	if walkSteps <= 0 {
		walkSteps = DefaultWalkSteps
	}
	return &RuleBased{
		logger:    logger.Named("planner.rules"),
		walkSteps: walkSteps,
		newID:     uuid.NewString,
	}
}

func (r *RuleBased) Plan(ctx context.Context, task schemas.TaskDescriptor, state *schemas.PerceivedState) (Decision, error) {
	switch task.Type {
	case schemas.TaskFullAudit:
		return r.planAudit(task, state)
	case schemas.TaskFocusTrapSweep:
		return Primitive{Plan: r.sweepPlan(task)}, nil
	case schemas.TaskFixVerify:
		return r.planFixVerify(task), nil
	case schemas.TaskStep:
		if task.Step == nil {
			return nil, fmt.Errorf("planning: step task %q has no step", task.ID)
		}
		return Primitive{Plan: r.stepPlan(task)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTask, task.Type)
}

// planAudit opens with a sweep, then covers either every perceived element
// or the explicit workflows.
func (r *RuleBased) planAudit(task schemas.TaskDescriptor, state *schemas.PerceivedState) (Decision, error) {
	sub := &subtasks{parent: task}
	sub.add(schemas.TaskFocusTrapSweep, "focus trap sweep", "", nil)

	if task.Scope.Derive || len(task.Scope.Workflows) == 0 {
		if state == nil {
			return nil, ErrNoState
		}
		for _, sel := range AuditTargets(task, state) {
			sub.add(schemas.TaskFixVerify, "verify focus visibility of "+sel, sel, nil)
		}
		r.logger.Debug("Audit derived from perception.", zap.String("task_id", task.ID), zap.Int("subtasks", len(sub.out)))
		return Composite{Subtasks: sub.out}, nil
	}

	for _, wf := range task.Scope.Workflows {
		for _, step := range wf.Steps {
			if step.Target != "" && step.Action != schemas.ActionTypeNavigate && task.Constraints.IsExcluded(step.Target) {
				continue
			}
			s := step
			sub.add(schemas.TaskStep, fmt.Sprintf("%s: %s %s", wf.Name, step.Action, step.Target), step.Target, &s)
			if actsOnElement(step) {
				sub.add(schemas.TaskStep, "verify "+step.Target, step.Target, &schemas.Step{
					Action: schemas.ActionTypeVerify,
					Target: step.Target,
				})
			}
		}
	}
	return Composite{Subtasks: sub.out}, nil
}

// AuditTargets lists the elements a derived audit covers, in document order.
func AuditTargets(task schemas.TaskDescriptor, state *schemas.PerceivedState) []string {
	var out []string
	for _, el := range state.Elements() {
		if task.Constraints.IsExcluded(el.Selector) {
			continue
		}
		if task.Constraints.MaxElements > 0 && len(out) >= task.Constraints.MaxElements {
			break
		}
		out = append(out, el.Selector)
	}
	return out
}

func (r *RuleBased) planFixVerify(task schemas.TaskDescriptor) Decision {
	if task.Constraints.IsExcluded(task.Target) {
		return Composite{}
	}
	sub := &subtasks{parent: task}
	sub.add(schemas.TaskStep, "focus "+task.Target, task.Target, &schemas.Step{
		Action: schemas.ActionTypeFocus,
		Target: task.Target,
	})
	sub.add(schemas.TaskStep, "verify "+task.Target, task.Target, &schemas.Step{
		Action: schemas.ActionTypeVerify,
		Target: task.Target,
	})
	return Composite{Subtasks: sub.out}
}

func (r *RuleBased) sweepPlan(task schemas.TaskDescriptor) schemas.ActionPlan {
	steps := task.Constraints.MaxSteps
	if steps <= 0 {
		steps = r.walkSteps
	}
	plan := schemas.ActionPlan{
		ID:     r.newID(),
		TaskID: task.ID,
		Primary: schemas.Action{
			Type: schemas.ActionTypeKeyboard,
			Params: map[string]string{
				schemas.ParamMode:     schemas.KeyboardModeWalk,
				schemas.ParamMaxSteps: strconv.Itoa(steps),
			},
		},
		Expected:  schemas.ExpectedOutcome{Kind: schemas.OutcomeNoFocusTraps},
		Rationale: fmt.Sprintf("walk the tab order for up to %d steps looking for traps", steps),
	}
	spreadBudget(task, &plan)
	return plan
}

func (r *RuleBased) stepPlan(task schemas.TaskDescriptor) schemas.ActionPlan {
	step := *task.Step
	params := make(map[string]string, len(step.Params)+1)
	for k, v := range step.Params {
		params[k] = v
	}
	primary := schemas.Action{Type: step.Action, Target: step.Target, Value: step.Value, Params: params}
	plan := schemas.ActionPlan{ID: r.newID(), TaskID: task.ID, Primary: primary}

	switch step.Action {
	case schemas.ActionTypeNavigate:
		url := step.Target
		if url == "" {
			url = step.Value
		}
		plan.Primary.Target = url
		plan.Expected = schemas.ExpectedOutcome{Kind: schemas.OutcomeURLContains, Value: url}
		plan.Rationale = "load " + url
	case schemas.ActionTypeFocus:
		plan.Expected = schemas.ExpectedOutcome{Kind: schemas.OutcomeFocusOn, Target: step.Target}
		// A pointer click also focuses, and survives custom focus handlers.
		plan.Fallbacks = []schemas.Action{{Type: schemas.ActionTypeClick, Target: step.Target}}
		plan.Rationale = "move focus to " + step.Target
	case schemas.ActionTypeClick:
		plan.Expected = schemas.ExpectedOutcome{Kind: schemas.OutcomeNone}
		plan.Fallbacks = []schemas.Action{{
			Type:   schemas.ActionTypeKeyboard,
			Target: step.Target,
			Value:  "Enter",
			Params: map[string]string{schemas.ParamMode: schemas.KeyboardModeKeys},
		}}
		plan.Rationale = "activate " + step.Target
	case schemas.ActionTypeType:
		plan.Expected = schemas.ExpectedOutcome{Kind: schemas.OutcomeNone}
		plan.Rationale = "type into " + step.Target
	case schemas.ActionTypeKeyboard:
		if plan.Primary.Param(schemas.ParamMode, schemas.KeyboardModeKeys) == schemas.KeyboardModeWalk {
			if _, ok := params[schemas.ParamMaxSteps]; !ok {
				params[schemas.ParamMaxSteps] = strconv.Itoa(r.walkSteps)
			}
			plan.Expected = schemas.ExpectedOutcome{Kind: schemas.OutcomeNoFocusTraps}
		} else {
			params[schemas.ParamMode] = schemas.KeyboardModeKeys
			plan.Expected = schemas.ExpectedOutcome{Kind: schemas.OutcomeNone}
		}
		plan.Rationale = "keyboard input"
	case schemas.ActionTypeWait:
		plan.Expected = schemas.ExpectedOutcome{Kind: schemas.OutcomeStable}
		plan.Rationale = "wait for the page to settle"
	case schemas.ActionTypeVerify:
		if _, ok := params[schemas.ParamWCAG]; !ok {
			params[schemas.ParamWCAG] = string(task.Level())
		}
		plan.Expected = schemas.ExpectedOutcome{Kind: schemas.OutcomeNoIssues, Target: step.Target}
		plan.Rationale = "check " + step.Target + " against WCAG " + params[schemas.ParamWCAG]
	}
	spreadBudget(task, &plan)
	return plan
}

// actsOnElement reports whether a step changes state on one element and so
// must be followed by a verify of that element.
func actsOnElement(step schemas.Step) bool {
	if step.Target == "" {
		return false
	}
	switch step.Action {
	case schemas.ActionTypeClick, schemas.ActionTypeType, schemas.ActionTypeFocus:
		return true
	case schemas.ActionTypeKeyboard:
		return step.Params[schemas.ParamMode] != schemas.KeyboardModeWalk
	}
	return false
}

// spreadBudget splits the task's time budget evenly over the primary and
// fallback actions, which run one after another.
func spreadBudget(task schemas.TaskDescriptor, plan *schemas.ActionPlan) {
	budget := task.Constraints.TimeBudget
	if budget <= 0 {
		return
	}
	share := budget / time.Duration(1+len(plan.Fallbacks))
	plan.Primary.Timeout = share
	for i := range plan.Fallbacks {
		plan.Fallbacks[i].Timeout = share
	}
}

// subtasks accumulates children that inherit the parent's level,
// priority and constraints.
type subtasks struct {
	parent schemas.TaskDescriptor
	out    []schemas.TaskDescriptor
}

func (s *subtasks) add(typ schemas.TaskType, desc, target string, step *schemas.Step) {
	s.out = append(s.out, schemas.TaskDescriptor{
		ID:          fmt.Sprintf("%s.%d", s.parent.ID, len(s.out)+1),
		ParentID:    s.parent.ID,
		Type:        typ,
		Description: desc,
		WCAGLevel:   s.parent.Level(),
		Priority:    s.parent.Priority,
		Target:      target,
		Step:        step,
		Scope:       schemas.Scope{Derive: true},
		Constraints: s.parent.Constraints,
	})
}
