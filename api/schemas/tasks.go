package schemas

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// -- Task Schemas --

// TaskType is the goal a task descriptor declares.
type TaskType string

const (
	TaskFullAudit      TaskType = "full-audit"
	TaskFocusTrapSweep TaskType = "focus-trap-sweep"
	TaskFixVerify      TaskType = "fix-verify"
	// TaskStep is a single primitive act, produced by decomposition or by an
	// explicit workflow.
	TaskStep TaskType = "step"
)

// WCAGLevel is a conformance level.
type WCAGLevel string

const (
	WCAGLevelA   WCAGLevel = "A"
	WCAGLevelAA  WCAGLevel = "AA"
	WCAGLevelAAA WCAGLevel = "AAA"
)

// MinimumContrast returns the normal-text contrast ratio the level requires.
func (l WCAGLevel) MinimumContrast() float64 {
	if l == WCAGLevelAAA {
		return 7.0
	}
	return 4.5
}

// Step is one entry of an explicit workflow.
type Step struct {
	Action ActionType        `json:"action" yaml:"action" validate:"required,actiontype"`
	Target string            `json:"target,omitempty" yaml:"target,omitempty"`
	Value  string            `json:"value,omitempty" yaml:"value,omitempty"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Workflow is an ordered list of steps.
type Workflow struct {
	Name  string `json:"name" yaml:"name" validate:"required"`
	Steps []Step `json:"steps" yaml:"steps" validate:"min=1,dive"`
}

// Scope is either explicit workflows or "derive from perception".
type Scope struct {
	Derive    bool       `json:"derive" yaml:"derive"`
	Workflows []Workflow `json:"workflows,omitempty" yaml:"workflows,omitempty" validate:"dive"`
}

// Constraints bound a task's cost.
type Constraints struct {
	TimeBudget        time.Duration `json:"timeBudget,omitempty" yaml:"time_budget,omitempty" validate:"gte=0"`
	ExcludedSelectors []string      `json:"excludedSelectors,omitempty" yaml:"excluded_selectors,omitempty"`
	MaxElements       int           `json:"maxElements,omitempty" yaml:"max_elements,omitempty" validate:"gte=0"`
	MaxSteps          int           `json:"maxSteps,omitempty" yaml:"max_steps,omitempty" validate:"gte=0"`
}

// IsExcluded reports whether selector matches one of the excluded selectors.
// Matching is exact or by prefix, so "#nav" also excludes "#nav > a".
func (c Constraints) IsExcluded(selector string) bool {
	for _, ex := range c.ExcludedSelectors {
		ex = strings.TrimSpace(ex)
		if ex == "" {
			continue
		}
		if selector == ex || strings.HasPrefix(selector, ex+" ") {
			return true
		}
	}
	return false
}

// TaskDescriptor is the only coupling point into the core.
type TaskDescriptor struct {
	ID          string      `json:"id" yaml:"id" validate:"required"`
	ParentID    string      `json:"parentId,omitempty" yaml:"parent_id,omitempty"`
	Type        TaskType    `json:"type" yaml:"type" validate:"required,oneof=full-audit focus-trap-sweep fix-verify step"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	WCAGLevel   WCAGLevel   `json:"wcagLevel,omitempty" yaml:"wcag_level,omitempty" validate:"omitempty,oneof=A AA AAA"`
	Priority    int         `json:"priority" yaml:"priority" validate:"gte=0,lte=10"`
	Target      string      `json:"target,omitempty" yaml:"target,omitempty" validate:"required_if=Type fix-verify"`
	Step        *Step       `json:"step,omitempty" yaml:"step,omitempty" validate:"required_if=Type step"`
	Scope       Scope       `json:"scope" yaml:"scope"`
	Constraints Constraints `json:"constraints" yaml:"constraints"`
}

// Level returns the declared WCAG level, AA when unset.
func (t TaskDescriptor) Level() WCAGLevel {
	if t.WCAGLevel == "" {
		return WCAGLevelAA
	}
	return t.WCAGLevel
}

var (
	taskValidate     *validator.Validate
	taskValidateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	taskValidateOnce.Do(func() {
		taskValidate = validator.New()
		_ = taskValidate.RegisterValidation("actiontype", func(fl validator.FieldLevel) bool {
			return ActionType(fl.Field().String()).Valid()
		})
	})
	return taskValidate
}

// Validate checks the descriptor's structural constraints.
func (t TaskDescriptor) Validate() error {
	if err := validatorInstance().Struct(t); err != nil {
		return fmt.Errorf("invalid task %q: %w", t.ID, err)
	}
	return nil
}
