package schemas

import (
	"time"
)

// -- Action Schemas --

// ActionType enumerates the fixed tool set of the agent.
type ActionType string

const (
	ActionTypeNavigate ActionType = "navigate"
	ActionTypeClick    ActionType = "click"
	ActionTypeType     ActionType = "type"
	ActionTypeFocus    ActionType = "focus"
	ActionTypeKeyboard ActionType = "keyboard"
	ActionTypeWait     ActionType = "wait"
	ActionTypeVerify   ActionType = "verify"
)

// AllActionTypes lists every valid action type in a stable order.
var AllActionTypes = []ActionType{
	ActionTypeNavigate, ActionTypeClick, ActionTypeType, ActionTypeFocus,
	ActionTypeKeyboard, ActionTypeWait, ActionTypeVerify,
}

// Valid reports whether t is part of the tool set.
func (t ActionType) Valid() bool {
	for _, a := range AllActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Well-known Action.Params keys.
const (
	ParamMode     = "mode"      // keyboard: "walk" or "keys"
	ParamMaxSteps = "max_steps" // keyboard walk bound
	ParamWCAG     = "wcag"      // verify: conformance level
	ParamDuration = "duration"  // wait: fixed sleep, Go duration syntax
)

// Keyboard action modes.
const (
	KeyboardModeWalk = "walk"
	KeyboardModeKeys = "keys"
)

// Action is one primitive step executed on the control channel.
type Action struct {
	Type ActionType `json:"type"`
	// Target is a selector, or a URL for navigate.
	Target  string            `json:"target,omitempty"`
	Value   string            `json:"value,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
}

// Param returns a parameter value or def when unset.
func (a Action) Param(key, def string) string {
	if v, ok := a.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// OutcomeKind discriminates ExpectedOutcome.
type OutcomeKind string

const (
	OutcomeNone           OutcomeKind = "none"
	OutcomeFocusOn        OutcomeKind = "focus-on"
	OutcomeNoIssues       OutcomeKind = "no-issues"
	OutcomeNoFocusTraps   OutcomeKind = "no-focus-traps"
	OutcomeURLContains    OutcomeKind = "url-contains"
	OutcomeElementPresent OutcomeKind = "element-present"
	OutcomeStable         OutcomeKind = "page-stable"
)

// ExpectedOutcome is the predicate Reflect checks after an action.
type ExpectedOutcome struct {
	Kind   OutcomeKind `json:"kind"`
	Target string      `json:"target,omitempty"`
	Value  string      `json:"value,omitempty"`
}

// ActionPlan is owned by the cycle that produced it and discarded afterwards.
type ActionPlan struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"taskId"`
	Primary   Action          `json:"primary"`
	Expected  ExpectedOutcome `json:"expected"`
	Fallbacks []Action        `json:"fallbacks,omitempty"`
	Rationale string          `json:"rationale,omitempty"`
}

// SideEffectKind names an observable consequence of an action.
type SideEffectKind string

const (
	EffectFocusChange   SideEffectKind = "focus-change"
	EffectNavigation    SideEffectKind = "navigation"
	EffectContentChange SideEffectKind = "content-change"
	EffectStyleChange   SideEffectKind = "style-change"
	EffectPointerInput  SideEffectKind = "pointer-input"
)

// SideEffect is declared by an executor so Reflect knows what to re-read.
type SideEffect struct {
	Kind       SideEffectKind `json:"kind"`
	Target     string         `json:"target,omitempty"`
	Reversible bool           `json:"reversible"`
}

// ErrorCode is a structured failure classification carried on ActionResult.
type ErrorCode string

const (
	ErrCodeNone               ErrorCode = ""
	ErrCodeExecutionFailure   ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters  ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction      ErrorCode = "UNKNOWN_ACTION_TYPE"
	ErrCodeCapability         ErrorCode = "CAPABILITY_UNAVAILABLE"
	ErrCodeElementNotFound    ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeoutError       ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError    ErrorCode = "NAVIGATION_ERROR"
	ErrCodeSessionLost        ErrorCode = "SESSION_LOST"
	ErrCodeSessionUnavailable ErrorCode = "SESSION_UNAVAILABLE"
	ErrCodePermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrCodeExecutorPanic      ErrorCode = "EXECUTOR_PANIC"
)

// IsSessionError reports whether the code is fatal to the current loop.
func (c ErrorCode) IsSessionError() bool {
	return c == ErrCodeSessionLost || c == ErrCodeSessionUnavailable || c == ErrCodePermissionDenied
}

// ActionResult is what an executor reports for one action.
type ActionResult struct {
	Action      Action        `json:"action"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	Output      interface{}   `json:"output,omitempty"`
	SideEffects []SideEffect  `json:"sideEffects,omitempty"`
	ErrorCode   ErrorCode     `json:"errorCode,omitempty"`
	Message     string        `json:"message,omitempty"`
	Err         error         `json:"-"`
}

// RequiresReperception reports whether the result may have changed page
// state beyond focus position.
func (r ActionResult) RequiresReperception() bool {
	for _, se := range r.SideEffects {
		if se.Kind != EffectFocusChange {
			return true
		}
	}
	return false
}
