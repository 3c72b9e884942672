// internal/agent/executors.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/humanoid"
	"github.com/xkilldash9x/focusfix/internal/perception"
)

// errInvalidParameters marks actions that are missing a target or carry an
// unparseable parameter.
var errInvalidParameters = errors.New("invalid action parameters")

// ActionExecutor runs primitive actions. Execute never returns an error;
// failures are reported on the result so Reflect can pick a fallback.
type ActionExecutor interface {
	Execute(ctx context.Context, action schemas.Action) schemas.ActionResult
	CanExecute(t schemas.ActionType) bool
}

// Perceiver is the slice of the perception engine the loop and executor use.
type Perceiver interface {
	Snapshot(ctx context.Context, c schemas.Constraints) (*schemas.PerceivedState, error)
	SnapshotElement(ctx context.Context, selector string) (schemas.ElementDescriptor, error)
	Focused(ctx context.Context) (schemas.NodeInfo, bool, error)
	CurrentURL(ctx context.Context) (string, error)
	WaitForStability(ctx context.Context, timeout time.Duration) (perception.StabilityResult, error)
	Revision() uint64
}

// IssueDetector finds accessibility issues on one element.
type IssueDetector interface {
	Detect(ctx context.Context, el schemas.ElementDescriptor, level schemas.WCAGLevel) ([]schemas.AccessibilityIssue, error)
}

// SessionChannel is what the executor calls on the session directly.
type SessionChannel interface {
	Navigate(ctx context.Context, url string) error
	Focus(ctx context.Context, selector string) error
	Capabilities() schemas.Capabilities
}

// actionHandler runs one action type and declares its side effects.
type actionHandler func(ctx context.Context, action schemas.Action) (interface{}, []schemas.SideEffect, error)

// ChannelExecutor executes actions on a live session through the input
// simulators, the perception engine and the issue detector.
type ChannelExecutor struct {
	logger    *zap.Logger
	ch        SessionChannel
	humanoid  *humanoid.Humanoid
	perceiver Perceiver
	detector  IssueDetector
	handlers  map[schemas.ActionType]actionHandler
	now       func() time.Time
}

var _ ActionExecutor = (*ChannelExecutor)(nil)

// NewChannelExecutor wires an executor to one session.
func NewChannelExecutor(logger *zap.Logger, ch SessionChannel, h *humanoid.Humanoid, p Perceiver, d IssueDetector) *ChannelExecutor {
	e := &ChannelExecutor{
		logger:    logger.Named("executor"),
		ch:        ch,
		humanoid:  h,
		perceiver: p,
		detector:  d,
		handlers:  make(map[schemas.ActionType]actionHandler),
		now:       time.Now,
	}
	e.handlers[schemas.ActionTypeNavigate] = e.handleNavigate
	e.handlers[schemas.ActionTypeClick] = e.handleClick
	e.handlers[schemas.ActionTypeType] = e.handleType
	e.handlers[schemas.ActionTypeFocus] = e.handleFocus
	e.handlers[schemas.ActionTypeKeyboard] = e.handleKeyboard
	e.handlers[schemas.ActionTypeWait] = e.handleWait
	e.handlers[schemas.ActionTypeVerify] = e.handleVerify
	return e
}

// CanExecute reports whether the session's capabilities allow t.
func (e *ChannelExecutor) CanExecute(t schemas.ActionType) bool {
	if _, ok := e.handlers[t]; !ok {
		return false
	}
	return e.ch.Capabilities().Supports(t)
}

// Execute runs action under its own timeout, if it has one. A panicking
// handler is reported as EXECUTOR_PANIC.
func (e *ChannelExecutor) Execute(ctx context.Context, action schemas.Action) (result schemas.ActionResult) {
	began := e.now()
	result = schemas.ActionResult{Action: action}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Action handler panicked.", zap.String("action", string(action.Type)), zap.Any("panic", r))
			result.Success = false
			result.Err = fmt.Errorf("executor panic: %v", r)
			result.ErrorCode = schemas.ErrCodeExecutorPanic
			result.Message = result.Err.Error()
		}
		result.Duration = e.now().Sub(began)
	}()

	handler, ok := e.handlers[action.Type]
	if !ok {
		result.ErrorCode = schemas.ErrCodeUnknownAction
		result.Message = fmt.Sprintf("no handler for action type %q", action.Type)
		return result
	}
	if !e.ch.Capabilities().Supports(action.Type) {
		result.Err = fmt.Errorf("%s: %w", action.Type, schemas.ErrCapability)
		result.ErrorCode = schemas.ErrCodeCapability
		result.Message = result.Err.Error()
		return result
	}

	if action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, action.Timeout)
		defer cancel()
	}

	out, effects, err := handler(ctx, action)
	result.Output = out
	result.SideEffects = effects
	if err != nil {
		result.Err = err
		result.Message = err.Error()
		if errors.Is(err, errInvalidParameters) {
			result.ErrorCode = schemas.ErrCodeInvalidParameters
		} else {
			result.ErrorCode = ClassifyError(err)
		}
		e.logger.Warn("Action execution failed.",
			zap.String("action", string(action.Type)),
			zap.String("target", action.Target),
			zap.String("error_code", string(result.ErrorCode)),
			zap.Error(err))
		return result
	}
	result.Success = true
	if result.RequiresReperception() {
		// The cached tab walk no longer describes the page.
		e.humanoid.Pointer().ResetFocusPath()
	}
	return result
}

// -- Action Handlers --

func requireTarget(action schemas.Action) error {
	if strings.TrimSpace(action.Target) == "" {
		return fmt.Errorf("%w: %s requires a target", errInvalidParameters, action.Type)
	}
	return nil
}

func (e *ChannelExecutor) handleNavigate(ctx context.Context, action schemas.Action) (interface{}, []schemas.SideEffect, error) {
	url := action.Target
	if url == "" {
		url = action.Value
	}
	if url == "" {
		return nil, nil, fmt.Errorf("%w: navigate requires a URL", errInvalidParameters)
	}
	if err := e.ch.Navigate(ctx, url); err != nil {
		return nil, nil, err
	}
	effects := []schemas.SideEffect{{Kind: schemas.EffectNavigation, Target: url}}
	stable, err := e.perceiver.WaitForStability(ctx, 0)
	if err != nil {
		return nil, effects, err
	}
	return stable, effects, nil
}

func (e *ChannelExecutor) handleClick(ctx context.Context, action schemas.Action) (interface{}, []schemas.SideEffect, error) {
	if err := requireTarget(action); err != nil {
		return nil, nil, err
	}
	res, err := e.humanoid.Pointer().Click(ctx, action.Target)
	if err != nil {
		return nil, nil, err
	}
	return res, []schemas.SideEffect{
		{Kind: schemas.EffectPointerInput, Target: action.Target},
		{Kind: schemas.EffectFocusChange, Target: action.Target, Reversible: true},
	}, nil
}

func (e *ChannelExecutor) handleType(ctx context.Context, action schemas.Action) (interface{}, []schemas.SideEffect, error) {
	if err := requireTarget(action); err != nil {
		return nil, nil, err
	}
	if err := e.humanoid.Keyboard().Type(ctx, action.Target, action.Value); err != nil {
		return nil, nil, err
	}
	return nil, []schemas.SideEffect{
		{Kind: schemas.EffectFocusChange, Target: action.Target, Reversible: true},
		{Kind: schemas.EffectContentChange, Target: action.Target},
	}, nil
}

func (e *ChannelExecutor) handleFocus(ctx context.Context, action schemas.Action) (interface{}, []schemas.SideEffect, error) {
	if err := requireTarget(action); err != nil {
		return nil, nil, err
	}
	if err := e.ch.Focus(ctx, action.Target); err != nil {
		return nil, nil, err
	}
	return nil, []schemas.SideEffect{{Kind: schemas.EffectFocusChange, Target: action.Target, Reversible: true}}, nil
}

func (e *ChannelExecutor) handleKeyboard(ctx context.Context, action schemas.Action) (interface{}, []schemas.SideEffect, error) {
	kb := e.humanoid.Keyboard()
	switch action.Param(schemas.ParamMode, schemas.KeyboardModeKeys) {
	case schemas.KeyboardModeWalk:
		steps, err := strconv.Atoi(action.Param(schemas.ParamMaxSteps, "50"))
		if err != nil || steps <= 0 {
			return nil, nil, fmt.Errorf("%w: max_steps %q", errInvalidParameters, action.Param(schemas.ParamMaxSteps, ""))
		}
		res, err := kb.WalkFocusOrder(ctx, steps)
		if err != nil {
			return res, nil, err
		}
		e.humanoid.Pointer().SetFocusPath(res)
		return res, []schemas.SideEffect{{Kind: schemas.EffectFocusChange, Reversible: true}}, nil

	case schemas.KeyboardModeKeys:
		keys := strings.Fields(action.Value)
		if len(keys) == 0 {
			return nil, nil, fmt.Errorf("%w: keyboard requires keys", errInvalidParameters)
		}
		if action.Target != "" {
			if err := e.ch.Focus(ctx, action.Target); err != nil {
				return nil, nil, err
			}
		}
		if err := kb.SimulateKeySequence(ctx, keys); err != nil {
			return nil, nil, err
		}
		// Keys such as Enter can activate anything.
		return nil, []schemas.SideEffect{
			{Kind: schemas.EffectFocusChange, Target: action.Target, Reversible: true},
			{Kind: schemas.EffectContentChange, Target: action.Target},
		}, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown keyboard mode %q", errInvalidParameters, action.Params[schemas.ParamMode])
}

func (e *ChannelExecutor) handleWait(ctx context.Context, action schemas.Action) (interface{}, []schemas.SideEffect, error) {
	if raw := action.Param(schemas.ParamDuration, ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return nil, nil, fmt.Errorf("%w: duration %q", errInvalidParameters, raw)
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil, nil, nil
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	res, err := e.perceiver.WaitForStability(ctx, action.Timeout)
	return res, nil, err
}

func (e *ChannelExecutor) handleVerify(ctx context.Context, action schemas.Action) (interface{}, []schemas.SideEffect, error) {
	if err := requireTarget(action); err != nil {
		return nil, nil, err
	}
	el, err := e.perceiver.SnapshotElement(ctx, action.Target)
	if err != nil {
		return nil, nil, err
	}
	level := schemas.WCAGLevel(action.Param(schemas.ParamWCAG, string(schemas.WCAGLevelAA)))
	out := schemas.VerifyOutput{Element: el, Level: level, Issues: []schemas.AccessibilityIssue{}}
	if !el.IsVisible() {
		e.logger.Debug("Skipping detection on hidden element.", zap.String("selector", action.Target))
		return out, nil, nil
	}
	issues, err := e.detector.Detect(ctx, el, level)
	if err != nil {
		return nil, nil, err
	}
	out.Issues = issues
	// Detection focuses the element and leaves focus on the body.
	return out, []schemas.SideEffect{{Kind: schemas.EffectFocusChange, Target: action.Target, Reversible: true}}, nil
}
