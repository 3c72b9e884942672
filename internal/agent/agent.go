// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/config"
	"github.com/xkilldash9x/focusfix/internal/observability"
	"github.com/xkilldash9x/focusfix/internal/planning"
	"github.com/xkilldash9x/focusfix/internal/remediation"
)

// errCancelled unwinds a cycle that stopped at a phase boundary.
var errCancelled = errors.New("loop cancelled")

// Remediator fixes issues that verification found on an element.
type Remediator interface {
	RemediateElement(ctx context.Context, t remediation.Target) (schemas.RemediationTask, error)
}

// Option configures an Agent.
type Option func(*Agent)

// WithRemediator routes verify-detected issues to r when
// agent.auto_remediate is set.
func WithRemediator(r Remediator) Option {
	return func(a *Agent) { a.remediator = r }
}

// WithEventBus publishes loop events on bus.
func WithEventBus(bus *EventBus) Option {
	return func(a *Agent) { a.bus = bus }
}

// WithSessionRelease registers fn to run once a loop terminates.
func WithSessionRelease(fn func(context.Context) error) Option {
	return func(a *Agent) { a.release = fn }
}

// WithCapabilities records the session's capability set in the agent state.
func WithCapabilities(caps schemas.Capabilities) Option {
	return func(a *Agent) { a.state = NewState(caps) }
}

// Agent is the PRAR loop coordinator for one session. Only one loop runs at
// a time, so at most one action is ever in flight on the channel.
type Agent struct {
	cfg        config.AgentConfig
	logger     *zap.Logger
	perceiver  Perceiver
	planner    planning.Planner
	executor   ActionExecutor
	remediator Remediator
	bus        *EventBus
	release    func(context.Context) error
	now        func() time.Time

	mu      sync.Mutex
	state   State
	running bool
}

// New creates an idle coordinator.
func New(cfg config.AgentConfig, logger *zap.Logger, p Perceiver, planner planning.Planner, exec ActionExecutor, opts ...Option) *Agent {
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 200
	}
	if cfg.MaxCycleTime <= 0 {
		cfg.MaxCycleTime = 30 * time.Second
	}
	a := &Agent{
		cfg:       cfg,
		logger:    logger.Named("agent"),
		perceiver: p,
		planner:   planner,
		executor:  exec,
		now:       time.Now,
		state:     NewState(schemas.Capabilities{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the coordinator's current state value.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) publish(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// StartLoop pushes task as the root of a fresh queue and runs cycles until
// the queue drains, a limit is hit, ctx is cancelled or the session fails.
// The error is non-nil only for invalid tasks, a concurrent loop, or a
// session error; the result is populated in every case.
func (a *Agent) StartLoop(ctx context.Context, task schemas.TaskDescriptor) (schemas.LoopResult, error) {
	if err := task.Validate(); err != nil {
		return schemas.LoopResult{TaskID: task.ID}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return schemas.LoopResult{TaskID: task.ID}, ErrLoopRunning
	}
	a.running = true
	a.state = NewState(a.state.Capabilities())
	initial := a.state
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	r := &run{
		a:      a,
		logger: a.logger.With(zap.String("root_task", task.ID)),
		queue:  NewTaskQueue(),
		state:  initial,
		began:  a.now(),
		result: schemas.LoopResult{
			TaskID:   task.ID,
			Outcomes: []schemas.TaskOutcome{},
			Metrics:  []schemas.CycleMetrics{},
		},
	}
	r.result.StartedAt = r.began
	r.queue.Push(task)

	r.logger.Info("PRAR loop starting.", zap.String("type", string(task.Type)), zap.String("target", task.Target))
	err := r.loop(ctx)
	r.finish(ctx, err)
	return r.result, err
}

// run is the state of one StartLoop call.
type run struct {
	a      *Agent
	logger *zap.Logger
	queue  *TaskQueue
	state  State
	began  time.Time
	result schemas.LoopResult

	snapshot *schemas.PerceivedState
	snapRev  uint64
	stale    bool
}

func (r *run) loop(ctx context.Context) error {
	for {
		if reason, stop := r.limitReached(ctx); stop {
			r.result.Termination = reason
			return nil
		}
		task, ok := r.queue.Pop()
		if !ok {
			r.result.Termination = schemas.TerminationQueueEmpty
			return nil
		}

		over, err := r.cycle(ctx, task)
		switch {
		case errors.Is(err, errCancelled):
			// The interrupted task goes back so it is reported as pending.
			r.queue.PushChildren([]schemas.TaskDescriptor{task})
			r.result.Termination = schemas.TerminationCancelled
			return nil
		case err != nil:
			r.result.Termination = schemas.TerminationSessionError
			return err
		case over:
			r.result.Termination = schemas.TerminationCycleTime
			return nil
		}
	}
}

func (r *run) limitReached(ctx context.Context) (schemas.TerminationReason, bool) {
	switch {
	case ctx.Err() != nil:
		return schemas.TerminationCancelled, true
	case r.result.Cycles >= r.a.cfg.MaxCycles:
		return schemas.TerminationMaxCycles, true
	case r.a.cfg.MaxLoopTime > 0 && r.a.now().Sub(r.began) >= r.a.cfg.MaxLoopTime:
		return schemas.TerminationLoopTime, true
	}
	return "", false
}

// enter moves the state machine to phase. Staying in the same phase is a
// no-op.
func (r *run) enter(ctx context.Context, phase schemas.AgentPhase) {
	if r.state.Phase() == phase {
		return
	}
	from := r.state.Phase()
	next, err := r.state.Transition(phase)
	if err != nil {
		// Programming error in the loop; keep going from the requested phase.
		r.logger.DPanic("Illegal phase transition.", zap.Error(err))
		next = r.state
		next.phase = phase
	}
	r.state = next.WithQueued(r.queue.Len())
	r.a.publish(r.state)
	r.emit(ctx, EventPhaseChange, PhaseChange{From: string(from), To: string(phase)})
}

// checkpoint is the cancellation check at the top of every phase.
func (r *run) checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return errCancelled
	}
	return nil
}

func (r *run) span(ctx context.Context, phase string, task schemas.TaskDescriptor) (context.Context, trace.Span) {
	return observability.StartSpan(ctx, "agent", "prar."+phase,
		attribute.Int("cycle", r.state.Cycle()),
		attribute.String("task_id", task.ID),
		attribute.String("task_type", string(task.Type)))
}

func (r *run) emit(ctx context.Context, typ EventType, payload interface{}) {
	if r.a.bus == nil {
		return
	}
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	ev := LoopEvent{Type: typ, Cycle: r.state.Cycle(), TaskID: r.state.TaskID(), Payload: payload}
	if err := r.a.bus.Post(postCtx, ev); err != nil {
		r.logger.Debug("Dropped loop event.", zap.String("type", string(typ)), zap.Error(err))
	}
}

// cycle runs perceive, plan, act and reflect for one task. over reports a
// cycle that outran agent.max_cycle_time.
func (r *run) cycle(ctx context.Context, task schemas.TaskDescriptor) (over bool, err error) {
	r.result.Cycles++
	start := r.a.now()
	deadline := start.Add(r.a.cfg.MaxCycleTime)
	r.state = r.state.WithCycle(r.result.Cycles, task.ID)
	m := schemas.CycleMetrics{Cycle: r.result.Cycles, TaskID: task.ID}
	logger := r.logger.With(zap.Int("cycle", m.Cycle), zap.String("task_id", task.ID))

	defer func() {
		m.Total = r.a.now().Sub(start)
		r.result.Metrics = append(r.result.Metrics, m)
		r.emit(ctx, EventCycleDone, m)
		over = err == nil && m.Total > r.a.cfg.MaxCycleTime
		if over {
			logger.Warn("Cycle exceeded its time budget.", zap.Duration("took", m.Total), zap.Duration("budget", r.a.cfg.MaxCycleTime))
		}
	}()

	// -- Perceive --
	if err := r.checkpoint(ctx); err != nil {
		return false, err
	}
	if r.needsPerception(task) {
		r.enter(ctx, schemas.PhasePerceiving)
		t0 := r.a.now()
		pctx, span := r.span(ctx, "perceive", task)
		rev := r.a.perceiver.Revision()
		snap, perr := r.a.perceiver.Snapshot(pctx, task.Constraints)
		observability.EndSpan(span, perr)
		m.Perceive = r.a.now().Sub(t0)
		phaseDuration.WithLabelValues(string(schemas.PhasePerceiving)).Observe(m.Perceive.Seconds())
		m.Reperceived = true
		if perr != nil {
			return false, r.phaseFailure(ctx, task, &m, "perceive", perr, logger)
		}
		r.snapshot, r.snapRev, r.stale = snap, rev, false
		if r.result.URL == "" {
			r.result.URL = snap.URL()
		}
	}

	// -- Plan --
	if err := r.checkpoint(ctx); err != nil {
		return false, err
	}
	r.enter(ctx, schemas.PhasePlanning)
	t0 := r.a.now()
	pctx, span := r.span(ctx, "plan", task)
	decision, perr := r.a.planner.Plan(pctx, task, r.snapshot)
	observability.EndSpan(span, perr)
	m.Plan = r.a.now().Sub(t0)
	phaseDuration.WithLabelValues(string(schemas.PhasePlanning)).Observe(m.Plan.Seconds())
	if perr != nil {
		return false, r.phaseFailure(ctx, task, &m, "plan", perr, logger)
	}

	var plan schemas.ActionPlan
	switch d := decision.(type) {
	case planning.Composite:
		r.queue.PushChildren(d.Subtasks)
		r.outcome(task, schemas.TaskDecomposed, "", nil)
		m.Success = true
		cyclesTotal.WithLabelValues("decomposed").Inc()
		logger.Debug("Task decomposed.", zap.Int("subtasks", len(d.Subtasks)))
		r.enter(ctx, schemas.PhaseIdle)
		return false, nil
	case planning.Primitive:
		plan = d.Plan
	default:
		return false, r.phaseFailure(ctx, task, &m, "plan", fmt.Errorf("unsupported decision %T", decision), logger)
	}
	m.Action = plan.Primary.Type

	// -- Act / Reflect --
	candidates := append([]schemas.Action{plan.Primary}, plan.Fallbacks...)
	var (
		last      schemas.ActionResult
		met       bool
		fallback  bool
		reflected []schemas.AccessibilityIssue
	)
	for i, action := range candidates {
		if i > 0 {
			if !r.a.executor.CanExecute(action.Type) {
				continue
			}
			fallback = true
			fallbacksTotal.WithLabelValues(string(action.Type)).Inc()
			logger.Info("Trying fallback action.", zap.String("action", string(action.Type)), zap.String("target", action.Target))
		}

		if err := r.checkpoint(ctx); err != nil {
			return false, err
		}
		r.enter(ctx, schemas.PhaseActing)
		last = r.act(ctx, action, task, deadline, &m)
		if last.ErrorCode.IsSessionError() {
			m.Error = last.Message
			return false, fmt.Errorf("agent: %s on %q: %w", action.Type, action.Target, last.Err)
		}
		if last.RequiresReperception() {
			r.stale = true
		}
		if !last.Success {
			continue
		}

		if err := r.checkpoint(ctx); err != nil {
			return false, err
		}
		r.enter(ctx, schemas.PhaseReflecting)
		t0 := r.a.now()
		rctx, span := r.span(ctx, "reflect", task)
		var rerr error
		met, reflected, rerr = r.reflect(rctx, task, plan, last, logger)
		observability.EndSpan(span, rerr)
		m.Reflect += r.a.now().Sub(t0)
		phaseDuration.WithLabelValues(string(schemas.PhaseReflecting)).Observe(r.a.now().Sub(t0).Seconds())
		if rerr != nil {
			return false, r.phaseFailure(ctx, task, &m, "reflect", rerr, logger)
		}
		if met || !retryable(plan.Expected.Kind) {
			break
		}
	}

	switch {
	case !last.Success:
		m.Error = last.Message
		r.outcomeWith(task, schemas.TaskFailed, last.Message, reflected, plan.Primary.Type, fallback)
		cyclesTotal.WithLabelValues("failure").Inc()
		logger.Warn("Task failed: no action succeeded.", zap.String("error_code", string(last.ErrorCode)), zap.String("message", last.Message))
	case !met:
		m.Error = fmt.Sprintf("expected outcome %s not met", plan.Expected.Kind)
		r.outcomeWith(task, schemas.TaskFailed, m.Error, reflected, plan.Primary.Type, fallback)
		cyclesTotal.WithLabelValues("failure").Inc()
		logger.Info("Task failed: outcome not met.", zap.String("expected", string(plan.Expected.Kind)))
	default:
		m.Success = true
		r.outcomeWith(task, schemas.TaskCompleted, "", reflected, plan.Primary.Type, fallback)
		cyclesTotal.WithLabelValues("success").Inc()
	}
	r.enter(ctx, schemas.PhaseIdle)
	return false, nil
}

// needsPerception reports whether the task plans from page state that is
// missing or out of date. Tasks whose plans ignore the snapshot skip the
// perceive phase.
func (r *run) needsPerception(task schemas.TaskDescriptor) bool {
	if task.Type != schemas.TaskFullAudit {
		return false
	}
	return r.snapshot == nil || r.stale || r.a.perceiver.Revision() != r.snapRev
}

// act executes one action. In-flight actions are never cancelled by the
// loop context; they are bounded only by the cycle deadline.
func (r *run) act(ctx context.Context, action schemas.Action, task schemas.TaskDescriptor, deadline time.Time, m *schemas.CycleMetrics) schemas.ActionResult {
	actx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancel()
	actx, span := r.span(actx, "act", task)
	span.SetAttributes(attribute.String("action", string(action.Type)), attribute.String("target", action.Target))

	t0 := r.a.now()
	res := r.a.executor.Execute(actx, action)
	elapsed := r.a.now().Sub(t0)
	m.Act += elapsed
	m.Attempts++
	phaseDuration.WithLabelValues(string(schemas.PhaseActing)).Observe(elapsed.Seconds())

	var spanErr error
	if !res.Success {
		spanErr = fmt.Errorf("%s: %s", res.ErrorCode, res.Message)
	}
	observability.EndSpan(span, spanErr)
	r.emit(ctx, EventActionDone, res)
	return res
}

// retryable outcomes are worth a fallback when the primary action ran but
// the page did not end up in the expected state.
func retryable(k schemas.OutcomeKind) bool {
	switch k {
	case schemas.OutcomeFocusOn, schemas.OutcomeURLContains, schemas.OutcomeElementPresent:
		return true
	}
	return false
}

// reflect checks the plan's expected outcome against the page. Issues found
// by a verify action are returned, after remediation if it ran.
func (r *run) reflect(ctx context.Context, task schemas.TaskDescriptor, plan schemas.ActionPlan, res schemas.ActionResult, logger *zap.Logger) (bool, []schemas.AccessibilityIssue, error) {
	exp := plan.Expected
	switch exp.Kind {
	case "", schemas.OutcomeNone:
		return true, nil, nil

	case schemas.OutcomeStable:
		// Stability timeouts are soft.
		return true, nil, nil

	case schemas.OutcomeFocusOn:
		el, err := r.a.perceiver.SnapshotElement(ctx, exp.Target)
		if err != nil {
			if errors.Is(err, schemas.ErrElementNotFound) {
				return false, nil, nil
			}
			return false, nil, err
		}
		info, ok, err := r.a.perceiver.Focused(ctx)
		if err != nil {
			return false, nil, err
		}
		return ok && info.Selector == el.Selector, nil, nil

	case schemas.OutcomeURLContains:
		url, err := r.a.perceiver.CurrentURL(ctx)
		if err != nil {
			return false, nil, err
		}
		return strings.Contains(url, exp.Value), nil, nil

	case schemas.OutcomeElementPresent:
		_, err := r.a.perceiver.SnapshotElement(ctx, exp.Target)
		if errors.Is(err, schemas.ErrElementNotFound) {
			return false, nil, nil
		}
		return err == nil, nil, err

	case schemas.OutcomeNoFocusTraps:
		nav, ok := res.Output.(schemas.FocusNavigationResult)
		if !ok {
			return false, nil, fmt.Errorf("reflect: keyboard walk returned %T", res.Output)
		}
		r.result.FocusTraps = append(r.result.FocusTraps, nav.FocusTraps...)
		if len(nav.FocusTraps) > 0 {
			logger.Warn("Focus trap detected.", zap.Int("traps", len(nav.FocusTraps)), zap.Strings("cycle", nav.FocusTraps[0].Cycle))
		}
		return len(nav.FocusTraps) == 0, nil, nil

	case schemas.OutcomeNoIssues:
		out, ok := res.Output.(schemas.VerifyOutput)
		if !ok {
			return false, nil, fmt.Errorf("reflect: verify returned %T", res.Output)
		}
		return r.reflectIssues(ctx, task, out, logger)
	}
	return false, nil, fmt.Errorf("reflect: unknown expected outcome %q", exp.Kind)
}

// reflectIssues records verification findings and, when enabled, hands them
// to the remediation engine. The outcome is met if nothing was found or
// every issue was fixed.
func (r *run) reflectIssues(ctx context.Context, task schemas.TaskDescriptor, out schemas.VerifyOutput, logger *zap.Logger) (bool, []schemas.AccessibilityIssue, error) {
	issues := out.Issues
	for _, is := range issues {
		issuesDetected.WithLabelValues(string(is.Type), string(is.Severity)).Inc()
	}
	if len(issues) == 0 {
		return true, nil, nil
	}
	r.emit(ctx, EventIssues, issues)
	logger.Info("Issues detected.", zap.String("selector", out.Element.Selector), zap.Int("count", len(issues)))

	if r.a.remediator == nil || !r.a.cfg.AutoRemediate {
		r.result.Issues = append(r.result.Issues, issues...)
		return false, issues, nil
	}

	rt, err := r.a.remediator.RemediateElement(ctx, remediation.Target{Element: out.Element, Issues: issues})
	// Fixes touch styles and attributes whatever the outcome.
	r.stale = true
	if err != nil {
		return false, issues, err
	}
	r.result.Remediations = append(r.result.Remediations, rt)
	r.emit(ctx, EventRemediation, rt)
	if len(rt.Issues) > 0 {
		issues = rt.Issues
	}
	r.result.Issues = append(r.result.Issues, issues...)
	logger.Info("Remediation finished.", zap.String("task", rt.ID), zap.String("status", string(rt.Status)), zap.Int("fixes", len(rt.AppliedFixes)))
	return rt.Status == schemas.StatusCompleted, issues, nil
}

// phaseFailure handles an unrecoverable phase error. Session errors end the
// loop; anything else fails the task and the loop moves on.
func (r *run) phaseFailure(ctx context.Context, task schemas.TaskDescriptor, m *schemas.CycleMetrics, phase string, err error, logger *zap.Logger) error {
	m.Error = err.Error()
	if schemas.IsSessionError(err) {
		return fmt.Errorf("agent: %s: %w", phase, err)
	}
	logger.Error("Phase failed.", zap.String("phase", phase), zap.Error(err))
	r.state = r.state.WithError(err)
	r.enter(ctx, schemas.PhaseError)
	r.outcome(task, schemas.TaskFailed, fmt.Sprintf("%s: %v", phase, err), nil)
	cyclesTotal.WithLabelValues("error").Inc()
	r.enter(ctx, schemas.PhaseIdle)
	return nil
}

func (r *run) outcome(task schemas.TaskDescriptor, status schemas.TaskStatus, msg string, issues []schemas.AccessibilityIssue) {
	r.outcomeWith(task, status, msg, issues, "", false)
}

func (r *run) outcomeWith(task schemas.TaskDescriptor, status schemas.TaskStatus, msg string, issues []schemas.AccessibilityIssue, action schemas.ActionType, fallback bool) {
	switch status {
	case schemas.TaskCompleted:
		r.result.TasksCompleted++
	case schemas.TaskFailed:
		r.result.TasksFailed++
	}
	r.result.Outcomes = append(r.result.Outcomes, schemas.TaskOutcome{
		TaskID:       task.ID,
		ParentID:     task.ParentID,
		Type:         task.Type,
		Target:       task.Target,
		Status:       status,
		Action:       action,
		UsedFallback: fallback,
		Error:        msg,
		Issues:       issues,
	})
}

// finish moves to terminated, releases the session and fills in the
// aggregate fields.
func (r *run) finish(ctx context.Context, loopErr error) {
	r.result.TasksPending = r.queue.Len()
	r.result.Duration = r.a.now().Sub(r.began)
	if loopErr != nil {
		r.result.Error = loopErr.Error()
		r.state = r.state.WithError(loopErr)
	}
	r.result.Success = loopErr == nil &&
		r.result.Termination == schemas.TerminationQueueEmpty &&
		r.result.TasksFailed == 0

	cleanup := context.WithoutCancel(ctx)
	if r.result.URL == "" && loopErr == nil {
		if url, err := r.a.perceiver.CurrentURL(cleanup); err == nil {
			r.result.URL = url
		}
	}
	r.enter(ctx, schemas.PhaseTerminated)
	loopsTotal.WithLabelValues(string(r.result.Termination)).Inc()

	if r.a.release != nil {
		if err := r.a.release(cleanup); err != nil {
			r.logger.Warn("Failed to release session.", zap.Error(err))
		}
	}
	r.logger.Info("PRAR loop terminated.",
		zap.String("termination", string(r.result.Termination)),
		zap.Int("cycles", r.result.Cycles),
		zap.Int("completed", r.result.TasksCompleted),
		zap.Int("failed", r.result.TasksFailed),
		zap.Int("pending", r.result.TasksPending),
		zap.Bool("success", r.result.Success))
}
