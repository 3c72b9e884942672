// internal/remediation/engine.go
package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/browser/style"
	"github.com/xkilldash9x/focusfix/internal/config"
	"github.com/xkilldash9x/focusfix/internal/injection"
)

var (
	ErrTaskNotFound        = errors.New("remediation task not found")
	ErrRollbackUnavailable = errors.New("rollback not available for task")
	ErrPartialRollback     = errors.New("rollback only partially completed")
	ErrInvalidTransition   = errors.New("invalid remediation status transition")
)

// DefaultMaxConcurrentTasks bounds the worker pool when config leaves it unset.
const DefaultMaxConcurrentTasks = 5

// Target is one element to remediate. When Issues is empty they are
// detected on the page; when Context has no background it is measured.
type Target struct {
	Element schemas.ElementDescriptor
	Context schemas.ElementContext
	Issues  []schemas.AccessibilityIssue
}

// Option configures an Engine.
type Option func(*Engine)

// WithWCAGLevel sets the conformance level detection checks against.
func WithWCAGLevel(level schemas.WCAGLevel) Option {
	return func(e *Engine) { e.detector.level = level }
}

// Engine detects, fixes, verifies and rolls back accessibility issues on one
// page. Element tasks run concurrently up to MaxConcurrentTasks.
type Engine struct {
	cfg       config.RemediationConfig
	logger    *zap.Logger
	injector  *injection.Injector
	probe     *probe
	detector  *Detector
	generator *Generator
	verifier  *Verifier
	now       func() time.Time
	newID     func() string

	mu    sync.RWMutex
	tasks map[string]*schemas.RemediationTask
	order []string

	rollbackMu sync.Mutex
}

// NewEngine wires an engine to ch.
func NewEngine(ch Channel, cfg config.RemediationConfig, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	logger = logger.Named("remediation")
	inj, err := injection.New(ch, cfg.StrategyOrder, logger)
	if err != nil {
		return nil, err
	}
	p := &probe{ch: ch}
	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		injector:  inj,
		probe:     p,
		detector:  newDetector(p, schemas.WCAGLevelAA),
		generator: NewGenerator(cfg),
		verifier:  newVerifier(p, cfg.CaptureScreenshots),
		now:       time.Now,
		newID:     uuid.NewString,
		tasks:     make(map[string]*schemas.RemediationTask),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Injector exposes the injection system the engine applies fixes through.
func (e *Engine) Injector() *injection.Injector { return e.injector }

// Detect reports el's issues at level without fixing anything. An empty
// level uses the engine's configured one.
func (e *Engine) Detect(ctx context.Context, el schemas.ElementDescriptor, level schemas.WCAGLevel) ([]schemas.AccessibilityIssue, error) {
	return e.detector.DetectAt(ctx, el, level)
}

// RemediateElement runs one element task to completion. The returned error is
// non-nil only for session errors; a task that could not fix its issues is
// reported through its status.
func (e *Engine) RemediateElement(ctx context.Context, t Target) (schemas.RemediationTask, error) {
	id := e.register(t)
	err := e.run(ctx, id, t)
	task, _ := e.Task(id)
	return task, err
}

// RemediateMultipleElements remediates targets with at most
// MaxConcurrentTasks in progress at once. A failing task does not affect the
// others. Cancellation stops new tasks from being dequeued; tasks already
// running finish. Only tasks that were started are returned.
func (e *Engine) RemediateMultipleElements(ctx context.Context, targets []Target) ([]schemas.RemediationTask, error) {
	// Fixes on one element share injection keys, so two tasks on the same
	// selector would replace or roll back each other's work.
	if merged := mergeTargets(targets); len(merged) < len(targets) {
		e.logger.Debug("Merged duplicate targets.",
			zap.Int("targets", len(targets)),
			zap.Int("distinct", len(merged)))
		targets = merged
	}
	results := make([]schemas.RemediationTask, len(targets))
	started := make([]bool, len(targets))

	var (
		g        errgroup.Group
		errMu    sync.Mutex
		firstErr error
	)
	g.SetLimit(e.cfg.MaxConcurrentTasks)

	for i, t := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			started[i] = true

			task, err := e.RemediateElement(ctx, t)
			results[i] = task
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]schemas.RemediationTask, 0, len(targets))
	for i, ok := range started {
		if ok {
			out = append(out, results[i])
		}
	}
	e.logger.Info("Batch remediation finished.",
		zap.Int("targets", len(targets)),
		zap.Int("started", len(out)))
	if firstErr != nil {
		return out, firstErr
	}
	return out, ctx.Err()
}

// mergeTargets collapses targets sharing a selector into the first one.
// Issues are unioned by type; if any duplicate leaves issues to detection,
// the merged target does too.
func mergeTargets(targets []Target) []Target {
	index := make(map[string]int, len(targets))
	detect := make(map[string]bool)
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		sel := t.Element.Selector
		at, seen := index[sel]
		if !seen {
			index[sel] = len(out)
			detect[sel] = len(t.Issues) == 0
			t.Issues = cloneIssues(t.Issues)
			out = append(out, t)
			continue
		}
		if detect[sel] || len(t.Issues) == 0 {
			detect[sel] = true
			out[at].Issues = nil
			continue
		}
		for _, issue := range t.Issues {
			if !hasIssueType(out[at].Issues, issue.Type) {
				out[at].Issues = append(out[at].Issues, issue)
			}
		}
	}
	return out
}

func hasIssueType(issues []schemas.AccessibilityIssue, typ schemas.IssueType) bool {
	for _, issue := range issues {
		if issue.Type == typ {
			return true
		}
	}
	return false
}

func (e *Engine) register(t Target) string {
	task := &schemas.RemediationTask{
		ID:        e.newID(),
		Element:   t.Element,
		Context:   t.Context,
		Issues:    cloneIssues(t.Issues),
		Priority:  schemas.PriorityFor(t.Issues),
		Status:    schemas.StatusPending,
		CreatedAt: e.now(),
	}
	e.mu.Lock()
	e.tasks[task.ID] = task
	e.order = append(e.order, task.ID)
	e.mu.Unlock()
	return task.ID
}

func (e *Engine) run(ctx context.Context, id string, t Target) (err error) {
	if err := e.update(id, func(task *schemas.RemediationTask) error {
		if err := transition(task, schemas.StatusInProgress); err != nil {
			return err
		}
		task.StartedAt = e.now()
		return nil
	}); err != nil {
		return err
	}
	tasksInProgress.Inc()
	defer tasksInProgress.Dec()

	logger := e.logger.With(zap.String("task_id", id), zap.String("selector", t.Element.Selector))
	var applied []string
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Remediation task panicked.", zap.Any("panic", r), zap.Stack("stack"))
			e.fail(context.WithoutCancel(ctx), id, applied, fmt.Sprintf("panic: %v", r), true, logger)
			err = nil
		}
	}()

	ectx := t.Context
	if ectx.Background == "" {
		if ectx, err = e.describeContext(ctx, t.Element.Selector, ectx); err != nil {
			e.fail(ctx, id, nil, err.Error(), false, logger)
			return sessionOnly(err)
		}
	}

	issues := cloneIssues(t.Issues)
	if len(issues) == 0 {
		if issues, err = e.detector.Detect(ctx, t.Element); err != nil {
			e.fail(ctx, id, nil, err.Error(), false, logger)
			return sessionOnly(err)
		}
	}
	sortIssues(issues)
	_ = e.update(id, func(task *schemas.RemediationTask) error {
		task.Context = ectx
		task.Issues = cloneIssues(issues)
		task.Priority = schemas.PriorityFor(issues)
		return nil
	})

	// Fix applications finish even if ctx is cancelled mid-way, so no fix is
	// left half applied. Cancellation is honoured between issues.
	work := context.WithoutCancel(ctx)
	for i := range issues {
		if ctx.Err() != nil {
			e.commitIssues(id, issues)
			e.fail(work, id, applied, "cancelled: "+ctx.Err().Error(), true, logger)
			return nil
		}
		kept, ierr := e.remediateIssue(work, &issues[i], t.Element, ectx, logger)
		applied = append(applied, kept...)
		if ierr != nil {
			e.commitIssues(id, issues)
			e.fail(work, id, applied, ierr.Error(), false, logger)
			return ierr
		}
	}
	e.commitIssues(id, issues)

	unfixed := 0
	for _, is := range issues {
		if is.Status != schemas.IssueFixed {
			unfixed++
		}
	}
	if unfixed > 0 {
		e.fail(work, id, applied, fmt.Sprintf("%d of %d issues not fixed", unfixed, len(issues)), true, logger)
		return nil
	}
	e.complete(id, applied, logger)
	return nil
}

// remediateIssue tries each generated fix for issue until one verifies. It
// returns the ids of fixes left applied. Only session errors are returned.
func (e *Engine) remediateIssue(ctx context.Context, issue *schemas.AccessibilityIssue, el schemas.ElementDescriptor, ectx schemas.ElementContext, logger *zap.Logger) ([]string, error) {
	sols, err := e.generator.Generate(*issue, el, ectx)
	if err != nil {
		issue.Status = schemas.IssueUnfixed
		issue.Attempts = append(issue.Attempts, schemas.RemediationAttempt{Timestamp: e.now(), Error: err.Error()})
		return nil, nil
	}

	var kept []string
	for _, sol := range sols {
		attempt := schemas.RemediationAttempt{Timestamp: e.now(), Solution: sol}
		if sol.Confidence < e.cfg.MinConfidence {
			attempt.Error = fmt.Sprintf("confidence %.2f below minimum %.2f", sol.Confidence, e.cfg.MinConfidence)
			issue.Attempts = append(issue.Attempts, attempt)
			fixesTotal.WithLabelValues(string(sol.FixType), "rejected").Inc()
			continue
		}

		var before baseline
		if e.cfg.VerifyEnabled {
			if before, err = e.verifier.capture(ctx, sol); err != nil {
				attempt.Error = err.Error()
				issue.Attempts = append(issue.Attempts, attempt)
				if schemas.IsSessionError(err) {
					return kept, err
				}
				continue
			}
		}

		rec, err := e.injector.Apply(ctx, sol)
		if err != nil {
			attempt.Error = err.Error()
			issue.Attempts = append(issue.Attempts, attempt)
			fixesTotal.WithLabelValues(string(sol.FixType), "failed").Inc()
			logger.Warn("Fix could not be applied.", zap.String("fix_type", string(sol.FixType)), zap.Error(err))
			if schemas.IsSessionError(err) {
				return kept, err
			}
			continue
		}
		attempt.Applied = true
		attempt.Strategy = string(rec.Strategy)
		fixesTotal.WithLabelValues(string(sol.FixType), "applied").Inc()

		if !e.cfg.VerifyEnabled {
			issue.Status = schemas.IssueFixed
			issue.Attempts = append(issue.Attempts, attempt)
			return append(kept, sol.ID), nil
		}

		vr, err := e.verifier.Verify(ctx, sol, before)
		if err != nil {
			attempt.Error = err.Error()
			issue.Attempts = append(issue.Attempts, attempt)
			return append(kept, sol.ID), err
		}
		attempt.Verification = &vr
		if vr.Passed {
			fixesTotal.WithLabelValues(string(sol.FixType), "verified").Inc()
			issue.Status = schemas.IssueFixed
			issue.Attempts = append(issue.Attempts, attempt)
			logger.Debug("Fix verified.", zap.String("fix_type", string(sol.FixType)), zap.String("strategy", attempt.Strategy))
			return append(kept, sol.ID), nil
		}

		logger.Info("Fix failed verification.", zap.String("fix_type", string(sol.FixType)))
		if e.cfg.RollbackOnFailure {
			if rerr := e.injector.Remove(ctx, sol.ID); rerr != nil {
				attempt.Error = "rollback after failed verification: " + rerr.Error()
				kept = append(kept, sol.ID)
				if schemas.IsSessionError(rerr) {
					issue.Attempts = append(issue.Attempts, attempt)
					return kept, rerr
				}
			} else {
				attempt.RolledBack = true
				fixesTotal.WithLabelValues(string(sol.FixType), "rolled_back").Inc()
			}
		} else {
			kept = append(kept, sol.ID)
		}
		issue.Attempts = append(issue.Attempts, attempt)
	}
	if issue.Status != schemas.IssueFixed {
		issue.Status = schemas.IssueUnfixed
	}
	return kept, nil
}

// describeContext measures the background behind the element and its theme.
func (e *Engine) describeContext(ctx context.Context, selector string, ectx schemas.ElementContext) (schemas.ElementContext, error) {
	bgValue, err := e.probe.ch.EffectiveBackground(ctx, selector)
	if err != nil {
		return ectx, fmt.Errorf("describe context of %q: %w", selector, err)
	}
	bg, ok := style.ParseColor(bgValue)
	if !ok || bg.IsTransparent() {
		bg = style.White
	}
	ectx.Background = bg.Over(style.White).CSS()
	if ectx.Theme == "" {
		ectx.Theme = "light"
		if style.IsDark(bg) {
			ectx.Theme = "dark"
		}
	}
	return ectx, nil
}

func (e *Engine) commitIssues(id string, issues []schemas.AccessibilityIssue) {
	_ = e.update(id, func(task *schemas.RemediationTask) error {
		task.Issues = cloneIssues(issues)
		return nil
	})
}

func (e *Engine) complete(id string, applied []string, logger *zap.Logger) {
	_ = e.update(id, func(task *schemas.RemediationTask) error {
		if err := transition(task, schemas.StatusCompleted); err != nil {
			return err
		}
		task.CompletedAt = e.now()
		task.AppliedFixes = append([]string(nil), applied...)
		task.RollbackAvailable = len(applied) > 0 && e.allReversible(task)
		taskDuration.Observe(task.Duration().Seconds())
		return nil
	})
	tasksTotal.WithLabelValues(string(schemas.StatusCompleted)).Inc()
	logger.Info("Remediation task completed.", zap.Int("fixes", len(applied)))
}

// fail marks the task failed. When rollback on failure is enabled and
// removeFixes is set, fixes still applied are removed so a failed task
// leaves the page as it found it.
func (e *Engine) fail(ctx context.Context, id string, applied []string, reason string, removeFixes bool, logger *zap.Logger) {
	remaining := append([]string(nil), applied...)
	if removeFixes && e.cfg.RollbackOnFailure {
		for i := len(remaining) - 1; i >= 0; i-- {
			if err := e.injector.Remove(ctx, remaining[i]); err != nil && !errors.Is(err, injection.ErrNotApplied) {
				logger.Warn("Could not remove fix of failed task.", zap.String("solution_id", remaining[i]), zap.Error(err))
				break
			}
			e.markRolledBack(id, remaining[i])
			remaining = remaining[:i]
		}
	}
	_ = e.update(id, func(task *schemas.RemediationTask) error {
		if err := transition(task, schemas.StatusFailed); err != nil {
			return err
		}
		task.CompletedAt = e.now()
		task.AppliedFixes = remaining
		task.Error = reason
		taskDuration.Observe(task.Duration().Seconds())
		return nil
	})
	tasksTotal.WithLabelValues(string(schemas.StatusFailed)).Inc()
	logger.Info("Remediation task failed.", zap.String("reason", reason), zap.Int("fixes_left_applied", len(remaining)))
}

func (e *Engine) allReversible(task *schemas.RemediationTask) bool {
	applied := make(map[string]bool, len(task.AppliedFixes))
	for _, id := range task.AppliedFixes {
		applied[id] = true
	}
	for _, is := range task.Issues {
		for _, a := range is.Attempts {
			if applied[a.Solution.ID] && !a.Solution.Reversible {
				return false
			}
		}
	}
	return true
}

func (e *Engine) markRolledBack(id, solutionID string) {
	_ = e.update(id, func(task *schemas.RemediationTask) error {
		for i := range task.Issues {
			for j := range task.Issues[i].Attempts {
				if task.Issues[i].Attempts[j].Solution.ID == solutionID {
					task.Issues[i].Attempts[j].RolledBack = true
					if task.Issues[i].Status == schemas.IssueFixed {
						task.Issues[i].Status = schemas.IssueReverted
					}
				}
			}
		}
		return nil
	})
}

// RollbackRemediation removes every fix of a completed task in reverse
// application order. It stops at the first removal that fails and returns
// ErrPartialRollback. The task then stays completed, with the fixes that were
// not removed still applied, and the rollback can be retried.
func (e *Engine) RollbackRemediation(ctx context.Context, taskID string) error {
	e.rollbackMu.Lock()
	defer e.rollbackMu.Unlock()

	e.mu.RLock()
	task, ok := e.tasks[taskID]
	var fixes []string
	var status schemas.RemediationStatus
	var available bool
	if ok {
		fixes = append([]string(nil), task.AppliedFixes...)
		status, available = task.Status, task.RollbackAvailable
	}
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if status != schemas.StatusCompleted || !available {
		return fmt.Errorf("%w: %s is %s", ErrRollbackUnavailable, taskID, status)
	}

	for i := len(fixes) - 1; i >= 0; i-- {
		err := e.injector.Remove(ctx, fixes[i])
		if err != nil && !errors.Is(err, injection.ErrNotApplied) {
			reason := fmt.Sprintf("rollback stopped at %s: %v", fixes[i], err)
			_ = e.update(taskID, func(task *schemas.RemediationTask) error {
				task.Error = reason
				return nil
			})
			e.logger.Warn("Partial rollback.", zap.String("task_id", taskID), zap.Int("remaining", i+1), zap.Error(err))
			return fmt.Errorf("%w: task %s, fix %s: %w", ErrPartialRollback, taskID, fixes[i], err)
		}
		e.markRolledBack(taskID, fixes[i])
	}

	err := e.update(taskID, func(task *schemas.RemediationTask) error {
		if err := transition(task, schemas.StatusRolledBack); err != nil {
			return err
		}
		task.RollbackAvailable = false
		task.Error = ""
		return nil
	})
	if err != nil {
		return err
	}
	tasksTotal.WithLabelValues(string(schemas.StatusRolledBack)).Inc()
	e.logger.Info("Task rolled back.", zap.String("task_id", taskID), zap.Int("fixes", len(fixes)))
	return nil
}

// Task returns a copy of one task.
func (e *Engine) Task(id string) (schemas.RemediationTask, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	task, ok := e.tasks[id]
	if !ok {
		return schemas.RemediationTask{}, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of every task in creation order.
func (e *Engine) Tasks() []schemas.RemediationTask {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]schemas.RemediationTask, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, cloneTask(e.tasks[id]))
	}
	return out
}

func (e *Engine) update(id string, fn func(*schemas.RemediationTask) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	task, ok := e.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return fn(task)
}

func transition(task *schemas.RemediationTask, next schemas.RemediationStatus) error {
	if !task.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, next)
	}
	task.Status = next
	return nil
}

// sessionOnly drops everything but session errors, which the caller must see.
func sessionOnly(err error) error {
	if schemas.IsSessionError(err) {
		return err
	}
	return nil
}

func cloneIssues(in []schemas.AccessibilityIssue) []schemas.AccessibilityIssue {
	if in == nil {
		return nil
	}
	out := make([]schemas.AccessibilityIssue, len(in))
	for i, is := range in {
		out[i] = is
		out[i].WCAGCriteria = append([]string(nil), is.WCAGCriteria...)
		out[i].Attempts = append([]schemas.RemediationAttempt(nil), is.Attempts...)
	}
	return out
}

func cloneTask(t *schemas.RemediationTask) schemas.RemediationTask {
	out := *t
	out.Issues = cloneIssues(t.Issues)
	out.AppliedFixes = append([]string(nil), t.AppliedFixes...)
	return out
}
