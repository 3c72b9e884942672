// cmd/audit.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/agent"
	"github.com/xkilldash9x/focusfix/internal/config"
	"github.com/xkilldash9x/focusfix/internal/humanoid"
	"github.com/xkilldash9x/focusfix/internal/observability"
	"github.com/xkilldash9x/focusfix/internal/perception"
	"github.com/xkilldash9x/focusfix/internal/planning"
	"github.com/xkilldash9x/focusfix/internal/remediation"
	"github.com/xkilldash9x/focusfix/internal/reporting"
)

// errAuditFailed is returned after the report is written when the loop
// ended with failed tasks or open issues, so the process exits non-zero.
var errAuditFailed = errors.New("audit did not pass")

type auditOptions struct {
	target      attachTarget
	taskFile    string
	taskType    string
	selector    string
	wcag        string
	exclude     []string
	maxElements int
	timeBudget  time.Duration
	output      string
	format      string
	quiet       bool
}

func newAuditCmd() *cobra.Command {
	opts := &auditOptions{}

	auditCmd := &cobra.Command{
		Use:   "audit [url]",
		Short: "Run a perceive-plan-act-reflect audit of keyboard focus visibility",
		Long: `Attaches to a tab (or launches one at url), runs the task descriptor through
the PRAR loop and writes a report. Without --task, a full audit derived from
the page is run.

Exits non-zero when the audit leaves failed tasks or unresolved issues.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				opts.target.URL = normalizeURL(args[0])
			}
			if err := opts.target.validate(); err != nil {
				return err
			}
			task, err := opts.buildTask()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsCfg.Enabled = true
			}
			stopMetrics := startMetrics(ctx, cfg, logger)
			defer stopMetrics()

			att, err := openSession(ctx, cfg, opts.target, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := att.Release(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("Failed to release session", zap.Error(err))
				}
			}()

			var progress io.Writer = cmd.ErrOrStderr()
			if opts.quiet {
				progress = io.Discard
			}
			res, report, err := runAudit(ctx, cfg, att, task, progress, logger)
			if err != nil && !schemas.IsSessionError(err) {
				return err
			}
			if writeErr := writeAuditReport(opts.format, opts.output, res, report, logger); writeErr != nil {
				return writeErr
			}
			if err != nil {
				return fmt.Errorf("audit ended early: %w", err)
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			if !res.Success {
				return fmt.Errorf("%w: %d open issues, %d failed tasks", errAuditFailed, res.OpenIssues(), res.TasksFailed)
			}
			return nil
		},
	}

	f := auditCmd.Flags()
	f.IntVar(&opts.target.TabID, "tab", 0, "Attach to an existing tab by id (see 'focusfix tabs') instead of launching one")
	f.StringVarP(&opts.taskFile, "task", "t", "", "Task descriptor file (YAML, or JSON with a .json extension)")
	f.StringVar(&opts.taskType, "type", string(schemas.TaskFullAudit), "Task type when no --task file is given (full-audit, focus-trap-sweep, fix-verify)")
	f.StringVar(&opts.selector, "target", "", "Element selector for fix-verify tasks")
	f.StringVar(&opts.wcag, "wcag", "", "WCAG conformance level (A, AA, AAA). Overrides the task file")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "Selectors to leave out of the audit")
	f.IntVar(&opts.maxElements, "max-elements", 0, "Cap on elements perceived per snapshot (0 for no cap)")
	f.DurationVar(&opts.timeBudget, "time-budget", 0, "Time budget for the root task (0 for none)")
	f.StringVarP(&opts.output, "output", "o", "", "Report path (default stdout)")
	f.StringVarP(&opts.format, "format", "f", reporting.FormatMarkdown, "Report format (sarif, json, markdown)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress per-cycle progress output")

	// Config overrides.
	f.String("devtools-url", "", "DevTools endpoint of a running browser (ws:// or http://host:port)")
	f.Bool("headless", true, "Run a launched browser headless")
	f.Int("max-cycles", 0, "Maximum PRAR cycles per loop")
	f.String("planner", "", "Planner strategy (rules, llm)")
	f.Bool("auto-remediate", true, "Fix issues found during verification")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address while the audit runs")
	bindFlag(f, "devtools-url", "browser.devtools_url")
	bindFlag(f, "headless", "browser.headless")
	bindFlag(f, "max-cycles", "agent.max_cycles")
	bindFlag(f, "planner", "agent.planner")
	bindFlag(f, "auto-remediate", "agent.auto_remediate")
	bindFlag(f, "metrics-addr", "metrics.addr")

	return auditCmd
}

// buildTask loads the task file or assembles a descriptor from flags.
func (o *auditOptions) buildTask() (schemas.TaskDescriptor, error) {
	var task schemas.TaskDescriptor
	if o.taskFile != "" {
		t, err := loadTaskFile(o.taskFile)
		if err != nil {
			return t, err
		}
		task = t
	} else {
		task = schemas.TaskDescriptor{
			ID:       "audit-" + uuid.NewString()[:8],
			Type:     schemas.TaskType(o.taskType),
			Target:   o.selector,
			Priority: 5,
		}
		if task.Type == schemas.TaskFullAudit {
			task.Scope.Derive = true
		}
	}

	if o.wcag != "" {
		task.WCAGLevel = schemas.WCAGLevel(strings.ToUpper(o.wcag))
	}
	if len(o.exclude) > 0 {
		task.Constraints.ExcludedSelectors = append(task.Constraints.ExcludedSelectors, o.exclude...)
	}
	if o.maxElements > 0 {
		task.Constraints.MaxElements = o.maxElements
	}
	if o.timeBudget > 0 {
		task.Constraints.TimeBudget = o.timeBudget
	}
	if err := task.Validate(); err != nil {
		return task, fmt.Errorf("invalid task descriptor: %w", err)
	}
	return task, nil
}

// auditStack is the perception, simulation, planning and remediation stack
// wired to one attached tab.
type auditStack struct {
	perceiver   *perception.Engine
	remediation *remediation.Engine
	agent       *agent.Agent
	bus         *agent.EventBus
}

func newAuditStack(ctx context.Context, cfg *config.Config, att *attachment, level schemas.WCAGLevel, logger *zap.Logger) (*auditStack, error) {
	ch := att.Channel

	perceiver := perception.New(ch, cfg.Perception(), logger)
	engine, err := remediation.NewEngine(ch, cfg.Remediation(), logger, remediation.WithWCAGLevel(level))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize remediation engine: %w", err)
	}
	planner, err := planning.New(ctx, cfg.Agent(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize planner: %w", err)
	}

	h := humanoid.New(cfg.Humanoid(), logger, ch)
	executor := agent.NewChannelExecutor(logger, ch, h, perceiver, engine)
	bus := agent.NewEventBus(logger, 64)

	a := agent.New(cfg.Agent(), logger, perceiver, planner, executor,
		agent.WithRemediator(engine),
		agent.WithEventBus(bus),
		agent.WithSessionRelease(att.Release),
		agent.WithCapabilities(ch.Capabilities()),
	)
	return &auditStack{perceiver: perceiver, remediation: engine, agent: a, bus: bus}, nil
}

// runAudit runs task to termination, streaming progress to w. The remediation
// report covers every fix applied during the loop.
func runAudit(ctx context.Context, cfg *config.Config, att *attachment, task schemas.TaskDescriptor, w io.Writer, logger *zap.Logger) (schemas.LoopResult, remediation.Report, error) {
	stack, err := newAuditStack(ctx, cfg, att, task.Level(), logger)
	if err != nil {
		return schemas.LoopResult{TaskID: task.ID}, remediation.Report{}, err
	}

	if err := stack.perceiver.Start(ctx); err != nil {
		return schemas.LoopResult{TaskID: task.ID}, remediation.Report{}, fmt.Errorf("failed to start perception: %w", err)
	}
	defer stack.perceiver.Stop()

	events, _ := stack.bus.Subscribe(agent.EventCycleDone, agent.EventIssues, agent.EventRemediation)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printProgress(w, stack.bus, events)
	}()

	logger.Info("Starting audit",
		zap.String("task_id", task.ID),
		zap.String("type", string(task.Type)),
		zap.String("wcag", string(task.Level())))
	res, loopErr := stack.agent.StartLoop(ctx, task)

	// Shutdown closes the subscription once every event is acknowledged.
	stack.bus.Shutdown()
	<-printed

	logger.Info("Audit finished",
		zap.String("termination", string(res.Termination)),
		zap.Int("cycles", res.Cycles),
		zap.Int("issues", len(res.Issues)),
		zap.Int("open_issues", res.OpenIssues()),
		zap.Duration("duration", res.Duration))
	return res, stack.remediation.Report(), loopErr
}

// printProgress renders loop events until the subscription closes.
func printProgress(w io.Writer, bus *agent.EventBus, events <-chan agent.LoopEvent) {
	for ev := range events {
		switch p := ev.Payload.(type) {
		case schemas.CycleMetrics:
			status := "ok"
			if !p.Success {
				status = "failed"
				if p.Error != "" {
					status += ": " + p.Error
				}
			}
			action := string(p.Action)
			if action == "" {
				action = "-"
			}
			fmt.Fprintf(w, "[cycle %d] %s %s %s (%s)\n", p.Cycle, p.TaskID, action, status, p.Total.Round(time.Millisecond))
		case []schemas.AccessibilityIssue:
			for _, is := range p {
				fmt.Fprintf(w, "  ! %s %s on %s\n", is.Severity, is.Type, is.Selector)
			}
		case schemas.RemediationTask:
			fmt.Fprintf(w, "  fix %s: %s (%d applied)\n", p.Element.Selector, p.Status, len(p.AppliedFixes))
		}
		bus.Acknowledge(ev)
	}
}

// writeAuditReport writes the loop and, when remediation ran, its report.
func writeAuditReport(format, output string, res schemas.LoopResult, report remediation.Report, logger *zap.Logger) error {
	reporter, err := reporting.New(format, output, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.WriteLoop(&res); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if report.Total > 0 {
		if err := reporter.WriteRemediation(report); err != nil {
			_ = reporter.Close()
			return fmt.Errorf("failed to write remediation report: %w", err)
		}
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	if output != "" && output != "stdout" {
		logger.Info("Report written", zap.String("path", output), zap.String("format", format))
	}
	return nil
}

// startMetrics serves the Prometheus registry while metrics are enabled. The
// returned func stops it.
func startMetrics(ctx context.Context, cfg *config.Config, logger *zap.Logger) func() {
	mcfg := cfg.Metrics()
	if !mcfg.Enabled || mcfg.Addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := observability.ServeMetrics(ctx, mcfg.Addr, logger); err != nil {
			logger.Warn("Metrics endpoint failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
