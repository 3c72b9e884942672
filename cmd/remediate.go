// cmd/remediate.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/config"
	"github.com/xkilldash9x/focusfix/internal/observability"
	"github.com/xkilldash9x/focusfix/internal/perception"
	"github.com/xkilldash9x/focusfix/internal/remediation"
	"github.com/xkilldash9x/focusfix/internal/reporting"
)

// errRemediationFailed is returned after the report is written when at least
// one element could not be fixed.
var errRemediationFailed = errors.New("remediation incomplete")

type remediateOptions struct {
	target    attachTarget
	selectors []string
	exclude   []string
	wcag      string
	revert    bool
	output    string
	format    string
	quiet     bool
}

func newRemediateCmd() *cobra.Command {
	opts := &remediateOptions{}

	remediateCmd := &cobra.Command{
		Use:   "remediate [url]",
		Short: "Detect and fix focus visibility issues on specific elements",
		Long: `Detects issues on each --selector (or on every keyboard-relevant element
when none is given), applies verified fixes with bounded concurrency and
writes the remediation report. With --revert, every applied fix is rolled
back after the report is taken, leaving the page as it was.`,
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
			level := schemas.WCAGLevel(strings.ToUpper(opts.wcag))
			if level == "" {
				level = schemas.WCAGLevelAA
			}

			att, err := openSession(ctx, cfg, opts.target, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := att.Release(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("Failed to release session", zap.Error(err))
				}
			}()

			progress := cmd.ErrOrStderr()
			if opts.quiet {
				progress = io.Discard
			}
			report, err := runRemediation(ctx, cfg, att.Channel, opts, level, progress, logger)
			if err != nil && !schemas.IsSessionError(err) && !errors.Is(err, context.Canceled) {
				return err
			}
			if writeErr := writeRemediationReport(opts.format, opts.output, report, logger); writeErr != nil {
				return writeErr
			}
			if err != nil {
				return fmt.Errorf("remediation ended early: %w", err)
			}
			if report.Failed > 0 {
				return fmt.Errorf("%w: %d of %d elements failed", errRemediationFailed, report.Failed, report.Total)
			}
			return nil
		},
	}

	f := remediateCmd.Flags()
	f.IntVar(&opts.target.TabID, "tab", 0, "Attach to an existing tab by id instead of launching one")
	f.StringSliceVarP(&opts.selectors, "selector", "s", nil, "Element selectors to remediate (default every focusable element)")
	f.StringSliceVar(&opts.exclude, "exclude", nil, "Selectors to skip when remediating the whole page")
	f.StringVar(&opts.wcag, "wcag", "AA", "WCAG conformance level (A, AA, AAA)")
	f.BoolVar(&opts.revert, "revert", false, "Roll back every applied fix once the report is taken")
	f.StringVarP(&opts.output, "output", "o", "", "Report path (default stdout)")
	f.StringVarP(&opts.format, "format", "f", reporting.FormatMarkdown, "Report format (sarif, json, markdown)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress per-element progress on stderr")

	f.String("devtools-url", "", "DevTools endpoint of a running browser")
	f.Bool("headless", true, "Run a launched browser headless")
	f.Int("concurrency", 0, "Maximum elements remediated at once")
	f.Bool("verify", true, "Verify each fix through focus simulation")
	f.Bool("rollback-on-failure", true, "Remove fixes that fail verification")
	bindFlag(f, "devtools-url", "browser.devtools_url")
	bindFlag(f, "headless", "browser.headless")
	bindFlag(f, "concurrency", "remediation.max_concurrent_tasks")
	bindFlag(f, "verify", "remediation.verify_enabled")
	bindFlag(f, "rollback-on-failure", "remediation.rollback_on_failure")

	return remediateCmd
}

// channel is what remediation needs from an attached tab.
type channel interface {
	perception.Channel
	remediation.Channel
}

// runRemediation detects issues on the requested elements, fixes them and
// returns the engine's report. Elements without issues are not tasked.
func runRemediation(ctx context.Context, cfg *config.Config, ch channel, opts *remediateOptions, level schemas.WCAGLevel, w io.Writer, logger *zap.Logger) (remediation.Report, error) {
	perceiver := perception.New(ch, cfg.Perception(), logger)
	engine, err := remediation.NewEngine(ch, cfg.Remediation(), logger, remediation.WithWCAGLevel(level))
	if err != nil {
		return remediation.Report{}, fmt.Errorf("failed to initialize remediation engine: %w", err)
	}

	elements, err := collectElements(ctx, perceiver, opts)
	if err != nil {
		return engine.Report(), err
	}

	var targets []remediation.Target
	for _, el := range elements {
		issues, err := engine.Detect(ctx, el, level)
		if err != nil {
			if schemas.IsSessionError(err) {
				return engine.Report(), err
			}
			logger.Warn("Detection failed", zap.String("selector", el.Selector), zap.Error(err))
			continue
		}
		if len(issues) == 0 {
			continue
		}
		for _, is := range issues {
			fmt.Fprintf(w, "  ! %s %s on %s\n", is.Severity, is.Type, is.Selector)
		}
		targets = append(targets, remediation.Target{Element: el, Issues: issues})
	}
	logger.Info("Detection finished", zap.Int("elements", len(elements)), zap.Int("targets", len(targets)))

	tasks, runErr := engine.RemediateMultipleElements(ctx, targets)
	for _, t := range tasks {
		fmt.Fprintf(w, "  fix %s: %s (%d applied)\n", t.Element.Selector, t.Status, len(t.AppliedFixes))
	}
	report := engine.Report()

	if opts.revert {
		for _, t := range tasks {
			if t.Status != schemas.StatusCompleted {
				continue
			}
			if err := engine.RollbackRemediation(context.WithoutCancel(ctx), t.ID); err != nil {
				logger.Warn("Rollback failed", zap.String("task_id", t.ID), zap.Error(err))
				if runErr == nil {
					runErr = fmt.Errorf("rollback %s: %w", t.ID, err)
				}
			}
		}
	}
	return report, runErr
}

// collectElements describes the selected elements, or every element of a
// fresh snapshot when no selectors were given.
func collectElements(ctx context.Context, p *perception.Engine, opts *remediateOptions) ([]schemas.ElementDescriptor, error) {
	if len(opts.selectors) == 0 {
		state, err := p.Snapshot(ctx, schemas.Constraints{ExcludedSelectors: opts.exclude})
		if err != nil {
			return nil, fmt.Errorf("failed to perceive page: %w", err)
		}
		return state.Elements(), nil
	}

	elements := make([]schemas.ElementDescriptor, 0, len(opts.selectors))
	for _, sel := range opts.selectors {
		el, err := p.SnapshotElement(ctx, sel)
		if err != nil {
			if errors.Is(err, schemas.ErrElementNotFound) {
				return nil, fmt.Errorf("selector %q: %w", sel, err)
			}
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

func writeRemediationReport(format, output string, report remediation.Report, logger *zap.Logger) error {
	reporter, err := reporting.New(format, output, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.WriteRemediation(report); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write remediation report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	return nil
}
