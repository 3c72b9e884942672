// internal/reporting/markdown_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/remediation"
)

// MarkdownReporter renders a human readable audit report.
type MarkdownReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	sb     strings.Builder
	loops  int
	closed bool
}

// NewMarkdownReporter creates a reporter that writes Markdown to writer.
func NewMarkdownReporter(writer io.WriteCloser, logger *zap.Logger) *MarkdownReporter {
	return &MarkdownReporter{writer: writer, logger: logger.Named("markdown_reporter")}
}

func (r *MarkdownReporter) WriteLoop(result *schemas.LoopResult) error {
	if result == nil {
		return fmt.Errorf("markdown: nil loop result")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.loops++
	sb := &r.sb

	verdict := "PASS"
	if !result.Success {
		verdict = "FAIL"
	}
	fmt.Fprintf(sb, "# Focus Visibility Audit: %s\n\n", verdict)
	if result.URL != "" {
		fmt.Fprintf(sb, "- Page: %s\n", result.URL)
	}
	fmt.Fprintf(sb, "- Task: `%s`\n", result.TaskID)
	fmt.Fprintf(sb, "- Termination: %s after %d cycles in %s\n", result.Termination, result.Cycles, result.Duration.Round(time.Millisecond))
	fmt.Fprintf(sb, "- Tasks: %d completed, %d failed, %d pending\n", result.TasksCompleted, result.TasksFailed, result.TasksPending)
	fmt.Fprintf(sb, "- Issues: %d found, %d open\n", len(result.Issues), result.OpenIssues())
	if result.Error != "" {
		fmt.Fprintf(sb, "\n> %s\n", result.Error)
	}

	if len(result.FocusTraps) > 0 {
		sb.WriteString("\n## Focus traps\n\n")
		for _, trap := range result.FocusTraps {
			fmt.Fprintf(sb, "- step %d: `%s`\n", trap.Position, strings.Join(trap.Cycle, "` -> `"))
		}
	}

	if len(result.Issues) > 0 {
		sb.WriteString("\n## Issues\n\n")
		sb.WriteString("| Element | Issue | Severity | WCAG | Status |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, is := range result.Issues {
			fmt.Fprintf(sb, "| `%s` | %s | %s | %s | %s |\n",
				is.Selector, is.Type, is.Severity, strings.Join(is.WCAGCriteria, ", "), is.Status)
		}
	}

	var failed []schemas.TaskOutcome
	for _, o := range result.Outcomes {
		if o.Status == schemas.TaskFailed {
			failed = append(failed, o)
		}
	}
	if len(failed) > 0 {
		sb.WriteString("\n## Failed tasks\n\n")
		for _, o := range failed {
			target := ""
			if o.Target != "" {
				target = fmt.Sprintf(" `%s`", o.Target)
			}
			fmt.Fprintf(sb, "- %s (%s)%s: %s\n", o.TaskID, o.Type, target, o.Error)
		}
	}
	sb.WriteString("\n")
	return nil
}

func (r *MarkdownReporter) WriteRemediation(report remediation.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.sb.WriteString(report.Markdown(true))
	r.sb.WriteString("\n")
	return nil
}

func (r *MarkdownReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	_, writeErr := io.WriteString(r.writer, r.sb.String())
	closeErr := r.writer.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write markdown output: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote markdown report", zap.Int("loops", r.loops))
	return nil
}
