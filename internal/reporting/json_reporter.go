// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/remediation"
)

// JSONDocument is the top-level shape of the json format.
type JSONDocument struct {
	Tool        string               `json:"tool"`
	Version     string               `json:"version"`
	GeneratedAt time.Time            `json:"generatedAt"`
	Loops       []schemas.LoopResult `json:"loops"`
	Remediation *remediation.Report  `json:"remediation,omitempty"`
	Summary     JSONSummary          `json:"summary"`
}

// JSONSummary aggregates every loop in the document.
type JSONSummary struct {
	Issues       int `json:"issues"`
	OpenIssues   int `json:"openIssues"`
	FocusTraps   int `json:"focusTraps"`
	Remediations int `json:"remediations"`
	TasksFailed  int `json:"tasksFailed"`
}

// JSONReporter buffers results and writes one indented JSON document.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	doc    JSONDocument
	closed bool
}

// NewJSONReporter creates a reporter that writes JSON to writer.
func NewJSONReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: logger.Named("json_reporter"),
		now:    time.Now,
		doc: JSONDocument{
			Tool:    ToolName,
			Version: toolVersion,
			Loops:   []schemas.LoopResult{},
		},
	}
}

func (r *JSONReporter) WriteLoop(result *schemas.LoopResult) error {
	if result == nil {
		return fmt.Errorf("json: nil loop result")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.doc.Loops = append(r.doc.Loops, *result)
	s := &r.doc.Summary
	s.Issues += len(result.Issues)
	s.OpenIssues += result.OpenIssues()
	s.FocusTraps += len(result.FocusTraps)
	s.Remediations += len(result.Remediations)
	s.TasksFailed += result.TasksFailed
	return nil
}

func (r *JSONReporter) WriteRemediation(report remediation.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.doc.Remediation = &report
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.doc.GeneratedAt = r.now().UTC()

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	encodeErr := encoder.Encode(r.doc)
	closeErr := r.writer.Close()
	if encodeErr != nil {
		return fmt.Errorf("failed to encode JSON output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Info("Wrote JSON report", zap.Int("loops", len(r.doc.Loops)), zap.Int("issues", r.doc.Summary.Issues))
	return nil
}
