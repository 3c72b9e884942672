// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/remediation"
	"github.com/xkilldash9x/focusfix/internal/reporting"
)

const testToolVersion = "v1.0.0-test"

// MockWriteCloser captures output and simulates I/O errors.
type MockWriteCloser struct {
	Buffer    *bytes.Buffer
	FailWrite bool
	FailClose bool
	Closed    bool
}

func (m *MockWriteCloser) Write(p []byte) (n int, err error) {
	if m.FailWrite {
		return 0, errors.New("simulated write error")
	}
	return m.Buffer.Write(p)
}

func (m *MockWriteCloser) Close() error {
	m.Closed = true
	if m.FailClose {
		return errors.New("simulated close error")
	}
	return nil
}

func newWriter() *MockWriteCloser {
	return &MockWriteCloser{Buffer: new(bytes.Buffer)}
}

// sampleLoop is a failed audit with one fixed and one open issue and a trap.
func sampleLoop() *schemas.LoopResult {
	return &schemas.LoopResult{
		TaskID:         "audit",
		URL:            "https://example.test/form",
		Termination:    schemas.TerminationQueueEmpty,
		Cycles:         9,
		TasksCompleted: 5,
		TasksFailed:    2,
		StartedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:       1500 * time.Millisecond,
		Issues: []schemas.AccessibilityIssue{
			{
				ID: "i1", Type: schemas.IssueMissingFocus, Selector: "button#bare",
				Severity: schemas.SeverityCritical, WCAGCriteria: []string{"2.4.7"},
				Description: "No visible focus indicator", Status: schemas.IssueFixed,
			},
			{
				ID: "i2", Type: schemas.IssueMissingLabel, Selector: "input#q",
				Severity: schemas.SeverityMinor, WCAGCriteria: []string{"4.1.2"},
				Description: "Input has no accessible name", Status: schemas.IssueOpen,
			},
		},
		FocusTraps: []schemas.FocusTrap{{Position: 4, Cycle: []string{"a#first", "a#second"}}},
		Outcomes: []schemas.TaskOutcome{
			{TaskID: "audit.1", Type: schemas.TaskFocusTrapSweep, Status: schemas.TaskFailed, Error: "expected outcome no-focus-traps not met"},
			{TaskID: "audit.3.2", Type: schemas.TaskStep, Target: "input#q", Status: schemas.TaskFailed, Error: "expected outcome no-issues not met"},
		},
	}
}

func TestNew_Stdout(t *testing.T) {
	logger := zaptest.NewLogger(t)
	for _, format := range []string{"sarif", "json", "markdown"} {
		t.Run(format, func(t *testing.T) {
			for _, path := range []string{"stdout", ""} {
				r, err := reporting.New(format, path, testToolVersion, logger)
				require.NoError(t, err)
				require.NotNil(t, r)
				// The reporter must not close os.Stdout.
				require.NoError(t, r.Close())
			}
		})
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r, err := reporting.New("json", path, testToolVersion, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.WriteLoop(sampleLoop()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc reporting.JSONDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, testToolVersion, doc.Version)
	require.Len(t, doc.Loops, 1)
	assert.Equal(t, 2, doc.Summary.Issues)
	assert.Equal(t, 1, doc.Summary.OpenIssues)
	assert.Equal(t, 1, doc.Summary.FocusTraps)
	assert.Equal(t, 2, doc.Summary.TasksFailed)
	assert.False(t, doc.GeneratedAt.IsZero())
}

func TestNew_Failures(t *testing.T) {
	logger := zaptest.NewLogger(t)

	r, err := reporting.New("sarif", "stdout", testToolVersion, nil)
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "logger cannot be nil")

	path := filepath.Join(t.TempDir(), "report.xml")
	r, err = reporting.New("xml", path, testToolVersion, logger)
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "unsupported output format: xml")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "an unsupported format must not create the file")

	r, err = reporting.New("json", filepath.Join(t.TempDir(), "missing", "report.json"), testToolVersion, logger)
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "failed to create output file")
}

func TestJSONReporter_RemediationAndClose(t *testing.T) {
	w := newWriter()
	r := reporting.NewJSONReporter(w, testToolVersion, zaptest.NewLogger(t))

	require.NoError(t, r.WriteRemediation(remediation.Report{Total: 2, Successful: 1, Failed: 1}))
	require.NoError(t, r.Close())
	assert.True(t, w.Closed)
	assert.NoError(t, r.Close(), "second close is a no-op")
	assert.ErrorIs(t, r.WriteLoop(sampleLoop()), reporting.ErrClosed)

	var doc reporting.JSONDocument
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &doc))
	require.NotNil(t, doc.Remediation)
	assert.Equal(t, 2, doc.Remediation.Total)
	assert.NotNil(t, doc.Loops)
}

func TestMarkdownReporter(t *testing.T) {
	w := newWriter()
	r := reporting.NewMarkdownReporter(w, zaptest.NewLogger(t))

	require.NoError(t, r.WriteLoop(sampleLoop()))
	require.NoError(t, r.WriteRemediation(remediation.Report{Total: 1, Successful: 1}))
	require.NoError(t, r.Close())

	out := w.Buffer.String()
	assert.True(t, strings.HasPrefix(out, "# Focus Visibility Audit: FAIL"))
	assert.Contains(t, out, "- Page: https://example.test/form")
	assert.Contains(t, out, "- Issues: 2 found, 1 open")
	assert.Contains(t, out, "`a#first` -> `a#second`")
	assert.Contains(t, out, "| `button#bare` | missing-focus | critical | 2.4.7 | fixed |")
	assert.Contains(t, out, "- audit.3.2 (step) `input#q`: expected outcome no-issues not met")
	assert.Contains(t, out, "# Remediation Report")
}

func TestReporters_SurfaceWriteErrors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	tests := []struct {
		name string
		make func(w *MockWriteCloser) reporting.Reporter
	}{
		{"sarif", func(w *MockWriteCloser) reporting.Reporter { return reporting.NewSARIFReporter(w, testToolVersion, logger) }},
		{"json", func(w *MockWriteCloser) reporting.Reporter { return reporting.NewJSONReporter(w, testToolVersion, logger) }},
		{"markdown", func(w *MockWriteCloser) reporting.Reporter { return reporting.NewMarkdownReporter(w, logger) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWriter()
			w.FailWrite = true
			r := tt.make(w)
			require.NoError(t, r.WriteLoop(sampleLoop()))
			assert.Error(t, r.Close())
			assert.True(t, w.Closed, "the writer is closed even when encoding fails")

			w = newWriter()
			w.FailClose = true
			r = tt.make(w)
			assert.ErrorContains(t, r.Close(), "failed to close output writer")
		})
	}
}
