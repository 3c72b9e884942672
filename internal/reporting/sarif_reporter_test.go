// internal/reporting/sarif_reporter_test.go
package reporting_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/remediation"
	"github.com/xkilldash9x/focusfix/internal/reporting"
	"github.com/xkilldash9x/focusfix/internal/reporting/sarif"
)

func setupSARIFTest(t *testing.T) (*reporting.SARIFReporter, *MockWriteCloser) {
	w := newWriter()
	return reporting.NewSARIFReporter(w, "v1.2.3-test", zaptest.NewLogger(t)), w
}

func decodeSARIF(t *testing.T, w *MockWriteCloser) sarif.Log {
	t.Helper()
	var log sarif.Log
	require.NoError(t, json.Unmarshal(w.Buffer.Bytes(), &log), "output should be valid SARIF JSON")
	require.Len(t, log.Runs, 1)
	return log
}

func rulesByID(run *sarif.Run) map[string]*sarif.ReportingDescriptor {
	out := make(map[string]*sarif.ReportingDescriptor)
	for _, rule := range run.Tool.Driver.Rules {
		out[rule.ID] = rule
	}
	return out
}

func TestSARIFReporter_Initialization(t *testing.T) {
	reporter, w := setupSARIFTest(t)
	require.NoError(t, reporter.Close())

	log := decodeSARIF(t, w)
	assert.Equal(t, reporting.SARIFVersion, log.Version)
	assert.Equal(t, reporting.SARIFSchema, log.Schema)
	run := log.Runs[0]
	require.NotNil(t, run.Tool)
	require.NotNil(t, run.Tool.Driver)
	assert.Equal(t, reporting.ToolName, run.Tool.Driver.Name)
	assert.Equal(t, "v1.2.3-test", *run.Tool.Driver.Version)

	// Results must serialize as [] rather than null.
	require.NotNil(t, run.Results)
	assert.Empty(t, run.Results)
	assert.Empty(t, run.Tool.Driver.Rules)
}

func TestSARIFReporter_WriteLoop(t *testing.T) {
	reporter, w := setupSARIFTest(t)
	require.NoError(t, reporter.WriteLoop(sampleLoop()))
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, w).Runs[0]
	require.Len(t, run.Results, 3, "two issues and one trap")

	focus := run.Results[0]
	assert.Equal(t, "FOCUSFIX-MISSING-FOCUS", focus.RuleID)
	assert.Equal(t, sarif.LevelError, focus.Level)
	assert.Equal(t, "No visible focus indicator", *focus.Message.Text)
	require.Len(t, focus.Locations, 1)
	loc := focus.Locations[0]
	assert.Equal(t, "https://example.test/form", *loc.PhysicalLocation.ArtifactLocation.URI)
	require.Len(t, loc.LogicalLocations, 1)
	assert.Equal(t, "button#bare", *loc.LogicalLocations[0].FullyQualifiedName)
	assert.Equal(t, "element", *loc.LogicalLocations[0].Kind)
	assert.NotEmpty(t, focus.PartialFingerprints["focusfix/v1"])
	assert.Equal(t, "fixed", (*focus.Properties)["status"])

	label := run.Results[1]
	assert.Equal(t, "FOCUSFIX-MISSING-LABEL", label.RuleID)
	assert.Equal(t, sarif.LevelNote, label.Level)

	trap := run.Results[2]
	assert.Equal(t, "FOCUSFIX-FOCUS-TRAP", trap.RuleID)
	assert.Equal(t, sarif.LevelError, trap.Level)
	assert.Contains(t, *trap.Message.Text, "a#first -> a#second")

	rules := rulesByID(run)
	require.Len(t, rules, 3)
	help := rules["FOCUSFIX-MISSING-FOCUS"].Help
	require.NotNil(t, help)
	assert.Contains(t, *help.Markdown, "**WCAG success criteria:** 2.4.7")
	assert.Contains(t, (*rules["FOCUSFIX-MISSING-FOCUS"].Properties)["tags"], "WCAG-2.4.7")

	require.Len(t, run.Invocations, 1)
	inv := run.Invocations[0]
	assert.True(t, inv.ExecutionSuccessful)
	assert.Equal(t, "queue-empty", *inv.ExitCodeDescription)
	assert.Equal(t, "2026-03-01T12:00:00Z", *inv.StartTimeUTC)
	assert.Equal(t, "2026-03-01T12:00:01Z", *inv.EndTimeUTC)
}

func TestSARIFReporter_RuleDeduplication(t *testing.T) {
	reporter, w := setupSARIFTest(t)

	issue := func(sel string, criteria ...string) schemas.AccessibilityIssue {
		return schemas.AccessibilityIssue{Type: schemas.IssueLowContrast, Selector: sel, Severity: schemas.SeverityMajor, WCAGCriteria: criteria}
	}
	loop := &schemas.LoopResult{TaskID: "t", URL: "https://example.test/", Issues: []schemas.AccessibilityIssue{
		issue("button#a", "1.4.11"),
		issue("button#b", "1.4.11"),
		issue("p#c", "1.4.3"),
	}}
	require.NoError(t, reporter.WriteLoop(loop))
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, w).Runs[0]
	require.Len(t, run.Results, 3)
	assert.Equal(t, "FOCUSFIX-LOW-CONTRAST", run.Results[0].RuleID)
	assert.Equal(t, "FOCUSFIX-LOW-CONTRAST", run.Results[1].RuleID, "same type and criteria share a rule")
	assert.Equal(t, "FOCUSFIX-LOW-CONTRAST-1", run.Results[2].RuleID, "different criteria get a suffixed rule")
	assert.Len(t, run.Tool.Driver.Rules, 2)
	assert.Equal(t, sarif.LevelWarning, run.Results[0].Level)
	assert.NotEqual(t, run.Results[0].PartialFingerprints, run.Results[1].PartialFingerprints)
}

func TestSARIFReporter_WriteRemediation(t *testing.T) {
	reporter, w := setupSARIFTest(t)
	require.NoError(t, reporter.WriteRemediation(remediation.Report{Total: 3, Successful: 2, RolledBack: 1}))
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, w).Runs[0]
	require.NotNil(t, run.Properties)
	summary, ok := (*run.Properties)["remediation"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 3, summary["total"])
	assert.EqualValues(t, 1, summary["rolledBack"])
}

func TestSARIFReporter_NilAndClosed(t *testing.T) {
	reporter, _ := setupSARIFTest(t)
	assert.Error(t, reporter.WriteLoop(nil))
	require.NoError(t, reporter.Close())
	assert.ErrorIs(t, reporter.WriteLoop(sampleLoop()), reporting.ErrClosed)
	assert.ErrorIs(t, reporter.WriteRemediation(remediation.Report{}), reporting.ErrClosed)
}

func TestSARIFReporter_ConcurrentWrites(t *testing.T) {
	reporter, w := setupSARIFTest(t)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loop := &schemas.LoopResult{TaskID: fmt.Sprintf("t%d", i), URL: "https://example.test/", Issues: []schemas.AccessibilityIssue{{
				Type: schemas.IssueMissingFocus, Selector: fmt.Sprintf("button#b%d", i), Severity: schemas.SeverityCritical, WCAGCriteria: []string{"2.4.7"},
			}}}
			assert.NoError(t, reporter.WriteLoop(loop))
		}(i)
	}
	wg.Wait()
	require.NoError(t, reporter.Close())

	run := decodeSARIF(t, w).Runs[0]
	assert.Len(t, run.Results, writers)
	assert.Len(t, run.Tool.Driver.Rules, 1)
	assert.Len(t, run.Invocations, writers)
}
