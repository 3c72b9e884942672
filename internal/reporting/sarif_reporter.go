// internal/reporting/sarif_reporter.go
package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/remediation"
	"github.com/xkilldash9x/focusfix/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "focusfix"
	ToolInfoURI  = "https://github.com/xkilldash9x/focusfix"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"

	// focusTrapRule is the rule every detected trap reports under.
	focusTrapRule = "FOCUSFIX-FOCUS-TRAP"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ruleIDSanitizer collapses every run of characters outside [A-Za-z0-9_.]
// into one hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// ruleHelp is the remediation guidance attached to each issue type's rule.
var ruleHelp = map[schemas.IssueType]string{
	schemas.IssueMissingFocus:         "Give the element a visible :focus-visible indicator, for example an outline of at least 2px that contrasts with the background.",
	schemas.IssueLowContrast:          "Raise the contrast of the focus indicator against adjacent colors to at least 3:1, or the text to the levels of WCAG 1.4.3.",
	schemas.IssueKeyboardInaccessible: "Make the interactive element reachable with Tab (tabindex=\"0\") and operable with Enter or Space, or use a native control.",
	schemas.IssueMissingLabel:         "Provide an accessible name with a <label>, aria-label or aria-labelledby.",
}

// RuleFingerprint identifies a rule definition by its content.
type RuleFingerprint string

// calculateFingerprint hashes the characteristics that define an issue's
// rule. Element-specific descriptions are not part of it.
func calculateFingerprint(issue schemas.AccessibilityIssue) RuleFingerprint {
	criteria := append([]string(nil), issue.WCAGCriteria...)
	sort.Strings(criteria)

	data := struct {
		Type     schemas.IssueType
		Criteria []string
	}{Type: issue.Type, Criteria: criteria}

	h := sha1.New()
	_ = json.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// resultFingerprint is stable across runs for the same defect on the same
// element, so SARIF consumers can track it.
func resultFingerprint(url, selector string, typ schemas.IssueType) string {
	sum := sha1.Sum([]byte(url + "\x00" + selector + "\x00" + string(typ)))
	return hex.EncodeToString(sum[:])
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the maps.
	mu     sync.Mutex
	closed bool
	// rulesByFingerprint maps a content fingerprint to the generated rule ID.
	rulesByFingerprint map[RuleFingerprint]string
	// ruleIDUsage counts uses of a base rule ID to suffix collisions.
	ruleIDUsage map[string]int
}

// NewSARIFReporter creates a reporter that writes SARIF to writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Empty, not nil, so the JSON carries [].
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             logger.Named("sarif_reporter"),
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// WriteLoop converts the loop's issues and focus traps into SARIF results and
// records the loop as an invocation.
func (r *SARIFReporter) WriteLoop(result *schemas.LoopResult) error {
	if result == nil {
		return fmt.Errorf("sarif: nil loop result")
	}
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	run := r.log.Runs[0]
	for _, issue := range result.Issues {
		ruleID := r.ensureRule(issue)
		msg := issue.Description
		if msg == "" {
			msg = string(issue.Type)
		}
		props := sarif.PropertyBag{
			"status":       string(issue.Status),
			"severity":     string(issue.Severity),
			"wcagCriteria": issue.WCAGCriteria,
		}
		if len(issue.Attempts) > 0 {
			props["attempts"] = len(issue.Attempts)
		}
		run.Results = append(run.Results, &sarif.Result{
			RuleID:    ruleID,
			Message:   &sarif.Message{Text: pString(msg)},
			Level:     mapSeverityToSARIFLevel(issue.Severity),
			Locations: createLocations(result.URL, issue.Selector),
			PartialFingerprints: map[string]string{
				"focusfix/v1": resultFingerprint(result.URL, issue.Selector, issue.Type),
			},
			Properties: &props,
		})
	}

	for _, trap := range result.FocusTraps {
		r.ensureTrapRule()
		entry := ""
		if len(trap.Cycle) > 0 {
			entry = trap.Cycle[0]
		}
		props := sarif.PropertyBag{"cycle": trap.Cycle, "position": trap.Position}
		run.Results = append(run.Results, &sarif.Result{
			RuleID:    focusTrapRule,
			Message:   &sarif.Message{Text: pString(fmt.Sprintf("Keyboard focus is trapped cycling through %s", strings.Join(trap.Cycle, " -> ")))},
			Level:     sarif.LevelError,
			Locations: createLocations(result.URL, entry),
			PartialFingerprints: map[string]string{
				"focusfix/v1": resultFingerprint(result.URL, strings.Join(trap.Cycle, ","), "focus-trap"),
			},
			Properties: &props,
		})
	}

	invProps := sarif.PropertyBag{
		"taskId":         result.TaskID,
		"cycles":         result.Cycles,
		"tasksCompleted": result.TasksCompleted,
		"tasksFailed":    result.TasksFailed,
		"tasksPending":   result.TasksPending,
		"remediations":   len(result.Remediations),
	}
	inv := &sarif.Invocation{
		ExecutionSuccessful: result.Error == "",
		ExitCodeDescription: pString(string(result.Termination)),
		Properties:          &invProps,
	}
	if !result.StartedAt.IsZero() {
		inv.StartTimeUTC = pString(result.StartedAt.UTC().Format(time.RFC3339))
		inv.EndTimeUTC = pString(result.StartedAt.Add(result.Duration).UTC().Format(time.RFC3339))
	}
	run.Invocations = append(run.Invocations, inv)

	r.logger.Debug("Wrote loop result to SARIF buffer",
		zap.String("task_id", result.TaskID),
		zap.Int("issues", len(result.Issues)),
		zap.Int("focus_traps", len(result.FocusTraps)),
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// WriteRemediation records the remediation summary as run properties.
func (r *SARIFReporter) WriteRemediation(report remediation.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	run := r.log.Runs[0]
	if run.Properties == nil {
		run.Properties = &sarif.PropertyBag{}
	}
	(*run.Properties)["remediation"] = map[string]interface{}{
		"total":      report.Total,
		"successful": report.Successful,
		"failed":     report.Failed,
		"rolledBack": report.RolledBack,
		"pending":    report.Pending,
	}
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.log)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Successfully wrote SARIF report", zap.Duration("duration_ms", time.Since(startTime)))
	return nil
}

// sanitizeRuleName creates a standardized base name for the rule ID.
func sanitizeRuleName(name string) string {
	sanitized := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if sanitized == "" {
		return "UNKNOWN-ISSUE"
	}
	return sanitized
}

// ensureRule returns the rule ID for issue, registering the rule on first
// use. Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(issue schemas.AccessibilityIssue) string {
	fingerprint := calculateFingerprint(issue)
	if ruleID, exists := r.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	baseRuleID := "FOCUSFIX-" + sanitizeRuleName(string(issue.Type))
	usageCount := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		// Same issue type under different WCAG criteria.
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
		r.logger.Debug("Rule ID collision detected, generated new ID with suffix",
			zap.String("base_id", baseRuleID),
			zap.String("final_id", finalRuleID),
		)
	}

	help := ruleHelp[issue.Type]
	title := strings.ReplaceAll(string(issue.Type), "-", " ")
	criteria := "none"
	if len(issue.WCAGCriteria) > 0 {
		criteria = strings.Join(issue.WCAGCriteria, ", ")
	}
	markdownHelp := fmt.Sprintf("**Issue:** %s\n\n**WCAG success criteria:** %s\n\n**Remediation:**\n%s", title, criteria, help)

	tags := []string{"accessibility", "focus-visibility"}
	for _, c := range issue.WCAGCriteria {
		tags = append(tags, "WCAG-"+c)
	}
	r.log.Runs[0].Tool.Driver.Rules = append(r.log.Runs[0].Tool.Driver.Rules, &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		Name:             pString(string(issue.Type)),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(title)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(fmt.Sprintf("%s (WCAG %s)", title, criteria))},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(help),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":         tags,
			"precision":    "high",
			"wcagCriteria": issue.WCAGCriteria,
		},
	})
	r.rulesByFingerprint[fingerprint] = finalRuleID
	r.logger.Debug("Registering new SARIF rule definition", zap.String("rule_id", finalRuleID))
	return finalRuleID
}

// ensureTrapRule registers the focus trap rule once.
func (r *SARIFReporter) ensureTrapRule() {
	const fp RuleFingerprint = "focus-trap"
	if _, exists := r.rulesByFingerprint[fp]; exists {
		return
	}
	r.rulesByFingerprint[fp] = focusTrapRule
	r.log.Runs[0].Tool.Driver.Rules = append(r.log.Runs[0].Tool.Driver.Rules, &sarif.ReportingDescriptor{
		ID:               focusTrapRule,
		Name:             pString("focus-trap"),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString("focus trap")},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString("Keyboard focus cannot leave a region with Tab (WCAG 2.1.2)")},
		Help: &sarif.MultiformatMessageString{
			Text: pString("Let Tab and Shift+Tab move focus out of the region, or document and support Escape for modal dialogs."),
		},
		Properties: &sarif.PropertyBag{
			"tags":         []string{"accessibility", "keyboard", "WCAG-2.1.2"},
			"precision":    "high",
			"wcagCriteria": []string{"2.1.2"},
		},
	})
}

// createLocations places a result on the page URL and, when known, the
// element selector.
func createLocations(url, selector string) []*sarif.Location {
	loc := &sarif.Location{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(url)},
		},
	}
	if selector != "" {
		loc.LogicalLocations = []*sarif.LogicalLocation{{
			FullyQualifiedName: pString(selector),
			Kind:               pString("element"),
		}}
		loc.Message = &sarif.Message{Text: pString(fmt.Sprintf("Element %s on %s", selector, url))}
	}
	return []*sarif.Location{loc}
}

// mapSeverityToSARIFLevel converts an issue severity to a SARIF level.
func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityCritical:
		return sarif.LevelError
	case schemas.SeverityMajor:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
