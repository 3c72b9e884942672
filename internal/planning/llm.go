// internal/planning/llm.go
package planning

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// LanguageModel is the text completion the LLM strategy depends on.
type LanguageModel interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLM asks a language model to order and trim the element list of a derived
// full audit. Every other task, and every failed or invalid model answer,
// goes to the rule-based planner, whose decision is authoritative.
type LLM struct {
	model   LanguageModel
	rules   *RuleBased
	logger  *zap.Logger
	timeout time.Duration
}

var _ Planner = (*LLM)(nil)

// NewLLM wraps rules with a model-guided audit ordering.
func NewLLM(model LanguageModel, rules *RuleBased, logger *zap.Logger, timeout time.Duration) *LLM {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLM{model: model, rules: rules, logger: logger.Named("planner.llm"), timeout: timeout}
}

func (l *LLM) Plan(ctx context.Context, task schemas.TaskDescriptor, state *schemas.PerceivedState) (Decision, error) {
	base, err := l.rules.Plan(ctx, task, state)
	if err != nil {
		return nil, err
	}
	if task.Type != schemas.TaskFullAudit || !(task.Scope.Derive || len(task.Scope.Workflows) == 0) {
		return base, nil
	}
	composite, ok := base.(Composite)
	if !ok || len(composite.Subtasks) < 3 {
		// A sweep and at most one element leaves nothing to order.
		return base, nil
	}

	targets, err := l.ask(ctx, task, state)
	if err != nil {
		l.logger.Warn("Model plan rejected, using rule-based plan.", zap.String("task_id", task.ID), zap.Error(err))
		return base, nil
	}

	byTarget := make(map[string]schemas.TaskDescriptor, len(composite.Subtasks))
	var head []schemas.TaskDescriptor
	for _, st := range composite.Subtasks {
		if st.Type == schemas.TaskFixVerify {
			byTarget[st.Target] = st
		} else {
			head = append(head, st)
		}
	}
	out := head
	for _, sel := range targets {
		out = append(out, byTarget[sel])
	}
	l.logger.Info("Audit ordered by model.", zap.String("task_id", task.ID), zap.Int("elements", len(targets)), zap.Int("available", len(byTarget)))
	return Composite{Subtasks: out}, nil
}

// toolCall is one entry of the model's answer.
type toolCall struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

type modelPlan struct {
	Plan      []toolCall `json:"plan"`
	Rationale string     `json:"rationale"`
}

type promptElement struct {
	Selector   string `json:"selector"`
	Tag        string `json:"tag"`
	Role       string `json:"role,omitempty"`
	Label      string `json:"label,omitempty"`
	Text       string `json:"text,omitempty"`
	TabIndex   int    `json:"tabIndex"`
	InViewport bool   `json:"inViewport"`
	Outline    string `json:"outline"`
}

// ask returns the audit targets in the model's order. The answer must only
// use the fixed tool set and perceived selectors.
func (l *LLM) ask(ctx context.Context, task schemas.TaskDescriptor, state *schemas.PerceivedState) ([]string, error) {
	allowed := make(map[string]bool)
	var elements []promptElement
	for _, sel := range AuditTargets(task, state) {
		el, _ := state.Element(sel)
		allowed[sel] = true
		elements = append(elements, promptElement{
			Selector:   sel,
			Tag:        el.TagName,
			Role:       el.Role,
			Label:      el.Label,
			Text:       truncate(el.Text, 60),
			TabIndex:   el.TabIndex,
			InViewport: el.InViewport,
			Outline:    el.Style.Get("outline-style"),
		})
	}
	payload, err := json.Marshal(elements)
	if err != nil {
		return nil, fmt.Errorf("marshal elements: %w", err)
	}

	apiCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	response, err := l.model.Generate(apiCtx, systemPrompt(), userPrompt(task, state.URL(), string(payload)))
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	plan, err := parsePlan(response)
	if err != nil {
		return nil, err
	}
	var targets []string
	seen := make(map[string]bool)
	for i, call := range plan.Plan {
		if !schemas.ActionType(call.Type).Valid() {
			return nil, fmt.Errorf("entry %d uses %q, which is not a tool", i, call.Type)
		}
		if call.Type == string(schemas.ActionTypeNavigate) || call.Type == string(schemas.ActionTypeWait) {
			return nil, fmt.Errorf("entry %d uses %q, which an audit cannot schedule", i, call.Type)
		}
		if !allowed[call.Target] {
			return nil, fmt.Errorf("entry %d targets unknown selector %q", i, call.Target)
		}
		if !seen[call.Target] {
			seen[call.Target] = true
			targets = append(targets, call.Target)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("model plan covers no elements")
	}
	return targets, nil
}

func systemPrompt() string {
	var tools []string
	for _, t := range schemas.AllActionTypes {
		tools = append(tools, string(t))
	}
	return `You plan keyboard accessibility audits of a single web page.
You receive the page's focusable elements as JSON and decide which to audit and in what order.
Put elements most likely to hide a missing focus indicator or a keyboard trap first. Drop decorative duplicates.

Available tools: ` + strings.Join(tools, ", ") + `.
For every element you keep, emit a "focus" entry followed by a "verify" entry on the same selector.
Only use selectors from the input.

Respond with only JSON of the form {"plan":[{"type":"focus","target":"<selector>"},{"type":"verify","target":"<selector>"}],"rationale":"<one sentence>"}.`
}

func userPrompt(task schemas.TaskDescriptor, url, elements string) string {
	return fmt.Sprintf(`Page: %s
WCAG level: %s
Task: %s

Focusable elements:
%s`, url, task.Level(), task.Description, elements)
}

var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parsePlan extracts the JSON object from a fenced block or raw text.
func parsePlan(response string) (modelPlan, error) {
	response = strings.TrimSpace(response)
	raw := response
	if m := jsonBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		raw = strings.TrimSpace(m[1])
	} else if first, last := strings.Index(response, "{"), strings.LastIndex(response, "}"); first != -1 && last > first {
		raw = response[first : last+1]
	}
	if raw == "" {
		return modelPlan{}, fmt.Errorf("could not find any JSON in the LLM response")
	}
	var plan modelPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return modelPlan{}, fmt.Errorf("failed to unmarshal extracted JSON: %w", err)
	}
	return plan, nil
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}
