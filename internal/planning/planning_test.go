// internal/planning/planning_test.go
package planning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

func snapshot(selectors ...string) *schemas.PerceivedState {
	var els []schemas.ElementDescriptor
	for _, s := range selectors {
		els = append(els, schemas.ElementDescriptor{
			NodeInfo: schemas.NodeInfo{Selector: s, TagName: "button"},
			Style:    schemas.ComputedStyle{"outline-style": "none"},
			Box:      schemas.BoundingBox{Width: 10, Height: 10},
		})
	}
	return schemas.NewPerceivedState("https://example.test/", schemas.Viewport{Width: 800, Height: 600}, els, nil, time.Now())
}

func types(sub []schemas.TaskDescriptor) []schemas.TaskType {
	out := make([]schemas.TaskType, len(sub))
	for i, s := range sub {
		out[i] = s.Type
	}
	return out
}

func targets(sub []schemas.TaskDescriptor) []string {
	out := make([]string, len(sub))
	for i, s := range sub {
		out[i] = s.Target
	}
	return out
}

func TestRuleBasedFullAuditDerived(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t), 30)
	task := schemas.TaskDescriptor{
		ID: "audit", Type: schemas.TaskFullAudit, Priority: 5, WCAGLevel: schemas.WCAGLevelAAA,
		Scope:       schemas.Scope{Derive: true},
		Constraints: schemas.Constraints{ExcludedSelectors: []string{"#nav"}},
	}

	d, err := r.Plan(context.Background(), task, snapshot("button#a", "#nav > a", "button#b"))
	require.NoError(t, err)
	c, ok := d.(Composite)
	require.True(t, ok)
	assert.Equal(t, []schemas.TaskType{schemas.TaskFocusTrapSweep, schemas.TaskFixVerify, schemas.TaskFixVerify}, types(c.Subtasks))
	assert.Equal(t, []string{"", "button#a", "button#b"}, targets(c.Subtasks))
	for i, st := range c.Subtasks {
		assert.Equal(t, "audit", st.ParentID)
		assert.Equal(t, schemas.WCAGLevelAAA, st.WCAGLevel)
		assert.Equal(t, 5, st.Priority)
		assert.NoError(t, st.Validate(), "subtask %d", i)
	}

	_, err = r.Plan(context.Background(), task, nil)
	assert.ErrorIs(t, err, ErrNoState)
}

func TestRuleBasedFullAuditWorkflowVerifiesEveryAct(t *testing.T) {
	r := NewRuleBased(zaptest.NewLogger(t), 0)
	task := schemas.TaskDescriptor{
		ID: "wf", Type: schemas.TaskFullAudit,
		Scope: schemas.Scope{Workflows: []schemas.Workflow{{
			Name: "login",
			Steps: []schemas.Step{
				{Action: schemas.ActionTypeNavigate, Target: "https://example.test/login"},
				{Action: schemas.ActionTypeType, Target: "input#user", Value: "me"},
				{Action: schemas.ActionTypeClick, Target: "button#ad"},
				{Action: schemas.ActionTypeClick, Target: "button#go"},
				{Action: schemas.ActionTypeWait},
			},
		}}},
		Constraints: schemas.Constraints{ExcludedSelectors: []string{"button#ad"}},
	}

	d, err := r.Plan(context.Background(), task, nil)
	require.NoError(t, err)
	c := d.(Composite)
	var got []string
	for _, st := range c.Subtasks {
		if st.Step == nil {
			got = append(got, string(st.Type))
			continue
		}
		got = append(got, string(st.Step.Action)+" "+st.Step.Target)
	}
	assert.Equal(t, []string{
		"focus-trap-sweep",
		"navigate https://example.test/login",
		"type input#user", "verify input#user",
		"click button#go", "verify button#go",
		"wait ",
	}, got)
}

func TestRuleBasedFixVerifyAndSteps(t *testing.T) {
	ctx := context.Background()
	r := NewRuleBased(zaptest.NewLogger(t), 40)

	d, err := r.Plan(ctx, schemas.TaskDescriptor{ID: "fv", Type: schemas.TaskFixVerify, Target: "button#submit"}, nil)
	require.NoError(t, err)
	c := d.(Composite)
	require.Len(t, c.Subtasks, 2)
	assert.Equal(t, schemas.ActionTypeFocus, c.Subtasks[0].Step.Action)
	assert.Equal(t, schemas.ActionTypeVerify, c.Subtasks[1].Step.Action)
	assert.Equal(t, "button#submit", c.Subtasks[1].Step.Target)

	d, err = r.Plan(ctx, c.Subtasks[0], nil)
	require.NoError(t, err)
	focus := d.(Primitive).Plan
	assert.Equal(t, schemas.OutcomeFocusOn, focus.Expected.Kind)
	require.Len(t, focus.Fallbacks, 1)
	assert.Equal(t, schemas.ActionTypeClick, focus.Fallbacks[0].Type)
	assert.NotEmpty(t, focus.ID)
	assert.Equal(t, "fv.1", focus.TaskID)

	d, err = r.Plan(ctx, c.Subtasks[1], nil)
	require.NoError(t, err)
	verify := d.(Primitive).Plan
	assert.Equal(t, schemas.OutcomeNoIssues, verify.Expected.Kind)
	assert.Equal(t, "AA", verify.Primary.Param(schemas.ParamWCAG, ""))

	d, err = r.Plan(ctx, schemas.TaskDescriptor{ID: "s", Type: schemas.TaskFocusTrapSweep, Constraints: schemas.Constraints{TimeBudget: time.Second}}, nil)
	require.NoError(t, err)
	sweep := d.(Primitive).Plan
	assert.Equal(t, "40", sweep.Primary.Param(schemas.ParamMaxSteps, ""))
	assert.Equal(t, time.Second, sweep.Primary.Timeout)

	d, err = r.Plan(ctx, schemas.TaskDescriptor{ID: "x", Type: schemas.TaskFixVerify, Target: "#nav", Constraints: schemas.Constraints{ExcludedSelectors: []string{"#nav"}}}, nil)
	require.NoError(t, err)
	assert.Empty(t, d.(Composite).Subtasks)

	_, err = r.Plan(ctx, schemas.TaskDescriptor{ID: "u", Type: "crawl"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestTimeBudgetIsSharedByFallbacks(t *testing.T) {
	ctx := context.Background()
	r := NewRuleBased(zaptest.NewLogger(t), 40)
	budget := 3 * time.Second

	for _, action := range []schemas.ActionType{schemas.ActionTypeFocus, schemas.ActionTypeClick, schemas.ActionTypeWait} {
		t.Run(string(action), func(t *testing.T) {
			task := schemas.TaskDescriptor{
				ID:          "b",
				Type:        schemas.TaskStep,
				Step:        &schemas.Step{Action: action, Target: "button#submit"},
				Constraints: schemas.Constraints{TimeBudget: budget},
			}
			d, err := r.Plan(ctx, task, nil)
			require.NoError(t, err)
			plan := d.(Primitive).Plan

			total := plan.Primary.Timeout
			assert.Positive(t, plan.Primary.Timeout)
			for _, fb := range plan.Fallbacks {
				assert.Positive(t, fb.Timeout)
				total += fb.Timeout
			}
			assert.LessOrEqual(t, total, budget)
		})
	}

	d, err := r.Plan(ctx, schemas.TaskDescriptor{
		ID:   "n",
		Type: schemas.TaskStep,
		Step: &schemas.Step{Action: schemas.ActionTypeFocus, Target: "button#submit"},
	}, nil)
	require.NoError(t, err)
	plan := d.(Primitive).Plan
	assert.Zero(t, plan.Primary.Timeout, "no budget leaves actions on the cycle deadline")
	assert.Zero(t, plan.Fallbacks[0].Timeout)
}

func TestPreferredFix(t *testing.T) {
	issues := []schemas.AccessibilityIssue{
		{ID: "1", Type: schemas.IssueMissingLabel, Severity: schemas.SeverityCritical},
		{ID: "2", Type: schemas.IssueLowContrast, Severity: schemas.SeverityMajor},
		{ID: "3", Type: schemas.IssueMissingFocus, Severity: schemas.SeverityMinor},
		{ID: "4", Type: schemas.IssueMissingFocus, Severity: schemas.SeverityCritical},
		{ID: "5", Type: schemas.IssueKeyboardInaccessible, Severity: schemas.SeverityMinor},
	}
	best, ok := PreferredFix(issues)
	require.True(t, ok)
	assert.Equal(t, "5", best.ID)

	var order []string
	for _, is := range OrderIssues(issues) {
		order = append(order, is.ID)
	}
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, order)

	_, ok = PreferredFix(nil)
	assert.False(t, ok)
}

type fakeModel struct {
	response string
	err      error
	calls    int
}

func (f *fakeModel) Generate(ctx context.Context, system, user string) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestLLMPlanner(t *testing.T) {
	ctx := context.Background()
	task := schemas.TaskDescriptor{ID: "audit", Type: schemas.TaskFullAudit, Scope: schemas.Scope{Derive: true}}
	state := snapshot("button#a", "button#b", "button#c")

	newLLM := func(m *fakeModel) *LLM {
		logger := zaptest.NewLogger(t)
		return NewLLM(m, NewRuleBased(logger, 0), logger, time.Second)
	}

	t.Run("Reorders And Trims", func(t *testing.T) {
		m := &fakeModel{response: "```json\n" + `{"plan":[{"type":"focus","target":"button#c"},{"type":"verify","target":"button#c"},{"type":"verify","target":"button#a"}],"rationale":"c first"}` + "\n```"}
		d, err := newLLM(m).Plan(ctx, task, state)
		require.NoError(t, err)
		c := d.(Composite)
		assert.Equal(t, []string{"", "button#c", "button#a"}, targets(c.Subtasks))
		assert.Equal(t, schemas.TaskFocusTrapSweep, c.Subtasks[0].Type)
	})

	fallbacks := map[string]*fakeModel{
		"Model Error":     {err: errors.New("quota exceeded")},
		"Not JSON":        {response: "I would start with the header."},
		"Unknown Tool":    {response: `{"plan":[{"type":"scroll","target":"button#a"}]}`},
		"Unknown Target":  {response: `{"plan":[{"type":"verify","target":"button#zzz"}]}`},
		"Navigation Tool": {response: `{"plan":[{"type":"navigate","target":"button#a"}]}`},
		"Empty Plan":      {response: `{"plan":[]}`},
	}
	for name, m := range fallbacks {
		t.Run(name+" Falls Back To Rules", func(t *testing.T) {
			d, err := newLLM(m).Plan(ctx, task, state)
			require.NoError(t, err)
			assert.Equal(t, []string{"", "button#a", "button#b", "button#c"}, targets(d.(Composite).Subtasks))
			assert.Equal(t, 1, m.calls)
		})
	}

	t.Run("Other Tasks Skip The Model", func(t *testing.T) {
		m := &fakeModel{}
		_, err := newLLM(m).Plan(ctx, schemas.TaskDescriptor{ID: "fv", Type: schemas.TaskFixVerify, Target: "button#a"}, state)
		require.NoError(t, err)
		assert.Zero(t, m.calls)
	})
}
