// cmd/taskfile_test.go
package cmd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

func TestLoadTaskFile_YAML(t *testing.T) {
	path := writeFile(t, "checkout.yaml", `
id: checkout
type: full-audit
wcag_level: AAA
priority: 7
scope:
  workflows:
    - name: fill form
      steps:
        - action: focus
          target: input#email
        - action: type
          target: input#email
          value: someone@example.test
        - action: keyboard
          params:
            mode: keys
          value: Tab
constraints:
  time_budget: 45s
  excluded_selectors: ["#cookie-banner"]
  max_elements: 100
`)
	task, err := loadTaskFile(path)
	require.NoError(t, err)

	assert.Equal(t, "checkout", task.ID)
	assert.Equal(t, schemas.TaskFullAudit, task.Type)
	assert.Equal(t, schemas.WCAGLevelAAA, task.Level())
	assert.Equal(t, 7, task.Priority)
	assert.False(t, task.Scope.Derive)
	require.Len(t, task.Scope.Workflows, 1)
	steps := task.Scope.Workflows[0].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, schemas.ActionTypeType, steps[1].Action)
	assert.Equal(t, "someone@example.test", steps[1].Value)
	assert.Equal(t, "keys", steps[2].Params["mode"])
	assert.Equal(t, 45*time.Second, task.Constraints.TimeBudget)
	assert.True(t, task.Constraints.IsExcluded("#cookie-banner"))
	assert.Equal(t, 100, task.Constraints.MaxElements)
}

func TestLoadTaskFile_JSON(t *testing.T) {
	path := writeFile(t, "verify.json", `{
  "id": "verify-submit",
  "type": "fix-verify",
  "target": "button#submit",
  "priority": 3,
  "constraints": {"excludedSelectors": ["#ads"]}
}`)
	task, err := loadTaskFile(path)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskFixVerify, task.Type)
	assert.Equal(t, "button#submit", task.Target)
	assert.Equal(t, schemas.WCAGLevelAA, task.Level(), "level defaults to AA")
	assert.Equal(t, []string{"#ads"}, task.Constraints.ExcludedSelectors)
}

func TestLoadTaskFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"unknown yaml field", "t.yaml", "id: a\ntype: full-audit\nurl: https://x\n", "failed to parse YAML task"},
		{"malformed json", "t.json", `{"id": `, "failed to parse JSON task"},
		{"fix-verify without target", "t.yaml", "id: a\ntype: fix-verify\n", "invalid task descriptor"},
		{"unknown type", "t.yaml", "id: a\ntype: crawl\n", "invalid task descriptor"},
		{"step without action", "t.yaml", "id: a\ntype: step\nstep:\n  target: '#x'\n", "invalid task descriptor"},
		{"priority out of range", "t.json", `{"id": "a", "type": "full-audit", "priority": 11}`, "invalid task descriptor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTaskFile(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := loadTaskFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read task file")
}
