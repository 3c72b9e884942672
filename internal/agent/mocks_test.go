// internal/agent/mocks_test.go
package agent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/focusfix/api/schemas"
	"github.com/xkilldash9x/focusfix/internal/remediation"
)

// -- Action Executor Mock --

// MockExecutor mocks ActionExecutor. Every action type can execute unless
// Deny lists it.
type MockExecutor struct {
	mock.Mock
	Deny map[schemas.ActionType]bool
}

func (m *MockExecutor) Execute(ctx context.Context, action schemas.Action) schemas.ActionResult {
	args := m.Called(ctx, action)
	res := args.Get(0).(schemas.ActionResult)
	res.Action = action
	return res
}

func (m *MockExecutor) CanExecute(t schemas.ActionType) bool {
	return !m.Deny[t]
}

// ok is a successful result with the given side effects.
func ok(effects ...schemas.SideEffect) schemas.ActionResult {
	return schemas.ActionResult{Success: true, SideEffects: effects}
}

// failed is an action failure with code.
func failed(code schemas.ErrorCode, msg string) schemas.ActionResult {
	return schemas.ActionResult{ErrorCode: code, Message: msg}
}

// isAction matches an action argument by type and target.
func isAction(t schemas.ActionType, target string) interface{} {
	return mock.MatchedBy(func(a schemas.Action) bool {
		return a.Type == t && a.Target == target
	})
}

// -- Remediator Mock --

type MockRemediator struct {
	mock.Mock
}

func (m *MockRemediator) RemediateElement(ctx context.Context, t remediation.Target) (schemas.RemediationTask, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(schemas.RemediationTask), args.Error(1)
}
