// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

var (
	// ErrLoopRunning is returned when StartLoop is called while a loop is
	// already driving the session.
	ErrLoopRunning = errors.New("agent: loop already running")
	// ErrInvalidTask wraps task descriptor validation failures.
	ErrInvalidTask = errors.New("agent: invalid task")
)

// ClassifyError maps an executor error onto the structured codes Reflect
// reasons about. Sentinel errors win; message heuristics cover errors that
// come back from the browser as plain strings.
func ClassifyError(err error) schemas.ErrorCode {
	switch {
	case err == nil:
		return schemas.ErrCodeNone
	case errors.Is(err, schemas.ErrSessionLost):
		return schemas.ErrCodeSessionLost
	case errors.Is(err, schemas.ErrSessionUnavailable), errors.Is(err, schemas.ErrTargetAttached):
		return schemas.ErrCodeSessionUnavailable
	case errors.Is(err, schemas.ErrPermissionDenied):
		return schemas.ErrCodePermissionDenied
	case errors.Is(err, schemas.ErrCapability):
		return schemas.ErrCodeCapability
	case errors.Is(err, schemas.ErrElementNotFound):
		return schemas.ErrCodeElementNotFound
	case errors.Is(err, schemas.ErrActionTimeout), errors.Is(err, context.DeadlineExceeded):
		return schemas.ErrCodeTimeoutError
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "no element found"), strings.Contains(msg, "could not find node"):
		return schemas.ErrCodeElementNotFound
	case strings.Contains(msg, "timeout"):
		return schemas.ErrCodeTimeoutError
	case strings.Contains(msg, "net::ERR"):
		return schemas.ErrCodeNavigationError
	}
	return schemas.ErrCodeExecutionFailure
}
