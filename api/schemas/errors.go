package schemas

import "errors"

// Control channel errors. Session errors are fatal to the current loop or
// task and are never retried by the channel itself.
var (
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrSessionLost        = errors.New("session lost")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTargetAttached     = errors.New("target already attached")
	ErrCapability         = errors.New("capability not supported by session")

	ErrElementNotFound = errors.New("element not found")
	ErrActionTimeout   = errors.New("action timed out")
)

// IsSessionError reports whether err is fatal to the session.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionLost) ||
		errors.Is(err, ErrSessionUnavailable) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrTargetAttached)
}
