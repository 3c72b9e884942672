// internal/agent/state.go
package agent

import (
	"errors"
	"fmt"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

// ErrIllegalTransition is returned when a phase change is not part of the
// PRAR state machine.
var ErrIllegalTransition = errors.New("illegal agent phase transition")

// transitions lists the phases reachable from each phase. Every non-final
// phase may terminate, since cancellation is honoured at each phase top.
var transitions = map[schemas.AgentPhase][]schemas.AgentPhase{
	schemas.PhaseIdle:       {schemas.PhasePerceiving, schemas.PhasePlanning, schemas.PhaseTerminated},
	schemas.PhasePerceiving: {schemas.PhasePlanning, schemas.PhaseError, schemas.PhaseTerminated},
	schemas.PhasePlanning:   {schemas.PhaseActing, schemas.PhaseIdle, schemas.PhaseError, schemas.PhaseTerminated},
	schemas.PhaseActing:     {schemas.PhaseReflecting, schemas.PhaseIdle, schemas.PhaseError, schemas.PhaseTerminated},
	// reflecting -> acting retries the next fallback when the outcome is unmet.
	schemas.PhaseReflecting: {schemas.PhaseIdle, schemas.PhaseActing, schemas.PhaseError, schemas.PhaseTerminated},
	schemas.PhaseError:      {schemas.PhaseIdle, schemas.PhaseTerminated},
	schemas.PhaseTerminated: nil,
}

// State is an immutable view of the coordinator. Every change produces a new
// value; holders of an old State never observe later updates.
type State struct {
	phase        schemas.AgentPhase
	cycle        int
	queued       int
	capabilities schemas.Capabilities
	lastErr      error
	taskID       string
}

// NewState returns the idle state for a session with caps.
func NewState(caps schemas.Capabilities) State {
	return State{phase: schemas.PhaseIdle, capabilities: caps}
}

func (s State) Phase() schemas.AgentPhase          { return s.phase }
func (s State) Cycle() int                         { return s.cycle }
func (s State) Queued() int                        { return s.queued }
func (s State) Capabilities() schemas.Capabilities { return s.capabilities }
func (s State) LastError() error                   { return s.lastErr }
func (s State) TaskID() string                     { return s.taskID }

// Terminated reports whether the loop has finished.
func (s State) Terminated() bool { return s.phase == schemas.PhaseTerminated }

// CanTransition reports whether next is reachable from the current phase.
func (s State) CanTransition(next schemas.AgentPhase) bool {
	for _, p := range transitions[s.phase] {
		if p == next {
			return true
		}
	}
	return false
}

// Transition moves to next. Entering the error phase requires WithError.
func (s State) Transition(next schemas.AgentPhase) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.phase, next)
	}
	s.phase = next
	return s, nil
}

// WithCycle starts cycle n on task.
func (s State) WithCycle(n int, taskID string) State {
	s.cycle = n
	s.taskID = taskID
	return s
}

// WithQueued records the queue depth.
func (s State) WithQueued(n int) State {
	s.queued = n
	return s
}

// WithError records err as the last error.
func (s State) WithError(err error) State {
	s.lastErr = err
	return s
}
