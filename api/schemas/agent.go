package schemas

import (
	"time"
)

// -- PRAR Loop Schemas --

// AgentPhase is where the coordinator is within a cycle.
type AgentPhase string

const (
	PhaseIdle       AgentPhase = "idle"
	PhasePerceiving AgentPhase = "perceiving"
	PhasePlanning   AgentPhase = "planning"
	PhaseActing     AgentPhase = "acting"
	PhaseReflecting AgentPhase = "reflecting"
	PhaseError      AgentPhase = "error"
	PhaseTerminated AgentPhase = "terminated"
)

// TerminationReason says why a loop stopped.
type TerminationReason string

const (
	TerminationQueueEmpty   TerminationReason = "queue-empty"
	TerminationMaxCycles    TerminationReason = "max-cycles"
	TerminationCycleTime    TerminationReason = "max-cycle-time"
	TerminationLoopTime     TerminationReason = "max-loop-time"
	TerminationCancelled    TerminationReason = "cancelled"
	TerminationSessionError TerminationReason = "session-error"
)

// TaskStatus is the final state of one queued task.
type TaskStatus string

const (
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskDecomposed TaskStatus = "decomposed"
)

// TaskOutcome records how the loop disposed of a task.
type TaskOutcome struct {
	TaskID       string               `json:"taskId"`
	ParentID     string               `json:"parentId,omitempty"`
	Type         TaskType             `json:"type"`
	Target       string               `json:"target,omitempty"`
	Status       TaskStatus           `json:"status"`
	Action       ActionType           `json:"action,omitempty"`
	UsedFallback bool                 `json:"usedFallback,omitempty"`
	Error        string               `json:"error,omitempty"`
	Issues       []AccessibilityIssue `json:"issues,omitempty"`
}

// CycleMetrics is the per-cycle record a loop reports.
type CycleMetrics struct {
	Cycle       int           `json:"cycle"`
	TaskID      string        `json:"taskId"`
	Action      ActionType    `json:"action,omitempty"`
	Perceive    time.Duration `json:"perceive"`
	Plan        time.Duration `json:"plan"`
	Act         time.Duration `json:"act"`
	Reflect     time.Duration `json:"reflect"`
	Total       time.Duration `json:"total"`
	Reperceived bool          `json:"reperceived"`
	Attempts    int           `json:"attempts"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}

// LoopResult aggregates one StartLoop run.
type LoopResult struct {
	TaskID         string               `json:"taskId"`
	URL            string               `json:"url,omitempty"`
	Success        bool                 `json:"success"`
	Termination    TerminationReason    `json:"termination"`
	Cycles         int                  `json:"cycles"`
	TasksCompleted int                  `json:"tasksCompleted"`
	TasksFailed    int                  `json:"tasksFailed"`
	TasksPending   int                  `json:"tasksPending"`
	StartedAt      time.Time            `json:"startedAt"`
	Duration       time.Duration        `json:"duration"`
	Issues         []AccessibilityIssue `json:"issues,omitempty"`
	FocusTraps     []FocusTrap          `json:"focusTraps,omitempty"`
	Remediations   []RemediationTask    `json:"remediations,omitempty"`
	Outcomes       []TaskOutcome        `json:"outcomes"`
	Metrics        []CycleMetrics       `json:"metrics"`
	Error          string               `json:"error,omitempty"`
}

// OpenIssues counts issues that were neither fixed nor already resolved.
func (r LoopResult) OpenIssues() int {
	n := 0
	for _, is := range r.Issues {
		if is.Status != IssueFixed {
			n++
		}
	}
	return n
}

// VerifyOutput is the ActionResult output of a verify action.
type VerifyOutput struct {
	Element ElementDescriptor    `json:"element"`
	Level   WCAGLevel            `json:"level"`
	Issues  []AccessibilityIssue `json:"issues"`
}
