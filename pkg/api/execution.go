package api

// Status represents the lifecycle state of a workflow execution.
type Status string

const (
	StatusRunning            Status = "RUNNING"
	StatusSucceeded          Status = "SUCCEEDED"
	StatusFailed             Status = "FAILED"
	StatusCompensating       Status = "COMPENSATING"
	StatusCompensated        Status = "COMPENSATED"
	StatusCompensatedPartial Status = "COMPENSATED_PARTIAL"
	StatusCancelled          Status = "CANCELLED"
)

// Final reports whether the status is terminal: no further Advance
// call will change the execution.
func (s Status) Final() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCompensated, StatusCompensatedPartial, StatusCancelled:
		return true
	default:
		return false
	}
}

// CompensationEntry records one successfully completed side-effecting
// task: which step it was and the exact input it ran with. Entries are
// consulted only on the compensation path, in reverse completion
// order.
type CompensationEntry struct {
	StepID   string
	Executor string
	Input    Document
}

// Execution is one running or completed instance of a workflow
// definition. The engine holds no in-memory state between Advance
// calls; everything needed to resume after a crash lives here.
type Execution struct {
	ID              string
	WorkflowID      string
	WorkflowVersion string

	// ParentID and BranchKey are set on branch sub-executions forked
	// by a Parallel step; empty otherwise.
	ParentID  string
	BranchKey string

	Status      Status
	CurrentStep string

	// Context is the accumulating document carried through the
	// execution. It is the sole mutable state of the run and is never
	// observed across executions.
	Context Document

	// StepResults records, per step id, the document the step merged
	// into the context. A step present here is complete: re-advancing
	// replays the recorded transition instead of re-invoking the
	// executor.
	StepResults map[string]Document

	// Compensations is the stack of completed side-effecting tasks,
	// in completion order.
	Compensations []CompensationEntry

	// TriggerID and CorrelationID tie the execution back to the event
	// that started it.
	TriggerID     string
	CorrelationID string

	Err error
}

// ExecutionListOptions filters ListExecutions. Zero values mean no
// filter.
type ExecutionListOptions struct {
	WorkflowID string
	Status     Status
}
