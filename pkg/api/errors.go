package api

import (
	"errors"
	"fmt"
)

// InvalidEventError reports a malformed publish: missing type or
// source.
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string {
	return "invalid event: " + e.Reason
}

// DuplicateRouteError reports an attempt to register a route whose
// predicate+targets tuple is already present. Registration is
// idempotent, so this is non-fatal: the existing route keeps working.
type DuplicateRouteError struct {
	Fingerprint string
}

func (e *DuplicateRouteError) Error() string {
	return "duplicate route: " + e.Fingerprint
}

// UnknownWorkflowError reports a dangling workflow reference, either
// in Start or in a route target.
type UnknownWorkflowError struct {
	WorkflowID string
}

func (e *UnknownWorkflowError) Error() string {
	return "unknown workflow: " + e.WorkflowID
}

// UnknownRouteError reports a reference to a route that was never
// registered, e.g. when requeueing a dead letter.
type UnknownRouteError struct {
	Name string
}

func (e *UnknownRouteError) Error() string {
	return "unknown route: " + e.Name
}

// TaskError reports an executor failure or timeout at a Task step. It
// is recoverable: the engine converts it into a catch-edge transition
// when the step declares one.
type TaskError struct {
	StepID   string
	Executor string
	Timeout  bool
	Err      error
}

func (e *TaskError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("task %s (%s): timed out", e.StepID, e.Executor)
	}
	return fmt.Sprintf("task %s (%s): %v", e.StepID, e.Executor, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// AsTaskError unwraps err to a *TaskError if there is one.
func AsTaskError(err error) (*TaskError, bool) {
	var te *TaskError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CompensationError reports that a compensating action itself failed
// after its bounded attempts. It is deliberately not auto-retried any
// further; the execution surfaces StatusCompensatedPartial for
// operator reconciliation.
type CompensationError struct {
	StepID   string
	Executor string
	Attempts int
	Err      error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for %s (%s) failed after %d attempts: %v",
		e.StepID, e.Executor, e.Attempts, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// ErrExecutionFinal is returned by Advance and Cancel when the
// execution has already reached a final status.
var ErrExecutionFinal = errors.New("execution already in a final status")
