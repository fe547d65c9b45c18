package persistence

import (
	"errors"

	"github.com/rjosef/sagaflow/pkg/api"
)

var (
	// ErrWorkflowNotFound is returned when a workflow definition is not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound is returned when a workflow execution is not found.
	ErrExecutionNotFound = errors.New("execution not found")
)

// WorkflowStore handles storage of workflow definitions.
//
// Definitions are deploy-time configuration; all current backends keep
// them in-memory and only executions are made durable.
type WorkflowStore interface {
	SaveWorkflow(def api.WorkflowDefinition) error
	// GetWorkflow returns the definition for an id+version pair.
	GetWorkflow(id, version string) (api.WorkflowDefinition, error)
	// GetLatestWorkflow returns the most recently registered version.
	GetLatestWorkflow(id string) (api.WorkflowDefinition, error)
	ListWorkflowVersions(id string) ([]string, error)
}

// ExecutionFilter selects executions from the store. Empty values mean
// "no filter" for that field.
type ExecutionFilter struct {
	WorkflowID string
	Status     api.Status
}

// ExecutionStore handles storage of workflow executions. Implementations
// must return copies: the engine's reload-mutate-write-back cycle relies
// on Get not aliasing previously saved state.
type ExecutionStore interface {
	SaveExecution(exec *api.Execution) error
	UpdateExecution(exec *api.Execution) error
	GetExecution(id string) (*api.Execution, error)
	ListExecutions(filter ExecutionFilter) ([]*api.Execution, error)
}

// Persistence bundles the stores an engine and router are built from.
type Persistence struct {
	Workflows  WorkflowStore
	Executions ExecutionStore
	Events     EventStore
	Contexts   ContextStore
}

// CloneExecution deep-copies an execution, including its context,
// recorded step results and compensation stack.
func CloneExecution(exec *api.Execution) *api.Execution {
	if exec == nil {
		return nil
	}
	out := *exec
	out.Context = exec.Context.Clone()
	if exec.StepResults != nil {
		out.StepResults = make(map[string]api.Document, len(exec.StepResults))
		for k, v := range exec.StepResults {
			out.StepResults[k] = v.Clone()
		}
	}
	if exec.Compensations != nil {
		out.Compensations = make([]api.CompensationEntry, len(exec.Compensations))
		for i, c := range exec.Compensations {
			out.Compensations[i] = api.CompensationEntry{
				StepID:   c.StepID,
				Executor: c.Executor,
				Input:    c.Input.Clone(),
			}
		}
	}
	return &out
}
