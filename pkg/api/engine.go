package api

import "context"

// Engine is the saga orchestrator: given a registered workflow
// definition and a triggering event, it creates and advances an
// execution through the step graph to a success or compensated-failure
// terminal state.
type Engine interface {
	// RegisterWorkflow validates and registers a definition under its
	// (id, version) pair. An empty version defaults to "v1".
	RegisterWorkflow(def WorkflowDefinition) error

	// RegisterExecutor binds a task executor name, optionally with a
	// compensating executor. Tasks with a compensator are treated as
	// side-effecting: their successful completions are recorded for
	// the compensation path.
	RegisterExecutor(name string, ex TaskExecutor, compensator TaskExecutor) error

	// Start creates an execution of the latest registered version at
	// the entry step, context seeded from the trigger payload, and
	// advances it to completion.
	Start(ctx context.Context, workflowID string, trigger Event) (*Execution, error)

	// StartVersion starts a specific workflow version.
	StartVersion(ctx context.Context, workflowID, version string, trigger Event) (*Execution, error)

	// Advance drives a running execution forward from its persisted
	// current step. It is safe to re-invoke after a crash: steps whose
	// results are already recorded are not re-executed.
	Advance(ctx context.Context, executionID string) (*Execution, error)

	// Cancel stops a running execution between steps. Side-effecting
	// tasks that already completed are compensated.
	Cancel(ctx context.Context, executionID string) (*Execution, error)

	// GetExecution looks up an execution by id.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns executions matching the options.
	ListExecutions(ctx context.Context, opts ExecutionListOptions) ([]*Execution, error)

	// RecoverStuckExecutions scans for executions still marked RUNNING
	// (for example after a process crash), marks them failed, and runs
	// compensation for their recorded side effects. It is intended to
	// run on startup before any new work is accepted, and returns the
	// number of executions it touched.
	RecoverStuckExecutions(ctx context.Context) (int, error)
}
