package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/pkg/api"
)

// Publisher publishes an event through the router. The engine uses it
// for the completion events Terminal steps declare; keeping it a
// function avoids a hard dependency on the router package.
type Publisher func(ctx context.Context, ev api.Event) (api.Event, error)

// Config describes how to construct an engine. Only used inside this
// package; external callers use the constructor helpers.
type Config struct {
	Persistence persistence.Persistence
	Publisher   Publisher
	Observer    api.Observer
}

// engineImpl is a synchronous, in-process orchestrator. It holds no
// state between Advance calls: every transition is load, mutate, write
// back, which is what makes executions resumable after a crash.
type engineImpl struct {
	workflows  persistence.WorkflowStore
	executions persistence.ExecutionStore
	executors  *executorRegistry
	publish    Publisher
	observer   api.Observer
}

var _ api.Engine = (*engineImpl)(nil)

// NewEngineWithConfig creates an Engine from the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	pub := cfg.Publisher
	if pub == nil {
		// Engines can run without a router; declared completion
		// events are then dropped.
		pub = func(ctx context.Context, ev api.Event) (api.Event, error) {
			return ev, nil
		}
	}
	return &engineImpl{
		workflows:  cfg.Persistence.Workflows,
		executions: cfg.Persistence.Executions,
		executors:  newExecutorRegistry(),
		publish:    pub,
		observer:   obs,
	}
}

// NewEngine returns an Engine backed by the given persistence bundle.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{Persistence: p})
}

// NewInMemoryEngine returns an Engine backed entirely by in-memory
// stores.
func NewInMemoryEngine() api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngine(persistence.Persistence{
		Workflows:  mem,
		Executions: mem,
	})
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the
// given Observer.
func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: mem, Executions: mem},
		Observer:    obs,
	})
}

// NewSQLiteEngine returns an Engine that persists executions in a
// SQLite database. Workflow definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the
// given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	execs, err := persistence.NewSQLiteExecutionStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows:  persistence.NewInMemoryStore(),
			Executions: execs,
		},
		Observer: obs,
	}), nil
}

// NewPostgresEngine returns an Engine that persists executions in
// PostgreSQL through database/sql.
func NewPostgresEngine(db *sql.DB) (api.Engine, error) {
	return NewPostgresEngineWithObserver(db, nil)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with
// the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	execs, err := persistence.NewPostgresExecutionStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows:  persistence.NewInMemoryStore(),
			Executions: execs,
		},
		Observer: obs,
	}), nil
}

// NewRedisEngine returns an Engine that persists executions in Redis.
func NewRedisEngine(client *redis.Client) api.Engine {
	return NewRedisEngineWithObserver(client, nil)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the
// given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows:  persistence.NewInMemoryStore(),
			Executions: persistence.NewRedisExecutionStore(client, ""),
		},
		Observer: obs,
	})
}

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	if def.Version == "" {
		def.Version = "v1"
	}
	if err := def.Validate(); err != nil {
		return err
	}

	if _, err := e.workflows.GetWorkflow(def.ID, def.Version); err == nil {
		return fmt.Errorf("workflow %q version %q already registered", def.ID, def.Version)
	} else if !errors.Is(err, persistence.ErrWorkflowNotFound) {
		return err
	}

	return e.workflows.SaveWorkflow(def)
}

func (e *engineImpl) RegisterExecutor(name string, ex, compensator api.TaskExecutor) error {
	return e.executors.register(name, ex, compensator)
}

func (e *engineImpl) Start(ctx context.Context, workflowID string, trigger api.Event) (*api.Execution, error) {
	def, err := e.workflows.GetLatestWorkflow(workflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, &api.UnknownWorkflowError{WorkflowID: workflowID}
		}
		return nil, err
	}
	return e.start(ctx, def, trigger)
}

func (e *engineImpl) StartVersion(ctx context.Context, workflowID, version string, trigger api.Event) (*api.Execution, error) {
	def, err := e.workflows.GetWorkflow(workflowID, version)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, &api.UnknownWorkflowError{WorkflowID: workflowID}
		}
		return nil, err
	}
	return e.start(ctx, def, trigger)
}

func (e *engineImpl) start(ctx context.Context, def api.WorkflowDefinition, trigger api.Event) (*api.Execution, error) {
	correlation := trigger.CorrelationID
	if correlation == "" {
		correlation = trigger.ID
	}

	exec := &api.Execution{
		ID:              uuid.NewString(),
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		Status:          api.StatusRunning,
		CurrentStep:     def.Entry,
		Context:         trigger.Payload.Clone(),
		StepResults:     make(map[string]api.Document),
		TriggerID:       trigger.ID,
		CorrelationID:   correlation,
	}
	if exec.Context == nil {
		exec.Context = api.Document{}
	}

	e.observer.OnExecutionStart(ctx, exec)

	if err := e.executions.SaveExecution(exec); err != nil {
		return nil, err
	}
	return e.run(ctx, def, exec)
}

func (e *engineImpl) Advance(ctx context.Context, executionID string) (*api.Execution, error) {
	exec, err := e.loadExecution(executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Final() {
		return exec, api.ErrExecutionFinal
	}

	def, err := e.workflows.GetWorkflow(exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return exec, &api.UnknownWorkflowError{WorkflowID: exec.WorkflowID}
		}
		return exec, err
	}

	// A crash mid-compensation leaves the execution COMPENSATING with
	// the remaining stack persisted; resume from there.
	if exec.Status == api.StatusCompensating {
		err := e.runCompensation(ctx, exec)
		return exec, err
	}

	return e.run(ctx, def, exec)
}

func (e *engineImpl) Cancel(ctx context.Context, executionID string) (*api.Execution, error) {
	exec, err := e.loadExecution(executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Final() {
		return exec, api.ErrExecutionFinal
	}

	err = e.finalizeFailure(ctx, exec, nil, api.StatusCancelled)
	return exec, err
}

func (e *engineImpl) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	return e.loadExecution(id)
}

func (e *engineImpl) ListExecutions(ctx context.Context, opts api.ExecutionListOptions) ([]*api.Execution, error) {
	return e.executions.ListExecutions(persistence.ExecutionFilter{
		WorkflowID: opts.WorkflowID,
		Status:     opts.Status,
	})
}

func (e *engineImpl) RecoverStuckExecutions(ctx context.Context) (int, error) {
	stuck, err := e.executions.ListExecutions(persistence.ExecutionFilter{
		Status: api.StatusRunning,
	})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, exec := range stuck {
		cause := errors.New("execution interrupted: recovered as failed on startup")
		if err := e.finalizeFailure(ctx, exec, cause, api.StatusFailed); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e *engineImpl) loadExecution(id string) (*api.Execution, error) {
	exec, err := e.executions.GetExecution(id)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return nil, fmt.Errorf("execution not found: %s", id)
		}
		return nil, err
	}
	return exec, nil
}
