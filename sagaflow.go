package sagaflow

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/rjosef/sagaflow/internal/engine"
	"github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/internal/router"
	"github.com/rjosef/sagaflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Event                = api.Event
	Document             = api.Document
	Route                = api.Route
	Predicate            = api.Predicate
	Target               = api.Target
	TargetKind           = api.TargetKind
	WorkflowDefinition   = api.WorkflowDefinition
	Step                 = api.Step
	StepKind             = api.StepKind
	Branch               = api.Branch
	ChoiceRule           = api.ChoiceRule
	Condition            = api.Condition
	EmitSpec             = api.EmitSpec
	Execution            = api.Execution
	ExecutionListOptions = api.ExecutionListOptions
	CompensationEntry    = api.CompensationEntry
	Status               = api.Status
	TaskExecutor         = api.TaskExecutor
	TaskFunc             = api.TaskFunc
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Router-layer types, re-exported from the internal router package.

type (
	Router         = router.Router
	RouterConfig   = router.Config
	DeliveryPolicy = router.DeliveryPolicy
	DeadLetter     = router.DeadLetter
	DeadLetterSink = router.DeadLetterSink
	LogSink        = router.LogSink
)

// Context store collaborator: the key-addressed record store task
// executors read and write business records through.

type (
	ContextStore = persistence.ContextStore
	ContextKey   = persistence.Key
)

// Re-export common helpers.

var (
	NewEvent             = api.NewEvent
	QueueTarget          = api.QueueTarget
	WorkflowTarget       = api.WorkflowTarget
	LogTarget            = api.LogTarget
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewInMemoryLogSink   = router.NewInMemoryLogSink
)

// Re-export condition constructors for Choice rules.

var (
	Exists      = api.Exists
	Equals      = api.Equals
	NotEquals   = api.NotEquals
	GreaterThan = api.GreaterThan
	LessThan    = api.LessThan
	NonEmpty    = api.NonEmpty
)

// Re-export status values for convenience.

const (
	StatusRunning            = api.StatusRunning
	StatusSucceeded          = api.StatusSucceeded
	StatusFailed             = api.StatusFailed
	StatusCompensating       = api.StatusCompensating
	StatusCompensated        = api.StatusCompensated
	StatusCompensatedPartial = api.StatusCompensatedPartial
	StatusCancelled          = api.StatusCancelled
)

// Router constructors
// These wrap the internal/router package so external callers never
// need to import internal packages.

// NewRouter creates a Router with in-memory queue, journal, log sink,
// and dead-letter sink. Suitable for tests and single-process use.
func NewRouter() *Router {
	return router.New(router.Config{})
}

// NewRouterWithConfig creates a Router from an explicit configuration.
// Zero-value fields fall back to in-memory defaults.
func NewRouterWithConfig(cfg RouterConfig) *Router {
	return router.New(cfg)
}

// Engine constructors

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists executions in a
// SQLite database. Workflow definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewPostgresEngine returns an Engine that persists executions in PostgreSQL.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(db)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewPostgresEngineWithObserver(db, obs)
}

// NewRedisEngine returns an Engine that persists executions in Redis.
func NewRedisEngine(client *redis.Client) Engine {
	return engine.NewRedisEngine(client)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs Observer) Engine {
	return engine.NewRedisEngineWithObserver(client, obs)
}

// Context store constructors

// NewInMemoryContextStore returns a goroutine-safe in-memory ContextStore.
func NewInMemoryContextStore() ContextStore {
	return persistence.NewInMemoryContextStore()
}

// NewSQLiteContextStore returns a ContextStore persisted in the given
// SQLite database.
func NewSQLiteContextStore(db *sql.DB) (ContextStore, error) {
	return persistence.NewSQLiteContextStore(db)
}

// NewRedisContextStore returns a ContextStore persisted in Redis under
// the given key prefix.
func NewRedisContextStore(client *redis.Client, prefix string) ContextStore {
	return persistence.NewRedisContextStore(client, prefix)
}

// Convenience helpers that just forward to the underlying Engine.

// Start starts a new execution of the named workflow.
func Start(ctx context.Context, eng Engine, workflowID string, trigger Event) (*Execution, error) {
	return eng.Start(ctx, workflowID, trigger)
}

// GetExecution fetches an execution by ID.
func GetExecution(ctx context.Context, eng Engine, id string) (*Execution, error) {
	return eng.GetExecution(ctx, id)
}

// ListExecutions lists executions according to the given options.
func ListExecutions(ctx context.Context, eng Engine, opts ExecutionListOptions) ([]*Execution, error) {
	return eng.ListExecutions(ctx, opts)
}
