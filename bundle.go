package sagaflow

import (
	"context"
	"database/sql"

	"github.com/rjosef/sagaflow/internal/engine"
	"github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/internal/router"
	"github.com/rjosef/sagaflow/internal/taskqueue"
	"github.com/rjosef/sagaflow/pkg/api"
	workerpkg "github.com/rjosef/sagaflow/pkg/worker"
)

// Bundle wires together a durable Engine, Router, event journal, and
// task queue sharing one database. Events accepted by the Router, queued
// deliveries, and execution state all survive a process restart.
type Bundle struct {
	Engine Engine
	Router *Router

	// queue is kept unexported; workers attach through NewWorker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Router + Engine combo persisted
// in the provided SQLite database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:sagaflow.db?_journal=WAL")
//	bundle, err := sagaflow.NewSQLiteBundle(db, nil)
//	// register workflows on bundle.Engine, routes on bundle.Router
//
// On startup after a crash, call bundle.Engine.RecoverStuckExecutions
// to resolve executions that were mid-flight when the process died.
func NewSQLiteBundle(db *sql.DB, obs Observer) (*Bundle, error) {
	execs, err := persistence.NewSQLiteExecutionStore(db)
	if err != nil {
		return nil, err
	}
	journal, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	queue, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	var rt *router.Router
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Workflows:  persistence.NewInMemoryStore(),
			Executions: execs,
		},
		Publisher: func(ctx context.Context, ev api.Event) (api.Event, error) {
			return rt.Publish(ctx, ev)
		},
		Observer: obs,
	})
	rt = router.New(router.Config{
		Queue:   queue,
		Journal: journal,
		Starter: func(ctx context.Context, workflowID string, trigger api.Event) error {
			_, err := eng.Start(ctx, workflowID, trigger)
			return err
		},
		Observer: obs,
	})

	return &Bundle{
		Engine: eng,
		Router: rt,
		queue:  queue,
	}, nil
}

// NewWorker creates a Worker consuming the bundle's durable queue
// under the given queue name.
func (b *Bundle) NewWorker(queueName string, cfg WorkerConfig) *workerpkg.Worker {
	return workerpkg.NewWithConfig(b.queue, queueName, cfg)
}
