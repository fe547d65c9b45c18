// Package postgres provides pgx-native PostgreSQL backends for the
// sagaflow engine and task queue.
//
// The core module's Postgres support goes through database/sql; this
// package talks to PostgreSQL directly through a pgxpool.Pool and adds
// SKIP LOCKED claiming on the queue, which the database/sql variant
// does not use.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rjosef/sagaflow/internal/engine"
	"github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/pkg/api"

	pstore "github.com/rjosef/sagaflow/postgres/internal/persistence"
)

// NewPgxEngine returns an Engine that persists executions in
// PostgreSQL through a pgx connection pool.
func NewPgxEngine(pool *pgxpool.Pool) (api.Engine, error) {
	return NewPgxEngineWithObserver(pool, nil)
}

// NewPgxEngineWithObserver returns a pgx-backed Engine with the given
// Observer.
func NewPgxEngineWithObserver(pool *pgxpool.Pool, obs api.Observer) (api.Engine, error) {
	execs, err := pstore.NewPgxExecutionStore(pool)
	if err != nil {
		return nil, err
	}

	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Workflows:  persistence.NewInMemoryStore(),
			Executions: execs,
		},
		Observer: obs,
	}), nil
}
