package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rjosef/sagaflow"
	pqueue "github.com/rjosef/sagaflow/postgres/internal/taskqueue"
)

// NewPgxQueue returns a durable task queue backed by PostgreSQL.
// Multiple workers can consume the same named queue concurrently; row
// claiming uses SELECT ... FOR UPDATE SKIP LOCKED.
func NewPgxQueue(pool *pgxpool.Pool) (sagaflow.Queue, error) {
	return pqueue.NewPgxQueue(pool)
}
