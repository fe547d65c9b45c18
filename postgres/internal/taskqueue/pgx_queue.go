package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	corep "github.com/rjosef/sagaflow/internal/persistence"
	coreq "github.com/rjosef/sagaflow/internal/taskqueue"
	"github.com/rjosef/sagaflow/pkg/api"
)

// PgxQueue implements Queue using a PostgreSQL table. Rows are FIFO per
// named queue by an auto-incrementing sequence. Dequeue claims a row
// with SELECT ... FOR UPDATE SKIP LOCKED and deletes it in the same
// transaction, so concurrent workers never process the same task.
type PgxQueue struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

// Ensure PgxQueue implements Queue.
var _ coreq.Queue = (*PgxQueue)(nil)

// NewPgxQueue creates the required schema if needed and returns a
// queue.
func NewPgxQueue(pool *pgxpool.Pool) (*PgxQueue, error) {
	q := &PgxQueue{
		pool:         pool,
		pollInterval: 100 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *PgxQueue) initSchema() error {
	_, err := q.pool.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS queue_tasks (
			seq BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL,
			queue TEXT NOT NULL,
			event BYTEA NOT NULL,
			enqueued_at BIGINT NOT NULL,
			attempts INTEGER NOT NULL
		);
	`)
	return err
}

func (q *PgxQueue) Enqueue(ctx context.Context, t coreq.Task) error {
	event, err := corep.EncodeValue(t.Event)
	if err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	_, err = q.pool.Exec(ctx, `
		INSERT INTO queue_tasks (task_id, queue, event, enqueued_at, attempts)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Queue, event, t.EnqueuedAt.UnixNano(), t.Attempts,
	)
	return err
}

func (q *PgxQueue) Dequeue(ctx context.Context, queue string) (*coreq.Task, error) {
	for {
		t, ok, err := q.tryClaim(ctx, queue)
		if err != nil {
			return nil, err
		}
		if ok {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *PgxQueue) tryClaim(ctx context.Context, queue string) (*coreq.Task, bool, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT seq, task_id, queue, event, enqueued_at, attempts
		FROM queue_tasks
		WHERE queue = $1
		ORDER BY seq
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, queue,
	)

	var seq int64
	var t coreq.Task
	var event []byte
	var enqueuedAt int64
	if err := row.Scan(&seq, &t.ID, &t.Queue, &event, &enqueuedAt, &t.Attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM queue_tasks WHERE seq = $1`, seq); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}

	ev, err := corep.DecodeValue[api.Event](event)
	if err != nil {
		return nil, false, fmt.Errorf("decode task %q: %w", t.ID, err)
	}
	t.Event = ev
	t.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return &t, true, nil
}

func (q *PgxQueue) Len(queue string) int {
	var n int
	if err := q.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM queue_tasks WHERE queue = $1`, queue,
	).Scan(&n); err != nil {
		return 0
	}
	return n
}
