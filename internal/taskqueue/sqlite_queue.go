package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/pkg/api"
)

// SQLiteQueue is a persistent Queue backed by SQLite, with simple FIFO
// semantics per named queue based on an auto-incrementing id. Dequeue
// polls; a claimed row is deleted in the same transaction, so each
// task is handed to at most one worker.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and
// returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_tasks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			queue TEXT NOT NULL,
			event BLOB NOT NULL,
			enqueued_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL
		);`,
	)
	return err
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	event, err := persistence.EncodeValue(t.Event)
	if err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queue_tasks (task_id, queue, event, enqueued_at, attempts)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Queue, event, t.EnqueuedAt.UnixNano(), t.Attempts,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context, queue string) (*Task, error) {
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

func (q *SQLiteQueue) tryClaim(ctx context.Context, queue string) (*Task, bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT seq, task_id, queue, event, enqueued_at, attempts
		FROM queue_tasks
		WHERE queue = ?
		ORDER BY seq
		LIMIT 1`, queue,
	)

	var seq int64
	var t Task
	var event []byte
	var enqueuedAt int64
	if err := row.Scan(&seq, &t.ID, &t.Queue, &event, &enqueuedAt, &t.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_tasks WHERE seq = ?`, seq); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	ev, err := persistence.DecodeValue[api.Event](event)
	if err != nil {
		return nil, false, err
	}
	t.Event = ev
	t.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	return &t, true, nil
}

func (q *SQLiteQueue) Len(queue string) int {
	var n int
	if err := q.db.QueryRow(
		`SELECT COUNT(*) FROM queue_tasks WHERE queue = ?`, queue,
	).Scan(&n); err != nil {
		return 0
	}
	return n
}
