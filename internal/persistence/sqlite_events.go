package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rjosef/sagaflow/pkg/api"
)

// SQLiteEventStore journals events and delivery records in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLiteEventStore)(nil)

// NewSQLiteEventStore initializes the journal tables and returns a new
// store.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			source TEXT NOT NULL,
			type TEXT NOT NULL,
			occurred_at INTEGER NOT NULL,
			correlation_id TEXT,
			payload BLOB
		);
		CREATE TABLE IF NOT EXISTS deliveries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			route TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			error TEXT,
			at INTEGER NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.Event) error {
	payload, err := EncodeValue(ev.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, source, type, occurred_at, correlation_id, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Source, ev.Type, ev.OccurredAt.UnixNano(), ev.CorrelationID, payload,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, correlationID string) ([]api.Event, error) {
	query := `SELECT id, source, type, occurred_at, correlation_id, payload FROM events`
	var args []any
	if correlationID != "" {
		query += ` WHERE correlation_id = ?`
		args = append(args, correlationID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []api.Event
	for rows.Next() {
		var ev api.Event
		var occurredAt int64
		var corr sql.NullString
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.Type, &occurredAt, &corr, &payload); err != nil {
			return nil, err
		}
		ev.OccurredAt = time.Unix(0, occurredAt).UTC()
		ev.CorrelationID = corr.String
		doc, err := DecodeValue[api.Document](payload)
		if err != nil {
			return nil, err
		}
		ev.Payload = doc
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteEventStore) RecordDelivery(ctx context.Context, rec DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (event_id, route, target, status, attempt, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.Route, rec.Target.String(), string(rec.Status),
		rec.Attempt, rec.Error, rec.At.UnixNano(),
	)
	return err
}

func (s *SQLiteEventStore) ListDeliveries(ctx context.Context, eventID string) ([]DeliveryRecord, error) {
	query := `SELECT event_id, route, target, status, attempt, error, at FROM deliveries`
	var args []any
	if eventID != "" {
		query += ` WHERE event_id = ?`
		args = append(args, eventID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		var target, status string
		var errStr sql.NullString
		var at int64
		if err := rows.Scan(&rec.EventID, &rec.Route, &target, &status, &rec.Attempt, &errStr, &at); err != nil {
			return nil, err
		}
		rec.Target = parseTarget(target)
		rec.Status = DeliveryStatus(status)
		rec.Error = errStr.String
		rec.At = time.Unix(0, at).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// parseTarget reverses api.Target.String for audit reads. Unknown
// encodings come back as a zero target.
func parseTarget(s string) api.Target {
	switch {
	case s == "log":
		return api.LogTarget()
	case len(s) > 6 && s[:6] == "queue:":
		return api.QueueTarget(s[6:])
	case len(s) > 9 && s[:9] == "workflow:":
		return api.WorkflowTarget(s[9:])
	default:
		return api.Target{}
	}
}
