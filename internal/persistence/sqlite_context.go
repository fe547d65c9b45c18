package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rjosef/sagaflow/pkg/api"
)

// SQLiteContextStore is a ContextStore backed by SQLite, sharing the
// same *sql.DB as the execution store in durable deployments.
type SQLiteContextStore struct {
	db *sql.DB
}

var _ ContextStore = (*SQLiteContextStore)(nil)

// NewSQLiteContextStore initializes the records table and returns a
// new store.
func NewSQLiteContextStore(db *sql.DB) (*SQLiteContextStore, error) {
	s := &SQLiteContextStore{db: db}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			body BLOB,
			PRIMARY KEY (kind, id)
		);`,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteContextStore) Get(ctx context.Context, key Key) (api.Document, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM records WHERE kind = ? AND id = ?`, key.Kind, key.ID)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	doc, err := DecodeValue[api.Document](body)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *SQLiteContextStore) Put(ctx context.Context, key Key, rec api.Document) error {
	body, err := EncodeValue(rec)
	if err != nil {
		return err
	}

	// Last-writer-wins upsert.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (kind, id, body) VALUES (?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET body = excluded.body`,
		key.Kind, key.ID, body,
	)
	return err
}

func (s *SQLiteContextStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE kind = ? AND id = ?`, key.Kind, key.ID)
	return err
}
