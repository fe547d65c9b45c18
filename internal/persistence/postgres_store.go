package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rjosef/sagaflow/pkg/api"
)

// PostgresExecutionStore is an ExecutionStore backed by PostgreSQL via
// database/sql. The caller supplies a *sql.DB with a Postgres driver
// registered; for the native pgx backend see the postgres submodule.
type PostgresExecutionStore struct {
	db *sql.DB
}

var _ ExecutionStore = (*PostgresExecutionStore)(nil)

// NewPostgresExecutionStore initializes the schema and returns a new
// store.
func NewPostgresExecutionStore(db *sql.DB) (*PostgresExecutionStore, error) {
	s := &PostgresExecutionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresExecutionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_version TEXT NOT NULL,
			parent_id TEXT,
			branch_key TEXT,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL,
			context BYTEA,
			step_results BYTEA,
			compensations BYTEA,
			trigger_id TEXT,
			correlation_id TEXT,
			error TEXT
		);`,
	)
	return err
}

func (s *PostgresExecutionStore) SaveExecution(exec *api.Execution) error {
	ctxBytes, err := EncodeValue(exec.Context)
	if err != nil {
		return err
	}
	results, err := EncodeValue(exec.StepResults)
	if err != nil {
		return err
	}
	comps, err := EncodeValue(exec.Compensations)
	if err != nil {
		return err
	}
	errStr := ""
	if exec.Err != nil {
		errStr = exec.Err.Error()
	}

	// Upsert: a replayed Parallel step re-forks its children under the
	// same derived ids.
	_, err = s.db.Exec(`
		INSERT INTO executions
			(id, workflow_id, workflow_version, parent_id, branch_key, status,
			 current_step, context, step_results, compensations, trigger_id, correlation_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			workflow_version = EXCLUDED.workflow_version,
			parent_id = EXCLUDED.parent_id,
			branch_key = EXCLUDED.branch_key,
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			context = EXCLUDED.context,
			step_results = EXCLUDED.step_results,
			compensations = EXCLUDED.compensations,
			trigger_id = EXCLUDED.trigger_id,
			correlation_id = EXCLUDED.correlation_id,
			error = EXCLUDED.error`,
		exec.ID, exec.WorkflowID, exec.WorkflowVersion, exec.ParentID, exec.BranchKey,
		string(exec.Status), exec.CurrentStep, ctxBytes, results, comps,
		exec.TriggerID, exec.CorrelationID, errStr,
	)
	return err
}

func (s *PostgresExecutionStore) UpdateExecution(exec *api.Execution) error {
	ctxBytes, err := EncodeValue(exec.Context)
	if err != nil {
		return err
	}
	results, err := EncodeValue(exec.StepResults)
	if err != nil {
		return err
	}
	comps, err := EncodeValue(exec.Compensations)
	if err != nil {
		return err
	}
	errStr := ""
	if exec.Err != nil {
		errStr = exec.Err.Error()
	}

	res, err := s.db.Exec(`
		UPDATE executions
		SET workflow_id = $1, workflow_version = $2, parent_id = $3, branch_key = $4,
		    status = $5, current_step = $6, context = $7, step_results = $8,
		    compensations = $9, trigger_id = $10, correlation_id = $11, error = $12
		WHERE id = $13`,
		exec.WorkflowID, exec.WorkflowVersion, exec.ParentID, exec.BranchKey,
		string(exec.Status), exec.CurrentStep, ctxBytes, results, comps,
		exec.TriggerID, exec.CorrelationID, errStr, exec.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

func (s *PostgresExecutionStore) GetExecution(id string) (*api.Execution, error) {
	row := s.db.QueryRow(
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	exec, err := scanExecution(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

func (s *PostgresExecutionStore) ListExecutions(filter ExecutionFilter) ([]*api.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		clauses = append(clauses, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*api.Execution
	for rows.Next() {
		exec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return executions, nil
}
