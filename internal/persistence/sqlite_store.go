package persistence

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/rjosef/sagaflow/pkg/api"
)

// SQLiteExecutionStore is an ExecutionStore backed by SQLite.
//
// It expects an *sql.DB using a SQLite driver (for example
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver:
//
//	import _ "modernc.org/sqlite"
type SQLiteExecutionStore struct {
	db *sql.DB
}

var _ ExecutionStore = (*SQLiteExecutionStore)(nil)

// NewSQLiteExecutionStore initializes the required schema in the given
// database and returns a new SQLiteExecutionStore.
func NewSQLiteExecutionStore(db *sql.DB) (*SQLiteExecutionStore, error) {
	s := &SQLiteExecutionStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteExecutionStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_version TEXT NOT NULL,
			parent_id TEXT,
			branch_key TEXT,
			status TEXT NOT NULL,
			current_step TEXT NOT NULL,
			context BLOB,
			step_results BLOB,
			compensations BLOB,
			trigger_id TEXT,
			correlation_id TEXT,
			error TEXT
		);`,
	)
	return err
}

func (s *SQLiteExecutionStore) encode(exec *api.Execution) (ctxBytes, results, comps []byte, errStr string, err error) {
	if ctxBytes, err = EncodeValue(exec.Context); err != nil {
		return
	}
	if results, err = EncodeValue(exec.StepResults); err != nil {
		return
	}
	if comps, err = EncodeValue(exec.Compensations); err != nil {
		return
	}
	if exec.Err != nil {
		errStr = exec.Err.Error()
	}
	return
}

func (s *SQLiteExecutionStore) SaveExecution(exec *api.Execution) error {
	ctxBytes, results, comps, errStr, err := s.encode(exec)
	if err != nil {
		return err
	}

	// Upsert: a replayed Parallel step re-forks its children under the
	// same derived ids.
	_, err = s.db.Exec(`
		INSERT INTO executions
			(id, workflow_id, workflow_version, parent_id, branch_key, status,
			 current_step, context, step_results, compensations, trigger_id, correlation_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			workflow_version = excluded.workflow_version,
			parent_id = excluded.parent_id,
			branch_key = excluded.branch_key,
			status = excluded.status,
			current_step = excluded.current_step,
			context = excluded.context,
			step_results = excluded.step_results,
			compensations = excluded.compensations,
			trigger_id = excluded.trigger_id,
			correlation_id = excluded.correlation_id,
			error = excluded.error`,
		exec.ID,
		exec.WorkflowID,
		exec.WorkflowVersion,
		exec.ParentID,
		exec.BranchKey,
		string(exec.Status),
		exec.CurrentStep,
		ctxBytes,
		results,
		comps,
		exec.TriggerID,
		exec.CorrelationID,
		errStr,
	)
	return err
}

func (s *SQLiteExecutionStore) UpdateExecution(exec *api.Execution) error {
	ctxBytes, results, comps, errStr, err := s.encode(exec)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE executions
		SET workflow_id = ?, workflow_version = ?, parent_id = ?, branch_key = ?,
		    status = ?, current_step = ?, context = ?, step_results = ?,
		    compensations = ?, trigger_id = ?, correlation_id = ?, error = ?
		WHERE id = ?`,
		exec.WorkflowID,
		exec.WorkflowVersion,
		exec.ParentID,
		exec.BranchKey,
		string(exec.Status),
		exec.CurrentStep,
		ctxBytes,
		results,
		comps,
		exec.TriggerID,
		exec.CorrelationID,
		errStr,
		exec.ID,
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

func scanExecution(scan func(dest ...any) error) (*api.Execution, error) {
	var exec api.Execution
	var statusStr string
	var ctxBytes, results, comps []byte
	var parentID, branchKey, triggerID, correlationID, errStr sql.NullString

	if err := scan(
		&exec.ID, &exec.WorkflowID, &exec.WorkflowVersion,
		&parentID, &branchKey, &statusStr, &exec.CurrentStep,
		&ctxBytes, &results, &comps,
		&triggerID, &correlationID, &errStr,
	); err != nil {
		return nil, err
	}

	exec.Status = api.Status(statusStr)
	exec.ParentID = parentID.String
	exec.BranchKey = branchKey.String
	exec.TriggerID = triggerID.String
	exec.CorrelationID = correlationID.String

	ctxDoc, err := DecodeValue[api.Document](ctxBytes)
	if err != nil {
		return nil, err
	}
	exec.Context = ctxDoc

	stepResults, err := DecodeValue[map[string]api.Document](results)
	if err != nil {
		return nil, err
	}
	exec.StepResults = stepResults

	compensations, err := DecodeValue[[]api.CompensationEntry](comps)
	if err != nil {
		return nil, err
	}
	exec.Compensations = compensations

	if errStr.Valid && errStr.String != "" {
		exec.Err = errors.New(errStr.String)
	}
	return &exec, nil
}

const executionColumns = `id, workflow_id, workflow_version, parent_id, branch_key, status,
	current_step, context, step_results, compensations, trigger_id, correlation_id, error`

func (s *SQLiteExecutionStore) GetExecution(id string) (*api.Execution, error) {
	row := s.db.QueryRow(
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)

	exec, err := scanExecution(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

func (s *SQLiteExecutionStore) ListExecutions(filter ExecutionFilter) ([]*api.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var args []any
	var clauses []string

	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
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
