package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	corep "github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/pkg/api"
)

// PgxExecutionStore is an ExecutionStore backed by PostgreSQL through
// the native pgx driver. For database/sql users the core module ships
// a store with the same schema; the two are interchangeable.
type PgxExecutionStore struct {
	pool *pgxpool.Pool
}

// Ensure PgxExecutionStore implements ExecutionStore.
var _ corep.ExecutionStore = (*PgxExecutionStore)(nil)

// NewPgxExecutionStore initializes the required schema and returns a
// new store.
func NewPgxExecutionStore(pool *pgxpool.Pool) (*PgxExecutionStore, error) {
	s := &PgxExecutionStore{pool: pool}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PgxExecutionStore) initSchema() error {
	_, err := s.pool.Exec(context.Background(), `
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
		);
	`)
	return err
}

const executionColumns = `id, workflow_id, workflow_version, parent_id, branch_key, status,
	current_step, context, step_results, compensations, trigger_id, correlation_id, error`

func encodeExecution(exec *api.Execution) (ctxBytes, results, comps []byte, errStr string, err error) {
	if ctxBytes, err = corep.EncodeValue(exec.Context); err != nil {
		return
	}
	if results, err = corep.EncodeValue(exec.StepResults); err != nil {
		return
	}
	if comps, err = corep.EncodeValue(exec.Compensations); err != nil {
		return
	}
	if exec.Err != nil {
		errStr = exec.Err.Error()
	}
	return
}

func scanExecution(scan func(dest ...any) error) (*api.Execution, error) {
	var exec api.Execution
	var statusStr string
	var ctxBytes, results, comps []byte
	var parentID, branchKey, triggerID, correlationID, errStr *string

	if err := scan(
		&exec.ID, &exec.WorkflowID, &exec.WorkflowVersion,
		&parentID, &branchKey, &statusStr, &exec.CurrentStep,
		&ctxBytes, &results, &comps,
		&triggerID, &correlationID, &errStr,
	); err != nil {
		return nil, err
	}

	exec.Status = api.Status(statusStr)
	if parentID != nil {
		exec.ParentID = *parentID
	}
	if branchKey != nil {
		exec.BranchKey = *branchKey
	}
	if triggerID != nil {
		exec.TriggerID = *triggerID
	}
	if correlationID != nil {
		exec.CorrelationID = *correlationID
	}

	ctxDoc, err := corep.DecodeValue[api.Document](ctxBytes)
	if err != nil {
		return nil, err
	}
	exec.Context = ctxDoc

	stepResults, err := corep.DecodeValue[map[string]api.Document](results)
	if err != nil {
		return nil, err
	}
	exec.StepResults = stepResults

	compensations, err := corep.DecodeValue[[]api.CompensationEntry](comps)
	if err != nil {
		return nil, err
	}
	exec.Compensations = compensations

	if errStr != nil && *errStr != "" {
		exec.Err = errors.New(*errStr)
	}
	return &exec, nil
}

func (s *PgxExecutionStore) SaveExecution(exec *api.Execution) error {
	ctxBytes, results, comps, errStr, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO executions
			(id, workflow_id, workflow_version, parent_id, branch_key, status,
			 current_step, context, step_results, compensations, trigger_id, correlation_id, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		exec.ID, exec.WorkflowID, exec.WorkflowVersion, exec.ParentID, exec.BranchKey,
		string(exec.Status), exec.CurrentStep, ctxBytes, results, comps,
		exec.TriggerID, exec.CorrelationID, errStr,
	)
	return err
}

func (s *PgxExecutionStore) UpdateExecution(exec *api.Execution) error {
	ctxBytes, results, comps, errStr, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(context.Background(), `
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
	if tag.RowsAffected() == 0 {
		return corep.ErrExecutionNotFound
	}
	return nil
}

func (s *PgxExecutionStore) GetExecution(id string) (*api.Execution, error) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	exec, err := scanExecution(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, corep.ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

func (s *PgxExecutionStore) ListExecutions(filter corep.ExecutionFilter) ([]*api.Execution, error) {
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

	rows, err := s.pool.Query(context.Background(), query, args...)
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
