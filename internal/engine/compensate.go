package engine

import (
	"context"
	"fmt"

	"github.com/rjosef/sagaflow/pkg/api"
)

// compensationMaxAttempts bounds retries per compensating action.
// Compensation runs while the system is already unwinding; long retry
// loops here only delay reaching a final status.
const compensationMaxAttempts = 3

// finalizeFailure ends a failing or cancelled execution. If completed
// side-effecting steps exist, their compensating actions run first, in
// reverse completion order; otherwise the final status applies
// directly.
func (e *engineImpl) finalizeFailure(ctx context.Context, exec *api.Execution, cause error, final api.Status) error {
	exec.Err = cause

	if len(exec.Compensations) == 0 {
		exec.Status = final
		if err := e.executions.UpdateExecution(exec); err != nil {
			return err
		}
		e.observer.OnExecutionFinished(ctx, exec, cause)
		return nil
	}

	exec.Status = api.StatusCompensating
	if err := e.executions.UpdateExecution(exec); err != nil {
		return err
	}
	return e.runCompensation(ctx, exec)
}

// runCompensation unwinds the persisted compensation stack: last
// completed step first. Each entry is removed and persisted as soon as
// its action succeeds, so a crash mid-unwind resumes with exactly the
// remaining entries.
//
// An action that still fails after its bounded retries stops the
// unwind; the execution ends COMPENSATED_PARTIAL with the failed entry
// and everything beneath it still on the stack for inspection.
func (e *engineImpl) runCompensation(ctx context.Context, exec *api.Execution) error {
	// The unwind is often triggered by cancelling ctx. Compensating
	// actions must still run to completion, so detach from the
	// cancellation while keeping ctx's values.
	ctx = context.WithoutCancel(ctx)

	for len(exec.Compensations) > 0 {
		entry := exec.Compensations[len(exec.Compensations)-1]

		binding, ok := e.executors.get(entry.Executor)
		if !ok || binding.compensator == nil {
			err := e.failCompensation(ctx, exec, &api.CompensationError{
				StepID:   entry.StepID,
				Executor: entry.Executor,
				Err:      fmt.Errorf("compensator not registered"),
			})
			if err != nil {
				return err
			}
			return exec.Err
		}

		var lastErr error
		for attempt := 1; attempt <= compensationMaxAttempts; attempt++ {
			_, lastErr = binding.compensator.Execute(ctx, entry.Input)
			e.observer.OnCompensation(ctx, exec, entry.StepID, lastErr)
			if lastErr == nil {
				break
			}
		}
		if lastErr != nil {
			err := e.failCompensation(ctx, exec, &api.CompensationError{
				StepID:   entry.StepID,
				Executor: entry.Executor,
				Attempts: compensationMaxAttempts,
				Err:      lastErr,
			})
			if err != nil {
				return err
			}
			return exec.Err
		}

		exec.Compensations = exec.Compensations[:len(exec.Compensations)-1]
		if err := e.executions.UpdateExecution(exec); err != nil {
			return err
		}
	}

	exec.Status = api.StatusCompensated
	if err := e.executions.UpdateExecution(exec); err != nil {
		return err
	}
	e.observer.OnExecutionFinished(ctx, exec, exec.Err)
	return nil
}

// failCompensation records a partial unwind. The returned error is a
// persistence error only; the compensation failure itself lands in
// exec.Err.
func (e *engineImpl) failCompensation(ctx context.Context, exec *api.Execution, cerr *api.CompensationError) error {
	if exec.Err != nil {
		exec.Err = fmt.Errorf("%w (while compensating: %w)", exec.Err, cerr)
	} else {
		exec.Err = cerr
	}
	exec.Status = api.StatusCompensatedPartial
	if err := e.executions.UpdateExecution(exec); err != nil {
		return err
	}
	e.observer.OnExecutionFinished(ctx, exec, exec.Err)
	return nil
}
