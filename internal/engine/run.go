package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjosef/sagaflow/pkg/api"
)

// run drives an execution forward from its persisted current step
// until it reaches a Terminal step or fails. Execution is strictly
// sequential; the only fork/join point is a Parallel step.
//
// The current step and context are persisted before every transition,
// so a crash at any point leaves the execution resumable via Advance.
func (e *engineImpl) run(ctx context.Context, def api.WorkflowDefinition, exec *api.Execution) (*api.Execution, error) {
	for {
		// Cancellation is honored only between steps, never mid-task.
		select {
		case <-ctx.Done():
			ferr := e.finalizeFailure(ctx, exec, ctx.Err(), api.StatusCancelled)
			if ferr != nil {
				return exec, ferr
			}
			return exec, ctx.Err()
		default:
		}

		step, ok := def.Step(exec.CurrentStep)
		if !ok {
			err := fmt.Errorf("workflow %q: current step %q not in definition", def.ID, exec.CurrentStep)
			return exec, e.finalizeFailure(ctx, exec, err, api.StatusFailed)
		}

		e.observer.OnStepStart(ctx, exec, step.ID, step.Kind)
		started := time.Now()

		switch step.Kind {
		case api.StepTask:
			next, err := e.runTask(ctx, exec, step)
			e.observer.OnStepCompleted(ctx, exec, step.ID, step.Kind, err, time.Since(started))
			if err != nil {
				if step.Catch != "" {
					// Recoverable: surface the failure to the catch
					// path through the context, then take the edge.
					exec.Context.Set("error", map[string]any{
						"step":    step.ID,
						"message": err.Error(),
					})
					if perr := e.transition(exec, step.Catch); perr != nil {
						return exec, perr
					}
					continue
				}
				return exec, e.finalizeFailure(ctx, exec, err, api.StatusFailed)
			}
			if perr := e.transition(exec, next); perr != nil {
				return exec, perr
			}

		case api.StepParallel:
			next, err := e.runParallel(ctx, def, exec, step)
			e.observer.OnStepCompleted(ctx, exec, step.ID, step.Kind, err, time.Since(started))
			if err != nil {
				return exec, e.finalizeFailure(ctx, exec, err, api.StatusFailed)
			}
			if perr := e.transition(exec, next); perr != nil {
				return exec, perr
			}

		case api.StepChoice:
			next := e.runChoice(exec, step)
			e.observer.OnStepCompleted(ctx, exec, step.ID, step.Kind, nil, time.Since(started))
			if perr := e.transition(exec, next); perr != nil {
				return exec, perr
			}

		case api.StepPass:
			e.runPass(exec, step)
			e.observer.OnStepCompleted(ctx, exec, step.ID, step.Kind, nil, time.Since(started))
			if perr := e.transition(exec, step.Next); perr != nil {
				return exec, perr
			}

		case api.StepTerminal:
			err := e.runTerminal(ctx, exec, step)
			e.observer.OnStepCompleted(ctx, exec, step.ID, step.Kind, err, time.Since(started))
			return exec, err

		default:
			err := fmt.Errorf("workflow %q: step %q has unknown kind %q", def.ID, step.ID, step.Kind)
			return exec, e.finalizeFailure(ctx, exec, err, api.StatusFailed)
		}
	}
}

// transition persists the move to the next step. Nothing else may
// mutate the execution between a step completing and this write.
func (e *engineImpl) transition(exec *api.Execution, next string) error {
	exec.CurrentStep = next
	return e.executions.UpdateExecution(exec)
}

// runTask invokes the bound executor with a context projection and
// merges the result. A step whose result is already recorded is
// complete: the recorded transition is replayed without re-invoking
// the executor, which is what makes Advance idempotent across crashes.
func (e *engineImpl) runTask(ctx context.Context, exec *api.Execution, step api.Step) (string, error) {
	if _, done := exec.StepResults[step.ID]; done {
		return step.Next, nil
	}

	binding, ok := e.executors.get(step.Executor)
	if !ok {
		return "", &api.TaskError{
			StepID:   step.ID,
			Executor: step.Executor,
			Err:      fmt.Errorf("executor not registered"),
		}
	}

	input := e.projectInput(exec, step)

	stepCtx := ctx
	var cancel context.CancelFunc
	if step.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	out, err := binding.executor.Execute(stepCtx, input)
	if err != nil {
		return "", &api.TaskError{
			StepID:   step.ID,
			Executor: step.Executor,
			Timeout:  errors.Is(stepCtx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
	}

	merged := out
	if step.ResultKey != "" {
		merged = api.Document{step.ResultKey: map[string]any(out)}
	}
	if merged == nil {
		merged = api.Document{}
	}
	exec.Context.Merge(merged)
	exec.StepResults[step.ID] = merged

	// Only tasks with a compensating action are side-effecting; record
	// the exact input so the rollback sees what the step saw.
	if binding.compensator != nil {
		exec.Compensations = append(exec.Compensations, api.CompensationEntry{
			StepID:   step.ID,
			Executor: step.Executor,
			Input:    input,
		})
	}

	return step.Next, nil
}

// projectInput builds the document handed to an executor: the declared
// paths (or the whole context), plus execution metadata executors use
// as their idempotency key.
func (e *engineImpl) projectInput(exec *api.Execution, step api.Step) api.Document {
	var input api.Document
	if len(step.InputPaths) == 0 {
		input = exec.Context.Clone()
	} else {
		input = api.Document{}
		for _, path := range step.InputPaths {
			if v, ok := exec.Context.Get(path); ok {
				input.Set(path, v)
			}
		}
		input = input.Clone()
	}
	input.Set("meta.executionId", exec.ID)
	input.Set("meta.stepId", step.ID)
	return input
}

// branchOutcome is what one Parallel branch reports back to its parent.
type branchOutcome struct {
	key   string
	child *api.Execution
	err   error
}

// runParallel forks one child execution per branch over a copy of the
// parent context, waits for all of them to reach a Terminal step, and
// merges each branch's final context under its branch key.
//
// Any branch failure fails the whole step: the first failure cancels
// the remaining branches (between their steps), already-succeeded
// siblings are compensated, and the failure propagates to the parent.
func (e *engineImpl) runParallel(ctx context.Context, def api.WorkflowDefinition, exec *api.Execution, step api.Step) (string, error) {
	if _, done := exec.StepResults[step.ID]; done {
		return step.Next, nil
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan branchOutcome, len(step.Branches))
	for _, br := range step.Branches {
		// Child ids derive from the parent id and branch key, so a
		// replay after a crash re-forks the same ids and executors see
		// a stable "meta.executionId" idempotency key.
		child := &api.Execution{
			ID:              exec.ID + "/" + br.Key,
			WorkflowID:      exec.WorkflowID,
			WorkflowVersion: exec.WorkflowVersion,
			ParentID:        exec.ID,
			BranchKey:       br.Key,
			Status:          api.StatusRunning,
			CurrentStep:     br.Entry,
			Context:         exec.Context.Clone(),
			StepResults:     make(map[string]api.Document),
			TriggerID:       exec.TriggerID,
			CorrelationID:   exec.CorrelationID,
		}
		if err := e.executions.SaveExecution(child); err != nil {
			cancel()
			return "", err
		}

		go func(key string, child *api.Execution) {
			res, err := e.run(branchCtx, def, child)
			outcomes <- branchOutcome{key: key, child: res, err: err}
		}(br.Key, child)
	}

	// Join: wait for the slowest branch. Completion order is kept so
	// rolled-up compensation entries stay in true completion order.
	completed := make([]branchOutcome, 0, len(step.Branches))
	var firstFailure error
	for range step.Branches {
		out := <-outcomes
		completed = append(completed, out)
		if out.child.Status != api.StatusSucceeded && firstFailure == nil {
			firstFailure = out.err
			if firstFailure == nil {
				firstFailure = out.child.Err
			}
			cancel() // fail fast: stop siblings between their steps
		}
	}

	if firstFailure != nil || anyBranchNotSucceeded(completed) {
		// Compensate siblings that did succeed, then propagate.
		for _, out := range completed {
			if out.child.Status == api.StatusSucceeded && len(out.child.Compensations) > 0 {
				out.child.Status = api.StatusCompensating
				_ = e.executions.UpdateExecution(out.child)
				_ = e.runCompensation(ctx, out.child)
			}
		}
		if firstFailure == nil {
			firstFailure = errors.New("branch did not succeed")
		}
		return "", &api.TaskError{
			StepID: step.ID,
			Err:    fmt.Errorf("parallel branch failed: %w", firstFailure),
		}
	}

	merged := api.Document{}
	for _, out := range completed {
		merged[out.key] = map[string]any(out.child.Context.Clone())
	}
	exec.Context.Merge(merged)
	exec.StepResults[step.ID] = merged

	// Roll branch compensation stacks into the parent so a later
	// failure unwinds branch side effects too.
	for _, out := range completed {
		exec.Compensations = append(exec.Compensations, out.child.Compensations...)
	}

	return step.Next, nil
}

func anyBranchNotSucceeded(outcomes []branchOutcome) bool {
	for _, out := range outcomes {
		if out.child.Status != api.StatusSucceeded {
			return true
		}
	}
	return false
}

// runChoice evaluates rules in declaration order and returns the first
// matching edge, falling back to the mandatory default. Conditions are
// pure, so re-evaluating after a crash yields the same transition.
func (e *engineImpl) runChoice(exec *api.Execution, step api.Step) string {
	for _, rule := range step.Choices {
		if rule.When.Evaluate(exec.Context) {
			return rule.Next
		}
	}
	return step.Default
}

// runPass applies the declared copies and static sets to the context.
// The transform is deterministic, so replaying it is harmless.
func (e *engineImpl) runPass(exec *api.Execution, step api.Step) {
	for to, from := range step.Copy {
		if v, ok := exec.Context.Get(from); ok {
			exec.Context.Set(to, v)
		}
	}
	for path, v := range step.Set {
		exec.Context.Set(path, v)
	}
}

// runTerminal ends the execution. Failure terminals unwind the
// compensation stack first. Either way, a declared completion event is
// published afterwards; that event, not a response to the original
// caller, is how the outcome is observed.
func (e *engineImpl) runTerminal(ctx context.Context, exec *api.Execution, step api.Step) error {
	if step.Fail {
		reason := step.Reason
		if reason == "" {
			reason = "workflow failed"
		}
		if err := e.finalizeFailure(ctx, exec, errors.New(reason), api.StatusFailed); err != nil {
			return err
		}
	} else {
		exec.Status = api.StatusSucceeded
		if err := e.executions.UpdateExecution(exec); err != nil {
			return err
		}
		e.observer.OnExecutionFinished(ctx, exec, nil)
	}

	if step.Emit != nil {
		if err := e.emit(ctx, exec, step.Emit); err != nil {
			return err
		}
	}
	return nil
}

// emit builds and publishes the completion event a Terminal step
// declares, correlating it with the execution's trigger.
func (e *engineImpl) emit(ctx context.Context, exec *api.Execution, spec *api.EmitSpec) error {
	payload := api.Document{}
	for to, from := range spec.Fields {
		if v, ok := exec.Context.Get(from); ok {
			payload.Set(to, v)
		}
	}
	for path, v := range spec.Static {
		payload.Set(path, v)
	}

	ev := api.NewEvent(spec.Source, spec.Type, payload).WithCorrelation(exec.CorrelationID)
	if _, err := e.publish(ctx, ev); err != nil {
		return fmt.Errorf("emit %s: %w", spec.Type, err)
	}
	return nil
}
