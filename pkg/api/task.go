package api

import "context"

// TaskExecutor wraps one externally implemented unit of work so the
// orchestrator can invoke it without knowing its internals. The input
// is a projection of the execution context; the returned document is
// merged back into it.
//
// Executors are invoked at-least-once: the engine may re-invoke after
// a crash that hit between execution and persistence. Implementations
// must therefore be idempotent per (executionID, stepID); the ids are
// available on the context under "meta.executionId" / "meta.stepId".
type TaskExecutor interface {
	Execute(ctx context.Context, input Document) (Document, error)
}

// TaskFunc adapts a plain function to TaskExecutor.
type TaskFunc func(ctx context.Context, input Document) (Document, error)

// Execute implements TaskExecutor.
func (f TaskFunc) Execute(ctx context.Context, input Document) (Document, error) {
	return f(ctx, input)
}
