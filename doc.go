// Package sagaflow provides an embeddable event router and saga
// orchestrator for Go services.
//
// Producers publish events to a Router, which matches them against a
// fixed, content-based route table and fans each event out to queue,
// workflow, and log targets. Deliveries are independent per target,
// retried with exponential backoff, and dead-lettered after the retry
// budget is exhausted.
//
// Workflow targets start saga executions on an Engine. A workflow is a
// static directed graph of Task, Parallel, Choice, Pass, and Terminal
// steps carried forward by an accumulating context document. Completed
// side-effecting steps are recorded on a compensation stack; on failure
// the engine unwinds the stack in reverse order so the saga's external
// effects are rolled back.
//
// # Core Concepts
//
//  1. Router
//  2. Engine
//  3. WorkflowBuilder
//  4. TaskExecutor
//  5. Worker
//  6. LocalRuntime
//
// # Router
//
// The Router owns the route table. A Route pairs a Predicate (event
// types, optional sources, optional payload field constraints) with one
// or more Targets. Publish returns once the event is durably journaled,
// not once consumers have processed it.
//
// # Engine
//
// The Engine stores workflow definitions, persists execution state
// before every transition, and exposes Start, Advance, Cancel, and
// recovery APIs. Executions are resumable: after a crash, Advance
// replays recorded step results instead of re-invoking executors.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// # WorkflowBuilder
//
// WorkflowBuilder provides the declarative API used to define the step
// graph:
//
//	def := sagaflow.NewWorkflow("claim-processing").
//	    Task("validate", "claims.validate", "settle").
//	    Task("settle", "claims.settle", "done",
//	        sagaflow.WithTimeout(5*time.Second)).
//	    Succeed("done").
//	    Definition()
//
// # Worker
//
// A Worker consumes one named queue and dispatches events to handlers
// registered per event type. Queue delivery is at-least-once, so
// handlers must tolerate replays.
//
// # LocalRuntime
//
// LocalRuntime wires an in-memory Router, Engine, queue, and workers
// into a single-process runtime for development and tests.
package sagaflow
