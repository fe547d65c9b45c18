package sagaflow

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/rjosef/sagaflow/internal/engine"
	"github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/internal/router"
	"github.com/rjosef/sagaflow/internal/taskqueue"
	"github.com/rjosef/sagaflow/pkg/api"
	workerpkg "github.com/rjosef/sagaflow/pkg/worker"
)

// Queue re-exports the task queue interface implemented by the
// in-memory, SQLite, and Postgres backends.
type Queue = taskqueue.Queue

// Worker re-exports the queue consumer type.
type Worker = workerpkg.Worker

// WorkerConfig re-exports the worker retry configuration.
type WorkerConfig = workerpkg.Config

// LocalRuntime bundles an in-memory Router, Engine, and task queue
// into a single-process runtime, with the two sides wired together:
// workflow route targets start executions on the Engine, and events
// emitted by Terminal steps flow back through the Router.
//
// Typical usage:
//
//	rt := sagaflow.NewLocalRuntime()
//	sagaflow.NewWorkflow("onboarding"). ... .MustRegister(rt.Engine)
//	_ = sagaflow.NewRoute("submissions").
//	    OnTypes("Customer.Submitted").
//	    To(sagaflow.WorkflowTarget("onboarding")).
//	    Register(rt.Router)
//
//	w := rt.NewWorker("notifications")
//	w.Handle("Customer.Accepted", notifyHandler)
//	_ = rt.StartWorker(ctx, w)
//
//	_, _ = rt.Router.Publish(ctx, sagaflow.NewEvent("portal", "Customer.Submitted", payload))
//	...
//	rt.Stop()
type LocalRuntime struct {
	Router *Router
	Engine Engine

	// Queue is the in-memory task queue shared by the Router and any
	// workers created through NewWorker.
	Queue taskqueue.Queue

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRuntime constructs a fully in-memory runtime. Intended for
// local development, tests, and simple single-process deployments.
func NewLocalRuntime() *LocalRuntime {
	return NewLocalRuntimeWithObserver(nil)
}

// NewLocalRuntimeWithObserver is NewLocalRuntime with the given
// Observer attached to both the Router and the Engine.
func NewLocalRuntimeWithObserver(obs Observer) *LocalRuntime {
	queue := taskqueue.NewInMemoryQueue(0)

	// The router and engine reference each other through closures, so
	// neither package depends on the other.
	var rt *router.Router
	mem := persistence.NewInMemoryStore()
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Workflows: mem, Executions: mem},
		Publisher: func(ctx context.Context, ev api.Event) (api.Event, error) {
			return rt.Publish(ctx, ev)
		},
		Observer: obs,
	})
	rt = router.New(router.Config{
		Queue: queue,
		Starter: func(ctx context.Context, workflowID string, trigger api.Event) error {
			_, err := eng.Start(ctx, workflowID, trigger)
			return err
		},
		Observer: obs,
	})

	return &LocalRuntime{
		Router: rt,
		Engine: eng,
		Queue:  queue,
	}
}

// NewWorker creates a Worker bound to the runtime's queue under the
// given queue name, with single-attempt processing.
func (r *LocalRuntime) NewWorker(queueName string) *Worker {
	return workerpkg.New(r.Queue, queueName)
}

// NewWorkerWithConfig creates a Worker with the given retry config.
func (r *LocalRuntime) NewWorkerWithConfig(queueName string, cfg WorkerConfig) *Worker {
	return workerpkg.NewWithConfig(r.Queue, queueName, cfg)
}

// StartWorker runs the worker's consume loop in a goroutine until
// Stop is called. Handler failures are logged and do not stop the
// loop.
func (r *LocalRuntime) StartWorker(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel == nil {
		r.runCtx, r.cancel = context.WithCancel(ctx)
	}
	r.running = true

	r.wg.Add(1)
	go func(ctx context.Context) {
		defer r.wg.Done()

		err := w.Run(ctx, func(ev Event, err error) {
			log.Printf("sagaflow: worker error for event %s (%s): %v", ev.ID, ev.Type, err)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sagaflow: worker stopped: %v", err)
		}
	}(r.runCtx)

	return nil
}

// Stop drains in-flight router deliveries, cancels all workers started
// by StartWorker, and waits for them to exit.
func (r *LocalRuntime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	r.Router.Drain()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
