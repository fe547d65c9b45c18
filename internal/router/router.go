package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/internal/taskqueue"
	"github.com/rjosef/sagaflow/pkg/api"
)

// WorkflowStarter starts a new execution of the given workflow with
// the event as trigger. It is a function, not an engine reference, so
// the router stays decoupled from what a workflow target actually does.
type WorkflowStarter func(ctx context.Context, workflowID string, trigger api.Event) error

// Config describes how to construct a Router. Zero-value fields fall
// back to in-memory defaults.
type Config struct {
	Queue       taskqueue.Queue
	Starter     WorkflowStarter
	Journal     persistence.EventStore
	Log         LogSink
	DeadLetters DeadLetterSink
	Policy      DeliveryPolicy
	Observer    api.Observer
}

// Router matches published events against a deploy-time-fixed route
// table and fans out to targets. It owns no consumer logic: a match
// only hands the event to an independent delivery, so what each target
// does is invisible here.
type Router struct {
	mu           sync.RWMutex
	routes       []api.Route
	fingerprints map[string]bool

	queue       taskqueue.Queue
	starter     WorkflowStarter
	journal     persistence.EventStore
	log         LogSink
	deadLetters DeadLetterSink
	policy      DeliveryPolicy
	observer    api.Observer

	wg sync.WaitGroup
}

// New creates a Router from the given config.
func New(cfg Config) *Router {
	if cfg.Queue == nil {
		cfg.Queue = taskqueue.NewInMemoryQueue(0)
	}
	if cfg.Journal == nil {
		cfg.Journal = persistence.NewInMemoryEventStore()
	}
	if cfg.Log == nil {
		cfg.Log = NewInMemoryLogSink()
	}
	if cfg.DeadLetters == nil {
		cfg.DeadLetters = NewInMemoryDeadLetterSink()
	}
	if cfg.Policy == (DeliveryPolicy{}) {
		cfg.Policy = DefaultDeliveryPolicy()
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Starter == nil {
		cfg.Starter = func(ctx context.Context, workflowID string, trigger api.Event) error {
			return &api.UnknownWorkflowError{WorkflowID: workflowID}
		}
	}
	return &Router{
		fingerprints: make(map[string]bool),
		queue:        cfg.Queue,
		starter:      cfg.Starter,
		journal:      cfg.Journal,
		log:          cfg.Log,
		deadLetters:  cfg.DeadLetters,
		policy:       cfg.Policy.normalized(),
		observer:     cfg.Observer,
	}
}

// RegisterRoute adds a route to the table. Registering the identical
// predicate+targets tuple twice returns DuplicateRouteError; the first
// registration stays in effect.
func (r *Router) RegisterRoute(route api.Route) error {
	if err := route.Validate(); err != nil {
		return err
	}

	fp := route.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fingerprints[fp] {
		return &api.DuplicateRouteError{Fingerprint: fp}
	}
	r.fingerprints[fp] = true
	r.routes = append(r.routes, route)
	return nil
}

// Routes returns a snapshot of the route table.
func (r *Router) Routes() []api.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]api.Route(nil), r.routes...)
}

// Publish validates and journals the event, then kicks off one
// independent delivery per matching (route, target) pair. It returns
// once the event is durably accepted, not once targets have processed
// it; slow consumers queue rather than block the producer.
//
// The returned event carries the assigned ID, timestamp, and
// correlation id.
func (r *Router) Publish(ctx context.Context, ev api.Event) (api.Event, error) {
	if err := ev.Validate(); err != nil {
		return api.Event{}, err
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = ev.ID
	}
	ev.Payload = ev.Payload.Clone()

	if err := r.journal.AppendEvent(ctx, ev); err != nil {
		return api.Event{}, err
	}

	r.mu.RLock()
	routes := append([]api.Route(nil), r.routes...)
	r.mu.RUnlock()

	matched := 0
	// Deliveries outlive the publish call: detach from the caller's
	// cancellation but keep its values.
	deliveryCtx := context.WithoutCancel(ctx)

	for _, route := range routes {
		if !route.Match.Matches(ev) {
			continue
		}
		matched++
		for _, target := range route.Targets {
			route, target := route, target
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.deliver(deliveryCtx, route, target, ev)
			}()
		}
	}

	r.observer.OnEventPublished(ctx, ev, matched)
	return ev, nil
}

// deliver runs the bounded retry loop for one (event, target) pair.
// Failure of this delivery never affects any other target.
func (r *Router) deliver(ctx context.Context, route api.Route, target api.Target, ev api.Event) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := r.attempt(ctx, target, ev)
		if err == nil {
			r.observer.OnDeliverySucceeded(ctx, ev, route.Name, target, attempt)
			_ = r.journal.RecordDelivery(ctx, persistence.DeliveryRecord{
				EventID: ev.ID,
				Route:   route.Name,
				Target:  target,
				Status:  persistence.DeliveryDelivered,
				Attempt: attempt,
				At:      time.Now().UTC(),
			})
			return
		}

		lastErr = err
		r.observer.OnDeliveryFailed(ctx, ev, route.Name, target, attempt, err)

		// A dangling workflow reference is configuration, not a
		// transient fault; retrying cannot fix it.
		var unknown *api.UnknownWorkflowError
		if errors.As(err, &unknown) {
			break
		}

		if attempt < r.policy.MaxAttempts {
			if backoff := r.policy.backoff(attempt); backoff > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
			}
		}
	}

	r.observer.OnDeadLetter(ctx, ev, route.Name, target, lastErr)
	_ = r.journal.RecordDelivery(ctx, persistence.DeliveryRecord{
		EventID: ev.ID,
		Route:   route.Name,
		Target:  target,
		Status:  persistence.DeliveryDeadLettered,
		Attempt: r.policy.MaxAttempts,
		Error:   lastErr.Error(),
		At:      time.Now().UTC(),
	})
	_ = r.deadLetters.Add(ctx, DeadLetter{
		Event:    ev,
		Route:    route.Name,
		Target:   target,
		Attempts: r.policy.MaxAttempts,
		Error:    lastErr.Error(),
		At:       time.Now().UTC(),
	})
}

// attempt performs a single delivery to one target. Each target gets
// its own payload copy; consumers never share mutable state through
// the event.
func (r *Router) attempt(ctx context.Context, target api.Target, ev api.Event) error {
	ev.Payload = ev.Payload.Clone()

	switch target.Kind {
	case api.TargetQueue:
		return r.queue.Enqueue(ctx, taskqueue.Task{
			ID:         uuid.NewString(),
			Queue:      target.Queue,
			Event:      ev,
			EnqueuedAt: time.Now().UTC(),
		})
	case api.TargetWorkflow:
		return r.starter(ctx, target.Workflow, ev)
	case api.TargetLog:
		return r.log.Append(ctx, ev)
	default:
		return errors.New("unknown target kind: " + string(target.Kind))
	}
}

// DeadLetters returns the current contents of the dead-letter sink.
func (r *Router) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	return r.deadLetters.List(ctx)
}

// Redeliver retries one dead letter synchronously with a single fresh
// attempt cycle. On success the entry is removed from the sink.
//
// The dead letter references its route by name. The table is rebuilt
// from scratch on every startup, so an entry from a durable sink may
// name a route that no longer exists; redelivering it returns
// UnknownRouteError.
func (r *Router) Redeliver(ctx context.Context, dl DeadLetter) error {
	if !r.hasRoute(dl.Route) {
		return &api.UnknownRouteError{Name: dl.Route}
	}
	if err := r.attempt(ctx, dl.Target, dl.Event); err != nil {
		return err
	}
	r.observer.OnDeliverySucceeded(ctx, dl.Event, dl.Route, dl.Target, dl.Attempts+1)
	_ = r.journal.RecordDelivery(ctx, persistence.DeliveryRecord{
		EventID: dl.Event.ID,
		Route:   dl.Route,
		Target:  dl.Target,
		Status:  persistence.DeliveryDelivered,
		Attempt: dl.Attempts + 1,
		At:      time.Now().UTC(),
	})
	return r.deadLetters.Remove(ctx, dl.Event.ID, dl.Target)
}

func (r *Router) hasRoute(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.routes {
		if route.Name == name {
			return true
		}
	}
	return false
}

// Drain blocks until all in-flight deliveries have finished. Intended
// for shutdown and tests.
func (r *Router) Drain() {
	r.wg.Wait()
}
