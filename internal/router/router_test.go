package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rjosef/sagaflow/internal/persistence"
	"github.com/rjosef/sagaflow/internal/taskqueue"
	"github.com/rjosef/sagaflow/pkg/api"
)

// scriptedStarter fails a fixed number of times per workflow before
// succeeding, recording every start it accepted.
type scriptedStarter struct {
	mu        sync.Mutex
	failures  map[string]int
	failWith  error
	started   []string
	byTrigger []api.Event
}

func newScriptedStarter() *scriptedStarter {
	return &scriptedStarter{
		failures: make(map[string]int),
		failWith: errors.New("transient start failure"),
	}
}

func (s *scriptedStarter) start(ctx context.Context, workflowID string, trigger api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures[workflowID] > 0 {
		s.failures[workflowID]--
		return s.failWith
	}
	s.started = append(s.started, workflowID)
	s.byTrigger = append(s.byTrigger, trigger)
	return nil
}

func (s *scriptedStarter) startedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

func immediateRetries(attempts int) DeliveryPolicy {
	return DeliveryPolicy{MaxAttempts: attempts, BackoffMultiplier: 1}
}

func submittedEvent() api.Event {
	return api.NewEvent("portal", "Customer.Submitted", api.Document{
		"customer": map[string]any{"id": "c-1", "risk": "low"},
	})
}

func TestRouter_PublishFansOutPerTarget(t *testing.T) {
	queue := taskqueue.NewInMemoryQueue(0)
	logSink := NewInMemoryLogSink()
	starter := newScriptedStarter()

	r := New(Config{
		Queue:   queue,
		Log:     logSink,
		Starter: starter.start,
		Policy:  immediateRetries(3),
	})

	route := api.Route{
		Name:  "submissions",
		Match: api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{
			api.QueueTarget("intake"),
			api.WorkflowTarget("onboarding"),
			api.LogTarget(),
		},
	}
	if err := r.RegisterRoute(route); err != nil {
		t.Fatalf("RegisterRoute: %v", err)
	}

	ev, err := r.Publish(context.Background(), submittedEvent())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	if queue.Len("intake") != 1 {
		t.Fatalf("queue deliveries = %d", queue.Len("intake"))
	}
	if got := starter.startedIDs(); len(got) != 1 || got[0] != "onboarding" {
		t.Fatalf("workflow starts = %v", got)
	}
	if logged := logSink.Events(); len(logged) != 1 || logged[0].ID != ev.ID {
		t.Fatalf("log sink = %+v", logged)
	}
}

func TestRouter_PublishAssignsIdentityAndCorrelation(t *testing.T) {
	r := New(Config{})

	ev, err := r.Publish(context.Background(), api.Event{
		Source:  "portal",
		Type:    "Customer.Submitted",
		Payload: api.Document{},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ev.ID == "" || ev.OccurredAt.IsZero() {
		t.Fatalf("identity not assigned: %+v", ev)
	}
	if ev.CorrelationID != ev.ID {
		t.Fatalf("correlation should default to event id, got %q", ev.CorrelationID)
	}

	withCorr, err := r.Publish(context.Background(), api.Event{
		Source: "portal", Type: "Customer.Submitted",
		CorrelationID: "corr-7", Payload: api.Document{},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if withCorr.CorrelationID != "corr-7" {
		t.Fatalf("existing correlation overwritten: %q", withCorr.CorrelationID)
	}
}

func TestRouter_PublishRejectsInvalidEvent(t *testing.T) {
	r := New(Config{})

	var invErr *api.InvalidEventError
	_, err := r.Publish(context.Background(), api.Event{Source: "portal"})
	if !errors.As(err, &invErr) {
		t.Fatalf("missing type: got %v", err)
	}
	_, err = r.Publish(context.Background(), api.Event{Type: "T"})
	if !errors.As(err, &invErr) {
		t.Fatalf("missing source: got %v", err)
	}
}

func TestRouter_DuplicateRouteRejected(t *testing.T) {
	r := New(Config{})

	route := api.Route{
		Name:    "one",
		Match:   api.Predicate{Types: []string{"A", "B"}},
		Targets: []api.Target{api.QueueTarget("q")},
	}
	if err := r.RegisterRoute(route); err != nil {
		t.Fatalf("first registration: %v", err)
	}

	// Same predicate and targets under a different name is still the
	// same registration.
	dup := route
	dup.Name = "two"
	dup.Match.Types = []string{"B", "A"}

	var dupErr *api.DuplicateRouteError
	if err := r.RegisterRoute(dup); !errors.As(err, &dupErr) {
		t.Fatalf("duplicate registration: got %v", err)
	}
	if got := len(r.Routes()); got != 1 {
		t.Fatalf("route table size = %d", got)
	}

	// Different targets are a different route.
	other := route
	other.Targets = []api.Target{api.QueueTarget("other")}
	if err := r.RegisterRoute(other); err != nil {
		t.Fatalf("distinct route rejected: %v", err)
	}
}

func TestRouter_NoMatchNoDelivery(t *testing.T) {
	queue := taskqueue.NewInMemoryQueue(0)
	r := New(Config{Queue: queue})

	_ = mustRegister(t, r, api.Route{
		Name:    "accepted-only",
		Match:   api.Predicate{Types: []string{"Customer.Accepted"}},
		Targets: []api.Target{api.QueueTarget("notify")},
	})

	if _, err := r.Publish(context.Background(), submittedEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	if queue.Len("notify") != 0 {
		t.Fatal("non-matching event was delivered")
	}
}

func TestRouter_RetryThenSuccess(t *testing.T) {
	starter := newScriptedStarter()
	starter.failures["onboarding"] = 2

	journal := persistence.NewInMemoryEventStore()
	r := New(Config{
		Starter: starter.start,
		Journal: journal,
		Policy:  immediateRetries(3),
	})
	_ = mustRegister(t, r, api.Route{
		Name:    "submissions",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("onboarding")},
	})

	ev, err := r.Publish(context.Background(), submittedEvent())
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	if got := starter.startedIDs(); len(got) != 1 {
		t.Fatalf("starts after retries = %v", got)
	}
	if dls, _ := r.DeadLetters(context.Background()); len(dls) != 0 {
		t.Fatalf("unexpected dead letters: %+v", dls)
	}

	recs, _ := journal.ListDeliveries(context.Background(), ev.ID)
	if len(recs) != 1 || recs[0].Status != persistence.DeliveryDelivered || recs[0].Attempt != 3 {
		t.Fatalf("delivery audit = %+v", recs)
	}
}

func TestRouter_DeadLetterAfterExhaustion(t *testing.T) {
	starter := newScriptedStarter()
	starter.failures["onboarding"] = 99

	journal := persistence.NewInMemoryEventStore()
	r := New(Config{
		Starter: starter.start,
		Journal: journal,
		Policy:  immediateRetries(3),
	})
	_ = mustRegister(t, r, api.Route{
		Name:    "submissions",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("onboarding")},
	})

	ev, err := r.Publish(context.Background(), submittedEvent())
	if err != nil {
		t.Fatalf("Publish should succeed regardless of delivery outcome: %v", err)
	}
	r.Drain()

	dls, err := r.DeadLetters(context.Background())
	if err != nil || len(dls) != 1 {
		t.Fatalf("dead letters = %+v, %v", dls, err)
	}
	dl := dls[0]
	if dl.Event.ID != ev.ID || dl.Route != "submissions" || dl.Attempts != 3 {
		t.Fatalf("dead letter = %+v", dl)
	}
	if dl.Error == "" {
		t.Fatal("dead letter should carry the final error")
	}

	recs, _ := journal.ListDeliveries(context.Background(), ev.ID)
	if len(recs) != 1 || recs[0].Status != persistence.DeliveryDeadLettered {
		t.Fatalf("delivery audit = %+v", recs)
	}
}

func TestRouter_TargetsFailIndependently(t *testing.T) {
	queue := taskqueue.NewInMemoryQueue(0)
	starter := newScriptedStarter()
	starter.failures["onboarding"] = 99

	r := New(Config{
		Queue:   queue,
		Starter: starter.start,
		Policy:  immediateRetries(2),
	})
	_ = mustRegister(t, r, api.Route{
		Name:  "submissions",
		Match: api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{
			api.QueueTarget("intake"),
			api.WorkflowTarget("onboarding"),
		},
	})

	if _, err := r.Publish(context.Background(), submittedEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	// The healthy queue target delivered despite the broken sibling.
	if queue.Len("intake") != 1 {
		t.Fatalf("healthy target deliveries = %d", queue.Len("intake"))
	}
	dls, _ := r.DeadLetters(context.Background())
	if len(dls) != 1 || dls[0].Target.Kind != api.TargetWorkflow {
		t.Fatalf("dead letters = %+v", dls)
	}
}

func TestRouter_UnknownWorkflowSkipsRetries(t *testing.T) {
	attempts := 0
	var mu sync.Mutex
	starter := func(ctx context.Context, workflowID string, trigger api.Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return &api.UnknownWorkflowError{WorkflowID: workflowID}
	}

	r := New(Config{
		Starter: starter,
		Policy:  immediateRetries(5),
	})
	_ = mustRegister(t, r, api.Route{
		Name:    "dangling",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("no-such-workflow")},
	})

	if _, err := r.Publish(context.Background(), submittedEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 1 {
		t.Fatalf("config errors should not be retried: %d attempts", got)
	}
	dls, _ := r.DeadLetters(context.Background())
	if len(dls) != 1 {
		t.Fatalf("dead letters = %+v", dls)
	}
}

func TestRouter_EachTargetGetsOwnPayloadCopy(t *testing.T) {
	var mu sync.Mutex
	var seen []api.Event
	starter := func(ctx context.Context, workflowID string, trigger api.Event) error {
		mu.Lock()
		defer mu.Unlock()
		// A misbehaving consumer mutates its event.
		trigger.Payload.Set("customer.id", "corrupted-"+workflowID)
		seen = append(seen, trigger)
		return nil
	}

	logSink := NewInMemoryLogSink()
	r := New(Config{Starter: starter, Log: logSink})
	_ = mustRegister(t, r, api.Route{
		Name:  "submissions",
		Match: api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{
			api.WorkflowTarget("wf-a"),
			api.WorkflowTarget("wf-b"),
			api.LogTarget(),
		},
	})

	if _, err := r.Publish(context.Background(), submittedEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	logged := logSink.Events()
	if len(logged) != 1 {
		t.Fatalf("logged = %d", len(logged))
	}
	if id, _ := logged[0].Payload.GetString("customer.id"); id != "c-1" {
		t.Fatalf("mutation leaked across targets: %q", id)
	}
}

func TestRouter_RedeliverRemovesDeadLetter(t *testing.T) {
	starter := newScriptedStarter()
	starter.failures["onboarding"] = 99

	r := New(Config{
		Starter: starter.start,
		Policy:  immediateRetries(2),
	})
	_ = mustRegister(t, r, api.Route{
		Name:    "submissions",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("onboarding")},
	})

	if _, err := r.Publish(context.Background(), submittedEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	dls, _ := r.DeadLetters(context.Background())
	if len(dls) != 1 {
		t.Fatalf("dead letters = %+v", dls)
	}

	// Still broken: redeliver fails and the entry stays.
	if err := r.Redeliver(context.Background(), dls[0]); err == nil {
		t.Fatal("Redeliver against broken target should fail")
	}
	if dls, _ = r.DeadLetters(context.Background()); len(dls) != 1 {
		t.Fatal("failed redelivery must keep the dead letter")
	}

	// Target recovers: redeliver succeeds and removes the entry.
	starter.mu.Lock()
	starter.failures["onboarding"] = 0
	starter.mu.Unlock()

	if err := r.Redeliver(context.Background(), dls[0]); err != nil {
		t.Fatalf("Redeliver after recovery: %v", err)
	}
	if dls, _ = r.DeadLetters(context.Background()); len(dls) != 0 {
		t.Fatalf("dead letter not removed: %+v", dls)
	}
	if got := starter.startedIDs(); len(got) != 1 {
		t.Fatalf("redelivered starts = %v", got)
	}
}

func TestRouter_RedeliverUnknownRouteRejected(t *testing.T) {
	starter := newScriptedStarter()
	starter.failures["onboarding"] = 99

	sink := NewInMemoryDeadLetterSink()
	r := New(Config{
		Starter:     starter.start,
		Policy:      immediateRetries(2),
		DeadLetters: sink,
	})
	_ = mustRegister(t, r, api.Route{
		Name:    "submissions",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("onboarding")},
	})

	if _, err := r.Publish(context.Background(), submittedEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	dls, _ := r.DeadLetters(context.Background())
	if len(dls) != 1 {
		t.Fatalf("dead letters = %+v", dls)
	}

	// Restart: the table is rebuilt without the route the dead letter
	// came from, but the sink carries over.
	starter.mu.Lock()
	starter.failures["onboarding"] = 0
	starter.mu.Unlock()
	rebuilt := New(Config{
		Starter:     starter.start,
		Policy:      immediateRetries(2),
		DeadLetters: sink,
	})

	err := rebuilt.Redeliver(context.Background(), dls[0])
	var unknown *api.UnknownRouteError
	if !errors.As(err, &unknown) || unknown.Name != "submissions" {
		t.Fatalf("err = %v", err)
	}
	// The entry stays and the target was never touched.
	if dls, _ = rebuilt.DeadLetters(context.Background()); len(dls) != 1 {
		t.Fatal("rejected redelivery must keep the dead letter")
	}
	if got := starter.startedIDs(); len(got) != 0 {
		t.Fatalf("starts = %v", got)
	}

	// Re-registering the route makes the same entry deliverable again.
	_ = mustRegister(t, rebuilt, api.Route{
		Name:    "submissions",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("onboarding")},
	})
	if err := rebuilt.Redeliver(context.Background(), dls[0]); err != nil {
		t.Fatalf("Redeliver after re-registration: %v", err)
	}
	if dls, _ = rebuilt.DeadLetters(context.Background()); len(dls) != 0 {
		t.Fatalf("dead letter not removed: %+v", dls)
	}
}

func TestRouter_ObserverSeesLifecycle(t *testing.T) {
	metrics := &api.BasicMetrics{}
	starter := newScriptedStarter()
	starter.failures["broken"] = 99

	r := New(Config{
		Starter:  starter.start,
		Policy:   immediateRetries(2),
		Observer: metrics,
	})
	_ = mustRegister(t, r, api.Route{
		Name:    "ok",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("onboarding")},
	})
	_ = mustRegister(t, r, api.Route{
		Name:    "broken",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("broken")},
	})

	if _, err := r.Publish(context.Background(), submittedEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	r.Drain()

	snap := metrics.Snapshot()
	if snap.EventsPublished != 1 {
		t.Fatalf("EventsPublished = %d", snap.EventsPublished)
	}
	if snap.DeliveriesSucceeded != 1 {
		t.Fatalf("DeliveriesSucceeded = %d", snap.DeliveriesSucceeded)
	}
	if snap.DeadLetters != 1 {
		t.Fatalf("DeadLetters = %d", snap.DeadLetters)
	}
	if snap.DeliveriesFailed != 2 {
		t.Fatalf("DeliveriesFailed = %d", snap.DeliveriesFailed)
	}
}

func TestRouter_PublishReturnsBeforeSlowConsumer(t *testing.T) {
	slow := func(ctx context.Context, workflowID string, trigger api.Event) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}
	r := New(Config{Starter: slow})
	_ = mustRegister(t, r, api.Route{
		Name:    "slow",
		Match:   api.Predicate{Types: []string{"Customer.Submitted"}},
		Targets: []api.Target{api.WorkflowTarget("slow-wf")},
	})

	start := time.Now()
	if _, err := r.Publish(context.Background(), submittedEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Publish blocked on consumer: %v", elapsed)
	}
	r.Drain()
}

func mustRegister(t *testing.T, r *Router, route api.Route) api.Route {
	t.Helper()
	if err := r.RegisterRoute(route); err != nil {
		t.Fatalf("RegisterRoute(%s): %v", route.Name, err)
	}
	return route
}
