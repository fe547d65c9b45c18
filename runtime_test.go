package sagaflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rjosef/sagaflow/pkg/api"
)

func requestKey(in Document) ContextKey {
	id, _ := in.GetString("customer.id")
	return ContextKey{Kind: "request", ID: id}
}

// registerOnboarding wires the customer onboarding workflow used by the
// runtime tests: create a request record in the context store
// (compensated by deletion), validate address and identity in parallel,
// then accept or reject on the risk field.
func registerOnboarding(t *testing.T, eng Engine, records ContextStore) {
	t.Helper()

	mustExec := func(name string, ex, comp TaskExecutor) {
		if err := eng.RegisterExecutor(name, ex, comp); err != nil {
			t.Fatalf("RegisterExecutor(%s): %v", name, err)
		}
	}

	mustExec("record.create",
		TaskFunc(func(ctx context.Context, in Document) (Document, error) {
			key := requestKey(in)
			err := records.Put(ctx, key, Document{"customerId": key.ID, "state": "pending"})
			if err != nil {
				return nil, err
			}
			return Document{"requestId": "req-" + key.ID}, nil
		}),
		TaskFunc(func(ctx context.Context, in Document) (Document, error) {
			return nil, records.Delete(ctx, requestKey(in))
		}))
	mustExec("validate.address",
		TaskFunc(func(ctx context.Context, in Document) (Document, error) {
			return Document{"addressValid": true}, nil
		}), nil)
	mustExec("validate.identity",
		TaskFunc(func(ctx context.Context, in Document) (Document, error) {
			return Document{"identityValid": true}, nil
		}), nil)

	err := NewWorkflow("onboarding").
		Task("createRecord", "record.create", "validate").
		Parallel("validate", "decide",
			Branch{Key: "address", Entry: "checkAddress"},
			Branch{Key: "identity", Entry: "checkIdentity"}).
		Task("checkAddress", "validate.address", "addressDone").
		Succeed("addressDone").
		Task("checkIdentity", "validate.identity", "identityDone").
		Succeed("identityDone").
		Choice("decide", "accept",
			When(Equals("customer.risk", "high"), "reject")).
		Succeed("accept", WithEmit(EmitSpec{
			Source: "saga",
			Type:   "Customer.Accepted",
			Fields: map[string]string{"customerId": "customer.id"},
			Static: Document{"decision": "accepted"},
		})).
		Fail("reject", "risk too high", WithEmit(EmitSpec{
			Source: "saga",
			Type:   "Customer.Rejected",
			Fields: map[string]string{"customerId": "customer.id"},
			Static: Document{"error": "risk too high"},
		})).
		Register(eng)
	if err != nil {
		t.Fatalf("Register onboarding: %v", err)
	}
}

func registerOnboardingRoutes(t *testing.T, r *Router) {
	t.Helper()

	if err := NewRoute("submissions").
		OnTypes("Customer.Submitted").
		From("portal").
		To(WorkflowTarget("onboarding")).
		Register(r); err != nil {
		t.Fatalf("register submissions route: %v", err)
	}
	if err := NewRoute("accepted").
		OnTypes("Customer.Accepted").
		To(QueueTarget("notifications"), LogTarget()).
		Register(r); err != nil {
		t.Fatalf("register accepted route: %v", err)
	}
	if err := NewRoute("rejected").
		OnTypes("Customer.Rejected").
		To(QueueTarget("rejections")).
		Register(r); err != nil {
		t.Fatalf("register rejected route: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestLocalRuntime_AcceptedSubmission drives the happy path end to end:
// a published submission starts the saga through a workflow route, the
// parallel validations succeed, and the completion event reaches a
// worker through a queue route.
func TestLocalRuntime_AcceptedSubmission(t *testing.T) {
	rt := NewLocalRuntime()
	defer rt.Stop()

	records := NewInMemoryContextStore()
	registerOnboarding(t, rt.Engine, records)
	registerOnboardingRoutes(t, rt.Router)

	var mu sync.Mutex
	var notified []Event
	w := rt.NewWorker("notifications")
	w.Handle("Customer.Accepted", func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, ev)
		return nil
	})
	if err := rt.StartWorker(context.Background(), w); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}

	submitted, err := rt.Router.Publish(context.Background(),
		NewEvent("portal", "Customer.Submitted", Document{
			"customer": map[string]any{"id": "c-1", "risk": "low"},
		}))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, "notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notified) == 1
	})

	mu.Lock()
	accepted := notified[0]
	mu.Unlock()

	if id, _ := accepted.Payload.GetString("customerId"); id != "c-1" {
		t.Fatalf("customerId = %q", id)
	}
	if d, _ := accepted.Payload.GetString("decision"); d != "accepted" {
		t.Fatalf("decision = %q", d)
	}
	// The whole chain shares the original correlation id.
	if accepted.CorrelationID != submitted.CorrelationID {
		t.Fatalf("correlation = %q, want %q", accepted.CorrelationID, submitted.CorrelationID)
	}

	execs, err := ListExecutions(context.Background(), rt.Engine, ExecutionListOptions{
		WorkflowID: "onboarding",
		Status:     StatusSucceeded,
	})
	if err != nil || len(execs) == 0 {
		t.Fatalf("executions = %d, %v", len(execs), err)
	}

	// The accepted request record stays in the store.
	record, ok, err := records.Get(context.Background(), ContextKey{Kind: "request", ID: "c-1"})
	if err != nil || !ok {
		t.Fatalf("request record = ok=%v, err=%v", ok, err)
	}
	if state, _ := record.GetString("state"); state != "pending" {
		t.Fatalf("record state = %q", state)
	}
}

// TestLocalRuntime_RejectedSubmissionCompensates drives the rejection
// path: the risk check takes the failure edge, the compensating action
// deletes the request record created earlier, and the failure terminal
// emits a Customer.Rejected event carrying the error message.
func TestLocalRuntime_RejectedSubmissionCompensates(t *testing.T) {
	rt := NewLocalRuntime()
	defer rt.Stop()

	records := NewInMemoryContextStore()
	registerOnboarding(t, rt.Engine, records)
	registerOnboardingRoutes(t, rt.Router)

	submitted, err := rt.Router.Publish(context.Background(),
		NewEvent("portal", "Customer.Submitted", Document{
			"customer": map[string]any{"id": "c-2", "risk": "high"},
		}))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	rt.Router.Drain()

	execs, err := ListExecutions(context.Background(), rt.Engine, ExecutionListOptions{
		WorkflowID: "onboarding",
		Status:     StatusCompensated,
	})
	if err != nil || len(execs) != 1 {
		t.Fatalf("compensated executions = %d, %v", len(execs), err)
	}

	// The compensating action removed the request record.
	if _, ok, _ := records.Get(context.Background(), ContextKey{Kind: "request", ID: "c-2"}); ok {
		t.Fatal("request record survived compensation")
	}

	// The rejection event reached its queue route.
	var rejected Event
	w := rt.NewWorker("rejections")
	w.Handle("Customer.Rejected", func(ctx context.Context, ev Event) error {
		rejected = ev
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok, err := w.ProcessOne(ctx); err != nil || !ok {
		t.Fatalf("ProcessOne: ok=%v, err=%v", ok, err)
	}

	if rejected.Type != "Customer.Rejected" {
		t.Fatalf("type = %q", rejected.Type)
	}
	if id, _ := rejected.Payload.GetString("customerId"); id != "c-2" {
		t.Fatalf("customerId = %q", id)
	}
	if msg, _ := rejected.Payload.GetString("error"); msg != "risk too high" {
		t.Fatalf("error = %q", msg)
	}
	if rejected.CorrelationID != submitted.CorrelationID {
		t.Fatalf("correlation = %q, want %q", rejected.CorrelationID, submitted.CorrelationID)
	}
}

// TestLocalRuntime_TimeoutCompensates drives the timeout path: a slow
// validation step exceeds its per-step timeout, the execution fails,
// and the earlier side effect is rolled back.
func TestLocalRuntime_TimeoutCompensates(t *testing.T) {
	rt := NewLocalRuntime()
	defer rt.Stop()

	records := NewInMemoryContextStore()
	mustExec := func(name string, ex, comp TaskExecutor) {
		if err := rt.Engine.RegisterExecutor(name, ex, comp); err != nil {
			t.Fatalf("RegisterExecutor(%s): %v", name, err)
		}
	}
	mustExec("record.create",
		TaskFunc(func(ctx context.Context, in Document) (Document, error) {
			key := requestKey(in)
			return Document{}, records.Put(ctx, key, Document{"customerId": key.ID})
		}),
		TaskFunc(func(ctx context.Context, in Document) (Document, error) {
			return nil, records.Delete(ctx, requestKey(in))
		}))
	mustExec("validate.slow",
		TaskFunc(func(ctx context.Context, in Document) (Document, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return Document{}, nil
			}
		}), nil)

	err := NewWorkflow("slow-onboarding").
		Task("createRecord", "record.create", "check").
		Task("check", "validate.slow", "done", WithTimeout(20*time.Millisecond)).
		Succeed("done").
		Register(rt.Engine)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	exec, err := Start(context.Background(), rt.Engine, "slow-onboarding",
		NewEvent("portal", "Customer.Submitted", Document{
			"customer": map[string]any{"id": "c-3"},
		}))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if exec.Status != StatusCompensated {
		t.Fatalf("status = %s, err = %v", exec.Status, exec.Err)
	}
	te, ok := api.AsTaskError(exec.Err)
	if !ok || !te.Timeout {
		t.Fatalf("err = %v", exec.Err)
	}

	if _, ok, _ := records.Get(context.Background(), ContextKey{Kind: "request", ID: "c-3"}); ok {
		t.Fatal("request record survived compensation")
	}
}

// TestLocalRuntime_StopIsIdempotent ensures Stop is safe without
// StartWorker and when called twice.
func TestLocalRuntime_StopIsIdempotent(t *testing.T) {
	rt := NewLocalRuntime()
	rt.Stop()

	w := rt.NewWorker("q")
	w.HandleDefault(func(ctx context.Context, ev Event) error { return nil })
	if err := rt.StartWorker(context.Background(), w); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	rt.Stop()
	rt.Stop()
}
