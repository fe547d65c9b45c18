package sagaflow

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

// TestSQLiteBundle_DurableAcrossRestart demonstrates that events
// accepted by the router, queued deliveries, and finished executions
// survive a simulated process restart, assuming workflows and routes
// are re-registered on startup.
func TestSQLiteBundle_DurableAcrossRestart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPath := filepath.Join(t.TempDir(), "sagaflow_bundle.db")
	dsn := "file:" + dbPath + "?_journal=WAL"

	registerAll := func(b *Bundle) {
		err := b.Engine.RegisterExecutor("echo",
			TaskFunc(func(ctx context.Context, in Document) (Document, error) {
				return Document{"echoed": true}, nil
			}), nil)
		require.NoError(t, err)

		err = NewWorkflow("echo-flow").
			Task("echo", "echo", "done").
			Succeed("done").
			Register(b.Engine)
		require.NoError(t, err)

		err = NewRoute("submissions").
			OnTypes("Customer.Submitted").
			To(WorkflowTarget("echo-flow"), QueueTarget("audit")).
			Register(b.Router)
		require.NoError(t, err)
	}

	// --- Phase 1: publish one event, let it fan out, then "crash".

	db1, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	bundle1, err := NewSQLiteBundle(db1, nil)
	require.NoError(t, err)
	registerAll(bundle1)

	published, err := bundle1.Router.Publish(ctx, NewEvent("portal", "Customer.Submitted", Document{
		"customer": map[string]any{"id": "c-1"},
	}))
	require.NoError(t, err)
	bundle1.Router.Drain()

	// The workflow target ran to completion before the crash; the queue
	// delivery is parked in the durable queue with no worker attached.
	execs, err := ListExecutions(ctx, bundle1.Engine, ExecutionListOptions{
		WorkflowID: "echo-flow",
		Status:     StatusSucceeded,
	})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, published.CorrelationID, execs[0].CorrelationID)

	// Simulate process crash by closing the DB and discarding bundle1.
	require.NoError(t, db1.Close())

	// --- Phase 2: "restart" with a new DB handle and bundle.

	db2, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db2.Close()

	bundle2, err := NewSQLiteBundle(db2, nil)
	require.NoError(t, err)
	// Workflow definitions and routes are in-memory only and must be
	// re-registered on each process start.
	registerAll(bundle2)

	recovered, err := bundle2.Engine.RecoverStuckExecutions(ctx)
	require.NoError(t, err)
	require.Zero(t, recovered, "no execution was mid-flight at crash time")

	// The finished execution is still visible.
	execs, err = ListExecutions(ctx, bundle2.Engine, ExecutionListOptions{
		WorkflowID: "echo-flow",
	})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, StatusSucceeded, execs[0].Status)
	require.True(t, execs[0].Context["echoed"] == true)

	// The parked queue delivery survived the restart and is consumable.
	w := bundle2.NewWorker("audit", WorkerConfig{MaxAttempts: 3})
	var audited []Event
	w.HandleDefault(func(ctx context.Context, ev Event) error {
		audited = append(audited, ev)
		return nil
	})

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, audited, 1)
	require.Equal(t, published.ID, audited[0].ID)
	id, ok := audited[0].Payload.GetString("customer.id")
	require.True(t, ok)
	require.Equal(t, "c-1", id)
}
