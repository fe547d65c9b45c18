package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the router and the engine for
// logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should
// be done asynchronously so as not to delay delivery or execution.
type Observer interface {
	// OnEventPublished is called once per accepted publish, after the
	// event has been journaled.
	OnEventPublished(ctx context.Context, ev Event, matchedRoutes int)

	// OnDeliverySucceeded is called when a target delivery attempt
	// succeeds. attempt is 1-based.
	OnDeliverySucceeded(ctx context.Context, ev Event, route string, target Target, attempt int)

	// OnDeliveryFailed is called for each failed delivery attempt,
	// including the final one before dead-lettering.
	OnDeliveryFailed(ctx context.Context, ev Event, route string, target Target, attempt int, err error)

	// OnDeadLetter is called when a delivery exhausts its attempts and
	// moves to the dead-letter sink.
	OnDeadLetter(ctx context.Context, ev Event, route string, target Target, err error)

	// OnExecutionStart is called once when an execution is created,
	// before its first step runs.
	OnExecutionStart(ctx context.Context, exec *Execution)

	// OnExecutionFinished is called when an execution reaches any
	// final status; err is non-nil for failure paths.
	OnExecutionFinished(ctx context.Context, exec *Execution, err error)

	// OnStepStart is called before a step is dispatched.
	OnStepStart(ctx context.Context, exec *Execution, stepID string, kind StepKind)

	// OnStepCompleted is called after a step finishes, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, exec *Execution, stepID string, kind StepKind, err error, duration time.Duration)

	// OnCompensation is called once per compensating action invoked on
	// the failure path; err reports whether the action itself failed.
	OnCompensation(ctx context.Context, exec *Execution, stepID string, err error)
}

// NoopObserver is an Observer that does nothing. It is the default
// when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnEventPublished(ctx context.Context, ev Event, matchedRoutes int) {}
func (NoopObserver) OnDeliverySucceeded(ctx context.Context, ev Event, route string, target Target, attempt int) {
}
func (NoopObserver) OnDeliveryFailed(ctx context.Context, ev Event, route string, target Target, attempt int, err error) {
}
func (NoopObserver) OnDeadLetter(ctx context.Context, ev Event, route string, target Target, err error) {
}
func (NoopObserver) OnExecutionStart(ctx context.Context, exec *Execution)                {}
func (NoopObserver) OnExecutionFinished(ctx context.Context, exec *Execution, err error)  {}
func (NoopObserver) OnStepStart(ctx context.Context, exec *Execution, id string, k StepKind) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, exec *Execution, id string, k StepKind, err error, d time.Duration) {
}
func (NoopObserver) OnCompensation(ctx context.Context, exec *Execution, stepID string, err error) {}

// CompositeObserver fans out callbacks to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards callbacks to
// each non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnEventPublished(ctx context.Context, ev Event, matchedRoutes int) {
	for _, o := range c.observers {
		o.OnEventPublished(ctx, ev, matchedRoutes)
	}
}

func (c *CompositeObserver) OnDeliverySucceeded(ctx context.Context, ev Event, route string, target Target, attempt int) {
	for _, o := range c.observers {
		o.OnDeliverySucceeded(ctx, ev, route, target, attempt)
	}
}

func (c *CompositeObserver) OnDeliveryFailed(ctx context.Context, ev Event, route string, target Target, attempt int, err error) {
	for _, o := range c.observers {
		o.OnDeliveryFailed(ctx, ev, route, target, attempt, err)
	}
}

func (c *CompositeObserver) OnDeadLetter(ctx context.Context, ev Event, route string, target Target, err error) {
	for _, o := range c.observers {
		o.OnDeadLetter(ctx, ev, route, target, err)
	}
}

func (c *CompositeObserver) OnExecutionStart(ctx context.Context, exec *Execution) {
	for _, o := range c.observers {
		o.OnExecutionStart(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionFinished(ctx context.Context, exec *Execution, err error) {
	for _, o := range c.observers {
		o.OnExecutionFinished(ctx, exec, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, exec *Execution, id string, k StepKind) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, exec, id, k)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, exec *Execution, id string, k StepKind, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, exec, id, k, err, d)
	}
}

func (c *CompositeObserver) OnCompensation(ctx context.Context, exec *Execution, stepID string, err error) {
	for _, o := range c.observers {
		o.OnCompensation(ctx, exec, stepID, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs router and engine
// lifecycle events with the given slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnEventPublished(ctx context.Context, ev Event, matchedRoutes int) {
	o.Logger.InfoContext(ctx, "event_published",
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
		slog.String("source", ev.Source),
		slog.Int("matched_routes", matchedRoutes),
	)
}

func (o *LoggingObserver) OnDeliverySucceeded(ctx context.Context, ev Event, route string, target Target, attempt int) {
	o.Logger.DebugContext(ctx, "delivery_succeeded",
		slog.String("event_id", ev.ID),
		slog.String("route", route),
		slog.String("target", target.String()),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnDeliveryFailed(ctx context.Context, ev Event, route string, target Target, attempt int, err error) {
	o.Logger.WarnContext(ctx, "delivery_failed",
		slog.String("event_id", ev.ID),
		slog.String("route", route),
		slog.String("target", target.String()),
		slog.Int("attempt", attempt),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnDeadLetter(ctx context.Context, ev Event, route string, target Target, err error) {
	o.Logger.ErrorContext(ctx, "delivery_dead_lettered",
		slog.String("event_id", ev.ID),
		slog.String("route", route),
		slog.String("target", target.String()),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnExecutionStart(ctx context.Context, exec *Execution) {
	o.Logger.InfoContext(ctx, "execution_start",
		slog.String("workflow", exec.WorkflowID),
		slog.String("execution_id", exec.ID),
	)
}

func (o *LoggingObserver) OnExecutionFinished(ctx context.Context, exec *Execution, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "execution_finished",
		slog.String("workflow", exec.WorkflowID),
		slog.String("execution_id", exec.ID),
		slog.String("status", string(exec.Status)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, exec *Execution, id string, k StepKind) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("execution_id", exec.ID),
		slog.String("step", id),
		slog.String("kind", string(k)),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, exec *Execution, id string, k StepKind, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("execution_id", exec.ID),
		slog.String("step", id),
		slog.String("kind", string(k)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnCompensation(ctx context.Context, exec *Execution, stepID string, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "compensation",
		slog.String("execution_id", exec.ID),
		slog.String("step", stepID),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters. It implements Observer and
// can be combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	eventsPublished     atomic.Int64
	deliveriesSucceeded atomic.Int64
	deliveriesFailed    atomic.Int64
	deadLetters         atomic.Int64

	executionsStarted  atomic.Int64
	executionsFinished atomic.Int64
	stepsCompleted     atomic.Int64
	compensations      atomic.Int64
	totalStepDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	EventsPublished     int64
	DeliveriesSucceeded int64
	DeliveriesFailed    int64
	DeadLetters         int64

	ExecutionsStarted  int64
	ExecutionsFinished int64
	ExecutionsInFlight int64
	StepsCompleted     int64
	Compensations      int64
	AvgStepDuration    time.Duration
}

func (m *BasicMetrics) OnEventPublished(ctx context.Context, ev Event, matchedRoutes int) {
	m.eventsPublished.Add(1)
}

func (m *BasicMetrics) OnDeliverySucceeded(ctx context.Context, ev Event, route string, target Target, attempt int) {
	m.deliveriesSucceeded.Add(1)
}

func (m *BasicMetrics) OnDeliveryFailed(ctx context.Context, ev Event, route string, target Target, attempt int, err error) {
	m.deliveriesFailed.Add(1)
}

func (m *BasicMetrics) OnDeadLetter(ctx context.Context, ev Event, route string, target Target, err error) {
	m.deadLetters.Add(1)
}

func (m *BasicMetrics) OnExecutionStart(ctx context.Context, exec *Execution) {
	m.executionsStarted.Add(1)
}

func (m *BasicMetrics) OnExecutionFinished(ctx context.Context, exec *Execution, err error) {
	m.executionsFinished.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, exec *Execution, id string, k StepKind, err error, d time.Duration) {
	// Only successful steps count toward the duration average.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

func (m *BasicMetrics) OnCompensation(ctx context.Context, exec *Execution, stepID string, err error) {
	m.compensations.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.executionsStarted.Load()
	finished := m.executionsFinished.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		EventsPublished:     m.eventsPublished.Load(),
		DeliveriesSucceeded: m.deliveriesSucceeded.Load(),
		DeliveriesFailed:    m.deliveriesFailed.Load(),
		DeadLetters:         m.deadLetters.Load(),
		ExecutionsStarted:   started,
		ExecutionsFinished:  finished,
		ExecutionsInFlight:  started - finished,
		StepsCompleted:      steps,
		Compensations:       m.compensations.Load(),
		AvgStepDuration:     avg,
	}
}
