package api

import (
	"fmt"
	"sort"
	"strings"
)

// TargetKind enumerates the route target kinds.
type TargetKind string

const (
	// TargetQueue delivers the event to a named work queue.
	TargetQueue TargetKind = "queue"
	// TargetWorkflow starts a new workflow execution with the event
	// as trigger.
	TargetWorkflow TargetKind = "workflow"
	// TargetLog appends the event to a passive append-only log sink.
	TargetLog TargetKind = "log"
)

// Target is one delivery destination of a route.
type Target struct {
	Kind     TargetKind
	Queue    string // for TargetQueue
	Workflow string // for TargetWorkflow
}

// QueueTarget builds a work-queue target.
func QueueTarget(name string) Target { return Target{Kind: TargetQueue, Queue: name} }

// WorkflowTarget builds a start-workflow target.
func WorkflowTarget(workflowID string) Target {
	return Target{Kind: TargetWorkflow, Workflow: workflowID}
}

// LogTarget builds a log-sink target.
func LogTarget() Target { return Target{Kind: TargetLog} }

// String renders a target for logs and fingerprints.
func (t Target) String() string {
	switch t.Kind {
	case TargetQueue:
		return "queue:" + t.Queue
	case TargetWorkflow:
		return "workflow:" + t.Workflow
	case TargetLog:
		return "log"
	default:
		return "unknown"
	}
}

// Predicate is a content-based filter over events. All populated
// constraints must hold (conjunction). A predicate with no Types never
// matches: routes that accept everything are almost always a config
// mistake, so the shape is ruled out entirely.
type Predicate struct {
	// Sources restricts matching to the given event sources.
	// Empty means any source.
	Sources []string

	// Types restricts matching to the given event types. Required.
	Types []string

	// Where constrains payload fields (dot paths) to exact values.
	Where map[string]any
}

// Matches reports whether the event satisfies the predicate.
func (p Predicate) Matches(e Event) bool {
	if len(p.Types) == 0 {
		return false
	}
	if !containsString(p.Types, e.Type) {
		return false
	}
	if len(p.Sources) > 0 && !containsString(p.Sources, e.Source) {
		return false
	}
	for path, want := range p.Where {
		got, ok := e.Payload.Get(path)
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// Route binds a predicate to an ordered set of targets. Routes are
// immutable at runtime; the table is fixed at deploy time.
type Route struct {
	// Name is a human label for logs and dead letters. It does not
	// participate in duplicate detection.
	Name string

	Match   Predicate
	Targets []Target
}

// Validate checks the route invariants before registration.
func (r Route) Validate() error {
	if len(r.Match.Types) == 0 {
		return fmt.Errorf("route %q: predicate must specify at least one event type", r.Name)
	}
	if len(r.Targets) == 0 {
		return fmt.Errorf("route %q: at least one target is required", r.Name)
	}
	for _, t := range r.Targets {
		switch t.Kind {
		case TargetQueue:
			if t.Queue == "" {
				return fmt.Errorf("route %q: queue target needs a queue name", r.Name)
			}
		case TargetWorkflow:
			if t.Workflow == "" {
				return fmt.Errorf("route %q: workflow target needs a workflow id", r.Name)
			}
		case TargetLog:
		default:
			return fmt.Errorf("route %q: unknown target kind %q", r.Name, t.Kind)
		}
	}
	return nil
}

// Fingerprint returns a canonical encoding of predicate plus targets.
// Two routes with equal fingerprints are the same registration, which
// the router rejects as a duplicate.
func (r Route) Fingerprint() string {
	var b strings.Builder

	b.WriteString("src=")
	b.WriteString(strings.Join(sortedCopy(r.Match.Sources), ","))
	b.WriteString(";type=")
	b.WriteString(strings.Join(sortedCopy(r.Match.Types), ","))

	b.WriteString(";where=")
	keys := make([]string, 0, len(r.Match.Where))
	for k := range r.Match.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%v", k, r.Match.Where[k])
	}

	b.WriteString(";targets=")
	for i, t := range r.Targets {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.String())
	}
	return b.String()
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
