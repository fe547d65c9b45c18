package sagaflow

import (
	"fmt"
	"time"

	"github.com/rjosef/sagaflow/pkg/api"
)

// WorkflowBuilder provides a fluent API for defining workflow graphs:
//
//	def := sagaflow.NewWorkflow("claim-processing").
//	    Task("validate", "claims.validate", "settle").
//	    Task("settle", "claims.settle", "done").
//	    Succeed("done").
//	    Definition()
//
// The first step added becomes the entry unless Entry is called.
// Structural validation (edges resolve, no cycles) happens at
// registration, not while building.
type WorkflowBuilder struct {
	def api.WorkflowDefinition
}

// NewWorkflow creates a builder for the given workflow id.
func NewWorkflow(id string) *WorkflowBuilder {
	return &WorkflowBuilder{
		def: api.WorkflowDefinition{ID: id},
	}
}

// Version sets the definition version. Unset versions default to "v1"
// at registration.
func (b *WorkflowBuilder) Version(v string) *WorkflowBuilder {
	b.def.Version = v
	return b
}

// Entry overrides the entry step.
func (b *WorkflowBuilder) Entry(stepID string) *WorkflowBuilder {
	b.def.Entry = stepID
	return b
}

// StepOption tweaks an individual step beyond its required fields.
type StepOption func(*api.Step)

// WithCatch sets the failure edge of a Task step.
func WithCatch(stepID string) StepOption {
	return func(s *api.Step) { s.Catch = stepID }
}

// WithTimeout sets the per-attempt timeout of a Task step.
func WithTimeout(d time.Duration) StepOption {
	return func(s *api.Step) { s.Timeout = d }
}

// WithInput restricts the executor input to the given context paths.
func WithInput(paths ...string) StepOption {
	return func(s *api.Step) { s.InputPaths = paths }
}

// WithResultKey merges the task result under the given context key
// instead of at the top level.
func WithResultKey(key string) StepOption {
	return func(s *api.Step) { s.ResultKey = key }
}

// WithEmit declares the event a Terminal step publishes.
func WithEmit(spec EmitSpec) StepOption {
	return func(s *api.Step) { s.Emit = &spec }
}

// Task appends a Task step invoking the named executor, transitioning
// to next on success.
func (b *WorkflowBuilder) Task(id, executor, next string, opts ...StepOption) *WorkflowBuilder {
	return b.add(api.Step{
		ID:       id,
		Kind:     api.StepTask,
		Executor: executor,
		Next:     next,
	}, opts)
}

// Parallel appends a Parallel step forking the given branches and
// joining into next.
func (b *WorkflowBuilder) Parallel(id, next string, branches ...Branch) *WorkflowBuilder {
	return b.add(api.Step{
		ID:       id,
		Kind:     api.StepParallel,
		Next:     next,
		Branches: branches,
	}, nil)
}

// Choice appends a Choice step. Rules are evaluated in order; none
// matching takes defaultNext.
func (b *WorkflowBuilder) Choice(id, defaultNext string, rules ...ChoiceRule) *WorkflowBuilder {
	return b.add(api.Step{
		ID:      id,
		Kind:    api.StepChoice,
		Choices: rules,
		Default: defaultNext,
	}, nil)
}

// When builds one choice rule.
func When(cond Condition, next string) ChoiceRule {
	return api.ChoiceRule{When: cond, Next: next}
}

// Pass appends a Pass step that copies context paths (destination <-
// source) and writes static fields, then transitions to next.
func (b *WorkflowBuilder) Pass(id, next string, copy map[string]string, set Document) *WorkflowBuilder {
	return b.add(api.Step{
		ID:   id,
		Kind: api.StepPass,
		Next: next,
		Copy: copy,
		Set:  set,
	}, nil)
}

// Succeed appends a successful Terminal step.
func (b *WorkflowBuilder) Succeed(id string, opts ...StepOption) *WorkflowBuilder {
	return b.add(api.Step{
		ID:   id,
		Kind: api.StepTerminal,
	}, opts)
}

// Fail appends a failing Terminal step. Reaching it unwinds the
// compensation stack before the execution ends.
func (b *WorkflowBuilder) Fail(id, reason string, opts ...StepOption) *WorkflowBuilder {
	return b.add(api.Step{
		ID:     id,
		Kind:   api.StepTerminal,
		Fail:   true,
		Reason: reason,
	}, opts)
}

func (b *WorkflowBuilder) add(s api.Step, opts []StepOption) *WorkflowBuilder {
	if s.ID == "" {
		panic("sagaflow: step id must not be empty")
	}
	if s.Kind == api.StepTask && s.Executor == "" {
		panic(fmt.Sprintf("sagaflow: task %q has no executor", s.ID))
	}
	for _, opt := range opts {
		opt(&s)
	}
	if b.def.Entry == "" {
		b.def.Entry = s.ID
	}
	b.def.Steps = append(b.def.Steps, s)
	return b
}

// Definition returns the built WorkflowDefinition.
func (b *WorkflowBuilder) Definition() WorkflowDefinition {
	return b.def
}

// Register registers the built workflow with the given engine.
func (b *WorkflowBuilder) Register(eng Engine) error {
	return eng.RegisterWorkflow(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *WorkflowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}

// RouteBuilder provides a fluent API for route registration:
//
//	err := sagaflow.NewRoute("accepted-claims").
//	    OnTypes("Claim.Accepted").
//	    From("fraud-service").
//	    Where("claim.status", "accepted").
//	    To(sagaflow.QueueTarget("notifications"), sagaflow.LogTarget()).
//	    Register(router)
type RouteBuilder struct {
	route api.Route
}

// NewRoute creates a builder for a named route.
func NewRoute(name string) *RouteBuilder {
	return &RouteBuilder{route: api.Route{Name: name}}
}

// OnTypes adds event types to the predicate. At least one is required.
func (b *RouteBuilder) OnTypes(types ...string) *RouteBuilder {
	b.route.Match.Types = append(b.route.Match.Types, types...)
	return b
}

// From restricts matching to the given event sources.
func (b *RouteBuilder) From(sources ...string) *RouteBuilder {
	b.route.Match.Sources = append(b.route.Match.Sources, sources...)
	return b
}

// Where constrains a payload field (dot path) to an exact value.
func (b *RouteBuilder) Where(path string, value any) *RouteBuilder {
	if b.route.Match.Where == nil {
		b.route.Match.Where = make(map[string]any)
	}
	b.route.Match.Where[path] = value
	return b
}

// To adds delivery targets.
func (b *RouteBuilder) To(targets ...Target) *RouteBuilder {
	b.route.Targets = append(b.route.Targets, targets...)
	return b
}

// Build returns the route without registering it.
func (b *RouteBuilder) Build() Route {
	return b.route
}

// Register validates and registers the route with the given router.
func (b *RouteBuilder) Register(r *Router) error {
	return r.RegisterRoute(b.route)
}
