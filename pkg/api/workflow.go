package api

import (
	"fmt"
	"time"
)

// StepKind discriminates the closed set of step shapes. The engine
// dispatches on it with an exhaustive switch; there is no step class
// hierarchy.
type StepKind string

const (
	StepTask     StepKind = "task"
	StepParallel StepKind = "parallel"
	StepChoice   StepKind = "choice"
	StepPass     StepKind = "pass"
	StepTerminal StepKind = "terminal"
)

// MaxGraphDepth bounds the longest path through a workflow graph,
// counting parallel branch bodies. Definitions deeper than this are
// rejected at registration.
const MaxGraphDepth = 64

// Branch names one concurrent arm of a Parallel step. Entry refers to
// a step id inside the same definition; the branch runs from there
// until it reaches a Terminal step.
type Branch struct {
	Key   string
	Entry string
}

// ChoiceRule pairs a condition with the edge taken when it holds.
// Rules are evaluated in declaration order.
type ChoiceRule struct {
	When Condition
	Next string
}

// EmitSpec declares the event a Terminal step publishes on arrival.
// Fields maps payload keys to context paths; Static adds fixed values.
// The emitted event inherits the execution's correlation id.
type EmitSpec struct {
	Source string
	Type   string
	Fields map[string]string
	Static Document
}

// Step is a tagged union: Kind selects which field group is active.
type Step struct {
	ID   string
	Kind StepKind

	// Task fields.
	Executor   string
	InputPaths []string      // context projection handed to the executor; empty = full context
	ResultKey  string        // context key the result document is merged under; empty = top-level merge
	Timeout    time.Duration // 0 = no per-step timeout
	Next       string        // also the single edge of Parallel and Pass
	Catch      string        // optional failure edge for Task

	// Parallel fields.
	Branches []Branch

	// Choice fields.
	Choices []ChoiceRule
	Default string

	// Pass fields.
	Copy map[string]string // destination path <- source path
	Set  Document          // static fields written to the context

	// Terminal fields.
	Fail   bool
	Reason string
	Emit   *EmitSpec
}

// WorkflowDefinition is the static, directed step graph a saga
// follows. It is immutable after registration.
type WorkflowDefinition struct {
	ID      string
	Version string
	Entry   string
	Steps   []Step
}

// Step returns the step with the given id.
func (d WorkflowDefinition) Step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Validate checks the structural invariants of the graph: the entry
// resolves, every edge resolves, every non-terminal step has its
// required forward edges, choices carry a default, and the graph is
// acyclic with bounded depth.
func (d WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q: at least one step is required", d.ID)
	}

	byID := make(map[string]Step, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("workflow %q: step with empty id", d.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("workflow %q: duplicate step id %q", d.ID, s.ID)
		}
		byID[s.ID] = s
	}

	if _, ok := byID[d.Entry]; !ok {
		return fmt.Errorf("workflow %q: entry step %q not found", d.ID, d.Entry)
	}

	edge := func(stepID, label, to string) error {
		if to == "" {
			return fmt.Errorf("workflow %q: step %q: %s edge is required", d.ID, stepID, label)
		}
		if _, ok := byID[to]; !ok {
			return fmt.Errorf("workflow %q: step %q: %s edge references unknown step %q", d.ID, stepID, label, to)
		}
		return nil
	}

	for _, s := range d.Steps {
		switch s.Kind {
		case StepTask:
			if s.Executor == "" {
				return fmt.Errorf("workflow %q: task %q: executor name is required", d.ID, s.ID)
			}
			if err := edge(s.ID, "next", s.Next); err != nil {
				return err
			}
			if s.Catch != "" {
				if err := edge(s.ID, "catch", s.Catch); err != nil {
					return err
				}
			}
		case StepParallel:
			if len(s.Branches) == 0 {
				return fmt.Errorf("workflow %q: parallel %q: at least one branch is required", d.ID, s.ID)
			}
			seen := map[string]bool{}
			for _, br := range s.Branches {
				if br.Key == "" {
					return fmt.Errorf("workflow %q: parallel %q: branch with empty key", d.ID, s.ID)
				}
				if seen[br.Key] {
					return fmt.Errorf("workflow %q: parallel %q: duplicate branch key %q", d.ID, s.ID, br.Key)
				}
				seen[br.Key] = true
				if err := edge(s.ID, "branch "+br.Key, br.Entry); err != nil {
					return err
				}
			}
			if err := edge(s.ID, "next", s.Next); err != nil {
				return err
			}
		case StepChoice:
			if len(s.Choices) == 0 {
				return fmt.Errorf("workflow %q: choice %q: at least one rule is required", d.ID, s.ID)
			}
			for i, rule := range s.Choices {
				if err := edge(s.ID, fmt.Sprintf("rule[%d]", i), rule.Next); err != nil {
					return err
				}
			}
			if err := edge(s.ID, "default", s.Default); err != nil {
				return err
			}
		case StepPass:
			if err := edge(s.ID, "next", s.Next); err != nil {
				return err
			}
		case StepTerminal:
			if s.Emit != nil {
				if s.Emit.Type == "" || s.Emit.Source == "" {
					return fmt.Errorf("workflow %q: terminal %q: emitted event needs source and type", d.ID, s.ID)
				}
			}
		default:
			return fmt.Errorf("workflow %q: step %q: unknown kind %q", d.ID, s.ID, s.Kind)
		}
	}

	return d.checkDepth(byID)
}

// checkDepth walks the graph from the entry, rejecting cycles and
// paths longer than MaxGraphDepth. Parallel branch bodies count
// toward the depth of the parallel step itself.
func (d WorkflowDefinition) checkDepth(byID map[string]Step) error {
	onPath := map[string]bool{}

	var walk func(id string, depth int) error
	walk = func(id string, depth int) error {
		if depth > MaxGraphDepth {
			return fmt.Errorf("workflow %q: graph deeper than %d steps", d.ID, MaxGraphDepth)
		}
		if onPath[id] {
			return fmt.Errorf("workflow %q: cycle through step %q", d.ID, id)
		}
		onPath[id] = true
		defer delete(onPath, id)

		s := byID[id]
		switch s.Kind {
		case StepTask:
			if err := walk(s.Next, depth+1); err != nil {
				return err
			}
			if s.Catch != "" {
				return walk(s.Catch, depth+1)
			}
		case StepParallel:
			for _, br := range s.Branches {
				if err := walk(br.Entry, depth+1); err != nil {
					return err
				}
			}
			return walk(s.Next, depth+1)
		case StepChoice:
			for _, rule := range s.Choices {
				if err := walk(rule.Next, depth+1); err != nil {
					return err
				}
			}
			return walk(s.Default, depth+1)
		case StepPass:
			return walk(s.Next, depth+1)
		case StepTerminal:
		}
		return nil
	}

	return walk(d.Entry, 1)
}
