package engine

import (
	"fmt"
	"sync"

	"github.com/rjosef/sagaflow/pkg/api"
)

// executorBinding pairs a task executor with its optional compensating
// action. A binding with a compensator marks the task side-effecting:
// its successful completions are pushed onto the compensation stack.
type executorBinding struct {
	executor    api.TaskExecutor
	compensator api.TaskExecutor
}

type executorRegistry struct {
	mu     sync.RWMutex
	byName map[string]executorBinding
}

func newExecutorRegistry() *executorRegistry {
	return &executorRegistry{byName: make(map[string]executorBinding)}
}

func (r *executorRegistry) register(name string, ex, compensator api.TaskExecutor) error {
	if name == "" {
		return fmt.Errorf("executor name is required")
	}
	if ex == nil {
		return fmt.Errorf("executor %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("executor already registered: %s", name)
	}
	r.byName[name] = executorBinding{executor: ex, compensator: compensator}
	return nil
}

func (r *executorRegistry) get(name string) (executorBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byName[name]
	return b, ok
}
