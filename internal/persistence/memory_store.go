package persistence

import (
	"sync"

	"github.com/rjosef/sagaflow/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of WorkflowStore
// and ExecutionStore backed by maps. It is the default for tests and
// single-process deployments; nothing survives a restart.
type InMemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]map[string]api.WorkflowDefinition
	versions   map[string][]string // registration order per workflow id
	executions map[string]*api.Execution
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows:  make(map[string]map[string]api.WorkflowDefinition),
		versions:   make(map[string][]string),
		executions: make(map[string]*api.Execution),
	}
}

var (
	_ WorkflowStore  = (*InMemoryStore)(nil)
	_ ExecutionStore = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) SaveWorkflow(def api.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byVersion := s.workflows[def.ID]
	if byVersion == nil {
		byVersion = make(map[string]api.WorkflowDefinition)
		s.workflows[def.ID] = byVersion
	}
	if _, exists := byVersion[def.Version]; !exists {
		s.versions[def.ID] = append(s.versions[def.ID], def.Version)
	}
	byVersion[def.Version] = def
	return nil
}

func (s *InMemoryStore) GetWorkflow(id, version string) (api.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.workflows[id][version]
	if !ok {
		return api.WorkflowDefinition{}, ErrWorkflowNotFound
	}
	return def, nil
}

func (s *InMemoryStore) GetLatestWorkflow(id string) (api.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order := s.versions[id]
	if len(order) == 0 {
		return api.WorkflowDefinition{}, ErrWorkflowNotFound
	}
	return s.workflows[id][order[len(order)-1]], nil
}

func (s *InMemoryStore) ListWorkflowVersions(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.versions[id]...), nil
}

func (s *InMemoryStore) SaveExecution(exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[exec.ID] = CloneExecution(exec)
	return nil
}

func (s *InMemoryStore) UpdateExecution(exec *api.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[exec.ID]; !ok {
		return ErrExecutionNotFound
	}
	s.executions[exec.ID] = CloneExecution(exec)
	return nil
}

func (s *InMemoryStore) GetExecution(id string) (*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return CloneExecution(exec), nil
}

func (s *InMemoryStore) ListExecutions(filter ExecutionFilter) ([]*api.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Execution
	for _, exec := range s.executions {
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		result = append(result, CloneExecution(exec))
	}
	return result, nil
}
