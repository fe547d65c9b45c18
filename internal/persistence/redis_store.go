package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/rjosef/sagaflow/pkg/api"
)

// RedisExecutionStore is an ExecutionStore backed by Redis. It uses a
// simple key structure:
//
//	<prefix>exec:<id>             => gob-encoded redisExecutionPayload
//	<prefix>idx:all               => SET of all execution IDs
//	<prefix>idx:wf:<workflow>     => SET of execution IDs per workflow
//	<prefix>idx:status:<status>   => SET of execution IDs per status
//
// The indexes are best-effort; ListExecutions always re-filters by
// payload, so stale index members only cost an extra read.
type RedisExecutionStore struct {
	client *redis.Client
	prefix string
}

var _ ExecutionStore = (*RedisExecutionStore)(nil)

type redisExecutionPayload struct {
	ID              string
	WorkflowID      string
	WorkflowVersion string
	ParentID        string
	BranchKey       string
	Status          string
	CurrentStep     string
	Context         []byte
	StepResults     []byte
	Compensations   []byte
	TriggerID       string
	CorrelationID   string
	Error           string
}

// NewRedisExecutionStore creates a RedisExecutionStore. prefix is
// optional but recommended (e.g. "sagaflow:").
func NewRedisExecutionStore(client *redis.Client, prefix string) *RedisExecutionStore {
	if prefix == "" {
		prefix = "sagaflow:"
	}
	return &RedisExecutionStore{client: client, prefix: prefix}
}

func (s *RedisExecutionStore) keyExecution(id string) string { return s.prefix + "exec:" + id }
func (s *RedisExecutionStore) keyAll() string                { return s.prefix + "idx:all" }
func (s *RedisExecutionStore) keyWorkflow(id string) string  { return s.prefix + "idx:wf:" + id }
func (s *RedisExecutionStore) keyStatus(st api.Status) string {
	return s.prefix + "idx:status:" + string(st)
}

func encodeRedisExecution(exec *api.Execution) ([]byte, error) {
	ctxBytes, err := EncodeValue(exec.Context)
	if err != nil {
		return nil, err
	}
	results, err := EncodeValue(exec.StepResults)
	if err != nil {
		return nil, err
	}
	comps, err := EncodeValue(exec.Compensations)
	if err != nil {
		return nil, err
	}
	errStr := ""
	if exec.Err != nil {
		errStr = exec.Err.Error()
	}

	payload := redisExecutionPayload{
		ID:              exec.ID,
		WorkflowID:      exec.WorkflowID,
		WorkflowVersion: exec.WorkflowVersion,
		ParentID:        exec.ParentID,
		BranchKey:       exec.BranchKey,
		Status:          string(exec.Status),
		CurrentStep:     exec.CurrentStep,
		Context:         ctxBytes,
		StepResults:     results,
		Compensations:   comps,
		TriggerID:       exec.TriggerID,
		CorrelationID:   exec.CorrelationID,
		Error:           errStr,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisExecution(data []byte) (*api.Execution, error) {
	if len(data) == 0 {
		return nil, ErrExecutionNotFound
	}
	var payload redisExecutionPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	ctxDoc, err := DecodeValue[api.Document](payload.Context)
	if err != nil {
		return nil, err
	}
	results, err := DecodeValue[map[string]api.Document](payload.StepResults)
	if err != nil {
		return nil, err
	}
	comps, err := DecodeValue[[]api.CompensationEntry](payload.Compensations)
	if err != nil {
		return nil, err
	}

	exec := &api.Execution{
		ID:              payload.ID,
		WorkflowID:      payload.WorkflowID,
		WorkflowVersion: payload.WorkflowVersion,
		ParentID:        payload.ParentID,
		BranchKey:       payload.BranchKey,
		Status:          api.Status(payload.Status),
		CurrentStep:     payload.CurrentStep,
		Context:         ctxDoc,
		StepResults:     results,
		Compensations:   comps,
		TriggerID:       payload.TriggerID,
		CorrelationID:   payload.CorrelationID,
	}
	if payload.Error != "" {
		exec.Err = errors.New(payload.Error)
	}
	return exec, nil
}

func (s *RedisExecutionStore) write(exec *api.Execution) error {
	ctx := context.Background()

	data, err := encodeRedisExecution(exec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyExecution(exec.ID), data, 0).Err(); err != nil {
		return err
	}

	// Index updates are best-effort; stale members are filtered on read.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), exec.ID)
	pipe.SAdd(ctx, s.keyWorkflow(exec.WorkflowID), exec.ID)
	pipe.SAdd(ctx, s.keyStatus(exec.Status), exec.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisExecutionStore) SaveExecution(exec *api.Execution) error {
	return s.write(exec)
}

func (s *RedisExecutionStore) UpdateExecution(exec *api.Execution) error {
	ctx := context.Background()
	n, err := s.client.Exists(ctx, s.keyExecution(exec.ID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExecutionNotFound
	}
	return s.write(exec)
}

func (s *RedisExecutionStore) GetExecution(id string) (*api.Execution, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keyExecution(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return decodeRedisExecution(data)
}

func (s *RedisExecutionStore) ListExecutions(filter ExecutionFilter) ([]*api.Execution, error) {
	ctx := context.Background()

	var ids []string
	var err error

	switch {
	case filter.WorkflowID != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx, s.keyWorkflow(filter.WorkflowID), s.keyStatus(filter.Status)).Result()
	case filter.WorkflowID != "":
		ids, err = s.client.SMembers(ctx, s.keyWorkflow(filter.WorkflowID)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.Execution{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.Execution{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyExecution(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var executions []*api.Execution
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		exec, err := decodeRedisExecution(data)
		if err != nil {
			return nil, err
		}
		// Re-check the filter: index sets may be stale after status
		// transitions.
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && exec.Status != filter.Status {
			continue
		}
		executions = append(executions, exec)
	}
	return executions, nil
}
