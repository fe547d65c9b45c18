package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/rjosef/sagaflow/pkg/api"
)

// RedisContextStore is a ContextStore backed by Redis. Records live
// under <prefix>rec:<kind>/<id> as gob-encoded documents.
type RedisContextStore struct {
	client *redis.Client
	prefix string
}

var _ ContextStore = (*RedisContextStore)(nil)

// NewRedisContextStore creates a RedisContextStore with the given key
// prefix (defaults to "sagaflow:").
func NewRedisContextStore(client *redis.Client, prefix string) *RedisContextStore {
	if prefix == "" {
		prefix = "sagaflow:"
	}
	return &RedisContextStore{client: client, prefix: prefix}
}

func (s *RedisContextStore) key(k Key) string { return s.prefix + "rec:" + k.String() }

func (s *RedisContextStore) Get(ctx context.Context, key Key) (api.Document, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	doc, err := DecodeValue[api.Document](data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *RedisContextStore) Put(ctx context.Context, key Key, rec api.Document) error {
	data, err := EncodeValue(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), data, 0).Err()
}

func (s *RedisContextStore) Delete(ctx context.Context, key Key) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
