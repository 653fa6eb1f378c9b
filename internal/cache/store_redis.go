package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "cache:"
	redisGenerationKey = "cache:active_generation"
)

// RedisStore keeps cached responses in Redis, for deployments where the
// background context runs next to an existing Redis instance. Entries are
// namespaced by generation so activation can purge superseded ones.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed cache store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisEntryKey(generation string, partition Partition, key string) string {
	return fmt.Sprintf("%s%s:%s:%s", redisKeyPrefix, generation, partition, key)
}

// Get returns the cached entry for the key within the active generation
func (s *RedisStore) Get(ctx context.Context, partition Partition, key string) (*Entry, error) {
	active, err := s.ActiveGeneration(ctx)
	if err != nil {
		return nil, err
	}
	if active == "" {
		return nil, nil
	}

	data, err := s.client.Get(ctx, redisEntryKey(active, partition, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put stores an entry under its generation
func (s *RedisStore) Put(ctx context.Context, partition Partition, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisEntryKey(entry.Generation, partition, key), data, 0).Err()
}

// ActivateGeneration switches the active generation, then scans out every
// entry stored under any other generation.
func (s *RedisStore) ActivateGeneration(ctx context.Context, generation string) (int, error) {
	if err := s.client.Set(ctx, redisGenerationKey, generation, 0).Err(); err != nil {
		return 0, err
	}

	keep := redisKeyPrefix + generation + ":"
	purged := 0

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == redisGenerationKey || strings.HasPrefix(key, keep) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return purged, err
		}
		purged++
	}
	if err := iter.Err(); err != nil {
		return purged, err
	}
	return purged, nil
}

// ActiveGeneration returns the current generation token ("" before the first
// activation).
func (s *RedisStore) ActiveGeneration(ctx context.Context) (string, error) {
	value, err := s.client.Get(ctx, redisGenerationKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Close releases the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
