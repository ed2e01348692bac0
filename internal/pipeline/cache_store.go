package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/model-middleware/internal/model"
)

// CacheStore holds cached responses by conversation digest. Entries never expire.
type CacheStore interface {
	Get(ctx context.Context, key string) (*model.Response, bool, error)
	Set(ctx context.Context, key string, resp *model.Response) error
	Len(ctx context.Context) (int, error)
}

// MemoryStore keeps responses in process memory. Get returns the stored pointer.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*model.Response
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*model.Response)}
}

// Get implements CacheStore.
func (s *MemoryStore) Get(_ context.Context, key string) (*model.Response, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.entries[key]
	return resp, ok, nil
}

// Set implements CacheStore.
func (s *MemoryStore) Set(_ context.Context, key string, resp *model.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = resp
	return nil
}

// Len implements CacheStore.
func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// RedisKeyPrefix namespaces cache keys in redis.
const RedisKeyPrefix = "mw:cache:"

// RedisStore keeps JSON-encoded responses in redis without expiry, so
// responses can be shared by several processes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: RedisKeyPrefix}
}

// Get implements CacheStore.
func (s *RedisStore) Get(ctx context.Context, key string) (*model.Response, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var resp model.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}
	return &resp, true, nil
}

// Set implements CacheStore.
func (s *RedisStore) Set(ctx context.Context, key string, resp *model.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Len implements CacheStore. It counts keys under the store prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return n, nil
}
