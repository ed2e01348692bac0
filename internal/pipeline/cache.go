package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
	"github.com/capitalize-ai/model-middleware/pkg/metrics"
)

// CacheKey returns the hex SHA-256 digest of the conversation's canonical
// JSON form. Identical conversations always produce the same key.
func CacheKey(conv model.Conversation) string {
	type entry struct {
		Role    model.Role `json:"role"`
		Content string     `json:"content"`
	}
	entries := make([]entry, len(conv))
	for i, msg := range conv {
		entries[i] = entry{Role: msg.Role, Content: msg.Content}
	}
	// Marshalling a slice of plain structs cannot fail.
	data, _ := json.Marshal(entries)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ResponseCacheMiddleware answers repeated conversations from a store and
// skips the model call on a hit. Entries are never evicted.
type ResponseCacheMiddleware struct {
	Base

	store  CacheStore
	logger *logger.Logger

	mu        sync.Mutex
	hitCount  int
	missCount int
}

// NewResponseCacheMiddleware creates a cache over store. A nil store means an
// in-memory store.
func NewResponseCacheMiddleware(store CacheStore, log *logger.Logger) *ResponseCacheMiddleware {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ResponseCacheMiddleware{
		store:  store,
		logger: log.Named("response_cache"),
	}
}

// Name implements Middleware.
func (m *ResponseCacheMiddleware) Name() string { return "response_cache" }

// BeforeModel looks the conversation up and reports a hit through Result.Cached.
// The digest is carried to AfterModel as the token.
func (m *ResponseCacheMiddleware) BeforeModel(ctx context.Context, conv model.Conversation) (Result, error) {
	key := CacheKey(conv)

	resp, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		ok = false
	}

	m.mu.Lock()
	if ok {
		m.hitCount++
	} else {
		m.missCount++
	}
	m.mu.Unlock()

	if ok {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		m.logger.Debug("cache hit", zap.String("key", key))
		return Result{Conversation: conv, Token: key, Cached: resp}, nil
	}

	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	m.logger.Debug("cache miss", zap.String("key", key))
	return Result{Conversation: conv, Token: key}, nil
}

// AfterModel stores the response under the digest from BeforeModel.
func (m *ResponseCacheMiddleware) AfterModel(ctx context.Context, token string, resp *model.Response) *model.Response {
	if token == "" || resp == nil {
		return resp
	}
	if err := m.store.Set(ctx, token, resp); err != nil {
		m.logger.Warn("cache store failed", zap.String("key", token), zap.Error(err))
	}
	return resp
}

// HitCount returns the number of lookups answered from the store.
func (m *ResponseCacheMiddleware) HitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hitCount
}

// MissCount returns the number of lookups that went to the model.
func (m *ResponseCacheMiddleware) MissCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.missCount
}

// Stats implements Middleware.
func (m *ResponseCacheMiddleware) Stats() Stats {
	m.mu.Lock()
	hits, misses := m.hitCount, m.missCount
	m.mu.Unlock()

	entries, err := m.store.Len(context.Background())
	if err != nil {
		m.logger.Warn("cache size unavailable", zap.Error(err))
	}

	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		"hit_count":  float64(hits),
		"miss_count": float64(misses),
		"cache_size": float64(entries),
		"hit_rate":   rate,
	}
}
