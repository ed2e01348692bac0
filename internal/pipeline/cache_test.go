package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/model-middleware/internal/model"
)

func TestCacheKey(t *testing.T) {
	a := model.Conversation{model.SystemMessage("s"), model.UserMessage("hello")}
	b := model.Conversation{model.SystemMessage("s"), model.UserMessage("hello")}
	c := model.Conversation{model.SystemMessage("s"), model.UserMessage("hellp")}
	d := model.Conversation{model.UserMessage("s"), model.UserMessage("hello")}

	assert.Equal(t, CacheKey(a), CacheKey(b))
	assert.NotEqual(t, CacheKey(a), CacheKey(c))
	assert.NotEqual(t, CacheKey(a), CacheKey(d))
	assert.Len(t, CacheKey(a), 64)
}

func TestResponseCacheMiddleware_HitAndMiss(t *testing.T) {
	m := NewResponseCacheMiddleware(nil, nil)
	ctx := context.Background()
	conv := model.Conversation{model.UserMessage("what is 2+2?")}

	res, err := m.BeforeModel(ctx, conv)
	require.NoError(t, err)
	assert.Nil(t, res.Cached)
	assert.Equal(t, CacheKey(conv), res.Token)

	resp := &model.Response{Content: "4"}
	assert.Same(t, resp, m.AfterModel(ctx, res.Token, resp))

	res, err = m.BeforeModel(ctx, conv.Clone())
	require.NoError(t, err)
	assert.Same(t, resp, res.Cached)
	assert.Equal(t, 1, m.MissCount())
	assert.Equal(t, 1, m.HitCount())

	changed := model.Conversation{model.UserMessage("what is 2+3?")}
	res, err = m.BeforeModel(ctx, changed)
	require.NoError(t, err)
	assert.Nil(t, res.Cached)
	assert.Equal(t, 2, m.MissCount())

	assert.Equal(t, Stats{
		"hit_count":  1,
		"miss_count": 2,
		"cache_size": 1,
		"hit_rate":   1.0 / 3.0,
	}, m.Stats())
}

func TestResponseCacheMiddleware_ThroughPipeline(t *testing.T) {
	cache := NewResponseCacheMiddleware(NewMemoryStore(), nil)
	inv := &fakeInvoker{}
	p := New(inv, nil, cache)

	conv := model.Conversation{model.UserMessage("ping")}
	first, err := p.Run(context.Background(), conv)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), conv)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, inv.Calls())
	assert.Equal(t, 1, cache.MissCount())
	assert.Equal(t, 1, cache.HitCount())

	_, err = p.Run(context.Background(), model.Conversation{model.UserMessage("pinG")})
	require.NoError(t, err)
	assert.Equal(t, 2, inv.Calls())
	assert.Equal(t, 2, cache.MissCount())
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (*model.Response, bool, error) {
	return nil, false, errors.New("store unavailable")
}

func (failingStore) Set(context.Context, string, *model.Response) error {
	return errors.New("store unavailable")
}

func (failingStore) Len(context.Context) (int, error) {
	return 0, errors.New("store unavailable")
}

func TestResponseCacheMiddleware_StoreErrorsAreMisses(t *testing.T) {
	log, logs := observedLogger()
	m := NewResponseCacheMiddleware(failingStore{}, log)
	ctx := context.Background()

	res, err := m.BeforeModel(ctx, model.Conversation{model.UserMessage("hi")})
	require.NoError(t, err)
	assert.Nil(t, res.Cached)
	assert.Equal(t, 1, m.MissCount())

	resp := &model.Response{Content: "ok"}
	assert.Same(t, resp, m.AfterModel(ctx, res.Token, resp))
	assert.Equal(t, float64(0), m.Stats()["cache_size"])

	assert.Equal(t, 1, logs.FilterMessage("cache lookup failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("cache store failed").Len())
}
