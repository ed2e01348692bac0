package pipeline

import (
	"context"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
	"github.com/capitalize-ai/model-middleware/pkg/metrics"
)

// charsPerToken is the coarse estimate used instead of a real tokenizer.
const charsPerToken = 4

// BudgetConfig limits what a TokenBudgetMiddleware lets through.
type BudgetConfig struct {
	MaxTokens   int `json:"max_tokens"`
	MaxRequests int `json:"max_requests"`
}

// DefaultBudgetConfig returns the default limits.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxTokens:   10000,
		MaxRequests: 50,
	}
}

// BudgetUsage is a snapshot of a budget's counters.
type BudgetUsage struct {
	TotalTokensUsed int `json:"total_tokens_used"`
	RequestCount    int `json:"request_count"`
	MaxTokens       int `json:"max_tokens"`
	MaxRequests     int `json:"max_requests"`
}

// TokenBudgetMiddleware refuses requests once the estimated token total or
// the request count would pass its limits. Counters only grow.
type TokenBudgetMiddleware struct {
	Base

	config BudgetConfig
	logger *logger.Logger

	mu              sync.Mutex
	totalTokensUsed int
	requestCount    int
}

// NewTokenBudgetMiddleware creates a token budget middleware.
func NewTokenBudgetMiddleware(config BudgetConfig, log *logger.Logger) *TokenBudgetMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	return &TokenBudgetMiddleware{
		config: config,
		logger: log.Named("token_budget"),
	}
}

// Name implements Middleware.
func (m *TokenBudgetMiddleware) Name() string { return "token_budget" }

// EstimateTokens approximates the token cost of a conversation as its total
// character count divided by four.
func EstimateTokens(conv model.Conversation) int {
	chars := 0
	for _, msg := range conv {
		chars += utf8.RuneCountInString(msg.Content)
	}
	return chars / charsPerToken
}

// BeforeModel counts the request and charges its estimated tokens.
func (m *TokenBudgetMiddleware) BeforeModel(_ context.Context, conv model.Conversation) (Result, error) {
	estimated := EstimateTokens(conv)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCount++

	m.logger.Debug("checking token budget",
		zap.Int("request", m.requestCount),
		zap.Int("estimated_tokens", estimated),
		zap.Int("used_tokens", m.totalTokensUsed),
		zap.Int("max_tokens", m.config.MaxTokens),
		zap.Int("max_requests", m.config.MaxRequests),
	)

	if m.requestCount > m.config.MaxRequests {
		metrics.BudgetRejectionsTotal.WithLabelValues("requests").Inc()
		return Result{}, &BudgetError{
			Kind:      ErrRequestLimitExceeded,
			Limit:     m.config.MaxRequests,
			Attempted: m.requestCount,
		}
	}

	if m.totalTokensUsed+estimated > m.config.MaxTokens {
		metrics.BudgetRejectionsTotal.WithLabelValues("tokens").Inc()
		return Result{}, &BudgetError{
			Kind:      ErrBudgetExceeded,
			Limit:     m.config.MaxTokens,
			Attempted: m.totalTokensUsed + estimated,
		}
	}

	m.totalTokensUsed += estimated
	metrics.EstimatedTokensTotal.Add(float64(estimated))

	return Continue(conv), nil
}

// Usage returns the current counters.
func (m *TokenBudgetMiddleware) Usage() BudgetUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return BudgetUsage{
		TotalTokensUsed: m.totalTokensUsed,
		RequestCount:    m.requestCount,
		MaxTokens:       m.config.MaxTokens,
		MaxRequests:     m.config.MaxRequests,
	}
}

// Stats implements Middleware.
func (m *TokenBudgetMiddleware) Stats() Stats {
	u := m.Usage()
	return Stats{
		"total_tokens_used": float64(u.TotalTokensUsed),
		"request_count":     float64(u.RequestCount),
		"max_tokens":        float64(u.MaxTokens),
		"max_requests":      float64(u.MaxRequests),
	}
}
