package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
	"github.com/capitalize-ai/model-middleware/pkg/metrics"
)

// DefaultMaxMessages is the history length kept by default.
const DefaultMaxMessages = 10

// SummarizationMiddleware compacts long histories: system messages are kept,
// the oldest other messages are replaced by one synthetic summary message.
type SummarizationMiddleware struct {
	Base

	maxMessages int
	logger      *logger.Logger

	mu                 sync.Mutex
	summarizationCount int
}

// NewSummarizationMiddleware creates a summarization middleware keeping at
// most maxMessages messages plus the summary.
func NewSummarizationMiddleware(maxMessages int, log *logger.Logger) *SummarizationMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	return &SummarizationMiddleware{
		maxMessages: maxMessages,
		logger:      log.Named("summarization"),
	}
}

// Name implements Middleware.
func (m *SummarizationMiddleware) Name() string { return "summarization" }

// SummaryText is the content of the synthetic summary message.
func SummaryText(discarded int) string {
	return fmt.Sprintf("[Summary of %d previous messages: Context about earlier conversation]", discarded)
}

// BeforeModel compacts the conversation when it is longer than the limit.
// Every call over the limit counts as a summarization, including one that
// discards nothing.
//
// When the system messages alone reach the limit no other message is kept;
// every system message is still returned. The result then holds all system
// messages plus the summary, so it exceeds maxMessages+1 when there are more
// than maxMessages system messages.
func (m *SummarizationMiddleware) BeforeModel(_ context.Context, conv model.Conversation) (Result, error) {
	if len(conv) <= m.maxMessages {
		return Continue(conv), nil
	}

	var system, rest model.Conversation
	for _, msg := range conv {
		if msg.Role == model.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	keep := m.maxMessages - len(system)
	if keep < 0 {
		keep = 0
	}
	if keep > len(rest) {
		keep = len(rest)
	}
	discarded := len(rest) - keep

	out := make(model.Conversation, 0, len(system)+1+keep)
	out = append(out, system...)
	if discarded > 0 {
		out = append(out, model.SystemMessage(SummaryText(discarded)))
	}
	out = append(out, rest[len(rest)-keep:]...)

	m.mu.Lock()
	m.summarizationCount++
	count := m.summarizationCount
	m.mu.Unlock()

	metrics.SummarizationsTotal.Inc()
	m.logger.Info("conversation summarized",
		zap.Int("messages", len(conv)),
		zap.Int("max_messages", m.maxMessages),
		zap.Int("discarded", discarded),
		zap.Int("summarization", count),
	)

	return Continue(out), nil
}

// SummarizationCount returns how many times history was compacted.
func (m *SummarizationMiddleware) SummarizationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summarizationCount
}

// Stats implements Middleware.
func (m *SummarizationMiddleware) Stats() Stats {
	return Stats{
		"summarization_count": float64(m.SummarizationCount()),
		"max_messages":        float64(m.maxMessages),
	}
}
