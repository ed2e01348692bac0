package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
)

const (
	messagePreviewLen  = 100
	responsePreviewLen = 150
)

// EventRecorder receives policy events, e.g. a message stream.
type EventRecorder interface {
	Record(ctx context.Context, event *model.PolicyEvent) error
}

// LoggingOption configures a LoggingMiddleware.
type LoggingOption func(*LoggingMiddleware)

// WithRecorder sends every call and response event to rec as well as the log.
func WithRecorder(rec EventRecorder) LoggingOption {
	return func(m *LoggingMiddleware) {
		m.recorder = rec
	}
}

// WithSessionID tags recorded events with a session.
func WithSessionID(id string) LoggingOption {
	return func(m *LoggingMiddleware) {
		m.sessionID = id
	}
}

// LoggingMiddleware records every model call and response without changing them.
type LoggingMiddleware struct {
	Base

	verbose   bool
	logger    *logger.Logger
	recorder  EventRecorder
	sessionID string

	mu        sync.Mutex
	callCount int64
}

// NewLoggingMiddleware creates a logging middleware. When verbose is false
// calls are still counted and recorded but not logged.
func NewLoggingMiddleware(verbose bool, log *logger.Logger, opts ...LoggingOption) *LoggingMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	m := &LoggingMiddleware{
		verbose: verbose,
		logger:  log.Named("logging"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements Middleware.
func (m *LoggingMiddleware) Name() string { return "logging" }

// BeforeModel logs the incoming conversation.
func (m *LoggingMiddleware) BeforeModel(ctx context.Context, conv model.Conversation) (Result, error) {
	m.mu.Lock()
	m.callCount++
	call := m.callCount
	m.mu.Unlock()

	now := time.Now()
	previews := make([]string, len(conv))
	for i, msg := range conv {
		previews[i] = preview(msg.Content, messagePreviewLen)
	}

	if m.verbose {
		m.logger.Info("model call",
			zap.Int64("call", call),
			zap.Time("timestamp", now),
			zap.Int("messages", len(conv)),
			zap.Strings("previews", previews),
		)
	}

	m.record(ctx, model.EventTypeModelCall, call, map[string]any{
		"messages": len(conv),
		"previews": previews,
	})

	// The call number travels as the token so concurrent calls keep their own.
	return Result{Conversation: conv, Token: strconv.FormatInt(call, 10)}, nil
}

// AfterModel logs a preview of the response under the call number from token.
func (m *LoggingMiddleware) AfterModel(ctx context.Context, token string, resp *model.Response) *model.Response {
	call, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		m.logger.Warn("invalid call token", zap.String("token", token))
	}

	out := preview(resp.String(), responsePreviewLen)
	if m.verbose {
		m.logger.Info("model response",
			zap.Int64("call", call),
			zap.String("output", out),
		)
	}

	m.record(ctx, model.EventTypeModelResponse, call, map[string]any{
		"output": out,
	})

	return resp
}

// CallCount returns how many calls have been seen.
func (m *LoggingMiddleware) CallCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Stats implements Middleware.
func (m *LoggingMiddleware) Stats() Stats {
	return Stats{"call_count": float64(m.CallCount())}
}

func (m *LoggingMiddleware) record(ctx context.Context, typ model.EventType, seq int64, meta map[string]any) {
	if m.recorder == nil {
		return
	}
	event := &model.PolicyEvent{
		ID:         uuid.Must(uuid.NewV7()).String(),
		SessionID:  m.sessionID,
		Middleware: m.Name(),
		Type:       typ,
		Sequence:   seq,
		Metadata:   meta,
		CreatedAt:  time.Now(),
	}
	if err := m.recorder.Record(ctx, event); err != nil {
		m.logger.Warn("failed to record policy event",
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

// preview truncates s to n runes, marking the cut with an ellipsis.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
