// Package service provides business logic for the middleware API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/internal/pipeline"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
	"github.com/capitalize-ai/model-middleware/pkg/metrics"
)

var (
	// ErrSessionNotFound is returned when a user has no active session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidConversation is returned for malformed conversations.
	ErrInvalidConversation = errors.New("invalid conversation")

	// ErrEventsDisabled is returned when no event stream is configured.
	ErrEventsDisabled = errors.New("event replay is not enabled")
)

// PipelineOptions selects and configures the middleware of each session.
type PipelineOptions struct {
	LoggingVerbose bool
	Budget         pipeline.BudgetConfig
	MaxMessages    int
	AllowedTools   []string

	EnableLogging       bool
	EnableSecurity      bool
	EnableBudget        bool
	EnableSummarization bool
	EnableExpertise     bool
	EnableCache         bool
}

// DefaultPipelineOptions enables every policy with default limits.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		LoggingVerbose:      true,
		Budget:              pipeline.DefaultBudgetConfig(),
		MaxMessages:         pipeline.DefaultMaxMessages,
		EnableLogging:       true,
		EnableSecurity:      true,
		EnableBudget:        true,
		EnableSummarization: true,
		EnableExpertise:     true,
		EnableCache:         true,
	}
}

// EventReader replays recorded policy events.
type EventReader interface {
	GetEvents(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.PolicyEvent, uint64, bool, error)
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithRecorder sends each session's logging events to rec.
func WithRecorder(rec pipeline.EventRecorder) Option {
	return func(s *SessionService) {
		s.recorder = rec
	}
}

// WithEventReader enables event replay.
func WithEventReader(r EventReader) Option {
	return func(s *SessionService) {
		s.events = r
	}
}

// WithCacheStore shares one response store between all sessions. Without it
// every session gets its own in-memory cache.
func WithCacheStore(store pipeline.CacheStore) Option {
	return func(s *SessionService) {
		s.cacheStore = store
	}
}

// Session is one user's pipeline and usage record.
type Session struct {
	ID        string
	User      *model.UserContext
	Pipeline  *pipeline.Pipeline
	CreatedAt time.Time
}

// SessionStats is the observable state of a session.
type SessionStats struct {
	SessionID  string                    `json:"session_id"`
	User       model.UserContextSnapshot `json:"user"`
	Middleware map[string]pipeline.Stats `json:"middleware"`
	Order      []string                  `json:"order"`
	CreatedAt  time.Time                 `json:"created_at"`
}

// EventsResponse is a page of recorded policy events.
type EventsResponse struct {
	Events       []model.PolicyEvent `json:"events"`
	HasMore      bool                `json:"has_more"`
	LastSequence uint64              `json:"last_sequence"`
}

// SessionService keeps one pipeline per user. Policy state such as budgets and
// cache hit counts therefore accumulates per user.
type SessionService struct {
	invoker    pipeline.Invoker
	opts       PipelineOptions
	recorder   pipeline.EventRecorder
	events     EventReader
	cacheStore pipeline.CacheStore
	logger     *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionService creates a session service.
func NewSessionService(invoker pipeline.Invoker, opts PipelineOptions, log *logger.Logger, options ...Option) *SessionService {
	if log == nil {
		log = logger.NewNop()
	}
	s := &SessionService{
		invoker:  invoker,
		opts:     opts,
		logger:   log.Named("session"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Session returns the user's session, creating it on first use. A non-empty
// expertise level that differs from the session's replaces it, so the next
// call is personalized for the level the caller presents now.
func (s *SessionService) Session(userID string, expertise model.ExpertiseLevel) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		if sess.User.SetExpertiseLevel(expertise) {
			s.logger.Info("session expertise changed",
				zap.String("session_id", sess.ID),
				zap.String("user_id", userID),
				zap.String("expertise", string(expertise)),
			)
		}
		return sess
	}

	sess := s.newSession(userID, expertise)
	s.sessions[userID] = sess
	metrics.SessionsActive.Inc()

	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
		zap.String("expertise", string(sess.User.ExpertiseLevel())),
		zap.Int("middlewares", sess.Pipeline.Len()),
	)

	return sess
}

func (s *SessionService) newSession(userID string, expertise model.ExpertiseLevel) *Session {
	id := uuid.Must(uuid.NewV7()).String()
	user := model.NewUserContext(userID, expertise)
	log := s.logger.WithSession(id, userID)

	// Logging is outermost so it sees the raw request and the final response.
	// Security runs before anything that counts, summarizes or caches content.
	var mws []pipeline.Middleware
	if s.opts.EnableLogging {
		opts := []pipeline.LoggingOption{pipeline.WithSessionID(id)}
		if s.recorder != nil {
			opts = append(opts, pipeline.WithRecorder(s.recorder))
		}
		mws = append(mws, pipeline.NewLoggingMiddleware(s.opts.LoggingVerbose, log, opts...))
	}
	if s.opts.EnableSecurity {
		mws = append(mws, pipeline.NewSecurityFilterMiddleware(log))
	}
	if s.opts.EnableBudget {
		mws = append(mws, pipeline.NewTokenBudgetMiddleware(s.opts.Budget, log))
	}
	if s.opts.EnableSummarization {
		mws = append(mws, pipeline.NewSummarizationMiddleware(s.opts.MaxMessages, log))
	}
	if s.opts.EnableExpertise {
		mws = append(mws, pipeline.NewExpertiseMiddleware(user, log))
	}
	if s.opts.EnableCache {
		mws = append(mws, pipeline.NewResponseCacheMiddleware(s.cacheStore, log))
	}
	mws = append(mws, pipeline.NewToolAccessMiddleware(s.opts.AllowedTools, user, log))

	return &Session{
		ID:        id,
		User:      user,
		Pipeline:  pipeline.New(s.invoker, log, mws...),
		CreatedAt: time.Now(),
	}
}

// Chat runs a conversation through the user's pipeline. Budget and model
// errors are returned unchanged.
func (s *SessionService) Chat(ctx context.Context, userID string, expertise model.ExpertiseLevel, conv model.Conversation) (*model.ChatResponse, error) {
	if len(conv) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidConversation)
	}
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConversation, err)
	}

	sess := s.Session(userID, expertise)

	exec, err := sess.Pipeline.Execute(ctx, conv)
	if err != nil {
		return nil, err
	}

	// A cached response spent no provider tokens.
	tokens := 0
	if !exec.Cached {
		tokens = exec.Response.TokensIn + exec.Response.TokensOut
	}
	sess.User.RecordRequest(tokens)

	return &model.ChatResponse{
		SessionID: sess.ID,
		Response:  exec.Response,
		Cached:    exec.Cached,
	}, nil
}

// AuthorizeTool asks the user's pipeline whether a tool may run.
func (s *SessionService) AuthorizeTool(ctx context.Context, userID string, expertise model.ExpertiseLevel, tool string, args map[string]any) (*model.ToolAuthorizeResponse, error) {
	sess := s.Session(userID, expertise)

	err := sess.Pipeline.AuthorizeTool(ctx, tool, args)
	if err == nil {
		return &model.ToolAuthorizeResponse{Tool: tool, Allowed: true}, nil
	}

	var denied *pipeline.AccessDeniedError
	if errors.As(err, &denied) {
		return &model.ToolAuthorizeResponse{Tool: tool, Allowed: false, Reason: denied.Reason}, nil
	}
	return nil, err
}

// Stats returns the user's session statistics.
func (s *SessionService) Stats(_ context.Context, userID string) (*SessionStats, error) {
	sess, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}

	mws := sess.Pipeline.Middlewares()
	order := make([]string, len(mws))
	for i, mw := range mws {
		order[i] = mw.Name()
	}

	return &SessionStats{
		SessionID:  sess.ID,
		User:       sess.User.Snapshot(),
		Middleware: sess.Pipeline.Stats(),
		Order:      order,
		CreatedAt:  sess.CreatedAt,
	}, nil
}

// Events returns recorded policy events for the user's session.
func (s *SessionService) Events(ctx context.Context, userID string, afterSequence uint64, limit int) (*EventsResponse, error) {
	if s.events == nil {
		return nil, ErrEventsDisabled
	}
	sess, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	events, lastSeq, hasMore, err := s.events.GetEvents(ctx, sess.ID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	return &EventsResponse{
		Events:       events,
		HasMore:      hasMore,
		LastSequence: lastSeq,
	}, nil
}

// Reset drops the user's session. The next request starts with fresh budgets
// and an empty per-session cache.
func (s *SessionService) Reset(_ context.Context, userID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if ok {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	metrics.SessionsActive.Dec()
	s.logger.Info("session reset",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID),
	)
	return nil
}

func (s *SessionService) lookup(userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}
