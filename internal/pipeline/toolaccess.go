package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
)

// ToolAccessMiddleware only lets allow-listed tools run. It never looks at
// the conversation.
type ToolAccessMiddleware struct {
	Base

	allowed map[string]struct{}
	user    *model.UserContext
	logger  *logger.Logger

	mu              sync.Mutex
	blockedAttempts int
}

// NewToolAccessMiddleware creates a tool gate for user with the given allow list.
func NewToolAccessMiddleware(allowedTools []string, user *model.UserContext, log *logger.Logger) *ToolAccessMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	allowed := make(map[string]struct{}, len(allowedTools))
	for _, t := range allowedTools {
		allowed[t] = struct{}{}
	}
	return &ToolAccessMiddleware{
		allowed: allowed,
		user:    user,
		logger:  log.Named("tool_access"),
	}
}

// Name implements Middleware.
func (m *ToolAccessMiddleware) Name() string { return "tool_access" }

// AllowedTools returns the allow list, sorted.
func (m *ToolAccessMiddleware) AllowedTools() []string {
	out := make([]string, 0, len(m.allowed))
	for t := range m.allowed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// WrapToolCall allows tools on the allow list and counts everything else.
func (m *ToolAccessMiddleware) WrapToolCall(_ context.Context, tool string, _ map[string]any) Decision {
	if _, ok := m.allowed[tool]; ok {
		m.logger.Debug("tool allowed", zap.String("tool", tool))
		return Allow()
	}

	m.mu.Lock()
	m.blockedAttempts++
	blocked := m.blockedAttempts
	m.mu.Unlock()

	userID := m.user.UserID()
	m.logger.Warn("tool blocked",
		zap.String("tool", tool),
		zap.String("user_id", userID),
		zap.Strings("allowed_tools", m.AllowedTools()),
		zap.Int("blocked_attempts", blocked),
	)

	return Deny(fmt.Sprintf("Access denied: Tool '%s' not permitted for user '%s'", tool, userID))
}

// BlockedAttempts returns how many calls were refused.
func (m *ToolAccessMiddleware) BlockedAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockedAttempts
}

// Stats implements Middleware.
func (m *ToolAccessMiddleware) Stats() Stats {
	return Stats{
		"blocked_attempts": float64(m.BlockedAttempts()),
		"allowed_tools":    float64(len(m.allowed)),
	}
}
