package pipeline

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
	"github.com/capitalize-ai/model-middleware/pkg/metrics"
)

// RedactionCategory names a kind of sensitive data.
type RedactionCategory string

const (
	CategoryEmail  RedactionCategory = "EMAIL"
	CategoryPhone  RedactionCategory = "PHONE"
	CategoryAPIKey RedactionCategory = "API_KEY"
)

// Placeholder returns the replacement text for the category.
func (c RedactionCategory) Placeholder() string {
	return "[REDACTED_" + string(c) + "]"
}

type redactionRule struct {
	category RedactionCategory
	expr     *regexp.Regexp
	// hint, when set, must follow a match on the same line (case-insensitive)
	// for that match to be redacted.
	hint string
}

// Rules run in this order on every message.
var defaultRedactionRules = []redactionRule{
	{
		category: CategoryEmail,
		expr:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	},
	{
		category: CategoryPhone,
		expr:     regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
	},
	{
		category: CategoryAPIKey,
		expr:     regexp.MustCompile(`\b[A-Za-z0-9_-]{20,}\b`),
		hint:     "key",
	},
}

// SecurityFilterMiddleware redacts emails, phone numbers and API keys from
// message content before it reaches the model.
type SecurityFilterMiddleware struct {
	Base

	rules  []redactionRule
	logger *logger.Logger

	mu             sync.Mutex
	redactionCount int
}

// NewSecurityFilterMiddleware creates a security filter with the built-in rules.
func NewSecurityFilterMiddleware(log *logger.Logger) *SecurityFilterMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	return &SecurityFilterMiddleware{
		rules:  defaultRedactionRules,
		logger: log.Named("security_filter"),
	}
}

// Name implements Middleware.
func (m *SecurityFilterMiddleware) Name() string { return "security_filter" }

// Redact applies every rule to s and reports which categories matched.
func (m *SecurityFilterMiddleware) Redact(s string) (string, []RedactionCategory) {
	var matched []RedactionCategory
	for _, rule := range m.rules {
		out, ok := rule.apply(s)
		if !ok {
			continue
		}
		s = out
		matched = append(matched, rule.category)
	}
	return s, matched
}

func (r redactionRule) apply(s string) (string, bool) {
	if r.hint == "" {
		if !r.expr.MatchString(s) {
			return s, false
		}
		return r.expr.ReplaceAllLiteralString(s, r.category.Placeholder()), true
	}

	var b strings.Builder
	last := 0
	for _, loc := range r.expr.FindAllStringIndex(s, -1) {
		if !hintFollows(s[loc[1]:], r.hint) {
			continue
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(r.category.Placeholder())
		last = loc[1]
	}
	if last == 0 {
		return s, false
	}
	b.WriteString(s[last:])
	return b.String(), true
}

// hintFollows reports whether hint occurs in rest before the next newline.
func hintFollows(rest, hint string) bool {
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return strings.Contains(strings.ToLower(rest), hint)
}

// BeforeModel returns a conversation of the same shape with redacted content.
func (m *SecurityFilterMiddleware) BeforeModel(_ context.Context, conv model.Conversation) (Result, error) {
	out := make(model.Conversation, len(conv))
	seen := make(map[RedactionCategory]bool)
	var order []RedactionCategory

	for i, msg := range conv {
		content, matched := m.Redact(msg.Content)
		out[i] = model.Message{Role: msg.Role, Content: content}
		for _, c := range matched {
			if !seen[c] {
				seen[c] = true
				order = append(order, c)
			}
		}
	}

	if len(order) == 0 {
		return Continue(out), nil
	}

	m.mu.Lock()
	m.redactionCount += len(order)
	total := m.redactionCount
	m.mu.Unlock()

	names := make([]string, len(order))
	for i, c := range order {
		names[i] = string(c)
		metrics.RedactionsTotal.WithLabelValues(string(c)).Inc()
	}
	m.logger.Info("sensitive data redacted",
		zap.Strings("categories", names),
		zap.Int("total", total),
	)

	return Continue(out), nil
}

// RedactionCount returns the number of category redactions so far.
func (m *SecurityFilterMiddleware) RedactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.redactionCount
}

// Stats implements Middleware.
func (m *SecurityFilterMiddleware) Stats() Stats {
	return Stats{"redaction_count": float64(m.RedactionCount())}
}
