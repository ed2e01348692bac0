package model

import (
	"strings"
	"sync"
	"time"
)

// ExpertiseLevel describes how much the user knows about the subject.
type ExpertiseLevel string

const (
	ExpertiseBeginner     ExpertiseLevel = "beginner"
	ExpertiseIntermediate ExpertiseLevel = "intermediate"
	ExpertiseExpert       ExpertiseLevel = "expert"
)

// ParseExpertise maps a free-form string to a level, defaulting to beginner.
func ParseExpertise(s string) ExpertiseLevel {
	switch ExpertiseLevel(strings.ToLower(strings.TrimSpace(s))) {
	case ExpertiseExpert:
		return ExpertiseExpert
	case ExpertiseIntermediate:
		return ExpertiseIntermediate
	default:
		return ExpertiseBeginner
	}
}

// UserContext is the per-session user record shared with personalization and
// access-control middleware. The caller owns it; middleware only reads it.
// Counters change only through RecordRequest and the level only through
// SetExpertiseLevel.
type UserContext struct {
	mu           sync.RWMutex
	userID       string
	expertise    ExpertiseLevel
	sessionStart time.Time
	tokenCount   int
	requestCount int
}

// NewUserContext creates a user context starting now.
func NewUserContext(userID string, expertise ExpertiseLevel) *UserContext {
	if userID == "" {
		userID = "unknown"
	}
	if expertise == "" {
		expertise = ExpertiseBeginner
	}
	return &UserContext{
		userID:       userID,
		expertise:    expertise,
		sessionStart: time.Now(),
	}
}

// UserID returns the user identifier.
func (u *UserContext) UserID() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.userID
}

// ExpertiseLevel returns the current expertise level.
func (u *UserContext) ExpertiseLevel() ExpertiseLevel {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.expertise
}

// SetExpertiseLevel changes the expertise level and reports whether it
// changed. An empty level is ignored.
func (u *UserContext) SetExpertiseLevel(level ExpertiseLevel) bool {
	if level == "" {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.expertise == level {
		return false
	}
	u.expertise = level
	return true
}

// SessionStart returns when the session began.
func (u *UserContext) SessionStart() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sessionStart
}

// TokenCount returns the tokens recorded so far.
func (u *UserContext) TokenCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.tokenCount
}

// RequestCount returns the requests recorded so far.
func (u *UserContext) RequestCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.requestCount
}

// RecordRequest counts one completed request using the given number of tokens.
// Negative token counts are ignored.
func (u *UserContext) RecordRequest(tokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requestCount++
	if tokens > 0 {
		u.tokenCount += tokens
	}
}

// UserContextSnapshot is a point-in-time copy of a UserContext.
type UserContextSnapshot struct {
	UserID         string         `json:"user_id"`
	ExpertiseLevel ExpertiseLevel `json:"expertise_level"`
	SessionStart   time.Time      `json:"session_start"`
	TokenCount     int            `json:"token_count"`
	RequestCount   int            `json:"request_count"`
}

// Snapshot copies the current values.
func (u *UserContext) Snapshot() UserContextSnapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return UserContextSnapshot{
		UserID:         u.userID,
		ExpertiseLevel: u.expertise,
		SessionStart:   u.sessionStart,
		TokenCount:     u.tokenCount,
		RequestCount:   u.requestCount,
	}
}
