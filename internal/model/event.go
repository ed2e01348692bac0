package model

import (
	"time"
)

// EventType represents the type of policy event.
type EventType string

const (
	EventTypeModelCall     EventType = "model_call"
	EventTypeModelResponse EventType = "model_response"
)

// PolicyEvent is an observability record emitted by a middleware.
type PolicyEvent struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id,omitempty"`
	Middleware string         `json:"middleware"`
	Type       EventType      `json:"type"`
	Sequence   int64          `json:"sequence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
