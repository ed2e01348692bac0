// Package model defines data structures shared by the middleware pipeline.
package model

import (
	"fmt"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single conversation turn. Values are treated as immutable:
// code that changes a message builds a new one.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Validate checks that the message is well formed.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	return nil
}

// Response is the result of a model invocation.
type Response struct {
	Content    string `json:"content"`
	Model      string `json:"model,omitempty"`
	TokensIn   int    `json:"tokens_in,omitempty"`
	TokensOut  int    `json:"tokens_out,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
	LatencyMs  int64  `json:"latency_ms,omitempty"`
}

// String returns the response content.
func (r *Response) String() string {
	if r == nil {
		return ""
	}
	return r.Content
}

// ChatRequest is the request body for a pipeline call.
type ChatRequest struct {
	Messages []Message `json:"messages"`
}

// ChatResponse is returned after a pipeline call.
type ChatResponse struct {
	SessionID string    `json:"session_id"`
	Response  *Response `json:"response"`
	Cached    bool      `json:"cached"`
}

// ToolAuthorizeRequest asks whether a tool may run.
type ToolAuthorizeRequest struct {
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolAuthorizeResponse is the gate decision for a tool call.
type ToolAuthorizeResponse struct {
	Tool    string `json:"tool"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
