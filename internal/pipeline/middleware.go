// Package pipeline runs ordered middleware around a single model invocation.
//
// A Pipeline executes in two phases:
//   - Pre-call: BeforeModel runs in declaration order and may rewrite the conversation,
//     fail the request, or report a cached response.
//   - Post-call: AfterModel runs in reverse declaration order over the response.
//
// WrapToolCall is a separate capability consulted by the tool-execution boundary
// through Pipeline.AuthorizeTool.
package pipeline

import (
	"context"

	"github.com/capitalize-ai/model-middleware/internal/model"
)

// Result is the outcome of a BeforeModel hook.
type Result struct {
	// Conversation is passed to the next middleware.
	Conversation model.Conversation
	// Token is returned to the same middleware's AfterModel.
	Token string
	// Cached, when set, replaces the model call.
	Cached *model.Response
}

// Continue returns a result that passes conv through unchanged.
func Continue(conv model.Conversation) Result {
	return Result{Conversation: conv}
}

// Decision is the outcome of a tool gate.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow permits a tool call.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny refuses a tool call.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Stats is a snapshot of a middleware's counters.
type Stats map[string]float64

// Middleware is implemented by every policy. Embed Base to get no-op defaults
// for the capabilities a policy does not use.
type Middleware interface {
	// Name identifies the middleware in logs and stats.
	Name() string

	// BeforeModel inspects or rewrites the conversation before the model call.
	BeforeModel(ctx context.Context, conv model.Conversation) (Result, error)

	// AfterModel inspects or replaces the response. token is the value this
	// middleware returned from BeforeModel.
	AfterModel(ctx context.Context, token string, resp *model.Response) *model.Response

	// WrapToolCall decides whether a tool may run.
	WrapToolCall(ctx context.Context, tool string, args map[string]any) Decision

	// Stats reports counters for observability.
	Stats() Stats
}

// Base implements every Middleware capability as a no-op.
type Base struct{}

// BeforeModel returns the conversation unchanged.
func (Base) BeforeModel(_ context.Context, conv model.Conversation) (Result, error) {
	return Continue(conv), nil
}

// AfterModel returns the response unchanged.
func (Base) AfterModel(_ context.Context, _ string, resp *model.Response) *model.Response {
	return resp
}

// WrapToolCall allows every tool.
func (Base) WrapToolCall(context.Context, string, map[string]any) Decision {
	return Allow()
}

// Stats reports nothing.
func (Base) Stats() Stats {
	return nil
}
