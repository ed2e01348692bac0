// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/metrics"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		c, err := NewOpenAIClient(apiKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		c, err := NewAnthropicClient(apiKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ModelError is a provider or transport failure from a model call.
type ModelError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Invoker calls a Client with a fixed model and token limit.
type Invoker struct {
	client    Client
	model     string
	maxTokens int
}

// NewInvoker creates an invoker. An empty model lets the provider pick its default.
func NewInvoker(client Client, model string, maxTokens int) *Invoker {
	return &Invoker{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Invoke sends the conversation to the provider. Failures come back as *ModelError.
func (i *Invoker) Invoke(ctx context.Context, conv model.Conversation) (*model.Response, error) {
	start := time.Now()

	resp, err := i.client.Complete(ctx, &CompletionRequest{
		Model:     i.model,
		Messages:  ToChatMessages(conv),
		MaxTokens: i.maxTokens,
	})
	if err != nil {
		metrics.RecordLLMRequest(i.modelLabel(), "error", time.Since(start).Seconds(), 0, 0)
		return nil, &ModelError{Provider: i.client.Name(), Model: i.modelLabel(), Err: err}
	}

	metrics.RecordLLMRequest(resp.Model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	return &model.Response{
		Content:    resp.Content,
		Model:      resp.Model,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		StopReason: resp.StopReason,
		LatencyMs:  resp.LatencyMs,
	}, nil
}

func (i *Invoker) modelLabel() string {
	if i.model == "" {
		return "default"
	}
	return i.model
}

// ToChatMessages converts a conversation to provider messages.
func ToChatMessages(conv model.Conversation) []ChatMessage {
	out := make([]ChatMessage, len(conv))
	for i, msg := range conv {
		out[i] = ChatMessage{Role: string(msg.Role), Content: msg.Content}
	}
	return out
}

// splitSystem separates system prompts from the turn messages for providers
// that take the system prompt out of band.
func splitSystem(messages []ChatMessage) (system []string, turns []ChatMessage) {
	for _, msg := range messages {
		if msg.Role == string(model.RoleSystem) {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}
