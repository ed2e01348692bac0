package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/model-middleware/internal/model"
)

type fakeClient struct {
	last *CompletionRequest
	resp *CompletionResponse
	err  error
}

func (f *fakeClient) Complete(_ context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	f.last = req
	return f.resp, f.err
}

func (f *fakeClient) Name() string     { return "fake" }
func (f *fakeClient) Models() []string { return []string{"fake-1"} }

func TestInvoker_Invoke(t *testing.T) {
	client := &fakeClient{resp: &CompletionResponse{
		Content:    "hi there",
		Model:      "fake-1",
		TokensIn:   5,
		TokensOut:  2,
		StopReason: "end_turn",
		LatencyMs:  12,
	}}
	inv := NewInvoker(client, "fake-1", 256)

	conv := model.Conversation{model.SystemMessage("be brief"), model.UserMessage("hello")}
	resp, err := inv.Invoke(context.Background(), conv)
	require.NoError(t, err)

	assert.Equal(t, &model.Response{
		Content:    "hi there",
		Model:      "fake-1",
		TokensIn:   5,
		TokensOut:  2,
		StopReason: "end_turn",
		LatencyMs:  12,
	}, resp)
	assert.Equal(t, "fake-1", client.last.Model)
	assert.Equal(t, 256, client.last.MaxTokens)
	assert.Equal(t, []ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}, client.last.Messages)
}

func TestInvoker_ModelError(t *testing.T) {
	cause := errors.New("quota exceeded")
	inv := NewInvoker(&fakeClient{err: cause}, "", 0)

	_, err := inv.Invoke(context.Background(), model.Conversation{model.UserMessage("x")})
	require.Error(t, err)

	var modelErr *ModelError
	require.True(t, errors.As(err, &modelErr))
	assert.Equal(t, "fake", modelErr.Provider)
	assert.Equal(t, "default", modelErr.Model)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "fake model default: quota exceeded", err.Error())
}

func TestSplitSystem(t *testing.T) {
	system, turns := splitSystem([]ChatMessage{
		{Role: "system", Content: "a"},
		{Role: "user", Content: "q"},
		{Role: "system", Content: "b"},
		{Role: "assistant", Content: "r"},
	})
	assert.Equal(t, []string{"a", "b"}, system)
	assert.Equal(t, []ChatMessage{{Role: "user", Content: "q"}, {Role: "assistant", Content: "r"}}, turns)
}

func TestNewClient_RequiresKey(t *testing.T) {
	c, err := NewClient(ProviderOpenAI, "")
	assert.Error(t, err)
	assert.Nil(t, c)

	c, err = NewClient(ProviderAnthropic, "")
	assert.Error(t, err)
	assert.Nil(t, c)

	c, err = NewClient(ProviderOpenAI, "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: "pong"},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 7, CompletionTokens: 1},
		})
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL
	client := NewOpenAIClientWithConfig(cfg)

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{{Role: "user", Content: "ping"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, 7, resp.TokensIn)
	assert.Equal(t, 1, resp.TokensOut)
	assert.Equal(t, "stop", resp.StopReason)

	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "ping", got.Messages[0].Content)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL
	inv := NewInvoker(NewOpenAIClientWithConfig(cfg), "gpt-4o", 0)

	_, err := inv.Invoke(context.Background(), model.Conversation{model.UserMessage("x")})
	require.Error(t, err)

	var apiErr *openai.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatusCode)
}
