package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/model-middleware/internal/llm"
	"github.com/capitalize-ai/model-middleware/internal/middleware"
	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/internal/pipeline"
	"github.com/capitalize-ai/model-middleware/internal/service"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
)

const testSecret = "test-secret"

type stubClient struct {
	err error
}

func (s *stubClient) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{
		Content:   "reply to: " + req.Messages[len(req.Messages)-1].Content,
		Model:     "stub",
		TokensIn:  3,
		TokensOut: 4,
	}, nil
}

func (s *stubClient) Name() string     { return "stub" }
func (s *stubClient) Models() []string { return []string{"stub"} }

func newTestServer(t *testing.T, client llm.Client, opts service.PipelineOptions, health *HealthHandler) *httptest.Server {
	t.Helper()
	log := logger.NewNop()
	sessions := service.NewSessionService(llm.NewInvoker(client, "stub", 64), opts, log)
	if health == nil {
		health = NewHealthHandler(nil, nil)
	}
	router := NewRouter(RouterConfig{
		JWTSecret:         testSecret,
		DefaultExpertise:  model.ExpertiseBeginner,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}, health, NewChatHandler(sessions, log), log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func defaultOpts() service.PipelineOptions {
	opts := service.DefaultPipelineOptions()
	opts.LoggingVerbose = false
	opts.AllowedTools = []string{"search"}
	return opts
}

func token(t *testing.T, user, expertise string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Expertise: expertise,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, srv *httptest.Server, method, path, user string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user, "expert"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func chatBody(content string) model.ChatRequest {
	return model.ChatRequest{Messages: []model.Message{model.UserMessage(content)}}
}

func TestChat(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, defaultOpts(), nil)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/chat", "alice", chatBody("reach me at a@b.com"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, "reply to: reach me at [REDACTED_EMAIL]", body["response"].(map[string]interface{})["content"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestChat_Unauthorized(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, defaultOpts(), nil)

	resp, _ := do(t, srv, http.MethodPost, "/api/v1/chat", "", chatBody("hi"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChat_BadRequest(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, defaultOpts(), nil)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/chat", "alice", model.ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "messages cannot be empty", body["error"])

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/chat", "alice", "not an object")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_BudgetErrors(t *testing.T) {
	opts := defaultOpts()
	opts.EnableCache = false
	opts.Budget = pipeline.BudgetConfig{MaxTokens: 10000, MaxRequests: 1}
	srv := newTestServer(t, &stubClient{}, opts, nil)

	resp, _ := do(t, srv, http.MethodPost, "/api/v1/chat", "alice", chatBody("hi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/chat", "alice", chatBody("hi"))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "request limit exceeded: maximum 1 requests allowed", body["error"])

	opts.Budget = pipeline.BudgetConfig{MaxTokens: 1, MaxRequests: 10}
	opts.EnableExpertise = false
	srv = newTestServer(t, &stubClient{}, opts, nil)

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/chat", "bob", chatBody("this message is far too long"))
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestChat_ModelError(t *testing.T) {
	srv := newTestServer(t, &stubClient{err: errors.New("boom")}, defaultOpts(), nil)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/chat", "alice", chatBody("hi"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "model provider error", body["error"])
}

func TestAuthorizeTool(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, defaultOpts(), nil)

	resp, body := do(t, srv, http.MethodPost, "/api/v1/tools/search/authorize", "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["allowed"])

	resp, body = do(t, srv, http.MethodPost, "/api/v1/tools/shell/authorize", "alice",
		model.ToolAuthorizeRequest{Arguments: map[string]any{"cmd": "ls"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "Access denied: Tool 'shell' not permitted for user 'alice'", body["reason"])

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/tools/bad%20name/authorize", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndReset(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, defaultOpts(), nil)

	resp, _ := do(t, srv, http.MethodGet, "/api/v1/stats", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodPost, "/api/v1/chat", "alice", chatBody("hi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodPost, "/api/v1/chat", "alice", chatBody("hi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, srv, http.MethodGet, "/api/v1/stats", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "expert", user["expertise_level"])
	assert.Equal(t, float64(2), user["request_count"])
	cache := body["middleware"].(map[string]interface{})["response_cache"].(map[string]interface{})
	assert.Equal(t, float64(1), cache["hit_count"])

	resp, _ = do(t, srv, http.MethodDelete, "/api/v1/session", "alice", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/api/v1/session", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEvents_Disabled(t *testing.T) {
	srv := newTestServer(t, &stubClient{}, defaultOpts(), nil)

	resp, _ := do(t, srv, http.MethodPost, "/api/v1/chat", "alice", chatBody("hi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/v1/events", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	srv := newTestServer(t, &stubClient{}, defaultOpts(), NewHealthHandler(nil, client))

	resp, body := do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = do(t, srv, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])

	mr.Close()
	resp, body = do(t, srv, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "redis unavailable", body["reason"])
}
