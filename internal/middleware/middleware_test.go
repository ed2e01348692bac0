package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/model-middleware/internal/model"
	"github.com/capitalize-ai/model-middleware/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func claimsFor(sub, expertise string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Expertise: expertise,
	}
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context()) + "/" + string(GetExpertise(r.Context()))))
	})
}

func TestAuth(t *testing.T) {
	h := Auth(testSecret, model.ExpertiseIntermediate)(echoUser())

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing header", "", http.StatusUnauthorized, "missing authorization header"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"bad signature", "Bearer " + signToken(t, "other", claimsFor("alice", "expert")), http.StatusUnauthorized, "invalid token"},
		{"no subject", "Bearer " + signToken(t, testSecret, claimsFor("", "expert")), http.StatusUnauthorized, "invalid token"},
		{"expert claim", "Bearer " + signToken(t, testSecret, claimsFor("alice", "Expert")), http.StatusOK, "alice/expert"},
		{"default expertise", "Bearer " + signToken(t, testSecret, claimsFor("bob", "")), http.StatusOK, "bob/intermediate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	claims := claimsFor("alice", "")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
	rec := httptest.NewRecorder()
	Auth(testSecret, model.ExpertiseBeginner)(echoUser()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := logger.Wrap(zap.New(core))

	h := Logging(log)(Auth(testSecret, model.ExpertiseBeginner)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corr-1", GetCorrelationID(r.Context()))
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claimsFor("alice", "")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, int64(http.StatusCreated), fields["status"])
	assert.Equal(t, "corr-1", fields["correlation_id"])
}

func TestLogging_GeneratesCorrelationID(t *testing.T) {
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, rec.Header().Get("X-Correlation-ID"), 36)
}

func TestRateLimit(t *testing.T) {
	h := Auth(testSecret, model.ExpertiseBeginner)(RateLimit(1, time.Minute)(echoUser()))

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claimsFor(user, "")))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("alice"))
	assert.Equal(t, http.StatusTooManyRequests, do("alice"))
	assert.Equal(t, http.StatusOK, do("bob"))
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidateConversation(t *testing.T) {
	assert.NoError(t, ValidateConversation(model.Conversation{model.UserMessage("hi")}))
	assert.Error(t, ValidateConversation(nil))
	assert.Error(t, ValidateConversation(model.Conversation{{Role: "robot", Content: "hi"}}))
	assert.Error(t, ValidateConversation(model.Conversation{model.UserMessage("")}))
	assert.Error(t, ValidateConversation(model.Conversation{model.UserMessage(strings.Repeat("a", maxContentLength+1))}))
	assert.Error(t, ValidateConversation(make(model.Conversation, maxMessages+1)))
}

func TestValidateToolName(t *testing.T) {
	assert.NoError(t, ValidateToolName("web_search.v2"))
	assert.Error(t, ValidateToolName(""))
	assert.Error(t, ValidateToolName("rm -rf"))
	assert.Error(t, ValidateToolName(strings.Repeat("a", 65)))
}
