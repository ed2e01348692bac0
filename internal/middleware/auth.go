// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/model-middleware/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "user_id"
	// ExpertiseKey is the context key for the user's expertise level.
	ExpertiseKey ContextKey = "expertise"
)

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Expertise string `json:"expertise,omitempty"`
}

// Auth creates JWT authentication middleware. Tokens without an expertise
// claim fall back to defaultExpertise.
func Auth(jwtSecret string, defaultExpertise model.ExpertiseLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid || claims.Subject == "" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			expertise := defaultExpertise
			if claims.Expertise != "" {
				expertise = model.ParseExpertise(claims.Expertise)
			}

			setLoggedUser(r.Context(), claims.Subject)

			ctx := context.WithValue(r.Context(), UserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, ExpertiseKey, expertise)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetExpertise gets the expertise level from context.
func GetExpertise(ctx context.Context) model.ExpertiseLevel {
	if v, ok := ctx.Value(ExpertiseKey).(model.ExpertiseLevel); ok {
		return v
	}
	return ""
}
