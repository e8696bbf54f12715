package httpapi

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UsernameKey retrieves the authenticated admin username from a request context.
const UsernameKey contextKey = "admin_username"

// TokenValidator decouples the middleware from Auth's concrete JWT choice.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

// AuthMiddleware rejects requests without a valid bearer token.
type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

func (m *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h := r.Header.Get("Authorization"); h != "" {
			if parts := strings.SplitN(h, " ", 2); len(parts) == 2 {
				token = parts[1]
			}
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "missing authentication token", http.StatusUnauthorized)
			return
		}

		username, err := m.validator.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UsernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
