// ABOUTME: HTTP middleware for JWT authentication on API and WebSocket endpoints
// ABOUTME: Resolves the bearer token to a stored user and attaches it to the context

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/coven-chat/internal/chat"
)

// UserLookup resolves a user id to a stored user.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (chat.User, error)
}

// extractBearerToken returns the token and an error message (empty on success).
func extractBearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if q := r.URL.Query().Get("token"); q != "" {
			return q, ""
		}
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPMiddleware rejects requests without a valid token for a known user.
func HTTPMiddleware(users UserLookup, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r)
			if errMsg != "" {
				unauthorized(w, errMsg)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("token rejected", "error", err, "path", r.URL.Path)
				unauthorized(w, "invalid token")
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				logger.Debug("token for unknown user", "user_id", userID, "error", err)
				unauthorized(w, "user not found")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
