package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/security"
)

// TokenFromRequest extracts a session token from the Authorization bearer header
// or the X-Access-Token header.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-Access-Token")
}

// StreamTokenFromRequest is TokenFromRequest plus the token query parameter,
// which browsers need because they cannot set headers on a websocket dial.
func StreamTokenFromRequest(r *http.Request) string {
	if token := TokenFromRequest(r); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *data.User {
	if u, ok := ctx.Value(UserKey).(*data.User); ok {
		return u
	}
	return nil
}

// GetToken retrieves the session token from request context
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(TokenKey).(string); ok {
		return token
	}
	return ""
}

// WithUser stores an authenticated user and token in ctx.
func WithUser(ctx context.Context, u *data.User, token string) context.Context {
	ctx = context.WithValue(ctx, UserKey, u)
	return context.WithValue(ctx, TokenKey, token)
}

func resolveUser(r *http.Request, token string) (*data.User, error) {
	return data.GetSessionUser(r.Context(), security.TokenDigest(token), time.Now())
}

// RequireAuth rejects requests without a valid, unexpired session for an unbanned user.
func RequireAuth(next http.Handler) http.Handler {
	return requireAuth(TokenFromRequest, next)
}

// RequireStreamAuth is RequireAuth for websocket routes only.
func RequireStreamAuth(next http.Handler) http.Handler {
	return requireAuth(StreamTokenFromRequest, next)
}

func requireAuth(extract func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extract(r)
		if token == "" {
			WriteAPIError(w, r, http.StatusUnauthorized, "missing_token", "Access token required", "")
			return
		}

		user, err := resolveUser(r, token)
		if errors.Is(err, data.ErrNotFound) {
			WriteAPIError(w, r, http.StatusUnauthorized, "invalid_token", "Access token is invalid or expired", "")
			return
		}
		if err != nil {
			WriteInternalError(w, r, "Failed to validate session", err)
			return
		}
		if user.Banned {
			logger.LogWarn("Banned user %s attempted access to %s", user.ID, r.URL.Path)
			WriteAPIError(w, r, http.StatusForbidden, "banned", "This account has been suspended", "")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user, token)))
	})
}

// OptionalAuth attaches the user when a valid token is present and never rejects.
func OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token != "" {
			user, err := resolveUser(r, token)
			if err == nil && !user.Banned {
				r = r.WithContext(WithUser(r.Context(), user, token))
			} else if err != nil && !errors.Is(err, data.ErrNotFound) {
				logger.LogWarn("Optional auth lookup failed: %v", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole lets through users holding any of roles. Admins pass every guard.
// It must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				WriteAPIError(w, r, http.StatusUnauthorized, "missing_token", "Access token required", "")
				return
			}
			if !user.HasRole(roles...) {
				WriteAPIError(w, r, http.StatusForbidden, "forbidden",
					"You do not have permission to perform this action", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
