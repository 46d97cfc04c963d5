// Package tenancy carries the opaque caller identity through request contexts.
// The identity is never interpreted here; it only selects sessions and rate limit buckets.
package tenancy

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
)

// UserHeader is the request header carrying the caller identity
const UserHeader = "X-User-ID"

// Anonymous is used when a request carries no identity
const Anonymous = "anonymous"

var ErrNoUserInContext = errors.New("no user ID in context")

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUserInContext
	}
	return userID, nil
}

// UserOrAnonymous returns the caller identity or Anonymous
func UserOrAnonymous(ctx context.Context) string {
	if user, err := GetUserID(ctx); err == nil {
		return user
	}
	return Anonymous
}

// WithUser adds user ID to context
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserMiddleware extracts the caller identity from the X-User-ID header or the
// user query parameter and adds it to the request context
func UserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if userID != "" {
			r = r.WithContext(WithUser(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// UserKeyFunc returns the caller identity as a rate limit key
func UserKeyFunc(r *http.Request) string {
	return UserOrAnonymous(r.Context())
}
