// Package auth authenticates API callers from bearer tokens issued by the
// identity provider and exposes the verified subject to handlers.
package auth

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

type ctxKey int

const claimsKey ctxKey = iota

// UserIDKey is the gin context key holding the authenticated external user id.
const UserIDKey = "userID"

// Claims contains the verified token details the API relies on.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	Raw       map[string]any
}

// WithClaims stores auth claims in a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns claims from a context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// UserID returns the authenticated external user id, or "" for anonymous
// requests.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(UserIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
