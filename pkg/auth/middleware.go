package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ChainedAuthenticator tries multiple authenticators in order.
type ChainedAuthenticator struct {
	authenticators []Authenticator
	allowAnonymous bool
}

// ChainedAuthConfig configures the chained authenticator.
type ChainedAuthConfig struct {
	AllowAnonymous bool
}

// NewChainedAuthenticator creates a new chained authenticator.
func NewChainedAuthenticator(cfg ChainedAuthConfig, authenticators ...Authenticator) *ChainedAuthenticator {
	return &ChainedAuthenticator{
		authenticators: authenticators,
		allowAnonymous: cfg.AllowAnonymous,
	}
}

// Authenticate tries each authenticator in order.
func (c *ChainedAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	var lastErr error

	for _, a := range c.authenticators {
		id, err := a.Authenticate(ctx)
		if err == nil && id != nil {
			return id, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if c.allowAnonymous {
		return &Identity{Name: "anonymous", AuthType: "anonymous"}, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("authentication failed")
}

// Verify interface compliance.
var _ Authenticator = (*ChainedAuthenticator)(nil)

// extractToken pulls a credential from the Authorization header (Bearer
// scheme) or the X-API-Key header.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return after
	}
	return r.Header.Get("X-API-Key")
}

// Middleware authenticates each request and stores the resulting identity
// in the request context. Requests that fail authentication get HTTP 401.
func Middleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if token := extractToken(r); token != "" {
				ctx = WithToken(ctx, token)
			}

			id, err := authn.Authenticate(ctx)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// RequireRole gates a handler on the authenticated identity carrying role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetIdentity(r.Context())
			if id == nil || !id.HasRole(role) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
