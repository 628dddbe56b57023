// Package auth provides authentication for the facilitator API.
package auth

import "context"

// contextKey is a private type for context keys.
type contextKey int

const (
	tokenContextKey contextKey = iota
	identityContextKey
)

// Identity holds authenticated caller information.
type Identity struct {
	Name     string   `json:"name"`
	Roles    []string `json:"roles,omitempty"`
	AuthType string   `json:"auth_type"` // "apikey", "jwt", "anonymous"
}

// HasRole checks if the identity carries a specific role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithToken adds a raw credential to the context.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

// GetToken retrieves the raw credential from the context.
func GetToken(ctx context.Context) string {
	if token, ok := ctx.Value(tokenContextKey).(string); ok {
		return token
	}
	return ""
}

// WithIdentity adds an authenticated identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// GetIdentity retrieves the authenticated identity from the context.
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return id
	}
	return nil
}
