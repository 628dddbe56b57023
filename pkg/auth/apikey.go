package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator validates a credential from the request context.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Identity, error)
}

// APIKeyConfig holds API key configuration.
type APIKeyConfig struct {
	Keys []APIKey
}

// APIKey represents an API key entry. Either Key (plaintext) or Hash
// (bcrypt) is set; hashed entries never hold the plaintext value.
type APIKey struct {
	Key   string   `yaml:"key"`
	Hash  string   `yaml:"hash"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles"`
}

// APIKeyAuthenticator authenticates using static API keys.
type APIKeyAuthenticator struct {
	keys []APIKey
}

// NewAPIKeyAuthenticator creates a new API key authenticator.
func NewAPIKeyAuthenticator(cfg APIKeyConfig) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: cfg.Keys}
}

// Authenticate validates the API key in the context and returns the
// caller identity.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	token := GetToken(ctx)
	if token == "" {
		return nil, fmt.Errorf("no API key found in context")
	}

	for i := range a.keys {
		key := &a.keys[i]
		if !key.matches(token) {
			continue
		}
		return &Identity{
			Name:     key.Name,
			Roles:    key.Roles,
			AuthType: "apikey",
		}, nil
	}

	return nil, fmt.Errorf("invalid API key")
}

func (k *APIKey) matches(token string) bool {
	if k.Hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(k.Key), []byte(token)) == 1
}

// Verify interface compliance.
var _ Authenticator = (*APIKeyAuthenticator)(nil)
