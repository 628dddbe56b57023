package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds service-token authenticator configuration.
type JWTConfig struct {
	// Secret is the HMAC signing secret shared with the token issuer.
	Secret string

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Audience, when set, must match one of the token's aud values.
	Audience string
}

// JWTAuthenticator validates HMAC-signed service tokens.
type JWTAuthenticator struct {
	cfg    JWTConfig
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(cfg JWTConfig) (*JWTAuthenticator, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTAuthenticator{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate validates the bearer token in the context and returns the
// caller identity. Roles come from a "roles" claim holding a string array.
func (a *JWTAuthenticator) Authenticate(ctx context.Context) (*Identity, error) {
	raw := GetToken(ctx)
	if raw == "" {
		return nil, fmt.Errorf("no token found in context")
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	return &Identity{
		Name:     sub,
		Roles:    rolesClaim(claims),
		AuthType: "jwt",
	}, nil
}

func rolesClaim(claims jwt.MapClaims) []string {
	raw, ok := claims["roles"].([]any)
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

// Verify interface compliance.
var _ Authenticator = (*JWTAuthenticator)(nil)
