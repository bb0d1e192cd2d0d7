// Package identity provides the auth-gate backend: it verifies opaque
// bearer tokens against the identity service's published JWKS and extracts
// the stable user identifier from the token claims.
package identity

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
)

// userIDClaim is the claim the identity service writes the user id into.
const userIDClaim = "id"

// JWKSVerifier implements relay.IdentityVerifier by validating JWTs against
// a cached JWKS. The key set refreshes in the background, so verification
// stays local and cheap even though it runs on every inbound frame.
type JWKSVerifier struct {
	jwksURL string
	cache   *jwk.Cache
	logger  zerolog.Logger
}

// NewJWKSVerifier registers the JWKS endpoint and primes the key cache.
func NewJWKSVerifier(ctx context.Context, jwksURL string, logger zerolog.Logger) (*JWKSVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL); err != nil {
		return nil, fmt.Errorf("failed to register JWKS endpoint: %w", err)
	}
	// Fetch once up front so a bad URL fails at startup, not on the first
	// client frame.
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}
	return &JWKSVerifier{
		jwksURL: jwksURL,
		cache:   cache,
		logger:  logger.With().Str("component", "JWKSVerifier").Logger(),
	}, nil
}

// Verify validates the token's signature and time claims and returns the
// user identifier claim.
func (v *JWKSVerifier) Verify(ctx context.Context, token string) (string, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch key set: %w", err)
	}
	parsed, err := jwt.Parse([]byte(token), jwt.WithKeySet(keySet), jwt.WithValidate(true))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claim, ok := parsed.Get(userIDClaim)
	if !ok {
		return "", fmt.Errorf("token has no %q claim", userIDClaim)
	}
	return fmt.Sprint(claim), nil
}
