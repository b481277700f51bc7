package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultRefreshInterval is how often the cached JWKS is refreshed to
// pick up key rotation.
const DefaultRefreshInterval = 15 * time.Minute

// ValidatorConfig configures a JWTValidator.
type ValidatorConfig struct {
	JWKSURL  string
	Issuer   string
	Audience string

	// RefreshInterval overrides DefaultRefreshInterval when positive.
	RefreshInterval time.Duration
}

// JWTValidator validates bearer tokens against an external identity
// provider. It fetches and caches the provider's JWKS and auto-refreshes
// it to handle key rotation.
type JWTValidator struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewJWTValidator builds a validator and performs the initial JWKS fetch
// so misconfiguration fails at startup, not on the first request. The
// context bounds the cache's refresh goroutine: cancel it to stop
// background refreshes.
func NewJWTValidator(ctx context.Context, cfg ValidatorConfig) (*JWTValidator, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks_url is required")
	}

	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTValidator{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// standardClaims are extracted into Claims fields (or already verified)
// and excluded from the Custom map.
var standardClaims = map[string]bool{
	"sub": true, "email": true, "role": true,
	"iss": true, "aud": true, "exp": true, "iat": true, "nbf": true,
}

// ValidateToken verifies a token's signature against the cached JWKS,
// checks expiry, and matches issuer and audience when configured.
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}

	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}

	for iter := token.Iterate(ctx); iter.Next(ctx); {
		pair := iter.Pair()
		key, ok := pair.Key.(string)
		if !ok || standardClaims[key] {
			continue
		}
		claims.Custom[key] = pair.Value
	}

	return claims, nil
}
