// Package auth handles inbound bearer tokens on the REST surface.
//
// Tokens serve two purposes here. They are pass-through credentials: the
// raw bearer is captured into the request context so claim processing can
// forward it to the agent service for on-behalf-of data access. And,
// when a JWKS endpoint is configured, they are identity: the token is
// validated and its claims attached to the context before any handler
// runs. Validation is optional; pass-through is not.
//
// The raw token is never logged and never persisted. It lives in the
// request context and in the outgoing request headers, nowhere else.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	claimsContextKey contextKey = "arbiter_auth_claims"
	bearerContextKey contextKey = "arbiter_auth_bearer"
)

// Claims are the validated identity claims from a bearer token.
type Claims struct {
	// Subject is the unique identifier for the caller (sub claim).
	Subject string `json:"sub"`

	// Email is the caller's email address, when the provider sends one.
	Email string `json:"email,omitempty"`

	// Role is the caller's role, when the provider sends one.
	Role string `json:"role,omitempty"`

	// Custom holds every claim not mapped to a struct field.
	Custom map[string]any `json:"-"`
}

// GetClaim retrieves a custom claim by key.
func (c *Claims) GetClaim(key string) (any, bool) {
	if c.Custom == nil {
		return nil, false
	}
	val, ok := c.Custom[key]
	return val, ok
}

// GetStringClaim retrieves a custom claim as a string, or "".
func (c *Claims) GetStringClaim(key string) string {
	if val, ok := c.GetClaim(key); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

// HasRole reports whether the caller carries the given role.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role
}

// ClaimsFromContext extracts validated claims from a context. Returns nil
// when the request was not validated.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a new context carrying the given claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// BearerFromContext returns the raw bearer token captured from the
// request, or "" when the request carried none.
func BearerFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(bearerContextKey).(string); ok {
		return token
	}
	return ""
}

// ContextWithBearer returns a new context carrying the raw bearer token.
func ContextWithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerContextKey, token)
}

// BearerToken extracts the token from a request's Authorization header.
// The second return is false when the header is absent or not Bearer.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", false
	}
	return token, true
}
