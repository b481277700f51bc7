package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const testKeyID = "test-key-id"

func generateRSAKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func createJWKS(t *testing.T, publicKey *rsa.PublicKey) jwk.Set {
	t.Helper()
	key, err := jwk.FromRaw(publicKey)
	if err != nil {
		t.Fatalf("failed to wrap public key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatal(err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatal(err)
	}

	keyset := jwk.NewSet()
	if err := keyset.AddKey(key); err != nil {
		t.Fatalf("failed to add key: %v", err)
	}
	return keyset
}

// serveJWKS stands up a fake identity provider publishing the keyset.
func serveJWKS(t *testing.T, keyset jwk.Set) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(keyset); err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(server.Close)
	return server.URL + "/.well-known/jwks.json"
}

type tokenSpec struct {
	issuer   string
	audience string
	subject  string
	expires  time.Time
	claims   map[string]any
}

func signToken(t *testing.T, privateKey *rsa.PrivateKey, spec tokenSpec) string {
	t.Helper()

	token := jwt.New()
	set := func(key string, value any) {
		if err := token.Set(key, value); err != nil {
			t.Fatalf("failed to set %s: %v", key, err)
		}
	}
	set(jwt.IssuerKey, spec.issuer)
	set(jwt.AudienceKey, spec.audience)
	set(jwt.SubjectKey, spec.subject)
	set(jwt.IssuedAtKey, time.Now())
	expires := spec.expires
	if expires.IsZero() {
		expires = time.Now().Add(time.Hour)
	}
	set(jwt.ExpirationKey, expires)
	for key, value := range spec.claims {
		set(key, value)
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("failed to wrap private key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, testKeyID); err != nil {
		t.Fatal(err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

const (
	testIssuer   = "https://idp.test"
	testAudience = "arbiter-api"
)

// newTestValidator wires a validator against a fake JWKS endpoint and
// returns the signing key for minting matching tokens.
func newTestValidator(t *testing.T) (*JWTValidator, *rsa.PrivateKey) {
	t.Helper()

	privateKey, publicKey := generateRSAKeyPair(t)
	jwksURL := serveJWKS(t, createJWKS(t, publicKey))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	validator, err := NewJWTValidator(ctx, ValidatorConfig{
		JWKSURL:  jwksURL,
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	if err != nil {
		t.Fatalf("NewJWTValidator() error: %v", err)
	}
	return validator, privateKey
}
