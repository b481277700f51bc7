package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareWithoutValidator(t *testing.T) {
	var gotBearer string
	var gotClaims *Claims
	handler := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBearer = BearerFromContext(r.Context())
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("passes_through_without_token", func(t *testing.T) {
		gotBearer = "sentinel"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
		if gotBearer != "" {
			t.Errorf("bearer = %q, want empty", gotBearer)
		}
	})

	t.Run("captures_token_unvalidated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer user-token-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
		if gotBearer != "user-token-123" {
			t.Errorf("bearer = %q", gotBearer)
		}
		if gotClaims != nil {
			t.Error("claims should be nil without a validator")
		}
	})
}

func TestMiddlewareWithValidator(t *testing.T) {
	validator, privateKey := newTestValidator(t)

	var gotBearer string
	var gotClaims *Claims
	handler := Middleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBearer = BearerFromContext(r.Context())
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid_token", func(t *testing.T) {
		token := signToken(t, privateKey, tokenSpec{
			issuer:   testIssuer,
			audience: testAudience,
			subject:  "adjuster-9",
		})
		req := httptest.NewRequest(http.MethodPost, "/v1/claims/process", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if gotBearer != token {
			t.Error("raw bearer should still be available for forwarding")
		}
		if gotClaims == nil || gotClaims.Subject != "adjuster-9" {
			t.Errorf("claims = %+v", gotClaims)
		}
	})

	t.Run("missing_header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/claims/process", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("malformed_header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/claims/process", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("invalid_token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/claims/process", nil)
		req.Header.Set("Authorization", "Bearer bogus")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{name: "bearer", header: "Bearer abc123", want: "abc123", wantOK: true},
		{name: "missing", header: "", want: "", wantOK: false},
		{name: "basic", header: "Basic abc123", want: "", wantOK: false},
		{name: "bare_bearer", header: "Bearer ", want: "", wantOK: false},
		{name: "no_scheme", header: "abc123", want: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, ok := BearerToken(req)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("BearerToken() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
