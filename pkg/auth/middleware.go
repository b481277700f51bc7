package auth

import (
	"net/http"
)

// Middleware captures the bearer token into the request context and,
// when a validator is given, rejects requests whose token does not
// verify. A nil validator disables validation entirely: requests pass
// through, and any token they carry is still captured for forwarding.
func Middleware(v *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if ok {
				r = r.WithContext(ContextWithBearer(r.Context(), token))
			}

			if v == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !ok {
				http.Error(w, `{"error":"Missing Authorization header, expected: Bearer <token>"}`, http.StatusUnauthorized)
				return
			}

			claims, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"Unauthorized: `+err.Error()+`"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}
