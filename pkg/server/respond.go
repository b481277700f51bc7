package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Masterminds/semver/v3"

	"github.com/arbiterhq/arbiter/pkg/model"
	"github.com/arbiterhq/arbiter/pkg/specialist"
	"github.com/arbiterhq/arbiter/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errStatus maps well-known service errors onto HTTP statuses. Anything
// unrecognized gets the caller's fallback, which encodes which way the
// endpoint's failures face: upstream runs fail toward 502, store reads
// toward 500.
func errStatus(err error, fallback int) int {
	var lookupErr *specialist.LookupError
	switch {
	case errors.As(err, &lookupErr):
		if lookupErr.Reason == specialist.LookupNotDeployed {
			return http.StatusConflict
		}
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrVersionNotGreater):
		return http.StatusConflict
	case errors.Is(err, semver.ErrInvalidSemVer):
		return http.StatusBadRequest
	default:
		return fallback
	}
}
