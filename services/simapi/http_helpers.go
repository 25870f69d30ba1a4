package simapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"simrunner/services/lifecycle"
	"simrunner/services/packager"
	"simrunner/services/resultstore"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondDomainError maps domain failures onto HTTP statuses. Storage and
// upstream faults become 502 so clients can tell them from their own bad
// requests.
func respondDomainError(w http.ResponseWriter, err error) {
	var invalid *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, lifecycle.ErrJobNotFound), errors.Is(err, lifecycle.ErrRunNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.As(err, &invalid), errors.Is(err, lifecycle.ErrStaleRun):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, lifecycle.ErrValidation),
		errors.Is(err, packager.ErrInvalidDirectory),
		errors.Is(err, resultstore.ErrUnrecognizedLocation):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, resultstore.ErrStorage):
		respondError(w, http.StatusBadGateway, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.New(name + " must be a valid uuid")
	}
	return id, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
