package simapi

import (
	"net/http"

	"github.com/google/uuid"

	"simrunner/services/lifecycle"
)

func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID uuid.UUID         `json:"owner_id"`
		Tags    map[string]string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	job, err := lifecycle.NewJob(req.OwnerID, req.Tags)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.store.CreateJob(ctx, job); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"job": job})
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	job, err := a.store.FindJob(ctx, jobID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"job": job})
}
