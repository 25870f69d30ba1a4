package simapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"simrunner/services/lifecycle"
)

func (a *API) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if _, err := a.store.FindJob(ctx, jobID); err != nil {
		respondDomainError(w, err)
		return
	}

	run, err := lifecycle.NewRun(jobID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := a.store.CreateRun(ctx, run); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"run": run})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	jobID, runID, ok := runPath(w, r)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	run, err := a.store.FindRun(ctx, jobID, runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (a *API) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	jobID, runID, ok := runPath(w, r)
	if !ok {
		return
	}

	run, err := a.sync.SubmitRun(r.Context(), jobID, runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

func (a *API) handlePublishResults(w http.ResponseWriter, r *http.Request) {
	jobID, runID, ok := runPath(w, r)
	if !ok {
		return
	}

	var req struct {
		OwnerID    uuid.UUID `json:"owner_id"`
		ResultsDir string    `json:"results_dir"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.OwnerID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("owner_id is required"))
		return
	}
	req.ResultsDir = strings.TrimSpace(req.ResultsDir)
	if req.ResultsDir == "" {
		respondError(w, http.StatusBadRequest, errors.New("results_dir is required"))
		return
	}

	res, err := a.publisher.Publish(r.Context(), req.OwnerID, jobID, runID, req.ResultsDir)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyPublished {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{
		"location":          res.Location.String(),
		"file_count":        res.FileCount,
		"total_size_bytes":  res.TotalSizeBytes,
		"checksum":          res.Checksum,
		"already_published": res.AlreadyPublished,
	})
}

func (a *API) handleResultsURL(w http.ResponseWriter, r *http.Request) {
	jobID, runID, ok := runPath(w, r)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	run, err := a.store.FindRun(ctx, jobID, runID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if run.ResultsLocation == nil {
		respondError(w, http.StatusNotFound, errors.New("run has no published results"))
		return
	}

	url, err := a.signer.RetrievableURL(ctx, *run.ResultsLocation, a.config.DownloadTTL)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(a.config.DownloadTTL.Seconds()),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.ListActiveRuns(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	updated, err := a.sync.Refresh(r.Context(), runs)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"checked": len(runs),
		"updated": len(updated),
	})
}

func runPath(w http.ResponseWriter, r *http.Request) (jobID, runID uuid.UUID, ok bool) {
	jobID, err := pathUUID(r, "jobID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return uuid.Nil, uuid.Nil, false
	}
	runID, err = pathUUID(r, "runID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return uuid.Nil, uuid.Nil, false
	}
	return jobID, runID, true
}
