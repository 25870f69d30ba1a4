// Package simapi exposes the job and run lifecycle over HTTP.
package simapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"simrunner/services/lifecycle"
	"simrunner/services/publisher"
)

const defaultDownloadTTL = 15 * time.Minute

// publishService runs the results publish saga.
type publishService interface {
	Publish(ctx context.Context, ownerID, jobID, runID uuid.UUID, resultsDir string) (*publisher.Result, error)
}

// syncService talks to the external compute service.
type syncService interface {
	SubmitRun(ctx context.Context, jobID, runID uuid.UUID) (*lifecycle.Run, error)
	Refresh(ctx context.Context, runs []*lifecycle.Run) ([]*lifecycle.Run, error)
}

// urlSigner produces presigned download URLs from stored locations.
type urlSigner interface {
	RetrievableURL(ctx context.Context, rawLocation string, ttl time.Duration) (string, error)
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	DownloadTTL time.Duration
}

// API wires dependencies and configuration for the HTTP handlers.
type API struct {
	store     lifecycle.RunStore
	publisher publishService
	sync      syncService
	signer    urlSigner
	config    Config
}

// New initialises the API layer with sane defaults applied to the provided
// configuration.
func New(store lifecycle.RunStore, pub publishService, sync syncService, signer urlSigner, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if sync == nil {
		return nil, errors.New("status synchronizer is required")
	}
	if signer == nil {
		return nil, errors.New("url signer is required")
	}
	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = defaultDownloadTTL
	}
	return &API{store: store, publisher: pub, sync: sync, signer: signer, config: cfg}, nil
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", a.handleCreateJob)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", a.handleGetJob)
			r.Post("/runs", a.handleCreateRun)
			r.Route("/runs/{runID}", func(r chi.Router) {
				r.Get("/", a.handleGetRun)
				r.Post("/submit", a.handleSubmitRun)
				r.Post("/results", a.handlePublishResults)
				r.Get("/results/url", a.handleResultsURL)
			})
		})
		r.Post("/runs/refresh", a.handleRefresh)
	})

	return r, nil
}
