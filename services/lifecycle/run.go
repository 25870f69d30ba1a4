package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus describes where a run sits in its lifecycle. Values are stored
// verbatim in the runs table and on the wire.
type RunStatus string

const (
	StatusCreated    RunStatus = "CREATED"
	StatusRegistered RunStatus = "REGISTERED"
	StatusSubmitted  RunStatus = "SUBMITTED"
	StatusQueued     RunStatus = "QUEUED"
	StatusRunning    RunStatus = "RUNNING"
	StatusDone       RunStatus = "DONE"
	StatusFailed     RunStatus = "FAILED"
	StatusCancelled  RunStatus = "CANCELLED"
)

// IsTerminal reports whether the status has no outgoing transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether the value is a known status.
func (s RunStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Job groups one or more simulation runs submitted by one owner.
type Job struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	OwnerID   uuid.UUID         `json:"owner_id" db:"owner_id"`
	Tags      map[string]string `json:"tags" db:"tags"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Run is one simulation execution instance belonging to exactly one job.
// Status is mutated only through Transition; callers must never assign it
// directly.
type Run struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	JobID              uuid.UUID  `json:"job_id" db:"job_id"`
	Status             RunStatus  `json:"status" db:"status"`
	ExternalHandle     string     `json:"external_handle" db:"external_handle"`
	ResultsLocation    *string    `json:"results_location" db:"results_location"`
	ResultsPublishedAt *time.Time `json:"results_published_at" db:"results_published_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// NewJob creates a job owned by the given user.
func NewJob(ownerID uuid.UUID, tags map[string]string) (*Job, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	return &Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NewRun creates a run in state CREATED attached to the given job.
func NewRun(jobID uuid.UUID) (*Run, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("%w: job id is required", ErrValidation)
	}
	now := time.Now().UTC()
	return &Run{
		ID:        uuid.New(),
		JobID:     jobID,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NaturalKey is the stable name used to identify the run at the external
// compute service.
func (r *Run) NaturalKey() string {
	return fmt.Sprintf("job_%s_run_%s", r.JobID, r.ID)
}

// RecordResults attaches the published artifact location and timestamp.
// Only a run in DONE may carry a results location.
func (r *Run) RecordResults(location string, publishedAt time.Time) error {
	if r.Status != StatusDone {
		return fmt.Errorf("%w: results can only be recorded on a DONE run, not %s", ErrValidation, r.Status)
	}
	if location == "" {
		return fmt.Errorf("%w: results location is required", ErrValidation)
	}
	at := publishedAt.UTC()
	r.ResultsLocation = &location
	r.ResultsPublishedAt = &at
	r.UpdatedAt = at
	return nil
}

// ErrValidation classifies bad identifiers and malformed inputs. Callers
// test for it with errors.Is.
var ErrValidation = errors.New("validation error")
