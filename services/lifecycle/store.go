package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Store lookup failures. Adapters translate their driver's not-found value
// into these so callers never string-match.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrRunNotFound = errors.New("run not found")

	// ErrStaleRun is returned by UpdateRun when the guarded update matched
	// no row, meaning a concurrent writer changed the run's status first.
	ErrStaleRun = errors.New("run was modified concurrently")
)

// OrphanRecord marks an uploaded artifact whose metadata commit failed.
// It is written by the publish saga and consumed only by an out-of-band
// sweeper.
type OrphanRecord struct {
	ID        uuid.UUID `json:"id" db:"id"`
	JobID     uuid.UUID `json:"job_id" db:"job_id"`
	RunID     uuid.UUID `json:"run_id" db:"run_id"`
	Location  string    `json:"location" db:"location"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RunStore is the persistence boundary for jobs, runs and orphan records.
type RunStore interface {
	CreateJob(ctx context.Context, job *Job) error
	FindJob(ctx context.Context, jobID uuid.UUID) (*Job, error)

	CreateRun(ctx context.Context, run *Run) error
	FindRun(ctx context.Context, jobID, runID uuid.UUID) (*Run, error)

	// ListActiveRuns returns runs in a non-terminal status that carry an
	// external handle, ordered by creation time.
	ListActiveRuns(ctx context.Context) ([]*Run, error)

	// UpdateRun persists the run in a single guarded statement. The write
	// only lands if the stored status still equals expected; otherwise
	// ErrStaleRun is returned and nothing changes.
	UpdateRun(ctx context.Context, run *Run, expected RunStatus) error

	RecordOrphan(ctx context.Context, orphan *OrphanRecord) error
}
