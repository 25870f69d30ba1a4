package resultstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobPrefix derives the storage key space for one job. It is a pure
// function of the job identifier and creation time, so every upload for a
// given run addresses the same object no matter when it happens.
type JobPrefix struct {
	JobID     uuid.UUID
	createdAt time.Time
}

// NewJobPrefix builds the prefix for a job created at the given time.
func NewJobPrefix(jobID uuid.UUID, createdAt time.Time) JobPrefix {
	return JobPrefix{JobID: jobID, createdAt: createdAt.UTC()}
}

// Base returns the key prefix shared by all artifacts of the job:
// jobs/{jobID}/{yyyy}/{mm}/{dd}/{HHMMSS}.
func (p JobPrefix) Base() string {
	return fmt.Sprintf("jobs/%s/%s", p.JobID, p.createdAt.Format("2006/01/02/150405"))
}

// RunResultsKey returns the object key for a run's packaged results.
func (p JobPrefix) RunResultsKey(runID uuid.UUID) string {
	return fmt.Sprintf("%s/run_%s_results.zip", p.Base(), runID)
}
