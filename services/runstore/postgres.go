// Package runstore persists jobs, runs and orphan records in Postgres.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"simrunner/pkg/db"
	"simrunner/services/lifecycle"
)

// Postgres implements lifecycle.RunStore on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps the pool. The schema must already be migrated.
func NewPostgres(pool *pgxpool.Pool) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("nil pool provided")
	}
	return &Postgres{pool: pool}, nil
}

// jobRow carries the raw jsonb tags column.
type jobRow struct {
	ID        uuid.UUID `db:"id"`
	OwnerID   uuid.UUID `db:"owner_id"`
	Tags      []byte    `db:"tags"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *jobRow) toJob() (*lifecycle.Job, error) {
	job := &lifecycle.Job{ID: r.ID, OwnerID: r.OwnerID, CreatedAt: r.CreatedAt}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &job.Tags); err != nil {
			return nil, fmt.Errorf("decode job tags: %w", err)
		}
	}
	return job, nil
}

// CreateJob inserts the job.
func (s *Postgres) CreateJob(ctx context.Context, job *lifecycle.Job) error {
	tags, err := json.Marshal(job.Tags)
	if err != nil {
		return fmt.Errorf("encode job tags: %w", err)
	}
	_, err = db.Exec(ctx, s.pool,
		`INSERT INTO jobs (id, owner_id, tags, created_at) VALUES ($1, $2, $3, $4)`,
		job.ID, job.OwnerID, tags, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FindJob loads a job by id.
func (s *Postgres) FindJob(ctx context.Context, jobID uuid.UUID) (*lifecycle.Job, error) {
	var row jobRow
	err := db.Get(ctx, s.pool, &row,
		`SELECT id, owner_id, tags, created_at FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, lifecycle.ErrJobNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return row.toJob()
}

// CreateRun inserts the run.
func (s *Postgres) CreateRun(ctx context.Context, run *lifecycle.Run) error {
	_, err := db.Exec(ctx, s.pool,
		`INSERT INTO runs (id, job_id, status, external_handle, results_location, results_published_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.JobID, run.Status, run.ExternalHandle,
		run.ResultsLocation, run.ResultsPublishedAt, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FindRun loads a run scoped to its job.
func (s *Postgres) FindRun(ctx context.Context, jobID, runID uuid.UUID) (*lifecycle.Run, error) {
	var run lifecycle.Run
	err := db.Get(ctx, s.pool, &run,
		`SELECT id, job_id, status, external_handle, results_location, results_published_at, created_at, updated_at
		 FROM runs WHERE id = $1 AND job_id = $2`, runID, jobID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, lifecycle.ErrRunNotFound
		}
		return nil, fmt.Errorf("select run: %w", err)
	}
	return &run, nil
}

// ListActiveRuns returns non-terminal runs that have been handed to the
// compute service, oldest first.
func (s *Postgres) ListActiveRuns(ctx context.Context) ([]*lifecycle.Run, error) {
	var runs []*lifecycle.Run
	err := db.Select(ctx, s.pool, &runs,
		`SELECT id, job_id, status, external_handle, results_location, results_published_at, created_at, updated_at
		 FROM runs
		 WHERE status NOT IN ($1, $2, $3) AND external_handle <> ''
		 ORDER BY created_at`,
		lifecycle.StatusDone, lifecycle.StatusFailed, lifecycle.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("select active runs: %w", err)
	}
	return runs, nil
}

// UpdateRun writes the run in one guarded statement. The WHERE clause pins
// the stored status to expected, so two writers racing on the same run
// cannot both land; the loser gets ErrStaleRun.
func (s *Postgres) UpdateRun(ctx context.Context, run *lifecycle.Run, expected lifecycle.RunStatus) error {
	tag, err := db.Exec(ctx, s.pool,
		`UPDATE runs
		 SET status = $1, external_handle = $2, results_location = $3, results_published_at = $4, updated_at = $5
		 WHERE id = $6 AND status = $7`,
		run.Status, run.ExternalHandle, run.ResultsLocation, run.ResultsPublishedAt,
		run.UpdatedAt, run.ID, expected)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrStaleRun
	}
	return nil
}

// RecordOrphan inserts an orphan artifact record.
func (s *Postgres) RecordOrphan(ctx context.Context, orphan *lifecycle.OrphanRecord) error {
	_, err := db.Exec(ctx, s.pool,
		`INSERT INTO orphan_artifacts (id, job_id, run_id, location, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		orphan.ID, orphan.JobID, orphan.RunID, orphan.Location, orphan.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert orphan record: %w", err)
	}
	return nil
}
