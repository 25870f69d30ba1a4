// Package publisher drives the package-upload-persist saga that turns a
// finished run's output directory into a durable, recorded results artifact.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"simrunner/services/events"
	"simrunner/services/lifecycle"
	"simrunner/services/packager"
	"simrunner/services/resultstore"
)

// MetadataError reports an upload that succeeded but whose metadata commit
// failed. Location identifies the uploaded object; an orphan record for it
// has already been written when this error is returned.
type MetadataError struct {
	Location resultstore.Location
	Err      error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("results uploaded to %s but metadata commit failed: %v", e.Location, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

// PackageFunc produces an artifact from a results directory. Production
// wiring uses packager.Package; tests substitute a fake.
type PackageFunc func(ctx context.Context, resultsDir string) (*packager.Artifact, error)

// uploader is the slice of the results gateway the saga needs.
type uploader interface {
	Upload(ctx context.Context, key string, data []byte, sha256Hex string) (resultstore.Location, error)
}

// Result reports a completed (or already complete) publish.
type Result struct {
	Location       resultstore.Location
	FileCount      int
	TotalSizeBytes int64
	Checksum       string

	// AlreadyPublished is set when the run had recorded results before this
	// call; nothing was packaged or uploaded.
	AlreadyPublished bool
}

// Publisher coordinates the publish saga for one results bucket.
type Publisher struct {
	pack    PackageFunc
	gateway uploader
	store   lifecycle.RunStore
	sink    events.Sink
	logger  *log.Logger
}

// New creates a Publisher. pack may be nil, in which case packager.Package
// is used.
func New(pack PackageFunc, gateway uploader, store lifecycle.RunStore, sink events.Sink, logger *log.Logger) (*Publisher, error) {
	if gateway == nil {
		return nil, errors.New("results gateway is required")
	}
	if store == nil {
		return nil, errors.New("run store is required")
	}
	if pack == nil {
		pack = packager.Package
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{pack: pack, gateway: gateway, store: store, sink: sink, logger: logger}, nil
}

// Publish packages the run's results directory, uploads the artifact and
// records the location on the run, moving it to DONE. The saga is ordered so
// each step only runs after the previous one succeeded:
//
//	package -> upload -> persist
//
// If persisting fails after the upload landed, the uploaded object is
// recorded as an orphan and a *MetadataError carrying its location is
// returned. Publishing a run that already has recorded results returns the
// stored location without touching the object store.
func (p *Publisher) Publish(ctx context.Context, ownerID, jobID, runID uuid.UUID, resultsDir string) (*Result, error) {
	job, err := p.store.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		// An owner mismatch looks identical to a missing job.
		return nil, lifecycle.ErrJobNotFound
	}

	run, err := p.store.FindRun(ctx, jobID, runID)
	if err != nil {
		return nil, err
	}

	if run.ResultsLocation != nil {
		loc, err := resultstore.ParseLocation(*run.ResultsLocation)
		if err != nil {
			return nil, fmt.Errorf("stored results location for run %s: %w", run.ID, err)
		}
		p.logger.Printf("INFO run %s already published to %s", run.ID, loc)
		return &Result{Location: loc, AlreadyPublished: true}, nil
	}

	// DONE without a location happens when a previous attempt uploaded but
	// failed to commit; a retry from there skips the transition below.
	if run.Status != lifecycle.StatusDone && !lifecycle.CanTransition(run.Status, lifecycle.StatusDone) {
		return nil, &lifecycle.InvalidTransitionError{From: run.Status, To: lifecycle.StatusDone}
	}

	artifact, err := p.pack(ctx, resultsDir)
	if err != nil {
		return nil, fmt.Errorf("package results for run %s: %w", run.ID, err)
	}

	key := resultstore.NewJobPrefix(job.ID, job.CreatedAt).RunResultsKey(run.ID)
	loc, err := p.gateway.Upload(ctx, key, artifact.Bytes, artifact.Checksum)
	if err != nil {
		return nil, err
	}

	if err := p.persist(ctx, run, loc); err != nil {
		return nil, err
	}

	p.logger.Printf("INFO run %s results published to %s (%d files, %d bytes)",
		run.ID, loc, artifact.FileCount, artifact.TotalSizeBytes)
	return &Result{
		Location:       loc,
		FileCount:      artifact.FileCount,
		TotalSizeBytes: artifact.TotalSizeBytes,
		Checksum:       artifact.Checksum,
	}, nil
}

// persist commits the DONE transition and the results location in a single
// guarded write. Any failure here orphans the already uploaded object.
func (p *Publisher) persist(ctx context.Context, run *lifecycle.Run, loc resultstore.Location) error {
	from := run.Status
	if run.Status != lifecycle.StatusDone {
		if err := lifecycle.Transition(run, lifecycle.StatusDone); err != nil {
			return p.orphan(ctx, run, loc, err)
		}
	}
	if err := run.RecordResults(loc.String(), time.Now().UTC()); err != nil {
		run.Status = from
		return p.orphan(ctx, run, loc, err)
	}

	if err := p.store.UpdateRun(ctx, run, from); err != nil {
		run.Status = from
		run.ResultsLocation = nil
		run.ResultsPublishedAt = nil
		return p.orphan(ctx, run, loc, err)
	}

	if from != lifecycle.StatusDone {
		p.sink.RunTransitioned(ctx, events.Transition{
			RunID:  run.ID,
			JobID:  run.JobID,
			From:   from,
			To:     lifecycle.StatusDone,
			Reason: "results published",
			At:     time.Now().UTC(),
		})
	}
	return nil
}

// orphan records the uploaded object so an out-of-band sweeper can reclaim
// it, then wraps the cause in a *MetadataError.
func (p *Publisher) orphan(ctx context.Context, run *lifecycle.Run, loc resultstore.Location, cause error) error {
	rec := &lifecycle.OrphanRecord{
		ID:        uuid.New(),
		JobID:     run.JobID,
		RunID:     run.ID,
		Location:  loc.String(),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.RecordOrphan(ctx, rec); err != nil {
		p.logger.Printf("ERROR orphan record for %s not written: %v", loc, err)
	} else {
		p.logger.Printf("WARN results at %s orphaned: %v", loc, cause)
	}
	return &MetadataError{Location: loc, Err: cause}
}
