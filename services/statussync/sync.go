// Package statussync reconciles run statuses against the external
// batch-compute service.
package statussync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"simrunner/services/events"
	"simrunner/services/lifecycle"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultQueryTimeout   = 15 * time.Second
)

// Config tunes the synchronizer's retry behaviour.
type Config struct {
	// MaxAttempts bounds status queries per run per refresh, first try
	// included.
	MaxAttempts int
	// InitialBackoff seeds the exponential backoff between attempts.
	InitialBackoff time.Duration
	// QueryTimeout caps each individual status query.
	QueryTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
}

// Synchronizer refreshes run statuses from the compute service, applying
// every change through the lifecycle transition gate.
type Synchronizer struct {
	compute ComputeClient
	store   lifecycle.RunStore
	sink    events.Sink
	logger  *log.Logger
	cfg     Config
}

// New creates a Synchronizer.
func New(compute ComputeClient, store lifecycle.RunStore, sink events.Sink, logger *log.Logger, cfg Config) (*Synchronizer, error) {
	if compute == nil {
		return nil, errors.New("compute client is required")
	}
	if store == nil {
		return nil, errors.New("run store is required")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = log.Default()
	}
	cfg.applyDefaults()
	return &Synchronizer{compute: compute, store: store, sink: sink, logger: logger, cfg: cfg}, nil
}

// Refresh queries the compute service for every non-terminal run with an
// external handle and persists allowed status changes. A run whose queries
// fail on every attempt keeps its last persisted status; the batch
// continues. The returned slice holds only the runs that changed.
func (s *Synchronizer) Refresh(ctx context.Context, runs []*lifecycle.Run) ([]*lifecycle.Run, error) {
	var updated []*lifecycle.Run
	for _, run := range runs {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if run == nil || run.Status.IsTerminal() || run.ExternalHandle == "" {
			continue
		}

		changed, err := s.refreshOne(ctx, run)
		if err != nil {
			// Degraded: leave the run at its last persisted status.
			s.logger.Printf("WARN status sync for run %s gave up: %v", run.ID, err)
			s.sink.SyncExhausted(ctx, events.SyncExhaustion{
				RunID:    run.ID,
				JobID:    run.JobID,
				Status:   run.Status,
				Attempts: s.cfg.MaxAttempts,
				Reason:   err.Error(),
				At:       time.Now().UTC(),
			})
			continue
		}
		if changed {
			updated = append(updated, run)
		}
	}
	return updated, nil
}

// refreshOne performs the describe-map-transition-persist cycle for one
// run. It reports whether a change was persisted.
func (s *Synchronizer) refreshOne(ctx context.Context, run *lifecycle.Run) (bool, error) {
	state, err := s.describeWithRetry(ctx, run)
	if err != nil {
		if isTerminalSignal(err) {
			// The external job is gone or permanently rejected; that is a
			// FAILED signal, not a sync failure.
			return s.apply(ctx, run, lifecycle.StatusFailed, err.Error())
		}
		return false, err
	}

	proposed, ok := MapPhase(state.Phase)
	if !ok {
		s.logger.Printf("DEBUG run %s: unmapped external phase %q ignored", run.ID, state.Phase)
		return false, nil
	}
	if proposed == run.Status {
		return false, nil
	}
	return s.apply(ctx, run, proposed, state.Detail)
}

// apply moves the run through the transition gate and persists the result.
// Disallowed transitions are skipped silently: out-of-order signals are
// expected from an eventually consistent service.
func (s *Synchronizer) apply(ctx context.Context, run *lifecycle.Run, proposed lifecycle.RunStatus, reason string) (bool, error) {
	from := run.Status
	if !lifecycle.CanTransition(from, proposed) {
		s.logger.Printf("DEBUG run %s: external signal %s -> %s not allowed, skipped", run.ID, from, proposed)
		return false, nil
	}
	if err := lifecycle.Transition(run, proposed); err != nil {
		return false, err
	}

	if err := s.store.UpdateRun(ctx, run, from); err != nil {
		if errors.Is(err, lifecycle.ErrStaleRun) {
			// Another writer changed the run first; its update wins.
			run.Status = from
			s.logger.Printf("DEBUG run %s: concurrent update won, sync change dropped", run.ID)
			return false, nil
		}
		run.Status = from
		return false, fmt.Errorf("persist run %s: %w", run.ID, err)
	}

	s.sink.RunTransitioned(ctx, events.Transition{
		RunID:  run.ID,
		JobID:  run.JobID,
		From:   from,
		To:     proposed,
		Reason: reason,
		At:     time.Now().UTC(),
	})
	s.logger.Printf("INFO run %s: %s -> %s", run.ID, from, proposed)
	return true, nil
}

// describeWithRetry queries the compute service with bounded exponential
// backoff. Terminal signals are returned immediately; transient failures
// are retried until the attempt budget is spent.
func (s *Synchronizer) describeWithRetry(ctx context.Context, run *lifecycle.Run) (RunState, error) {
	var state RunState
	backoff := retry.WithMaxRetries(uint64(s.cfg.MaxAttempts-1), retry.NewExponential(s.cfg.InitialBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()

		var err error
		state, err = s.compute.Describe(queryCtx, run)
		if err == nil {
			return nil
		}
		if isTerminalSignal(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return RunState{}, err
	}
	return state, nil
}

// SubmitRun registers the run with the compute service, recording the
// external handle and driving CREATED -> REGISTERED -> SUBMITTED.
func (s *Synchronizer) SubmitRun(ctx context.Context, jobID, runID uuid.UUID) (*lifecycle.Run, error) {
	run, err := s.store.FindRun(ctx, jobID, runID)
	if err != nil {
		return nil, err
	}

	if err := s.transitionAndSave(ctx, run, lifecycle.StatusRegistered, "accepted for submission"); err != nil {
		return nil, err
	}

	handle, err := s.compute.Submit(ctx, run)
	if err != nil {
		// The run stays REGISTERED; the caller may retry submission.
		return nil, fmt.Errorf("submit run %s: %w", run.ID, err)
	}
	run.ExternalHandle = handle

	if err := s.transitionAndSave(ctx, run, lifecycle.StatusSubmitted, "submitted to compute service"); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Synchronizer) transitionAndSave(ctx context.Context, run *lifecycle.Run, to lifecycle.RunStatus, reason string) error {
	from := run.Status
	if err := lifecycle.Transition(run, to); err != nil {
		return err
	}
	if err := s.store.UpdateRun(ctx, run, from); err != nil {
		run.Status = from
		return fmt.Errorf("persist run %s: %w", run.ID, err)
	}
	s.sink.RunTransitioned(ctx, events.Transition{
		RunID:  run.ID,
		JobID:  run.JobID,
		From:   from,
		To:     to,
		Reason: reason,
		At:     time.Now().UTC(),
	})
	return nil
}

// isTerminalSignal reports errors that should not be retried: the handle is
// unknown to the service, or the service rejected the request as malformed.
func isTerminalSignal(err error) bool {
	if errors.Is(err, ErrHandleNotFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return apiErr.ErrorCode() != "TooManyRequestsException"
	}
	return false
}
