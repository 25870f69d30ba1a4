// Package events carries lifecycle observability signals out of the core.
// Sinks are fire-and-forget: they never block and never fail the caller.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"simrunner/services/lifecycle"
)

// Subjects used by the NATS sink.
const (
	runTransitionedSubject = "simrunner.runs.transitioned"
	syncExhaustedSubject   = "simrunner.runs.sync_exhausted"
)

// Transition describes one applied status change.
type Transition struct {
	RunID  uuid.UUID           `json:"run_id"`
	JobID  uuid.UUID           `json:"job_id"`
	From   lifecycle.RunStatus `json:"from"`
	To     lifecycle.RunStatus `json:"to"`
	Reason string              `json:"reason,omitempty"`
	At     time.Time           `json:"at"`
}

// SyncExhaustion describes a run whose external status query failed on every
// retry attempt; the run keeps its last persisted status.
type SyncExhaustion struct {
	RunID    uuid.UUID           `json:"run_id"`
	JobID    uuid.UUID           `json:"job_id"`
	Status   lifecycle.RunStatus `json:"status"`
	Attempts int                 `json:"attempts"`
	Reason   string              `json:"reason"`
	At       time.Time           `json:"at"`
}

// Sink receives lifecycle events. Implementations must return promptly and
// swallow their own failures.
type Sink interface {
	RunTransitioned(ctx context.Context, evt Transition)
	SyncExhausted(ctx context.Context, evt SyncExhaustion)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RunTransitioned(context.Context, Transition)   {}
func (NopSink) SyncExhausted(context.Context, SyncExhaustion) {}

// MultiSink fans events out to every child sink.
type MultiSink []Sink

func (m MultiSink) RunTransitioned(ctx context.Context, evt Transition) {
	for _, s := range m {
		s.RunTransitioned(ctx, evt)
	}
}

func (m MultiSink) SyncExhausted(ctx context.Context, evt SyncExhaustion) {
	for _, s := range m {
		s.SyncExhausted(ctx, evt)
	}
}
