package statussync

import (
	"context"
	"errors"

	"simrunner/services/lifecycle"
)

// ErrHandleNotFound reports an external handle the compute service no
// longer knows. The synchronizer treats it as a terminal signal for the
// run, not as a query failure.
var ErrHandleNotFound = errors.New("external job handle not found")

// RunState is the raw status report from the external compute service.
type RunState struct {
	Phase  string
	Detail string
}

// ComputeClient is the boundary to the external batch-compute service.
type ComputeClient interface {
	// Submit registers the run for execution and returns the opaque handle
	// the service will be queried by.
	Submit(ctx context.Context, run *lifecycle.Run) (string, error)

	// Describe reports the current phase for a previously submitted run.
	Describe(ctx context.Context, run *lifecycle.Run) (RunState, error)
}
