package lifecycle

import (
	"fmt"
	"time"
)

// transitions is the complete edge table for the run lifecycle. A status
// missing a target here cannot move to it by any path, including status
// signals mirrored from the external compute service.
var transitions = map[RunStatus][]RunStatus{
	StatusCreated:    {StatusRegistered, StatusCancelled},
	StatusRegistered: {StatusSubmitted, StatusCancelled},
	StatusSubmitted:  {StatusQueued, StatusFailed, StatusCancelled},
	StatusQueued:     {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:    {StatusDone, StatusFailed, StatusCancelled},
	StatusDone:       {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// InvalidTransitionError reports an attempted edge that is not in the
// lifecycle table. The run is left unchanged when it is returned.
type InvalidTransitionError struct {
	From RunStatus
	To   RunStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid run transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether the edge from -> to is in the table.
func CanTransition(from, to RunStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the run to the target status. It is the single gate
// through which every status mutation passes; on a disallowed edge the run
// is untouched and an *InvalidTransitionError is returned.
func Transition(r *Run, to RunStatus) error {
	if r == nil {
		return fmt.Errorf("%w: nil run", ErrValidation)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, string(to))
	}
	if !CanTransition(r.Status, to) {
		return &InvalidTransitionError{From: r.Status, To: to}
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}
