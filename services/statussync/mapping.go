package statussync

import "simrunner/services/lifecycle"

// phaseMapping translates the compute service's vocabulary onto the run
// lifecycle. The phases are AWS Batch job states; several of them collapse
// onto one domain status because the lifecycle does not distinguish
// placement stages.
var phaseMapping = map[string]lifecycle.RunStatus{
	"SUBMITTED": lifecycle.StatusQueued,
	"PENDING":   lifecycle.StatusQueued,
	"RUNNABLE":  lifecycle.StatusQueued,
	"STARTING":  lifecycle.StatusRunning,
	"RUNNING":   lifecycle.StatusRunning,
	"SUCCEEDED": lifecycle.StatusDone,
	"FAILED":    lifecycle.StatusFailed,
}

// MapPhase converts an external phase to a domain status. Unknown phases
// report ok=false and mean "no proposed change", never an error.
func MapPhase(phase string) (lifecycle.RunStatus, bool) {
	status, ok := phaseMapping[phase]
	return status, ok
}
