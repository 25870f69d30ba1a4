package statussync

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"

	"simrunner/services/events"
	"simrunner/services/lifecycle"
)

type fakeCompute struct {
	states  []RunState
	errs    []error
	calls   int
	handles map[uuid.UUID]string
}

func (f *fakeCompute) Submit(ctx context.Context, run *lifecycle.Run) (string, error) {
	if f.handles == nil {
		return "handle-" + run.ID.String(), nil
	}
	return f.handles[run.ID], nil
}

func (f *fakeCompute) Describe(ctx context.Context, run *lifecycle.Run) (RunState, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return RunState{}, f.errs[i]
	}
	if i < len(f.states) {
		return f.states[i], nil
	}
	if len(f.states) > 0 {
		return f.states[len(f.states)-1], nil
	}
	return RunState{}, errors.New("no state configured")
}

type fakeStore struct {
	runs      map[uuid.UUID]*lifecycle.Run
	saves     int
	saveErr   error
	updateLog []lifecycle.RunStatus
}

func newFakeStore(runs ...*lifecycle.Run) *fakeStore {
	s := &fakeStore{runs: make(map[uuid.UUID]*lifecycle.Run)}
	for _, r := range runs {
		s.runs[r.ID] = r
	}
	return s
}

func (s *fakeStore) CreateJob(context.Context, *lifecycle.Job) error { return nil }

func (s *fakeStore) FindJob(context.Context, uuid.UUID) (*lifecycle.Job, error) {
	return nil, lifecycle.ErrJobNotFound
}

func (s *fakeStore) CreateRun(ctx context.Context, run *lifecycle.Run) error {
	s.runs[run.ID] = run
	return nil
}

func (s *fakeStore) FindRun(ctx context.Context, jobID, runID uuid.UUID) (*lifecycle.Run, error) {
	run, ok := s.runs[runID]
	if !ok || run.JobID != jobID {
		return nil, lifecycle.ErrRunNotFound
	}
	return run, nil
}

func (s *fakeStore) ListActiveRuns(context.Context) ([]*lifecycle.Run, error) {
	var out []*lifecycle.Run
	for _, r := range s.runs {
		if !r.Status.IsTerminal() && r.ExternalHandle != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateRun(ctx context.Context, run *lifecycle.Run, expected lifecycle.RunStatus) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	stored, ok := s.runs[run.ID]
	if !ok {
		return lifecycle.ErrRunNotFound
	}
	if stored.Status != expected && stored != run {
		return lifecycle.ErrStaleRun
	}
	s.runs[run.ID] = run
	s.saves++
	s.updateLog = append(s.updateLog, run.Status)
	return nil
}

func (s *fakeStore) RecordOrphan(context.Context, *lifecycle.OrphanRecord) error { return nil }

type capturedEvents struct {
	transitions []events.Transition
	exhaustions []events.SyncExhaustion
}

func (c *capturedEvents) RunTransitioned(_ context.Context, evt events.Transition) {
	c.transitions = append(c.transitions, evt)
}

func (c *capturedEvents) SyncExhausted(_ context.Context, evt events.SyncExhaustion) {
	c.exhaustions = append(c.exhaustions, evt)
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func testConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, QueryTimeout: time.Second}
}

func activeRun(status lifecycle.RunStatus) *lifecycle.Run {
	return &lifecycle.Run{
		ID:             uuid.New(),
		JobID:          uuid.New(),
		Status:         status,
		ExternalHandle: "batch-job-1",
	}
}

func TestRefreshAppliesMappedPhase(t *testing.T) {
	tests := []struct {
		phase string
		from  lifecycle.RunStatus
		want  lifecycle.RunStatus
	}{
		{"SUBMITTED", lifecycle.StatusSubmitted, lifecycle.StatusQueued},
		{"PENDING", lifecycle.StatusSubmitted, lifecycle.StatusQueued},
		{"RUNNABLE", lifecycle.StatusSubmitted, lifecycle.StatusQueued},
		{"STARTING", lifecycle.StatusQueued, lifecycle.StatusRunning},
		{"RUNNING", lifecycle.StatusQueued, lifecycle.StatusRunning},
		{"SUCCEEDED", lifecycle.StatusRunning, lifecycle.StatusDone},
		{"FAILED", lifecycle.StatusRunning, lifecycle.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.phase, func(t *testing.T) {
			run := activeRun(tt.from)
			store := newFakeStore(run)
			sink := &capturedEvents{}
			sync, err := New(&fakeCompute{states: []RunState{{Phase: tt.phase}}}, store, sink, quietLogger(), testConfig())
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			updated, err := sync.Refresh(context.Background(), []*lifecycle.Run{run})
			if err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			if len(updated) != 1 || run.Status != tt.want {
				t.Fatalf("got status %s, want %s (updated=%d)", run.Status, tt.want, len(updated))
			}
			if store.saves != 1 {
				t.Fatalf("saves = %d, want 1", store.saves)
			}
			if len(sink.transitions) != 1 || sink.transitions[0].To != tt.want {
				t.Fatalf("transition event missing or wrong: %+v", sink.transitions)
			}
		})
	}
}

func TestRefreshRecoversAfterTransientFailures(t *testing.T) {
	run := activeRun(lifecycle.StatusQueued)
	store := newFakeStore(run)
	compute := &fakeCompute{
		errs:   []error{errors.New("connection reset"), errors.New("timeout"), nil},
		states: []RunState{{}, {}, {Phase: "RUNNING"}},
	}
	sync, err := New(compute, store, &capturedEvents{}, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	updated, err := sync.Refresh(context.Background(), []*lifecycle.Run{run})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if compute.calls != 3 {
		t.Fatalf("compute calls = %d, want 3", compute.calls)
	}
	if len(updated) != 1 || run.Status != lifecycle.StatusRunning {
		t.Fatalf("got status %s, want RUNNING", run.Status)
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d, want exactly 1", store.saves)
	}
}

func TestRefreshExhaustsRetriesWithoutFailing(t *testing.T) {
	run := activeRun(lifecycle.StatusRunning)
	store := newFakeStore(run)
	compute := &fakeCompute{errs: []error{
		errors.New("unavailable"), errors.New("unavailable"), errors.New("unavailable"),
	}}
	sink := &capturedEvents{}
	sync, err := New(compute, store, sink, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	updated, err := sync.Refresh(context.Background(), []*lifecycle.Run{run})
	if err != nil {
		t.Fatalf("Refresh returned error, want graceful degradation: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("updated = %d, want 0", len(updated))
	}
	if run.Status != lifecycle.StatusRunning {
		t.Fatalf("status changed to %s, want RUNNING untouched", run.Status)
	}
	if store.saves != 0 {
		t.Fatalf("saves = %d, want 0", store.saves)
	}
	if compute.calls != 3 {
		t.Fatalf("compute calls = %d, want 3", compute.calls)
	}
	if len(sink.exhaustions) != 1 || sink.exhaustions[0].Attempts != 3 {
		t.Fatalf("exhaustion event missing or wrong: %+v", sink.exhaustions)
	}
}

func TestRefreshSkipsDisallowedTransition(t *testing.T) {
	// A stale SUBMITTED signal arriving after the run started must not
	// rewind it.
	run := activeRun(lifecycle.StatusRunning)
	store := newFakeStore(run)
	sync, err := New(&fakeCompute{states: []RunState{{Phase: "SUBMITTED"}}}, store, &capturedEvents{}, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	updated, err := sync.Refresh(context.Background(), []*lifecycle.Run{run})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(updated) != 0 || run.Status != lifecycle.StatusRunning || store.saves != 0 {
		t.Fatalf("disallowed transition was not skipped: status=%s saves=%d", run.Status, store.saves)
	}
}

func TestRefreshIgnoresUnknownPhase(t *testing.T) {
	run := activeRun(lifecycle.StatusQueued)
	store := newFakeStore(run)
	sync, err := New(&fakeCompute{states: []RunState{{Phase: "DRAINING"}}}, store, &capturedEvents{}, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	updated, err := sync.Refresh(context.Background(), []*lifecycle.Run{run})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(updated) != 0 || run.Status != lifecycle.StatusQueued || store.saves != 0 {
		t.Fatalf("unknown phase caused a change: status=%s saves=%d", run.Status, store.saves)
	}
}

func TestRefreshSkipsTerminalAndUnsubmittedRuns(t *testing.T) {
	done := activeRun(lifecycle.StatusDone)
	unsubmitted := activeRun(lifecycle.StatusCreated)
	unsubmitted.ExternalHandle = ""
	compute := &fakeCompute{states: []RunState{{Phase: "RUNNING"}}}
	sync, err := New(compute, newFakeStore(done, unsubmitted), &capturedEvents{}, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	updated, err := sync.Refresh(context.Background(), []*lifecycle.Run{done, unsubmitted})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(updated) != 0 || compute.calls != 0 {
		t.Fatalf("terminal or unsubmitted run was queried: calls=%d", compute.calls)
	}
}

func TestRefreshMissingHandleFailsRun(t *testing.T) {
	run := activeRun(lifecycle.StatusRunning)
	store := newFakeStore(run)
	compute := &fakeCompute{errs: []error{ErrHandleNotFound}}
	sync, err := New(compute, store, &capturedEvents{}, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	updated, err := sync.Refresh(context.Background(), []*lifecycle.Run{run})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(updated) != 1 || run.Status != lifecycle.StatusFailed {
		t.Fatalf("got status %s, want FAILED", run.Status)
	}
	if compute.calls != 1 {
		t.Fatalf("compute calls = %d, want 1 (no retry on missing handle)", compute.calls)
	}
}

func TestRefreshStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := activeRun(lifecycle.StatusQueued)
	sync, err := New(&fakeCompute{}, newFakeStore(run), &capturedEvents{}, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sync.Refresh(ctx, []*lifecycle.Run{run}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSubmitRunRecordsHandleAndStatus(t *testing.T) {
	jobID := uuid.New()
	run := &lifecycle.Run{ID: uuid.New(), JobID: jobID, Status: lifecycle.StatusCreated}
	store := newFakeStore(run)
	sink := &capturedEvents{}
	sync, err := New(&fakeCompute{}, store, sink, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := sync.SubmitRun(context.Background(), jobID, run.ID)
	if err != nil {
		t.Fatalf("SubmitRun: %v", err)
	}
	if got.Status != lifecycle.StatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", got.Status)
	}
	if got.ExternalHandle == "" {
		t.Fatalf("external handle not recorded")
	}
	wantLog := []lifecycle.RunStatus{lifecycle.StatusRegistered, lifecycle.StatusSubmitted}
	if len(store.updateLog) != 2 || store.updateLog[0] != wantLog[0] || store.updateLog[1] != wantLog[1] {
		t.Fatalf("persisted statuses %v, want %v", store.updateLog, wantLog)
	}
	if len(sink.transitions) != 2 {
		t.Fatalf("transition events = %d, want 2", len(sink.transitions))
	}
}

func TestSubmitRunUnknownRun(t *testing.T) {
	sync, err := New(&fakeCompute{}, newFakeStore(), &capturedEvents{}, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sync.SubmitRun(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, lifecycle.ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestSubmitRunRejectsActiveRun(t *testing.T) {
	run := activeRun(lifecycle.StatusRunning)
	sync, err := New(&fakeCompute{}, newFakeStore(run), &capturedEvents{}, quietLogger(), testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = sync.SubmitRun(context.Background(), run.JobID, run.ID)
	var invalid *lifecycle.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}
