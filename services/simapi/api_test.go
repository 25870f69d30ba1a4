package simapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"simrunner/services/lifecycle"
	"simrunner/services/publisher"
	"simrunner/services/resultstore"
)

type fakeStore struct {
	jobs map[uuid.UUID]*lifecycle.Job
	runs map[uuid.UUID]*lifecycle.Run
}

func newTestStore() *fakeStore {
	return &fakeStore{
		jobs: make(map[uuid.UUID]*lifecycle.Job),
		runs: make(map[uuid.UUID]*lifecycle.Run),
	}
}

func (s *fakeStore) CreateJob(_ context.Context, job *lifecycle.Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeStore) FindJob(_ context.Context, jobID uuid.UUID) (*lifecycle.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, lifecycle.ErrJobNotFound
	}
	return job, nil
}

func (s *fakeStore) CreateRun(_ context.Context, run *lifecycle.Run) error {
	s.runs[run.ID] = run
	return nil
}

func (s *fakeStore) FindRun(_ context.Context, jobID, runID uuid.UUID) (*lifecycle.Run, error) {
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

func (s *fakeStore) UpdateRun(_ context.Context, run *lifecycle.Run, _ lifecycle.RunStatus) error {
	s.runs[run.ID] = run
	return nil
}

func (s *fakeStore) RecordOrphan(context.Context, *lifecycle.OrphanRecord) error { return nil }

type fakePublisher struct {
	result *publisher.Result
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, _, _, _ uuid.UUID, _ string) (*publisher.Result, error) {
	return p.result, p.err
}

type fakeSync struct {
	submitted *lifecycle.Run
	submitErr error
	updated   []*lifecycle.Run
}

func (f *fakeSync) SubmitRun(_ context.Context, _, _ uuid.UUID) (*lifecycle.Run, error) {
	return f.submitted, f.submitErr
}

func (f *fakeSync) Refresh(_ context.Context, runs []*lifecycle.Run) ([]*lifecycle.Run, error) {
	return f.updated, nil
}

type fakeSigner struct {
	url string
	err error
}

func (f *fakeSigner) RetrievableURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return f.url, f.err
}

func newTestRouter(t *testing.T, store lifecycle.RunStore, pub publishService, sync syncService, signer urlSigner) http.Handler {
	t.Helper()
	api, err := New(store, pub, sync, signer, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	routes, err := api.Routes()
	if err != nil {
		t.Fatalf("Routes: %v", err)
	}
	return routes
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateJobAndRun(t *testing.T) {
	store := newTestStore()
	h := newTestRouter(t, store, &fakePublisher{}, &fakeSync{}, &fakeSigner{})

	rec := doJSON(t, h, http.MethodPost, "/v1/jobs", map[string]any{
		"owner_id": uuid.New(),
		"tags":     map[string]string{"team": "epi"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create job status = %d, body %s", rec.Code, rec.Body)
	}
	var created struct {
		Job lifecycle.Job `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/jobs/"+created.Job.ID.String()+"/runs", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create run status = %d, body %s", rec.Code, rec.Body)
	}
	var run struct {
		Run lifecycle.Run `json:"run"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Run.Status != lifecycle.StatusCreated {
		t.Fatalf("new run status = %s, want CREATED", run.Run.Status)
	}
}

func TestCreateRunUnknownJob(t *testing.T) {
	h := newTestRouter(t, newTestStore(), &fakePublisher{}, &fakeSync{}, &fakeSigner{})
	rec := doJSON(t, h, http.MethodPost, "/v1/jobs/"+uuid.NewString()+"/runs", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPublishResults(t *testing.T) {
	store := newTestStore()
	jobID, runID := uuid.New(), uuid.New()
	pub := &fakePublisher{result: &publisher.Result{
		Location:       resultstore.Location{Bucket: "results", Key: "jobs/a/run_b_results.zip"},
		FileCount:      3,
		TotalSizeBytes: 500,
		Checksum:       "abc",
	}}
	h := newTestRouter(t, store, pub, &fakeSync{}, &fakeSigner{})

	rec := doJSON(t, h, http.MethodPost,
		"/v1/jobs/"+jobID.String()+"/runs/"+runID.String()+"/results",
		map[string]any{"owner_id": uuid.New(), "results_dir": "/data/out"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Location       string `json:"location"`
		FileCount      int    `json:"file_count"`
		TotalSizeBytes int64  `json:"total_size_bytes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Location != "s3://results/jobs/a/run_b_results.zip" || body.FileCount != 3 || body.TotalSizeBytes != 500 {
		t.Fatalf("body = %+v", body)
	}
}

func TestPublishResultsValidation(t *testing.T) {
	h := newTestRouter(t, newTestStore(), &fakePublisher{}, &fakeSync{}, &fakeSigner{})
	rec := doJSON(t, h, http.MethodPost,
		"/v1/jobs/"+uuid.NewString()+"/runs/"+uuid.NewString()+"/results",
		map[string]any{"owner_id": uuid.New()})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPublishResultsConflictOnUnfinishedRun(t *testing.T) {
	pub := &fakePublisher{err: &lifecycle.InvalidTransitionError{
		From: lifecycle.StatusCreated, To: lifecycle.StatusDone,
	}}
	h := newTestRouter(t, newTestStore(), pub, &fakeSync{}, &fakeSigner{})
	rec := doJSON(t, h, http.MethodPost,
		"/v1/jobs/"+uuid.NewString()+"/runs/"+uuid.NewString()+"/results",
		map[string]any{"owner_id": uuid.New(), "results_dir": "/data/out"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestResultsURL(t *testing.T) {
	store := newTestStore()
	job := &lifecycle.Job{ID: uuid.New(), OwnerID: uuid.New(), CreatedAt: time.Now().UTC()}
	store.jobs[job.ID] = job
	loc := "s3://results/jobs/x/run_y_results.zip"
	run := &lifecycle.Run{ID: uuid.New(), JobID: job.ID, Status: lifecycle.StatusDone, ResultsLocation: &loc}
	store.runs[run.ID] = run

	h := newTestRouter(t, store, &fakePublisher{}, &fakeSync{}, &fakeSigner{url: "https://signed.example/results.zip"})
	rec := doJSON(t, h, http.MethodGet,
		"/v1/jobs/"+job.ID.String()+"/runs/"+run.ID.String()+"/results/url", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.URL != "https://signed.example/results.zip" {
		t.Fatalf("url = %q", body.URL)
	}
}

func TestResultsURLBeforePublish(t *testing.T) {
	store := newTestStore()
	run := &lifecycle.Run{ID: uuid.New(), JobID: uuid.New(), Status: lifecycle.StatusRunning}
	store.runs[run.ID] = run

	h := newTestRouter(t, store, &fakePublisher{}, &fakeSync{}, &fakeSigner{})
	rec := doJSON(t, h, http.MethodGet,
		"/v1/jobs/"+run.JobID.String()+"/runs/"+run.ID.String()+"/results/url", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRefreshReportsCounts(t *testing.T) {
	store := newTestStore()
	run := &lifecycle.Run{ID: uuid.New(), JobID: uuid.New(), Status: lifecycle.StatusRunning, ExternalHandle: "h"}
	store.runs[run.ID] = run

	h := newTestRouter(t, store, &fakePublisher{}, &fakeSync{updated: []*lifecycle.Run{run}}, &fakeSigner{})
	rec := doJSON(t, h, http.MethodPost, "/v1/runs/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var body struct {
		Checked int `json:"checked"`
		Updated int `json:"updated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checked != 1 || body.Updated != 1 {
		t.Fatalf("body = %+v", body)
	}
}
