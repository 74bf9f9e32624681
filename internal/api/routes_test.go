package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/catalog"
	"github.com/flowkit/flowkit-editor/internal/db"
	"github.com/flowkit/flowkit-editor/internal/pipelines"
	"github.com/flowkit/flowkit-editor/internal/playback"
	"github.com/flowkit/flowkit-editor/internal/realtime"
	"github.com/flowkit/flowkit-editor/internal/session"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

const testToken = "test-token"

type testAPI struct {
	handler http.Handler
	cfg     ServerConfig
	svc     *catalog.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), authTokenKey, testToken); err != nil {
		t.Fatal(err)
	}

	mediaDir := filepath.Join(dir, "media")
	resultsDir := filepath.Join(dir, "results")
	svc := catalog.NewService(repo, mediaDir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := realtime.NewHub(nil)
	go hub.Run(ctx)

	stub := backend.NewStubClient(resultsDir, nil)
	sessions := session.NewManager(session.Deps{
		Backend:   stub,
		Jobs:      svc,
		Durations: svc,
		Bus:       hub,
		MediaDir:  mediaDir,
	}, time.Hour)
	t.Cleanup(sessions.Shutdown)

	cfg := ServerConfig{
		MediaDir:       mediaDir,
		ResultsDir:     resultsDir,
		ExportDir:      filepath.Join(dir, "exports"),
		BackendMode:    "stub",
		CatalogService: svc,
		Repository:     repo,
		Backend:        stub,
		Sessions:       sessions,
		Hub:            hub,
		Playback:       playback.NewServer(nil),
		Logger:         discardLogger(),
		StartTime:      time.Now(),
		Version:        "test",
	}
	return &testAPI{handler: NewRouter(cfg), cfg: cfg, svc: svc}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) upload(t *testing.T, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(content))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

// analyze uploads two videos and returns the new session id.
func (a *testAPI) analyze(t *testing.T) string {
	t.Helper()
	if rr := a.upload(t, map[string]string{"a.mp4": "aaaa", "b.mp4": "bbbb"}); rr.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", rr.Code, rr.Body.String())
	}
	rr := a.do(t, http.MethodPost, "/process/analyze", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("analyze status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp AnalyzeResponse
	decodeInto(t, rr, &resp)
	return resp.SessionID
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode JSON body: %v (%s)", err, rr.Body.String())
	}
	return body
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode JSON body: %v (%s)", err, rr.Body.String())
	}
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	if code == "" {
		return
	}
	if got := decodeJSONBody(t, rr)["code"]; got != code {
		t.Errorf("code = %v, want %s", got, code)
	}
}

func TestHealth_Public(t *testing.T) {
	api := newTestAPI(t)

	rr := httptest.NewRecorder()
	api.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	expectCode(t, rr, http.StatusOK, "")
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health = %v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestUploadAndListVideos(t *testing.T) {
	api := newTestAPI(t)

	rr := api.upload(t, map[string]string{"a.mp4": "aaaa", "notes.txt": "x"})
	expectCode(t, rr, http.StatusOK, "")
	var up UploadResponse
	decodeInto(t, rr, &up)
	if len(up.Filenames) != 2 {
		t.Errorf("filenames = %v", up.Filenames)
	}

	rr = api.do(t, http.MethodGet, "/videos", nil)
	expectCode(t, rr, http.StatusOK, "")
	var videos VideosResponse
	decodeInto(t, rr, &videos)
	if len(videos.Videos) != 1 || videos.Videos[0].Filename != "a.mp4" || videos.Videos[0].URL != "/videos/a.mp4" {
		t.Errorf("videos = %+v", videos.Videos)
	}

	// uploaded sources are streamable without a token
	rr = httptest.NewRecorder()
	api.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/videos/a.mp4", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "aaaa" {
		t.Errorf("GET /videos/a.mp4 = %d %q", rr.Code, rr.Body.String())
	}
}

func TestUpload_NoFiles(t *testing.T) {
	api := newTestAPI(t)

	expectCode(t, api.upload(t, nil), http.StatusBadRequest, "BAD_REQUEST")

	rr := api.do(t, http.MethodPost, "/upload", map[string]string{"not": "multipart"})
	expectCode(t, rr, http.StatusBadRequest, "BAD_REQUEST")
}

func TestAnalyze(t *testing.T) {
	api := newTestAPI(t)
	api.upload(t, map[string]string{"a.mp4": "aaaa", "b.mp4": "bbbb"})

	rr := api.do(t, http.MethodPost, "/process/analyze", nil)
	expectCode(t, rr, http.StatusOK, "")

	var resp AnalyzeResponse
	decodeInto(t, rr, &resp)
	if resp.SessionID == "" {
		t.Fatal("session_id missing")
	}
	if len(resp.VideoFiles) != 2 || len(resp.FrameSimilarities) == 0 || resp.FrameCount[48] != 1 {
		t.Errorf("analysis = %+v", resp)
	}

	jobs, _ := api.svc.ListJobs(context.Background(), 10)
	if len(jobs) != 1 || jobs[0].Type != catalog.JobTypeAnalyze || jobs[0].Status != catalog.JobStatusCompleted {
		t.Errorf("jobs = %+v", jobs)
	}
	if jobs[0].Result != resp.SessionID {
		t.Errorf("analyze job result = %q, want session id", jobs[0].Result)
	}
}

func TestAnalyze_NoVideos(t *testing.T) {
	api := newTestAPI(t)

	expectCode(t, api.do(t, http.MethodPost, "/process/analyze", nil), http.StatusBadRequest, "NO_VIDEOS")
}

func TestAnalyze_NoAnalysis(t *testing.T) {
	api := newTestAPI(t)
	api.upload(t, map[string]string{"only.mp4": "x"})

	expectCode(t, api.do(t, http.MethodPost, "/process/analyze", nil), http.StatusUnprocessableEntity, "NO_ANALYSIS")

	jobs, _ := api.svc.ListJobs(context.Background(), 10)
	if len(jobs) != 1 || jobs[0].Status != catalog.JobStatusFailed {
		t.Errorf("jobs = %+v, want one failed analyze job", jobs)
	}
}

func TestStatusHandler(t *testing.T) {
	api := newTestAPI(t)
	api.analyze(t)

	rr := api.do(t, http.MethodGet, "/status", nil)
	expectCode(t, rr, http.StatusOK, "")

	var status StatusResponse
	decodeInto(t, rr, &status)
	if status.Backend != "stub" || status.Sessions != 1 || status.VideosCount != 2 {
		t.Errorf("status = %+v", status)
	}
	if status.Pipelines != nil {
		t.Error("pipelines should be omitted when doctor is nil")
	}
}

func TestStatusHandler_WithCachedCaps(t *testing.T) {
	api := newTestAPI(t)
	doctor := pipelines.NewCachedDoctor(&fakeDoctorRunner{
		caps: &pipelines.Capabilities{
			HasAnalyze: true,
			ProbedAt:   time.Now(),
			Summary:    pipelines.SummaryInfo{Available: 4, Total: 6},
		},
	}, nil)

	cfg := api.cfg
	cfg.Doctor = doctor

	rr := httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if _, ok := decodeJSONBody(t, rr)["pipelines"]; ok {
		t.Fatal("pipelines should be omitted when cache is empty")
	}

	if _, err := doctor.Refresh(context.Background()); err != nil {
		t.Fatalf("doctor.Refresh() error = %v", err)
	}

	rr = httptest.NewRecorder()
	statusHandler(cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	var status StatusResponse
	decodeInto(t, rr, &status)
	if status.Pipelines == nil || !status.Pipelines.HasAnalyze || status.Pipelines.HasRender || status.Pipelines.DepsTotal != 6 {
		t.Errorf("pipelines = %+v", status.Pipelines)
	}
}

func TestJobsHandlers(t *testing.T) {
	api := newTestAPI(t)
	api.analyze(t)

	rr := api.do(t, http.MethodGet, "/jobs", nil)
	expectCode(t, rr, http.StatusOK, "")
	var jobs JobsResponse
	decodeInto(t, rr, &jobs)
	if len(jobs.Jobs) != 1 {
		t.Fatalf("jobs = %+v", jobs.Jobs)
	}

	rr = api.do(t, http.MethodGet, "/jobs/"+jobs.Jobs[0].ID, nil)
	expectCode(t, rr, http.StatusOK, "")

	expectCode(t, api.do(t, http.MethodGet, "/jobs/missing", nil), http.StatusNotFound, "NOT_FOUND")
}

func TestProbeUploads(t *testing.T) {
	api := newTestAPI(t)
	api.upload(t, map[string]string{"a.mp4": "aaaa", "b.mp4": "bbbb"})

	probeUploads(api.svc, fakeProber(42), discardLogger())

	for _, name := range []string{"a.mp4", "b.mp4"} {
		d, err := api.svc.VideoDuration(context.Background(), name)
		if err != nil || d != 42 {
			t.Errorf("VideoDuration(%s) = %v, %v", name, d, err)
		}
	}
}

type fakeProber float64

func (f fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}
	return float64(f), nil
}

type fakeDoctorRunner struct {
	caps *pipelines.Capabilities
}

func (f *fakeDoctorRunner) RunDoctor(ctx context.Context) (*pipelines.Capabilities, error) {
	return f.caps, nil
}

func TestAutoEdit(t *testing.T) {
	api := newTestAPI(t)
	api.upload(t, map[string]string{"a.mp4": "aaaa", "b.mp4": "bbbb"})

	rr := api.do(t, http.MethodPost, "/process/auto", nil)
	expectCode(t, rr, http.StatusOK, "")

	var resp AutoResponse
	decodeInto(t, rr, &resp)
	if resp.VideoURL != "/result/combined_sequence.json" || resp.JobID == "" {
		t.Errorf("auto edit = %+v", resp)
	}

	jobs, _ := api.svc.ListJobs(context.Background(), 10)
	if len(jobs) != 1 || jobs[0].Type != catalog.JobTypeAuto || jobs[0].Status != catalog.JobStatusCompleted {
		t.Fatalf("jobs = %+v, want one completed auto job", jobs)
	}
	if jobs[0].ID != resp.JobID || jobs[0].Result != resp.VideoURL {
		t.Errorf("auto job = %+v", jobs[0])
	}

	// no editing session is opened
	if n := api.cfg.Sessions.Len(); n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}

	rr = httptest.NewRecorder()
	api.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, resp.VideoURL, nil))
	if rr.Code != http.StatusOK {
		t.Errorf("GET %s = %d", resp.VideoURL, rr.Code)
	}
}

func TestAutoEdit_Failures(t *testing.T) {
	api := newTestAPI(t)

	expectCode(t, api.do(t, http.MethodPost, "/process/auto", nil), http.StatusBadRequest, "NO_VIDEOS")

	api.upload(t, map[string]string{"only.mp4": "x"})
	expectCode(t, api.do(t, http.MethodPost, "/process/auto", nil), http.StatusUnprocessableEntity, "NO_ANALYSIS")

	jobs, _ := api.svc.ListJobs(context.Background(), 10)
	if len(jobs) != 1 || jobs[0].Type != catalog.JobTypeAuto || jobs[0].Status != catalog.JobStatusFailed {
		t.Errorf("jobs = %+v, want one failed auto job", jobs)
	}

	rr := httptest.NewRecorder()
	api.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/process/auto", nil))
	expectCode(t, rr, http.StatusUnauthorized, "")
}

type failingJobs struct {
	catalog.CatalogService
}

func (failingJobs) StartJob(ctx context.Context, jobType, sessionID string, seq []timeline.SwitchPoint) (*catalog.Job, error) {
	return &catalog.Job{ID: "job-1", Type: jobType}, nil
}

func (failingJobs) FailJob(ctx context.Context, jobID string, cause error) error {
	return errors.New("database is locked")
}

func (failingJobs) CompleteJob(ctx context.Context, jobID, result string) error {
	return errors.New("database is locked")
}

func TestJobTracker_LogsBookkeepingErrors(t *testing.T) {
	var logs bytes.Buffer
	cfg := ServerConfig{
		CatalogService: failingJobs{},
		Logger:         slog.New(slog.NewTextHandler(&logs, nil)),
	}

	job := startJob(context.Background(), cfg, catalog.JobTypeAuto)
	if job.id() != "job-1" {
		t.Fatalf("job id = %q", job.id())
	}

	job.fail(errors.New("backend down"))
	if !strings.Contains(logs.String(), "failed to record job failure") {
		t.Errorf("fail error not logged: %s", logs.String())
	}

	logs.Reset()
	job.complete("/result/out.mp4")
	if !strings.Contains(logs.String(), "failed to complete job") {
		t.Errorf("complete error not logged: %s", logs.String())
	}
}
