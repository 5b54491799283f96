package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/rss-stitch/app/database"
	"github.com/lysyi3m/rss-stitch/app/feed"
	"github.com/lysyi3m/rss-stitch/app/tasks"
)

type fakeScheduler struct {
	enqueued []tasks.TaskInterface
	full     bool
	lastRun  *database.Run
}

func (s *fakeScheduler) Start() {}
func (s *fakeScheduler) Stop()  {}

func (s *fakeScheduler) EnqueueTask(task tasks.TaskInterface) error {
	if s.full {
		return errors.New("task queue is full")
	}
	s.enqueued = append(s.enqueued, task)
	return nil
}

func (s *fakeScheduler) LastRun() *database.Run {
	return s.lastRun
}

type fakeRunRepository struct {
	runs []database.Run
	err  error
}

func (r *fakeRunRepository) RecordRun(run database.Run) error {
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRunRepository) GetLastRun() (*database.Run, error) {
	if len(r.runs) == 0 {
		return nil, nil
	}
	return &r.runs[0], nil
}

func (r *fakeRunRepository) GetRecentRuns(limit int) ([]database.Run, error) {
	if r.err != nil {
		return nil, r.err
	}
	if limit < len(r.runs) {
		return r.runs[:limit], nil
	}
	return r.runs, nil
}

func (r *fakeRunRepository) GetRunCount() (int, error) {
	return len(r.runs), r.err
}

func newTestHandler(t *testing.T, scheduler *fakeScheduler, runRepo database.RunRepository) (*Handler, string) {
	t.Helper()

	sources := feed.NewSourceLoader("")
	if err := sources.Run(); err != nil {
		t.Fatalf("Failed to load default sources: %v", err)
	}

	outputPath := filepath.Join(t.TempDir(), "feed.xml")
	newTask := func() tasks.TaskInterface {
		return tasks.NewBuildFeedTask(sources, nil, nil, nil, tasks.BuildSettings{OutputPath: outputPath})
	}

	return NewHandler(sources, runRepo, scheduler, newTask, outputPath, "test"), outputPath
}

func perform(router http.Handler, method, path, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetFeedNotBuiltYet(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeScheduler{}, nil)
	router := NewServer(handler, "")

	w := perform(router, http.MethodGet, "/feed.xml", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got: %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

func TestGetFeedServesOutputFile(t *testing.T) {
	finished := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	scheduler := &fakeScheduler{lastRun: &database.Run{
		Status:     database.RunStatusSuccess,
		Rendered:   7,
		FinishedAt: finished,
	}}
	handler, outputPath := newTestHandler(t, scheduler, nil)
	router := NewServer(handler, "")

	doc := `<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel></channel></rss>`
	if err := os.WriteFile(outputPath, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write feed: %v", err)
	}

	w := perform(router, http.MethodGet, "/feed.xml", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/rss+xml") {
		t.Errorf("Expected RSS content type, got: %s", ct)
	}
	if w.Body.String() != doc {
		t.Errorf("Expected feed body to be served verbatim, got: %s", w.Body.String())
	}
	if got := w.Header().Get("X-Feed-Items"); got != "7" {
		t.Errorf("Expected X-Feed-Items 7, got: %s", got)
	}
	if got := w.Header().Get("X-Last-Updated"); got != finished.Format(time.RFC3339) {
		t.Errorf("Expected X-Last-Updated %s, got: %s", finished.Format(time.RFC3339), got)
	}
}

func TestGetHealth(t *testing.T) {
	scheduler := &fakeScheduler{lastRun: &database.Run{
		ID:     "run-1",
		Status: database.RunStatusEmpty,
		Sources: []database.SourceResult{
			{SourceName: "post-lists", URL: "https://example.com/a", Error: "fetch failed"},
		},
	}}
	handler, _ := newTestHandler(t, scheduler, &fakeRunRepository{runs: []database.Run{{ID: "run-1"}}})
	router := NewServer(handler, "")

	w := perform(router, http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got: %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if body["endpoints"] != float64(5) {
		t.Errorf("Expected 5 endpoints, got: %v", body["endpoints"])
	}
	if body["recorded_runs"] != float64(1) {
		t.Errorf("Expected 1 recorded run, got: %v", body["recorded_runs"])
	}

	lastRun, ok := body["last_run"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected last_run object, got: %v", body["last_run"])
	}
	if lastRun["status"] != "empty" {
		t.Errorf("Expected status empty, got: %v", lastRun["status"])
	}
	if lastRun["skipped"] != float64(1) {
		t.Errorf("Expected 1 skipped source, got: %v", lastRun["skipped"])
	}
}

func TestAPIRequiresKey(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeScheduler{}, &fakeRunRepository{})
	router := NewServer(handler, "secret")

	if w := perform(router, http.MethodGet, "/api/runs", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got: %d", w.Code)
	}
	if w := perform(router, http.MethodGet, "/api/runs", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong key, got: %d", w.Code)
	}
	if w := perform(router, http.MethodGet, "/api/runs", "secret"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with key, got: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with bearer token, got: %d", w.Code)
	}
}

func TestAPIDisabledWithoutKey(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeScheduler{}, &fakeRunRepository{})
	router := NewServer(handler, "")

	if w := perform(router, http.MethodPost, "/api/rebuild", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when API is disabled, got: %d", w.Code)
	}
}

func TestAPIListRuns(t *testing.T) {
	repo := &fakeRunRepository{runs: []database.Run{
		{
			ID:        "run-2",
			Status:    database.RunStatusSuccess,
			Collected: 12,
			Rendered:  12,
			Sources: []database.SourceResult{
				{SourceName: "post-filters", URL: "https://example.com/f", Items: 12},
			},
		},
		{ID: "run-1", Status: database.RunStatusFailed, Error: "write failed"},
	}}
	handler, _ := newTestHandler(t, &fakeScheduler{}, repo)
	router := NewServer(handler, "secret")

	w := perform(router, http.MethodGet, "/api/runs?limit=1", "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got: %d", w.Code)
	}

	var body struct {
		Runs []struct {
			ID      string `json:"id"`
			Status  string `json:"status"`
			Sources []struct {
				Source string `json:"source"`
				Items  int    `json:"items"`
			} `json:"sources"`
		} `json:"runs"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if body.Total != 1 || len(body.Runs) != 1 {
		t.Fatalf("Expected 1 run, got: %d", len(body.Runs))
	}
	if body.Runs[0].ID != "run-2" {
		t.Errorf("Expected run-2, got: %s", body.Runs[0].ID)
	}
	if len(body.Runs[0].Sources) != 1 || body.Runs[0].Sources[0].Items != 12 {
		t.Errorf("Expected one source with 12 items, got: %+v", body.Runs[0].Sources)
	}

	if w := perform(router, http.MethodGet, "/api/runs?limit=abc", "secret"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid limit, got: %d", w.Code)
	}
}

func TestAPIListRunsHistoryDisabled(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeScheduler{}, nil)
	router := NewServer(handler, "secret")

	if w := perform(router, http.MethodGet, "/api/runs", "secret"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when history is disabled, got: %d", w.Code)
	}
}

func TestAPIListRunsDatabaseError(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeScheduler{}, &fakeRunRepository{err: errors.New("disk I/O error")})
	router := NewServer(handler, "secret")

	if w := perform(router, http.MethodGet, "/api/runs", "secret"); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on database error, got: %d", w.Code)
	}
}

func TestAPIRebuild(t *testing.T) {
	scheduler := &fakeScheduler{}
	handler, _ := newTestHandler(t, scheduler, nil)
	router := NewServer(handler, "secret")

	w := perform(router, http.MethodPost, "/api/rebuild", "secret")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got: %d", w.Code)
	}
	if len(scheduler.enqueued) != 1 {
		t.Fatalf("Expected 1 enqueued task, got: %d", len(scheduler.enqueued))
	}
	if scheduler.enqueued[0].GetType() != tasks.TaskTypeBuildFeed {
		t.Errorf("Expected build_feed task, got: %s", scheduler.enqueued[0].GetType())
	}
	if !strings.Contains(w.Body.String(), scheduler.enqueued[0].GetID()) {
		t.Errorf("Expected response to carry task ID, got: %s", w.Body.String())
	}

	scheduler.full = true
	if w := perform(router, http.MethodPost, "/api/rebuild", "secret"); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 when queue is full, got: %d", w.Code)
	}
}

func TestAPIReloadSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yml")
	valid := `channel:
  title: Test
  link: https://example.com
  feed_url: https://example.com/feed.xml
  description: Test feed
  language: bn
base_url: https://example.com
sources:
  - name: lists
    kind: posts
    urls:
      - https://api.example.com/lists/1
      - https://api.example.com/lists/2
`
	if err := os.WriteFile(path, []byte(valid), 0644); err != nil {
		t.Fatalf("Failed to write sources: %v", err)
	}

	sources := feed.NewSourceLoader(path)
	if err := sources.Run(); err != nil {
		t.Fatalf("Failed to load sources: %v", err)
	}
	handler := NewHandler(sources, nil, &fakeScheduler{}, nil, filepath.Join(dir, "feed.xml"), "test")
	router := NewServer(handler, "secret")

	updated := strings.Replace(valid, "      - https://api.example.com/lists/2\n", "", 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("Failed to rewrite sources: %v", err)
	}

	w := perform(router, http.MethodPost, "/api/reload", "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got: %d", w.Code)
	}
	config, _ := sources.GetConfig()
	if config.EndpointCount() != 1 {
		t.Errorf("Expected 1 endpoint after reload, got: %d", config.EndpointCount())
	}

	if err := os.WriteFile(path, []byte("sources: ["), 0644); err != nil {
		t.Fatalf("Failed to rewrite sources: %v", err)
	}
	if w := perform(router, http.MethodPost, "/api/reload", "secret"); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 for broken sources file, got: %d", w.Code)
	}
	config, _ = sources.GetConfig()
	if config.EndpointCount() != 1 {
		t.Errorf("Expected previous config to be kept, got: %d endpoints", config.EndpointCount())
	}
}

func TestGetIndexListsEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t, &fakeScheduler{}, nil)

	w := perform(NewServer(handler, ""), http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got: %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "/api/rebuild") {
		t.Errorf("Expected API endpoints to be hidden without a key, got: %s", w.Body.String())
	}

	w = perform(NewServer(handler, "secret"), http.MethodGet, "/", "")
	if !strings.Contains(w.Body.String(), "/api/rebuild") {
		t.Errorf("Expected API endpoints to be listed, got: %s", w.Body.String())
	}
}

func TestGetHealthFallsBackToRecordedRun(t *testing.T) {
	repo := &fakeRunRepository{runs: []database.Run{{ID: "previous", Status: database.RunStatusSuccess, Rendered: 50}}}
	handler, _ := newTestHandler(t, &fakeScheduler{}, repo)

	w := perform(NewServer(handler, ""), http.MethodGet, "/health", "")

	var body struct {
		LastRun struct {
			ID       string `json:"id"`
			Rendered int    `json:"rendered"`
		} `json:"last_run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.LastRun.ID != "previous" || body.LastRun.Rendered != 50 {
		t.Errorf("Expected recorded run to be reported, got: %+v", body.LastRun)
	}
}
