// ABOUTME: End-to-end API tests over httptest with a real SQLite store and filesystem run store.
// ABOUTME: Covers workflow routes, run polling, definition_status, auth, and error status mapping.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/plan"
	"github.com/2389-research/viewclone/planner"
	"github.com/2389-research/viewclone/publish"
)

type nopContent struct{}

func (nopContent) CreateRepository(context.Context, string, bool) error { return nil }
func (nopContent) ClearRepository(context.Context, string) error        { return nil }
func (nopContent) CopyUnits(context.Context, string, string, *plan.Criteria) (int, error) {
	return 2, nil
}
func (nopContent) GenerateMetadata(context.Context, string) error { return nil }

type nopIndexer struct{}

func (nopIndexer) IndexContent(context.Context, *content.PuppetEnvironment) (int, error) {
	return 2, nil
}

type testEnv struct {
	srv   *httptest.Server
	exec  *engine.Executor
	store *content.SQLiteStore
	cv    *content.ContentView
	v1    *content.Version
	env   *content.Environment
	token string
}

// newTestEnv builds the full stack. A nil runner uses the domain runner with no-op remotes.
func newTestEnv(t *testing.T, runner engine.StepRunner, token string) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	store, err := content.OpenSQLite(filepath.Join(dir, "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	runs, err := engine.NewFSRunStore(filepath.Join(dir, "runs"))
	if err != nil {
		t.Fatal(err)
	}
	if runner == nil {
		runner = &engine.Steps{Content: nopContent{}, Index: nopIndexer{}}
	}
	exec, err := engine.NewExecutor(engine.Config{Store: runs, Runner: runner, Entities: store, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}

	svc := publish.NewService(store, planner.New(store, logger), exec, logger)
	srv := httptest.NewServer(New(svc, exec, Options{AuthToken: token, Logger: logger}))
	t.Cleanup(srv.Close)
	t.Cleanup(exec.Wait)

	e := &testEnv{srv: srv, exec: exec, store: store, token: token}
	e.cv = &content.ContentView{Label: "web", OrganizationLabel: "acme"}
	mustOK(t, store.CreateContentView(ctx, e.cv))
	e.v1 = &content.Version{ContentViewID: e.cv.ID, Number: 1}
	mustOK(t, store.CreateVersion(ctx, e.v1))
	e.env = &content.Environment{Label: "dev"}
	mustOK(t, store.CreateEnvironment(ctx, e.env))
	mustOK(t, store.CreateEntity(ctx, &content.PuppetEnvironment{
		ContentViewID: e.cv.ID, VersionID: e.v1.ID, PulpID: "acme-web-v1-puppet", State: content.StateArchived,
	}))
	return e
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (e *testEnv) waitTerminal(t *testing.T, runID string) *engine.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, body := e.do(t, http.MethodGet, "/api/runs/"+runID, "")
		if status != http.StatusOK {
			t.Fatalf("GET run: %d %s", status, body)
		}
		var run engine.Run
		mustOK(t, json.Unmarshal(body, &run))
		if !run.Pending() {
			return &run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", runID)
	return nil
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil, "")
	status, body := e.do(t, http.MethodGet, "/health", "")
	if status != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("health: %d %s", status, body)
	}
}

func TestPromoteAndPollRun(t *testing.T) {
	e := newTestEnv(t, nil, "")
	status, body := e.do(t, http.MethodPost, "/api/versions/"+e.v1.ID+"/promote", `{"environment_id":"`+e.env.ID+`"}`)
	if status != http.StatusAccepted {
		t.Fatalf("promote: %d %s", status, body)
	}
	var started startedResponse
	mustOK(t, json.Unmarshal(body, &started))
	if started.RunID == "" || started.Plan != "create, copy, concurrence[metadata_generate, index_content]" {
		t.Errorf("started = %+v", started)
	}
	if len(started.Steps) != 4 || started.Steps[0] != "1:create" {
		t.Errorf("steps = %v", started.Steps)
	}

	run := e.waitTerminal(t, started.RunID)
	if run.Status != plan.StatusSucceeded {
		t.Errorf("run status = %s (%s)", run.Status, run.Error)
	}
}

func TestCloneArchiveAndPublish(t *testing.T) {
	e := newTestEnv(t, nil, "")
	ctx := context.Background()

	status, body := e.do(t, http.MethodPost, "/api/content_views/"+e.cv.ID+"/publish", "")
	if status != http.StatusAccepted {
		t.Fatalf("publish: %d %s", status, body)
	}
	var started startedResponse
	mustOK(t, json.Unmarshal(body, &started))
	if started.Version == nil || started.Version.Number != 2 {
		t.Fatalf("version = %+v", started.Version)
	}
	e.waitTerminal(t, started.RunID)

	// Archive-clone v1 into an explicit new version.
	v3 := &content.Version{ContentViewID: e.cv.ID, Number: 3}
	mustOK(t, e.store.CreateVersion(ctx, v3))
	status, body = e.do(t, http.MethodPost, "/api/versions/"+e.v1.ID+"/clone", `{"new_version_id":"`+v3.ID+`"}`)
	if status != http.StatusAccepted {
		t.Fatalf("clone: %d %s", status, body)
	}
	mustOK(t, json.Unmarshal(body, &started))
	if run := e.waitTerminal(t, started.RunID); run.Status != plan.StatusSucceeded {
		t.Errorf("clone run = %s (%s)", run.Status, run.Error)
	}
}

func TestDefinitionStatus(t *testing.T) {
	e := newTestEnv(t, nil, "")
	_, body := e.do(t, http.MethodPost, "/api/versions/"+e.v1.ID+"/promote", `{"environment_id":"`+e.env.ID+`"}`)
	var started startedResponse
	mustOK(t, json.Unmarshal(body, &started))
	e.waitTerminal(t, started.RunID)

	for _, query := range []string{
		"task_ids[]=" + started.RunID + "&task_ids[]=unknown",
		"task_ids=" + started.RunID + ",unknown",
	} {
		status, body := e.do(t, http.MethodGet, "/api/definition_status?"+query, "")
		if status != http.StatusOK {
			t.Fatalf("%s: %d %s", query, status, body)
		}

		var raw map[string][]map[string]any
		mustOK(t, json.Unmarshal(body, &raw))
		statuses := raw["task_statuses"]
		if len(statuses) != 1 {
			t.Fatalf("%s: expected unknown id omitted, got %v", query, statuses)
		}
		got := statuses[0]
		if got["id"] != started.RunID || got["pending?"] != false {
			t.Errorf("%s: status = %v", query, got)
		}
		html, _ := got["status_html"].(string)
		if !strings.Contains(html, `class="run-status run-succeeded"`) || !strings.Contains(html, "<code>1:create</code>") {
			t.Errorf("%s: status_html = %s", query, html)
		}
	}

	status, body := e.do(t, http.MethodGet, "/api/definition_status", "")
	if status != http.StatusOK || strings.TrimSpace(string(body)) != `{"task_statuses":[]}` {
		t.Errorf("empty query: %d %s", status, body)
	}
}

func TestErrorMapping(t *testing.T) {
	gate := make(chan struct{})
	runner := engine.StepRunnerFunc(func(ctx context.Context, ec engine.ExecutionContext, s *plan.Step) (plan.Output, error) {
		<-gate
		return nil, nil
	})
	e := newTestEnv(t, runner, "")
	t.Cleanup(func() { close(gate) })

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown version", http.MethodPost, "/api/versions/missing/promote", `{"environment_id":"` + e.env.ID + `"}`, http.StatusNotFound},
		{"unknown run", http.MethodGet, "/api/runs/missing", "", http.StatusNotFound},
		{"unknown content view", http.MethodPost, "/api/content_views/missing/publish", "", http.StatusNotFound},
		{"missing environment", http.MethodPost, "/api/versions/" + e.v1.ID + "/promote", `{}`, http.StatusUnprocessableEntity},
		{"both options", http.MethodPost, "/api/versions/" + e.v1.ID + "/clone", `{"environment_id":"a","new_version_id":"b"}`, http.StatusUnprocessableEntity},
		{"bad json", http.MethodPost, "/api/versions/" + e.v1.ID + "/clone", `{`, http.StatusUnprocessableEntity},
		{"unknown field", http.MethodPost, "/api/versions/" + e.v1.ID + "/clone", `{"bogus":1}`, http.StatusUnprocessableEntity},
		{"clone into source version", http.MethodPost, "/api/versions/" + e.v1.ID + "/clone", `{"new_version_id":"` + e.v1.ID + `"}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		status, body := e.do(t, tc.method, tc.path, tc.body)
		if status != tc.want {
			t.Errorf("%s: status %d, want %d (%s)", tc.name, status, tc.want, body)
		}
	}

	// A second run on the same entity while the first is in flight conflicts.
	status, body := e.do(t, http.MethodPost, "/api/content_views/"+e.cv.ID+"/publish", "")
	if status != http.StatusAccepted {
		t.Fatalf("publish: %d %s", status, body)
	}
	var started startedResponse
	mustOK(t, json.Unmarshal(body, &started))
	status, body = e.do(t, http.MethodPost, "/api/runs/"+started.RunID+"/resume", "")
	if status != http.StatusConflict {
		t.Errorf("resume in-flight run: %d %s", status, body)
	}
}

func TestResumeSucceededRunIsRejected(t *testing.T) {
	e := newTestEnv(t, nil, "")
	_, body := e.do(t, http.MethodPost, "/api/versions/"+e.v1.ID+"/promote", `{"environment_id":"`+e.env.ID+`"}`)
	var started startedResponse
	mustOK(t, json.Unmarshal(body, &started))
	e.waitTerminal(t, started.RunID)

	status, body := e.do(t, http.MethodPost, "/api/runs/"+started.RunID+"/resume", "")
	if status != http.StatusUnprocessableEntity {
		t.Errorf("resume succeeded run: %d %s", status, body)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t, nil, "s3cret")

	resp, err := http.Get(e.srv.URL + "/api/runs/anything")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without token: %d", resp.StatusCode)
	}

	resp, err = http.Get(e.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should be open: %d", resp.StatusCode)
	}

	if status, _ := e.do(t, http.MethodGet, "/api/runs/anything", ""); status != http.StatusNotFound {
		t.Errorf("with token: %d, want 404", status)
	}
}
