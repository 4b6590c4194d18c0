// ABOUTME: Tests for the viewclone CLI: dispatch, dotenv parsing, fixture import, and full workflows.
// ABOUTME: Workflow tests run against fake content and index services served by httptest.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/2389-research/viewclone/content"
	"github.com/2389-research/viewclone/engine"
	"github.com/2389-research/viewclone/plan"
)

func TestRunNoArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Usage:") {
		t.Errorf("expected usage on stderr, got %q", stderr.String())
	}
}

func TestRunHelpAndVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"help"}, &stdout, &stderr); code != 0 {
		t.Fatalf("help exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "viewclone promote") {
		t.Errorf("help missing promote usage:\n%s", stdout.String())
	}

	stdout.Reset()
	if code := run([]string{"version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("version exit code = %d", code)
	}
	if got := stdout.String(); got != "viewclone dev\n" {
		t.Errorf("version output = %q", got)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"frobnicate"}, &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), `unknown command "frobnicate"`) {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunWrongArgCount(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"promote", "only-one"}, &stdout, &stderr); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Usage: viewclone promote") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestHelpHidesSecrets(t *testing.T) {
	t.Setenv("VIEWCLONE_AUTH_TOKEN", "s3cret")
	var buf bytes.Buffer
	printHelp(&buf, "1.2.3")
	out := buf.String()
	if strings.Contains(out, "s3cret") {
		t.Error("help output leaked the auth token")
	}
	if !strings.Contains(out, "viewclone 1.2.3") {
		t.Errorf("help missing version: %q", out)
	}
}

func TestParseDotEnvLine(t *testing.T) {
	tests := []struct {
		line, key, value string
		ok               bool
	}{
		{"FOO=bar", "FOO", "bar", true},
		{"export FOO=bar", "FOO", "bar", true},
		{`FOO="a b"`, "FOO", "a b", true},
		{"FOO='x=y'", "FOO", "x=y", true},
		{`FOO="mismatched'`, "FOO", `"mismatched'`, true},
		{"  # comment", "", "", false},
		{"", "", "", false},
		{"NOEQUALS", "", "", false},
		{"=value", "", "", false},
	}
	for _, tt := range tests {
		key, value, ok := parseDotEnvLine(tt.line)
		if key != tt.key || value != tt.value || ok != tt.ok {
			t.Errorf("parseDotEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.line, key, value, ok, tt.key, tt.value, tt.ok)
		}
	}
}

func TestLoadDotEnvDoesNotClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VIEWCLONE_TEST_KEEP=file\nVIEWCLONE_TEST_NEW=file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VIEWCLONE_TEST_KEEP", "env")
	t.Setenv("VIEWCLONE_TEST_NEW", "")
	os.Unsetenv("VIEWCLONE_TEST_NEW")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("VIEWCLONE_TEST_KEEP"); got != "env" {
		t.Errorf("VIEWCLONE_TEST_KEEP = %q, want env", got)
	}
	if got := os.Getenv("VIEWCLONE_TEST_NEW"); got != "file" {
		t.Errorf("VIEWCLONE_TEST_NEW = %q, want file", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}
}

const testFixtures = `
content_views:
  - id: cv-web
    label: web
    organization: acme
    versions:
      - id: ver-web-1
        number: 1
      - id: ver-web-2
        number: 2
        archived: false
environments:
  - id: env-dev
    label: dev
`

func TestImportFixtures(t *testing.T) {
	store, err := content.OpenSQLite(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	records, err := importFixtures(ctx, store, strings.NewReader(testFixtures))
	if err != nil {
		t.Fatalf("importFixtures: %v", err)
	}
	// content view, two versions, one archive, one environment
	if len(records) != 5 {
		t.Fatalf("imported %d records, want 5: %+v", len(records), records)
	}

	archive, err := store.ArchivedForVersion(ctx, "ver-web-1")
	if err != nil {
		t.Fatalf("ArchivedForVersion: %v", err)
	}
	if archive.PulpID != "acme-web-v1-puppet" || archive.State != content.StateArchived {
		t.Errorf("archive = %+v", archive)
	}
	if _, err := store.ArchivedForVersion(ctx, "ver-web-2"); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("version 2 should have no archive, got %v", err)
	}
	if env, err := store.GetEnvironment(ctx, "env-dev"); err != nil || env.Label != "dev" {
		t.Errorf("GetEnvironment = %+v, %v", env, err)
	}
}

func TestImportFixturesRejectsUnknownFields(t *testing.T) {
	store, err := content.OpenSQLite(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	_, err = importFixtures(context.Background(), store, strings.NewReader("content_viewz: []\n"))
	if !errors.Is(err, content.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestImportFixturesDuplicateIsConflict(t *testing.T) {
	store, err := content.OpenSQLite(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, err := importFixtures(ctx, store, strings.NewReader(testFixtures)); err != nil {
		t.Fatal(err)
	}
	records, err := importFixtures(ctx, store, strings.NewReader(testFixtures))
	if !errors.Is(err, content.ErrConflict) {
		t.Errorf("expected conflict on re-import, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("no records should be reported before the conflict, got %+v", records)
	}
}

// fakeRemote answers every POST synchronously and records the paths it saw.
type fakeRemote struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{}`))
}

func (f *fakeRemote) saw(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// setupHome points the CLI at a fresh home with imported fixtures and fake remotes.
func setupHome(t *testing.T) (contentSvc, indexSvc *fakeRemote) {
	t.Helper()
	contentSvc, indexSvc = &fakeRemote{}, &fakeRemote{}
	contentSrv := httptest.NewServer(contentSvc)
	t.Cleanup(contentSrv.Close)
	indexSrv := httptest.NewServer(indexSvc)
	t.Cleanup(indexSrv.Close)

	home := t.TempDir()
	t.Setenv("VIEWCLONE_HOME", home)
	t.Setenv("VIEWCLONE_CONFIG", "")
	t.Setenv("VIEWCLONE_BIND", "")
	t.Setenv("VIEWCLONE_ALLOW_REMOTE", "")
	t.Setenv("VIEWCLONE_AUTH_TOKEN", "")
	t.Setenv("VIEWCLONE_CONTENT_URL", contentSrv.URL)
	t.Setenv("VIEWCLONE_INDEX_URL", indexSrv.URL)
	t.Setenv("VIEWCLONE_POLL_INTERVAL", "10ms")

	fixturePath := filepath.Join(home, "fixtures.yaml")
	if err := os.WriteFile(fixturePath, []byte(testFixtures), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"import", fixturePath}, &stdout, &stderr); code != 0 {
		t.Fatalf("import exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "acme-web-v1-puppet") {
		t.Errorf("import output missing archive pulp id:\n%s", stdout.String())
	}
	return contentSvc, indexSvc
}

func decodeRun(t *testing.T, data []byte) *engine.Run {
	t.Helper()
	var r engine.Run
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decode run: %v\n%s", err, data)
	}
	return &r
}

func TestPromoteWorkflow(t *testing.T) {
	contentSvc, indexSvc := setupHome(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"promote", "-json", "ver-web-1", "env-dev"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("promote exit code = %d, stderr: %s", code, stderr.String())
	}
	r := decodeRun(t, stdout.Bytes())
	if r.Status != plan.StatusSucceeded {
		t.Fatalf("run status = %s, error = %s", r.Status, r.Error)
	}
	if r.Label != "promote" {
		t.Errorf("label = %q, want promote", r.Label)
	}
	if !contentSvc.saw("POST /repositories/") {
		t.Error("content service never asked to create the repository")
	}
	if !contentSvc.saw("POST /repositories/acme-web-dev-puppet/actions/associate/") {
		t.Errorf("content service never copied into the dev repository: %v", contentSvc.paths)
	}
	if !indexSvc.saw("POST /index/puppet_environments/") {
		t.Error("index service never asked to index")
	}

	stdout.Reset()
	if code := run([]string{"status", "-json", r.ID}, &stdout, &stderr); code != 0 {
		t.Fatalf("status exit code = %d, stderr: %s", code, stderr.String())
	}
	if got := decodeRun(t, stdout.Bytes()); got.ID != r.ID || got.Status != plan.StatusSucceeded {
		t.Errorf("status returned %+v", got)
	}

	stdout.Reset()
	if code := run([]string{"status", r.ID}, &stdout, &stderr); code != 0 {
		t.Fatalf("text status exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), r.ID) {
		t.Errorf("text status missing run id:\n%s", stdout.String())
	}

	// A second promotion reuses the entity created by the first.
	stdout.Reset()
	if code := run([]string{"promote", "-json", "ver-web-1", "env-dev"}, &stdout, &stderr); code != 0 {
		t.Fatalf("second promote exit code = %d, stderr: %s", code, stderr.String())
	}
	if again := decodeRun(t, stdout.Bytes()); again.EntityID != r.EntityID {
		t.Errorf("second promote entity = %s, want %s", again.EntityID, r.EntityID)
	}
}

func TestPublishWorkflow(t *testing.T) {
	contentSvc, _ := setupHome(t)

	var stdout, stderr bytes.Buffer
	// Version 2 has no archive, so publishing from it is refused.
	code := run([]string{"publish", "cv-web"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("publish from unarchived latest: exit code = %d, want 1", code)
	}
	if contentSvc.saw("POST /repositories/acme-web-v3-puppet") {
		t.Error("refused publish still reached the content service")
	}
}

func TestCloneToNewVersionWorkflow(t *testing.T) {
	setupHome(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"clone", "-json", "-new-version", "ver-web-2", "ver-web-1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("clone exit code = %d, stderr: %s", code, stderr.String())
	}
	r := decodeRun(t, stdout.Bytes())
	if r.Label != "clone" || r.Status != plan.StatusSucceeded {
		t.Errorf("run = %s/%s, error %s", r.Label, r.Status, r.Error)
	}

	// With version 2 archived, publishing version 3 now works.
	stdout.Reset()
	if code := run([]string{"publish", "-json", "cv-web"}, &stdout, &stderr); code != 0 {
		t.Fatalf("publish exit code = %d, stderr: %s", code, stderr.String())
	}
	if pub := decodeRun(t, stdout.Bytes()); pub.Label != "publish" || pub.Status != plan.StatusSucceeded {
		t.Errorf("publish run = %s/%s", pub.Label, pub.Status)
	}
}

func TestStatusUnknownRun(t *testing.T) {
	setupHome(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"status", "no-such-run"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "not found") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestResumeSucceededRunIsRejected(t *testing.T) {
	setupHome(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"promote", "-json", "ver-web-1", "env-dev"}, &stdout, &stderr); code != 0 {
		t.Fatalf("promote exit code = %d, stderr: %s", code, stderr.String())
	}
	r := decodeRun(t, stdout.Bytes())

	stderr.Reset()
	if code := run([]string{"resume", r.ID}, &stdout, &stderr); code != 1 {
		t.Errorf("resume exit code = %d, want 1", code)
	}
}
