package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/graph/emit"
	"github.com/forgeflow/orchestrator/graph/store"
	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/driver/mock"
	"github.com/forgeflow/orchestrator/internal/eventbus"
	"github.com/forgeflow/orchestrator/internal/issuetracker"
	"github.com/forgeflow/orchestrator/internal/orchestrator"
	"github.com/forgeflow/orchestrator/internal/workflowstore"
)

func initRepo(t *testing.T, dir string) {
	t.Helper()
	env := append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
	)
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = env
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "--initial-branch=main")
	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial commit")
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	svc := orchestrator.New(orchestrator.Config{
		Store:   workflowstore.NewMemStore(),
		Bus:     eventbus.New(zerolog.Nop()),
		Tracker: issuetracker.NewMemTracker(domain.Issue{ID: "ISSUE-1", Title: "t", Description: "d"}),
		Profiles: map[string]domain.Profile{
			"default": {Name: "default"},
		},
		Architect:     mock.New("architect", `{"goal":"g","batches":[]}`),
		Reviewer:      mock.New("reviewer", `{"approved":true,"comments":[]}`),
		Checkpoints:   store.NewMemStore[domain.ExecutionState](),
		Emitter:       emit.NewNullEmitter(),
		MaxConcurrent: 5,
	})
	return NewServer(svc, zerolog.Nop())
}

func TestHandleCreate_ReturnsCreatedWorkflow(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)
	srv := newTestServer(t)

	body, _ := json.Marshal(createWorkflowRequest{
		IssueID: "ISSUE-1", WorktreePath: dir, Profile: "default",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var w domain.Workflow
	if err := json.Unmarshal(rec.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if w.ID == "" {
		t.Fatal("expected a workflow id")
	}
}

func TestHandleCreate_ConflictingWorktreeReturns409(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)
	srv := newTestServer(t)

	body, _ := json.Marshal(createWorkflowRequest{
		IssueID: "ISSUE-1", WorktreePath: dir, Profile: "default", Start: boolPtr(false),
	})
	first := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(body))
	srv.Router().ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, second)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGet_UnknownIDReturns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/workflows/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleStart_NotPendingReturns409(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)
	srv := newTestServer(t)

	body, _ := json.Marshal(createWorkflowRequest{
		IssueID: "ISSUE-1", WorktreePath: dir, Profile: "default",
	})
	createReq := httptest.NewRequest(http.MethodPost, "/api/workflows", bytes.NewReader(body))
	createRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(createRec, createReq)
	var w domain.Workflow
	if err := json.Unmarshal(createRec.Body.Bytes(), &w); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	// Workflow auto-started (default Start=nil means launch), so a
	// second /start call on the now-non-pending workflow must 409.
	startReq := httptest.NewRequest(http.MethodPost, "/api/workflows/"+w.ID+"/start", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, startReq)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func boolPtr(b bool) *bool { return &b }
