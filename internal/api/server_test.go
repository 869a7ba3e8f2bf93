package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrix-dev/orchestrix/internal/approval"
	"github.com/orchestrix-dev/orchestrix/internal/events"
	"github.com/orchestrix-dev/orchestrix/internal/logging"
	"github.com/orchestrix-dev/orchestrix/internal/runtime"
	"github.com/orchestrix-dev/orchestrix/internal/skills"
	"github.com/orchestrix-dev/orchestrix/internal/state"
	"github.com/orchestrix-dev/orchestrix/internal/tools"
	"github.com/orchestrix-dev/orchestrix/internal/worktree"
)

func newTestServer(t *testing.T) (*Server, *approval.Gate) {
	t.Helper()
	workspace := t.TempDir()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	catalog, err := skills.NewCatalog(filepath.Join(workspace, ".orchestrix", "skills.yaml"))
	require.NoError(t, err)

	gate := approval.NewGate()
	rt := &runtime.Runtime{
		Store:      store,
		Recorder:   events.NewRecorder(store, bus, logging.NewNop()),
		Registry:   tools.NewRegistry(catalog),
		Worktrees:  worktree.NewManager(logging.NewNop()),
		Gate:       gate,
		DevServers: runtime.NewDevServerRegistry(),
		Logger:     logging.NewNop(),
	}
	orch := runtime.NewOrchestrator(rt, workspace, catalog)
	return NewServer(orch, logging.NewNop()), gate
}

func TestSubmitTaskRejectsEmptyPrompt(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks",
		strings.NewReader(`{"prompt": "  "}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTaskAccepted(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks",
		strings.NewReader(`{"prompt": "do a thing"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var task map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	require.NotEmpty(t, task["id"])

	// Let the background execution settle before the store is closed.
	server.orch.Wait(task["id"].(string))
}

func TestApprovalsListAndResolve(t *testing.T) {
	server, gate := newTestServer(t)
	handler := server.Handler()

	request, receiver := gate.Request("task-1", "run-1", "agent-1", "call-1",
		"fs.write", "/outside", "path outside workspace")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/approvals?task_id=task-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var pending []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, request.ID, pending[0]["id"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/approvals/"+request.ID+"/resolve", strings.NewReader(`{"approve": true}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, <-receiver)
}

func TestResolveUnknownApprovalNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/approvals/ghost/resolve", strings.NewReader(`{"approve": true}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
