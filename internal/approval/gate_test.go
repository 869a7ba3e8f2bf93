package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

func TestRequestAndResolveApprove(t *testing.T) {
	gate := NewGate()

	request, receiver := gate.Request("task-1", "run-1", "agent-1", "call-1",
		"fs.write", "/outside/path", "path outside workspace")
	require.NotEmpty(t, request.ID)

	resolved, err := gate.Resolve(request.ID, true)
	require.NoError(t, err)
	assert.Equal(t, request.ID, resolved.ID)

	select {
	case answer := <-receiver:
		assert.True(t, answer)
	case <-time.After(time.Second):
		t.Fatal("expected answer on receiver")
	}

	// Approval memoizes the scope for future policy checks.
	assert.True(t, gate.ApprovedScopes().Contains("/outside/path"))
	assert.True(t, gate.ApprovedScopes().Contains("/outside/path/child.txt"))
}

func TestResolveDenyDoesNotRecordScope(t *testing.T) {
	gate := NewGate()

	request, receiver := gate.Request("task-1", "run-1", "agent-1", "call-1",
		"fs.write", "/outside/denied", "path outside workspace")

	_, err := gate.Resolve(request.ID, false)
	require.NoError(t, err)

	assert.False(t, <-receiver)
	assert.False(t, gate.ApprovedScopes().Contains("/outside/denied"))
}

func TestResolveUnknownIDFails(t *testing.T) {
	gate := NewGate()

	_, err := gate.Resolve("missing", true)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestListPendingFIFOAndFilter(t *testing.T) {
	gate := NewGate()

	first, _ := gate.Request("task-a", "run-1", "agent-1", "call-1", "fs.write", "/s1", "r")
	time.Sleep(2 * time.Millisecond)
	second, _ := gate.Request("task-b", "run-1", "agent-2", "call-2", "cmd.exec", "/s2", "r")
	time.Sleep(2 * time.Millisecond)
	third, _ := gate.Request("task-a", "run-1", "agent-1", "call-3", "fs.patch", "/s3", "r")

	all := gate.ListPending("")
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, third.ID, all[2].ID)

	filtered := gate.ListPending("task-a")
	require.Len(t, filtered, 2)
	assert.Equal(t, first.ID, filtered[0].ID)
	assert.Equal(t, third.ID, filtered[1].ID)
}

func TestRejectAllForTask(t *testing.T) {
	gate := NewGate()

	_, receiverA := gate.Request("task-a", "run-1", "agent-1", "call-1", "fs.write", "/a", "r")
	_, receiverB := gate.Request("task-b", "run-1", "agent-2", "call-2", "fs.write", "/b", "r")

	gate.RejectAllForTask("task-a")

	assert.False(t, <-receiverA)
	assert.Empty(t, gate.ListPending("task-a"))

	// The other task's request is untouched.
	require.Len(t, gate.ListPending("task-b"), 1)
	select {
	case <-receiverB:
		t.Fatal("task-b receiver should still be pending")
	default:
	}
}

func TestAbandonedReceiverStillResolves(t *testing.T) {
	gate := NewGate()

	request, _ := gate.Request("task-1", "run-1", "agent-1", "call-1", "fs.write", "/s", "r")

	// The worker gave up; the buffered channel still accepts the answer.
	_, err := gate.Resolve(request.ID, true)
	assert.NoError(t, err)
}
