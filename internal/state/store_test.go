package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrix-dev/orchestrix/internal/core"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func insertTaskAndRun(t *testing.T, store *Store) (*core.Task, *core.Run) {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC()
	task := &core.Task{
		ID:        uuid.NewString(),
		Prompt:    "build the thing",
		Status:    core.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.InsertTask(ctx, task))

	run := &core.Run{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Status:    core.RunExecuting,
		StartedAt: &now,
	}
	require.NoError(t, store.InsertRun(ctx, run))
	return task, run
}

func TestTaskRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	task, _ := insertTaskAndRun(t, store)

	loaded, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Prompt, loaded.Prompt)
	assert.Equal(t, core.TaskPending, loaded.Status)

	require.NoError(t, store.UpdateTaskStatus(ctx, task.ID, core.TaskExecuting))
	loaded, err = store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskExecuting, loaded.Status)
}

func TestUpdateMissingTaskFails(t *testing.T) {
	store := openStore(t)
	err := store.UpdateTaskStatus(context.Background(), "missing", core.TaskExecuting)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestCascadingDelete(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	task, run := insertTaskAndRun(t, store)

	agent := &core.SubAgent{
		ID:     uuid.NewString(),
		RunID:  run.ID,
		Name:   "delegate-1",
		Status: core.SubAgentCreated,
	}
	require.NoError(t, store.InsertSubAgent(ctx, agent))

	started := time.Now().UTC()
	call := &core.ToolCall{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		ToolName:  "fs.read",
		InputJSON: `{"path":"x"}`,
		Status:    core.ToolCallRunning,
		StartedAt: &started,
	}
	require.NoError(t, store.InsertToolCall(ctx, call))

	_, err := store.AppendEvent(ctx, run.ID, "agent", "agent.deciding", "{}")
	require.NoError(t, err)

	require.NoError(t, store.InsertArtifact(ctx, &core.Artifact{
		ID:           uuid.NewString(),
		RunID:        run.ID,
		Kind:         "note",
		URIOrContent: "/tmp/a.md",
		CreatedAt:    time.Now().UTC(),
	}))

	require.NoError(t, store.UpsertCheckpoint(ctx, &core.Checkpoint{
		RunID:       run.ID,
		LastStepIdx: 0,
		UpdatedAt:   time.Now().UTC(),
	}))

	require.NoError(t, store.DeleteTask(ctx, task.ID))

	_, err = store.GetRun(ctx, run.ID)
	assert.Error(t, err)
	_, err = store.GetSubAgent(ctx, agent.ID)
	assert.Error(t, err)
	_, err = store.GetToolCall(ctx, call.ID)
	assert.Error(t, err)

	events, err := store.ListEventsForRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	cp, err := store.GetCheckpoint(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestEventSeqMonotonicPerRun(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, runA := insertTaskAndRun(t, store)
	_, runB := insertTaskAndRun(t, store)

	for i := 0; i < 3; i++ {
		_, err := store.AppendEvent(ctx, runA.ID, "agent", "agent.deciding", "{}")
		require.NoError(t, err)
	}
	_, err := store.AppendEvent(ctx, runB.ID, "agent", "agent.deciding", "{}")
	require.NoError(t, err)

	eventsA, err := store.ListEventsForRun(ctx, runA.ID)
	require.NoError(t, err)
	require.Len(t, eventsA, 3)
	for i, event := range eventsA {
		assert.Equal(t, int64(i+1), event.Seq)
	}

	// Each run has its own sequence.
	eventsB, err := store.ListEventsForRun(ctx, runB.ID)
	require.NoError(t, err)
	require.Len(t, eventsB, 1)
	assert.Equal(t, int64(1), eventsB[0].Seq)
}

func TestCheckpointMonotonic(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, run := insertTaskAndRun(t, store)

	require.NoError(t, store.UpsertCheckpoint(ctx, &core.Checkpoint{
		RunID: run.ID, LastStepIdx: 2, UpdatedAt: time.Now().UTC(),
	}))

	// A smaller index never wins.
	require.NoError(t, store.UpsertCheckpoint(ctx, &core.Checkpoint{
		RunID: run.ID, LastStepIdx: 1, UpdatedAt: time.Now().UTC(),
	}))

	cp, err := store.GetCheckpoint(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(2), cp.LastStepIdx)

	require.NoError(t, store.UpsertCheckpoint(ctx, &core.Checkpoint{
		RunID: run.ID, LastStepIdx: 5, UpdatedAt: time.Now().UTC(),
	}))
	cp, err = store.GetCheckpoint(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.LastStepIdx)
}

func TestToolCallTerminalTimestamps(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, run := insertTaskAndRun(t, store)

	started := time.Now().UTC()
	call := &core.ToolCall{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		ToolName:  "cmd.exec",
		InputJSON: `{}`,
		Status:    core.ToolCallRunning,
		StartedAt: &started,
	}
	require.NoError(t, store.InsertToolCall(ctx, call))

	finished := started.Add(50 * time.Millisecond)
	require.NoError(t, store.UpdateToolCallResult(ctx, call.ID, core.ToolCallSucceeded,
		`{"ok":true}`, &finished, ""))

	loaded, err := store.GetToolCall(ctx, call.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.FinishedAt)
	require.NotNil(t, loaded.StartedAt)
	assert.False(t, loaded.FinishedAt.Before(*loaded.StartedAt))
	assert.Equal(t, core.ToolCallSucceeded, loaded.Status)
}

func TestListActiveRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, active := insertTaskAndRun(t, store)
	_, finished := insertTaskAndRun(t, store)
	done := time.Now().UTC()
	require.NoError(t, store.UpdateRunStatus(ctx, finished.ID, core.RunCompleted, &done, ""))

	runs, err := store.ListActiveRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, active.ID, runs[0].ID)
}

func TestGetLatestRunForTask(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	task, first := insertTaskAndRun(t, store)

	later := time.Now().UTC().Add(time.Second)
	second := &core.Run{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Status:    core.RunExecuting,
		StartedAt: &later,
	}
	require.NoError(t, store.InsertRun(ctx, second))

	latest, err := store.GetLatestRunForTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.NotEqual(t, first.ID, latest.ID)
}

func TestWorktreeLogLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, run := insertTaskAndRun(t, store)

	log := &core.WorktreeLog{
		ID:           uuid.NewString(),
		RunID:        run.ID,
		SubAgentID:   "agent-1",
		Strategy:     "git-worktree",
		BranchName:   "orchestrix/run/agent",
		WorktreePath: "/tmp/wt",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.InsertWorktreeLog(ctx, log))

	require.NoError(t, store.UpdateWorktreeLogMerge(ctx, "agent-1", "fast-forward", true,
		"fast-forward merged", "", time.Now().UTC()))
	require.NoError(t, store.UpdateWorktreeLogCleaned(ctx, "agent-1", time.Now().UTC()))

	logs, err := store.ListWorktreeLogsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].MergeSuccess)
	assert.True(t, *logs[0].MergeSuccess)
	assert.Equal(t, "fast-forward", logs[0].MergeStrategy)
	assert.NotNil(t, logs[0].MergedAt)
	assert.NotNil(t, logs[0].CleanedAt)
}
