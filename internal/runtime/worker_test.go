package runtime

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrix-dev/orchestrix/internal/approval"
	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/events"
	"github.com/orchestrix-dev/orchestrix/internal/logging"
	"github.com/orchestrix-dev/orchestrix/internal/model"
	"github.com/orchestrix-dev/orchestrix/internal/policy"
	"github.com/orchestrix-dev/orchestrix/internal/skills"
	"github.com/orchestrix-dev/orchestrix/internal/state"
	"github.com/orchestrix-dev/orchestrix/internal/tools"
	"github.com/orchestrix-dev/orchestrix/internal/worktree"
)

// scriptClient replays canned decisions. Child workers (delegated objectives)
// consume the child script; everything else consumes the parent script.
type scriptClient struct {
	mu     sync.Mutex
	parent []model.Decision
	child  []model.Decision

	// childFunc, when set, answers delegated turns instead of the child
	// script. Needed when several children run concurrently.
	childFunc func(req model.Request) model.Decision

	parentCalls int
	childCalls  int
}

func (c *scriptClient) Decide(_ context.Context, req model.Request, _ model.StreamFunc) (model.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	script := c.parent
	calls := &c.parentCalls
	if strings.Contains(req.Context, "Delegated objective") {
		if c.childFunc != nil {
			c.childCalls++
			return c.childFunc(req), nil
		}
		script = c.child
		calls = &c.childCalls
	}

	i := *calls
	*calls++
	if i < len(script) {
		return script[i], nil
	}
	return model.Decision{
		Action: model.Action{Kind: model.ActionComplete, Summary: "script exhausted"},
	}, nil
}

func completeDecision(summary string) model.Decision {
	return model.Decision{Action: model.Action{Kind: model.ActionComplete, Summary: summary}}
}

func toolCallDecision(name string, toolArgs interface{}) model.Decision {
	raw, _ := json.Marshal(toolArgs)
	return model.Decision{Action: model.Action{
		Kind: model.ActionToolCall,
		Call: model.Call{ToolName: name, ToolArgs: raw},
	}}
}

func toolCallsDecision(calls ...model.Call) model.Decision {
	return model.Decision{Action: model.Action{Kind: model.ActionToolCalls, Calls: calls}}
}

func rawCall(name string, toolArgs interface{}) model.Call {
	raw, _ := json.Marshal(toolArgs)
	return model.Call{ToolName: name, ToolArgs: raw}
}

type testEnv struct {
	rt        *Runtime
	store     *state.Store
	gate      *approval.Gate
	workspace string
	runID     string
	taskID    string
}

func newTestEnv(t *testing.T, workspace string, client model.Client) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus(1024)
	t.Cleanup(bus.Close)

	catalog, err := skills.NewCatalog(filepath.Join(workspace, ".orchestrix", "skills.yaml"))
	require.NoError(t, err)

	gate := approval.NewGate()
	rt := &Runtime{
		Store:      store,
		Recorder:   events.NewRecorder(store, bus, logging.NewNop()),
		Registry:   tools.NewRegistry(catalog),
		Worktrees:  worktree.NewManager(logging.NewNop()),
		Gate:       gate,
		DevServers: NewDevServerRegistry(),
		Logger:     logging.NewNop(),
		Client:     client,
	}

	now := time.Now().UTC()
	task := &core.Task{
		ID: uuid.NewString(), Prompt: "test task", Status: core.TaskExecuting,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertTask(ctx, task))
	run := &core.Run{ID: uuid.NewString(), TaskID: task.ID, Status: core.RunExecuting, StartedAt: &now}
	require.NoError(t, store.InsertRun(ctx, run))

	return &testEnv{
		rt:        rt,
		store:     store,
		gate:      gate,
		workspace: workspace,
		runID:     run.ID,
		taskID:    task.ID,
	}
}

func (e *testEnv) params(t *testing.T, allowedTools []string, canSpawn bool) workerParams {
	t.Helper()

	maxDepth := uint32(0)
	if canSpawn {
		maxDepth = 1
	}
	contract := core.Contract{
		Permissions: core.Permissions{
			AllowedTools:       allowedTools,
			CanSpawnChildren:   canSpawn,
			MaxDelegationDepth: maxDepth,
		},
		Execution: core.Execution{AttemptTimeoutMS: 60_000, CloseOnCompletion: true},
	}
	contextJSON, err := json.Marshal(core.SubAgentContext{
		TaskPrompt:  "test task",
		GoalSummary: "goal",
		Contract:    &contract,
	})
	require.NoError(t, err)

	agent := &core.SubAgent{
		ID:           "parent-" + e.runID + "-step-0",
		RunID:        e.runID,
		Name:         "parent-step-0",
		Status:       core.SubAgentRunning,
		WorktreePath: e.workspace,
		ContextJSON:  string(contextJSON),
	}

	return workerParams{
		RunID:         e.runID,
		TaskID:        e.taskID,
		Agent:         agent,
		Step:          core.Step{Idx: 0, Title: "step zero", Description: "do the thing"},
		WorkspaceRoot: e.workspace,
		WorktreePath:  e.workspace,
		Policy:        policy.WithApprovedScopes(e.workspace, e.gate.ApprovedScopes()),
		GoalSummary:   "goal",
		TaskPrompt:    "test task",
		Mode:          BuildMode,
	}
}

func TestWorkerWritesStepReport(t *testing.T) {
	workspace := t.TempDir()
	client := &scriptClient{parent: []model.Decision{completeDecision("all good")}}
	env := newTestEnv(t, workspace, client)

	reportPath, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, false))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(workspace, ".orchestrix", "step-0-result.md"), reportPath)
	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "all good")
	assert.Contains(t, string(content), "step zero")
}

func TestWorkerTodoGuardBlocksCompletion(t *testing.T) {
	workspace := t.TempDir()
	client := &scriptClient{parent: []model.Decision{
		toolCallDecision("agent.todo", map[string]interface{}{
			"action": "set",
			"todos":  []map[string]string{{"title": "pending work", "status": "pending"}},
		}),
		completeDecision(""),
		toolCallDecision("agent.todo", map[string]interface{}{
			"action": "set",
			"todos":  []map[string]string{{"title": "pending work", "status": "completed"}},
		}),
		completeDecision("done after todos"),
	}}
	env := newTestEnv(t, workspace, client)

	reportPath, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, false))
	require.NoError(t, err)

	// The bare Complete did not break the loop; two more turns ran.
	assert.Equal(t, 4, client.parentCalls)

	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "todo_guard")
	assert.Contains(t, string(content), "done after todos")
}

func TestWorkerAgentCompleteShortCircuitsBatch(t *testing.T) {
	workspace := t.TempDir()
	client := &scriptClient{parent: []model.Decision{
		toolCallsDecision(
			rawCall("fs.write", map[string]string{"path": "first.txt", "content": "1"}),
			rawCall("agent.complete", map[string]string{"summary": "batch finished early"}),
			rawCall("fs.write", map[string]string{"path": "second.txt", "content": "2"}),
		),
	}}
	env := newTestEnv(t, workspace, client)

	reportPath, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, false))
	require.NoError(t, err)

	assert.Equal(t, 1, client.parentCalls)
	assert.FileExists(t, filepath.Join(workspace, "first.txt"))
	// The call after agent.complete never executed.
	assert.NoFileExists(t, filepath.Join(workspace, "second.txt"))

	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "batch finished early")
}

func TestWorkerRejectsToolOutsideContract(t *testing.T) {
	workspace := t.TempDir()
	client := &scriptClient{parent: []model.Decision{
		toolCallDecision("fs.write", map[string]string{"path": "nope.txt", "content": "x"}),
		completeDecision("finished"),
	}}
	env := newTestEnv(t, workspace, client)

	reportPath, err := env.rt.ExecuteStep(context.Background(),
		env.params(t, []string{"fs.read", "agent.complete"}, false))
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(workspace, "nope.txt"))

	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "tool not allowed by delegation contract")
}

func TestWorkerApprovalGrantedWritesFile(t *testing.T) {
	workspace := t.TempDir()
	outside := filepath.Join(t.TempDir(), "outside.txt")
	client := &scriptClient{parent: []model.Decision{
		toolCallDecision("fs.write", map[string]string{"path": outside, "content": "approved content"}),
		completeDecision("finished"),
	}}
	env := newTestEnv(t, workspace, client)

	done := make(chan error, 1)
	go func() {
		_, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, false))
		done <- err
	}()

	// Wait for the worker to suspend on the gate, then approve.
	request := waitForPending(t, env.gate, env.taskID)
	_, err := env.gate.Resolve(request.ID, true)
	require.NoError(t, err)

	require.NoError(t, <-done)

	content, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "approved content", string(content))

	// The tool call row finished as succeeded with ordered timestamps.
	calls, err := env.store.ListToolCallsForRun(context.Background(), env.runID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, core.ToolCallSucceeded, calls[0].Status)
	require.NotNil(t, calls[0].FinishedAt)
	assert.False(t, calls[0].FinishedAt.Before(*calls[0].StartedAt))

	assertEventTypes(t, env, []string{events.ToolApprovalRequired, events.ToolApprovalResolved})
}

func TestWorkerApprovalDeniedFinalizesDenied(t *testing.T) {
	workspace := t.TempDir()
	outside := filepath.Join(t.TempDir(), "denied.txt")
	client := &scriptClient{parent: []model.Decision{
		toolCallDecision("fs.write", map[string]string{"path": outside, "content": "x"}),
		completeDecision("finished"),
	}}
	env := newTestEnv(t, workspace, client)

	done := make(chan error, 1)
	go func() {
		_, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, false))
		done <- err
	}()

	request := waitForPending(t, env.gate, env.taskID)
	_, err := env.gate.Resolve(request.ID, false)
	require.NoError(t, err)

	require.NoError(t, <-done)
	assert.NoFileExists(t, outside)

	calls, err := env.store.ListToolCallsForRun(context.Background(), env.runID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, core.ToolCallDenied, calls[0].Status)
}

func TestWorkerSpawnMergeAndEventChain(t *testing.T) {
	workspace := initGitWorkspace(t)
	client := &scriptClient{
		parent: []model.Decision{
			toolCallDecision("subagent.spawn", map[string]string{"objective": "produce the agent output file"}),
			completeDecision("parent done"),
		},
		child: []model.Decision{
			toolCallDecision("fs.write", map[string]string{"path": "agent-output.txt", "content": "Hello from agent\n"}),
			completeDecision("child done"),
		},
	}
	env := newTestEnv(t, workspace, client)

	_, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, true))
	require.NoError(t, err)

	// The child's work was merged back into the main workspace.
	assert.FileExists(t, filepath.Join(workspace, "agent-output.txt"))

	// Exactly one child row, closed.
	agents, err := env.store.ListSubAgentsForRun(context.Background(), env.runID)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, core.SubAgentClosed, agents[0].Status)

	// The event chain is present in order with monotonic seq.
	assertEventTypes(t, env, []string{
		events.AgentSubAgentCreated,
		events.AgentSubAgentStarted,
		events.AgentSubAgentAttempt,
		events.AgentSubAgentWaitingForMerge,
		events.AgentWorktreeMerged,
		events.AgentSubAgentCompleted,
		events.AgentSubAgentClosed,
	})

	// The worktree and its branch were cleaned up.
	assert.Empty(t, env.rt.Worktrees.ListForRun(env.runID))

	// The worktree log captured merge and cleanup.
	logs, err := env.store.ListWorktreeLogsForRun(context.Background(), env.runID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].MergeSuccess)
	assert.True(t, *logs[0].MergeSuccess)
	assert.NotNil(t, logs[0].CleanedAt)
}

func TestWorkerParallelSpawnsMergeSerially(t *testing.T) {
	workspace := initGitWorkspace(t)
	client := &scriptClient{
		parent: []model.Decision{
			toolCallsDecision(
				rawCall("subagent.spawn", map[string]string{"objective": "write alpha.txt"}),
				rawCall("subagent.spawn", map[string]string{"objective": "write beta.txt"}),
			),
			completeDecision("parent done"),
		},
		childFunc: func(req model.Request) model.Decision {
			if len(req.PriorObservations) > 0 {
				return completeDecision("child done")
			}
			name := "alpha.txt"
			if strings.Contains(req.Context, "beta") {
				name = "beta.txt"
			}
			return toolCallDecision("fs.write", map[string]string{
				"path": name, "content": "from " + name + "\n",
			})
		},
	}
	env := newTestEnv(t, workspace, client)

	_, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, true))
	require.NoError(t, err)

	// Both children's files landed in the main workspace.
	assert.FileExists(t, filepath.Join(workspace, "alpha.txt"))
	assert.FileExists(t, filepath.Join(workspace, "beta.txt"))

	agents, err := env.store.ListSubAgentsForRun(context.Background(), env.runID)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	for _, agent := range agents {
		assert.Equal(t, core.SubAgentClosed, agent.Status)
	}

	assert.Empty(t, env.rt.Worktrees.ListForRun(env.runID))
}

func TestWorkerSpawnDeniedWithoutPermission(t *testing.T) {
	workspace := t.TempDir()
	client := &scriptClient{parent: []model.Decision{
		toolCallDecision("subagent.spawn", map[string]string{"objective": "not allowed"}),
		completeDecision("finished"),
	}}
	env := newTestEnv(t, workspace, client)

	reportPath, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, false))
	require.NoError(t, err)

	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "delegation disabled by contract")

	agents, err := env.store.ListSubAgentsForRun(context.Background(), env.runID)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestWorkerSpawnRequiresObjective(t *testing.T) {
	workspace := t.TempDir()
	client := &scriptClient{parent: []model.Decision{
		toolCallDecision("subagent.spawn", map[string]string{"objective": "  "}),
		completeDecision("finished"),
	}}
	env := newTestEnv(t, workspace, client)

	reportPath, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, true))
	require.NoError(t, err)

	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "objective is required")
}

func TestWorkerLegacyDelegateNormalized(t *testing.T) {
	workspace := t.TempDir()
	client := &scriptClient{parent: []model.Decision{
		{Action: model.Action{Kind: model.ActionDelegate, Objective: ""}},
		completeDecision("finished"),
	}}
	env := newTestEnv(t, workspace, client)

	reportPath, err := env.rt.ExecuteStep(context.Background(), env.params(t, nil, true))
	require.NoError(t, err)

	// The delegate action went through the subagent.spawn path (and failed
	// objective validation there, proving normalization happened).
	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "subagent.spawn")
	assert.Contains(t, string(content), "objective is required")
}

// waitForPending polls the gate until the task has a pending request.
func waitForPending(t *testing.T, gate *approval.Gate, taskID string) approval.Request {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pending := gate.ListPending(taskID); len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no pending approval appeared")
	return approval.Request{}
}

// assertEventTypes checks that the run's event log contains the given types
// in order (other events may interleave) with strictly increasing seq.
func assertEventTypes(t *testing.T, env *testEnv, expected []string) {
	t.Helper()

	recorded, err := env.store.ListEventsForRun(context.Background(), env.runID)
	require.NoError(t, err)

	lastSeq := int64(0)
	for _, event := range recorded {
		require.Greater(t, event.Seq, lastSeq, "seq must be strictly increasing")
		lastSeq = event.Seq
	}

	i := 0
	for _, event := range recorded {
		if i < len(expected) && event.EventType == expected[i] {
			i++
		}
	}
	require.Equal(t, len(expected), i, "missing events: %v (got %v)", expected[i:], eventTypeList(recorded))
}

func eventTypeList(recorded []*core.Event) []string {
	types := make([]string, 0, len(recorded))
	for _, event := range recorded {
		types = append(types, event.EventType)
	}
	return types
}

// initGitWorkspace creates a git repository with one commit.
func initGitWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	for _, cmdArgs := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.name", "Test"},
		{"config", "user.email", "test@local"},
	} {
		cmd := exec.Command("git", append([]string{"-C", dir}, cmdArgs...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", cmdArgs, out)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("repo\n"), 0o640))
	for _, cmdArgs := range [][]string{
		{"add", "-A"},
		{"commit", "-m", "initial"},
	} {
		cmd := exec.Command("git", append([]string{"-C", dir}, cmdArgs...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", cmdArgs, out)
	}
	return dir
}
