package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrix-dev/orchestrix/internal/approval"
	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/events"
	"github.com/orchestrix-dev/orchestrix/internal/policy"
	"github.com/orchestrix-dev/orchestrix/internal/skills"
)

// Orchestrator owns task admission, plan execution, recovery, and
// cancellation. Each task runs on its own background goroutine; within a
// task, work is a chain of context-aware suspension points.
type Orchestrator struct {
	rt            *Runtime
	workspaceRoot string
	skillsCatalog *skills.Catalog

	mu     sync.Mutex
	active map[string]*taskHandle
}

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator wires an orchestrator over the shared runtime.
func NewOrchestrator(rt *Runtime, workspaceRoot string, catalog *skills.Catalog) *Orchestrator {
	return &Orchestrator{
		rt:            rt,
		workspaceRoot: workspaceRoot,
		skillsCatalog: catalog,
		active:        make(map[string]*taskHandle),
	}
}

// Runtime exposes the shared runtime for the HTTP surface and CLI.
func (o *Orchestrator) Runtime() *Runtime {
	return o.rt
}

// WorkspaceRoot returns the configured workspace root.
func (o *Orchestrator) WorkspaceRoot() string {
	return o.workspaceRoot
}

// SubmitTask validates and persists a new task in pending status.
func (o *Orchestrator) SubmitTask(ctx context.Context, prompt string) (*core.Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, core.ErrValidation(core.CodeEmptyPrompt, "task prompt must not be empty")
	}

	now := time.Now().UTC()
	task := &core.Task{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Status:    core.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.rt.Store.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// StartTask launches autonomous execution of a task: one run, one step, the
// full BUILD tool surface.
func (o *Orchestrator) StartTask(task *core.Task) error {
	run := &core.Run{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Status: core.RunExecuting,
	}
	now := time.Now().UTC()
	run.StartedAt = &now
	if err := o.rt.Store.InsertRun(context.Background(), run); err != nil {
		return err
	}

	plan := core.Plan{
		ID:          uuid.NewString(),
		RunID:       run.ID,
		GoalSummary: "Autonomous conversational execution",
		Steps: []core.Step{{
			Idx:         0,
			Title:       "Autonomous execution",
			Description: task.Prompt,
			Status:      core.StepPending,
			MaxRetries:  0,
		}},
		CompletionCriteria: []string{"Worker completes autonomously"},
	}
	if err := o.persistPlan(run.ID, plan); err != nil {
		return err
	}

	o.launch(task.ID, func(ctx context.Context) {
		if err := o.ExecutePlan(ctx, run.ID, task.ID, task.Prompt, plan); err != nil {
			o.failTask(ctx, task.ID, err)
		}
	})
	return nil
}

// StartPlanning launches the PLAN phase: a read-only worker produces markdown
// plan artifacts, then the task waits for review.
func (o *Orchestrator) StartPlanning(task *core.Task) error {
	run := &core.Run{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Status: core.RunPlanning,
	}
	now := time.Now().UTC()
	run.StartedAt = &now
	if err := o.rt.Store.InsertRun(context.Background(), run); err != nil {
		return err
	}

	o.launch(task.ID, func(ctx context.Context) {
		if err := o.runPlanningPhase(ctx, run, task); err != nil {
			o.failTask(ctx, task.ID, err)
			finished := time.Now().UTC()
			_ = o.rt.Store.UpdateRunStatus(ctx, run.ID, core.RunFailed, &finished, err.Error())
		}
	})
	return nil
}

func (o *Orchestrator) runPlanningPhase(ctx context.Context, run *core.Run, task *core.Task) error {
	if err := o.rt.Store.UpdateTaskStatus(ctx, task.ID, core.TaskPlanning); err != nil {
		return err
	}
	o.rt.Recorder.Emit(ctx, run.ID, events.CategoryAgent, events.AgentPlanningStarted, map[string]interface{}{
		"task_id": task.ID,
		"run_id":  run.ID,
	})

	resolvedPrompt := ExpandPromptReferences(task.Prompt, o.workspaceRoot)
	pol := policy.WithApprovedScopes(o.workspaceRoot, o.rt.Gate.ApprovedScopes())
	skillsContext := skills.BuildContext(skills.ScanWorkspace(o.workspaceRoot), o.skillsCatalog)

	step := core.Step{
		Idx:   0,
		Title: "Produce an implementation plan",
		Description: "Study the workspace and produce a reviewable implementation plan as one or " +
			"more markdown artifacts via agent.create_artifact. When the plan is complete, call " +
			"agent.request_build_mode.\n\nTask prompt:\n" + resolvedPrompt,
		Status:     core.StepPending,
		MaxRetries: 1,
	}
	virtualParent := o.virtualParent(run.ID, step, resolvedPrompt, "Produce a reviewable plan", false)

	if _, err := o.rt.ExecuteStep(ctx, workerParams{
		RunID:         run.ID,
		TaskID:        task.ID,
		Agent:         virtualParent,
		Step:          step,
		WorkspaceRoot: o.workspaceRoot,
		WorktreePath:  o.workspaceRoot,
		Policy:        pol,
		GoalSummary:   "Produce a reviewable plan",
		TaskPrompt:    resolvedPrompt,
		SkillsContext: skillsContext,
		Mode:          PlanMode,
	}); err != nil {
		return err
	}

	// Snapshot the markdown artifacts into the run's plan document.
	if bundle := o.collectArtifactBundle(ctx, task.ID); bundle != "" {
		planPath := filepath.Join(o.workspaceRoot, ".orchestrix", "runs", run.ID, "plan.md")
		if err := os.MkdirAll(filepath.Dir(planPath), 0o750); err == nil {
			_ = os.WriteFile(planPath, []byte(bundle), 0o640)
		}
	}

	if err := o.rt.Store.UpdateRunStatus(ctx, run.ID, core.RunAwaitingReview, nil, ""); err != nil {
		return err
	}
	if err := o.rt.Store.UpdateTaskStatus(ctx, task.ID, core.TaskAwaitingReview); err != nil {
		return err
	}
	o.rt.Recorder.Emit(ctx, run.ID, events.CategoryAgent, events.AgentPlanReady, map[string]interface{}{
		"task_id": task.ID,
		"run_id":  run.ID,
	})
	return nil
}

// ApprovePlan reconstructs a single-step plan from the markdown artifacts
// produced during PLAN mode and launches BUILD-mode execution.
func (o *Orchestrator) ApprovePlan(task *core.Task) error {
	ctx := context.Background()

	run, err := o.rt.Store.GetLatestRunForTask(ctx, task.ID)
	if err != nil {
		run = &core.Run{
			ID:     uuid.NewString(),
			TaskID: task.ID,
			Status: core.RunExecuting,
		}
		now := time.Now().UTC()
		run.StartedAt = &now
		if insertErr := o.rt.Store.InsertRun(ctx, run); insertErr != nil {
			return insertErr
		}
	}

	artifactBundle := o.collectArtifactBundle(ctx, task.ID)
	description := fmt.Sprintf(
		"Implement the task using the user prompt and all markdown artifacts as source-of-truth "+
			"context when available.\n\nTask prompt:\n%s\n\nMarkdown artifacts:%s",
		task.Prompt, orPlaceholder(artifactBundle, "\n(none found; implement directly from prompt)"))

	plan := core.Plan{
		ID:          uuid.NewString(),
		RunID:       run.ID,
		GoalSummary: "Implement task using reviewed markdown artifacts",
		Steps: []core.Step{{
			Idx:         0,
			Title:       "Implement from artifacts",
			Description: description,
			Status:      core.StepPending,
			MaxRetries:  1,
		}},
		CompletionCriteria: []string{
			"Implementation matches the markdown plan artifacts",
			"Changes are applied and validated where possible",
		},
	}
	if err := o.persistPlan(run.ID, plan); err != nil {
		return err
	}
	if err := o.rt.Store.UpdateRunStatus(ctx, run.ID, core.RunExecuting, nil, ""); err != nil {
		return err
	}

	o.launch(task.ID, func(ctx context.Context) {
		o.rt.Recorder.Emit(ctx, run.ID, events.CategoryTask, events.TaskReviewApproved, map[string]interface{}{
			"task_id": task.ID,
			"run_id":  run.ID,
		})
		if err := o.ExecutePlan(ctx, run.ID, task.ID, task.Prompt, plan); err != nil {
			o.failTask(ctx, task.ID, err)
		}
	})
	return nil
}

// ContinueTaskWithMessage appends a follow-up turn by synthesizing a
// single-step plan on the task's latest run.
func (o *Orchestrator) ContinueTaskWithMessage(task *core.Task, continuePrompt string) error {
	ctx := context.Background()

	run, err := o.rt.Store.GetLatestRunForTask(ctx, task.ID)
	if err != nil {
		return core.ErrNotFound("run for task", task.ID).WithDetail("code", core.CodeRunNotFound)
	}

	artifactBundle := o.collectArtifactBundle(ctx, task.ID)
	description := fmt.Sprintf(
		"Continue working on the task with the new follow-up message. Review previous work and "+
			"artifacts if available.\n\nContinue prompt:\n%s\n\nPrevious artifacts:%s",
		continuePrompt, orPlaceholder(artifactBundle, "\n(none found)"))

	plan := core.Plan{
		ID:          uuid.NewString(),
		RunID:       run.ID,
		GoalSummary: "Continue task with follow-up request",
		Steps: []core.Step{{
			Idx:         0,
			Title:       "Process follow-up request",
			Description: description,
			Status:      core.StepPending,
			MaxRetries:  1,
		}},
		CompletionCriteria: []string{
			"Follow-up request has been addressed",
			"Changes are applied and validated",
		},
	}

	o.launch(task.ID, func(ctx context.Context) {
		o.rt.Recorder.Emit(ctx, run.ID, events.CategoryTask, events.TaskContinued, map[string]interface{}{
			"task_id": task.ID,
			"run_id":  run.ID,
		})
		if err := o.ExecutePlan(ctx, run.ID, task.ID, continuePrompt, plan); err != nil {
			o.failTask(ctx, task.ID, err)
		}
	})
	return nil
}

// CancelTask rejects every pending approval for the task and aborts its
// background handle. In-flight tool subprocesses are not killed; they
// complete or are abandoned.
func (o *Orchestrator) CancelTask(taskID string) {
	o.rt.Gate.RejectAllForTask(taskID)

	o.mu.Lock()
	handle, ok := o.active[taskID]
	if ok {
		delete(o.active, taskID)
	}
	o.mu.Unlock()

	if ok {
		handle.cancel()
	}
}

// Wait blocks until the task's background handle finishes. No-op for unknown
// or already-finished tasks.
func (o *Orchestrator) Wait(taskID string) {
	o.mu.Lock()
	handle, ok := o.active[taskID]
	o.mu.Unlock()
	if ok {
		<-handle.done
	}
}

// ListPendingApprovals returns pending approval requests, optionally filtered
// by task.
func (o *Orchestrator) ListPendingApprovals(taskID string) []approval.Request {
	return o.rt.Gate.ListPending(taskID)
}

// ResolveApproval answers a pending approval request.
func (o *Orchestrator) ResolveApproval(approvalID string, approve bool) (approval.Request, error) {
	return o.rt.Gate.Resolve(approvalID, approve)
}

// RecoverActiveRuns reconciles runs left active by a previous process.
// Interrupted planning runs fail; executing runs with a parseable plan
// re-enter ExecutePlan, which skips completed steps via the checkpoint.
func (o *Orchestrator) RecoverActiveRuns(ctx context.Context) {
	runs, err := o.rt.Store.ListActiveRuns(ctx)
	if err != nil {
		o.rt.logger().Error("failed to load active runs for recovery", "error", err)
		return
	}

	for _, run := range runs {
		task, err := o.rt.Store.GetTask(ctx, run.TaskID)
		if err != nil {
			o.rt.logger().Warn("failed to load task for recovery", "task_id", run.TaskID, "error", err)
			continue
		}

		switch run.Status {
		case core.RunPlanning:
			finished := time.Now().UTC()
			_ = o.rt.Store.UpdateRunStatus(ctx, run.ID, core.RunFailed, &finished,
				"recovery: planning interrupted before plan persisted")
			_ = o.rt.Store.UpdateTaskStatus(ctx, task.ID, core.TaskFailed)

		case core.RunExecuting:
			if run.PlanJSON == "" {
				continue
			}
			var plan core.Plan
			if err := json.Unmarshal([]byte(run.PlanJSON), &plan); err != nil {
				continue
			}

			o.rt.Recorder.Emit(ctx, run.ID, events.CategoryTask, events.TaskResumed, map[string]interface{}{
				"task_id": task.ID,
				"run_id":  run.ID,
			})
			if err := o.ExecutePlan(ctx, run.ID, task.ID, task.Prompt, plan); err != nil {
				o.rt.logger().Warn("resumed run failed", "run_id", run.ID, "error", err)
			}
		}
	}
}

// ExecutePlan drives every remaining step of a plan through the worker loop,
// checkpointing after each completed step.
func (o *Orchestrator) ExecutePlan(ctx context.Context, runID, taskID, taskPrompt string, plan core.Plan) error {
	if err := o.rt.Store.UpdateTaskStatus(ctx, taskID, core.TaskExecuting); err != nil {
		return err
	}
	o.rt.Recorder.Emit(ctx, runID, events.CategoryTask, events.TaskStatusChanged, map[string]interface{}{
		"task_id": taskID,
		"status":  string(core.TaskExecuting),
	})

	resolvedPrompt := ExpandPromptReferences(taskPrompt, o.workspaceRoot)
	pol := policy.WithApprovedScopes(o.workspaceRoot, o.rt.Gate.ApprovedScopes())
	skillsContext := skills.BuildContext(skills.ScanWorkspace(o.workspaceRoot), o.skillsCatalog)

	checkpoint, err := o.rt.Store.GetCheckpoint(ctx, runID)
	if err != nil {
		return err
	}

	var failed []subAgentResult
	for _, step := range plan.Steps {
		if checkpoint != nil && int64(step.Idx) <= checkpoint.LastStepIdx {
			continue
		}

		virtualParent := o.virtualParent(runID, step, resolvedPrompt, plan.GoalSummary, true)

		_, stepErr := o.rt.ExecuteStep(ctx, workerParams{
			RunID:         runID,
			TaskID:        taskID,
			Agent:         virtualParent,
			Step:          step,
			WorkspaceRoot: o.workspaceRoot,
			WorktreePath:  o.workspaceRoot,
			Policy:        pol,
			GoalSummary:   plan.GoalSummary,
			TaskPrompt:    resolvedPrompt,
			SkillsContext: skillsContext,
			Mode:          BuildMode,
		})
		if stepErr != nil {
			failed = append(failed, subAgentResult{
				SubAgentID: virtualParent.ID,
				Error:      stepErr.Error(),
			})
			break
		}

		runtimeState, _ := json.Marshal(map[string]interface{}{
			"status":   "executing",
			"step_idx": step.Idx,
		})
		if err := o.rt.Store.UpsertCheckpoint(ctx, &core.Checkpoint{
			RunID:            runID,
			LastStepIdx:      int64(step.Idx),
			RuntimeStateJSON: string(runtimeState),
			UpdatedAt:        time.Now().UTC(),
		}); err != nil {
			o.rt.logger().Warn("checkpoint upsert failed", "run_id", runID, "error", err)
		}
	}

	finished := time.Now().UTC()
	if len(failed) == 0 {
		if err := o.rt.Store.UpdateRunStatus(ctx, runID, core.RunCompleted, &finished, ""); err != nil {
			return err
		}
		if err := o.rt.Store.UpdateTaskStatus(ctx, taskID, core.TaskCompleted); err != nil {
			return err
		}
		o.rt.Recorder.Emit(ctx, runID, events.CategoryTask, events.TaskStatusChanged, map[string]interface{}{
			"task_id": taskID,
			"status":  string(core.TaskCompleted),
		})
		return nil
	}

	failures := make([]map[string]interface{}, 0, len(failed))
	for _, result := range failed {
		failures = append(failures, map[string]interface{}{
			"sub_agent_id": result.SubAgentID,
			"error":        result.Error,
			"output_path":  result.OutputPath,
		})
	}
	failureReason := fmt.Sprintf("%d sub-agent(s) failed", len(failed))

	if err := o.rt.Store.UpdateRunStatus(ctx, runID, core.RunFailed, &finished, failureReason); err != nil {
		return err
	}
	if err := o.rt.Store.UpdateTaskStatus(ctx, taskID, core.TaskFailed); err != nil {
		return err
	}
	o.rt.Recorder.Emit(ctx, runID, events.CategoryTask, events.TaskStatusChanged, map[string]interface{}{
		"task_id":  taskID,
		"status":   string(core.TaskFailed),
		"failures": failures,
	})

	return core.ErrExecution("PLAN_EXECUTION_FAILED", failureReason)
}

// virtualParent synthesizes the SubAgent acting as the step's parent worker.
// It is never persisted; its id is deterministic for resumability.
func (o *Orchestrator) virtualParent(runID string, step core.Step, taskPrompt, goalSummary string, canSpawn bool) *core.SubAgent {
	allTools := make([]string, 0)
	for _, d := range o.rt.Registry.List() {
		allTools = append(allTools, d.Name)
	}

	maxDepth := uint32(0)
	if canSpawn {
		maxDepth = 1
	}
	stepJSON, _ := json.Marshal(step)
	contract := core.Contract{
		Permissions: core.Permissions{
			AllowedTools:       allTools,
			CanSpawnChildren:   canSpawn,
			MaxDelegationDepth: maxDepth,
		},
		Execution: core.Execution{
			AttemptTimeoutMS:  core.DefaultAttemptTimeoutMS,
			CloseOnCompletion: true,
		},
	}
	contextJSON, _ := json.Marshal(core.SubAgentContext{
		TaskPrompt:  taskPrompt,
		GoalSummary: goalSummary,
		Step:        stepJSON,
		Contract:    &contract,
	})

	now := time.Now().UTC()
	return &core.SubAgent{
		ID:           fmt.Sprintf("parent-%s-step-%d", runID, step.Idx),
		RunID:        runID,
		StepIdx:      int64(step.Idx),
		Name:         fmt.Sprintf("parent-step-%d", step.Idx),
		Status:       core.SubAgentRunning,
		WorktreePath: o.workspaceRoot,
		ContextJSON:  string(contextJSON),
		StartedAt:    &now,
	}
}

func (o *Orchestrator) persistPlan(runID string, plan core.Plan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	return o.rt.Store.UpdateRunPlan(context.Background(), runID, string(planJSON))
}

func (o *Orchestrator) collectArtifactBundle(ctx context.Context, taskID string) string {
	artifacts, err := o.rt.Store.ListMarkdownArtifactsForTask(ctx, taskID)
	if err != nil {
		return ""
	}

	var bundle strings.Builder
	for _, artifact := range artifacts {
		content, err := os.ReadFile(artifact.URIOrContent)
		if err != nil {
			continue
		}
		bundle.WriteString(fmt.Sprintf("\n\n---\nArtifact: %s\n\n%s", artifact.URIOrContent, content))
	}
	return strings.TrimRight(bundle.String(), "\n")
}

func (o *Orchestrator) failTask(ctx context.Context, taskID string, taskErr error) {
	_ = o.rt.Store.UpdateTaskStatus(ctx, taskID, core.TaskFailed)
	o.rt.Recorder.Emit(ctx, "", events.CategoryTask, events.TaskStatusChanged, map[string]interface{}{
		"task_id": taskID,
		"status":  string(core.TaskFailed),
		"error":   taskErr.Error(),
	})
}

// launch starts a task's background handle and tracks it for cancellation.
func (o *Orchestrator) launch(taskID string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &taskHandle{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.active[taskID] = handle
	o.mu.Unlock()

	go func() {
		defer func() {
			close(handle.done)
			o.mu.Lock()
			if current, ok := o.active[taskID]; ok && current == handle {
				delete(o.active, taskID)
			}
			o.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
}

func orPlaceholder(value, placeholder string) string {
	if strings.TrimSpace(value) == "" {
		return placeholder
	}
	return value
}
