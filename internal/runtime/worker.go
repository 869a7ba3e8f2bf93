// Package runtime contains the execution engine: the orchestrator lifecycle,
// the worker decision loop, and the sub-agent executor.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/orchestrix-dev/orchestrix/internal/approval"
	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/events"
	"github.com/orchestrix-dev/orchestrix/internal/logging"
	"github.com/orchestrix-dev/orchestrix/internal/model"
	"github.com/orchestrix-dev/orchestrix/internal/policy"
	"github.com/orchestrix-dev/orchestrix/internal/state"
	"github.com/orchestrix-dev/orchestrix/internal/tools"
	"github.com/orchestrix-dev/orchestrix/internal/worktree"
)

// Mode selects which registry view a worker sees.
type Mode int

const (
	// BuildMode exposes the full tool surface.
	BuildMode Mode = iota
	// PlanMode exposes the read-only planning surface.
	PlanMode
)

// DefaultApprovalTimeout is the hard cap on waiting for a human answer.
const DefaultApprovalTimeout = 300 * time.Second

// DefaultRetryBackoff is the base sleep between sub-agent attempts.
const DefaultRetryBackoff = 500 * time.Millisecond

// Runtime bundles the shared dependencies of the worker loop, the sub-agent
// executor, and the orchestrator.
type Runtime struct {
	Store      *state.Store
	Recorder   *events.Recorder
	Registry   *tools.Registry
	Worktrees  *worktree.Manager
	Gate       *approval.Gate
	DevServers *DevServerRegistry
	Logger     *logging.Logger

	// Client is the model provider; nil selects the per-step fallback.
	Client model.Client

	ApprovalTimeout time.Duration
	RetryBackoff    time.Duration

	// mergeMu serializes merges into the main workspace. Parallel spawns in
	// one turn run their worker loops concurrently, but only one child may
	// integrate at a time.
	mergeMu sync.Mutex
}

func (rt *Runtime) approvalTimeout() time.Duration {
	if rt.ApprovalTimeout > 0 {
		return rt.ApprovalTimeout
	}
	return DefaultApprovalTimeout
}

func (rt *Runtime) retryBackoff() time.Duration {
	if rt.RetryBackoff > 0 {
		return rt.RetryBackoff
	}
	return DefaultRetryBackoff
}

func (rt *Runtime) logger() *logging.Logger {
	if rt.Logger != nil {
		return rt.Logger
	}
	return logging.NewNop()
}

// workerParams carries one worker loop invocation.
type workerParams struct {
	RunID  string
	TaskID string
	Agent  *core.SubAgent
	Step   core.Step

	WorkspaceRoot string
	WorktreePath  string
	Policy        *policy.Engine

	GoalSummary     string
	TaskPrompt      string
	SkillsContext   string
	DelegationDepth uint32
	Mode            Mode
}

// ExecuteStep drives a single step to completion by alternating model
// decisions with tool execution, accumulating the observation history the
// model sees on the next turn. Returns the path of the step report.
func (rt *Runtime) ExecuteStep(ctx context.Context, p workerParams) (string, error) {
	contract := core.ParseContract(p.Agent.ContextJSON)

	orchestrixDir := filepath.Join(p.WorktreePath, ".orchestrix")
	if err := os.MkdirAll(orchestrixDir, 0o750); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	if p.Agent.ContextJSON != "" {
		if err := os.WriteFile(filepath.Join(orchestrixDir, "context.json"), []byte(p.Agent.ContextJSON), 0o640); err != nil {
			return "", fmt.Errorf("writing context: %w", err)
		}
	}

	// Compute the tool view: mode filter intersected with the contract.
	var descriptors []tools.Descriptor
	if p.Mode == PlanMode {
		descriptors = rt.Registry.ListForPlanMode()
	} else {
		descriptors = rt.Registry.ListForBuildMode()
	}
	if len(contract.Permissions.AllowedTools) > 0 {
		filtered := descriptors[:0]
		for _, d := range descriptors {
			if contract.AllowsTool(d.Name) {
				filtered = append(filtered, d)
			}
		}
		descriptors = filtered
	}
	availableTools := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		availableTools = append(availableTools, d.Name)
	}
	toolReference := tools.ToolReference(descriptors)

	client := rt.Client
	if client == nil {
		client = &model.FallbackClient{Title: p.Step.Title, ToolIntent: p.Step.ToolIntent}
	}

	stepContext := p.Step.Title + "\n\n" + p.Step.Description
	if p.SkillsContext != "" {
		stepContext += "\n\n" + p.SkillsContext
	}

	var observations []map[string]interface{}
	completionSummary := ""
	completed := false
	turn := 0

	for !completed {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		turn++

		rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentDeciding, map[string]interface{}{
			"task_id":      p.TaskID,
			"run_id":       p.RunID,
			"step_idx":     p.Step.Idx,
			"sub_agent_id": p.Agent.ID,
			"turn":         turn,
		})

		emitter := newStreamEmitter(rt.Recorder, p.RunID, p.TaskID, p.Agent.ID, p.Step.Idx, turn)
		decision, err := client.Decide(ctx, model.Request{
			TaskPrompt:        p.TaskPrompt,
			GoalSummary:       p.GoalSummary,
			Context:           stepContext,
			AvailableTools:    availableTools,
			ToolDescriptors:   descriptors,
			ToolReference:     toolReference,
			PriorObservations: observations,
		}, func(kind model.StreamKind, delta string) {
			if kind == model.StreamReasoning {
				emitter.appendThinkingDelta(ctx, delta)
			} else {
				emitter.appendDelta(ctx, delta)
			}
		})
		if err != nil {
			emitter.cancel(ctx, "model request failed")
			return "", fmt.Errorf("model decision: %w", err)
		}

		action := model.NormalizeAction(decision.Action)
		if action.Kind == model.ActionComplete {
			emitter.complete(ctx)
		} else {
			emitter.cancel(ctx, "model selected non-message action")
		}

		if decision.RawResponse != "" {
			rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentRawResponse, map[string]interface{}{
				"task_id":      p.TaskID,
				"sub_agent_id": p.Agent.ID,
				"step_idx":     p.Step.Idx,
				"turn":         turn,
				"content":      decision.RawResponse,
			})
		}

		// Record the assistant's decision in observations so subsequent turns
		// can reconstruct the conversation state.
		switch action.Kind {
		case model.ActionToolCalls:
			observations = append(observations, map[string]interface{}{
				"role":       "assistant",
				"reasoning":  decision.Reasoning,
				"tool_calls": action.Calls,
			})
		case model.ActionToolCall:
			observations = append(observations, map[string]interface{}{
				"role":       "assistant",
				"reasoning":  decision.Reasoning,
				"tool_calls": []model.Call{action.Call},
			})
		}

		switch action.Kind {
		case model.ActionComplete:
			if open, found := openTodosInLatestObservation(observations); found && open > 0 {
				observations = append(observations, map[string]interface{}{
					"system":      "todo_guard",
					"status":      "incomplete",
					"open_todos":  open,
					"instruction": "agent.todo still has pending or in_progress items; continue with next tool call",
				})
				continue
			}

			content := action.Summary
			if content == "" {
				content = "Step completed."
			}
			rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentMessage, map[string]interface{}{
				"task_id":      p.TaskID,
				"sub_agent_id": p.Agent.ID,
				"step_idx":     p.Step.Idx,
				"content":      content,
			})
			completionSummary = action.Summary
			completed = true

		case model.ActionToolCalls:
			toolNames := make([]string, 0, len(action.Calls))
			allSpawns := len(action.Calls) > 0
			for _, call := range action.Calls {
				toolNames = append(toolNames, call.ToolName)
				if call.ToolName != "subagent.spawn" {
					allSpawns = false
				}
			}
			rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentToolCallsPreparing, map[string]interface{}{
				"task_id":      p.TaskID,
				"run_id":       p.RunID,
				"tool_names":   toolNames,
				"step_idx":     p.Step.Idx,
				"sub_agent_id": p.Agent.ID,
			})

			if allSpawns && len(action.Calls) > 1 {
				// Real parallel delegation: spawn observations land in
				// completion order.
				var mu sync.Mutex
				group, groupCtx := errgroup.WithContext(ctx)
				for _, call := range action.Calls {
					group.Go(func() error {
						obs := rt.executeSpawnCall(groupCtx, p, contract, turn, availableTools, call)
						mu.Lock()
						observations = append(observations, obs)
						mu.Unlock()
						return nil
					})
				}
				_ = group.Wait()
				continue
			}

			for _, call := range action.Calls {
				if call.ToolName == "subagent.spawn" {
					observations = append(observations, rt.executeSpawnCall(ctx, p, contract, turn, availableTools, call))
					continue
				}
				obs := rt.executeToolCall(ctx, p, turn, availableTools, call)
				observations = append(observations, obs)
				if summary := completionSummaryFromObservation(obs); summary != "" {
					completionSummary = summary
					completed = true
					break
				}
			}

		case model.ActionToolCall:
			call := action.Call
			if call.ToolName == "subagent.spawn" {
				observations = append(observations, rt.executeSpawnCall(ctx, p, contract, turn, availableTools, call))
				continue
			}
			obs := rt.executeToolCall(ctx, p, turn, availableTools, call)
			observations = append(observations, obs)
			if summary := completionSummaryFromObservation(obs); summary != "" {
				completionSummary = summary
				completed = true
			}
		}
	}

	// Reap any dev servers this run started so no orphaned processes outlive
	// the step.
	if stopped := rt.DevServers.StopAllForRun(p.RunID); len(stopped) > 0 {
		details := make([]map[string]interface{}, 0, len(stopped))
		for _, result := range stopped {
			details = append(details, map[string]interface{}{
				"server_id":    result.ServerID,
				"success":      result.Success,
				"runtime_secs": result.RuntimeSecs,
			})
		}
		rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentDevServersCleaned, map[string]interface{}{
			"task_id":         p.TaskID,
			"sub_agent_id":    p.Agent.ID,
			"step_idx":        p.Step.Idx,
			"servers_stopped": len(stopped),
			"details":         details,
		})
	}

	return rt.writeStepReport(orchestrixDir, p.Step, completionSummary, observations)
}

func (rt *Runtime) writeStepReport(orchestrixDir string, step core.Step, summary string, observations []map[string]interface{}) (string, error) {
	if summary == "" {
		if len(observations) == 0 {
			summary = "No tool actions executed"
		} else {
			summary = fmt.Sprintf("Worker stopped without explicit completion. Final observation count: %d", len(observations))
		}
	}

	observationsJSON, err := json.MarshalIndent(observations, "", "  ")
	if err != nil {
		observationsJSON = []byte("[]")
	}

	toolIntent := step.ToolIntent
	if toolIntent == "" {
		toolIntent = "none"
	}

	report := fmt.Sprintf(
		"# Sub-agent Step Report\n\n## Title\n%s\n\n## Description\n%s\n\n## Tool Intent\n%s\n\n## Result\n%s\n\n## Observations\n%s\n",
		step.Title, step.Description, toolIntent, summary, observationsJSON)

	reportPath := filepath.Join(orchestrixDir, fmt.Sprintf("step-%d-result.md", step.Idx))
	if err := os.WriteFile(reportPath, []byte(report), 0o640); err != nil {
		return "", fmt.Errorf("writing step report: %w", err)
	}
	return reportPath, nil
}

// executeToolCall runs one tool call with full lifecycle management:
// recording, eventing, policy/approval checking, and observation shaping.
func (rt *Runtime) executeToolCall(ctx context.Context, p workerParams, turn int, availableTools []string, call model.Call) map[string]interface{} {
	allowed := false
	for _, name := range availableTools {
		if name == call.ToolName {
			allowed = true
			break
		}
	}
	if !allowed {
		return map[string]interface{}{
			"tool_name": call.ToolName,
			"status":    "denied",
			"error":     "tool not allowed by delegation contract",
		}
	}

	toolCallID := uuid.NewString()
	startedAt := time.Now().UTC()
	stepIdx := int64(p.Step.Idx)
	inputJSON := string(call.ToolArgs)
	if inputJSON == "" {
		inputJSON = "{}"
	}
	if err := rt.Store.InsertToolCall(ctx, &core.ToolCall{
		ID:        toolCallID,
		RunID:     p.RunID,
		StepIdx:   &stepIdx,
		ToolName:  call.ToolName,
		InputJSON: inputJSON,
		Status:    core.ToolCallRunning,
		StartedAt: &startedAt,
	}); err != nil {
		rt.logger().Warn("tool call insert failed", "tool", call.ToolName, "error", err)
	}

	rt.Recorder.Emit(ctx, p.RunID, events.CategoryTool, events.ToolCallStarted, map[string]interface{}{
		"task_id":      p.TaskID,
		"sub_agent_id": p.Agent.ID,
		"tool_call_id": toolCallID,
		"tool_name":    call.ToolName,
		"tool_args":    json.RawMessage(inputJSON),
		"step_idx":     p.Step.Idx,
		"turn":         turn,
		"rationale":    call.Rationale,
	})

	output, invokeErr := rt.Registry.Invoke(p.Policy, p.WorktreePath, tools.CallInput{
		Name: call.ToolName,
		Args: call.ToolArgs,
	})

	// Approval flow: suspend on the gate, re-invoke on approval.
	if toolErr, ok := invokeErr.(*tools.Error); ok && toolErr.Kind == tools.ErrApprovalRequired {
		_ = rt.Store.UpdateToolCallResult(ctx, toolCallID, core.ToolCallAwaitingApproval, "", nil, toolErr.Reason)

		request, receiver := rt.Gate.Request(p.TaskID, p.RunID, p.Agent.ID, toolCallID,
			call.ToolName, toolErr.Scope, toolErr.Reason)

		rt.Recorder.Emit(ctx, p.RunID, events.CategoryTool, events.ToolApprovalRequired, map[string]interface{}{
			"task_id":      p.TaskID,
			"sub_agent_id": p.Agent.ID,
			"tool_call_id": toolCallID,
			"approval_id":  request.ID,
			"tool_name":    call.ToolName,
			"scope":        toolErr.Scope,
			"reason":       toolErr.Reason,
		})

		approved := false
		select {
		case answer := <-receiver:
			approved = answer
		case <-time.After(rt.approvalTimeout()):
		case <-ctx.Done():
		}

		rt.Recorder.Emit(ctx, p.RunID, events.CategoryTool, events.ToolApprovalResolved, map[string]interface{}{
			"task_id":      p.TaskID,
			"sub_agent_id": p.Agent.ID,
			"tool_call_id": toolCallID,
			"approval_id":  request.ID,
			"approved":     approved,
		})

		if approved {
			p.Policy.AllowScope(toolErr.Scope)
			output, invokeErr = rt.Registry.Invoke(p.Policy, p.WorktreePath, tools.CallInput{
				Name: call.ToolName,
				Args: call.ToolArgs,
			})
		} else {
			invokeErr = tools.PolicyDenied(fmt.Sprintf("approval denied for scope: %s", toolErr.Scope))
		}
	}

	finishedAt := time.Now().UTC()

	if invokeErr != nil {
		_ = rt.Store.UpdateToolCallResult(ctx, toolCallID, core.ToolCallDenied, "", &finishedAt, invokeErr.Error())
		rt.Recorder.Emit(ctx, p.RunID, events.CategoryTool, events.ToolCallFinished, map[string]interface{}{
			"task_id":      p.TaskID,
			"sub_agent_id": p.Agent.ID,
			"tool_call_id": toolCallID,
			"status":       "denied",
			"error":        invokeErr.Error(),
		})
		return map[string]interface{}{
			"tool_name": call.ToolName,
			"status":    "denied",
			"error":     invokeErr.Error(),
		}
	}

	status := core.ToolCallSucceeded
	statusText := "succeeded"
	if !output.OK {
		status = core.ToolCallFailed
		statusText = "failed"
	}

	outputJSON, err := json.Marshal(output.Data)
	if err != nil {
		outputJSON = []byte("{}")
	}
	_ = rt.Store.UpdateToolCallResult(ctx, toolCallID, status, string(outputJSON), &finishedAt, output.Error)

	rt.Recorder.Emit(ctx, p.RunID, events.CategoryTool, events.ToolCallFinished, map[string]interface{}{
		"task_id":      p.TaskID,
		"sub_agent_id": p.Agent.ID,
		"tool_call_id": toolCallID,
		"status":       statusText,
		"output":       output.Data,
	})

	// Track artifacts created via agent.create_artifact.
	if call.ToolName == "agent.create_artifact" && output.OK {
		path, _ := output.Data["path"].(string)
		kind, _ := output.Data["kind"].(string)
		if path != "" && kind != "" {
			metadata, _ := json.Marshal(map[string]interface{}{
				"task_id": p.TaskID,
				"source":  "agent.create_artifact",
				"kind":    kind,
			})
			artifact := &core.Artifact{
				ID:           uuid.NewString(),
				RunID:        p.RunID,
				Kind:         kind,
				URIOrContent: path,
				MetadataJSON: string(metadata),
				CreatedAt:    time.Now().UTC(),
			}
			if err := rt.Store.InsertArtifact(ctx, artifact); err != nil {
				rt.logger().Warn("artifact insert failed", "path", path, "error", err)
			} else {
				rt.Recorder.Emit(ctx, p.RunID, events.CategoryArtifact, events.ArtifactCreated, map[string]interface{}{
					"task_id":     p.TaskID,
					"artifact_id": artifact.ID,
					"kind":        artifact.Kind,
					"uri":         artifact.URIOrContent,
				})
			}
		}
	}

	return map[string]interface{}{
		"tool_name": call.ToolName,
		"status":    statusText,
		"output":    output.Data,
	}
}
