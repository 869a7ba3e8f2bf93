package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/events"
	"github.com/orchestrix-dev/orchestrix/internal/model"
	"github.com/orchestrix-dev/orchestrix/internal/policy"
	"github.com/orchestrix-dev/orchestrix/internal/worktree"
)

// subAgentResult is the outcome of one delegated child.
type subAgentResult struct {
	SubAgentID   string
	Success      bool
	OutputPath   string
	Error        string
	MergeMessage string
}

// executeSpawnCall handles a subagent.spawn tool call end to end: contract
// checks, child row creation, delegated execution, merge integration, and
// cleanup. Returns the observation for the parent's history.
func (rt *Runtime) executeSpawnCall(ctx context.Context, p workerParams, contract core.Contract, turn int, availableTools []string, call model.Call) map[string]interface{} {
	var spawnArgs struct {
		Objective     string `json:"objective"`
		AgentPresetID string `json:"agent_preset_id"`
		MaxRetries    *int   `json:"max_retries"`
	}
	_ = json.Unmarshal(call.ToolArgs, &spawnArgs)
	objective := strings.TrimSpace(spawnArgs.Objective)

	if objective == "" {
		return map[string]interface{}{
			"tool_name": "subagent.spawn",
			"status":    "error",
			"error":     "objective is required",
		}
	}
	if !contract.Permissions.CanSpawnChildren {
		return map[string]interface{}{
			"tool_name": "subagent.spawn",
			"status":    "denied",
			"error":     "delegation disabled by contract",
		}
	}
	if p.DelegationDepth >= contract.Permissions.MaxDelegationDepth {
		return map[string]interface{}{
			"tool_name": "subagent.spawn",
			"status":    "denied",
			"error":     "max delegation depth reached",
		}
	}

	// The child contract is strictly tighter: no further spawning, and
	// subagent.spawn is stripped from the allowed set.
	delegatedTools := make([]string, 0, len(availableTools))
	for _, name := range availableTools {
		if name != "subagent.spawn" {
			delegatedTools = append(delegatedTools, name)
		}
	}

	maxRetries := 0
	if spawnArgs.MaxRetries != nil {
		maxRetries = *spawnArgs.MaxRetries
		if maxRetries < 0 {
			maxRetries = 0
		}
		if maxRetries > 3 {
			maxRetries = 3
		}
	}

	stepJSON, _ := json.Marshal(map[string]interface{}{
		"title":       fmt.Sprintf("Delegated objective %d", turn),
		"description": objective,
	})
	childContract := core.Contract{
		Permissions: core.Permissions{
			AllowedTools:       delegatedTools,
			CanSpawnChildren:   false,
			MaxDelegationDepth: 0,
		},
		Execution: core.Execution{
			AttemptTimeoutMS:  core.DefaultAttemptTimeoutMS,
			CloseOnCompletion: true,
		},
	}
	contextJSON, _ := json.Marshal(core.SubAgentContext{
		TaskPrompt:    p.TaskPrompt,
		GoalSummary:   p.GoalSummary,
		Step:          stepJSON,
		AgentPresetID: spawnArgs.AgentPresetID,
		Contract:      &childContract,
	})

	child := &core.SubAgent{
		ID:          uuid.NewString(),
		RunID:       p.RunID,
		StepIdx:     int64(p.Step.Idx),
		Name:        fmt.Sprintf("delegate-%d", turn),
		Status:      core.SubAgentCreated,
		ContextJSON: string(contextJSON),
	}
	if err := rt.Store.InsertSubAgent(ctx, child); err != nil {
		return map[string]interface{}{
			"tool_name": "subagent.spawn",
			"status":    "error",
			"error":     fmt.Sprintf("failed to insert sub-agent: %v", err),
		}
	}

	rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentCreated, map[string]interface{}{
		"task_id":      p.TaskID,
		"sub_agent_id": child.ID,
		"step_idx":     p.Step.Idx,
		"name":         child.Name,
		"objective":    objective,
	})

	delegatedStep := core.Step{
		Idx:         p.Step.Idx,
		Title:       fmt.Sprintf("Delegated objective %d", turn),
		Description: objective,
		Status:      core.StepPending,
		MaxRetries:  maxRetries,
	}

	result := rt.executeSubAgent(ctx, p, child, delegatedStep)

	rt.mergeMu.Lock()
	defer rt.mergeMu.Unlock()

	if result.Success {
		mergeResult, err := rt.Worktrees.Merge(ctx, p.WorkspaceRoot, result.SubAgentID)
		if err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("merge error: %v", err)
			result.MergeMessage = result.Error
			now := time.Now().UTC()
			_ = rt.Store.UpdateSubAgentStatus(ctx, result.SubAgentID, core.SubAgentFailed, "", &now, err.Error())
			rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentFailed, map[string]interface{}{
				"task_id":      p.TaskID,
				"sub_agent_id": result.SubAgentID,
				"step_idx":     p.Step.Idx,
				"error":        result.Error,
			})
		} else {
			rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentWorktreeMerged, map[string]interface{}{
				"task_id":          p.TaskID,
				"sub_agent_id":     result.SubAgentID,
				"step_idx":         p.Step.Idx,
				"merge_success":    mergeResult.Success,
				"merge_strategy":   string(mergeResult.Strategy),
				"merge_message":    mergeResult.Message,
				"conflicted_files": mergeResult.ConflictedFiles,
			})

			conflictedJSON := ""
			if len(mergeResult.ConflictedFiles) > 0 {
				raw, _ := json.Marshal(mergeResult.ConflictedFiles)
				conflictedJSON = string(raw)
			}
			_ = rt.Store.UpdateWorktreeLogMerge(ctx, result.SubAgentID, string(mergeResult.Strategy),
				mergeResult.Success, mergeResult.Message, conflictedJSON, time.Now().UTC())

			result.MergeMessage = mergeResult.Message
			now := time.Now().UTC()
			if mergeResult.Success {
				_ = rt.Store.UpdateSubAgentStatus(ctx, result.SubAgentID, core.SubAgentCompleted, "", &now, "")
				rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentCompleted, map[string]interface{}{
					"task_id":      p.TaskID,
					"sub_agent_id": result.SubAgentID,
					"step_idx":     p.Step.Idx,
					"output_path":  result.OutputPath,
					"merge":        mergeResult.Message,
				})
			} else {
				result.Success = false
				result.Error = fmt.Sprintf("merge failed: %s", mergeResult.Message)
				_ = rt.Store.UpdateSubAgentStatus(ctx, result.SubAgentID, core.SubAgentFailed, "", &now, mergeResult.Message)
				rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentFailed, map[string]interface{}{
					"task_id":      p.TaskID,
					"sub_agent_id": result.SubAgentID,
					"step_idx":     p.Step.Idx,
					"error":        result.Error,
				})
			}
		}
	}

	finalStatus := "completed"
	closeReason := "merged_and_integrated"
	if !result.Success {
		finalStatus = "failed"
		closeReason = "spawn_or_merge_failed"
	}

	now := time.Now().UTC()
	_ = rt.Store.UpdateSubAgentStatus(ctx, result.SubAgentID, core.SubAgentClosed, "", &now, result.Error)
	rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentClosed, map[string]interface{}{
		"task_id":      p.TaskID,
		"sub_agent_id": result.SubAgentID,
		"step_idx":     p.Step.Idx,
		"final_status": finalStatus,
		"close_reason": closeReason,
	})

	_ = rt.Worktrees.Remove(ctx, p.WorkspaceRoot, result.SubAgentID)
	_ = rt.Store.UpdateWorktreeLogCleaned(ctx, result.SubAgentID, time.Now().UTC())

	if result.Success {
		if result.OutputPath == "" {
			return map[string]interface{}{
				"tool_name":    "subagent.spawn",
				"status":       "failed",
				"sub_agent_id": result.SubAgentID,
				"error":        "missing child output path",
			}
		}
		return map[string]interface{}{
			"tool_name":       "subagent.spawn",
			"status":          "succeeded",
			"objective":       objective,
			"sub_agent_id":    result.SubAgentID,
			"output_path":     result.OutputPath,
			"agent_preset_id": spawnArgs.AgentPresetID,
			"merge":           result.MergeMessage,
		}
	}
	return map[string]interface{}{
		"tool_name":       "subagent.spawn",
		"status":          "failed",
		"objective":       objective,
		"sub_agent_id":    result.SubAgentID,
		"agent_preset_id": spawnArgs.AgentPresetID,
		"error":           result.Error,
		"merge":           result.MergeMessage,
	}
}

// executeSubAgent creates a worktree for the child and drives the worker
// loop through the attempt/timeout/retry cycle.
func (rt *Runtime) executeSubAgent(ctx context.Context, p workerParams, child *core.SubAgent, step core.Step) subAgentResult {
	contract := core.ParseContract(child.ContextJSON)

	info, err := rt.Worktrees.Create(ctx, p.WorkspaceRoot, p.RunID, child.ID)
	if err != nil {
		now := time.Now().UTC()
		_ = rt.Store.UpdateSubAgentStatus(ctx, child.ID, core.SubAgentFailed, "", &now, err.Error())
		return subAgentResult{SubAgentID: child.ID, Error: err.Error()}
	}

	_ = rt.Store.InsertWorktreeLog(ctx, &core.WorktreeLog{
		ID:           uuid.NewString(),
		RunID:        p.RunID,
		SubAgentID:   child.ID,
		Strategy:     string(info.Strategy),
		BranchName:   info.Branch,
		BaseRef:      info.BaseRef,
		WorktreePath: info.Path,
		CreatedAt:    time.Now().UTC(),
	})

	_ = rt.Store.MarkSubAgentStarted(ctx, child.ID, info.Path, time.Now().UTC())

	rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentStarted, map[string]interface{}{
		"task_id":       p.TaskID,
		"sub_agent_id":  child.ID,
		"step_idx":      step.Idx,
		"worktree_path": info.Path,
		"strategy":      string(info.Strategy),
		"branch":        info.Branch,
		"base_ref":      info.BaseRef,
	})

	// A git-backed child is confined to its worktree; the isolated-dir
	// fallback shares the workspace-root policy. Both share the gate's
	// approved scopes.
	var childPolicy *policy.Engine
	if info.Strategy == worktree.StrategyGitWorktree {
		childPolicy = policy.WithApprovedScopes(info.Path, rt.Gate.ApprovedScopes())
	} else {
		childPolicy = policy.WithApprovedScopes(p.WorkspaceRoot, rt.Gate.ApprovedScopes())
	}

	attemptTimeout := time.Duration(contract.AttemptTimeoutMSClamped()) * time.Millisecond

	var outputPath string
	var attemptErr error = fmt.Errorf("no-attempt")
	for attempt := 0; attempt <= step.MaxRetries; attempt++ {
		rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentAttempt, map[string]interface{}{
			"task_id":      p.TaskID,
			"sub_agent_id": child.ID,
			"step_idx":     step.Idx,
			"attempt":      attempt,
		})

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		outputPath, attemptErr = rt.ExecuteStep(attemptCtx, workerParams{
			RunID:           p.RunID,
			TaskID:          p.TaskID,
			Agent:           child,
			Step:            step,
			WorkspaceRoot:   p.WorkspaceRoot,
			WorktreePath:    info.Path,
			Policy:          childPolicy,
			GoalSummary:     p.GoalSummary,
			TaskPrompt:      p.TaskPrompt,
			SkillsContext:   p.SkillsContext,
			DelegationDepth: p.DelegationDepth + 1,
			Mode:            p.Mode,
		})
		if attemptCtx.Err() == context.DeadlineExceeded {
			attemptErr = fmt.Errorf("sub-agent attempt timed out")
		}
		cancel()

		if attemptErr == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < step.MaxRetries {
			select {
			case <-time.After(rt.retryBackoff() * time.Duration(attempt+1)):
			case <-ctx.Done():
			}
		}
	}

	if attemptErr == nil {
		_ = rt.Store.UpdateSubAgentStatus(ctx, child.ID, core.SubAgentWaitingForMerge, info.Path, nil, "")
		rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentWaitingForMerge, map[string]interface{}{
			"task_id":      p.TaskID,
			"sub_agent_id": child.ID,
			"step_idx":     step.Idx,
			"output_path":  outputPath,
			"branch":       info.Branch,
		})
		return subAgentResult{SubAgentID: child.ID, Success: true, OutputPath: outputPath}
	}

	now := time.Now().UTC()
	_ = rt.Store.UpdateSubAgentStatus(ctx, child.ID, core.SubAgentFailed, info.Path, &now, attemptErr.Error())
	rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentFailed, map[string]interface{}{
		"task_id":      p.TaskID,
		"sub_agent_id": child.ID,
		"step_idx":     step.Idx,
		"error":        attemptErr.Error(),
	})

	if contract.Execution.CloseOnCompletion {
		closedAt := time.Now().UTC()
		_ = rt.Store.UpdateSubAgentStatus(ctx, child.ID, core.SubAgentClosed, info.Path, &closedAt, attemptErr.Error())
		rt.Recorder.Emit(ctx, p.RunID, events.CategoryAgent, events.AgentSubAgentClosed, map[string]interface{}{
			"task_id":      p.TaskID,
			"sub_agent_id": child.ID,
			"step_idx":     step.Idx,
			"final_status": "failed",
			"close_reason": "execution_failed",
		})
	}

	return subAgentResult{SubAgentID: child.ID, Error: attemptErr.Error()}
}
