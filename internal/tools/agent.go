package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/orchestrix-dev/orchestrix/internal/fsutil"
	"github.com/orchestrix-dev/orchestrix/internal/policy"
)

// AgentTodoTool manages the agent's local todo list, persisted under
// .orchestrix/ so it survives across turns.
type AgentTodoTool struct{}

func (t *AgentTodoTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "agent.todo",
		Description: "Manage the agent's local todo list. Actions: list, set, add, update, clear. " +
			"For 'update', pass a 'todos' array where position determines which todo to update. " +
			"Use 'list_id' to scope todos to a specific agent/run to avoid conflicts with " +
			"parent/sub-agents.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["list", "set", "add", "update", "clear"]},
				"todos": {"type": "array", "items": {"type": "object"}, "description": "For 'set' or 'update' actions. For update, array position determines which todo to update."},
				"item": {"type": "object", "description": "For 'add' action or 'update' with index"},
				"index": {"type": "integer", "description": "Optional: specific index for update (legacy)"},
				"list_id": {"type": "string", "description": "Optional: scope this todo list to a specific ID (e.g., agent/run identifier). Prevents conflicts between parent and sub-agent todos."}
			}
		}`),
	}
}

func (t *AgentTodoTool) Invoke(_ *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Action string            `json:"action"`
		Todos  []json.RawMessage `json:"todos"`
		Item   json.RawMessage   `json:"item"`
		Index  *int              `json:"index"`
		ListID string            `json:"list_id"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
		}
	}
	if input.Action == "" {
		input.Action = "list"
	}

	stateDir := filepath.Join(cwd, ".orchestrix")
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}

	todoPath := filepath.Join(stateDir, "agent-todo.json")
	if input.ListID != "" {
		safeID := sanitizeListID(input.ListID)
		todoPath = filepath.Join(stateDir, fmt.Sprintf("agent-todo-%s.json", safeID))
	}

	var todos []json.RawMessage
	if raw, err := os.ReadFile(todoPath); err == nil {
		_ = json.Unmarshal(raw, &todos)
	}

	switch input.Action {
	case "set":
		if input.Todos == nil {
			return CallOutput{}, InvalidInput("todos array is required for set")
		}
		todos = input.Todos
	case "add":
		if input.Item == nil {
			return CallOutput{}, InvalidInput("item is required for add")
		}
		todos = append(todos, input.Item)
	case "update":
		switch {
		case input.Todos != nil:
			for idx, item := range input.Todos {
				if idx < len(todos) {
					todos[idx] = item
				}
			}
		case input.Index != nil:
			if input.Item == nil {
				return CallOutput{}, InvalidInput("item is required when using index")
			}
			if *input.Index < 0 || *input.Index >= len(todos) {
				return CallOutput{}, InvalidInput("index out of range")
			}
			todos[*input.Index] = input.Item
		default:
			return CallOutput{}, InvalidInput("todos array or index+item is required for update")
		}
	case "clear":
		todos = nil
	case "list":
	default:
		return CallOutput{}, InvalidInput(fmt.Sprintf("unknown action: %s", input.Action))
	}

	if input.Action != "list" {
		if todos == nil {
			todos = []json.RawMessage{}
		}
		data, err := json.MarshalIndent(todos, "", "  ")
		if err != nil {
			return CallOutput{}, ExecutionError(err.Error())
		}
		if err := fsutil.WriteFileAtomic(todoPath, data, 0o640); err != nil {
			return CallOutput{}, ExecutionError(err.Error())
		}
	}

	decoded := make([]interface{}, 0, len(todos))
	for _, todo := range todos {
		var item interface{}
		if err := json.Unmarshal(todo, &item); err == nil {
			decoded = append(decoded, item)
		}
	}

	return CallOutput{
		OK:   true,
		Data: map[string]interface{}{"todos": decoded},
	}, nil
}

func sanitizeListID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// RequestBuildModeTool lets PLAN mode agents request switching to BUILD mode.
// The output is a pure signal; the orchestrator reads it from the observation.
type RequestBuildModeTool struct{}

func (t *RequestBuildModeTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "agent.request_build_mode",
		Description: "Request to switch from PLAN mode to BUILD mode. Use this when the plan is " +
			"complete and ready for execution.",
		InputSchema: schema(`{"type": "object"}`),
	}
}

func (t *RequestBuildModeTool) Invoke(_ *policy.Engine, _ string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Reason       string `json:"reason"`
		ReadyToBuild *bool  `json:"ready_to_build"`
	}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &input)
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "requested by agent"
	}
	readyToBuild := input.ReadyToBuild == nil || *input.ReadyToBuild

	return CallOutput{
		OK: true,
		Data: map[string]interface{}{
			"requested":      true,
			"target_mode":    "build",
			"reason":         reason,
			"ready_to_build": readyToBuild,
		},
	}, nil
}

// RequestPlanModeTool lets BUILD mode agents request switching to PLAN mode.
type RequestPlanModeTool struct{}

func (t *RequestPlanModeTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "agent.request_plan_mode",
		Description: "Request to switch from BUILD mode to PLAN mode. Use this when you need to " +
			"replan or create a new plan.",
		InputSchema: schema(`{"type": "object"}`),
	}
}

func (t *RequestPlanModeTool) Invoke(_ *policy.Engine, _ string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Reason        string `json:"reason"`
		NeedsRevision *bool  `json:"needs_revision"`
	}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &input)
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "requested by agent"
	}
	needsRevision := input.NeedsRevision == nil || *input.NeedsRevision

	return CallOutput{
		OK: true,
		Data: map[string]interface{}{
			"requested":      true,
			"target_mode":    "plan",
			"reason":         reason,
			"needs_revision": needsRevision,
		},
	}, nil
}

// CreateArtifactTool writes an artifact under .orchestrix/artifacts/. The
// worker additionally records an Artifact row for successful calls.
type CreateArtifactTool struct{}

func (t *CreateArtifactTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "agent.create_artifact",
		Description: "Create an artifact (e.g., a plan document). The content will be saved to " +
			"the workspace.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"filename": {"type": "string", "description": "Name of the artifact file"},
				"content": {"type": "string", "description": "Content of the artifact"},
				"kind": {"type": "string", "description": "Type of artifact (e.g., 'plan', 'summary')"}
			},
			"required": ["filename", "content"]
		}`),
	}
}

func (t *CreateArtifactTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Filename string  `json:"filename"`
		Content  *string `json:"content"`
		Kind     string  `json:"kind"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	filename := strings.TrimSpace(input.Filename)
	if filename == "" {
		return CallOutput{}, InvalidInput("filename is required")
	}
	if input.Content == nil {
		return CallOutput{}, InvalidInput("content is required")
	}
	kind := strings.TrimSpace(input.Kind)
	if kind == "" {
		kind = "note"
	}

	if !isSafeRelativePath(filename) {
		return CallOutput{}, InvalidInput("filename must be a safe relative path")
	}

	artifactPath := filepath.Join(cwd, ".orchestrix", "artifacts", filepath.FromSlash(filename))
	if err := checkPath(pol, artifactPath); err != nil {
		return CallOutput{}, err
	}

	if err := os.MkdirAll(filepath.Dir(artifactPath), 0o750); err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}
	if err := os.WriteFile(artifactPath, []byte(*input.Content), 0o640); err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}

	return CallOutput{
		OK: true,
		Data: map[string]interface{}{
			"path":     artifactPath,
			"filename": filename,
			"kind":     kind,
			"bytes":    len(*input.Content),
		},
	}, nil
}

func isSafeRelativePath(name string) bool {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	if len(name) >= 2 && name[1] == ':' {
		return false
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return false
		}
	}
	return true
}

// SubAgentSpawnTool is orchestrator-managed; direct invocation via the
// registry always errors. The descriptor still exists so the model sees it.
type SubAgentSpawnTool struct{}

func (t *SubAgentSpawnTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "subagent.spawn",
		Description: "Delegate a focused objective to a child sub-agent. Use this instead of " +
			"implicit delegation actions.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"objective": {"type": "string", "description": "Focused delegated objective"},
				"agent_preset_id": {"type": "string", "description": "Optional agent preset reference for delegated execution constraints/prompt. Accepts preset id (e.g. code-reviewer) or @agent:code-reviewer"},
				"max_retries": {"type": "integer", "description": "Optional retries for delegated objective"}
			},
			"required": ["objective"]
		}`),
	}
}

func (t *SubAgentSpawnTool) Invoke(_ *policy.Engine, _ string, _ json.RawMessage) (CallOutput, error) {
	return CallOutput{}, ExecutionError("subagent.spawn is orchestrator-managed and cannot be invoked directly")
}

// AgentCompleteTool marks the current delegated objective complete; the worker
// loop short-circuits on its success observation.
type AgentCompleteTool struct{}

func (t *AgentCompleteTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "agent.complete",
		Description: "Mark the current delegated objective as complete and stop further tool " +
			"calls for this agent turn loop.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"summary": {
					"type": "string",
					"description": "Required concise completion summary"
				},
				"outputs": {
					"type": "array",
					"items": {"type": "string"},
					"description": "Optional output paths or artifacts produced"
				},
				"confidence": {
					"type": "string",
					"enum": ["low", "medium", "high"],
					"description": "Optional completion confidence"
				}
			},
			"required": ["summary"]
		}`),
	}
}

func (t *AgentCompleteTool) Invoke(_ *policy.Engine, _ string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Summary    string   `json:"summary"`
		Outputs    []string `json:"outputs"`
		Confidence string   `json:"confidence"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	summary := strings.TrimSpace(input.Summary)
	if summary == "" {
		return CallOutput{}, InvalidInput("summary is required for agent.complete")
	}

	confidence := input.Confidence
	switch confidence {
	case "low", "medium", "high":
	default:
		confidence = "medium"
	}

	outputs := input.Outputs
	if outputs == nil {
		outputs = []string{}
	}

	return CallOutput{
		OK: true,
		Data: map[string]interface{}{
			"completed":  true,
			"summary":    summary,
			"outputs":    outputs,
			"confidence": confidence,
		},
	}, nil
}
