// Package model defines the worker's decision types and the boundary to the
// model provider. The core calls one function per turn; streaming is an
// optional callback an implementation may elide by buffering.
package model

import (
	"context"
	"encoding/json"

	"github.com/orchestrix-dev/orchestrix/internal/tools"
)

// ActionKind tags the worker action variants.
type ActionKind string

const (
	// ActionComplete ends the step with a summary.
	ActionComplete ActionKind = "complete"
	// ActionToolCall executes a single tool.
	ActionToolCall ActionKind = "tool_call"
	// ActionToolCalls executes a batch of tools in one turn.
	ActionToolCalls ActionKind = "tool_calls"
	// ActionDelegate is the legacy delegation action; it is normalized to a
	// subagent.spawn tool call before processing.
	ActionDelegate ActionKind = "delegate"
)

// Call is one requested tool invocation.
type Call struct {
	ToolName  string          `json:"tool_name"`
	ToolArgs  json.RawMessage `json:"tool_args"`
	Rationale string          `json:"rationale,omitempty"`
}

// Action is the tagged union of things the model can ask the worker to do.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Summary is set for ActionComplete.
	Summary string `json:"summary,omitempty"`

	// Call is set for ActionToolCall.
	Call Call `json:"call,omitempty"`

	// Calls is set for ActionToolCalls.
	Calls []Call `json:"calls,omitempty"`

	// Objective is set for ActionDelegate.
	Objective string `json:"objective,omitempty"`
}

// Decision is the model's answer for one turn.
type Decision struct {
	Action      Action `json:"action"`
	Reasoning   string `json:"reasoning,omitempty"`
	RawResponse string `json:"raw_response,omitempty"`
}

// Request carries everything the model sees for a turn.
type Request struct {
	TaskPrompt        string                   `json:"task_prompt"`
	GoalSummary       string                   `json:"goal_summary"`
	Context           string                   `json:"context"`
	AvailableTools    []string                 `json:"available_tools"`
	ToolDescriptors   []tools.Descriptor       `json:"tool_descriptors"`
	ToolReference     string                   `json:"tool_reference"`
	PriorObservations []map[string]interface{} `json:"prior_observations"`
}

// StreamKind distinguishes content from reasoning deltas.
type StreamKind int

const (
	// StreamContent is a message content delta.
	StreamContent StreamKind = iota
	// StreamReasoning is a thinking/reasoning delta.
	StreamReasoning
)

// StreamFunc receives streaming deltas during a Decide call. Implementations
// that do not stream never invoke it.
type StreamFunc func(kind StreamKind, delta string)

// Client produces one decision per call.
type Client interface {
	Decide(ctx context.Context, req Request, stream StreamFunc) (Decision, error)
}

// NormalizeAction rewrites a legacy Delegate action into the canonical
// subagent.spawn tool call so the worker has a single delegation path.
func NormalizeAction(action Action) Action {
	if action.Kind != ActionDelegate {
		return action
	}
	args, _ := json.Marshal(map[string]string{"objective": action.Objective})
	return Action{
		Kind: ActionToolCall,
		Call: Call{
			ToolName:  "subagent.spawn",
			ToolArgs:  args,
			Rationale: "normalized_from_delegate_action",
		},
	}
}
