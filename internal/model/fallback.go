package model

import (
	"context"
	"encoding/json"
	"strings"
)

// FallbackClient infers a single tool call from the step's tool intent when
// no provider is configured, then completes. It keeps the engine exercisable
// offline and in tests.
type FallbackClient struct {
	// Title and ToolIntent come from the step under execution.
	Title      string
	ToolIntent string
}

// Decide implements Client. The first turn yields the inferred tool call (if
// any); every later turn completes.
func (c *FallbackClient) Decide(_ context.Context, req Request, _ StreamFunc) (Decision, error) {
	if len(req.PriorObservations) == 0 {
		if call, ok := InferToolCall(c.Title, c.ToolIntent); ok {
			return Decision{
				Action: Action{Kind: ActionToolCall, Call: call},
			}, nil
		}
		return Decision{
			Action: Action{Kind: ActionComplete, Summary: "No tool intent found in fallback mode"},
		}, nil
	}
	return Decision{
		Action: Action{Kind: ActionComplete, Summary: "Fallback execution finished"},
	}, nil
}

// InferToolCall maps a step's tool intent to a concrete call. Intents are the
// tool names themselves or a few loose aliases.
func InferToolCall(title, toolIntent string) (Call, bool) {
	intent := strings.TrimSpace(strings.ToLower(toolIntent))
	if intent == "" {
		return Call{}, false
	}

	mustMarshal := func(v interface{}) json.RawMessage {
		raw, _ := json.Marshal(v)
		return raw
	}

	switch {
	case intent == "git.status" || strings.Contains(intent, "git status"):
		return Call{ToolName: "git.status", ToolArgs: mustMarshal(map[string]string{}),
			Rationale: "fallback tool inference"}, true
	case intent == "git.diff":
		return Call{ToolName: "git.diff", ToolArgs: mustMarshal(map[string]string{}),
			Rationale: "fallback tool inference"}, true
	case intent == "fs.list" || strings.Contains(intent, "list files"):
		return Call{ToolName: "fs.list", ToolArgs: mustMarshal(map[string]string{"path": "."}),
			Rationale: "fallback tool inference"}, true
	case strings.HasPrefix(intent, "fs.read "):
		path := strings.TrimSpace(strings.TrimPrefix(intent, "fs.read "))
		return Call{ToolName: "fs.read", ToolArgs: mustMarshal(map[string]string{"path": path}),
			Rationale: "fallback tool inference"}, true
	case strings.HasPrefix(intent, "search.rg "):
		pattern := strings.TrimSpace(strings.TrimPrefix(intent, "search.rg "))
		return Call{ToolName: "search.rg", ToolArgs: mustMarshal(map[string]string{"pattern": pattern}),
			Rationale: "fallback tool inference"}, true
	default:
		_ = title
		return Call{}, false
	}
}
