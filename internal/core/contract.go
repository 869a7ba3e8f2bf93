package core

import "encoding/json"

// DefaultAttemptTimeoutMS is the per-attempt deadline applied when a contract
// does not specify one.
const DefaultAttemptTimeoutMS = 90_000

// MinAttemptTimeoutMS is the floor enforced on any contract timeout.
const MinAttemptTimeoutMS = 1_000

// Permissions bounds what a sub-agent may do. An empty AllowedTools set means
// all registry tools are available.
type Permissions struct {
	AllowedTools       []string `json:"allowed_tools"`
	CanSpawnChildren   bool     `json:"can_spawn_children"`
	MaxDelegationDepth uint32   `json:"max_delegation_depth"`
}

// Execution bounds how a sub-agent runs.
type Execution struct {
	AttemptTimeoutMS  uint64 `json:"attempt_timeout_ms"`
	CloseOnCompletion bool   `json:"close_on_completion"`
}

// Contract is the delegation contract embedded in a sub-agent's context JSON.
// Every child contract is strictly tighter than its parent's.
type Contract struct {
	Permissions Permissions `json:"permissions"`
	Execution   Execution   `json:"execution"`
}

// DefaultContract returns the contract applied when a sub-agent carries none:
// all tools allowed, no spawning, depth 0, 90 s attempt timeout, close on
// completion.
func DefaultContract() Contract {
	return Contract{
		Execution: Execution{
			AttemptTimeoutMS:  DefaultAttemptTimeoutMS,
			CloseOnCompletion: true,
		},
	}
}

// AttemptTimeoutMSClamped returns the contract's timeout with the 1 s floor
// applied.
func (c Contract) AttemptTimeoutMSClamped() uint64 {
	if c.Execution.AttemptTimeoutMS < MinAttemptTimeoutMS {
		return MinAttemptTimeoutMS
	}
	return c.Execution.AttemptTimeoutMS
}

// AllowsTool reports whether the contract admits a tool name. An empty
// allowed set admits everything.
func (c Contract) AllowsTool(name string) bool {
	if len(c.Permissions.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range c.Permissions.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}

// SubAgentContext is the document persisted as a sub-agent's context_json and
// written to <worktree>/.orchestrix/context.json.
type SubAgentContext struct {
	TaskPrompt    string          `json:"task_prompt,omitempty"`
	GoalSummary   string          `json:"goal_summary,omitempty"`
	Step          json.RawMessage `json:"step,omitempty"`
	AgentPresetID string          `json:"agent_preset_id,omitempty"`
	Contract      *Contract       `json:"contract,omitempty"`
}

// ParseContract extracts the delegation contract from a sub-agent's context
// JSON. Missing or malformed context yields the default contract.
func ParseContract(contextJSON string) Contract {
	if contextJSON == "" {
		return DefaultContract()
	}
	var doc struct {
		Contract *json.RawMessage `json:"contract"`
	}
	if err := json.Unmarshal([]byte(contextJSON), &doc); err != nil || doc.Contract == nil {
		return DefaultContract()
	}
	contract := DefaultContract()
	if err := json.Unmarshal(*doc.Contract, &contract); err != nil {
		return DefaultContract()
	}
	return contract
}
