package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseContractDefaults(t *testing.T) {
	for _, input := range []string{"", "not json", `{"no_contract": true}`} {
		contract := ParseContract(input)
		assert.Empty(t, contract.Permissions.AllowedTools)
		assert.False(t, contract.Permissions.CanSpawnChildren)
		assert.EqualValues(t, 0, contract.Permissions.MaxDelegationDepth)
		assert.EqualValues(t, DefaultAttemptTimeoutMS, contract.Execution.AttemptTimeoutMS)
		assert.True(t, contract.Execution.CloseOnCompletion)
	}
}

func TestParseContractOverrides(t *testing.T) {
	contract := ParseContract(`{
		"contract": {
			"permissions": {
				"allowed_tools": ["fs.read"],
				"can_spawn_children": true,
				"max_delegation_depth": 2
			},
			"execution": {
				"attempt_timeout_ms": 5000,
				"close_on_completion": false
			}
		}
	}`)

	assert.Equal(t, []string{"fs.read"}, contract.Permissions.AllowedTools)
	assert.True(t, contract.Permissions.CanSpawnChildren)
	assert.EqualValues(t, 2, contract.Permissions.MaxDelegationDepth)
	assert.EqualValues(t, 5000, contract.Execution.AttemptTimeoutMS)
	assert.False(t, contract.Execution.CloseOnCompletion)
}

func TestAttemptTimeoutFloor(t *testing.T) {
	contract := Contract{Execution: Execution{AttemptTimeoutMS: 10}}
	assert.EqualValues(t, MinAttemptTimeoutMS, contract.AttemptTimeoutMSClamped())

	contract.Execution.AttemptTimeoutMS = 30_000
	assert.EqualValues(t, 30_000, contract.AttemptTimeoutMSClamped())
}

func TestAllowsTool(t *testing.T) {
	open := Contract{}
	assert.True(t, open.AllowsTool("anything"))

	restricted := Contract{Permissions: Permissions{AllowedTools: []string{"fs.read"}}}
	assert.True(t, restricted.AllowsTool("fs.read"))
	assert.False(t, restricted.AllowsTool("fs.write"))
}
