package tools

import (
	"bytes"
	"encoding/json"
	"os/exec"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
)

// SearchRgTool searches file contents with ripgrep.
type SearchRgTool struct{}

func (t *SearchRgTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "search.rg",
		Description: "Search with ripgrep",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string"},
				"path": {"type": "string"}
			},
			"required": ["pattern"]
		}`),
	}
}

func (t *SearchRgTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if input.Pattern == "" {
		return CallOutput{}, InvalidInput("pattern required")
	}
	if input.Path == "" {
		input.Path = "."
	}

	full := joinPath(cwd, input.Path)
	if err := checkPath(pol, full); err != nil {
		return CallOutput{}, err
	}

	cmd := exec.Command("rg", input.Pattern, full)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	ok := err == nil
	if err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			return CallOutput{}, ExecutionError(err.Error())
		}
	}

	return CallOutput{
		OK: ok,
		Data: map[string]interface{}{
			"stdout": stdout.String(),
			"stderr": stderr.String(),
		},
	}, nil
}
