package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
)

// runGitTool runs a git command in cwd with policy checking. Exit failures
// are reported in the output, not as errors.
func runGitTool(pol *policy.Engine, cwd string, identity bool, args ...string) (CallOutput, error) {
	if err := checkPath(pol, cwd); err != nil {
		return CallOutput{}, err
	}

	cmd := exec.Command("git", append([]string{"-C", cwd}, args...)...)
	if identity {
		cmd.Env = append(cmd.Environ(),
			"GIT_AUTHOR_NAME=Orchestrix",
			"GIT_AUTHOR_EMAIL=orchestrix@local",
			"GIT_COMMITTER_NAME=Orchestrix",
			"GIT_COMMITTER_EMAIL=orchestrix@local",
		)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	ok := err == nil
	if err != nil {
		if _, isExit := err.(*exec.ExitError); !isExit {
			return CallOutput{}, ExecutionError(fmt.Sprintf("git failed: %v", err))
		}
	}

	output := CallOutput{
		OK: ok,
		Data: map[string]interface{}{
			"stdout": stdout.String(),
			"stderr": stderr.String(),
		},
	}
	if !ok {
		output.Error = stderr.String()
	}
	return output, nil
}

// GitStatusTool runs git status --short.
type GitStatusTool struct{}

func (t *GitStatusTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "git.status",
		Description: "Run git status --short. Shows modified, added, and deleted files in the " +
			"current worktree.",
		InputSchema: schema(`{"type": "object"}`),
	}
}

func (t *GitStatusTool) Invoke(pol *policy.Engine, cwd string, _ json.RawMessage) (CallOutput, error) {
	return runGitTool(pol, cwd, false, "status", "--short")
}

// GitDiffTool runs git diff, unstaged by default.
type GitDiffTool struct{}

func (t *GitDiffTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "git.diff",
		Description: `Run git diff. Shows unstaged changes in the current worktree. Pass ` +
			`{"staged": true} to see staged changes.`,
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"staged": {"type": "boolean", "description": "If true, show staged (cached) changes instead of unstaged"}
			}
		}`),
	}
}

func (t *GitDiffTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Staged bool `json:"staged"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
		}
	}
	if input.Staged {
		return runGitTool(pol, cwd, false, "diff", "--cached")
	}
	return runGitTool(pol, cwd, false, "diff")
}

// GitApplyPatchTool applies a patch via git apply.
type GitApplyPatchTool struct{}

func (t *GitApplyPatchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "git.apply_patch",
		Description: "Apply patch via git apply",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"patch": {"type": "string"}
			},
			"required": ["patch"]
		}`),
	}
}

func (t *GitApplyPatchTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if input.Patch == "" {
		return CallOutput{}, InvalidInput("patch required")
	}

	patchPath := filepath.Join(cwd, ".orchestrix", "patch.diff")
	if err := os.MkdirAll(filepath.Dir(patchPath), 0o750); err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}
	if err := os.WriteFile(patchPath, []byte(input.Patch), 0o640); err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}

	return runGitTool(pol, cwd, false, "apply", patchPath)
}

// GitCommitTool stages everything and commits with the engine identity.
type GitCommitTool struct{}

func (t *GitCommitTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "git.commit",
		Description: "Stage all changes and commit in the current worktree. This is useful inside " +
			"agent worktrees to checkpoint progress.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "description": "Commit message"}
			},
			"required": ["message"]
		}`),
	}
}

func (t *GitCommitTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if input.Message == "" {
		return CallOutput{}, InvalidInput("message required")
	}

	if _, err := runGitTool(pol, cwd, false, "add", "-A"); err != nil {
		return CallOutput{}, err
	}
	return runGitTool(pol, cwd, true, "commit", "-m", input.Message)
}

// GitLogTool shows recent log entries in oneline format.
type GitLogTool struct{}

func (t *GitLogTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "git.log",
		Description: "Show recent git log entries. Defaults to 10 entries in oneline format.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"count": {"type": "integer", "description": "Number of log entries to show (default: 10)"}
			}
		}`),
	}
}

func (t *GitLogTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Count *int `json:"count"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
		}
	}
	count := 10
	if input.Count != nil && *input.Count > 0 {
		count = *input.Count
	}
	return runGitTool(pol, cwd, false, "log", "--oneline", fmt.Sprintf("-%d", count))
}
