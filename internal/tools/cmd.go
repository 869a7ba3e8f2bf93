package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
)

// CommandExecTool executes commands under policy enforcement.
type CommandExecTool struct{}

func (t *CommandExecTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "cmd.exec",
		Description: "Execute a command. The 'cmd' field is the binary name (e.g. 'mkdir', 'go', " +
			"'git'). The 'args' field is an array of string arguments. Optionally pass 'workdir' " +
			"(relative to workspace root) to run in a subdirectory. Alternatively you can pass a " +
			"single 'command' string and it will be run via the system shell.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"cmd": {"type": "string", "description": "Binary name (e.g. 'mkdir', 'go', 'node')"},
				"args": {"type": "array", "items": {"type": "string"}, "description": "Arguments array"},
				"command": {"type": "string", "description": "Alternative: full shell command string"},
				"workdir": {"type": "string", "description": "Optional relative working directory (e.g. 'frontend'). Avoid using shell 'cd'."}
			}
		}`),
	}
}

func (t *CommandExecTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Cmd     string   `json:"cmd"`
		Args    []string `json:"args"`
		Command string   `json:"command"`
		Workdir string   `json:"workdir"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}

	commandCwd := cwd
	if input.Workdir != "" {
		commandCwd = joinPath(cwd, input.Workdir)
	}
	if err := checkPath(pol, commandCwd); err != nil {
		return CallOutput{}, err
	}

	info, err := os.Stat(commandCwd)
	if err != nil || !info.IsDir() {
		return CallOutput{}, InvalidInput(
			fmt.Sprintf("workdir does not exist or is not a directory: %s", commandCwd))
	}

	// Resolve the raw command, with fallback to "command", then args[0].
	rawCmd := input.Cmd
	if rawCmd == "" {
		rawCmd = input.Command
	}
	if rawCmd == "" && len(input.Args) > 0 {
		rawCmd = input.Args[0]
	}
	if rawCmd == "" {
		return CallOutput{}, InvalidInput("cmd required")
	}

	// If cmd contains spaces and no explicit args, split it into binary + args.
	binary := rawCmd
	binaryArgs := input.Args
	if len(binaryArgs) == 0 && strings.Contains(rawCmd, " ") {
		parts := strings.Fields(rawCmd)
		binary = parts[0]
		binaryArgs = parts[1:]
	}

	// Common LLM recovery: args accidentally include the binary as first item.
	if len(binaryArgs) > 0 && binaryArgs[0] == binary {
		binaryArgs = binaryArgs[1:]
	}

	// Policy check the cd target so a shell cd can't escape the workspace.
	if strings.EqualFold(binary, "cd") {
		if target := resolveCdTarget(commandCwd, input.Command, binaryArgs); target != "" {
			if err := checkPath(pol, target); err != nil {
				return CallOutput{}, err
			}
		}
	}

	// Policy check on the binary name.
	decision := pol.EvaluateCommand(binary)
	if decision.Kind != policy.Allow {
		return CallOutput{}, PolicyDenied(decision.Reason)
	}

	var output *commandResult
	if input.Command != "" {
		output, err = runShellCommand(commandCwd, input.Command)
		if err != nil {
			return CallOutput{}, err
		}
	} else {
		output, err = runBinary(commandCwd, binary, binaryArgs)
		if err != nil {
			var notFound *exec.Error
			if errors.As(err, &notFound) && errors.Is(notFound.Err, exec.ErrNotFound) {
				if runtime.GOOS == "windows" {
					shellCommand := binary
					if len(binaryArgs) > 0 {
						shellCommand = binary + " " + strings.Join(binaryArgs, " ")
					}
					output, err = runShellCommand(commandCwd, shellCommand)
					if err != nil {
						return CallOutput{}, err
					}
				} else {
					return CallOutput{}, ExecutionError(fmt.Sprintf(
						"program not found: %s. Try cmd.exec with the 'command' field for shell built-ins", binary))
				}
			} else {
				return CallOutput{}, ExecutionError(err.Error())
			}
		}
	}

	invoked := map[string]interface{}{"mode": "binary", "cmd": binary, "args": binaryArgs}
	if input.Command != "" {
		invoked = map[string]interface{}{"mode": "shell", "command": input.Command}
	}

	return CallOutput{
		OK: output.exitCode == 0,
		Data: map[string]interface{}{
			"stdout":  output.stdout,
			"stderr":  output.stderr,
			"code":    output.exitCode,
			"workdir": commandCwd,
			"invoked": invoked,
		},
	}, nil
}

type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
}

func runBinary(cwd, binary string, args []string) (*commandResult, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = cwd
	return collectOutput(cmd)
}

func runShellCommand(cwd, command string) (*commandResult, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		translated := translateUnixToWindows(command)
		utf8Command := "chcp 65001 >nul 2>&1 && " + translated
		cmd = exec.Command("cmd", "/C", utf8Command)
	} else {
		cmd = exec.Command("sh", "-lc", command)
	}
	cmd.Dir = cwd
	result, err := collectOutput(cmd)
	if err != nil {
		return nil, ExecutionError(err.Error())
	}
	return result, nil
}

func collectOutput(cmd *exec.Cmd) (*commandResult, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &commandResult{
		stdout: stdout.String(),
		stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.exitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// translateUnixToWindows rewrites common Unix shell commands to Windows
// equivalents. This helps when the LLM generates Unix commands on Windows.
func translateUnixToWindows(command string) string {
	trimmed := strings.TrimSpace(command)

	if rest, ok := strings.CutPrefix(trimmed, "which "); ok {
		return "where " + rest
	}
	if rest, ok := strings.CutPrefix(trimmed, "command -v "); ok {
		return "where " + rest
	}

	if after, ok := strings.CutPrefix(trimmed, "rm "); ok {
		after = strings.TrimSpace(after)
		if strings.HasPrefix(after, "-rf ") || strings.HasPrefix(after, "-r ") {
			_, target, _ := strings.Cut(after, " ")
			return "rmdir /s /q " + strings.TrimSpace(target)
		}
		if !strings.HasPrefix(after, "-") {
			return "del /q " + after
		}
	}

	if after, ok := strings.CutPrefix(trimmed, "mkdir -p "); ok {
		after = strings.TrimSpace(after)
		if after == "" {
			return "mkdir"
		}
		return "mkdir " + after
	}

	if strings.HasPrefix(trimmed, "cp -r ") || strings.HasPrefix(trimmed, "cp -a ") || strings.HasPrefix(trimmed, "cp -R ") {
		parts := strings.Fields(trimmed)
		if len(parts) >= 3 {
			return fmt.Sprintf("xcopy /e /i /h %s %s", parts[len(parts)-2], parts[len(parts)-1])
		}
	}

	if strings.HasPrefix(trimmed, "cp ") && !strings.Contains(trimmed, " -") {
		parts := strings.Fields(trimmed)
		if len(parts) >= 3 {
			return fmt.Sprintf("copy %s %s", parts[1], parts[2])
		}
	}

	if strings.HasPrefix(trimmed, "mv ") && !strings.HasPrefix(trimmed, "mv -") {
		parts := strings.Fields(trimmed)
		if len(parts) >= 3 {
			return fmt.Sprintf("move %s %s", parts[1], parts[2])
		}
	}

	if after, ok := strings.CutPrefix(trimmed, "touch "); ok {
		parts := strings.Fields(after)
		if len(parts) > 0 {
			return "type nul > " + parts[0]
		}
	}

	if after, ok := strings.CutPrefix(trimmed, "cat "); ok {
		parts := strings.Fields(after)
		if len(parts) > 0 {
			return "type " + parts[0]
		}
	}

	if trimmed == "ls" || strings.HasPrefix(trimmed, "ls ") {
		return "dir"
	}

	if trimmed == "tree" || strings.HasPrefix(trimmed, "tree ") {
		return "dir /s /b"
	}

	// Strip a leading "cd path && " so the remainder runs in the workdir.
	if strings.HasPrefix(trimmed, "cd ") && strings.Contains(trimmed, " && ") {
		if _, rest, ok := strings.Cut(trimmed, " && "); ok {
			return rest
		}
	}

	return command
}

// resolveCdTarget extracts the destination of a cd so it can be policy
// checked.
func resolveCdTarget(cwd, commandField string, args []string) string {
	if commandField != "" {
		if raw := parseCdTargetFromShellCommand(commandField); raw != "" {
			return resolvePathFromCdArg(cwd, raw)
		}
	}

	if len(args) == 0 {
		return ""
	}
	raw := args[0]
	if strings.EqualFold(raw, "/d") {
		if len(args) < 2 {
			return ""
		}
		raw = args[1]
	}
	return resolvePathFromCdArg(cwd, raw)
}

func parseCdTargetFromShellCommand(command string) string {
	trimmed := strings.TrimLeft(command, " \t")
	if !strings.HasPrefix(strings.ToLower(trimmed), "cd") {
		return ""
	}

	firstSegment := trimmed
	if before, _, ok := strings.Cut(firstSegment, "&&"); ok {
		firstSegment = before
	}
	if before, _, ok := strings.Cut(firstSegment, ";"); ok {
		firstSegment = before
	}
	firstSegment = strings.TrimSpace(firstSegment)

	if len(firstSegment) < 2 {
		return ""
	}
	rest := strings.TrimLeft(firstSegment[2:], " \t")
	if rest == "" {
		return ""
	}

	if strings.HasPrefix(strings.ToLower(rest), "/d") {
		rest = strings.TrimLeft(rest[2:], " \t")
		if rest == "" {
			return ""
		}
	}

	if strings.HasPrefix(rest, `"`) {
		if closing := strings.Index(rest[1:], `"`); closing >= 0 {
			return rest[1 : closing+1]
		}
		return ""
	}
	if strings.HasPrefix(rest, "'") {
		if closing := strings.Index(rest[1:], "'"); closing >= 0 {
			return rest[1 : closing+1]
		}
		return ""
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func resolvePathFromCdArg(cwd, raw string) string {
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Join(cwd, raw)
}
