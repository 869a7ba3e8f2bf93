package tools

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
)

// FsReadTool reads file contents with offset/limit windows.
type FsReadTool struct{}

func (t *FsReadTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "fs.read",
		Description: "Read file contents. Supports reading specific lines with offset/limit parameters " +
			"for large files. Returns content with line numbers by default.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Path to the file"},
				"offset": {"type": "integer", "description": "Start reading from this line number (1-indexed). Default: 1."},
				"limit": {"type": "integer", "description": "Maximum number of lines to read. Default: 2000."},
				"line_numbers": {"type": "boolean", "description": "If true, prefix each line with its number (e.g. '1: content'). Default: true."}
			},
			"required": ["path"]
		}`),
	}
}

func (t *FsReadTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Path        string `json:"path"`
		Offset      int64  `json:"offset"`
		Limit       int64  `json:"limit"`
		LineNumbers *bool  `json:"line_numbers"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if input.Path == "" {
		return CallOutput{}, InvalidInput("path required")
	}
	if input.Offset < 1 {
		input.Offset = 1
	}
	if input.Limit <= 0 {
		input.Limit = 2000
	}
	showLineNumbers := input.LineNumbers == nil || *input.LineNumbers

	full := joinPath(cwd, input.Path)
	if err := checkPath(pol, full); err != nil {
		return CallOutput{}, err
	}

	file, err := os.Open(full)
	if err != nil {
		return CallOutput{}, ExecutionError(fmt.Sprintf("failed to open file: %v", err))
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := int64(0)
	for scanner.Scan() {
		lineNum++
		if lineNum < input.Offset {
			continue
		}
		if lineNum >= input.Offset+input.Limit {
			break
		}
		if showLineNumbers {
			lines = append(lines, fmt.Sprintf("%d: %s", lineNum, scanner.Text()))
		} else {
			lines = append(lines, scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		return CallOutput{}, ExecutionError(fmt.Sprintf("failed to read file: %v", err))
	}

	return CallOutput{
		OK: true,
		Data: map[string]interface{}{
			"path":    full,
			"content": strings.Join(lines, "\n"),
			"offset":  input.Offset,
			"limit":   input.Limit,
		},
	}, nil
}

// FsWriteTool writes file contents, creating parent directories.
type FsWriteTool struct{}

func (t *FsWriteTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "fs.write",
		Description: "Write file contents",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`),
	}
}

func (t *FsWriteTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Path    string  `json:"path"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if input.Path == "" {
		return CallOutput{}, InvalidInput("path required")
	}
	if input.Content == nil {
		return CallOutput{}, InvalidInput("content required")
	}

	full := joinPath(cwd, input.Path)

	// Check policy BEFORE creating directories to avoid OS errors on denied
	// paths.
	if err := checkPath(pol, full); err != nil {
		return CallOutput{}, err
	}

	if parent := filepath.Dir(full); parent != "" {
		if err := os.MkdirAll(parent, 0o750); err != nil {
			return CallOutput{}, ExecutionError(err.Error())
		}
	}
	if err := os.WriteFile(full, []byte(*input.Content), 0o640); err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}

	return CallOutput{
		OK:   true,
		Data: map[string]interface{}{"path": full},
	}, nil
}

// FsListTool lists directory contents without shell commands.
type FsListTool struct{}

func (t *FsListTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "fs.list",
		Description: "List directory contents without shell commands. Supports recursion, depth " +
			"limit, and entry limit.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory path relative to workspace root (default: .)"},
				"recursive": {"type": "boolean", "description": "If true, walk subdirectories recursively"},
				"max_depth": {"type": "integer", "minimum": 0, "description": "Max depth when recursive=true (0 means only the target directory)"},
				"limit": {"type": "integer", "minimum": 1, "description": "Max number of entries to return (default: 200)"},
				"files_only": {"type": "boolean", "description": "If true, only include files"},
				"dirs_only": {"type": "boolean", "description": "If true, only include directories"}
			}
		}`),
	}
}

func (t *FsListTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
		MaxDepth  *int   `json:"max_depth"`
		Limit     *int   `json:"limit"`
		FilesOnly bool   `json:"files_only"`
		DirsOnly  bool   `json:"dirs_only"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if input.Path == "" {
		input.Path = "."
	}
	maxDepth := 3
	if input.MaxDepth != nil {
		maxDepth = *input.MaxDepth
	}
	limit := 200
	if input.Limit != nil {
		limit = *input.Limit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 2000 {
		limit = 2000
	}
	if input.FilesOnly && input.DirsOnly {
		return CallOutput{}, InvalidInput("files_only and dirs_only cannot both be true")
	}

	full := joinPath(cwd, input.Path)
	if err := checkPath(pol, full); err != nil {
		return CallOutput{}, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return CallOutput{}, ExecutionError(fmt.Sprintf("directory does not exist: %s", full))
	}
	if !info.IsDir() {
		return CallOutput{}, ExecutionError(fmt.Sprintf("path is not a directory: %s", full))
	}

	type frame struct {
		dir   string
		depth int
	}
	entries := make([]map[string]interface{}, 0)
	stack := []frame{{full, 0}}
	truncated := false

	for len(stack) > 0 && !truncated {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		items, err := os.ReadDir(current.dir)
		if err != nil {
			return CallOutput{}, ExecutionError(err.Error())
		}

		for _, item := range items {
			itemPath := filepath.Join(current.dir, item.Name())
			meta, err := item.Info()
			if err != nil {
				return CallOutput{}, ExecutionError(err.Error())
			}
			isDir := meta.IsDir()
			isFile := meta.Mode().IsRegular()

			if (input.FilesOnly && !isFile) || (input.DirsOnly && !isDir) {
				if input.Recursive && isDir && current.depth < maxDepth {
					stack = append(stack, frame{itemPath, current.depth + 1})
				}
				continue
			}

			rel, err := filepath.Rel(cwd, itemPath)
			if err != nil {
				rel = itemPath
			}
			entries = append(entries, map[string]interface{}{
				"name":          item.Name(),
				"path":          filepath.ToSlash(rel),
				"is_dir":        isDir,
				"is_file":       isFile,
				"size":          meta.Size(),
				"modified_unix": meta.ModTime().Unix(),
				"depth":         current.depth,
			})

			if len(entries) >= limit {
				truncated = true
				break
			}

			if input.Recursive && isDir && current.depth < maxDepth {
				stack = append(stack, frame{itemPath, current.depth + 1})
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i]["path"].(string) < entries[j]["path"].(string)
	})

	return CallOutput{
		OK: true,
		Data: map[string]interface{}{
			"path":      full,
			"recursive": input.Recursive,
			"max_depth": maxDepth,
			"limit":     limit,
			"count":     len(entries),
			"truncated": truncated,
			"entries":   entries,
		},
	}, nil
}

// joinPath resolves a tool path argument against the working directory.
// Absolute paths pass through untouched; the policy engine decides whether
// they are admissible.
func joinPath(cwd, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(cwd, path)
}
