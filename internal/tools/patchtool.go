package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
	"github.com/orchestrix-dev/orchestrix/internal/tools/patch"
)

// FsPatchTool applies structured patches to files.
type FsPatchTool struct{}

func (t *FsPatchTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "fs.patch",
		Description: "Apply a structured patch to add, delete, or update files. Uses a simple " +
			"LLM-friendly format with context-aware matching. Does not require git. Preferred " +
			"over fs.write for incremental edits.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"patch": {
					"type": "string",
					"description": "The patch text in apply-patch format. Envelope: *** Begin Patch\n[operations]\n*** End Patch. Operations: *** Add File: <path> (lines prefixed with +), *** Delete File: <path>, *** Update File: <path> with @@ context markers and +/- lines. CRITICAL: Text after @@ must MATCH actual file content (used to find the change location). Use @@ alone (no context) if uncertain, or use fs.read to verify file content first. Context lines (prefixed with space) provide additional matching context."
				}
			},
			"required": ["patch"]
		}`),
	}
}

func (t *FsPatchTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if input.Patch == "" {
		return CallOutput{}, InvalidInput("patch required")
	}

	hunks, err := patch.Parse(input.Patch)
	if err != nil {
		return CallOutput{}, InvalidInput(err.Error())
	}
	if len(hunks) == 0 {
		return CallOutput{}, InvalidInput("patch contains no operations")
	}

	// Check all paths against policy before making any changes.
	for _, hunk := range hunks {
		if err := checkPath(pol, joinPath(cwd, hunk.Path)); err != nil {
			return CallOutput{}, err
		}
		if hunk.MovePath != "" {
			if err := checkPath(pol, joinPath(cwd, hunk.MovePath)); err != nil {
				return CallOutput{}, err
			}
		}
	}

	var added, modified, deleted []string
	for _, hunk := range hunks {
		full := joinPath(cwd, hunk.Path)
		switch hunk.Kind {
		case patch.AddFile:
			if parent := filepath.Dir(full); parent != "" {
				if err := os.MkdirAll(parent, 0o750); err != nil {
					return CallOutput{}, ExecutionError(
						fmt.Sprintf("failed to create directories for %s: %v", hunk.Path, err))
				}
			}
			if err := os.WriteFile(full, []byte(hunk.Contents), 0o640); err != nil {
				return CallOutput{}, ExecutionError(fmt.Sprintf("failed to write %s: %v", hunk.Path, err))
			}
			added = append(added, hunk.Path)

		case patch.DeleteFile:
			if err := os.Remove(full); err != nil {
				return CallOutput{}, ExecutionError(fmt.Sprintf("failed to delete %s: %v", hunk.Path, err))
			}
			deleted = append(deleted, hunk.Path)

		case patch.UpdateFile:
			original, err := os.ReadFile(full)
			if err != nil {
				return CallOutput{}, ExecutionError(fmt.Sprintf("failed to read %s: %v", hunk.Path, err))
			}
			newContents, err := patch.ApplyChunks(string(original), hunk.Path, hunk.Chunks)
			if err != nil {
				return CallOutput{}, ExecutionError(err.Error())
			}

			if hunk.MovePath != "" {
				destFull := joinPath(cwd, hunk.MovePath)
				if parent := filepath.Dir(destFull); parent != "" {
					if err := os.MkdirAll(parent, 0o750); err != nil {
						return CallOutput{}, ExecutionError(
							fmt.Sprintf("failed to create directories for %s: %v", hunk.MovePath, err))
					}
				}
				if err := os.WriteFile(destFull, []byte(newContents), 0o640); err != nil {
					return CallOutput{}, ExecutionError(
						fmt.Sprintf("failed to write %s: %v", hunk.MovePath, err))
				}
				if err := os.Remove(full); err != nil {
					return CallOutput{}, ExecutionError(
						fmt.Sprintf("failed to remove original %s: %v", hunk.Path, err))
				}
				modified = append(modified, fmt.Sprintf("%s -> %s", hunk.Path, hunk.MovePath))
			} else {
				if err := os.WriteFile(full, []byte(newContents), 0o640); err != nil {
					return CallOutput{}, ExecutionError(fmt.Sprintf("failed to write %s: %v", hunk.Path, err))
				}
				modified = append(modified, hunk.Path)
			}
		}
	}

	return CallOutput{
		OK: true,
		Data: map[string]interface{}{
			"summary":  buildPatchSummary(added, modified, deleted),
			"added":    added,
			"modified": modified,
			"deleted":  deleted,
		},
	}, nil
}

func buildPatchSummary(added, modified, deleted []string) string {
	var parts []string
	if len(added) > 0 {
		parts = append(parts, "Added: "+strings.Join(added, ", "))
	}
	if len(modified) > 0 {
		parts = append(parts, "Modified: "+strings.Join(modified, ", "))
	}
	if len(deleted) > 0 {
		parts = append(parts, "Deleted: "+strings.Join(deleted, ", "))
	}
	if len(parts) == 0 {
		return "No changes applied"
	}
	return strings.Join(parts, "; ")
}
