package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// openTodosInLatestObservation inspects the most recent agent.todo
// observation and counts todos whose status is neither completed nor
// cancelled. Returns (count, true) when a todo observation exists.
func openTodosInLatestObservation(observations []map[string]interface{}) (int, bool) {
	for i := len(observations) - 1; i >= 0; i-- {
		obs := observations[i]
		if obs["tool_name"] != "agent.todo" {
			continue
		}
		output, ok := obs["output"].(map[string]interface{})
		if !ok {
			return 0, true
		}
		todos, ok := output["todos"].([]interface{})
		if !ok {
			return 0, true
		}

		open := 0
		for _, raw := range todos {
			item, ok := raw.(map[string]interface{})
			if !ok {
				open++
				continue
			}
			status, _ := item["status"].(string)
			if status != "completed" && status != "cancelled" {
				open++
			}
		}
		return open, true
	}
	return 0, false
}

// completionSummaryFromObservation extracts the summary from a successful
// agent.complete observation, or "" when the observation is anything else.
func completionSummaryFromObservation(obs map[string]interface{}) string {
	if obs["tool_name"] != "agent.complete" || obs["status"] != "succeeded" {
		return ""
	}
	output, ok := obs["output"].(map[string]interface{})
	if !ok {
		return ""
	}
	summary, _ := output["summary"].(string)
	return strings.TrimSpace(summary)
}

// promptReferencePattern matches @path tokens in task prompts.
var promptReferencePattern = regexp.MustCompile(`@([A-Za-z0-9_./\-]+)`)

// maxPromptReferenceBytes bounds how much of a referenced file is inlined.
const maxPromptReferenceBytes = 32 * 1024

// ExpandPromptReferences inlines @path/to/file tokens from the workspace into
// the prompt. Unresolvable references are left untouched.
func ExpandPromptReferences(prompt, workspaceRoot string) string {
	return promptReferencePattern.ReplaceAllStringFunc(prompt, func(match string) string {
		rel := strings.TrimPrefix(match, "@")
		full := filepath.Join(workspaceRoot, filepath.FromSlash(rel))

		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			return match
		}

		data, err := os.ReadFile(full)
		if err != nil {
			return match
		}
		if len(data) > maxPromptReferenceBytes {
			data = data[:maxPromptReferenceBytes]
		}
		return fmt.Sprintf("\n--- %s ---\n%s\n---\n", rel, string(data))
	})
}
