package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
	"github.com/orchestrix-dev/orchestrix/internal/skills"
)

// Registry holds all available tools and dispatches invocations by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry with all built-in tools registered.
func NewRegistry(catalog *skills.Catalog) *Registry {
	tools := map[string]Tool{
		// Filesystem tools
		"fs.read":  &FsReadTool{},
		"fs.write": &FsWriteTool{},
		"fs.list":  &FsListTool{},
		"fs.patch": &FsPatchTool{},

		// Search tools
		"search.rg":    &SearchRgTool{},
		"search.files": &SearchFilesTool{},

		// Command execution
		"cmd.exec": &CommandExecTool{},

		// Git tools
		"git.status":      &GitStatusTool{},
		"git.diff":        &GitDiffTool{},
		"git.apply_patch": &GitApplyPatchTool{},
		"git.commit":      &GitCommitTool{},
		"git.log":         &GitLogTool{},

		// Skills tools
		"skills.list":   &SkillsListTool{Catalog: catalog},
		"skills.load":   &SkillsLoadTool{Catalog: catalog},
		"skills.remove": &SkillsRemoveTool{Catalog: catalog},

		// Agent tools
		"agent.todo":               &AgentTodoTool{},
		"agent.complete":           &AgentCompleteTool{},
		"subagent.spawn":           &SubAgentSpawnTool{},
		"agent.request_build_mode": &RequestBuildModeTool{},
		"agent.request_plan_mode":  &RequestPlanModeTool{},
		"agent.create_artifact":    &CreateArtifactTool{},
	}
	return &Registry{tools: tools}
}

// List returns descriptors for every registered tool.
func (r *Registry) List() []Descriptor {
	descriptors := make([]Descriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		descriptors = append(descriptors, tool.Descriptor())
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})
	return descriptors
}

// planModeTools are the read-only and plan-specific tools exposed in PLAN
// mode.
var planModeTools = map[string]bool{
	"fs.read":                  true,
	"fs.list":                  true,
	"search.rg":                true,
	"search.files":             true,
	"git.status":               true,
	"git.diff":                 true,
	"git.log":                  true,
	"skills.list":              true,
	"skills.load":              true,
	"agent.todo":               true,
	"agent.create_artifact":    true,
	"agent.request_build_mode": true,
}

// ListForPlanMode returns the PLAN-mode tool view.
func (r *Registry) ListForPlanMode() []Descriptor {
	descriptors := r.List()
	filtered := descriptors[:0]
	for _, d := range descriptors {
		if planModeTools[d.Name] {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// ListForBuildMode returns the BUILD-mode tool view: everything except
// request_build_mode and create_artifact.
func (r *Registry) ListForBuildMode() []Descriptor {
	descriptors := r.List()
	filtered := descriptors[:0]
	for _, d := range descriptors {
		if d.Name == "agent.request_build_mode" || d.Name == "agent.create_artifact" {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered
}

// ToolReference renders a prompt-ready reference section for a descriptor
// list.
func ToolReference(descriptors []Descriptor) string {
	var out strings.Builder
	for _, tool := range descriptors {
		out.WriteString(fmt.Sprintf("### %s\n", tool.Name))
		out.WriteString(fmt.Sprintf("%s\n", tool.Description))
		schemaText, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schemaText = []byte("{}")
		}
		out.WriteString(fmt.Sprintf("Input schema: %s\n\n", schemaText))
	}
	return out.String()
}

// Invoke dispatches a tool call by name.
func (r *Registry) Invoke(pol *policy.Engine, cwd string, call CallInput) (CallOutput, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return CallOutput{}, InvalidInput(fmt.Sprintf("unknown tool: %s", call.Name))
	}
	return tool.Invoke(pol, cwd, call.Args)
}
