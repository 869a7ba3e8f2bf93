package tools

import (
	"encoding/json"
	"strings"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
	"github.com/orchestrix-dev/orchestrix/internal/skills"
)

// SkillsListTool lists the skill catalog.
type SkillsListTool struct {
	Catalog *skills.Catalog
}

func (t *SkillsListTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "skills.list",
		Description: "List all available skills (builtin + custom + imported).",
		InputSchema: schema(`{"type": "object"}`),
	}
}

func (t *SkillsListTool) Invoke(_ *policy.Engine, _ string, _ json.RawMessage) (CallOutput, error) {
	list := []skills.Skill{}
	if t.Catalog != nil {
		list = t.Catalog.List()
	}
	return CallOutput{
		OK:   true,
		Data: map[string]interface{}{"skills": list},
	}, nil
}

// SkillsLoadTool adds a skill to the local catalog.
type SkillsLoadTool struct {
	Catalog *skills.Catalog
}

func (t *SkillsLoadTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "skills.load",
		Description: "Load/import a skill into the local custom catalog. First call skills.list " +
			"to see available skills. Custom skills require title, install_command, and url.",
		InputSchema: schema(`{
			"type": "object",
			"required": ["title", "install_command", "url"],
			"properties": {
				"id": {"type": "string", "description": "Optional custom ID"},
				"title": {"type": "string", "description": "Skill title"},
				"description": {"type": "string", "description": "Skill description"},
				"install_command": {"type": "string", "description": "How to install the skill."},
				"url": {"type": "string", "description": "URL for the skill."},
				"source": {"type": "string", "description": "Optional source label"},
				"tags": {"type": "array", "items": {"type": "string"}, "description": "Optional tags"}
			}
		}`),
	}
}

func (t *SkillsLoadTool) Invoke(_ *policy.Engine, _ string, args json.RawMessage) (CallOutput, error) {
	if t.Catalog == nil {
		return CallOutput{}, ExecutionError("skills catalog unavailable")
	}

	var input struct {
		ID             string   `json:"id"`
		Title          string   `json:"title"`
		Description    string   `json:"description"`
		InstallCommand string   `json:"install_command"`
		URL            string   `json:"url"`
		Source         string   `json:"source"`
		Tags           []string `json:"tags"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if strings.TrimSpace(input.Title) == "" {
		return CallOutput{}, InvalidInput("title is required")
	}
	if strings.TrimSpace(input.InstallCommand) == "" {
		return CallOutput{}, InvalidInput("install_command is required")
	}
	if strings.TrimSpace(input.URL) == "" {
		return CallOutput{}, InvalidInput("url is required")
	}

	loaded, err := t.Catalog.Add(skills.NewSkill{
		ID:             input.ID,
		Title:          input.Title,
		Description:    input.Description,
		InstallCommand: input.InstallCommand,
		URL:            input.URL,
		Source:         input.Source,
		Tags:           input.Tags,
	})
	if err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}

	return CallOutput{
		OK:   true,
		Data: map[string]interface{}{"skill": loaded},
	}, nil
}

// SkillsRemoveTool removes a custom skill from the catalog.
type SkillsRemoveTool struct {
	Catalog *skills.Catalog
}

func (t *SkillsRemoveTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "skills.remove",
		Description: "Remove a custom skill from the local catalog.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"skill_id": {"type": "string", "description": "ID of the skill to remove"}
			},
			"required": ["skill_id"]
		}`),
	}
}

func (t *SkillsRemoveTool) Invoke(_ *policy.Engine, _ string, args json.RawMessage) (CallOutput, error) {
	if t.Catalog == nil {
		return CallOutput{}, ExecutionError("skills catalog unavailable")
	}

	var input struct {
		SkillID string `json:"skill_id"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if input.SkillID == "" {
		return CallOutput{}, InvalidInput("skill_id is required")
	}

	removed, err := t.Catalog.Remove(input.SkillID)
	if err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}

	return CallOutput{
		OK:   true,
		Data: map[string]interface{}{"removed": removed},
	}, nil
}
