package skills

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorkspaceSkill is a markdown capability note found in the workspace.
type WorkspaceSkill struct {
	Name    string
	Path    string
	Summary string
}

// ScanWorkspace walks <workspace>/.orchestrix/skills/ for markdown notes.
// The first non-empty line (heading markers stripped) becomes the summary.
func ScanWorkspace(workspaceRoot string) []WorkspaceSkill {
	skillsDir := filepath.Join(workspaceRoot, ".orchestrix", "skills")
	entries, err := os.ReadDir(skillsDir)
	if err != nil {
		return nil
	}

	var found []WorkspaceSkill
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(skillsDir, entry.Name())
		found = append(found, WorkspaceSkill{
			Name:    strings.TrimSuffix(entry.Name(), ".md"),
			Path:    path,
			Summary: firstLine(path),
		})
	}
	return found
}

func firstLine(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimLeft(scanner.Text(), "# "))
		if line != "" {
			return line
		}
	}
	return ""
}

// BuildContext renders the skills context string injected into every worker's
// context. Empty input yields an empty string.
func BuildContext(workspaceSkills []WorkspaceSkill, catalog *Catalog) string {
	var sections []string

	if len(workspaceSkills) > 0 {
		var b strings.Builder
		b.WriteString("Workspace skills available:\n")
		for _, skill := range workspaceSkills {
			if skill.Summary != "" {
				b.WriteString(fmt.Sprintf("- %s: %s (%s)\n", skill.Name, skill.Summary, skill.Path))
			} else {
				b.WriteString(fmt.Sprintf("- %s (%s)\n", skill.Name, skill.Path))
			}
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if catalog != nil {
		if loaded := catalog.List(); len(loaded) > 0 {
			var b strings.Builder
			b.WriteString("Loaded skills:\n")
			for _, skill := range loaded {
				if skill.Description != "" {
					b.WriteString(fmt.Sprintf("- %s: %s\n", skill.Title, skill.Description))
				} else {
					b.WriteString(fmt.Sprintf("- %s\n", skill.Title))
				}
			}
			sections = append(sections, strings.TrimRight(b.String(), "\n"))
		}
	}

	return strings.Join(sections, "\n\n")
}
