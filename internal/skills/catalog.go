// Package skills manages the workspace skills catalog: reusable capability
// notes that are injected into worker context and managed through the
// skills.* tools.
package skills

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/fsutil"
)

// Skill is one catalog entry.
type Skill struct {
	ID             string   `yaml:"id" json:"id"`
	Title          string   `yaml:"title" json:"title"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	InstallCommand string   `yaml:"install_command,omitempty" json:"install_command,omitempty"`
	URL            string   `yaml:"url,omitempty" json:"url,omitempty"`
	Source         string   `yaml:"source,omitempty" json:"source,omitempty"`
	Tags           []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// NewSkill carries the fields for adding a custom skill. ID is optional.
type NewSkill struct {
	ID             string
	Title          string
	Description    string
	InstallCommand string
	URL            string
	Source         string
	Tags           []string
}

// Catalog is the YAML-backed skill catalog. Safe for concurrent use.
type Catalog struct {
	mu     sync.Mutex
	path   string
	skills []Skill
}

type catalogFile struct {
	Skills []Skill `yaml:"skills"`
}

// NewCatalog creates a catalog backed by path and loads it if present.
func NewCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the catalog file location.
func (c *Catalog) Path() string {
	return c.path
}

// Reload re-reads the catalog file. A missing file yields an empty catalog.
func (c *Catalog) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		c.skills = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading skills catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing skills catalog: %w", err)
	}
	c.skills = file.Skills
	return nil
}

// List returns a snapshot of all skills.
func (c *Catalog) List() []Skill {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Skill, len(c.skills))
	copy(out, c.skills)
	return out
}

// Add inserts a skill, replacing any existing entry with the same id.
func (c *Catalog) Add(input NewSkill) (Skill, error) {
	if input.Title == "" {
		return Skill{}, core.ErrValidation("SKILL_TITLE_REQUIRED", "skill title required")
	}

	skill := Skill{
		ID:             input.ID,
		Title:          input.Title,
		Description:    input.Description,
		InstallCommand: input.InstallCommand,
		URL:            input.URL,
		Source:         input.Source,
		Tags:           input.Tags,
	}
	if skill.ID == "" {
		skill.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	replaced := false
	for i := range c.skills {
		if c.skills[i].ID == skill.ID {
			c.skills[i] = skill
			replaced = true
			break
		}
	}
	if !replaced {
		c.skills = append(c.skills, skill)
	}

	if err := c.saveLocked(); err != nil {
		return Skill{}, err
	}
	return skill, nil
}

// Remove deletes a skill by id.
func (c *Catalog) Remove(id string) (Skill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.skills {
		if c.skills[i].ID == id {
			removed := c.skills[i]
			c.skills = append(c.skills[:i], c.skills[i+1:]...)
			if err := c.saveLocked(); err != nil {
				return Skill{}, err
			}
			return removed, nil
		}
	}
	return Skill{}, core.ErrNotFound("skill", id).WithDetail("code", core.CodeSkillNotFound)
}

func (c *Catalog) saveLocked() error {
	data, err := yaml.Marshal(catalogFile{Skills: c.skills})
	if err != nil {
		return fmt.Errorf("marshaling skills catalog: %w", err)
	}
	return fsutil.WriteFileAtomic(c.path, data, 0o640)
}
