package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
)

// SearchFilesTool finds files by fuzzy name matching.
type SearchFilesTool struct{}

func (t *SearchFilesTool) Descriptor() Descriptor {
	return Descriptor{
		Name: "search.files",
		Description: "Fuzzy search for files by name in the workspace. Respects .gitignore. " +
			"Returns top matches ranked by relevance score. Use this to quickly find files when " +
			"you know part of the name.",
		InputSchema: schema(`{
			"type": "object",
			"properties": {
				"pattern": {
					"type": "string",
					"description": "Fuzzy search pattern (partial file name, e.g. 'main.go', 'component', 'config')"
				},
				"path": {
					"type": "string",
					"description": "Directory to search in (relative to workspace root, default: '.')"
				},
				"limit": {
					"type": "integer",
					"description": "Maximum number of results (default: 20, max: 100)"
				}
			},
			"required": ["pattern"]
		}`),
	}
}

func (t *SearchFilesTool) Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Limit   *int   `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return CallOutput{}, InvalidInput("invalid arguments: " + err.Error())
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return CallOutput{}, InvalidInput("pattern must not be empty")
	}
	if input.Path == "" {
		input.Path = "."
	}
	limit := 20
	if input.Limit != nil {
		limit = *input.Limit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	fullPath := joinPath(cwd, input.Path)
	if err := checkPath(pol, fullPath); err != nil {
		return CallOutput{}, err
	}

	info, err := os.Stat(fullPath)
	if err != nil || !info.IsDir() {
		return CallOutput{}, ExecutionError(fmt.Sprintf("search directory does not exist: %s", fullPath))
	}

	candidates, err := collectCandidates(cwd, fullPath)
	if err != nil {
		return CallOutput{}, ExecutionError(err.Error())
	}

	ranked := fuzzy.Find(input.Pattern, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Str < ranked[j].Str
	})

	total := len(ranked)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	matches := make([]map[string]interface{}, 0, len(ranked))
	for _, match := range ranked {
		matches = append(matches, map[string]interface{}{
			"path":  match.Str,
			"score": match.Score,
		})
	}

	return CallOutput{
		OK: true,
		Data: map[string]interface{}{
			"query":         input.Pattern,
			"total_matches": total,
			"shown":         len(matches),
			"truncated":     total > limit,
			"matches":       matches,
		},
	}, nil
}

// collectCandidates walks the tree collecting cwd-relative file paths,
// honoring root-level .gitignore entries and always skipping .git and
// .orchestrix.
func collectCandidates(cwd, root string) ([]string, error) {
	ignored := loadIgnorePatterns(root)

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable entries are skipped, not fatal.
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == ".orchestrix" {
				return filepath.SkipDir
			}
			if rel, relErr := filepath.Rel(root, path); relErr == nil && isIgnored(rel, ignored) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && isIgnored(rel, ignored) {
			return nil
		}
		cwdRel, relErr := filepath.Rel(cwd, path)
		if relErr != nil {
			cwdRel = path
		}
		files = append(files, filepath.ToSlash(cwdRel))
		return nil
	})
	return files, err
}

func loadIgnorePatterns(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, strings.Trim(line, "/"))
	}
	return patterns
}

func isIgnored(rel string, patterns []string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if rel == pattern || strings.HasPrefix(rel, pattern+"/") {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(rel)); matched {
			return true
		}
	}
	return false
}
