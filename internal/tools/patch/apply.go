package patch

import (
	"fmt"
	"sort"
	"strings"
)

// replacement is one located edit: replace oldLen lines at start with newLines.
type replacement struct {
	start    int
	oldLen   int
	newLines []string
}

// ApplyChunks applies update chunks to file contents and returns the new
// content. The file path is only used in error messages.
func ApplyChunks(original, path string, chunks []UpdateChunk) (string, error) {
	lines := strings.Split(original, "\n")

	// Drop the trailing empty element produced by a final newline.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	replacements, err := computeReplacements(lines, path, chunks)
	if err != nil {
		return "", err
	}
	newLines := applyReplacements(lines, replacements)

	// Writing always restores a terminal newline.
	if len(newLines) == 0 || newLines[len(newLines)-1] != "" {
		newLines = append(newLines, "")
	}
	return strings.Join(newLines, "\n"), nil
}

func computeReplacements(originalLines []string, path string, chunks []UpdateChunk) ([]replacement, error) {
	replacements := make([]replacement, 0, len(chunks))
	cursor := 0

	for _, chunk := range chunks {
		// A change-context line advances the cursor past its match.
		if chunk.HasContext && chunk.ChangeContext != "" {
			idx := seekSequence(originalLines, []string{chunk.ChangeContext}, cursor, false)
			if idx < 0 {
				return nil, fmt.Errorf("failed to find context '%s' in %s. The @@ context line "+
					"must match actual file content. Use fs.read to verify, or use @@ alone "+
					"(no context text)", chunk.ChangeContext, path)
			}
			cursor = idx + 1
		}

		if len(chunk.OldLines) == 0 {
			// Pure addition at end of file.
			insertionIdx := len(originalLines)
			if insertionIdx > 0 && originalLines[insertionIdx-1] == "" {
				insertionIdx--
			}
			replacements = append(replacements, replacement{insertionIdx, 0, chunk.NewLines})
			continue
		}

		pattern := chunk.OldLines
		newSlice := chunk.NewLines
		found := seekSequence(originalLines, pattern, cursor, chunk.EndOfFile)

		// Retry without the trailing empty line (represents a final newline
		// LLMs often drop).
		if found < 0 && len(pattern) > 0 && pattern[len(pattern)-1] == "" {
			pattern = pattern[:len(pattern)-1]
			if len(newSlice) > 0 && newSlice[len(newSlice)-1] == "" {
				newSlice = newSlice[:len(newSlice)-1]
			}
			found = seekSequence(originalLines, pattern, cursor, chunk.EndOfFile)
		}

		if found < 0 {
			return nil, fmt.Errorf("failed to find expected lines in %s:\n%s",
				path, strings.Join(chunk.OldLines, "\n"))
		}

		replacements = append(replacements, replacement{found, len(pattern), newSlice})
		cursor = found + len(pattern)
	}

	sort.Slice(replacements, func(i, j int) bool {
		return replacements[i].start < replacements[j].start
	})
	return replacements, nil
}

// applyReplacements applies in reverse order to preserve indices.
func applyReplacements(lines []string, replacements []replacement) []string {
	for i := len(replacements) - 1; i >= 0; i-- {
		r := replacements[i]

		end := r.start + r.oldLen
		if end > len(lines) {
			end = len(lines)
		}

		updated := make([]string, 0, len(lines)-(end-r.start)+len(r.newLines))
		updated = append(updated, lines[:r.start]...)
		updated = append(updated, r.newLines...)
		updated = append(updated, lines[end:]...)
		lines = updated
	}
	return lines
}
