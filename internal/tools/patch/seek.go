package patch

// seekSequence finds pattern in lines at or after start and returns the match
// index, or -1. When eof is set the pattern is first sought at the very end
// of the file, falling back to a forward scan.
func seekSequence(lines, pattern []string, start int, eof bool) int {
	if len(pattern) == 0 {
		return start
	}

	if eof && len(lines) >= len(pattern) {
		tail := len(lines) - len(pattern)
		if tail >= start && matchesAt(lines, pattern, tail) {
			return tail
		}
	}

	for i := start; i+len(pattern) <= len(lines); i++ {
		if matchesAt(lines, pattern, i) {
			return i
		}
	}
	return -1
}

func matchesAt(lines, pattern []string, at int) bool {
	for offset, want := range pattern {
		if lines[at+offset] != want {
			return false
		}
	}
	return true
}
