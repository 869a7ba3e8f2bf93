package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyPatch(t *testing.T) {
	hunks, err := Parse("*** Begin Patch\n*** End Patch")
	require.NoError(t, err)
	assert.Empty(t, hunks)
}

func TestParseAddFile(t *testing.T) {
	hunks, err := Parse("*** Begin Patch\n*** Add File: hello.txt\n+hello world\n*** End Patch")
	require.NoError(t, err)
	require.Len(t, hunks, 1)

	assert.Equal(t, AddFile, hunks[0].Kind)
	assert.Equal(t, "hello.txt", hunks[0].Path)
	assert.Equal(t, "hello world\n", hunks[0].Contents)
}

func TestParseDeleteFile(t *testing.T) {
	hunks, err := Parse("*** Begin Patch\n*** Delete File: old.txt\n*** End Patch")
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.Equal(t, DeleteFile, hunks[0].Kind)
	assert.Equal(t, "old.txt", hunks[0].Path)
}

func TestParseUpdateWithContext(t *testing.T) {
	hunks, err := Parse("*** Begin Patch\n" +
		"*** Update File: file.py\n" +
		"@@ def greet():\n" +
		"-    print(\"hi\")\n" +
		"+    print(\"hello\")\n" +
		"*** End Patch")
	require.NoError(t, err)
	require.Len(t, hunks, 1)

	chunks := hunks[0].Chunks
	require.Len(t, chunks, 1)
	assert.Equal(t, "def greet():", chunks[0].ChangeContext)
	assert.Equal(t, []string{`    print("hi")`}, chunks[0].OldLines)
	assert.Equal(t, []string{`    print("hello")`}, chunks[0].NewLines)
}

func TestParseUpdateWithMove(t *testing.T) {
	hunks, err := Parse("*** Begin Patch\n" +
		"*** Update File: src/old.go\n" +
		"*** Move to: src/new.go\n" +
		"@@\n" +
		"-old\n" +
		"+new\n" +
		"*** End Patch")
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.Equal(t, "src/old.go", hunks[0].Path)
	assert.Equal(t, "src/new.go", hunks[0].MovePath)
}

func TestParseMultiChunkUpdate(t *testing.T) {
	hunks, err := Parse("*** Begin Patch\n" +
		"*** Update File: file.txt\n" +
		"@@\n" +
		" foo\n" +
		"-bar\n" +
		"+BAR\n" +
		"@@\n" +
		" baz\n" +
		"-qux\n" +
		"+QUX\n" +
		"*** End Patch")
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.Len(t, hunks[0].Chunks, 2)
}

func TestParseEOFMarker(t *testing.T) {
	hunks, err := Parse("*** Begin Patch\n" +
		"*** Update File: file.txt\n" +
		"@@\n" +
		"+new line\n" +
		"*** End of File\n" +
		"*** End Patch")
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.True(t, hunks[0].Chunks[0].EndOfFile)
}

func TestParseHeredocWrapper(t *testing.T) {
	hunks, err := Parse("<<'EOF'\n" +
		"*** Begin Patch\n" +
		"*** Add File: test.txt\n" +
		"+content\n" +
		"*** End Patch\n" +
		"EOF\n")
	require.NoError(t, err)
	assert.Len(t, hunks, 1)
}

func TestParseBadFirstLine(t *testing.T) {
	_, err := Parse("bad\n*** End Patch")
	assert.Error(t, err)
}

func TestParseEmptyUpdateHunk(t *testing.T) {
	_, err := Parse("*** Begin Patch\n*** Update File: test.py\n*** End Patch")
	assert.Error(t, err)
}

func TestParseImplicitContextFirstChunk(t *testing.T) {
	// The first chunk may omit the @@ marker.
	hunks, err := Parse("*** Begin Patch\n" +
		"*** Update File: file.py\n" +
		" import foo\n" +
		"+import bar\n" +
		"*** End Patch")
	require.NoError(t, err)
	require.Len(t, hunks, 1)

	chunks := hunks[0].Chunks
	require.Len(t, chunks, 1)
	assert.False(t, chunks[0].HasContext)
	assert.Equal(t, []string{"import foo"}, chunks[0].OldLines)
	assert.Equal(t, []string{"import foo", "import bar"}, chunks[0].NewLines)
}

func TestParsePreservesHunkSetAcrossOperations(t *testing.T) {
	patchText := "*** Begin Patch\n" +
		"*** Add File: a.txt\n" +
		"+alpha\n" +
		"*** Update File: b.txt\n" +
		"@@\n" +
		"-old\n" +
		"+new\n" +
		"*** Delete File: c.txt\n" +
		"*** End Patch"

	hunks, err := Parse(patchText)
	require.NoError(t, err)
	require.Len(t, hunks, 3)
	assert.Equal(t, AddFile, hunks[0].Kind)
	assert.Equal(t, "a.txt", hunks[0].Path)
	assert.Equal(t, UpdateFile, hunks[1].Kind)
	assert.Equal(t, "b.txt", hunks[1].Path)
	assert.Equal(t, DeleteFile, hunks[2].Kind)
	assert.Equal(t, "c.txt", hunks[2].Path)
}

func TestApplyChunksReplacesInPlace(t *testing.T) {
	original := "foo\nbar\nbaz\n"
	chunks := []UpdateChunk{{
		OldLines: []string{"bar"},
		NewLines: []string{"BAR"},
	}}

	updated, err := ApplyChunks(original, "file.txt", chunks)
	require.NoError(t, err)
	assert.Equal(t, "foo\nBAR\nbaz\n", updated)
}

func TestApplyChunksContextAdvancesCursor(t *testing.T) {
	original := "mod a\n  x = 1\nmod b\n  x = 1\n"
	chunks := []UpdateChunk{{
		ChangeContext: "mod b",
		HasContext:    true,
		OldLines:      []string{"  x = 1"},
		NewLines:      []string{"  x = 2"},
	}}

	updated, err := ApplyChunks(original, "file.txt", chunks)
	require.NoError(t, err)
	assert.Equal(t, "mod a\n  x = 1\nmod b\n  x = 2\n", updated)
}

func TestApplyChunksMissingContextFails(t *testing.T) {
	_, err := ApplyChunks("line\n", "file.txt", []UpdateChunk{{
		ChangeContext: "nope",
		HasContext:    true,
		OldLines:      []string{"line"},
		NewLines:      []string{"other"},
	}})
	assert.Error(t, err)
}

func TestApplyChunksTrailingBlankLeniency(t *testing.T) {
	// The pattern carries a trailing blank line the file lacks; the seek
	// retries without it.
	original := "alpha\nomega"
	chunks := []UpdateChunk{{
		OldLines: []string{"omega", ""},
		NewLines: []string{"OMEGA", ""},
	}}

	updated, err := ApplyChunks(original, "file.txt", chunks)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nOMEGA\n", updated)
}

func TestApplyChunksMultipleAppliedInOrder(t *testing.T) {
	original := "one\ntwo\nthree\nfour\n"
	chunks := []UpdateChunk{
		{OldLines: []string{"two"}, NewLines: []string{"TWO"}},
		{OldLines: []string{"four"}, NewLines: []string{"FOUR", "FIVE"}},
	}

	updated, err := ApplyChunks(original, "file.txt", chunks)
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree\nFOUR\nFIVE\n", updated)
}

func TestApplyChunksPureAdditionAppends(t *testing.T) {
	original := "first\n"
	chunks := []UpdateChunk{{NewLines: []string{"second"}}}

	updated, err := ApplyChunks(original, "file.txt", chunks)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", updated)
}

func TestApplyChunksRestoresTerminalNewline(t *testing.T) {
	updated, err := ApplyChunks("no newline", "file.txt", []UpdateChunk{{
		OldLines: []string{"no newline"},
		NewLines: []string{"still no newline"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "still no newline\n", updated)
}
