package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "file.json")
	require.NoError(t, WriteFileAtomic(path, []byte(`{"ok":true}`), 0o640))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestFilesEqual(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	c := filepath.Join(dir, "c.txt")

	require.NoError(t, os.WriteFile(a, []byte("same"), 0o640))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o640))
	require.NoError(t, os.WriteFile(c, []byte("diff"), 0o640))

	equal, err := FilesEqual(a, b)
	require.NoError(t, err)
	assert.True(t, equal)

	equal, err = FilesEqual(a, c)
	require.NoError(t, err)
	assert.False(t, equal)

	equal, err = FilesEqual(a, filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.False(t, equal)
}

func TestCopyTreeSkipsAndCounts(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "HEAD"), []byte("ref"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "inner.txt"), []byte("inner"), 0o640))

	copied, err := CopyTree(src, dst, []string{".git"}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, copied)

	assert.FileExists(t, filepath.Join(dst, "top.txt"))
	assert.FileExists(t, filepath.Join(dst, "sub", "inner.txt"))
	assert.NoDirExists(t, filepath.Join(dst, ".git"))
}

func TestCopyTreeDiffOnly(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(src, "same.txt"), []byte("same"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "same.txt"), []byte("same"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(src, "changed.txt"), []byte("new"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "changed.txt"), []byte("old"), 0o640))

	copied, err := CopyTree(src, dst, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, copied)

	data, err := os.ReadFile(filepath.Join(dst, "changed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
