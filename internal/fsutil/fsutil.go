// Package fsutil provides filesystem helpers shared by the worktree manager
// and the tool surface.
package fsutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes data to path atomically, creating parent directories
// as needed. Readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := renameio.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// FilesEqual reports whether two files have identical content. A missing
// destination compares unequal.
func FilesEqual(a, b string) (bool, error) {
	if _, err := os.Stat(b); os.IsNotExist(err) {
		return false, nil
	}
	aInfo, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bInfo, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if aInfo.Size() != bInfo.Size() {
		return false, nil
	}

	aBytes, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bBytes, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aBytes, bBytes), nil
}

// CopyTree copies regular files from srcRoot to dstRoot, skipping any entry
// whose name matches skipNames at any depth. When diffOnly is true only files
// whose content differs from the destination are copied. Returns the number
// of files copied.
func CopyTree(srcRoot, dstRoot string, skipNames []string, diffOnly bool) (int, error) {
	copied := 0
	err := copyTreeInner(srcRoot, dstRoot, skipNames, diffOnly, &copied)
	return copied, err
}

func copyTreeInner(src, dst string, skipNames []string, diffOnly bool, copied *int) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if shouldSkip(entry.Name(), skipNames) {
			continue
		}

		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if entry.IsDir() {
			if err := os.MkdirAll(dstPath, 0o750); err != nil {
				return err
			}
			if err := copyTreeInner(srcPath, dstPath, skipNames, diffOnly, copied); err != nil {
				return err
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}

		needsCopy := true
		if diffOnly {
			equal, err := FilesEqual(srcPath, dstPath)
			if err != nil {
				return err
			}
			needsCopy = !equal
		}
		if !needsCopy {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
			return err
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
		*copied++
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}

func shouldSkip(name string, skipNames []string) bool {
	for _, skip := range skipNames {
		if name == skip {
			return true
		}
	}
	return false
}
