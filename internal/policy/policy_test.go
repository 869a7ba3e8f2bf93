package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatePathInsideWorkspace(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), []byte("x"), 0o640))

	engine := New(root)

	decision := engine.EvaluatePath(filepath.Join(root, "file.txt"))
	assert.Equal(t, Allow, decision.Kind)
}

func TestEvaluatePathNewFileUnderWorkspace(t *testing.T) {
	root := t.TempDir()
	engine := New(root)

	// The file does not exist yet; an existing ancestor inside the root
	// admits it.
	decision := engine.EvaluatePath(filepath.Join(root, "sub", "dir", "new.txt"))
	assert.Equal(t, Allow, decision.Kind)
}

func TestEvaluatePathOutsideWorkspaceNeedsApproval(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	engine := New(root)

	decision := engine.EvaluatePath(filepath.Join(outside, "escape.txt"))
	require.Equal(t, NeedsApproval, decision.Kind)
	assert.NotEmpty(t, decision.Scope)
	assert.Contains(t, decision.Reason, "path outside workspace")
}

func TestEvaluatePathInvalidRootDenied(t *testing.T) {
	engine := New(filepath.Join(t.TempDir(), "does-not-exist"))

	decision := engine.EvaluatePath("/anything")
	assert.Equal(t, Deny, decision.Kind)
	assert.Contains(t, decision.Reason, "workspace root invalid")
}

func TestApprovedScopeAdmitsSelfAndDescendants(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	engine := New(root)

	target := filepath.Join(outside, "data")
	require.Equal(t, NeedsApproval, engine.EvaluatePath(target).Kind)

	engine.AllowScope(target)

	assert.Equal(t, Allow, engine.EvaluatePath(target).Kind)
	assert.Equal(t, Allow, engine.EvaluatePath(filepath.Join(target, "nested", "file.txt")).Kind)

	// A sibling sharing the prefix without a path boundary stays gated.
	assert.Equal(t, NeedsApproval, engine.EvaluatePath(target+"-sibling").Kind)
}

func TestScopeSetSharedBetweenEngines(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	outside := t.TempDir()

	scopes := NewScopeSet()
	engineA := WithApprovedScopes(rootA, scopes)
	engineB := WithApprovedScopes(rootB, scopes)

	target := filepath.Join(outside, "shared")
	engineA.AllowScope(target)

	assert.Equal(t, Allow, engineB.EvaluatePath(target).Kind)
}

func TestEvaluateCommand(t *testing.T) {
	engine := New(t.TempDir())

	tests := []struct {
		name string
		cmd  string
		want DecisionKind
	}{
		{"plain allowed binary", "git", Allow},
		{"compound command", "mkdir -p foo/bar", Allow},
		{"path prefix stripped", "/usr/bin/git status", Allow},
		{"windows path stripped", `C:\tools\rg.exe pattern`, Allow},
		{"exe suffix stripped", "node.exe", Allow},
		{"go toolchain", "go test ./...", Allow},
		{"unknown binary", "nmap -sS target", Deny},
		{"empty command", "", Deny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.EvaluateCommand(tt.cmd).Kind)
		})
	}
}
