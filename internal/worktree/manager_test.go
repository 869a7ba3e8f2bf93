package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrix-dev/orchestrix/internal/logging"
)

// initRepo creates a git repository with one commit.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	runGitCmd(t, dir, "init", "-b", "main")
	runGitCmd(t, dir, "config", "user.name", "Test")
	runGitCmd(t, dir, "config", "user.email", "test@local")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o640))
	runGitCmd(t, dir, "add", "-A")
	runGitCmd(t, dir, "commit", "-m", "initial")

	return dir
}

func runGitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

func TestBranchNameFormat(t *testing.T) {
	name := BranchName("abcdef12-3456-7890-abcd-ef1234567890", "01234567-abcd-0000-0000-000000000000")
	assert.Equal(t, "orchestrix/abcdef12/01234567", name)
}

func TestBranchNameShortIDs(t *testing.T) {
	assert.Equal(t, "orchestrix/run/agent", BranchName("run", "agent"))
}

func TestCreateGitWorktree(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	info, err := manager.Create(ctx, workspace, "run-1234-5678", "agent-aaaa-bbbb")
	require.NoError(t, err)

	assert.Equal(t, StrategyGitWorktree, info.Strategy)
	assert.Equal(t, "orchestrix/run-1234/agent-aa", info.Branch)
	assert.NotEmpty(t, info.BaseRef)
	assert.DirExists(t, info.Path)
	assert.Contains(t, info.Path, filepath.Join(".orchestrix", "worktrees", "run-1234-5678"))
}

func TestCreateTwiceReturnsExisting(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	first, err := manager.Create(ctx, workspace, "run-1", "agent-1")
	require.NoError(t, err)

	second, err := manager.Create(ctx, workspace, "run-1", "agent-1")
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, StrategyGitWorktree, second.Strategy)
}

func TestBranchPerAgentIsolation(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	agents := []string{"agent-aa", "agent-bb", "agent-cc"}
	paths := make(map[string]bool)
	branches := make(map[string]bool)

	for _, agent := range agents {
		info, err := manager.Create(ctx, workspace, "run-r1", agent)
		require.NoError(t, err)
		require.Equal(t, StrategyGitWorktree, info.Strategy)
		paths[info.Path] = true
		branches[info.Branch] = true
		assert.True(t, strings.HasPrefix(info.Branch, "orchestrix/run-r1/"))
	}

	assert.Len(t, paths, 3)
	assert.Len(t, branches, 3)

	listing, err := ListGitWorktrees(ctx, workspace)
	require.NoError(t, err)
	listed := make(map[string]bool)
	for _, entry := range listing {
		listed[entry.Path] = true
	}
	for path := range paths {
		resolved, err := filepath.EvalSymlinks(path)
		require.NoError(t, err)
		found := false
		for listedPath := range listed {
			listedResolved, _ := filepath.EvalSymlinks(listedPath)
			if listedResolved == resolved {
				found = true
				break
			}
		}
		assert.True(t, found, "worktree %s not in git listing", path)
	}
}

func TestMergeFastForward(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	info, err := manager.Create(ctx, workspace, "run-1", "agent-a")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "agent-output.txt"),
		[]byte("Hello from agent\n"), 0o640))

	result, err := manager.Merge(ctx, workspace, "agent-a")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, MergeFastForward, result.Strategy)
	assert.Empty(t, result.ConflictedFiles)
	assert.FileExists(t, filepath.Join(workspace, "agent-output.txt"))
}

func TestMergeConflictAborted(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	infoA, err := manager.Create(ctx, workspace, "run-1", "agent-a")
	require.NoError(t, err)
	infoB, err := manager.Create(ctx, workspace, "run-1", "agent-b")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(infoA.Path, "shared.txt"), []byte("from A\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(infoB.Path, "shared.txt"), []byte("from B\n"), 0o640))

	resultA, err := manager.Merge(ctx, workspace, "agent-a")
	require.NoError(t, err)
	require.True(t, resultA.Success)

	resultB, err := manager.Merge(ctx, workspace, "agent-b")
	require.NoError(t, err)

	assert.False(t, resultB.Success)
	assert.Equal(t, MergeConflict, resultB.Strategy)
	assert.Contains(t, resultB.ConflictedFiles, "shared.txt")

	// The workspace index is clean after the abort: nothing staged, no merge
	// in progress.
	staged := runGitCmd(t, workspace, "diff", "--cached", "--name-only")
	assert.Empty(t, strings.TrimSpace(staged))
	assert.NoFileExists(t, filepath.Join(workspace, ".git", "MERGE_HEAD"))
}

func TestMergeSkippedWhenNoCommits(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	_, err := manager.Create(ctx, workspace, "run-1", "agent-a")
	require.NoError(t, err)

	result, err := manager.Merge(ctx, workspace, "agent-a")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, MergeSkipped, result.Strategy)
}

func TestMergeUnknownAgentFails(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())

	_, err := manager.Merge(context.Background(), workspace, "ghost")
	assert.Error(t, err)
}

func TestRemoveWorktreeIdempotent(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	info, err := manager.Create(ctx, workspace, "run-1", "agent-a")
	require.NoError(t, err)

	require.NoError(t, manager.Remove(ctx, workspace, "agent-a"))
	assert.NoDirExists(t, info.Path)

	branches := runGitCmd(t, workspace, "branch", "--list", "orchestrix/*")
	assert.Empty(t, strings.TrimSpace(branches))

	// Second call is a no-op.
	assert.NoError(t, manager.Remove(ctx, workspace, "agent-a"))
}

func TestCleanupRun(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	_, err := manager.Create(ctx, workspace, "run-xyz", "agent-a")
	require.NoError(t, err)
	_, err = manager.Create(ctx, workspace, "run-xyz", "agent-b")
	require.NoError(t, err)
	other, err := manager.Create(ctx, workspace, "run-other", "agent-c")
	require.NoError(t, err)

	cleaned, err := manager.CleanupRun(ctx, workspace, "run-xyz")
	require.NoError(t, err)
	assert.Len(t, cleaned, 2)

	assert.Empty(t, manager.ListForRun("run-xyz"))
	assert.NoDirExists(t, filepath.Join(workspace, ".orchestrix", "worktrees", "run-xyz"))

	branches := runGitCmd(t, workspace, "branch", "--list", "orchestrix/run-xyz/*")
	assert.Empty(t, strings.TrimSpace(branches))

	// The other run is untouched.
	assert.DirExists(t, other.Path)
}

func TestPruneStale(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	// An orphaned branch in the engine namespace with no active entry.
	runGitCmd(t, workspace, "branch", "orchestrix/dead/beef")

	pruned, err := manager.PruneStale(ctx, workspace)
	require.NoError(t, err)
	assert.Contains(t, pruned, "orchestrix/dead/beef")

	branches := runGitCmd(t, workspace, "branch", "--list", "orchestrix/*")
	assert.Empty(t, strings.TrimSpace(branches))
}

func TestPruneStaleKeepsActiveBranches(t *testing.T) {
	workspace := initRepo(t)
	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	info, err := manager.Create(ctx, workspace, "run-1", "agent-a")
	require.NoError(t, err)

	pruned, err := manager.PruneStale(ctx, workspace)
	require.NoError(t, err)
	assert.NotContains(t, pruned, info.Branch)

	branches := runGitCmd(t, workspace, "branch", "--list", "orchestrix/*")
	assert.Contains(t, branches, info.Branch)
}

func TestIsolatedDirFallback(t *testing.T) {
	workspace := t.TempDir() // no .git
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "project.txt"), []byte("content\n"), 0o640))

	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	info, err := manager.Create(ctx, workspace, "run-1", "agent-a")
	require.NoError(t, err)

	assert.Equal(t, StrategyIsolatedDir, info.Strategy)
	assert.Empty(t, info.Branch)
	assert.FileExists(t, filepath.Join(info.Path, "project.txt"))
}

func TestIsolatedDirMergeZeroCopyWhenUnchanged(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "project.txt"), []byte("content\n"), 0o640))

	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	_, err := manager.Create(ctx, workspace, "run-1", "agent-a")
	require.NoError(t, err)

	result, err := manager.Merge(ctx, workspace, "agent-a")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, MergeNoBranch, result.Strategy)
	assert.Contains(t, result.Message, "0 file(s)")
}

func TestIsolatedDirMergeCopiesChanges(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "project.txt"), []byte("content\n"), 0o640))

	manager := NewManager(logging.NewNop())
	ctx := context.Background()

	info, err := manager.Create(ctx, workspace, "run-1", "agent-a")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "result.txt"), []byte("done\n"), 0o640))

	result, err := manager.Merge(ctx, workspace, "agent-a")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.FileExists(t, filepath.Join(workspace, "result.txt"))
}
