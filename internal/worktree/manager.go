// Package worktree provides each sub-agent with an isolated, writable copy of
// the workspace and integrates its output back into the main tree.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/fsutil"
	"github.com/orchestrix-dev/orchestrix/internal/logging"
)

// Strategy identifies how a sub-agent workspace was created.
type Strategy string

const (
	// StrategyExisting reused a previously-created worktree (recovery).
	StrategyExisting Strategy = "existing"
	// StrategyGitWorktree was created via `git worktree add -b <branch>`.
	StrategyGitWorktree Strategy = "git-worktree"
	// StrategyIsolatedDir is the plain-directory fallback for non-git
	// workspaces.
	StrategyIsolatedDir Strategy = "isolated-dir"
)

// MergeStrategy identifies how a merge was performed.
type MergeStrategy string

const (
	MergeFastForward MergeStrategy = "fast-forward"
	MergeThreeWay    MergeStrategy = "three-way-merge"
	MergeConflict    MergeStrategy = "conflict"
	MergeNoBranch    MergeStrategy = "no-branch"
	MergeSkipped     MergeStrategy = "skipped"
)

// Info is the metadata for a single sub-agent worktree.
type Info struct {
	Path       string   `json:"path"`
	Branch     string   `json:"branch,omitempty"`
	Strategy   Strategy `json:"strategy"`
	RunID      string   `json:"run_id"`
	SubAgentID string   `json:"sub_agent_id"`
	BaseRef    string   `json:"base_ref,omitempty"`
}

// MergeResult is the outcome of merging a worktree back to the base branch.
type MergeResult struct {
	Success         bool          `json:"success"`
	Strategy        MergeStrategy `json:"strategy"`
	Message         string        `json:"message"`
	ConflictedFiles []string      `json:"conflicted_files"`
}

// snapshotSkipNames are never copied between the workspace and isolated
// worktrees.
var snapshotSkipNames = []string{".git", ".orchestrix"}

// Manager tracks all active worktrees. It is shared across sub-agent
// goroutines; the active map is the only mutable state and is mutex-guarded.
//
// Responsibilities:
//   - Create branch-per-agent worktrees so agents never conflict
//   - Track which worktrees are active (prevents double-create on recovery)
//   - Merge completed worktree branches back to the base branch
//   - Clean up stale worktrees
type Manager struct {
	mu     sync.Mutex
	active map[string]Info // keyed by sub_agent_id
	logger *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		active: make(map[string]Info),
		logger: logger,
	}
}

// ListActive returns a snapshot of all active worktrees.
func (m *Manager) ListActive() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]Info, 0, len(m.active))
	for _, info := range m.active {
		list = append(list, info)
	}
	return list
}

// ListForRun returns a snapshot of active worktrees for a specific run.
func (m *Manager) ListForRun(runID string) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]Info, 0)
	for _, info := range m.active {
		if info.RunID == runID {
			list = append(list, info)
		}
	}
	return list
}

// BranchName returns the deterministic branch for a run/sub-agent pair:
// orchestrix/<run_id[..8]>/<sub_agent_id[..8]>.
func BranchName(runID, subAgentID string) string {
	return fmt.Sprintf("orchestrix/%s/%s", shorten(runID), shorten(subAgentID))
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Create creates or reclaims a worktree for a sub-agent.
//
// Each sub-agent gets its own branch derived from HEAD so agents working in
// parallel never write to the same git index. Layout on disk:
//
//	<workspace>/.orchestrix/worktrees/<run_id>/<sub_agent_id>/
func (m *Manager) Create(ctx context.Context, workspaceRoot, runID, subAgentID string) (Info, error) {
	// Already tracked (recovery / restart).
	m.mu.Lock()
	if existing, ok := m.active[subAgentID]; ok {
		if _, err := os.Stat(existing.Path); err == nil {
			m.mu.Unlock()
			return existing, nil
		}
	}
	m.mu.Unlock()

	baseDir := filepath.Join(workspaceRoot, ".orchestrix", "worktrees", runID)
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return Info{}, fmt.Errorf("creating worktree base directory: %w", err)
	}

	target := filepath.Join(baseDir, subAgentID)

	// If the directory already exists on disk, reclaim it.
	if _, err := os.Stat(target); err == nil {
		info := Info{
			Path:       target,
			Branch:     m.detectBranch(ctx, workspaceRoot, subAgentID),
			Strategy:   StrategyExisting,
			RunID:      runID,
			SubAgentID: subAgentID,
			BaseRef:    resolveHead(ctx, workspaceRoot),
		}
		m.register(info)
		return info, nil
	}

	// Try git worktree with a dedicated branch.
	if _, err := os.Stat(filepath.Join(workspaceRoot, ".git")); err == nil {
		// Keep engine state out of commits and merges. info/exclude is
		// shared by every worktree of the repository.
		ensureOrchestrixExcluded(ctx, workspaceRoot)

		branch := BranchName(runID, subAgentID)
		baseRef := resolveHead(ctx, workspaceRoot)
		if baseRef == "" {
			baseRef = "HEAD"
		}

		err := m.createGitWorktree(ctx, workspaceRoot, target, branch, baseRef)
		if err == nil {
			info := Info{
				Path:       target,
				Branch:     branch,
				Strategy:   StrategyGitWorktree,
				RunID:      runID,
				SubAgentID: subAgentID,
				BaseRef:    baseRef,
			}
			m.register(info)
			return info, nil
		}
		m.logger.Warn("git worktree creation failed, falling back to isolated dir",
			"sub_agent_id", subAgentID, "error", err)
	}

	// Fallback: plain isolated directory. Copy a workspace snapshot so
	// non-git sub-agents can still read/modify project files in isolation.
	if err := os.MkdirAll(target, 0o750); err != nil {
		return Info{}, fmt.Errorf("creating isolated worktree: %w", err)
	}
	copied, err := fsutil.CopyTree(workspaceRoot, target, snapshotSkipNames, false)
	if err != nil {
		return Info{}, fmt.Errorf("snapshotting workspace: %w", err)
	}
	m.logger.Info("created isolated worktree snapshot",
		"sub_agent_id", subAgentID, "files", copied)

	info := Info{
		Path:       target,
		Strategy:   StrategyIsolatedDir,
		RunID:      runID,
		SubAgentID: subAgentID,
	}
	m.register(info)
	return info, nil
}

func (m *Manager) register(info Info) {
	m.mu.Lock()
	m.active[info.SubAgentID] = info
	m.mu.Unlock()
}

// ensureOrchestrixExcluded appends ".orchestrix/" to the repository's
// info/exclude file once.
func ensureOrchestrixExcluded(ctx context.Context, workspaceRoot string) {
	gitDir, err := runGit(ctx, workspaceRoot, "rev-parse", "--git-common-dir")
	if err != nil {
		return
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workspaceRoot, gitDir)
	}

	excludePath := filepath.Join(gitDir, "info", "exclude")
	existing, _ := os.ReadFile(excludePath)
	if strings.Contains(string(existing), ".orchestrix/") {
		return
	}
	if err := os.MkdirAll(filepath.Dir(excludePath), 0o750); err != nil {
		return
	}
	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += ".orchestrix/\n"
	_ = os.WriteFile(excludePath, []byte(content), 0o640)
}

func (m *Manager) createGitWorktree(ctx context.Context, workspaceRoot, target, branch, baseRef string) error {
	// Remove any stale branch from a previous run first.
	_, _ = runGit(ctx, workspaceRoot, "branch", "-D", branch)

	if _, err := runGit(ctx, workspaceRoot, "worktree", "add", "-b", branch, target, baseRef); err != nil {
		return core.ErrExecution(core.CodeGitFailed,
			fmt.Sprintf("git worktree add -b %s failed", branch)).WithCause(err)
	}
	return nil
}

// detectBranch finds the orchestrix/* branch containing the agent id fragment.
func (m *Manager) detectBranch(ctx context.Context, workspaceRoot, subAgentID string) string {
	fragment := shorten(subAgentID)
	for _, branch := range listBranchesByPrefix(ctx, workspaceRoot, "orchestrix/") {
		if strings.Contains(branch, fragment) {
			return branch
		}
	}
	return ""
}

// Merge commits outstanding changes in the worktree, then merges the
// sub-agent's branch back into the branch HEAD pointed to at creation time.
// Conflicts are reported and the merge is aborted so the main branch stays
// clean.
func (m *Manager) Merge(ctx context.Context, workspaceRoot, subAgentID string) (MergeResult, error) {
	m.mu.Lock()
	info, ok := m.active[subAgentID]
	m.mu.Unlock()
	if !ok {
		return MergeResult{}, core.ErrNotFound("worktree", subAgentID).
			WithDetail("code", core.CodeWorktreeNotFound)
	}

	if info.Branch == "" {
		synced, err := fsutil.CopyTree(info.Path, workspaceRoot, snapshotSkipNames, true)
		if err != nil {
			return MergeResult{}, fmt.Errorf("syncing isolated worktree: %w", err)
		}
		return MergeResult{
			Success:  true,
			Strategy: MergeNoBranch,
			Message:  fmt.Sprintf("non-git worktree synchronized %d file(s) to workspace", synced),
		}, nil
	}

	// 1. Auto-commit any outstanding changes in the worktree.
	if err := m.autoCommit(ctx, info.Path, subAgentID); err != nil {
		return MergeResult{}, err
	}

	// 2. Check if the branch has any commits beyond the base.
	if !branchHasCommits(ctx, workspaceRoot, info.Branch, info.BaseRef) {
		// There may still be ignored/untracked files the sub-agent produced
		// intentionally but never committed. Sync them by content.
		synced, err := fsutil.CopyTree(info.Path, workspaceRoot, snapshotSkipNames, true)
		if err != nil {
			return MergeResult{}, fmt.Errorf("syncing stray files: %w", err)
		}
		message := "no new commits on agent branch"
		if synced > 0 {
			message = fmt.Sprintf("no new commits on agent branch; synchronized %d file(s)", synced)
		}
		return MergeResult{Success: true, Strategy: MergeSkipped, Message: message}, nil
	}

	// 3. Attempt merge in the main workspace.
	return m.mergeBranch(ctx, workspaceRoot, info.Branch)
}

func (m *Manager) autoCommit(ctx context.Context, worktreePath, subAgentID string) error {
	_, _ = runGit(ctx, worktreePath, "add", "-A")

	status, _ := runGit(ctx, worktreePath, "status", "--porcelain")
	if strings.TrimSpace(status) == "" {
		return nil
	}

	message := fmt.Sprintf("orchestrix: auto-commit from sub-agent %s", shorten(subAgentID))
	_, stderr, err := runGitWithIdentity(ctx, worktreePath, "commit", "-m", message, "--allow-empty")
	if err != nil && !strings.Contains(stderr, "nothing to commit") {
		m.logger.Warn("auto-commit in worktree had issues", "sub_agent_id", subAgentID, "stderr", stderr)
	}
	return nil
}

func (m *Manager) mergeBranch(ctx context.Context, workspaceRoot, branch string) (MergeResult, error) {
	// Fast-forward first.
	if _, _, err := runGitWithIdentity(ctx, workspaceRoot, "merge", "--ff-only", branch); err == nil {
		return MergeResult{
			Success:  true,
			Strategy: MergeFastForward,
			Message:  fmt.Sprintf("fast-forward merged %s", branch),
		}, nil
	}

	// Regular merge (concurrent branches diverged).
	if _, _, err := runGitWithIdentity(ctx, workspaceRoot, "merge", "--no-edit", branch); err == nil {
		return MergeResult{
			Success:  true,
			Strategy: MergeThreeWay,
			Message:  fmt.Sprintf("three-way merged %s", branch),
		}, nil
	}

	// Merge had conflicts. Collect the conflicted files, then abort so the
	// workspace stays clean.
	conflicted := collectConflictFiles(ctx, workspaceRoot)
	_, _ = runGit(ctx, workspaceRoot, "merge", "--abort")

	return MergeResult{
		Success:         false,
		Strategy:        MergeConflict,
		Message:         fmt.Sprintf("merge of %s had %d conflict(s) -- aborted", branch, len(conflicted)),
		ConflictedFiles: conflicted,
	}, nil
}

// Remove deletes a worktree from disk and from git's worktree list, along
// with its branch and tracking entry. Idempotent.
func (m *Manager) Remove(ctx context.Context, workspaceRoot, subAgentID string) error {
	m.mu.Lock()
	info, ok := m.active[subAgentID]
	if ok {
		delete(m.active, subAgentID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if info.Strategy == StrategyGitWorktree {
		_, _ = runGit(ctx, workspaceRoot, "worktree", "remove", "--force", info.Path)
	}
	if info.Branch != "" {
		_, _ = runGit(ctx, workspaceRoot, "branch", "-D", info.Branch)
	}
	if _, err := os.Stat(info.Path); err == nil {
		_ = os.RemoveAll(info.Path)
	}
	return nil
}

// CleanupRun removes every worktree for the run, deletes the run-level
// directory, and prunes stale worktree registrations. Returns the sub-agent
// ids cleaned.
func (m *Manager) CleanupRun(ctx context.Context, workspaceRoot, runID string) ([]string, error) {
	m.mu.Lock()
	ids := make([]string, 0)
	for id, info := range m.active {
		if info.RunID == runID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := m.Remove(ctx, workspaceRoot, id); err != nil {
			m.logger.Warn("failed to remove worktree", "sub_agent_id", id, "error", err)
			continue
		}
		cleaned = append(cleaned, id)
	}

	runDir := filepath.Join(workspaceRoot, ".orchestrix", "worktrees", runID)
	if _, err := os.Stat(runDir); err == nil {
		_ = os.RemoveAll(runDir)
	}

	_, _ = runGit(ctx, workspaceRoot, "worktree", "prune")
	return cleaned, nil
}

// PruneStale deletes orchestrix/* branches not referenced by any active
// entry. Returns the pruned branch names.
func (m *Manager) PruneStale(ctx context.Context, workspaceRoot string) ([]string, error) {
	_, _ = runGit(ctx, workspaceRoot, "worktree", "prune")

	all := listBranchesByPrefix(ctx, workspaceRoot, "orchestrix/")

	m.mu.Lock()
	activeBranches := make(map[string]struct{}, len(m.active))
	for _, info := range m.active {
		if info.Branch != "" {
			activeBranches[info.Branch] = struct{}{}
		}
	}
	m.mu.Unlock()

	pruned := make([]string, 0)
	for _, branch := range all {
		if _, ok := activeBranches[branch]; ok {
			continue
		}
		_, _ = runGit(ctx, workspaceRoot, "branch", "-D", branch)
		pruned = append(pruned, branch)
	}
	return pruned, nil
}
