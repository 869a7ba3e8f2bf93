package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const gitCommandTimeout = 30 * time.Second

// Commits made by the engine carry a fixed identity so merges and
// auto-commits are attributable.
const (
	commitAuthorName  = "Orchestrix"
	commitAuthorEmail = "orchestrix@local"
)

// runGit executes a git command in dir and returns trimmed stdout.
// exec.CommandContext does not invoke a shell, so arguments are not subject
// to shell interpolation.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timed out", strings.Join(args, " "))
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// runGitWithIdentity runs a git command with the engine's commit identity in
// the environment.
func runGitWithIdentity(ctx context.Context, dir string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(cmd.Environ(),
		"GIT_AUTHOR_NAME="+commitAuthorName,
		"GIT_AUTHOR_EMAIL="+commitAuthorEmail,
		"GIT_COMMITTER_NAME="+commitAuthorName,
		"GIT_COMMITTER_EMAIL="+commitAuthorEmail,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

// resolveHead resolves HEAD to a commit hash, or "" when unresolvable.
func resolveHead(ctx context.Context, dir string) string {
	out, err := runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// branchHasCommits reports whether branch has commits beyond baseRef.
func branchHasCommits(ctx context.Context, dir, branch, baseRef string) bool {
	if baseRef == "" {
		baseRef = "HEAD"
	}
	out, err := runGit(ctx, dir, "rev-list", "--count", baseRef+".."+branch)
	if err != nil {
		return false
	}
	count, err := strconv.ParseUint(out, 10, 64)
	if err != nil {
		return false
	}
	return count > 0
}

// collectConflictFiles lists files in a conflicted merge state.
func collectConflictFiles(ctx context.Context, dir string) []string {
	out, err := runGit(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	return files
}

// listBranchesByPrefix lists branch names under refs/heads/<prefix>.
func listBranchesByPrefix(ctx context.Context, dir, prefix string) []string {
	out, err := runGit(ctx, dir, "for-each-ref", "--format=%(refname:short)", "refs/heads/"+prefix)
	if err != nil {
		return nil
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			branches = append(branches, trimmed)
		}
	}
	return branches
}

// GitWorktreeEntry is a parsed entry from `git worktree list --porcelain`.
type GitWorktreeEntry struct {
	Path   string
	Head   string
	Branch string
	Bare   bool
}

// ListGitWorktrees returns the worktrees registered in the repository.
func ListGitWorktrees(ctx context.Context, workspaceRoot string) ([]GitWorktreeEntry, error) {
	out, err := runGit(ctx, workspaceRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []GitWorktreeEntry
	var current *GitWorktreeEntry
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				entries = append(entries, *current)
			}
			current = &GitWorktreeEntry{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			current.Bare = true
		}
	}
	if current != nil {
		entries = append(entries, *current)
	}
	return entries, nil
}
