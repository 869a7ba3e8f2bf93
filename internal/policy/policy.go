// Package policy decides whether filesystem paths and commands are admissible
// for the currently executing worker.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// DecisionKind enumerates admission outcomes.
type DecisionKind int

const (
	// Allow admits the operation.
	Allow DecisionKind = iota
	// Deny rejects the operation outright.
	Deny
	// NeedsApproval defers the operation to the approval gate.
	NeedsApproval
)

// Decision is the result of a policy evaluation.
type Decision struct {
	Kind   DecisionKind
	Scope  string
	Reason string
}

// ScopeSet is the approved-scopes set shared between policy instances and the
// approval gate. Scopes are additive within a run's lifetime.
type ScopeSet struct {
	mu     sync.Mutex
	scopes map[string]struct{}
}

// NewScopeSet creates an empty scope set.
func NewScopeSet() *ScopeSet {
	return &ScopeSet{scopes: make(map[string]struct{})}
}

// Add inserts a normalized scope string.
func (s *ScopeSet) Add(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[normalizePathText(scope)] = struct{}{}
}

// Contains reports whether candidate is covered by any approved scope. A
// scope allows itself and any descendant identified by a '/' or '\' boundary.
func (s *ScopeSet) Contains(candidate string) bool {
	normalized := normalizePathText(candidate)
	s.mu.Lock()
	defer s.mu.Unlock()
	for allowed := range s.scopes {
		if normalized == allowed ||
			strings.HasPrefix(normalized, allowed+"/") ||
			strings.HasPrefix(normalized, allowed+`\`) {
			return true
		}
	}
	return false
}

// Engine admits or denies path and command operations for one worker. Multiple
// engines bound to different worktrees may share one ScopeSet.
type Engine struct {
	workspaceRoot  string
	approvedScopes *ScopeSet
}

// New creates an engine with its own scope set.
func New(workspaceRoot string) *Engine {
	return &Engine{
		workspaceRoot:  workspaceRoot,
		approvedScopes: NewScopeSet(),
	}
}

// WithApprovedScopes creates an engine sharing an existing scope set.
func WithApprovedScopes(workspaceRoot string, scopes *ScopeSet) *Engine {
	return &Engine{
		workspaceRoot:  workspaceRoot,
		approvedScopes: scopes,
	}
}

// AllowScope adds a scope to the shared set.
func (e *Engine) AllowScope(scope string) {
	e.approvedScopes.Add(scope)
}

// Scopes returns the shared scope set.
func (e *Engine) Scopes() *ScopeSet {
	return e.approvedScopes
}

// WorkspaceRoot returns the root this engine is bound to.
func (e *Engine) WorkspaceRoot() string {
	return e.workspaceRoot
}

// EvaluatePath decides whether a filesystem path is admissible. Paths that
// resolve inside the workspace root are allowed; paths that do not yet exist
// are admitted when an existing ancestor resolves inside the root; everything
// else falls back to the approved-scopes set or requests approval.
func (e *Engine) EvaluatePath(candidate string) Decision {
	root, err := filepath.EvalSymlinks(e.workspaceRoot)
	if err != nil {
		return Decision{Kind: Deny, Reason: fmt.Sprintf("workspace root invalid: %v", err)}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return Decision{Kind: Deny, Reason: fmt.Sprintf("workspace root invalid: %v", err)}
	}

	// Canonical path first (works for existing files).
	if canonical, err := filepath.EvalSymlinks(candidate); err == nil {
		if isDescendant(root, canonical) {
			return Decision{Kind: Allow}
		}
	}

	// For paths that don't exist yet (new files), walk up to find an existing
	// ancestor and check if it's inside the workspace.
	ancestor := candidate
	for {
		if canonical, err := filepath.EvalSymlinks(ancestor); err == nil {
			if isDescendant(root, canonical) {
				return Decision{Kind: Allow}
			}
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		ancestor = parent
	}

	// Last resort: normalized string prefix comparison.
	rootStr := normalizePathText(root)
	candidateStr := normalizePathText(candidate)
	if strings.HasPrefix(candidateStr, rootStr) {
		return Decision{Kind: Allow}
	}

	if e.approvedScopes.Contains(candidate) {
		return Decision{Kind: Allow}
	}

	scope := normalizePathText(candidate)
	return Decision{
		Kind:   NeedsApproval,
		Scope:  scope,
		Reason: fmt.Sprintf("path outside workspace: %s", scope),
	}
}

// EvaluateCommand decides whether a command is admissible by looking up its
// binary name in a fixed allowlist.
func (e *Engine) EvaluateCommand(cmd string) Decision {
	// Extract the binary name from compound commands (e.g. "mkdir -p foo").
	binary := cmd
	if fields := strings.Fields(cmd); len(fields) > 0 {
		binary = fields[0]
	}
	// Strip any path prefix (e.g. "/usr/bin/git" -> "git").
	if idx := strings.LastIndexByte(binary, '/'); idx >= 0 {
		binary = binary[idx+1:]
	}
	if idx := strings.LastIndexByte(binary, '\\'); idx >= 0 {
		binary = binary[idx+1:]
	}
	binary = strings.TrimSuffix(binary, ".exe")

	if _, ok := commandAllowlist[binary]; ok {
		return Decision{Kind: Allow}
	}
	return Decision{Kind: Deny, Reason: fmt.Sprintf("command not allowed: %s", cmd)}
}

var commandAllowlist = buildAllowlist(
	// Version control
	"git",
	// Search
	"rg",
	// Go toolchain
	"go", "gofmt",
	// Rust toolchain
	"cargo", "rustc", "rustup",
	// JavaScript / Node toolchain
	"bun", "bunx", "node", "npx", "npm", "deno",
	// Python
	"python", "python3", "pip", "pip3", "uv",
	// File operations (needed for project scaffolding)
	"mkdir", "cp", "mv", "rm", "ls", "cat", "touch", "cd",
	// Windows equivalents
	"cmd", "powershell", "pwsh", "xcopy", "robocopy", "dir", "del", "copy", "move", "type",
	// Common dev tools
	"echo", "tar", "unzip", "zip", "curl", "wget", "make", "cmake", "docker", "docker-compose",
	// Testing / linting
	"jest", "vitest", "eslint", "prettier", "tsc",
)

func buildAllowlist(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func isDescendant(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// normalizePathText strips platform long-path prefixes for string comparison.
func normalizePathText(raw string) string {
	return strings.ReplaceAll(raw, `\\?\`, "")
}
