// Package approval mediates between workers that hit a NeedsApproval policy
// decision and an out-of-band human answer.
package approval

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/policy"
)

// Request is a pending approval visible to external listeners.
type Request struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	RunID      string    `json:"run_id"`
	SubAgentID string    `json:"sub_agent_id"`
	ToolCallID string    `json:"tool_call_id"`
	ToolName   string    `json:"tool_name"`
	Scope      string    `json:"scope"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

type pending struct {
	request   Request
	responder chan bool // capacity 1; the worker holds the receive side
}

// Gate holds the pending-request registry and the shared approved-scopes set.
type Gate struct {
	mu             sync.Mutex
	pendingByID    map[string]*pending
	approvedScopes *policy.ScopeSet
}

// NewGate creates a gate with a fresh scope set.
func NewGate() *Gate {
	return &Gate{
		pendingByID:    make(map[string]*pending),
		approvedScopes: policy.NewScopeSet(),
	}
}

// ApprovedScopes returns the shared scope set for policy construction.
func (g *Gate) ApprovedScopes() *policy.ScopeSet {
	return g.approvedScopes
}

// Request registers a pending approval and returns the request (for eventing)
// plus the receiver the worker awaits. The channel delivers exactly one bool;
// an abandoned receiver is equivalent to a denial.
func (g *Gate) Request(taskID, runID, subAgentID, toolCallID, toolName, scope, reason string) (Request, <-chan bool) {
	request := Request{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		RunID:      runID,
		SubAgentID: subAgentID,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Scope:      scope,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}

	entry := &pending{
		request:   request,
		responder: make(chan bool, 1),
	}

	g.mu.Lock()
	g.pendingByID[request.ID] = entry
	g.mu.Unlock()

	return request, entry.responder
}

// ListPending returns pending requests in FIFO-by-creation order, optionally
// filtered by task.
func (g *Gate) ListPending(taskID string) []Request {
	g.mu.Lock()
	requests := make([]Request, 0, len(g.pendingByID))
	for _, entry := range g.pendingByID {
		if taskID != "" && entry.request.TaskID != taskID {
			continue
		}
		requests = append(requests, entry.request)
	}
	g.mu.Unlock()

	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests
}

// Resolve removes the pending entry, records the scope on approval, and
// delivers the answer. Resolving an unknown id fails.
func (g *Gate) Resolve(approvalID string, approve bool) (Request, error) {
	g.mu.Lock()
	entry, ok := g.pendingByID[approvalID]
	if ok {
		delete(g.pendingByID, approvalID)
	}
	g.mu.Unlock()

	if !ok {
		return Request{}, core.ErrNotFound("approval request", approvalID).
			WithDetail("code", core.CodeApprovalNotFound)
	}

	if approve {
		g.approvedScopes.Add(entry.request.Scope)
	}

	entry.responder <- approve
	return entry.request, nil
}

// RejectAllForTask resolves every pending request for the task as denied.
// Invoked on task cancellation.
func (g *Gate) RejectAllForTask(taskID string) {
	g.mu.Lock()
	ids := make([]string, 0)
	for id, entry := range g.pendingByID {
		if entry.request.TaskID == taskID {
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		_, _ = g.Resolve(id, false)
	}
}
