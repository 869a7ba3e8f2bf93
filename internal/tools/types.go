// Package tools defines the tool contract and the built-in tool surface the
// worker loop dispatches into.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/orchestrix-dev/orchestrix/internal/policy"
)

// Descriptor describes a tool to the model: name, description, and JSON
// schemas for its input and (optionally) output.
type Descriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// CallInput is the input to a tool invocation.
type CallInput struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// CallOutput is the output from a tool invocation.
type CallOutput struct {
	OK    bool                   `json:"ok"`
	Data  map[string]interface{} `json:"data"`
	Error string                 `json:"error,omitempty"`
}

// ErrorKind classifies tool failures.
type ErrorKind string

const (
	// ErrInvalidInput marks malformed tool arguments or a bad patch.
	ErrInvalidInput ErrorKind = "invalid_input"
	// ErrPolicyDenied marks a path/command admission failure.
	ErrPolicyDenied ErrorKind = "policy_denied"
	// ErrExecution marks a subprocess/IO/parse failure.
	ErrExecution ErrorKind = "execution"
	// ErrApprovalRequired defers the call to the approval gate.
	ErrApprovalRequired ErrorKind = "approval_required"
)

// Error is the typed failure a tool invocation can return.
type Error struct {
	Kind    ErrorKind
	Message string
	// Scope and Reason are set for ErrApprovalRequired.
	Scope  string
	Reason string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Kind == ErrApprovalRequired {
		return fmt.Sprintf("approval required for scope '%s': %s", e.Scope, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// InvalidInput creates an invalid-input error.
func InvalidInput(message string) *Error {
	return &Error{Kind: ErrInvalidInput, Message: message}
}

// PolicyDenied creates a policy-denied error.
func PolicyDenied(message string) *Error {
	return &Error{Kind: ErrPolicyDenied, Message: message}
}

// ExecutionError creates an execution error.
func ExecutionError(message string) *Error {
	return &Error{Kind: ErrExecution, Message: message}
}

// ApprovalRequired creates an approval-required error for a scope.
func ApprovalRequired(scope, reason string) *Error {
	return &Error{Kind: ErrApprovalRequired, Scope: scope, Reason: reason, Message: reason}
}

// Tool is the uniform contract every tool implements.
type Tool interface {
	// Descriptor returns the tool's name, description, and input schema.
	Descriptor() Descriptor

	// Invoke runs the tool with the given policy, working directory, and
	// JSON arguments.
	Invoke(pol *policy.Engine, cwd string, args json.RawMessage) (CallOutput, error)
}

// checkPath converts a policy decision on a path into a tool error, or nil
// when allowed.
func checkPath(pol *policy.Engine, path string) error {
	decision := pol.EvaluatePath(path)
	switch decision.Kind {
	case policy.Allow:
		return nil
	case policy.NeedsApproval:
		return ApprovalRequired(decision.Scope, decision.Reason)
	default:
		return PolicyDenied(decision.Reason)
	}
}

// schema is a convenience for inline JSON Schema literals.
func schema(s string) json.RawMessage {
	return json.RawMessage(s)
}
