// Package core defines the domain model shared by the orchestrator runtime,
// the persistence layer, and the tool system.
package core

import "time"

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskPending        TaskStatus = "pending"
	TaskPlanning       TaskStatus = "planning"
	TaskAwaitingReview TaskStatus = "awaiting_review"
	TaskExecuting      TaskStatus = "executing"
	TaskCompleted      TaskStatus = "completed"
	TaskFailed         TaskStatus = "failed"
	TaskCancelled      TaskStatus = "cancelled"
)

// RunStatus tracks a single execution instance of a task.
type RunStatus string

const (
	RunPlanning       RunStatus = "planning"
	RunAwaitingReview RunStatus = "awaiting_review"
	RunExecuting      RunStatus = "executing"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
)

// StepStatus tracks a plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// SubAgentStatus tracks a sub-agent through its lifecycle. Transitions are
// forward-only; "closed" is terminal.
type SubAgentStatus string

const (
	SubAgentCreated         SubAgentStatus = "created"
	SubAgentQueued          SubAgentStatus = "queued"
	SubAgentRunning         SubAgentStatus = "running"
	SubAgentWaitingForMerge SubAgentStatus = "waiting_for_merge"
	SubAgentCompleted       SubAgentStatus = "completed"
	SubAgentFailed          SubAgentStatus = "failed"
	SubAgentClosed          SubAgentStatus = "closed"
)

// ToolCallStatus tracks a recorded tool invocation.
type ToolCallStatus string

const (
	ToolCallRunning          ToolCallStatus = "running"
	ToolCallAwaitingApproval ToolCallStatus = "awaiting_approval"
	ToolCallSucceeded        ToolCallStatus = "succeeded"
	ToolCallFailed           ToolCallStatus = "failed"
	ToolCallDenied           ToolCallStatus = "denied"
)

// Task is a natural-language objective submitted by the user. A task owns
// zero or more runs; at most one run is active at a time.
type Task struct {
	ID           string     `json:"id"`
	Prompt       string     `json:"prompt"`
	ParentTaskID string     `json:"parent_task_id,omitempty"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Run is one execution instance of a task, from planning through completion
// or failure.
type Run struct {
	ID            string     `json:"id"`
	TaskID        string     `json:"task_id"`
	Status        RunStatus  `json:"status"`
	PlanJSON      string     `json:"plan_json,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// Plan is an ordered sequence of steps with a goal summary and completion
// criteria. A plan is immutable once persisted for a run.
type Plan struct {
	ID                 string   `json:"id"`
	RunID              string   `json:"run_id"`
	GoalSummary        string   `json:"goal_summary"`
	Steps              []Step   `json:"steps"`
	CompletionCriteria []string `json:"completion_criteria"`
}

// Step is a unit of work driven by one worker loop. Idx is a dense 0-based
// position within its plan.
type Step struct {
	Idx         uint32     `json:"idx"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ToolIntent  string     `json:"tool_intent,omitempty"`
	Status      StepStatus `json:"status"`
	MaxRetries  int        `json:"max_retries"`
	Result      string     `json:"result,omitempty"`
}

// SubAgent is a scoped executor with its own worktree, contract, and
// observation history. Virtual parent agents use synthetic ids of the form
// "parent-<run_id>-step-<idx>".
type SubAgent struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	StepIdx      int64          `json:"step_idx"`
	Name         string         `json:"name"`
	Status       SubAgentStatus `json:"status"`
	WorktreePath string         `json:"worktree_path,omitempty"`
	ContextJSON  string         `json:"context_json,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ToolCall records one tool invocation within a run.
type ToolCall struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	StepIdx    *int64         `json:"step_idx,omitempty"`
	ToolName   string         `json:"tool_name"`
	InputJSON  string         `json:"input_json"`
	OutputJSON string         `json:"output_json,omitempty"`
	Status     ToolCallStatus `json:"status"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Event is an append-only record on the run's event log. Seq is monotonic
// per run.
type Event struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id,omitempty"`
	Seq         int64     `json:"seq"`
	Category    string    `json:"category"`
	EventType   string    `json:"event_type"`
	PayloadJSON string    `json:"payload_json"`
	CreatedAt   time.Time `json:"created_at"`
}

// Artifact is a run output tracked outside the workspace tree proper.
type Artifact struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Kind         string    `json:"kind"`
	URIOrContent string    `json:"uri_or_content"`
	MetadataJSON string    `json:"metadata_json,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Checkpoint stores the last completed step index for a run. LastStepIdx is
// monotonically non-decreasing across upserts; it drives idempotent
// resumption after a crash.
type Checkpoint struct {
	RunID            string    `json:"run_id"`
	LastStepIdx      int64     `json:"last_step_idx"`
	RuntimeStateJSON string    `json:"runtime_state_json,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// WorktreeLog is the persisted audit record of one sub-agent worktree, from
// creation through merge and cleanup.
type WorktreeLog struct {
	ID                  string     `json:"id"`
	RunID               string     `json:"run_id"`
	SubAgentID          string     `json:"sub_agent_id"`
	Strategy            string     `json:"strategy"`
	BranchName          string     `json:"branch_name,omitempty"`
	BaseRef             string     `json:"base_ref,omitempty"`
	WorktreePath        string     `json:"worktree_path"`
	MergeStrategy       string     `json:"merge_strategy,omitempty"`
	MergeSuccess        *bool      `json:"merge_success,omitempty"`
	MergeMessage        string     `json:"merge_message,omitempty"`
	ConflictedFilesJSON string     `json:"conflicted_files_json,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	MergedAt            *time.Time `json:"merged_at,omitempty"`
	CleanedAt           *time.Time `json:"cleaned_at,omitempty"`
}
