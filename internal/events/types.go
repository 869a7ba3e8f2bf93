package events

// Event categories.
const (
	CategoryTask     = "task"
	CategoryAgent    = "agent"
	CategoryTool     = "tool"
	CategoryArtifact = "artifact"
)

// Task events.
const (
	TaskStatusChanged  = "task.status_changed"
	TaskReviewApproved = "task.review_approved"
	TaskContinued      = "task.continued"
	TaskResumed        = "task.resumed"
)

// Agent events.
const (
	AgentPlanningStarted         = "agent.planning_started"
	AgentPlanReady               = "agent.plan_ready"
	AgentDeciding                = "agent.deciding"
	AgentToolCallsPreparing      = "agent.tool_calls_preparing"
	AgentThinkingStreamStarted   = "agent.thinking_stream_started"
	AgentThinkingDelta           = "agent.thinking_delta"
	AgentThinkingStreamCompleted = "agent.thinking_stream_completed"
	AgentThinkingStreamCancelled = "agent.thinking_stream_cancelled"
	AgentMessageStreamStarted    = "agent.message_stream_started"
	AgentMessageDelta            = "agent.message_delta"
	AgentMessageStreamCompleted  = "agent.message_stream_completed"
	AgentMessageStreamCancelled  = "agent.message_stream_cancelled"
	AgentMessage                 = "agent.message"
	AgentRawResponse             = "agent.raw_response"
	AgentSubAgentCreated         = "agent.subagent_created"
	AgentSubAgentStarted         = "agent.subagent_started"
	AgentSubAgentAttempt         = "agent.subagent_attempt"
	AgentSubAgentWaitingForMerge = "agent.subagent_waiting_for_merge"
	AgentSubAgentCompleted       = "agent.subagent_completed"
	AgentSubAgentFailed          = "agent.subagent_failed"
	AgentSubAgentClosed          = "agent.subagent_closed"
	AgentWorktreeMerged          = "agent.worktree_merged"
	AgentDevServersCleaned       = "agent.dev_servers_cleaned"
)

// Tool events.
const (
	ToolCallStarted      = "tool.call_started"
	ToolCallFinished     = "tool.call_finished"
	ToolApprovalRequired = "tool.approval_required"
	ToolApprovalResolved = "tool.approval_resolved"
)

// Artifact events.
const (
	ArtifactCreated = "artifact.created"
)
