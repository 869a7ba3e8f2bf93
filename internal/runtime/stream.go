package runtime

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/orchestrix-dev/orchestrix/internal/events"
)

// Deltas are flushed once the pending buffer reaches this size or contains a
// newline.
const streamFlushChars = 120

// streamEmitter batches model deltas into message/thinking stream events.
type streamEmitter struct {
	rec        *events.Recorder
	runID      string
	taskID     string
	subAgentID string
	stepIdx    uint32
	turn       int

	streamID string
	pending  strings.Builder

	thinkingStreamID string
	thinkingPending  strings.Builder
}

func newStreamEmitter(rec *events.Recorder, runID, taskID, subAgentID string, stepIdx uint32, turn int) *streamEmitter {
	return &streamEmitter{
		rec:        rec,
		runID:      runID,
		taskID:     taskID,
		subAgentID: subAgentID,
		stepIdx:    stepIdx,
		turn:       turn,
	}
}

func (e *streamEmitter) base(extra map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"task_id":      e.taskID,
		"sub_agent_id": e.subAgentID,
		"step_idx":     e.stepIdx,
		"turn":         e.turn,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func (e *streamEmitter) appendDelta(ctx context.Context, delta string) {
	if delta == "" {
		return
	}
	if e.streamID == "" {
		e.streamID = uuid.NewString()
		e.rec.Emit(ctx, e.runID, events.CategoryAgent, events.AgentMessageStreamStarted,
			e.base(map[string]interface{}{"stream_id": e.streamID}))
	}
	e.pending.WriteString(delta)
	if e.pending.Len() >= streamFlushChars || strings.Contains(e.pending.String(), "\n") {
		e.flushPending(ctx)
	}
}

func (e *streamEmitter) appendThinkingDelta(ctx context.Context, delta string) {
	if delta == "" {
		return
	}
	if e.thinkingStreamID == "" {
		e.thinkingStreamID = uuid.NewString()
		e.rec.Emit(ctx, e.runID, events.CategoryAgent, events.AgentThinkingStreamStarted,
			e.base(map[string]interface{}{"stream_id": e.thinkingStreamID}))
	}
	e.thinkingPending.WriteString(delta)
	if e.thinkingPending.Len() >= streamFlushChars || strings.Contains(e.thinkingPending.String(), "\n") {
		e.flushThinkingPending(ctx)
	}
}

func (e *streamEmitter) flushPending(ctx context.Context) {
	if e.pending.Len() == 0 {
		return
	}
	content := e.pending.String()
	e.pending.Reset()
	e.rec.Emit(ctx, e.runID, events.CategoryAgent, events.AgentMessageDelta,
		e.base(map[string]interface{}{"stream_id": e.streamID, "content": content}))
}

func (e *streamEmitter) flushThinkingPending(ctx context.Context) {
	if e.thinkingPending.Len() == 0 {
		return
	}
	content := e.thinkingPending.String()
	e.thinkingPending.Reset()
	e.rec.Emit(ctx, e.runID, events.CategoryAgent, events.AgentThinkingDelta,
		e.base(map[string]interface{}{"stream_id": e.thinkingStreamID, "content": content}))
}

// complete flushes remaining deltas and closes both streams.
func (e *streamEmitter) complete(ctx context.Context) {
	if e.thinkingStreamID != "" {
		e.flushThinkingPending(ctx)
		e.rec.Emit(ctx, e.runID, events.CategoryAgent, events.AgentThinkingStreamCompleted,
			e.base(map[string]interface{}{"stream_id": e.thinkingStreamID}))
	}
	if e.streamID == "" {
		return
	}
	e.flushPending(ctx)
	e.rec.Emit(ctx, e.runID, events.CategoryAgent, events.AgentMessageStreamCompleted,
		e.base(map[string]interface{}{"stream_id": e.streamID}))
}

// cancel drops pending deltas and closes both streams with a reason.
func (e *streamEmitter) cancel(ctx context.Context, reason string) {
	if e.thinkingStreamID != "" {
		e.thinkingPending.Reset()
		e.rec.Emit(ctx, e.runID, events.CategoryAgent, events.AgentThinkingStreamCancelled,
			e.base(map[string]interface{}{"stream_id": e.thinkingStreamID, "reason": reason}))
	}
	if e.streamID == "" {
		return
	}
	e.pending.Reset()
	e.rec.Emit(ctx, e.runID, events.CategoryAgent, events.AgentMessageStreamCancelled,
		e.base(map[string]interface{}{"stream_id": e.streamID, "reason": reason}))
}
