package events

import (
	"context"
	"encoding/json"

	"github.com/orchestrix-dev/orchestrix/internal/core"
	"github.com/orchestrix-dev/orchestrix/internal/logging"
)

// Sink persists events. Implemented by the state store, which allocates the
// per-run monotonic sequence number under its write lock.
type Sink interface {
	AppendEvent(ctx context.Context, runID, category, eventType, payloadJSON string) (core.Event, error)
}

// Recorder writes events through the sink and broadcasts them on the bus.
// Persistence failures are logged and swallowed; the broadcast still happens
// so listeners are not starved by a store hiccup.
type Recorder struct {
	sink   Sink
	bus    *Bus
	logger *logging.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(sink Sink, bus *Bus, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{sink: sink, bus: bus, logger: logger}
}

// Emit records and broadcasts one event. The payload is marshaled to JSON;
// marshal failures degrade to an empty object payload.
func (r *Recorder) Emit(ctx context.Context, runID, category, eventType string, payload map[string]interface{}) core.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("event payload marshal failed", "event_type", eventType, "error", err)
		raw = []byte("{}")
	}

	event, err := r.sink.AppendEvent(ctx, runID, category, eventType, string(raw))
	if err != nil {
		r.logger.Warn("event persist failed", "event_type", eventType, "error", err)
		event = core.Event{
			RunID:       runID,
			Category:    category,
			EventType:   eventType,
			PayloadJSON: string(raw),
		}
	}

	r.bus.Publish(event)
	return event
}

// Bus returns the underlying bus for subscribers.
func (r *Recorder) Bus() *Bus {
	return r.bus
}
