// Package events defines event types and structures published on the
// real-time channel during editing and execution.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the watermill topic all engine events are published on. Consumers
// filter by the key metadata (per-workflow or per-execution) and event type.
const Topic = "formbot.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Editing overlay events (page -> host -> subscribers).
	FieldSelectedEvent     EventType = "field.selected"
	FieldAddedEvent        EventType = "field.added"
	FieldRemovedEvent      EventType = "field.removed"
	FieldValueChangedEvent EventType = "field.value_changed"
	HighlightingReadyEvent EventType = "highlighting.ready"

	// Login execution events within an editing session.
	LoginExecutionProgressEvent EventType = "login.execution.progress"
	LoginExecutionCompleteEvent EventType = "login.execution.complete"

	// Execution lifecycle events.
	ExecutionStartedEvent       EventType = "execution.started"
	ExecutionStepStartedEvent   EventType = "execution.step_started"
	ExecutionStepCompletedEvent EventType = "execution.step_completed"
	ExecutionFieldFilledEvent   EventType = "execution.field_filled"
	ExecutionWaitingManualEvent EventType = "execution.waiting_manual"
	ExecutionResumedEvent       EventType = "execution.resumed"
	ExecutionCompletedEvent     EventType = "execution.completed"
	ExecutionFailedEvent        EventType = "execution.failed"
)

// EditingKey is the metadata key for events scoped to one workflow's editing
// session.
func EditingKey(workflowID string) string {
	return "formbot.editing." + workflowID
}

// ExecutionKey is the metadata key for events scoped to one execution.
func ExecutionKey(executionID string) string {
	return "formbot.execution." + executionID
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}
