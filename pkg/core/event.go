package core

import (
	"time"
)

// EventType identifies a semantic event emitted on the runtime bus.
type EventType string

const (
	EventMessageReceived    EventType = "MESSAGE_RECEIVED"
	EventMessageSent        EventType = "MESSAGE_SENT"
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunEnded           EventType = "RUN_ENDED"
	EventRunTimeout         EventType = "RUN_TIMEOUT"
	EventActionStarted      EventType = "ACTION_STARTED"
	EventActionCompleted    EventType = "ACTION_COMPLETED"
	EventEvaluatorStarted   EventType = "EVALUATOR_STARTED"
	EventEvaluatorCompleted EventType = "EVALUATOR_COMPLETED"
	EventModelUsed          EventType = "MODEL_USED"
	EventPluginLoaded       EventType = "PLUGIN_LOADED"
	EventBridgeCrashed      EventType = "BRIDGE_CRASHED"
)

// Event captures one bus emission.
type Event struct {
	Type      EventType
	AgentID   string
	RunID     string
	RoomID    string
	Source    string
	Timestamp time.Time
	Payload   map[string]any
}

// NewEvent builds an event with the current timestamp.
func NewEvent(eventType EventType, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
