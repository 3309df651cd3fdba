package events

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Event types for the dataset lifecycle.
const (
	DatasetCreated    = "dataset.created"
	DatasetPatched    = "dataset.patched"
	DatasetDeleted    = "dataset.deleted"
	CapabilityIssued  = "capability.issued"
	ProcessDispatched = "process.dispatched"
	ProcessCompleted  = "process.completed"
)

// Event is one audit record. Publishing is non-blocking; events are
// dropped with a warning when the buffer is full.
type Event struct {
	Type      string                 `json:"type"`
	DatasetID string                 `json:"dataset_id,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventLogger writes audit events through zap on a background goroutine.
type EventLogger struct {
	logger *zap.Logger
	buffer chan Event
}

// NewEventLogger starts the logger's drain goroutine.
func NewEventLogger(logger *zap.Logger) *EventLogger {
	el := &EventLogger{
		logger: logger,
		buffer: make(chan Event, 1000),
	}
	go el.process()
	return el
}

// Log publishes one event without blocking the request path.
func (el *EventLogger) Log(event Event) {
	event.Timestamp = time.Now()
	select {
	case el.buffer <- event:
	default:
		el.logger.Warn("event buffer full, dropping event",
			zap.String("type", event.Type))
	}
}

func (el *EventLogger) process() {
	for event := range el.buffer {
		data, _ := json.Marshal(event)
		el.logger.Info("event",
			zap.String("type", event.Type),
			zap.String("data", string(data)),
		)
	}
}
