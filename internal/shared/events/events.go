// Package events defines the domain events services publish to Kafka.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event
type EventType string

// Event types
const (
	// Task lifecycle events
	TaskCreated   EventType = "task.created"
	TaskScheduled EventType = "task.scheduled"
	TaskCancelled EventType = "task.cancelled"
	TaskCompleted EventType = "task.completed"
	TaskFailed    EventType = "task.failed"

	// Worker pool events
	PoolSeeded EventType = "pool.seeded"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// Metadata contains event metadata
type Metadata struct {
	CorrelationID string            `json:"correlationId,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	Source        string            `json:"source,omitempty"`
	TraceID       string            `json:"traceId,omitempty"`
	SpanID        string            `json:"spanId,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, aggregateID, aggregateType string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Timestamp:     time.Now().UTC(),
		Version:       1,
		Data:          dataBytes,
		Metadata:      Metadata{},
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.Metadata.CorrelationID = correlationID
	return e
}

// WithCausation sets the causation ID
func (e *Event) WithCausation(causationID string) *Event {
	e.Metadata.CausationID = causationID
	return e
}

// WithSource sets the source service
func (e *Event) WithSource(source string) *Event {
	e.Metadata.Source = source
	return e
}

// GetData unmarshals the event data into the provided type
func (e *Event) GetData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Topic returns the Kafka topic for this event
func (e *Event) Topic() string {
	switch e.Type {
	case TaskCreated, TaskScheduled, TaskCancelled, TaskCompleted, TaskFailed:
		return "taskrouterx.task.events"
	case PoolSeeded:
		return "taskrouterx.pool.events"
	default:
		return "taskrouterx.default.events"
	}
}

// TaskScheduledData contains data for a task scheduled event.
type TaskScheduledData struct {
	TaskID    string  `json:"taskId"`
	PoolName  string  `json:"poolName"`
	Algorithm string  `json:"algorithm"`
	Region    string  `json:"region"`
	Cost      float64 `json:"cost"`
}

// TaskCompletedData contains data for a task completed or failed event.
type TaskCompletedData struct {
	TaskID   string `json:"taskId"`
	PoolName string `json:"poolName"`
	Status   string `json:"status"`
}
