package events

import (
	"context"

	"github.com/taskrouterx/taskrouterx/internal/platform/logger"
	"github.com/taskrouterx/taskrouterx/internal/platform/messaging/kafka"
	"github.com/taskrouterx/taskrouterx/internal/platform/resilience"
	sharedevents "github.com/taskrouterx/taskrouterx/internal/shared/events"
	"github.com/taskrouterx/taskrouterx/internal/taskrouter/domain/model"
)

// KafkaEventPublisher adapts the shared Kafka publisher to
// service.EventPublisher, translating Task lifecycle transitions into
// the shared event envelope. Publishes run behind a circuit breaker so
// a down broker degrades to dropped events instead of a per-dispatch
// produce timeout.
type KafkaEventPublisher struct {
	publisher *kafka.EventPublisher
	breaker   *resilience.CircuitBreaker
	log       logger.Logger
}

// NewKafkaEventPublisher constructs a KafkaEventPublisher.
func NewKafkaEventPublisher(publisher *kafka.EventPublisher, log logger.Logger) *KafkaEventPublisher {
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("taskrouter-events"))
	return &KafkaEventPublisher{publisher: publisher, breaker: breaker, log: log}
}

var eventTypeMap = map[model.EventType]sharedevents.EventType{
	model.EventCreated:   sharedevents.TaskCreated,
	model.EventScheduled: sharedevents.TaskScheduled,
	model.EventCancelled: sharedevents.TaskCancelled,
	model.EventCompleted: sharedevents.TaskCompleted,
	model.EventFailed:    sharedevents.TaskFailed,
}

// PublishTaskEvent publishes one task lifecycle transition. Failures are
// logged, never returned: event delivery is best-effort and must not
// block or fail task scheduling.
func (p *KafkaEventPublisher) PublishTaskEvent(ctx context.Context, eventType model.EventType, task *model.Task, details map[string]interface{}) {
	mapped, ok := eventTypeMap[eventType]
	if !ok {
		return
	}

	event, err := sharedevents.NewEvent(mapped, task.ID().String(), "task", details)
	if err != nil {
		p.log.Error("failed to build task event", "error", err, "task_id", task.ID())
		return
	}
	event.WithSource("taskrouter")

	err = p.breaker.Execute(ctx, func() error {
		return p.publisher.Publish(ctx, event)
	})
	if err == resilience.ErrCircuitOpen {
		p.log.Warn("event publisher circuit open, dropping task event", "task_id", task.ID(), "event_type", eventType)
		return
	}
	if err != nil {
		p.log.Error("failed to publish task event", "error", err, "task_id", task.ID(), "event_type", eventType)
	}
}
