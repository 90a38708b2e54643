package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"ojtrust/internal/common/mq"
	"ojtrust/internal/problem/model"

	"github.com/google/uuid"
)

// EventPublisher announces trust transitions to other services.
type EventPublisher interface {
	PublishLifecycle(ctx context.Context, event model.ProblemLifecycleEvent) error
}

// LifecyclePublisher publishes lifecycle events to a message queue topic.
type LifecyclePublisher struct {
	producer mq.Producer
	topic    string
}

// NewLifecyclePublisher creates a new lifecycle event publisher.
func NewLifecyclePublisher(producer mq.Producer, topic string) *LifecyclePublisher {
	return &LifecyclePublisher{producer: producer, topic: topic}
}

// PublishLifecycle publishes event keyed by problem id so that events of one
// problem stay ordered.
func (p *LifecyclePublisher) PublishLifecycle(ctx context.Context, event model.ProblemLifecycleEvent) error {
	if p == nil || p.producer == nil {
		return errors.New("lifecycle publisher is nil")
	}
	if p.topic == "" {
		return errors.New("lifecycle topic is empty")
	}
	if event.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.EventID
	message.Key = strconv.FormatInt(event.ProblemID, 10)
	message.SetHeader("event_type", event.EventType)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return fmt.Errorf("publish lifecycle event failed: %w", err)
	}
	return nil
}
