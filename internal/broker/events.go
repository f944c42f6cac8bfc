package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"printshop/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(id fmt.Stringer) string {
	return "order-" + id.String()
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPayment publishes intent, capture and failure events
func (ep *EventPublisher) PublishPayment(ctx context.Context, event *models.PaymentEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishAudit publishes an audit record for the external audit sink
func (ep *EventPublisher) PublishAudit(ctx context.Context, event *models.AuditEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("%s-%s", event.EntityType, event.EntityID), event)
}

// DecodedEvent is a message read back from the events topic.
type DecodedEvent struct {
	models.BaseEvent
	Key     string
	Payload map[string]any
}

// DecodeMessage parses the envelope of a published event.
func DecodeMessage(msg kafka.Message) (*DecodedEvent, error) {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return nil, fmt.Errorf("failed to unmarshal base event: %w", err)
	}
	if base.EventType == "" {
		return nil, fmt.Errorf("message at offset %d has no event_type", msg.Offset)
	}

	payload := map[string]any{}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	for _, k := range []string{"event_id", "event_type", "timestamp"} {
		delete(payload, k)
	}

	return &DecodedEvent{BaseEvent: base, Key: string(msg.Key), Payload: payload}, nil
}
