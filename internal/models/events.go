package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentIntent      = "PAYMENT_INTENT_CREATED"
	EventTypePaymentCaptured    = "PAYMENT_CAPTURED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypeAudit              = "AUDIT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event envelope.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent published after an order commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       uuid.UUID       `json:"order_id"`
	TicketNumber  string          `json:"ticket_number"`
	PaymentMethod string          `json:"payment_method"`
	FinalAmount   decimal.Decimal `json:"final_amount"`
	ItemCount     int             `json:"item_count"`
	FileCount     int             `json:"file_count"`
}

// OrderStatusChangedEvent published when staff move an order through the workflow
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    uuid.UUID     `json:"order_id"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	AssignedTo uuid.NullUUID `json:"assigned_to"`
}

// PaymentEvent published for intent creation, capture and failure
type PaymentEvent struct {
	BaseEvent
	OrderID       uuid.UUID       `json:"order_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Provider      string          `json:"provider"`
	ProviderTxnID string          `json:"provider_txn_id,omitempty"`
}

// AuditEvent is consumed by the external audit sink
type AuditEvent struct {
	BaseEvent
	ActorID    uuid.NullUUID  `json:"actor_id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Changes    map[string]any `json:"changes,omitempty"`
}
