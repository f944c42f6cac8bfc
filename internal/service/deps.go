package service

import (
	"context"
	"encoding/json"
	"time"

	"printshop/internal/auth"
	"printshop/internal/models"
	"printshop/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the persistence surface OrderService needs. *store.Store implements it.
type OrderStore interface {
	WithTx(ctx context.Context, fn func(store.Txn) error) error
	GetOrderAggregate(ctx context.Context, id uuid.UUID) (*models.OrderAggregate, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to string, assignedTo *uuid.UUID, notes *string) (*models.Order, bool, error)
}

// PaymentStore is the persistence surface PaymentService needs.
type PaymentStore interface {
	WithTx(ctx context.Context, fn func(store.Txn) error) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	InsertTransaction(ctx context.Context, txn *models.Transaction) error
}

// CatalogStore is the persistence surface CatalogService needs.
type CatalogStore interface {
	ListServices(ctx context.Context, filter models.ServiceFilter) ([]models.Service, error)
	GetService(ctx context.Context, id uuid.UUID) (*models.Service, error)
	CreateService(ctx context.Context, svc *models.Service) error
	UpdateService(ctx context.Context, svc *models.Service) error
	DeleteService(ctx context.Context, id uuid.UUID) error
}

// SettingsStore is the persistence surface SettingsService needs.
type SettingsStore interface {
	ListSettings(ctx context.Context) ([]models.Setting, error)
	GetSettingValues(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	UpsertSetting(ctx context.Context, key string, value json.RawMessage, description *string, updatedBy uuid.NullUUID) (*models.Setting, error)
	DashboardStats(ctx context.Context) (*models.DashboardStats, error)
}

// EventSink publishes domain and audit events. *broker.EventPublisher implements it.
type EventSink interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPayment(ctx context.Context, event *models.PaymentEvent) error
	PublishAudit(ctx context.Context, event *models.AuditEvent) error
}

// IdempotencyStore remembers which order a client key produced. *redisclient.Client implements it.
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (uuid.UUID, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, orderID uuid.UUID, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// auditor publishes best-effort audit records; failures are logged and dropped.
type auditor struct {
	events EventSink
	logger *zap.Logger
}

func (a auditor) record(ctx context.Context, action, entityType, entityID string, changes map[string]any) {
	if a.events == nil {
		return
	}

	event := &models.AuditEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeAudit),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    changes,
	}
	if p := auth.FromContext(ctx); p != nil {
		event.ActorID = uuid.NullUUID{UUID: p.UserID, Valid: true}
	}

	if err := a.events.PublishAudit(ctx, event); err != nil {
		a.logger.Warn("Failed to publish audit event",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}

// owns reports whether p may see order: staff always, others by account or phone.
func owns(p *auth.Principal, order *models.Order) bool {
	if p == nil {
		return false
	}
	if p.IsStaff() {
		return true
	}
	if order.UserID.Valid && order.UserID.UUID == p.UserID {
		return true
	}
	return p.Phone != "" && p.Phone == order.CustomerPhone
}

func actorID(ctx context.Context) uuid.NullUUID {
	if p := auth.FromContext(ctx); p != nil {
		return uuid.NullUUID{UUID: p.UserID, Valid: true}
	}
	return uuid.NullUUID{}
}
