package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"printshop/internal/apperr"
	"printshop/internal/auth"
	"printshop/internal/models"
	"printshop/internal/pricing"
	"printshop/internal/store"
	"printshop/internal/ticket"
	"printshop/internal/util"
	"printshop/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 200
	idempotencyTTL     = 24 * time.Hour
	idempotencyLockTTL = 30 * time.Second
)

// OrderService handles order business logic
type OrderService struct {
	store   OrderStore
	idem    IdempotencyStore
	events  EventSink
	tickets *ticket.Allocator
	audit   auditor
	logger  *zap.Logger
}

// NewOrderService creates a new order service. idem and events may be nil.
func NewOrderService(store OrderStore, idem IdempotencyStore, events EventSink, tickets *ticket.Allocator) *OrderService {
	logger := util.GetLogger()
	if tickets == nil {
		tickets = ticket.NewAllocator(ticket.DefaultMaxAttempts)
	}
	return &OrderService{
		store:   store,
		idem:    idem,
		events:  events,
		tickets: tickets,
		audit:   auditor{events: events, logger: logger},
		logger:  logger,
	}
}

// ItemInput is one requested line as submitted by the client.
type ItemInput struct {
	ServiceID     string          `json:"service_id"`
	Quantity      json.RawMessage `json:"quantity"`
	PriceOverride json.RawMessage `json:"price_override"`
	Options       models.Options  `json:"options"`
}

// AttachmentInput describes a file the HTTP layer already wrote to disk.
type AttachmentInput struct {
	Filename         string
	OriginalFilename string
	FilePath         string
	FileSize         int64
	MimeType         string
}

// CreateOrderRequest represents a job submission
type CreateOrderRequest struct {
	// Items is the raw JSON array from the form field of the same name.
	Items           json.RawMessage
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	PaymentMethod   string
	PickupTime      string
	DeliveryAddress string
	Notes           string
	Files           []AttachmentInput
	// FileErrors are upload problems found while receiving the files. They are
	// reported together with the other field errors.
	FileErrors      []apperr.FieldError
	IdempotencyKey  string
}

// UpdateStatusRequest represents a staff workflow change
type UpdateStatusRequest struct {
	Status     string  `json:"status"`
	AssignedTo string  `json:"assigned_to"`
	Notes      *string `json:"notes"`
}

// CreateOrder validates, prices and persists an order with its items and
// attachments in a single transaction.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (agg *models.OrderAggregate, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	lines, order, err := s.validateCreate(req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if existing := s.replay(ctx, req.IdempotencyKey); existing != nil {
			return existing, nil
		}
		release, err := s.lockIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer release()
		if existing := s.replay(ctx, req.IdempotencyKey); existing != nil {
			return existing, nil
		}
	}

	if p := auth.FromContext(ctx); p != nil {
		order.UserID = uuid.NullUUID{UUID: p.UserID, Valid: true}
	}

	items := make([]models.OrderItem, 0, len(lines))
	files := make([]models.Attachment, 0, len(req.Files))

	err = s.store.WithTx(ctx, func(tx store.Txn) error {
		services, err := tx.GetServicesByIDs(ctx, serviceIDs(lines))
		if err != nil {
			return err
		}
		values, err := tx.GetSettingValues(ctx, models.SettingTaxPercentage, models.SettingServiceCharge)
		if err != nil {
			return err
		}

		quote, err := pricing.Calculate(lines, pricing.NewCatalog(services), pricing.SettingsFromValues(values))
		if err != nil {
			return err
		}
		order.Subtotal = quote.Subtotal
		order.TaxAmount = quote.TaxAmount
		order.ServiceCharge = quote.ServiceCharge
		order.DiscountAmount = quote.DiscountAmount
		order.FinalAmount = quote.Total

		_, err = s.tickets.Allocate(ctx, tx.TicketExists, func(candidate string) error {
			order.TicketNumber = candidate
			err := tx.InsertOrder(ctx, order)
			if errors.Is(err, store.ErrDuplicateTicket) {
				return ticket.ErrTaken
			}
			return err
		})
		if err != nil {
			return err
		}

		for _, line := range quote.Lines {
			item := models.OrderItem{
				OrderID:     order.ID,
				ServiceID:   line.ServiceID,
				ServiceName: line.Service.Name,
				Quantity:    line.Quantity,
				UnitRate:    line.UnitRate,
				Subtotal:    line.Subtotal,
				Options:     line.Options,
			}
			if item.Options == nil {
				item.Options = models.Options{}
			}
			if err := tx.InsertOrderItem(ctx, &item); err != nil {
				return err
			}
			items = append(items, item)
		}

		for _, f := range req.Files {
			file := models.Attachment{
				OrderID:          order.ID,
				Filename:         f.Filename,
				OriginalFilename: f.OriginalFilename,
				FilePath:         f.FilePath,
				FileSize:         f.FileSize,
				MimeType:         f.MimeType,
			}
			if err := tx.InsertAttachment(ctx, &file); err != nil {
				return err
			}
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		s.logger.Error("Failed to create order", zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues(order.PaymentMethod).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("ticket_number", order.TicketNumber),
		zap.String("final_amount", order.FinalAmount.String()))

	if req.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.SetIdempotencyKey(ctx, idempotencyKey(req.IdempotencyKey), order.ID, idempotencyTTL); err != nil {
			s.logger.Warn("Failed to record idempotency key", zap.Error(err))
		}
	}

	s.publishCreated(ctx, order, len(items), len(files))
	s.audit.record(ctx, "ORDER_CREATE", "orders", order.ID.String(), nil)

	return &models.OrderAggregate{Order: *order, Items: items, Attachments: files}, nil
}

// validateCreate checks every field and reports all failures together.
func (s *OrderService) validateCreate(req *CreateOrderRequest) ([]pricing.LineRequest, *models.Order, error) {
	verr := &apperr.ValidationError{}

	var inputs []ItemInput
	raw := strings.TrimSpace(string(req.Items))
	switch {
	case raw == "" || raw == "null":
		verr.Add("items", "at least one item is required")
	case json.Unmarshal([]byte(raw), &inputs) != nil:
		verr.Add("items", "must be a JSON array of items")
	case len(inputs) == 0:
		verr.Add("items", "at least one item is required")
	}

	lines := make([]pricing.LineRequest, 0, len(inputs))
	for i, in := range inputs {
		id, err := uuid.Parse(strings.TrimSpace(in.ServiceID))
		if err != nil {
			verr.Add(fmt.Sprintf("items[%d].service_id", i), "valid service ID required")
		}
		qty := pricing.ParseQuantity(in.Quantity)
		switch {
		case !qty.IsPositive():
			verr.Add(fmt.Sprintf("items[%d].quantity", i), "quantity must be greater than zero")
		case !pricing.WithinLimits(qty, pricing.MaxQuantity):
			verr.Add(fmt.Sprintf("items[%d].quantity", i),
				fmt.Sprintf("quantity must be at most %s with up to %d decimal places", pricing.MaxQuantity, pricing.MaxScale))
		}
		override := pricing.ParseOverride(in.PriceOverride)
		if override != nil && !pricing.WithinLimits(override.Abs(), pricing.MaxAmount) {
			verr.Add(fmt.Sprintf("items[%d].price_override", i),
				fmt.Sprintf("price override must be at most %s with up to %d decimal places", pricing.MaxAmount, pricing.MaxScale))
		}
		lines = append(lines, pricing.LineRequest{
			ServiceID:     id,
			Quantity:      qty,
			PriceOverride: override,
			Options:       in.Options,
		})
	}

	phone := strings.TrimSpace(req.CustomerPhone)
	if phone == "" {
		verr.Add("customer_phone", "phone number required")
	}
	if !models.ValidPaymentMethod(req.PaymentMethod) {
		verr.Add("payment_method", "must be one of online, cash, pay_later")
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			verr.Add("customer_email", "valid email required")
		}
	}

	order := &models.Order{
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
		CustomerPhone:   phone,
		CustomerName:    optional(req.CustomerName),
		CustomerEmail:   optional(email),
		DeliveryAddress: optional(req.DeliveryAddress),
		Notes:           optional(req.Notes),
	}
	if pt := strings.TrimSpace(req.PickupTime); pt != "" {
		t, err := time.Parse(time.RFC3339, pt)
		if err != nil {
			verr.Add("pickup_time", "must be an RFC 3339 timestamp")
		} else {
			order.PickupTime = &t
		}
	}

	for _, fe := range req.FileErrors {
		verr.Add(fe.Field, fe.Message)
	}

	if err := verr.OrNil(); err != nil {
		return nil, nil, err
	}
	return lines, order, nil
}

func (s *OrderService) replay(ctx context.Context, key string) *models.OrderAggregate {
	if s.idem == nil {
		return nil
	}
	orderID, ok, err := s.idem.GetIdempotencyKey(ctx, idempotencyKey(key))
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, creating order", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	agg, err := s.store.GetOrderAggregate(ctx, orderID)
	if err != nil {
		s.logger.Warn("Idempotency key points at unreadable order",
			zap.String("order_id", orderID.String()), zap.Error(err))
		return nil
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", orderID.String()))
	return agg
}

// lockIdempotencyKey serialises requests sharing a key. Redis outages degrade
// to an unlocked create rather than an error.
func (s *OrderService) lockIdempotencyKey(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if s.idem == nil {
		return noop, nil
	}

	lockKey := "order-create:" + key
	ok, err := s.idem.AcquireLock(ctx, lockKey, idempotencyLockTTL)
	if err != nil {
		s.logger.Warn("Idempotency lock unavailable", zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, fmt.Errorf("request with this idempotency key is in progress: %w", apperr.ErrConflict)
	}
	return func() {
		if err := s.idem.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
		}
	}, nil
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order, itemCount, fileCount int) {
	if s.events == nil {
		return
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		TicketNumber:  order.TicketNumber,
		PaymentMethod: order.PaymentMethod,
		FinalAmount:   order.FinalAmount,
		ItemCount:     itemCount,
		FileCount:     fileCount,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// GetOrder retrieves an order aggregate. Callers who do not own the order
// get NotFound so foreign order ids are not disclosed.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*models.OrderAggregate, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	p := auth.FromContext(ctx)
	if p == nil {
		return nil, apperr.ErrUnauthorized
	}

	agg, err := s.store.GetOrderAggregate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owns(p, &agg.Order) {
		return nil, apperr.NotFound("order", id)
	}
	return agg, nil
}

// ListOrders returns orders visible to the caller, newest first.
func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	p := auth.FromContext(ctx)
	if p == nil {
		return nil, apperr.ErrUnauthorized
	}

	verr := &apperr.ValidationError{}
	if filter.Status != "" && !workflow.ValidStatus(filter.Status) {
		verr.Add("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.PaymentStatus != "" &&
		filter.PaymentStatus != models.PaymentStatusPending && filter.PaymentStatus != models.PaymentStatusPaid {
		verr.Add("payment_status", fmt.Sprintf("unknown payment status %q", filter.PaymentStatus))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if !p.IsStaff() {
		userID := p.UserID
		filter.UserID = nil
		filter.OwnerUserID = &userID
		filter.OwnerPhone = p.Phone
	}

	return s.store.ListOrders(ctx, filter)
}

// UpdateStatus moves an order through the fulfilment workflow. The change is
// applied only if nobody moved the order in the meantime.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, req *UpdateStatusRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer func() { util.EndSpan(span, err) }()

	if !auth.FromContext(ctx).IsStaff() {
		return nil, apperr.ErrForbidden
	}

	verr := &apperr.ValidationError{}
	if req.Status == "" {
		verr.Add("status", "status required")
	} else if !workflow.ValidStatus(req.Status) {
		verr.Add("status", fmt.Sprintf("unknown status %q", req.Status))
	}
	var assignedTo *uuid.UUID
	if a := strings.TrimSpace(req.AssignedTo); a != "" {
		staffID, err := uuid.Parse(a)
		if err != nil {
			verr.Add("assigned_to", "valid staff ID required")
		} else {
			assignedTo = &staffID
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	current, err := s.store.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := workflow.Transition(current.Status, req.Status); err != nil {
		return nil, err
	}

	order, ok, err := s.store.UpdateOrderStatus(ctx, id, current.Status, req.Status, assignedTo, req.Notes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order %s is no longer %s: %w", id, current.Status, apperr.ErrConflict)
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(order.Status).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", id.String()),
		zap.String("from", current.Status),
		zap.String("to", order.Status))

	if s.events != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent:  models.NewBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:    order.ID,
			From:       current.Status,
			To:         order.Status,
			AssignedTo: order.AssignedTo,
		}
		if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	changes := map[string]any{"status": order.Status}
	if assignedTo != nil {
		changes["assigned_to"] = assignedTo.String()
	}
	if req.Notes != nil {
		changes["notes"] = *req.Notes
	}
	s.audit.record(ctx, "ORDER_STATUS_UPDATE", "orders", id.String(), changes)

	return order, nil
}

func serviceIDs(lines []pricing.LineRequest) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ServiceID]; ok {
			continue
		}
		seen[l.ServiceID] = struct{}{}
		ids = append(ids, l.ServiceID)
	}
	return ids
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return "unknown_service"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "validation"
	case errors.Is(err, apperr.ErrAllocationExhausted):
		return "ticket_exhausted"
	default:
		return "db_error"
	}
}

func idempotencyKey(key string) string {
	return "order:" + key
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
