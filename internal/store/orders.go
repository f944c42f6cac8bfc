package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"printshop/internal/apperr"
	"printshop/internal/models"

	"github.com/google/uuid"
)

const orderColumns = `id, user_id, ticket_number, status, payment_status, payment_method,
	subtotal, tax_amount, service_charge, discount_amount, final_amount,
	customer_name, customer_phone, customer_email, pickup_time, delivery_address, notes,
	assigned_to, created_at, updated_at`

// TicketExists reports whether any order already carries ticket
func (s *queries) TicketExists(ctx context.Context, ticket string) (bool, error) {
	var exists bool
	err := s.q.QueryRowxContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE ticket_number = $1)", ticket).Scan(&exists)
	if err != nil {
		return false, apperr.Storage("check ticket", err)
	}
	return exists, nil
}

// InsertOrder creates a new order. A ticket number collision returns
// ErrDuplicateTicket without aborting the surrounding transaction.
func (s *queries) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, ticket_number, status, payment_status, payment_method,
			subtotal, tax_amount, service_charge, discount_amount, final_amount,
			customer_name, customer_phone, customer_email, pickup_time, delivery_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (ticket_number) DO NOTHING
		RETURNING id, created_at, updated_at`

	row := s.q.QueryRowxContext(ctx, query,
		order.UserID, order.TicketNumber, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.Subtotal, order.TaxAmount, order.ServiceCharge, order.DiscountAmount, order.FinalAmount,
		order.CustomerName, order.CustomerPhone, order.CustomerEmail, order.PickupTime,
		order.DeliveryAddress, order.Notes)

	err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateTicket
	}
	if code, constraint := pqCode(err); code == pqUniqueViolation && constraint == ticketConstraint {
		return ErrDuplicateTicket
	}
	if err != nil {
		return apperr.Storage("insert order", err)
	}
	return nil
}

// InsertOrderItem creates a new order item
func (s *queries) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, service_id, quantity, unit_rate, subtotal, options)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.q.QueryRowxContext(ctx, query,
		item.OrderID, item.ServiceID, item.Quantity, item.UnitRate, item.Subtotal, item.Options).Scan(&item.ID)
	if err != nil {
		return apperr.Storage("insert order item", err)
	}
	return nil
}

// InsertAttachment records an uploaded file against its order
func (s *queries) InsertAttachment(ctx context.Context, file *models.Attachment) error {
	query := `
		INSERT INTO files (order_id, filename, original_filename, file_path, file_size, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := s.q.QueryRowxContext(ctx, query,
		file.OrderID, file.Filename, file.OriginalFilename, file.FilePath, file.FileSize, file.MimeType).
		Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return apperr.Storage("insert attachment", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *queries) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := getOne(ctx, s.q, &order, "order", id,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderForUpdate retrieves an order and locks its row until the transaction ends
func (s *queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := getOne(ctx, s.q, &order, "order", id,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderAggregate loads an order with its items, files and payment attempts
func (s *queries) GetOrderAggregate(ctx context.Context, id uuid.UUID) (*models.OrderAggregate, error) {
	order, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	agg := &models.OrderAggregate{
		Order:       *order,
		Items:       []models.OrderItem{},
		Attachments: []models.Attachment{},
	}

	err = s.selectInto(ctx, &agg.Items, `
		SELECT oi.id, oi.order_id, oi.service_id, s.name AS service_name,
			oi.quantity, oi.unit_rate, oi.subtotal, oi.options
		FROM order_items oi
		JOIN services s ON s.id = oi.service_id
		WHERE oi.order_id = $1
		ORDER BY s.name, oi.id`, id)
	if err != nil {
		return nil, apperr.Storage("list order items", err)
	}

	err = s.selectInto(ctx, &agg.Attachments, `
		SELECT id, order_id, filename, original_filename, file_path, file_size, mime_type, created_at
		FROM files WHERE order_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, apperr.Storage("list attachments", err)
	}

	agg.Transactions, err = s.ListTransactions(ctx, id)
	if err != nil {
		return nil, err
	}

	return agg, nil
}

// ListOrders retrieves orders matching filter, newest first
func (s *queries) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.PaymentStatus != "" {
		where = append(where, "payment_status = ?")
		args = append(args, filter.PaymentStatus)
	}
	if filter.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.OwnerUserID != nil || filter.OwnerPhone != "" {
		var owner []string
		if filter.OwnerUserID != nil {
			owner = append(owner, "user_id = ?")
			args = append(args, *filter.OwnerUserID)
		}
		if filter.OwnerPhone != "" {
			owner = append(owner, "customer_phone = ?")
			args = append(args, filter.OwnerPhone)
		}
		where = append(where, "("+strings.Join(owner, " OR ")+")")
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	orders := []models.Order{}
	if err := s.selectInto(ctx, &orders, s.q.Rebind(query), args...); err != nil {
		return nil, apperr.Storage("list orders", err)
	}
	return orders, nil
}

// UpdateOrderStatus moves an order to status only if it is still in from.
// assignedTo and notes are kept when nil. It reports whether the row changed.
func (s *queries) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to string, assignedTo *uuid.UUID, notes *string) (*models.Order, bool, error) {
	var order models.Order
	err := s.get(ctx, &order, `
		UPDATE orders
		SET status = $3,
			assigned_to = COALESCE($4, assigned_to),
			notes = COALESCE($5, notes),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns,
		id, from, to, assignedTo, notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Storage("update order status", err)
	}
	return &order, true, nil
}

// MarkOrderPaid flips payment_status to paid unless it already is. A non-empty
// method also overwrites payment_method.
func (s *queries) MarkOrderPaid(ctx context.Context, orderID uuid.UUID, method string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'paid',
			payment_method = COALESCE(NULLIF($2, ''), payment_method),
			updated_at = NOW()
		WHERE id = $1 AND payment_status <> 'paid'`,
		orderID, method)
	return rowsChanged(res, err, "mark order paid")
}

// DashboardStats summarises today's activity and revenue from paid orders
func (s *queries) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	err := s.get(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM orders WHERE created_at::date = CURRENT_DATE) AS today_orders,
			(SELECT COUNT(*) FROM orders WHERE status = 'pending') AS pending_orders,
			(SELECT COUNT(*) FROM orders WHERE status = 'in_progress') AS in_progress_orders,
			(SELECT COUNT(*) FROM orders WHERE status = 'ready') AS ready_orders,
			(SELECT COALESCE(SUM(final_amount), 0) FROM orders
				WHERE created_at::date = CURRENT_DATE AND payment_status = 'paid') AS today_revenue,
			(SELECT COALESCE(SUM(final_amount), 0) FROM orders WHERE payment_status = 'paid') AS total_revenue`)
	if err != nil {
		return nil, apperr.Storage("dashboard stats", err)
	}
	return &stats, nil
}
