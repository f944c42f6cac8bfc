package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Options is an opaque key-value map stored as JSONB.
type Options map[string]any

// Value implements driver.Valuer. JSON is sent as text so the driver does
// not encode it as bytea.
func (o Options) Value() (driver.Value, error) {
	if o == nil {
		return "{}", nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (o *Options) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*o = Options{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("options: unsupported scan type %T", src)
	}
	out := Options{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	*o = out
	return nil
}

// Service is a catalog entry that order items reference.
type Service struct {
	ID             uuid.UUID           `db:"id" json:"id"`
	Name           string              `db:"name" json:"name"`
	Description    *string             `db:"description" json:"description,omitempty"`
	BasePrice      decimal.Decimal     `db:"base_price" json:"base_price"`
	MinPrice       decimal.NullDecimal `db:"min_price" json:"min_price"`
	MaxPrice       decimal.NullDecimal `db:"max_price" json:"max_price"`
	Unit           string              `db:"unit" json:"unit"`
	Category       *string             `db:"category" json:"category,omitempty"`
	DefaultOptions Options             `db:"default_options" json:"default_options"`
	Active         bool                `db:"active" json:"active"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
}

// Order is a customer's job submission.
type Order struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	UserID          uuid.NullUUID   `db:"user_id" json:"user_id"`
	TicketNumber    string          `db:"ticket_number" json:"ticket_number"`
	Status          string          `db:"status" json:"status"`
	PaymentStatus   string          `db:"payment_status" json:"payment_status"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	TaxAmount       decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	ServiceCharge   decimal.Decimal `db:"service_charge" json:"service_charge"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	FinalAmount     decimal.Decimal `db:"final_amount" json:"final_amount"`
	CustomerName    *string         `db:"customer_name" json:"customer_name,omitempty"`
	CustomerPhone   string          `db:"customer_phone" json:"customer_phone"`
	CustomerEmail   *string         `db:"customer_email" json:"customer_email,omitempty"`
	PickupTime      *time.Time      `db:"pickup_time" json:"pickup_time,omitempty"`
	DeliveryAddress *string         `db:"delivery_address" json:"delivery_address,omitempty"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	AssignedTo      uuid.NullUUID   `db:"assigned_to" json:"assigned_to"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is a priced line within an order. Immutable after creation.
type OrderItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	OrderID     uuid.UUID       `db:"order_id" json:"order_id"`
	ServiceID   uuid.UUID       `db:"service_id" json:"service_id"`
	ServiceName string          `db:"service_name" json:"service_name,omitempty"`
	Quantity    decimal.Decimal `db:"quantity" json:"quantity"`
	UnitRate    decimal.Decimal `db:"unit_rate" json:"unit_rate"`
	Subtotal    decimal.Decimal `db:"subtotal" json:"subtotal"`
	Options     Options         `db:"options" json:"options"`
}

// Attachment is an uploaded file bound to an order.
type Attachment struct {
	ID               uuid.UUID `db:"id" json:"id"`
	OrderID          uuid.UUID `db:"order_id" json:"order_id"`
	Filename         string    `db:"filename" json:"filename"`
	OriginalFilename string    `db:"original_filename" json:"original_filename"`
	FilePath         string    `db:"file_path" json:"file_path"`
	FileSize         int64     `db:"file_size" json:"file_size"`
	MimeType         string    `db:"mime_type" json:"mime_type"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// OrderAggregate is an order together with everything it owns.
type OrderAggregate struct {
	Order
	Items        []OrderItem   `json:"items"`
	Attachments  []Attachment  `json:"files"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

// Transaction records one payment attempt against an order.
type Transaction struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	OrderID           uuid.UUID       `db:"order_id" json:"order_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Method            string          `db:"method" json:"method"`
	Status            string          `db:"status" json:"status"`
	Provider          string          `db:"provider" json:"provider"`
	ProviderTxnID     *string         `db:"provider_txn_id" json:"provider_txn_id,omitempty"`
	ProviderPaymentID *string         `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	ProviderResponse  Options         `db:"provider_response" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Setting is a process-wide configuration row. Value holds the raw JSON value.
type Setting struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Description *string         `json:"description,omitempty"`
	UpdatedBy   uuid.NullUUID   `json:"updated_by"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status        string
	PaymentStatus string
	UserID        *uuid.UUID
	// OwnerUserID and OwnerPhone restrict non-staff callers to their own orders.
	OwnerUserID *uuid.UUID
	OwnerPhone  string
	Limit       int
	Offset      int
}

// ServiceFilter narrows catalog listings.
type ServiceFilter struct {
	Category string
	Search   string
	Active   *bool
}

// DashboardStats summarises the shop floor.
type DashboardStats struct {
	TodayOrders      int64           `db:"today_orders" json:"today_orders"`
	PendingOrders    int64           `db:"pending_orders" json:"pending_orders"`
	InProgressOrders int64           `db:"in_progress_orders" json:"in_progress_orders"`
	ReadyOrders      int64           `db:"ready_orders" json:"ready_orders"`
	TodayRevenue     decimal.Decimal `db:"today_revenue" json:"today_revenue"`
	TotalRevenue     decimal.Decimal `db:"total_revenue" json:"total_revenue"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusInProgress = "in_progress"
	OrderStatusReady      = "ready"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// Order payment statuses
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

// Payment methods chosen at submission
const (
	PaymentMethodOnline   = "online"
	PaymentMethodCash     = "cash"
	PaymentMethodPayLater = "pay_later"
)

// Transaction statuses
const (
	TxnStatusPending = "pending"
	TxnStatusSuccess = "success"
	TxnStatusFailed  = "failed"
)

// Transaction methods
const (
	TxnMethodOnline = "online"
	TxnMethodCash   = "cash"
	TxnMethodManual = "manual"
)

// ProviderManual marks transactions recorded by staff without a gateway.
const ProviderManual = "manual"

// Setting keys read by pricing
const (
	SettingTaxPercentage = "tax_percentage"
	SettingServiceCharge = "service_charge"
)

// ValidPaymentMethod reports whether m is accepted at submission.
func ValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodOnline, PaymentMethodCash, PaymentMethodPayLater:
		return true
	}
	return false
}
