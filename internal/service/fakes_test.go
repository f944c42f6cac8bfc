package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"printshop/internal/apperr"
	"printshop/internal/auth"
	"printshop/internal/models"
	"printshop/internal/payments"
	"printshop/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for *store.Store. WithTx serialises
// transactions and restores a snapshot when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	services map[uuid.UUID]models.Service
	settings map[string]json.RawMessage
	orders   map[uuid.UUID]models.Order
	items    []models.OrderItem
	files    []models.Attachment
	txns     []models.Transaction

	// hideTickets makes TicketExists always miss so collisions reach the insert.
	hideTickets   bool
	failItemAfter int
	itemInserts   int
	failAttach    error
}

var (
	_ store.Txn     = (*memStore)(nil)
	_ OrderStore    = (*memStore)(nil)
	_ PaymentStore  = (*memStore)(nil)
	_ CatalogStore  = (*memStore)(nil)
	_ SettingsStore = (*memStore)(nil)
)

var errInjected = errors.New("injected failure")

func newMemStore() *memStore {
	return &memStore{
		services: map[uuid.UUID]models.Service{},
		settings: map[string]json.RawMessage{},
		orders:   map[uuid.UUID]models.Order{},
	}
}

func (m *memStore) addService(name, base string) models.Service {
	svc := models.Service{
		ID:        uuid.New(),
		Name:      name,
		BasePrice: decimal.RequireFromString(base),
		Unit:      "per page",
		Active:    true,
	}
	m.mu.Lock()
	m.services[svc.ID] = svc
	m.mu.Unlock()
	return svc
}

func (m *memStore) setSetting(key, raw string) {
	m.mu.Lock()
	m.settings[key] = json.RawMessage(raw)
	m.mu.Unlock()
}

type memSnapshot struct {
	orders map[uuid.UUID]models.Order
	items  []models.OrderItem
	files  []models.Attachment
	txns   []models.Transaction
}

func (m *memStore) WithTx(ctx context.Context, fn func(store.Txn) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := memSnapshot{
		orders: make(map[uuid.UUID]models.Order, len(m.orders)),
		items:  append([]models.OrderItem(nil), m.items...),
		files:  append([]models.Attachment(nil), m.files...),
		txns:   append([]models.Transaction(nil), m.txns...),
	}
	for k, v := range m.orders {
		snap.orders[k] = v
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.orders, m.items, m.files, m.txns = snap.orders, snap.items, snap.files, snap.txns
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) GetServicesByIDs(_ context.Context, ids []uuid.UUID) ([]models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Service
	for _, id := range ids {
		if svc, ok := m.services[id]; ok {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (m *memStore) GetSettingValues(_ context.Context, keys ...string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]json.RawMessage{}
	for _, k := range keys {
		if v, ok := m.settings[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memStore) TicketExists(_ context.Context, ticket string) (bool, error) {
	if m.hideTickets {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.TicketNumber == ticket {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.TicketNumber == order.TicketNumber {
			return store.ErrDuplicateTicket
		}
	}
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = *order
	return nil
}

func (m *memStore) InsertOrderItem(_ context.Context, item *models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.itemInserts++
	if m.failItemAfter > 0 && m.itemInserts > m.failItemAfter {
		return apperr.Storage("insert order item", errInjected)
	}
	item.ID = uuid.New()
	m.items = append(m.items, *item)
	return nil
}

func (m *memStore) InsertAttachment(_ context.Context, file *models.Attachment) error {
	if m.failAttach != nil {
		return m.failAttach
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	file.ID = uuid.New()
	m.files = append(m.files, *file)
	return nil
}

func (m *memStore) GetOrderByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return &o, nil
}

func (m *memStore) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return m.GetOrderByID(ctx, id)
}

func (m *memStore) GetOrderAggregate(ctx context.Context, id uuid.UUID) (*models.OrderAggregate, error) {
	order, err := m.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := &models.OrderAggregate{Order: *order, Items: []models.OrderItem{}, Attachments: []models.Attachment{}}
	for _, it := range m.items {
		if it.OrderID == id {
			agg.Items = append(agg.Items, it)
		}
	}
	for _, f := range m.files {
		if f.OrderID == id {
			agg.Attachments = append(agg.Attachments, f)
		}
	}
	for _, t := range m.txns {
		if t.OrderID == id {
			agg.Transactions = append(agg.Transactions, t)
		}
	}
	return agg, nil
}

func (m *memStore) ListOrders(_ context.Context, f models.OrderFilter) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.UserID != nil && (!o.UserID.Valid || o.UserID.UUID != *f.UserID) {
			continue
		}
		if f.OwnerUserID != nil || f.OwnerPhone != "" {
			byUser := f.OwnerUserID != nil && o.UserID.Valid && o.UserID.UUID == *f.OwnerUserID
			byPhone := f.OwnerPhone != "" && o.CustomerPhone == f.OwnerPhone
			if !byUser && !byPhone {
				continue
			}
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset >= len(out) {
		return []models.Order{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, id uuid.UUID, from, to string, assignedTo *uuid.UUID, notes *string) (*models.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return nil, false, nil
	}
	o.Status = to
	if assignedTo != nil {
		o.AssignedTo = uuid.NullUUID{UUID: *assignedTo, Valid: true}
	}
	if notes != nil {
		o.Notes = notes
	}
	m.orders[id] = o
	return &o, true, nil
}

func (m *memStore) MarkOrderPaid(_ context.Context, orderID uuid.UUID, method string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.PaymentStatus == models.PaymentStatusPaid {
		return false, nil
	}
	o.PaymentStatus = models.PaymentStatusPaid
	if method != "" {
		o.PaymentMethod = method
	}
	m.orders[orderID] = o
	return true, nil
}

func (m *memStore) InsertTransaction(_ context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn.ID = uuid.New()
	txn.CreatedAt = time.Now()
	m.txns = append(m.txns, *txn)
	return nil
}

func (m *memStore) GetTransactionByProviderTxnID(_ context.Context, providerTxnID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.txns) - 1; i >= 0; i-- {
		t := m.txns[i]
		if t.ProviderTxnID != nil && *t.ProviderTxnID == providerTxnID {
			return &t, nil
		}
	}
	return nil, apperr.NotFound("transaction", providerTxnID)
}

func (m *memStore) MarkTransactionSucceeded(_ context.Context, id uuid.UUID, paymentID string, _ models.Options) (bool, error) {
	return m.settle(id, models.TxnStatusSuccess, paymentID, models.TxnStatusPending), nil
}

func (m *memStore) MarkTransactionFailed(_ context.Context, id uuid.UUID, paymentID string, _ models.Options) (bool, error) {
	return m.settle(id, models.TxnStatusFailed, paymentID, models.TxnStatusPending), nil
}

func (m *memStore) settle(id uuid.UUID, status, paymentID string, from ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.txns {
		if m.txns[i].ID != id {
			continue
		}
		for _, f := range from {
			if m.txns[i].Status == f {
				m.txns[i].Status = status
				if paymentID != "" {
					p := paymentID
					m.txns[i].ProviderPaymentID = &p
				}
				return true
			}
		}
		return false
	}
	return false
}

func (m *memStore) transactionsFor(orderID uuid.UUID) []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.txns {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out
}

func (m *memStore) counts() (orders, items, files, txns int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders), len(m.items), len(m.files), len(m.txns)
}

func (m *memStore) ListServices(_ context.Context, f models.ServiceFilter) ([]models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Service{}
	for _, s := range m.services {
		if f.Active != nil && s.Active != *f.Active {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetService(_ context.Context, id uuid.UUID) (*models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return nil, apperr.NotFound("service", id)
	}
	return &s, nil
}

func (m *memStore) CreateService(_ context.Context, svc *models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc.ID = uuid.New()
	m.services[svc.ID] = *svc
	return nil
}

func (m *memStore) UpdateService(_ context.Context, svc *models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[svc.ID]; !ok {
		return apperr.NotFound("service", svc.ID)
	}
	m.services[svc.ID] = *svc
	return nil
}

func (m *memStore) DeleteService(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[id]; !ok {
		return apperr.NotFound("service", id)
	}
	for _, it := range m.items {
		if it.ServiceID == id {
			return apperr.ErrConflict
		}
	}
	delete(m.services, id)
	return nil
}

func (m *memStore) ListSettings(_ context.Context) ([]models.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Setting{}
	for k, v := range m.settings {
		out = append(out, models.Setting{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) UpsertSetting(_ context.Context, key string, value json.RawMessage, description *string, updatedBy uuid.NullUUID) (*models.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return &models.Setting{Key: key, Value: value, Description: description, UpdatedBy: updatedBy, UpdatedAt: time.Now()}, nil
}

func (m *memStore) DashboardStats(_ context.Context) (*models.DashboardStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.DashboardStats{}
	for _, o := range m.orders {
		stats.TodayOrders++
		switch o.Status {
		case models.OrderStatusPending:
			stats.PendingOrders++
		case models.OrderStatusInProgress:
			stats.InProgressOrders++
		case models.OrderStatusReady:
			stats.ReadyOrders++
		}
		if o.PaymentStatus == models.PaymentStatusPaid {
			stats.TodayRevenue = stats.TodayRevenue.Add(o.FinalAmount)
			stats.TotalRevenue = stats.TotalRevenue.Add(o.FinalAmount)
		}
	}
	return stats, nil
}

// fakeEvents records published events.
type fakeEvents struct {
	mu      sync.Mutex
	err     error
	created []*models.OrderCreatedEvent
	status  []*models.OrderStatusChangedEvent
	payment []*models.PaymentEvent
	audits  []*models.AuditEvent
}

func (f *fakeEvents) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return f.err
}

func (f *fakeEvents) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = append(f.status, e)
	return f.err
}

func (f *fakeEvents) PublishPayment(_ context.Context, e *models.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payment = append(f.payment, e)
	return f.err
}

func (f *fakeEvents) PublishAudit(_ context.Context, e *models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, e)
	return f.err
}

func (f *fakeEvents) auditActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.audits {
		out = append(out, a.Action)
	}
	return out
}

// fakeIdem is an in-memory idempotency store.
type fakeIdem struct {
	mu    sync.Mutex
	err   error
	keys  map[string]uuid.UUID
	locks map[string]bool
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{keys: map[string]uuid.UUID{}, locks: map[string]bool{}}
}

func (f *fakeIdem) GetIdempotencyKey(_ context.Context, key string) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, false, f.err
	}
	id, ok := f.keys[key]
	return id, ok, nil
}

func (f *fakeIdem) SetIdempotencyKey(_ context.Context, key string, orderID uuid.UUID, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys[key] = orderID
	return nil
}

func (f *fakeIdem) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.locks[key] {
		return false, nil
	}
	f.locks[key] = true
	return true, nil
}

func (f *fakeIdem) ReleaseLock(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, key)
	return nil
}

const (
	testKeySecret     = "rzp_secret"
	testWebhookSecret = "whsec_test"
)

// fakeProvider keeps the real Razorpay signature handling and replaces the
// network call that opens an order.
type fakeProvider struct {
	*payments.RazorpayProvider

	mu      sync.Mutex
	calls   int
	err     error
	delay   time.Duration
	lastReq payments.IntentRequest
}

func newFakeProvider() *fakeProvider {
	rp, err := payments.NewRazorpayProvider(payments.RazorpayConfig{
		KeyID:         "rzp_test_key",
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
	})
	if err != nil {
		panic(err)
	}
	return &fakeProvider{RazorpayProvider: rp}
}

func (f *fakeProvider) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	n := f.calls
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return payments.Intent{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return payments.Intent{}, f.err
	}
	id := fmt.Sprintf("order_test%d", n)
	return payments.Intent{
		ID:          id,
		Provider:    payments.ProviderRazorpay,
		PublicKey:   "rzp_test_key",
		AmountMinor: payments.MinorUnits(req.Amount),
		Currency:    "INR",
		Raw:         map[string]any{"id": id, "status": "created"},
	}, nil
}

func staffCtx() context.Context {
	return auth.WithPrincipal(context.Background(), &auth.Principal{UserID: uuid.New(), Role: auth.RoleStaff})
}

func customerCtx(phone string) (context.Context, uuid.UUID) {
	id := uuid.New()
	return auth.WithPrincipal(context.Background(), &auth.Principal{UserID: id, Role: auth.RoleCustomer, Phone: phone}), id
}
