package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"printshop/internal/apperr"
	"printshop/internal/auth"
	"printshop/internal/models"
	"printshop/internal/payments"
	"printshop/internal/store"
	"printshop/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultProviderTimeout = 10 * time.Second

// PaymentService reconciles order payment state with the payment provider
type PaymentService struct {
	store    PaymentStore
	provider payments.Provider
	events   EventSink
	audit    auditor
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service. Provider calls are bounded by timeout.
func NewPaymentService(store PaymentStore, provider payments.Provider, events EventSink, timeout time.Duration) *PaymentService {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	logger := util.GetLogger()
	return &PaymentService{
		store:    store,
		provider: provider,
		events:   events,
		audit:    auditor{events: events, logger: logger},
		timeout:  timeout,
		logger:   logger,
	}
}

// IntentResponse is the pending transaction plus what the client needs to
// open the provider checkout.
type IntentResponse struct {
	Transaction     *models.Transaction `json:"transaction"`
	Provider        string              `json:"provider"`
	ProviderOrderID string              `json:"provider_order_id"`
	Key             string              `json:"key,omitempty"`
	ClientSecret    string              `json:"client_secret,omitempty"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
}

// SettleResponse reports the outcome of a callback or webhook.
type SettleResponse struct {
	Transaction      *models.Transaction `json:"transaction,omitempty"`
	AlreadyProcessed bool                `json:"already_processed"`
}

// WebhookResponse acknowledges a provider notification.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Event    string `json:"event"`
	SettleResponse
}

// CashResponse is the recorded cash transaction and the updated order.
type CashResponse struct {
	Transaction *models.Transaction `json:"transaction"`
	Order       *models.Order       `json:"order"`
}

// Provider returns the configured payment provider.
func (s *PaymentService) Provider() payments.Provider {
	return s.provider
}

// CreateIntent opens a provider intent for the full order amount. The claimed
// amount must equal the stored total exactly.
func (s *PaymentService) CreateIntent(ctx context.Context, orderID uuid.UUID, claimed decimal.Decimal) (resp *IntentResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateIntent")
	defer func() { util.EndSpan(span, err) }()

	p := auth.FromContext(ctx)
	if p == nil {
		return nil, apperr.ErrUnauthorized
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !owns(p, order) {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrForbidden)
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, fmt.Errorf("order %s is already paid: %w", orderID, apperr.ErrConflict)
	}
	if !claimed.Equal(order.FinalAmount) {
		util.PaymentIntentsTotal.WithLabelValues(s.provider.Name(), "amount_mismatch").Inc()
		return nil, fmt.Errorf("claimed %s, order total %s: %w", claimed, order.FinalAmount, apperr.ErrAmountMismatch)
	}

	intent, err := s.createProviderIntent(ctx, order)
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues(s.provider.Name(), "provider_error").Inc()
		s.logger.Error("Payment provider intent failed",
			zap.String("order_id", orderID.String()),
			zap.String("provider", s.provider.Name()),
			zap.Error(err))
		return nil, fmt.Errorf("create %s intent: %w: %w", s.provider.Name(), apperr.ErrProviderUnavailable, err)
	}

	intentID := intent.ID
	txn := &models.Transaction{
		OrderID:          order.ID,
		Amount:           order.FinalAmount,
		Method:           models.TxnMethodOnline,
		Status:           models.TxnStatusPending,
		Provider:         s.provider.Name(),
		ProviderTxnID:    &intentID,
		ProviderResponse: models.Options(intent.Raw),
	}
	if err := s.store.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	util.PaymentIntentsTotal.WithLabelValues(s.provider.Name(), "created").Inc()
	s.logger.Info("Payment intent created",
		zap.String("order_id", orderID.String()),
		zap.String("provider_order_id", intent.ID))

	s.publishPayment(ctx, models.EventTypePaymentIntent, txn)
	s.audit.record(ctx, "PAYMENT_CREATE", "transactions", txn.ID.String(), nil)

	return &IntentResponse{
		Transaction:     txn,
		Provider:        s.provider.Name(),
		ProviderOrderID: intent.ID,
		Key:             intent.PublicKey,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.AmountMinor,
		Currency:        intent.Currency,
	}, nil
}

func (s *PaymentService) createProviderIntent(ctx context.Context, order *models.Order) (payments.Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		util.PaymentProviderLatency.Observe(time.Since(start).Seconds())
	}()

	return s.provider.CreateIntent(ctx, payments.IntentRequest{
		OrderID: order.ID,
		Receipt: order.TicketNumber,
		Amount:  order.FinalAmount,
		Notes: map[string]string{
			"order_id":      order.ID.String(),
			"ticket_number": order.TicketNumber,
		},
	})
}

// VerifyCallback checks the signature relayed by the client after checkout
// and marks the transaction and order paid. Replays succeed with
// AlreadyProcessed set.
func (s *PaymentService) VerifyCallback(ctx context.Context, providerOrderID, providerPaymentID, signature string) (resp *SettleResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyCallback")
	defer func() { util.EndSpan(span, err) }()

	if err := s.provider.VerifyCallback(providerOrderID, providerPaymentID, signature); err != nil {
		if errors.Is(err, payments.ErrUnsupported) {
			return nil, fmt.Errorf("%s confirms payments by webhook only: %w", s.provider.Name(), apperr.ErrInvalidInput)
		}
		s.logger.Warn("Rejected payment callback",
			zap.String("provider_order_id", providerOrderID), zap.Error(err))
		return nil, err
	}

	return s.capture(ctx, providerOrderID, providerPaymentID, "callback")
}

// VerifyWebhook authenticates a raw provider notification and applies it.
// Deliveries for unknown intents are acknowledged so the provider stops retrying.
func (s *PaymentService) VerifyWebhook(ctx context.Context, payload []byte, signature string) (resp *WebhookResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyWebhook")
	defer func() { util.EndSpan(span, err) }()

	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		s.logger.Warn("Rejected payment webhook", zap.Error(err))
		return nil, err
	}

	resp = &WebhookResponse{Received: true, Event: event.Type}

	var settled *SettleResponse
	switch event.Kind {
	case payments.EventCaptured:
		settled, err = s.capture(ctx, event.IntentID, event.PaymentID, "webhook")
	case payments.EventFailed:
		settled, err = s.fail(ctx, event.IntentID, event.PaymentID)
	default:
		s.logger.Debug("Ignoring payment webhook", zap.String("event", event.Type))
		return resp, nil
	}

	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("Payment webhook for unknown intent",
			zap.String("event", event.Type),
			zap.String("provider_order_id", event.IntentID))
		return resp, nil
	}
	if errors.Is(err, apperr.ErrConflict) {
		s.logger.Warn("Payment webhook for a failed attempt",
			zap.String("event", event.Type),
			zap.String("provider_order_id", event.IntentID),
			zap.Error(err))
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	resp.SettleResponse = *settled
	return resp, nil
}

// capture moves the intent's transaction to success and the order to paid.
// The order row is locked first so cash and online settlement serialise.
func (s *PaymentService) capture(ctx context.Context, intentID, paymentID, source string) (*SettleResponse, error) {
	resp := &SettleResponse{}

	err := s.store.WithTx(ctx, func(tx store.Txn) error {
		txn, err := tx.GetTransactionByProviderTxnID(ctx, intentID)
		if err != nil {
			return err
		}
		order, err := tx.GetOrderForUpdate(ctx, txn.OrderID)
		if err != nil {
			return err
		}

		resp.Transaction = txn
		ok, err := tx.MarkTransactionSucceeded(ctx, txn.ID, paymentID, models.Options{
			"source":     source,
			"payment_id": paymentID,
		})
		if err != nil {
			return err
		}
		if !ok {
			current, err := tx.GetTransactionByProviderTxnID(ctx, intentID)
			if err != nil {
				return err
			}
			if current.Status == models.TxnStatusFailed {
				return fmt.Errorf("payment attempt %s already failed: %w", intentID, apperr.ErrConflict)
			}
			resp.Transaction = current
			resp.AlreadyProcessed = true
			return nil
		}
		txn.Status = models.TxnStatusSuccess
		if paymentID != "" {
			txn.ProviderPaymentID = &paymentID
		}

		if order.PaymentStatus == models.PaymentStatusPaid {
			s.logger.Warn("Captured payment for an order that was already paid",
				zap.String("order_id", order.ID.String()),
				zap.String("transaction_id", txn.ID.String()))
			return nil
		}
		_, err = tx.MarkOrderPaid(ctx, order.ID, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	if resp.AlreadyProcessed {
		util.PaymentReplaysTotal.WithLabelValues(source).Inc()
		s.logger.Info("Payment already processed",
			zap.String("provider_order_id", intentID),
			zap.String("source", source))
		return resp, nil
	}

	util.PaymentSuccessTotal.WithLabelValues(models.TxnMethodOnline).Inc()
	s.logger.Info("Payment captured",
		zap.String("order_id", resp.Transaction.OrderID.String()),
		zap.String("provider_order_id", intentID),
		zap.String("source", source))

	s.publishPayment(ctx, models.EventTypePaymentCaptured, resp.Transaction)
	s.audit.record(ctx, "PAYMENT_VERIFY", "transactions", resp.Transaction.ID.String(),
		map[string]any{"payment_id": paymentID, "source": source})
	return resp, nil
}

// fail records a provider-reported failure on a still pending transaction.
func (s *PaymentService) fail(ctx context.Context, intentID, paymentID string) (*SettleResponse, error) {
	resp := &SettleResponse{}

	err := s.store.WithTx(ctx, func(tx store.Txn) error {
		txn, err := tx.GetTransactionByProviderTxnID(ctx, intentID)
		if err != nil {
			return err
		}
		resp.Transaction = txn
		ok, err := tx.MarkTransactionFailed(ctx, txn.ID, paymentID, models.Options{
			"source":     "webhook",
			"payment_id": paymentID,
		})
		if err != nil {
			return err
		}
		if !ok {
			resp.AlreadyProcessed = true
			return nil
		}
		txn.Status = models.TxnStatusFailed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.AlreadyProcessed {
		util.PaymentReplaysTotal.WithLabelValues("webhook").Inc()
		return resp, nil
	}

	util.PaymentFailedTotal.Inc()
	s.logger.Info("Payment failed",
		zap.String("order_id", resp.Transaction.OrderID.String()),
		zap.String("provider_order_id", intentID))
	s.publishPayment(ctx, models.EventTypePaymentFailed, resp.Transaction)
	return resp, nil
}

// RecordCashPayment marks an order paid at the counter.
func (s *PaymentService) RecordCashPayment(ctx context.Context, orderID uuid.UUID) (resp *CashResponse, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RecordCashPayment")
	defer func() { util.EndSpan(span, err) }()

	if !auth.FromContext(ctx).IsStaff() {
		return nil, apperr.ErrForbidden
	}

	resp = &CashResponse{}
	err = s.store.WithTx(ctx, func(tx store.Txn) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == models.PaymentStatusPaid {
			return fmt.Errorf("order %s is already paid: %w", orderID, apperr.ErrConflict)
		}

		txn := &models.Transaction{
			OrderID:          order.ID,
			Amount:           order.FinalAmount,
			Method:           models.TxnMethodCash,
			Status:           models.TxnStatusSuccess,
			Provider:         models.ProviderManual,
			ProviderResponse: models.Options{},
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		if _, err := tx.MarkOrderPaid(ctx, order.ID, models.PaymentMethodCash); err != nil {
			return err
		}

		order.PaymentStatus = models.PaymentStatusPaid
		order.PaymentMethod = models.PaymentMethodCash
		resp.Order = order
		resp.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.PaymentSuccessTotal.WithLabelValues(models.TxnMethodCash).Inc()
	s.logger.Info("Cash payment recorded",
		zap.String("order_id", orderID.String()),
		zap.String("amount", resp.Transaction.Amount.String()))

	s.publishPayment(ctx, models.EventTypePaymentCaptured, resp.Transaction)
	s.audit.record(ctx, "PAYMENT_CASH", "transactions", resp.Transaction.ID.String(), nil)
	return resp, nil
}

func (s *PaymentService) publishPayment(ctx context.Context, eventType string, txn *models.Transaction) {
	if s.events == nil {
		return
	}
	event := &models.PaymentEvent{
		BaseEvent:     models.NewBaseEvent(eventType),
		OrderID:       txn.OrderID,
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Method:        txn.Method,
		Provider:      txn.Provider,
	}
	if txn.ProviderTxnID != nil {
		event.ProviderTxnID = *txn.ProviderTxnID
	}
	if err := s.events.PublishPayment(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment event",
			zap.String("event_type", eventType), zap.Error(err))
	}
}
