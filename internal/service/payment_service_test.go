package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"printshop/internal/apperr"
	"printshop/internal/models"
	"printshop/internal/payments"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	store    *memStore
	events   *fakeEvents
	provider *fakeProvider
	svc      *PaymentService
	order    *models.OrderAggregate
	owner    context.Context
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	orders := newOrderFixture(t)
	agg, err := orders.svc.CreateOrder(context.Background(), orders.request(t))
	require.NoError(t, err)

	f := &paymentFixture{
		store:    orders.store,
		events:   &fakeEvents{},
		provider: newFakeProvider(),
		order:    agg,
	}
	f.owner, _ = customerCtx(agg.CustomerPhone)
	f.svc = NewPaymentService(f.store, f.provider, f.events, time.Second)
	return f
}

func (f *paymentFixture) openIntent(t *testing.T) *IntentResponse {
	t.Helper()
	resp, err := f.svc.CreateIntent(f.owner, f.order.ID, f.order.FinalAmount)
	require.NoError(t, err)
	return resp
}

func (f *paymentFixture) paymentStatus(t *testing.T) string {
	t.Helper()
	o, err := f.store.GetOrderByID(context.Background(), f.order.ID)
	require.NoError(t, err)
	return o.PaymentStatus
}

func webhookBody(event, intentID, paymentID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"order_id":%q}}}}`,
		event, paymentID, intentID))
}

func TestCreateIntent(t *testing.T) {
	f := newPaymentFixture(t)

	resp := f.openIntent(t)
	assert.Equal(t, payments.ProviderRazorpay, resp.Provider)
	assert.Equal(t, "order_test1", resp.ProviderOrderID)
	assert.Equal(t, "rzp_test_key", resp.Key)
	assert.Equal(t, int64(5450), resp.Amount)

	txns := f.store.transactionsFor(f.order.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, models.TxnStatusPending, txns[0].Status)
	assert.Equal(t, models.TxnMethodOnline, txns[0].Method)
	assert.True(t, f.order.FinalAmount.Equal(txns[0].Amount))
	assert.Equal(t, "order_test1", *txns[0].ProviderTxnID)

	assert.Equal(t, f.order.TicketNumber, f.provider.lastReq.Receipt)
	assert.Equal(t, models.PaymentStatusPending, f.paymentStatus(t))
	assert.Contains(t, f.events.auditActions(), "PAYMENT_CREATE")
}

func TestCreateIntentAmountMismatch(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.CreateIntent(f.owner, f.order.ID, f.order.FinalAmount.Sub(decimal.RequireFromString("0.01")))
	assert.ErrorIs(t, err, apperr.ErrAmountMismatch)

	assert.Empty(t, f.store.transactionsFor(f.order.ID))
	assert.Zero(t, f.provider.calls)
}

func TestCreateIntentAccessControl(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.CreateIntent(context.Background(), f.order.ID, f.order.FinalAmount)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	stranger, _ := customerCtx("9122222222")
	_, err = f.svc.CreateIntent(stranger, f.order.ID, f.order.FinalAmount)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.CreateIntent(f.owner, uuid.New(), f.order.FinalAmount)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.CreateIntent(staffCtx(), f.order.ID, f.order.FinalAmount)
	assert.NoError(t, err)
}

func TestCreateIntentProviderFailure(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.provider.err = errors.New("502 bad gateway")

		_, err := f.svc.CreateIntent(f.owner, f.order.ID, f.order.FinalAmount)
		assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)
		assert.Empty(t, f.store.transactionsFor(f.order.ID))
	})

	t.Run("timeout", func(t *testing.T) {
		f := newPaymentFixture(t)
		f.provider.delay = time.Second
		f.svc = NewPaymentService(f.store, f.provider, f.events, 20*time.Millisecond)

		_, err := f.svc.CreateIntent(f.owner, f.order.ID, f.order.FinalAmount)
		assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, f.store.transactionsFor(f.order.ID))
	})
}

func TestCreateIntentOnPaidOrder(t *testing.T) {
	f := newPaymentFixture(t)
	_, err := f.svc.RecordCashPayment(staffCtx(), f.order.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateIntent(f.owner, f.order.ID, f.order.FinalAmount)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Zero(t, f.provider.calls)
}

func TestVerifyCallback(t *testing.T) {
	f := newPaymentFixture(t)
	intent := f.openIntent(t)
	sig := payments.Sign(testKeySecret, payments.CallbackPayload(intent.ProviderOrderID, "pay_1"))

	resp, err := f.svc.VerifyCallback(context.Background(), intent.ProviderOrderID, "pay_1", sig)
	require.NoError(t, err)
	assert.False(t, resp.AlreadyProcessed)
	assert.Equal(t, models.TxnStatusSuccess, resp.Transaction.Status)
	assert.Equal(t, "pay_1", *resp.Transaction.ProviderPaymentID)
	assert.Equal(t, models.PaymentStatusPaid, f.paymentStatus(t))

	again, err := f.svc.VerifyCallback(context.Background(), intent.ProviderOrderID, "pay_1", sig)
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)

	var captured int
	for _, e := range f.events.payment {
		if e.EventType == models.EventTypePaymentCaptured {
			captured++
		}
	}
	assert.Equal(t, 1, captured)
}

func TestVerifyCallbackRejectsBadSignature(t *testing.T) {
	f := newPaymentFixture(t)
	intent := f.openIntent(t)
	sig := payments.Sign("wrong-secret", payments.CallbackPayload(intent.ProviderOrderID, "pay_1"))

	_, err := f.svc.VerifyCallback(context.Background(), intent.ProviderOrderID, "pay_1", sig)
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)

	txns := f.store.transactionsFor(f.order.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, models.TxnStatusPending, txns[0].Status)
	assert.Equal(t, models.PaymentStatusPending, f.paymentStatus(t))
}

type webhookOnlyProvider struct {
	*fakeProvider
}

func (webhookOnlyProvider) VerifyCallback(string, string, string) error {
	return payments.ErrUnsupported
}

func TestVerifyCallbackUnsupported(t *testing.T) {
	f := newPaymentFixture(t)
	svc := NewPaymentService(f.store, webhookOnlyProvider{f.provider}, f.events, time.Second)

	_, err := svc.VerifyCallback(context.Background(), "order_x", "pay_x", "sig")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestVerifyWebhookCapturesOnce(t *testing.T) {
	f := newPaymentFixture(t)
	intent := f.openIntent(t)
	body := webhookBody("payment.captured", intent.ProviderOrderID, "pay_9")
	sig := payments.Sign(testWebhookSecret, body)

	first, err := f.svc.VerifyWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, first.Received)
	assert.Equal(t, "payment.captured", first.Event)
	assert.False(t, first.AlreadyProcessed)

	second, err := f.svc.VerifyWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)

	txns := f.store.transactionsFor(f.order.ID)
	require.Len(t, txns, 1)
	assert.Equal(t, models.TxnStatusSuccess, txns[0].Status)
	assert.Equal(t, models.PaymentStatusPaid, f.paymentStatus(t))
}

func TestVerifyWebhookFailure(t *testing.T) {
	f := newPaymentFixture(t)
	intent := f.openIntent(t)
	body := webhookBody("payment.failed", intent.ProviderOrderID, "pay_2")

	resp, err := f.svc.VerifyWebhook(context.Background(), body, payments.Sign(testWebhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, models.TxnStatusFailed, resp.Transaction.Status)
	assert.Equal(t, models.PaymentStatusPending, f.paymentStatus(t))

	// A capture for a failed attempt is acknowledged but settles nothing.
	body = webhookBody("payment.captured", intent.ProviderOrderID, "pay_3")
	resp, err = f.svc.VerifyWebhook(context.Background(), body, payments.Sign(testWebhookSecret, body))
	require.NoError(t, err)
	assert.True(t, resp.Received)
	assert.Equal(t, models.TxnStatusFailed, f.store.transactionsFor(f.order.ID)[0].Status)
	assert.Equal(t, models.PaymentStatusPending, f.paymentStatus(t))

	// The client callback for the same attempt is a conflict.
	_, err = f.svc.VerifyCallback(context.Background(), intent.ProviderOrderID, "pay_3",
		payments.Sign(testKeySecret, payments.CallbackPayload(intent.ProviderOrderID, "pay_3")))
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, models.TxnStatusFailed, f.store.transactionsFor(f.order.ID)[0].Status)
	assert.Equal(t, models.PaymentStatusPending, f.paymentStatus(t))
}

func TestVerifyWebhookFailureAfterSuccessIgnored(t *testing.T) {
	f := newPaymentFixture(t)
	intent := f.openIntent(t)

	body := webhookBody("payment.captured", intent.ProviderOrderID, "pay_1")
	_, err := f.svc.VerifyWebhook(context.Background(), body, payments.Sign(testWebhookSecret, body))
	require.NoError(t, err)

	body = webhookBody("payment.failed", intent.ProviderOrderID, "pay_2")
	resp, err := f.svc.VerifyWebhook(context.Background(), body, payments.Sign(testWebhookSecret, body))
	require.NoError(t, err)
	assert.True(t, resp.AlreadyProcessed)
	assert.Equal(t, models.TxnStatusSuccess, f.store.transactionsFor(f.order.ID)[0].Status)
	assert.Equal(t, models.PaymentStatusPaid, f.paymentStatus(t))
}

func TestVerifyWebhookAcknowledgesUnknownAndIgnored(t *testing.T) {
	f := newPaymentFixture(t)

	body := webhookBody("payment.captured", "order_unknown", "pay_1")
	resp, err := f.svc.VerifyWebhook(context.Background(), body, payments.Sign(testWebhookSecret, body))
	require.NoError(t, err)
	assert.True(t, resp.Received)
	assert.Nil(t, resp.Transaction)

	body = webhookBody("refund.created", "order_unknown", "pay_1")
	resp, err = f.svc.VerifyWebhook(context.Background(), body, payments.Sign(testWebhookSecret, body))
	require.NoError(t, err)
	assert.Equal(t, "refund.created", resp.Event)
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	f := newPaymentFixture(t)
	intent := f.openIntent(t)
	body := webhookBody("payment.captured", intent.ProviderOrderID, "pay_9")

	_, err := f.svc.VerifyWebhook(context.Background(), body, payments.Sign("not-the-secret", body))
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	assert.Equal(t, models.PaymentStatusPending, f.paymentStatus(t))
}

func TestRecordCashPayment(t *testing.T) {
	f := newPaymentFixture(t)

	resp, err := f.svc.RecordCashPayment(staffCtx(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnStatusSuccess, resp.Transaction.Status)
	assert.Equal(t, models.TxnMethodCash, resp.Transaction.Method)
	assert.Equal(t, models.ProviderManual, resp.Transaction.Provider)
	assert.True(t, f.order.FinalAmount.Equal(resp.Transaction.Amount))
	assert.Equal(t, models.PaymentStatusPaid, resp.Order.PaymentStatus)
	assert.Equal(t, models.PaymentStatusPaid, f.paymentStatus(t))
	assert.Contains(t, f.events.auditActions(), "PAYMENT_CASH")

	_, err = f.svc.RecordCashPayment(staffCtx(), f.order.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, f.store.transactionsFor(f.order.ID), 1)
}

func TestRecordCashPaymentRequiresStaff(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.RecordCashPayment(f.owner, f.order.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.RecordCashPayment(staffCtx(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCaptureAfterCashKeepsOrderPaidOnce(t *testing.T) {
	f := newPaymentFixture(t)
	intent := f.openIntent(t)
	_, err := f.svc.RecordCashPayment(staffCtx(), f.order.ID)
	require.NoError(t, err)

	body := webhookBody("payment.captured", intent.ProviderOrderID, "pay_late")
	resp, err := f.svc.VerifyWebhook(context.Background(), body, payments.Sign(testWebhookSecret, body))
	require.NoError(t, err)
	assert.False(t, resp.AlreadyProcessed)

	o, err := f.store.GetOrderByID(context.Background(), f.order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	assert.Equal(t, models.PaymentMethodCash, o.PaymentMethod)
}
