package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"printshop/internal/apperr"

	razorpay "github.com/razorpay/razorpay-go"
)

const razorpaySignatureHeader = "X-Razorpay-Signature"

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayConfig configures the RazorpayProvider.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string

	orders razorpayOrderAPI
}

// RazorpayProvider creates Razorpay orders and verifies checkout and webhook signatures.
type RazorpayProvider struct {
	orders        razorpayOrderAPI
	keyID         string
	keySecret     string
	webhookSecret string
	currency      string
}

// NewRazorpayProvider constructs the provider. The webhook secret falls back
// to the key secret when unset.
func NewRazorpayProvider(cfg RazorpayConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if secret == "" {
		return nil, errors.New("razorpay: key secret is required")
	}

	orders := cfg.orders
	if orders == nil {
		if keyID == "" {
			return nil, errors.New("razorpay: key id is required")
		}
		orders = razorpay.NewClient(keyID, secret).Order
	}

	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		webhookSecret = secret
	}

	return &RazorpayProvider{
		orders:        orders,
		keyID:         keyID,
		keySecret:     secret,
		webhookSecret: webhookSecret,
		currency:      normaliseCurrency(cfg.Currency),
	}, nil
}

// Name implements Provider.
func (p *RazorpayProvider) Name() string { return ProviderRazorpay }

// SignatureHeader implements Provider.
func (p *RazorpayProvider) SignatureHeader() string { return razorpaySignatureHeader }

// CreateIntent creates a Razorpay order. The SDK has no context support, so
// the call runs in its own goroutine and is abandoned when ctx expires.
func (p *RazorpayProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	currency := p.currency
	if req.Currency != "" {
		currency = normaliseCurrency(req.Currency)
	}
	amount := MinorUnits(req.Amount)

	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := p.orders.Create(data, nil)
		done <- result{body: body, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return Intent{}, fmt.Errorf("razorpay: create order: %w", ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return Intent{}, fmt.Errorf("razorpay: create order: %w", res.err)
	}

	id, _ := res.body["id"].(string)
	if id == "" {
		return Intent{}, errors.New("razorpay: create order: response missing id")
	}

	return Intent{
		ID:          id,
		Provider:    ProviderRazorpay,
		PublicKey:   p.keyID,
		AmountMinor: amount,
		Currency:    currency,
		Raw:         res.body,
	}, nil
}

// VerifyCallback checks the checkout handler signature over "order_id|payment_id".
func (p *RazorpayProvider) VerifyCallback(intentID, paymentID, signature string) error {
	if !Verify(p.keySecret, CallbackPayload(intentID, paymentID), signature) {
		return apperr.ErrInvalidSignature
	}
	return nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhook verifies the signature over the raw body and decodes the event.
func (p *RazorpayProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if !Verify(p.webhookSecret, payload, signature) {
		return WebhookEvent{}, apperr.ErrInvalidSignature
	}

	var body razorpayWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookEvent{}, fmt.Errorf("razorpay: decode webhook: %v: %w", err, apperr.ErrInvalidInput)
	}

	event := WebhookEvent{
		Kind:      EventIgnored,
		Type:      body.Event,
		IntentID:  body.Payload.Payment.Entity.OrderID,
		PaymentID: body.Payload.Payment.Entity.ID,
	}
	switch body.Event {
	case "payment.captured":
		event.Kind = EventCaptured
	case "payment.failed":
		event.Kind = EventFailed
	}
	return event, nil
}
