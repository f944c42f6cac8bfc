package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"printshop/internal/apperr"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the StripeProvider.
type StripeConfig struct {
	APIKey         string
	PublishableKey string
	WebhookSecret  string
	Currency       string
	Backends       *stripe.Backends

	intents stripePaymentIntentAPI
}

// StripeProvider creates Stripe payment intents. Stripe reports outcomes only
// through webhooks, so there is no signed checkout callback.
type StripeProvider struct {
	intents        stripePaymentIntentAPI
	publishableKey string
	webhookSecret  string
	currency       string
}

// NewStripeProvider constructs a Stripe provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.intents
	if intents == nil {
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	return &StripeProvider{
		intents:        intents,
		publishableKey: strings.TrimSpace(cfg.PublishableKey),
		webhookSecret:  strings.TrimSpace(cfg.WebhookSecret),
		currency:       normaliseCurrency(cfg.Currency),
	}, nil
}

// Name implements Provider.
func (p *StripeProvider) Name() string { return ProviderStripe }

// SignatureHeader implements Provider.
func (p *StripeProvider) SignatureHeader() string { return stripeSignatureHeader }

// CreateIntent creates a Stripe PaymentIntent.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	currency := p.currency
	if req.Currency != "" {
		currency = normaliseCurrency(req.Currency)
	}
	amount := MinorUnits(req.Amount)

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("intent-" + req.OrderID.String() + "-" + strconv.FormatInt(amount, 10))
	params.AddMetadata("order_id", req.OrderID.String())
	if req.Receipt != "" {
		params.AddMetadata("receipt", req.Receipt)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	return Intent{
		ID:           intent.ID,
		Provider:     ProviderStripe,
		PublicKey:    p.publishableKey,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  amount,
		Currency:     currency,
		Raw:          raw,
	}, nil
}

// VerifyCallback implements Provider; Stripe has no signed client callback.
func (p *StripeProvider) VerifyCallback(string, string, string) error {
	return ErrUnsupported
}

// ParseWebhook verifies the Stripe-Signature header and decodes payment intent events.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if p.webhookSecret == "" {
		return WebhookEvent{}, fmt.Errorf("stripe: webhook secret not configured: %w", apperr.ErrInvalidSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: %v: %w", err, apperr.ErrInvalidSignature)
	}

	event := WebhookEvent{Kind: EventIgnored, Type: string(evt.Type)}
	switch evt.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		event.Kind = EventCaptured
	case stripe.EventTypePaymentIntentPaymentFailed:
		event.Kind = EventFailed
	default:
		return event, nil
	}

	var intent stripe.PaymentIntent
	if evt.Data == nil {
		return WebhookEvent{}, fmt.Errorf("stripe: event %s has no data: %w", evt.ID, apperr.ErrInvalidInput)
	}
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %v: %w", err, apperr.ErrInvalidInput)
	}
	event.IntentID = intent.ID
	event.PaymentID = intent.ID
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		event.PaymentID = intent.LatestCharge.ID
	}
	return event, nil
}
