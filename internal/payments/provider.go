// Package payments adapts payment service providers to the shop's intent and
// reconciliation flow.
package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

var hundred = decimal.NewFromInt(100)

// ErrUnsupported is returned when a provider cannot perform a flow, such as a
// signed checkout callback on a provider that only reports through webhooks.
var ErrUnsupported = errors.New("payments: operation not supported by provider")

// IntentRequest captures what a provider needs to open a payment intent.
type IntentRequest struct {
	OrderID  uuid.UUID
	Receipt  string
	Amount   decimal.Decimal
	Currency string
	Notes    map[string]string
}

// Intent is the provider-side handle the client completes payment against.
type Intent struct {
	ID           string
	Provider     string
	PublicKey    string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Raw          map[string]any
}

// EventKind normalises provider webhook event names.
type EventKind string

const (
	EventCaptured EventKind = "captured"
	EventFailed   EventKind = "failed"
	EventIgnored  EventKind = "ignored"
)

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	Kind      EventKind
	Type      string
	IntentID  string
	PaymentID string
}

// Provider defines the contract for PSP adapters.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
	// ParseWebhook verifies the signature over the raw payload and decodes it.
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
	// VerifyCallback checks a client-relayed checkout signature.
	VerifyCallback(intentID, paymentID, signature string) error
}

// MinorUnits converts a major-unit amount to the integer smallest unit that
// providers bill in (paise, cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func normaliseCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return "INR"
	}
	return c
}
