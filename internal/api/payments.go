package api

import (
	"io"
	"net/http"
	"strings"

	"printshop/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxWebhookBytes = 1 << 20

type createIntentRequest struct {
	OrderID string           `json:"order_id"`
	Amount  *decimal.Decimal `json:"amount"`
}

type verifyPaymentRequest struct {
	ProviderOrderID   string `json:"provider_order_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Signature         string `json:"signature"`
}

type cashPaymentRequest struct {
	OrderID string `json:"order_id"`
}

// createPaymentIntent opens a provider checkout for an order
func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	verr := &apperr.ValidationError{}
	orderID, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil {
		verr.Add("order_id", "valid order ID required")
	}
	if req.Amount == nil || !req.Amount.IsPositive() {
		verr.Add("amount", "valid amount required")
	}
	if err := verr.OrNil(); err != nil {
		h.writeError(c, err)
		return
	}

	resp, err := h.payments.CreateIntent(c.Request.Context(), orderID, *req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// verifyPayment handles the checkout callback relayed by the client
func (h *Handler) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	verr := &apperr.ValidationError{}
	if req.ProviderOrderID == "" {
		verr.Add("provider_order_id", "provider order ID required")
	}
	if req.ProviderPaymentID == "" {
		verr.Add("provider_payment_id", "provider payment ID required")
	}
	if req.Signature == "" {
		verr.Add("signature", "signature required")
	}
	if err := verr.OrNil(); err != nil {
		h.writeError(c, err)
		return
	}

	resp, err := h.payments.VerifyCallback(c.Request.Context(), req.ProviderOrderID, req.ProviderPaymentID, req.Signature)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"already_processed": resp.AlreadyProcessed,
		"transaction":       resp.Transaction,
	})
}

// paymentWebhook verifies the signature over the raw body before decoding it
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		h.badRequest(c, "Failed to read webhook body", err)
		return
	}

	signature := c.GetHeader(h.payments.Provider().SignatureHeader())
	resp, err := h.payments.VerifyWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// recordCashPayment marks an order paid at the counter
func (h *Handler) recordCashPayment(c *gin.Context) {
	var req cashPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil {
		h.writeError(c, apperr.Invalid("order_id", "valid order ID required"))
		return
	}

	resp, err := h.payments.RecordCashPayment(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
