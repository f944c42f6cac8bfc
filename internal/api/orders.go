package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"printshop/internal/apperr"
	"printshop/internal/models"
	"printshop/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// formOverhead is the allowance for non-file multipart fields.
const formOverhead = 1 << 20

// createOrder handles multipart job submission
func (h *Handler) createOrder(c *gin.Context) {
	limit := int64(h.opts.Uploads.MaxFiles)*h.opts.Uploads.MaxBytes + formOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.badRequest(c, "Invalid form data", err)
		return
	}

	req := &service.CreateOrderRequest{
		Items:           json.RawMessage(c.PostForm("items")),
		CustomerName:    c.PostForm("customer_name"),
		CustomerPhone:   c.PostForm("customer_phone"),
		CustomerEmail:   c.PostForm("customer_email"),
		PaymentMethod:   c.PostForm("payment_method"),
		PickupTime:      c.PostForm("pickup_time"),
		DeliveryAddress: c.PostForm("delivery_address"),
		Notes:           c.PostForm("notes"),
		IdempotencyKey:  strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	}

	if form != nil {
		files := form.File["files"]
		if len(files) > h.opts.Uploads.MaxFiles {
			req.FileErrors = append(req.FileErrors, apperr.FieldError{
				Field:   "files",
				Message: fmt.Sprintf("at most %d files may be attached", h.opts.Uploads.MaxFiles),
			})
		} else {
			saved, rejected, err := h.saveUploads(c, files)
			if err != nil {
				h.writeError(c, err)
				return
			}
			req.Files = saved
			req.FileErrors = rejected
		}
	}

	agg, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.removeUploads(req.Files)
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": agg})
}

// listOrders handles order listing. Non-staff callers only see their own.
func (h *Handler) listOrders(c *gin.Context) {
	filter := models.OrderFilter{
		Status:        c.Query("status"),
		PaymentStatus: c.Query("payment_status"),
	}

	verr := &apperr.ValidationError{}
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			verr.Add("user_id", "valid user ID required")
		} else {
			filter.UserID = &id
		}
	}
	filter.Limit = queryInt(c, "limit", verr)
	filter.Offset = queryInt(c, "offset", verr)
	if err := verr.OrNil(); err != nil {
		h.writeError(c, err)
		return
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id", "Invalid order ID")
	if !ok {
		return
	}

	agg, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": agg})
}

// updateOrderStatus handles staff workflow changes
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id", "Invalid order ID")
	if !ok {
		return
	}

	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), orderID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Debug("Order status changed via API", zap.String("order_id", orderID.String()), zap.String("status", order.Status))
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) pathUUID(c *gin.Context, param, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, verr *apperr.ValidationError) int {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		verr.Add(key, "must be a non-negative integer")
		return 0
	}
	return n
}
