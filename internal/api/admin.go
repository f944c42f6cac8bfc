package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"printshop/internal/apperr"
	"printshop/internal/models"
	"printshop/internal/service"

	"github.com/gin-gonic/gin"
)

type updateSettingRequest struct {
	Value       json.RawMessage `json:"value"`
	Description *string         `json:"description"`
}

func (h *Handler) listServices(c *gin.Context) {
	filter := models.ServiceFilter{
		Category: c.Query("category"),
		Search:   c.Query("search"),
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(c, apperr.Invalid("active", "must be true or false"))
			return
		}
		filter.Active = &active
	}

	services, err := h.catalog.ListServices(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services})
}

func (h *Handler) getService(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "Invalid service ID")
	if !ok {
		return
	}
	svc, err := h.catalog.GetService(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": svc})
}

func (h *Handler) createService(c *gin.Context) {
	var in service.ServiceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}
	svc, err := h.catalog.CreateService(c.Request.Context(), &in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"service": svc})
}

func (h *Handler) updateService(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "Invalid service ID")
	if !ok {
		return
	}
	var in service.ServiceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}
	svc, err := h.catalog.UpdateService(c.Request.Context(), id, &in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": svc})
}

func (h *Handler) deleteService(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "Invalid service ID")
	if !ok {
		return
	}
	if err := h.catalog.DeleteService(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Service deleted"})
}

// dashboard summarises the shop floor for staff
func (h *Handler) dashboard(c *gin.Context) {
	stats, err := h.settings.Dashboard(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// listSettings returns settings keyed by name plus the charges the next
// order would be priced with.
func (h *Handler) listSettings(c *gin.Context) {
	settings, err := h.settings.ListSettings(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	charges, err := h.settings.Charges(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	values := make(map[string]json.RawMessage, len(settings))
	for _, s := range settings {
		values[s.Key] = unwrapSetting(s.Value)
	}
	c.JSON(http.StatusOK, gin.H{"settings": values, "charges": charges})
}

func (h *Handler) updateSetting(c *gin.Context) {
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Invalid request body", err)
		return
	}
	setting, err := h.settings.UpdateSetting(c.Request.Context(), c.Param("key"), req.Value, req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"setting": setting})
}

// unwrapSetting strips the {"value": ...} envelope settings are stored in.
func unwrapSetting(raw json.RawMessage) json.RawMessage {
	var wrapped struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Value) > 0 {
		return wrapped.Value
	}
	return raw
}
