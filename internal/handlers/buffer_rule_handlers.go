package handlers

import (
	"net/http"

	"stockledger/internal/models"
	"stockledger/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// BufferRuleHandlers manages channel buffer policy and triggers recomputation.
type BufferRuleHandlers struct {
	buffers services.ChannelBufferAllocator
	logger  *zap.Logger
}

func NewBufferRuleHandlers(buffers services.ChannelBufferAllocator, logger *zap.Logger) *BufferRuleHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BufferRuleHandlers{buffers: buffers, logger: logger}
}

type BufferRuleBody struct {
	ID         *uuid.UUID        `json:"id,omitempty"`
	Channel    string            `json:"channel"`
	VariantID  *uuid.UUID        `json:"variant_id,omitempty"`
	LocationID *uuid.UUID        `json:"location_id,omitempty"`
	BufferType models.BufferType `json:"buffer_type"`
	Value      float64           `json:"value"`
	MinBuffer  int               `json:"min_buffer"`
	MaxBuffer  *int              `json:"max_buffer,omitempty"`
	Priority   int               `json:"priority"`
}

type RecomputeBody struct {
	VariantID  *uuid.UUID `json:"variant_id,omitempty"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
}

// ListRules handles GET /v1/buffer-rules. Inactive rules are included with ?all=true.
func (h *BufferRuleHandlers) ListRules(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	activeOnly := c.QueryParam("all") != "true"
	rules, err := h.buffers.ListRules(c.Request().Context(), tenantID, activeOnly)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"rules": rules})
}

// SaveRule handles POST /v1/buffer-rules. A body with an id replaces that rule.
func (h *BufferRuleHandlers) SaveRule(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body BufferRuleBody
	if err := bind(c, &body); err != nil {
		return err
	}

	rule := &models.ChannelBufferRule{
		TenantID:   tenantID,
		Channel:    body.Channel,
		VariantID:  body.VariantID,
		LocationID: body.LocationID,
		BufferType: body.BufferType,
		Value:      body.Value,
		MinBuffer:  body.MinBuffer,
		MaxBuffer:  body.MaxBuffer,
		Priority:   body.Priority,
		IsActive:   true,
	}
	status := http.StatusCreated
	if body.ID != nil {
		rule.ID = *body.ID
		status = http.StatusOK
	}

	saved, err := h.buffers.SaveRule(c.Request().Context(), rule)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(status, saved)
}

func (h *BufferRuleHandlers) DeactivateRule(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.buffers.DeactivateRule(c.Request().Context(), tenantID, id); err != nil {
		return respondError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Recompute handles POST /v1/buffer-rules/recompute. With variant_id and location_id it recomputes one
// item, otherwise every item of the tenant.
func (h *BufferRuleHandlers) Recompute(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body RecomputeBody
	if c.Request().ContentLength > 0 {
		if err := bind(c, &body); err != nil {
			return err
		}
	}
	ctx := c.Request().Context()

	if body.VariantID != nil || body.LocationID != nil {
		if body.VariantID == nil || body.LocationID == nil {
			return badRequest("location_id", "variant_id and location_id must be given together")
		}
		key := models.InventoryKey{TenantID: tenantID, VariantID: *body.VariantID, LocationID: *body.LocationID}
		item, err := h.buffers.Recompute(ctx, key, actorFrom(c))
		if err != nil {
			return respondError(c, h.logger, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"updated": 1, "item": item})
	}

	updated, err := h.buffers.RecomputeTenant(ctx, tenantID, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"updated": updated})
}

// PreviewBuffers handles GET /v1/inventory/:variant_id/:location_id/buffers without persisting anything.
func (h *BufferRuleHandlers) PreviewBuffers(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	variantID, err := pathUUID(c, "variant_id")
	if err != nil {
		return err
	}
	locationID, err := pathUUID(c, "location_id")
	if err != nil {
		return err
	}
	key := models.InventoryKey{TenantID: tenantID, VariantID: variantID, LocationID: locationID}
	buffers, err := h.buffers.ComputeBuffers(c.Request().Context(), key)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"channel_buffers": buffers})
}
