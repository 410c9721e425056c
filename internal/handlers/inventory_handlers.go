package handlers

import (
	"net/http"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// InventoryHandlers serves the stock ledger: availability, movements, sync, bulk adjustment and export.
type InventoryHandlers struct {
	ledger   services.StockLedger
	bulk     services.BulkService
	exporter services.AuditExporter // nil when object storage is not configured
	logger   *zap.Logger
}

func NewInventoryHandlers(ledger services.StockLedger, bulk services.BulkService, exporter services.AuditExporter, logger *zap.Logger) *InventoryHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryHandlers{ledger: ledger, bulk: bulk, exporter: exporter, logger: logger}
}

type itemRef struct {
	VariantID  uuid.UUID `json:"variant_id"`
	LocationID uuid.UUID `json:"location_id"`
}

func (r itemRef) key(tenantID uuid.UUID) (models.InventoryKey, error) {
	if r.VariantID == uuid.Nil {
		return models.InventoryKey{}, badRequest("variant_id", "variant_id is required")
	}
	if r.LocationID == uuid.Nil {
		return models.InventoryKey{}, badRequest("location_id", "location_id is required")
	}
	return models.InventoryKey{TenantID: tenantID, VariantID: r.VariantID, LocationID: r.LocationID}, nil
}

type MovementBody struct {
	itemRef
	Direction models.Direction      `json:"direction"`
	Quantity  int                   `json:"quantity"`
	Reason    models.MovementReason `json:"reason"`
	Reference string                `json:"reference"`
	Channel   *string               `json:"channel,omitempty"`
}

type SyncBody struct {
	itemRef
	Count     int    `json:"count"`
	Reference string `json:"reference"`
}

type SafetyStockBody struct {
	itemRef
	SafetyStock int `json:"safety_stock"`
}

type ExportBody struct {
	VariantID  *uuid.UUID             `json:"variant_id,omitempty"`
	LocationID *uuid.UUID             `json:"location_id,omitempty"`
	Reason     *models.MovementReason `json:"reason,omitempty"`
	From       time.Time              `json:"from"`
	To         time.Time              `json:"to"`
}

func (h *InventoryHandlers) keyFromPath(c echo.Context) (models.InventoryKey, error) {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return models.InventoryKey{}, err
	}
	variantID, err := pathUUID(c, "variant_id")
	if err != nil {
		return models.InventoryKey{}, err
	}
	locationID, err := pathUUID(c, "location_id")
	if err != nil {
		return models.InventoryKey{}, err
	}
	return models.InventoryKey{TenantID: tenantID, VariantID: variantID, LocationID: locationID}, nil
}

// GetAvailability handles GET /v1/availability?variant_id&location_id&channel
func (h *InventoryHandlers) GetAvailability(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	variantID, err := common.ValidateUUID(c.QueryParam("variant_id"), "variant_id")
	if err != nil {
		return badRequest("variant_id", err.Error())
	}
	locationID, err := common.ValidateUUID(c.QueryParam("location_id"), "location_id")
	if err != nil {
		return badRequest("location_id", err.Error())
	}

	key := models.InventoryKey{TenantID: tenantID, VariantID: variantID, LocationID: locationID}
	availability, err := h.ledger.GetAvailability(c.Request().Context(), key, c.QueryParam("channel"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, availability)
}

func (h *InventoryHandlers) GetItem(c echo.Context) error {
	key, err := h.keyFromPath(c)
	if err != nil {
		return err
	}
	item, err := h.ledger.GetItem(c.Request().Context(), key)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, item)
}

// ListItems handles GET /v1/inventory with optional variant_id, location_id and max_available filters.
func (h *InventoryHandlers) ListItems(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	filter := &models.InventorySearchFilter{}
	if filter.VariantID, err = queryUUID(c, "variant_id"); err != nil {
		return err
	}
	if filter.LocationID, err = queryUUID(c, "location_id"); err != nil {
		return err
	}
	if v := c.QueryParam("max_available"); v != "" {
		var maxAvailable int
		if err := echo.QueryParamsBinder(c).Int("max_available", &maxAvailable).BindError(); err != nil {
			return badRequest("max_available", "max_available must be an integer")
		}
		filter.MaxAvailable = &maxAvailable
	}
	if filter.Limit, filter.Offset, err = common.ParsePagination(c); err != nil {
		return badRequest("pagination", err.Error())
	}

	items, err := h.ledger.ListItems(c.Request().Context(), tenantID, filter)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":  items,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// ApplyMovement handles POST /v1/inventory/movements
func (h *InventoryHandlers) ApplyMovement(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body MovementBody
	if err := bind(c, &body); err != nil {
		return err
	}
	key, err := body.key(tenantID)
	if err != nil {
		return err
	}

	result, err := h.ledger.ApplyMovement(c.Request().Context(), &models.MovementRequest{
		Key:       key,
		Direction: body.Direction,
		Quantity:  body.Quantity,
		Reason:    body.Reason,
		Reference: body.Reference,
		Actor:     actorFrom(c),
		Channel:   body.Channel,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// SyncFromExternal handles POST /v1/inventory/sync
func (h *InventoryHandlers) SyncFromExternal(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body SyncBody
	if err := bind(c, &body); err != nil {
		return err
	}
	key, err := body.key(tenantID)
	if err != nil {
		return err
	}

	result, err := h.ledger.SyncFromExternal(c.Request().Context(), key, body.Count, body.Reference, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, result)
}

// SetSafetyStock handles PUT /v1/inventory/safety-stock
func (h *InventoryHandlers) SetSafetyStock(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body SafetyStockBody
	if err := bind(c, &body); err != nil {
		return err
	}
	key, err := body.key(tenantID)
	if err != nil {
		return err
	}

	item, err := h.ledger.SetSafetyStock(c.Request().Context(), key, body.SafetyStock, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, item)
}

// BulkAdjust handles POST /v1/inventory/bulk-adjust. Items succeed or fail independently.
func (h *InventoryHandlers) BulkAdjust(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body models.InventoryBulkAdjust
	if err := bind(c, &body); err != nil {
		return err
	}
	if err := common.ValidatePositiveInteger(len(body.Adjustments), "adjustments", 1000); err != nil {
		return badRequest("adjustments", err.Error())
	}

	result, err := h.bulk.ApplyBulkAdjustment(c.Request().Context(), tenantID, &body, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(bulkStatus(result), result)
}

func (h *InventoryHandlers) Replay(c echo.Context) error {
	key, err := h.keyFromPath(c)
	if err != nil {
		return err
	}
	result, err := h.ledger.Replay(c.Request().Context(), key)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, result)
}

// ListMovements handles GET /v1/movements
func (h *InventoryHandlers) ListMovements(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	filter := &models.MovementFilter{Reference: c.QueryParam("reference")}
	if filter.VariantID, err = queryUUID(c, "variant_id"); err != nil {
		return err
	}
	if filter.LocationID, err = queryUUID(c, "location_id"); err != nil {
		return err
	}
	if v := c.QueryParam("reason"); v != "" {
		reason := models.MovementReason(v)
		filter.Reason = &reason
	}
	if filter.From, err = common.ParseTimeParam(c, "from"); err != nil {
		return badRequest("from", err.Error())
	}
	if filter.To, err = common.ParseTimeParam(c, "to"); err != nil {
		return badRequest("to", err.Error())
	}
	if filter.Limit, filter.Offset, err = common.ParsePagination(c); err != nil {
		return badRequest("pagination", err.Error())
	}

	movements, err := h.ledger.ListMovements(c.Request().Context(), tenantID, filter)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"movements": movements,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// ExportMovements handles POST /v1/movements/export
func (h *InventoryHandlers) ExportMovements(c echo.Context) error {
	if h.exporter == nil {
		return c.JSON(http.StatusServiceUnavailable,
			common.CreateErrorResponse("UNAVAILABLE", "Audit export storage is not configured", nil))
	}
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body ExportBody
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.From.IsZero() || body.To.IsZero() {
		return badRequest("from", "from and to are required")
	}
	if err := common.ValidateDateRange(body.From, body.To); err != nil {
		return badRequest("to", err.Error())
	}

	result, err := h.exporter.Export(c.Request().Context(), tenantID, &models.MovementFilter{
		VariantID:  body.VariantID,
		LocationID: body.LocationID,
		Reason:     body.Reason,
		From:       &body.From,
		To:         &body.To,
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// bulkStatus is 200 when every item succeeded and 207 otherwise.
func bulkStatus(result *models.BulkOperationResult) int {
	if result.FailedItems == 0 {
		return http.StatusOK
	}
	return http.StatusMultiStatus
}
