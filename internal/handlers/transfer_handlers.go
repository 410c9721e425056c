package handlers

import (
	"net/http"

	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type TransferHandlers struct {
	transfers services.TransferCoordinator
	logger    *zap.Logger
}

func NewTransferHandlers(transfers services.TransferCoordinator, logger *zap.Logger) *TransferHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferHandlers{transfers: transfers, logger: logger}
}

// CreateTransfer handles POST /v1/transfers. The source stock is held until the transfer resolves.
func (h *TransferHandlers) CreateTransfer(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var req models.TransferRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := common.ValidateOptionalString(req.Notes, "notes", 1000); err != nil {
		return badRequest("notes", err.Error())
	}

	transfer, err := h.transfers.Create(c.Request().Context(), tenantID, &req, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, transfer)
}

func (h *TransferHandlers) BulkCreateTransfers(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body models.InventoryBulkTransfer
	if err := bind(c, &body); err != nil {
		return err
	}
	if err := common.ValidatePositiveInteger(len(body.Transfers), "transfers", 500); err != nil {
		return badRequest("transfers", err.Error())
	}

	result, err := h.transfers.BulkCreate(c.Request().Context(), tenantID, &body, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(bulkStatus(result), result)
}

func (h *TransferHandlers) GetTransfer(c echo.Context) error {
	tenantID, id, err := h.transferID(c)
	if err != nil {
		return err
	}
	transfer, err := h.transfers.Get(c.Request().Context(), tenantID, id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, transfer)
}

// ListTransfers handles GET /v1/transfers?variant_id&location_id&status. location_id matches either side.
func (h *TransferHandlers) ListTransfers(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	filter := &models.TransferFilter{}
	if filter.VariantID, err = queryUUID(c, "variant_id"); err != nil {
		return err
	}
	if filter.LocationID, err = queryUUID(c, "location_id"); err != nil {
		return err
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.TransferStatus(v)
		switch status {
		case models.TransferPending, models.TransferInTransit, models.TransferCompleted, models.TransferCancelled:
		default:
			return badRequest("status", "unknown transfer status")
		}
		filter.Status = &status
	}
	if filter.Limit, filter.Offset, err = common.ParsePagination(c); err != nil {
		return badRequest("pagination", err.Error())
	}

	transfers, err := h.transfers.List(c.Request().Context(), tenantID, filter)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"transfers": transfers,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

func (h *TransferHandlers) ShipTransfer(c echo.Context) error {
	tenantID, id, err := h.transferID(c)
	if err != nil {
		return err
	}
	transfer, err := h.transfers.Ship(c.Request().Context(), tenantID, id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, transfer)
}

func (h *TransferHandlers) CompleteTransfer(c echo.Context) error {
	tenantID, id, err := h.transferID(c)
	if err != nil {
		return err
	}
	transfer, err := h.transfers.Complete(c.Request().Context(), tenantID, id, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, transfer)
}

func (h *TransferHandlers) CancelTransfer(c echo.Context) error {
	tenantID, id, err := h.transferID(c)
	if err != nil {
		return err
	}
	transfer, err := h.transfers.Cancel(c.Request().Context(), tenantID, id, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, transfer)
}

func (h *TransferHandlers) transferID(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, id, nil
}
