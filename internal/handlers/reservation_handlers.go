package handlers

import (
	"net/http"

	"stockledger/internal/common"
	"stockledger/internal/models"
	"stockledger/internal/services"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type ReservationHandlers struct {
	reservations services.ReservationManager
	logger       *zap.Logger
}

func NewReservationHandlers(reservations services.ReservationManager, logger *zap.Logger) *ReservationHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationHandlers{reservations: reservations, logger: logger}
}

type ReserveBody struct {
	itemRef
	Quantity int     `json:"quantity"`
	OrderID  *string `json:"order_id,omitempty"`
	Channel  *string `json:"channel,omitempty"`
	// TTLSeconds of zero uses the default hold.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

type ReleaseBody struct {
	Reason models.ReleaseReason `json:"reason"`
}

type ExtendBody struct {
	AdditionalSeconds int `json:"additional_seconds"`
}

// Reserve handles POST /v1/reservations
func (h *ReservationHandlers) Reserve(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	var body ReserveBody
	if err := bind(c, &body); err != nil {
		return err
	}
	key, err := body.key(tenantID)
	if err != nil {
		return err
	}
	ttl, err := services.DurationFromSeconds(body.TTLSeconds)
	if err != nil {
		return badRequest("ttl_seconds", "ttl_seconds must be between 0 and the maximum hold")
	}
	if err := common.ValidateOptionalString(body.OrderID, "order_id", 255); err != nil {
		return badRequest("order_id", err.Error())
	}

	reservation, err := h.reservations.Reserve(c.Request().Context(), &models.ReserveRequest{
		Key:      key,
		Quantity: body.Quantity,
		OrderID:  body.OrderID,
		Channel:  body.Channel,
		TTL:      ttl,
		Actor:    actorFrom(c),
	})
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, reservation)
}

func (h *ReservationHandlers) GetReservation(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	reservation, err := h.reservations.Get(c.Request().Context(), tenantID, id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, reservation)
}

// ListReservations handles GET /v1/reservations?variant_id&location_id&order_id&status
func (h *ReservationHandlers) ListReservations(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	filter := &models.ReservationFilter{}
	if filter.VariantID, err = queryUUID(c, "variant_id"); err != nil {
		return err
	}
	if filter.LocationID, err = queryUUID(c, "location_id"); err != nil {
		return err
	}
	if v := c.QueryParam("order_id"); v != "" {
		filter.OrderID = &v
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.ReservationStatus(v)
		switch status {
		case models.ReservationPending, models.ReservationActive, models.ReservationReleased, models.ReservationConsumed:
		default:
			return badRequest("status", "unknown reservation status")
		}
		filter.Status = &status
	}
	if filter.Limit, filter.Offset, err = common.ParsePagination(c); err != nil {
		return badRequest("pagination", err.Error())
	}

	reservations, err := h.reservations.List(c.Request().Context(), tenantID, filter)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"reservations": reservations,
		"limit":        filter.Limit,
		"offset":       filter.Offset,
	})
}

// Release handles POST /v1/reservations/:id/release. The reason defaults to manual.
func (h *ReservationHandlers) Release(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	body := ReleaseBody{Reason: models.ReleaseManual}
	if c.Request().ContentLength > 0 {
		if err := bind(c, &body); err != nil {
			return err
		}
	}

	reservation, err := h.reservations.Release(c.Request().Context(), tenantID, id, body.Reason, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, reservation)
}

func (h *ReservationHandlers) Consume(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	reservation, err := h.reservations.Consume(c.Request().Context(), tenantID, id, actorFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, reservation)
}

func (h *ReservationHandlers) Extend(c echo.Context) error {
	tenantID, err := tenantFrom(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body ExtendBody
	if err := bind(c, &body); err != nil {
		return err
	}
	additional, err := services.DurationFromSeconds(body.AdditionalSeconds)
	if err != nil || additional == 0 {
		return badRequest("additional_seconds", "additional_seconds must be positive and within the maximum hold")
	}

	reservation, err := h.reservations.Extend(c.Request().Context(), tenantID, id, additional)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, reservation)
}
