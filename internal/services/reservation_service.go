package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReservationManager interface {
	Reserve(ctx context.Context, req *models.ReserveRequest) (*models.Reservation, error)
	Release(ctx context.Context, tenantID, id uuid.UUID, reason models.ReleaseReason, actor string) (*models.Reservation, error)
	Consume(ctx context.Context, tenantID, id uuid.UUID, actor string) (*models.Reservation, error)
	Extend(ctx context.Context, tenantID, id uuid.UUID, additional time.Duration) (*models.Reservation, error)

	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error)
	List(ctx context.Context, tenantID uuid.UUID, filter *models.ReservationFilter) ([]*models.Reservation, error)

	// Order-keyed entry points used by order processing.
	ReserveOrder(ctx context.Context, tenantID uuid.UUID, orderID string, channel *string, lines []models.OrderLine, ttl time.Duration, actor string) ([]*models.Reservation, error)
	ReleaseByOrder(ctx context.Context, tenantID uuid.UUID, orderID string, reason models.ReleaseReason, actor string) ([]*models.Reservation, error)
	ConsumeByOrder(ctx context.Context, tenantID uuid.UUID, orderID string, actor string) ([]*models.Reservation, error)

	// Sweeper entry points.
	ExpiredReservations(ctx context.Context, after *models.ExpiryCursor, limit int) ([]*models.Reservation, error)
	ExpireReservation(ctx context.Context, r *models.Reservation) (*ExpireOutcome, error)
	CountActive(ctx context.Context) (int, error)
}

// ExpireOutcome reports what a timeout release did. Released is false when the reservation was
// already closed or extended before the lock was taken.
type ExpireOutcome struct {
	Reservation *models.Reservation
	Item        *models.InventoryItem
	Released    bool
}

type ReservationConfig struct {
	DefaultTTL time.Duration
	// MaxTTL caps both a requested TTL and a single extension.
	MaxTTL time.Duration
}

const defaultMaxTTL = 7 * 24 * time.Hour

type reservationManager struct {
	*core
	cfg ReservationConfig
}

func NewReservationManager(deps Deps, cfg ReservationConfig) ReservationManager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 15 * time.Minute
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = defaultMaxTTL
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		cfg.MaxTTL = cfg.DefaultTTL
	}
	return &reservationManager{core: newCore(deps), cfg: cfg}
}

func (m *reservationManager) expiry(req *models.ReserveRequest) (*time.Time, error) {
	ttl := req.TTL
	switch {
	case ttl < 0:
		return nil, ErrInvalidDuration
	case ttl > m.cfg.MaxTTL:
		return nil, ErrDurationTooLong
	case req.Indefinite && ttl != 0:
		return nil, ErrInvalidDuration
	case req.Indefinite:
		return nil, nil
	case ttl == 0:
		ttl = m.cfg.DefaultTTL
	}
	at := m.now().Add(ttl)
	return &at, nil
}

func (m *reservationManager) Reserve(ctx context.Context, req *models.ReserveRequest) (*models.Reservation, error) {
	expiresAt, err := m.expiry(req)
	if err != nil {
		return nil, err
	}

	var reservation *models.Reservation
	var item *models.InventoryItem
	err = m.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		var err error
		reservation, item, err = m.reserveInTx(ctx, tx, reserveParams{
			key:       req.Key,
			quantity:  req.Quantity,
			orderID:   req.OrderID,
			channel:   req.Channel,
			expiresAt: expiresAt,
			actor:     req.Actor,
		})
		return err
	})
	if err != nil {
		var insufficient *InsufficientInventoryError
		if errors.As(err, &insufficient) {
			m.metrics.RecordInsufficientStock()
		}
		return nil, err
	}

	m.metrics.RecordReservation("created")
	m.committed(ctx, "reservation_created", reservation.ID.String(), item)
	return reservation, nil
}

// Release is idempotent: a reservation that is already released or consumed is returned unchanged.
func (m *reservationManager) Release(ctx context.Context, tenantID, id uuid.UUID, reason models.ReleaseReason, actor string) (*models.Reservation, error) {
	if !reason.Valid() {
		return nil, ErrInvalidReleaseReason
	}

	var reservation *models.Reservation
	var item *models.InventoryItem
	err := m.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		r, err := tx.LockReservation(ctx, tenantID, id)
		if err != nil {
			return err
		}
		reservation = r
		if r.Status != models.ReservationActive {
			return nil
		}
		if r.TransferID != nil {
			return fmt.Errorf("%w: cancel transfer %s instead", ErrReservationHeld, r.TransferID)
		}
		item, err = m.releaseInTx(ctx, tx, r, reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	if item != nil {
		m.metrics.RecordReservation("released")
		m.committed(ctx, "reservation_released", reservation.ID.String(), item)
	}
	return reservation, nil
}

// Consume turns the claim into a sale: onHand and reserved both drop by the reserved quantity.
func (m *reservationManager) Consume(ctx context.Context, tenantID, id uuid.UUID, actor string) (*models.Reservation, error) {
	var reservation *models.Reservation
	var item *models.InventoryItem
	err := m.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		r, err := tx.LockReservation(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if r.Status != models.ReservationActive {
			return ErrReservationNotActive
		}
		if r.TransferID != nil {
			return fmt.Errorf("%w: complete transfer %s instead", ErrReservationHeld, r.TransferID)
		}

		item, err = tx.LockItem(ctx, r.Key())
		if err != nil {
			return err
		}
		reference := r.ID.String()
		if r.OrderID != nil {
			reference = *r.OrderID
		}
		if _, err := m.post(ctx, tx, item, posting{
			direction:       models.DirectionOut,
			quantity:        r.Quantity,
			reason:          models.ReasonSale,
			reference:       reference,
			actor:           actor,
			channel:         r.Channel,
			releaseReserved: r.Quantity,
		}); err != nil {
			return err
		}

		now := m.now()
		fulfilled := models.ReleaseFulfilled
		r.Status = models.ReservationConsumed
		r.ConsumedAt = &now
		r.ReleaseReason = &fulfilled
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		reservation = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordReservation("consumed")
	m.committed(ctx, "reservation_consumed", reservation.ID.String(), item)
	return reservation, nil
}

func (m *reservationManager) Extend(ctx context.Context, tenantID, id uuid.UUID, additional time.Duration) (*models.Reservation, error) {
	if additional <= 0 {
		return nil, ErrInvalidDuration
	}
	if additional > m.cfg.MaxTTL {
		return nil, ErrDurationTooLong
	}

	var reservation *models.Reservation
	err := m.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		r, err := tx.LockReservation(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if r.Status != models.ReservationActive {
			return ErrReservationNotActive
		}
		if r.ExpiresAt != nil {
			extended := r.ExpiresAt.Add(additional)
			r.ExpiresAt = &extended
		}
		r.UpdatedAt = m.now()
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		reservation = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.RecordReservation("extended")
	return reservation, nil
}

func (m *reservationManager) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Reservation, error) {
	return m.store.GetReservation(ctx, tenantID, id)
}

func (m *reservationManager) List(ctx context.Context, tenantID uuid.UUID, filter *models.ReservationFilter) ([]*models.Reservation, error) {
	return m.store.ListReservations(ctx, tenantID, filter)
}

// ReserveOrder reserves every line of an order. Lines are independent claims; if one fails the
// lines already reserved are released so the order holds nothing.
func (m *reservationManager) ReserveOrder(ctx context.Context, tenantID uuid.UUID, orderID string, channel *string, lines []models.OrderLine, ttl time.Duration, actor string) ([]*models.Reservation, error) {
	reservations := make([]*models.Reservation, 0, len(lines))
	for i, line := range lines {
		r, err := m.Reserve(ctx, &models.ReserveRequest{
			Key:      models.InventoryKey{TenantID: tenantID, VariantID: line.VariantID, LocationID: line.LocationID},
			Quantity: line.Quantity,
			OrderID:  &orderID,
			Channel:  channel,
			TTL:      ttl,
			Actor:    actor,
		})
		if err != nil {
			for _, done := range reservations {
				if _, relErr := m.Release(ctx, tenantID, done.ID, models.ReleaseOrderCancelled, actor); relErr != nil {
					m.logger.Error("failed to roll back order reservation", zap.String("order_id", orderID),
						zap.String("reservation_id", done.ID.String()), zap.Error(relErr))
				}
			}
			return nil, fmt.Errorf("order %s line %d: %w", orderID, i, err)
		}
		reservations = append(reservations, r)
	}
	return reservations, nil
}

func (m *reservationManager) activeForOrder(ctx context.Context, tenantID uuid.UUID, orderID string) ([]*models.Reservation, error) {
	active := models.ReservationActive
	return m.store.ListReservations(ctx, tenantID, &models.ReservationFilter{OrderID: &orderID, Status: &active, Limit: 1000})
}

func (m *reservationManager) ReleaseByOrder(ctx context.Context, tenantID uuid.UUID, orderID string, reason models.ReleaseReason, actor string) ([]*models.Reservation, error) {
	open, err := m.activeForOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	var released []*models.Reservation
	var errs []error
	for _, r := range open {
		out, err := m.Release(ctx, tenantID, r.ID, reason, actor)
		if err != nil {
			errs = append(errs, fmt.Errorf("reservation %s: %w", r.ID, err))
			continue
		}
		released = append(released, out)
	}
	return released, errors.Join(errs...)
}

func (m *reservationManager) ConsumeByOrder(ctx context.Context, tenantID uuid.UUID, orderID string, actor string) ([]*models.Reservation, error) {
	open, err := m.activeForOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	var consumed []*models.Reservation
	var errs []error
	for _, r := range open {
		out, err := m.Consume(ctx, tenantID, r.ID, actor)
		if err != nil {
			errs = append(errs, fmt.Errorf("reservation %s: %w", r.ID, err))
			continue
		}
		consumed = append(consumed, out)
	}
	return consumed, errors.Join(errs...)
}

func (m *reservationManager) ExpiredReservations(ctx context.Context, after *models.ExpiryCursor, limit int) ([]*models.Reservation, error) {
	return m.store.ListExpiredReservations(ctx, m.now(), after, limit)
}

func (m *reservationManager) CountActive(ctx context.Context) (int, error) {
	return m.store.CountActiveReservations(ctx)
}

// ExpireReservation releases r with reason timeout, re-checking the deadline under the lock so a
// concurrent extend wins. Transfer holds time out by cancelling their transfer.
func (m *reservationManager) ExpireReservation(ctx context.Context, r *models.Reservation) (*ExpireOutcome, error) {
	const actor = "system:expiration-sweeper"
	outcome := &ExpireOutcome{Reservation: r}

	if r.TransferID != nil {
		var transfer *models.Transfer
		err := m.store.InTx(ctx, func(tx repositories.LedgerTx) error {
			var err error
			transfer, outcome.Item, err = m.cancelTransferInTx(ctx, tx, r.TenantID, *r.TransferID, models.ReleaseTimeout, actor, true)
			return err
		})
		if err != nil {
			return nil, err
		}
		if outcome.Item != nil {
			outcome.Released = true
			m.metrics.RecordReservation("expired")
			m.metrics.RecordTransfer(string(models.TransferCancelled))
			m.logger.Info("transfer cancelled on hold timeout", zap.String("transfer_id", transfer.ID.String()))
			m.committed(ctx, "reservation_expired", r.ID.String(), outcome.Item)
		}
		return outcome, nil
	}

	err := m.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		locked, err := tx.LockReservation(ctx, r.TenantID, r.ID)
		if err != nil {
			return err
		}
		outcome.Reservation = locked
		if locked.Status != models.ReservationActive || !locked.Expired(m.now()) {
			return nil
		}
		outcome.Item, err = m.releaseInTx(ctx, tx, locked, models.ReleaseTimeout, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if outcome.Item != nil {
		outcome.Released = true
		m.metrics.RecordReservation("expired")
		m.committed(ctx, "reservation_expired", r.ID.String(), outcome.Item)
	}
	return outcome, nil
}
