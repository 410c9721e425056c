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

type TransferCoordinator interface {
	Create(ctx context.Context, tenantID uuid.UUID, req *models.TransferRequest, actor string) (*models.Transfer, error)
	Ship(ctx context.Context, tenantID, id uuid.UUID) (*models.Transfer, error)
	Complete(ctx context.Context, tenantID, id uuid.UUID, actor string) (*models.Transfer, error)
	Cancel(ctx context.Context, tenantID, id uuid.UUID, actor string) (*models.Transfer, error)

	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Transfer, error)
	List(ctx context.Context, tenantID uuid.UUID, filter *models.TransferFilter) ([]*models.Transfer, error)
	BulkCreate(ctx context.Context, tenantID uuid.UUID, bulk *models.InventoryBulkTransfer, actor string) (*models.BulkOperationResult, error)
}

type TransferConfig struct {
	// HoldTTL bounds how long a transfer may keep its source reservation. Zero holds until the
	// transfer is completed or cancelled.
	HoldTTL time.Duration
}

type transferCoordinator struct {
	*core
	cfg TransferConfig
}

func NewTransferCoordinator(deps Deps, cfg TransferConfig) TransferCoordinator {
	return &transferCoordinator{core: newCore(deps), cfg: cfg}
}

// validate checks a request against the catalog and the current stock before any mutation.
// Every problem is reported, not just the first.
func (c *transferCoordinator) validate(ctx context.Context, tenantID uuid.UUID, req *models.TransferRequest) error {
	var verr ValidationErrors

	if req.Quantity <= 0 {
		verr.add("quantity", "invalid_quantity", "quantity must be positive")
	}
	if req.FromLocationID == req.ToLocationID {
		verr.add("to_location_id", "same_location", "source and destination must differ")
	}

	for _, side := range []struct {
		field string
		id    uuid.UUID
	}{{"from_location_id", req.FromLocationID}, {"to_location_id", req.ToLocationID}} {
		loc, err := c.store.GetLocation(ctx, tenantID, side.id)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			verr.add(side.field, "location_not_found", fmt.Sprintf("location %s not found", side.id))
		case err != nil:
			return err
		case !loc.IsActive:
			verr.add(side.field, "location_inactive", fmt.Sprintf("location %s is not active", side.id))
		}
	}

	exists, err := c.store.VariantExists(ctx, tenantID, req.VariantID)
	if err != nil {
		return err
	}
	if !exists {
		verr.add("variant_id", "variant_not_found", fmt.Sprintf("variant %s not found", req.VariantID))
	}

	if req.Quantity > 0 {
		source := models.InventoryKey{TenantID: tenantID, VariantID: req.VariantID, LocationID: req.FromLocationID}
		available := 0
		item, err := c.store.GetItem(ctx, source)
		switch {
		case err == nil:
			available = item.Available()
		case !errors.Is(err, repositories.ErrNotFound):
			return err
		}
		if available < req.Quantity {
			verr.addAvailable("quantity", "insufficient_inventory",
				fmt.Sprintf("requested %d but only %d available at source", req.Quantity, available), available)
		}
	}
	return verr.orNil()
}

// Create validates the request, then reserves the source quantity and records a pending transfer
// in one transaction. The availability check is repeated under the row lock.
func (c *transferCoordinator) Create(ctx context.Context, tenantID uuid.UUID, req *models.TransferRequest, actor string) (*models.Transfer, error) {
	if err := c.validate(ctx, tenantID, req); err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if c.cfg.HoldTTL > 0 {
		at := c.now().Add(c.cfg.HoldTTL)
		expiresAt = &at
	}

	transferID := uuid.New()
	var transfer *models.Transfer
	var item *models.InventoryItem
	err := c.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		source := models.InventoryKey{TenantID: tenantID, VariantID: req.VariantID, LocationID: req.FromLocationID}
		r, locked, err := c.reserveInTx(ctx, tx, reserveParams{
			key:        source,
			quantity:   req.Quantity,
			transferID: &transferID,
			expiresAt:  expiresAt,
			actor:      actor,
		})
		if err != nil {
			return err
		}
		item = locked

		now := c.now()
		reason := req.Reason
		if reason == "" {
			reason = "rebalance"
		}
		transfer = &models.Transfer{
			ID:             transferID,
			TenantID:       tenantID,
			VariantID:      req.VariantID,
			FromLocationID: req.FromLocationID,
			ToLocationID:   req.ToLocationID,
			Quantity:       req.Quantity,
			Status:         models.TransferPending,
			ReservationID:  r.ID,
			Reason:         reason,
			Reference:      req.Reference,
			Notes:          req.Notes,
			CreatedBy:      actor,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.InsertTransfer(ctx, transfer)
	})
	if err != nil {
		var insufficient *InsufficientInventoryError
		if errors.As(err, &insufficient) {
			c.metrics.RecordInsufficientStock()
		}
		return nil, err
	}

	c.metrics.RecordTransfer(string(models.TransferPending))
	c.logger.Info("transfer created", zap.String("transfer_id", transfer.ID.String()),
		zap.String("from", transfer.FromLocationID.String()), zap.String("to", transfer.ToLocationID.String()),
		zap.Int("quantity", transfer.Quantity))
	c.committed(ctx, "transfer_created", transfer.ID.String(), item)
	return transfer, nil
}

func (c *transferCoordinator) Ship(ctx context.Context, tenantID, id uuid.UUID) (*models.Transfer, error) {
	var transfer *models.Transfer
	err := c.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		t, err := tx.LockTransfer(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if t.Status != models.TransferPending {
			return ErrTransferNotPending
		}
		now := c.now()
		t.Status = models.TransferInTransit
		t.ShippedAt = &now
		t.UpdatedAt = now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		transfer = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.RecordTransfer(string(models.TransferInTransit))
	return transfer, nil
}

// Complete moves the reserved quantity: the source loses onHand and reserved, the destination
// gains onHand, and the transfer closes, all in one transaction.
func (c *transferCoordinator) Complete(ctx context.Context, tenantID, id uuid.UUID, actor string) (*models.Transfer, error) {
	var transfer *models.Transfer
	var source, dest *models.InventoryItem
	err := c.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		t, err := tx.LockTransfer(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !t.Status.Open() {
			return ErrTransferNotOpen
		}
		r, err := tx.LockReservation(ctx, tenantID, t.ReservationID)
		if err != nil {
			return err
		}
		if r.Status != models.ReservationActive {
			return ErrReservationNotActive
		}

		now := c.now()
		source, dest, err = lockPair(ctx, tx, t.SourceKey(), t.DestinationKey(), now)
		if err != nil {
			return err
		}
		reference := t.ID.String()
		if _, err := c.post(ctx, tx, source, posting{
			direction:       models.DirectionOut,
			quantity:        t.Quantity,
			reason:          models.ReasonTransferOut,
			reference:       reference,
			actor:           actor,
			releaseReserved: t.Quantity,
		}); err != nil {
			return err
		}
		if _, err := c.post(ctx, tx, dest, posting{
			direction: models.DirectionIn,
			quantity:  t.Quantity,
			reason:    models.ReasonTransferIn,
			reference: reference,
			actor:     actor,
		}); err != nil {
			return err
		}

		r.Status = models.ReservationConsumed
		r.ConsumedAt = &now
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}

		t.Status = models.TransferCompleted
		t.CompletedBy = &actor
		t.CompletedAt = &now
		t.UpdatedAt = now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return err
		}
		transfer = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.RecordTransfer(string(models.TransferCompleted))
	c.committed(ctx, "transfer_completed", transfer.ID.String(), source, dest)
	return transfer, nil
}

// Cancel releases the source hold without crediting the destination. Cancelling a cancelled
// transfer is a no-op.
func (c *transferCoordinator) Cancel(ctx context.Context, tenantID, id uuid.UUID, actor string) (*models.Transfer, error) {
	var transfer *models.Transfer
	var item *models.InventoryItem
	err := c.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		var err error
		transfer, item, err = c.cancelTransferInTx(ctx, tx, tenantID, id, models.ReleaseTransferCancelled, actor, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	if item != nil {
		c.metrics.RecordTransfer(string(models.TransferCancelled))
		c.committed(ctx, "transfer_cancelled", transfer.ID.String(), item)
	}
	return transfer, nil
}

func (c *transferCoordinator) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Transfer, error) {
	return c.store.GetTransfer(ctx, tenantID, id)
}

func (c *transferCoordinator) List(ctx context.Context, tenantID uuid.UUID, filter *models.TransferFilter) ([]*models.Transfer, error) {
	return c.store.ListTransfers(ctx, tenantID, filter)
}

// BulkCreate creates each transfer in its own transaction and reports per item.
func (c *transferCoordinator) BulkCreate(ctx context.Context, tenantID uuid.UUID, bulk *models.InventoryBulkTransfer, actor string) (*models.BulkOperationResult, error) {
	result := models.NewBulkOperationResult(len(bulk.Transfers), c.now())
	for i := range bulk.Transfers {
		req := &bulk.Transfers[i]
		t, err := c.Create(ctx, tenantID, req, actor)
		if err != nil {
			result.RecordFailure(i, req.VariantID.String(), ErrorKind(err), err.Error(), ErrorDetails(err))
			continue
		}
		result.RecordSuccess(i, t.ID.String())
	}
	result.Finish(c.now())
	return result, nil
}
