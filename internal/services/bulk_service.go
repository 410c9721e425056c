package services

import (
	"context"
	"fmt"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BulkService interface {
	ApplyBulkAdjustment(ctx context.Context, tenantID uuid.UUID, bulkAdjust *models.InventoryBulkAdjust, actor string) (*models.BulkOperationResult, error)
}

type bulkService struct {
	ledger StockLedger
	*core
}

func NewBulkService(deps Deps, ledger StockLedger) BulkService {
	return &bulkService{ledger: ledger, core: newCore(deps)}
}

// ApplyBulkAdjustment posts every adjustment through the ledger in its own transaction. The sign of
// QuantityChange picks the direction; a failed item never undoes the ones before it.
func (s *bulkService) ApplyBulkAdjustment(ctx context.Context, tenantID uuid.UUID, bulkAdjust *models.InventoryBulkAdjust, actor string) (*models.BulkOperationResult, error) {
	result := models.NewBulkOperationResult(len(bulkAdjust.Adjustments), s.now())

	for i, adjustment := range bulkAdjust.Adjustments {
		key := models.InventoryKey{TenantID: tenantID, VariantID: adjustment.VariantID, LocationID: adjustment.LocationID}
		itemID := fmt.Sprintf("%s-%s", adjustment.LocationID, adjustment.VariantID)

		if adjustment.QuantityChange == 0 {
			result.RecordFailure(i, itemID, KindValidation, "quantity_change must not be zero", nil)
			continue
		}

		reason := adjustment.Reason
		if reason == "" {
			reason = models.ReasonAdjustment
		}
		direction := models.DirectionIn
		quantity := adjustment.QuantityChange
		if quantity < 0 {
			direction = models.DirectionOut
			quantity = -quantity
		}

		res, err := s.ledger.ApplyMovement(ctx, &models.MovementRequest{
			Key:       key,
			Direction: direction,
			Quantity:  quantity,
			Reason:    reason,
			Reference: adjustment.Reference,
			Actor:     actor,
		})
		if err != nil {
			result.RecordFailure(i, itemID, ErrorKind(err), err.Error(), ErrorDetails(err))
			continue
		}
		result.RecordSuccess(i, res.Movement.ID.String())
	}

	result.Finish(s.now())
	s.logger.Info("bulk adjustment finished", zap.String("operation_id", result.OperationID),
		zap.Int("processed", result.ProcessedItems), zap.Int("failed", result.FailedItems))
	return result, nil
}
