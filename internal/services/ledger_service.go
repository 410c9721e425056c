package services

import (
	"context"
	"errors"
	"time"

	"stockledger/internal/allocation"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type StockLedger interface {
	ApplyMovement(ctx context.Context, req *models.MovementRequest) (*MovementResult, error)
	SyncFromExternal(ctx context.Context, key models.InventoryKey, count int, reference, actor string) (*MovementResult, error)
	SetSafetyStock(ctx context.Context, key models.InventoryKey, safetyStock int, actor string) (*models.InventoryItem, error)

	GetItem(ctx context.Context, key models.InventoryKey) (*models.InventoryItem, error)
	ListItems(ctx context.Context, tenantID uuid.UUID, filter *models.InventorySearchFilter) ([]*models.InventoryItem, error)
	GetAvailability(ctx context.Context, key models.InventoryKey, channel string) (*models.Availability, error)
	ListMovements(ctx context.Context, tenantID uuid.UUID, filter *models.MovementFilter) ([]*models.StockMovement, error)
	Replay(ctx context.Context, key models.InventoryKey) (*models.ReplayResult, error)
}

// MovementResult is the row after a movement and the movement that produced it.
// Movement is nil when the request was a no-op.
type MovementResult struct {
	Item     *models.InventoryItem `json:"item"`
	Movement *models.StockMovement `json:"movement,omitempty"`
}

type stockLedger struct {
	*core
	cacheTTL time.Duration
}

func NewStockLedger(deps Deps, cacheTTL time.Duration) StockLedger {
	return &stockLedger{core: newCore(deps), cacheTTL: cacheTTL}
}

func (s *stockLedger) ApplyMovement(ctx context.Context, req *models.MovementRequest) (*MovementResult, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if !req.Direction.Valid() {
		return nil, ErrInvalidDirection
	}
	if !req.Reason.AffectsOnHand() {
		return nil, ErrInvalidReason
	}

	var result MovementResult
	err := s.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		var item *models.InventoryItem
		var err error
		if req.Direction == models.DirectionIn {
			item, err = tx.LockOrCreateItem(ctx, req.Key, s.now())
		} else {
			item, err = tx.LockItem(ctx, req.Key)
			if errors.Is(err, repositories.ErrNotFound) {
				return &NegativeStockError{Key: req.Key, Delta: -req.Quantity}
			}
		}
		if err != nil {
			return err
		}

		m, err := s.post(ctx, tx, item, posting{
			direction: req.Direction,
			quantity:  req.Quantity,
			reason:    req.Reason,
			reference: req.Reference,
			actor:     req.Actor,
			channel:   req.Channel,
		})
		if err != nil {
			return err
		}
		result = MovementResult{Item: item, Movement: m}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, string(req.Reason), req.Reference, result.Item)
	return &result, nil
}

// SyncFromExternal reconciles onHand to an authoritative count reported by an external system
// by posting the signed delta.
func (s *stockLedger) SyncFromExternal(ctx context.Context, key models.InventoryKey, count int, reference, actor string) (*MovementResult, error) {
	if count < 0 {
		return nil, ErrInvalidQuantity
	}

	var result MovementResult
	err := s.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		item, err := tx.LockOrCreateItem(ctx, key, s.now())
		if err != nil {
			return err
		}
		result.Item = item

		delta := count - item.OnHand
		if delta == 0 {
			return nil
		}
		direction := models.DirectionIn
		if delta < 0 {
			direction = models.DirectionOut
			delta = -delta
		}
		m, err := s.post(ctx, tx, item, posting{
			direction: direction,
			quantity:  delta,
			reason:    models.ReasonExternalSync,
			reference: reference,
			actor:     actor,
		})
		if err != nil {
			return err
		}
		result.Movement = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Movement != nil {
		s.committed(ctx, string(models.ReasonExternalSync), reference, result.Item)
	}
	return &result, nil
}

func (s *stockLedger) SetSafetyStock(ctx context.Context, key models.InventoryKey, safetyStock int, actor string) (*models.InventoryItem, error) {
	if safetyStock < 0 {
		return nil, ErrInvalidQuantity
	}

	var updated *models.InventoryItem
	changed := false
	err := s.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		item, err := tx.LockOrCreateItem(ctx, key, s.now())
		if err != nil {
			return err
		}
		updated = item
		diff := safetyStock - item.SafetyStock
		if diff == 0 {
			return nil
		}

		item.SafetyStock = safetyStock
		item.UpdatedAt = s.now()
		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		changed = true
		return s.memo(ctx, tx, key, diff, models.ReasonSafetyStockAdjust, "safety_stock", actor, nil)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info("safety stock updated", zap.String("key", key.String()), zap.Int("safety_stock", safetyStock), zap.String("actor", actor))
		s.committed(ctx, string(models.ReasonSafetyStockAdjust), "", updated)
	}
	return updated, nil
}

func (s *stockLedger) GetItem(ctx context.Context, key models.InventoryKey) (*models.InventoryItem, error) {
	return s.store.GetItem(ctx, key)
}

func (s *stockLedger) ListItems(ctx context.Context, tenantID uuid.UUID, filter *models.InventorySearchFilter) ([]*models.InventoryItem, error) {
	return s.store.ListItems(ctx, tenantID, filter)
}

// GetAvailability answers what channel may sell at key. Unknown keys are simply out of stock.
func (s *stockLedger) GetAvailability(ctx context.Context, key models.InventoryKey, channel string) (*models.Availability, error) {
	cached, err := s.cache.GetAvailability(ctx, key, channel)
	if err != nil {
		s.logger.Warn("availability cache read failed", zap.String("key", key.String()), zap.Error(err))
	}
	if cached != nil {
		return cached, nil
	}

	item, err := s.store.GetItem(ctx, key)
	if errors.Is(err, repositories.ErrNotFound) {
		item = models.NewInventoryItem(key, s.now())
	} else if err != nil {
		return nil, err
	}

	a := &models.Availability{
		TenantID:      key.TenantID,
		VariantID:     key.VariantID,
		LocationID:    key.LocationID,
		Channel:       channel,
		OnHand:        item.OnHand,
		Reserved:      item.Reserved,
		SafetyStock:   item.SafetyStock,
		BaseAvailable: item.Available(),
		ChannelBuffer: item.ChannelBuffers[channel],
		Available:     allocation.AvailableForChannel(item, channel),
	}

	if s.cacheTTL > 0 {
		if err := s.cache.SetAvailability(ctx, a, s.cacheTTL); err != nil {
			s.logger.Warn("availability cache write failed", zap.String("key", key.String()), zap.Error(err))
		} else if s.changedSince(ctx, item) {
			// a commit between the read and the write may already have run its invalidation
			if err := s.cache.Invalidate(ctx, key); err != nil {
				s.logger.Warn("failed to drop stale availability", zap.String("key", key.String()), zap.Error(err))
			}
		}
	}
	return a, nil
}

func (s *stockLedger) changedSince(ctx context.Context, seen *models.InventoryItem) bool {
	current, err := s.store.GetItem(ctx, seen.Key())
	if errors.Is(err, repositories.ErrNotFound) {
		return false
	}
	if err != nil {
		return true
	}
	return !seen.SameState(current)
}

func (s *stockLedger) ListMovements(ctx context.Context, tenantID uuid.UUID, filter *models.MovementFilter) ([]*models.StockMovement, error) {
	return s.store.ListMovements(ctx, tenantID, filter)
}

// Replay rebuilds onHand from the movement log and reports any drift from the stored row.
func (s *stockLedger) Replay(ctx context.Context, key models.InventoryKey) (*models.ReplayResult, error) {
	item, err := s.store.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}
	movements, err := s.store.MovementsForKey(ctx, key)
	if err != nil {
		return nil, err
	}

	replayed := 0
	for _, m := range movements {
		replayed += m.SignedQuantity()
	}
	result := &models.ReplayResult{
		Key:            key,
		StoredOnHand:   item.OnHand,
		ReplayedOnHand: replayed,
		Movements:      len(movements),
		Drift:          item.OnHand - replayed,
	}
	if result.Drift != 0 {
		s.logger.Error("ledger drift detected", zap.String("key", key.String()), zap.Int("stored", item.OnHand), zap.Int("replayed", replayed))
	}
	return result, nil
}
