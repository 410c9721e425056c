package services

import (
	"context"
	"errors"
	"fmt"

	"stockledger/internal/allocation"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChannelBufferAllocator interface {
	ListRules(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*models.ChannelBufferRule, error)
	SaveRule(ctx context.Context, rule *models.ChannelBufferRule) (*models.ChannelBufferRule, error)
	DeactivateRule(ctx context.Context, tenantID, id uuid.UUID) error

	// ComputeBuffers previews the buffers the active rules would assign to key without persisting them.
	ComputeBuffers(ctx context.Context, key models.InventoryKey) (map[string]int, error)
	Recompute(ctx context.Context, key models.InventoryKey, actor string) (*models.InventoryItem, error)
	RecomputeTenant(ctx context.Context, tenantID uuid.UUID, actor string) (int, error)
	RecomputeAll(ctx context.Context, actor string) (int, error)
}

type BufferConfig struct {
	// LookbackDays is the sales window velocity and trend are computed over.
	LookbackDays int
}

type bufferAllocator struct {
	*core
	cfg BufferConfig
}

func NewChannelBufferAllocator(deps Deps, cfg BufferConfig) ChannelBufferAllocator {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}
	return &bufferAllocator{core: newCore(deps), cfg: cfg}
}

func (a *bufferAllocator) ListRules(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*models.ChannelBufferRule, error) {
	return a.store.ListBufferRules(ctx, tenantID, activeOnly)
}

func validateRule(rule *models.ChannelBufferRule) error {
	var verr ValidationErrors
	if rule.Channel == "" {
		verr.add("channel", "required", "channel is required")
	}
	if !rule.BufferType.Valid() {
		verr.add("buffer_type", "invalid_buffer_type", fmt.Sprintf("unknown buffer type %q", rule.BufferType))
	}
	if rule.Value < 0 {
		verr.add("value", "invalid_value", "value must not be negative")
	}
	if rule.BufferType == models.BufferPercentage && rule.Value > 100 {
		verr.add("value", "invalid_value", "percentage must not exceed 100")
	}
	if rule.MinBuffer < 0 {
		verr.add("min_buffer", "invalid_value", "min_buffer must not be negative")
	}
	if rule.MaxBuffer != nil && *rule.MaxBuffer < rule.MinBuffer {
		verr.add("max_buffer", "invalid_value", "max_buffer must not be below min_buffer")
	}
	return verr.orNil()
}

func (a *bufferAllocator) SaveRule(ctx context.Context, rule *models.ChannelBufferRule) (*models.ChannelBufferRule, error) {
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	now := a.now()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if err := a.store.SaveBufferRule(ctx, rule); err != nil {
		return nil, err
	}
	a.logger.Info("buffer rule saved", zap.String("rule_id", rule.ID.String()), zap.String("channel", rule.Channel),
		zap.String("buffer_type", string(rule.BufferType)), zap.Float64("value", rule.Value))
	return rule, nil
}

func (a *bufferAllocator) DeactivateRule(ctx context.Context, tenantID, id uuid.UUID) error {
	return a.store.DeactivateBufferRule(ctx, tenantID, id)
}

// demand is the sales picture for a key, loaded outside the write transaction.
type demand struct {
	inputs    map[string]allocation.BufferInput
	selection map[string]*models.ChannelBufferRule
}

func (a *bufferAllocator) loadDemand(ctx context.Context, key models.InventoryKey, rules []*models.ChannelBufferRule, base int) (*demand, error) {
	now := a.now()
	since := now.AddDate(0, 0, -a.cfg.LookbackDays)
	d := &demand{
		inputs:    make(map[string]allocation.BufferInput),
		selection: make(map[string]*models.ChannelBufferRule),
	}

	for _, channel := range allocation.Channels(rules) {
		rule := allocation.SelectRule(rules, channel, key)
		if rule == nil {
			continue
		}
		d.selection[channel] = rule
		in := allocation.BufferInput{BaseAvailable: base, Trend: allocation.TrendStable, Now: now}

		if rule.BufferType == models.BufferVelocityBased || rule.BufferType == models.BufferDynamic {
			ch := channel
			sales, err := a.store.DailySales(ctx, key, &ch, since)
			if err != nil {
				return nil, err
			}
			if len(sales) == 0 {
				// channel-tagged sales are optional; fall back to the key's total
				if sales, err = a.store.DailySales(ctx, key, nil, since); err != nil {
					return nil, err
				}
			}
			in.DailyVelocity = allocation.Velocity(sales, a.cfg.LookbackDays)
			in.Trend = allocation.DetectTrend(sales, now, a.cfg.LookbackDays)
		}
		if rule.BufferType == models.BufferDynamic {
			outcomes, err := a.store.ChannelOutcomes(ctx, key.TenantID, channel, since)
			if err != nil {
				return nil, err
			}
			in.ConversionRate = allocation.ConversionRate(outcomes)
		}
		d.inputs[channel] = in
	}
	return d, nil
}

// buffersFor applies the selected strategies to item and fits the result to its sellable pool.
func (d *demand) buffersFor(item *models.InventoryItem) (map[string]int, error) {
	raw := make(map[string]int, len(d.selection))
	for channel, rule := range d.selection {
		strategy, err := allocation.FromRule(rule)
		if err != nil {
			return nil, err
		}
		in := d.inputs[channel]
		in.BaseAvailable = item.Available()
		raw[channel] = allocation.Clamp(strategy.Compute(in), rule.MinBuffer, rule.MaxBuffer)
	}
	return allocation.FitToPool(raw, allocation.SellablePool(item)), nil
}

func (a *bufferAllocator) prepare(ctx context.Context, key models.InventoryKey) (*models.InventoryItem, *demand, error) {
	item, err := a.store.GetItem(ctx, key)
	if errors.Is(err, repositories.ErrNotFound) {
		item = models.NewInventoryItem(key, a.now())
	} else if err != nil {
		return nil, nil, err
	}
	rules, err := a.store.ListBufferRules(ctx, key.TenantID, true)
	if err != nil {
		return nil, nil, err
	}
	d, err := a.loadDemand(ctx, key, rules, item.Available())
	if err != nil {
		return nil, nil, err
	}
	return item, d, nil
}

func (a *bufferAllocator) ComputeBuffers(ctx context.Context, key models.InventoryKey) (map[string]int, error) {
	item, d, err := a.prepare(ctx, key)
	if err != nil {
		return nil, err
	}
	return d.buffersFor(item)
}

// Recompute persists fresh buffers for key. Demand is read first; the buffers are then fitted to
// the row as it stands under the lock, so concurrent reservations cannot push them past the pool.
func (a *bufferAllocator) Recompute(ctx context.Context, key models.InventoryKey, actor string) (*models.InventoryItem, error) {
	_, d, err := a.prepare(ctx, key)
	if err != nil {
		return nil, err
	}

	var updated *models.InventoryItem
	changed := false
	err = a.store.InTx(ctx, func(tx repositories.LedgerTx) error {
		item, err := tx.LockItem(ctx, key)
		if err != nil {
			return err
		}
		updated = item

		buffers, err := d.buffersFor(item)
		if err != nil {
			return err
		}
		deltas := bufferDeltas(item.ChannelBuffers, buffers)
		if len(deltas) == 0 {
			return nil
		}

		item.ChannelBuffers = buffers
		item.UpdatedAt = a.now()
		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		changed = true
		for channel, delta := range deltas {
			ch := channel
			if err := a.memo(ctx, tx, key, delta, models.ReasonBufferUpdate, "buffer_recompute", actor, &ch); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		a.metrics.RecordBufferUpdate()
		a.logger.Debug("channel buffers updated", zap.String("key", key.String()), zap.Any("buffers", updated.ChannelBuffers))
		a.committed(ctx, string(models.ReasonBufferUpdate), "", updated)
	}
	return updated, nil
}

// bufferDeltas is the per-channel change from old to next, including channels that disappear.
func bufferDeltas(old, next map[string]int) map[string]int {
	deltas := make(map[string]int)
	for c, v := range next {
		if d := v - old[c]; d != 0 {
			deltas[c] = d
		}
	}
	for c, v := range old {
		if _, ok := next[c]; !ok && v != 0 {
			deltas[c] = -v
		}
	}
	return deltas
}

const recomputePageSize = 500

// RecomputeTenant recomputes every inventory row of tenantID and returns how many rows it visited.
// A failing row is logged and skipped.
func (a *bufferAllocator) RecomputeTenant(ctx context.Context, tenantID uuid.UUID, actor string) (int, error) {
	var keys []models.InventoryKey
	for offset := 0; ; offset += recomputePageSize {
		items, err := a.store.ListItems(ctx, tenantID, &models.InventorySearchFilter{Limit: recomputePageSize, Offset: offset})
		if err != nil {
			return 0, err
		}
		for _, item := range items {
			keys = append(keys, item.Key())
		}
		if len(items) < recomputePageSize {
			break
		}
	}

	visited := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return visited, err
		}
		if _, err := a.Recompute(ctx, key, actor); err != nil {
			a.logger.Warn("buffer recompute failed", zap.String("key", key.String()), zap.Error(err))
			continue
		}
		visited++
	}
	return visited, nil
}

func (a *bufferAllocator) RecomputeAll(ctx context.Context, actor string) (int, error) {
	tenants, err := a.store.ListBufferRuleTenants(ctx)
	if err != nil {
		return 0, err
	}
	start := a.now()
	total := 0
	for _, tenantID := range tenants {
		n, err := a.RecomputeTenant(ctx, tenantID, actor)
		total += n
		if err != nil {
			return total, err
		}
	}
	a.logger.Info("channel buffers recomputed", zap.Int("tenants", len(tenants)), zap.Int("items", total),
		zap.Duration("duration", a.now().Sub(start)))
	return total, nil
}
