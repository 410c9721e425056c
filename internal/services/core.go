package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"stockledger/internal/caching"
	"stockledger/internal/metrics"
	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// EventPublisher receives committed stock changes. The Kafka publisher implements it.
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, event models.StockChangedEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishStockChanged(context.Context, models.StockChangedEvent) error { return nil }

// Deps are the collaborators shared by the ledger services. Nil optional fields get no-op defaults.
type Deps struct {
	Store     repositories.LedgerStore
	Cache     caching.AvailabilityCache
	Publisher EventPublisher
	Clock     clockwork.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// core holds the transaction-level building blocks every service composes. post is the only
// code that writes onHand.
type core struct {
	store   repositories.LedgerStore
	cache   caching.AvailabilityCache
	pub     EventPublisher
	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newCore(d Deps) *core {
	c := &core{
		store:   d.Store,
		cache:   d.Cache,
		pub:     d.Publisher,
		clock:   d.Clock,
		logger:  d.Logger,
		metrics: d.Metrics,
	}
	if c.cache == nil {
		c.cache = caching.NoopCache{}
	}
	if c.pub == nil {
		c.pub = noopPublisher{}
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func (c *core) now() time.Time {
	return c.clock.Now().UTC()
}

// posting is one onHand change. releaseReserved is the part of an outbound quantity that was
// already reserved and leaves reserved together with onHand.
type posting struct {
	direction       models.Direction
	quantity        int
	reason          models.MovementReason
	reference       string
	actor           string
	channel         *string
	releaseReserved int
}

func (c *core) post(ctx context.Context, tx repositories.LedgerTx, item *models.InventoryItem, p posting) (*models.StockMovement, error) {
	if p.quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if !p.direction.Valid() {
		return nil, ErrInvalidDirection
	}
	if !p.reason.AffectsOnHand() {
		return nil, ErrInvalidReason
	}

	delta := p.quantity
	if p.direction == models.DirectionOut {
		delta = -p.quantity
	}
	onHand := item.OnHand + delta
	reserved := item.Reserved - p.releaseReserved
	if reserved < 0 || onHand < reserved {
		return nil, &NegativeStockError{Key: item.Key(), OnHand: item.OnHand, Reserved: item.Reserved, Delta: delta}
	}

	now := c.now()
	item.OnHand = onHand
	item.Reserved = reserved
	item.UpdatedAt = now
	if err := tx.SaveItem(ctx, item); err != nil {
		return nil, err
	}

	m := newMovement(item.Key(), p.direction, p.quantity, p.reason, p.reference, p.actor, p.channel, now)
	if err := tx.AppendMovement(ctx, m); err != nil {
		return nil, err
	}
	c.metrics.RecordMovement(string(p.direction), string(p.reason))
	return m, nil
}

// memo appends an audit-only movement. It never changes onHand and is skipped by replay.
func (c *core) memo(ctx context.Context, tx repositories.LedgerTx, key models.InventoryKey, signed int, reason models.MovementReason, reference, actor string, channel *string) error {
	if signed == 0 {
		return nil
	}
	direction := models.DirectionIn
	if signed < 0 {
		direction = models.DirectionOut
		signed = -signed
	}
	m := newMovement(key, direction, signed, reason, reference, actor, channel, c.now())
	if err := tx.AppendMovement(ctx, m); err != nil {
		return err
	}
	c.metrics.RecordMovement(string(direction), string(reason))
	return nil
}

func newMovement(key models.InventoryKey, d models.Direction, qty int, reason models.MovementReason, reference, actor string, channel *string, at time.Time) *models.StockMovement {
	return &models.StockMovement{
		ID:         uuid.New(),
		TenantID:   key.TenantID,
		VariantID:  key.VariantID,
		LocationID: key.LocationID,
		Direction:  d,
		Quantity:   qty,
		Reason:     reason,
		Reference:  reference,
		Actor:      actor,
		Channel:    channel,
		CreatedAt:  at,
	}
}

// reserveParams is the internal form of a claim, shared by order and transfer reservations.
type reserveParams struct {
	key        models.InventoryKey
	quantity   int
	orderID    *string
	transferID *uuid.UUID
	channel    *string
	expiresAt  *time.Time
	actor      string
}

// reserveInTx performs the atomic check-and-increment on the locked item.
func (c *core) reserveInTx(ctx context.Context, tx repositories.LedgerTx, p reserveParams) (*models.Reservation, *models.InventoryItem, error) {
	if p.quantity <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	item, err := tx.LockItem(ctx, p.key)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil, &InsufficientInventoryError{Key: p.key, Available: 0, Requested: p.quantity}
	}
	if err != nil {
		return nil, nil, err
	}
	if available := item.Available(); available < p.quantity {
		return nil, nil, &InsufficientInventoryError{Key: p.key, Available: available, Requested: p.quantity}
	}

	now := c.now()
	item.Reserved += p.quantity
	item.UpdatedAt = now
	if err := tx.SaveItem(ctx, item); err != nil {
		return nil, nil, err
	}

	r := &models.Reservation{
		ID:         uuid.New(),
		TenantID:   p.key.TenantID,
		VariantID:  p.key.VariantID,
		LocationID: p.key.LocationID,
		OrderID:    p.orderID,
		TransferID: p.transferID,
		Channel:    p.channel,
		Quantity:   p.quantity,
		Status:     models.ReservationActive,
		ExpiresAt:  p.expiresAt,
		CreatedAt:  now,
		CreatedBy:  p.actor,
		UpdatedAt:  now,
	}
	if err := tx.InsertReservation(ctx, r); err != nil {
		return nil, nil, err
	}
	return r, item, nil
}

// releaseInTx returns an active, locked reservation's quantity to the pool.
func (c *core) releaseInTx(ctx context.Context, tx repositories.LedgerTx, r *models.Reservation, reason models.ReleaseReason, actor string) (*models.InventoryItem, error) {
	item, err := tx.LockItem(ctx, r.Key())
	if err != nil {
		return nil, err
	}
	if item.Reserved < r.Quantity {
		return nil, &NegativeStockError{Key: item.Key(), OnHand: item.OnHand, Reserved: item.Reserved, Delta: -r.Quantity}
	}

	now := c.now()
	item.Reserved -= r.Quantity
	item.UpdatedAt = now
	if err := tx.SaveItem(ctx, item); err != nil {
		return nil, err
	}

	memoReason := models.ReasonReservationReleased
	if reason == models.ReleaseTimeout {
		memoReason = models.ReasonReservationExpired
	}
	if err := c.memo(ctx, tx, r.Key(), r.Quantity, memoReason, r.ID.String(), actor, r.Channel); err != nil {
		return nil, err
	}

	r.Status = models.ReservationReleased
	r.ReleasedAt = &now
	r.ReleaseReason = &reason
	r.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, r); err != nil {
		return nil, err
	}
	return item, nil
}

// cancelTransferInTx releases the transfer's source hold and marks it cancelled.
// requireExpired makes it a no-op unless the hold has actually timed out.
func (c *core) cancelTransferInTx(ctx context.Context, tx repositories.LedgerTx, tenantID, transferID uuid.UUID, reason models.ReleaseReason, actor string, requireExpired bool) (*models.Transfer, *models.InventoryItem, error) {
	t, err := tx.LockTransfer(ctx, tenantID, transferID)
	if err != nil {
		return nil, nil, err
	}
	if t.Status == models.TransferCancelled {
		return t, nil, nil
	}
	if !t.Status.Open() {
		return nil, nil, ErrTransferNotOpen
	}

	r, err := tx.LockReservation(ctx, tenantID, t.ReservationID)
	if err != nil {
		return nil, nil, err
	}
	if requireExpired && (r.Status != models.ReservationActive || !r.Expired(c.now())) {
		return t, nil, nil
	}

	var item *models.InventoryItem
	if r.Status == models.ReservationActive {
		if item, err = c.releaseInTx(ctx, tx, r, reason, actor); err != nil {
			return nil, nil, err
		}
	}

	now := c.now()
	t.Status = models.TransferCancelled
	t.CancelledAt = &now
	t.UpdatedAt = now
	if err := tx.UpdateTransfer(ctx, t); err != nil {
		return nil, nil, err
	}
	return t, item, nil
}

// lockPair locks two keys in location order so concurrent transfers cannot deadlock.
func lockPair(ctx context.Context, tx repositories.LedgerTx, source, dest models.InventoryKey, now time.Time) (*models.InventoryItem, *models.InventoryItem, error) {
	keys := []models.InventoryKey{source, dest}
	sort.Slice(keys, func(i, j int) bool { return keys[i].LocationID.String() < keys[j].LocationID.String() })

	locked := make(map[models.InventoryKey]*models.InventoryItem, 2)
	for _, k := range keys {
		var item *models.InventoryItem
		var err error
		if k == dest {
			item, err = tx.LockOrCreateItem(ctx, k, now)
		} else {
			item, err = tx.LockItem(ctx, k)
		}
		if err != nil {
			return nil, nil, err
		}
		locked[k] = item
	}
	return locked[source], locked[dest], nil
}

// committed drops cached availability and publishes the new state. Failures are logged only;
// the ledger row is already durable.
func (c *core) committed(ctx context.Context, cause, reference string, items ...*models.InventoryItem) {
	for _, item := range items {
		if item == nil {
			continue
		}
		if err := c.cache.Invalidate(ctx, item.Key()); err != nil {
			c.logger.Warn("failed to invalidate availability cache", zap.String("key", item.Key().String()), zap.Error(err))
		}
		event := models.NewStockChangedEvent(item, cause, reference, c.now())
		if err := c.pub.PublishStockChanged(ctx, event); err != nil {
			c.logger.Warn("failed to publish stock change", zap.String("key", item.Key().String()), zap.String("cause", cause), zap.Error(err))
		}
	}
}
