// Package memory is an in-process LedgerStore. Transactions are serialized and their writes are
// staged, so a failed unit of work leaves no trace. Used by tests and LEDGER_STORE=memory.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"stockledger/internal/models"
	"stockledger/internal/repositories"

	"github.com/google/uuid"
)

var _ repositories.LedgerStore = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	items        map[models.InventoryKey]*models.InventoryItem
	movements    []*models.StockMovement
	reservations map[uuid.UUID]*models.Reservation
	transfers    map[uuid.UUID]*models.Transfer
	rules        map[uuid.UUID]*models.ChannelBufferRule
	locations    map[uuid.UUID]*models.Location
	variants     map[uuid.UUID]uuid.UUID // variant -> tenant
}

func NewStore() *Store {
	return &Store{
		items:        make(map[models.InventoryKey]*models.InventoryItem),
		reservations: make(map[uuid.UUID]*models.Reservation),
		transfers:    make(map[uuid.UUID]*models.Transfer),
		rules:        make(map[uuid.UUID]*models.ChannelBufferRule),
		locations:    make(map[uuid.UUID]*models.Location),
		variants:     make(map[uuid.UUID]uuid.UUID),
	}
}

// AddLocation registers a catalog location.
func (s *Store) AddLocation(loc *models.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *loc
	s.locations[loc.ID] = &c
}

// AddVariant registers a catalog variant for tenantID.
func (s *Store) AddVariant(tenantID, variantID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variantID] = tenantID
}

func (s *Store) InTx(ctx context.Context, fn func(tx repositories.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:        s,
		items:        make(map[models.InventoryKey]*models.InventoryItem),
		reservations: make(map[uuid.UUID]*models.Reservation),
		transfers:    make(map[uuid.UUID]*models.Transfer),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for k, item := range tx.items {
		s.items[k] = item
	}
	s.movements = append(s.movements, tx.movements...)
	for id, r := range tx.reservations {
		s.reservations[id] = r
	}
	for id, t := range tx.transfers {
		s.transfers[id] = t
	}
	return nil
}

// memTx reads through to the store and stages every write until commit.
type memTx struct {
	store        *Store
	items        map[models.InventoryKey]*models.InventoryItem
	movements    []*models.StockMovement
	reservations map[uuid.UUID]*models.Reservation
	transfers    map[uuid.UUID]*models.Transfer
}

func (t *memTx) LockItem(_ context.Context, key models.InventoryKey) (*models.InventoryItem, error) {
	if item, ok := t.items[key]; ok {
		return item.Clone(), nil
	}
	item, ok := t.store.items[key]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return item.Clone(), nil
}

func (t *memTx) LockOrCreateItem(ctx context.Context, key models.InventoryKey, now time.Time) (*models.InventoryItem, error) {
	item, err := t.LockItem(ctx, key)
	if err == nil {
		return item, nil
	}
	item = models.NewInventoryItem(key, now)
	t.items[key] = item.Clone()
	return item, nil
}

func (t *memTx) SaveItem(_ context.Context, item *models.InventoryItem) error {
	key := item.Key()
	if _, ok := t.items[key]; !ok {
		if _, ok := t.store.items[key]; !ok {
			return repositories.ErrNotFound
		}
	}
	t.items[key] = item.Clone()
	return nil
}

func (t *memTx) AppendMovement(_ context.Context, m *models.StockMovement) error {
	c := *m
	t.movements = append(t.movements, &c)
	return nil
}

func (t *memTx) InsertReservation(_ context.Context, r *models.Reservation) error {
	if _, ok := t.store.reservations[r.ID]; ok {
		return repositories.ErrAlreadyExists
	}
	c := *r
	t.reservations[r.ID] = &c
	return nil
}

func (t *memTx) LockReservation(_ context.Context, tenantID, id uuid.UUID) (*models.Reservation, error) {
	r, ok := t.reservations[id]
	if !ok {
		r, ok = t.store.reservations[id]
	}
	if !ok || r.TenantID != tenantID {
		return nil, repositories.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (t *memTx) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	if _, err := t.LockReservation(ctx, r.TenantID, r.ID); err != nil {
		return err
	}
	c := *r
	t.reservations[r.ID] = &c
	return nil
}

func (t *memTx) InsertTransfer(_ context.Context, tr *models.Transfer) error {
	if _, ok := t.store.transfers[tr.ID]; ok {
		return repositories.ErrAlreadyExists
	}
	c := *tr
	t.transfers[tr.ID] = &c
	return nil
}

func (t *memTx) LockTransfer(_ context.Context, tenantID, id uuid.UUID) (*models.Transfer, error) {
	tr, ok := t.transfers[id]
	if !ok {
		tr, ok = t.store.transfers[id]
	}
	if !ok || tr.TenantID != tenantID {
		return nil, repositories.ErrNotFound
	}
	c := *tr
	return &c, nil
}

func (t *memTx) UpdateTransfer(ctx context.Context, tr *models.Transfer) error {
	if _, err := t.LockTransfer(ctx, tr.TenantID, tr.ID); err != nil {
		return err
	}
	c := *tr
	t.transfers[tr.ID] = &c
	return nil
}

func (s *Store) GetItem(_ context.Context, key models.InventoryKey) (*models.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return item.Clone(), nil
}

func (s *Store) ListItems(_ context.Context, tenantID uuid.UUID, filter *models.InventorySearchFilter) ([]*models.InventoryItem, error) {
	if filter == nil {
		filter = &models.InventorySearchFilter{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []*models.InventoryItem
	for _, item := range s.items {
		if item.TenantID != tenantID {
			continue
		}
		if filter.VariantID != nil && item.VariantID != *filter.VariantID {
			continue
		}
		if filter.LocationID != nil && item.LocationID != *filter.LocationID {
			continue
		}
		if filter.MaxAvailable != nil && item.Available() > *filter.MaxAvailable {
			continue
		}
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return bytes.Compare(items[i].ID[:], items[j].ID[:]) < 0
	})
	return page(items, filter.Limit, filter.Offset), nil
}

func (s *Store) ListMovements(_ context.Context, tenantID uuid.UUID, filter *models.MovementFilter) ([]*models.StockMovement, error) {
	if filter == nil {
		filter = &models.MovementFilter{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.StockMovement
	for _, m := range s.movements {
		if m.TenantID != tenantID {
			continue
		}
		if filter.VariantID != nil && m.VariantID != *filter.VariantID {
			continue
		}
		if filter.LocationID != nil && m.LocationID != *filter.LocationID {
			continue
		}
		if filter.Reason != nil && m.Reason != *filter.Reason {
			continue
		}
		if filter.Reference != "" && m.Reference != filter.Reference {
			continue
		}
		if filter.From != nil && m.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !m.CreatedAt.Before(*filter.To) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	return page(out, filter.Limit, filter.Offset), nil
}

func (s *Store) MovementsForKey(_ context.Context, key models.InventoryKey) ([]*models.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.StockMovement
	for _, m := range s.movements {
		if m.Key() == key {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetReservation(_ context.Context, tenantID, id uuid.UUID) (*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok || r.TenantID != tenantID {
		return nil, repositories.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *Store) ListReservations(_ context.Context, tenantID uuid.UUID, filter *models.ReservationFilter) ([]*models.Reservation, error) {
	if filter == nil {
		filter = &models.ReservationFilter{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reservation
	for _, r := range s.reservations {
		if r.TenantID != tenantID {
			continue
		}
		if filter.VariantID != nil && r.VariantID != *filter.VariantID {
			continue
		}
		if filter.LocationID != nil && r.LocationID != *filter.LocationID {
			continue
		}
		if filter.OrderID != nil && (r.OrderID == nil || *r.OrderID != *filter.OrderID) {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (s *Store) ListExpiredReservations(_ context.Context, before time.Time, after *models.ExpiryCursor, limit int) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Reservation
	for _, r := range s.reservations {
		if r.Status != models.ReservationActive || !r.Expired(before) {
			continue
		}
		if after != nil && !cursorLess(after, r.ExpiryCursor()) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return cursorLess(out[i].ExpiryCursor(), out[j].ExpiryCursor()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountActiveReservations(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.reservations {
		if r.Status == models.ReservationActive {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetTransfer(_ context.Context, tenantID, id uuid.UUID) (*models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok || t.TenantID != tenantID {
		return nil, repositories.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *Store) ListTransfers(_ context.Context, tenantID uuid.UUID, filter *models.TransferFilter) ([]*models.Transfer, error) {
	if filter == nil {
		filter = &models.TransferFilter{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Transfer
	for _, t := range s.transfers {
		if t.TenantID != tenantID {
			continue
		}
		if filter.VariantID != nil && t.VariantID != *filter.VariantID {
			continue
		}
		if filter.LocationID != nil && t.FromLocationID != *filter.LocationID && t.ToLocationID != *filter.LocationID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (s *Store) GetLocation(_ context.Context, tenantID, id uuid.UUID) (*models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[id]
	if !ok || loc.TenantID != tenantID {
		return nil, repositories.ErrNotFound
	}
	c := *loc
	return &c, nil
}

func (s *Store) VariantExists(_ context.Context, tenantID, variantID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.variants[variantID]
	return ok && owner == tenantID, nil
}

func (s *Store) DailySales(_ context.Context, key models.InventoryKey, channel *string, since time.Time) ([]models.DailySales, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := map[time.Time]int{}
	for _, m := range s.movements {
		if m.Key() != key || m.Reason != models.ReasonSale || m.Direction != models.DirectionOut || m.CreatedAt.Before(since) {
			continue
		}
		if channel != nil && (m.Channel == nil || *m.Channel != *channel) {
			continue
		}
		byDay[m.CreatedAt.UTC().Truncate(24*time.Hour)] += m.Quantity
	}
	out := make([]models.DailySales, 0, len(byDay))
	for day, qty := range byDay {
		out = append(out, models.DailySales{Day: day, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (s *Store) ChannelOutcomes(_ context.Context, tenantID uuid.UUID, channel string, since time.Time) (models.ChannelOutcomes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out models.ChannelOutcomes
	for _, r := range s.reservations {
		if r.TenantID != tenantID || r.Channel == nil || *r.Channel != channel || r.CreatedAt.Before(since) {
			continue
		}
		switch r.Status {
		case models.ReservationConsumed:
			out.Consumed++
		case models.ReservationReleased:
			out.Released++
		}
	}
	return out, nil
}

func (s *Store) ListBufferRules(_ context.Context, tenantID uuid.UUID, activeOnly bool) ([]*models.ChannelBufferRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ChannelBufferRule
	for _, r := range s.rules {
		if r.TenantID != tenantID || (activeOnly && !r.IsActive) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Priority > out[j].Priority
	})
	return out, nil
}

func (s *Store) SaveBufferRule(_ context.Context, rule *models.ChannelBufferRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rules[rule.ID]; ok && existing.TenantID != rule.TenantID {
		return repositories.ErrNotFound
	}
	c := *rule
	s.rules[rule.ID] = &c
	return nil
}

func (s *Store) DeactivateBufferRule(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || r.TenantID != tenantID {
		return repositories.ErrNotFound
	}
	r.IsActive = false
	r.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ListBufferRuleTenants(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, r := range s.rules {
		if r.IsActive && !seen[r.TenantID] {
			seen[r.TenantID] = true
			out = append(out, r.TenantID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func page[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

// cursorLess orders like the row comparison (expires_at, id) in postgres.
func cursorLess(a, b *models.ExpiryCursor) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
