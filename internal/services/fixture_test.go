package services

import (
	"context"
	"sync"
	"time"

	"stockledger/internal/metrics"
	"stockledger/internal/models"
	"stockledger/internal/repositories/memory"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

var testEpoch = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StockChangedEvent
}

func (p *recordingPublisher) PublishStockChanged(_ context.Context, e models.StockChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) last() models.StockChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// ledgerSuite wires every service against one in-memory store and a fake clock.
type ledgerSuite struct {
	suite.Suite
	ctx   context.Context
	store *memory.Store
	clock *clockwork.FakeClock
	pub   *recordingPublisher
	deps  Deps

	tenantID   uuid.UUID
	variantID  uuid.UUID
	locationA  uuid.UUID
	locationB  uuid.UUID
	inactiveID uuid.UUID

	ledger       StockLedger
	reservations ReservationManager
	transfers    TransferCoordinator
	buffers      ChannelBufferAllocator
}

func (s *ledgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.clock = clockwork.NewFakeClockAt(testEpoch)
	s.pub = &recordingPublisher{}
	s.deps = Deps{
		Store:     s.store,
		Publisher: s.pub,
		Clock:     s.clock,
		Logger:    zap.NewNop(),
		Metrics:   metrics.New(metrics.DefaultConfig()),
	}

	s.tenantID = uuid.New()
	s.variantID = uuid.New()
	s.locationA = uuid.New()
	s.locationB = uuid.New()
	s.inactiveID = uuid.New()
	s.store.AddVariant(s.tenantID, s.variantID)
	s.store.AddLocation(&models.Location{ID: s.locationA, TenantID: s.tenantID, Name: "Pune DC", IsActive: true})
	s.store.AddLocation(&models.Location{ID: s.locationB, TenantID: s.tenantID, Name: "Mumbai Store", IsActive: true})
	s.store.AddLocation(&models.Location{ID: s.inactiveID, TenantID: s.tenantID, Name: "Closed", IsActive: false})

	s.ledger = NewStockLedger(s.deps, 0)
	s.reservations = NewReservationManager(s.deps, ReservationConfig{DefaultTTL: 15 * time.Minute})
	s.transfers = NewTransferCoordinator(s.deps, TransferConfig{})
	s.buffers = NewChannelBufferAllocator(s.deps, BufferConfig{LookbackDays: 30})
}

func (s *ledgerSuite) key(location uuid.UUID) models.InventoryKey {
	return models.InventoryKey{TenantID: s.tenantID, VariantID: s.variantID, LocationID: location}
}

// stock seeds onHand at location with a restock movement and sets the safety stock.
func (s *ledgerSuite) stock(location uuid.UUID, onHand, safety int) {
	if onHand > 0 {
		_, err := s.ledger.ApplyMovement(s.ctx, &models.MovementRequest{
			Key:       s.key(location),
			Direction: models.DirectionIn,
			Quantity:  onHand,
			Reason:    models.ReasonRestock,
			Reference: "PO-1001",
			Actor:     "test",
		})
		s.Require().NoError(err)
	}
	if safety > 0 {
		_, err := s.ledger.SetSafetyStock(s.ctx, s.key(location), safety, "test")
		s.Require().NoError(err)
	}
}

func (s *ledgerSuite) item(location uuid.UUID) *models.InventoryItem {
	item, err := s.store.GetItem(s.ctx, s.key(location))
	s.Require().NoError(err)
	return item
}

// assertConsistent checks 0 <= reserved <= onHand and that replay reproduces onHand.
func (s *ledgerSuite) assertConsistent(location uuid.UUID) {
	item := s.item(location)
	s.True(item.Consistent(), "reserved %d on hand %d", item.Reserved, item.OnHand)
	replay, err := s.ledger.Replay(s.ctx, s.key(location))
	s.Require().NoError(err)
	s.Equal(0, replay.Drift)
}

func strPtr(v string) *string { return &v }

func intPtr(v int) *int { return &v }
