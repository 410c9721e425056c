package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stockledger/internal/models"
	"stockledger/internal/repositories"
	"stockledger/testhelpers"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// PostgresLedgerTestSuite runs the services against a migrated database with row locks in play.
type PostgresLedgerTestSuite struct {
	suite.Suite
	ctx     context.Context
	db      *testhelpers.TestDB
	fixture *testhelpers.Fixture

	ledger       StockLedger
	reservations ReservationManager
	transfers    TransferCoordinator
}

func TestPostgresLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(PostgresLedgerTestSuite))
}

func (s *PostgresLedgerTestSuite) SetupSuite() {
	s.db = testhelpers.SetupTestDB(s.T())
}

func (s *PostgresLedgerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.fixture = testhelpers.SetupFixture(s.T(), s.db)

	deps := Deps{
		Store:  repositories.NewPostgresStore(s.db.Pool),
		Clock:  clockwork.NewRealClock(),
		Logger: zap.NewNop(),
	}
	s.ledger = NewStockLedger(deps, 0)
	s.reservations = NewReservationManager(deps, ReservationConfig{DefaultTTL: 15 * time.Minute})
	s.transfers = NewTransferCoordinator(deps, TransferConfig{})
}

func (s *PostgresLedgerTestSuite) restock(quantity int) {
	_, err := s.ledger.ApplyMovement(s.ctx, &models.MovementRequest{
		Key:       s.fixture.Key(s.fixture.LocationA),
		Direction: models.DirectionIn,
		Quantity:  quantity,
		Reason:    models.ReasonRestock,
		Reference: "PO-1",
		Actor:     "user:integration",
	})
	s.Require().NoError(err)
}

func (s *PostgresLedgerTestSuite) TestConcurrentReservesNeverOversell() {
	s.restock(30)

	const callers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.reservations.Reserve(s.ctx, &models.ReserveRequest{
				Key:      s.fixture.Key(s.fixture.LocationA),
				Quantity: 2,
				Actor:    "user:integration",
			})
			var insufficient *InsufficientInventoryError
			if err != nil && !errors.As(err, &insufficient) {
				s.T().Errorf("unexpected reserve error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(15, granted)
	item, err := s.ledger.GetItem(s.ctx, s.fixture.Key(s.fixture.LocationA))
	s.Require().NoError(err)
	s.Equal(30, item.Reserved)
	s.Equal(0, item.Available())
}

func (s *PostgresLedgerTestSuite) TestTransferMovesStockAndReplays() {
	s.restock(12)

	tr, err := s.transfers.Create(s.ctx, s.fixture.TenantID, &models.TransferRequest{
		VariantID:      s.fixture.VariantID,
		FromLocationID: s.fixture.LocationA,
		ToLocationID:   s.fixture.LocationB,
		Quantity:       5,
		Reason:         "rebalance",
	}, "user:integration")
	s.Require().NoError(err)

	_, err = s.transfers.Ship(s.ctx, s.fixture.TenantID, tr.ID)
	s.Require().NoError(err)
	done, err := s.transfers.Complete(s.ctx, s.fixture.TenantID, tr.ID, "user:integration")
	s.Require().NoError(err)
	s.Equal(models.TransferCompleted, done.Status)

	source, err := s.ledger.GetItem(s.ctx, s.fixture.Key(s.fixture.LocationA))
	s.Require().NoError(err)
	s.Equal(7, source.OnHand)
	s.Equal(0, source.Reserved)

	dest, err := s.ledger.GetItem(s.ctx, s.fixture.Key(s.fixture.LocationB))
	s.Require().NoError(err)
	s.Equal(5, dest.OnHand)

	for _, location := range []models.InventoryKey{source.Key(), dest.Key()} {
		replay, err := s.ledger.Replay(s.ctx, location)
		s.Require().NoError(err)
		s.Zero(replay.Drift)
	}
}

func (s *PostgresLedgerTestSuite) TestTransferToInactiveLocationRejected() {
	s.restock(3)

	_, err := s.transfers.Create(s.ctx, s.fixture.TenantID, &models.TransferRequest{
		VariantID:      s.fixture.VariantID,
		FromLocationID: s.fixture.LocationA,
		ToLocationID:   s.fixture.InactiveID,
		Quantity:       1,
	}, "user:integration")
	s.Error(err)

	item, err := s.ledger.GetItem(s.ctx, s.fixture.Key(s.fixture.LocationA))
	s.Require().NoError(err)
	s.Equal(0, item.Reserved)
}
