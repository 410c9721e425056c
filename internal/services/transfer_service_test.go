package services

import (
	"errors"
	"testing"
	"time"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type TransferCoordinatorTestSuite struct {
	ledgerSuite
}

func TestTransferCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(TransferCoordinatorTestSuite))
}

func (s *TransferCoordinatorTestSuite) request(qty int) *models.TransferRequest {
	return &models.TransferRequest{
		VariantID:      s.variantID,
		FromLocationID: s.locationA,
		ToLocationID:   s.locationB,
		Quantity:       qty,
		Reference:      "TR-100",
	}
}

func (s *TransferCoordinatorTestSuite) TestCreateComplete_Conservation() {
	s.stock(s.locationA, 10, 0)

	t, err := s.transfers.Create(s.ctx, s.tenantID, s.request(4), "user:ops")
	s.Require().NoError(err)
	s.Equal(models.TransferPending, t.Status)
	s.Equal("rebalance", t.Reason)
	s.Equal(4, s.item(s.locationA).Reserved)

	r, err := s.reservations.Get(s.ctx, s.tenantID, t.ReservationID)
	s.Require().NoError(err)
	s.Nil(r.ExpiresAt)
	s.Equal(t.ID, *r.TransferID)

	done, err := s.transfers.Complete(s.ctx, s.tenantID, t.ID, "user:ops")
	s.Require().NoError(err)
	s.Equal(models.TransferCompleted, done.Status)
	s.Equal("user:ops", *done.CompletedBy)

	a, b := s.item(s.locationA), s.item(s.locationB)
	s.Equal(6, a.OnHand)
	s.Equal(0, a.Reserved)
	s.Equal(4, b.OnHand)
	s.Equal(10, a.OnHand+b.OnHand)

	r, err = s.reservations.Get(s.ctx, s.tenantID, t.ReservationID)
	s.Require().NoError(err)
	s.Equal(models.ReservationConsumed, r.Status)

	s.assertConsistent(s.locationA)
	s.assertConsistent(s.locationB)
}

func (s *TransferCoordinatorTestSuite) TestShipThenComplete() {
	s.stock(s.locationA, 5, 0)
	t, err := s.transfers.Create(s.ctx, s.tenantID, s.request(5), "user:ops")
	s.Require().NoError(err)

	shipped, err := s.transfers.Ship(s.ctx, s.tenantID, t.ID)
	s.Require().NoError(err)
	s.Equal(models.TransferInTransit, shipped.Status)
	s.NotNil(shipped.ShippedAt)

	_, err = s.transfers.Ship(s.ctx, s.tenantID, t.ID)
	s.ErrorIs(err, ErrTransferNotPending)

	_, err = s.transfers.Complete(s.ctx, s.tenantID, t.ID, "user:ops")
	s.Require().NoError(err)
	_, err = s.transfers.Complete(s.ctx, s.tenantID, t.ID, "user:ops")
	s.ErrorIs(err, ErrTransferNotOpen)
	s.Equal(5, s.item(s.locationB).OnHand)
}

func (s *TransferCoordinatorTestSuite) TestCancel_ReleasesHold() {
	s.stock(s.locationA, 10, 0)
	t, err := s.transfers.Create(s.ctx, s.tenantID, s.request(6), "user:ops")
	s.Require().NoError(err)

	cancelled, err := s.transfers.Cancel(s.ctx, s.tenantID, t.ID, "user:ops")
	s.Require().NoError(err)
	s.Equal(models.TransferCancelled, cancelled.Status)
	s.Equal(0, s.item(s.locationA).Reserved)
	s.Equal(10, s.item(s.locationA).OnHand)

	r, err := s.reservations.Get(s.ctx, s.tenantID, t.ReservationID)
	s.Require().NoError(err)
	s.Equal(models.ReleaseTransferCancelled, *r.ReleaseReason)

	again, err := s.transfers.Cancel(s.ctx, s.tenantID, t.ID, "user:ops")
	s.Require().NoError(err)
	s.Equal(models.TransferCancelled, again.Status)

	_, err = s.transfers.Complete(s.ctx, s.tenantID, t.ID, "user:ops")
	s.ErrorIs(err, ErrTransferNotOpen)
	s.assertConsistent(s.locationA)
}

func (s *TransferCoordinatorTestSuite) TestHeldReservationCannotBeReleasedDirectly() {
	s.stock(s.locationA, 10, 0)
	t, err := s.transfers.Create(s.ctx, s.tenantID, s.request(2), "user:ops")
	s.Require().NoError(err)

	_, err = s.reservations.Release(s.ctx, s.tenantID, t.ReservationID, models.ReleaseManual, "user:ops")
	s.ErrorIs(err, ErrReservationHeld)
	_, err = s.reservations.Consume(s.ctx, s.tenantID, t.ReservationID, "user:ops")
	s.ErrorIs(err, ErrReservationHeld)
	s.Equal(2, s.item(s.locationA).Reserved)
}

func (s *TransferCoordinatorTestSuite) TestCreate_ItemizedValidation() {
	s.stock(s.locationA, 3, 0)

	req := &models.TransferRequest{
		VariantID:      uuid.New(),
		FromLocationID: s.locationA,
		ToLocationID:   s.inactiveID,
		Quantity:       5,
	}
	_, err := s.transfers.Create(s.ctx, s.tenantID, req, "user:ops")

	var verr ValidationErrors
	s.Require().True(errors.As(err, &verr))
	codes := map[string]bool{}
	for _, fe := range verr {
		codes[fe.Code] = true
	}
	s.True(codes["location_inactive"])
	s.True(codes["variant_not_found"])
	s.True(codes["insufficient_inventory"])

	req = &models.TransferRequest{VariantID: s.variantID, FromLocationID: s.locationA, ToLocationID: s.locationA, Quantity: 0}
	_, err = s.transfers.Create(s.ctx, s.tenantID, req, "user:ops")
	s.Require().True(errors.As(err, &verr))
	s.Len(verr, 2)

	req = &models.TransferRequest{VariantID: s.variantID, FromLocationID: s.locationA, ToLocationID: uuid.New(), Quantity: 1}
	_, err = s.transfers.Create(s.ctx, s.tenantID, req, "user:ops")
	s.Require().True(errors.As(err, &verr))
	s.Equal("location_not_found", verr[0].Code)

	s.Equal(0, s.item(s.locationA).Reserved)
}

func (s *TransferCoordinatorTestSuite) TestHoldTimeoutCancelsTransfer() {
	s.stock(s.locationA, 10, 0)
	transfers := NewTransferCoordinator(s.deps, TransferConfig{HoldTTL: time.Hour})
	t, err := transfers.Create(s.ctx, s.tenantID, s.request(4), "user:ops")
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Hour)
	expired, err := s.reservations.ExpiredReservations(s.ctx, nil, 10)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)

	outcome, err := s.reservations.ExpireReservation(s.ctx, expired[0])
	s.Require().NoError(err)
	s.True(outcome.Released)

	got, err := transfers.Get(s.ctx, s.tenantID, t.ID)
	s.Require().NoError(err)
	s.Equal(models.TransferCancelled, got.Status)
	s.Equal(0, s.item(s.locationA).Reserved)
}

func (s *TransferCoordinatorTestSuite) TestBulkCreate_PartialReport() {
	s.stock(s.locationA, 5, 0)

	bulk := &models.InventoryBulkTransfer{Transfers: []models.TransferRequest{
		*s.request(3),
		*s.request(3),
	}}
	result, err := s.transfers.BulkCreate(s.ctx, s.tenantID, bulk, "user:ops")
	s.Require().NoError(err)
	s.Equal("partial", result.Status)
	s.Equal(1, result.ProcessedItems)
	s.Equal(1, result.FailedItems)
	s.Require().Len(result.Errors, 1)
	s.Equal(1, result.Errors[0].ItemIndex)
	s.Equal(KindValidation, result.Errors[0].Code)
	s.Equal("2", result.Errors[0].Details["availableQuantity"])

	list, err := s.transfers.List(s.ctx, s.tenantID, &models.TransferFilter{LocationID: &s.locationB})
	s.Require().NoError(err)
	s.Len(list, 1)
}
