package services

import (
	"testing"

	"stockledger/internal/models"

	"github.com/stretchr/testify/suite"
)

type BulkServiceTestSuite struct {
	ledgerSuite
	bulk BulkService
}

func TestBulkServiceTestSuite(t *testing.T) {
	suite.Run(t, new(BulkServiceTestSuite))
}

func (s *BulkServiceTestSuite) SetupTest() {
	s.ledgerSuite.SetupTest()
	s.bulk = NewBulkService(s.deps, s.ledger)
}

func (s *BulkServiceTestSuite) TestApplyBulkAdjustment_PerItemReport() {
	s.stock(s.locationA, 5, 0)

	result, err := s.bulk.ApplyBulkAdjustment(s.ctx, s.tenantID, &models.InventoryBulkAdjust{
		Adjustments: []models.InventoryAdjustment{
			{VariantID: s.variantID, LocationID: s.locationA, QuantityChange: 3, Reference: "cycle-count"},
			{VariantID: s.variantID, LocationID: s.locationA, QuantityChange: -20},
			{VariantID: s.variantID, LocationID: s.locationB, QuantityChange: 0},
			{VariantID: s.variantID, LocationID: s.locationB, QuantityChange: 4, Reason: models.ReasonReturn},
			{VariantID: s.variantID, LocationID: s.locationB, QuantityChange: 1, Reason: models.ReasonBufferUpdate},
		},
	}, "user:ops")
	s.Require().NoError(err)

	s.Equal("partial", result.Status)
	s.Equal(2, result.ProcessedItems)
	s.Equal(3, result.FailedItems)
	s.Equal(float64(100), result.Progress)
	s.Require().Len(result.Errors, 3)
	s.Equal(KindNegativeStock, result.Errors[0].Code)
	s.Equal("8", result.Errors[0].Details["availableQuantity"])
	s.Equal(KindValidation, result.Errors[1].Code)
	s.Equal(KindValidation, result.Errors[2].Code)

	s.Equal(8, s.item(s.locationA).OnHand)
	s.Equal(4, s.item(s.locationB).OnHand)
	s.assertConsistent(s.locationA)
	s.assertConsistent(s.locationB)
}

func (s *BulkServiceTestSuite) TestApplyBulkAdjustment_AllSucceed() {
	result, err := s.bulk.ApplyBulkAdjustment(s.ctx, s.tenantID, &models.InventoryBulkAdjust{
		Adjustments: []models.InventoryAdjustment{
			{VariantID: s.variantID, LocationID: s.locationA, QuantityChange: 10, Reason: models.ReasonInitialCount},
		},
	}, "user:ops")
	s.Require().NoError(err)
	s.Equal("completed", result.Status)
	s.NotNil(result.CompletionTime)
}
