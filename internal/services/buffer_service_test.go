package services

import (
	"errors"
	"testing"

	"stockledger/internal/models"

	"github.com/stretchr/testify/suite"
)

type ChannelBufferAllocatorTestSuite struct {
	ledgerSuite
}

func TestChannelBufferAllocatorTestSuite(t *testing.T) {
	suite.Run(t, new(ChannelBufferAllocatorTestSuite))
}

func (s *ChannelBufferAllocatorTestSuite) rule(channel string, bt models.BufferType, value float64) *models.ChannelBufferRule {
	r, err := s.buffers.SaveRule(s.ctx, &models.ChannelBufferRule{
		TenantID:   s.tenantID,
		Channel:    channel,
		BufferType: bt,
		Value:      value,
		IsActive:   true,
	})
	s.Require().NoError(err)
	return r
}

func (s *ChannelBufferAllocatorTestSuite) sell(qty int, channel string) {
	_, err := s.ledger.ApplyMovement(s.ctx, &models.MovementRequest{
		Key:       s.key(s.locationA),
		Direction: models.DirectionOut,
		Quantity:  qty,
		Reason:    models.ReasonSale,
		Channel:   &channel,
	})
	s.Require().NoError(err)
}

func (s *ChannelBufferAllocatorTestSuite) TestRecompute_PersistsBuffersAndMemos() {
	s.stock(s.locationA, 100, 10)
	s.rule("web", models.BufferFixed, 20)
	s.rule("marketplace", models.BufferPercentage, 25)

	item, err := s.buffers.Recompute(s.ctx, s.key(s.locationA), "system:buffers")
	s.Require().NoError(err)
	s.Equal(map[string]int{"web": 20, "marketplace": 25}, item.ChannelBuffers)

	reason := models.ReasonBufferUpdate
	memos, err := s.ledger.ListMovements(s.ctx, s.tenantID, &models.MovementFilter{Reason: &reason})
	s.Require().NoError(err)
	s.Len(memos, 2)

	web, err := s.ledger.GetAvailability(s.ctx, s.key(s.locationA), "web")
	s.Require().NoError(err)
	s.Equal(20, web.ChannelBuffer)
	// 100 - 10 - 25 + 20
	s.Equal(85, web.Available)

	// unchanged inputs write nothing
	_, err = s.buffers.Recompute(s.ctx, s.key(s.locationA), "system:buffers")
	s.Require().NoError(err)
	memos, err = s.ledger.ListMovements(s.ctx, s.tenantID, &models.MovementFilter{Reason: &reason})
	s.Require().NoError(err)
	s.Len(memos, 2)
	s.assertConsistent(s.locationA)
}

func (s *ChannelBufferAllocatorTestSuite) TestRecompute_FitsToSellablePool() {
	s.stock(s.locationA, 100, 10)
	s.rule("web", models.BufferFixed, 20)
	s.rule("marketplace", models.BufferPercentage, 25)
	s.rule("pos", models.BufferFixed, 80)

	item, err := s.buffers.Recompute(s.ctx, s.key(s.locationA), "system:buffers")
	s.Require().NoError(err)
	s.LessOrEqual(item.BufferTotal(), item.Available()-item.SafetyStock)
	s.Equal(14, item.ChannelBuffers["web"])
	s.Equal(18, item.ChannelBuffers["marketplace"])
	s.Equal(57, item.ChannelBuffers["pos"])
}

func (s *ChannelBufferAllocatorTestSuite) TestComputeBuffers_VelocityAndDynamic() {
	s.stock(s.locationA, 100, 10)
	s.sell(30, "web")
	s.rule("web", models.BufferVelocityBased, 7)
	s.rule("app", models.BufferDynamic, 7)

	buffers, err := s.buffers.ComputeBuffers(s.ctx, s.key(s.locationA))
	s.Require().NoError(err)
	// 30 units over 30 days covers 7 days
	s.Equal(7, buffers["web"])
	// app has no tagged sales, so the key total is used, trending up with no conversion history
	s.Equal(10, buffers["app"])

	item := s.item(s.locationA)
	s.Empty(item.ChannelBuffers)
}

func (s *ChannelBufferAllocatorTestSuite) TestDeactivatedRuleDropsChannel() {
	s.stock(s.locationA, 50, 0)
	web := s.rule("web", models.BufferFixed, 5)
	_, err := s.buffers.Recompute(s.ctx, s.key(s.locationA), "system:buffers")
	s.Require().NoError(err)

	s.Require().NoError(s.buffers.DeactivateRule(s.ctx, s.tenantID, web.ID))
	item, err := s.buffers.Recompute(s.ctx, s.key(s.locationA), "system:buffers")
	s.Require().NoError(err)
	s.Empty(item.ChannelBuffers)

	rules, err := s.buffers.ListRules(s.ctx, s.tenantID, true)
	s.Require().NoError(err)
	s.Empty(rules)
}

func (s *ChannelBufferAllocatorTestSuite) TestRecomputeAll() {
	s.stock(s.locationA, 40, 0)
	s.stock(s.locationB, 20, 0)
	s.rule("web", models.BufferPercentage, 10)

	n, err := s.buffers.RecomputeAll(s.ctx, "system:buffers")
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(4, s.item(s.locationA).ChannelBuffers["web"])
	s.Equal(2, s.item(s.locationB).ChannelBuffers["web"])
}

func (s *ChannelBufferAllocatorTestSuite) TestSaveRule_Validation() {
	_, err := s.buffers.SaveRule(s.ctx, &models.ChannelBufferRule{
		TenantID:   s.tenantID,
		BufferType: models.BufferPercentage,
		Value:      140,
		MinBuffer:  5,
		MaxBuffer:  intPtr(2),
	})
	var verr ValidationErrors
	s.Require().True(errors.As(err, &verr))
	s.Len(verr, 3)
}
