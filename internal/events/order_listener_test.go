package events

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stockledger/internal/metrics"
	"stockledger/internal/models"
	"stockledger/internal/repositories/memory"
	"stockledger/internal/services"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan kafka.Message, 16)}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.msgs:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type OrderListenerTestSuite struct {
	suite.Suite
	ctx          context.Context
	store        *memory.Store
	clock        *clockwork.FakeClock
	ledger       services.StockLedger
	reservations services.ReservationManager
	metrics      *metrics.Metrics
	listener     *OrderListener
	tenantID     uuid.UUID
	variantID    uuid.UUID
	locationID   uuid.UUID
}

func TestOrderListenerTestSuite(t *testing.T) {
	suite.Run(t, new(OrderListenerTestSuite))
}

func (s *OrderListenerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.clock = clockwork.NewFakeClockAt(time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC))
	s.metrics = metrics.New(metrics.DefaultConfig())
	deps := services.Deps{Store: s.store, Clock: s.clock}
	s.ledger = services.NewStockLedger(deps, 0)
	s.reservations = services.NewReservationManager(deps, services.ReservationConfig{DefaultTTL: 15 * time.Minute})
	s.listener = NewOrderListener(nil, s.reservations, ListenerConfig{Topic: "orders"}, s.clock, nil, s.metrics)
	s.tenantID, s.variantID, s.locationID = uuid.New(), uuid.New(), uuid.New()

	_, err := s.ledger.ApplyMovement(s.ctx, &models.MovementRequest{
		Key:       s.key(),
		Direction: models.DirectionIn,
		Quantity:  10,
		Reason:    models.ReasonInitialCount,
	})
	s.Require().NoError(err)
}

func (s *OrderListenerTestSuite) key() models.InventoryKey {
	return models.InventoryKey{TenantID: s.tenantID, VariantID: s.variantID, LocationID: s.locationID}
}

func (s *OrderListenerTestSuite) order(eventType, orderID string, qty int) *models.OrderEvent {
	return &models.OrderEvent{
		Type:     eventType,
		TenantID: s.tenantID,
		OrderID:  orderID,
		Lines:    []models.OrderLine{{VariantID: s.variantID, LocationID: s.locationID, Quantity: qty}},
	}
}

func (s *OrderListenerTestSuite) reserved() int {
	item, err := s.store.GetItem(s.ctx, s.key())
	s.Require().NoError(err)
	return item.Reserved
}

func (s *OrderListenerTestSuite) TestOrderCreated_ReservesWithHoldAndSkipsRedelivery() {
	event := s.order(models.OrderCreated, "ORD-1", 4)
	hold := 120
	event.HoldSecs = &hold

	s.Require().NoError(s.listener.Handle(s.ctx, event))
	s.Require().NoError(s.listener.Handle(s.ctx, event))
	s.Equal(4, s.reserved())

	orderID := "ORD-1"
	list, err := s.reservations.List(s.ctx, s.tenantID, &models.ReservationFilter{OrderID: &orderID})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(s.clock.Now().Add(2*time.Minute), *list[0].ExpiresAt)
	s.Equal(listenerActor, list[0].CreatedBy)
}

func (s *OrderListenerTestSuite) TestLifecycleEvents() {
	s.Require().NoError(s.listener.Handle(s.ctx, s.order(models.OrderCreated, "ORD-2", 3)))
	s.Require().NoError(s.listener.Handle(s.ctx, s.order(models.OrderCreated, "ORD-3", 2)))
	s.Require().NoError(s.listener.Handle(s.ctx, s.order(models.OrderCreated, "ORD-4", 1)))
	s.Equal(6, s.reserved())

	s.Require().NoError(s.listener.Handle(s.ctx, &models.OrderEvent{Type: models.OrderCancelled, TenantID: s.tenantID, OrderID: "ORD-2"}))
	s.Require().NoError(s.listener.Handle(s.ctx, &models.OrderEvent{Type: models.PaymentFailed, TenantID: s.tenantID, OrderID: "ORD-3"}))
	s.Require().NoError(s.listener.Handle(s.ctx, &models.OrderEvent{Type: models.OrderFulfilled, TenantID: s.tenantID, OrderID: "ORD-4"}))

	item, err := s.store.GetItem(s.ctx, s.key())
	s.Require().NoError(err)
	s.Equal(0, item.Reserved)
	s.Equal(9, item.OnHand)

	for orderID, reason := range map[string]models.ReleaseReason{"ORD-2": models.ReleaseOrderCancelled, "ORD-3": models.ReleasePaymentFailed} {
		list, err := s.reservations.List(s.ctx, s.tenantID, &models.ReservationFilter{OrderID: &orderID})
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal(reason, *list[0].ReleaseReason)
	}

	// replays are no-ops
	s.NoError(s.listener.Handle(s.ctx, &models.OrderEvent{Type: models.OrderCancelled, TenantID: s.tenantID, OrderID: "ORD-2"}))
	s.NoError(s.listener.Handle(s.ctx, &models.OrderEvent{Type: "order.shipped", TenantID: s.tenantID, OrderID: "ORD-4"}))
}

func (s *OrderListenerTestSuite) TestOrderCreated_InsufficientStockHoldsNothing() {
	event := s.order(models.OrderCreated, "ORD-5", 4)
	event.Lines = append(event.Lines, models.OrderLine{VariantID: s.variantID, LocationID: s.locationID, Quantity: 7})

	err := s.listener.Handle(s.ctx, event)
	s.Equal(services.KindInsufficientInventory, services.ErrorKind(err))
	s.True(permanent(err))
	s.Equal(0, s.reserved())
}

func (s *OrderListenerTestSuite) TestRun_CommitsAppliedAndPoisonMessages() {
	reader := newFakeReader()
	listener := NewOrderListener(reader, s.reservations, ListenerConfig{Topic: "orders"}, s.clock, nil, s.metrics)

	valid, err := json.Marshal(s.order(models.OrderCreated, "ORD-6", 2))
	s.Require().NoError(err)
	tooMuch, err := json.Marshal(s.order(models.OrderCreated, "ORD-7", 50))
	s.Require().NoError(err)
	reader.msgs <- kafka.Message{Offset: 1, Value: valid}
	reader.msgs <- kafka.Message{Offset: 2, Value: []byte("{not json")}
	reader.msgs <- kafka.Message{Offset: 3, Value: tooMuch}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	s.Eventually(func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	s.NoError(<-done)

	s.Equal([]int64{1, 2, 3}, reader.commits())
	s.Equal(2, s.reserved())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventsConsumed.WithLabelValues("orders", models.OrderCreated, "success")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.EventsConsumed.WithLabelValues("orders", "unknown", "failure")))
}

type flakyReservations struct {
	mock.Mock
	services.ReservationManager
}

func (f *flakyReservations) ReleaseByOrder(ctx context.Context, tenantID uuid.UUID, orderID string, reason models.ReleaseReason, actor string) ([]*models.Reservation, error) {
	args := f.Called(ctx, tenantID, orderID, reason, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Reservation), args.Error(1)
}

func (s *OrderListenerTestSuite) cancelEvent(reader *fakeReader, offset int64, orderID string) {
	body, err := json.Marshal(&models.OrderEvent{Type: models.OrderCancelled, TenantID: s.tenantID, OrderID: orderID})
	s.Require().NoError(err)
	reader.msgs <- kafka.Message{Offset: offset, Value: body}
}

func (s *OrderListenerTestSuite) TestRun_TransientFailureBlocksUntilApplied() {
	reader := newFakeReader()
	flaky := &flakyReservations{}
	flaky.Test(s.T())
	flaky.On("ReleaseByOrder", mock.Anything, s.tenantID, "ORD-8", models.ReleaseOrderCancelled, listenerActor).
		Return(nil, errors.New("connection reset by peer")).Times(3)
	flaky.On("ReleaseByOrder", mock.Anything, s.tenantID, "ORD-8", models.ReleaseOrderCancelled, listenerActor).
		Return([]*models.Reservation{}, nil).Once()
	flaky.On("ReleaseByOrder", mock.Anything, s.tenantID, "ORD-9", models.ReleaseOrderCancelled, listenerActor).
		Return([]*models.Reservation{}, nil).Once()

	listener := NewOrderListener(reader, flaky, ListenerConfig{Topic: "orders", MaxAttempts: 2, RetryBackoff: time.Millisecond},
		clockwork.NewRealClock(), nil, s.metrics)
	s.cancelEvent(reader, 10, "ORD-8")
	s.cancelEvent(reader, 11, "ORD-9")

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	s.Eventually(func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	s.NoError(<-done)

	s.Equal([]int64{10, 11}, reader.commits())
	flaky.AssertExpectations(s.T())
}

func (s *OrderListenerTestSuite) TestRun_NeverFetchesPastUnappliedMessage() {
	reader := newFakeReader()
	flaky := &flakyReservations{}
	flaky.Test(s.T())
	var attempts atomic.Int32
	flaky.On("ReleaseByOrder", mock.Anything, s.tenantID, "ORD-10", models.ReleaseOrderCancelled, listenerActor).
		Run(func(mock.Arguments) { attempts.Add(1) }).
		Return(nil, errors.New("connection refused"))

	listener := NewOrderListener(reader, flaky, ListenerConfig{Topic: "orders", MaxAttempts: 2, RetryBackoff: time.Millisecond},
		clockwork.NewRealClock(), nil, s.metrics)
	s.cancelEvent(reader, 20, "ORD-10")
	s.cancelEvent(reader, 21, "ORD-11")

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	s.Eventually(func() bool { return attempts.Load() >= 6 }, time.Second, 5*time.Millisecond)
	cancel()
	s.NoError(<-done)

	s.Empty(reader.commits())
	s.Len(reader.msgs, 1)
	flaky.AssertNotCalled(s.T(), "ReleaseByOrder", mock.Anything, s.tenantID, "ORD-11", models.ReleaseOrderCancelled, listenerActor)
}

func (s *OrderListenerTestSuite) TestOrderCreated_RejectsUnrepresentableHold() {
	event := s.order(models.OrderCreated, "ORD-12", 2)
	hold := math.MaxInt
	event.HoldSecs = &hold

	err := s.listener.Handle(s.ctx, event)
	s.ErrorIs(err, errMalformedEvent)
	s.True(permanent(err))
	s.Equal(0, s.reserved())

	// representable but beyond the configured maximum
	event.OrderID = "ORD-13"
	hold = int((30 * 24 * time.Hour) / time.Second)
	err = s.listener.Handle(s.ctx, event)
	s.ErrorIs(err, services.ErrDurationTooLong)
	s.True(permanent(err))
	s.Equal(0, s.reserved())
}
