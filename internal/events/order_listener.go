package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/metrics"
	"stockledger/internal/models"
	"stockledger/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const listenerActor = "kafka:order-events"

var errMalformedEvent = errors.New("malformed order event")

// MessageReader is the part of *kafka.Reader the listener uses. Offsets are committed explicitly.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
}

type ListenerConfig struct {
	Topic        string
	MaxAttempts  int
	RetryBackoff time.Duration
}

// OrderListener applies order lifecycle events to reservations.
type OrderListener struct {
	reader       MessageReader
	reservations services.ReservationManager
	cfg          ListenerConfig
	clock        clockwork.Clock
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

func NewOrderListener(reader MessageReader, reservations services.ReservationManager, cfg ListenerConfig, clock clockwork.Clock, logger *zap.Logger, m *metrics.Metrics) *OrderListener {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderListener{
		reader:       reader,
		reservations: reservations,
		cfg:          cfg,
		clock:        clock,
		logger:       logger.Named("order-listener"),
		metrics:      m,
	}
}

// Run consumes until ctx is done. A message is committed once it is applied or known to be
// unprocessable. Group offsets are cumulative, so a message that fails transiently is retried in
// place and the listener does not fetch past it.
func (l *OrderListener) Run(ctx context.Context) error {
	l.logger.Info("order listener started", zap.String("topic", l.cfg.Topic))
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				l.logger.Info("order listener stopped")
				return nil
			}
			l.logger.Error("failed to fetch order event", zap.Error(err))
			if err := l.wait(ctx); err != nil {
				return nil
			}
			continue
		}

		eventType, err := l.process(ctx, msg)
		for err != nil && !permanent(err) {
			l.metrics.RecordEventConsumed(l.cfg.Topic, eventType, false)
			if ctx.Err() != nil {
				l.logger.Info("order listener stopped", zap.Int64("uncommitted_offset", msg.Offset))
				return nil
			}
			l.logger.Error("order event not applied, retrying",
				zap.String("event_type", eventType), zap.Int64("offset", msg.Offset), zap.Error(err))
			if werr := l.wait(ctx); werr != nil {
				l.logger.Info("order listener stopped", zap.Int64("uncommitted_offset", msg.Offset))
				return nil
			}
			eventType, err = l.process(ctx, msg)
		}
		l.metrics.RecordEventConsumed(l.cfg.Topic, eventType, err == nil)
		if err != nil {
			l.logger.Warn("dropping order event",
				zap.String("event_type", eventType), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			l.logger.Error("failed to commit order event", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (l *OrderListener) process(ctx context.Context, msg kafka.Message) (string, error) {
	var event models.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return "unknown", fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	var err error
	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		err = l.Handle(ctx, &event)
		if err == nil || permanent(err) || attempt == l.cfg.MaxAttempts {
			break
		}
		if werr := l.wait(ctx); werr != nil {
			return event.Type, werr
		}
	}
	return event.Type, err
}

// Handle applies one order event.
func (l *OrderListener) Handle(ctx context.Context, event *models.OrderEvent) error {
	if event.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", errMalformedEvent)
	}
	log := l.logger.With(zap.String("event_type", event.Type), zap.String("order_id", event.OrderID))

	switch event.Type {
	case models.OrderCreated:
		if len(event.Lines) == 0 {
			return fmt.Errorf("%w: order has no lines", errMalformedEvent)
		}
		existing, err := l.reservations.List(ctx, event.TenantID, &models.ReservationFilter{OrderID: &event.OrderID, Limit: 1})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			log.Info("order already reserved, skipping redelivery")
			return nil
		}
		var ttl time.Duration
		if event.HoldSecs != nil && *event.HoldSecs > 0 {
			hold, err := services.DurationFromSeconds(*event.HoldSecs)
			if err != nil {
				return fmt.Errorf("%w: hold_seconds: %v", errMalformedEvent, err)
			}
			ttl = hold
		}
		reserved, err := l.reservations.ReserveOrder(ctx, event.TenantID, event.OrderID, event.Channel, event.Lines, ttl, listenerActor)
		if err != nil {
			return err
		}
		log.Info("order reserved", zap.Int("reservations", len(reserved)))
	case models.OrderCancelled:
		return l.release(ctx, log, event, models.ReleaseOrderCancelled)
	case models.PaymentFailed:
		return l.release(ctx, log, event, models.ReleasePaymentFailed)
	case models.OrderFulfilled:
		consumed, err := l.reservations.ConsumeByOrder(ctx, event.TenantID, event.OrderID, listenerActor)
		if err != nil {
			return err
		}
		log.Info("order consumed", zap.Int("reservations", len(consumed)))
	default:
		log.Debug("ignoring order event")
	}
	return nil
}

func (l *OrderListener) release(ctx context.Context, log *zap.Logger, event *models.OrderEvent, reason models.ReleaseReason) error {
	released, err := l.reservations.ReleaseByOrder(ctx, event.TenantID, event.OrderID, reason, listenerActor)
	if err != nil {
		return err
	}
	log.Info("order released", zap.Int("reservations", len(released)), zap.String("reason", string(reason)))
	return nil
}

func (l *OrderListener) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.clock.After(l.cfg.RetryBackoff):
		return nil
	}
}

func (l *OrderListener) Close() error {
	return l.reader.Close()
}

// permanent errors will fail the same way on redelivery.
func permanent(err error) bool {
	if errors.Is(err, errMalformedEvent) {
		return true
	}
	return services.ErrorKind(err) != services.KindInternal
}
