package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/metrics"
	"stockledger/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const StockChangedType = "stock.changed"

var ErrPublisherUnavailable = errors.New("stock event publisher unavailable")

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Topic string
	// FailureThreshold consecutive write failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

func DefaultPublisherConfig(topic string) PublisherConfig {
	return PublisherConfig{
		Topic:            topic,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// NewKafkaWriter builds a synchronous writer that hashes on the message key, so every change to one
// inventory key lands on the same partition in commit order.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaPublisher publishes StockChanged events through a circuit breaker. While the breaker is open
// events are dropped with ErrPublisherUnavailable instead of stalling the ledger.
type KafkaPublisher struct {
	writer  MessageWriter
	topic   string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewKafkaPublisher(writer MessageWriter, cfg PublisherConfig, logger *zap.Logger, m *metrics.Metrics) *KafkaPublisher {
	def := DefaultPublisherConfig(cfg.Topic)
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{
		writer:  writer,
		topic:   cfg.Topic,
		logger:  logger.Named("stock-publisher"),
		metrics: m,
	}

	name := "kafka:" + cfg.Topic
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			p.metrics.SetBreakerState(name, int(to))
		},
	})
	p.metrics.SetBreakerState(name, int(gobreaker.StateClosed))
	return p
}

func (p *KafkaPublisher) PublishStockChanged(ctx context.Context, event models.StockChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(stockKey(event)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(StockChangedType)},
			{Key: "event-id", Value: []byte(event.EventID.String())},
			{Key: "tenant-id", Value: []byte(event.TenantID.String())},
		},
		Time: event.OccurredAt,
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	p.metrics.RecordEventPublished(p.topic, err == nil)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrPublisherUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// State reports the breaker state for the readiness probe.
func (p *KafkaPublisher) State() gobreaker.State {
	return p.breaker.State()
}

// Ping fails while the breaker is open.
func (p *KafkaPublisher) Ping(context.Context) error {
	if p.breaker.State() == gobreaker.StateOpen {
		return ErrPublisherUnavailable
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func stockKey(e models.StockChangedEvent) string {
	return e.TenantID.String() + ":" + e.VariantID.String() + ":" + e.LocationID.String()
}
