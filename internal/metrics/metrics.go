package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger's prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	MovementsApplied     *prometheus.CounterVec
	ReservationsTotal    *prometheus.CounterVec
	InsufficientStock    prometheus.Counter
	TransfersTotal       *prometheus.CounterVec
	BufferRecomputations prometheus.Counter

	SweepRuns          prometheus.Counter
	SweepReleased      prometheus.Counter
	SweepFailures      prometheus.Counter
	SweepDuration      prometheus.Histogram
	SweepAlerts        *prometheus.CounterVec
	ActiveReservations prometheus.Gauge

	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
}

type Config struct {
	Namespace string
}

func DefaultConfig() *Config {
	return &Config{Namespace: "stockledger"}
}

func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	ns := config.Namespace
	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "http_requests_total", Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	m.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path"})

	m.MovementsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "stock_movements_total", Help: "Stock movements appended, by direction and reason",
	}, []string{"direction", "reason"})

	m.ReservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "reservations_total", Help: "Reservation transitions, by outcome",
	}, []string{"outcome"})

	m.InsufficientStock = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "insufficient_inventory_total", Help: "Claims rejected for lack of available stock",
	})

	m.TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "transfers_total", Help: "Transfer transitions, by status reached",
	}, []string{"status"})

	m.BufferRecomputations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "channel_buffer_updates_total", Help: "Inventory items whose channel buffers changed",
	})

	m.SweepRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "sweeper", Name: "runs_total", Help: "Expiration sweeps executed",
	})
	m.SweepReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "sweeper", Name: "released_total", Help: "Reservations released by the sweeper",
	})
	m.SweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "sweeper", Name: "failures_total", Help: "Reservations the sweeper failed to release",
	})
	m.SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "sweeper", Name: "duration_seconds", Help: "Sweep duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
	m.SweepAlerts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "sweeper", Name: "alerts_total", Help: "Health alerts raised after sweeps",
	}, []string{"kind"})
	m.ActiveReservations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "active_reservations", Help: "Active reservations seen at the start of the last sweep",
	})

	m.EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "kafka_events_published_total", Help: "Kafka events published",
	}, []string{"topic", "status"})
	m.EventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "kafka_events_consumed_total", Help: "Kafka events consumed",
	}, []string{"topic", "event_type", "status"})
	m.BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "circuit_breaker_state", Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.MovementsApplied, m.ReservationsTotal, m.InsufficientStock, m.TransfersTotal, m.BufferRecomputations,
		m.SweepRuns, m.SweepReleased, m.SweepFailures, m.SweepDuration, m.SweepAlerts, m.ActiveReservations,
		m.EventsPublished, m.EventsConsumed, m.BreakerState,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordMovement(direction, reason string) {
	if m == nil {
		return
	}
	m.MovementsApplied.WithLabelValues(direction, reason).Inc()
}

func (m *Metrics) RecordReservation(outcome string) {
	if m == nil {
		return
	}
	m.ReservationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordInsufficientStock() {
	if m == nil {
		return
	}
	m.InsufficientStock.Inc()
}

func (m *Metrics) RecordTransfer(status string) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordBufferUpdate() {
	if m == nil {
		return
	}
	m.BufferRecomputations.Inc()
}

func (m *Metrics) RecordSweep(active, released, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.SweepRuns.Inc()
	m.ActiveReservations.Set(float64(active))
	m.SweepReleased.Add(float64(released))
	m.SweepFailures.Add(float64(failed))
	m.SweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordSweepAlert(kind string) {
	if m == nil {
		return
	}
	m.SweepAlerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordEventPublished(topic string, success bool) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic, status(success)).Inc()
}

func (m *Metrics) RecordEventConsumed(topic, eventType string, success bool) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(topic, eventType, status(success)).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
