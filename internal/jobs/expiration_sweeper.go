package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stockledger/internal/metrics"
	"stockledger/internal/models"
	"stockledger/internal/services"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type SweeperConfig struct {
	BatchSize int
	// MaxBatches bounds one sweep; whatever is left waits for the next tick.
	MaxBatches              int
	ExpirationRateThreshold float64
	LowStockThreshold       int
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		BatchSize:               100,
		MaxBatches:              10,
		ExpirationRateThreshold: 0.5,
		LowStockThreshold:       5,
	}
}

// SweepReport summarizes one sweep for logs and the health endpoint.
type SweepReport struct {
	StartedAt      time.Time        `json:"started_at"`
	Duration       time.Duration    `json:"duration"`
	ActiveBefore   int              `json:"active_before"`
	Scanned        int              `json:"scanned"`
	Released       int              `json:"released"`
	Failed         int              `json:"failed"`
	Failures       []SweepFailure   `json:"failures,omitempty"`
	ExpirationRate float64          `json:"expiration_rate"`
	Alerts         []InventoryAlert `json:"alerts"`
}

type SweepFailure struct {
	ReservationID string `json:"reservation_id"`
	Error         string `json:"error"`
}

// Healthy reports whether the sweep raised no alerts.
func (r *SweepReport) Healthy() bool {
	return len(r.Alerts) == 0
}

type ExpirationSweeper struct {
	reservations services.ReservationManager
	cfg          SweeperConfig
	clock        clockwork.Clock
	logger       *zap.Logger
	metrics      *metrics.Metrics

	mu   sync.RWMutex
	last *SweepReport
}

func NewExpirationSweeper(reservations services.ReservationManager, cfg SweeperConfig, clock clockwork.Clock, logger *zap.Logger, m *metrics.Metrics) *ExpirationSweeper {
	def := DefaultSweeperConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = def.MaxBatches
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirationSweeper{
		reservations: reservations,
		cfg:          cfg,
		clock:        clock,
		logger:       logger.Named("expiration-sweeper"),
		metrics:      m,
	}
}

// Sweep releases expired reservations in bounded batches, paging by (expires_at, id) so rows that
// fail are stepped over rather than rescanned. A failed reservation is recorded and left for the
// next sweep; only a failure to scan aborts the sweep.
func (s *ExpirationSweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	start := s.clock.Now()
	report := &SweepReport{StartedAt: start.UTC(), Alerts: []InventoryAlert{}}

	active, err := s.reservations.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active reservations: %w", err)
	}
	report.ActiveBefore = active

	touched := make(map[models.InventoryKey]*models.InventoryItem)
	var cursor *models.ExpiryCursor
	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		expired, err := s.reservations.ExpiredReservations(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("list expired reservations: %w", err)
		}
		report.Scanned += len(expired)

		for _, r := range expired {
			outcome, err := s.reservations.ExpireReservation(ctx, r)
			if err != nil {
				report.Failed++
				report.Failures = append(report.Failures, SweepFailure{ReservationID: r.ID.String(), Error: err.Error()})
				s.logger.Warn("failed to expire reservation", zap.String("reservation_id", r.ID.String()), zap.Error(err))
				continue
			}
			if outcome.Released {
				report.Released++
				touched[outcome.Item.Key()] = outcome.Item
			}
		}
		if len(expired) < s.cfg.BatchSize {
			break
		}
		cursor = expired[len(expired)-1].ExpiryCursor()
	}

	report.Duration = s.clock.Since(start)
	report.ExpirationRate = float64(report.Released) / float64(max(1, active))
	report.Alerts = append(report.Alerts, s.healthChecks(report, touched)...)

	s.metrics.RecordSweep(active-report.Released, report.Released, report.Failed, report.Duration)
	for _, a := range report.Alerts {
		s.metrics.RecordSweepAlert(string(a.Kind))
		s.logger.Warn("sweep alert", zap.String("kind", string(a.Kind)), zap.String("message", a.Message))
	}
	if report.Released > 0 || report.Failed > 0 {
		s.logger.Info("expiration sweep finished",
			zap.Int("active_before", active),
			zap.Int("released", report.Released),
			zap.Int("failed", report.Failed),
			zap.Duration("duration", report.Duration))
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

func (s *ExpirationSweeper) healthChecks(report *SweepReport, touched map[models.InventoryKey]*models.InventoryItem) []InventoryAlert {
	var alerts []InventoryAlert
	if report.ExpirationRate > s.cfg.ExpirationRateThreshold {
		alerts = append(alerts, InventoryAlert{
			Kind:      AlertHighExpirationRate,
			Threshold: s.cfg.ExpirationRateThreshold,
			Message: fmt.Sprintf("%.0f%% of active reservations expired (%d of %d)",
				report.ExpirationRate*100, report.Released, report.ActiveBefore),
		})
	}
	for _, item := range touched {
		alerts = append(alerts, checkItem(item, s.cfg.LowStockThreshold)...)
	}
	if report.Failed > 0 {
		alerts = append(alerts, InventoryAlert{
			Kind:    AlertSweepFailures,
			Message: fmt.Sprintf("%d reservations could not be released and will be retried", report.Failed),
		})
	}
	return alerts
}

// Run is the scheduler entry point. Errors are logged; the next tick retries.
func (s *ExpirationSweeper) Run(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("expiration sweep failed", zap.Error(err))
	}
}

// LastReport returns the most recent sweep, or nil before the first one.
func (s *ExpirationSweeper) LastReport() *SweepReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
