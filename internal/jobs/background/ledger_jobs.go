package background

import (
	"context"
	"time"

	"stockledger/internal/jobs"
	"stockledger/internal/services"

	"go.uber.org/zap"
)

type LedgerJobsConfig struct {
	SweepInterval           time.Duration
	BufferRecomputeInterval time.Duration
}

// RegisterLedgerJobs schedules the expiration sweep and, when an interval is set, the periodic
// channel buffer recompute.
func (js *JobScheduler) RegisterLedgerJobs(cfg LedgerJobsConfig, sweeper *jobs.ExpirationSweeper, buffers services.ChannelBufferAllocator) error {
	if err := js.AddJob(JobExpirationSweep, cfg.SweepInterval, sweeper.Run); err != nil {
		return err
	}
	if cfg.BufferRecomputeInterval <= 0 || buffers == nil {
		return nil
	}
	return js.AddJob(JobBufferRecompute, cfg.BufferRecomputeInterval, func(ctx context.Context) {
		if _, err := buffers.RecomputeAll(ctx, "system:buffer-recompute"); err != nil {
			js.logger.Error("channel buffer recompute failed", zap.Error(err))
		}
	})
}
