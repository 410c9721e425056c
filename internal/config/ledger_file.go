package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// LedgerFile is the optional TOML overlay for tuning knobs. Only keys present in the file
// override the environment.
type LedgerFile struct {
	Sweeper      SweeperSection      `toml:"sweeper"`
	Reservations ReservationsSection `toml:"reservations"`
	Allocation   AllocationSection   `toml:"allocation"`
}

type SweeperSection struct {
	Interval                *Duration `toml:"interval"`
	BatchSize               *int      `toml:"batch_size"`
	MaxBatches              *int      `toml:"max_batches"`
	ExpirationRateThreshold *float64  `toml:"expiration_rate_threshold"`
	LowStockThreshold       *int      `toml:"low_stock_threshold"`
}

type ReservationsSection struct {
	DefaultTTL      *Duration `toml:"default_ttl"`
	MaxTTL          *Duration `toml:"max_ttl"`
	TransferHoldTTL *Duration `toml:"transfer_hold_ttl"`
}

type AllocationSection struct {
	RecomputeInterval    *Duration `toml:"recompute_interval"`
	VelocityLookbackDays *int      `toml:"velocity_lookback_days"`
}

// Duration decodes TOML strings such as "90s" or "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// LoadLedgerFile loads the overlay from a TOML file
func LoadLedgerFile(filename string) (*LedgerFile, error) {
	file := &LedgerFile{}
	meta, err := toml.DecodeFile(filename, file)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", filename, undecoded[0])
	}
	return file, nil
}

func (f *LedgerFile) Apply(cfg *Config) {
	setDuration(&cfg.Sweeper.Interval, f.Sweeper.Interval)
	setValue(&cfg.Sweeper.BatchSize, f.Sweeper.BatchSize)
	setValue(&cfg.Sweeper.MaxBatches, f.Sweeper.MaxBatches)
	setValue(&cfg.Sweeper.ExpirationRateThreshold, f.Sweeper.ExpirationRateThreshold)
	setValue(&cfg.Sweeper.LowStockThreshold, f.Sweeper.LowStockThreshold)

	setDuration(&cfg.Reservations.DefaultTTL, f.Reservations.DefaultTTL)
	setDuration(&cfg.Reservations.MaxTTL, f.Reservations.MaxTTL)
	setDuration(&cfg.Reservations.TransferHoldTTL, f.Reservations.TransferHoldTTL)

	setDuration(&cfg.Allocation.RecomputeInterval, f.Allocation.RecomputeInterval)
	setValue(&cfg.Allocation.VelocityLookbackDays, f.Allocation.VelocityLookbackDays)
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
