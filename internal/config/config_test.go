package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvDefaultsAndOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("RESERVATION_DEFAULT_TTL", "20m")
	t.Setenv("SWEEP_BATCH_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Store)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 20*time.Minute, cfg.Reservations.DefaultTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Reservations.MaxTTL)
	assert.Equal(t, time.Duration(0), cfg.Reservations.TransferHoldTTL)
	assert.Equal(t, 250, cfg.Sweeper.BatchSize)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, 30, cfg.Allocation.VelocityLookbackDays)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_TOMLOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[sweeper]
interval = "30s"
expiration_rate_threshold = 0.25

[reservations]
max_ttl = "72h"
transfer_hold_ttl = "48h"

[allocation]
velocity_lookback_days = 14
`), 0o600))

	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SWEEP_BATCH_SIZE", "40")
	t.Setenv("LEDGER_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 0.25, cfg.Sweeper.ExpirationRateThreshold)
	assert.Equal(t, 40, cfg.Sweeper.BatchSize)
	assert.Equal(t, 72*time.Hour, cfg.Reservations.MaxTTL)
	assert.Equal(t, 48*time.Hour, cfg.Reservations.TransferHoldTTL)
	assert.Equal(t, 14, cfg.Allocation.VelocityLookbackDays)
}

func TestLoadLedgerFile_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sweeper]\nbatchsize = 10\n"), 0o600))

	_, err := LoadLedgerFile(path)
	assert.ErrorContains(t, err, "unknown key sweeper.batchsize")
}

func TestLoad_GeneratesDevelopmentSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "development")
	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWKS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.JWT.Generated)
	assert.Len(t, cfg.JWT.Secret, 32)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("LEDGER_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWKS_URL", "")
	t.Setenv("SWEEP_EXPIRATION_RATE_THRESHOLD", "1.5")
	t.Setenv("RESERVATION_MAX_TTL", "1m")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "DATABASE_URL is required")
	assert.ErrorContains(t, err, "JWT_SECRET or JWKS_URL is required")
	assert.ErrorContains(t, err, "expiration rate threshold")
	assert.ErrorContains(t, err, "reservation max TTL")
}
