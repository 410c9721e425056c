package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/random"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Minio        MinioConfig
	JWT          JWTConfig
	Reservations ReservationsConfig
	Sweeper      SweeperConfig
	Allocation   AllocationConfig
}

type ServerConfig struct {
	AppEnv string
	Port   string
}

type DatabaseConfig struct {
	// Store selects the ledger backend: postgres or memory.
	Store    string
	URL      string
	MaxConns int
}

// RedisConfig enables the availability cache when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// KafkaConfig enables stock events and the order listener when Brokers is set.
type KafkaConfig struct {
	Brokers    []string
	StockTopic string
	OrderTopic string
	GroupID    string
}

// MinioConfig enables audit exports when Endpoint is set.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type JWTConfig struct {
	Secret    string
	JWKSURL   string
	// Generated is set when a development secret was created at startup; tokens do not survive a restart.
	Generated bool
}

type ReservationsConfig struct {
	DefaultTTL time.Duration
	// MaxTTL caps requested holds and single extensions.
	MaxTTL time.Duration
	// TransferHoldTTL of zero holds transfer stock until the transfer resolves.
	TransferHoldTTL time.Duration
}

type SweeperConfig struct {
	Interval                time.Duration
	BatchSize               int
	MaxBatches              int
	ExpirationRateThreshold float64
	LowStockThreshold       int
}

type AllocationConfig struct {
	RecomputeInterval    time.Duration
	VelocityLookbackDays int
}

// Load reads .env (if present), the environment, then the TOML file named by LEDGER_CONFIG_FILE.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			AppEnv: getEnv("APP_ENV", "development"),
			Port:   getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Store:    getEnv("LEDGER_STORE", "postgres"),
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt("DATABASE_MAX_CONNS", 20),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			CacheTTL: getEnvDuration("AVAILABILITY_CACHE_TTL", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    getEnvSlice("KAFKA_BROKERS", nil),
			StockTopic: getEnv("KAFKA_STOCK_TOPIC", "inventory.stock-changed"),
			OrderTopic: getEnv("KAFKA_ORDER_TOPIC", "orders.events"),
			GroupID:    getEnv("KAFKA_GROUP_ID", "stockledger"),
		},
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			Bucket:    getEnv("AUDIT_BUCKET", "ledger-audit"),
		},
		JWT: JWTConfig{
			Secret:  getEnv("JWT_SECRET", ""),
			JWKSURL: getEnv("JWKS_URL", ""),
		},
		Reservations: ReservationsConfig{
			DefaultTTL:      getEnvDuration("RESERVATION_DEFAULT_TTL", 15*time.Minute),
			MaxTTL:          getEnvDuration("RESERVATION_MAX_TTL", 7*24*time.Hour),
			TransferHoldTTL: getEnvDuration("TRANSFER_HOLD_TTL", 0),
		},
		Sweeper: SweeperConfig{
			Interval:                getEnvDuration("SWEEP_INTERVAL", time.Minute),
			BatchSize:               getEnvInt("SWEEP_BATCH_SIZE", 100),
			MaxBatches:              getEnvInt("SWEEP_MAX_BATCHES", 10),
			ExpirationRateThreshold: getEnvFloat("SWEEP_EXPIRATION_RATE_THRESHOLD", 0.5),
			LowStockThreshold:       getEnvInt("LOW_STOCK_THRESHOLD", 5),
		},
		Allocation: AllocationConfig{
			RecomputeInterval:    getEnvDuration("BUFFER_RECOMPUTE_INTERVAL", 15*time.Minute),
			VelocityLookbackDays: getEnvInt("VELOCITY_LOOKBACK_DAYS", 30),
		},
	}

	if path := getEnv("LEDGER_CONFIG_FILE", ""); path != "" {
		file, err := LoadLedgerFile(path)
		if err != nil {
			return nil, err
		}
		file.Apply(cfg)
	}

	if !cfg.IsProduction() && cfg.JWT.Secret == "" && cfg.JWT.JWKSURL == "" {
		cfg.JWT.Secret = random.String(32)
		cfg.JWT.Generated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Store {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when LEDGER_STORE=postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("LEDGER_STORE must be postgres or memory, got %q", c.Database.Store))
	}
	if c.JWT.Secret == "" && c.JWT.JWKSURL == "" {
		errs = append(errs, errors.New("JWT_SECRET or JWKS_URL is required"))
	}
	if c.Reservations.DefaultTTL <= 0 {
		errs = append(errs, errors.New("reservation default TTL must be positive"))
	}
	if c.Reservations.MaxTTL < c.Reservations.DefaultTTL {
		errs = append(errs, errors.New("reservation max TTL must be at least the default TTL"))
	}
	if c.Reservations.TransferHoldTTL < 0 {
		errs = append(errs, errors.New("transfer hold TTL cannot be negative"))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if c.Sweeper.BatchSize <= 0 || c.Sweeper.MaxBatches <= 0 {
		errs = append(errs, errors.New("sweep batch size and max batches must be positive"))
	}
	if c.Sweeper.ExpirationRateThreshold <= 0 || c.Sweeper.ExpirationRateThreshold > 1 {
		errs = append(errs, errors.New("expiration rate threshold must be in (0, 1]"))
	}
	if c.Allocation.RecomputeInterval <= 0 {
		errs = append(errs, errors.New("buffer recompute interval must be positive"))
	}
	if c.Allocation.VelocityLookbackDays <= 0 {
		errs = append(errs, errors.New("velocity lookback days must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Server.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
