package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AvailabilityCache caches per-channel availability reads. Entries are short lived and are
// dropped after every committed mutation of their key.
type AvailabilityCache interface {
	GetAvailability(ctx context.Context, key models.InventoryKey, channel string) (*models.Availability, error)
	SetAvailability(ctx context.Context, availability *models.Availability, ttl time.Duration) error
	Invalidate(ctx context.Context, key models.InventoryKey) error
	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int, logger *zap.Logger) AvailabilityCache {
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsedAddr = strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		logger.Warn("redis ping failed on initialization", zap.String("address", parsedAddr), zap.Error(pingErr))
	}

	return NewRedisCacheFromClient(client)
}

func NewRedisCacheFromClient(client *redis.Client) AvailabilityCache {
	return &redisCacheService{client: client}
}

// availabilityKey hashes every channel of one inventory key under a single redis key,
// so invalidation is one DEL.
func availabilityKey(key models.InventoryKey) string {
	return fmt.Sprintf("stockledger:availability:%s:%s:%s", key.TenantID, key.VariantID, key.LocationID)
}

func field(channel string) string {
	if channel == "" {
		return "_all"
	}
	return channel
}

func (r *redisCacheService) GetAvailability(ctx context.Context, key models.InventoryKey, channel string) (*models.Availability, error) {
	data, err := r.client.HGet(ctx, availabilityKey(key), field(channel)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // cache miss
		}
		return nil, err
	}

	var availability models.Availability
	if err := json.Unmarshal(data, &availability); err != nil {
		return nil, err
	}
	return &availability, nil
}

func (r *redisCacheService) SetAvailability(ctx context.Context, a *models.Availability, ttl time.Duration) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	key := availabilityKey(models.InventoryKey{TenantID: a.TenantID, VariantID: a.VariantID, LocationID: a.LocationID})

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, field(a.Channel), data)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisCacheService) Invalidate(ctx context.Context, key models.InventoryKey) error {
	return r.client.Del(ctx, availabilityKey(key)).Err()
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// NoopCache is used when redis is not configured.
type NoopCache struct{}

func (NoopCache) GetAvailability(context.Context, models.InventoryKey, string) (*models.Availability, error) {
	return nil, nil
}

func (NoopCache) SetAvailability(context.Context, *models.Availability, time.Duration) error { return nil }

func (NoopCache) Invalidate(context.Context, models.InventoryKey) error { return nil }

func (NoopCache) Ping(context.Context) error { return nil }
