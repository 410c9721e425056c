package models

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "pending"
	ReservationActive   ReservationStatus = "active"
	ReservationReleased ReservationStatus = "released"
	ReservationConsumed ReservationStatus = "consumed"
)

// Terminal statuses are final; a reservation never re-enters active.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationReleased || s == ReservationConsumed
}

type ReleaseReason string

const (
	ReleaseTimeout           ReleaseReason = "timeout"
	ReleaseManual            ReleaseReason = "manual"
	ReleaseOrderCancelled    ReleaseReason = "order_cancelled"
	ReleasePaymentFailed     ReleaseReason = "payment_failed"
	ReleaseFulfilled         ReleaseReason = "fulfilled"
	ReleaseTransferCancelled ReleaseReason = "transfer_cancelled"
)

func (r ReleaseReason) Valid() bool {
	switch r {
	case ReleaseTimeout, ReleaseManual, ReleaseOrderCancelled, ReleasePaymentFailed, ReleaseFulfilled, ReleaseTransferCancelled:
		return true
	}
	return false
}

type Reservation struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	TenantID      uuid.UUID         `json:"tenant_id" db:"tenant_id"`
	VariantID     uuid.UUID         `json:"variant_id" db:"variant_id"`
	LocationID    uuid.UUID         `json:"location_id" db:"location_id"`
	OrderID       *string           `json:"order_id,omitempty" db:"order_id"`
	TransferID    *uuid.UUID        `json:"transfer_id,omitempty" db:"transfer_id"`
	Channel       *string           `json:"channel,omitempty" db:"channel"`
	Quantity      int               `json:"quantity" db:"quantity"`
	Status        ReservationStatus `json:"status" db:"status"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty" db:"expires_at"` // nil holds indefinitely
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	CreatedBy     string            `json:"created_by" db:"created_by"`
	ReleasedAt    *time.Time        `json:"released_at,omitempty" db:"released_at"`
	ReleaseReason *ReleaseReason    `json:"release_reason,omitempty" db:"release_reason"`
	ConsumedAt    *time.Time        `json:"consumed_at,omitempty" db:"consumed_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

func (r *Reservation) Key() InventoryKey {
	return InventoryKey{TenantID: r.TenantID, VariantID: r.VariantID, LocationID: r.LocationID}
}

// ExpiryCursor is the (expires_at, id) position of the last reservation a sweep has seen.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        uuid.UUID
}

func (r *Reservation) ExpiryCursor() *ExpiryCursor {
	c := &ExpiryCursor{ID: r.ID}
	if r.ExpiresAt != nil {
		c.ExpiresAt = *r.ExpiresAt
	}
	return c
}

func (r *Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// ReserveRequest carries the caller side of reserve(key, quantity, orderId, ttl).
type ReserveRequest struct {
	Key        InventoryKey  `json:"key"`
	Quantity   int           `json:"quantity"`
	OrderID    *string       `json:"order_id,omitempty"`
	Channel    *string       `json:"channel,omitempty"`
	TTL        time.Duration `json:"ttl"`                  // zero uses the configured default
	Indefinite bool          `json:"indefinite,omitempty"` // hold until released or consumed; TTL must be zero
	Actor      string        `json:"actor"`
}

type ReservationFilter struct {
	VariantID  *uuid.UUID         `json:"variant_id,omitempty"`
	LocationID *uuid.UUID         `json:"location_id,omitempty"`
	OrderID    *string            `json:"order_id,omitempty"`
	Status     *ReservationStatus `json:"status,omitempty"`
	Limit      int                `json:"limit,omitempty"`
	Offset     int                `json:"offset,omitempty"`
}
