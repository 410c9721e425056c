package models

import (
	"time"

	"github.com/google/uuid"
)

type BufferType string

const (
	BufferFixed         BufferType = "fixed"
	BufferPercentage    BufferType = "percentage"
	BufferVelocityBased BufferType = "velocity_based"
	BufferDynamic       BufferType = "dynamic"
)

func (t BufferType) Valid() bool {
	switch t {
	case BufferFixed, BufferPercentage, BufferVelocityBased, BufferDynamic:
		return true
	}
	return false
}

// ChannelBufferRule is a policy row. VariantID and LocationID narrow its scope when set.
type ChannelBufferRule struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TenantID   uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Channel    string     `json:"channel" db:"channel"`
	VariantID  *uuid.UUID `json:"variant_id,omitempty" db:"variant_id"`
	LocationID *uuid.UUID `json:"location_id,omitempty" db:"location_id"`
	BufferType BufferType `json:"buffer_type" db:"buffer_type"`
	Value      float64    `json:"value" db:"value"`
	MinBuffer  int        `json:"min_buffer" db:"min_buffer"`
	MaxBuffer  *int       `json:"max_buffer,omitempty" db:"max_buffer"` // nil is unbounded
	Priority   int        `json:"priority" db:"priority"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Matches reports whether the rule applies to key.
func (r *ChannelBufferRule) Matches(key InventoryKey) bool {
	if r.TenantID != key.TenantID {
		return false
	}
	if r.VariantID != nil && *r.VariantID != key.VariantID {
		return false
	}
	if r.LocationID != nil && *r.LocationID != key.LocationID {
		return false
	}
	return true
}

// Specificity ranks scoped rules above tenant-wide ones when priorities tie.
func (r *ChannelBufferRule) Specificity() int {
	s := 0
	if r.VariantID != nil {
		s += 2
	}
	if r.LocationID != nil {
		s++
	}
	return s
}

// DailySales is one day of sold units for a key, optionally per channel.
type DailySales struct {
	Day      time.Time `json:"day"`
	Quantity int       `json:"quantity"`
}

// ChannelOutcomes counts how a channel's reservations ended over a window.
type ChannelOutcomes struct {
	Consumed int `json:"consumed"`
	Released int `json:"released"`
}
