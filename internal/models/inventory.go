package models

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// InventoryKey identifies one ledger row: a variant stocked at a location for a tenant.
type InventoryKey struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	VariantID  uuid.UUID `json:"variant_id"`
	LocationID uuid.UUID `json:"location_id"`
}

func (k InventoryKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.TenantID, k.VariantID, k.LocationID)
}

// InventorySearchFilter holds filter criteria for item listings
type InventorySearchFilter struct {
	VariantID    *uuid.UUID `json:"variant_id,omitempty"`
	LocationID   *uuid.UUID `json:"location_id,omitempty"`
	MaxAvailable *int       `json:"max_available,omitempty"` // onHand - reserved <= value (low stock listings)
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}

type InventoryItem struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	TenantID       uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	VariantID      uuid.UUID      `json:"variant_id" db:"variant_id"`
	LocationID     uuid.UUID      `json:"location_id" db:"location_id"`
	OnHand         int            `json:"on_hand" db:"on_hand"`
	Reserved       int            `json:"reserved" db:"reserved"`
	SafetyStock    int            `json:"safety_stock" db:"safety_stock"`
	ChannelBuffers map[string]int `json:"channel_buffers" db:"channel_buffers"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// NewInventoryItem returns an empty row for key, as created on the first stock event at a location.
func NewInventoryItem(key InventoryKey, now time.Time) *InventoryItem {
	return &InventoryItem{
		ID:             uuid.New(),
		TenantID:       key.TenantID,
		VariantID:      key.VariantID,
		LocationID:     key.LocationID,
		ChannelBuffers: map[string]int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (i *InventoryItem) Key() InventoryKey {
	return InventoryKey{TenantID: i.TenantID, VariantID: i.VariantID, LocationID: i.LocationID}
}

// Available is the unreserved physical quantity (baseAvailable).
func (i *InventoryItem) Available() int {
	return i.OnHand - i.Reserved
}

// Consistent reports whether 0 <= reserved <= onHand holds.
func (i *InventoryItem) Consistent() bool {
	return i.Reserved >= 0 && i.Reserved <= i.OnHand
}

// BufferTotal sums every channel buffer.
func (i *InventoryItem) BufferTotal() int {
	total := 0
	for _, b := range i.ChannelBuffers {
		total += b
	}
	return total
}

// SameState reports whether o holds the same quantities as i as of the same write.
func (i *InventoryItem) SameState(o *InventoryItem) bool {
	return i.OnHand == o.OnHand &&
		i.Reserved == o.Reserved &&
		i.SafetyStock == o.SafetyStock &&
		i.UpdatedAt.Equal(o.UpdatedAt) &&
		maps.Equal(i.ChannelBuffers, o.ChannelBuffers)
}

// Clone returns a deep copy so stores can hand out rows without sharing the buffer map.
func (i *InventoryItem) Clone() *InventoryItem {
	c := *i
	c.ChannelBuffers = make(map[string]int, len(i.ChannelBuffers))
	for k, v := range i.ChannelBuffers {
		c.ChannelBuffers[k] = v
	}
	return &c
}

// Availability is the read model returned to channel sync and storefronts.
type Availability struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	VariantID     uuid.UUID `json:"variant_id"`
	LocationID    uuid.UUID `json:"location_id"`
	Channel       string    `json:"channel,omitempty"`
	OnHand        int       `json:"on_hand"`
	Reserved      int       `json:"reserved"`
	SafetyStock   int       `json:"safety_stock"`
	BaseAvailable int       `json:"base_available"`
	ChannelBuffer int       `json:"channel_buffer"`
	Available     int       `json:"available"`
}

// ReplayResult compares the stored onHand with the sum of its movements.
type ReplayResult struct {
	Key            InventoryKey `json:"key"`
	StoredOnHand   int          `json:"stored_on_hand"`
	ReplayedOnHand int          `json:"replayed_on_hand"`
	Movements      int          `json:"movements"`
	Drift          int          `json:"drift"`
}
