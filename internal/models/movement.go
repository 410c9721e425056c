package models

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

type MovementReason string

const (
	ReasonSale         MovementReason = "sale"
	ReasonRestock      MovementReason = "restock"
	ReasonAdjustment   MovementReason = "adjustment"
	ReasonReturn       MovementReason = "return"
	ReasonTransferIn   MovementReason = "transfer_in"
	ReasonTransferOut  MovementReason = "transfer_out"
	ReasonInitialCount MovementReason = "initial_count"
	ReasonExternalSync MovementReason = "external_sync"
	ReasonDamage       MovementReason = "damage"

	// Memo reasons record reservation and policy changes; they never move onHand.
	ReasonReservationExpired  MovementReason = "reservation_expired"
	ReasonReservationReleased MovementReason = "reservation_released"
	ReasonSafetyStockAdjust   MovementReason = "safety_stock_adjustment"
	ReasonBufferUpdate        MovementReason = "buffer_update"
)

var stockReasons = map[MovementReason]bool{
	ReasonSale:         true,
	ReasonRestock:      true,
	ReasonAdjustment:   true,
	ReasonReturn:       true,
	ReasonTransferIn:   true,
	ReasonTransferOut:  true,
	ReasonInitialCount: true,
	ReasonExternalSync: true,
	ReasonDamage:       true,
}

var memoReasons = map[MovementReason]bool{
	ReasonReservationExpired:  true,
	ReasonReservationReleased: true,
	ReasonSafetyStockAdjust:   true,
	ReasonBufferUpdate:        true,
}

// AffectsOnHand reports whether movements with this reason are part of the onHand replay.
func (r MovementReason) AffectsOnHand() bool {
	return stockReasons[r]
}

func (r MovementReason) Valid() bool {
	return stockReasons[r] || memoReasons[r]
}

type StockMovement struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	TenantID   uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	VariantID  uuid.UUID      `json:"variant_id" db:"variant_id"`
	LocationID uuid.UUID      `json:"location_id" db:"location_id"`
	Direction  Direction      `json:"direction" db:"direction"`
	Quantity   int            `json:"quantity" db:"quantity"`
	Reason     MovementReason `json:"reason" db:"reason"`
	Reference  string         `json:"reference" db:"reference"`
	Actor      string         `json:"actor" db:"actor"`
	Channel    *string        `json:"channel,omitempty" db:"channel"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

func (m *StockMovement) Key() InventoryKey {
	return InventoryKey{TenantID: m.TenantID, VariantID: m.VariantID, LocationID: m.LocationID}
}

// SignedQuantity is the onHand contribution of the movement during replay.
func (m *StockMovement) SignedQuantity() int {
	if !m.Reason.AffectsOnHand() {
		return 0
	}
	if m.Direction == DirectionOut {
		return -m.Quantity
	}
	return m.Quantity
}

// MovementFilter narrows the audit read surface. Zero values are ignored.
type MovementFilter struct {
	VariantID  *uuid.UUID      `json:"variant_id,omitempty"`
	LocationID *uuid.UUID      `json:"location_id,omitempty"`
	Reason     *MovementReason `json:"reason,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	From       *time.Time      `json:"from,omitempty"`
	To         *time.Time      `json:"to,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// MovementRequest is the input to the ledger's single onHand write path.
type MovementRequest struct {
	Key       InventoryKey   `json:"key"`
	Direction Direction      `json:"direction"`
	Quantity  int            `json:"quantity"`
	Reason    MovementReason `json:"reason"`
	Reference string         `json:"reference"`
	Actor     string         `json:"actor"`
	Channel   *string        `json:"channel,omitempty"`
}
