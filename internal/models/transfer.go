package models

import (
	"time"

	"github.com/google/uuid"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferInTransit TransferStatus = "in_transit"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// Open transfers still hold a source reservation.
func (s TransferStatus) Open() bool {
	return s == TransferPending || s == TransferInTransit
}

type Transfer struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	TenantID       uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	VariantID      uuid.UUID      `json:"variant_id" db:"variant_id"`
	FromLocationID uuid.UUID      `json:"from_location_id" db:"from_location_id"`
	ToLocationID   uuid.UUID      `json:"to_location_id" db:"to_location_id"`
	Quantity       int            `json:"quantity" db:"quantity"`
	Status         TransferStatus `json:"status" db:"status"`
	ReservationID  uuid.UUID      `json:"reservation_id" db:"reservation_id"`
	Reason         string         `json:"reason" db:"reason"`
	Reference      string         `json:"reference" db:"reference"`
	Notes          *string        `json:"notes,omitempty" db:"notes"`
	CreatedBy      string         `json:"created_by" db:"created_by"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	ShippedAt      *time.Time     `json:"shipped_at,omitempty" db:"shipped_at"`
	CompletedBy    *string        `json:"completed_by,omitempty" db:"completed_by"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty" db:"cancelled_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

func (t *Transfer) SourceKey() InventoryKey {
	return InventoryKey{TenantID: t.TenantID, VariantID: t.VariantID, LocationID: t.FromLocationID}
}

func (t *Transfer) DestinationKey() InventoryKey {
	return InventoryKey{TenantID: t.TenantID, VariantID: t.VariantID, LocationID: t.ToLocationID}
}

// TransferRequest is the createTransfer input.
type TransferRequest struct {
	VariantID      uuid.UUID `json:"variant_id" validate:"required"`
	FromLocationID uuid.UUID `json:"from_location_id" validate:"required"`
	ToLocationID   uuid.UUID `json:"to_location_id" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,min=1"`
	Reason         string    `json:"reason"`
	Reference      string    `json:"reference"`
	Notes          *string   `json:"notes,omitempty"`
}

type TransferFilter struct {
	VariantID  *uuid.UUID      `json:"variant_id,omitempty"`
	LocationID *uuid.UUID      `json:"location_id,omitempty"` // matches either side
	Status     *TransferStatus `json:"status,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}
