package models

import (
	"time"

	"github.com/google/uuid"
)

// Location is a stocking point (warehouse, store or fulfilment node). The catalog owns these rows;
// the ledger only reads them to validate transfers.
type Location struct {
	ID        uuid.UUID `json:"id" db:"id"`
	TenantID  uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	Address   *string   `json:"address" db:"address"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
