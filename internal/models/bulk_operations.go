package models

import (
	"time"

	"github.com/google/uuid"
)

// BulkOperationResult represents the per-item report of a bulk operation.
// Every item is applied in its own transaction, so a failure never rolls back earlier items.
type BulkOperationResult struct {
	OperationID    string               `json:"operation_id"`
	Status         string               `json:"status"` // "completed", "failed", "partial"
	TotalItems     int                  `json:"total_items"`
	ProcessedItems int                  `json:"processed_items"`
	FailedItems    int                  `json:"failed_items"`
	Progress       float64              `json:"progress"` // 0-100
	StartTime      time.Time            `json:"start_time"`
	CompletionTime *time.Time           `json:"completion_time,omitempty"`
	Errors         []BulkOperationError `json:"errors,omitempty"`
	Items          []BulkOperationItem  `json:"items,omitempty"`
}

// BulkOperationError represents an error for a specific item in bulk operation
type BulkOperationError struct {
	ItemIndex int               `json:"item_index"`
	ItemID    string            `json:"item_id"`
	Code      string            `json:"code"`
	Error     string            `json:"error"`
	Details   map[string]string `json:"details,omitempty"`
}

// BulkOperationItem represents the result for a specific item
type BulkOperationItem struct {
	ItemIndex int     `json:"item_index"`
	ItemID    string  `json:"item_id"`
	Status    string  `json:"status"` // "success", "failed"
	Error     *string `json:"error,omitempty"`
}

func NewBulkOperationResult(total int, start time.Time) *BulkOperationResult {
	return &BulkOperationResult{
		OperationID: uuid.New().String(),
		Status:      "processing",
		TotalItems:  total,
		StartTime:   start,
		Errors:      []BulkOperationError{},
		Items:       make([]BulkOperationItem, 0, total),
	}
}

func (r *BulkOperationResult) RecordSuccess(index int, itemID string) {
	r.ProcessedItems++
	r.Items = append(r.Items, BulkOperationItem{ItemIndex: index, ItemID: itemID, Status: "success"})
}

func (r *BulkOperationResult) RecordFailure(index int, itemID, code, message string, details map[string]string) {
	r.FailedItems++
	r.Errors = append(r.Errors, BulkOperationError{ItemIndex: index, ItemID: itemID, Code: code, Error: message, Details: details})
	r.Items = append(r.Items, BulkOperationItem{ItemIndex: index, ItemID: itemID, Status: "failed", Error: &message})
}

// Finish sets the terminal status and progress.
func (r *BulkOperationResult) Finish(end time.Time) {
	r.CompletionTime = &end
	if r.TotalItems > 0 {
		r.Progress = float64(r.ProcessedItems+r.FailedItems) / float64(r.TotalItems) * 100
	} else {
		r.Progress = 100
	}
	switch {
	case r.FailedItems == 0:
		r.Status = "completed"
	case r.ProcessedItems == 0:
		r.Status = "failed"
	default:
		r.Status = "partial"
	}
}

// InventoryBulkAdjust represents bulk inventory adjustments
type InventoryBulkAdjust struct {
	Adjustments []InventoryAdjustment `json:"adjustments" validate:"required,min=1,dive"`
}

// InventoryAdjustment represents a single signed stock change applied through the ledger.
type InventoryAdjustment struct {
	VariantID      uuid.UUID      `json:"variant_id" validate:"required"`
	LocationID     uuid.UUID      `json:"location_id" validate:"required"`
	QuantityChange int            `json:"quantity_change"` // positive adds, negative deducts
	Reason         MovementReason `json:"reason"`          // defaults to adjustment
	Reference      string         `json:"reference"`
}

// InventoryBulkTransfer represents bulk transfer creation between locations
type InventoryBulkTransfer struct {
	Transfers []TransferRequest `json:"transfers" validate:"required,min=1,dive"`
}
