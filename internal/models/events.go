package models

import (
	"time"

	"github.com/google/uuid"
)

// StockChangedEvent is published after every committed ledger mutation.
type StockChangedEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	VariantID   uuid.UUID `json:"variant_id"`
	LocationID  uuid.UUID `json:"location_id"`
	OnHand      int       `json:"on_hand"`
	Reserved    int       `json:"reserved"`
	SafetyStock int       `json:"safety_stock"`
	Available   int       `json:"available"`
	Cause       string    `json:"cause"`
	Reference   string    `json:"reference,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func NewStockChangedEvent(item *InventoryItem, cause, reference string, at time.Time) StockChangedEvent {
	return StockChangedEvent{
		EventID:     uuid.New(),
		TenantID:    item.TenantID,
		VariantID:   item.VariantID,
		LocationID:  item.LocationID,
		OnHand:      item.OnHand,
		Reserved:    item.Reserved,
		SafetyStock: item.SafetyStock,
		Available:   item.Available(),
		Cause:       cause,
		Reference:   reference,
		OccurredAt:  at,
	}
}

const (
	OrderCreated   = "order.created"
	OrderCancelled = "order.cancelled"
	OrderFulfilled = "order.fulfilled"
	PaymentFailed  = "payment.failed"
)

// OrderEvent is consumed from the order processing topic.
type OrderEvent struct {
	Type       string      `json:"type"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	OrderID    string      `json:"order_id"`
	Channel    *string     `json:"channel,omitempty"`
	Lines      []OrderLine `json:"lines,omitempty"`
	HoldSecs   *int        `json:"hold_seconds,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type OrderLine struct {
	VariantID  uuid.UUID `json:"variant_id"`
	LocationID uuid.UUID `json:"location_id"`
	Quantity   int       `json:"quantity"`
}
