package jobs

import (
	"fmt"

	"stockledger/internal/models"

	"github.com/google/uuid"
)

type AlertKind string

const (
	AlertHighExpirationRate AlertKind = "high_expiration_rate"
	AlertInvariantViolation AlertKind = "invariant_violation"
	AlertLowStock           AlertKind = "low_stock"
	AlertSweepFailures      AlertKind = "sweep_failures"
)

// InventoryAlert is one health finding raised after a sweep. Key fields are empty for
// sweep-wide alerts.
type InventoryAlert struct {
	Kind       AlertKind  `json:"kind"`
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
	VariantID  *uuid.UUID `json:"variant_id,omitempty"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	OnHand     int        `json:"on_hand,omitempty"`
	Reserved   int        `json:"reserved,omitempty"`
	Available  int        `json:"available,omitempty"`
	Threshold  float64    `json:"threshold,omitempty"`
	Message    string     `json:"message"`
}

func keyedAlert(kind AlertKind, item *models.InventoryItem, msg string) InventoryAlert {
	tenant, variant, location := item.TenantID, item.VariantID, item.LocationID
	return InventoryAlert{
		Kind:       kind,
		TenantID:   &tenant,
		VariantID:  &variant,
		LocationID: &location,
		OnHand:     item.OnHand,
		Reserved:   item.Reserved,
		Available:  item.Available(),
		Message:    msg,
	}
}

// checkItem inspects a row the sweep just released stock on.
func checkItem(item *models.InventoryItem, lowStockThreshold int) []InventoryAlert {
	var alerts []InventoryAlert
	if !item.Consistent() {
		alerts = append(alerts, keyedAlert(AlertInvariantViolation, item,
			fmt.Sprintf("reserved %d outside [0, %d] for %s", item.Reserved, item.OnHand, item.Key())))
	}
	if item.Available() <= lowStockThreshold {
		a := keyedAlert(AlertLowStock, item,
			fmt.Sprintf("only %d units available for %s", item.Available(), item.Key()))
		a.Threshold = float64(lowStockThreshold)
		alerts = append(alerts, a)
	}
	return alerts
}
