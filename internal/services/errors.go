package services

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"stockledger/internal/models"
	"stockledger/internal/repositories"
)

var (
	ErrNotFound             = repositories.ErrNotFound
	ErrInvalidQuantity      = errors.New("stockledger: quantity must be positive")
	ErrInvalidDirection     = errors.New("stockledger: direction must be in or out")
	ErrInvalidReason        = errors.New("stockledger: unknown movement reason")
	ErrInvalidReleaseReason = errors.New("stockledger: unknown release reason")
	ErrInvalidDuration      = errors.New("stockledger: duration must be positive")
	ErrDurationTooLong      = errors.New("stockledger: duration exceeds the maximum hold")
	ErrReservationNotActive = errors.New("stockledger: reservation is not active")
	ErrReservationHeld      = errors.New("stockledger: reservation is held by a transfer")
	ErrTransferNotOpen      = errors.New("stockledger: transfer is not pending or in transit")
	ErrTransferNotPending   = errors.New("stockledger: transfer is not pending")
)

// Error kinds are the machine-readable codes surfaced to callers.
const (
	KindInsufficientInventory = "INSUFFICIENT_INVENTORY"
	KindNegativeStock         = "NEGATIVE_STOCK"
	KindValidation            = "VALIDATION_ERROR"
	KindNotFound              = "NOT_FOUND"
	KindInvalidState          = "INVALID_STATE"
	KindInternal              = "INTERNAL_ERROR"
)

// InsufficientInventoryError is returned when a claim exceeds onHand - reserved.
// Available is the fresh post-commit value the caller can retry against.
type InsufficientInventoryError struct {
	Key       models.InventoryKey
	Available int
	Requested int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("stockledger: insufficient inventory for %s: available %d, requested %d", e.Key, e.Available, e.Requested)
}

// NegativeStockError is returned when a movement would leave onHand below reserved.
type NegativeStockError struct {
	Key      models.InventoryKey
	OnHand   int
	Reserved int
	Delta    int
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("stockledger: movement of %d on %s would leave on hand below reserved (on hand %d, reserved %d)",
		e.Delta, e.Key, e.OnHand, e.Reserved)
}

// Available is the quantity the movement could have removed.
func (e *NegativeStockError) Available() int {
	if a := e.OnHand - e.Reserved; a > 0 {
		return a
	}
	return 0
}

type FieldError struct {
	Field     string `json:"field"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Available *int   `json:"available,omitempty"`
}

// ValidationErrors is the itemized rejection of a request before any mutation.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Field + ": " + e.Message
	}
	return "stockledger: validation failed: " + strings.Join(msgs, "; ")
}

func (v *ValidationErrors) add(field, code, message string) {
	*v = append(*v, FieldError{Field: field, Code: code, Message: message})
}

func (v *ValidationErrors) addAvailable(field, code, message string, available int) {
	*v = append(*v, FieldError{Field: field, Code: code, Message: message, Available: &available})
}

func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// ErrorKind classifies err for transport layers.
func ErrorKind(err error) string {
	var insufficient *InsufficientInventoryError
	var negative *NegativeStockError
	var validation ValidationErrors
	switch {
	case err == nil:
		return ""
	case errors.As(err, &insufficient):
		return KindInsufficientInventory
	case errors.As(err, &negative):
		return KindNegativeStock
	case errors.As(err, &validation),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidDirection),
		errors.Is(err, ErrInvalidReason),
		errors.Is(err, ErrInvalidReleaseReason),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrDurationTooLong):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrReservationNotActive),
		errors.Is(err, ErrReservationHeld),
		errors.Is(err, ErrTransferNotOpen),
		errors.Is(err, ErrTransferNotPending):
		return KindInvalidState
	}
	return KindInternal
}

// AvailableFromError extracts the retry hint carried by err, if any.
func AvailableFromError(err error) (int, bool) {
	var insufficient *InsufficientInventoryError
	if errors.As(err, &insufficient) {
		return insufficient.Available, true
	}
	var negative *NegativeStockError
	if errors.As(err, &negative) {
		return negative.Available(), true
	}
	return 0, false
}

// ErrorDetails flattens the numeric context of err for per-item reports.
func ErrorDetails(err error) map[string]string {
	details := map[string]string{}
	if available, ok := AvailableFromError(err); ok {
		details["availableQuantity"] = strconv.Itoa(available)
	}
	var validation ValidationErrors
	if errors.As(err, &validation) {
		for _, fe := range validation {
			details[fe.Field] = fe.Message
			if fe.Available != nil {
				details["availableQuantity"] = strconv.Itoa(*fe.Available)
			}
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

const maxWholeSeconds = math.MaxInt64 / int64(time.Second)

// DurationFromSeconds converts a caller supplied second count. Counts a time.Duration cannot hold
// are rejected instead of wrapping negative.
func DurationFromSeconds(seconds int) (time.Duration, error) {
	if seconds < 0 {
		return 0, ErrInvalidDuration
	}
	if int64(seconds) > maxWholeSeconds {
		return 0, ErrDurationTooLong
	}
	return time.Duration(seconds) * time.Second, nil
}
