// Package allocation holds the channel buffer math. Everything here is pure: callers load sales
// history and rules, this package turns them into buffer quantities.
package allocation

import (
	"fmt"
	"math"
	"time"

	"stockledger/internal/models"
)

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

const defaultDaysOfCover = 7.0

// BufferInput is the demand picture a strategy computes from.
type BufferInput struct {
	BaseAvailable  int
	DailyVelocity  float64
	Trend          Trend
	ConversionRate *float64 // nil when the channel has no closed reservations in the window
	Now            time.Time
}

// Strategy computes an unclamped buffer for one channel.
type Strategy interface {
	Type() models.BufferType
	Compute(in BufferInput) int
}

// Fixed carves out a constant number of units.
type Fixed struct {
	Units int
}

func (Fixed) Type() models.BufferType { return models.BufferFixed }

func (s Fixed) Compute(BufferInput) int { return s.Units }

// Percentage carves out a share of the unreserved pool, rounded down.
type Percentage struct {
	Percent float64
}

func (Percentage) Type() models.BufferType { return models.BufferPercentage }

func (s Percentage) Compute(in BufferInput) int {
	if in.BaseAvailable <= 0 {
		return 0
	}
	return int(math.Floor(float64(in.BaseAvailable) * s.Percent / 100))
}

// VelocityBased covers DaysOfCover days of trailing sales, rounded up.
type VelocityBased struct {
	DaysOfCover float64
}

func (VelocityBased) Type() models.BufferType { return models.BufferVelocityBased }

func (s VelocityBased) Compute(in BufferInput) int {
	return ceil(in.DailyVelocity * s.DaysOfCover)
}

// Dynamic starts from velocity cover and adjusts for trend, channel conversion and season.
type Dynamic struct {
	DaysOfCover float64
}

func (Dynamic) Type() models.BufferType { return models.BufferDynamic }

func (s Dynamic) Compute(in BufferInput) int {
	days := s.DaysOfCover
	if days <= 0 {
		days = defaultDaysOfCover
	}
	v := in.DailyVelocity * days
	v *= TrendMultiplier(in.Trend)
	v *= ConversionFactor(in.ConversionRate)
	v *= SeasonalMultiplier(in.Now)
	return ceil(v)
}

// FromRule maps a persisted rule onto its strategy variant.
func FromRule(rule *models.ChannelBufferRule) (Strategy, error) {
	switch rule.BufferType {
	case models.BufferFixed:
		return Fixed{Units: int(math.Round(rule.Value))}, nil
	case models.BufferPercentage:
		return Percentage{Percent: rule.Value}, nil
	case models.BufferVelocityBased:
		return VelocityBased{DaysOfCover: rule.Value}, nil
	case models.BufferDynamic:
		return Dynamic{DaysOfCover: rule.Value}, nil
	}
	return nil, fmt.Errorf("unknown buffer type %q", rule.BufferType)
}

func TrendMultiplier(t Trend) float64 {
	switch t {
	case TrendIncreasing:
		return 1.3
	case TrendDecreasing:
		return 0.8
	}
	return 1.0
}

// ConversionFactor scales between 0.8 (nothing converts) and 1.2 (everything converts).
func ConversionFactor(rate *float64) float64 {
	if rate == nil {
		return 1.0
	}
	r := math.Max(0, math.Min(1, *rate))
	return 0.8 + 0.4*r
}

// SeasonalMultiplier applies the Q4 uplift and the January post-holiday discount.
func SeasonalMultiplier(t time.Time) float64 {
	switch m := t.Month(); {
	case m >= time.October:
		return 1.3
	case m == time.January:
		return 0.8
	}
	return 1.0
}

// ceil rounds up, ignoring float noise below 1e-9.
func ceil(v float64) int {
	return int(math.Ceil(v - 1e-9))
}

// Clamp bounds v to [lo, hi]; a nil hi is unbounded.
func Clamp(v, lo int, hi *int) int {
	if hi != nil && v > *hi {
		v = *hi
	}
	if v < lo {
		v = lo
	}
	if v < 0 {
		v = 0
	}
	return v
}
