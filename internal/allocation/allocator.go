package allocation

import (
	"sort"
	"time"

	"stockledger/internal/models"
)

// SelectRule returns the rule governing channel for key: the highest priority active match,
// with scoped rules beating tenant-wide ones on a tie. Nil when nothing applies.
func SelectRule(rules []*models.ChannelBufferRule, channel string, key models.InventoryKey) *models.ChannelBufferRule {
	var best *models.ChannelBufferRule
	for _, r := range rules {
		if !r.IsActive || r.Channel != channel || !r.Matches(key) {
			continue
		}
		if best == nil ||
			r.Priority > best.Priority ||
			(r.Priority == best.Priority && r.Specificity() > best.Specificity()) {
			best = r
		}
	}
	return best
}

// Channels lists the distinct channels the active rules mention, sorted.
func Channels(rules []*models.ChannelBufferRule) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rules {
		if r.IsActive && !seen[r.Channel] {
			seen[r.Channel] = true
			out = append(out, r.Channel)
		}
	}
	sort.Strings(out)
	return out
}

// SellablePool is the stock channels may share: onHand - reserved - safetyStock, never negative.
func SellablePool(item *models.InventoryItem) int {
	p := item.Available() - item.SafetyStock
	if p < 0 {
		return 0
	}
	return p
}

// FitToPool scales buffers down proportionally when their sum exceeds pool, so that
// the channels' carve-outs never exceed the stock they share.
func FitToPool(buffers map[string]int, pool int) map[string]int {
	total := 0
	for _, b := range buffers {
		total += b
	}
	out := make(map[string]int, len(buffers))
	if total <= pool {
		for c, b := range buffers {
			out[c] = b
		}
		return out
	}
	if pool <= 0 {
		for c := range buffers {
			out[c] = 0
		}
		return out
	}
	for c, b := range buffers {
		out[c] = b * pool / total
	}
	return out
}

// AvailableForChannel is what channel may advertise: the sellable pool minus every other
// channel's carve-out, plus its own. An empty channel gets the pool.
func AvailableForChannel(item *models.InventoryItem, channel string) int {
	pool := SellablePool(item)
	if channel == "" {
		return pool
	}
	own := item.ChannelBuffers[channel]
	others := item.BufferTotal() - own
	avail := pool - others + own
	if avail < 0 {
		return 0
	}
	return avail
}

// Velocity is the mean daily quantity sold over the last days days.
func Velocity(sales []models.DailySales, days int) float64 {
	if days <= 0 {
		return 0
	}
	total := 0
	for _, s := range sales {
		total += s.Quantity
	}
	return float64(total) / float64(days)
}

// DetectTrend compares the recent half of the window with the older half.
// A change of more than 10% either way counts as a trend.
func DetectTrend(sales []models.DailySales, now time.Time, days int) Trend {
	if days < 2 {
		return TrendStable
	}
	mid := now.AddDate(0, 0, -days/2)
	older, recent := 0, 0
	for _, s := range sales {
		if s.Day.Before(mid) {
			older += s.Quantity
		} else {
			recent += s.Quantity
		}
	}
	if older == 0 {
		if recent > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	ratio := float64(recent) / float64(older)
	switch {
	case ratio > 1.1:
		return TrendIncreasing
	case ratio < 0.9:
		return TrendDecreasing
	}
	return TrendStable
}

// ConversionRate is consumed / (consumed + released); nil without history.
func ConversionRate(o models.ChannelOutcomes) *float64 {
	closed := o.Consumed + o.Released
	if closed == 0 {
		return nil
	}
	r := float64(o.Consumed) / float64(closed)
	return &r
}
