package allocation

import (
	"testing"
	"time"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func item(onHand, reserved, safety int, buffers map[string]int) *models.InventoryItem {
	if buffers == nil {
		buffers = map[string]int{}
	}
	return &models.InventoryItem{OnHand: onHand, Reserved: reserved, SafetyStock: safety, ChannelBuffers: buffers}
}

func TestStrategies(t *testing.T) {
	june := time.Date(2026, time.June, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		strategy Strategy
		in       BufferInput
		want     int
	}{
		{"fixed", Fixed{Units: 5}, BufferInput{}, 5},
		{"percentage floors", Percentage{Percent: 15}, BufferInput{BaseAvailable: 33}, 4},
		{"percentage of empty pool", Percentage{Percent: 50}, BufferInput{BaseAvailable: -2}, 0},
		{"velocity ceils", VelocityBased{DaysOfCover: 3}, BufferInput{DailyVelocity: 1.5}, 5},
		{"dynamic stable neutral", Dynamic{DaysOfCover: 4}, BufferInput{DailyVelocity: 2, Trend: TrendStable, Now: june}, 8},
		{"dynamic increasing", Dynamic{DaysOfCover: 10}, BufferInput{DailyVelocity: 1, Trend: TrendIncreasing, Now: june}, 13},
		{"dynamic decreasing", Dynamic{DaysOfCover: 10}, BufferInput{DailyVelocity: 1, Trend: TrendDecreasing, Now: june}, 8},
		{"dynamic default days", Dynamic{}, BufferInput{DailyVelocity: 1, Trend: TrendStable, Now: june}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.strategy.Compute(tt.in))
		})
	}
}

func TestDynamicSeasonalAndConversion(t *testing.T) {
	full := 1.0
	none := 0.0

	december := time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC)
	january := time.Date(2027, time.January, 5, 0, 0, 0, 0, time.UTC)

	// 10 * 1.3 season
	assert.Equal(t, 13, Dynamic{DaysOfCover: 10}.Compute(BufferInput{DailyVelocity: 1, Trend: TrendStable, Now: december}))
	// 10 * 0.8 season
	assert.Equal(t, 8, Dynamic{DaysOfCover: 10}.Compute(BufferInput{DailyVelocity: 1, Trend: TrendStable, Now: january}))

	assert.InDelta(t, 1.2, ConversionFactor(&full), 1e-9)
	assert.InDelta(t, 0.8, ConversionFactor(&none), 1e-9)
	assert.InDelta(t, 1.0, ConversionFactor(nil), 1e-9)
}

func TestFromRule(t *testing.T) {
	s, err := FromRule(&models.ChannelBufferRule{BufferType: models.BufferPercentage, Value: 20})
	require.NoError(t, err)
	assert.Equal(t, models.BufferPercentage, s.Type())

	_, err = FromRule(&models.ChannelBufferRule{BufferType: "guess"})
	assert.Error(t, err)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 3, Clamp(1, 3, intPtr(10)))
	assert.Equal(t, 10, Clamp(25, 3, intPtr(10)))
	assert.Equal(t, 25, Clamp(25, 0, nil))
	assert.Equal(t, 0, Clamp(-4, 0, nil))
}

func TestSelectRule(t *testing.T) {
	tenant := uuid.New()
	variant := uuid.New()
	key := models.InventoryKey{TenantID: tenant, VariantID: variant, LocationID: uuid.New()}

	tenantWide := &models.ChannelBufferRule{ID: uuid.New(), TenantID: tenant, Channel: "amazon", Priority: 1, IsActive: true}
	scoped := &models.ChannelBufferRule{ID: uuid.New(), TenantID: tenant, Channel: "amazon", VariantID: &variant, Priority: 1, IsActive: true}
	higher := &models.ChannelBufferRule{ID: uuid.New(), TenantID: tenant, Channel: "amazon", Priority: 5, IsActive: true}
	inactive := &models.ChannelBufferRule{ID: uuid.New(), TenantID: tenant, Channel: "amazon", Priority: 9, IsActive: false}
	otherVariant := uuid.New()
	mismatch := &models.ChannelBufferRule{ID: uuid.New(), TenantID: tenant, Channel: "amazon", VariantID: &otherVariant, Priority: 7, IsActive: true}

	assert.Equal(t, scoped, SelectRule([]*models.ChannelBufferRule{tenantWide, scoped}, "amazon", key))
	assert.Equal(t, higher, SelectRule([]*models.ChannelBufferRule{tenantWide, scoped, higher, inactive, mismatch}, "amazon", key))
	assert.Nil(t, SelectRule([]*models.ChannelBufferRule{tenantWide}, "ebay", key))
}

func TestFitToPool(t *testing.T) {
	fitted := FitToPool(map[string]int{"a": 6, "b": 4}, 5)
	assert.Equal(t, 3, fitted["a"])
	assert.Equal(t, 2, fitted["b"])

	unchanged := FitToPool(map[string]int{"a": 2, "b": 1}, 5)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, unchanged)

	empty := FitToPool(map[string]int{"a": 2}, 0)
	assert.Equal(t, 0, empty["a"])
}

func TestAvailableForChannel(t *testing.T) {
	it := item(20, 4, 2, map[string]int{"amazon": 3, "shopify": 5})

	// pool = 20 - 4 - 2 = 14; amazon is charged shopify's 5, shopify is charged amazon's 3
	assert.Equal(t, 14, AvailableForChannel(it, ""))
	assert.Equal(t, 12, AvailableForChannel(it, "amazon"))
	assert.Equal(t, 16, AvailableForChannel(it, "shopify"))
	assert.Equal(t, 6, AvailableForChannel(it, "pos"))

	// the result is not capped at the pool
	single := item(10, 0, 0, map[string]int{"web": 4})
	assert.Equal(t, 14, AvailableForChannel(single, "web"))
	assert.Equal(t, 6, AvailableForChannel(single, "pos"))

	drained := item(5, 5, 2, map[string]int{"amazon": 3})
	assert.Equal(t, 0, AvailableForChannel(drained, "amazon"))
	assert.Equal(t, 0, AvailableForChannel(drained, ""))
}

// Once buffers are fitted to the pool the carve-outs together never exceed it, and each channel
// advertises the pool less the other carve-outs plus its own.
func TestChannelAllocationBound(t *testing.T) {
	cases := []struct {
		onHand, reserved, safety int
		buffers                  map[string]int
	}{
		{10, 0, 2, map[string]int{"a": 5, "b": 5, "c": 5}},
		{100, 40, 10, map[string]int{"a": 1, "b": 80}},
		{3, 3, 0, map[string]int{"a": 2}},
		{50, 0, 0, map[string]int{}},
	}
	for _, c := range cases {
		it := item(c.onHand, c.reserved, c.safety, nil)
		pool := SellablePool(it)
		it.ChannelBuffers = FitToPool(c.buffers, pool)

		assert.LessOrEqual(t, it.BufferTotal(), pool)
		for ch := range c.buffers {
			own := it.ChannelBuffers[ch]
			got := AvailableForChannel(it, ch)
			assert.GreaterOrEqual(t, got, 0)
			assert.Equal(t, max(0, pool-(it.BufferTotal()-own)+own), got)
		}
	}
}

func TestVelocityAndTrend(t *testing.T) {
	now := time.Date(2026, time.June, 30, 0, 0, 0, 0, time.UTC)
	sales := []models.DailySales{
		{Day: now.AddDate(0, 0, -25), Quantity: 2},
		{Day: now.AddDate(0, 0, -20), Quantity: 2},
		{Day: now.AddDate(0, 0, -5), Quantity: 8},
		{Day: now.AddDate(0, 0, -2), Quantity: 8},
	}
	assert.InDelta(t, 20.0/30.0, Velocity(sales, 30), 1e-9)
	assert.Equal(t, TrendIncreasing, DetectTrend(sales, now, 30))

	falling := []models.DailySales{
		{Day: now.AddDate(0, 0, -25), Quantity: 10},
		{Day: now.AddDate(0, 0, -3), Quantity: 2},
	}
	assert.Equal(t, TrendDecreasing, DetectTrend(falling, now, 30))
	assert.Equal(t, TrendStable, DetectTrend(nil, now, 30))
	assert.Zero(t, Velocity(sales, 0))
}

func TestConversionRate(t *testing.T) {
	assert.Nil(t, ConversionRate(models.ChannelOutcomes{}))
	r := ConversionRate(models.ChannelOutcomes{Consumed: 3, Released: 1})
	require.NotNil(t, r)
	assert.InDelta(t, 0.75, *r, 1e-9)
}
