package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/affiliate-engine/internal/models"
)

func strPtr(s string) *string { return &s }

func TestComputeAmountPercent(t *testing.T) {
	tests := []struct {
		name   string
		bps    int
		order  int64
		expect int64
	}{
		{"10 percent of $100", 1000, 10000, 1000},
		{"5 percent default", 500, 10000, 500},
		{"rounds half up", 333, 1050, 35},    // 34.965 -> 35
		{"rounds down below half", 250, 199, 5}, // 4.975 -> 5
		{"exact half rounds up", 500, 10, 1}, // 0.5 -> 1
		{"zero order", 1000, 0, 0},
		{"zero bps", 0, 10000, 0},
		{"full 100 percent", 10000, 12345, 12345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := Rate{BonusType: models.BonusTypePercent, PercentBps: tt.bps}
			assert.Equal(t, tt.expect, ComputeAmount(rate, tt.order))
		})
	}
}

func TestComputeAmountFlatIgnoresOrderSize(t *testing.T) {
	rate := Rate{BonusType: models.BonusTypeFlat, FlatAmountCents: 2500}

	assert.Equal(t, int64(2500), ComputeAmount(rate, 100))
	assert.Equal(t, int64(2500), ComputeAmount(rate, 1000000))
}

func TestSplitLinearEven(t *testing.T) {
	assert.Equal(t, []int64{100, 100, 100, 100}, SplitLinear(400, 4))
}

func TestSplitLinearRemainderToEarliest(t *testing.T) {
	shares := SplitLinear(100, 3)
	assert.Equal(t, []int64{34, 33, 33}, shares)

	shares = SplitLinear(101, 3)
	assert.Equal(t, []int64{34, 34, 33}, shares)
}

func TestSplitLinearSumsExactly(t *testing.T) {
	for _, total := range []int64{0, 1, 99, 1000, 33333} {
		for n := 1; n <= 7; n++ {
			shares := SplitLinear(total, n)
			require.Len(t, shares, n)

			var sum int64
			for _, s := range shares {
				sum += s
			}
			assert.Equal(t, total, sum, "total=%d n=%d", total, n)
		}
	}
}

func TestSplitLinearSingle(t *testing.T) {
	assert.Equal(t, []int64{777}, SplitLinear(777, 1))
}

func TestResolveRatePrecedence(t *testing.T) {
	plan := &models.CommissionPlan{BonusType: models.BonusTypePercent, PercentBps: 800}
	rules := []models.ProductCommissionRule{
		{ProductBundleID: strPtr("bundle-1"), BonusType: models.BonusTypePercent, PercentBps: 700},
		{ProductID: strPtr("prod-1"), BonusType: models.BonusTypeFlat, FlatAmountCents: 5000},
	}

	r := ResolveRate(plan, rules, "prod-1", "bundle-1", 500)
	assert.Equal(t, RateSourceProductRule, r.Source)
	assert.Equal(t, models.BonusTypeFlat, r.BonusType)
	assert.Equal(t, int64(5000), r.FlatAmountCents)

	r = ResolveRate(plan, rules, "prod-other", "bundle-1", 500)
	assert.Equal(t, RateSourceBundleRule, r.Source)
	assert.Equal(t, 700, r.PercentBps)

	r = ResolveRate(plan, rules, "prod-other", "bundle-other", 500)
	assert.Equal(t, RateSourcePlan, r.Source)
	assert.Equal(t, 800, r.PercentBps)

	r = ResolveRate(nil, nil, "prod-1", "", 500)
	assert.Equal(t, RateSourceClinicDefault, r.Source)
	assert.Equal(t, 500, r.PercentBps)
	assert.Equal(t, models.BonusTypePercent, r.BonusType)
}
