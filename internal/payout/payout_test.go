package payout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clinicware/affiliate-engine/internal/models"
)

func TestPeriodKeyMonthly(t *testing.T) {
	now := time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-08", PeriodKey(models.PayoutFrequencyMonthly, now))

	jan := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-01", PeriodKey(models.PayoutFrequencyMonthly, jan))
}

func TestPeriodKeyWeekly(t *testing.T) {
	// 2025-08-30 is a Saturday in ISO week 35.
	now := time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-W35", PeriodKey(models.PayoutFrequencyWeekly, now))

	// Same key across the whole week.
	monday := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-W35", PeriodKey(models.PayoutFrequencyWeekly, monday))
}

func TestPeriodKeyBiweeklyPairsWeeks(t *testing.T) {
	week35 := time.Date(2025, 8, 30, 0, 0, 0, 0, time.UTC)
	week36 := time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC)
	week37 := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, PeriodKey(models.PayoutFrequencyBiweekly, week35), PeriodKey(models.PayoutFrequencyBiweekly, week36))
	assert.NotEqual(t, PeriodKey(models.PayoutFrequencyBiweekly, week36), PeriodKey(models.PayoutFrequencyBiweekly, week37))
}

func TestPeriodKeyUnknownFrequencyFallsBackMonthly(t *testing.T) {
	now := time.Date(2025, 8, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-08", PeriodKey("quarterly", now))
}

func TestComputeFee(t *testing.T) {
	tests := []struct {
		name   string
		gross  int64
		bps    int
		expect int64
	}{
		{"no fee", 10000, 0, 0},
		{"2 percent", 10000, 200, 200},
		{"rounds half up", 333, 150, 5}, // 4.995 -> 5
		{"full fee", 500, 10000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ComputeFee(tt.gross, tt.bps))
		})
	}
}

func TestComputeFeeNetNeverNegative(t *testing.T) {
	for _, gross := range []int64{1, 99, 12345} {
		for _, bps := range []int{0, 100, 5000, 10000} {
			fee := ComputeFee(gross, bps)
			assert.GreaterOrEqual(t, gross-fee, int64(0), "gross=%d bps=%d", gross, bps)
		}
	}
}
