package competition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clinicware/affiliate-engine/internal/models"
)

func TestDeriveStatus(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	c := &models.Competition{StartDate: start, EndDate: end}

	assert.Equal(t, models.CompetitionStatusScheduled, DeriveStatus(c, start.Add(-time.Hour)))
	assert.Equal(t, models.CompetitionStatusActive, DeriveStatus(c, start))
	assert.Equal(t, models.CompetitionStatusActive, DeriveStatus(c, end.Add(-time.Second)))
	assert.Equal(t, models.CompetitionStatusCompleted, DeriveStatus(c, end))
	assert.Equal(t, models.CompetitionStatusCompleted, DeriveStatus(c, end.Add(24*time.Hour)))
}

func TestDeriveStatusCancelledIsTerminal(t *testing.T) {
	c := &models.Competition{
		Status:    models.CompetitionStatusCancelled,
		StartDate: time.Now().Add(-time.Hour),
		EndDate:   time.Now().Add(time.Hour),
	}
	assert.Equal(t, models.CompetitionStatusCancelled, DeriveStatus(c, time.Now()))
}

func TestRankEntriesByValueDescending(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	entries := []models.CompetitionEntry{
		{AffiliateID: "a", CurrentValue: 100, CreatedAt: base},
		{AffiliateID: "b", CurrentValue: 300, CreatedAt: base},
		{AffiliateID: "c", CurrentValue: 200, CreatedAt: base},
	}

	RankEntries(entries)

	assert.Equal(t, "b", entries[0].AffiliateID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "c", entries[1].AffiliateID)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, "a", entries[2].AffiliateID)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestRankEntriesTieBreakByEnrollment(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	entries := []models.CompetitionEntry{
		{AffiliateID: "late", CurrentValue: 100, CreatedAt: base.Add(time.Hour)},
		{AffiliateID: "early", CurrentValue: 100, CreatedAt: base},
	}

	RankEntries(entries)

	assert.Equal(t, "early", entries[0].AffiliateID)
	assert.Equal(t, "late", entries[1].AffiliateID)
}

func TestApplyPercentOfTotal(t *testing.T) {
	rows := []LeaderboardRow{
		{AffiliateID: "a", Value: 10000},
		{AffiliateID: "b", Value: 5000},
	}

	applyPercentOfTotal(rows, 15000)

	assert.InDelta(t, 66.67, rows[0].PercentOfTotal, 0.01)
	assert.InDelta(t, 33.33, rows[1].PercentOfTotal, 0.01)
}

func TestApplyPercentOfTotalZeroTotal(t *testing.T) {
	rows := []LeaderboardRow{{Value: 0}, {Value: 0}}
	applyPercentOfTotal(rows, 0)
	assert.Zero(t, rows[0].PercentOfTotal)
	assert.Zero(t, rows[1].PercentOfTotal)
}

func TestAdHocValue(t *testing.T) {
	r := adHocRow{clicks: 80, conversions: 4, revenueCents: 12000, newCustomers: 3}

	assert.Equal(t, int64(80), adHocValue(models.MetricClicks, r))
	assert.Equal(t, int64(4), adHocValue(models.MetricConversions, r))
	assert.Equal(t, int64(12000), adHocValue(models.MetricRevenue, r))
	assert.Equal(t, int64(3), adHocValue(models.MetricNewCustomers, r))
	// 4/80 = 5% expressed in basis points.
	assert.Equal(t, int64(500), adHocValue(models.MetricConversionRate, r))
	assert.Equal(t, int64(0), adHocValue(models.MetricConversionRate, adHocRow{conversions: 4}))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "42", FormatValue(models.MetricClicks, 42))
	assert.Equal(t, "$123.45", FormatValue(models.MetricRevenue, 12345))
	assert.Equal(t, "$0.05", FormatValue(models.MetricRevenue, 5))
	assert.Equal(t, "12.50%", FormatValue(models.MetricConversionRate, 1250))
	assert.Equal(t, "7", FormatValue(models.MetricNewCustomers, 7))
}
