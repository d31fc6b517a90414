package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/affiliate-engine/internal/models"
)

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }

func TestDefaultsAreValid(t *testing.T) {
	errs := Validate(Defaults())
	assert.Empty(t, errs)
}

func TestMergeOverridesOnlySetFields(t *testing.T) {
	base := Defaults()

	merged := Merge(base, Overrides{
		CookieWindowDays: intPtr(7),
		BlockTor:         boolPtr(false),
	})

	assert.Equal(t, 7, merged.CookieWindowDays)
	assert.False(t, merged.BlockTor)
	assert.Equal(t, base.NewPatientModel, merged.NewPatientModel)
	assert.Equal(t, base.HoldDays, merged.HoldDays)
	assert.Equal(t, base.MinimumPayoutCents, merged.MinimumPayoutCents)
}

func TestMergeEmptyOverridesKeepsBase(t *testing.T) {
	base := Defaults()
	assert.Equal(t, base, Merge(base, Overrides{}))
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProgramSettings)
		field  string
	}{
		{"window too small", func(s *ProgramSettings) { s.CookieWindowDays = 0 }, "cookie_window_days"},
		{"window too large", func(s *ProgramSettings) { s.CookieWindowDays = 400 }, "cookie_window_days"},
		{"negative hold", func(s *ProgramSettings) { s.HoldDays = -1 }, "hold_days"},
		{"percent over 100", func(s *ProgramSettings) { s.DefaultPercentBps = 10001 }, "default_percent_bps"},
		{"unknown model", func(s *ProgramSettings) { s.NewPatientModel = "BEST_CLICK" }, "new_patient_model"},
		{"unknown frequency", func(s *ProgramSettings) { s.PayoutFrequency = "daily" }, "payout_frequency"},
		{"negative minimum", func(s *ProgramSettings) { s.MinimumPayoutCents = -1 }, "minimum_payout_cents"},
		{"zero ip limit", func(s *ProgramSettings) { s.MaxConversionsPerIP = 0 }, "max_conversions_per_ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)

			errs := Validate(s)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	s := Defaults()
	s.CookieWindowDays = 0
	s.ReturningPatientModel = "MIDDLE_CLICK"

	errs := Validate(s)
	assert.Len(t, errs, 2)
}

func TestHoldUntil(t *testing.T) {
	s := Defaults()
	s.HoldDays = 30
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.AddDate(0, 0, 30), s.HoldUntil(now, false))
	assert.Equal(t, now.AddDate(0, 0, 44), s.HoldUntil(now, true))
}

func TestLoadFileOverlayMissingFile(t *testing.T) {
	o, err := LoadFileOverlay(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Overrides{}, o)
}

func TestLinearIsValidForBothModels(t *testing.T) {
	s := Defaults()
	s.NewPatientModel = models.AttributionLinear
	s.ReturningPatientModel = models.AttributionLinear
	assert.Empty(t, Validate(s))
}
