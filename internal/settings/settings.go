// Package settings holds the per-clinic affiliate program configuration.
//
// Settings resolve in three layers: code defaults, an optional deploy-time
// yaml overlay, and the clinic's stored row. Every read path goes through
// Service.ForClinic so there is exactly one merge implementation.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/clinicware/affiliate-engine/internal/models"
)

// ProgramSettings is the full, typed configuration for one clinic's
// affiliate program. All fields are value types: after merging there are no
// unset fields.
type ProgramSettings struct {
	ClinicID              string `json:"clinic_id" yaml:"-"`
	NewPatientModel       string `json:"new_patient_model" yaml:"new_patient_model"`
	ReturningPatientModel string `json:"returning_patient_model" yaml:"returning_patient_model"`
	CookieWindowDays      int    `json:"cookie_window_days" yaml:"cookie_window_days"`
	HoldDays              int    `json:"hold_days" yaml:"hold_days"`
	DefaultPercentBps     int    `json:"default_percent_bps" yaml:"default_percent_bps"`
	PayoutFrequency       string `json:"payout_frequency" yaml:"payout_frequency"`
	MinimumPayoutCents    int64  `json:"minimum_payout_cents" yaml:"minimum_payout_cents"`
	PayoutFeeBps          int    `json:"payout_fee_bps" yaml:"payout_fee_bps"`
	FraudEnabled          bool   `json:"fraud_enabled" yaml:"fraud_enabled"`
	MaxConversionsPerDay  int    `json:"max_conversions_per_day" yaml:"max_conversions_per_day"`
	MaxConversionsPerIP   int    `json:"max_conversions_per_ip" yaml:"max_conversions_per_ip"`
	BlockProxyVPN         bool   `json:"block_proxy_vpn" yaml:"block_proxy_vpn"`
	BlockTor              bool   `json:"block_tor" yaml:"block_tor"`
	AutoHoldOnHighRisk    bool   `json:"auto_hold_on_high_risk" yaml:"auto_hold_on_high_risk"`
	ClawbackEnabled       bool   `json:"clawback_enabled" yaml:"clawback_enabled"`
}

// Overrides mirrors ProgramSettings with pointer fields: nil means "not set,
// inherit from the layer below". This is both the stored row shape and the
// admin PUT body.
type Overrides struct {
	NewPatientModel       *string `json:"new_patient_model,omitempty" yaml:"new_patient_model"`
	ReturningPatientModel *string `json:"returning_patient_model,omitempty" yaml:"returning_patient_model"`
	CookieWindowDays      *int    `json:"cookie_window_days,omitempty" yaml:"cookie_window_days"`
	HoldDays              *int    `json:"hold_days,omitempty" yaml:"hold_days"`
	DefaultPercentBps     *int    `json:"default_percent_bps,omitempty" yaml:"default_percent_bps"`
	PayoutFrequency       *string `json:"payout_frequency,omitempty" yaml:"payout_frequency"`
	MinimumPayoutCents    *int64  `json:"minimum_payout_cents,omitempty" yaml:"minimum_payout_cents"`
	PayoutFeeBps          *int    `json:"payout_fee_bps,omitempty" yaml:"payout_fee_bps"`
	FraudEnabled          *bool   `json:"fraud_enabled,omitempty" yaml:"fraud_enabled"`
	MaxConversionsPerDay  *int    `json:"max_conversions_per_day,omitempty" yaml:"max_conversions_per_day"`
	MaxConversionsPerIP   *int    `json:"max_conversions_per_ip,omitempty" yaml:"max_conversions_per_ip"`
	BlockProxyVPN         *bool   `json:"block_proxy_vpn,omitempty" yaml:"block_proxy_vpn"`
	BlockTor              *bool   `json:"block_tor,omitempty" yaml:"block_tor"`
	AutoHoldOnHighRisk    *bool   `json:"auto_hold_on_high_risk,omitempty" yaml:"auto_hold_on_high_risk"`
	ClawbackEnabled       *bool   `json:"clawback_enabled,omitempty" yaml:"clawback_enabled"`
}

// Defaults returns the hard-coded program defaults.
func Defaults() ProgramSettings {
	return ProgramSettings{
		NewPatientModel:       models.AttributionFirstClick,
		ReturningPatientModel: models.AttributionLastClick,
		CookieWindowDays:      30,
		HoldDays:              30,
		DefaultPercentBps:     500,
		PayoutFrequency:       models.PayoutFrequencyMonthly,
		MinimumPayoutCents:    5000,
		PayoutFeeBps:          0,
		FraudEnabled:          true,
		MaxConversionsPerDay:  50,
		MaxConversionsPerIP:   3,
		BlockProxyVPN:         false,
		BlockTor:              true,
		AutoHoldOnHighRisk:    true,
		ClawbackEnabled:       true,
	}
}

// Merge applies non-nil override fields on top of base and returns the
// result.
func Merge(base ProgramSettings, o Overrides) ProgramSettings {
	out := base
	if o.NewPatientModel != nil {
		out.NewPatientModel = *o.NewPatientModel
	}
	if o.ReturningPatientModel != nil {
		out.ReturningPatientModel = *o.ReturningPatientModel
	}
	if o.CookieWindowDays != nil {
		out.CookieWindowDays = *o.CookieWindowDays
	}
	if o.HoldDays != nil {
		out.HoldDays = *o.HoldDays
	}
	if o.DefaultPercentBps != nil {
		out.DefaultPercentBps = *o.DefaultPercentBps
	}
	if o.PayoutFrequency != nil {
		out.PayoutFrequency = *o.PayoutFrequency
	}
	if o.MinimumPayoutCents != nil {
		out.MinimumPayoutCents = *o.MinimumPayoutCents
	}
	if o.PayoutFeeBps != nil {
		out.PayoutFeeBps = *o.PayoutFeeBps
	}
	if o.FraudEnabled != nil {
		out.FraudEnabled = *o.FraudEnabled
	}
	if o.MaxConversionsPerDay != nil {
		out.MaxConversionsPerDay = *o.MaxConversionsPerDay
	}
	if o.MaxConversionsPerIP != nil {
		out.MaxConversionsPerIP = *o.MaxConversionsPerIP
	}
	if o.BlockProxyVPN != nil {
		out.BlockProxyVPN = *o.BlockProxyVPN
	}
	if o.BlockTor != nil {
		out.BlockTor = *o.BlockTor
	}
	if o.AutoHoldOnHighRisk != nil {
		out.AutoHoldOnHighRisk = *o.AutoHoldOnHighRisk
	}
	if o.ClawbackEnabled != nil {
		out.ClawbackEnabled = *o.ClawbackEnabled
	}
	return out
}

// ValidationError carries field-level detail for a rejected configuration.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validModels = map[string]bool{
	models.AttributionFirstClick: true,
	models.AttributionLastClick:  true,
	models.AttributionLinear:     true,
}

var validFrequencies = map[string]bool{
	models.PayoutFrequencyWeekly:   true,
	models.PayoutFrequencyBiweekly: true,
	models.PayoutFrequencyMonthly:  true,
}

// Validate rejects out-of-range or non-enumerated values. Violations are
// reported per field so the admin UI can attach them to inputs.
func Validate(s ProgramSettings) []ValidationError {
	var errs []ValidationError

	if !validModels[s.NewPatientModel] {
		errs = append(errs, ValidationError{Field: "new_patient_model", Message: "must be FIRST_CLICK, LAST_CLICK or LINEAR"})
	}
	if !validModels[s.ReturningPatientModel] {
		errs = append(errs, ValidationError{Field: "returning_patient_model", Message: "must be FIRST_CLICK, LAST_CLICK or LINEAR"})
	}
	if s.CookieWindowDays < 1 || s.CookieWindowDays > 365 {
		errs = append(errs, ValidationError{Field: "cookie_window_days", Message: "must be between 1 and 365"})
	}
	if s.HoldDays < 0 || s.HoldDays > 90 {
		errs = append(errs, ValidationError{Field: "hold_days", Message: "must be between 0 and 90"})
	}
	if s.DefaultPercentBps < 0 || s.DefaultPercentBps > 10000 {
		errs = append(errs, ValidationError{Field: "default_percent_bps", Message: "must be between 0 and 10000"})
	}
	if !validFrequencies[s.PayoutFrequency] {
		errs = append(errs, ValidationError{Field: "payout_frequency", Message: "must be weekly, biweekly or monthly"})
	}
	if s.MinimumPayoutCents < 0 {
		errs = append(errs, ValidationError{Field: "minimum_payout_cents", Message: "must not be negative"})
	}
	if s.PayoutFeeBps < 0 || s.PayoutFeeBps > 10000 {
		errs = append(errs, ValidationError{Field: "payout_fee_bps", Message: "must be between 0 and 10000"})
	}
	if s.MaxConversionsPerDay < 1 {
		errs = append(errs, ValidationError{Field: "max_conversions_per_day", Message: "must be at least 1"})
	}
	if s.MaxConversionsPerIP < 1 {
		errs = append(errs, ValidationError{Field: "max_conversions_per_ip", Message: "must be at least 1"})
	}

	return errs
}

// LoadFileOverlay reads deploy-time default overrides from
// program-defaults.yaml in dir. A missing file is not an error.
func LoadFileOverlay(dir string) (Overrides, error) {
	var o Overrides

	data, err := os.ReadFile(filepath.Join(dir, "program-defaults.yaml"))
	if err != nil {
		return o, nil
	}

	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("failed to parse program-defaults.yaml: %w", err)
	}

	return o, nil
}

// HoldUntil computes the approval hold deadline for a commission created at
// now. Extended is set for risk-flagged events pending manual review.
func (s ProgramSettings) HoldUntil(now time.Time, extended bool) time.Time {
	days := s.HoldDays
	if extended {
		days += 14
	}
	return now.AddDate(0, 0, days)
}
