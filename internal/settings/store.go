package settings

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicware/affiliate-engine/internal/database"
)

// Store persists per-clinic override rows. Reads of a clinic with no row
// return an empty Overrides, not an error.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetOverrides(ctx context.Context, clinicID string) (Overrides, error) {
	var o Overrides

	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT new_patient_model, returning_patient_model, cookie_window_days,
		       hold_days, default_percent_bps, payout_frequency,
		       minimum_payout_cents, payout_fee_bps, fraud_enabled,
		       max_conversions_per_day, max_conversions_per_ip,
		       block_proxy_vpn, block_tor, auto_hold_on_high_risk,
		       clawback_enabled
		FROM program_settings
		WHERE clinic_id = $1
	`, clinicID).Scan(
		&o.NewPatientModel, &o.ReturningPatientModel, &o.CookieWindowDays,
		&o.HoldDays, &o.DefaultPercentBps, &o.PayoutFrequency,
		&o.MinimumPayoutCents, &o.PayoutFeeBps, &o.FraudEnabled,
		&o.MaxConversionsPerDay, &o.MaxConversionsPerIP,
		&o.BlockProxyVPN, &o.BlockTor, &o.AutoHoldOnHighRisk,
		&o.ClawbackEnabled,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Overrides{}, nil
		}
		return o, fmt.Errorf("failed to get program settings: %w", err)
	}

	return o, nil
}

// SaveOverrides replaces the clinic's override row wholesale. PUT semantics:
// fields absent from the request clear back to the defaults.
func (s *Store) SaveOverrides(ctx context.Context, clinicID string, o Overrides) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO program_settings (
			clinic_id, new_patient_model, returning_patient_model,
			cookie_window_days, hold_days, default_percent_bps,
			payout_frequency, minimum_payout_cents, payout_fee_bps,
			fraud_enabled, max_conversions_per_day, max_conversions_per_ip,
			block_proxy_vpn, block_tor, auto_hold_on_high_risk,
			clawback_enabled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (clinic_id) DO UPDATE SET
			new_patient_model = EXCLUDED.new_patient_model,
			returning_patient_model = EXCLUDED.returning_patient_model,
			cookie_window_days = EXCLUDED.cookie_window_days,
			hold_days = EXCLUDED.hold_days,
			default_percent_bps = EXCLUDED.default_percent_bps,
			payout_frequency = EXCLUDED.payout_frequency,
			minimum_payout_cents = EXCLUDED.minimum_payout_cents,
			payout_fee_bps = EXCLUDED.payout_fee_bps,
			fraud_enabled = EXCLUDED.fraud_enabled,
			max_conversions_per_day = EXCLUDED.max_conversions_per_day,
			max_conversions_per_ip = EXCLUDED.max_conversions_per_ip,
			block_proxy_vpn = EXCLUDED.block_proxy_vpn,
			block_tor = EXCLUDED.block_tor,
			auto_hold_on_high_risk = EXCLUDED.auto_hold_on_high_risk,
			clawback_enabled = EXCLUDED.clawback_enabled,
			updated_at = NOW()
	`, clinicID,
		o.NewPatientModel, o.ReturningPatientModel, o.CookieWindowDays,
		o.HoldDays, o.DefaultPercentBps, o.PayoutFrequency,
		o.MinimumPayoutCents, o.PayoutFeeBps, o.FraudEnabled,
		o.MaxConversionsPerDay, o.MaxConversionsPerIP,
		o.BlockProxyVPN, o.BlockTor, o.AutoHoldOnHighRisk,
		o.ClawbackEnabled,
	)
	if err != nil {
		return fmt.Errorf("failed to save program settings: %w", err)
	}

	return nil
}

// Service resolves effective settings per clinic. The file overlay is read
// once at startup.
type Service struct {
	store   *Store
	overlay Overrides
}

func NewService(store *Store, overlay Overrides) *Service {
	return &Service{store: store, overlay: overlay}
}

// ForClinic returns the effective settings for a clinic: defaults, then the
// deploy overlay, then the clinic's stored overrides.
func (s *Service) ForClinic(ctx context.Context, clinicID string) (ProgramSettings, error) {
	base := Merge(Defaults(), s.overlay)

	overrides, err := s.store.GetOverrides(ctx, clinicID)
	if err != nil {
		return ProgramSettings{}, err
	}

	resolved := Merge(base, overrides)
	resolved.ClinicID = clinicID
	return resolved, nil
}

// Update validates and stores the clinic's overrides, returning the newly
// effective settings.
func (s *Service) Update(ctx context.Context, clinicID string, o Overrides) (ProgramSettings, []ValidationError, error) {
	candidate := Merge(Merge(Defaults(), s.overlay), o)
	if errs := Validate(candidate); len(errs) > 0 {
		return ProgramSettings{}, errs, nil
	}

	if err := s.store.SaveOverrides(ctx, clinicID, o); err != nil {
		return ProgramSettings{}, nil, err
	}

	candidate.ClinicID = clinicID
	return candidate, nil, nil
}
