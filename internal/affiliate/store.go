// Package affiliate persists program participants and their lifetime
// earnings counters.
package affiliate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/models"
)

var ErrNotFound = errors.New("affiliate not found")

var validStatuses = map[string]bool{
	models.AffiliateStatusActive:    true,
	models.AffiliateStatusPaused:    true,
	models.AffiliateStatusSuspended: true,
	models.AffiliateStatusInactive:  true,
}

// ErrInvalidStatus signals an unknown lifecycle status value.
var ErrInvalidStatus = errors.New("invalid affiliate status")

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const affiliateColumns = `id, clinic_id, user_id, display_name, status, plan_id,
	lifetime_revenue_cents, lifetime_commission_cents, lifetime_paid_cents,
	created_at, updated_at`

func scanAffiliate(row interface{ Scan(...interface{}) error }) (*models.Affiliate, error) {
	a := &models.Affiliate{}
	var planID sql.NullString

	err := row.Scan(
		&a.ID, &a.ClinicID, &a.UserID, &a.DisplayName, &a.Status, &planID,
		&a.LifetimeRevenueCents, &a.LifetimeCommissionCents, &a.LifetimePaidCents,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if planID.Valid {
		a.PlanID = planID.String
	}

	return a, nil
}

func (s *Store) Create(ctx context.Context, clinicID, userID, displayName string, planID *string) (*models.Affiliate, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		INSERT INTO affiliates (clinic_id, user_id, display_name, plan_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+affiliateColumns+`
	`, clinicID, userID, displayName, planID)

	a, err := scanAffiliate(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create affiliate: %w", err)
	}

	return a, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Affiliate, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT `+affiliateColumns+` FROM affiliates WHERE id = $1
	`, id)

	a, err := scanAffiliate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}

	return a, nil
}

func (s *Store) ListByClinic(ctx context.Context, clinicID string, status string, limit, offset int) ([]models.Affiliate, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + affiliateColumns + ` FROM affiliates WHERE clinic_id = $1`
	args := []interface{}{clinicID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list affiliates: %w", err)
	}
	defer rows.Close()

	var affiliates []models.Affiliate
	for rows.Next() {
		a, err := scanAffiliate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan affiliate: %w", err)
		}
		affiliates = append(affiliates, *a)
	}

	return affiliates, rows.Err()
}

// ListActiveIDs returns ids of all ACTIVE affiliates in a clinic, for
// competition auto-enrollment.
func (s *Store) ListActiveIDs(ctx context.Context, clinicID string) ([]string, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT id FROM affiliates WHERE clinic_id = $1 AND status = $2
	`, clinicID, models.AffiliateStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active affiliates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan affiliate id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id, status string) (*models.Affiliate, error) {
	if !validStatuses[status] {
		return nil, ErrInvalidStatus
	}

	row := s.db.Conn.QueryRowContext(ctx, `
		UPDATE affiliates SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+affiliateColumns+`
	`, id, status)

	a, err := scanAffiliate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update affiliate status: %w", err)
	}

	return a, nil
}

func (s *Store) UpdatePlan(ctx context.Context, id string, planID *string) error {
	result, err := s.db.Conn.ExecContext(ctx, `
		UPDATE affiliates SET plan_id = $2, updated_at = NOW() WHERE id = $1
	`, id, planID)
	if err != nil {
		return fmt.Errorf("failed to update affiliate plan: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// AddLifetimeTx bumps the lifetime counters inside the caller's transaction.
// Deltas may be negative for reversals.
func AddLifetimeTx(ctx context.Context, tx *sql.Tx, id string, revenueDelta, commissionDelta, paidDelta int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE affiliates
		SET lifetime_revenue_cents = lifetime_revenue_cents + $2,
		    lifetime_commission_cents = lifetime_commission_cents + $3,
		    lifetime_paid_cents = lifetime_paid_cents + $4,
		    updated_at = NOW()
		WHERE id = $1
	`, id, revenueDelta, commissionDelta, paidDelta)
	if err != nil {
		return fmt.Errorf("failed to update lifetime counters: %w", err)
	}

	return nil
}
