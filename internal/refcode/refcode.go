// Package refcode manages public referral codes and their resolution to
// affiliates.
package refcode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/models"
)

var (
	// ErrNotFound covers both unknown codes and codes that must not
	// resolve publicly. Callers on the public path answer with the same
	// not-valid shape either way so a probing client cannot distinguish
	// "never existed" from "suspended".
	ErrNotFound = errors.New("ref code not found")

	// ErrCodeTaken signals a (clinic, code) uniqueness conflict.
	ErrCodeTaken = errors.New("ref code already in use")

	// ErrInvalidCode signals a code that fails the format rules.
	ErrInvalidCode = errors.New("ref code must be 3-64 characters: letters, digits, hyphen, underscore")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,64}$`)

// Normalize uppercases and trims a raw code. Codes compare
// case-insensitively everywhere; the stored form keeps what the affiliate
// chose, normalization happens at lookup.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateCode checks the normalized format.
func ValidateCode(raw string) error {
	if !codePattern.MatchString(Normalize(raw)) {
		return ErrInvalidCode
	}
	return nil
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, clinicID, affiliateID, code string) (*models.RefCode, error) {
	if err := ValidateCode(code); err != nil {
		return nil, err
	}

	rc := &models.RefCode{}
	err := s.db.Conn.QueryRowContext(ctx, `
		INSERT INTO ref_codes (clinic_id, affiliate_id, code)
		VALUES ($1, $2, $3)
		RETURNING id, clinic_id, affiliate_id, code, is_active, created_at
	`, clinicID, affiliateID, code).Scan(
		&rc.ID, &rc.ClinicID, &rc.AffiliateID, &rc.Code, &rc.IsActive, &rc.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrCodeTaken
		}
		return nil, fmt.Errorf("failed to create ref code: %w", err)
	}

	return rc, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.RefCode, error) {
	rc := &models.RefCode{}
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT id, clinic_id, affiliate_id, code, is_active, created_at
		FROM ref_codes
		WHERE id = $1
	`, id).Scan(&rc.ID, &rc.ClinicID, &rc.AffiliateID, &rc.Code, &rc.IsActive, &rc.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ref code: %w", err)
	}

	return rc, nil
}

func (s *Store) ListByAffiliate(ctx context.Context, affiliateID string) ([]models.RefCode, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT id, clinic_id, affiliate_id, code, is_active, created_at
		FROM ref_codes
		WHERE affiliate_id = $1
		ORDER BY created_at
	`, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ref codes: %w", err)
	}
	defer rows.Close()

	var codes []models.RefCode
	for rows.Next() {
		var rc models.RefCode
		if err := rows.Scan(&rc.ID, &rc.ClinicID, &rc.AffiliateID, &rc.Code, &rc.IsActive, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ref code: %w", err)
		}
		codes = append(codes, rc)
	}

	return codes, rows.Err()
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.Conn.ExecContext(ctx, `
		UPDATE ref_codes SET is_active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update ref code: %w", err)
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

// Resolution is a resolved code together with its owning affiliate.
type Resolution struct {
	RefCode   *models.RefCode
	Affiliate *models.Affiliate
}

func (s *Store) resolve(ctx context.Context, clinicID, code string) (*Resolution, error) {
	rc := &models.RefCode{}
	a := &models.Affiliate{}
	var planID sql.NullString

	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT r.id, r.clinic_id, r.affiliate_id, r.code, r.is_active, r.created_at,
		       a.id, a.clinic_id, a.user_id, a.display_name, a.status, a.plan_id,
		       a.lifetime_revenue_cents, a.lifetime_commission_cents, a.lifetime_paid_cents,
		       a.created_at, a.updated_at
		FROM ref_codes r
		JOIN affiliates a ON a.id = r.affiliate_id
		WHERE r.clinic_id = $1 AND UPPER(r.code) = $2
	`, clinicID, Normalize(code)).Scan(
		&rc.ID, &rc.ClinicID, &rc.AffiliateID, &rc.Code, &rc.IsActive, &rc.CreatedAt,
		&a.ID, &a.ClinicID, &a.UserID, &a.DisplayName, &a.Status, &planID,
		&a.LifetimeRevenueCents, &a.LifetimeCommissionCents, &a.LifetimePaidCents,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve ref code: %w", err)
	}
	if planID.Valid {
		a.PlanID = planID.String
	}

	return &Resolution{RefCode: rc, Affiliate: a}, nil
}

// ResolvePublic resolves a code for the click-tracking path. It fails closed:
// an inactive code, or an affiliate in any non-ACTIVE status, resolves to
// ErrNotFound.
func (s *Store) ResolvePublic(ctx context.Context, clinicID, code string) (*Resolution, error) {
	res, err := s.resolve(ctx, clinicID, code)
	if err != nil {
		return nil, err
	}
	if !res.RefCode.IsActive || res.Affiliate.Status != models.AffiliateStatusActive {
		return nil, ErrNotFound
	}
	return res, nil
}

// ResolveInternal resolves a code regardless of code or affiliate status,
// for admin views and conversion processing of already-recorded touches.
func (s *Store) ResolveInternal(ctx context.Context, clinicID, code string) (*Resolution, error) {
	return s.resolve(ctx, clinicID, code)
}
