package commission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/models"
)

var (
	ErrEventNotFound = errors.New("commission event not found")
	ErrPlanNotFound  = errors.New("commission plan not found")
)

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *database.DB {
	return s.db
}

// --- plans and product rules ---

func (s *Store) CreatePlan(ctx context.Context, p *models.CommissionPlan) (*models.CommissionPlan, error) {
	err := s.db.Conn.QueryRowContext(ctx, `
		INSERT INTO commission_plans (clinic_id, name, bonus_type, percent_bps, flat_amount_cents, is_default)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_active, created_at
	`, p.ClinicID, p.Name, p.BonusType, p.PercentBps, p.FlatAmountCents, p.IsDefault).Scan(
		&p.ID, &p.IsActive, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commission plan: %w", err)
	}

	return p, nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (*models.CommissionPlan, error) {
	p := &models.CommissionPlan{}
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT id, clinic_id, name, bonus_type, percent_bps, flat_amount_cents, is_default, is_active, created_at
		FROM commission_plans
		WHERE id = $1
	`, id).Scan(&p.ID, &p.ClinicID, &p.Name, &p.BonusType, &p.PercentBps, &p.FlatAmountCents, &p.IsDefault, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get commission plan: %w", err)
	}

	return p, nil
}

// DefaultPlan returns the clinic's active default plan, or nil when the
// clinic has none.
func (s *Store) DefaultPlan(ctx context.Context, clinicID string) (*models.CommissionPlan, error) {
	p := &models.CommissionPlan{}
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT id, clinic_id, name, bonus_type, percent_bps, flat_amount_cents, is_default, is_active, created_at
		FROM commission_plans
		WHERE clinic_id = $1 AND is_default = TRUE AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`, clinicID).Scan(&p.ID, &p.ClinicID, &p.Name, &p.BonusType, &p.PercentBps, &p.FlatAmountCents, &p.IsDefault, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get default plan: %w", err)
	}

	return p, nil
}

func (s *Store) ListPlans(ctx context.Context, clinicID string) ([]models.CommissionPlan, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT id, clinic_id, name, bonus_type, percent_bps, flat_amount_cents, is_default, is_active, created_at
		FROM commission_plans
		WHERE clinic_id = $1
		ORDER BY created_at
	`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission plans: %w", err)
	}
	defer rows.Close()

	var plans []models.CommissionPlan
	for rows.Next() {
		var p models.CommissionPlan
		if err := rows.Scan(&p.ID, &p.ClinicID, &p.Name, &p.BonusType, &p.PercentBps, &p.FlatAmountCents, &p.IsDefault, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan commission plan: %w", err)
		}
		plans = append(plans, p)
	}

	return plans, rows.Err()
}

func (s *Store) CreateRule(ctx context.Context, r *models.ProductCommissionRule) (*models.ProductCommissionRule, error) {
	err := s.db.Conn.QueryRowContext(ctx, `
		INSERT INTO product_commission_rules (plan_id, product_id, product_bundle_id, bonus_type, percent_bps, flat_amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, r.PlanID, r.ProductID, r.ProductBundleID, r.BonusType, r.PercentBps, r.FlatAmountCents).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create product rule: %w", err)
	}

	return r, nil
}

func (s *Store) ListRules(ctx context.Context, planID string) ([]models.ProductCommissionRule, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT id, plan_id, product_id, product_bundle_id, bonus_type, percent_bps, flat_amount_cents, created_at
		FROM product_commission_rules
		WHERE plan_id = $1
		ORDER BY created_at
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list product rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ProductCommissionRule
	for rows.Next() {
		var r models.ProductCommissionRule
		if err := rows.Scan(&r.ID, &r.PlanID, &r.ProductID, &r.ProductBundleID, &r.BonusType, &r.PercentBps, &r.FlatAmountCents, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product rule: %w", err)
		}
		rules = append(rules, r)
	}

	return rules, rows.Err()
}

// --- commission events ---

const eventColumns = `id, clinic_id, affiliate_id, ref_code_id, touch_id, source_event_id,
	status, order_amount_cents, commission_amount_cents, hold_until, risk_flagged,
	payout_id, reversal_of, approved_at, paid_at, reversed_at, created_at, updated_at`

func scanEvent(row interface{ Scan(...interface{}) error }) (*models.CommissionEvent, error) {
	e := &models.CommissionEvent{}
	err := row.Scan(
		&e.ID, &e.ClinicID, &e.AffiliateID, &e.RefCodeID, &e.TouchID, &e.SourceEventID,
		&e.Status, &e.OrderAmountCents, &e.CommissionAmountCents, &e.HoldUntil, &e.RiskFlagged,
		&e.PayoutID, &e.ReversalOf, &e.ApprovedAt, &e.PaidAt, &e.ReversedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.CommissionEvent, error) {
	row := s.db.Conn.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM commission_events WHERE id = $1`, id)

	e, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get commission event: %w", err)
	}

	return e, nil
}

func (s *Store) ListByAffiliate(ctx context.Context, affiliateID, status string, limit, offset int) ([]models.CommissionEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + eventColumns + ` FROM commission_events WHERE affiliate_id = $1`
	args := []interface{}{affiliateID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission events: %w", err)
	}
	defer rows.Close()

	var events []models.CommissionEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission event: %w", err)
		}
		events = append(events, *e)
	}

	return events, rows.Err()
}

// EarningsSummary aggregates an affiliate's ledger by status. Available is
// the APPROVED balance not yet claimed by a payout; processing is the amount
// linked to a payout still in flight on the rail.
type EarningsSummary struct {
	AffiliateID     string `json:"affiliate_id"`
	PendingCents    int64  `json:"pending_balance_cents"`
	AvailableCents  int64  `json:"available_balance_cents"`
	ProcessingCents int64  `json:"processing_payout_cents"`
	PaidCents       int64  `json:"paid_cents"`
	ReversedCents   int64  `json:"reversed_cents"`
	LifetimeCents   int64  `json:"lifetime_earnings_cents"`
	EventCount      int64  `json:"event_count"`
}

func (s *Store) Earnings(ctx context.Context, affiliateID string) (*EarningsSummary, error) {
	sum := &EarningsSummary{AffiliateID: affiliateID}

	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'PENDING'), 0),
			COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'APPROVED' AND e.payout_id IS NULL), 0),
			COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE p.status = 'PROCESSING'), 0),
			COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'PAID'), 0),
			COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status = 'REVERSED'), 0),
			COALESCE(SUM(e.commission_amount_cents) FILTER (WHERE e.status <> 'REVERSED'), 0),
			COUNT(*)
		FROM commission_events e
		LEFT JOIN payouts p ON p.id = e.payout_id
		WHERE e.affiliate_id = $1
	`, affiliateID).Scan(
		&sum.PendingCents, &sum.AvailableCents, &sum.ProcessingCents, &sum.PaidCents,
		&sum.ReversedCents, &sum.LifetimeCents, &sum.EventCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize earnings: %w", err)
	}

	return sum, nil
}

// SumConversionsByAffiliate aggregates conversion counts and revenue per
// affiliate over a period, for competition metrics. Reversal adjustments are
// excluded so clawed-back orders do not inflate standings.
type ConversionAggregate struct {
	AffiliateID  string
	Conversions  int64
	RevenueCents int64
	NewCustomers int64
}

func (s *Store) AggregateByAffiliate(ctx context.Context, clinicID string, from, to time.Time) (map[string]ConversionAggregate, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT e.affiliate_id,
		       COUNT(*),
		       COALESCE(SUM(e.order_amount_cents), 0),
		       COUNT(DISTINCT t.patient_id) FILTER (WHERE t.patient_id IS NOT NULL)
		FROM commission_events e
		LEFT JOIN touches t ON t.id = e.touch_id
		WHERE e.clinic_id = $1
		  AND e.created_at >= $2 AND e.created_at < $3
		  AND e.status <> 'REVERSED'
		  AND e.reversal_of IS NULL
		GROUP BY e.affiliate_id
	`, clinicID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ConversionAggregate)
	for rows.Next() {
		var a ConversionAggregate
		if err := rows.Scan(&a.AffiliateID, &a.Conversions, &a.RevenueCents, &a.NewCustomers); err != nil {
			return nil, fmt.Errorf("failed to scan conversion aggregate: %w", err)
		}
		out[a.AffiliateID] = a
	}

	return out, rows.Err()
}
