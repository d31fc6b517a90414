// Package payout batches approved commissions into settlement transfers.
package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/events"
	"github.com/clinicware/affiliate-engine/internal/metrics"
	"github.com/clinicware/affiliate-engine/internal/models"
	"github.com/clinicware/affiliate-engine/internal/payrail"
	"github.com/clinicware/affiliate-engine/internal/settings"
)

var ErrNotFound = errors.New("payout not found")

// PeriodKey names the settlement period containing now for a frequency.
// One live payout per affiliate per period key is enforced by the store.
func PeriodKey(frequency string, now time.Time) string {
	now = now.UTC()
	switch frequency {
	case models.PayoutFrequencyWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case models.PayoutFrequencyBiweekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-B%02d", year, (week+1)/2)
	default:
		return now.Format("2006-01")
	}
}

// ComputeFee applies the clinic's payout fee in basis points, rounding
// half-up like commission math.
func ComputeFee(grossCents int64, feeBps int) int64 {
	return (grossCents*int64(feeBps) + 5000) / 10000
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const payoutColumns = `id, clinic_id, affiliate_id, period_key, status,
	gross_amount_cents, fee_cents, net_amount_cents, event_count,
	COALESCE(payment_ref, ''), COALESCE(failure_reason, ''), created_at, completed_at`

func scanPayout(row interface{ Scan(...interface{}) error }) (*models.Payout, error) {
	p := &models.Payout{}
	err := row.Scan(
		&p.ID, &p.ClinicID, &p.AffiliateID, &p.PeriodKey, &p.Status,
		&p.GrossAmountCents, &p.FeeCents, &p.NetAmountCents, &p.EventCount,
		&p.PaymentRef, &p.FailureReason, &p.CreatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Payout, error) {
	row := s.db.Conn.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id)

	p, err := scanPayout(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}

	return p, nil
}

func (s *Store) ListByAffiliate(ctx context.Context, affiliateID string, limit, offset int) ([]models.Payout, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE affiliate_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, affiliateID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, *p)
	}

	return payouts, rows.Err()
}

// candidate is one affiliate with unlinked approved commissions.
type candidate struct {
	ClinicID    string
	AffiliateID string
	GrossCents  int64
	EventCount  int
}

func (s *Store) eligibleCandidates(ctx context.Context, limit int) ([]candidate, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT clinic_id, affiliate_id, SUM(commission_amount_cents), COUNT(*)
		FROM commission_events
		WHERE status = $1 AND payout_id IS NULL
		GROUP BY clinic_id, affiliate_id
		HAVING SUM(commission_amount_cents) > 0
		ORDER BY SUM(commission_amount_cents) DESC
		LIMIT $2
	`, models.CommissionStatusApproved, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find payout candidates: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.ClinicID, &c.AffiliateID, &c.GrossCents, &c.EventCount); err != nil {
			return nil, fmt.Errorf("failed to scan payout candidate: %w", err)
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

// Summary reports one batch run.
type Summary struct {
	Skipped    bool          `json:"skipped"`
	Candidates int           `json:"candidates"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	BelowMin   int           `json:"below_minimum"`
	NetCents   int64         `json:"net_cents"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Batcher drives the payout run.
type Batcher struct {
	db        *database.DB
	store     *Store
	settings  *settings.Service
	rail      *payrail.Client
	publisher *events.Publisher
	logger    *zap.SugaredLogger
	limit     int
}

func NewBatcher(
	db *database.DB,
	store *Store,
	settingsSvc *settings.Service,
	rail *payrail.Client,
	publisher *events.Publisher,
	logger *zap.SugaredLogger,
	limit int,
) *Batcher {
	if limit <= 0 {
		limit = 200
	}
	return &Batcher{
		db:        db,
		store:     store,
		settings:  settingsSvc,
		rail:      rail,
		publisher: publisher,
		logger:    logger,
		limit:     limit,
	}
}

// Run executes one payout batch. A second instance running concurrently
// skips cleanly via the advisory lock rather than double-paying.
func (b *Batcher) Run(ctx context.Context, now time.Time) (*Summary, error) {
	start := time.Now()

	lock, err := b.db.AcquireLock(ctx, database.LockKeyPayoutBatch)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		b.logger.Infow("payout batch already running elsewhere, skipping")
		return &Summary{Skipped: true}, nil
	}
	defer lock.Release(ctx)

	candidates, err := b.store.eligibleCandidates(ctx, b.limit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Candidates: len(candidates)}

	for _, c := range candidates {
		cfg, err := b.settings.ForClinic(ctx, c.ClinicID)
		if err != nil {
			b.logger.Errorw("failed to load settings for payout", "clinic_id", c.ClinicID, "error", err)
			continue
		}

		if c.GrossCents < cfg.MinimumPayoutCents {
			summary.BelowMin++
			continue
		}

		p, err := b.settle(ctx, c, cfg, now)
		if err != nil {
			b.logger.Errorw("payout failed",
				"clinic_id", c.ClinicID, "affiliate_id", c.AffiliateID, "error", err)
			summary.Failed++
			continue
		}
		if p == nil {
			continue
		}

		summary.Completed++
		summary.NetCents += p.NetAmountCents
	}

	summary.Elapsed = time.Since(start)
	b.logger.Infow("payout batch finished",
		"candidates", summary.Candidates,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"below_minimum", summary.BelowMin,
		"net_cents", summary.NetCents,
		"elapsed", summary.Elapsed,
	)

	return summary, nil
}

// settle creates and executes one payout. Returns (nil, nil) when the
// affiliate already has a live payout for the period.
func (b *Batcher) settle(ctx context.Context, c candidate, cfg settings.ProgramSettings, now time.Time) (*models.Payout, error) {
	periodKey := PeriodKey(cfg.PayoutFrequency, now)

	p, err := b.createAndLink(ctx, c, cfg, periodKey)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			b.logger.Debugw("payout already exists for period",
				"affiliate_id", c.AffiliateID, "period_key", periodKey)
			return nil, nil
		}
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	b.publisher.PublishPayoutStarted(events.PayoutEventData{
		PayoutID:       p.ID,
		ClinicID:       p.ClinicID,
		AffiliateID:    p.AffiliateID,
		PeriodKey:      p.PeriodKey,
		Status:         p.Status,
		NetAmountCents: p.NetAmountCents,
		EventCount:     p.EventCount,
	})

	resp, err := b.rail.Transfer(ctx, payrail.TransferRequest{
		IdempotencyKey: p.ID,
		ClinicID:       p.ClinicID,
		AffiliateID:    p.AffiliateID,
		AmountCents:    p.NetAmountCents,
		Currency:       "USD",
		Description:    "Affiliate payout " + p.PeriodKey,
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, payrail.ErrDeclined) && resp != nil {
			reason = resp.Reason
		}
		if failErr := b.markFailed(ctx, p.ID, reason); failErr != nil {
			return nil, failErr
		}
		metrics.Payouts.WithLabelValues(models.PayoutStatusFailed).Inc()
		b.publisher.PublishPayoutFailed(events.PayoutEventData{
			PayoutID:      p.ID,
			ClinicID:      p.ClinicID,
			AffiliateID:   p.AffiliateID,
			PeriodKey:     p.PeriodKey,
			Status:        models.PayoutStatusFailed,
			FailureReason: reason,
		})
		return nil, fmt.Errorf("transfer failed: %w", err)
	}

	if err := b.markCompleted(ctx, p, resp.PaymentRef); err != nil {
		return nil, err
	}

	metrics.Payouts.WithLabelValues(models.PayoutStatusCompleted).Inc()
	metrics.PayoutCents.Add(float64(p.NetAmountCents))
	b.publisher.PublishPayoutCompleted(events.PayoutEventData{
		PayoutID:       p.ID,
		ClinicID:       p.ClinicID,
		AffiliateID:    p.AffiliateID,
		PeriodKey:      p.PeriodKey,
		Status:         models.PayoutStatusCompleted,
		NetAmountCents: p.NetAmountCents,
		EventCount:     p.EventCount,
	})

	return p, nil
}

// createAndLink locks the affiliate's eligible events, inserts the payout
// row and stamps the events with its id, all in one transaction. The gross
// is recomputed from the locked rows, not trusted from the candidate scan.
func (b *Batcher) createAndLink(ctx context.Context, c candidate, cfg settings.ProgramSettings, periodKey string) (*models.Payout, error) {
	tx, err := b.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, commission_amount_cents
		FROM commission_events
		WHERE clinic_id = $1 AND affiliate_id = $2
		  AND status = $3 AND payout_id IS NULL
		FOR UPDATE SKIP LOCKED
	`, c.ClinicID, c.AffiliateID, models.CommissionStatusApproved)
	if err != nil {
		return nil, fmt.Errorf("failed to lock eligible events: %w", err)
	}

	var eventIDs []string
	var gross int64
	for rows.Next() {
		var id string
		var amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan eligible event: %w", err)
		}
		eventIDs = append(eventIDs, id)
		gross += amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read eligible events: %w", err)
	}

	if len(eventIDs) == 0 || gross < cfg.MinimumPayoutCents {
		return nil, nil
	}

	fee := ComputeFee(gross, cfg.PayoutFeeBps)
	net := gross - fee

	row := tx.QueryRowContext(ctx, `
		INSERT INTO payouts (clinic_id, affiliate_id, period_key, status, gross_amount_cents, fee_cents, net_amount_cents, event_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+payoutColumns+`
	`, c.ClinicID, c.AffiliateID, periodKey, models.PayoutStatusProcessing, gross, fee, net, len(eventIDs))

	p, err := scanPayout(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create payout: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE commission_events SET payout_id = $2, updated_at = NOW() WHERE id = ANY($1)
	`, pq.Array(eventIDs), p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to link events to payout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payout creation: %w", err)
	}

	return p, nil
}

// markCompleted finalizes a successful transfer: the payout completes and
// every linked event becomes PAID.
func (b *Batcher) markCompleted(ctx context.Context, p *models.Payout, paymentRef string) error {
	tx, err := b.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE payouts
		SET status = $2, payment_ref = $3, completed_at = NOW()
		WHERE id = $1
	`, p.ID, models.PayoutStatusCompleted, paymentRef)
	if err != nil {
		return fmt.Errorf("failed to complete payout: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE commission_events
		SET status = $2, paid_at = NOW(), updated_at = NOW()
		WHERE payout_id = $1
	`, p.ID, models.CommissionStatusPaid)
	if err != nil {
		return fmt.Errorf("failed to mark events paid: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE affiliates
		SET lifetime_paid_cents = lifetime_paid_cents + $2, updated_at = NOW()
		WHERE id = $1
	`, p.AffiliateID, p.GrossAmountCents)
	if err != nil {
		return fmt.Errorf("failed to update lifetime paid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payout completion: %w", err)
	}

	p.Status = models.PayoutStatusCompleted
	p.PaymentRef = paymentRef
	return nil
}

// markFailed records the rail's rejection and releases the linked events
// back to the eligible pool. The FAILED row stays for the audit trail and
// does not block a retry in the same period.
func (b *Batcher) markFailed(ctx context.Context, payoutID, reason string) error {
	tx, err := b.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE payouts SET status = $2, failure_reason = $3 WHERE id = $1
	`, payoutID, models.PayoutStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark payout failed: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE commission_events
		SET payout_id = NULL, updated_at = NOW()
		WHERE payout_id = $1
	`, payoutID)
	if err != nil {
		return fmt.Errorf("failed to unlink events from failed payout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payout failure: %w", err)
	}

	return nil
}
