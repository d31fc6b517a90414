package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/affiliate"
	"github.com/clinicware/affiliate-engine/internal/attribution"
	"github.com/clinicware/affiliate-engine/internal/cache"
	"github.com/clinicware/affiliate-engine/internal/events"
	"github.com/clinicware/affiliate-engine/internal/fraud"
	"github.com/clinicware/affiliate-engine/internal/metrics"
	"github.com/clinicware/affiliate-engine/internal/models"
	"github.com/clinicware/affiliate-engine/internal/settings"
	"github.com/clinicware/affiliate-engine/internal/touch"
)

// Conversion is one billing event reported by the platform: a patient paid
// for something.
type Conversion struct {
	ClinicID           string
	SourceEventID      string
	PatientID          *string
	OrderAmountCents   int64
	ProductID          string
	ProductBundleID    string
	IsFirstPayment     bool
	VisitorFingerprint string
	CookieID           *string
	IPAddress          string
	OccurredAt         time.Time
}

// Conversion outcomes.
const (
	ResultCredited  = "CREDITED"
	ResultDuplicate = "DUPLICATE"
	ResultOrganic   = "ORGANIC"
	ResultBlocked   = "BLOCKED"
)

// Result reports what the engine did with a conversion.
type Result struct {
	Status   string                   `json:"status"`
	Events   []models.CommissionEvent `json:"events,omitempty"`
	Decision fraud.Decision           `json:"decision"`
}

// Engine ties attribution, fraud screening and the ledger together.
type Engine struct {
	store      *Store
	touches    *touch.Store
	affiliates *affiliate.Store
	settings   *settings.Service
	screener   *fraud.Screener
	cache      *cache.Client
	publisher  *events.Publisher
	logger     *zap.SugaredLogger
}

func NewEngine(
	store *Store,
	touches *touch.Store,
	affiliates *affiliate.Store,
	settingsSvc *settings.Service,
	screener *fraud.Screener,
	cacheClient *cache.Client,
	publisher *events.Publisher,
	logger *zap.SugaredLogger,
) *Engine {
	return &Engine{
		store:      store,
		touches:    touches,
		affiliates: affiliates,
		settings:   settingsSvc,
		screener:   screener,
		cache:      cacheClient,
		publisher:  publisher,
		logger:     logger,
	}
}

func replayKey(clinicID, sourceEventID string) string {
	return fmt.Sprintf("conv:seen:%s:%s", clinicID, sourceEventID)
}

// eventSourceID derives the ledger key for the i-th credited touch of a
// billing event. The ordinal is always appended, so the first event of any
// delivery lands on the same key no matter how many touches were credited:
// a redelivery that sees a different touch set still collides on #0 and
// comes back as a duplicate.
func eventSourceID(sourceEventID string, i int) string {
	return fmt.Sprintf("%s#%d", sourceEventID, i)
}

// ProcessConversion runs one billing event through the full pipeline. It is
// idempotent on (clinic, source event): replays come back as DUPLICATE with
// no ledger change. The database unique index is the authority; the replay
// cache only saves a round trip on hot retries.
func (e *Engine) ProcessConversion(ctx context.Context, conv Conversion) (*Result, error) {
	cfg, err := e.settings.ForClinic(ctx, conv.ClinicID)
	if err != nil {
		return nil, err
	}

	var seen bool
	if err := e.cache.Get(ctx, replayKey(conv.ClinicID, conv.SourceEventID), &seen); err == nil && seen {
		metrics.Conversions.WithLabelValues("duplicate").Inc()
		return &Result{Status: ResultDuplicate}, nil
	}

	if conv.OccurredAt.IsZero() {
		conv.OccurredAt = time.Now()
	}
	windowStart := conv.OccurredAt.AddDate(0, 0, -cfg.CookieWindowDays)

	touches, err := e.touches.ByVisitor(ctx, conv.ClinicID, conv.VisitorFingerprint, conv.CookieID, windowStart)
	if err != nil {
		return nil, err
	}
	if len(touches) == 0 {
		metrics.Conversions.WithLabelValues("organic").Inc()
		return &Result{Status: ResultOrganic}, nil
	}

	model := cfg.ReturningPatientModel
	if conv.IsFirstPayment {
		model = cfg.NewPatientModel
	}

	credits, err := attribution.Select(model, touches)
	if err != nil {
		if errors.Is(err, attribution.ErrNoTouches) {
			metrics.Conversions.WithLabelValues("organic").Inc()
			return &Result{Status: ResultOrganic}, nil
		}
		return nil, err
	}

	// The converting click's affiliate is the one screened: velocity abuse
	// shows up on whoever drove the conversion.
	primary := credits[len(credits)-1].Touch
	var ipHash string
	if primary.IPAddressHash != nil {
		ipHash = *primary.IPAddressHash
	}
	decision := e.screener.Evaluate(ctx, cfg, primary.AffiliateID, conv.IPAddress, ipHash)
	if !decision.Allowed() {
		metrics.Conversions.WithLabelValues("blocked").Inc()
		e.logger.Infow("conversion blocked",
			"clinic_id", conv.ClinicID,
			"source_event_id", conv.SourceEventID,
			"affiliate_id", primary.AffiliateID,
			"reasons", decision.Reasons,
		)
		return &Result{Status: ResultBlocked, Decision: decision}, nil
	}

	rate, err := e.resolveRate(ctx, cfg, primary.AffiliateID, conv.ProductID, conv.ProductBundleID)
	if err != nil {
		return nil, err
	}

	totalCommission := ComputeAmount(rate, conv.OrderAmountCents)
	commissionShares := SplitLinear(totalCommission, len(credits))
	orderShares := SplitLinear(conv.OrderAmountCents, len(credits))

	riskFlagged := decision.Hold()
	holdUntil := cfg.HoldUntil(conv.OccurredAt, riskFlagged)

	created, err := e.insertEvents(ctx, conv, credits, commissionShares, orderShares, holdUntil, riskFlagged)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			metrics.Conversions.WithLabelValues("duplicate").Inc()
			return &Result{Status: ResultDuplicate}, nil
		}
		return nil, err
	}

	if err := e.cache.Set(ctx, replayKey(conv.ClinicID, conv.SourceEventID), true, 48*time.Hour); err != nil {
		e.logger.Warnw("failed to cache replay key", "source_event_id", conv.SourceEventID, "error", err)
	}

	metrics.Conversions.WithLabelValues("credited").Inc()
	metrics.CommissionCents.Add(float64(totalCommission))

	for _, ev := range created {
		data := events.CommissionEventData{
			EventID:               ev.ID,
			ClinicID:              ev.ClinicID,
			AffiliateID:           ev.AffiliateID,
			Status:                ev.Status,
			CommissionAmountCents: ev.CommissionAmountCents,
			OrderAmountCents:      ev.OrderAmountCents,
			RiskFlagged:           ev.RiskFlagged,
		}
		if riskFlagged {
			e.publisher.PublishCommissionHeld(data)
		} else {
			e.publisher.PublishCommissionCredited(data)
		}
	}

	e.logger.Infow("conversion credited",
		"clinic_id", conv.ClinicID,
		"source_event_id", conv.SourceEventID,
		"model", model,
		"events", len(created),
		"commission_cents", totalCommission,
		"rate_source", rate.Source,
		"risk_flagged", riskFlagged,
	)

	return &Result{Status: ResultCredited, Events: created, Decision: decision}, nil
}

// resolveRate loads the affiliate's plan and product rules and picks the
// applicable rate. For linear splits across several affiliates the
// converting click's plan governs the whole conversion.
func (e *Engine) resolveRate(ctx context.Context, cfg settings.ProgramSettings, affiliateID, productID, bundleID string) (Rate, error) {
	aff, err := e.affiliates.GetByID(ctx, affiliateID)
	if err != nil {
		return Rate{}, err
	}

	var plan *models.CommissionPlan
	var rules []models.ProductCommissionRule

	if aff.PlanID != "" {
		plan, err = e.store.GetPlan(ctx, aff.PlanID)
		if err != nil && !errors.Is(err, ErrPlanNotFound) {
			return Rate{}, err
		}
	}
	if plan == nil {
		plan, err = e.store.DefaultPlan(ctx, cfg.ClinicID)
		if err != nil {
			return Rate{}, err
		}
	}
	if plan != nil {
		rules, err = e.store.ListRules(ctx, plan.ID)
		if err != nil {
			return Rate{}, err
		}
	}

	return ResolveRate(plan, rules, productID, bundleID, cfg.DefaultPercentBps), nil
}

// insertEvents writes the ledger entries, lifetime counters and touch
// conversion stamps in one transaction.
func (e *Engine) insertEvents(
	ctx context.Context,
	conv Conversion,
	credits []attribution.Credit,
	commissionShares, orderShares []int64,
	holdUntil time.Time,
	riskFlagged bool,
) ([]models.CommissionEvent, error) {
	tx, err := e.store.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	created := make([]models.CommissionEvent, 0, len(credits))
	touchIDs := make([]string, 0, len(credits))

	for i, credit := range credits {
		sourceID := eventSourceID(conv.SourceEventID, i)

		row := tx.QueryRowContext(ctx, `
			INSERT INTO commission_events (
				clinic_id, affiliate_id, ref_code_id, touch_id, source_event_id,
				status, order_amount_cents, commission_amount_cents, hold_until, risk_flagged
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+eventColumns+`
		`,
			conv.ClinicID, credit.Touch.AffiliateID, credit.Touch.RefCodeID, credit.Touch.ID, sourceID,
			models.CommissionStatusPending, orderShares[i], commissionShares[i], holdUntil, riskFlagged,
		)

		ev, err := scanEvent(row)
		if err != nil {
			return nil, fmt.Errorf("failed to insert commission event: %w", err)
		}
		created = append(created, *ev)
		touchIDs = append(touchIDs, credit.Touch.ID)

		if err := affiliate.AddLifetimeTx(ctx, tx, credit.Touch.AffiliateID, orderShares[i], commissionShares[i], 0); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE touches
		SET converted_at = $2, patient_id = COALESCE($3, patient_id)
		WHERE id = ANY($1) AND converted_at IS NULL
	`, pq.Array(touchIDs), conv.OccurredAt, conv.PatientID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark touches converted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversion: %w", err)
	}

	return created, nil
}

// ProcessRefund reverses every ledger entry created from a refunded billing
// event. Missing entries are fine: a refund for an organic order has nothing
// to reverse.
func (e *Engine) ProcessRefund(ctx context.Context, clinicID, sourceEventID string) ([]models.CommissionEvent, error) {
	cfg, err := e.settings.ForClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	originals, err := e.store.FindBySourceEvent(ctx, clinicID, sourceEventID)
	if err != nil {
		return nil, err
	}

	var reversed []models.CommissionEvent
	for _, ev := range originals {
		if ev.ReversalOf != nil {
			continue
		}

		out, err := e.store.Reverse(ctx, ev.ID, cfg.ClawbackEnabled)
		if err != nil {
			if errors.Is(err, ErrClawbackDisabled) {
				e.logger.Infow("skipping paid event, clawback disabled",
					"event_id", ev.ID, "clinic_id", clinicID)
				continue
			}
			return reversed, err
		}
		reversed = append(reversed, *out)

		e.publisher.PublishCommissionReversed(events.CommissionEventData{
			EventID:               out.ID,
			ClinicID:              out.ClinicID,
			AffiliateID:           out.AffiliateID,
			Status:                out.Status,
			CommissionAmountCents: out.CommissionAmountCents,
		})
	}

	return reversed, nil
}
