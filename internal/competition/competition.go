// Package competition runs time-boxed affiliate contests and their
// leaderboards.
package competition

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/affiliate"
	"github.com/clinicware/affiliate-engine/internal/commission"
	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/events"
	"github.com/clinicware/affiliate-engine/internal/models"
	"github.com/clinicware/affiliate-engine/internal/touch"
)

var (
	ErrNotFound      = errors.New("competition not found")
	ErrInvalidMetric = errors.New("invalid competition metric")
	ErrInvalidDates  = errors.New("competition end date must be after start date")
)

var validMetrics = map[string]bool{
	models.MetricClicks:         true,
	models.MetricConversions:    true,
	models.MetricRevenue:        true,
	models.MetricConversionRate: true,
	models.MetricNewCustomers:   true,
}

// DeriveStatus computes the status a competition should have at now.
// CANCELLED is terminal; everything else follows the dates. This is the only
// place status is derived so the scheduler and reads can never disagree.
func DeriveStatus(c *models.Competition, now time.Time) string {
	if c.Status == models.CompetitionStatusCancelled {
		return models.CompetitionStatusCancelled
	}
	if now.Before(c.StartDate) {
		return models.CompetitionStatusScheduled
	}
	if now.Before(c.EndDate) {
		return models.CompetitionStatusActive
	}
	return models.CompetitionStatusCompleted
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const competitionColumns = `id, clinic_id, name, metric, status, start_date, end_date, auto_enroll, created_at, updated_at`

func scanCompetition(row interface{ Scan(...interface{}) error }) (*models.Competition, error) {
	c := &models.Competition{}
	err := row.Scan(&c.ID, &c.ClinicID, &c.Name, &c.Metric, &c.Status, &c.StartDate, &c.EndDate, &c.AutoEnroll, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) Create(ctx context.Context, c *models.Competition) (*models.Competition, error) {
	if !validMetrics[c.Metric] {
		return nil, ErrInvalidMetric
	}
	if !c.EndDate.After(c.StartDate) {
		return nil, ErrInvalidDates
	}

	c.Status = DeriveStatus(&models.Competition{StartDate: c.StartDate, EndDate: c.EndDate}, time.Now())

	row := s.db.Conn.QueryRowContext(ctx, `
		INSERT INTO competitions (clinic_id, name, metric, status, start_date, end_date, auto_enroll)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+competitionColumns+`
	`, c.ClinicID, c.Name, c.Metric, c.Status, c.StartDate, c.EndDate, c.AutoEnroll)

	created, err := scanCompetition(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create competition: %w", err)
	}

	return created, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.Competition, error) {
	row := s.db.Conn.QueryRowContext(ctx, `SELECT `+competitionColumns+` FROM competitions WHERE id = $1`, id)

	c, err := scanCompetition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get competition: %w", err)
	}

	// Reads never show a stale stored status between scheduler ticks.
	c.Status = DeriveStatus(c, time.Now())
	return c, nil
}

func (s *Store) ListByClinic(ctx context.Context, clinicID string) ([]models.Competition, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT `+competitionColumns+` FROM competitions
		WHERE clinic_id = $1
		ORDER BY start_date DESC
	`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitions: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []models.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan competition: %w", err)
		}
		c.Status = DeriveStatus(c, now)
		out = append(out, *c)
	}

	return out, rows.Err()
}

// listOpen returns competitions that may still need status or standings
// work: everything not yet COMPLETED or CANCELLED, plus recently completed
// ones whose final ranking may be stale.
func (s *Store) listOpen(ctx context.Context) ([]models.Competition, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT `+competitionColumns+` FROM competitions
		WHERE status IN ($1, $2)
	`, models.CompetitionStatusScheduled, models.CompetitionStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list open competitions: %w", err)
	}
	defer rows.Close()

	var out []models.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan competition: %w", err)
		}
		out = append(out, *c)
	}

	return out, rows.Err()
}

func (s *Store) Cancel(ctx context.Context, id string) (*models.Competition, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		UPDATE competitions SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status <> $3
		RETURNING `+competitionColumns+`
	`, id, models.CompetitionStatusCancelled, models.CompetitionStatusCompleted)

	c, err := scanCompetition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to cancel competition: %w", err)
	}

	return c, nil
}

func (s *Store) setStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		UPDATE competitions SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update competition status: %w", err)
	}
	return nil
}

// Enroll adds an affiliate with a zero score. Re-enrolling is a no-op.
func (s *Store) Enroll(ctx context.Context, competitionID, affiliateID string) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO competition_entries (competition_id, affiliate_id)
		VALUES ($1, $2)
		ON CONFLICT (competition_id, affiliate_id) DO NOTHING
	`, competitionID, affiliateID)
	if err != nil {
		return fmt.Errorf("failed to enroll affiliate: %w", err)
	}
	return nil
}

func (s *Store) entries(ctx context.Context, competitionID string) ([]models.CompetitionEntry, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT id, competition_id, affiliate_id, current_value, rank, created_at, updated_at
		FROM competition_entries
		WHERE competition_id = $1
	`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []models.CompetitionEntry
	for rows.Next() {
		var e models.CompetitionEntry
		if err := rows.Scan(&e.ID, &e.CompetitionID, &e.AffiliateID, &e.CurrentValue, &e.Rank, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

func (s *Store) saveEntry(ctx context.Context, e models.CompetitionEntry) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		UPDATE competition_entries
		SET current_value = $2, rank = $3, updated_at = NOW()
		WHERE id = $1
	`, e.ID, e.CurrentValue, e.Rank)
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// RankEntries orders entries by value descending, earlier enrollment
// breaking ties, and assigns 1-based ranks in place.
func RankEntries(entries []models.CompetitionEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CurrentValue != entries[j].CurrentValue {
			return entries[i].CurrentValue > entries[j].CurrentValue
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// Service recomputes standings on a schedule.
type Service struct {
	db          *database.DB
	store       *Store
	affiliates  *affiliate.Store
	commissions *commission.Store
	touches     *touch.Store
	publisher   *events.Publisher
	logger      *zap.SugaredLogger
}

func NewService(
	db *database.DB,
	store *Store,
	affiliates *affiliate.Store,
	commissions *commission.Store,
	touches *touch.Store,
	publisher *events.Publisher,
	logger *zap.SugaredLogger,
) *Service {
	return &Service{
		db:          db,
		store:       store,
		affiliates:  affiliates,
		commissions: commissions,
		touches:     touches,
		publisher:   publisher,
		logger:      logger,
	}
}

// RecomputeSummary reports one recompute pass.
type RecomputeSummary struct {
	Skipped    bool `json:"skipped"`
	Examined   int  `json:"examined"`
	Recomputed int  `json:"recomputed"`
	Closed     int  `json:"closed"`
}

// RecomputeAll refreshes statuses and standings for every open competition.
// Guarded by an advisory lock so overlapping scheduler ticks do not fight
// over the same rankings.
func (s *Service) RecomputeAll(ctx context.Context, now time.Time) (*RecomputeSummary, error) {
	lock, err := s.db.AcquireLock(ctx, database.LockKeyCompetitions)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		s.logger.Infow("competition recompute already running elsewhere, skipping")
		return &RecomputeSummary{Skipped: true}, nil
	}
	defer lock.Release(ctx)

	open, err := s.store.listOpen(ctx)
	if err != nil {
		return nil, err
	}

	summary := &RecomputeSummary{Examined: len(open)}

	for i := range open {
		c := &open[i]
		derived := DeriveStatus(c, now)

		if derived == models.CompetitionStatusScheduled {
			continue
		}

		if err := s.recomputeOne(ctx, c, now); err != nil {
			s.logger.Errorw("failed to recompute competition", "competition_id", c.ID, "error", err)
			continue
		}
		summary.Recomputed++

		if derived != c.Status {
			if err := s.store.setStatus(ctx, c.ID, derived); err != nil {
				s.logger.Errorw("failed to transition competition", "competition_id", c.ID, "error", err)
				continue
			}
			if derived == models.CompetitionStatusCompleted {
				summary.Closed++
				s.publisher.PublishAsync(events.TypeCompetition, events.CompetitionClosed, events.CompetitionEventData{
					CompetitionID: c.ID,
					ClinicID:      c.ClinicID,
					Status:        derived,
				})
			}
		}
	}

	return summary, nil
}

// recomputeOne refreshes one competition's entries from source data and
// persists the new ranking.
func (s *Service) recomputeOne(ctx context.Context, c *models.Competition, now time.Time) error {
	if c.AutoEnroll {
		ids, err := s.affiliates.ListActiveIDs(ctx, c.ClinicID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := s.store.Enroll(ctx, c.ID, id); err != nil {
				return err
			}
		}
	}

	entries, err := s.store.entries(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	end := c.EndDate
	if now.Before(end) {
		end = now
	}

	aggregates, err := s.commissions.AggregateByAffiliate(ctx, c.ClinicID, c.StartDate, end)
	if err != nil {
		return err
	}

	for i := range entries {
		value, err := s.metricValue(ctx, c, entries[i].AffiliateID, aggregates, end)
		if err != nil {
			return err
		}
		entries[i].CurrentValue = value
	}

	RankEntries(entries)

	for _, e := range entries {
		if err := s.store.saveEntry(ctx, e); err != nil {
			return err
		}
	}

	s.publisher.PublishCompetitionRanked(events.CompetitionEventData{
		CompetitionID: c.ID,
		ClinicID:      c.ClinicID,
		Status:        c.Status,
		Entries:       len(entries),
	})

	return nil
}

// metricValue computes one affiliate's standing value. CONVERSION_RATE is
// stored in basis points so it stays an integer like every other metric.
func (s *Service) metricValue(ctx context.Context, c *models.Competition, affiliateID string, aggregates map[string]commission.ConversionAggregate, end time.Time) (int64, error) {
	agg := aggregates[affiliateID]

	switch c.Metric {
	case models.MetricClicks:
		return s.touches.CountByAffiliate(ctx, affiliateID, c.StartDate, end)
	case models.MetricConversions:
		return agg.Conversions, nil
	case models.MetricRevenue:
		return agg.RevenueCents, nil
	case models.MetricNewCustomers:
		return agg.NewCustomers, nil
	case models.MetricConversionRate:
		clicks, err := s.touches.CountByAffiliate(ctx, affiliateID, c.StartDate, end)
		if err != nil {
			return 0, err
		}
		if clicks == 0 {
			return 0, nil
		}
		return agg.Conversions * 10000 / clicks, nil
	default:
		return 0, ErrInvalidMetric
	}
}
