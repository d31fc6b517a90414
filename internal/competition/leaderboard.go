package competition

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/clinicware/affiliate-engine/internal/models"
)

// LeaderboardRow is one affiliate's standing as shown on the dashboard.
type LeaderboardRow struct {
	Rank           int     `json:"rank"`
	AffiliateID    string  `json:"affiliate_id"`
	DisplayName    string  `json:"display_name"`
	Value          int64   `json:"value"`
	FormattedValue string  `json:"formatted_value"`
	PercentOfTotal float64 `json:"percent_of_total"`
}

// Leaderboard is the full standings payload.
type Leaderboard struct {
	Competition *models.Competition `json:"competition"`
	Rows        []LeaderboardRow    `json:"rows"`
	TotalValue  int64               `json:"total_value"`
}

// FormatValue renders a metric value for display. Revenue is cents, rate is
// basis points; counts pass through.
func FormatValue(metric string, value int64) string {
	switch metric {
	case models.MetricRevenue:
		return fmt.Sprintf("$%d.%02d", value/100, value%100)
	case models.MetricConversionRate:
		return fmt.Sprintf("%d.%02d%%", value/100, value%100)
	default:
		return fmt.Sprintf("%d", value)
	}
}

// GetLeaderboard returns persisted standings in rank order with display
// names and share-of-total.
func (s *Store) GetLeaderboard(ctx context.Context, competitionID string) (*Leaderboard, error) {
	c, err := s.GetByID(ctx, competitionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT e.rank, e.affiliate_id, a.display_name, e.current_value
		FROM competition_entries e
		JOIN affiliates a ON a.id = e.affiliate_id
		WHERE e.competition_id = $1
		ORDER BY e.rank
	`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	defer rows.Close()

	board := &Leaderboard{Competition: c}
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.Rank, &r.AffiliateID, &r.DisplayName, &r.Value); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		r.FormattedValue = FormatValue(c.Metric, r.Value)
		board.Rows = append(board.Rows, r)
		if r.Value > 0 {
			board.TotalValue += r.Value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	applyPercentOfTotal(board.Rows, board.TotalValue)

	return board, nil
}

// applyPercentOfTotal fills in each row's share of the field total. Negative
// values (clawback-heavy affiliates) get no share rather than a negative one.
func applyPercentOfTotal(rows []LeaderboardRow, total int64) {
	if total <= 0 {
		return
	}
	for i := range rows {
		if rows[i].Value > 0 {
			rows[i].PercentOfTotal = float64(rows[i].Value) / float64(total) * 100
		}
	}
}

type adHocRow struct {
	affiliateID  string
	displayName  string
	enrolledAt   time.Time
	clicks       int64
	conversions  int64
	revenueCents int64
	newCustomers int64
}

// AdHocLeaderboard ranks a clinic's active affiliates over a rolling window,
// independent of any competition. Ranking rules match persisted competitions:
// value descending, earlier signup breaking ties. Percent-of-total covers the
// whole field even when the result is truncated to limit.
func (s *Store) AdHocLeaderboard(ctx context.Context, clinicID, metric string, from, to time.Time, limit int) (*Leaderboard, error) {
	if !validMetrics[metric] {
		return nil, ErrInvalidMetric
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT a.id, a.display_name, a.created_at,
		       COALESCE(t.clicks, 0),
		       COALESCE(e.conversions, 0),
		       COALESCE(e.revenue_cents, 0),
		       COALESCE(e.new_customers, 0)
		FROM affiliates a
		LEFT JOIN (
			SELECT affiliate_id, COUNT(*) AS clicks
			FROM touches
			WHERE clinic_id = $1 AND created_at >= $2 AND created_at < $3
			GROUP BY affiliate_id
		) t ON t.affiliate_id = a.id
		LEFT JOIN (
			SELECT e.affiliate_id,
			       COUNT(*) AS conversions,
			       SUM(e.order_amount_cents) AS revenue_cents,
			       COUNT(DISTINCT tt.patient_id) FILTER (WHERE tt.patient_id IS NOT NULL) AS new_customers
			FROM commission_events e
			LEFT JOIN touches tt ON tt.id = e.touch_id
			WHERE e.clinic_id = $1
			  AND e.created_at >= $2 AND e.created_at < $3
			  AND e.status <> 'REVERSED'
			  AND e.reversal_of IS NULL
			GROUP BY e.affiliate_id
		) e ON e.affiliate_id = a.id
		WHERE a.clinic_id = $1 AND a.status = $4
	`, clinicID, from, to, models.AffiliateStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard aggregates: %w", err)
	}
	defer rows.Close()

	var raw []adHocRow
	for rows.Next() {
		var r adHocRow
		if err := rows.Scan(&r.affiliateID, &r.displayName, &r.enrolledAt, &r.clicks, &r.conversions, &r.revenueCents, &r.newCustomers); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard aggregate: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard aggregates: %w", err)
	}

	board := &Leaderboard{}
	for _, r := range raw {
		board.Rows = append(board.Rows, LeaderboardRow{
			AffiliateID: r.affiliateID,
			DisplayName: r.displayName,
			Value:       adHocValue(metric, r),
		})
		if v := board.Rows[len(board.Rows)-1].Value; v > 0 {
			board.TotalValue += v
		}
	}

	enrolled := make(map[string]time.Time, len(raw))
	for _, r := range raw {
		enrolled[r.affiliateID] = r.enrolledAt
	}
	sort.SliceStable(board.Rows, func(i, j int) bool {
		if board.Rows[i].Value != board.Rows[j].Value {
			return board.Rows[i].Value > board.Rows[j].Value
		}
		return enrolled[board.Rows[i].AffiliateID].Before(enrolled[board.Rows[j].AffiliateID])
	})

	for i := range board.Rows {
		board.Rows[i].Rank = i + 1
		board.Rows[i].FormattedValue = FormatValue(metric, board.Rows[i].Value)
	}
	applyPercentOfTotal(board.Rows, board.TotalValue)
	if len(board.Rows) > limit {
		board.Rows = board.Rows[:limit]
	}

	return board, nil
}

func adHocValue(metric string, r adHocRow) int64 {
	switch metric {
	case models.MetricClicks:
		return r.clicks
	case models.MetricConversions:
		return r.conversions
	case models.MetricRevenue:
		return r.revenueCents
	case models.MetricNewCustomers:
		return r.newCustomers
	case models.MetricConversionRate:
		if r.clicks == 0 {
			return 0
		}
		return r.conversions * 10000 / r.clicks
	default:
		return 0
	}
}
