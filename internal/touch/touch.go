// Package touch records visitor interactions with referral links and serves
// the attribution window queries over them.
package touch

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clinicware/affiliate-engine/internal/database"
	"github.com/clinicware/affiliate-engine/internal/models"
)

// HashIP returns the hex sha256 of a raw client IP. Raw addresses are never
// stored.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// Fingerprint derives a stable visitor fingerprint from the hashed IP and
// user agent, used when the client supplies no fingerprint of its own.
func Fingerprint(ipHash, userAgent string) string {
	sum := sha256.Sum256([]byte(ipHash + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

// Params carries everything captured at click time.
type Params struct {
	ClinicID           string
	AffiliateID        string
	RefCodeID          string
	VisitorFingerprint string
	IPAddressHash      *string
	CookieID           *string
	UserAgent          *string
	UTMSource          *string
	UTMMedium          *string
	UTMCampaign        *string
	UTMTerm            *string
	UTMContent         *string
	SubIDs             [5]*string
	LandingPage        *string
	Referrer           *string
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Record(ctx context.Context, p Params) (*models.Touch, error) {
	t := &models.Touch{}
	err := s.db.Conn.QueryRowContext(ctx, `
		INSERT INTO touches (
			clinic_id, affiliate_id, ref_code_id, visitor_fingerprint,
			ip_address_hash, cookie_id, user_agent,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content,
			sub_id1, sub_id2, sub_id3, sub_id4, sub_id5,
			landing_page, referrer
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at
	`,
		p.ClinicID, p.AffiliateID, p.RefCodeID, p.VisitorFingerprint,
		p.IPAddressHash, p.CookieID, p.UserAgent,
		p.UTMSource, p.UTMMedium, p.UTMCampaign, p.UTMTerm, p.UTMContent,
		p.SubIDs[0], p.SubIDs[1], p.SubIDs[2], p.SubIDs[3], p.SubIDs[4],
		p.LandingPage, p.Referrer,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record touch: %w", err)
	}

	t.ClinicID = p.ClinicID
	t.AffiliateID = p.AffiliateID
	t.RefCodeID = p.RefCodeID
	t.VisitorFingerprint = p.VisitorFingerprint
	t.IPAddressHash = p.IPAddressHash
	t.CookieID = p.CookieID
	return t, nil
}

const touchColumns = `id, clinic_id, affiliate_id, ref_code_id, visitor_fingerprint,
	ip_address_hash, cookie_id, user_agent,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content,
	sub_id1, sub_id2, sub_id3, sub_id4, sub_id5,
	landing_page, referrer, patient_id, converted_at, archived, created_at`

func scanTouch(rows *sql.Rows) (models.Touch, error) {
	var t models.Touch
	err := rows.Scan(
		&t.ID, &t.ClinicID, &t.AffiliateID, &t.RefCodeID, &t.VisitorFingerprint,
		&t.IPAddressHash, &t.CookieID, &t.UserAgent,
		&t.UTMSource, &t.UTMMedium, &t.UTMCampaign, &t.UTMTerm, &t.UTMContent,
		&t.SubID1, &t.SubID2, &t.SubID3, &t.SubID4, &t.SubID5,
		&t.LandingPage, &t.Referrer, &t.PatientID, &t.ConvertedAt, &t.Archived, &t.CreatedAt,
	)
	return t, err
}

// ByVisitor returns the visitor's touches inside the attribution window,
// oldest first. The visitor is matched by fingerprint or, when provided, by
// cookie id as well; anonymized and archived touches never match.
func (s *Store) ByVisitor(ctx context.Context, clinicID, fingerprint string, cookieID *string, since time.Time) ([]models.Touch, error) {
	query := `
		SELECT ` + touchColumns + `
		FROM touches
		WHERE clinic_id = $1
		  AND archived = FALSE
		  AND visitor_fingerprint <> $2
		  AND created_at >= $3
		  AND (visitor_fingerprint = $4`
	args := []interface{}{clinicID, models.AnonymizedFingerprint, since, fingerprint}

	if cookieID != nil && *cookieID != "" {
		query += ` OR cookie_id = $5`
		args = append(args, *cookieID)
	}
	query += `)
		ORDER BY created_at ASC`

	rows, err := s.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visitor touches: %w", err)
	}
	defer rows.Close()

	var touches []models.Touch
	for rows.Next() {
		t, err := scanTouch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan touch: %w", err)
		}
		touches = append(touches, t)
	}

	return touches, rows.Err()
}

// MarkConverted stamps the credited touches with the patient and conversion
// time. Already-converted touches keep their original stamp, so replays and
// multi-order patients never rewrite history.
func (s *Store) MarkConverted(ctx context.Context, touchIDs []string, patientID *string, at time.Time) error {
	if len(touchIDs) == 0 {
		return nil
	}

	_, err := s.db.Conn.ExecContext(ctx, `
		UPDATE touches
		SET converted_at = $2, patient_id = $3
		WHERE id = ANY($1) AND converted_at IS NULL
	`, pq.Array(touchIDs), at, patientID)
	if err != nil {
		return fmt.Errorf("failed to mark touches converted: %w", err)
	}

	return nil
}

// CountByAffiliate counts an affiliate's touches in a period, for the CLICKS
// competition metric.
func (s *Store) CountByAffiliate(ctx context.Context, affiliateID string, from, to time.Time) (int64, error) {
	var n int64
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM touches
		WHERE affiliate_id = $1 AND created_at >= $2 AND created_at < $3
	`, affiliateID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count touches: %w", err)
	}
	return n, nil
}

// AnonymizeBatch scrubs PII from up to limit touches older than cutoff.
// Attribution linkage (affiliate, ref code, converted_at) survives; only the
// visitor-identifying fields go.
func (s *Store) AnonymizeBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.db.Conn.ExecContext(ctx, `
		UPDATE touches
		SET visitor_fingerprint = $1,
		    ip_address_hash = NULL,
		    cookie_id = NULL,
		    user_agent = NULL
		WHERE id IN (
			SELECT id FROM touches
			WHERE created_at < $2 AND visitor_fingerprint <> $1
			ORDER BY created_at
			LIMIT $3
		)
	`, models.AnonymizedFingerprint, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to anonymize touches: %w", err)
	}

	return result.RowsAffected()
}

// ArchiveBatch strips marketing attribution from up to limit touches older
// than cutoff and flags them archived.
func (s *Store) ArchiveBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.db.Conn.ExecContext(ctx, `
		UPDATE touches
		SET utm_source = NULL, utm_medium = NULL, utm_campaign = NULL,
		    utm_term = NULL, utm_content = NULL,
		    sub_id1 = NULL, sub_id2 = NULL, sub_id3 = NULL,
		    sub_id4 = NULL, sub_id5 = NULL,
		    landing_page = NULL, referrer = NULL,
		    archived = TRUE
		WHERE id IN (
			SELECT id FROM touches
			WHERE created_at < $1 AND archived = FALSE
			ORDER BY created_at
			LIMIT $2
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to archive touches: %w", err)
	}

	return result.RowsAffected()
}
