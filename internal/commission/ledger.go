package commission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clinicware/affiliate-engine/internal/affiliate"
	"github.com/clinicware/affiliate-engine/internal/models"
)

// ErrInvalidTransition signals a state change the lifecycle does not allow,
// such as approving a reversed event.
var ErrInvalidTransition = errors.New("invalid commission state transition")

// ErrClawbackDisabled signals a reversal of a PAID event in a clinic that
// has clawbacks switched off.
var ErrClawbackDisabled = errors.New("clawback disabled for this clinic")

// lockEvent reads an event under FOR UPDATE inside tx. Concurrent
// transitions on the same event serialize here.
func lockEvent(ctx context.Context, tx *sql.Tx, id string) (*models.CommissionEvent, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM commission_events WHERE id = $1 FOR UPDATE`, id)

	e, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to lock commission event: %w", err)
	}

	return e, nil
}

// Approve moves a PENDING event to APPROVED ahead of its hold window.
// Approving an already-approved event is a no-op.
func (s *Store) Approve(ctx context.Context, eventID string) (*models.CommissionEvent, error) {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := lockEvent(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}

	switch e.Status {
	case models.CommissionStatusApproved:
		return e, tx.Commit()
	case models.CommissionStatusPending:
	default:
		return nil, fmt.Errorf("%w: cannot approve %s event", ErrInvalidTransition, e.Status)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE commission_events
		SET status = $2, approved_at = NOW(), risk_flagged = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING `+eventColumns+`
	`, eventID, models.CommissionStatusApproved)

	updated, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to approve commission event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit approval: %w", err)
	}

	return updated, nil
}

// Reverse cancels an event. PENDING and APPROVED events flip to REVERSED in
// place. A PAID event cannot be rewritten, its money already left: when the
// clinic allows clawbacks the reversal becomes a separate negative
// adjustment that nets against the affiliate's next payout. Reversing an
// already-reversed event is a no-op.
func (s *Store) Reverse(ctx context.Context, eventID string, clawbackEnabled bool) (*models.CommissionEvent, error) {
	tx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := lockEvent(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}

	switch e.Status {
	case models.CommissionStatusReversed:
		return e, tx.Commit()

	case models.CommissionStatusPending, models.CommissionStatusApproved:
		row := tx.QueryRowContext(ctx, `
			UPDATE commission_events
			SET status = $2, reversed_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING `+eventColumns+`
		`, eventID, models.CommissionStatusReversed)

		updated, err := scanEvent(row)
		if err != nil {
			return nil, fmt.Errorf("failed to reverse commission event: %w", err)
		}

		if err := affiliate.AddLifetimeTx(ctx, tx, e.AffiliateID, -e.OrderAmountCents, -e.CommissionAmountCents, 0); err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit reversal: %w", err)
		}
		return updated, nil

	case models.CommissionStatusPaid:
		if !clawbackEnabled {
			return nil, ErrClawbackDisabled
		}

		// Idempotent: a second reversal of the same paid event hits the
		// (clinic_id, source_event_id) unique index and returns the
		// existing adjustment.
		adjSourceID := e.SourceEventID + "#rev"
		existing, err := s.getBySourceEventTx(ctx, tx, e.ClinicID, adjSourceID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, tx.Commit()
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO commission_events (
				clinic_id, affiliate_id, ref_code_id, touch_id, source_event_id,
				status, order_amount_cents, commission_amount_cents, hold_until,
				reversal_of, approved_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9, NOW())
			RETURNING `+eventColumns+`
		`,
			e.ClinicID, e.AffiliateID, e.RefCodeID, e.TouchID, adjSourceID,
			models.CommissionStatusApproved, -e.OrderAmountCents, -e.CommissionAmountCents,
			e.ID,
		)

		adjustment, err := scanEvent(row)
		if err != nil {
			return nil, fmt.Errorf("failed to create clawback adjustment: %w", err)
		}

		if err := affiliate.AddLifetimeTx(ctx, tx, e.AffiliateID, -e.OrderAmountCents, -e.CommissionAmountCents, 0); err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit clawback: %w", err)
		}
		return adjustment, nil

	default:
		return nil, fmt.Errorf("%w: cannot reverse %s event", ErrInvalidTransition, e.Status)
	}
}

func (s *Store) getBySourceEventTx(ctx context.Context, tx *sql.Tx, clinicID, sourceEventID string) (*models.CommissionEvent, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM commission_events
		WHERE clinic_id = $1 AND source_event_id = $2
	`, clinicID, sourceEventID)

	e, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up source event: %w", err)
	}

	return e, nil
}

// FindBySourceEvent returns all ledger entries created from one billing
// event, including linear split parts and clawback adjustments.
func (s *Store) FindBySourceEvent(ctx context.Context, clinicID, sourceEventID string) ([]models.CommissionEvent, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM commission_events
		WHERE clinic_id = $1 AND (source_event_id = $2 OR source_event_id LIKE $2 || '#%')
		ORDER BY created_at
	`, clinicID, sourceEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find source events: %w", err)
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

// MatureApproved promotes PENDING events whose hold window has elapsed.
// Risk-flagged events stay put for manual review regardless of age. Runs in
// bounded batches from the scheduler.
func (s *Store) MatureApproved(ctx context.Context, now time.Time, limit int) (int64, error) {
	result, err := s.db.Conn.ExecContext(ctx, `
		UPDATE commission_events
		SET status = $1, approved_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM commission_events
			WHERE status = $2 AND hold_until <= $3 AND risk_flagged = FALSE
			ORDER BY hold_until
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
	`, models.CommissionStatusApproved, models.CommissionStatusPending, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to mature commission events: %w", err)
	}

	return result.RowsAffected()
}
