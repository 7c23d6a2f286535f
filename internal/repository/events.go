package repository

import (
	"context"
	"fmt"

	"github.com/pixelift/pixelift/internal/domain"
)

// MarkBillingEventApplied records a checkout-session id in the idempotency
// ledger. Returns true when the id was fresh and the caller may apply the
// grant. A duplicate delivery returns false and must be a no-op.
func (q *Queries) MarkBillingEventApplied(ctx context.Context, sessionID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO billing_events (session_id) VALUES ($1)
		ON CONFLICT (session_id) DO NOTHING`,
		sessionID)
	if err != nil {
		return false, fmt.Errorf("mark billing event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark billing event: %w", err)
	}
	return n == 1, nil
}

// ApplyPackEvent grants pack credits under the session-id idempotency guard.
// The ledger insert and the grant commit in one transaction: a failed grant
// leaves the event unrecorded, so a webhook redelivery retries it instead of
// skipping a paid purchase as a duplicate.
func (r *Repository) ApplyPackEvent(ctx context.Context, sessionID, userID string, credits int) (bool, error) {
	fresh := false
	err := r.execTx(ctx, func(q *Queries) error {
		f, err := q.MarkBillingEventApplied(ctx, sessionID)
		if err != nil {
			return err
		}
		if !f {
			return nil
		}
		fresh = true
		return q.AddAICredits(ctx, userID, credits)
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}

// ApplyTierEvent writes the granted profile state under the same session-id
// guard, with the same atomicity as ApplyPackEvent. The checkout webhook can
// land before the user's first page load, so the row is seeded if missing.
func (r *Repository) ApplyTierEvent(ctx context.Context, sessionID string, p domain.Profile) (bool, error) {
	fresh := false
	err := r.execTx(ctx, func(q *Queries) error {
		f, err := q.MarkBillingEventApplied(ctx, sessionID)
		if err != nil {
			return err
		}
		if !f {
			return nil
		}
		fresh = true
		if err := q.CreateProfile(ctx, p); err != nil {
			return err
		}
		return q.UpdateProfileBilling(ctx, p)
	})
	if err != nil {
		return false, err
	}
	return fresh, nil
}
