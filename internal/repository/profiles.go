package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pixelift/pixelift/internal/domain"
)

const profileColumns = `user_id, tier, credits, ai_credits,
	billing_customer_id, billing_subscription_id, cancel_at_period_end,
	created_at, updated_at`

func scanProfile(row *sql.Row) (domain.Profile, error) {
	var (
		p              domain.Profile
		customerID     sql.NullString
		subscriptionID sql.NullString
	)
	err := row.Scan(
		&p.UserID,
		&p.Tier,
		&p.Credits,
		&p.AICredits,
		&customerID,
		&subscriptionID,
		&p.CancelAtPeriodEnd,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return domain.Profile{}, err
	}
	p.BillingCustomerID = customerID.String
	p.BillingSubscriptionID = subscriptionID.String
	return p, nil
}

// GetProfile returns the profile for a user. Returns sql.ErrNoRows when the
// profile has not been created yet.
func (q *Queries) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
	return scanProfile(row)
}

// GetProfileByCustomerID looks up a profile by its billing customer reference.
func (q *Queries) GetProfileByCustomerID(ctx context.Context, customerID string) (domain.Profile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE billing_customer_id = $1`, customerID)
	return scanProfile(row)
}

// GetProfileBySubscriptionID looks up a profile by its billing subscription
// reference.
func (q *Queries) GetProfileBySubscriptionID(ctx context.Context, subscriptionID string) (domain.Profile, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE billing_subscription_id = $1`, subscriptionID)
	return scanProfile(row)
}

// CreateProfile inserts a new profile row. A concurrent first-access may have
// inserted the row already; ON CONFLICT keeps the insert idempotent so the
// caller can re-read instead of failing.
func (q *Queries) CreateProfile(ctx context.Context, p domain.Profile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, tier, credits, ai_credits, cancel_at_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, now(), now())
		ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.Tier, p.Credits, p.AICredits)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// UpdateProfileBilling overwrites the billing-owned fields of a profile:
// tier, both credit balances, billing references and the cancellation flag.
// The billing platform is the source of truth for these, so this write is
// last-writer-wins.
func (q *Queries) UpdateProfileBilling(ctx context.Context, p domain.Profile) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE profiles
		SET tier = $2,
		    credits = $3,
		    ai_credits = $4,
		    billing_customer_id = NULLIF($5, ''),
		    billing_subscription_id = NULLIF($6, ''),
		    cancel_at_period_end = $7,
		    updated_at = now()
		WHERE user_id = $1`,
		p.UserID, p.Tier, p.Credits, p.AICredits,
		p.BillingCustomerID, p.BillingSubscriptionID, p.CancelAtPeriodEnd)
	if err != nil {
		return fmt.Errorf("update profile billing: %w", err)
	}
	return nil
}

// SetBillingCustomer records the billing customer reference for a user.
func (q *Queries) SetBillingCustomer(ctx context.Context, userID, customerID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE profiles SET billing_customer_id = $2, updated_at = now()
		WHERE user_id = $1`,
		userID, customerID)
	if err != nil {
		return fmt.Errorf("set billing customer: %w", err)
	}
	return nil
}

// SetCancelAtPeriodEnd mirrors the billing platform's cancellation flag.
func (q *Queries) SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE profiles SET cancel_at_period_end = $2, updated_at = now()
		WHERE user_id = $1`,
		userID, cancel)
	if err != nil {
		return fmt.Errorf("set cancel at period end: %w", err)
	}
	return nil
}

// SpendCredit atomically decrements a basic-enhancement credit. The unlimited
// sentinel is left untouched so paid tiers never drift. Returns false when
// the balance was already zero; two concurrent spends cannot both succeed on
// the last credit.
func (q *Queries) SpendCredit(ctx context.Context, userID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE profiles
		SET credits = CASE WHEN credits >= $2 THEN credits ELSE credits - 1 END,
		    updated_at = now()
		WHERE user_id = $1 AND credits >= 1`,
		userID, domain.UnlimitedCredits)
	if err != nil {
		return false, fmt.Errorf("spend credit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("spend credit: %w", err)
	}
	return n == 1, nil
}

// SpendAICredit atomically decrements an AI credit. AI credits have no
// unlimited sentinel; every use is charged.
func (q *Queries) SpendAICredit(ctx context.Context, userID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE profiles
		SET ai_credits = ai_credits - 1, updated_at = now()
		WHERE user_id = $1 AND ai_credits >= 1`,
		userID)
	if err != nil {
		return false, fmt.Errorf("spend ai credit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("spend ai credit: %w", err)
	}
	return n == 1, nil
}

// AddAICredits grants purchased AI credits on top of the current balance.
func (q *Queries) AddAICredits(ctx context.Context, userID string, amount int) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE profiles SET ai_credits = ai_credits + $2, updated_at = now()
		WHERE user_id = $1`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("add ai credits: %w", err)
	}
	return nil
}

// CountAIImages counts AI-tagged image records for a user. Used to enforce
// the free AI trial allotment.
func (q *Queries) CountAIImages(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM images WHERE user_id = $1 AND ai`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ai images: %w", err)
	}
	return count, nil
}
