// Package domain contains core business types and interfaces.
//
// This file defines the Profile domain type: the per-user record of tier,
// credit balances, and billing references. The profile is created lazily on
// first access; the billing platform is authoritative for tier and
// cancellation state, while the profile store is authoritative for credit
// balances.
package domain

import (
	"time"
)

// Tier represents a subscription tier.
type Tier string

const (
	TierFree           Tier = "free"
	TierWeekly         Tier = "weekly"
	TierMonthly        Tier = "monthly"
	TierYearly         Tier = "yearly"
	TierPremierWeekly  Tier = "premier_weekly"
	TierPremierMonthly Tier = "premier_monthly"
	TierPremierYearly  Tier = "premier_yearly"
)

// UnlimitedCredits is the sentinel balance meaning "no basic-enhancement
// limit". Paid tiers carry this value instead of a real counter.
const UnlimitedCredits = 999999

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierWeekly, TierMonthly, TierYearly,
		TierPremierWeekly, TierPremierMonthly, TierPremierYearly:
		return true
	}
	return false
}

// Paid reports whether t is a paying tier.
func (t Tier) Paid() bool {
	return t.Valid() && t != TierFree
}

// Premier reports whether t is in the premier family, which includes a
// recurring AI-credit allotment.
func (t Tier) Premier() bool {
	switch t {
	case TierPremierWeekly, TierPremierMonthly, TierPremierYearly:
		return true
	}
	return false
}

// TierGrant defines the credit balances granted when a tier becomes active.
type TierGrant struct {
	Credits   int // basic-enhancement credits; UnlimitedCredits for paid tiers
	AICredits int // AI-credit allotment; zero means "leave existing balance alone"
}

// TierGrants maps each paid tier to the balances it grants on activation or
// renewal. Non-premier paid tiers grant no AI credits; those users buy packs.
var TierGrants = map[Tier]TierGrant{
	TierWeekly:         {Credits: UnlimitedCredits},
	TierMonthly:        {Credits: UnlimitedCredits},
	TierYearly:         {Credits: UnlimitedCredits},
	TierPremierWeekly:  {Credits: UnlimitedCredits, AICredits: 20},
	TierPremierMonthly: {Credits: UnlimitedCredits, AICredits: 80},
	TierPremierYearly:  {Credits: UnlimitedCredits, AICredits: 500},
}

// GrantForTier returns the grant for a tier. Unknown or free tiers grant
// nothing.
func GrantForTier(t Tier) TierGrant {
	if g, ok := TierGrants[t]; ok {
		return g
	}
	return TierGrant{}
}

// Pack identifies a one-time AI credit pack purchase.
type Pack string

const (
	PackSmall Pack = "small"
	PackLarge Pack = "large"
)

// Credits returns the number of AI credits the pack grants.
func (p Pack) Credits() int {
	switch p {
	case PackSmall:
		return 5
	case PackLarge:
		return 50
	}
	return 0
}

// Valid reports whether p is a known pack.
func (p Pack) Valid() bool {
	return p.Credits() > 0
}

// Profile is the per-user entitlement record.
//
// UserID is the subject identifier supplied by the external identity
// provider and is trusted as-is. Billing identifiers are empty when the user
// has never paid or the subscription has lapsed.
type Profile struct {
	UserID                string
	Tier                  Tier
	Credits               int
	AICredits             int
	BillingCustomerID     string
	BillingSubscriptionID string
	CancelAtPeriodEnd     bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasUnlimitedCredits reports whether the profile carries the unlimited
// basic-credit sentinel.
func (p *Profile) HasUnlimitedCredits() bool {
	return p.Credits >= UnlimitedCredits
}

// NewProfile returns the profile created lazily on a user's first access.
func NewProfile(userID string, freeCredits int) *Profile {
	now := time.Now().UTC()
	return &Profile{
		UserID:    userID,
		Tier:      TierFree,
		Credits:   freeCredits,
		AICredits: 0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
