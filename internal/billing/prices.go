package billing

import (
	"github.com/pixelift/pixelift/internal/domain"
)

// PriceConfig holds the Stripe price IDs for each plan and credit pack.
type PriceConfig struct {
	WeeklyPriceID         string
	MonthlyPriceID        string
	YearlyPriceID         string
	PremierWeeklyPriceID  string
	PremierMonthlyPriceID string
	PremierYearlyPriceID  string
	PackSmallPriceID      string
	PackLargePriceID      string
}

// pricePoint is a known (unit amount, billing interval) pair used as a
// fallback when a price ID is not in the static mapping (e.g. a price that
// was recreated in the Stripe dashboard).
type pricePoint struct {
	amount   int64  // unit amount in cents
	interval string // "week", "month" or "year"
}

// knownPricePoints lists the published price points per tier.
var knownPricePoints = map[pricePoint]domain.Tier{
	{799, "week"}:   domain.TierWeekly,
	{1499, "month"}: domain.TierMonthly,
	{9999, "year"}:  domain.TierYearly,
	{1499, "week"}:  domain.TierPremierWeekly,
	{2999, "month"}: domain.TierPremierMonthly,
	{19999, "year"}: domain.TierPremierYearly,
}

// PriceResolver maps billing-platform price identifiers to internal tiers.
type PriceResolver struct {
	priceToTier map[string]domain.Tier
	packToPrice map[domain.Pack]string
	tierToPrice map[domain.Tier]string
}

// NewPriceResolver builds the static priceID->tier mapping from config.
// Empty price IDs are skipped so partially-configured environments still
// resolve the tiers they know about.
func NewPriceResolver(prices PriceConfig) *PriceResolver {
	priceToTier := make(map[string]domain.Tier)
	tierToPrice := make(map[domain.Tier]string)

	add := func(priceID string, tier domain.Tier) {
		if priceID == "" {
			return
		}
		priceToTier[priceID] = tier
		tierToPrice[tier] = priceID
	}
	add(prices.WeeklyPriceID, domain.TierWeekly)
	add(prices.MonthlyPriceID, domain.TierMonthly)
	add(prices.YearlyPriceID, domain.TierYearly)
	add(prices.PremierWeeklyPriceID, domain.TierPremierWeekly)
	add(prices.PremierMonthlyPriceID, domain.TierPremierMonthly)
	add(prices.PremierYearlyPriceID, domain.TierPremierYearly)

	packToPrice := make(map[domain.Pack]string)
	if prices.PackSmallPriceID != "" {
		packToPrice[domain.PackSmall] = prices.PackSmallPriceID
	}
	if prices.PackLargePriceID != "" {
		packToPrice[domain.PackLarge] = prices.PackLargePriceID
	}

	return &PriceResolver{
		priceToTier: priceToTier,
		packToPrice: packToPrice,
		tierToPrice: tierToPrice,
	}
}

// TierForPrice resolves a price to a tier. The static map wins; a miss falls
// back to an exact (amount, interval) match against the known price points.
// Returns false when neither matches: the caller must keep its local tier
// and surface a diagnostic rather than guess.
func (r *PriceResolver) TierForPrice(priceID string, unitAmount int64, interval string) (domain.Tier, bool) {
	if tier, ok := r.priceToTier[priceID]; ok {
		return tier, true
	}
	if tier, ok := knownPricePoints[pricePoint{unitAmount, interval}]; ok {
		return tier, true
	}
	return "", false
}

// PriceForTier returns the configured price ID for a paid tier.
func (r *PriceResolver) PriceForTier(tier domain.Tier) (string, bool) {
	priceID, ok := r.tierToPrice[tier]
	return priceID, ok
}

// PriceForPack returns the configured price ID for a credit pack.
func (r *PriceResolver) PriceForPack(pack domain.Pack) (string, bool) {
	priceID, ok := r.packToPrice[pack]
	return priceID, ok
}
