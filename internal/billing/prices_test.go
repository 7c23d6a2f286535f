package billing

import (
	"testing"

	"github.com/pixelift/pixelift/internal/domain"
)

func testConfig() PriceConfig {
	return PriceConfig{
		WeeklyPriceID:         "price_w",
		MonthlyPriceID:        "price_m",
		YearlyPriceID:         "price_y",
		PremierWeeklyPriceID:  "price_pw",
		PremierMonthlyPriceID: "price_pm",
		PremierYearlyPriceID:  "price_py",
		PackSmallPriceID:      "price_ps",
		PackLargePriceID:      "price_pl",
	}
}

func TestTierForPrice_StaticMapping(t *testing.T) {
	r := NewPriceResolver(testConfig())

	tests := []struct {
		priceID string
		want    domain.Tier
	}{
		{"price_w", domain.TierWeekly},
		{"price_m", domain.TierMonthly},
		{"price_y", domain.TierYearly},
		{"price_pw", domain.TierPremierWeekly},
		{"price_pm", domain.TierPremierMonthly},
		{"price_py", domain.TierPremierYearly},
	}
	for _, tt := range tests {
		got, ok := r.TierForPrice(tt.priceID, 0, "")
		if !ok {
			t.Errorf("TierForPrice(%q) not resolved", tt.priceID)
			continue
		}
		if got != tt.want {
			t.Errorf("TierForPrice(%q) = %s, want %s", tt.priceID, got, tt.want)
		}
	}
}

func TestTierForPrice_PricePointFallback(t *testing.T) {
	r := NewPriceResolver(testConfig())

	got, ok := r.TierForPrice("price_unknown", 1499, "month")
	if !ok || got != domain.TierMonthly {
		t.Errorf("expected monthly via (1499, month), got %s ok=%v", got, ok)
	}

	// 1499/week is the premier weekly price point, not a collision with
	// 1499/month.
	got, ok = r.TierForPrice("price_unknown", 1499, "week")
	if !ok || got != domain.TierPremierWeekly {
		t.Errorf("expected premier_weekly via (1499, week), got %s ok=%v", got, ok)
	}
}

func TestTierForPrice_Miss(t *testing.T) {
	r := NewPriceResolver(testConfig())

	if _, ok := r.TierForPrice("price_unknown", 555, "month"); ok {
		t.Error("expected miss for unknown price and amount")
	}
}

func TestNewPriceResolver_SkipsEmptyIDs(t *testing.T) {
	r := NewPriceResolver(PriceConfig{MonthlyPriceID: "price_m"})

	if _, ok := r.TierForPrice("", 0, ""); ok {
		t.Error("empty price id must not resolve")
	}
	if got, ok := r.TierForPrice("price_m", 0, ""); !ok || got != domain.TierMonthly {
		t.Errorf("expected monthly, got %s ok=%v", got, ok)
	}
	if _, ok := r.PriceForPack(domain.PackSmall); ok {
		t.Error("unconfigured pack must not resolve")
	}
}

func TestPriceForTierAndPack(t *testing.T) {
	r := NewPriceResolver(testConfig())

	if got, ok := r.PriceForTier(domain.TierPremierYearly); !ok || got != "price_py" {
		t.Errorf("PriceForTier = %q ok=%v", got, ok)
	}
	if _, ok := r.PriceForTier(domain.TierFree); ok {
		t.Error("free tier has no price")
	}
	if got, ok := r.PriceForPack(domain.PackLarge); !ok || got != "price_pl" {
		t.Errorf("PriceForPack = %q ok=%v", got, ok)
	}
}
