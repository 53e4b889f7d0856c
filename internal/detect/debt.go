package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Risk point weights for the debt exposure and merchant chain detectors.
const (
	pointsVeryHighDebt     = 35
	pointsHighDebt         = 25
	pointsModerateDebt     = 15
	pointsTooManyPlans     = 15
	pointsTooManyMerchants = 10

	pointsCriticalChain = 35
	pointsHighChain     = 25
	pointsModerateChain = 15
)

// highDebtRatio scores the customer's outstanding exposure across active
// plans. The debt tiers are mutually exclusive; the plan count and merchant
// spread checks stack on top of whichever tier matched.
type highDebtRatio struct{}

func (highDebtRatio) Name() string { return domain.PatternHighDebtRatio }

func (highDebtRatio) Detect(ctx context.Context, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time) (domain.PatternResult, error) {
	debt, err := hist.ActiveDebt(ctx, customerID)
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("active debt: %w", err)
	}

	points := 0.0
	tier := ""
	switch {
	case debt.TotalDebt > th.CriticalDebt:
		points = pointsVeryHighDebt
		tier = "very_high_debt"
	case debt.TotalDebt > th.HighDebt:
		points = pointsHighDebt
		tier = "high_debt"
	case debt.TotalDebt > th.ModerateDebt && debt.ActivePlans > th.ModerateDebtMinPlans:
		points = pointsModerateDebt
		tier = "moderate_debt_many_plans"
	}

	tooManyPlans := debt.ActivePlans > th.MaxActivePlans
	if tooManyPlans {
		points += pointsTooManyPlans
	}
	tooManyMerchants := debt.UniqueMerchants > th.MaxMerchants
	if tooManyMerchants {
		points += pointsTooManyMerchants
	}

	detected := points > 0
	confidence := 0.2
	if detected {
		confidence = 0.8
	}

	return domain.PatternResult{
		Name:       domain.PatternHighDebtRatio,
		Detected:   detected,
		RiskPoints: points,
		Confidence: confidence,
		Details: map[string]any{
			"total_debt":         debt.TotalDebt,
			"active_plans":       debt.ActivePlans,
			"unique_merchants":   debt.UniqueMerchants,
			"debt_tier":          tier,
			"too_many_plans":     tooManyPlans,
			"too_many_merchants": tooManyMerchants,
		},
		Description: "High outstanding debt across active plans",
	}, nil
}

// crossMerchantChains walks the customer's recent plans in creation order and
// counts merchant switches between consecutive plans. A switch is rapid when
// the follow-up plan lands within the configured day window.
type crossMerchantChains struct{}

func (crossMerchantChains) Name() string { return domain.PatternCrossMerchant }

func (crossMerchantChains) Detect(ctx context.Context, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time) (domain.PatternResult, error) {
	since := now.AddDate(0, 0, -th.ChainLookbackDays)
	plans, err := hist.ListPlansSince(ctx, customerID, since)
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("list plans: %w", err)
	}

	if len(plans) < th.ChainMinPlans {
		return insufficient(domain.PatternCrossMerchant, "Chained purchases across merchants", map[string]any{
			"recent_plans": len(plans),
		}), nil
	}

	rapidWindow := time.Duration(th.RapidSwitchDays) * 24 * time.Hour

	switches := 0
	rapidSwitches := 0
	merchants := map[string]struct{}{plans[0].MerchantID: {}}
	for i := 1; i < len(plans); i++ {
		merchants[plans[i].MerchantID] = struct{}{}
		if plans[i].MerchantID == plans[i-1].MerchantID {
			continue
		}
		switches++
		if plans[i].CreatedAt.Sub(plans[i-1].CreatedAt) <= rapidWindow {
			rapidSwitches++
		}
	}

	points := 0.0
	tier := ""
	switch {
	case rapidSwitches >= th.CriticalRapidSwitches:
		points = pointsCriticalChain
		tier = "rapid_chain"
	case switches >= th.HighSwitches && len(merchants) >= th.HighSwitchMerchants:
		points = pointsHighChain
		tier = "wide_chain"
	case switches >= th.ModerateSwitches && len(merchants) >= th.ModerateSwitchMerchants:
		points = pointsModerateChain
		tier = "moderate_chain"
	}

	detected := points > 0
	confidence := 0.15
	if detected {
		confidence = 0.85
	}

	return domain.PatternResult{
		Name:       domain.PatternCrossMerchant,
		Detected:   detected,
		RiskPoints: points,
		Confidence: confidence,
		Details: map[string]any{
			"recent_plans":      len(plans),
			"merchant_switches": switches,
			"rapid_switches":    rapidSwitches,
			"unique_merchants":  len(merchants),
			"chain_tier":        tier,
		},
		Description: "Chained purchases across merchants",
	}, nil
}
