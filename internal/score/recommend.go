package score

import "github.com/opensource-finance/kestrel/internal/domain"

// levelRecommendations are the base actions per risk band.
var levelRecommendations = map[domain.RiskLevel][]string{
	domain.RiskCritical: {
		"BLOCK: Immediate rejection recommended",
		"Report to fraud investigation team",
		"Flag customer account for enhanced monitoring",
	},
	domain.RiskHigh: {
		"MANUAL REVIEW: Require human approval",
		"Request additional verification documents",
		"Consider reduced credit limits",
	},
	domain.RiskMedium: {
		"CAUTION: Enhanced verification recommended",
		"Monitor payment behavior closely",
		"Consider shorter installment terms",
	},
	domain.RiskLow: {
		"APPROVE: Low risk customer",
	},
}

// patternRecommendations add pattern-specific actions on top of the base set.
var patternRecommendations = map[string]string{
	domain.PatternRapidRequests:   "Implement cooling-off period between requests",
	domain.PatternCrossMerchant:   "Verify legitimate business need across multiple vendors",
	domain.PatternPaymentDefaults: "Require guarantor or additional collateral",
	domain.PatternHighDebtRatio:   "Assess total debt capacity before approval",
}

// Recommendations builds the ordered action list for a verdict: base actions
// for the risk band first, then one extra action per detected pattern that
// has one. The list never contains duplicates.
func Recommendations(level domain.RiskLevel, detectedPatterns []string) []string {
	out := make([]string, 0, len(levelRecommendations[level])+len(detectedPatterns))
	seen := make(map[string]struct{})

	add := func(rec string) {
		if _, ok := seen[rec]; ok {
			return
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}

	for _, rec := range levelRecommendations[level] {
		add(rec)
	}
	for _, name := range detectedPatterns {
		if rec, ok := patternRecommendations[name]; ok {
			add(rec)
		}
	}
	return out
}
