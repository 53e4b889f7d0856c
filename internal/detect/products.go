package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Risk point weights for the product and behavior detectors.
const (
	pointsHighValueFocus  = 20
	pointsSimilarProducts = 15
	pointsLuxuryFocus     = 12

	pointsAutomatedBursts = 25
	pointsAmountVariance  = 10
)

// luxuryKeywords marks easily resold product categories. Matching is a
// case-insensitive substring check against the product name.
var luxuryKeywords = []string{
	"iphone", "macbook", "laptop", "jewelry", "watch", "gold", "diamond",
}

// productPatterns inspects what the customer is buying: concentration on
// high-value items, repeated identical products, and luxury categories with
// strong resale value. All three checks stack.
type productPatterns struct{}

func (productPatterns) Name() string { return domain.PatternProduct }

func (productPatterns) Detect(ctx context.Context, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time) (domain.PatternResult, error) {
	since := now.AddDate(0, 0, -th.ProductLookbackDays)
	requests, err := hist.ListRequestsSince(ctx, customerID, since)
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("list requests: %w", err)
	}

	if len(requests) < th.ProductMinRequests {
		return insufficient(domain.PatternProduct, "Suspicious product selection", map[string]any{
			"recent_requests": len(requests),
		}), nil
	}

	highValue := 0
	luxury := 0
	names := map[string]struct{}{}
	for _, r := range requests {
		if r.ProductValue > th.HighValueThreshold {
			highValue++
		}
		name := strings.ToLower(r.ProductName)
		names[name] = struct{}{}
		for _, kw := range luxuryKeywords {
			if strings.Contains(name, kw) {
				luxury++
				break
			}
		}
	}
	similar := len(requests) - len(names)

	points := 0.0
	highValueFocus := highValue >= th.HighValueMinCount
	if highValueFocus {
		points += pointsHighValueFocus
	}
	similarProducts := similar >= th.SimilarProductMin
	if similarProducts {
		points += pointsSimilarProducts
	}
	luxuryFocus := luxury >= th.LuxuryMinCount
	if luxuryFocus {
		points += pointsLuxuryFocus
	}

	detected := points > 0
	confidence := 0.4
	if detected {
		confidence = 0.6
	}

	return domain.PatternResult{
		Name:       domain.PatternProduct,
		Detected:   detected,
		RiskPoints: points,
		Confidence: confidence,
		Details: map[string]any{
			"recent_requests":     len(requests),
			"high_value_requests": highValue,
			"duplicate_products":  similar,
			"luxury_requests":     luxury,
			"high_value_focus":    highValueFocus,
			"similar_products":    similarProducts,
			"luxury_focus":        luxuryFocus,
		},
		Description: "Suspicious product selection",
	}, nil
}

// behavioralAnomalies looks for machine-like submission timing and extreme
// spread in requested amounts over the customer's full request history.
type behavioralAnomalies struct{}

func (behavioralAnomalies) Name() string { return domain.PatternBehavioral }

func (behavioralAnomalies) Detect(ctx context.Context, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time) (domain.PatternResult, error) {
	requests, err := hist.ListRequests(ctx, customerID)
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("list requests: %w", err)
	}

	if len(requests) < th.BehaviorMinRequests {
		return insufficient(domain.PatternBehavioral, "Anomalous request behavior", map[string]any{
			"total_requests": len(requests),
		}), nil
	}

	shortGap := time.Duration(th.ShortGapHours * float64(time.Hour))
	shortGaps := 0
	minValue := requests[0].ProductValue
	maxValue := requests[0].ProductValue
	for i, r := range requests {
		if r.ProductValue < minValue {
			minValue = r.ProductValue
		}
		if r.ProductValue > maxValue {
			maxValue = r.ProductValue
		}
		if i > 0 && r.CreatedAt.Sub(requests[i-1].CreatedAt) < shortGap {
			shortGaps++
		}
	}

	points := 0.0
	automated := shortGaps >= th.ShortGapMinCount
	if automated {
		points += pointsAutomatedBursts
	}
	widespread := maxValue-minValue > th.AmountVariance
	if widespread {
		points += pointsAmountVariance
	}

	detected := points > 0
	confidence := 0.3
	if detected {
		confidence = 0.7
	}

	return domain.PatternResult{
		Name:       domain.PatternBehavioral,
		Detected:   detected,
		RiskPoints: points,
		Confidence: confidence,
		Details: map[string]any{
			"total_requests":     len(requests),
			"short_gaps":         shortGaps,
			"value_spread":       maxValue - minValue,
			"automated_behavior": automated,
			"high_value_spread":  widespread,
		},
		Description: "Anomalous request behavior",
	}, nil
}
