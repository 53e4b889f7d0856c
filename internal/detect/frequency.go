package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Risk point weights for the request frequency detectors.
const (
	pointsRapidHourly = 40
	pointsRapidDaily  = 30
	pointsRapidWeekly = 20
	pointsCountSpike  = 20
	pointsValueSpike  = 15
)

// rapidRequests flags bursts of installment requests over three sliding
// windows. Tiers are mutually exclusive: the tightest matching window wins.
type rapidRequests struct{}

func (rapidRequests) Name() string { return domain.PatternRapidRequests }

func (rapidRequests) Detect(ctx context.Context, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time) (domain.PatternResult, error) {
	lastHour, err := hist.CountRequestsSince(ctx, customerID, now.Add(-time.Hour))
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("count requests 1h: %w", err)
	}
	lastDay, err := hist.CountRequestsSince(ctx, customerID, now.Add(-24*time.Hour))
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("count requests 24h: %w", err)
	}
	lastWeek, err := hist.CountRequestsSince(ctx, customerID, now.Add(-7*24*time.Hour))
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("count requests 7d: %w", err)
	}

	points := 0.0
	trigger := ""
	switch {
	case lastHour >= th.RapidRequests1h:
		points = pointsRapidHourly
		trigger = "hourly_burst"
	case lastDay >= th.RapidRequests24h:
		points = pointsRapidDaily
		trigger = "daily_burst"
	case lastWeek >= th.RapidRequests7d:
		points = pointsRapidWeekly
		trigger = "weekly_burst"
	}

	detected := points > 0
	confidence := 0.1
	if detected {
		confidence = 0.9
	}

	return domain.PatternResult{
		Name:       domain.PatternRapidRequests,
		Detected:   detected,
		RiskPoints: points,
		Confidence: confidence,
		Details: map[string]any{
			"requests_last_hour": lastHour,
			"requests_last_24h":  lastDay,
			"requests_last_7d":   lastWeek,
			"trigger":            trigger,
		},
		Description: "Unusually frequent installment requests",
	}, nil
}

// velocityPatterns compares per-month request activity against the
// customer's own monthly average. Count and value spikes are independent
// checks and their points accumulate.
type velocityPatterns struct{}

func (velocityPatterns) Name() string { return domain.PatternVelocity }

func (velocityPatterns) Detect(ctx context.Context, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time) (domain.PatternResult, error) {
	since := now.AddDate(0, 0, -th.VelocityLookbackDays)
	requests, err := hist.ListRequestsSince(ctx, customerID, since)
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("list requests: %w", err)
	}

	counts := map[string]int{}
	values := map[string]float64{}
	for _, r := range requests {
		month := r.CreatedAt.UTC().Format("2006-01")
		counts[month]++
		values[month] += r.ProductValue
	}

	if len(counts) < th.VelocityMinMonths {
		return insufficient(domain.PatternVelocity, "Irregular request velocity", map[string]any{
			"months_observed": len(counts),
		}), nil
	}

	var totalCount, maxCount int
	var totalValue, maxValue float64
	for month, c := range counts {
		totalCount += c
		if c > maxCount {
			maxCount = c
		}
		v := values[month]
		totalValue += v
		if v > maxValue {
			maxValue = v
		}
	}
	avgCount := float64(totalCount) / float64(len(counts))
	avgValue := totalValue / float64(len(counts))

	points := 0.0
	countSpike := float64(maxCount) > avgCount*th.VelocityCountMultiplier && maxCount > th.VelocityCountFloor
	if countSpike {
		points += pointsCountSpike
	}
	valueSpike := maxValue > avgValue*th.VelocityValueMultiplier && maxValue > th.VelocityValueFloor
	if valueSpike {
		points += pointsValueSpike
	}

	detected := points > 0
	confidence := 0.3
	if detected {
		confidence = 0.7
	}

	return domain.PatternResult{
		Name:       domain.PatternVelocity,
		Detected:   detected,
		RiskPoints: points,
		Confidence: confidence,
		Details: map[string]any{
			"months_observed":   len(counts),
			"max_monthly_count": maxCount,
			"avg_monthly_count": avgCount,
			"max_monthly_value": maxValue,
			"avg_monthly_value": avgValue,
			"count_spike":       countSpike,
			"value_spike":       valueSpike,
		},
		Description: "Irregular request velocity",
	}, nil
}
