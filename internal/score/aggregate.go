// Package score turns detector results into a final risk classification and
// the operational recommendations that go with it.
package score

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxRiskScore caps the reported score. Classification happens before the
// cap so heavily stacked detections still reach the critical band.
const MaxRiskScore = 100

// neutralConfidence is reported when no detector contributed points.
const neutralConfidence = 0.5

// Aggregate combines pattern results into a verdict. Total points decide the
// risk band against the configured thresholds; the reported score is the
// capped total. Overall confidence is the points-weighted mean of the
// contributing detectors' confidences.
func Aggregate(customerID string, results []domain.PatternResult, th domain.Thresholds, now time.Time) *domain.Verdict {
	total := 0.0
	weighted := 0.0
	var detected []string
	for _, r := range results {
		total += r.RiskPoints
		weighted += r.Confidence * r.RiskPoints
		if r.Detected {
			detected = append(detected, r.Name)
		}
	}

	var level domain.RiskLevel
	switch {
	case total >= th.CriticalScore:
		level = domain.RiskCritical
	case total >= th.HighScore:
		level = domain.RiskHigh
	case total >= th.MediumScore:
		level = domain.RiskMedium
	default:
		level = domain.RiskLow
	}

	confidence := neutralConfidence
	if total > 0 {
		confidence = weighted / total
		if confidence > 1 {
			confidence = 1
		}
	}

	score := total
	if score > MaxRiskScore {
		score = MaxRiskScore
	}

	return &domain.Verdict{
		CustomerID:           customerID,
		RiskLevel:            level,
		RiskScore:            score,
		DetectedPatterns:     detected,
		Recommendations:      Recommendations(level, detected),
		ShouldBlock:          level == domain.RiskCritical,
		RequiresManualReview: level == domain.RiskHigh || level == domain.RiskCritical,
		ConfidenceScore:      confidence,
		AnalyzedAt:           now,
	}
}
