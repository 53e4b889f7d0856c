package domain

import (
	"time"
)

// RiskLevel is the ordinal classification derived from the risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Pattern names for the seven built-in detectors.
const (
	PatternRapidRequests    = "rapid_requests"
	PatternHighDebtRatio    = "high_debt_ratio"
	PatternCrossMerchant    = "cross_business_chains"
	PatternPaymentDefaults  = "payment_default_patterns"
	PatternVelocity         = "velocity_patterns"
	PatternProduct          = "product_patterns"
	PatternBehavioral       = "behavioral_anomalies"
)

// DetectorOrder is the fixed evaluation order of the built-in detectors.
// Detected pattern names and pattern recommendations follow this order.
var DetectorOrder = []string{
	PatternRapidRequests,
	PatternHighDebtRatio,
	PatternCrossMerchant,
	PatternPaymentDefaults,
	PatternVelocity,
	PatternProduct,
	PatternBehavioral,
}

// PatternResult is the outcome of a single detector run.
type PatternResult struct {
	Name        string         `json:"name"`
	Detected    bool           `json:"detected"`
	RiskPoints  float64        `json:"riskPoints"`
	Confidence  float64        `json:"confidence"`
	Details     map[string]any `json:"details"`
	Description string         `json:"description"`
}

// Verdict is the aggregate result of one analysis run for one customer.
// A verdict is created fresh on every invocation and never mutated.
type Verdict struct {
	CustomerID           string    `json:"customerId"`
	RiskLevel            RiskLevel `json:"riskLevel"`
	RiskScore            float64   `json:"riskScore"`
	DetectedPatterns     []string  `json:"detectedPatterns"`
	Recommendations      []string  `json:"recommendations"`
	ShouldBlock          bool      `json:"shouldBlock"`
	RequiresManualReview bool      `json:"requiresManualReview"`
	ConfidenceScore      float64   `json:"confidenceScore"`
	AnalyzedAt           time.Time `json:"analyzedAt"`
}

// BatchResult pairs one customer id with either a verdict or an error.
type BatchResult struct {
	CustomerID string
	Verdict    *Verdict
	Err        error
}
