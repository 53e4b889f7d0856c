package domain

// RuleConfig defines a custom alert rule evaluated after the built-in
// detectors. The CEL expression sees the detector summary for one customer
// and, when it evaluates true, contributes an extra pattern result with the
// configured risk points before aggregation.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is a CEL boolean over the detector summary. Available
	// variables: risk_points (double), detected (list of pattern names),
	// details (map keyed by pattern name).
	Expression string `json:"expression"`

	// RiskPoints added to the aggregate score when the expression matches.
	RiskPoints float64 `json:"riskPoints"`

	// Confidence assigned to the contributed pattern result, in [0,1].
	Confidence float64 `json:"confidence"`

	// Whether rule is active.
	Enabled bool `json:"enabled"`
}

// Validate rejects rule configs the engine could not evaluate safely.
func (r *RuleConfig) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "rule id", Reason: "must not be empty"}
	}
	if r.Expression == "" {
		return &ValidationError{Field: "rule expression", Reason: "must not be empty"}
	}
	if r.RiskPoints < 0 {
		return &ValidationError{Field: "rule riskPoints", Reason: "must be non-negative"}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return &ValidationError{Field: "rule confidence", Reason: "must be in [0,1]"}
	}
	return nil
}
