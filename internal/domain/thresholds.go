package domain

// Thresholds holds every tunable numeric used by the detectors and the
// aggregator. Values are injected into each detector call rather than held as
// package state, so detectors stay pure and overrides never require a rebuild.
type Thresholds struct {
	// Rapid request counts per window.
	RapidRequests1h  int `json:"rapid_requests_1h"`
	RapidRequests24h int `json:"rapid_requests_24h"`
	RapidRequests7d  int `json:"rapid_requests_7d"`

	// Debt exposure.
	CriticalDebt         float64 `json:"critical_debt"`
	HighDebt             float64 `json:"high_debt"`
	ModerateDebt         float64 `json:"moderate_debt"`
	ModerateDebtMinPlans int     `json:"moderate_debt_min_plans"`
	MaxActivePlans       int     `json:"max_active_plans"`
	MaxMerchants         int     `json:"max_merchants"`

	// Cross-merchant chains.
	ChainLookbackDays       int `json:"chain_lookback_days"`
	ChainMinPlans           int `json:"chain_min_plans"`
	RapidSwitchDays         int `json:"rapid_switch_days"`
	CriticalRapidSwitches   int `json:"critical_rapid_switches"`
	HighSwitches            int `json:"high_switches"`
	HighSwitchMerchants     int `json:"high_switch_merchants"`
	ModerateSwitches        int `json:"moderate_switches"`
	ModerateSwitchMerchants int `json:"moderate_switch_merchants"`

	// Payment defaults, rates in percent.
	CriticalOverdueRate float64 `json:"critical_overdue_rate"`
	ModerateOverdueRate float64 `json:"moderate_overdue_rate"`
	HighLateRate        float64 `json:"high_late_rate"`

	// Monthly velocity.
	VelocityLookbackDays    int     `json:"velocity_lookback_days"`
	VelocityMinMonths       int     `json:"velocity_min_months"`
	VelocityCountMultiplier float64 `json:"velocity_count_multiplier"`
	VelocityCountFloor      int     `json:"velocity_count_floor"`
	VelocityValueMultiplier float64 `json:"velocity_value_multiplier"`
	VelocityValueFloor      float64 `json:"velocity_value_floor"`

	// Product selection.
	ProductLookbackDays int     `json:"product_lookback_days"`
	ProductMinRequests  int     `json:"product_min_requests"`
	HighValueThreshold  float64 `json:"high_value_threshold"`
	HighValueMinCount   int     `json:"high_value_min_count"`
	SimilarProductMin   int     `json:"similar_product_min"`
	LuxuryMinCount      int     `json:"luxury_min_count"`

	// Behavioral anomalies.
	BehaviorMinRequests int     `json:"behavior_min_requests"`
	ShortGapHours       float64 `json:"short_gap_hours"`
	ShortGapMinCount    int     `json:"short_gap_min_count"`
	AmountVariance      float64 `json:"amount_variance"`

	// Score bands, evaluated on the pre-clamped sum.
	MediumScore   float64 `json:"medium_score"`
	HighScore     float64 `json:"high_score"`
	CriticalScore float64 `json:"critical_score"`

	// Alert deduplication window in hours.
	AlertDedupHours int `json:"alert_dedup_hours"`
}

// DefaultThresholds returns the documented default configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RapidRequests1h:  3,
		RapidRequests24h: 5,
		RapidRequests7d:  15,

		CriticalDebt:         100000,
		HighDebt:             50000,
		ModerateDebt:         25000,
		ModerateDebtMinPlans: 5,
		MaxActivePlans:       7,
		MaxMerchants:         5,

		ChainLookbackDays:       90,
		ChainMinPlans:           3,
		RapidSwitchDays:         14,
		CriticalRapidSwitches:   3,
		HighSwitches:            5,
		HighSwitchMerchants:     4,
		ModerateSwitches:        3,
		ModerateSwitchMerchants: 3,

		CriticalOverdueRate: 30,
		ModerateOverdueRate: 15,
		HighLateRate:        40,

		VelocityLookbackDays:    180,
		VelocityMinMonths:       2,
		VelocityCountMultiplier: 3,
		VelocityCountFloor:      5,
		VelocityValueMultiplier: 4,
		VelocityValueFloor:      20000,

		ProductLookbackDays: 90,
		ProductMinRequests:  3,
		HighValueThreshold:  10000,
		HighValueMinCount:   3,
		SimilarProductMin:   2,
		LuxuryMinCount:      3,

		BehaviorMinRequests: 5,
		ShortGapHours:       1,
		ShortGapMinCount:    3,
		AmountVariance:      50000,

		MediumScore:   30,
		HighScore:     60,
		CriticalScore: 80,

		AlertDedupHours: 24,
	}
}

// thresholdSetters maps override keys to field setters. GET /thresholds uses
// the JSON tags above; PUT /thresholds resolves keys through this table.
var thresholdSetters = map[string]func(*Thresholds, float64){
	"rapid_requests_1h":         func(t *Thresholds, v float64) { t.RapidRequests1h = int(v) },
	"rapid_requests_24h":        func(t *Thresholds, v float64) { t.RapidRequests24h = int(v) },
	"rapid_requests_7d":         func(t *Thresholds, v float64) { t.RapidRequests7d = int(v) },
	"critical_debt":             func(t *Thresholds, v float64) { t.CriticalDebt = v },
	"high_debt":                 func(t *Thresholds, v float64) { t.HighDebt = v },
	"moderate_debt":             func(t *Thresholds, v float64) { t.ModerateDebt = v },
	"moderate_debt_min_plans":   func(t *Thresholds, v float64) { t.ModerateDebtMinPlans = int(v) },
	"max_active_plans":          func(t *Thresholds, v float64) { t.MaxActivePlans = int(v) },
	"max_merchants":             func(t *Thresholds, v float64) { t.MaxMerchants = int(v) },
	"chain_lookback_days":       func(t *Thresholds, v float64) { t.ChainLookbackDays = int(v) },
	"chain_min_plans":           func(t *Thresholds, v float64) { t.ChainMinPlans = int(v) },
	"rapid_switch_days":         func(t *Thresholds, v float64) { t.RapidSwitchDays = int(v) },
	"critical_rapid_switches":   func(t *Thresholds, v float64) { t.CriticalRapidSwitches = int(v) },
	"high_switches":             func(t *Thresholds, v float64) { t.HighSwitches = int(v) },
	"high_switch_merchants":     func(t *Thresholds, v float64) { t.HighSwitchMerchants = int(v) },
	"moderate_switches":         func(t *Thresholds, v float64) { t.ModerateSwitches = int(v) },
	"moderate_switch_merchants": func(t *Thresholds, v float64) { t.ModerateSwitchMerchants = int(v) },
	"critical_overdue_rate":     func(t *Thresholds, v float64) { t.CriticalOverdueRate = v },
	"moderate_overdue_rate":     func(t *Thresholds, v float64) { t.ModerateOverdueRate = v },
	"high_late_rate":            func(t *Thresholds, v float64) { t.HighLateRate = v },
	"velocity_lookback_days":    func(t *Thresholds, v float64) { t.VelocityLookbackDays = int(v) },
	"velocity_min_months":       func(t *Thresholds, v float64) { t.VelocityMinMonths = int(v) },
	"velocity_count_multiplier": func(t *Thresholds, v float64) { t.VelocityCountMultiplier = v },
	"velocity_count_floor":      func(t *Thresholds, v float64) { t.VelocityCountFloor = int(v) },
	"velocity_value_multiplier": func(t *Thresholds, v float64) { t.VelocityValueMultiplier = v },
	"velocity_value_floor":      func(t *Thresholds, v float64) { t.VelocityValueFloor = v },
	"product_lookback_days":     func(t *Thresholds, v float64) { t.ProductLookbackDays = int(v) },
	"product_min_requests":      func(t *Thresholds, v float64) { t.ProductMinRequests = int(v) },
	"high_value_threshold":      func(t *Thresholds, v float64) { t.HighValueThreshold = v },
	"high_value_min_count":      func(t *Thresholds, v float64) { t.HighValueMinCount = int(v) },
	"similar_product_min":       func(t *Thresholds, v float64) { t.SimilarProductMin = int(v) },
	"luxury_min_count":          func(t *Thresholds, v float64) { t.LuxuryMinCount = int(v) },
	"behavior_min_requests":     func(t *Thresholds, v float64) { t.BehaviorMinRequests = int(v) },
	"short_gap_hours":           func(t *Thresholds, v float64) { t.ShortGapHours = v },
	"short_gap_min_count":       func(t *Thresholds, v float64) { t.ShortGapMinCount = int(v) },
	"amount_variance":           func(t *Thresholds, v float64) { t.AmountVariance = v },
	"medium_score":              func(t *Thresholds, v float64) { t.MediumScore = v },
	"high_score":                func(t *Thresholds, v float64) { t.HighScore = v },
	"critical_score":            func(t *Thresholds, v float64) { t.CriticalScore = v },
	"alert_dedup_hours":         func(t *Thresholds, v float64) { t.AlertDedupHours = int(v) },
}

// Validate rejects threshold sets a detector could not safely run with.
func (t Thresholds) Validate() error {
	type check struct {
		field string
		value float64
	}
	nonNegative := []check{
		{"rapid_requests_1h", float64(t.RapidRequests1h)},
		{"rapid_requests_24h", float64(t.RapidRequests24h)},
		{"rapid_requests_7d", float64(t.RapidRequests7d)},
		{"critical_debt", t.CriticalDebt},
		{"high_debt", t.HighDebt},
		{"moderate_debt", t.ModerateDebt},
		{"critical_overdue_rate", t.CriticalOverdueRate},
		{"moderate_overdue_rate", t.ModerateOverdueRate},
		{"high_late_rate", t.HighLateRate},
		{"high_value_threshold", t.HighValueThreshold},
		{"amount_variance", t.AmountVariance},
		{"short_gap_hours", t.ShortGapHours},
		{"medium_score", t.MediumScore},
		{"high_score", t.HighScore},
		{"critical_score", t.CriticalScore},
	}
	for _, c := range nonNegative {
		if c.value < 0 {
			return &ValidationError{Field: c.field, Reason: "must be non-negative"}
		}
	}

	// Minimum-sample counts must stay at least 1: the chain and behavior
	// detectors read the first element right after the count guard, and the
	// velocity detector divides by the observed month count.
	positive := []check{
		{"chain_lookback_days", float64(t.ChainLookbackDays)},
		{"chain_min_plans", float64(t.ChainMinPlans)},
		{"rapid_switch_days", float64(t.RapidSwitchDays)},
		{"velocity_lookback_days", float64(t.VelocityLookbackDays)},
		{"velocity_min_months", float64(t.VelocityMinMonths)},
		{"behavior_min_requests", float64(t.BehaviorMinRequests)},
		{"velocity_count_multiplier", t.VelocityCountMultiplier},
		{"velocity_value_multiplier", t.VelocityValueMultiplier},
		{"product_lookback_days", float64(t.ProductLookbackDays)},
		{"alert_dedup_hours", float64(t.AlertDedupHours)},
	}
	for _, c := range positive {
		if c.value <= 0 {
			return &ValidationError{Field: c.field, Reason: "must be positive"}
		}
	}

	if !(t.MediumScore < t.HighScore && t.HighScore < t.CriticalScore) {
		return &ValidationError{Field: "score bands", Reason: "must be strictly increasing"}
	}
	return nil
}

// Apply overrides named thresholds. Unknown keys fail with a ConfigError and
// invalid values fail validation; either way t is left untouched.
func (t *Thresholds) Apply(overrides map[string]float64) error {
	for key := range overrides {
		if _, ok := thresholdSetters[key]; !ok {
			return &ConfigError{Key: key}
		}
	}

	updated := *t
	for key, value := range overrides {
		thresholdSetters[key](&updated, value)
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	*t = updated
	return nil
}
