package domain

import (
	"time"
)

// AlertType classifies a fraud alert.
type AlertType string

const (
	AlertRapidRequests     AlertType = "rapid_requests"
	AlertHighDebtRatio     AlertType = "high_debt_ratio"
	AlertCrossMerchant     AlertType = "cross_business_chain"
	AlertPaymentDefault    AlertType = "payment_default_pattern"
	AlertComprehensiveRisk AlertType = "comprehensive_risk"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the reviewer-driven state of an alert.
type AlertStatus string

const (
	AlertActive        AlertStatus = "active"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

// Terminal reports whether the status ends the alert lifecycle.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertFalsePositive
}

// CanTransition reports whether a reviewer may move an alert from s to next.
// The engine only ever creates alerts in AlertActive; terminal alerts are
// never transitioned.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case AlertActive:
		return next == AlertInvestigating || next == AlertResolved || next == AlertFalsePositive
	case AlertInvestigating:
		return next == AlertResolved || next == AlertFalsePositive
	}
	return false
}

// FraudAlert is a persisted, reviewer-mutable alert record.
type FraudAlert struct {
	ID          string         `json:"id"`
	CustomerID  string         `json:"customerId"`
	AlertType   AlertType      `json:"alertType"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Severity    AlertSeverity  `json:"severity"`
	Status      AlertStatus    `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
}

// Snapshot pattern types.
const (
	// SnapshotComprehensive is the append-only audit record written once per
	// analysis run by the seven-detector engine.
	SnapshotComprehensive = "comprehensive_analysis"

	// SnapshotRiskProfile is the upsert-style record maintained by the legacy
	// profile scorer. One row per customer, updated in place.
	SnapshotRiskProfile = "comprehensive_risk"
)

// PatternSnapshot is an audit record of one scoring run. RiskScore is stored
// as a 0-1 fraction of the 0-100 verdict score.
type PatternSnapshot struct {
	ID          string         `json:"id"`
	CustomerID  string         `json:"customerId"`
	PatternType string         `json:"patternType"`
	Data        map[string]any `json:"data"`
	RiskScore   float64        `json:"riskScore"`
	DetectedAt  time.Time      `json:"detectedAt"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	CustomerID string
	Severity   AlertSeverity
	Status     AlertStatus
	Limit      int
}

// TrendPoint is one day of snapshot activity, used by risk-trend reporting.
type TrendPoint struct {
	Date         string  `json:"date"`
	PatternCount int     `json:"patternCount"`
	AvgRiskScore float64 `json:"avgRiskScore"`
}
