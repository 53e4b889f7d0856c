package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// The profile scorer is the older heuristic risk check kept alongside the
// detector pipeline. It runs a fixed set of checks with its own weights,
// maintains one upserted risk profile row per customer, and raises alerts
// through the same dedup path as the main pipeline. Its thresholds are fixed
// and intentionally not tied to the configurable detector thresholds.
const (
	profileCriticalScore = 70
	profileHighScore     = 50
	profileMediumScore   = 30
)

// ProfileCheck is the outcome of one heuristic check.
type ProfileCheck struct {
	Name       string         `json:"name"`
	Suspicious bool           `json:"suspicious"`
	Points     float64        `json:"points"`
	Details    map[string]any `json:"details"`
}

// RiskProfile is the aggregate outcome of a profile scoring run. Only
// suspicious checks contribute their points to the score.
type RiskProfile struct {
	CustomerID       string           `json:"customerId"`
	RiskScore        float64          `json:"riskScore"`
	RiskLevel        domain.RiskLevel `json:"riskLevel"`
	Checks           []ProfileCheck   `json:"checks"`
	SuspiciousChecks []string         `json:"suspiciousChecks"`
	EvaluatedAt      time.Time        `json:"evaluatedAt"`
}

// ScoreProfile runs the heuristic checks for one customer, upserts the
// customer's risk profile row, and raises a deduplicated alert when the
// profile lands in the high or critical band.
func (e *Engine) ScoreProfile(ctx context.Context, customerID string) (*RiskProfile, error) {
	exists, err := e.repo.CustomerExists(ctx, customerID)
	if err != nil {
		return nil, &domain.DataAccessError{Op: "customer lookup", Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrNotFound)
	}

	now := e.clock.Now().UTC()

	checks := make([]ProfileCheck, 0, 6)
	for _, run := range []func(context.Context, string, time.Time) (ProfileCheck, error){
		e.checkRequestFrequency,
		e.checkDebtExposure,
		e.checkPlanLoad,
		e.checkMerchantSpread,
		e.checkPaymentHistory,
		e.checkProductProfile,
	} {
		check, err := run(ctx, customerID, now)
		if err != nil {
			return nil, &domain.DataAccessError{Op: check.Name, Err: err}
		}
		checks = append(checks, check)
	}

	total := 0.0
	var suspicious []string
	for _, c := range checks {
		if c.Suspicious {
			total += c.Points
			suspicious = append(suspicious, c.Name)
		}
	}

	level := domain.RiskLow
	switch {
	case total >= profileCriticalScore:
		level = domain.RiskCritical
	case total >= profileHighScore:
		level = domain.RiskHigh
	case total >= profileMediumScore:
		level = domain.RiskMedium
	}

	profile := &RiskProfile{
		CustomerID:       customerID,
		RiskScore:        total,
		RiskLevel:        level,
		Checks:           checks,
		SuspiciousChecks: suspicious,
		EvaluatedAt:      now,
	}

	if err := e.persistProfile(ctx, profile, now); err != nil {
		return nil, err
	}

	slog.Info("risk profile updated",
		"customer_id", customerID,
		"risk_level", level,
		"risk_score", total,
		"suspicious_checks", len(suspicious),
	)

	return profile, nil
}

func (e *Engine) persistProfile(ctx context.Context, profile *RiskProfile, now time.Time) error {
	checkData := make([]map[string]any, len(profile.Checks))
	for i, c := range profile.Checks {
		checkData[i] = map[string]any{
			"name":       c.Name,
			"suspicious": c.Suspicious,
			"points":     c.Points,
			"details":    c.Details,
		}
	}

	snapshot := &domain.PatternSnapshot{
		ID:          uuid.New().String(),
		CustomerID:  profile.CustomerID,
		PatternType: domain.SnapshotRiskProfile,
		Data: map[string]any{
			"risk_score":        profile.RiskScore,
			"risk_level":        string(profile.RiskLevel),
			"checks":            checkData,
			"suspicious_checks": profile.SuspiciousChecks,
		},
		RiskScore:  profile.RiskScore / 100,
		DetectedAt: now,
	}

	lock := e.customerLock(profile.CustomerID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.repo.UpsertRiskPattern(ctx, snapshot); err != nil {
		return &domain.DataAccessError{Op: "upsert risk profile", Err: err}
	}

	if profile.RiskLevel != domain.RiskHigh && profile.RiskLevel != domain.RiskCritical {
		return nil
	}

	severity := domain.SeverityHigh
	if profile.RiskLevel == domain.RiskCritical {
		severity = domain.SeverityCritical
	}
	alert := &domain.FraudAlert{
		ID:          uuid.New().String(),
		CustomerID:  profile.CustomerID,
		AlertType:   domain.AlertComprehensiveRisk,
		Description: fmt.Sprintf("Risk profile score %.0f (%s): %s", profile.RiskScore, profile.RiskLevel, strings.Join(profile.SuspiciousChecks, ", ")),
		Metadata: map[string]any{
			"risk_score":        profile.RiskScore,
			"suspicious_checks": profile.SuspiciousChecks,
		},
		Severity:  severity,
		Status:    domain.AlertActive,
		CreatedAt: now,
	}

	th := e.Thresholds()
	_, created, err := e.repo.SaveAnalysis(ctx, nil, alert, time.Duration(th.AlertDedupHours)*time.Hour)
	if err != nil {
		return &domain.DataAccessError{Op: "save profile alert", Err: err}
	}
	if created && e.bus != nil {
		if payload, err := json.Marshal(alert); err == nil {
			if err := e.bus.Publish(ctx, domain.TopicAlertRaised, payload); err != nil {
				slog.Error("failed to publish alert",
					"customer_id", profile.CustomerID,
					"alert_id", alert.ID,
					"error", err,
				)
			}
		}
	}
	return nil
}

func (e *Engine) checkRequestFrequency(ctx context.Context, customerID string, now time.Time) (ProfileCheck, error) {
	check := ProfileCheck{Name: "recent_request_frequency"}

	last24h, err := e.repo.CountRequestsSince(ctx, customerID, now.Add(-24*time.Hour))
	if err != nil {
		return check, err
	}
	last7d, err := e.repo.CountRequestsSince(ctx, customerID, now.AddDate(0, 0, -7))
	if err != nil {
		return check, err
	}
	last30d, err := e.repo.CountRequestsSince(ctx, customerID, now.AddDate(0, 0, -30))
	if err != nil {
		return check, err
	}

	switch {
	case last24h >= 3:
		check.Suspicious, check.Points = true, 25
	case last7d >= 10:
		check.Suspicious, check.Points = true, 20
	case last30d >= 20:
		check.Suspicious, check.Points = true, 15
	}
	check.Details = map[string]any{
		"requests_last_24h": last24h,
		"requests_last_7d":  last7d,
		"requests_last_30d": last30d,
	}
	return check, nil
}

func (e *Engine) checkDebtExposure(ctx context.Context, customerID string, now time.Time) (ProfileCheck, error) {
	check := ProfileCheck{Name: "debt_exposure"}

	debt, err := e.repo.ActiveDebt(ctx, customerID)
	if err != nil {
		return check, err
	}

	switch {
	case debt.TotalDebt > 50000:
		check.Suspicious, check.Points = true, 20
	case debt.TotalDebt > 25000:
		check.Points = 10
	}
	check.Details = map[string]any{"total_debt": debt.TotalDebt}
	return check, nil
}

func (e *Engine) checkPlanLoad(ctx context.Context, customerID string, now time.Time) (ProfileCheck, error) {
	check := ProfileCheck{Name: "active_plan_load"}

	debt, err := e.repo.ActiveDebt(ctx, customerID)
	if err != nil {
		return check, err
	}

	switch {
	case debt.ActivePlans > 5:
		check.Suspicious, check.Points = true, 15
	case debt.ActivePlans > 3:
		check.Points = 8
	}
	check.Details = map[string]any{"active_plans": debt.ActivePlans}
	return check, nil
}

func (e *Engine) checkMerchantSpread(ctx context.Context, customerID string, now time.Time) (ProfileCheck, error) {
	check := ProfileCheck{Name: "merchant_distribution"}

	plans, err := e.repo.ListPlansSince(ctx, customerID, now.AddDate(0, 0, -90))
	if err != nil {
		return check, err
	}

	merchants := map[string]struct{}{}
	switches := 0
	for i, p := range plans {
		merchants[p.MerchantID] = struct{}{}
		if i > 0 && p.MerchantID != plans[i-1].MerchantID {
			switches++
		}
	}

	switch {
	case len(merchants) >= 5 && len(plans) >= 5:
		check.Suspicious, check.Points = true, 25
	case len(merchants) >= 3 && switches >= 3:
		check.Suspicious, check.Points = true, 15
	}
	check.Details = map[string]any{
		"recent_plans":      len(plans),
		"unique_merchants":  len(merchants),
		"merchant_switches": switches,
	}
	return check, nil
}

func (e *Engine) checkPaymentHistory(ctx context.Context, customerID string, now time.Time) (ProfileCheck, error) {
	check := ProfileCheck{Name: "payment_history"}

	defaulted, err := e.repo.CountPlansByStatus(ctx, customerID, domain.PlanDefaulted)
	if err != nil {
		return check, err
	}
	payments, err := e.repo.ListPayments(ctx, customerID)
	if err != nil {
		return check, err
	}

	overdueRate := 0.0
	if len(payments) > 0 {
		overdue := 0
		for _, p := range payments {
			if p.Status == domain.PaymentOverdue {
				overdue++
			}
		}
		overdueRate = float64(overdue) / float64(len(payments)) * 100
	}

	switch {
	case defaulted > 0:
		check.Suspicious, check.Points = true, 30
	case overdueRate > 20:
		check.Suspicious, check.Points = true, 20
	case overdueRate > 10:
		check.Points = 10
	}
	check.Details = map[string]any{
		"defaulted_plans": defaulted,
		"overdue_rate":    overdueRate,
	}
	return check, nil
}

func (e *Engine) checkProductProfile(ctx context.Context, customerID string, now time.Time) (ProfileCheck, error) {
	check := ProfileCheck{Name: "product_profile"}

	requests, err := e.repo.ListRequestsSince(ctx, customerID, now.AddDate(0, 0, -90))
	if err != nil {
		return check, err
	}

	highValue := 0
	names := map[string]struct{}{}
	for _, r := range requests {
		if r.ProductValue > 10000 {
			highValue++
		}
		names[strings.ToLower(r.ProductName)] = struct{}{}
	}
	similar := len(requests) - len(names)

	points := 0.0
	if highValue >= 3 {
		points += 15
	}
	if similar >= 2 {
		points += 10
	}
	if points > 0 {
		check.Suspicious, check.Points = true, points
	}
	check.Details = map[string]any{
		"recent_requests":     len(requests),
		"high_value_requests": highValue,
		"duplicate_products":  similar,
	}
	return check, nil
}
