package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Risk point weights for the payment history detector.
const (
	pointsDefaultedPlans  = 40
	pointsCriticalOverdue = 30
	pointsPoorPayment     = 20
)

// paymentDefaults scores the customer's repayment record. A single defaulted
// plan dominates; otherwise overdue and late-payment rates over the full
// payment history decide the tier.
type paymentDefaults struct{}

func (paymentDefaults) Name() string { return domain.PatternPaymentDefaults }

func (paymentDefaults) Detect(ctx context.Context, hist domain.HistoryReader, customerID string, th domain.Thresholds, now time.Time) (domain.PatternResult, error) {
	payments, err := hist.ListPayments(ctx, customerID)
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("list payments: %w", err)
	}

	if len(payments) == 0 {
		return insufficient(domain.PatternPaymentDefaults, "Poor repayment history", map[string]any{
			"total_payments": 0,
		}), nil
	}

	defaultedPlans, err := hist.CountPlansByStatus(ctx, customerID, domain.PlanDefaulted)
	if err != nil {
		return domain.PatternResult{}, fmt.Errorf("count defaulted plans: %w", err)
	}

	overdue := 0
	late := 0
	for _, p := range payments {
		if p.Status == domain.PaymentOverdue {
			overdue++
		}
		if p.Late() {
			late++
		}
	}
	overdueRate := float64(overdue) / float64(len(payments)) * 100
	lateRate := float64(late) / float64(len(payments)) * 100

	points := 0.0
	tier := ""
	switch {
	case defaultedPlans > 0:
		points = pointsDefaultedPlans
		tier = "defaulted_plans"
	case overdueRate > th.CriticalOverdueRate:
		points = pointsCriticalOverdue
		tier = "critical_overdue"
	case overdueRate > th.ModerateOverdueRate || lateRate > th.HighLateRate:
		points = pointsPoorPayment
		tier = "poor_payment"
	}

	detected := points > 0
	confidence := 0.1
	if detected {
		confidence = 0.9
	}

	return domain.PatternResult{
		Name:       domain.PatternPaymentDefaults,
		Detected:   detected,
		RiskPoints: points,
		Confidence: confidence,
		Details: map[string]any{
			"total_payments":  len(payments),
			"overdue_rate":    overdueRate,
			"late_rate":       lateRate,
			"defaulted_plans": defaultedPlans,
			"payment_tier":    tier,
		},
		Description: "Poor repayment history",
	}, nil
}
