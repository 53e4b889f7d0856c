// Package integration provides end-to-end tests for the Kestrel analysis
// pipeline: history reads, the seven detectors, aggregation, persistence,
// alert deduplication, and batch fan-out, all against a real sqlite file.
package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	repo   domain.Repository
	engine *engine.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-integration-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpFile.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	t.Cleanup(func() {
		repo.Close()
		os.Remove(tmpFile.Name())
	})

	ruleEngine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	eng := engine.New(repo, nil, nil, ruleEngine, clockwork.NewFakeClockAt(testNow), domain.EngineConfig{
		MaxBatchSize: 10,
		BatchWorkers: 2,
	})

	return &testEnv{repo: repo, engine: eng}
}

func (env *testEnv) seedCustomer(t *testing.T, id string) {
	t.Helper()
	err := env.repo.SaveCustomer(context.Background(), &domain.Customer{
		ID:        id,
		FullName:  "Integration Customer",
		CreatedAt: testNow.AddDate(-1, 0, 0),
	})
	if err != nil {
		t.Fatalf("failed to seed customer: %v", err)
	}
}

func (env *testEnv) seedPlan(t *testing.T, customerID, merchantID string, remaining float64, status domain.PlanStatus, createdAt time.Time) string {
	t.Helper()
	id := fmt.Sprintf("plan-%s-%s-%d", customerID, merchantID, createdAt.UnixNano())
	err := env.repo.SavePlan(context.Background(), &domain.InstallmentPlan{
		ID:              id,
		RequestID:       "req-" + id,
		CustomerID:      customerID,
		MerchantID:      merchantID,
		TotalAmount:     remaining * 1.25,
		PaidAmount:      remaining * 0.25,
		RemainingAmount: remaining,
		Installments:    12,
		Status:          status,
		CreatedAt:       createdAt,
	})
	if err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
	return id
}

func TestAnalyzeCleanCustomer(t *testing.T) {
	env := newTestEnv(t)
	env.seedCustomer(t, "cust-clean")

	verdict, err := env.engine.Analyze(context.Background(), "cust-clean")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if verdict.RiskLevel != domain.RiskLow {
		t.Errorf("expected low risk, got %s", verdict.RiskLevel)
	}
	if verdict.RiskScore != 0 {
		t.Errorf("expected score 0, got %f", verdict.RiskScore)
	}
	if verdict.ConfidenceScore != 0.5 {
		t.Errorf("expected neutral confidence 0.5, got %f", verdict.ConfidenceScore)
	}
	if verdict.ShouldBlock || verdict.RequiresManualReview {
		t.Error("clean customer must not be blocked or reviewed")
	}

	// Every run appends an audit snapshot, even a clean one
	snapshots, err := env.repo.ListSnapshots(context.Background(), "cust-clean", 10)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	if snapshots[0].PatternType != domain.SnapshotComprehensive {
		t.Errorf("expected comprehensive snapshot, got %s", snapshots[0].PatternType)
	}

	// But no alert
	alerts, err := env.repo.ListAlerts(context.Background(), domain.AlertFilter{CustomerID: "cust-clean"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %d", len(alerts))
	}
}

func TestAnalyzeUnknownCustomer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.Analyze(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMerchantChainDetection(t *testing.T) {
	env := newTestEnv(t)
	env.seedCustomer(t, "cust-chain")

	// Four plans across four merchants inside ten days. Every adjacent pair
	// switches merchant within the rapid window, which lands in the top
	// chain tier.
	for i := 0; i < 4; i++ {
		env.seedPlan(t, "cust-chain", fmt.Sprintf("m-%d", i), 2000,
			domain.PlanActive, testNow.AddDate(0, 0, -10+i*3))
	}

	verdict, err := env.engine.Analyze(context.Background(), "cust-chain")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	found := false
	for _, p := range verdict.DetectedPatterns {
		if p == domain.PatternCrossMerchant {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cross-merchant chain pattern, got %v", verdict.DetectedPatterns)
	}
	if verdict.RiskScore != 35 {
		t.Errorf("expected score 35 from rapid chain tier, got %f", verdict.RiskScore)
	}
	if verdict.RiskLevel != domain.RiskMedium {
		t.Errorf("expected medium risk, got %s", verdict.RiskLevel)
	}
}

func TestDefaultedPlanDetection(t *testing.T) {
	env := newTestEnv(t)
	env.seedCustomer(t, "cust-default")

	planID := env.seedPlan(t, "cust-default", "m-1", 3000,
		domain.PlanDefaulted, testNow.AddDate(0, -6, 0))

	// The payment detector needs at least one payment on record
	err := env.repo.SavePayment(context.Background(), &domain.Payment{
		ID:      "pay-default-1",
		PlanID:  planID,
		Amount:  500,
		DueDate: testNow.AddDate(0, -5, 0),
		Status:  domain.PaymentOverdue,
	})
	if err != nil {
		t.Fatalf("SavePayment failed: %v", err)
	}

	verdict, err := env.engine.Analyze(context.Background(), "cust-default")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	found := false
	for _, p := range verdict.DetectedPatterns {
		if p == domain.PatternPaymentDefaults {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected payment default pattern, got %v", verdict.DetectedPatterns)
	}
	if verdict.RiskScore != 40 {
		t.Errorf("expected score 40 from defaulted plan tier, got %f", verdict.RiskScore)
	}
}

func TestHighDebtRaisesAndDeduplicatesAlert(t *testing.T) {
	env := newTestEnv(t)
	env.seedCustomer(t, "cust-debt")

	// 120k of active debt over eight plans and eight merchants stacks the
	// very-high-debt tier with the plan-load and merchant-spread bonuses,
	// landing in the high band. Old plan dates keep the chain detector quiet.
	for i := 0; i < 8; i++ {
		env.seedPlan(t, "cust-debt", fmt.Sprintf("m-%d", i), 15000,
			domain.PlanActive, testNow.AddDate(0, -8, i))
	}

	ctx := context.Background()

	verdict, err := env.engine.Analyze(ctx, "cust-debt")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	found := false
	for _, p := range verdict.DetectedPatterns {
		if p == domain.PatternHighDebtRatio {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected high debt pattern, got %v", verdict.DetectedPatterns)
	}

	alerts, err := env.repo.ListAlerts(ctx, domain.AlertFilter{CustomerID: "cust-debt"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	// A second run inside the dedup window must not create another alert but
	// must still append a snapshot.
	if _, err := env.engine.Analyze(ctx, "cust-debt"); err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}

	alerts, _ = env.repo.ListAlerts(ctx, domain.AlertFilter{CustomerID: "cust-debt"})
	if len(alerts) != 1 {
		t.Errorf("expected alert to deduplicate, got %d alerts", len(alerts))
	}

	snapshots, _ := env.repo.ListSnapshots(ctx, "cust-debt", 10)
	if len(snapshots) != 2 {
		t.Errorf("expected 2 snapshots after 2 runs, got %d", len(snapshots))
	}
}

func TestBatchAnalysisIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seedCustomer(t, "batch-a")
	env.seedCustomer(t, "batch-b")

	results, err := env.engine.AnalyzeBatch(context.Background(), []string{"batch-a", "ghost", "batch-b"})
	if err != nil {
		t.Fatalf("AnalyzeBatch failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Verdict == nil {
		t.Errorf("expected verdict for batch-a, got err %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for ghost, got %v", results[1].Err)
	}
	if results[2].Err != nil || results[2].Verdict == nil {
		t.Errorf("expected verdict for batch-b, got err %v", results[2].Err)
	}
}

func TestProfileScorerEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.seedCustomer(t, "cust-profile")

	// High debt plus heavy plan load pushes the legacy scorer into the high
	// band: 20 (debt) + 15 (plans) + 25 (merchant spread) = 60.
	for i := 0; i < 6; i++ {
		env.seedPlan(t, "cust-profile", fmt.Sprintf("m-%d", i), 10000,
			domain.PlanActive, testNow.AddDate(0, 0, -60+i*10))
	}

	ctx := context.Background()

	profile, err := env.engine.ScoreProfile(ctx, "cust-profile")
	if err != nil {
		t.Fatalf("ScoreProfile failed: %v", err)
	}

	if profile.RiskLevel != domain.RiskHigh {
		t.Errorf("expected high risk profile, got %s", profile.RiskLevel)
	}
	if profile.RiskScore != 60 {
		t.Errorf("expected profile score 60, got %f", profile.RiskScore)
	}

	// The profile row is upserted, not appended
	if _, err := env.engine.ScoreProfile(ctx, "cust-profile"); err != nil {
		t.Fatalf("second ScoreProfile failed: %v", err)
	}

	row, err := env.repo.GetRiskPattern(ctx, "cust-profile")
	if err != nil {
		t.Fatalf("GetRiskPattern failed: %v", err)
	}
	if row.PatternType != domain.SnapshotRiskProfile {
		t.Errorf("expected risk profile row, got %s", row.PatternType)
	}

	// High-band profiles raise a deduplicated alert
	alerts, err := env.repo.ListAlerts(ctx, domain.AlertFilter{CustomerID: "cust-profile"})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("expected 1 deduplicated alert, got %d", len(alerts))
	}
}
