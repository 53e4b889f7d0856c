package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func seedCustomer(t *testing.T, repo domain.Repository, id string) {
	t.Helper()
	if err := repo.SaveCustomer(context.Background(), &domain.Customer{
		ID:        id,
		FullName:  "Test Customer",
		CreatedAt: time.Now().UTC().AddDate(-1, 0, 0),
	}); err != nil {
		t.Fatalf("SaveCustomer failed: %v", err)
	}
}

func TestCustomerHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedCustomer(t, repo, "cust-001")

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("CustomerExists", func(t *testing.T) {
		exists, err := repo.CustomerExists(ctx, "cust-001")
		if err != nil || !exists {
			t.Errorf("expected customer to exist, got exists=%v err=%v", exists, err)
		}

		exists, err = repo.CustomerExists(ctx, "ghost")
		if err != nil || exists {
			t.Errorf("expected ghost to not exist, got exists=%v err=%v", exists, err)
		}
	})

	t.Run("RequestsSince", func(t *testing.T) {
		times := []time.Time{
			now.Add(-30 * time.Minute),
			now.Add(-2 * time.Hour),
			now.AddDate(0, 0, -3),
		}
		for i, ts := range times {
			if err := repo.SaveRequest(ctx, &domain.InstallmentRequest{
				ID:           "req-" + string(rune('a'+i)),
				CustomerID:   "cust-001",
				MerchantID:   "m-001",
				ProductName:  "tv",
				ProductValue: 2000,
				Months:       12,
				Status:       domain.RequestPending,
				CreatedAt:    ts,
			}); err != nil {
				t.Fatalf("SaveRequest failed: %v", err)
			}
		}

		count, err := repo.CountRequestsSince(ctx, "cust-001", now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountRequestsSince failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 request in the last hour, got %d", count)
		}

		requests, err := repo.ListRequestsSince(ctx, "cust-001", now.AddDate(0, 0, -7))
		if err != nil {
			t.Fatalf("ListRequestsSince failed: %v", err)
		}
		if len(requests) != 3 {
			t.Fatalf("expected 3 requests in the last week, got %d", len(requests))
		}
		// Oldest first.
		if !requests[0].CreatedAt.Before(requests[1].CreatedAt) {
			t.Errorf("expected ascending order, got %v then %v", requests[0].CreatedAt, requests[1].CreatedAt)
		}
	})

	t.Run("ActiveDebt", func(t *testing.T) {
		plans := []*domain.InstallmentPlan{
			{ID: "plan-a", CustomerID: "cust-001", MerchantID: "m-001", TotalAmount: 12000, RemainingAmount: 9000, Installments: 12, Status: domain.PlanActive, CreatedAt: now.AddDate(0, -1, 0)},
			{ID: "plan-b", CustomerID: "cust-001", MerchantID: "m-002", TotalAmount: 6000, RemainingAmount: 3000, Installments: 6, Status: domain.PlanActive, CreatedAt: now.AddDate(0, 0, -10)},
			{ID: "plan-c", CustomerID: "cust-001", MerchantID: "m-003", TotalAmount: 4000, RemainingAmount: 0, Installments: 4, Status: domain.PlanCompleted, CreatedAt: now.AddDate(0, -3, 0)},
		}
		for _, p := range plans {
			if err := repo.SavePlan(ctx, p); err != nil {
				t.Fatalf("SavePlan failed: %v", err)
			}
		}

		debt, err := repo.ActiveDebt(ctx, "cust-001")
		if err != nil {
			t.Fatalf("ActiveDebt failed: %v", err)
		}
		if debt.TotalDebt != 12000 {
			t.Errorf("expected total debt 12000, got %v", debt.TotalDebt)
		}
		if debt.ActivePlans != 2 || debt.UniqueMerchants != 2 {
			t.Errorf("expected 2 plans across 2 merchants, got %d/%d", debt.ActivePlans, debt.UniqueMerchants)
		}

		completed, err := repo.CountPlansByStatus(ctx, "cust-001", domain.PlanCompleted)
		if err != nil || completed != 1 {
			t.Errorf("expected 1 completed plan, got %d err=%v", completed, err)
		}
	})

	t.Run("PaymentsAcrossPlans", func(t *testing.T) {
		paid := now.AddDate(0, 0, -5)
		payments := []*domain.Payment{
			{ID: "pay-a", PlanID: "plan-a", Amount: 1000, DueDate: now.AddDate(0, 0, -10), PaidDate: &paid, Status: domain.PaymentPaid},
			{ID: "pay-b", PlanID: "plan-b", Amount: 1000, DueDate: now.AddDate(0, 0, -20), Status: domain.PaymentOverdue},
		}
		for _, p := range payments {
			if err := repo.SavePayment(ctx, p); err != nil {
				t.Fatalf("SavePayment failed: %v", err)
			}
		}

		got, err := repo.ListPayments(ctx, "cust-001")
		if err != nil {
			t.Fatalf("ListPayments failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 payments, got %d", len(got))
		}
		if got[0].ID != "pay-b" {
			t.Errorf("expected earliest due date first, got %s", got[0].ID)
		}
		if got[1].PaidDate == nil {
			t.Error("expected paid date to round-trip")
		}
	})
}

func TestSaveAnalysis(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	snapshot := func(id string, at time.Time) *domain.PatternSnapshot {
		return &domain.PatternSnapshot{
			ID:          id,
			CustomerID:  "cust-001",
			PatternType: domain.SnapshotComprehensive,
			Data:        map[string]any{"risk_level": "high", "risk_score": 65.0},
			RiskScore:   0.65,
			DetectedAt:  at,
		}
	}
	alert := func(id string, at time.Time) *domain.FraudAlert {
		return &domain.FraudAlert{
			ID:          id,
			CustomerID:  "cust-001",
			AlertType:   domain.AlertComprehensiveRisk,
			Description: "high risk",
			Metadata:    map[string]any{"risk_score": 65.0},
			Severity:    domain.SeverityHigh,
			Status:      domain.AlertActive,
			CreatedAt:   at,
		}
	}

	t.Run("SnapshotWithoutAlert", func(t *testing.T) {
		saved, created, err := repo.SaveAnalysis(ctx, snapshot("snap-1", now), nil, 24*time.Hour)
		if err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
		if saved != nil || created {
			t.Errorf("expected no alert, got %v created=%v", saved, created)
		}

		snaps, err := repo.ListSnapshots(ctx, "cust-001", 10)
		if err != nil || len(snaps) != 1 {
			t.Fatalf("expected 1 snapshot, got %d err=%v", len(snaps), err)
		}
		if snaps[0].Data["risk_level"] != "high" {
			t.Errorf("expected snapshot data to round-trip, got %v", snaps[0].Data)
		}
	})

	t.Run("AlertCreatedThenDeduplicated", func(t *testing.T) {
		saved, created, err := repo.SaveAnalysis(ctx, snapshot("snap-2", now), alert("alert-1", now), 24*time.Hour)
		if err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
		if !created || saved.ID != "alert-1" {
			t.Fatalf("expected new alert, got created=%v id=%s", created, saved.ID)
		}

		// Second run inside the window returns the existing alert.
		later := now.Add(2 * time.Hour)
		saved, created, err = repo.SaveAnalysis(ctx, snapshot("snap-3", later), alert("alert-2", later), 24*time.Hour)
		if err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
		if created || saved.ID != "alert-1" {
			t.Errorf("expected dedup to existing alert, got created=%v id=%s", created, saved.ID)
		}

		// Outside the window a new alert is created.
		outside := now.Add(30 * time.Hour)
		saved, created, err = repo.SaveAnalysis(ctx, snapshot("snap-4", outside), alert("alert-3", outside), 24*time.Hour)
		if err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
		if !created || saved.ID != "alert-3" {
			t.Errorf("expected new alert outside window, got created=%v id=%s", created, saved.ID)
		}

		// All snapshots were appended regardless of dedup.
		snaps, err := repo.ListSnapshots(ctx, "cust-001", 10)
		if err != nil || len(snaps) != 4 {
			t.Errorf("expected 4 snapshots, got %d err=%v", len(snaps), err)
		}
	})

	t.Run("NilSnapshotAlertOnly", func(t *testing.T) {
		at := now.Add(100 * time.Hour)
		saved, created, err := repo.SaveAnalysis(ctx, nil, alert("alert-4", at), 24*time.Hour)
		if err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
		if !created || saved.ID != "alert-4" {
			t.Errorf("expected alert without snapshot, got created=%v", created)
		}
	})
}

func TestAlertReview(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mkAlert := func(id, customer string, severity domain.AlertSeverity, at time.Time) {
		t.Helper()
		_, _, err := repo.SaveAnalysis(ctx, nil, &domain.FraudAlert{
			ID:          id,
			CustomerID:  customer,
			AlertType:   domain.AlertComprehensiveRisk,
			Description: "test alert",
			Severity:    severity,
			Status:      domain.AlertActive,
			CreatedAt:   at,
		}, time.Hour)
		if err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
	}

	mkAlert("alert-1", "cust-001", domain.SeverityHigh, now.Add(-3*time.Hour))
	mkAlert("alert-2", "cust-002", domain.SeverityCritical, now.Add(-2*time.Hour))
	mkAlert("alert-3", "cust-001", domain.SeverityHigh, now.Add(-1*time.Hour))

	t.Run("ListWithFilters", func(t *testing.T) {
		all, err := repo.ListAlerts(ctx, domain.AlertFilter{})
		if err != nil || len(all) != 3 {
			t.Fatalf("expected 3 alerts, got %d err=%v", len(all), err)
		}
		if all[0].ID != "alert-3" {
			t.Errorf("expected newest first, got %s", all[0].ID)
		}

		critical, err := repo.ListAlerts(ctx, domain.AlertFilter{Severity: domain.SeverityCritical})
		if err != nil || len(critical) != 1 || critical[0].ID != "alert-2" {
			t.Errorf("expected only the critical alert, got %v err=%v", critical, err)
		}

		byCustomer, err := repo.ListAlerts(ctx, domain.AlertFilter{CustomerID: "cust-001", Limit: 1})
		if err != nil || len(byCustomer) != 1 {
			t.Errorf("expected limit applied, got %d err=%v", len(byCustomer), err)
		}
	})

	t.Run("GetAlert", func(t *testing.T) {
		a, err := repo.GetAlert(ctx, "alert-1")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if a.Severity != domain.SeverityHigh || a.Status != domain.AlertActive {
			t.Errorf("unexpected alert %+v", a)
		}

		if _, err := repo.GetAlert(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("StatusTransitions", func(t *testing.T) {
		a, err := repo.UpdateAlertStatus(ctx, "alert-1", domain.AlertInvestigating)
		if err != nil {
			t.Fatalf("UpdateAlertStatus failed: %v", err)
		}
		if a.Status != domain.AlertInvestigating || a.ResolvedAt != nil {
			t.Errorf("unexpected alert after transition: %+v", a)
		}

		a, err = repo.UpdateAlertStatus(ctx, "alert-1", domain.AlertResolved)
		if err != nil {
			t.Fatalf("UpdateAlertStatus failed: %v", err)
		}
		if a.Status != domain.AlertResolved || a.ResolvedAt == nil {
			t.Errorf("expected resolved with timestamp, got %+v", a)
		}

		// Terminal alerts cannot move again.
		_, err = repo.UpdateAlertStatus(ctx, "alert-1", domain.AlertActive)
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})
}

func TestRiskPatternUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &domain.PatternSnapshot{
		ID:          "risk-1",
		CustomerID:  "cust-001",
		PatternType: domain.SnapshotRiskProfile,
		Data:        map[string]any{"risk_score": 20.0},
		RiskScore:   0.2,
		DetectedAt:  now.Add(-time.Hour),
	}
	if err := repo.UpsertRiskPattern(ctx, first); err != nil {
		t.Fatalf("UpsertRiskPattern failed: %v", err)
	}

	second := &domain.PatternSnapshot{
		ID:          "risk-2",
		CustomerID:  "cust-001",
		PatternType: domain.SnapshotRiskProfile,
		Data:        map[string]any{"risk_score": 65.0},
		RiskScore:   0.65,
		DetectedAt:  now,
	}
	if err := repo.UpsertRiskPattern(ctx, second); err != nil {
		t.Fatalf("UpsertRiskPattern failed: %v", err)
	}

	got, err := repo.GetRiskPattern(ctx, "cust-001")
	if err != nil {
		t.Fatalf("GetRiskPattern failed: %v", err)
	}
	if got.RiskScore != 0.65 {
		t.Errorf("expected updated risk score 0.65, got %v", got.RiskScore)
	}

	snaps, err := repo.ListSnapshots(ctx, "cust-001", 10)
	if err != nil || len(snaps) != 1 {
		t.Errorf("expected a single upserted row, got %d err=%v", len(snaps), err)
	}

	if _, err := repo.GetRiskPattern(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.RuleConfig{
		ID:          "rule-1",
		Name:        "big_spender",
		Description: "flags heavy scorers",
		Expression:  "risk_points > 50.0",
		RiskPoints:  10,
		Confidence:  0.7,
		Enabled:     true,
	}
	if err := repo.SaveRuleConfig(ctx, rule); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	// Update in place via upsert.
	rule.RiskPoints = 20
	rule.Enabled = false
	if err := repo.SaveRuleConfig(ctx, rule); err != nil {
		t.Fatalf("SaveRuleConfig update failed: %v", err)
	}

	configs, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		t.Fatalf("ListRuleConfigs failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(configs))
	}
	if configs[0].RiskPoints != 20 || configs[0].Enabled {
		t.Errorf("expected updated rule, got %+v", configs[0])
	}
}
