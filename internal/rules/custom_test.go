package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func summary() []domain.PatternResult {
	return []domain.PatternResult{
		{
			Name:       domain.PatternRapidRequests,
			Detected:   true,
			RiskPoints: 40,
			Confidence: 0.9,
			Details:    map[string]any{"requests_last_hour": 3},
		},
		{
			Name:       domain.PatternHighDebtRatio,
			Detected:   false,
			RiskPoints: 0,
			Confidence: 0.2,
			Details:    map[string]any{"total_debt": 5000.0},
		},
	}
}

func TestLoadRule(t *testing.T) {
	e := newTestEngine(t)

	t.Run("valid rule compiles", func(t *testing.T) {
		err := e.LoadRule(&domain.RuleConfig{
			ID:         "r-1",
			Name:       "high_points",
			Expression: "risk_points > 30.0",
			RiskPoints: 10,
			Confidence: 0.8,
			Enabled:    true,
		})
		if err != nil {
			t.Fatalf("LoadRule failed: %v", err)
		}
		if e.RulesCount() != 1 {
			t.Errorf("Expected 1 loaded rule, got %d", e.RulesCount())
		}
	})

	t.Run("invalid syntax rejected", func(t *testing.T) {
		err := e.LoadRule(&domain.RuleConfig{
			ID:         "r-bad",
			Name:       "broken",
			Expression: "risk_points >>> 1",
			Confidence: 0.5,
		})
		if err == nil {
			t.Error("Expected compile error, got nil")
		}
	})

	t.Run("non-boolean expression rejected", func(t *testing.T) {
		err := e.LoadRule(&domain.RuleConfig{
			ID:         "r-num",
			Name:       "numeric",
			Expression: "risk_points + 1.0",
			Confidence: 0.5,
		})
		if err == nil {
			t.Error("Expected output type error, got nil")
		}
	})
}

func TestEvaluateAll(t *testing.T) {
	t.Run("matching rule contributes points", func(t *testing.T) {
		e := newTestEngine(t)
		if err := e.LoadRule(&domain.RuleConfig{
			ID:          "r-1",
			Name:        "burst_plus_points",
			Description: "Burst activity with elevated points",
			Expression:  `risk_points >= 40.0 && "rapid_requests" in detected`,
			RiskPoints:  15,
			Confidence:  0.75,
			Enabled:     true,
		}); err != nil {
			t.Fatalf("LoadRule failed: %v", err)
		}

		results := e.EvaluateAll(summary())
		if len(results) != 1 {
			t.Fatalf("Expected 1 result, got %d", len(results))
		}
		r := results[0]
		if !r.Detected || r.RiskPoints != 15 || r.Confidence != 0.75 {
			t.Errorf("Unexpected result: %+v", r)
		}
		if r.Name != "burst_plus_points" {
			t.Errorf("Expected rule name as pattern name, got %s", r.Name)
		}
	})

	t.Run("non-matching rule contributes nothing", func(t *testing.T) {
		e := newTestEngine(t)
		if err := e.LoadRule(&domain.RuleConfig{
			ID:         "r-1",
			Name:       "very_high",
			Expression: "risk_points > 90.0",
			RiskPoints: 20,
			Confidence: 0.9,
			Enabled:    true,
		}); err != nil {
			t.Fatalf("LoadRule failed: %v", err)
		}

		if results := e.EvaluateAll(summary()); len(results) != 0 {
			t.Errorf("Expected no results, got %v", results)
		}
	})

	t.Run("details are reachable by pattern name", func(t *testing.T) {
		e := newTestEngine(t)
		if err := e.LoadRule(&domain.RuleConfig{
			ID:         "r-1",
			Name:       "hourly_probe",
			Expression: `int(details["rapid_requests"]["requests_last_hour"]) >= 3`,
			RiskPoints: 5,
			Confidence: 0.6,
			Enabled:    true,
		}); err != nil {
			t.Fatalf("LoadRule failed: %v", err)
		}

		results := e.EvaluateAll(summary())
		if len(results) != 1 || !results[0].Detected {
			t.Fatalf("Expected detail-based rule to match, got %v", results)
		}
	})

	t.Run("runtime error surfaces without aborting", func(t *testing.T) {
		e := newTestEngine(t)
		if err := e.LoadRule(&domain.RuleConfig{
			ID:         "r-1",
			Name:       "missing_key",
			Expression: `int(details["no_such_pattern"]["count"]) > 0`,
			RiskPoints: 5,
			Confidence: 0.6,
			Enabled:    true,
		}); err != nil {
			t.Fatalf("LoadRule failed: %v", err)
		}

		results := e.EvaluateAll(summary())
		if len(results) != 1 {
			t.Fatalf("Expected 1 error result, got %d", len(results))
		}
		if results[0].Detected || results[0].RiskPoints != 0 {
			t.Errorf("Error result must not contribute points, got %+v", results[0])
		}
		if _, ok := results[0].Details["error"]; !ok {
			t.Errorf("Expected error detail, got %v", results[0].Details)
		}
	})

	t.Run("no rules loaded", func(t *testing.T) {
		e := newTestEngine(t)
		if results := e.EvaluateAll(summary()); results != nil {
			t.Errorf("Expected nil, got %v", results)
		}
	})
}

func TestReloadRules(t *testing.T) {
	e := newTestEngine(t)

	if err := e.LoadRule(&domain.RuleConfig{
		ID: "r-old", Name: "old", Expression: "risk_points > 10.0", Confidence: 0.5, Enabled: true,
	}); err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}

	err := e.ReloadRules([]*domain.RuleConfig{
		{ID: "r-new", Name: "new", Expression: "risk_points > 20.0", Confidence: 0.5, Enabled: true},
		{ID: "r-off", Name: "off", Expression: "risk_points > 30.0", Confidence: 0.5, Enabled: false},
	})
	if err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}

	if e.RulesCount() != 1 {
		t.Errorf("Expected 1 rule after reload, got %d", e.RulesCount())
	}
	loaded := e.LoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "r-new" {
		t.Errorf("Expected only r-new loaded, got %v", loaded)
	}

	t.Run("reload failure leaves rules untouched", func(t *testing.T) {
		err := e.ReloadRules([]*domain.RuleConfig{
			{ID: "r-bad", Name: "bad", Expression: "not valid (((", Confidence: 0.5, Enabled: true},
		})
		if err == nil {
			t.Fatal("Expected compile error, got nil")
		}
		if e.RulesCount() != 1 {
			t.Errorf("Expected rule set unchanged after failed reload, got %d rules", e.RulesCount())
		}
	})
}
