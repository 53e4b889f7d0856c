// Package engine orchestrates one fraud analysis run: detectors, custom
// rules, aggregation, persistence, and event publication.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/score"
)

// Engine runs fraud analyses against the customer history store.
type Engine struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
	rules *rules.Engine
	clock clockwork.Clock

	detectors     []detect.Detector
	detectWorkers int
	maxBatchSize  int
	batchWorkers  int

	tracer trace.Tracer

	mu         sync.RWMutex
	thresholds domain.Thresholds

	// Per-customer locks serialize the persist step, so two concurrent runs
	// for the same customer cannot both pass the alert dedup check.
	locks sync.Map
}

// New creates an engine with the default detector set.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, ruleEngine *rules.Engine, clock clockwork.Clock, cfg domain.EngineConfig) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 100
	}
	batchWorkers := cfg.BatchWorkers
	if batchWorkers <= 0 {
		batchWorkers = 8
	}

	return &Engine{
		repo:          repo,
		cache:         cache,
		bus:           bus,
		rules:         ruleEngine,
		clock:         clock,
		detectors:     detect.Builtin(),
		detectWorkers: 4,
		maxBatchSize:  maxBatch,
		batchWorkers:  batchWorkers,
		tracer:        otel.Tracer("kestrel/engine"),
		thresholds:    domain.DefaultThresholds(),
	}
}

// Thresholds returns a copy of the active threshold configuration.
func (e *Engine) Thresholds() domain.Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// ApplyThresholds overrides named thresholds. Validation failures leave the
// active configuration untouched.
func (e *Engine) ApplyThresholds(overrides map[string]float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds.Apply(overrides)
}

// Analyze runs the full pipeline for one customer and returns the verdict.
// Every run appends an audit snapshot; high and critical verdicts also raise
// a fraud alert unless an equivalent alert already exists within the dedup
// window.
func (e *Engine) Analyze(ctx context.Context, customerID string) (*domain.Verdict, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Analyze",
		trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer span.End()

	start := e.clock.Now()

	if customerID == "" {
		return nil, &domain.ValidationError{Field: "customerID", Reason: "must not be empty"}
	}

	exists, err := e.repo.CustomerExists(ctx, customerID)
	if err != nil {
		return nil, &domain.DataAccessError{Op: "customer lookup", Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("customer %s: %w", customerID, domain.ErrNotFound)
	}

	now := e.clock.Now().UTC()
	th := e.Thresholds()

	results, err := detect.RunAll(ctx, e.detectors, e.repo, customerID, th, now, e.detectWorkers)
	if err != nil {
		return nil, err
	}

	if e.rules != nil {
		results = append(results, e.rules.EvaluateAll(results)...)
	}

	verdict := score.Aggregate(customerID, results, th, now)

	snapshot := e.buildSnapshot(verdict, results, now)
	alert := e.buildAlert(verdict, now)

	lock := e.customerLock(customerID)
	lock.Lock()
	savedAlert, created, err := e.repo.SaveAnalysis(ctx, snapshot, alert, time.Duration(th.AlertDedupHours)*time.Hour)
	lock.Unlock()
	if err != nil {
		return nil, &domain.DataAccessError{Op: "save analysis", Err: err}
	}

	e.publishVerdict(ctx, verdict, savedAlert, created)
	e.countAnalysis(ctx, customerID)

	slog.Info("analysis completed",
		"customer_id", customerID,
		"risk_level", verdict.RiskLevel,
		"risk_score", verdict.RiskScore,
		"patterns", len(verdict.DetectedPatterns),
		"alert_created", created,
		"duration_ms", e.clock.Since(start).Milliseconds(),
	)

	return verdict, nil
}

func (e *Engine) buildSnapshot(v *domain.Verdict, results []domain.PatternResult, now time.Time) *domain.PatternSnapshot {
	patternDetails := make(map[string]any, len(results))
	for _, r := range results {
		patternDetails[r.Name] = map[string]any{
			"detected":    r.Detected,
			"risk_points": r.RiskPoints,
			"confidence":  r.Confidence,
			"details":     r.Details,
		}
	}

	return &domain.PatternSnapshot{
		ID:          uuid.New().String(),
		CustomerID:  v.CustomerID,
		PatternType: domain.SnapshotComprehensive,
		Data: map[string]any{
			"risk_level":        string(v.RiskLevel),
			"risk_score":        v.RiskScore,
			"detected_patterns": v.DetectedPatterns,
			"confidence_score":  v.ConfidenceScore,
			"pattern_details":   patternDetails,
		},
		RiskScore:  v.RiskScore / score.MaxRiskScore,
		DetectedAt: now,
	}
}

func (e *Engine) buildAlert(v *domain.Verdict, now time.Time) *domain.FraudAlert {
	if !v.RequiresManualReview {
		return nil
	}

	severity := domain.SeverityHigh
	if v.RiskLevel == domain.RiskCritical {
		severity = domain.SeverityCritical
	}

	return &domain.FraudAlert{
		ID:          uuid.New().String(),
		CustomerID:  v.CustomerID,
		AlertType:   domain.AlertComprehensiveRisk,
		Description: fmt.Sprintf("Risk score %.0f (%s): %s", v.RiskScore, v.RiskLevel, strings.Join(v.DetectedPatterns, ", ")),
		Metadata: map[string]any{
			"risk_score":        v.RiskScore,
			"detected_patterns": v.DetectedPatterns,
			"confidence_score":  v.ConfidenceScore,
		},
		Severity:  severity,
		Status:    domain.AlertActive,
		CreatedAt: now,
	}
}

func (e *Engine) publishVerdict(ctx context.Context, v *domain.Verdict, alert *domain.FraudAlert, created bool) {
	if e.bus == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err == nil {
		if err := e.bus.Publish(ctx, domain.TopicAnalysisCompleted, payload); err != nil {
			slog.Error("failed to publish analysis result",
				"customer_id", v.CustomerID,
				"error", err,
			)
		}
	}

	if created && alert != nil {
		alertPayload, err := json.Marshal(alert)
		if err == nil {
			if err := e.bus.Publish(ctx, domain.TopicAlertRaised, alertPayload); err != nil {
				slog.Error("failed to publish alert",
					"customer_id", v.CustomerID,
					"alert_id", alert.ID,
					"error", err,
				)
			}
		}
	}
}

// countAnalysis bumps the rolling per-customer analysis counter. The counter
// feeds the dashboard; a cache outage must not fail the run.
func (e *Engine) countAnalysis(ctx context.Context, customerID string) {
	if e.cache == nil {
		return
	}
	// The cache owns the "kestrel:" namespace prefix.
	key := "analyses:" + customerID
	if _, err := e.cache.IncrementCounter(ctx, key, 24*time.Hour); err != nil {
		slog.Debug("analysis counter unavailable",
			"customer_id", customerID,
			"error", err,
		)
	}
}

func (e *Engine) customerLock(customerID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(customerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
