// Package worker provides event-driven re-analysis of customer activity.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker listens for customer activity events and re-runs the analysis
// pipeline for the affected customer. The engine publishes the resulting
// verdict and alert events itself.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// RefreshProfile re-runs the legacy profile scorer after each analysis.
	RefreshProfile bool
}

// NewWorker creates a new activity worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ActivityMessage is the payload published on the customer activity topic
// after new installment activity.
type ActivityMessage struct {
	CustomerID string `json:"customerId"`
	Event      string `json:"event,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
}

// Start subscribes to the customer activity topic.
func (w *Worker) Start(cfg Config) error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCustomerActivity, func(ctx context.Context, msg *domain.Message) error {
		return w.processActivity(ctx, msg, cfg.RefreshProfile)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicCustomerActivity,
		"refresh_profile", cfg.RefreshProfile,
	)
	return nil
}

// processActivity re-analyzes the customer named in the message.
func (w *Worker) processActivity(ctx context.Context, msg *domain.Message, refreshProfile bool) error {
	start := time.Now()

	var activity ActivityMessage
	if err := json.Unmarshal(msg.Payload, &activity); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse activity message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if activity.CustomerID == "" {
		w.failed.Add(1)
		slog.Error("activity message missing customer id", "message_id", msg.ID)
		return &domain.ValidationError{Field: "customerId", Reason: "must not be empty"}
	}

	slog.Debug("processing customer activity",
		"customer_id", activity.CustomerID,
		"event", activity.Event,
	)

	verdict, err := w.engine.Analyze(ctx, activity.CustomerID)
	if err != nil {
		w.failed.Add(1)
		slog.Error("activity analysis failed",
			"customer_id", activity.CustomerID,
			"error", err,
		)
		return err
	}

	if refreshProfile {
		if _, err := w.engine.ScoreProfile(ctx, activity.CustomerID); err != nil {
			slog.Error("profile refresh failed",
				"customer_id", activity.CustomerID,
				"error", err,
			)
		}
	}

	w.processed.Add(1)

	slog.Info("customer activity processed",
		"customer_id", activity.CustomerID,
		"risk_level", verdict.RiskLevel,
		"risk_score", verdict.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats holds worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
