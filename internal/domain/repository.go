// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// HistoryReader is the read-only view of customer transactional history that
// detectors run against. Implementations must never mutate state.
type HistoryReader interface {
	// CustomerExists resolves a customer id.
	CustomerExists(ctx context.Context, customerID string) (bool, error)

	// CountRequestsSince counts installment requests created at or after since.
	CountRequestsSince(ctx context.Context, customerID string, since time.Time) (int, error)

	// ListRequestsSince returns requests created at or after since, ordered by
	// creation time ascending.
	ListRequestsSince(ctx context.Context, customerID string, since time.Time) ([]*InstallmentRequest, error)

	// ListRequests returns the customer's full request history, ordered by
	// creation time ascending.
	ListRequests(ctx context.Context, customerID string) ([]*InstallmentRequest, error)

	// ActiveDebt sums remaining balances over active plans and counts active
	// plans and their distinct merchants.
	ActiveDebt(ctx context.Context, customerID string) (*DebtSummary, error)

	// ListPlansSince returns plans created at or after since, ordered by
	// creation time ascending.
	ListPlansSince(ctx context.Context, customerID string, since time.Time) ([]*InstallmentPlan, error)

	// CountPlansByStatus counts the customer's plans in the given status.
	CountPlansByStatus(ctx context.Context, customerID string, status PlanStatus) (int, error)

	// ListPayments returns every payment across the customer's plans.
	ListPayments(ctx context.Context, customerID string) ([]*Payment, error)
}

// AnalysisStore is the persistence sink for analysis output. These are the
// only write paths the engine uses.
type AnalysisStore interface {
	// SaveAnalysis atomically inserts the snapshot and, when alert is non-nil,
	// either inserts it or returns an existing alert of the same customer and
	// type created within dedupWindow. The snapshot insert always precedes the
	// alert insert inside one transaction; a nil snapshot skips the insert.
	// The returned bool reports whether a new alert row was created.
	SaveAnalysis(ctx context.Context, snapshot *PatternSnapshot, alert *FraudAlert, dedupWindow time.Duration) (*FraudAlert, bool, error)

	// UpsertRiskPattern creates or replaces the per-customer upsert-style
	// snapshot used by the legacy profile scorer.
	UpsertRiskPattern(ctx context.Context, snapshot *PatternSnapshot) error
}

// Repository is the full persistence surface: history reads, analysis writes,
// alert review, snapshot queries, and custom rule storage.
type Repository interface {
	HistoryReader
	AnalysisStore

	// History writes, used by seeding, tests, and the load generator.
	SaveCustomer(ctx context.Context, c *Customer) error
	SaveRequest(ctx context.Context, r *InstallmentRequest) error
	SavePlan(ctx context.Context, p *InstallmentPlan) error
	SavePayment(ctx context.Context, p *Payment) error

	// Alert review workflow.
	GetAlert(ctx context.Context, alertID string) (*FraudAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*FraudAlert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus) (*FraudAlert, error)

	// Snapshot queries.
	ListSnapshots(ctx context.Context, customerID string, limit int) ([]*PatternSnapshot, error)
	ListSnapshotsSince(ctx context.Context, since time.Time) ([]*PatternSnapshot, error)
	GetRiskPattern(ctx context.Context, customerID string) (*PatternSnapshot, error)

	// Custom rule configuration.
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
