package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveAnalysis persists one analysis run atomically: the audit snapshot
// first, then the alert with deduplication, inside a single transaction.
// When an equivalent alert already exists within dedupWindow, the existing
// alert is returned and no new row is created.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, snapshot *domain.PatternSnapshot, alert *domain.FraudAlert, dedupWindow time.Duration) (*domain.FraudAlert, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if snapshot != nil {
		if err := r.insertSnapshot(ctx, tx, snapshot); err != nil {
			return nil, false, err
		}
	}

	if alert == nil {
		return nil, false, tx.Commit()
	}

	existing, err := r.findRecentAlert(ctx, tx, alert, dedupWindow)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, tx.Commit()
	}

	if err := r.insertAlert(ctx, tx, alert); err != nil {
		return nil, false, err
	}

	return alert, true, tx.Commit()
}

func (r *SQLRepository) insertSnapshot(ctx context.Context, tx *sql.Tx, s *domain.PatternSnapshot) error {
	data, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot data: %w", err)
	}

	query := `
		INSERT INTO fraud_patterns (id, customer_id, pattern_type, data, risk_score, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(query),
		s.ID, s.CustomerID, s.PatternType, string(data), s.RiskScore, s.DetectedAt,
	)
	return err
}

func (r *SQLRepository) findRecentAlert(ctx context.Context, tx *sql.Tx, alert *domain.FraudAlert, dedupWindow time.Duration) (*domain.FraudAlert, error) {
	query := `
		SELECT id, customer_id, alert_type, description, metadata,
			   severity, status, created_at, resolved_at
		FROM fraud_alerts
		WHERE customer_id = ? AND alert_type = ? AND created_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	cutoff := alert.CreatedAt.Add(-dedupWindow)

	existing, err := scanAlert(tx.QueryRowContext(ctx, r.rebind(query), alert.CustomerID, alert.AlertType, cutoff))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return existing, err
}

func (r *SQLRepository) insertAlert(ctx context.Context, tx *sql.Tx, a *domain.FraudAlert) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode alert metadata: %w", err)
	}

	query := `
		INSERT INTO fraud_alerts (
			id, customer_id, alert_type, description, metadata,
			severity, status, created_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(query),
		a.ID, a.CustomerID, a.AlertType, a.Description, string(metadata),
		a.Severity, a.Status, a.CreatedAt, a.ResolvedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	var metadata string

	err := row.Scan(
		&a.ID, &a.CustomerID, &a.AlertType, &a.Description, &metadata,
		&a.Severity, &a.Status, &a.CreatedAt, &a.ResolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &a.Metadata)
	}
	return &a, nil
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.FraudAlert, error) {
	query := `
		SELECT id, customer_id, alert_type, description, metadata,
			   severity, status, created_at, resolved_at
		FROM fraud_alerts
		WHERE id = ?
	`
	return scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	query := `
		SELECT id, customer_id, alert_type, description, metadata,
			   severity, status, created_at, resolved_at
		FROM fraud_alerts
		WHERE 1 = 1
	`
	var args []any
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	if filter.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, filter.Severity)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpdateAlertStatus applies a reviewer status transition. Illegal transitions
// fail with a ValidationError; terminal transitions set resolved_at.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, alertID string, status domain.AlertStatus) (*domain.FraudAlert, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		SELECT id, customer_id, alert_type, description, metadata,
			   severity, status, created_at, resolved_at
		FROM fraud_alerts
		WHERE id = ?
	`
	alert, err := scanAlert(tx.QueryRowContext(ctx, r.rebind(query), alertID))
	if err != nil {
		return nil, err
	}

	if !alert.Status.CanTransition(status) {
		return nil, &domain.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("cannot transition from %s to %s", alert.Status, status),
		}
	}

	alert.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		alert.ResolvedAt = &now
	}

	update := `UPDATE fraud_alerts SET status = ?, resolved_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(update), alert.Status, alert.ResolvedAt, alert.ID); err != nil {
		return nil, err
	}

	return alert, tx.Commit()
}

// UpsertRiskPattern creates or replaces the customer's single upsert-style
// snapshot row for the snapshot's pattern type.
func (r *SQLRepository) UpsertRiskPattern(ctx context.Context, s *domain.PatternSnapshot) error {
	data, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot data: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	update := `
		UPDATE fraud_patterns
		SET data = ?, risk_score = ?, detected_at = ?
		WHERE customer_id = ? AND pattern_type = ?
	`
	result, err := tx.ExecContext(ctx, r.rebind(update),
		string(data), s.RiskScore, s.DetectedAt, s.CustomerID, s.PatternType,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if err := r.insertSnapshot(ctx, tx, s); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRiskPattern returns the customer's upserted risk profile snapshot.
func (r *SQLRepository) GetRiskPattern(ctx context.Context, customerID string) (*domain.PatternSnapshot, error) {
	query := `
		SELECT id, customer_id, pattern_type, data, risk_score, detected_at
		FROM fraud_patterns
		WHERE customer_id = ? AND pattern_type = ?
	`
	return scanSnapshot(r.db.QueryRowContext(ctx, r.rebind(query), customerID, domain.SnapshotRiskProfile))
}

func scanSnapshot(row rowScanner) (*domain.PatternSnapshot, error) {
	var s domain.PatternSnapshot
	var data string

	err := row.Scan(&s.ID, &s.CustomerID, &s.PatternType, &data, &s.RiskScore, &s.DetectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if data != "" {
		json.Unmarshal([]byte(data), &s.Data)
	}
	return &s, nil
}

// ListSnapshots returns the customer's snapshots, newest first.
func (r *SQLRepository) ListSnapshots(ctx context.Context, customerID string, limit int) ([]*domain.PatternSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, customer_id, pattern_type, data, risk_score, detected_at
		FROM fraud_patterns
		WHERE customer_id = ?
		ORDER BY detected_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

// ListSnapshotsSince returns all snapshots detected at or after since,
// oldest first. Used by trend reporting.
func (r *SQLRepository) ListSnapshotsSince(ctx context.Context, since time.Time) ([]*domain.PatternSnapshot, error) {
	query := `
		SELECT id, customer_id, pattern_type, data, risk_score, detected_at
		FROM fraud_patterns
		WHERE detected_at >= ?
		ORDER BY detected_at ASC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSnapshots(rows)
}

func collectSnapshots(rows *sql.Rows) ([]*domain.PatternSnapshot, error) {
	var snapshots []*domain.PatternSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// SaveRuleConfig stores or updates a custom rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, expression, risk_points, confidence,
			enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			risk_points = excluded.risk_points,
			confidence = excluded.confidence,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		rule.RiskPoints, rule.Confidence, enabled,
		now, now,
	)
	return err
}

// ListRuleConfigs retrieves all rule configurations, enabled or not.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, expression, risk_points, confidence, enabled
		FROM rule_configs
		ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int
		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Expression,
			&cfg.RiskPoints, &cfg.Confidence, &enabled,
		); err != nil {
			return nil, err
		}
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}
