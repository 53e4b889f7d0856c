// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCustomer stores a customer record.
func (r *SQLRepository) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	query := `
		INSERT INTO customers (id, full_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET full_name = excluded.full_name
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), c.ID, c.FullName, c.CreatedAt)
	return err
}

// CustomerExists resolves a customer id.
func (r *SQLRepository) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	query := `SELECT 1 FROM customers WHERE id = ?`

	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveRequest stores an installment request.
func (r *SQLRepository) SaveRequest(ctx context.Context, req *domain.InstallmentRequest) error {
	query := `
		INSERT INTO installment_requests (
			id, customer_id, merchant_id, product_name, product_value,
			months, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		req.ID, req.CustomerID, req.MerchantID,
		req.ProductName, req.ProductValue,
		req.Months, req.Status, req.CreatedAt,
	)
	return err
}

// CountRequestsSince counts installment requests created at or after since.
func (r *SQLRepository) CountRequestsSince(ctx context.Context, customerID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM installment_requests
		WHERE customer_id = ? AND created_at >= ?
	`

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, since).Scan(&n)
	return n, err
}

// ListRequestsSince returns requests created at or after since, oldest first.
func (r *SQLRepository) ListRequestsSince(ctx context.Context, customerID string, since time.Time) ([]*domain.InstallmentRequest, error) {
	query := `
		SELECT id, customer_id, merchant_id, product_name, product_value,
			   months, status, created_at
		FROM installment_requests
		WHERE customer_id = ? AND created_at >= ?
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRequests(rows)
}

// ListRequests returns the customer's full request history, oldest first.
func (r *SQLRepository) ListRequests(ctx context.Context, customerID string) ([]*domain.InstallmentRequest, error) {
	query := `
		SELECT id, customer_id, merchant_id, product_name, product_value,
			   months, status, created_at
		FROM installment_requests
		WHERE customer_id = ?
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRequests(rows)
}

func scanRequests(rows *sql.Rows) ([]*domain.InstallmentRequest, error) {
	var requests []*domain.InstallmentRequest
	for rows.Next() {
		var req domain.InstallmentRequest
		if err := rows.Scan(
			&req.ID, &req.CustomerID, &req.MerchantID,
			&req.ProductName, &req.ProductValue,
			&req.Months, &req.Status, &req.CreatedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, &req)
	}
	return requests, rows.Err()
}

// SavePlan stores an installment plan.
func (r *SQLRepository) SavePlan(ctx context.Context, p *domain.InstallmentPlan) error {
	query := `
		INSERT INTO installment_plans (
			id, request_id, customer_id, merchant_id, total_amount,
			paid_amount, remaining_amount, installments, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.RequestID, p.CustomerID, p.MerchantID,
		p.TotalAmount, p.PaidAmount, p.RemainingAmount,
		p.Installments, p.Status, p.CreatedAt,
	)
	return err
}

// ActiveDebt sums remaining balances over active plans and counts active
// plans and their distinct merchants.
func (r *SQLRepository) ActiveDebt(ctx context.Context, customerID string) (*domain.DebtSummary, error) {
	query := `
		SELECT COALESCE(SUM(remaining_amount), 0), COUNT(*), COUNT(DISTINCT merchant_id)
		FROM installment_plans
		WHERE customer_id = ? AND status = ?
	`

	var summary domain.DebtSummary
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, domain.PlanActive).Scan(
		&summary.TotalDebt, &summary.ActivePlans, &summary.UniqueMerchants,
	)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListPlansSince returns plans created at or after since, oldest first.
func (r *SQLRepository) ListPlansSince(ctx context.Context, customerID string, since time.Time) ([]*domain.InstallmentPlan, error) {
	query := `
		SELECT id, request_id, customer_id, merchant_id, total_amount,
			   paid_amount, remaining_amount, installments, status, created_at
		FROM installment_plans
		WHERE customer_id = ? AND created_at >= ?
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.InstallmentPlan
	for rows.Next() {
		var p domain.InstallmentPlan
		if err := rows.Scan(
			&p.ID, &p.RequestID, &p.CustomerID, &p.MerchantID,
			&p.TotalAmount, &p.PaidAmount, &p.RemainingAmount,
			&p.Installments, &p.Status, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}

// CountPlansByStatus counts the customer's plans in the given status.
func (r *SQLRepository) CountPlansByStatus(ctx context.Context, customerID string, status domain.PlanStatus) (int, error) {
	query := `
		SELECT COUNT(*) FROM installment_plans
		WHERE customer_id = ? AND status = ?
	`

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, status).Scan(&n)
	return n, err
}

// SavePayment stores a payment.
func (r *SQLRepository) SavePayment(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (id, plan_id, amount, due_date, paid_date, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.PlanID, p.Amount, p.DueDate, p.PaidDate, p.Status,
	)
	return err
}

// ListPayments returns every payment across the customer's plans.
func (r *SQLRepository) ListPayments(ctx context.Context, customerID string) ([]*domain.Payment, error) {
	query := `
		SELECT p.id, p.plan_id, p.amount, p.due_date, p.paid_date, p.status
		FROM payments p
		JOIN installment_plans pl ON p.plan_id = pl.id
		WHERE pl.customer_id = ?
		ORDER BY p.due_date ASC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(
			&p.ID, &p.PlanID, &p.Amount, &p.DueDate, &p.PaidDate, &p.Status,
		); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
