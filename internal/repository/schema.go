package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    full_name TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaInstallmentRequests = `
CREATE TABLE IF NOT EXISTS installment_requests (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    product_name TEXT NOT NULL,
    product_value REAL NOT NULL,
    months INTEGER NOT NULL DEFAULT 12,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_customer ON installment_requests(customer_id);
CREATE INDEX IF NOT EXISTS idx_requests_customer_created ON installment_requests(customer_id, created_at);
`

const schemaInstallmentPlans = `
CREATE TABLE IF NOT EXISTS installment_plans (
    id TEXT PRIMARY KEY,
    request_id TEXT,
    customer_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    total_amount REAL NOT NULL,
    paid_amount REAL NOT NULL DEFAULT 0,
    remaining_amount REAL NOT NULL,
    installments INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plans_customer ON installment_plans(customer_id);
CREATE INDEX IF NOT EXISTS idx_plans_customer_status ON installment_plans(customer_id, status);
CREATE INDEX IF NOT EXISTS idx_plans_customer_created ON installment_plans(customer_id, created_at);
`

const schemaPayments = `
CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    plan_id TEXT NOT NULL,
    amount REAL NOT NULL,
    due_date TIMESTAMP NOT NULL,
    paid_date TIMESTAMP,
    status TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_plan ON payments(plan_id);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    description TEXT NOT NULL,
    metadata TEXT,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON fraud_alerts(customer_id, alert_type, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON fraud_alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON fraud_alerts(severity);
`

const schemaFraudPatterns = `
CREATE TABLE IF NOT EXISTS fraud_patterns (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    pattern_type TEXT NOT NULL,
    data TEXT NOT NULL,
    risk_score REAL NOT NULL,
    detected_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patterns_customer ON fraud_patterns(customer_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_patterns_type ON fraud_patterns(pattern_type, detected_at);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    risk_points REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0.5,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCustomers,
		schemaInstallmentRequests,
		schemaInstallmentPlans,
		schemaPayments,
		schemaFraudAlerts,
		schemaFraudPatterns,
		schemaRuleConfigs,
	}
}
