package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRecords = `
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tax_year TEXT NOT NULL,
    annual_salary REAL NOT NULL,
    investment_80c REAL NOT NULL,
    medical_insurance_80d REAL NOT NULL,
    nps_contribution_80ccd REAL NOT NULL,
    home_loan_interest_24b REAL NOT NULL,
    donations_80g REAL NOT NULL,
    rent_paid REAL NOT NULL,
    groceries REAL NOT NULL,
    utilities REAL NOT NULL,
    healthcare REAL NOT NULL,
    entertainment REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_tenant ON records(tenant_id);
CREATE INDEX IF NOT EXISTS idx_records_year ON records(tenant_id, tax_year);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    record_id TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    rule_score INTEGER NOT NULL,
    model_score REAL NOT NULL,
    model_available INTEGER NOT NULL,
    flags TEXT NOT NULL,
    explanation TEXT NOT NULL,
    features TEXT NOT NULL,
    narrative TEXT NOT NULL,
    input_notes TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_record ON assessments(tenant_id, record_id);
CREATE INDEX IF NOT EXISTS idx_assessments_level ON assessments(tenant_id, risk_level);
`

const schemaCustomRules = `
CREATE TABLE IF NOT EXISTS custom_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    message TEXT,
    score_delta INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_custom_rules_tenant ON custom_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_custom_rules_enabled ON custom_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRecords,
		schemaAssessments,
		schemaCustomRules,
	}
}
