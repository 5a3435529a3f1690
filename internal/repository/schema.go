package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_number TEXT NOT NULL,
    claimant_id TEXT NOT NULL,
    category TEXT NOT NULL,
    policy_number TEXT NOT NULL,
    policy_start_date TIMESTAMP,
    premium_amount REAL NOT NULL DEFAULT 0,
    claim_amount REAL NOT NULL,
    incident_date TIMESTAMP,
    incident_description TEXT,
    incident_location TEXT,
    repair_shop TEXT NOT NULL DEFAULT '',
    details TEXT,
    status TEXT NOT NULL,
    decision_notes TEXT,
    decided_by TEXT,
    decided_at TIMESTAMP,
    fraud_probability REAL,
    risk_score REAL,
    risk_category TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_claims_tenant ON claims(tenant_id);
CREATE INDEX IF NOT EXISTS idx_claims_claimant ON claims(tenant_id, claimant_id);
CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_claims_created ON claims(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_claims_shop ON claims(tenant_id, repair_shop);
`

const schemaClaimants = `
CREATE TABLE IF NOT EXISTS claimants (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    full_name TEXT NOT NULL,
    email TEXT,
    phone TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_claimants_tenant ON claimants(tenant_id);
CREATE INDEX IF NOT EXISTS idx_claimants_phone ON claimants(tenant_id, phone);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    fraud_probability REAL NOT NULL,
    risk_score REAL NOT NULL,
    risk_category TEXT NOT NULL,
    positive_factors TEXT NOT NULL,
    negative_factors TEXT NOT NULL,
    anomaly_score REAL NOT NULL,
    threshold REAL NOT NULL,
    rule_results TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_claim ON assessments(tenant_id, claim_id);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(tenant_id, timestamp);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
		schemaClaimants,
		schemaAssessments,
		schemaRuleConfigs,
	}
}
