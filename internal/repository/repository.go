// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
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

const claimColumns = `id, tenant_id, claim_number, claimant_id, category,
	   policy_number, policy_start_date, premium_amount, claim_amount,
	   incident_date, incident_description, incident_location, details,
	   status, decision_notes, decided_by, decided_at,
	   fraud_probability, risk_score, risk_category,
	   created_at, updated_at, metadata`

// detailsJSON serializes the category-specific detail struct of a claim.
func detailsJSON(c *domain.Claim) string {
	var v interface{}
	switch {
	case c.Vehicle != nil:
		v = c.Vehicle
	case c.Health != nil:
		v = c.Health
	case c.Property != nil:
		v = c.Property
	default:
		return ""
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}

// applyDetails deserializes the detail column into the struct matching the
// claim's category.
func applyDetails(c *domain.Claim, raw string) {
	if raw == "" {
		return
	}
	switch c.Category {
	case domain.CategoryVehicle:
		var d domain.VehicleDetails
		if json.Unmarshal([]byte(raw), &d) == nil {
			c.Vehicle = &d
		}
	case domain.CategoryHealth:
		var d domain.HealthDetails
		if json.Unmarshal([]byte(raw), &d) == nil {
			c.Health = &d
		}
	case domain.CategoryProperty:
		var d domain.PropertyDetails
		if json.Unmarshal([]byte(raw), &d) == nil {
			c.Property = &d
		}
	}
}

// SaveClaim stores a claim with tenant isolation.
func (r *SQLRepository) SaveClaim(ctx context.Context, tenantID string, claim *domain.Claim) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if claim.ID == "" {
		return fmt.Errorf("%w: claim ID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(claim.Metadata)

	query := `
		INSERT INTO claims (
			id, tenant_id, claim_number, claimant_id, category,
			policy_number, policy_start_date, premium_amount, claim_amount,
			incident_date, incident_description, incident_location,
			repair_shop, details, status, decision_notes, decided_by, decided_at,
			fraud_probability, risk_score, risk_category,
			created_at, updated_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		claim.ID, tenantID, claim.ClaimNumber, claim.ClaimantID, claim.Category,
		claim.PolicyNumber, claim.PolicyStartDate, claim.PremiumAmount, claim.ClaimAmount,
		claim.IncidentDate, claim.IncidentDescription, claim.IncidentLocation,
		domain.NormalizeEntity(claim.RepairShopName()), detailsJSON(claim),
		claim.Status, claim.DecisionNotes, claim.DecidedBy, claim.DecidedAt,
		claim.FraudProbability, claim.RiskScore, claim.RiskCategory,
		claim.CreatedAt, claim.UpdatedAt, string(metadata),
	)
	return err
}

// GetClaim retrieves a claim by ID with tenant isolation.
func (r *SQLRepository) GetClaim(ctx context.Context, tenantID string, claimID string) (*domain.Claim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + claimColumns + `
		FROM claims
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID)
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return claim, err
}

// UpdateClaim rewrites the mutable fields of an existing claim.
func (r *SQLRepository) UpdateClaim(ctx context.Context, tenantID string, claim *domain.Claim) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(claim.Metadata)

	query := `
		UPDATE claims SET
			status = ?, decision_notes = ?, decided_by = ?, decided_at = ?,
			fraud_probability = ?, risk_score = ?, risk_category = ?,
			details = ?, repair_shop = ?, updated_at = ?, metadata = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		claim.Status, claim.DecisionNotes, claim.DecidedBy, claim.DecidedAt,
		claim.FraudProbability, claim.RiskScore, claim.RiskCategory,
		detailsJSON(claim), domain.NormalizeEntity(claim.RepairShopName()),
		claim.UpdatedAt, string(metadata),
		tenantID, claim.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListClaims retrieves a page of claims matching the filter, plus the total
// count before paging.
func (r *SQLRepository) ListClaims(ctx context.Context, tenantID string, filter domain.ClaimFilter) ([]*domain.Claim, int, error) {
	if tenantID == "" {
		return nil, 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	where := []string{"tenant_id = ?"}
	args := []interface{}{tenantID}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Risk != "" {
		where = append(where, "risk_category = ?")
		args = append(args, filter.Risk)
	}
	if filter.Search != "" {
		where = append(where, "(claim_number LIKE ? OR policy_number LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	clause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM claims WHERE " + clause
	if err := r.db.QueryRowContext(ctx, r.rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	query := "SELECT " + claimColumns + " FROM claims WHERE " + clause +
		" ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var claims []*domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		claims = append(claims, claim)
	}

	return claims, total, rows.Err()
}

// AllClaims retrieves every claim for a tenant, oldest first. Used by the
// graph and pattern detectors which need the full population.
func (r *SQLRepository) AllClaims(ctx context.Context, tenantID string) ([]*domain.Claim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + claimColumns + `
		FROM claims
		WHERE tenant_id = ?
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []*domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}

	return claims, rows.Err()
}

// CountClaimsByClaimant counts claims filed by a claimant since the given
// time. A zero since counts the full history.
func (r *SQLRepository) CountClaimsByClaimant(ctx context.Context, tenantID string, claimantID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if claimantID == "" {
		return 0, fmt.Errorf("%w: claimantID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM claims WHERE tenant_id = ? AND claimant_id = ?`
	args := []interface{}{tenantID, claimantID}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, since)
	}

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count)
	return count, err
}

// ShopOccurrenceCounts returns how many claims reference each repair shop,
// keyed by the normalized shop name.
func (r *SQLRepository) ShopOccurrenceCounts(ctx context.Context, tenantID string) (map[string]int, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT repair_shop, COUNT(*)
		FROM claims
		WHERE tenant_id = ? AND repair_shop != ''
		GROUP BY repair_shop
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var shop string
		var n int
		if err := rows.Scan(&shop, &n); err != nil {
			return nil, err
		}
		counts[shop] = n
	}

	return counts, rows.Err()
}

// SaveClaimant upserts a claimant with tenant isolation.
func (r *SQLRepository) SaveClaimant(ctx context.Context, tenantID string, claimant *domain.Claimant) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if claimant.ID == "" {
		return fmt.Errorf("%w: claimant ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO claimants (id, tenant_id, full_name, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			full_name = excluded.full_name,
			email = excluded.email,
			phone = excluded.phone
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		claimant.ID, tenantID, claimant.FullName, claimant.Email, claimant.Phone,
		claimant.CreatedAt,
	)
	return err
}

// GetClaimant retrieves a claimant by ID with tenant isolation.
func (r *SQLRepository) GetClaimant(ctx context.Context, tenantID string, claimantID string) (*domain.Claimant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, full_name, email, phone, created_at
		FROM claimants
		WHERE tenant_id = ? AND id = ?
	`

	var c domain.Claimant
	var email, phone sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimantID).Scan(
		&c.ID, &c.TenantID, &c.FullName, &email, &phone, &c.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Email = email.String
	c.Phone = phone.String
	return &c, nil
}

// AllClaimants retrieves every claimant for a tenant.
func (r *SQLRepository) AllClaimants(ctx context.Context, tenantID string) ([]*domain.Claimant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, full_name, email, phone, created_at
		FROM claimants
		WHERE tenant_id = ?
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimants []*domain.Claimant
	for rows.Next() {
		var c domain.Claimant
		var email, phone sql.NullString
		if err := rows.Scan(&c.ID, &c.TenantID, &c.FullName, &email, &phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Email = email.String
		c.Phone = phone.String
		claimants = append(claimants, &c)
	}

	return claimants, rows.Err()
}

// SaveAssessment stores a risk assessment with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, assessment *domain.RiskAssessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	positive, _ := json.Marshal(assessment.PositiveFactors)
	negative, _ := json.Marshal(assessment.NegativeFactors)
	ruleResults, _ := json.Marshal(assessment.RuleResults)
	metadata, _ := json.Marshal(assessment.Metadata)

	query := `
		INSERT INTO assessments (
			id, tenant_id, claim_id, fraud_probability, risk_score, risk_category,
			positive_factors, negative_factors, anomaly_score, threshold,
			rule_results, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		assessment.ID, tenantID, assessment.ClaimID,
		assessment.FraudProbability, assessment.RiskScore, assessment.RiskCategory,
		string(positive), string(negative), assessment.AnomalyScore, assessment.Threshold,
		string(ruleResults), assessment.Timestamp, string(metadata),
	)
	return err
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, claim_id, fraud_probability, risk_score, risk_category,
			   positive_factors, negative_factors, anomaly_score, threshold,
			   rule_results, timestamp, metadata
		FROM assessments
		WHERE tenant_id = ? AND id = ?
	`

	var a domain.RiskAssessment
	var positive, negative, metadata string
	var ruleResults sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID).Scan(
		&a.ID, &a.TenantID, &a.ClaimID,
		&a.FraudProbability, &a.RiskScore, &a.RiskCategory,
		&positive, &negative, &a.AnomalyScore, &a.Threshold,
		&ruleResults, &a.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(positive), &a.PositiveFactors)
	json.Unmarshal([]byte(negative), &a.NegativeFactors)
	if ruleResults.Valid && ruleResults.String != "" {
		json.Unmarshal([]byte(ruleResults.String), &a.RuleResults)
	}
	json.Unmarshal([]byte(metadata), &a.Metadata)

	return &a, nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &cfg.Bands)

	return &cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for claim scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(s scanner) (*domain.Claim, error) {
	var c domain.Claim
	var policyStart, incidentDate, decidedAt sql.NullTime
	var incidentDesc, incidentLoc, details, decisionNotes, decidedBy, riskCategory, metadata sql.NullString
	var fraudProb, riskScore sql.NullFloat64

	err := s.Scan(
		&c.ID, &c.TenantID, &c.ClaimNumber, &c.ClaimantID, &c.Category,
		&c.PolicyNumber, &policyStart, &c.PremiumAmount, &c.ClaimAmount,
		&incidentDate, &incidentDesc, &incidentLoc, &details,
		&c.Status, &decisionNotes, &decidedBy, &decidedAt,
		&fraudProb, &riskScore, &riskCategory,
		&c.CreatedAt, &c.UpdatedAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	if policyStart.Valid {
		t := policyStart.Time
		c.PolicyStartDate = &t
	}
	if incidentDate.Valid {
		t := incidentDate.Time
		c.IncidentDate = &t
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		c.DecidedAt = &t
	}
	if fraudProb.Valid {
		v := fraudProb.Float64
		c.FraudProbability = &v
	}
	if riskScore.Valid {
		v := riskScore.Float64
		c.RiskScore = &v
	}

	c.IncidentDescription = incidentDesc.String
	c.IncidentLocation = incidentLoc.String
	c.DecisionNotes = decisionNotes.String
	c.DecidedBy = decidedBy.String
	c.RiskCategory = domain.RiskCategory(riskCategory.String)

	applyDetails(&c, details.String)

	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &c.Metadata)
	}

	return &c, nil
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
