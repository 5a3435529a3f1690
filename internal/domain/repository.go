package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Claim operations
	SaveClaim(ctx context.Context, tenantID string, claim *Claim) error
	GetClaim(ctx context.Context, tenantID string, claimID string) (*Claim, error)
	UpdateClaim(ctx context.Context, tenantID string, claim *Claim) error
	ListClaims(ctx context.Context, tenantID string, filter ClaimFilter) ([]*Claim, int, error)

	// Population enumeration for the graph and pattern detectors.
	AllClaims(ctx context.Context, tenantID string) ([]*Claim, error)

	// Contextual aggregates for feature extraction.
	CountClaimsByClaimant(ctx context.Context, tenantID string, claimantID string, since time.Time) (int64, error)
	ShopOccurrenceCounts(ctx context.Context, tenantID string) (map[string]int, error)

	// Claimant operations
	SaveClaimant(ctx context.Context, tenantID string, claimant *Claimant) error
	GetClaimant(ctx context.Context, tenantID string, claimantID string) (*Claimant, error)
	AllClaimants(ctx context.Context, tenantID string) ([]*Claimant, error)

	// Assessment results
	SaveAssessment(ctx context.Context, tenantID string, assessment *RiskAssessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*RiskAssessment, error)

	// Screening rule configuration
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ClaimFilter narrows and pages ListClaims results.
type ClaimFilter struct {
	Status   ClaimStatus
	Category InsuranceCategory
	Risk     RiskCategory
	Search   string // matches claim number or policy number
	Page     int
	PageSize int
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
