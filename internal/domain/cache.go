package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetClaimSummary retrieves cached claim data.
	GetClaimSummary(ctx context.Context, tenantID string, claimID string) (*ClaimSummary, error)

	// SetClaimSummary caches claim data for pipeline processing.
	SetClaimSummary(ctx context.Context, tenantID string, claimID string, data *ClaimSummary, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for claim velocity checks (claims filed in a time window).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ClaimSummary holds cached claim data passed through the pipeline.
type ClaimSummary struct {
	ClaimantID  string  `json:"claimantId"`
	Category    string  `json:"category"`
	ClaimAmount float64 `json:"claimAmount"`
	RepairShop  string  `json:"repairShop,omitempty"`
	Hospital    string  `json:"hospital,omitempty"`
	Location    string  `json:"location,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
