// Package velocity provides claim filing velocity calculation.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Service answers how often a claimant files and how often entities recur,
// the contextual aggregates feature extraction and rule screening need.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// ClaimCount returns the number of claims a claimant filed since the given
// time. This is the FrequencyGetter signature expected by the rule engine.
func (s *Service) ClaimCount(ctx context.Context, tenantID, claimantID string, since time.Time) (int64, error) {
	if tenantID == "" || claimantID == "" {
		return 0, fmt.Errorf("tenantID and claimantID are required")
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}
	return s.repo.CountClaimsByClaimant(ctx, tenantID, claimantID, since)
}

// FeatureContext assembles the contextual aggregates for one claim's
// feature extraction: the claimant's full prior-claim count and, for
// vehicle claims, the shop occurrence map.
func (s *Service) FeatureContext(ctx context.Context, tenantID string, claim *domain.Claim) (features.Context, error) {
	fctx := features.Context{}
	if s.repo == nil {
		return fctx, fmt.Errorf("no data source available")
	}

	count, err := s.repo.CountClaimsByClaimant(ctx, tenantID, claim.ClaimantID, time.Time{})
	if err != nil {
		return fctx, fmt.Errorf("count claims: %w", err)
	}
	fctx.PriorClaims = int(count)

	if claim.Category == domain.CategoryVehicle {
		shops, err := s.repo.ShopOccurrenceCounts(ctx, tenantID)
		if err != nil {
			return fctx, fmt.Errorf("shop occurrences: %w", err)
		}
		fctx.ShopCounts = shops
	}
	return fctx, nil
}

// RecordFiling bumps the short-window filing counter for a claimant.
// Returns the count within the window so callers can rate-alert.
func (s *Service) RecordFiling(ctx context.Context, tenantID, claimantID string, window time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, tenantID, "filings:"+claimantID, window)
}

// FrequencyGetter adapts the service for the rule engine.
func (s *Service) FrequencyGetter() func(ctx context.Context, tenantID, claimantID string, since time.Time) (int64, error) {
	return s.ClaimCount
}
