// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InsuranceCategory identifies the claim's line of business.
type InsuranceCategory string

const (
	CategoryVehicle  InsuranceCategory = "vehicle"
	CategoryHealth   InsuranceCategory = "health"
	CategoryProperty InsuranceCategory = "property"
)

// ClaimStatus tracks a claim through the review workflow.
type ClaimStatus string

const (
	StatusPending     ClaimStatus = "pending"
	StatusUnderReview ClaimStatus = "under_review"
	StatusApproved    ClaimStatus = "approved"
	StatusRejected    ClaimStatus = "rejected"
	StatusEscalated   ClaimStatus = "escalated"
)

// RiskCategory is the coarse risk bucket derived from fraud probability.
type RiskCategory string

const (
	RiskLow    RiskCategory = "low"
	RiskMedium RiskCategory = "medium"
	RiskHigh   RiskCategory = "high"
)

// Claim represents an insurance claim to be assessed.
// Category-specific attributes live in their own detail structs so a health
// claim cannot carry a repair shop and vice versa.
type Claim struct {
	// Core identifiers
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	ClaimNumber string `json:"claimNumber"`
	ClaimantID  string `json:"claimantId"`

	Category InsuranceCategory `json:"category"`

	// Policy and financials
	PolicyNumber    string     `json:"policyNumber"`
	PolicyStartDate *time.Time `json:"policyStartDate,omitempty"`
	PremiumAmount   float64    `json:"premiumAmount,omitempty"`
	ClaimAmount     float64    `json:"claimAmount"`

	// Incident
	IncidentDate        *time.Time `json:"incidentDate,omitempty"`
	IncidentDescription string     `json:"incidentDescription"`
	IncidentLocation    string     `json:"incidentLocation,omitempty"`

	// Category-specific details; exactly one is set for a well-formed claim.
	Vehicle  *VehicleDetails  `json:"vehicle,omitempty"`
	Health   *HealthDetails   `json:"health,omitempty"`
	Property *PropertyDetails `json:"property,omitempty"`

	// Review state
	Status        ClaimStatus `json:"status"`
	DecisionNotes string      `json:"decisionNotes,omitempty"`
	DecidedBy     string      `json:"decidedBy,omitempty"`
	DecidedAt     *time.Time  `json:"decidedAt,omitempty"`

	// Risk assessment written back after scoring
	FraudProbability *float64     `json:"fraudProbability,omitempty"`
	RiskScore        *float64     `json:"riskScore,omitempty"`
	RiskCategory     RiskCategory `json:"riskCategory,omitempty"`

	// Temporal
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VehicleDetails holds vehicle-claim attributes.
type VehicleDetails struct {
	VehicleNumber     string `json:"vehicleNumber,omitempty"`
	MakeModel         string `json:"makeModel,omitempty"`
	RepairShopName    string `json:"repairShopName,omitempty"`
	RepairShopAddress string `json:"repairShopAddress,omitempty"`
}

// HealthDetails holds health-claim attributes.
type HealthDetails struct {
	HospitalName       string     `json:"hospitalName,omitempty"`
	HospitalRegNumber  string     `json:"hospitalRegNumber,omitempty"`
	Diagnosis          string     `json:"diagnosis,omitempty"`
	TreatmentType      string     `json:"treatmentType,omitempty"`
	AdmissionDate      *time.Time `json:"admissionDate,omitempty"`
	DischargeDate      *time.Time `json:"dischargeDate,omitempty"`
}

// PropertyDetails holds property-claim attributes.
type PropertyDetails struct {
	PropertyType    string `json:"propertyType,omitempty"`
	PropertyAddress string `json:"propertyAddress,omitempty"`
	DamageType      string `json:"damageType,omitempty"`
	OwnershipType   string `json:"ownershipType,omitempty"`
}

// Claimant is the policyholder filing claims. Phone is used by
// repeated-entity detection to find accounts sharing a number.
type Claimant struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	FullName  string    `json:"fullName"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RepairShopName returns the shop name for vehicle claims, "" otherwise.
func (c *Claim) RepairShopName() string {
	if c.Vehicle == nil {
		return ""
	}
	return c.Vehicle.RepairShopName
}

// HospitalName returns the hospital name for health claims, "" otherwise.
func (c *Claim) HospitalName() string {
	if c.Health == nil {
		return ""
	}
	return c.Health.HospitalName
}

// NormalizeEntity lower-cases and trims an entity name so the same shop,
// hospital or location spelled differently still collides.
func NormalizeEntity(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewClaimNumber generates a claim number like KL-VEH-2026-1A2B3C4D.
func NewClaimNumber(category InsuranceCategory, now time.Time) string {
	prefix := "GEN"
	switch category {
	case CategoryVehicle:
		prefix = "VEH"
	case CategoryHealth:
		prefix = "HLT"
	case CategoryProperty:
		prefix = "PRP"
	}
	uid := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("KL-%s-%d-%s", prefix, now.Year(), uid)
}

// ClaimRequest is the API request payload for claim submission.
type ClaimRequest struct {
	ClaimantID          string                 `json:"claimantId"`
	Category            string                 `json:"category"`
	PolicyNumber        string                 `json:"policyNumber"`
	PolicyStartDate     *time.Time             `json:"policyStartDate,omitempty"`
	PremiumAmount       float64                `json:"premiumAmount,omitempty"`
	ClaimAmount         float64                `json:"claimAmount"`
	IncidentDate        *time.Time             `json:"incidentDate,omitempty"`
	IncidentDescription string                 `json:"incidentDescription"`
	IncidentLocation    string                 `json:"incidentLocation,omitempty"`
	Vehicle             *VehicleDetails        `json:"vehicle,omitempty"`
	Health              *HealthDetails         `json:"health,omitempty"`
	Property            *PropertyDetails       `json:"property,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
}

// ToClaim converts a request to a Claim domain object.
// Detail structs not matching the declared category are dropped so an
// invalid category/field combination cannot be constructed.
func (r *ClaimRequest) ToClaim(tenantID string) *Claim {
	now := time.Now().UTC()
	category := InsuranceCategory(r.Category)

	claim := &Claim{
		ID:                  uuid.New().String(),
		TenantID:            tenantID,
		ClaimNumber:         NewClaimNumber(category, now),
		ClaimantID:          r.ClaimantID,
		Category:            category,
		PolicyNumber:        r.PolicyNumber,
		PolicyStartDate:     r.PolicyStartDate,
		PremiumAmount:       r.PremiumAmount,
		ClaimAmount:         r.ClaimAmount,
		IncidentDate:        r.IncidentDate,
		IncidentDescription: r.IncidentDescription,
		IncidentLocation:    r.IncidentLocation,
		Status:              StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
		Metadata:            r.Metadata,
	}

	switch category {
	case CategoryVehicle:
		claim.Vehicle = r.Vehicle
	case CategoryHealth:
		claim.Health = r.Health
	case CategoryProperty:
		claim.Property = r.Property
	}

	return claim
}

// ValidCategory reports whether s names a known insurance category.
func ValidCategory(s string) bool {
	switch InsuranceCategory(s) {
	case CategoryVehicle, CategoryHealth, CategoryProperty:
		return true
	}
	return false
}
