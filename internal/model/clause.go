package model

import (
	"encoding/json"
	"time"
)

// Category is the closed set of clause categories produced by extraction.
type Category string

const (
	CategoryAvailability         Category = "AVAILABILITY"
	CategoryPerformanceGuarantee Category = "PERFORMANCE_GUARANTEE"
	CategoryLiquidatedDamages    Category = "LIQUIDATED_DAMAGES"
	CategoryDefault              Category = "DEFAULT"
	CategoryForceMajeure         Category = "FORCE_MAJEURE"
	CategoryTermination          Category = "TERMINATION"
	CategoryMaintenance          Category = "MAINTENANCE"
	CategoryCompliance           Category = "COMPLIANCE"
	CategorySecurityPackage      Category = "SECURITY_PACKAGE"
	CategoryConditionsPrecedent  Category = "CONDITIONS_PRECEDENT"
	CategoryPricing              Category = "PRICING"
	CategoryPaymentTerms         Category = "PAYMENT_TERMS"
	CategoryGeneral              Category = "GENERAL"
)

// Categories lists every category in declaration order.
var Categories = []Category{
	CategoryAvailability,
	CategoryPerformanceGuarantee,
	CategoryLiquidatedDamages,
	CategoryDefault,
	CategoryForceMajeure,
	CategoryTermination,
	CategoryMaintenance,
	CategoryCompliance,
	CategorySecurityPackage,
	CategoryConditionsPrecedent,
	CategoryPricing,
	CategoryPaymentTerms,
	CategoryGeneral,
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// IsObligation reports whether clauses of this category carry a must-do duty.
func (c Category) IsObligation() bool {
	switch c {
	case CategoryAvailability, CategoryPerformanceGuarantee, CategoryPaymentTerms,
		CategoryMaintenance, CategoryCompliance, CategorySecurityPackage:
		return true
	}
	return false
}

// IsConsequence reports whether clauses of this category are reached through
// TRIGGERS edges when a breach is confirmed.
func (c Category) IsConsequence() bool {
	switch c {
	case CategoryLiquidatedDamages, CategoryDefault, CategoryTermination:
		return true
	}
	return false
}

// RawClause is a clause record as delivered by the extraction pipeline,
// before its payload has been checked against the category schema.
type RawClause struct {
	ID               string          `json:"id"`
	ContractID       string          `json:"contract_id"`
	Category         Category        `json:"category"`
	Payload          json.RawMessage `json:"payload"`
	ResponsibleParty string          `json:"responsible_party"`
	BeneficiaryParty string          `json:"beneficiary_party"`
	SourceRef        string          `json:"source_ref,omitempty"`
	Version          int             `json:"version"`
	SupersededBy     string          `json:"superseded_by,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Superseded reports whether a newer version of this clause exists.
func (r RawClause) Superseded() bool {
	return r.SupersededBy != ""
}

// Clause is a clause whose payload has been decoded into its category variant.
type Clause struct {
	ID               string   `json:"id"`
	ContractID       string   `json:"contract_id"`
	Category         Category `json:"category"`
	Payload          Payload  `json:"payload"`
	ResponsibleParty string   `json:"responsible_party"`
	BeneficiaryParty string   `json:"beneficiary_party"`
	SourceRef        string   `json:"source_ref,omitempty"`
	Version          int      `json:"version"`
	SupersededBy     string   `json:"superseded_by,omitempty"`
}

// Amend returns the raw record for the next version of a clause along with
// the prior record marked as superseded by it. The prior version is never
// edited in place beyond that marker.
func Amend(prior RawClause, nextID string, payload json.RawMessage, at time.Time) (next RawClause, superseded RawClause) {
	next = prior
	next.ID = nextID
	next.Payload = payload
	next.Version = prior.Version + 1
	next.SupersededBy = ""
	next.CreatedAt = at

	superseded = prior
	superseded.SupersededBy = nextID
	return next, superseded
}
