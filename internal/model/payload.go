package model

import "github.com/shopspring/decimal"

// Payload is the category-specific parameter set of a clause. Each category
// has exactly one concrete variant.
type Payload interface {
	Category() Category
}

// ObligationPayload is implemented by variants whose category carries a
// must-do duty.
type ObligationPayload interface {
	Payload
	Terms() ObligationTerms
}

// ConsequencePayload is implemented by variants reached through TRIGGERS edges.
type ConsequencePayload interface {
	Payload
	Consequence() ConsequenceTerms
}

// Comparator is the relation an obligation's metric must satisfy.
type Comparator string

const (
	ComparatorGTE Comparator = ">="
	ComparatorLTE Comparator = "<="
	ComparatorEQ  Comparator = "="
)

// Holds reports whether actual <c> threshold.
func (c Comparator) Holds(actual, threshold decimal.Decimal) bool {
	switch c {
	case ComparatorGTE:
		return actual.GreaterThanOrEqual(threshold)
	case ComparatorLTE:
		return actual.LessThanOrEqual(threshold)
	case ComparatorEQ:
		return actual.Equal(threshold)
	}
	return false
}

// MetricUnit is the unit an obligation's metric and threshold are expressed in.
type MetricUnit string

const (
	UnitPercent MetricUnit = "percent"
	UnitHours   MetricUnit = "hours"
	UnitMWh     MetricUnit = "mwh"
	UnitDays    MetricUnit = "days"
	UnitCount   MetricUnit = "count"
	UnitAmount  MetricUnit = "amount"
)

// CalculationType selects how a consequence clause computes its amount.
type CalculationType string

const (
	CalcPerPoint       CalculationType = "per_point"
	CalcPerDay         CalculationType = "per_day"
	CalcScheduleLookup CalculationType = "schedule_lookup"
	CalcFormula        CalculationType = "formula"
	CalcTiered         CalculationType = "tiered"
	CalcNone           CalculationType = "none"
)

// ScheduleKey selects the column a schedule_lookup indexes by.
type ScheduleKey string

const (
	ScheduleByContractYear ScheduleKey = "contract_year"
	ScheduleByParty        ScheduleKey = "party"
)

// ObligationTerms are the must-do fields shared by every obligation variant.
type ObligationTerms struct {
	Metric           string          `json:"metric"`
	Threshold        decimal.Decimal `json:"threshold"`
	Comparator       Comparator      `json:"comparator"`
	EvaluationPeriod Granularity     `json:"evaluation_period"`
	MetricUnit       MetricUnit      `json:"metric_unit"`
	Deadline         *Date           `json:"deadline,omitempty"`
}

// ScheduleRow is one row of a schedule_lookup table. A row matches when the
// contract year falls in [YearFrom, YearTo] (YearTo zero means open-ended)
// and, for party-keyed schedules, Party equals the breaching party.
type ScheduleRow struct {
	YearFrom     int              `json:"year_from,omitempty"`
	YearTo       int              `json:"year_to,omitempty"`
	Party        string           `json:"party,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	RatePerPoint *decimal.Decimal `json:"rate_per_point,omitempty"`
}

// Tier is one band of a tiered per-point rate. Shortfall in (From, To] is
// charged at Rate; To nil means unbounded.
type Tier struct {
	From decimal.Decimal  `json:"from"`
	To   *decimal.Decimal `json:"to,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

// ConsequenceTerms are the calculation fields shared by consequence variants.
type ConsequenceTerms struct {
	CalculationType  CalculationType  `json:"calculation_type"`
	RatePerPoint     *decimal.Decimal `json:"rate_per_point,omitempty"`
	RatePerDay       *decimal.Decimal `json:"rate_per_day,omitempty"`
	EnergyPrice      *decimal.Decimal `json:"energy_price,omitempty"`
	ContractCapacity *decimal.Decimal `json:"contract_capacity,omitempty"`
	Schedule         []ScheduleRow    `json:"schedule,omitempty"`
	ScheduleKey      ScheduleKey      `json:"schedule_key,omitempty"`
	Tiers            []Tier           `json:"tiers,omitempty"`
	Formula          string           `json:"formula,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	CapAnnual        *decimal.Decimal `json:"cap_annual,omitempty"`
	CapCumulative    *decimal.Decimal `json:"cap_cumulative,omitempty"`
	CapPerPeriod     *decimal.Decimal `json:"cap_per_period,omitempty"`
	CurePeriodDays   *int             `json:"cure_period_days,omitempty"`
	PaymentDueDays   *int             `json:"payment_due_days,omitempty"`
}

// HasCap reports whether any cap is declared.
func (t ConsequenceTerms) HasCap() bool {
	return t.CapAnnual != nil || t.CapCumulative != nil || t.CapPerPeriod != nil
}

// Monetary reports whether the consequence produces an amount.
func (t ConsequenceTerms) Monetary() bool {
	return t.CalculationType != "" && t.CalculationType != CalcNone
}

// FormulaInputs returns the canonical FormulaInput fields that are present.
func (t ConsequenceTerms) FormulaInputs() map[string]decimal.Decimal {
	in := make(map[string]decimal.Decimal, 4)
	if t.RatePerPoint != nil {
		in["rate_per_point"] = *t.RatePerPoint
	}
	if t.RatePerDay != nil {
		in["rate_per_day"] = *t.RatePerDay
	}
	if t.EnergyPrice != nil {
		in["energy_price"] = *t.EnergyPrice
	}
	if t.ContractCapacity != nil {
		in["contract_capacity"] = *t.ContractCapacity
	}
	return in
}

// AvailabilityPayload is the AVAILABILITY variant.
type AvailabilityPayload struct {
	ObligationTerms
	MeasurementBasis string `json:"measurement_basis,omitempty"`
}

func (AvailabilityPayload) Category() Category       { return CategoryAvailability }
func (p AvailabilityPayload) Terms() ObligationTerms { return p.ObligationTerms }

// PerformanceGuaranteePayload is the PERFORMANCE_GUARANTEE variant.
type PerformanceGuaranteePayload struct {
	ObligationTerms
	DegradationRate *decimal.Decimal `json:"degradation_rate,omitempty"`
}

func (PerformanceGuaranteePayload) Category() Category       { return CategoryPerformanceGuarantee }
func (p PerformanceGuaranteePayload) Terms() ObligationTerms { return p.ObligationTerms }

// PaymentTermsPayload is the PAYMENT_TERMS variant.
type PaymentTermsPayload struct {
	ObligationTerms
	PaymentDueDays   int              `json:"payment_due_days"`
	LateInterestRate *decimal.Decimal `json:"late_interest_rate,omitempty"`
}

func (PaymentTermsPayload) Category() Category       { return CategoryPaymentTerms }
func (p PaymentTermsPayload) Terms() ObligationTerms { return p.ObligationTerms }

// MaintenancePayload is the MAINTENANCE variant.
type MaintenancePayload struct {
	ObligationTerms
	NoticeDays *int `json:"notice_days,omitempty"`
}

func (MaintenancePayload) Category() Category       { return CategoryMaintenance }
func (p MaintenancePayload) Terms() ObligationTerms { return p.ObligationTerms }

// CompliancePayload is the COMPLIANCE variant.
type CompliancePayload struct {
	ObligationTerms
	Requirement string `json:"requirement,omitempty"`
}

func (CompliancePayload) Category() Category       { return CategoryCompliance }
func (p CompliancePayload) Terms() ObligationTerms { return p.ObligationTerms }

// SecurityPackagePayload is the SECURITY_PACKAGE variant.
type SecurityPackagePayload struct {
	ObligationTerms
	InstrumentType string `json:"instrument_type,omitempty"`
	Currency       string `json:"currency,omitempty"`
}

func (SecurityPackagePayload) Category() Category       { return CategorySecurityPackage }
func (p SecurityPackagePayload) Terms() ObligationTerms { return p.ObligationTerms }

// LiquidatedDamagesPayload is the LIQUIDATED_DAMAGES variant.
type LiquidatedDamagesPayload struct {
	ConsequenceTerms
}

func (LiquidatedDamagesPayload) Category() Category              { return CategoryLiquidatedDamages }
func (p LiquidatedDamagesPayload) Consequence() ConsequenceTerms { return p.ConsequenceTerms }

// DefaultPayload is the DEFAULT variant.
type DefaultPayload struct {
	ConsequenceTerms
	NoticeRequired bool `json:"notice_required,omitempty"`
}

func (DefaultPayload) Category() Category              { return CategoryDefault }
func (p DefaultPayload) Consequence() ConsequenceTerms { return p.ConsequenceTerms }

// TerminationPayload is the TERMINATION variant.
type TerminationPayload struct {
	ConsequenceTerms
	NoticeDays *int `json:"notice_days,omitempty"`
}

func (TerminationPayload) Category() Category              { return CategoryTermination }
func (p TerminationPayload) Consequence() ConsequenceTerms { return p.ConsequenceTerms }

// ForceMajeurePayload is the FORCE_MAJEURE variant.
type ForceMajeurePayload struct {
	NotificationDays *int   `json:"notification_days,omitempty"`
	Description      string `json:"description,omitempty"`
}

func (ForceMajeurePayload) Category() Category { return CategoryForceMajeure }

// ConditionsPrecedentPayload is the CONDITIONS_PRECEDENT variant.
type ConditionsPrecedentPayload struct {
	DueDate     Date   `json:"due_date"`
	Description string `json:"description,omitempty"`
}

func (ConditionsPrecedentPayload) Category() Category { return CategoryConditionsPrecedent }

// PricingPayload is the PRICING variant.
type PricingPayload struct {
	BaseRate       decimal.Decimal  `json:"base_rate"`
	Currency       string           `json:"currency"`
	EscalationRate *decimal.Decimal `json:"escalation_rate,omitempty"`
}

func (PricingPayload) Category() Category { return CategoryPricing }

// GeneralPayload is the GENERAL variant.
type GeneralPayload struct {
	Notes string `json:"notes,omitempty"`
}

func (GeneralPayload) Category() Category { return CategoryGeneral }

// NewPayload returns a pointer to the zero variant for c, or nil when c is
// not a declared category.
func NewPayload(c Category) Payload {
	switch c {
	case CategoryAvailability:
		return &AvailabilityPayload{}
	case CategoryPerformanceGuarantee:
		return &PerformanceGuaranteePayload{}
	case CategoryPaymentTerms:
		return &PaymentTermsPayload{}
	case CategoryMaintenance:
		return &MaintenancePayload{}
	case CategoryCompliance:
		return &CompliancePayload{}
	case CategorySecurityPackage:
		return &SecurityPackagePayload{}
	case CategoryLiquidatedDamages:
		return &LiquidatedDamagesPayload{}
	case CategoryDefault:
		return &DefaultPayload{}
	case CategoryTermination:
		return &TerminationPayload{}
	case CategoryForceMajeure:
		return &ForceMajeurePayload{}
	case CategoryConditionsPrecedent:
		return &ConditionsPrecedentPayload{}
	case CategoryPricing:
		return &PricingPayload{}
	case CategoryGeneral:
		return &GeneralPayload{}
	}
	return nil
}
