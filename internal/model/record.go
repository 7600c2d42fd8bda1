package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Polarity declares how an excused quantity combines with an actual metric.
type Polarity string

const (
	// PolarityShortfall adds excused quantity back (e.g. availability percent).
	PolarityShortfall Polarity = "shortfall"
	// PolarityOverage subtracts excused quantity (e.g. downtime hours).
	PolarityOverage Polarity = "overage"
	// PolarityNone ignores excused quantity.
	PolarityNone Polarity = "none"
)

// Valid reports whether p is a declared polarity.
func (p Polarity) Valid() bool {
	switch p {
	case PolarityShortfall, PolarityOverage, PolarityNone:
		return true
	}
	return false
}

// BreachKind distinguishes metric breaches from missed deadlines.
type BreachKind string

const (
	BreachThreshold BreachKind = "threshold"
	BreachDeadline  BreachKind = "deadline"
)

// EventRef is an event consulted during excuse resolution.
type EventRef struct {
	ID           string          `json:"id"`
	Type         EventType       `json:"type"`
	Status       EventStatus     `json:"status"`
	Applied      bool            `json:"applied"`
	Contribution decimal.Decimal `json:"contribution"`
	Reason       string          `json:"reason,omitempty"`
}

// Evidence is the audit bundle of one obligation evaluation. It is populated
// whether or not a breach occurred.
type Evidence struct {
	ObligationID    string          `json:"obligation_id"`
	ContractID      string          `json:"contract_id"`
	PeriodKey       string          `json:"period_key"`
	Metric          string          `json:"metric"`
	MetricUnit      MetricUnit      `json:"metric_unit"`
	Actual          decimal.Decimal `json:"actual"`
	Threshold       decimal.Decimal `json:"threshold"`
	Comparator      Comparator      `json:"comparator"`
	Polarity        Polarity        `json:"polarity"`
	ExcusedQuantity decimal.Decimal `json:"excused_quantity"`
	Adjusted        decimal.Decimal `json:"adjusted_actual"`
	Shortfall       decimal.Decimal `json:"shortfall"`
	Breached        bool            `json:"breached"`
	Kind            BreachKind      `json:"kind"`
	Events          []EventRef      `json:"events"`
	ExcusingClauses []string        `json:"excusing_clauses"`
}

// BreachRecord is persisted once per confirmed breach of an
// (obligation, period) pair.
type BreachRecord struct {
	ID             string          `json:"id"`
	ObligationID   string          `json:"obligation_id"`
	ContractID     string          `json:"contract_id"`
	PeriodKey      string          `json:"period_key"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Kind           BreachKind      `json:"kind"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	Evidence       Evidence        `json:"evidence"`
	EvidenceDigest string          `json:"evidence_digest"`
	CreatedAt      time.Time       `json:"created_at"`
	SupersededAt   *time.Time      `json:"superseded_at,omitempty"`
	SupersededBy   string          `json:"superseded_by,omitempty"`
}

// Active reports whether the record has not been superseded.
func (b BreachRecord) Active() bool {
	return b.SupersededAt == nil
}

// VerdictKind names the effect a consequence produces.
type VerdictKind string

const (
	VerdictLiquidatedDamages VerdictKind = "liquidated_damages"
	VerdictDefaultNotice     VerdictKind = "default_notice"
	VerdictTerminationRight  VerdictKind = "termination_right"
)

// CapApplication records one cap considered during clamping.
type CapApplication struct {
	Name       string          `json:"name"`
	Limit      decimal.Decimal `json:"limit"`
	PriorUsage decimal.Decimal `json:"prior_usage"`
	Remaining  decimal.Decimal `json:"remaining"`
	Applied    bool            `json:"applied"`
}

// Trace is the computation trace of a verdict.
type Trace struct {
	CalculationType CalculationType   `json:"calculation_type"`
	Inputs          map[string]string `json:"inputs"`
	Formula         string            `json:"formula,omitempty"`
	RawAmount       decimal.Decimal   `json:"raw_amount"`
	Caps            []CapApplication  `json:"caps,omitempty"`
}

// ConsequenceResult is the computed effect of one triggered consequence.
type ConsequenceResult struct {
	ConsequenceID  string          `json:"consequence_id"`
	Category       Category        `json:"category"`
	Kind           VerdictKind     `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	CureDeadline   *time.Time      `json:"cure_deadline,omitempty"`
	PaymentDueDate *time.Time      `json:"payment_due_date,omitempty"`
	Trace          Trace           `json:"trace"`
}

// VerdictRecord is the persisted consequence of a BreachRecord.
type VerdictRecord struct {
	ID             string          `json:"id"`
	BreachID       string          `json:"breach_id"`
	ObligationID   string          `json:"obligation_id"`
	ConsequenceID  string          `json:"consequence_id"`
	ContractID     string          `json:"contract_id"`
	PeriodKey      string          `json:"period_key"`
	PeriodStart    time.Time       `json:"period_start"`
	Kind           VerdictKind     `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	CureDeadline   *time.Time      `json:"cure_deadline,omitempty"`
	PaymentDueDate *time.Time      `json:"payment_due_date,omitempty"`
	Trace          Trace           `json:"trace"`
	CreatedAt      time.Time       `json:"created_at"`
	SupersededAt   *time.Time      `json:"superseded_at,omitempty"`
}

// Outcome is the result of evaluating one obligation for one period.
type Outcome string

const (
	OutcomeBreachRecorded   Outcome = "breach_recorded"
	OutcomeBreachSuperseded Outcome = "breach_superseded"
	OutcomeBreachUnchanged  Outcome = "breach_unchanged"
	OutcomeCompliant        Outcome = "compliant"
	OutcomeMissingActuals   Outcome = "skipped_missing_actuals"
	OutcomeInvalidClause    Outcome = "invalid_clause"
	OutcomeError            Outcome = "error"
)

// EvaluationLog is the audit trace of one obligation evaluation, written
// regardless of outcome.
type EvaluationLog struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	ObligationID string    `json:"obligation_id"`
	ContractID   string    `json:"contract_id"`
	PeriodKey    string    `json:"period_key"`
	Outcome      Outcome   `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Evidence     *Evidence `json:"evidence,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FollowUp flags an obligation period for manual review.
type FollowUp struct {
	ID           string    `json:"id"`
	ObligationID string    `json:"obligation_id"`
	ContractID   string    `json:"contract_id"`
	PeriodKey    string    `json:"period_key"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}
