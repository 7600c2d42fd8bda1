// Package obligation projects validated clauses onto their must-do terms.
package obligation

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/tables"
	"github.com/sells-group/contract-compliance/internal/validate"
)

// Obligation is a read-only projection of an obligation clause. It carries
// no consequence or excuse detail; those are reached through the graph from
// ClauseID.
type Obligation struct {
	ClauseID         string            `json:"clause_id"`
	ContractID       string            `json:"contract_id"`
	Category         model.Category    `json:"category"`
	Metric           string            `json:"metric"`
	Threshold        decimal.Decimal   `json:"threshold"`
	Comparator       model.Comparator  `json:"comparator"`
	Period           model.Granularity `json:"period"`
	ResponsibleParty string            `json:"responsible_party"`
	MetricUnit       model.MetricUnit  `json:"metric_unit"`
	Deadline         *model.Date       `json:"deadline,omitempty"`
	Polarity         model.Polarity    `json:"polarity"`
}

// View projects clauses using a declared polarity table.
type View struct {
	tables *tables.Tables
}

// NewView returns a View over t, or over the built-in tables when t is nil.
func NewView(t *tables.Tables) View {
	if t == nil {
		t = tables.Default()
	}
	return View{tables: t}
}

// As returns the obligation view of vc, or false when its category carries
// no must-do duty.
func (v View) As(vc validate.ValidatedClause) (Obligation, bool) {
	if !vc.Category().IsObligation() {
		return Obligation{}, false
	}
	op, ok := vc.Payload().(model.ObligationPayload)
	if !ok {
		return Obligation{}, false
	}
	terms := op.Terms()
	c := vc.Clause()
	return Obligation{
		ClauseID:         c.ID,
		ContractID:       c.ContractID,
		Category:         c.Category,
		Metric:           terms.Metric,
		Threshold:        terms.Threshold,
		Comparator:       terms.Comparator,
		Period:           terms.EvaluationPeriod,
		ResponsibleParty: c.ResponsibleParty,
		MetricUnit:       terms.MetricUnit,
		Deadline:         terms.Deadline,
		Polarity:         v.tables.PolarityFor(c.Category),
	}, true
}

// All projects every obligation clause in clauses, preserving order.
func (v View) All(clauses []validate.ValidatedClause) []Obligation {
	var out []Obligation
	for _, vc := range clauses {
		if ob, ok := v.As(vc); ok {
			out = append(out, ob)
		}
	}
	return out
}

var defaultView = NewView(nil)

// As projects vc with the built-in polarity table.
func As(vc validate.ValidatedClause) (Obligation, bool) {
	return defaultView.As(vc)
}
