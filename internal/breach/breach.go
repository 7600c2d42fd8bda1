// Package breach compares excuse-adjusted actuals against obligation
// thresholds.
package breach

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/contract-compliance/internal/excuse"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/obligation"
)

// Verdict is the outcome of one comparison. Evidence is populated whether or
// not a breach occurred.
type Verdict struct {
	Breached  bool            `json:"breached"`
	Shortfall decimal.Decimal `json:"shortfall"`
	Adjusted  decimal.Decimal `json:"adjusted_actual"`
	Evidence  model.Evidence  `json:"evidence"`
}

// Adjust combines actual with an excused quantity according to polarity.
func Adjust(p model.Polarity, actual, excused decimal.Decimal) decimal.Decimal {
	switch p {
	case model.PolarityShortfall:
		return actual.Add(excused)
	case model.PolarityOverage:
		return actual.Sub(excused)
	}
	return actual
}

// Evaluate reports a breach when NOT (adjusted <comparator> threshold). The
// shortfall is |threshold - adjusted| on breach and zero otherwise.
func Evaluate(ob obligation.Obligation, actual decimal.Decimal, adj excuse.Adjustment) Verdict {
	excused := adj.ExcusedQuantity
	adjusted := Adjust(ob.Polarity, actual, excused)
	breached := !ob.Comparator.Holds(adjusted, ob.Threshold)

	shortfall := decimal.Zero
	if breached {
		shortfall = ob.Threshold.Sub(adjusted).Abs()
	}

	kind := model.BreachThreshold
	if ob.Deadline != nil {
		kind = model.BreachDeadline
	}

	events := append([]model.EventRef{}, adj.EventsConsulted...)
	clauses := append([]string{}, adj.ExcusingClauses...)

	return Verdict{
		Breached:  breached,
		Shortfall: shortfall,
		Adjusted:  adjusted,
		Evidence: model.Evidence{
			ObligationID:    ob.ClauseID,
			ContractID:      ob.ContractID,
			Metric:          ob.Metric,
			MetricUnit:      ob.MetricUnit,
			Actual:          actual,
			Threshold:       ob.Threshold,
			Comparator:      ob.Comparator,
			Polarity:        ob.Polarity,
			ExcusedQuantity: excused,
			Adjusted:        adjusted,
			Shortfall:       shortfall,
			Breached:        breached,
			Kind:            kind,
			Events:          events,
			ExcusingClauses: clauses,
		},
	}
}
