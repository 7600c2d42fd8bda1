// Package consequence computes the verdicts triggered by a confirmed breach.
package consequence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/sells-group/contract-compliance/internal/graph"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/obligation"
	"github.com/sells-group/contract-compliance/internal/validate"
)

// Breach is a confirmed breach handed to the calculator.
type Breach struct {
	Obligation   obligation.Obligation
	Period       model.Period
	Evidence     model.Evidence
	Contract     model.Contract
	DeterminedAt time.Time
}

// AmbiguousConsequenceError reports triggered consequences whose terms
// conflict so that no single reading of them is sound.
type AmbiguousConsequenceError struct {
	ObligationID string
	Category     model.Category
	Consequences []string
	Reason       string
}

func (e *AmbiguousConsequenceError) Error() string {
	return fmt.Sprintf("consequence: ambiguous %s consequences [%s] for %s: %s",
		e.Category, strings.Join(e.Consequences, ", "), e.ObligationID, e.Reason)
}

// Calculator dispatches on each consequence clause's calculation type.
type Calculator struct {
	formulas *FormulaEvaluator
}

// NewCalculator returns a Calculator with its own formula cache.
func NewCalculator() (*Calculator, error) {
	f, err := NewFormulaEvaluator()
	if err != nil {
		return nil, err
	}
	return &Calculator{formulas: f}, nil
}

// Formulas exposes the formula evaluator for pre-compilation.
func (c *Calculator) Formulas() *FormulaEvaluator { return c.formulas }

type triggered struct {
	clause validate.ValidatedClause
	terms  model.ConsequenceTerms
}

// Calculate produces one result per outgoing TRIGGERS edge of the breached
// obligation, ordered by consequence id. An obligation with no TRIGGERS edges
// yields an empty result.
func (c *Calculator) Calculate(ctx context.Context, b Breach, g *graph.Graph, priors Priors) ([]model.ConsequenceResult, error) {
	edges := g.EdgesOfKind(b.Obligation.ClauseID, model.Triggers)
	var targets []triggered
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		if seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		vc, ok := g.Clause(e.Target)
		if !ok {
			continue
		}
		cp, ok := vc.Payload().(model.ConsequencePayload)
		if !ok {
			return nil, eris.Errorf("consequence: %s is %s, not a consequence", vc.ID(), vc.Category())
		}
		targets = append(targets, triggered{clause: vc, terms: cp.Consequence()})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].clause.ID() < targets[j].clause.ID() })

	if err := checkAmbiguity(b.Obligation.ClauseID, targets); err != nil {
		return nil, err
	}

	results := make([]model.ConsequenceResult, 0, len(targets))
	for _, t := range targets {
		r, err := c.calculateOne(ctx, b, g, t, priors)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("consequence: calculated",
			zap.String("obligation", b.Obligation.ClauseID),
			zap.String("consequence", r.ConsequenceID),
			zap.String("period", b.Period.Key()),
			zap.String("amount", r.Amount.String()),
		)
		results = append(results, r)
	}
	return results, nil
}

// checkAmbiguity rejects monetary consequences of one category that cap in
// different currencies or key schedules differently.
func checkAmbiguity(obligationID string, targets []triggered) error {
	byCategory := make(map[model.Category][]triggered)
	for _, t := range targets {
		if t.terms.Monetary() {
			byCategory[t.clause.Category()] = append(byCategory[t.clause.Category()], t)
		}
	}
	cats := make([]model.Category, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	for _, cat := range cats {
		group := byCategory[cat]
		if len(group) < 2 {
			continue
		}
		ids := make([]string, len(group))
		currencies := make(map[string]bool)
		keys := make(map[model.ScheduleKey]bool)
		for i, t := range group {
			ids[i] = t.clause.ID()
			if t.terms.HasCap() {
				currencies[t.terms.Currency] = true
			}
			if t.terms.CalculationType == model.CalcScheduleLookup {
				keys[t.terms.ScheduleKey] = true
			}
		}
		switch {
		case len(currencies) > 1:
			return &AmbiguousConsequenceError{ObligationID: obligationID, Category: cat, Consequences: ids, Reason: "caps declared in different currencies"}
		case len(keys) > 1:
			return &AmbiguousConsequenceError{ObligationID: obligationID, Category: cat, Consequences: ids, Reason: "schedules indexed by different keys"}
		}
	}
	return nil
}

func verdictKind(c model.Category) model.VerdictKind {
	switch c {
	case model.CategoryDefault:
		return model.VerdictDefaultNotice
	case model.CategoryTermination:
		return model.VerdictTerminationRight
	}
	return model.VerdictLiquidatedDamages
}

func (c *Calculator) calculateOne(ctx context.Context, b Breach, g *graph.Graph, t triggered, priors Priors) (model.ConsequenceResult, error) {
	terms := t.terms
	id := t.clause.ID()
	result := model.ConsequenceResult{
		ConsequenceID: id,
		Category:      t.clause.Category(),
		Kind:          verdictKind(t.clause.Category()),
		Amount:        decimal.Zero,
		Trace: model.Trace{
			CalculationType: terms.CalculationType,
			Inputs:          map[string]string{},
			RawAmount:       decimal.Zero,
		},
	}
	if terms.CurePeriodDays != nil {
		due := b.DeterminedAt.AddDate(0, 0, *terms.CurePeriodDays)
		result.CureDeadline = &due
	}
	if !terms.Monetary() {
		return result, nil
	}

	vars := c.variables(b, g, id, terms)
	for k, v := range vars {
		result.Trace.Inputs[k] = v.String()
	}

	raw, err := c.raw(ctx, b, t, vars, &result.Trace)
	if err != nil {
		return model.ConsequenceResult{}, eris.Wrapf(err, "consequence: %s", id)
	}
	result.Trace.RawAmount = raw

	yearFrom, yearTo := b.Contract.ContractYearWindow(b.Period.Start)
	amount, caps, err := applyCaps(ctx, raw, terms, capRequest{
		obligationID:  b.Obligation.ClauseID,
		consequenceID: id,
		period:        b.Period,
		yearFrom:      yearFrom,
		yearTo:        yearTo,
	}, priors)
	if err != nil {
		return model.ConsequenceResult{}, err
	}
	result.Amount = amount
	result.Trace.Caps = caps

	result.Currency = terms.Currency
	if result.Currency == "" {
		result.Currency = b.Contract.Currency
	}
	if days, ok := paymentDueDays(g, id, terms); ok {
		due := b.Period.End.AddDate(0, 0, days)
		result.PaymentDueDate = &due
	}
	return result, nil
}

// variables assembles the formula variables of a consequence. energy_price
// falls back to the base rate of a PRICING clause linked by an INPUTS edge.
func (c *Calculator) variables(b Breach, g *graph.Graph, consequenceID string, terms model.ConsequenceTerms) map[string]decimal.Decimal {
	ev := b.Evidence
	vars := terms.FormulaInputs()
	vars["shortfall"] = ev.Shortfall
	vars["actual"] = ev.Actual
	vars["adjusted_actual"] = ev.Adjusted
	vars["threshold"] = ev.Threshold
	vars["days_late"] = decimal.NewFromInt(int64(daysLate(b)))
	vars["contract_year"] = decimal.NewFromInt(int64(b.Contract.ContractYear(b.Period.Start)))

	if _, ok := vars["energy_price"]; !ok {
		for _, e := range g.IncomingOfKind(consequenceID, model.Inputs) {
			src, ok := g.Clause(e.Source)
			if !ok {
				continue
			}
			if p, ok := src.Payload().(model.PricingPayload); ok {
				vars["energy_price"] = p.BaseRate
				break
			}
		}
	}
	return vars
}

// daysLate is the whole days past a missed deadline, at least one, for
// deadline breaches, and the days in the breached period otherwise.
func daysLate(b Breach) int {
	if b.Obligation.Deadline != nil {
		late := b.DeterminedAt.Sub(b.Obligation.Deadline.Time)
		days := int((late + 24*time.Hour - 1) / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		return days
	}
	return int(b.Period.Duration() / (24 * time.Hour))
}

func (c *Calculator) raw(ctx context.Context, b Breach, t triggered, vars map[string]decimal.Decimal, trace *model.Trace) (decimal.Decimal, error) {
	terms := t.terms
	shortfall := vars["shortfall"]
	switch terms.CalculationType {
	case model.CalcPerPoint:
		if terms.RatePerPoint == nil {
			return decimal.Zero, eris.New("per_point without rate_per_point")
		}
		return shortfall.Mul(*terms.RatePerPoint), nil

	case model.CalcPerDay:
		if terms.RatePerDay == nil {
			return decimal.Zero, eris.New("per_day without rate_per_day")
		}
		return vars["days_late"].Mul(*terms.RatePerDay), nil

	case model.CalcScheduleLookup:
		row, idx, err := lookup(terms, b)
		if err != nil {
			return decimal.Zero, err
		}
		trace.Inputs["schedule_row"] = fmt.Sprint(idx)
		if row.Amount != nil {
			return *row.Amount, nil
		}
		trace.Inputs["schedule_rate_per_point"] = row.RatePerPoint.String()
		return shortfall.Mul(*row.RatePerPoint), nil

	case model.CalcTiered:
		return tiered(shortfall, terms.Tiers), nil

	case model.CalcFormula:
		trace.Formula = terms.Formula
		v, err := c.formulas.Evaluate(ctx, terms.Formula, vars)
		if err != nil {
			return decimal.Zero, err
		}
		// CEL arithmetic is binary floating point; the result is cut back to
		// the currency's minor units before any cap sees it.
		code := terms.Currency
		if code == "" {
			code = b.Contract.Currency
		}
		scale := minorUnits(code)
		trace.Inputs["formula_arithmetic"] = "double"
		trace.Inputs["formula_rounding_places"] = fmt.Sprint(scale)
		return v.Round(scale), nil
	}
	return decimal.Zero, eris.Errorf("unknown calculation type %q", terms.CalculationType)
}

// lookup selects the schedule row for the breach's contract year or the
// breaching party. The first matching row wins.
func lookup(terms model.ConsequenceTerms, b Breach) (model.ScheduleRow, int, error) {
	year := b.Contract.ContractYear(b.Period.Start)
	for i, row := range terms.Schedule {
		switch terms.ScheduleKey {
		case model.ScheduleByParty:
			if row.Party != b.Obligation.ResponsibleParty {
				continue
			}
		default:
			if year < row.YearFrom || (row.YearTo != 0 && year > row.YearTo) {
				continue
			}
		}
		if row.Amount == nil && row.RatePerPoint == nil {
			return model.ScheduleRow{}, 0, eris.Errorf("schedule row %d has neither amount nor rate_per_point", i)
		}
		return row, i, nil
	}
	if terms.ScheduleKey == model.ScheduleByParty {
		return model.ScheduleRow{}, 0, eris.Errorf("no schedule row for party %q", b.Obligation.ResponsibleParty)
	}
	return model.ScheduleRow{}, 0, eris.Errorf("no schedule row for contract year %d", year)
}

// tiered charges each band of shortfall at its own rate.
func tiered(shortfall decimal.Decimal, tiers []model.Tier) decimal.Decimal {
	total := decimal.Zero
	for _, tier := range tiers {
		if !shortfall.GreaterThan(tier.From) {
			continue
		}
		upper := shortfall
		if tier.To != nil && tier.To.LessThan(upper) {
			upper = *tier.To
		}
		total = total.Add(upper.Sub(tier.From).Mul(tier.Rate))
	}
	return total
}

// paymentDueDays reads payment_due_days from the consequence, or from a
// PAYMENT_TERMS clause that GOVERNS it.
func paymentDueDays(g *graph.Graph, consequenceID string, terms model.ConsequenceTerms) (int, bool) {
	if terms.PaymentDueDays != nil {
		return *terms.PaymentDueDays, true
	}
	governs := g.IncomingOfKind(consequenceID, model.Governs)
	sort.Slice(governs, func(i, j int) bool { return governs[i].Source < governs[j].Source })
	for _, e := range governs {
		src, ok := g.Clause(e.Source)
		if !ok {
			continue
		}
		if p, ok := src.Payload().(model.PaymentTermsPayload); ok {
			return p.PaymentDueDays, true
		}
	}
	return 0, false
}

// minorUnits is the number of decimal places of an ISO 4217 currency, two
// when the code is empty or unknown.
func minorUnits(code string) int32 {
	u, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(u)
	return int32(scale)
}
