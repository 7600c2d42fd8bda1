package consequence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contract-compliance/internal/breach"
	"github.com/sells-group/contract-compliance/internal/excuse"
	"github.com/sells-group/contract-compliance/internal/fixture"
	"github.com/sells-group/contract-compliance/internal/graph"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/obligation"
	"github.com/sells-group/contract-compliance/internal/validate"
)

var determinedAt = time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func calculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator()
	require.NoError(t, err)
	return c
}

// breachOf evaluates ob against actual with no excuse and wraps the verdict
// for the calculator.
func breachOf(t *testing.T, vc validate.ValidatedClause, actual string, period string, contract model.Contract) Breach {
	t.Helper()
	ob, ok := obligation.As(vc)
	require.True(t, ok)
	p, err := model.ParsePeriod(period)
	require.NoError(t, err)
	v := breach.Evaluate(ob, d(actual), excuse.Zero())
	require.True(t, v.Breached)
	ev := v.Evidence
	ev.PeriodKey = p.Key()
	return Breach{Obligation: ob, Period: p, Evidence: ev, Contract: contract, DeterminedAt: determinedAt}
}

func buildGraph(t *testing.T, clauses []validate.ValidatedClause, edges ...model.Edge) *graph.Graph {
	t.Helper()
	g, rejected := graph.Build(clauses, edges, graph.Options{})
	require.Empty(t, rejected)
	return g
}

func perPointSetup(t *testing.T, capAnnual string) *graph.Graph {
	t.Helper()
	return buildGraph(t,
		[]validate.ValidatedClause{fixture.Availability("av", "c1", "95"), fixture.PerPointLD("ld", "c1", "50000", capAnnual)},
		fixture.Edge("t1", "av", "ld", model.Triggers),
	)
}

func TestCalculatePerPointBelowCap(t *testing.T) {
	t.Parallel()

	g := perPointSetup(t, "500000")
	b := breachOf(t, fixture.Availability("av", "c1", "95"), "91.8", "2025-04", model.Contract{ID: "c1"})

	priors := &mockPriors{}
	priors.On("SumVerdicts", mock.Anything, "av", "ld",
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2025-04").
		Return(decimal.Zero, nil)

	results, err := calculator(t).Calculate(context.Background(), b, g, priors)
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "ld", r.ConsequenceID)
	assert.Equal(t, model.VerdictLiquidatedDamages, r.Kind)
	assert.Equal(t, "160000", r.Amount.String())
	assert.Equal(t, "USD", r.Currency)
	assert.Equal(t, "160000", r.Trace.RawAmount.String())
	assert.Equal(t, "3.2", r.Trace.Inputs["shortfall"])
	assert.Equal(t, "50000", r.Trace.Inputs["rate_per_point"])
	require.Len(t, r.Trace.Caps, 1)
	assert.False(t, r.Trace.Caps[0].Applied)
	priors.AssertExpectations(t)
}

func TestCalculatePerPointClampedToAnnualCap(t *testing.T) {
	t.Parallel()

	g := perPointSetup(t, "500000")
	b := breachOf(t, fixture.Availability("av", "c1", "95"), "83", "2025-04", model.Contract{ID: "c1"})

	priors := &mockPriors{}
	priors.On("SumVerdicts", mock.Anything, "av", "ld", mock.Anything, mock.Anything, "2025-04").Return(decimal.Zero, nil)

	results, err := calculator(t).Calculate(context.Background(), b, g, priors)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "600000", results[0].Trace.RawAmount.String())
	assert.Equal(t, "500000", results[0].Amount.String())
	require.Len(t, results[0].Trace.Caps, 1)
	assert.Equal(t, capAnnual, results[0].Trace.Caps[0].Name)
	assert.True(t, results[0].Trace.Caps[0].Applied)
}

func TestCalculateAnnualCapUsesPriorUsage(t *testing.T) {
	t.Parallel()

	effective := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	contract := model.Contract{ID: "c1", EffectiveDate: &effective}
	g := perPointSetup(t, "500000")
	b := breachOf(t, fixture.Availability("av", "c1", "95"), "91.8", "2025-04", contract)

	priors := &mockPriors{}
	priors.On("SumVerdicts", mock.Anything, "av", "ld",
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), "2025-04").
		Return(d("450000"), nil)

	results, err := calculator(t).Calculate(context.Background(), b, g, priors)
	require.NoError(t, err)
	assert.Equal(t, "50000", results[0].Amount.String())
	applied := results[0].Trace.Caps[0]
	assert.Equal(t, "450000", applied.PriorUsage.String())
	assert.Equal(t, "50000", applied.Remaining.String())
	assert.True(t, applied.Applied)
	priors.AssertExpectations(t)
}

func TestCalculateAnnualCapSpansPeriodBeforeMidMonthEffectiveDate(t *testing.T) {
	t.Parallel()

	effective := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	contract := model.Contract{ID: "c1", EffectiveDate: &effective}
	g := perPointSetup(t, "200000")
	yearEnd := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	priors := &mockPriors{}
	priors.On("SumVerdicts", mock.Anything, "av", "ld", time.Time{}, yearEnd, "2025-04").Return(decimal.Zero, nil)
	priors.On("SumVerdicts", mock.Anything, "av", "ld", time.Time{}, yearEnd, "2025-05").Return(d("160000"), nil)

	april := breachOf(t, fixture.Availability("av", "c1", "95"), "91.8", "2025-04", contract)
	results, err := calculator(t).Calculate(context.Background(), april, g, priors)
	require.NoError(t, err)
	assert.Equal(t, "160000", results[0].Amount.String())

	may := breachOf(t, fixture.Availability("av", "c1", "95"), "91.8", "2025-05", contract)
	results, err = calculator(t).Calculate(context.Background(), may, g, priors)
	require.NoError(t, err)
	assert.Equal(t, "40000", results[0].Amount.String())
	assert.Equal(t, "160000", results[0].Trace.Caps[0].PriorUsage.String())
	priors.AssertExpectations(t)
}

func TestCalculateCumulativeAndPerPeriodCaps(t *testing.T) {
	t.Parallel()

	ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
		`{"calculation_type":"per_point","rate_per_point":50000,"currency":"USD","cap_per_period":100000,"cap_cumulative":1000000}`)
	g := buildGraph(t, []validate.ValidatedClause{fixture.Availability("av", "c1", "95"), ld},
		fixture.Edge("t1", "av", "ld", model.Triggers))
	b := breachOf(t, fixture.Availability("av", "c1", "95"), "91.8", "2025-04", model.Contract{ID: "c1"})

	t.Run("per period binds", func(t *testing.T) {
		t.Parallel()
		priors := &mockPriors{}
		priors.On("SumVerdicts", mock.Anything, "av", "ld", time.Time{}, time.Time{}, "2025-04").Return(d("200000"), nil)

		results, err := calculator(t).Calculate(context.Background(), b, g, priors)
		require.NoError(t, err)
		assert.Equal(t, "100000", results[0].Amount.String())
		require.Len(t, results[0].Trace.Caps, 2)
		assert.Equal(t, capPerPeriod, results[0].Trace.Caps[0].Name)
		assert.True(t, results[0].Trace.Caps[0].Applied)
		assert.False(t, results[0].Trace.Caps[1].Applied)
	})

	t.Run("exhausted cumulative cap yields zero", func(t *testing.T) {
		t.Parallel()
		priors := &mockPriors{}
		priors.On("SumVerdicts", mock.Anything, "av", "ld", time.Time{}, time.Time{}, "2025-04").Return(d("1200000"), nil)

		results, err := calculator(t).Calculate(context.Background(), b, g, priors)
		require.NoError(t, err)
		assert.True(t, results[0].Amount.IsZero())
		assert.True(t, results[0].Trace.Caps[1].Remaining.IsZero())
		assert.True(t, results[0].Trace.Caps[1].Applied)
	})
}

func TestCalculatePriorsError(t *testing.T) {
	t.Parallel()

	g := perPointSetup(t, "500000")
	b := breachOf(t, fixture.Availability("av", "c1", "95"), "91.8", "2025-04", model.Contract{ID: "c1"})
	priors := &mockPriors{}
	priors.On("SumVerdicts", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(decimal.Zero, errors.New("connection reset"))

	_, err := calculator(t).Calculate(context.Background(), b, g, priors)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prior usage for cap_annual")
}

func TestCalculatePerDayUsesDaysLate(t *testing.T) {
	t.Parallel()

	cp := fixture.Clause("cp", "c1", model.CategoryPerformanceGuarantee,
		`{"metric":"commissioning_complete","threshold":1,"comparator":">=","evaluation_period":"monthly","metric_unit":"count","deadline":"2025-04-20"}`)
	ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
		`{"calculation_type":"per_day","rate_per_day":2500,"currency":"USD"}`)
	g := buildGraph(t, []validate.ValidatedClause{cp, ld}, fixture.Edge("t1", "cp", "ld", model.Triggers))
	b := breachOf(t, cp, "0", "2025-04", model.Contract{ID: "c1"})

	results, err := calculator(t).Calculate(context.Background(), b, g, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// 2025-04-20 to 2025-05-02T09:00 is 12 days and 9 hours.
	assert.Equal(t, "13", results[0].Trace.Inputs["days_late"])
	assert.Equal(t, "32500", results[0].Amount.String())
}

func TestCalculateScheduleLookup(t *testing.T) {
	t.Parallel()

	effective := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	contract := model.Contract{ID: "c1", EffectiveDate: &effective}
	av := fixture.Availability("av", "c1", "95")

	t.Run("by contract year", func(t *testing.T) {
		t.Parallel()
		ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"schedule_lookup","schedule_key":"contract_year","currency":"USD","schedule":[{"year_from":1,"year_to":2,"amount":1000},{"year_from":3,"rate_per_point":2000}]}`)
		g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
		b := breachOf(t, av, "91.8", "2025-04", contract)

		results, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.NoError(t, err)
		assert.Equal(t, "6400", results[0].Amount.String())
		assert.Equal(t, "1", results[0].Trace.Inputs["schedule_row"])
		assert.Equal(t, "3", results[0].Trace.Inputs["contract_year"])
	})

	t.Run("fixed amount row", func(t *testing.T) {
		t.Parallel()
		ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"schedule_lookup","schedule_key":"contract_year","currency":"USD","schedule":[{"year_from":1,"year_to":2,"amount":1000},{"year_from":3,"rate_per_point":2000}]}`)
		g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
		b := breachOf(t, av, "91.8", "2023-06", contract)

		results, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.NoError(t, err)
		assert.Equal(t, "1000", results[0].Amount.String())
	})

	t.Run("by party", func(t *testing.T) {
		t.Parallel()
		ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"schedule_lookup","schedule_key":"party","currency":"USD","schedule":[{"party":"buyer","amount":10},{"party":"seller","amount":7500}]}`)
		g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
		b := breachOf(t, av, "91.8", "2025-04", contract)

		results, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.NoError(t, err)
		assert.Equal(t, "7500", results[0].Amount.String())
	})

	t.Run("no matching row", func(t *testing.T) {
		t.Parallel()
		ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"schedule_lookup","schedule_key":"contract_year","currency":"USD","schedule":[{"year_from":1,"year_to":1,"amount":1000}]}`)
		g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
		b := breachOf(t, av, "91.8", "2025-04", contract)

		_, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no schedule row for contract year 3")
	})
}

func TestCalculateTiered(t *testing.T) {
	t.Parallel()

	av := fixture.Availability("av", "c1", "95")
	ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
		`{"calculation_type":"tiered","currency":"USD","tiers":[{"from":0,"to":2,"rate":10000},{"from":2,"rate":25000}]}`)
	g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
	b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

	results, err := calculator(t).Calculate(context.Background(), b, g, nil)
	require.NoError(t, err)
	assert.Equal(t, "50000", results[0].Amount.String())
}

func TestCalculateFormula(t *testing.T) {
	t.Parallel()

	av := fixture.Availability("av", "c1", "95")

	t.Run("declared inputs", func(t *testing.T) {
		t.Parallel()
		ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"formula","formula":"shortfall * rate_per_point * 2.0","rate_per_point":50000,"currency":"USD"}`)
		g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
		b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

		results, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.NoError(t, err)
		assert.Equal(t, "320000", results[0].Amount.String())
		assert.Equal(t, "shortfall * rate_per_point * 2.0", results[0].Trace.Formula)
	})

	t.Run("energy price from linked pricing clause", func(t *testing.T) {
		t.Parallel()
		ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"formula","formula":"shortfall * energy_price","currency":"USD"}`)
		pricing := fixture.Clause("pr", "c1", model.CategoryPricing, `{"base_rate":45,"currency":"USD"}`)
		g := buildGraph(t, []validate.ValidatedClause{av, ld, pricing},
			fixture.Edge("t1", "av", "ld", model.Triggers),
			fixture.Edge("i1", "pr", "ld", model.Inputs),
		)
		b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

		results, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.NoError(t, err)
		assert.Equal(t, "144", results[0].Amount.String())
		assert.Equal(t, "45", results[0].Trace.Inputs["energy_price"])
	})

	t.Run("result rounded to currency minor units", func(t *testing.T) {
		t.Parallel()
		for _, tc := range []struct{ currency, want, places string }{
			{"USD", "53333.33", "2"},
			{"JPY", "53333", "0"},
		} {
			ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
				`{"calculation_type":"formula","formula":"shortfall * rate_per_point / 3.0","rate_per_point":50000,"currency":"`+tc.currency+`"}`)
			g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
			b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

			results, err := calculator(t).Calculate(context.Background(), b, g, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, results[0].Trace.RawAmount.String(), tc.currency)
			assert.Equal(t, tc.want, results[0].Amount.String(), tc.currency)
			assert.Equal(t, "double", results[0].Trace.Inputs["formula_arithmetic"])
			assert.Equal(t, tc.places, results[0].Trace.Inputs["formula_rounding_places"])
		}
	})

	t.Run("unknown identifier", func(t *testing.T) {
		t.Parallel()
		ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"formula","formula":"shortfall * bonus","currency":"USD"}`)
		g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
		b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

		_, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "formula: compile")
	})

	t.Run("absent formula input", func(t *testing.T) {
		t.Parallel()
		ld := fixture.Clause("ld", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"formula","formula":"shortfall * contract_capacity","currency":"USD"}`)
		g := buildGraph(t, []validate.ValidatedClause{av, ld}, fixture.Edge("t1", "av", "ld", model.Triggers))
		b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

		_, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "formula: eval")
	})
}

func TestFormulaEvaluatorRejectsNonDouble(t *testing.T) {
	t.Parallel()

	f, err := NewFormulaEvaluator()
	require.NoError(t, err)
	assert.Error(t, f.Compile("shortfall > threshold"))
	assert.Error(t, f.Compile("1 + 2"))
	assert.NoError(t, f.Compile("shortfall * 1000.0"))

	v, err := f.Evaluate(context.Background(), "shortfall * 1000.0", map[string]decimal.Decimal{"shortfall": d("1.5")})
	require.NoError(t, err)
	assert.Equal(t, "1500", v.String())

	_, err = f.Evaluate(context.Background(), "shortfall / 0.0", map[string]decimal.Decimal{"shortfall": d("1")})
	assert.ErrorContains(t, err, "not finite")
}

func TestCalculateNonMonetaryAndPaymentTerms(t *testing.T) {
	t.Parallel()

	av := fixture.Availability("av", "c1", "95")
	def := fixture.Clause("def", "c1", model.CategoryDefault, `{"calculation_type":"none","cure_period_days":30}`)
	ld := fixture.PerPointLD("ld", "c1", "50000", "")
	pay := fixture.Clause("pay", "c1", model.CategoryPaymentTerms,
		`{"metric":"invoice_paid","threshold":1,"comparator":">=","evaluation_period":"monthly","metric_unit":"count","payment_due_days":45}`)
	g := buildGraph(t, []validate.ValidatedClause{av, def, ld, pay},
		fixture.Edge("t1", "av", "def", model.Triggers),
		fixture.Edge("t2", "av", "ld", model.Triggers),
		fixture.Edge("g1", "pay", "ld", model.Governs),
	)
	b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1", Currency: "USD"})

	results, err := calculator(t).Calculate(context.Background(), b, g, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "def", results[0].ConsequenceID)
	assert.Equal(t, model.VerdictDefaultNotice, results[0].Kind)
	assert.True(t, results[0].Amount.IsZero())
	assert.Empty(t, results[0].Currency)
	require.NotNil(t, results[0].CureDeadline)
	assert.Equal(t, determinedAt.AddDate(0, 0, 30), *results[0].CureDeadline)
	assert.Nil(t, results[0].PaymentDueDate)

	assert.Equal(t, "ld", results[1].ConsequenceID)
	require.NotNil(t, results[1].PaymentDueDate)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), *results[1].PaymentDueDate)
	assert.Nil(t, results[1].CureDeadline)
}

func TestCalculateNoTriggersIsEmpty(t *testing.T) {
	t.Parallel()

	av := fixture.Availability("av", "c1", "95")
	g := buildGraph(t, []validate.ValidatedClause{av})
	b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

	results, err := calculator(t).Calculate(context.Background(), b, g, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCalculateAmbiguousConsequences(t *testing.T) {
	t.Parallel()

	av := fixture.Availability("av", "c1", "95")

	t.Run("cap currencies differ", func(t *testing.T) {
		t.Parallel()
		usd := fixture.PerPointLD("ld-usd", "c1", "50000", "500000")
		eur := fixture.Clause("ld-eur", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"per_point","rate_per_point":40000,"currency":"EUR","cap_annual":400000}`)
		g := buildGraph(t, []validate.ValidatedClause{av, usd, eur},
			fixture.Edge("t1", "av", "ld-usd", model.Triggers),
			fixture.Edge("t2", "av", "ld-eur", model.Triggers),
		)
		b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

		_, err := calculator(t).Calculate(context.Background(), b, g, nil)
		var amb *AmbiguousConsequenceError
		require.ErrorAs(t, err, &amb)
		assert.Equal(t, model.CategoryLiquidatedDamages, amb.Category)
		assert.Equal(t, []string{"ld-eur", "ld-usd"}, amb.Consequences)
	})

	t.Run("schedule keys differ", func(t *testing.T) {
		t.Parallel()
		byYear := fixture.Clause("ld-a", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"schedule_lookup","schedule_key":"contract_year","currency":"USD","schedule":[{"year_from":1,"amount":1000}]}`)
		byParty := fixture.Clause("ld-b", "c1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"schedule_lookup","schedule_key":"party","currency":"USD","schedule":[{"party":"seller","amount":1000}]}`)
		g := buildGraph(t, []validate.ValidatedClause{av, byYear, byParty},
			fixture.Edge("t1", "av", "ld-a", model.Triggers),
			fixture.Edge("t2", "av", "ld-b", model.Triggers),
		)
		b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

		_, err := calculator(t).Calculate(context.Background(), b, g, nil)
		var amb *AmbiguousConsequenceError
		require.ErrorAs(t, err, &amb)
		assert.Contains(t, amb.Error(), "different keys")
	})

	t.Run("same currency is independent", func(t *testing.T) {
		t.Parallel()
		a := fixture.PerPointLD("ld-a", "c1", "50000", "500000")
		bb := fixture.PerPointLD("ld-b", "c1", "10000", "100000")
		g := buildGraph(t, []validate.ValidatedClause{av, a, bb},
			fixture.Edge("t1", "av", "ld-a", model.Triggers),
			fixture.Edge("t2", "av", "ld-b", model.Triggers),
		)
		b := breachOf(t, av, "91.8", "2025-04", model.Contract{ID: "c1"})

		results, err := calculator(t).Calculate(context.Background(), b, g, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "160000", results[0].Amount.String())
		assert.Equal(t, "32000", results[1].Amount.String())
	})
}
