package consequence

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// FormulaVariables is the closed set of identifiers a formula may reference.
var FormulaVariables = []string{
	"shortfall",
	"actual",
	"adjusted_actual",
	"threshold",
	"days_late",
	"contract_year",
	"rate_per_point",
	"rate_per_day",
	"energy_price",
	"contract_capacity",
}

const formulaCostLimit = 10000

// FormulaEvaluator compiles and runs closed-form consequence formulas. Every
// variable is a double; unknown identifiers fail compilation and the result
// must be a double.
type FormulaEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewFormulaEvaluator builds the evaluator environment.
func NewFormulaEvaluator() (*FormulaEvaluator, error) {
	opts := make([]cel.EnvOption, 0, len(FormulaVariables))
	for _, name := range FormulaVariables {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "formula: create environment")
	}
	return &FormulaEvaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Compile checks expr and caches its program.
func (f *FormulaEvaluator) Compile(expr string) error {
	_, err := f.program(expr)
	return err
}

func (f *FormulaEvaluator) program(expr string) (cel.Program, error) {
	f.mu.RLock()
	prg, ok := f.cache[expr]
	f.mu.RUnlock()
	if ok {
		return prg, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prg, ok = f.cache[expr]; ok {
		return prg, nil
	}

	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, eris.Wrapf(issues.Err(), "formula: compile %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.DoubleType) {
		return nil, eris.Errorf("formula: %q yields %s, want double", expr, ast.OutputType())
	}
	prg, err := f.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(formulaCostLimit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "formula: program %q", expr)
	}
	f.cache[expr] = prg
	return prg, nil
}

// Evaluate runs expr over vars. A variable the formula references but vars
// lacks is an evaluation error.
func (f *FormulaEvaluator) Evaluate(ctx context.Context, expr string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	prg, err := f.program(expr)
	if err != nil {
		return decimal.Zero, err
	}

	input := make(map[string]any, len(vars))
	for k, v := range vars {
		input[k] = v.InexactFloat64()
	}

	out, _, err := prg.ContextEval(ctx, input)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "formula: eval %q (inputs %v)", expr, sortedKeys(vars))
	}
	v, ok := out.Value().(float64)
	if !ok {
		return decimal.Zero, eris.Errorf("formula: %q result is not a double", expr)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, eris.Errorf("formula: %q result is not finite", expr)
	}
	return decimal.NewFromFloat(v), nil
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
