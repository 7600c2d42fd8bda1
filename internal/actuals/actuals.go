// Package actuals retrieves aggregated operational metrics and logged events
// for a contract and period.
package actuals

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/contract-compliance/internal/model"
)

// ErrMissingActuals is returned when no aggregate exists for a period.
var ErrMissingActuals = eris.New("actuals: no data for period")

// MissingActualsError identifies the contract, period and metric that had
// no aggregate. It matches ErrMissingActuals with errors.Is.
type MissingActualsError struct {
	ContractID string
	PeriodKey  string
	Metric     string
}

func (e *MissingActualsError) Error() string {
	if e.Metric == "" {
		return fmt.Sprintf("actuals: no data for contract %s period %s", e.ContractID, e.PeriodKey)
	}
	return fmt.Sprintf("actuals: no %s for contract %s period %s", e.Metric, e.ContractID, e.PeriodKey)
}

// Is reports whether target is ErrMissingActuals.
func (e *MissingActualsError) Is(target error) bool {
	return target == ErrMissingActuals
}

// Actuals maps metric names to aggregated values for one period.
type Actuals map[string]decimal.Decimal

// Get returns the value for metric.
func (a Actuals) Get(metric string) (decimal.Decimal, bool) {
	v, ok := a[metric]
	return v, ok
}

// Gatherer supplies the operational inputs of an evaluation.
type Gatherer interface {
	// Actuals returns every metric aggregate for the period, or an error
	// matching ErrMissingActuals when none exist.
	Actuals(ctx context.Context, contractID string, period model.Period) (Actuals, error)
	// Events returns events of the given types linked to the contract (or
	// unlinked) whose window intersects the period. A nil types slice
	// returns every type.
	Events(ctx context.Context, contractID string, period model.Period, types []model.EventType) ([]model.Event, error)
}

// Reader is the store surface a StoreGatherer reads from.
type Reader interface {
	GetActuals(ctx context.Context, contractID, periodKey string) (map[string]decimal.Decimal, error)
	ListEvents(ctx context.Context, contractID string, from, to time.Time) ([]model.Event, error)
}

// StoreGatherer reads actuals and events from the store.
type StoreGatherer struct {
	store Reader
}

// NewStoreGatherer returns a Gatherer backed by r.
func NewStoreGatherer(r Reader) *StoreGatherer {
	return &StoreGatherer{store: r}
}

// Actuals implements Gatherer.
func (g *StoreGatherer) Actuals(ctx context.Context, contractID string, period model.Period) (Actuals, error) {
	vals, err := g.store.GetActuals(ctx, contractID, period.Key())
	if err != nil {
		return nil, eris.Wrapf(err, "actuals: get %s/%s", contractID, period.Key())
	}
	if len(vals) == 0 {
		return nil, &MissingActualsError{ContractID: contractID, PeriodKey: period.Key()}
	}
	return Actuals(vals), nil
}

// Events implements Gatherer.
func (g *StoreGatherer) Events(ctx context.Context, contractID string, period model.Period, types []model.EventType) ([]model.Event, error) {
	events, err := g.store.ListEvents(ctx, contractID, period.Start, period.End)
	if err != nil {
		return nil, eris.Wrapf(err, "actuals: list events %s/%s", contractID, period.Key())
	}
	return FilterEvents(events, contractID, period, types), nil
}

// FilterEvents keeps events linked to contractID (or unlinked) of the given
// types whose window intersects period. A nil types slice keeps every type.
func FilterEvents(events []model.Event, contractID string, period model.Period, types []model.EventType) []model.Event {
	var allowed map[model.EventType]bool
	if types != nil {
		allowed = make(map[model.EventType]bool, len(types))
		for _, t := range types {
			allowed[t] = true
		}
	}
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if e.ContractID != "" && e.ContractID != contractID {
			continue
		}
		if allowed != nil && !allowed[e.Type] {
			continue
		}
		if !period.Intersects(e.StartedAt, e.WindowEnd()) {
			continue
		}
		out = append(out, e)
	}
	return out
}
