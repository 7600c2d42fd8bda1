// Package excuse computes the excused quantity of an obligation for a period
// from verified events reachable through EXCUSES edges.
package excuse

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/contract-compliance/internal/graph"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/obligation"
	"github.com/sells-group/contract-compliance/internal/tables"
)

// EventSource supplies events for a contract and period.
type EventSource interface {
	Events(ctx context.Context, contractID string, period model.Period, types []model.EventType) ([]model.Event, error)
}

// Adjustment is the excused quantity of one obligation for one period, in
// the obligation's metric unit.
type Adjustment struct {
	ExcusedQuantity decimal.Decimal  `json:"excused_quantity"`
	ExcusedHours    decimal.Decimal  `json:"excused_hours"`
	ExcusedEnergy   decimal.Decimal  `json:"excused_energy_mwh"`
	EventsApplied   []string         `json:"events_applied"`
	EventsConsulted []model.EventRef `json:"events_consulted"`
	ExcusingClauses []string         `json:"excusing_clauses"`
}

// Zero is the adjustment of an obligation with no excuse.
func Zero() Adjustment {
	return Adjustment{
		ExcusedQuantity: decimal.Zero,
		ExcusedHours:    decimal.Zero,
		ExcusedEnergy:   decimal.Zero,
		EventsApplied:   []string{},
		EventsConsulted: []model.EventRef{},
		ExcusingClauses: []string{},
	}
}

// Resolver maps excusing clause categories to event types through the
// declared tables.
type Resolver struct {
	tables *tables.Tables
}

// NewResolver returns a Resolver over t, or the built-in tables when t is nil.
func NewResolver(t *tables.Tables) *Resolver {
	if t == nil {
		t = tables.Default()
	}
	return &Resolver{tables: t}
}

// Resolve walks the EXCUSES edges targeting ob, fetches events of the mapped
// types and sums their de-duplicated impact into an adjustment. An
// obligation with no edges or no matching events gets a zero adjustment.
func (r *Resolver) Resolve(ctx context.Context, ob obligation.Obligation, period model.Period, g *graph.Graph, events EventSource) (Adjustment, error) {
	adj := Zero()

	edges := g.IncomingOfKind(ob.ClauseID, model.Excuses)
	if len(edges) == 0 {
		return adj, nil
	}

	typeSet := make(map[model.EventType]bool)
	for _, e := range edges {
		src, ok := g.Clause(e.Source)
		if !ok {
			continue
		}
		adj.ExcusingClauses = append(adj.ExcusingClauses, src.ID())
		for _, t := range r.tables.EventTypesFor(src.Category()) {
			typeSet[t] = true
		}
	}
	sort.Strings(adj.ExcusingClauses)
	if len(typeSet) == 0 {
		return adj, nil
	}
	types := make([]model.EventType, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	evs, err := events.Events(ctx, ob.ContractID, period, types)
	if err != nil {
		return Adjustment{}, eris.Wrapf(err, "excuse: events for %s", ob.ClauseID)
	}

	apply(&adj, ob.MetricUnit, period, evs, typeSet)
	return adj, nil
}

type candidate struct {
	event    model.Event
	start    time.Time
	end      time.Time
	duration time.Duration
	downtime decimal.Decimal
	energy   decimal.Decimal
	hours    decimal.Decimal
	mwh      decimal.Decimal
}

func apply(adj *Adjustment, unit model.MetricUnit, period model.Period, evs []model.Event, types map[model.EventType]bool) {
	sorted := append([]model.Event(nil), evs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].StartedAt.Equal(sorted[j].StartedAt) {
			return sorted[i].StartedAt.Before(sorted[j].StartedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	seen := make(map[string]bool, len(sorted))
	var cands []*candidate
	refs := make([]model.EventRef, 0, len(sorted))
	refIndex := make(map[string]int, len(sorted))
	for _, e := range sorted {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		ref := model.EventRef{ID: e.ID, Type: e.Type, Status: e.Status, Contribution: decimal.Zero}
		end := e.WindowEnd()
		switch {
		case !types[e.Type]:
			ref.Reason = "event type not excused by linked clauses"
		case !e.Verified():
			ref.Reason = "status " + string(e.Status) + " is not verified"
		case !period.Intersects(e.StartedAt, end):
			ref.Reason = "window outside period"
		default:
			downtime := nonNegative(e.Impact.DowntimeHours)
			dur := end.Sub(e.StartedAt)
			if dur < time.Second {
				dur = 0
				// A timestamped outage occupies its downtime from its start, so it
				// de-duplicates against windows and is clipped to the period.
				if implied := hoursDuration(downtime); implied >= time.Second {
					dur = implied
					end = e.StartedAt.Add(implied)
				}
			}
			cands = append(cands, &candidate{
				event:    e,
				start:    maxTime(e.StartedAt, period.Start),
				end:      minTime(end, period.End),
				duration: dur,
				downtime: downtime,
				energy:   nonNegative(e.Impact.EnergyLostMWh),
				hours:    decimal.Zero,
				mwh:      decimal.Zero,
			})
		}
		refIndex[e.ID] = len(refs)
		refs = append(refs, ref)
	}

	sweep(cands, func(c *candidate) decimal.Decimal { return c.downtime }, func(c *candidate, v decimal.Decimal) { c.hours = c.hours.Add(v) })
	sweep(cands, func(c *candidate) decimal.Decimal { return c.energy }, func(c *candidate, v decimal.Decimal) { c.mwh = c.mwh.Add(v) })
	instants(cands)

	totalHours := decimal.Zero
	totalEnergy := decimal.Zero
	for _, c := range cands {
		totalHours = totalHours.Add(c.hours)
		totalEnergy = totalEnergy.Add(c.mwh)

		ref := &refs[refIndex[c.event.ID]]
		contribution := toUnit(unit, c.hours, c.mwh, period)
		if unit == model.UnitCount {
			contribution = decimal.NewFromInt(1)
		}
		switch {
		case contribution.IsPositive():
			ref.Applied = true
			ref.Contribution = contribution.Round(6)
			adj.EventsApplied = append(adj.EventsApplied, c.event.ID)
		case !convertible(unit):
			ref.Reason = "metric unit " + string(unit) + " has no excuse conversion"
		case c.downtime.IsZero() && c.energy.IsZero():
			ref.Reason = "event has no recorded impact"
		default:
			ref.Reason = "impact already covered by overlapping events"
		}
	}

	adj.EventsConsulted = refs
	adj.ExcusedHours = totalHours.Round(6)
	adj.ExcusedEnergy = totalEnergy.Round(6)
	if unit == model.UnitCount {
		adj.ExcusedQuantity = decimal.NewFromInt(int64(len(adj.EventsApplied)))
		return
	}
	adj.ExcusedQuantity = toUnit(unit, totalHours, totalEnergy, period).Round(6)
}

// sweep splits the union of interval windows at every clipped boundary and
// credits each segment once, to the covering event with the highest impact
// rate. Ties go to the earliest start, then the lowest id, which is the
// order of cands. Adding an event can only raise a segment's rate, so the
// total never decreases.
func sweep(cands []*candidate, impact func(*candidate) decimal.Decimal, credit func(*candidate, decimal.Decimal)) {
	var bounds []time.Time
	for _, c := range cands {
		if c.duration <= 0 || !c.end.After(c.start) {
			continue
		}
		bounds = append(bounds, c.start, c.end)
	}
	if len(bounds) == 0 {
		return
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i].Before(bounds[j]) })

	for i := 0; i+1 < len(bounds); i++ {
		from, to := bounds[i], bounds[i+1]
		if !to.After(from) {
			continue
		}
		var winner *candidate
		var best decimal.Decimal
		for _, c := range cands {
			if c.duration <= 0 || c.start.After(from) || c.end.Before(to) {
				continue
			}
			rate := impact(c).DivRound(decimal.NewFromInt(int64(c.duration/time.Second)), 24)
			if winner == nil || rate.GreaterThan(best) {
				winner, best = c, rate
			}
		}
		if winner == nil || best.IsZero() {
			continue
		}
		seg := decimal.NewFromInt(int64(to.Sub(from) / time.Second))
		full := decimal.NewFromInt(int64(winner.duration / time.Second))
		credit(winner, impact(winner).Mul(seg).DivRound(full, 16))
	}
}

// instants credits events that occupy less than a second their full impact,
// counting the largest impact once per timestamp.
func instants(cands []*candidate) {
	type best struct{ hours, mwh *candidate }
	byTime := make(map[time.Time]*best)
	var order []time.Time
	for _, c := range cands {
		if c.duration > 0 {
			continue
		}
		k := c.start
		b, ok := byTime[k]
		if !ok {
			b = &best{}
			byTime[k] = b
			order = append(order, k)
		}
		if b.hours == nil || c.downtime.GreaterThan(b.hours.downtime) {
			b.hours = c
		}
		if b.mwh == nil || c.energy.GreaterThan(b.mwh.energy) {
			b.mwh = c
		}
	}
	for _, k := range order {
		b := byTime[k]
		b.hours.hours = b.hours.hours.Add(b.hours.downtime)
		b.mwh.mwh = b.mwh.mwh.Add(b.mwh.energy)
	}
}

// hoursDuration converts decimal hours to a duration truncated to the second.
func hoursDuration(h decimal.Decimal) time.Duration {
	return time.Duration(h.Mul(decimal.NewFromInt(3600)).IntPart()) * time.Second
}

var (
	hundred     = decimal.NewFromInt(100)
	hoursPerDay = decimal.NewFromInt(24)
)

func toUnit(unit model.MetricUnit, hours, mwh decimal.Decimal, period model.Period) decimal.Decimal {
	switch unit {
	case model.UnitPercent:
		ph := period.Hours()
		if ph.IsZero() {
			return decimal.Zero
		}
		return hours.Mul(hundred).DivRound(ph, 16)
	case model.UnitHours:
		return hours
	case model.UnitDays:
		return hours.DivRound(hoursPerDay, 16)
	case model.UnitMWh:
		return mwh
	}
	return decimal.Zero
}

func convertible(unit model.MetricUnit) bool {
	switch unit {
	case model.UnitPercent, model.UnitHours, model.UnitDays, model.UnitMWh, model.UnitCount:
		return true
	}
	return false
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
