package excuse

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sells-group/contract-compliance/internal/fixture"
	"github.com/sells-group/contract-compliance/internal/graph"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/obligation"
	"github.com/sells-group/contract-compliance/internal/validate"
)

func buildEvents(starts, durations, impacts []int) []model.Event {
	n := len(starts)
	if len(durations) < n {
		n = len(durations)
	}
	if len(impacts) < n {
		n = len(impacts)
	}
	events := make([]model.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, window(fmt.Sprintf("ev-%02d", i), float64(starts[i]), hoursOrInstant(durations[i]), fmt.Sprint(impacts[i])))
	}
	return events
}

// hoursOrInstant maps non-positive durations to a timestamped event.
func hoursOrInstant(d int) float64 {
	if d < 0 {
		return 0
	}
	return float64(d)
}

// Adding a verified excusing event never lowers the excused quantity.
func TestExcuseMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	av := fixture.Availability("av", "c1", "95")
	g, rejected := graph.Build([]validate.ValidatedClause{av, fixture.ForceMajeure("fm", "c1")},
		[]model.Edge{fixture.Edge("e-fm", "fm", "av", model.Excuses)}, graph.Options{})
	if len(rejected) > 0 {
		t.Fatalf("unexpected rejections: %v", rejected)
	}
	ob, _ := obligation.As(av)
	p, err := model.ParsePeriod("2025-04")
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(nil)

	properties.Property("excused quantity is monotone in events", prop.ForAll(
		func(starts, durations, impacts []int, extraStart, extraDuration, extraImpact int) bool {
			base := buildEvents(starts, durations, impacts)
			extra := window("ev-extra", float64(extraStart), hoursOrInstant(extraDuration), fmt.Sprint(extraImpact))
			more := append(append([]model.Event(nil), base...), extra)

			before, err := r.Resolve(context.Background(), ob, p, g, &staticEvents{events: base})
			if err != nil {
				return false
			}
			after, err := r.Resolve(context.Background(), ob, p, g, &staticEvents{events: more})
			if err != nil {
				return false
			}
			return !after.ExcusedQuantity.LessThan(before.ExcusedQuantity) &&
				!after.ExcusedHours.LessThan(before.ExcusedHours)
		},
		gen.SliceOfN(5, gen.IntRange(-48, 740)),
		gen.SliceOfN(5, gen.IntRange(-40, 120)),
		gen.SliceOfN(5, gen.IntRange(0, 60)),
		gen.IntRange(-48, 740),
		gen.IntRange(-40, 120),
		gen.IntRange(0, 60),
	))

	properties.TestingRun(t)
}

// Logging an outage a second time as a timestamped record with the same
// downtime leaves the excused hours unchanged, and the hours never exceed
// the period.
func TestExcuseTimestampedDuplicates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	maint := fixture.Clause("mn", "c1", model.CategoryMaintenance,
		`{"metric":"downtime_hours","threshold":24,"comparator":"<=","evaluation_period":"monthly","metric_unit":"hours"}`)
	g, rejected := graph.Build([]validate.ValidatedClause{maint, fixture.ForceMajeure("fm", "c1")},
		[]model.Edge{fixture.Edge("e-fm", "fm", "mn", model.Excuses)}, graph.Options{})
	if len(rejected) > 0 {
		t.Fatalf("unexpected rejections: %v", rejected)
	}
	ob, _ := obligation.As(maint)
	p, err := model.ParsePeriod("2025-04")
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(nil)

	properties.Property("timestamped duplicates add nothing", prop.ForAll(
		func(starts, durations []int) bool {
			var base, logged []model.Event
			for i := 0; i < len(starts) && i < len(durations); i++ {
				id := fmt.Sprintf("ev-%02d", i)
				base = append(base, window(id, float64(starts[i]), float64(durations[i]), fmt.Sprint(durations[i])))
				logged = append(logged, window(id+"-logged", float64(starts[i]), 0, fmt.Sprint(durations[i])))
			}
			both := append(append([]model.Event(nil), base...), logged...)

			once, err := r.Resolve(context.Background(), ob, p, g, &staticEvents{events: base})
			if err != nil {
				return false
			}
			twice, err := r.Resolve(context.Background(), ob, p, g, &staticEvents{events: both})
			if err != nil {
				return false
			}
			return twice.ExcusedHours.Equal(once.ExcusedHours) &&
				!twice.ExcusedHours.GreaterThan(p.Hours())
		},
		gen.SliceOfN(5, gen.IntRange(-48, 740)),
		gen.SliceOfN(5, gen.IntRange(1, 120)),
	))

	properties.TestingRun(t)
}
