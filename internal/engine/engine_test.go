package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contract-compliance/internal/actuals"
	"github.com/sells-group/contract-compliance/internal/fixture"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/resilience"
	"github.com/sells-group/contract-compliance/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedPPA stores a contract with a 95% availability obligation that
// triggers $50,000 per point of shortfall and is excused by force majeure.
func seedPPA(t *testing.T, st *store.SQLiteStore, contractID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveContract(ctx, model.Contract{ID: contractID, Name: "Solar PPA", Currency: "USD"}))
	require.NoError(t, st.SaveClauses(ctx, []model.RawClause{
		fixture.Raw(contractID+"-avail", contractID, model.CategoryAvailability, fixture.AvailabilityPayload("95")),
		fixture.Raw(contractID+"-ld", contractID, model.CategoryLiquidatedDamages, fixture.PerPointLDPayload("50000", "")),
		fixture.Raw(contractID+"-fm", contractID, model.CategoryForceMajeure, `{"notification_days":5}`),
	}))
	require.NoError(t, st.SaveEdges(ctx, []model.Edge{
		fixture.Edge(contractID+"-e1", contractID+"-avail", contractID+"-ld", model.Triggers),
		fixture.Edge(contractID+"-e2", contractID+"-fm", contractID+"-avail", model.Excuses),
	}))
}

func putAvailability(t *testing.T, st *store.SQLiteStore, contractID, value string) {
	t.Helper()
	require.NoError(t, st.SaveActuals(context.Background(), contractID, "2025-04", map[string]decimal.Decimal{
		"availability_percent": decimal.RequireFromString(value),
	}))
}

func testConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	}
}

func newTestEngine(t *testing.T, st Store, reader actuals.Reader) *Engine {
	t.Helper()
	e, err := New(st, actuals.NewStoreGatherer(reader), testConfig())
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC) }
	return e
}

func onlyItem(t *testing.T, rep *Report) ItemResult {
	t.Helper()
	require.NotNil(t, rep)
	require.Len(t, rep.Items, 1)
	return rep.Items[0]
}

func TestEvaluateRecordsBreachWithDamages(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "91.8")
	e := newTestEngine(t, st, st)
	ctx := context.Background()

	rep, err := e.Evaluate(ctx, Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.NoError(t, err)

	item := onlyItem(t, rep)
	assert.Equal(t, model.OutcomeBreachRecorded, item.Outcome)
	require.NotNil(t, item.Evidence)
	assert.Equal(t, "3.2", item.Evidence.Shortfall.String())
	assert.Equal(t, "2025-04", item.Evidence.PeriodKey)
	require.Len(t, item.Verdicts, 1)
	assert.True(t, decimal.NewFromInt(160000).Equal(item.Verdicts[0].Amount))

	active, err := st.ActiveBreach(ctx, "ppa-1-avail", "2025-04")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, item.BreachID, active.ID)

	verdicts, err := st.ListVerdicts(ctx, active.ID)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, "160000", verdicts[0].Amount.String())

	logs, err := st.ListEvaluationLogs(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.OutcomeBreachRecorded, logs[0].Outcome)
}

func TestEvaluateForceMajeureReducesDamages(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "91.8")
	ended := time.Date(2025, 4, 12, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveEvents(context.Background(), []model.Event{{
		ID:         "storm",
		ContractID: "ppa-1",
		Type:       model.EventForceMajeure,
		Status:     model.StatusVerified,
		StartedAt:  time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
		EndedAt:    &ended,
		// 21.6h of a 720h month is 3.0 points of availability.
		Impact: model.Impact{DowntimeHours: decimal.RequireFromString("21.6"), EnergyLostMWh: decimal.Zero},
	}}))
	e := newTestEngine(t, st, st)

	rep, err := e.Evaluate(context.Background(), Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.NoError(t, err)

	item := onlyItem(t, rep)
	assert.Equal(t, model.OutcomeBreachRecorded, item.Outcome)
	assert.Equal(t, "94.8", item.Evidence.Adjusted.String())
	assert.Equal(t, "0.2", item.Evidence.Shortfall.String())
	assert.Equal(t, []string{"ppa-1-fm"}, item.Evidence.ExcusingClauses)
	require.Len(t, item.Verdicts, 1)
	assert.True(t, decimal.NewFromInt(10000).Equal(item.Verdicts[0].Amount))
}

func TestEvaluateIsIdempotentUnlessForced(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "91.8")
	e := newTestEngine(t, st, st)
	ctx := context.Background()
	task := Task{ContractID: "ppa-1", PeriodKey: "2025-04"}

	first, err := e.Evaluate(ctx, task)
	require.NoError(t, err)
	second, err := e.Evaluate(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeBreachUnchanged, onlyItem(t, second).Outcome)
	assert.Equal(t, onlyItem(t, first).BreachID, onlyItem(t, second).BreachID)

	all, err := st.ListBreaches(ctx, store.BreachFilter{ContractID: "ppa-1", IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	task.Force = true
	forced, err := e.Evaluate(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeBreachSuperseded, onlyItem(t, forced).Outcome)

	all, err = st.ListBreaches(ctx, store.BreachFilter{ContractID: "ppa-1", IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	total, err := st.SumVerdicts(ctx, "ppa-1-avail", "ppa-1-ld", time.Time{}, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, "160000", total.String())
}

func TestEvaluateCompliantWritesNoBreach(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "96")
	e := newTestEngine(t, st, st)
	ctx := context.Background()

	rep, err := e.Evaluate(ctx, Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.NoError(t, err)
	item := onlyItem(t, rep)
	assert.Equal(t, model.OutcomeCompliant, item.Outcome)
	require.NotNil(t, item.Evidence)
	assert.False(t, item.Evidence.Breached)

	all, err := st.ListBreaches(ctx, store.BreachFilter{IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Empty(t, all)

	logs, err := st.ListEvaluationLogs(ctx, rep.RunID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].Evidence)
}

func TestEvaluateMissingActualsCreatesFollowUp(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	e := newTestEngine(t, st, st)
	ctx := context.Background()

	rep, err := e.Evaluate(ctx, Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.NoError(t, err)
	item := onlyItem(t, rep)
	assert.Equal(t, model.OutcomeMissingActuals, item.Outcome)
	assert.Contains(t, item.Error, "availability_percent")
	assert.Equal(t, "permanent", item.ErrorType)
	assert.Nil(t, item.Evidence)

	ups, err := st.ListFollowUps(ctx, "ppa-1")
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Equal(t, "ppa-1-avail", ups[0].ObligationID)

	all, err := st.ListBreaches(ctx, store.BreachFilter{IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEvaluateReportsInvalidClauses(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "96")
	require.NoError(t, st.SaveClauses(context.Background(), []model.RawClause{
		fixture.Raw("ppa-1-pg", "ppa-1", model.CategoryPerformanceGuarantee, `{"metric":"energy_mwh","comparator":">="}`),
	}))
	e := newTestEngine(t, st, st)

	rep, err := e.Evaluate(context.Background(), Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.NoError(t, err)
	require.Len(t, rep.Items, 2)
	assert.Equal(t, model.OutcomeCompliant, rep.Items[0].Outcome)
	assert.Equal(t, "ppa-1-pg", rep.Items[1].ObligationID)
	assert.Equal(t, model.OutcomeInvalidClause, rep.Items[1].Outcome)
	assert.Len(t, rep.Failures(), 1)
}

func TestEvaluateSkipsOtherGranularities(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "91.8")
	e := newTestEngine(t, st, st)

	rep, err := e.Evaluate(context.Background(), Task{ContractID: "ppa-1", PeriodKey: "2025-Q2"})
	require.NoError(t, err)
	assert.Empty(t, rep.Items)
}

func TestEvaluateUnknownContract(t *testing.T) {
	st := newTestStore(t)
	e := newTestEngine(t, st, st)

	_, err := e.Evaluate(context.Background(), Task{ContractID: "nope", PeriodKey: "2025-04"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown contract nope")
}

func TestEvaluateBadPeriodKey(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	e := newTestEngine(t, st, st)

	_, err := e.Evaluate(context.Background(), Task{ContractID: "ppa-1", PeriodKey: "April"})
	require.Error(t, err)
}

func TestEvaluateCancelledWritesNothing(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "91.8")
	e := newTestEngine(t, st, st)
	_, err := e.Refresh(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Evaluate(ctx, Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.Error(t, err)

	all, err := st.ListBreaches(context.Background(), store.BreachFilter{IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Empty(t, all)
}

// flakyStore fails the first GetContract calls with a transient error and
// can simulate a concurrent writer winning the first breach write.
type flakyStore struct {
	*store.SQLiteStore
	contractFailures atomic.Int32
	raceFirstWrite   atomic.Bool
}

func (f *flakyStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	if f.contractFailures.Add(-1) >= 0 {
		return nil, resilience.Transient("get contract", errors.New("connection reset by peer"))
	}
	return f.SQLiteStore.GetContract(ctx, id)
}

func (f *flakyStore) WriteBreach(ctx context.Context, w store.BreachWrite) error {
	if f.raceFirstWrite.CompareAndSwap(true, false) {
		if err := f.SQLiteStore.WriteBreach(ctx, w); err != nil {
			return err
		}
		return store.ErrConflict
	}
	return f.SQLiteStore.WriteBreach(ctx, w)
}

// barrierStore holds each SumVerdicts call until a second one arrives or the
// wait expires, so unserialized cap reads would both see no prior usage.
type barrierStore struct {
	*store.SQLiteStore
	arrived atomic.Int32
	both    chan struct{}
}

func (b *barrierStore) SumVerdicts(ctx context.Context, obligationID, consequenceID string, from, to time.Time, exclude string) (decimal.Decimal, error) {
	if b.arrived.Add(1) == 2 {
		close(b.both)
	}
	select {
	case <-b.both:
	case <-time.After(200 * time.Millisecond):
	}
	return b.SQLiteStore.SumVerdicts(ctx, obligationID, consequenceID, from, to, exclude)
}

func TestEvaluateBatchSerializesCumulativeCapAcrossPeriods(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveContract(ctx, model.Contract{ID: "ppa-1", Name: "Solar PPA", Currency: "USD"}))
	require.NoError(t, st.SaveClauses(ctx, []model.RawClause{
		fixture.Raw("ppa-1-avail", "ppa-1", model.CategoryAvailability, fixture.AvailabilityPayload("95")),
		fixture.Raw("ppa-1-ld", "ppa-1", model.CategoryLiquidatedDamages,
			`{"calculation_type":"per_point","rate_per_point":50000,"currency":"USD","cap_cumulative":200000}`),
	}))
	require.NoError(t, st.SaveEdges(ctx, []model.Edge{
		fixture.Edge("ppa-1-e1", "ppa-1-avail", "ppa-1-ld", model.Triggers),
	}))
	for _, key := range []string{"2025-03", "2025-04"} {
		require.NoError(t, st.SaveActuals(ctx, "ppa-1", key, map[string]decimal.Decimal{
			"availability_percent": decimal.RequireFromString("91.8"),
		}))
	}
	bs := &barrierStore{SQLiteStore: st, both: make(chan struct{})}
	e := newTestEngine(t, bs, st)

	rep, err := e.EvaluateBatch(ctx, []Task{
		{ContractID: "ppa-1", PeriodKey: "2025-03"},
		{ContractID: "ppa-1", PeriodKey: "2025-04"},
	})
	require.NoError(t, err)
	require.Len(t, rep.Items, 2)

	total := decimal.Zero
	for _, item := range rep.Items {
		assert.Equal(t, model.OutcomeBreachRecorded, item.Outcome)
		for _, v := range item.Verdicts {
			total = total.Add(v.Amount)
		}
	}
	assert.Equal(t, "200000", total.String())
	assert.Zero(t, e.locks.len())
}

func TestEvaluateRetriesTransientFailures(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "91.8")
	fs := &flakyStore{SQLiteStore: st}
	fs.contractFailures.Store(2)
	e := newTestEngine(t, fs, st)

	rep, err := e.Evaluate(context.Background(), Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeBreachRecorded, onlyItem(t, rep).Outcome)
}

func TestEvaluateTransientFailuresExhaustRetries(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	fs := &flakyStore{SQLiteStore: st}
	fs.contractFailures.Store(10)
	e := newTestEngine(t, fs, st)

	_, err := e.Evaluate(context.Background(), Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestEvaluateRetriesWriteConflictOnce(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "91.8")
	fs := &flakyStore{SQLiteStore: st}
	fs.raceFirstWrite.Store(true)
	e := newTestEngine(t, fs, st)

	rep, err := e.Evaluate(context.Background(), Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
	require.NoError(t, err)
	item := onlyItem(t, rep)
	assert.Equal(t, model.OutcomeBreachUnchanged, item.Outcome)
	assert.NotEmpty(t, item.BreachID)
}

func TestEvaluateBatchIsolatesTaskFailures(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	seedPPA(t, st, "ppa-2")
	putAvailability(t, st, "ppa-1", "91.8")
	putAvailability(t, st, "ppa-2", "97")
	e := newTestEngine(t, st, st)
	ctx := context.Background()

	tasks, err := e.TasksForPeriod(ctx, "2025-04", false)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	tasks = append(tasks, Task{ContractID: "ghost", PeriodKey: "2025-04"})

	rep, err := e.EvaluateBatch(ctx, tasks)
	require.NoError(t, err)
	require.Len(t, rep.Items, 3)

	assert.Equal(t, "ghost", rep.Items[0].ContractID)
	assert.Equal(t, model.OutcomeError, rep.Items[0].Outcome)
	assert.Equal(t, "permanent", rep.Items[0].ErrorType)
	assert.Equal(t, model.OutcomeBreachRecorded, rep.Items[1].Outcome)
	assert.Equal(t, model.OutcomeCompliant, rep.Items[2].Outcome)

	counts := rep.Counts()
	assert.Equal(t, 1, counts[model.OutcomeBreachRecorded])
	assert.Equal(t, 1, counts[model.OutcomeCompliant])
	assert.Len(t, rep.Failures(), 1)
	assert.Zero(t, e.locks.len())
}

// Concurrent evaluations of the same task record exactly one breach.
func TestEvaluateConcurrentSameTask(t *testing.T) {
	st := newTestStore(t)
	seedPPA(t, st, "ppa-1")
	putAvailability(t, st, "ppa-1", "91.8")
	e := newTestEngine(t, st, st)
	_, err := e.Refresh(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	outcomes := make([]model.Outcome, 6)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := e.Evaluate(context.Background(), Task{ContractID: "ppa-1", PeriodKey: "2025-04"})
			if assert.NoError(t, err) && assert.Len(t, rep.Items, 1) {
				outcomes[i] = rep.Items[0].Outcome
			}
		}(i)
	}
	wg.Wait()

	recorded := 0
	for _, o := range outcomes {
		if o == model.OutcomeBreachRecorded {
			recorded++
		} else {
			assert.Equal(t, model.OutcomeBreachUnchanged, o)
		}
	}
	assert.Equal(t, 1, recorded)
}
