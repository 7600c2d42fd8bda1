// Package engine runs compliance evaluations: one task per (contract,
// period), each a deterministic pipeline from obligations through excuses,
// breach decision and consequences to the recorded result.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/contract-compliance/internal/actuals"
	"github.com/sells-group/contract-compliance/internal/breach"
	"github.com/sells-group/contract-compliance/internal/consequence"
	"github.com/sells-group/contract-compliance/internal/excuse"
	"github.com/sells-group/contract-compliance/internal/graph"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/obligation"
	"github.com/sells-group/contract-compliance/internal/recorder"
	"github.com/sells-group/contract-compliance/internal/resilience"
	"github.com/sells-group/contract-compliance/internal/store"
	"github.com/sells-group/contract-compliance/internal/tables"
	"github.com/sells-group/contract-compliance/internal/validate"
)

// Store is the persistence surface the engine uses.
type Store interface {
	recorder.Writer
	consequence.Priors

	GetContract(ctx context.Context, id string) (*model.Contract, error)
	ListContracts(ctx context.Context) ([]model.Contract, error)
	ListClauses(ctx context.Context) ([]model.RawClause, error)
	ListEdges(ctx context.Context) ([]model.Edge, error)
	AppendEvaluationLogs(ctx context.Context, logs []model.EvaluationLog) error
	SaveFollowUp(ctx context.Context, f model.FollowUp) error
}

// Config tunes an Engine.
type Config struct {
	MaxConcurrency  int
	ConfidenceFloor float64
	InferEdges      bool
	Retry           resilience.RetryConfig
	Tables          *tables.Tables
}

// Task is one (contract, period) evaluation.
type Task struct {
	ContractID string `json:"contract_id"`
	PeriodKey  string `json:"period_key"`
	Force      bool   `json:"force,omitempty"`
}

func (t Task) String() string { return t.ContractID + "/" + t.PeriodKey }

// Engine evaluates tasks against the current graph snapshot.
type Engine struct {
	store    Store
	gatherer actuals.Gatherer
	holder   *graph.Holder
	view     obligation.View
	resolver *excuse.Resolver
	calc     *consequence.Calculator
	recorder *recorder.Recorder
	cfg      Config
	locks    *keyedMutex
	now      func() time.Time
	newID    func() string
}

// New returns an Engine reading operational data through gatherer.
func New(st Store, gatherer actuals.Gatherer, cfg Config) (*Engine, error) {
	if cfg.Tables == nil {
		cfg.Tables = tables.Default()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	calc, err := consequence.NewCalculator()
	if err != nil {
		return nil, eris.Wrap(err, "engine: create calculator")
	}
	return &Engine{
		store:    st,
		gatherer: gatherer,
		holder:   graph.NewHolder(),
		view:     obligation.NewView(cfg.Tables),
		resolver: excuse.NewResolver(cfg.Tables),
		calc:     calc,
		recorder: recorder.New(st),
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Snapshot returns the graph snapshot evaluations currently use.
func (e *Engine) Snapshot() *graph.Snapshot {
	return e.holder.Load()
}

// Refresh reloads clauses and edges from the store and swaps in a new graph
// snapshot. Evaluations already running keep the snapshot they started with.
func (e *Engine) Refresh(ctx context.Context) (*graph.Snapshot, error) {
	retry := e.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("engine", "graph refresh")

	raws, err := resilience.DoVal(ctx, retry, e.store.ListClauses)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load clauses")
	}
	edges, err := resilience.DoVal(ctx, retry, e.store.ListEdges)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load edges")
	}
	if e.cfg.InferEdges {
		edges = e.withInferred(raws, edges)
	}
	return e.holder.Rebuild(raws, edges, graph.Options{
		ConfidenceFloor: e.cfg.ConfidenceFloor,
		Tables:          e.cfg.Tables,
	}), nil
}

// withInferred adds inferred edges whose (kind, source, target) is not
// already declared.
func (e *Engine) withInferred(raws []model.RawClause, edges []model.Edge) []model.Edge {
	valid, _ := validate.ValidateAll(raws)
	declared := make(map[string]bool, len(edges))
	for _, ed := range edges {
		declared[string(ed.Kind)+"|"+ed.Source+"|"+ed.Target] = true
	}
	out := append([]model.Edge{}, edges...)
	for _, ed := range graph.Infer(valid, e.cfg.Tables, e.cfg.ConfidenceFloor) {
		if !declared[string(ed.Kind)+"|"+ed.Source+"|"+ed.Target] {
			out = append(out, ed)
		}
	}
	return out
}

// Evaluate runs one task. The returned error is set only when the task as a
// whole could not run; per-obligation failures are reported as items.
func (e *Engine) Evaluate(ctx context.Context, task Task) (*Report, error) {
	if e.holder.Load().Version == 0 {
		if _, err := e.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	rep := &Report{RunID: e.newID(), StartedAt: e.now().UTC()}
	items, err := e.runTask(ctx, rep.RunID, task)
	rep.Items = items
	rep.FinishedAt = e.now().UTC()
	rep.sort()
	return rep, err
}

// EvaluateBatch refreshes the graph once, then runs every task with bounded
// parallelism. A failed task becomes an error item and never aborts the
// batch. The error is set only on refresh failure or cancellation.
func (e *Engine) EvaluateBatch(ctx context.Context, tasks []Task) (*Report, error) {
	rep := &Report{RunID: e.newID(), StartedAt: e.now().UTC()}
	if _, err := e.Refresh(ctx); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("run_id", rep.RunID))
	log.Info("engine: batch started",
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", e.cfg.MaxConcurrency),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)

	for _, task := range tasks {
		g.Go(func() error {
			items, err := e.runTask(gctx, rep.RunID, task)
			if err != nil {
				log.Error("engine: task failed", zap.String("task", task.String()), zap.Error(err))
				items = append(items, taskFailure(task, err))
			}
			mu.Lock()
			rep.Items = append(rep.Items, items...)
			mu.Unlock()
			return nil // don't abort batch on individual failure
		})
	}
	_ = g.Wait()

	rep.FinishedAt = e.now().UTC()
	rep.sort()
	log.Info("engine: batch complete",
		zap.Int("items", len(rep.Items)),
		zap.Int("failed", len(rep.Failures())),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	if err := ctx.Err(); err != nil {
		return rep, eris.Wrap(err, "engine: batch cancelled")
	}
	return rep, nil
}

// TasksForPeriod returns one task per stored contract for periodKey.
func (e *Engine) TasksForPeriod(ctx context.Context, periodKey string, force bool) ([]Task, error) {
	contracts, err := e.store.ListContracts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: list contracts")
	}
	seen := make(map[string]bool, len(contracts))
	tasks := make([]Task, 0, len(contracts))
	for _, c := range contracts {
		seen[c.ID] = true
		tasks = append(tasks, Task{ContractID: c.ID, PeriodKey: periodKey, Force: force})
	}
	// Contracts known only through their clauses still get evaluated.
	for _, id := range e.holder.Load().Graph.Contracts() {
		if !seen[id] {
			tasks = append(tasks, Task{ContractID: id, PeriodKey: periodKey, Force: force})
		}
	}
	return tasks, nil
}

func taskFailure(task Task, err error) ItemResult {
	return ItemResult{
		ContractID: task.ContractID,
		PeriodKey:  task.PeriodKey,
		Outcome:    model.OutcomeError,
		Error:      err.Error(),
		ErrorType:  resilience.Classify(err),
	}
}

// runTask serializes work per contract, since annual and cumulative caps read
// verdicts of other periods, and retries the whole task on transient store
// failures.
func (e *Engine) runTask(ctx context.Context, runID string, task Task) ([]ItemResult, error) {
	period, err := model.ParsePeriod(task.PeriodKey)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: task %s", task)
	}

	unlock := e.locks.Lock(task.ContractID)
	defer unlock()

	retry := e.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("engine", "task "+task.String())
	return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]ItemResult, error) {
		return e.evaluateTask(ctx, runID, task, period)
	})
}

// fatal reports whether err should abort the task rather than be isolated to
// one obligation.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || resilience.IsTransient(err)
}

func (e *Engine) evaluateTask(ctx context.Context, runID string, task Task, period model.Period) ([]ItemResult, error) {
	snap := e.holder.Load()
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("contract", task.ContractID),
		zap.String("period", period.Key()),
		zap.Uint64("snapshot", snap.Version),
	)

	contract, err := e.contract(ctx, snap, task.ContractID)
	if err != nil {
		return nil, err
	}

	var items []ItemResult
	for _, verr := range snap.InvalidFor(task.ContractID) {
		items = append(items, ItemResult{
			ContractID:   task.ContractID,
			PeriodKey:    period.Key(),
			ObligationID: verr.ClauseID,
			Outcome:      model.OutcomeInvalidClause,
			Error:        verr.Error(),
			ErrorType:    resilience.Classify(verr),
		})
	}

	var obligations []obligation.Obligation
	for _, ob := range e.view.All(snap.Graph.ClausesOf(task.ContractID)) {
		if ob.Period == period.Granularity {
			obligations = append(obligations, ob)
		}
	}

	var acts actuals.Actuals
	if len(obligations) > 0 {
		acts, err = e.gatherer.Actuals(ctx, task.ContractID, period)
		if err != nil && !errors.Is(err, actuals.ErrMissingActuals) {
			return nil, eris.Wrap(err, "engine: gather actuals")
		}
	}

	for _, ob := range obligations {
		item, err := e.evaluateObligation(ctx, task, period, *contract, snap.Graph, ob, acts)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "engine: cancelled before logging")
	}
	logs := make([]model.EvaluationLog, 0, len(items))
	at := e.now().UTC()
	for _, it := range items {
		logs = append(logs, model.EvaluationLog{
			ID:           e.newID(),
			RunID:        runID,
			ObligationID: it.ObligationID,
			ContractID:   it.ContractID,
			PeriodKey:    it.PeriodKey,
			Outcome:      it.Outcome,
			Reason:       it.Error,
			Evidence:     it.Evidence,
			CreatedAt:    at,
		})
		fields := []zap.Field{zap.String("obligation", it.ObligationID), zap.String("outcome", string(it.Outcome))}
		if it.Failed() {
			log.Warn("engine: obligation not evaluated", append(fields, zap.String("reason", it.Error))...)
		} else {
			log.Info("engine: obligation evaluated", fields...)
		}
	}
	if err := e.store.AppendEvaluationLogs(ctx, logs); err != nil {
		return nil, eris.Wrap(err, "engine: append evaluation logs")
	}
	return items, nil
}

// contract loads the contract record. A contract known only through its
// clauses gets a bare record.
func (e *Engine) contract(ctx context.Context, snap *graph.Snapshot, id string) (*model.Contract, error) {
	c, err := e.store.GetContract(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "engine: load contract")
	}
	if len(snap.Graph.ClausesOf(id)) == 0 && len(snap.InvalidFor(id)) == 0 {
		return nil, eris.Errorf("engine: unknown contract %s", id)
	}
	return &model.Contract{ID: id}, nil
}

func (e *Engine) evaluateObligation(ctx context.Context, task Task, period model.Period, contract model.Contract, g *graph.Graph, ob obligation.Obligation, acts actuals.Actuals) (ItemResult, error) {
	item := ItemResult{ContractID: task.ContractID, PeriodKey: period.Key(), ObligationID: ob.ClauseID}
	fail := func(outcome model.Outcome, err error) ItemResult {
		item.Outcome = outcome
		item.Error = err.Error()
		item.ErrorType = resilience.Classify(err)
		return item
	}

	value, ok := acts.Get(ob.Metric)
	if !ok {
		missing := &actuals.MissingActualsError{ContractID: task.ContractID, PeriodKey: period.Key(), Metric: ob.Metric}
		if err := e.store.SaveFollowUp(ctx, model.FollowUp{
			ID:           e.newID(),
			ObligationID: ob.ClauseID,
			ContractID:   task.ContractID,
			PeriodKey:    period.Key(),
			Reason:       missing.Error(),
			CreatedAt:    e.now().UTC(),
		}); err != nil {
			return item, eris.Wrap(err, "engine: save follow-up")
		}
		return fail(model.OutcomeMissingActuals, missing), nil
	}

	adj, err := e.resolver.Resolve(ctx, ob, period, g, e.gatherer)
	if err != nil {
		if fatal(ctx, err) {
			return item, err
		}
		return fail(model.OutcomeError, err), nil
	}

	v := breach.Evaluate(ob, value, adj)
	ev := v.Evidence
	ev.PeriodKey = period.Key()
	item.Evidence = &ev

	var results []model.ConsequenceResult
	if v.Breached {
		results, err = e.calc.Calculate(ctx, consequence.Breach{
			Obligation:   ob,
			Period:       period,
			Evidence:     ev,
			Contract:     contract,
			DeterminedAt: e.now().UTC(),
		}, g, e.store)
		if err != nil {
			if fatal(ctx, err) {
				return item, err
			}
			return fail(model.OutcomeError, err), nil
		}
		item.Verdicts = results
	}

	if err := ctx.Err(); err != nil {
		return item, eris.Wrap(err, "engine: cancelled before write")
	}

	outcome, rec, err := e.recorder.Record(ctx, ev, period, results, task.Force)
	if errors.Is(err, recorder.ErrConcurrentWriteConflict) {
		zap.L().Warn("engine: write conflict, retrying against current state",
			zap.String("obligation", ob.ClauseID), zap.String("period", period.Key()))
		outcome, rec, err = e.recorder.Record(ctx, ev, period, results, task.Force)
	}
	if err != nil {
		if fatal(ctx, err) {
			return item, err
		}
		return fail(model.OutcomeError, err), nil
	}

	item.Outcome = outcome
	if rec != nil {
		item.BreachID = rec.ID
	}
	return item, nil
}
