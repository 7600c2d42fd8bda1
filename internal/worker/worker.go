// Package worker runs period evaluations as Temporal workflows. A workflow
// plans one task per contract for the period and fans out one activity per
// task; the engine underneath owns idempotence, so activity retries are safe.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	tworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/engine"
	"github.com/sells-group/contract-compliance/internal/graph"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/resilience"
)

// Evaluator is the engine surface the activities call.
type Evaluator interface {
	Evaluate(ctx context.Context, task engine.Task) (*engine.Report, error)
	Refresh(ctx context.Context) (*graph.Snapshot, error)
	TasksForPeriod(ctx context.Context, periodKey string, force bool) ([]engine.Task, error)
}

// PeriodInput starts an EvaluatePeriod workflow. An empty ContractIDs
// evaluates every known contract.
type PeriodInput struct {
	PeriodKey   string   `json:"period_key"`
	ContractIDs []string `json:"contract_ids,omitempty"`
	Force       bool     `json:"force,omitempty"`
}

// PeriodSummary is the result of an EvaluatePeriod workflow.
type PeriodSummary struct {
	PeriodKey string                `json:"period_key"`
	Tasks     int                   `json:"tasks"`
	Counts    map[model.Outcome]int `json:"counts"`
	BreachIDs []string              `json:"breach_ids,omitempty"`
	Failures  []engine.ItemResult   `json:"failures,omitempty"`
}

const (
	errTypePermanent = "PermanentEvaluationError"

	activityTimeout = 5 * time.Minute
)

// Activities wraps an Evaluator for registration with a Temporal worker.
type Activities struct {
	Engine Evaluator
}

// PlanPeriod refreshes the graph snapshot and returns the period's tasks.
func (a *Activities) PlanPeriod(ctx context.Context, in PeriodInput) ([]engine.Task, error) {
	if _, err := model.ParsePeriod(in.PeriodKey); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypePermanent, err)
	}
	if _, err := a.Engine.Refresh(ctx); err != nil {
		return nil, classify(err)
	}
	if len(in.ContractIDs) > 0 {
		tasks := make([]engine.Task, 0, len(in.ContractIDs))
		for _, id := range in.ContractIDs {
			tasks = append(tasks, engine.Task{ContractID: id, PeriodKey: in.PeriodKey, Force: in.Force})
		}
		return tasks, nil
	}
	tasks, err := a.Engine.TasksForPeriod(ctx, in.PeriodKey, in.Force)
	if err != nil {
		return nil, classify(err)
	}
	return tasks, nil
}

// EvaluateTask runs one (contract, period) task. Transient failures are
// returned as retryable; anything else is final.
func (a *Activities) EvaluateTask(ctx context.Context, task engine.Task) (*engine.Report, error) {
	rep, err := a.Engine.Evaluate(ctx, task)
	if err != nil {
		zap.L().Warn("worker: task failed", zap.String("task", task.String()), zap.Error(err))
		return nil, classify(err)
	}
	return rep, nil
}

func classify(err error) error {
	if resilience.IsTransient(err) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), errTypePermanent, err)
}

// EvaluatePeriod plans the period's tasks and evaluates them in parallel.
// A failed task is reported in the summary and never fails the workflow.
func EvaluatePeriod(ctx workflow.Context, in PeriodInput) (*PeriodSummary, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{errTypePermanent},
		},
	})
	log := workflow.GetLogger(ctx)

	var a *Activities
	var tasks []engine.Task
	if err := workflow.ExecuteActivity(ctx, a.PlanPeriod, in).Get(ctx, &tasks); err != nil {
		return nil, eris.Wrapf(err, "worker: plan period %s", in.PeriodKey)
	}
	log.Info("worker: period planned", "period", in.PeriodKey, "tasks", len(tasks))

	futures := make([]workflow.Future, len(tasks))
	for i, task := range tasks {
		futures[i] = workflow.ExecuteActivity(ctx, a.EvaluateTask, task)
	}

	sum := &PeriodSummary{PeriodKey: in.PeriodKey, Tasks: len(tasks), Counts: map[model.Outcome]int{}}
	for i, f := range futures {
		var rep engine.Report
		if err := f.Get(ctx, &rep); err != nil {
			sum.Counts[model.OutcomeError]++
			sum.Failures = append(sum.Failures, engine.ItemResult{
				ContractID: tasks[i].ContractID,
				PeriodKey:  tasks[i].PeriodKey,
				Outcome:    model.OutcomeError,
				Error:      err.Error(),
				ErrorType:  errorType(err),
			})
			continue
		}
		for _, it := range rep.Items {
			sum.Counts[it.Outcome]++
			if it.BreachID != "" {
				sum.BreachIDs = append(sum.BreachIDs, it.BreachID)
			}
			if it.Failed() {
				sum.Failures = append(sum.Failures, it)
			}
		}
	}
	log.Info("worker: period evaluated", "period", in.PeriodKey, "failures", len(sum.Failures))
	return sum, nil
}

func errorType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.NonRetryable() {
		return "permanent"
	}
	return "transient"
}

// Register adds the workflow and activities to w.
func Register(w tworker.Registry, acts *Activities) {
	w.RegisterWorkflow(EvaluatePeriod)
	w.RegisterActivity(acts)
}

// Run polls taskQueue until ctx is done.
func Run(ctx context.Context, c client.Client, taskQueue string, concurrency int, acts *Activities) error {
	w := tworker.New(c, taskQueue, tworker.Options{
		MaxConcurrentActivityExecutionSize: concurrency,
	})
	Register(w, acts)
	if err := w.Start(); err != nil {
		return eris.Wrap(err, "worker: start")
	}
	zap.L().Info("worker: polling", zap.String("task_queue", taskQueue))
	<-ctx.Done()
	w.Stop()
	return nil
}
