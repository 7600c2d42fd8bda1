package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contract-compliance/internal/engine"
)

var (
	batchPeriod    string
	batchContracts []string
	batchForce     bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Evaluate every contract for a period with bounded concurrency",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "evaluate")
		if err != nil {
			return err
		}
		defer env.Close()

		tasks, err := planTasks(cmd, env.Engine, batchPeriod, batchContracts, batchForce)
		if err != nil {
			return err
		}
		rep, err := env.Engine.EvaluateBatch(ctx, tasks)
		if rep != nil {
			env.Alerter.Notify(ctx, rep)
			if werr := writeReport(cmd.OutOrStdout(), rep); werr != nil {
				return werr
			}
		}
		return err
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchPeriod, "period", "", "period key, e.g. 2025-04")
	batchCmd.Flags().StringSliceVar(&batchContracts, "contracts", nil, "contract ids (default all)")
	batchCmd.Flags().BoolVar(&batchForce, "force", false, "supersede existing breach records")
	_ = batchCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(batchCmd)
}

// planTasks lists the batch's tasks: the named contracts, or every contract
// known to the store or the clause graph.
func planTasks(cmd *cobra.Command, eng *engine.Engine, period string, contracts []string, force bool) ([]engine.Task, error) {
	if len(contracts) > 0 {
		tasks := make([]engine.Task, 0, len(contracts))
		for _, id := range contracts {
			tasks = append(tasks, engine.Task{ContractID: id, PeriodKey: period, Force: force})
		}
		return tasks, nil
	}
	if _, err := eng.Refresh(cmd.Context()); err != nil {
		return nil, err
	}
	tasks, err := eng.TasksForPeriod(cmd.Context(), period, force)
	if err != nil {
		return nil, eris.Wrap(err, "plan batch")
	}
	return tasks, nil
}
