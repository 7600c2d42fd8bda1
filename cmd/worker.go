package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/worker"
)

var (
	workflowPeriod    string
	workflowContracts []string
	workflowForce     bool
	workflowWait      bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal evaluation worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		return worker.Run(ctx, c, cfg.Worker.TaskQueue, cfg.Engine.MaxConcurrency, &worker.Activities{Engine: env.Engine})
	},
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an EvaluatePeriod workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("worker"); err != nil {
			return err
		}
		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		in := worker.PeriodInput{PeriodKey: workflowPeriod, ContractIDs: workflowContracts, Force: workflowForce}
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        "evaluate-period-" + workflowPeriod,
			TaskQueue: cfg.Worker.TaskQueue,
		}, worker.EvaluatePeriod, in)
		if err != nil {
			return eris.Wrap(err, "start workflow")
		}
		zap.L().Info("workflow started",
			zap.String("workflow_id", run.GetID()),
			zap.String("run_id", run.GetRunID()),
		)
		if !workflowWait {
			return nil
		}

		var sum worker.PeriodSummary
		if err := run.Get(ctx, &sum); err != nil {
			return eris.Wrap(err, "workflow result")
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(sum), "write summary")
	},
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Worker.HostPort,
		Namespace: cfg.Worker.Namespace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "dial temporal")
	}
	return c, nil
}

func init() {
	workerStartCmd.Flags().StringVar(&workflowPeriod, "period", "", "period key, e.g. 2025-04")
	workerStartCmd.Flags().StringSliceVar(&workflowContracts, "contracts", nil, "contract ids (default all)")
	workerStartCmd.Flags().BoolVar(&workflowForce, "force", false, "supersede existing breach records")
	workerStartCmd.Flags().BoolVar(&workflowWait, "wait", false, "wait for the workflow and print its summary")
	_ = workerStartCmd.MarkFlagRequired("period")
	workerCmd.AddCommand(workerStartCmd)
	rootCmd.AddCommand(workerCmd)
}
