package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/engine"
)

var (
	evalContract string
	evalPeriod   string
	evalForce    bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one contract for one period",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "evaluate")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Engine.Evaluate(ctx, engine.Task{ContractID: evalContract, PeriodKey: evalPeriod, Force: evalForce})
		if err != nil {
			return eris.Wrapf(err, "evaluate %s/%s", evalContract, evalPeriod)
		}
		env.Alerter.Notify(ctx, rep)
		return writeReport(cmd.OutOrStdout(), rep)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalContract, "contract", "", "contract id")
	evaluateCmd.Flags().StringVar(&evalPeriod, "period", "", "period key, e.g. 2025-04, 2025-Q2 or 2025")
	evaluateCmd.Flags().BoolVar(&evalForce, "force", false, "supersede existing breach records")
	_ = evaluateCmd.MarkFlagRequired("contract")
	_ = evaluateCmd.MarkFlagRequired("period")
	rootCmd.AddCommand(evaluateCmd)
}

// writeReport prints rep as indented JSON and logs its outcome counts.
func writeReport(w io.Writer, rep *engine.Report) error {
	fields := []zap.Field{zap.String("run_id", rep.RunID), zap.Int("items", len(rep.Items))}
	for outcome, n := range rep.Counts() {
		fields = append(fields, zap.Int(string(outcome), n))
	}
	zap.L().Info("evaluation complete", fields...)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(rep), "write report")
}
