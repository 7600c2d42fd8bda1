package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Contract obligation compliance engine",
	Long: `Evaluates contract obligations against operational actuals for a period,
applies verified excusing events, and records confirmed breaches together
with their liquidated damages, default notices and termination rights.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyLogFlags(cmd, &c.Log)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyLogFlags lets --log-level and --log-format override the loaded
// configuration when they were set explicitly.
func applyLogFlags(cmd *cobra.Command, lc *config.LogConfig) {
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		lc.Level = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
		lc.Format = f.Value.String()
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json or console)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
