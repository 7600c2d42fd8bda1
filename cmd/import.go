package main

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/ingest"
)

var importCmd = &cobra.Command{
	Use:   "import <contracts|clauses|edges|actuals|events> <file>",
	Short: "Load contract data exports into the store",
	Long: `Loads an export into the store. Contracts, clauses and edges are read
from a JSON array. Actuals and events are read from CSV or XLSX with a
header row. Invalid rows are reported and skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck

		sum, err := ingest.NewLoader(st).LoadFile(ctx, kind, args[1])
		if err != nil {
			return eris.Wrap(err, "import")
		}
		for _, r := range sum.Rejected {
			zap.L().Warn("import: row rejected", zap.Int("row", r.Row), zap.String("reason", r.Err))
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return eris.Wrap(err, "write summary")
		}

		strict, _ := cmd.Flags().GetBool("strict")
		if strict && len(sum.Rejected) > 0 {
			return eris.Errorf("import: %d row(s) rejected", len(sum.Rejected))
		}
		return nil
	},
}

func parseKind(s string) (ingest.Kind, error) {
	k := ingest.Kind(strings.ToLower(s))
	for _, known := range ingest.Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", eris.Errorf("unknown import kind %q", s)
}

func init() {
	importCmd.Flags().Bool("strict", false, "fail when any row is rejected")
	rootCmd.AddCommand(importCmd)
}
