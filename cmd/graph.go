package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/graph"
	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/tables"
	"github.com/sells-group/contract-compliance/internal/validate"
)

var (
	inferContract string
	inferSave     bool
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect the clause relationship graph",
}

var graphInferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Print edges inferred from clause categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("evaluate"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck

		tbl, err := loadTables(cfg.Engine)
		if err != nil {
			return err
		}
		raws, err := st.ListClauses(ctx)
		if err != nil {
			return eris.Wrap(err, "list clauses")
		}
		edges := inferEdges(raws, inferContract, tbl, cfg.Engine.ConfidenceFloor)

		if inferSave && len(edges) > 0 {
			if err := st.SaveEdges(ctx, edges); err != nil {
				return eris.Wrap(err, "save inferred edges")
			}
			zap.L().Info("inferred edges saved", zap.Int("edges", len(edges)))
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(edges), "write edges")
	},
}

// inferEdges validates raws and infers edges among the valid clauses,
// optionally restricted to one contract. Invalid clauses are logged.
func inferEdges(raws []model.RawClause, contractID string, tbl *tables.Tables, floor float64) []model.Edge {
	valid, invalid := validate.ValidateAll(raws)
	for _, verr := range invalid {
		zap.L().Warn("skipping invalid clause", zap.String("clause", verr.ClauseID), zap.Error(verr))
	}
	if contractID != "" {
		kept := valid[:0]
		for _, c := range valid {
			if c.ContractID() == contractID {
				kept = append(kept, c)
			}
		}
		valid = kept
	}
	edges := graph.Infer(valid, tbl, floor)
	if edges == nil {
		edges = []model.Edge{}
	}
	return edges
}

func init() {
	graphInferCmd.Flags().StringVar(&inferContract, "contract", "", "restrict to one contract")
	graphInferCmd.Flags().BoolVar(&inferSave, "save", false, "persist the inferred edges")
	graphCmd.AddCommand(graphInferCmd)
	rootCmd.AddCommand(graphCmd)
}
