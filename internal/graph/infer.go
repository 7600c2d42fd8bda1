package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/tables"
	"github.com/sells-group/contract-compliance/internal/validate"
)

// inferNamespace scopes deterministic ids of inferred edges.
var inferNamespace = uuid.MustParse("6f1c7a52-3b0e-4d8e-9a43-2a5e0c1d9b77")

// InferredEdgeID returns the stable id of an inferred edge so re-detection
// replaces rather than duplicates it.
func InferredEdgeID(kind model.EdgeKind, source, target string) string {
	return uuid.NewSHA1(inferNamespace, []byte(fmt.Sprintf("%s|%s|%s", kind, source, target))).String()
}

// Infer proposes edges between clauses of the same contract from the
// declared category-pair patterns. Patterns whose confidence is below floor
// produce nothing. Superseded clauses are ignored.
func Infer(clauses []validate.ValidatedClause, t *tables.Tables, floor float64) []model.Edge {
	if t == nil {
		t = tables.Default()
	}

	g, _ := Build(clauses, nil, Options{Tables: t})
	var out []model.Edge
	for _, contractID := range g.Contracts() {
		members := g.ClausesOf(contractID)
		for _, p := range t.Patterns {
			if p.Confidence < floor {
				continue
			}
			for _, src := range members {
				if src.Category() != p.Source {
					continue
				}
				for _, tgt := range members {
					if tgt.Category() != p.Target || tgt.ID() == src.ID() {
						continue
					}
					out = append(out, model.Edge{
						ID:         InferredEdgeID(p.Kind, src.ID(), tgt.ID()),
						Source:     src.ID(),
						Target:     tgt.ID(),
						Kind:       p.Kind,
						Confidence: p.Confidence,
						Params: map[string]string{
							"origin":  model.OriginInferred,
							"pattern": fmt.Sprintf("%s->%s", p.Source, p.Target),
						},
					})
				}
			}
		}
	}
	return out
}
