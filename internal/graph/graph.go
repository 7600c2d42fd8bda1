// Package graph indexes validated clauses and the typed edges between them.
// A Graph is immutable once built; a rebuild produces a complete new Graph.
package graph

import (
	"fmt"
	"sort"

	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/tables"
	"github.com/sells-group/contract-compliance/internal/validate"
)

// Options control which edges are admitted.
type Options struct {
	ConfidenceFloor float64
	Tables          *tables.Tables
}

// Rejection is an edge that was not admitted, with the reason.
type Rejection struct {
	Edge   model.Edge `json:"edge"`
	Reason string     `json:"reason"`
}

type adjacency map[string]map[model.EdgeKind][]model.Edge

func (a adjacency) add(id string, e model.Edge) {
	byKind, ok := a[id]
	if !ok {
		byKind = make(map[model.EdgeKind][]model.Edge, 2)
		a[id] = byKind
	}
	byKind[e.Kind] = append(byKind[e.Kind], e)
}

func (a adjacency) get(id string, kind model.EdgeKind) []model.Edge {
	edges := a[id][kind]
	if len(edges) == 0 {
		return []model.Edge{}
	}
	out := make([]model.Edge, len(edges))
	copy(out, edges)
	return out
}

// Graph is an arena of validated clauses addressed by id plus outgoing and
// incoming adjacency partitioned by edge kind.
type Graph struct {
	nodes      []validate.ValidatedClause
	index      map[string]int
	byContract map[string][]int
	edges      []model.Edge
	out        adjacency
	in         adjacency
}

// Build indexes clauses and admits the edges that satisfy opts. Superseded
// clause versions are left out of the arena, so edges naming them are
// rejected as unknown endpoints.
func Build(clauses []validate.ValidatedClause, edges []model.Edge, opts Options) (*Graph, []Rejection) {
	if opts.Tables == nil {
		opts.Tables = tables.Default()
	}

	g := &Graph{
		index:      make(map[string]int, len(clauses)),
		byContract: make(map[string][]int),
		out:        make(adjacency),
		in:         make(adjacency),
	}

	sorted := append([]validate.ValidatedClause(nil), clauses...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })
	for _, vc := range sorted {
		if vc.Superseded() {
			continue
		}
		if i, dup := g.index[vc.ID()]; dup {
			if vc.Clause().Version > g.nodes[i].Clause().Version {
				g.nodes[i] = vc
			}
			continue
		}
		g.index[vc.ID()] = len(g.nodes)
		g.nodes = append(g.nodes, vc)
	}
	for i, vc := range g.nodes {
		g.byContract[vc.ContractID()] = append(g.byContract[vc.ContractID()], i)
	}

	var rejected []Rejection
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		if reason := g.admit(e, opts, seen); reason != "" {
			rejected = append(rejected, Rejection{Edge: e, Reason: reason})
			continue
		}
		seen[e.ID] = true
		g.edges = append(g.edges, e)
		g.out.add(e.Source, e)
		g.in.add(e.Target, e)
	}
	return g, rejected
}

func (g *Graph) admit(e model.Edge, opts Options, seen map[string]bool) string {
	switch {
	case e.ID == "":
		return "edge id is empty"
	case seen[e.ID]:
		return "duplicate edge id"
	case !e.Kind.Valid():
		return fmt.Sprintf("unknown edge kind %q", e.Kind)
	case e.Confidence < 0 || e.Confidence > 1:
		return fmt.Sprintf("confidence %v outside [0,1]", e.Confidence)
	case e.Confidence < opts.ConfidenceFloor:
		return fmt.Sprintf("confidence %v below floor %v", e.Confidence, opts.ConfidenceFloor)
	case e.Source == e.Target:
		return "edge links a clause to itself"
	}

	src, ok := g.Clause(e.Source)
	if !ok {
		return fmt.Sprintf("unknown source clause %q", e.Source)
	}
	tgt, ok := g.Clause(e.Target)
	if !ok {
		return fmt.Sprintf("unknown target clause %q", e.Target)
	}
	if cross := src.ContractID() != tgt.ContractID(); cross != e.CrossContract {
		return fmt.Sprintf("cross_contract flag %v disagrees with endpoint contracts", e.CrossContract)
	}
	if !opts.Tables.Allows(e.Kind, src.Category(), tgt.Category()) {
		return fmt.Sprintf("category pair %s -%s-> %s is not declared", src.Category(), e.Kind, tgt.Category())
	}
	return ""
}

// Clause returns the arena entry for id.
func (g *Graph) Clause(id string) (validate.ValidatedClause, bool) {
	i, ok := g.index[id]
	if !ok {
		return validate.ValidatedClause{}, false
	}
	return g.nodes[i], true
}

// Clauses returns every clause in the arena ordered by id.
func (g *Graph) Clauses() []validate.ValidatedClause {
	return append([]validate.ValidatedClause(nil), g.nodes...)
}

// ClausesOf returns the clauses of one contract ordered by id.
func (g *Graph) ClausesOf(contractID string) []validate.ValidatedClause {
	idx := g.byContract[contractID]
	out := make([]validate.ValidatedClause, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.nodes[i])
	}
	return out
}

// Contracts returns the ids of every contract with at least one clause.
func (g *Graph) Contracts() []string {
	ids := make([]string, 0, len(g.byContract))
	for id := range g.byContract {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EdgesOfKind returns the outgoing edges of kind from id. The result is
// empty, never nil, when nothing matches.
func (g *Graph) EdgesOfKind(id string, kind model.EdgeKind) []model.Edge {
	return g.out.get(id, kind)
}

// IncomingOfKind returns the edges of kind that target id.
func (g *Graph) IncomingOfKind(id string, kind model.EdgeKind) []model.Edge {
	return g.in.get(id, kind)
}

// Edges returns every admitted edge in input order.
func (g *Graph) Edges() []model.Edge {
	return append([]model.Edge(nil), g.edges...)
}

// Len is the number of clauses in the arena.
func (g *Graph) Len() int { return len(g.nodes) }
