package graph

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/validate"
)

// Snapshot is an immutable view of the validated clause set and its graph.
type Snapshot struct {
	Graph     *Graph
	Invalid   []*validate.ValidationError
	Rejected  []Rejection
	BuiltAt   time.Time
	Version   uint64
	rawByID   map[string]model.RawClause
	invalidBy map[string]*validate.ValidationError
}

// InvalidFor returns the clauses of contractID that failed validation.
func (s *Snapshot) InvalidFor(contractID string) []*validate.ValidationError {
	var out []*validate.ValidationError
	for _, verr := range s.Invalid {
		if s.rawByID[verr.ClauseID].ContractID == contractID {
			out = append(out, verr)
		}
	}
	return out
}

// InvalidClause returns the validation error recorded for a clause id.
func (s *Snapshot) InvalidClause(id string) (*validate.ValidationError, bool) {
	verr, ok := s.invalidBy[id]
	return verr, ok
}

// RawClause returns the raw record a snapshot was built from.
func (s *Snapshot) RawClause(id string) (model.RawClause, bool) {
	r, ok := s.rawByID[id]
	return r, ok
}

// Holder publishes graph snapshots. Readers take the current snapshot with
// Load and keep it for the length of a run; Rebuild swaps in a complete new
// snapshot without disturbing readers that already hold the old one.
type Holder struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	version uint64
	now     func() time.Time
}

// NewHolder returns a Holder whose initial snapshot is empty.
func NewHolder() *Holder {
	h := &Holder{now: time.Now}
	g, _ := Build(nil, nil, Options{})
	h.current.Store(&Snapshot{Graph: g, BuiltAt: h.now().UTC()})
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Rebuild validates raws, builds a new graph from the admitted clauses and
// edges, and atomically replaces the current snapshot. Rebuilds are
// serialized with each other.
func (h *Holder) Rebuild(raws []model.RawClause, edges []model.Edge, opts Options) *Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	valid, invalid := validate.ValidateAll(raws)
	g, rejected := Build(valid, edges, opts)

	h.version++
	snap := &Snapshot{
		Graph:     g,
		Invalid:   invalid,
		Rejected:  rejected,
		BuiltAt:   h.now().UTC(),
		Version:   h.version,
		rawByID:   make(map[string]model.RawClause, len(raws)),
		invalidBy: make(map[string]*validate.ValidationError, len(invalid)),
	}
	for _, r := range raws {
		snap.rawByID[r.ID] = r
	}
	for _, verr := range invalid {
		snap.invalidBy[verr.ClauseID] = verr
	}
	for _, rej := range rejected {
		zap.L().Debug("graph: edge rejected",
			zap.String("edge_id", rej.Edge.ID),
			zap.String("kind", string(rej.Edge.Kind)),
			zap.String("reason", rej.Reason),
		)
	}

	h.current.Store(snap)
	zap.L().Info("graph: snapshot rebuilt",
		zap.Uint64("version", snap.Version),
		zap.Int("clauses", g.Len()),
		zap.Int("edges", len(g.edges)),
		zap.Int("invalid_clauses", len(invalid)),
		zap.Int("rejected_edges", len(rejected)),
	)
	return snap
}
