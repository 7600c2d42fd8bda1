package model

// EdgeKind is the type of a relationship between two clauses.
type EdgeKind string

const (
	// Triggers links an obligation to a consequence it causes on breach.
	Triggers EdgeKind = "TRIGGERS"
	// Excuses links an excusing clause to the obligation it negates.
	Excuses EdgeKind = "EXCUSES"
	// Governs sets context and never gates a breach decision.
	Governs EdgeKind = "GOVERNS"
	// Inputs supplies data and never gates a breach decision.
	Inputs EdgeKind = "INPUTS"
)

// EdgeKinds lists every declared edge kind.
var EdgeKinds = []EdgeKind{Triggers, Excuses, Governs, Inputs}

// Valid reports whether k is a declared edge kind.
func (k EdgeKind) Valid() bool {
	switch k {
	case Triggers, Excuses, Governs, Inputs:
		return true
	}
	return false
}

// Evaluative reports whether edges of this kind drive evaluation.
func (k EdgeKind) Evaluative() bool {
	return k == Triggers || k == Excuses
}

// Edge origins recorded in Params["origin"].
const (
	OriginExplicit = "explicit"
	OriginInferred = "inferred"
)

// Edge is a directed, typed link between two clauses.
type Edge struct {
	ID            string            `json:"id"`
	Source        string            `json:"source"`
	Target        string            `json:"target"`
	Kind          EdgeKind          `json:"kind"`
	CrossContract bool              `json:"cross_contract"`
	Params        map[string]string `json:"params,omitempty"`
	Confidence    float64           `json:"confidence"`
}

// Origin returns the edge's recorded origin, defaulting to explicit.
func (e Edge) Origin() string {
	if o := e.Params["origin"]; o != "" {
		return o
	}
	return OriginExplicit
}
