package engine

import (
	"sort"
	"time"

	"github.com/sells-group/contract-compliance/internal/model"
)

// ItemResult is the outcome of one obligation, or of a whole task when
// ObligationID is empty.
type ItemResult struct {
	ContractID   string                    `json:"contract_id"`
	PeriodKey    string                    `json:"period_key"`
	ObligationID string                    `json:"obligation_id,omitempty"`
	Outcome      model.Outcome             `json:"outcome"`
	BreachID     string                    `json:"breach_id,omitempty"`
	Evidence     *model.Evidence           `json:"evidence,omitempty"`
	Verdicts     []model.ConsequenceResult `json:"verdicts,omitempty"`
	Error        string                    `json:"error,omitempty"`
	ErrorType    string                    `json:"error_type,omitempty"`
}

// Failed reports whether the item carries an error.
func (r ItemResult) Failed() bool {
	return r.Error != ""
}

// Report is the partial-failure report of one run.
type Report struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Items      []ItemResult `json:"items"`
}

// Counts tallies items by outcome.
func (r *Report) Counts() map[model.Outcome]int {
	out := make(map[model.Outcome]int)
	for _, it := range r.Items {
		out[it.Outcome]++
	}
	return out
}

// Failures returns the items that carry an error.
func (r *Report) Failures() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Failed() {
			out = append(out, it)
		}
	}
	return out
}

func (r *Report) sort() {
	sort.SliceStable(r.Items, func(i, j int) bool {
		a, b := r.Items[i], r.Items[j]
		if a.ContractID != b.ContractID {
			return a.ContractID < b.ContractID
		}
		if a.PeriodKey != b.PeriodKey {
			return a.PeriodKey < b.PeriodKey
		}
		return a.ObligationID < b.ObligationID
	})
}
