package monitoring

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/contract-compliance/internal/engine"
	"github.com/sells-group/contract-compliance/internal/model"
)

// RunSnapshot holds the health of one evaluation run.
type RunSnapshot struct {
	RunID     string `json:"run_id"`
	Items     int    `json:"items"`
	Evaluated int    `json:"evaluated"`
	Failed    int    `json:"failed"`
	Transient int    `json:"transient"`

	FailRate float64 `json:"fail_rate"`

	// NewBreaches are breach records written by this run, including
	// supersessions.
	NewBreaches []BreachSummary `json:"new_breaches,omitempty"`
	// Damages totals liquidated damages of NewBreaches per currency.
	Damages map[string]decimal.Decimal `json:"damages,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// BreachSummary identifies one breach written by a run.
type BreachSummary struct {
	BreachID     string          `json:"breach_id"`
	ContractID   string          `json:"contract_id"`
	ObligationID string          `json:"obligation_id"`
	PeriodKey    string          `json:"period_key"`
	Shortfall    decimal.Decimal `json:"shortfall"`
	Superseded   bool            `json:"superseded,omitempty"`
}

// Summarize builds a snapshot of rep.
func Summarize(rep *engine.Report) *RunSnapshot {
	snap := &RunSnapshot{
		RunID:       rep.RunID,
		Items:       len(rep.Items),
		Damages:     map[string]decimal.Decimal{},
		CollectedAt: time.Now().UTC(),
	}
	for _, it := range rep.Items {
		if it.Failed() {
			snap.Failed++
			if it.ErrorType == "transient" {
				snap.Transient++
			}
		} else {
			snap.Evaluated++
		}

		if it.Outcome != model.OutcomeBreachRecorded && it.Outcome != model.OutcomeBreachSuperseded {
			continue
		}
		b := BreachSummary{
			BreachID:     it.BreachID,
			ContractID:   it.ContractID,
			ObligationID: it.ObligationID,
			PeriodKey:    it.PeriodKey,
			Superseded:   it.Outcome == model.OutcomeBreachSuperseded,
		}
		if it.Evidence != nil {
			b.Shortfall = it.Evidence.Shortfall
		}
		snap.NewBreaches = append(snap.NewBreaches, b)
		for _, v := range it.Verdicts {
			if v.Kind != model.VerdictLiquidatedDamages || v.Currency == "" {
				continue
			}
			snap.Damages[v.Currency] = snap.Damages[v.Currency].Add(v.Amount)
		}
	}
	if snap.Items > 0 {
		snap.FailRate = float64(snap.Failed) / float64(snap.Items)
	}
	sort.Slice(snap.NewBreaches, func(i, j int) bool {
		return snap.NewBreaches[i].BreachID < snap.NewBreaches[j].BreachID
	})
	return snap
}
