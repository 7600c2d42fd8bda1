package monitoring

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contract-compliance/internal/engine"
	"github.com/sells-group/contract-compliance/internal/model"
)

func sampleReport() *engine.Report {
	return &engine.Report{
		RunID: "run-1",
		Items: []engine.ItemResult{
			{
				ContractID: "ppa-1", PeriodKey: "2025-04", ObligationID: "avail-1",
				Outcome: model.OutcomeBreachRecorded, BreachID: "b-2",
				Evidence: &model.Evidence{Shortfall: decimal.RequireFromString("3.2")},
				Verdicts: []model.ConsequenceResult{
					{ConsequenceID: "ld-1", Kind: model.VerdictLiquidatedDamages, Amount: decimal.NewFromInt(160000), Currency: "USD"},
					{ConsequenceID: "def-1", Kind: model.VerdictDefaultNotice},
				},
			},
			{
				ContractID: "ppa-2", PeriodKey: "2025-04", ObligationID: "avail-2",
				Outcome: model.OutcomeBreachSuperseded, BreachID: "b-1",
				Verdicts: []model.ConsequenceResult{
					{ConsequenceID: "ld-2", Kind: model.VerdictLiquidatedDamages, Amount: decimal.NewFromInt(40000), Currency: "USD"},
				},
			},
			{ContractID: "ppa-3", PeriodKey: "2025-04", ObligationID: "avail-3", Outcome: model.OutcomeBreachUnchanged, BreachID: "b-0"},
			{ContractID: "ppa-4", PeriodKey: "2025-04", ObligationID: "pg-4", Outcome: model.OutcomeMissingActuals, Error: "no data", ErrorType: "permanent"},
			{ContractID: "ppa-5", PeriodKey: "2025-04", Outcome: model.OutcomeError, Error: "connection reset", ErrorType: "transient"},
		},
	}
}

func TestSummarize(t *testing.T) {
	snap := Summarize(sampleReport())

	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 5, snap.Items)
	assert.Equal(t, 3, snap.Evaluated)
	assert.Equal(t, 2, snap.Failed)
	assert.Equal(t, 1, snap.Transient)
	assert.InDelta(t, 0.4, snap.FailRate, 0.0001)

	require.Len(t, snap.NewBreaches, 2)
	assert.Equal(t, "b-1", snap.NewBreaches[0].BreachID)
	assert.True(t, snap.NewBreaches[0].Superseded)
	assert.Equal(t, "b-2", snap.NewBreaches[1].BreachID)
	assert.Equal(t, "3.2", snap.NewBreaches[1].Shortfall.String())

	require.Contains(t, snap.Damages, "USD")
	assert.Equal(t, "200000", snap.Damages["USD"].String())
}

func TestSummarize_Empty(t *testing.T) {
	snap := Summarize(&engine.Report{RunID: "run-0"})
	assert.Zero(t, snap.Items)
	assert.Zero(t, snap.FailRate)
	assert.Empty(t, snap.NewBreaches)
	assert.Empty(t, snap.Damages)
}
