package consequence

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/contract-compliance/internal/model"
)

// Priors reports amounts already awarded for an obligation/consequence pair.
// SumVerdicts sums active verdicts whose period starts in [from, to), leaving
// out the period with key exclude. A zero from or to leaves that side open.
type Priors interface {
	SumVerdicts(ctx context.Context, obligationID, consequenceID string, from, to time.Time, exclude string) (decimal.Decimal, error)
}

const (
	capPerPeriod  = "cap_per_period"
	capAnnual     = "cap_annual"
	capCumulative = "cap_cumulative"
)

type capRequest struct {
	obligationID  string
	consequenceID string
	period        model.Period
	yearFrom      time.Time
	yearTo        time.Time
}

// applyCaps clamps raw by every declared cap less its prior usage. The
// amount is never negative and is rounded to cents.
func applyCaps(ctx context.Context, raw decimal.Decimal, t model.ConsequenceTerms, req capRequest, priors Priors) (decimal.Decimal, []model.CapApplication, error) {
	amount := raw
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	var caps []model.CapApplication
	consider := func(name string, limit *decimal.Decimal, from, to time.Time, usesPriors bool) error {
		if limit == nil {
			return nil
		}
		prior := decimal.Zero
		if usesPriors && priors != nil {
			sum, err := priors.SumVerdicts(ctx, req.obligationID, req.consequenceID, from, to, req.period.Key())
			if err != nil {
				return eris.Wrapf(err, "consequence: prior usage for %s", name)
			}
			prior = sum
		}
		remaining := limit.Sub(prior)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		caps = append(caps, model.CapApplication{
			Name:       name,
			Limit:      *limit,
			PriorUsage: prior,
			Remaining:  remaining,
		})
		if remaining.LessThan(amount) {
			amount = remaining
		}
		return nil
	}

	if err := consider(capPerPeriod, t.CapPerPeriod, time.Time{}, time.Time{}, false); err != nil {
		return decimal.Zero, nil, err
	}
	if err := consider(capAnnual, t.CapAnnual, req.yearFrom, req.yearTo, true); err != nil {
		return decimal.Zero, nil, err
	}
	if err := consider(capCumulative, t.CapCumulative, time.Time{}, time.Time{}, true); err != nil {
		return decimal.Zero, nil, err
	}

	rounded := amount.Round(2)
	for i := range caps {
		caps[i].Applied = caps[i].Remaining.LessThan(raw) && caps[i].Remaining.Equal(amount)
		if caps[i].Remaining.LessThan(rounded) {
			rounded = amount.Truncate(2)
		}
	}
	return rounded, caps, nil
}
