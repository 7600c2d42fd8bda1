package actuals

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/contract-compliance/internal/model"
)

// ThrottledGatherer bounds the read rate against the underlying store so a
// large batch cannot exceed its concurrent-read capacity.
type ThrottledGatherer struct {
	next    Gatherer
	limiter *rate.Limiter
}

// NewThrottledGatherer allows perSecond reads with the given burst.
func NewThrottledGatherer(next Gatherer, perSecond float64, burst int) *ThrottledGatherer {
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledGatherer{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Actuals implements Gatherer.
func (t *ThrottledGatherer) Actuals(ctx context.Context, contractID string, period model.Period) (Actuals, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "actuals: rate limit wait")
	}
	return t.next.Actuals(ctx, contractID, period)
}

// Events implements Gatherer.
func (t *ThrottledGatherer) Events(ctx context.Context, contractID string, period model.Period, types []model.EventType) ([]model.Event, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "actuals: rate limit wait")
	}
	return t.next.Events(ctx, contractID, period, types)
}
