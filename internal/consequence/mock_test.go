package consequence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type mockPriors struct {
	mock.Mock
}

func (m *mockPriors) SumVerdicts(ctx context.Context, obligationID, consequenceID string, from, to time.Time, exclude string) (decimal.Decimal, error) {
	args := m.Called(ctx, obligationID, consequenceID, from, to, exclude)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}
