package actuals

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/contract-compliance/internal/model"
)

// --- Reader Mock ---

type mockReader struct {
	mock.Mock
}

func (m *mockReader) GetActuals(ctx context.Context, contractID, periodKey string) (map[string]decimal.Decimal, error) {
	args := m.Called(ctx, contractID, periodKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]decimal.Decimal), args.Error(1)
}

func (m *mockReader) ListEvents(ctx context.Context, contractID string, from, to time.Time) ([]model.Event, error) {
	args := m.Called(ctx, contractID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Event), args.Error(1)
}
