package recorder

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/store"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) ActiveBreach(ctx context.Context, obligationID, periodKey string) (*model.BreachRecord, error) {
	args := m.Called(ctx, obligationID, periodKey)
	b, _ := args.Get(0).(*model.BreachRecord)
	return b, args.Error(1)
}

func (m *mockWriter) WriteBreach(ctx context.Context, w store.BreachWrite) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}
