package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var actualsSpec = UpsertSpec{
	Table:   "actuals",
	Columns: []string{"contract_id", "period_key", "metric", "value"},
	Keys:    []string{"contract_id", "period_key", "metric"},
}

func TestUpsertValidation(t *testing.T) {
	n, err := Upsert(context.Background(), nil, actualsSpec, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)

	_, err = Upsert(context.Background(), nil, UpsertSpec{Table: "actuals", Keys: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no columns")

	_, err = Upsert(context.Background(), nil, UpsertSpec{Table: "actuals", Columns: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no conflict keys")
}

func TestUpsertStatement(t *testing.T) {
	got := actualsSpec.statement("_staging_actuals")
	assert.Equal(t,
		`INSERT INTO "actuals" ("contract_id", "period_key", "metric", "value") SELECT "contract_id", "period_key", "metric", "value" FROM "_staging_actuals" ON CONFLICT ("contract_id", "period_key", "metric") DO UPDATE SET "value" = EXCLUDED."value"`,
		got)

	keysOnly := UpsertSpec{Table: "edges", Columns: []string{"id"}, Keys: []string{"id"}}
	assert.Contains(t, keysOnly.statement("_staging_edges"), "DO NOTHING")
}

func TestUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_staging_actuals"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_actuals"}, actualsSpec.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "actuals"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := Upsert(context.Background(), mock, actualsSpec, [][]any{
		{"c1", "2025-04", "availability_percent", "91.8"},
		{"c1", "2025-04", "energy_mwh", "1200"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUpsertMergeError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_staging_actuals"}, actualsSpec.Columns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "actuals"`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err = Upsert(context.Background(), mock, actualsSpec, [][]any{{"c1", "2025-04", "m", "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: upsert: merge actuals")
	assert.NoError(t, mock.ExpectationsWereMet())
}
