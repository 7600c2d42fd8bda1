package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertSpec names the target of a bulk upsert.
type UpsertSpec struct {
	Table   string   // target table
	Columns []string // every inserted column, in row order
	Keys    []string // columns of the unique constraint
	Update  []string // columns overwritten on conflict; nil means every non-key column
}

func (s UpsertSpec) updateColumns() []string {
	if s.Update != nil {
		return s.Update
	}
	keys := make(map[string]bool, len(s.Keys))
	for _, k := range s.Keys {
		keys[k] = true
	}
	var cols []string
	for _, c := range s.Columns {
		if !keys[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// statement renders the INSERT ... SELECT ... ON CONFLICT for staging.
func (s UpsertSpec) statement(staging string) string {
	cols := identifiers(s.Columns)
	sets := make([]string, 0, len(s.Columns))
	for _, c := range s.updateColumns() {
		id := pgx.Identifier{c}.Sanitize()
		sets = append(sets, id+" = EXCLUDED."+id)
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		pgx.Identifier{s.Table}.Sanitize(), cols, cols,
		pgx.Identifier{staging}.Sanitize(), identifiers(s.Keys), action)
}

// Upsert stages rows in a temp table with COPY and merges them into the
// target in one transaction.
func Upsert(ctx context.Context, pool Pool, spec UpsertSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(spec.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns")
	}
	if len(spec.Keys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := "_staging_" + spec.Table
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), pgx.Identifier{spec.Table}.Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage %s", spec.Table)
	}
	if _, err := CopyFrom(ctx, tx, staging, spec.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: %s", spec.Table)
	}
	tag, err := tx.Exec(ctx, spec.statement(staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge %s", spec.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit")
	}
	return tag.RowsAffected(), nil
}

func identifiers(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
