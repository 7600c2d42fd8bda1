// Package store persists contracts, clause graphs, operational data and
// evaluation results in Postgres or SQLite.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/contract-compliance/internal/model"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a breach write loses a race: the active
	// breach it meant to supersede changed, or another writer inserted an
	// active breach for the same (obligation, period) first.
	ErrConflict = eris.New("store: conflicting write")
)

// BreachFilter specifies criteria for listing breach records.
type BreachFilter struct {
	ContractID        string `json:"contract_id,omitempty"`
	ObligationID      string `json:"obligation_id,omitempty"`
	PeriodKey         string `json:"period_key,omitempty"`
	IncludeSuperseded bool   `json:"include_superseded,omitempty"`
	Limit             int    `json:"limit,omitempty"`
}

// BreachWrite is one atomic breach write: the new breach, its verdicts and
// optionally the id of the active breach it replaces.
type BreachWrite struct {
	Breach     model.BreachRecord
	Verdicts   []model.VerdictRecord
	Supersedes string
	At         time.Time
}

// Store defines the persistence interface for compliance evaluation.
type Store interface {
	// Contracts and clause graph
	SaveContract(ctx context.Context, c model.Contract) error
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	ListContracts(ctx context.Context) ([]model.Contract, error)
	SaveClauses(ctx context.Context, clauses []model.RawClause) error
	ListClauses(ctx context.Context) ([]model.RawClause, error)
	SaveEdges(ctx context.Context, edges []model.Edge) error
	ListEdges(ctx context.Context) ([]model.Edge, error)

	// Operational data
	SaveActuals(ctx context.Context, contractID, periodKey string, values map[string]decimal.Decimal) error
	GetActuals(ctx context.Context, contractID, periodKey string) (map[string]decimal.Decimal, error)
	SaveEvents(ctx context.Context, events []model.Event) error
	ListEvents(ctx context.Context, contractID string, from, to time.Time) ([]model.Event, error)

	// Results
	ActiveBreach(ctx context.Context, obligationID, periodKey string) (*model.BreachRecord, error)
	WriteBreach(ctx context.Context, w BreachWrite) error
	ListBreaches(ctx context.Context, filter BreachFilter) ([]model.BreachRecord, error)
	ListVerdicts(ctx context.Context, breachID string) ([]model.VerdictRecord, error)
	SumVerdicts(ctx context.Context, obligationID, consequenceID string, from, to time.Time, exclude string) (decimal.Decimal, error)
	AppendEvaluationLogs(ctx context.Context, logs []model.EvaluationLog) error
	ListEvaluationLogs(ctx context.Context, runID string) ([]model.EvaluationLog, error)
	SaveFollowUp(ctx context.Context, f model.FollowUp) error
	ListFollowUps(ctx context.Context, contractID string) ([]model.FollowUp, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// isUniqueViolation reports whether err is a unique constraint failure in
// either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// defaultLimit bounds list queries that were not given a limit.
const defaultLimit = 500

func limitOf(n int) int {
	if n <= 0 || n > defaultLimit {
		return defaultLimit
	}
	return n
}
