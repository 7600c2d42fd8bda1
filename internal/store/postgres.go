package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/db"
	"github.com/sells-group/contract-compliance/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// migrationLockKey serializes concurrent Migrate calls across processes.
const migrationLockKey = 7310442

var actualsSpec = db.UpsertSpec{
	Table:   "actuals",
	Columns: []string{"contract_id", "period_key", "metric", "value"},
	Keys:    []string{"contract_id", "period_key", "metric"},
}

var evaluationLogColumns = []string{
	"id", "run_id", "obligation_id", "contract_id", "period_key", "outcome", "reason", "evidence", "created_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate applies pending migrations under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			zap.L().Warn("postgres: failed to release migration lock", zap.Error(err))
		}
	}()

	r := migrationRunner{
		dialect: "postgres",
		exec: func(ctx context.Context, query string, args ...any) error {
			_, err := s.pool.Exec(ctx, query, args...)
			return err
		},
		applied: s.appliedMigrations,
		record:  "INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, $2)",
	}
	return r.run(ctx)
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Contracts and clause graph ---

// SaveContract inserts or replaces a contract.
func (s *PostgresStore) SaveContract(ctx context.Context, c model.Contract) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (id, name, effective_date, currency) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, effective_date = EXCLUDED.effective_date, currency = EXCLUDED.currency`,
		c.ID, c.Name, c.EffectiveDate, c.Currency,
	)
	return eris.Wrapf(err, "postgres: save contract %s", c.ID)
}

// GetContract returns ErrNotFound when the contract does not exist.
func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	var c model.Contract
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, effective_date, currency FROM contracts WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.EffectiveDate, &c.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get contract %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contract %s", id)
	}
	return &c, nil
}

// ListContracts returns every contract ordered by id.
func (s *PostgresStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, effective_date, currency FROM contracts ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contracts")
	}
	defer rows.Close()

	var out []model.Contract
	for rows.Next() {
		var c model.Contract
		if err := rows.Scan(&c.ID, &c.Name, &c.EffectiveDate, &c.Currency); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contract")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contracts")
}

// SaveClauses upserts clause records in one transaction. Superseded versions
// are kept as separate rows.
func (s *PostgresStore) SaveClauses(ctx context.Context, clauses []model.RawClause) error {
	if len(clauses) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save clauses")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range clauses {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO clauses (id, contract_id, category, payload, responsible_party, beneficiary_party, source_ref, version, superseded_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, superseded_by = EXCLUDED.superseded_by, version = EXCLUDED.version`,
			c.ID, c.ContractID, string(c.Category), []byte(c.Payload), c.ResponsibleParty, c.BeneficiaryParty,
			c.SourceRef, c.Version, c.SupersededBy, createdAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: save clause %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save clauses")
}

// ListClauses returns every clause version ordered by id.
func (s *PostgresStore) ListClauses(ctx context.Context) ([]model.RawClause, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contract_id, category, payload, responsible_party, beneficiary_party, source_ref, version, superseded_by, created_at
		FROM clauses ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clauses")
	}
	defer rows.Close()

	var out []model.RawClause
	for rows.Next() {
		var (
			c        model.RawClause
			category string
			payload  []byte
		)
		if err := rows.Scan(&c.ID, &c.ContractID, &category, &payload, &c.ResponsibleParty, &c.BeneficiaryParty,
			&c.SourceRef, &c.Version, &c.SupersededBy, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan clause")
		}
		c.Category = model.Category(category)
		c.Payload = json.RawMessage(payload)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list clauses")
}

// SaveEdges upserts edges in one transaction.
func (s *PostgresStore) SaveEdges(ctx context.Context, edges []model.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save edges")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range edges {
		params, err := json.Marshal(e.Params)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal edge params %s", e.ID)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO edges (id, source, target, kind, cross_contract, params, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, params = EXCLUDED.params, confidence = EXCLUDED.confidence`,
			e.ID, e.Source, e.Target, string(e.Kind), e.CrossContract, params, e.Confidence,
		); err != nil {
			return eris.Wrapf(err, "postgres: save edge %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save edges")
}

// ListEdges returns every edge ordered by id.
func (s *PostgresStore) ListEdges(ctx context.Context) ([]model.Edge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, target, kind, cross_contract, params, confidence FROM edges ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list edges")
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var (
			e      model.Edge
			kind   string
			params []byte
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &kind, &e.CrossContract, &params, &e.Confidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan edge")
		}
		e.Kind = model.EdgeKind(kind)
		if err := decodeParams(params, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list edges")
}

// --- Operational data ---

// SaveActuals replaces the given metric values for a period.
func (s *PostgresStore) SaveActuals(ctx context.Context, contractID, periodKey string, values map[string]decimal.Decimal) error {
	metrics := make([]string, 0, len(values))
	for m := range values {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []any{contractID, periodKey, m, values[m].String()})
	}
	_, err := db.Upsert(ctx, s.pool, actualsSpec, rows)
	return eris.Wrapf(err, "postgres: save actuals %s/%s", contractID, periodKey)
}

// GetActuals returns the metric values recorded for a period. An empty map
// means nothing was recorded.
func (s *PostgresStore) GetActuals(ctx context.Context, contractID, periodKey string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT metric, value::text FROM actuals WHERE contract_id = $1 AND period_key = $2`,
		contractID, periodKey)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get actuals")
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var metric, value string
		if err := rows.Scan(&metric, &value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan actual")
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: parse actual %s", metric)
		}
		out[metric] = d
	}
	return out, eris.Wrap(rows.Err(), "postgres: get actuals")
}

// SaveEvents upserts events in one transaction.
func (s *PostgresStore) SaveEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save events")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range events {
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (id, contract_id, type, status, started_at, acknowledged_at, fixed_at, ended_at, window_end, downtime_hours, energy_lost_mwh)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, acknowledged_at = EXCLUDED.acknowledged_at,
				fixed_at = EXCLUDED.fixed_at, ended_at = EXCLUDED.ended_at, window_end = EXCLUDED.window_end,
				downtime_hours = EXCLUDED.downtime_hours, energy_lost_mwh = EXCLUDED.energy_lost_mwh`,
			e.ID, e.ContractID, string(e.Type), string(e.Status), e.StartedAt.UTC(), e.AcknowledgedAt, e.FixedAt, e.EndedAt,
			e.WindowEnd().UTC(), e.Impact.DowntimeHours.String(), e.Impact.EnergyLostMWh.String(),
		); err != nil {
			return eris.Wrapf(err, "postgres: save event %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save events")
}

// ListEvents returns events linked to the contract or unlinked whose window
// overlaps [from, to].
func (s *PostgresStore) ListEvents(ctx context.Context, contractID string, from, to time.Time) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contract_id, type, status, started_at, acknowledged_at, fixed_at, ended_at, downtime_hours::text, energy_lost_mwh::text
		FROM events
		WHERE (contract_id = $1 OR contract_id = '') AND started_at <= $3 AND window_end >= $2
		ORDER BY started_at, id`,
		contractID, from.UTC(), to.UTC())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e                 model.Event
			typ, status       string
			downtime, mwhLost string
		)
		if err := rows.Scan(&e.ID, &e.ContractID, &typ, &status, &e.StartedAt, &e.AcknowledgedAt, &e.FixedAt, &e.EndedAt,
			&downtime, &mwhLost); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		e.Type = model.EventType(typ)
		e.Status = model.EventStatus(status)
		if e.Impact, err = parseImpact(downtime, mwhLost); err != nil {
			return nil, eris.Wrapf(err, "postgres: event %s", e.ID)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list events")
}

// --- Results ---

const breachColumns = `id, obligation_id, contract_id, period_key, period_start, period_end, kind, shortfall::text, evidence, evidence_digest, created_at, superseded_at, superseded_by`

// ActiveBreach returns the active breach for the pair, or nil when none exists.
func (s *PostgresStore) ActiveBreach(ctx context.Context, obligationID, periodKey string) (*model.BreachRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+breachColumns+` FROM breaches WHERE obligation_id = $1 AND period_key = $2 AND superseded_at IS NULL`,
		obligationID, periodKey)
	b, err := scanPostgresBreach(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active breach %s/%s", obligationID, periodKey)
	}
	return b, nil
}

// WriteBreach supersedes the prior active breach and its verdicts (when
// w.Supersedes is set), then inserts the new breach and verdicts, all in
// one transaction. Losing a race yields ErrConflict.
func (s *PostgresStore) WriteBreach(ctx context.Context, w BreachWrite) error {
	b := w.Breach
	evidence, err := json.Marshal(b.Evidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal evidence")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin write breach")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	at := w.At.UTC()
	if w.Supersedes != "" {
		tag, err := tx.Exec(ctx,
			`UPDATE breaches SET superseded_at = $1, superseded_by = $2 WHERE id = $3 AND superseded_at IS NULL`,
			at, b.ID, w.Supersedes)
		if err != nil {
			return eris.Wrapf(err, "postgres: supersede breach %s", w.Supersedes)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrConflict, "postgres: breach %s is no longer active", w.Supersedes)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE verdicts SET superseded_at = $1 WHERE breach_id = $2 AND superseded_at IS NULL`,
			at, w.Supersedes); err != nil {
			return eris.Wrapf(err, "postgres: supersede verdicts of %s", w.Supersedes)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO breaches (id, obligation_id, contract_id, period_key, period_start, period_end, kind, shortfall, evidence, evidence_digest, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.ObligationID, b.ContractID, b.PeriodKey, b.PeriodStart.UTC(), b.PeriodEnd.UTC(), string(b.Kind),
		b.Shortfall.String(), evidence, b.EvidenceDigest, at,
	); err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrConflict, "postgres: active breach exists for %s/%s", b.ObligationID, b.PeriodKey)
		}
		return eris.Wrapf(err, "postgres: insert breach %s", b.ID)
	}

	for _, v := range w.Verdicts {
		trace, err := json.Marshal(v.Trace)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal trace %s", v.ID)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO verdicts (id, breach_id, obligation_id, consequence_id, contract_id, period_key, period_start, kind, amount, currency, cure_deadline, payment_due_date, trace, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			v.ID, b.ID, v.ObligationID, v.ConsequenceID, v.ContractID, v.PeriodKey, v.PeriodStart.UTC(), string(v.Kind),
			v.Amount.String(), v.Currency, v.CureDeadline, v.PaymentDueDate, trace, at,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert verdict %s", v.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit write breach")
}

// ListBreaches returns breaches matching the filter, newest first.
func (s *PostgresStore) ListBreaches(ctx context.Context, filter BreachFilter) ([]model.BreachRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if filter.ContractID != "" {
		add("contract_id = ?", filter.ContractID)
	}
	if filter.ObligationID != "" {
		add("obligation_id = ?", filter.ObligationID)
	}
	if filter.PeriodKey != "" {
		add("period_key = ?", filter.PeriodKey)
	}
	if !filter.IncludeSuperseded {
		where = append(where, "superseded_at IS NULL")
	}

	query := `SELECT ` + breachColumns + ` FROM breaches`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limitOf(filter.Limit))
	query += ` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list breaches")
	}
	defer rows.Close()

	var out []model.BreachRecord
	for rows.Next() {
		b, err := scanPostgresBreach(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan breach")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list breaches")
}

// ListVerdicts returns every verdict of a breach ordered by consequence id.
func (s *PostgresStore) ListVerdicts(ctx context.Context, breachID string) ([]model.VerdictRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, breach_id, obligation_id, consequence_id, contract_id, period_key, period_start, kind, amount::text, currency,
			cure_deadline, payment_due_date, trace, created_at, superseded_at
		FROM verdicts WHERE breach_id = $1 ORDER BY consequence_id`, breachID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verdicts")
	}
	defer rows.Close()

	var out []model.VerdictRecord
	for rows.Next() {
		var (
			v      model.VerdictRecord
			kind   string
			amount string
			trace  []byte
		)
		if err := rows.Scan(&v.ID, &v.BreachID, &v.ObligationID, &v.ConsequenceID, &v.ContractID, &v.PeriodKey, &v.PeriodStart,
			&kind, &amount, &v.Currency, &v.CureDeadline, &v.PaymentDueDate, &trace, &v.CreatedAt, &v.SupersededAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan verdict")
		}
		v.Kind = model.VerdictKind(kind)
		if v.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse verdict amount %s", v.ID)
		}
		if err := json.Unmarshal(trace, &v.Trace); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode trace %s", v.ID)
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list verdicts")
}

// SumVerdicts totals active verdict amounts for an (obligation, consequence)
// pair over periods starting in [from, to). Zero bounds are open.
func (s *PostgresStore) SumVerdicts(ctx context.Context, obligationID, consequenceID string, from, to time.Time, exclude string) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0)::text FROM verdicts
		WHERE obligation_id = $1 AND consequence_id = $2 AND superseded_at IS NULL AND period_key <> $3`
	args := []any{obligationID, consequenceID, exclude}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += ` AND period_start >= $` + strconv.Itoa(len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		query += ` AND period_start < $` + strconv.Itoa(len(args))
	}

	var total string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Zero, eris.Wrap(err, "postgres: sum verdicts")
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, eris.Wrap(err, "postgres: parse verdict sum")
	}
	return d, nil
}

// AppendEvaluationLogs bulk-inserts audit entries with COPY.
func (s *PostgresStore) AppendEvaluationLogs(ctx context.Context, logs []model.EvaluationLog) error {
	rows := make([][]any, 0, len(logs))
	for _, l := range logs {
		var evidence []byte
		if l.Evidence != nil {
			var err error
			if evidence, err = json.Marshal(l.Evidence); err != nil {
				return eris.Wrapf(err, "postgres: marshal evidence %s", l.ID)
			}
		}
		rows = append(rows, []any{
			l.ID, l.RunID, l.ObligationID, l.ContractID, l.PeriodKey, string(l.Outcome), l.Reason, evidence, l.CreatedAt.UTC(),
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "evaluation_log", evaluationLogColumns, rows)
	return eris.Wrap(err, "postgres: append evaluation logs")
}

// ListEvaluationLogs returns the audit entries of one run.
func (s *PostgresStore) ListEvaluationLogs(ctx context.Context, runID string) ([]model.EvaluationLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, obligation_id, contract_id, period_key, outcome, reason, evidence, created_at
		FROM evaluation_log WHERE run_id = $1 ORDER BY obligation_id, period_key`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evaluation logs")
	}
	defer rows.Close()

	var out []model.EvaluationLog
	for rows.Next() {
		var (
			l        model.EvaluationLog
			outcome  string
			evidence []byte
		)
		if err := rows.Scan(&l.ID, &l.RunID, &l.ObligationID, &l.ContractID, &l.PeriodKey, &outcome, &l.Reason, &evidence, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evaluation log")
		}
		l.Outcome = model.Outcome(outcome)
		if l.Evidence, err = decodeEvidence(evidence); err != nil {
			return nil, eris.Wrapf(err, "postgres: evaluation log %s", l.ID)
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evaluation logs")
}

// SaveFollowUp records a follow-up once per (obligation, period).
func (s *PostgresStore) SaveFollowUp(ctx context.Context, f model.FollowUp) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO follow_ups (id, obligation_id, contract_id, period_key, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (obligation_id, period_key) DO NOTHING`,
		f.ID, f.ObligationID, f.ContractID, f.PeriodKey, f.Reason, f.CreatedAt.UTC())
	return eris.Wrapf(err, "postgres: save follow-up %s/%s", f.ObligationID, f.PeriodKey)
}

// ListFollowUps returns follow-ups, optionally restricted to one contract.
func (s *PostgresStore) ListFollowUps(ctx context.Context, contractID string) ([]model.FollowUp, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, obligation_id, contract_id, period_key, reason, created_at
		FROM follow_ups WHERE $1 = '' OR contract_id = $1 ORDER BY created_at, id`, contractID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list follow-ups")
	}
	defer rows.Close()

	var out []model.FollowUp
	for rows.Next() {
		var f model.FollowUp
		if err := rows.Scan(&f.ID, &f.ObligationID, &f.ContractID, &f.PeriodKey, &f.Reason, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan follow-up")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list follow-ups")
}

func scanPostgresBreach(row pgx.Row) (*model.BreachRecord, error) {
	var (
		b         model.BreachRecord
		kind      string
		shortfall string
		evidence  []byte
	)
	if err := row.Scan(&b.ID, &b.ObligationID, &b.ContractID, &b.PeriodKey, &b.PeriodStart, &b.PeriodEnd, &kind,
		&shortfall, &evidence, &b.EvidenceDigest, &b.CreatedAt, &b.SupersededAt, &b.SupersededBy); err != nil {
		return nil, err
	}
	b.Kind = model.BreachKind(kind)
	var err error
	if b.Shortfall, err = decimal.NewFromString(shortfall); err != nil {
		return nil, eris.Wrapf(err, "parse shortfall of %s", b.ID)
	}
	if err := json.Unmarshal(evidence, &b.Evidence); err != nil {
		return nil, eris.Wrapf(err, "decode evidence of %s", b.ID)
	}
	return &b, nil
}
