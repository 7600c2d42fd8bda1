package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contract-compliance/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers; busy_timeout covers other processes.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate applies pending migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	r := migrationRunner{
		dialect: "sqlite",
		exec: func(ctx context.Context, query string, args ...any) error {
			_, err := s.db.ExecContext(ctx, query, args...)
			return err
		},
		applied: s.appliedMigrations,
		record:  "INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)",
	}
	return r.run(ctx)
}

func (s *SQLiteStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query applied migrations")
	}
	defer rows.Close() //nolint:errcheck

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Contracts and clause graph ---

// SaveContract inserts or replaces a contract.
func (s *SQLiteStore) SaveContract(ctx context.Context, c model.Contract) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (id, name, effective_date, currency) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, effective_date = excluded.effective_date, currency = excluded.currency`,
		c.ID, c.Name, formatTimePtr(c.EffectiveDate), c.Currency)
	return eris.Wrapf(err, "sqlite: save contract %s", c.ID)
}

// GetContract returns ErrNotFound when the contract does not exist.
func (s *SQLiteStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, effective_date, currency FROM contracts WHERE id = ?`, id)
	c, err := scanSQLiteContract(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get contract %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contract %s", id)
	}
	return c, nil
}

// ListContracts returns every contract ordered by id.
func (s *SQLiteStore) ListContracts(ctx context.Context) ([]model.Contract, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, effective_date, currency FROM contracts ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contracts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Contract
	for rows.Next() {
		c, err := scanSQLiteContract(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contract")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contracts")
}

// SaveClauses upserts clause records in one transaction.
func (s *SQLiteStore) SaveClauses(ctx context.Context, clauses []model.RawClause) error {
	return s.inTx(ctx, "save clauses", func(tx *sql.Tx) error {
		for _, c := range clauses {
			createdAt := c.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO clauses (id, contract_id, category, payload, responsible_party, beneficiary_party, source_ref, version, superseded_by, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, superseded_by = excluded.superseded_by, version = excluded.version`,
				c.ID, c.ContractID, string(c.Category), string(c.Payload), c.ResponsibleParty, c.BeneficiaryParty,
				c.SourceRef, c.Version, c.SupersededBy, formatTime(createdAt),
			); err != nil {
				return eris.Wrapf(err, "sqlite: save clause %s", c.ID)
			}
		}
		return nil
	})
}

// ListClauses returns every clause version ordered by id.
func (s *SQLiteStore) ListClauses(ctx context.Context) ([]model.RawClause, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_id, category, payload, responsible_party, beneficiary_party, source_ref, version, superseded_by, created_at
		FROM clauses ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clauses")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RawClause
	for rows.Next() {
		var (
			c                            model.RawClause
			category, payload, createdAt string
		)
		if err := rows.Scan(&c.ID, &c.ContractID, &category, &payload, &c.ResponsibleParty, &c.BeneficiaryParty,
			&c.SourceRef, &c.Version, &c.SupersededBy, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clause")
		}
		c.Category = model.Category(category)
		c.Payload = json.RawMessage(payload)
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: clause %s", c.ID)
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list clauses")
}

// SaveEdges upserts edges in one transaction.
func (s *SQLiteStore) SaveEdges(ctx context.Context, edges []model.Edge) error {
	return s.inTx(ctx, "save edges", func(tx *sql.Tx) error {
		for _, e := range edges {
			params, err := json.Marshal(e.Params)
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal edge params %s", e.ID)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO edges (id, source, target, kind, cross_contract, params, confidence)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, params = excluded.params, confidence = excluded.confidence`,
				e.ID, e.Source, e.Target, string(e.Kind), e.CrossContract, string(params), e.Confidence,
			); err != nil {
				return eris.Wrapf(err, "sqlite: save edge %s", e.ID)
			}
		}
		return nil
	})
}

// ListEdges returns every edge ordered by id.
func (s *SQLiteStore) ListEdges(ctx context.Context) ([]model.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, target, kind, cross_contract, params, confidence FROM edges ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list edges")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Edge
	for rows.Next() {
		var (
			e      model.Edge
			kind   string
			params sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &kind, &e.CrossContract, &params, &e.Confidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edge")
		}
		e.Kind = model.EdgeKind(kind)
		if err := decodeParams([]byte(params.String), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list edges")
}

// --- Operational data ---

// SaveActuals replaces the given metric values for a period.
func (s *SQLiteStore) SaveActuals(ctx context.Context, contractID, periodKey string, values map[string]decimal.Decimal) error {
	metrics := make([]string, 0, len(values))
	for m := range values {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	return s.inTx(ctx, "save actuals", func(tx *sql.Tx) error {
		for _, m := range metrics {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO actuals (contract_id, period_key, metric, value) VALUES (?, ?, ?, ?)
				ON CONFLICT (contract_id, period_key, metric) DO UPDATE SET value = excluded.value`,
				contractID, periodKey, m, values[m].String(),
			); err != nil {
				return eris.Wrapf(err, "sqlite: save actual %s", m)
			}
		}
		return nil
	})
}

// GetActuals returns the metric values recorded for a period.
func (s *SQLiteStore) GetActuals(ctx context.Context, contractID, periodKey string) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, value FROM actuals WHERE contract_id = ? AND period_key = ?`, contractID, periodKey)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get actuals")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var metric, value string
		if err := rows.Scan(&metric, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan actual")
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse actual %s", metric)
		}
		out[metric] = d
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get actuals")
}

// SaveEvents upserts events in one transaction.
func (s *SQLiteStore) SaveEvents(ctx context.Context, events []model.Event) error {
	return s.inTx(ctx, "save events", func(tx *sql.Tx) error {
		for _, e := range events {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO events (id, contract_id, type, status, started_at, acknowledged_at, fixed_at, ended_at, window_end, downtime_hours, energy_lost_mwh)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET status = excluded.status, acknowledged_at = excluded.acknowledged_at,
					fixed_at = excluded.fixed_at, ended_at = excluded.ended_at, window_end = excluded.window_end,
					downtime_hours = excluded.downtime_hours, energy_lost_mwh = excluded.energy_lost_mwh`,
				e.ID, e.ContractID, string(e.Type), string(e.Status), formatTime(e.StartedAt),
				formatTimePtr(e.AcknowledgedAt), formatTimePtr(e.FixedAt), formatTimePtr(e.EndedAt),
				formatTime(e.WindowEnd()), e.Impact.DowntimeHours.String(), e.Impact.EnergyLostMWh.String(),
			); err != nil {
				return eris.Wrapf(err, "sqlite: save event %s", e.ID)
			}
		}
		return nil
	})
}

// ListEvents returns events linked to the contract or unlinked whose window
// overlaps [from, to].
func (s *SQLiteStore) ListEvents(ctx context.Context, contractID string, from, to time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contract_id, type, status, started_at, acknowledged_at, fixed_at, ended_at, downtime_hours, energy_lost_mwh
		FROM events
		WHERE (contract_id = ? OR contract_id = '') AND started_at <= ? AND window_end >= ?
		ORDER BY started_at, id`,
		contractID, formatTime(to), formatTime(from))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Event
	for rows.Next() {
		var (
			e                      model.Event
			typ, status, startedAt string
			ack, fixed, ended      *string
			downtime, mwhLost      string
		)
		if err := rows.Scan(&e.ID, &e.ContractID, &typ, &status, &startedAt, &ack, &fixed, &ended, &downtime, &mwhLost); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		e.Type = model.EventType(typ)
		e.Status = model.EventStatus(status)
		if e.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: event %s", e.ID)
		}
		if e.AcknowledgedAt, err = parseTimePtr(ack); err != nil {
			return nil, eris.Wrapf(err, "sqlite: event %s", e.ID)
		}
		if e.FixedAt, err = parseTimePtr(fixed); err != nil {
			return nil, eris.Wrapf(err, "sqlite: event %s", e.ID)
		}
		if e.EndedAt, err = parseTimePtr(ended); err != nil {
			return nil, eris.Wrapf(err, "sqlite: event %s", e.ID)
		}
		if e.Impact, err = parseImpact(downtime, mwhLost); err != nil {
			return nil, eris.Wrapf(err, "sqlite: event %s", e.ID)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list events")
}

// --- Results ---

const sqliteBreachColumns = `id, obligation_id, contract_id, period_key, period_start, period_end, kind, shortfall, evidence, evidence_digest, created_at, superseded_at, superseded_by`

// ActiveBreach returns the active breach for the pair, or nil when none exists.
func (s *SQLiteStore) ActiveBreach(ctx context.Context, obligationID, periodKey string) (*model.BreachRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteBreachColumns+` FROM breaches WHERE obligation_id = ? AND period_key = ? AND superseded_at IS NULL`,
		obligationID, periodKey)
	b, err := scanSQLiteBreach(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active breach %s/%s", obligationID, periodKey)
	}
	return b, nil
}

// WriteBreach supersedes the prior active breach and its verdicts (when
// w.Supersedes is set), then inserts the new breach and verdicts, all in
// one transaction. Losing a race yields ErrConflict.
func (s *SQLiteStore) WriteBreach(ctx context.Context, w BreachWrite) error {
	b := w.Breach
	evidence, err := json.Marshal(b.Evidence)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal evidence")
	}
	at := formatTime(w.At)

	return s.inTx(ctx, "write breach", func(tx *sql.Tx) error {
		if w.Supersedes != "" {
			res, err := tx.ExecContext(ctx,
				`UPDATE breaches SET superseded_at = ?, superseded_by = ? WHERE id = ? AND superseded_at IS NULL`,
				at, b.ID, w.Supersedes)
			if err != nil {
				return eris.Wrapf(err, "sqlite: supersede breach %s", w.Supersedes)
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return eris.Wrapf(ErrConflict, "sqlite: breach %s is no longer active", w.Supersedes)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE verdicts SET superseded_at = ? WHERE breach_id = ? AND superseded_at IS NULL`,
				at, w.Supersedes); err != nil {
				return eris.Wrapf(err, "sqlite: supersede verdicts of %s", w.Supersedes)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO breaches (id, obligation_id, contract_id, period_key, period_start, period_end, kind, shortfall, evidence, evidence_digest, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.ObligationID, b.ContractID, b.PeriodKey, formatTime(b.PeriodStart), formatTime(b.PeriodEnd),
			string(b.Kind), b.Shortfall.String(), string(evidence), b.EvidenceDigest, at,
		); err != nil {
			if isUniqueViolation(err) {
				return eris.Wrapf(ErrConflict, "sqlite: active breach exists for %s/%s", b.ObligationID, b.PeriodKey)
			}
			return eris.Wrapf(err, "sqlite: insert breach %s", b.ID)
		}

		for _, v := range w.Verdicts {
			trace, err := json.Marshal(v.Trace)
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal trace %s", v.ID)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO verdicts (id, breach_id, obligation_id, consequence_id, contract_id, period_key, period_start, kind, amount, currency, cure_deadline, payment_due_date, trace, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				v.ID, b.ID, v.ObligationID, v.ConsequenceID, v.ContractID, v.PeriodKey, formatTime(v.PeriodStart),
				string(v.Kind), v.Amount.String(), v.Currency, formatTimePtr(v.CureDeadline), formatTimePtr(v.PaymentDueDate),
				string(trace), at,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert verdict %s", v.ID)
			}
		}
		return nil
	})
}

// ListBreaches returns breaches matching the filter, newest first.
func (s *SQLiteStore) ListBreaches(ctx context.Context, filter BreachFilter) ([]model.BreachRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.ContractID != "" {
		where = append(where, "contract_id = ?")
		args = append(args, filter.ContractID)
	}
	if filter.ObligationID != "" {
		where = append(where, "obligation_id = ?")
		args = append(args, filter.ObligationID)
	}
	if filter.PeriodKey != "" {
		where = append(where, "period_key = ?")
		args = append(args, filter.PeriodKey)
	}
	if !filter.IncludeSuperseded {
		where = append(where, "superseded_at IS NULL")
	}

	query := `SELECT ` + sqliteBreachColumns + ` FROM breaches`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limitOf(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list breaches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.BreachRecord
	for rows.Next() {
		b, err := scanSQLiteBreach(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan breach")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list breaches")
}

// ListVerdicts returns every verdict of a breach ordered by consequence id.
func (s *SQLiteStore) ListVerdicts(ctx context.Context, breachID string) ([]model.VerdictRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, breach_id, obligation_id, consequence_id, contract_id, period_key, period_start, kind, amount, currency,
			cure_deadline, payment_due_date, trace, created_at, superseded_at
		FROM verdicts WHERE breach_id = ? ORDER BY consequence_id`, breachID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verdicts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.VerdictRecord
	for rows.Next() {
		var (
			v                                         model.VerdictRecord
			periodStart, kind, amount, trace, created string
			cure, due, superseded                     *string
		)
		if err := rows.Scan(&v.ID, &v.BreachID, &v.ObligationID, &v.ConsequenceID, &v.ContractID, &v.PeriodKey, &periodStart,
			&kind, &amount, &v.Currency, &cure, &due, &trace, &created, &superseded); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan verdict")
		}
		v.Kind = model.VerdictKind(kind)
		if err := decodeSQLiteVerdict(&v, periodStart, amount, trace, created, cure, due, superseded); err != nil {
			return nil, eris.Wrapf(err, "sqlite: verdict %s", v.ID)
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list verdicts")
}

// SumVerdicts totals active verdict amounts for an (obligation, consequence)
// pair over periods starting in [from, to). Zero bounds are open.
func (s *SQLiteStore) SumVerdicts(ctx context.Context, obligationID, consequenceID string, from, to time.Time, exclude string) (decimal.Decimal, error) {
	query := `SELECT amount FROM verdicts
		WHERE obligation_id = ? AND consequence_id = ? AND superseded_at IS NULL AND period_key <> ?`
	args := []any{obligationID, consequenceID, exclude}
	if !from.IsZero() {
		query += ` AND period_start >= ?`
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		query += ` AND period_start < ?`
		args = append(args, formatTime(to))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, eris.Wrap(err, "sqlite: sum verdicts")
	}
	defer rows.Close() //nolint:errcheck

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, eris.Wrap(err, "sqlite: scan verdict amount")
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, eris.Wrap(err, "sqlite: parse verdict amount")
		}
		total = total.Add(d)
	}
	return total, eris.Wrap(rows.Err(), "sqlite: sum verdicts")
}

// AppendEvaluationLogs inserts audit entries in one transaction.
func (s *SQLiteStore) AppendEvaluationLogs(ctx context.Context, logs []model.EvaluationLog) error {
	return s.inTx(ctx, "append evaluation logs", func(tx *sql.Tx) error {
		for _, l := range logs {
			var evidence any
			if l.Evidence != nil {
				raw, err := json.Marshal(l.Evidence)
				if err != nil {
					return eris.Wrapf(err, "sqlite: marshal evidence %s", l.ID)
				}
				evidence = string(raw)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO evaluation_log (id, run_id, obligation_id, contract_id, period_key, outcome, reason, evidence, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				l.ID, l.RunID, l.ObligationID, l.ContractID, l.PeriodKey, string(l.Outcome), l.Reason, evidence,
				formatTime(l.CreatedAt),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert evaluation log %s", l.ID)
			}
		}
		return nil
	})
}

// ListEvaluationLogs returns the audit entries of one run.
func (s *SQLiteStore) ListEvaluationLogs(ctx context.Context, runID string) ([]model.EvaluationLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, obligation_id, contract_id, period_key, outcome, reason, evidence, created_at
		FROM evaluation_log WHERE run_id = ? ORDER BY obligation_id, period_key`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evaluation logs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EvaluationLog
	for rows.Next() {
		var (
			l                model.EvaluationLog
			outcome, created string
			evidence         sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.RunID, &l.ObligationID, &l.ContractID, &l.PeriodKey, &outcome, &l.Reason, &evidence, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evaluation log")
		}
		l.Outcome = model.Outcome(outcome)
		if l.Evidence, err = decodeEvidence([]byte(evidence.String)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: evaluation log %s", l.ID)
		}
		if l.CreatedAt, err = parseTime(created); err != nil {
			return nil, eris.Wrapf(err, "sqlite: evaluation log %s", l.ID)
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evaluation logs")
}

// SaveFollowUp records a follow-up once per (obligation, period).
func (s *SQLiteStore) SaveFollowUp(ctx context.Context, f model.FollowUp) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO follow_ups (id, obligation_id, contract_id, period_key, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (obligation_id, period_key) DO NOTHING`,
		f.ID, f.ObligationID, f.ContractID, f.PeriodKey, f.Reason, formatTime(f.CreatedAt))
	return eris.Wrapf(err, "sqlite: save follow-up %s/%s", f.ObligationID, f.PeriodKey)
}

// ListFollowUps returns follow-ups, optionally restricted to one contract.
func (s *SQLiteStore) ListFollowUps(ctx context.Context, contractID string) ([]model.FollowUp, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, obligation_id, contract_id, period_key, reason, created_at
		FROM follow_ups WHERE ? = '' OR contract_id = ? ORDER BY created_at, id`, contractID, contractID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list follow-ups")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FollowUp
	for rows.Next() {
		var (
			f       model.FollowUp
			created string
		)
		if err := rows.Scan(&f.ID, &f.ObligationID, &f.ContractID, &f.PeriodKey, &f.Reason, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan follow-up")
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, eris.Wrapf(err, "sqlite: follow-up %s", f.ID)
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list follow-ups")
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", op)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", op)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteContract(row scannable) (*model.Contract, error) {
	var (
		c         model.Contract
		effective *string
	)
	if err := row.Scan(&c.ID, &c.Name, &effective, &c.Currency); err != nil {
		return nil, err
	}
	var err error
	if c.EffectiveDate, err = parseTimePtr(effective); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanSQLiteBreach(row scannable) (*model.BreachRecord, error) {
	var (
		b                                        model.BreachRecord
		start, end, kind, shortfall, ev, created string
		superseded                               *string
	)
	if err := row.Scan(&b.ID, &b.ObligationID, &b.ContractID, &b.PeriodKey, &start, &end, &kind, &shortfall, &ev,
		&b.EvidenceDigest, &created, &superseded, &b.SupersededBy); err != nil {
		return nil, err
	}
	b.Kind = model.BreachKind(kind)
	var err error
	if b.PeriodStart, err = parseTime(start); err != nil {
		return nil, err
	}
	if b.PeriodEnd, err = parseTime(end); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if b.SupersededAt, err = parseTimePtr(superseded); err != nil {
		return nil, err
	}
	if b.Shortfall, err = decimal.NewFromString(shortfall); err != nil {
		return nil, eris.Wrapf(err, "parse shortfall of %s", b.ID)
	}
	if err := json.Unmarshal([]byte(ev), &b.Evidence); err != nil {
		return nil, eris.Wrapf(err, "decode evidence of %s", b.ID)
	}
	return &b, nil
}

func decodeSQLiteVerdict(v *model.VerdictRecord, periodStart, amount, trace, created string, cure, due, superseded *string) error {
	var err error
	if v.PeriodStart, err = parseTime(periodStart); err != nil {
		return err
	}
	if v.CreatedAt, err = parseTime(created); err != nil {
		return err
	}
	if v.CureDeadline, err = parseTimePtr(cure); err != nil {
		return err
	}
	if v.PaymentDueDate, err = parseTimePtr(due); err != nil {
		return err
	}
	if v.SupersededAt, err = parseTimePtr(superseded); err != nil {
		return err
	}
	if v.Amount, err = decimal.NewFromString(amount); err != nil {
		return eris.Wrap(err, "parse amount")
	}
	if err := json.Unmarshal([]byte(trace), &v.Trace); err != nil {
		return eris.Wrap(err, "decode trace")
	}
	return nil
}
