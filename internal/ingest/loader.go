package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/contract-compliance/internal/model"
)

// Kind names a dataset the loader accepts.
type Kind string

const (
	KindContracts Kind = "contracts"
	KindClauses   Kind = "clauses"
	KindEdges     Kind = "edges"
	KindActuals   Kind = "actuals"
	KindEvents    Kind = "events"
)

// Kinds lists every loadable dataset.
var Kinds = []Kind{KindContracts, KindClauses, KindEdges, KindActuals, KindEvents}

const defaultBatchSize = 500

// Writer is the subset of the store the loader writes through.
type Writer interface {
	SaveContract(ctx context.Context, c model.Contract) error
	SaveClauses(ctx context.Context, clauses []model.RawClause) error
	SaveEdges(ctx context.Context, edges []model.Edge) error
	SaveActuals(ctx context.Context, contractID, periodKey string, values map[string]decimal.Decimal) error
	SaveEvents(ctx context.Context, events []model.Event) error
}

// RowError describes one rejected input row. Row is 1-based and counts the
// header row for tabular files.
type RowError struct {
	Row int    `json:"row"`
	Err string `json:"error"`
}

// Summary reports the outcome of one load.
type Summary struct {
	Kind     Kind       `json:"kind"`
	Read     int        `json:"read"`
	Saved    int        `json:"saved"`
	Rejected []RowError `json:"rejected,omitempty"`
}

func (s *Summary) reject(row int, format string, args ...any) {
	s.Rejected = append(s.Rejected, RowError{Row: row, Err: fmt.Sprintf(format, args...)})
}

// Loader validates exported records and saves the valid ones. Invalid rows
// are reported in the Summary and never abort the load; read and store
// failures do.
type Loader struct {
	store     Writer
	batchSize int
	now       func() time.Time
}

// NewLoader creates a Loader writing to w.
func NewLoader(w Writer) *Loader {
	return &Loader{store: w, batchSize: defaultBatchSize, now: time.Now}
}

// LoadFile loads the dataset of the given kind from path. Contracts, clauses
// and edges are read from a JSON array; actuals and events from CSV or XLSX,
// chosen by file extension.
func (l *Loader) LoadFile(ctx context.Context, kind Kind, path string) (*Summary, error) {
	ext := strings.ToLower(filepath.Ext(path))
	log := zap.L().With(zap.String("kind", string(kind)), zap.String("path", path))

	var (
		sum *Summary
		err error
	)
	switch kind {
	case KindContracts, KindClauses, KindEdges:
		if ext != ".json" {
			return nil, eris.Errorf("ingest: %s must be a .json file, got %q", kind, ext)
		}
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		switch kind {
		case KindContracts:
			sum, err = l.LoadContracts(ctx, f)
		case KindClauses:
			sum, err = l.LoadClauses(ctx, f)
		default:
			sum, err = l.LoadEdges(ctx, f)
		}
	case KindActuals, KindEvents:
		var rows <-chan []string
		var errs <-chan error
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		switch ext {
		case ".csv":
			var f *os.File
			f, err = os.Open(path)
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: open %s", path)
			}
			defer f.Close() //nolint:errcheck
			rows, errs = StreamCSV(ctx, f)
		case ".xlsx":
			rows, errs = StreamXLSX(ctx, path)
		default:
			return nil, eris.Errorf("ingest: %s must be a .csv or .xlsx file, got %q", kind, ext)
		}

		if kind == KindActuals {
			sum, err = l.LoadActuals(ctx, rows, errs)
		} else {
			sum, err = l.LoadEvents(ctx, rows, errs)
		}
	default:
		return nil, eris.Errorf("ingest: unknown kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	log.Info("ingest: load complete",
		zap.Int("read", sum.Read),
		zap.Int("saved", sum.Saved),
		zap.Int("rejected", len(sum.Rejected)),
	)
	return sum, nil
}

// LoadContracts saves contracts from a JSON array.
func (l *Loader) LoadContracts(ctx context.Context, r io.Reader) (*Summary, error) {
	sum := &Summary{Kind: KindContracts}
	err := loadJSON(ctx, r, sum, 1, func(row int, c model.Contract) bool {
		if c.ID == "" {
			sum.reject(row, "id is required")
			return false
		}
		return true
	}, func(batch []model.Contract) error {
		for _, c := range batch {
			if err := l.store.SaveContract(ctx, c); err != nil {
				return eris.Wrapf(err, "ingest: save contract %s", c.ID)
			}
		}
		return nil
	})
	return sum, err
}

// LoadClauses saves raw clauses from a JSON array. Payloads are stored as
// delivered; schema problems surface when the clause is evaluated.
func (l *Loader) LoadClauses(ctx context.Context, r io.Reader) (*Summary, error) {
	sum := &Summary{Kind: KindClauses}
	now := l.now().UTC()
	err := loadJSON(ctx, r, sum, l.batchSize, func(row int, c model.RawClause) bool {
		switch {
		case c.ID == "":
			sum.reject(row, "id is required")
		case c.ContractID == "":
			sum.reject(row, "clause %s: contract_id is required", c.ID)
		case !c.Category.Valid():
			sum.reject(row, "clause %s: unknown category %q", c.ID, c.Category)
		case len(c.Payload) == 0:
			sum.reject(row, "clause %s: payload is required", c.ID)
		default:
			return true
		}
		return false
	}, func(batch []model.RawClause) error {
		for i := range batch {
			if batch[i].Version == 0 {
				batch[i].Version = 1
			}
			if batch[i].CreatedAt.IsZero() {
				batch[i].CreatedAt = now
			}
		}
		return eris.Wrap(l.store.SaveClauses(ctx, batch), "ingest: save clauses")
	})
	return sum, err
}

// LoadEdges saves explicit clause edges from a JSON array.
func (l *Loader) LoadEdges(ctx context.Context, r io.Reader) (*Summary, error) {
	sum := &Summary{Kind: KindEdges}
	err := loadJSON(ctx, r, sum, l.batchSize, func(row int, e model.Edge) bool {
		switch {
		case e.ID == "":
			sum.reject(row, "id is required")
		case e.Source == "" || e.Target == "":
			sum.reject(row, "edge %s: source and target are required", e.ID)
		case e.Source == e.Target:
			sum.reject(row, "edge %s: self-loop on %s", e.ID, e.Source)
		case !e.Kind.Valid():
			sum.reject(row, "edge %s: unknown kind %q", e.ID, e.Kind)
		case e.Confidence < 0 || e.Confidence > 1:
			sum.reject(row, "edge %s: confidence %v outside [0,1]", e.ID, e.Confidence)
		default:
			return true
		}
		return false
	}, func(batch []model.Edge) error {
		return eris.Wrap(l.store.SaveEdges(ctx, batch), "ingest: save edges")
	})
	return sum, err
}

// loadJSON decodes a JSON array, keeps the elements accept approves and
// flushes them in batches.
func loadJSON[T any](ctx context.Context, r io.Reader, sum *Summary, batchSize int, accept func(row int, v T) bool, flush func([]T) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items, errs := DecodeJSONArray[T](ctx, r)
	batch := make([]T, 0, batchSize)
	for item := range items {
		sum.Read++
		if !accept(sum.Read, item) {
			continue
		}
		batch = append(batch, item)
		if len(batch) >= batchSize {
			if err := flush(batch); err != nil {
				return err
			}
			sum.Saved += len(batch)
			batch = make([]T, 0, batchSize)
		}
	}
	if err := <-errs; err != nil {
		return eris.Wrapf(err, "ingest: read %s", sum.Kind)
	}
	if len(batch) > 0 {
		if err := flush(batch); err != nil {
			return err
		}
		sum.Saved += len(batch)
	}
	return nil
}

// header maps lower-cased column names to their index.
type header map[string]int

func readHeader(cells []string, required ...string) (header, error) {
	h := make(header, len(cells))
	for i, c := range cells {
		h[strings.ToLower(strings.TrimSpace(c))] = i
	}
	var missing []string
	for _, col := range required {
		if _, ok := h[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ingest: missing required columns: %s", strings.Join(missing, ", "))
	}
	return h, nil
}

// get returns the named cell, or "" when the column is absent or the row is
// short.
func (h header) get(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

type actualsKey struct {
	contractID string
	periodKey  string
}

// LoadActuals saves metric values from rows with the columns contract_id,
// period_key, metric and value. Period keys are stored canonically, so
// "2025-q2" and "2025-Q2" land in the same period. Values for one
// (contract, period) are saved together.
func (l *Loader) LoadActuals(ctx context.Context, rows <-chan []string, errs <-chan error) (*Summary, error) {
	sum := &Summary{Kind: KindActuals}
	groups := make(map[actualsKey]map[string]decimal.Decimal)
	seen := make(map[actualsKey]map[string]int)

	var h header
	line := 0
	for row := range rows {
		line++
		if h == nil {
			var err error
			if h, err = readHeader(row, "contract_id", "period_key", "metric", "value"); err != nil {
				return nil, err
			}
			continue
		}
		if blank(row) {
			continue
		}
		sum.Read++

		contractID := h.get(row, "contract_id")
		metric := h.get(row, "metric")
		if contractID == "" || metric == "" {
			sum.reject(line, "contract_id and metric are required")
			continue
		}
		period, err := model.ParsePeriod(h.get(row, "period_key"))
		if err != nil {
			sum.reject(line, "period_key: %v", err)
			continue
		}
		value, err := decimal.NewFromString(h.get(row, "value"))
		if err != nil {
			sum.reject(line, "value %q is not a number", h.get(row, "value"))
			continue
		}

		key := actualsKey{contractID: contractID, periodKey: period.Key()}
		if groups[key] == nil {
			groups[key] = make(map[string]decimal.Decimal)
			seen[key] = make(map[string]int)
		}
		if prev, dup := seen[key][metric]; dup {
			sum.reject(line, "duplicate %s for %s %s (first on row %d)", metric, contractID, key.periodKey, prev)
			continue
		}
		seen[key][metric] = line
		groups[key][metric] = value
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "ingest: read actuals")
	}
	if h == nil {
		return nil, eris.New("ingest: actuals file is empty")
	}

	keys := make([]actualsKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].contractID != keys[j].contractID {
			return keys[i].contractID < keys[j].contractID
		}
		return keys[i].periodKey < keys[j].periodKey
	})
	for _, k := range keys {
		if err := l.store.SaveActuals(ctx, k.contractID, k.periodKey, groups[k]); err != nil {
			return nil, eris.Wrapf(err, "ingest: save actuals %s %s", k.contractID, k.periodKey)
		}
		sum.Saved += len(groups[k])
	}
	return sum, nil
}

var eventStatuses = map[model.EventStatus]bool{
	model.StatusReported:     true,
	model.StatusAcknowledged: true,
	model.StatusVerified:     true,
	model.StatusDisputed:     true,
	model.StatusRejected:     true,
	model.StatusResolved:     true,
}

// LoadEvents saves operational events from rows with the columns id, type,
// status and started_at, plus the optional contract_id, acknowledged_at,
// fixed_at, ended_at, downtime_hours and energy_lost_mwh. Timestamps are
// RFC 3339.
func (l *Loader) LoadEvents(ctx context.Context, rows <-chan []string, errs <-chan error) (*Summary, error) {
	sum := &Summary{Kind: KindEvents}
	batch := make([]model.Event, 0, l.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.store.SaveEvents(ctx, batch); err != nil {
			return eris.Wrap(err, "ingest: save events")
		}
		sum.Saved += len(batch)
		batch = make([]model.Event, 0, l.batchSize)
		return nil
	}

	var h header
	line := 0
	for row := range rows {
		line++
		if h == nil {
			var err error
			if h, err = readHeader(row, "id", "type", "status", "started_at"); err != nil {
				return nil, err
			}
			continue
		}
		if blank(row) {
			continue
		}
		sum.Read++

		ev, problem := parseEvent(h, row)
		if problem != "" {
			sum.reject(line, "%s", problem)
			continue
		}
		batch = append(batch, ev)
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrap(err, "ingest: read events")
	}
	if h == nil {
		return nil, eris.New("ingest: events file is empty")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return sum, nil
}

// parseEvent builds an event from one row, returning a description of the
// first problem found.
func parseEvent(h header, row []string) (model.Event, string) {
	ev := model.Event{
		ID:         h.get(row, "id"),
		ContractID: h.get(row, "contract_id"),
		Type:       model.EventType(strings.ToLower(h.get(row, "type"))),
		Status:     model.EventStatus(strings.ToLower(h.get(row, "status"))),
	}
	if ev.ID == "" {
		return ev, "id is required"
	}
	if !ev.Type.Valid() {
		return ev, fmt.Sprintf("event %s: unknown type %q", ev.ID, ev.Type)
	}
	if !eventStatuses[ev.Status] {
		return ev, fmt.Sprintf("event %s: unknown status %q", ev.ID, ev.Status)
	}

	started, err := time.Parse(time.RFC3339, h.get(row, "started_at"))
	if err != nil {
		return ev, fmt.Sprintf("event %s: started_at must be RFC 3339", ev.ID)
	}
	ev.StartedAt = started.UTC()

	for _, f := range []struct {
		col string
		dst **time.Time
	}{
		{"acknowledged_at", &ev.AcknowledgedAt},
		{"fixed_at", &ev.FixedAt},
		{"ended_at", &ev.EndedAt},
	} {
		s := h.get(row, f.col)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return ev, fmt.Sprintf("event %s: %s must be RFC 3339", ev.ID, f.col)
		}
		if t.Before(started) {
			return ev, fmt.Sprintf("event %s: %s precedes started_at", ev.ID, f.col)
		}
		t = t.UTC()
		*f.dst = &t
	}

	for _, f := range []struct {
		col string
		dst *decimal.Decimal
	}{
		{"downtime_hours", &ev.Impact.DowntimeHours},
		{"energy_lost_mwh", &ev.Impact.EnergyLostMWh},
	} {
		s := h.get(row, f.col)
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil || d.IsNegative() {
			return ev, fmt.Sprintf("event %s: %s must be a non-negative number", ev.ID, f.col)
		}
		*f.dst = d
	}
	return ev, ""
}
