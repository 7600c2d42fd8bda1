// Package validate admits raw clause records into evaluation by checking
// their payloads against the declared per-category field schema.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/sells-group/contract-compliance/internal/model"
)

// FieldMismatch describes a present field whose value has the wrong type or
// falls outside its declared values.
type FieldMismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Got      string `json:"got"`
}

// ValidationError rejects a clause from evaluation.
type ValidationError struct {
	ClauseID       string          `json:"clause_id"`
	Category       model.Category  `json:"category"`
	MissingFields  []string        `json:"missing_fields,omitempty"`
	TypeMismatches []FieldMismatch `json:"type_mismatches,omitempty"`
	UnknownFields  []string        `json:"unknown_fields,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing "+strings.Join(e.MissingFields, ", "))
	}
	for _, m := range e.TypeMismatches {
		parts = append(parts, fmt.Sprintf("%s: expected %s, got %s", m.Field, m.Expected, m.Got))
	}
	if len(e.UnknownFields) > 0 {
		parts = append(parts, "unknown "+strings.Join(e.UnknownFields, ", "))
	}
	return fmt.Sprintf("validate: clause %s (%s): %s", e.ClauseID, e.Category, strings.Join(parts, "; "))
}

func (e *ValidationError) empty() bool {
	return e.Reason == "" && len(e.MissingFields) == 0 && len(e.TypeMismatches) == 0 && len(e.UnknownFields) == 0
}

func (e *ValidationError) mismatch(field, expected, got string) {
	e.TypeMismatches = append(e.TypeMismatches, FieldMismatch{Field: field, Expected: expected, Got: got})
}

// ValidatedClause is a clause whose payload satisfied its category schema.
// It can only be obtained from Validate.
type ValidatedClause struct {
	clause model.Clause
}

// Clause returns the typed clause.
func (v ValidatedClause) Clause() model.Clause { return v.clause }

// ID returns the clause id.
func (v ValidatedClause) ID() string { return v.clause.ID }

// ContractID returns the owning contract id.
func (v ValidatedClause) ContractID() string { return v.clause.ContractID }

// Category returns the clause category.
func (v ValidatedClause) Category() model.Category { return v.clause.Category }

// Payload returns the typed payload variant.
func (v ValidatedClause) Payload() model.Payload { return v.clause.Payload }

// Superseded reports whether a newer version of the clause exists.
func (v ValidatedClause) Superseded() bool { return v.clause.SupersededBy != "" }

// Validate checks raw against the field schema of its category and decodes
// its payload into the category variant. Required fields are never defaulted.
func Validate(raw model.RawClause) (ValidatedClause, error) {
	verr := &ValidationError{ClauseID: raw.ID, Category: raw.Category}

	schema := model.SchemaFor(raw.Category)
	switch {
	case raw.ID == "":
		verr.Reason = "clause id is empty"
	case raw.ContractID == "":
		verr.Reason = "contract id is empty"
	case schema == nil:
		verr.Reason = fmt.Sprintf("unknown category %q", raw.Category)
	}
	if !verr.empty() {
		return ValidatedClause{}, verr
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw.Payload, &fields); err != nil || fields == nil {
		verr.Reason = "payload must be a JSON object"
		return ValidatedClause{}, verr
	}

	for name := range fields {
		if schema.Field(name) == nil {
			verr.UnknownFields = append(verr.UnknownFields, name)
		}
	}
	sort.Strings(verr.UnknownFields)

	for _, spec := range schema.Fields {
		value, ok := fields[spec.Name]
		present := ok && !isNull(value)
		if !present {
			if required(spec, fields) {
				verr.MissingFields = append(verr.MissingFields, spec.Name)
			}
			continue
		}
		checkType(verr, spec, value)
	}
	if !verr.empty() {
		return ValidatedClause{}, verr
	}

	payload, err := decode(raw.Category, raw.Payload)
	if err != nil {
		verr.Reason = err.Error()
		return ValidatedClause{}, verr
	}
	checkStructure(verr, payload)
	if !verr.empty() {
		return ValidatedClause{}, verr
	}

	return ValidatedClause{clause: model.Clause{
		ID:               raw.ID,
		ContractID:       raw.ContractID,
		Category:         raw.Category,
		Payload:          payload,
		ResponsibleParty: raw.ResponsibleParty,
		BeneficiaryParty: raw.BeneficiaryParty,
		SourceRef:        raw.SourceRef,
		Version:          raw.Version,
		SupersededBy:     raw.SupersededBy,
	}}, nil
}

// ValidateAll validates every clause. One rejected clause never prevents
// the rest from being admitted; each rejection is logged with its fields.
func ValidateAll(raws []model.RawClause) ([]ValidatedClause, []*ValidationError) {
	valid := make([]ValidatedClause, 0, len(raws))
	var rejected []*ValidationError
	for _, raw := range raws {
		vc, err := Validate(raw)
		if err != nil {
			verr := err.(*ValidationError)
			zap.L().Warn("validate: clause rejected",
				zap.String("clause_id", verr.ClauseID),
				zap.String("contract_id", raw.ContractID),
				zap.String("category", string(verr.Category)),
				zap.Strings("missing_fields", verr.MissingFields),
				zap.Strings("unknown_fields", verr.UnknownFields),
				zap.Int("type_mismatches", len(verr.TypeMismatches)),
				zap.String("reason", verr.Reason),
			)
			rejected = append(rejected, verr)
			continue
		}
		valid = append(valid, vc)
	}
	return valid, rejected
}

// Must validates raw and panics on rejection. Intended for tests and fixtures.
func Must(raw model.RawClause) ValidatedClause {
	vc, err := Validate(raw)
	if err != nil {
		panic(err)
	}
	return vc
}

func required(spec model.FieldSpec, fields map[string]json.RawMessage) bool {
	if spec.Required {
		return true
	}
	if spec.RequiredIf == nil {
		return false
	}
	var v string
	if err := json.Unmarshal(fields[spec.RequiredIf.Field], &v); err != nil {
		return false
	}
	for _, want := range spec.RequiredIf.Values {
		if v == want {
			return true
		}
	}
	return false
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func jsonKind(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return "empty"
	}
	switch c := v[0]; {
	case c == '"':
		return "string"
	case c == '{':
		return "object"
	case c == '[':
		return "array"
	case c == 't' || c == 'f':
		return "boolean"
	case c == 'n':
		return "null"
	default:
		return "number"
	}
}

func checkType(verr *ValidationError, spec model.FieldSpec, value json.RawMessage) {
	kind := jsonKind(value)
	switch spec.Type {
	case model.TypeNumber, model.TypeInteger:
		if kind != "number" {
			verr.mismatch(spec.Name, string(spec.Type), kind)
			return
		}
		d, err := decimal.NewFromString(string(bytes.TrimSpace(value)))
		if err != nil {
			verr.mismatch(spec.Name, string(spec.Type), "malformed number")
			return
		}
		if spec.Type == model.TypeInteger && !d.IsInteger() {
			verr.mismatch(spec.Name, "integer", d.String())
		}
	case model.TypeBoolean:
		if kind != "boolean" {
			verr.mismatch(spec.Name, "boolean", kind)
		}
	case model.TypeList:
		if kind != "array" {
			verr.mismatch(spec.Name, "list", kind)
		}
	case model.TypeObject:
		if kind != "object" {
			verr.mismatch(spec.Name, "object", kind)
		}
	case model.TypeText, model.TypeDate, model.TypeCurrency:
		var s string
		if kind != "string" || json.Unmarshal(value, &s) != nil {
			verr.mismatch(spec.Name, string(spec.Type), kind)
			return
		}
		checkString(verr, spec, s)
	}
}

func checkString(verr *ValidationError, spec model.FieldSpec, s string) {
	switch spec.Type {
	case model.TypeDate:
		if _, err := model.ParseDate(s); err != nil {
			verr.mismatch(spec.Name, "date "+model.DateLayout, s)
		}
		return
	case model.TypeCurrency:
		if len(s) != 3 || s != strings.ToUpper(s) {
			verr.mismatch(spec.Name, "ISO 4217 code", s)
			return
		}
		if _, err := currency.ParseISO(s); err != nil {
			verr.mismatch(spec.Name, "ISO 4217 code", s)
		}
		return
	}
	if len(spec.Enum) == 0 {
		return
	}
	for _, allowed := range spec.Enum {
		if s == allowed {
			return
		}
	}
	verr.mismatch(spec.Name, "one of "+strings.Join(spec.Enum, "|"), s)
}

func decode(c model.Category, payload json.RawMessage) (model.Payload, error) {
	ptr := model.NewPayload(c)
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ptr); err != nil {
		return nil, eris.Wrap(err, "decode payload")
	}
	return reflect.ValueOf(ptr).Elem().Interface().(model.Payload), nil
}

func checkStructure(verr *ValidationError, p model.Payload) {
	if pt, ok := p.(model.PaymentTermsPayload); ok && pt.PaymentDueDays < 0 {
		verr.mismatch("payment_due_days", "non-negative integer", fmt.Sprint(pt.PaymentDueDays))
	}
	cp, ok := p.(model.ConsequencePayload)
	if !ok {
		return
	}
	t := cp.Consequence()

	nonNegative := map[string]*decimal.Decimal{
		"rate_per_point":    t.RatePerPoint,
		"rate_per_day":      t.RatePerDay,
		"energy_price":      t.EnergyPrice,
		"contract_capacity": t.ContractCapacity,
		"cap_annual":        t.CapAnnual,
		"cap_cumulative":    t.CapCumulative,
		"cap_per_period":    t.CapPerPeriod,
	}
	names := make([]string, 0, len(nonNegative))
	for name := range nonNegative {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := nonNegative[name]; v != nil && v.IsNegative() {
			verr.mismatch(name, "non-negative number", v.String())
		}
	}
	if t.CurePeriodDays != nil && *t.CurePeriodDays < 0 {
		verr.mismatch("cure_period_days", "non-negative integer", fmt.Sprint(*t.CurePeriodDays))
	}
	if t.PaymentDueDays != nil && *t.PaymentDueDays < 0 {
		verr.mismatch("payment_due_days", "non-negative integer", fmt.Sprint(*t.PaymentDueDays))
	}

	if t.CalculationType == model.CalcScheduleLookup {
		checkSchedule(verr, t)
	}
	if t.CalculationType == model.CalcTiered {
		checkTiers(verr, t.Tiers)
	}
}

func checkSchedule(verr *ValidationError, t model.ConsequenceTerms) {
	if len(t.Schedule) == 0 {
		verr.mismatch("schedule", "at least one row", "empty list")
		return
	}
	for i, row := range t.Schedule {
		field := fmt.Sprintf("schedule[%d]", i)
		if (row.Amount == nil) == (row.RatePerPoint == nil) {
			verr.mismatch(field, "exactly one of amount, rate_per_point", "both or neither")
		}
		switch t.ScheduleKey {
		case model.ScheduleByContractYear:
			if row.YearFrom < 1 || (row.YearTo != 0 && row.YearTo < row.YearFrom) {
				verr.mismatch(field, "year_from >= 1 and year_to >= year_from", fmt.Sprintf("%d..%d", row.YearFrom, row.YearTo))
			}
		case model.ScheduleByParty:
			if row.Party == "" {
				verr.mismatch(field, "party", "empty")
			}
		}
	}
}

func checkTiers(verr *ValidationError, tiers []model.Tier) {
	if len(tiers) == 0 {
		verr.mismatch("tiers", "at least one tier", "empty list")
		return
	}
	for i, tier := range tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		if tier.From.IsNegative() || tier.Rate.IsNegative() {
			verr.mismatch(field, "non-negative from and rate", "negative")
		}
		if tier.To != nil && !tier.To.GreaterThan(tier.From) {
			verr.mismatch(field, "to > from", tier.To.String())
		}
		if tier.To == nil && i != len(tiers)-1 {
			verr.mismatch(field, "bounded tier before the last", "unbounded")
		}
		if i > 0 {
			prev := tiers[i-1]
			if prev.To == nil || tier.From.LessThan(*prev.To) {
				verr.mismatch(field, "ascending non-overlapping tiers", tier.From.String())
			}
		}
	}
}
