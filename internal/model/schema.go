package model

// FieldType is the declared wire type of a canonical payload field.
type FieldType string

const (
	TypeNumber   FieldType = "number"
	TypeInteger  FieldType = "integer"
	TypeText     FieldType = "text"
	TypeBoolean  FieldType = "boolean"
	TypeList     FieldType = "list"
	TypeObject   FieldType = "object"
	TypeDate     FieldType = "date"
	TypeCurrency FieldType = "currency"
)

// FieldRole documents which downstream component consumes a field.
type FieldRole string

const (
	RoleThreshold         FieldRole = "threshold"
	RoleFormulaInput      FieldRole = "formula_input"
	RoleFormulaDefinition FieldRole = "formula_definition"
	RoleSchedule          FieldRole = "schedule"
	RoleConfiguration     FieldRole = "configuration"
	RoleReference         FieldRole = "reference"
)

// Condition makes a field required only when another field holds one of Values.
type Condition struct {
	Field  string
	Values []string
}

// FieldSpec declares one canonical field of a category payload.
type FieldSpec struct {
	Name       string
	Type       FieldType
	Role       FieldRole
	Required   bool
	RequiredIf *Condition
	Enum       []string
}

// Schema is an indexed set of field specs for one category.
type Schema struct {
	Category Category
	Fields   []FieldSpec
	byName   map[string]*FieldSpec
}

func newSchema(c Category, groups ...[]FieldSpec) *Schema {
	s := &Schema{Category: c, byName: make(map[string]*FieldSpec)}
	for _, g := range groups {
		s.Fields = append(s.Fields, g...)
	}
	for i := range s.Fields {
		s.byName[s.Fields[i].Name] = &s.Fields[i]
	}
	return s
}

// Field returns the FieldSpec for name, or nil if the category declares no such field.
func (s *Schema) Field(name string) *FieldSpec {
	return s.byName[name]
}

var (
	comparatorValues  = []string{string(ComparatorGTE), string(ComparatorLTE), string(ComparatorEQ)}
	granularityValues = []string{string(Monthly), string(Quarterly), string(Annual)}
	unitValues        = []string{string(UnitPercent), string(UnitHours), string(UnitMWh), string(UnitDays), string(UnitCount), string(UnitAmount)}
	calcValues        = []string{
		string(CalcPerPoint), string(CalcPerDay), string(CalcScheduleLookup),
		string(CalcFormula), string(CalcTiered), string(CalcNone),
	}
	monetaryCalcValues = []string{
		string(CalcPerPoint), string(CalcPerDay), string(CalcScheduleLookup),
		string(CalcFormula), string(CalcTiered),
	}
	scheduleKeyValues = []string{string(ScheduleByContractYear), string(ScheduleByParty)}
)

func when(field string, values ...string) *Condition {
	return &Condition{Field: field, Values: values}
}

var obligationFields = []FieldSpec{
	{Name: "metric", Type: TypeText, Role: RoleConfiguration, Required: true},
	{Name: "threshold", Type: TypeNumber, Role: RoleThreshold, Required: true},
	{Name: "comparator", Type: TypeText, Role: RoleConfiguration, Required: true, Enum: comparatorValues},
	{Name: "evaluation_period", Type: TypeText, Role: RoleConfiguration, Required: true, Enum: granularityValues},
	{Name: "metric_unit", Type: TypeText, Role: RoleConfiguration, Required: true, Enum: unitValues},
	{Name: "deadline", Type: TypeDate, Role: RoleThreshold},
}

var consequenceFields = []FieldSpec{
	{Name: "calculation_type", Type: TypeText, Role: RoleConfiguration, Required: true, Enum: calcValues},
	{Name: "rate_per_point", Type: TypeNumber, Role: RoleFormulaInput, RequiredIf: when("calculation_type", string(CalcPerPoint))},
	{Name: "rate_per_day", Type: TypeNumber, Role: RoleFormulaInput, RequiredIf: when("calculation_type", string(CalcPerDay))},
	{Name: "energy_price", Type: TypeNumber, Role: RoleFormulaInput},
	{Name: "contract_capacity", Type: TypeNumber, Role: RoleFormulaInput},
	{Name: "schedule", Type: TypeList, Role: RoleSchedule, RequiredIf: when("calculation_type", string(CalcScheduleLookup))},
	{Name: "schedule_key", Type: TypeText, Role: RoleConfiguration, Enum: scheduleKeyValues, RequiredIf: when("calculation_type", string(CalcScheduleLookup))},
	{Name: "tiers", Type: TypeList, Role: RoleSchedule, RequiredIf: when("calculation_type", string(CalcTiered))},
	{Name: "formula", Type: TypeText, Role: RoleFormulaDefinition, RequiredIf: when("calculation_type", string(CalcFormula))},
	{Name: "currency", Type: TypeCurrency, Role: RoleConfiguration, RequiredIf: when("calculation_type", monetaryCalcValues...)},
	{Name: "cap_annual", Type: TypeNumber, Role: RoleThreshold},
	{Name: "cap_cumulative", Type: TypeNumber, Role: RoleThreshold},
	{Name: "cap_per_period", Type: TypeNumber, Role: RoleThreshold},
	{Name: "cure_period_days", Type: TypeInteger, Role: RoleConfiguration},
	{Name: "payment_due_days", Type: TypeInteger, Role: RoleConfiguration},
}

var schemas = map[Category]*Schema{
	CategoryAvailability: newSchema(CategoryAvailability, obligationFields, []FieldSpec{
		{Name: "measurement_basis", Type: TypeText, Role: RoleReference},
	}),
	CategoryPerformanceGuarantee: newSchema(CategoryPerformanceGuarantee, obligationFields, []FieldSpec{
		{Name: "degradation_rate", Type: TypeNumber, Role: RoleFormulaInput},
	}),
	CategoryPaymentTerms: newSchema(CategoryPaymentTerms, obligationFields, []FieldSpec{
		{Name: "payment_due_days", Type: TypeInteger, Role: RoleConfiguration, Required: true},
		{Name: "late_interest_rate", Type: TypeNumber, Role: RoleFormulaInput},
	}),
	CategoryMaintenance: newSchema(CategoryMaintenance, obligationFields, []FieldSpec{
		{Name: "notice_days", Type: TypeInteger, Role: RoleConfiguration},
	}),
	CategoryCompliance: newSchema(CategoryCompliance, obligationFields, []FieldSpec{
		{Name: "requirement", Type: TypeText, Role: RoleReference},
	}),
	CategorySecurityPackage: newSchema(CategorySecurityPackage, obligationFields, []FieldSpec{
		{Name: "instrument_type", Type: TypeText, Role: RoleReference},
		{Name: "currency", Type: TypeCurrency, Role: RoleConfiguration},
	}),
	CategoryLiquidatedDamages: newSchema(CategoryLiquidatedDamages, consequenceFields),
	CategoryDefault: newSchema(CategoryDefault, consequenceFields, []FieldSpec{
		{Name: "notice_required", Type: TypeBoolean, Role: RoleConfiguration},
	}),
	CategoryTermination: newSchema(CategoryTermination, consequenceFields, []FieldSpec{
		{Name: "notice_days", Type: TypeInteger, Role: RoleConfiguration},
	}),
	CategoryForceMajeure: newSchema(CategoryForceMajeure, []FieldSpec{
		{Name: "notification_days", Type: TypeInteger, Role: RoleConfiguration},
		{Name: "description", Type: TypeText, Role: RoleReference},
	}),
	CategoryConditionsPrecedent: newSchema(CategoryConditionsPrecedent, []FieldSpec{
		{Name: "due_date", Type: TypeDate, Role: RoleThreshold, Required: true},
		{Name: "description", Type: TypeText, Role: RoleReference},
	}),
	CategoryPricing: newSchema(CategoryPricing, []FieldSpec{
		{Name: "base_rate", Type: TypeNumber, Role: RoleFormulaInput, Required: true},
		{Name: "currency", Type: TypeCurrency, Role: RoleConfiguration, Required: true},
		{Name: "escalation_rate", Type: TypeNumber, Role: RoleFormulaInput},
	}),
	CategoryGeneral: newSchema(CategoryGeneral, []FieldSpec{
		{Name: "notes", Type: TypeText, Role: RoleReference},
	}),
}

// SchemaFor returns the field schema for c, or nil for an undeclared category.
func SchemaFor(c Category) *Schema {
	return schemas[c]
}

// FieldSpecs returns the declared fields of c in declaration order.
func FieldSpecs(c Category) []FieldSpec {
	s := schemas[c]
	if s == nil {
		return nil
	}
	out := make([]FieldSpec, len(s.Fields))
	copy(out, s.Fields)
	return out
}
