// Package tables holds the declared lookup tables that drive evaluation:
// which event types each excusing category maps to, the excuse polarity of
// each obligation category, and the category-pair patterns that admit edges.
package tables

import (
	"fmt"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contract-compliance/internal/model"
)

// Pattern admits edges of Kind from Source to Target categories. Confidence
// is assigned to edges proposed by inference.
type Pattern struct {
	Kind       model.EdgeKind `yaml:"kind"`
	Source     model.Category `yaml:"source"`
	Target     model.Category `yaml:"target"`
	Confidence float64        `yaml:"confidence"`
}

// Tables is the full set of declared lookup tables.
type Tables struct {
	ExcuseEvents map[model.Category][]model.EventType `yaml:"excuse_events"`
	Polarity     map[model.Category]model.Polarity    `yaml:"polarity"`
	Patterns     []Pattern                            `yaml:"patterns"`

	index map[patternKey]Pattern
}

type patternKey struct {
	kind   model.EdgeKind
	source model.Category
	target model.Category
}

// Default returns the built-in tables.
func Default() *Tables {
	t := &Tables{
		ExcuseEvents: map[model.Category][]model.EventType{
			model.CategoryForceMajeure: {model.EventForceMajeure, model.EventGridOutage, model.EventWeather},
			model.CategoryMaintenance:  {model.EventScheduledMaintenance},
			model.CategoryGeneral:      {model.EventCurtailment},
		},
		Polarity: map[model.Category]model.Polarity{
			model.CategoryAvailability:         model.PolarityShortfall,
			model.CategoryPerformanceGuarantee: model.PolarityShortfall,
			model.CategoryMaintenance:          model.PolarityOverage,
			model.CategoryPaymentTerms:         model.PolarityNone,
			model.CategoryCompliance:           model.PolarityNone,
			model.CategorySecurityPackage:      model.PolarityNone,
		},
		Patterns: []Pattern{
			{Kind: model.Excuses, Source: model.CategoryForceMajeure, Target: model.CategoryAvailability, Confidence: 0.9},
			{Kind: model.Excuses, Source: model.CategoryForceMajeure, Target: model.CategoryPerformanceGuarantee, Confidence: 0.85},
			{Kind: model.Excuses, Source: model.CategoryForceMajeure, Target: model.CategoryMaintenance, Confidence: 0.6},
			{Kind: model.Excuses, Source: model.CategoryMaintenance, Target: model.CategoryAvailability, Confidence: 0.8},
			{Kind: model.Excuses, Source: model.CategoryGeneral, Target: model.CategoryAvailability, Confidence: 0.5},
			{Kind: model.Triggers, Source: model.CategoryAvailability, Target: model.CategoryLiquidatedDamages, Confidence: 0.85},
			{Kind: model.Triggers, Source: model.CategoryAvailability, Target: model.CategoryDefault, Confidence: 0.6},
			{Kind: model.Triggers, Source: model.CategoryAvailability, Target: model.CategoryTermination, Confidence: 0.6},
			{Kind: model.Triggers, Source: model.CategoryPerformanceGuarantee, Target: model.CategoryLiquidatedDamages, Confidence: 0.85},
			{Kind: model.Triggers, Source: model.CategoryPerformanceGuarantee, Target: model.CategoryDefault, Confidence: 0.6},
			{Kind: model.Triggers, Source: model.CategoryMaintenance, Target: model.CategoryLiquidatedDamages, Confidence: 0.6},
			{Kind: model.Triggers, Source: model.CategoryPaymentTerms, Target: model.CategoryDefault, Confidence: 0.7},
			{Kind: model.Triggers, Source: model.CategoryCompliance, Target: model.CategoryDefault, Confidence: 0.6},
			{Kind: model.Triggers, Source: model.CategorySecurityPackage, Target: model.CategoryDefault, Confidence: 0.7},
			{Kind: model.Triggers, Source: model.CategorySecurityPackage, Target: model.CategoryTermination, Confidence: 0.6},
			{Kind: model.Governs, Source: model.CategoryPaymentTerms, Target: model.CategoryLiquidatedDamages, Confidence: 0.7},
			{Kind: model.Inputs, Source: model.CategoryPricing, Target: model.CategoryLiquidatedDamages, Confidence: 0.6},
		},
	}
	t.reindex()
	return t
}

// Load reads tables from a YAML file and merges them onto the defaults.
// Category entries present in the file replace the default entry; a
// patterns list present in the file replaces the default list.
func Load(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tables: read %s", path)
	}

	var wrapper struct {
		Tables Tables `yaml:"tables"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "tables: parse")
	}

	t := Default()
	for c, types := range wrapper.Tables.ExcuseEvents {
		t.ExcuseEvents[c] = types
	}
	for c, p := range wrapper.Tables.Polarity {
		t.Polarity[c] = p
	}
	if wrapper.Tables.Patterns != nil {
		t.Patterns = wrapper.Tables.Patterns
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.reindex()
	return t, nil
}

// Validate checks every table entry against the closed enums.
func (t *Tables) Validate() error {
	for c, types := range t.ExcuseEvents {
		if !c.Valid() {
			return eris.Errorf("tables: excuse_events: unknown category %q", c)
		}
		for _, et := range types {
			if !et.Valid() {
				return eris.Errorf("tables: excuse_events[%s]: unknown event type %q", c, et)
			}
		}
	}
	for c, p := range t.Polarity {
		if !c.IsObligation() {
			return eris.Errorf("tables: polarity: %q is not an obligation category", c)
		}
		if !p.Valid() {
			return eris.Errorf("tables: polarity[%s]: unknown polarity %q", c, p)
		}
	}
	seen := make(map[patternKey]bool, len(t.Patterns))
	for i, p := range t.Patterns {
		if err := t.validatePattern(p); err != nil {
			return eris.Wrapf(err, "tables: patterns[%d]", i)
		}
		k := patternKey{p.Kind, p.Source, p.Target}
		if seen[k] {
			return eris.Errorf("tables: patterns[%d]: duplicate %s %s->%s", i, p.Kind, p.Source, p.Target)
		}
		seen[k] = true
	}
	return nil
}

func (t *Tables) validatePattern(p Pattern) error {
	if !p.Kind.Valid() {
		return fmt.Errorf("unknown edge kind %q", p.Kind)
	}
	if !p.Source.Valid() || !p.Target.Valid() {
		return fmt.Errorf("unknown category in %s->%s", p.Source, p.Target)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", p.Confidence)
	}
	switch p.Kind {
	case model.Triggers:
		if !p.Source.IsObligation() || !p.Target.IsConsequence() {
			return fmt.Errorf("TRIGGERS must run from an obligation to a consequence, got %s->%s", p.Source, p.Target)
		}
	case model.Excuses:
		if !p.Target.IsObligation() {
			return fmt.Errorf("EXCUSES must target an obligation, got %s", p.Target)
		}
		if len(t.ExcuseEvents[p.Source]) == 0 {
			return fmt.Errorf("EXCUSES source %s has no excuse event types", p.Source)
		}
	}
	return nil
}

func (t *Tables) reindex() {
	t.index = make(map[patternKey]Pattern, len(t.Patterns))
	for _, p := range t.Patterns {
		t.index[patternKey{p.Kind, p.Source, p.Target}] = p
	}
}

// Allows reports whether an edge of kind from source to target categories
// is admitted. TRIGGERS and EXCUSES need a declared pattern; GOVERNS and
// INPUTS are informational and admitted between any categories.
func (t *Tables) Allows(kind model.EdgeKind, source, target model.Category) bool {
	switch kind {
	case model.Triggers, model.Excuses:
		_, ok := t.index[patternKey{kind, source, target}]
		return ok
	case model.Governs, model.Inputs:
		return source.Valid() && target.Valid()
	}
	return false
}

// EventTypesFor returns the event types that clauses of category c excuse
// with, sorted for stable queries.
func (t *Tables) EventTypesFor(c model.Category) []model.EventType {
	types := append([]model.EventType(nil), t.ExcuseEvents[c]...)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// PolarityFor returns the declared polarity of an obligation category,
// PolarityNone when undeclared.
func (t *Tables) PolarityFor(c model.Category) model.Polarity {
	if p, ok := t.Polarity[c]; ok {
		return p
	}
	return model.PolarityNone
}
