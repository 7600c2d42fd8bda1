// Package fixture builds validated clauses and edges for tests.
package fixture

import (
	"encoding/json"
	"fmt"

	"github.com/sells-group/contract-compliance/internal/model"
	"github.com/sells-group/contract-compliance/internal/validate"
)

// Raw returns a version-1 raw clause with the given payload.
func Raw(id, contractID string, cat model.Category, payload string) model.RawClause {
	return model.RawClause{
		ID:               id,
		ContractID:       contractID,
		Category:         cat,
		Payload:          json.RawMessage(payload),
		ResponsibleParty: "seller",
		BeneficiaryParty: "buyer",
		Version:          1,
	}
}

// Clause validates a raw clause and panics if it is rejected.
func Clause(id, contractID string, cat model.Category, payload string) validate.ValidatedClause {
	return validate.Must(Raw(id, contractID, cat, payload))
}

// AvailabilityPayload is a monthly ">=" percent availability obligation.
func AvailabilityPayload(threshold string) string {
	return fmt.Sprintf(`{"metric":"availability_percent","threshold":%s,"comparator":">=","evaluation_period":"monthly","metric_unit":"percent"}`, threshold)
}

// Availability returns a monthly availability obligation with a percent threshold.
func Availability(id, contractID, threshold string) validate.ValidatedClause {
	return Clause(id, contractID, model.CategoryAvailability, AvailabilityPayload(threshold))
}

// PerPointLDPayload is a per-point liquidated damages payload in USD. An
// empty capAnnual omits the cap.
func PerPointLDPayload(rate, capAnnual string) string {
	if capAnnual == "" {
		return fmt.Sprintf(`{"calculation_type":"per_point","rate_per_point":%s,"currency":"USD"}`, rate)
	}
	return fmt.Sprintf(`{"calculation_type":"per_point","rate_per_point":%s,"currency":"USD","cap_annual":%s}`, rate, capAnnual)
}

// PerPointLD returns a per-point liquidated damages clause.
func PerPointLD(id, contractID, rate, capAnnual string) validate.ValidatedClause {
	return Clause(id, contractID, model.CategoryLiquidatedDamages, PerPointLDPayload(rate, capAnnual))
}

// ForceMajeure returns a force majeure clause.
func ForceMajeure(id, contractID string) validate.ValidatedClause {
	return Clause(id, contractID, model.CategoryForceMajeure, `{"notification_days":5}`)
}

// Edge returns an explicit same-contract edge with full confidence.
func Edge(id, source, target string, kind model.EdgeKind) model.Edge {
	return model.Edge{ID: id, Source: source, Target: target, Kind: kind, Confidence: 1}
}
