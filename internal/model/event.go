package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the closed set of operational event types.
type EventType string

const (
	EventEquipmentFailure       EventType = "equipment_failure"
	EventForceMajeure           EventType = "force_majeure"
	EventGridOutage             EventType = "grid_outage"
	EventScheduledMaintenance   EventType = "scheduled_maintenance"
	EventUnscheduledMaintenance EventType = "unscheduled_maintenance"
	EventCurtailment            EventType = "curtailment"
	EventWeather                EventType = "weather"
)

// EventTypes lists every declared event type.
var EventTypes = []EventType{
	EventEquipmentFailure,
	EventForceMajeure,
	EventGridOutage,
	EventScheduledMaintenance,
	EventUnscheduledMaintenance,
	EventCurtailment,
	EventWeather,
}

// Valid reports whether t is a declared event type.
func (t EventType) Valid() bool {
	for _, k := range EventTypes {
		if k == t {
			return true
		}
	}
	return false
}

// EventStatus is the verification lifecycle of an event:
// reported -> acknowledged -> verified|disputed|rejected -> resolved.
type EventStatus string

const (
	StatusReported     EventStatus = "reported"
	StatusAcknowledged EventStatus = "acknowledged"
	StatusVerified     EventStatus = "verified"
	StatusDisputed     EventStatus = "disputed"
	StatusRejected     EventStatus = "rejected"
	StatusResolved     EventStatus = "resolved"
)

// Impact is the computed effect of an event.
type Impact struct {
	DowntimeHours decimal.Decimal `json:"downtime_hours"`
	EnergyLostMWh decimal.Decimal `json:"energy_lost_mwh"`
}

// Event is a logged operational occurrence. An empty ContractID means the
// event is not linked to a contract and applies to every contract queried.
type Event struct {
	ID             string      `json:"id"`
	ContractID     string      `json:"contract_id,omitempty"`
	Type           EventType   `json:"type"`
	Status         EventStatus `json:"status"`
	StartedAt      time.Time   `json:"started_at"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	FixedAt        *time.Time  `json:"fixed_at,omitempty"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
	Impact         Impact      `json:"impact"`
}

// Verified reports whether the event may be used as excuse evidence.
func (e Event) Verified() bool {
	return e.Status == StatusVerified
}

// WindowEnd is the end of the event's time window: EndedAt, else FixedAt,
// else StartedAt for an instantaneous event.
func (e Event) WindowEnd() time.Time {
	if e.EndedAt != nil {
		return *e.EndedAt
	}
	if e.FixedAt != nil {
		return *e.FixedAt
	}
	return e.StartedAt
}
