// Package schedule holds the pod's three 24-hour duty tables (light,
// planter, air), applies them to the actuators, and persists every update.
package schedule

import (
	"fmt"

	"github.com/dokzlo13/podd/internal/actuator"
)

// Type identifies one of the three schedules.
type Type int

const (
	Light Type = iota
	Planter
	Air

	typeCount
)

// Fixed registry record IDs, one per schedule type, so repeated schedule
// pushes update a single routine record instead of exhausting the table.
const (
	lightRecordID   = 1001
	planterRecordID = 1002
	airRecordID     = 1003
)

// String returns the schedule name used in logs, persistence keys and
// telemetry.
func (t Type) String() string {
	switch t {
	case Light:
		return "light"
	case Planter:
		return "planter"
	case Air:
		return "air"
	default:
		return fmt.Sprintf("schedule(%d)", int(t))
	}
}

// Valid reports whether the value names a real schedule type.
func (t Type) Valid() bool {
	return t >= 0 && t < typeCount
}

// RecordID returns the fixed routine-registry ID for this schedule.
func (t Type) RecordID() int {
	switch t {
	case Light:
		return lightRecordID
	case Planter:
		return planterRecordID
	default:
		return airRecordID
	}
}

// RoutineName returns the registry record name for this schedule.
func (t Type) RoutineName() string {
	return t.String() + "_schedule"
}

// Actuator returns the actuator this schedule drives.
func (t Type) Actuator() actuator.Index {
	switch t {
	case Light:
		return actuator.LedArray
	case Planter:
		return actuator.PlanterPump
	default:
		return actuator.AirPump
	}
}

// Table is a 24-entry duty table, index = hour of day.
type Table [24]int

// Clamp bounds every entry to [0,100]. Out-of-range values are silently
// clamped, never rejected.
func (tb Table) Clamp() Table {
	for i, v := range tb {
		tb[i] = actuator.ClampDuty(v)
	}
	return tb
}
