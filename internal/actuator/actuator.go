// Package actuator owns the hardware actuation path: a single FIFO command
// queue with one consumer goroutine that is the only code allowed to touch
// the drivers, plus the per-actuator duty/power state it maintains.
package actuator

import "fmt"

// Index identifies one of the pod's actuators. The set is closed.
type Index int

const (
	AirPump Index = iota
	SourcePump
	DrainPump
	PlanterPump
	LedArray

	indexCount
)

// String returns the actuator name used in logs and telemetry.
func (i Index) String() string {
	switch i {
	case AirPump:
		return "air_pump"
	case SourcePump:
		return "source_pump"
	case DrainPump:
		return "drain_pump"
	case PlanterPump:
		return "planter_pump"
	case LedArray:
		return "led_array"
	default:
		return fmt.Sprintf("actuator(%d)", int(i))
	}
}

// Valid reports whether the index names a real actuator.
func (i Index) Valid() bool {
	return i >= 0 && i < indexCount
}

// Command requests a PWM duty change for one actuator. Commands are copied
// by value into the queue; the producer keeps no reference.
type Command struct {
	Index Index
	Duty  int // percent, clamped to [0,100] by the consumer
}

// State is the tracked condition of one actuator. It is written only by the
// queue's consumer goroutine.
type State struct {
	IsOn             bool
	DutyPercent      float64
	EstimatedPowerMW float64
}

// Driver converts a duty percentage into hardware PWM output. Implementations
// are expected to be synchronous and fast.
type Driver interface {
	Drive(idx Index, duty int) error
}

// maxPowerMW is the estimated draw of each actuator at 100% duty.
func maxPowerMW(idx Index) float64 {
	switch idx {
	case AirPump:
		return 1000.0
	case SourcePump:
		return 1500.0
	case DrainPump:
		return 2000.0
	case PlanterPump:
		return 1200.0
	case LedArray:
		return 5000.0
	default:
		return 1000.0
	}
}

// ClampDuty bounds a duty percentage to [0,100].
func ClampDuty(duty int) int {
	if duty < 0 {
		return 0
	}
	if duty > 100 {
		return 100
	}
	return duty
}
