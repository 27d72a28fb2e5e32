// Package pod exposes the control core's external surface: everything a
// front end (REST, UART console) is allowed to call lives on Controller.
package pod

import (
	"context"
	"fmt"

	"github.com/dokzlo13/podd/internal/actuator"
	"github.com/dokzlo13/podd/internal/routine"
	"github.com/dokzlo13/podd/internal/schedule"
	"github.com/dokzlo13/podd/internal/storage"
)

// RoutineKind selects one of the startable routines.
type RoutineKind string

const (
	RoutineEmptyPod     RoutineKind = "empty_pod"
	RoutineFillPod      RoutineKind = "fill_pod"
	RoutineCalibratePod RoutineKind = "calibrate_pod"
)

// Controller bundles the core subsystems behind the operations of the
// external interface. It holds no state of its own.
type Controller struct {
	queue     *actuator.Queue
	registry  *routine.Registry
	engine    *routine.Engine
	schedules *schedule.Store
	manager   *schedule.Manager
	confirm   *routine.ConfirmSignal
}

// NewController wires the facade.
func NewController(
	queue *actuator.Queue,
	registry *routine.Registry,
	engine *routine.Engine,
	schedules *schedule.Store,
	manager *schedule.Manager,
	confirm *routine.ConfirmSignal,
) *Controller {
	return &Controller{
		queue:     queue,
		registry:  registry,
		engine:    engine,
		schedules: schedules,
		manager:   manager,
		confirm:   confirm,
	}
}

// StartRoutine launches a routine and returns its registry ID. The target
// percentage is ignored for calibration.
func (c *Controller) StartRoutine(ctx context.Context, kind RoutineKind, targetPercent int) (int, error) {
	switch kind {
	case RoutineEmptyPod:
		return c.engine.StartEmpty(ctx, targetPercent)
	case RoutineFillPod:
		return c.engine.StartFill(ctx, targetPercent)
	case RoutineCalibratePod:
		return c.engine.StartCalibrate(ctx)
	default:
		return 0, fmt.Errorf("pod: unknown routine kind %q", kind)
	}
}

// RoutineStatus returns a snapshot of a routine's record.
func (c *Controller) RoutineStatus(id int) (routine.Record, bool) {
	return c.registry.Find(id)
}

// Routines returns snapshots of all known routine records.
func (c *Controller) Routines() []routine.Record {
	return c.registry.Snapshot()
}

// UpdateSchedule queues a new 24-hour duty table for installation.
func (c *Controller) UpdateSchedule(t schedule.Type, table schedule.Table) error {
	return c.manager.Submit(t, table)
}

// GetSchedule returns the current duty table for display.
func (c *Controller) GetSchedule(t schedule.Type) schedule.Table {
	return c.schedules.Get(t)
}

// EnqueueActuatorCommand is the manual-control pass-through into the
// serialized actuation path.
func (c *Controller) EnqueueActuatorCommand(ctx context.Context, idx actuator.Index, duty int) error {
	if !idx.Valid() {
		return fmt.Errorf("pod: unknown actuator index %d", int(idx))
	}
	return c.queue.Enqueue(ctx, actuator.Command{Index: idx, Duty: duty})
}

// ConfirmLevel latches the operator-confirmed water level for a waiting
// calibration routine.
func (c *Controller) ConfirmLevel(mm int) {
	c.confirm.Confirm(mm)
}

// ActuatorSnapshot returns the tracked state of every actuator.
func (c *Controller) ActuatorSnapshot() map[string]actuator.State {
	return c.queue.Snapshot()
}

// Calibration returns the current tank calibration.
func (c *Controller) Calibration() storage.Calibration {
	return c.engine.Calibration()
}
