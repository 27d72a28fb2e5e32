package routine

import (
	"context"
	"testing"
	"time"

	"github.com/dokzlo13/podd/internal/actuator"
)

// waitFor polls until cond holds.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	stop := time.Now().Add(2 * time.Second)
	for time.Now().Before(stop) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCalibrateConfirmedFullLevelWins(t *testing.T) {
	// Phase 1: the confirm triggers the raw-empty read (790). Phase 2: the
	// fill loop runs until a reading crosses the default 100 mm headspace,
	// then the operator-supplied level (105) overrides the sensor.
	sensor := &scriptSensor{}
	sensor.set(790, 200, 150, 95)

	engine, registry, driver := newTestEngine(t, sensor, testTiming, nil)

	id, err := engine.StartCalibrate(context.Background())
	if err != nil {
		t.Fatalf("StartCalibrate: %v", err)
	}

	// Drain phase is on; confirm the empty level without a measurement.
	waitFor(t, func() bool { return driver.lastDuty(actuator.DrainPump) == calibrateDuty }, "drain pump on")
	engine.confirm.Confirm(-1)

	// Fill phase stops itself at the headspace threshold.
	waitFor(t, func() bool { return driver.lastDuty(actuator.DrainPump) == 0 }, "drain pump off")
	waitFor(t, func() bool { return driver.lastDuty(actuator.SourcePump) == 0 && sensor.drained() }, "fill phase done")
	engine.confirm.Confirm(105)

	rec := waitTerminal(t, registry, id, 2*time.Second)
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
	if rec.StartHeightMM != 790 {
		t.Errorf("start height = %d, want 790", rec.StartHeightMM)
	}
	if rec.EndHeightMM != 105 {
		t.Errorf("end height = %d, want 105", rec.EndHeightMM)
	}

	cal, err := engine.store.LoadCalibration()
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if cal.RawEmptyMM != 790 || cal.RawFullMM != 105 || !cal.Calibrated {
		t.Errorf("persisted calibration = %+v, want raw_empty=790 raw_full=105 calibrated", cal)
	}
	if cal.HeadspaceMM != defaultHeadspaceMM {
		t.Errorf("headspace = %d, want %d", cal.HeadspaceMM, defaultHeadspaceMM)
	}

	// The engine cache must match what was persisted.
	if got := engine.Calibration(); got != cal {
		t.Errorf("cached calibration = %+v, want %+v", got, cal)
	}
}

func TestCalibrateFullLevelFallsBackToSensor(t *testing.T) {
	// A confirm without a measurement makes the routine read the sensor for
	// the raw-full value.
	sensor := &scriptSensor{}
	sensor.set(800, 95)

	engine, registry, driver := newTestEngine(t, sensor, testTiming, nil)

	id, err := engine.StartCalibrate(context.Background())
	if err != nil {
		t.Fatalf("StartCalibrate: %v", err)
	}

	waitFor(t, func() bool { return driver.lastDuty(actuator.DrainPump) == calibrateDuty }, "drain pump on")
	engine.confirm.Confirm(-1)
	waitFor(t, func() bool { return driver.lastDuty(actuator.SourcePump) == 0 && driver.lastDuty(actuator.DrainPump) == 0 && sensor.drained() }, "fill phase done")
	engine.confirm.Confirm(-1)

	rec := waitTerminal(t, registry, id, 2*time.Second)
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}

	cal, err := engine.store.LoadCalibration()
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if cal.RawEmptyMM != 800 || cal.RawFullMM != 95 {
		t.Errorf("calibration = %+v, want raw_empty=800 raw_full=95", cal)
	}
}

func TestCalibrateCancelledWhileWaitingForConfirm(t *testing.T) {
	sensor := &scriptSensor{}
	sensor.set(800)

	engine, registry, driver := newTestEngine(t, sensor, testTiming, nil)

	ctx, cancel := context.WithCancel(context.Background())
	id, err := engine.StartCalibrate(ctx)
	if err != nil {
		t.Fatalf("StartCalibrate: %v", err)
	}

	waitFor(t, func() bool { return driver.lastDuty(actuator.DrainPump) == calibrateDuty }, "drain pump on")
	cancel()

	rec := waitTerminal(t, registry, id, 2*time.Second)
	if rec.Status != StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	waitFor(t, func() bool { return driver.lastDuty(actuator.DrainPump) == 0 }, "drain pump off after cancel")
}
