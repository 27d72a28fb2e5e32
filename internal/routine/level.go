package routine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/actuator"
	"github.com/dokzlo13/podd/internal/ledger"
)

// levelRun parameterizes the shared drain/fill loop.
type levelRun struct {
	id       int
	gen      uint64
	name     string
	pump     actuator.Index
	duty     int
	targetMM int
	// reached reports whether a valid reading satisfies the stop condition.
	reached func(readingMM int) bool
}

// StartEmpty launches the drain routine towards the given fill percentage
// and returns its routine ID. The routine runs until the debounced level
// condition holds or the safety timeout fires.
func (e *Engine) StartEmpty(ctx context.Context, targetPercent int) (int, error) {
	cal := e.Calibration()
	target := targetDistance(cal, targetPercent, defaultEmptyTargetMM)

	id, gen, err := e.registry.Allocate("empty_pod")
	if err != nil {
		return 0, err
	}

	run := levelRun{
		id:   id,
		gen:  gen,
		name: "empty_pod",
		pump: actuator.DrainPump,
		duty: drainDuty,
		// Draining: the distance reading grows as water leaves.
		targetMM: target,
		reached:  func(mm int) bool { return mm >= target },
	}

	log.Info().
		Int("routine_id", id).
		Int("target_percent", targetPercent).
		Int("target_mm", target).
		Msg("Starting empty_pod routine")

	go e.runLevel(ctx, run)
	return id, nil
}

// StartFill launches the fill routine, the mirror of StartEmpty: the source
// pump runs until the distance reading shrinks to the target.
func (e *Engine) StartFill(ctx context.Context, targetPercent int) (int, error) {
	cal := e.Calibration()
	target := targetDistance(cal, targetPercent, defaultFillTargetMM)

	id, gen, err := e.registry.Allocate("fill_pod")
	if err != nil {
		return 0, err
	}

	run := levelRun{
		id:       id,
		gen:      gen,
		name:     "fill_pod",
		pump:     actuator.SourcePump,
		duty:     fillDuty,
		targetMM: target,
		reached:  func(mm int) bool { return mm <= target },
	}

	log.Info().
		Int("routine_id", id).
		Int("target_percent", targetPercent).
		Int("target_mm", target).
		Msg("Starting fill_pod routine")

	go e.runLevel(ctx, run)
	return id, nil
}

// runLevel is the body of both level routines: start the pump, poll the
// sensor, require Debounce consecutive confirming samples before stopping,
// and hard-stop at the safety timeout. Timeout is a normal exit, the routine
// still completes with whatever metrics were gathered.
func (e *Engine) runLevel(ctx context.Context, run levelRun) {
	if err := e.registry.Update(run.id, run.gen, func(r *Record) {
		r.Status = StatusRunning
	}); err != nil {
		log.Warn().Err(err).Int("routine_id", run.id).Msg("Routine lost its record before starting")
		return
	}
	e.appendLedger(ledger.EventRoutineStarted, map[string]any{
		"routine_id": run.id,
		"name":       run.name,
		"target_mm":  run.targetMM,
	})

	start := time.Now()
	lastValid := -1

	if mm := e.level.ReadLevelMM(); mm >= 0 {
		lastValid = mm
		e.registry.Update(run.id, run.gen, func(r *Record) {
			r.StartHeightMM = mm
			r.ObserveHeight(mm)
		})
	}

	if err := e.queue.Enqueue(ctx, actuator.Command{Index: run.pump, Duty: run.duty}); err != nil {
		e.finishLevel(run, start, lastValid, StatusFailed)
		return
	}

	ticker := time.NewTicker(e.timing.Poll)
	defer ticker.Stop()
	deadline := time.NewTimer(e.timing.SafetyTimeout)
	defer deadline.Stop()

	debounce := 0
	pollSeconds := e.timing.Poll.Seconds()
	status := StatusCompleted

loop:
	for {
		select {
		case <-ctx.Done():
			status = StatusFailed
			break loop

		case <-deadline.C:
			log.Warn().
				Int("routine_id", run.id).
				Str("name", run.name).
				Msg("Routine safety timeout reached, stopping pump")
			break loop

		case <-ticker.C:
			mm := e.level.ReadLevelMM()
			if mm < 0 {
				// Transient sensor fault: skip the tick, keep the debounce
				// counter as-is.
				continue
			}
			lastValid = mm
			energy := e.power.ReadPowerMW() * pollSeconds

			if err := e.registry.Update(run.id, run.gen, func(r *Record) {
				r.ObserveHeight(mm)
				r.TimeElapsedS = time.Since(start).Seconds()
				r.PowerUsedMWS += energy
			}); err != nil {
				// Record was re-armed by a newer start; the pump now belongs
				// to the new owner.
				log.Warn().Err(err).Int("routine_id", run.id).Msg("Routine self-aborting")
				return
			}

			if run.reached(mm) {
				debounce++
				if debounce >= e.timing.Debounce {
					break loop
				}
			} else {
				debounce = 0
			}
		}
	}

	// Stop the pump even when the caller's context is gone.
	off := actuator.Command{Index: run.pump, Duty: 0}
	if err := e.queue.Enqueue(context.Background(), off); err != nil {
		log.Error().Err(err).Str("actuator", run.pump.String()).Msg("Failed to enqueue pump-off")
	}

	e.finishLevel(run, start, lastValid, status)
}

func (e *Engine) finishLevel(run levelRun, start time.Time, lastValid int, status Status) {
	elapsed := time.Since(start).Seconds()

	err := e.registry.Update(run.id, run.gen, func(r *Record) {
		if lastValid >= 0 {
			r.EndHeightMM = lastValid
		}
		r.TimeElapsedS = elapsed
		r.Status = status
	})
	if err != nil {
		log.Warn().Err(err).Int("routine_id", run.id).Msg("Routine finished without its record")
		return
	}

	event := ledger.EventRoutineCompleted
	if status == StatusFailed {
		event = ledger.EventRoutineFailed
	}
	e.appendLedger(event, map[string]any{
		"routine_id":    run.id,
		"name":          run.name,
		"end_height_mm": lastValid,
		"elapsed_s":     elapsed,
	})

	log.Info().
		Int("routine_id", run.id).
		Str("name", run.name).
		Str("status", string(status)).
		Float64("elapsed_s", elapsed).
		Msg("Level routine finished")
}
