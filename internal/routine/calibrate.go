package routine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/actuator"
	"github.com/dokzlo13/podd/internal/ledger"
	"github.com/dokzlo13/podd/internal/storage"
)

// StartCalibrate launches the interactive two-phase calibration routine and
// returns its routine ID. Phase 1 drains until the operator confirms the
// empty level; phase 2 fills until the headspace threshold (or timeout) and
// then waits for the operator to confirm the full level. The confirm waits
// have no timeout.
func (e *Engine) StartCalibrate(ctx context.Context) (int, error) {
	id, gen, err := e.registry.Allocate("calibrate_pod")
	if err != nil {
		return 0, err
	}

	log.Info().Int("routine_id", id).Msg("Starting calibrate_pod routine")
	go e.runCalibrate(ctx, id, gen)
	return id, nil
}

func (e *Engine) runCalibrate(ctx context.Context, id int, gen uint64) {
	if err := e.registry.Update(id, gen, func(r *Record) {
		r.Status = StatusRunning
	}); err != nil {
		log.Warn().Err(err).Int("routine_id", id).Msg("Calibration lost its record before starting")
		return
	}
	e.appendLedger(ledger.EventRoutineStarted, map[string]any{
		"routine_id": id,
		"name":       "calibrate_pod",
	})

	start := time.Now()
	headspace := e.Calibration().HeadspaceMM
	if headspace <= 0 {
		headspace = defaultHeadspaceMM
	}

	fail := func(reason string, err error) {
		e.stopPump(actuator.DrainPump)
		e.stopPump(actuator.SourcePump)
		e.registry.Update(id, gen, func(r *Record) {
			r.TimeElapsedS = time.Since(start).Seconds()
			r.Status = StatusFailed
		})
		e.appendLedger(ledger.EventRoutineFailed, map[string]any{
			"routine_id": id,
			"name":       "calibrate_pod",
			"reason":     reason,
		})
		log.Error().Err(err).Int("routine_id", id).Str("reason", reason).Msg("Calibration failed")
	}

	// Phase 1: drain until the operator confirms the pod is empty.
	if err := e.queue.Enqueue(ctx, actuator.Command{Index: actuator.DrainPump, Duty: calibrateDuty}); err != nil {
		fail("enqueue_drain", err)
		return
	}
	if _, ok := e.waitConfirm(ctx, id, gen, start); !ok {
		fail("cancelled_waiting_empty_confirm", ctx.Err())
		return
	}

	rawEmpty := e.level.ReadLevelMM()
	e.stopPump(actuator.DrainPump)
	if rawEmpty >= 0 {
		e.registry.Update(id, gen, func(r *Record) {
			r.StartHeightMM = rawEmpty
			r.ObserveHeight(rawEmpty)
		})
	}
	log.Info().Int("routine_id", id).Int("raw_empty_mm", rawEmpty).Msg("Empty level confirmed")

	// Phase 2: fill until the sensor crosses the headspace threshold, with
	// the usual safety timeout; then wait for the full-level confirmation.
	if err := e.queue.Enqueue(ctx, actuator.Command{Index: actuator.SourcePump, Duty: calibrateDuty}); err != nil {
		fail("enqueue_fill", err)
		return
	}

	ticker := time.NewTicker(e.timing.Poll)
	deadline := time.NewTimer(e.timing.SafetyTimeout)
	pollSeconds := e.timing.Poll.Seconds()

fillLoop:
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			deadline.Stop()
			fail("cancelled_during_fill", ctx.Err())
			return
		case <-deadline.C:
			log.Warn().Int("routine_id", id).Msg("Calibration fill phase timed out, stopping pump")
			break fillLoop
		case <-ticker.C:
			mm := e.level.ReadLevelMM()
			if mm < 0 {
				continue
			}
			energy := e.power.ReadPowerMW() * pollSeconds
			e.registry.Update(id, gen, func(r *Record) {
				r.ObserveHeight(mm)
				r.TimeElapsedS = time.Since(start).Seconds()
				r.PowerUsedMWS += energy
			})
			if mm <= headspace {
				break fillLoop
			}
		}
	}
	ticker.Stop()
	deadline.Stop()
	e.stopPump(actuator.SourcePump)

	confirmed, ok := e.waitConfirm(ctx, id, gen, start)
	if !ok {
		fail("cancelled_waiting_full_confirm", ctx.Err())
		return
	}
	// The operator-reported level wins; fall back to a fresh sensor read
	// when none was supplied.
	rawFull := confirmed
	if rawFull < 0 {
		rawFull = e.level.ReadLevelMM()
	}
	log.Info().Int("routine_id", id).Int("raw_full_mm", rawFull).Msg("Full level confirmed")

	cal := storage.Calibration{
		RawEmptyMM:  rawEmpty,
		RawFullMM:   rawFull,
		HeadspaceMM: headspace,
		Calibrated:  true,
	}
	if err := e.store.SaveCalibration(cal); err != nil {
		// Pumps are already stopped; nothing to roll back.
		fail("persist_calibration", err)
		return
	}
	e.setCalibration(cal)

	elapsed := time.Since(start).Seconds()
	e.registry.Update(id, gen, func(r *Record) {
		if rawFull >= 0 {
			r.EndHeightMM = rawFull
			r.ObserveHeight(rawFull)
		}
		r.TimeElapsedS = elapsed
		r.Status = StatusCompleted
	})
	e.appendLedger(ledger.EventCalibrationSaved, map[string]any{
		"routine_id":   id,
		"raw_empty_mm": rawEmpty,
		"raw_full_mm":  rawFull,
	})
	e.appendLedger(ledger.EventRoutineCompleted, map[string]any{
		"routine_id": id,
		"name":       "calibrate_pod",
		"elapsed_s":  elapsed,
	})

	log.Info().
		Int("routine_id", id).
		Int("raw_empty_mm", rawEmpty).
		Int("raw_full_mm", rawFull).
		Msg("Calibration completed and persisted")
}

// waitConfirm polls the manual confirmation signal. There is no timeout:
// the only way out besides confirmation is context cancellation.
func (e *Engine) waitConfirm(ctx context.Context, id int, gen uint64, start time.Time) (int, bool) {
	ticker := time.NewTicker(e.timing.ConfirmPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, false
		case <-ticker.C:
			if mm, ok := e.confirm.take(); ok {
				return mm, true
			}
			e.registry.Update(id, gen, func(r *Record) {
				r.TimeElapsedS = time.Since(start).Seconds()
			})
		}
	}
}

func (e *Engine) stopPump(idx actuator.Index) {
	if err := e.queue.Enqueue(context.Background(), actuator.Command{Index: idx, Duty: 0}); err != nil {
		log.Error().Err(err).Str("actuator", idx.String()).Msg("Failed to enqueue pump-off")
	}
}
