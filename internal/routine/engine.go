package routine

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/actuator"
	"github.com/dokzlo13/podd/internal/hardware"
	"github.com/dokzlo13/podd/internal/ledger"
	"github.com/dokzlo13/podd/internal/storage"
)

// Fixed pump duties used by the routines.
const (
	drainDuty     = 90
	fillDuty      = 80
	calibrateDuty = 50
)

// Fallback targets (raw sensor distance, mm) used when the pod has no valid
// calibration.
const (
	defaultEmptyTargetMM = 800
	defaultFillTargetMM  = 150
	defaultHeadspaceMM   = 100
)

// Timing groups the loop parameters of the routines. Tests shrink these to
// millisecond scale; production uses the defaults.
type Timing struct {
	Poll          time.Duration // sensor poll interval for level routines
	ConfirmPoll   time.Duration // poll interval for the manual confirm signal
	SafetyTimeout time.Duration // hard stop for any pumping loop
	Debounce      int           // consecutive confirming samples required
}

// DefaultTiming returns the firmware's loop parameters.
func DefaultTiming() Timing {
	return Timing{
		Poll:          250 * time.Millisecond,
		ConfirmPoll:   500 * time.Millisecond,
		SafetyTimeout: 360 * time.Second,
		Debounce:      3,
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.Poll <= 0 {
		t.Poll = def.Poll
	}
	if t.ConfirmPoll <= 0 {
		t.ConfirmPoll = def.ConfirmPoll
	}
	if t.SafetyTimeout <= 0 {
		t.SafetyTimeout = def.SafetyTimeout
	}
	if t.Debounce <= 0 {
		t.Debounce = def.Debounce
	}
	return t
}

// Engine starts and supervises routines. One goroutine per running routine;
// all shared state lives behind the registry, the actuator queue, and the
// engine's calibration mutex.
type Engine struct {
	registry *Registry
	queue    *actuator.Queue
	level    hardware.LevelSensor
	power    hardware.PowerMonitor
	store    *storage.Store
	ledger   *ledger.Ledger
	confirm  *ConfirmSignal
	timing   Timing

	calMu sync.Mutex
	cal   storage.Calibration
}

// NewEngine wires a routine engine. The ledger may be nil.
func NewEngine(
	registry *Registry,
	queue *actuator.Queue,
	level hardware.LevelSensor,
	power hardware.PowerMonitor,
	store *storage.Store,
	l *ledger.Ledger,
	confirm *ConfirmSignal,
	timing Timing,
) *Engine {
	e := &Engine{
		registry: registry,
		queue:    queue,
		level:    level,
		power:    power,
		store:    store,
		ledger:   l,
		confirm:  confirm,
		timing:   timing.withDefaults(),
	}
	e.loadCalibration()
	return e
}

// loadCalibration pulls the persisted calibration; absence is not an error,
// routines fall back to fixed default targets.
func (e *Engine) loadCalibration() {
	cal, err := e.store.LoadCalibration()
	if err != nil {
		if err != storage.ErrNotFound {
			log.Warn().Err(err).Msg("Failed to load pod calibration, using defaults")
		} else {
			log.Info().Msg("No stored pod calibration, routines use default targets")
		}
		e.cal = storage.Calibration{HeadspaceMM: defaultHeadspaceMM}
		return
	}
	if cal.HeadspaceMM <= 0 {
		cal.HeadspaceMM = defaultHeadspaceMM
	}
	e.cal = cal
	log.Info().
		Int("raw_empty_mm", cal.RawEmptyMM).
		Int("raw_full_mm", cal.RawFullMM).
		Bool("calibrated", cal.Calibrated).
		Msg("Pod calibration loaded")
}

// Calibration returns the current calibration snapshot.
func (e *Engine) Calibration() storage.Calibration {
	e.calMu.Lock()
	defer e.calMu.Unlock()
	return e.cal
}

func (e *Engine) setCalibration(cal storage.Calibration) {
	e.calMu.Lock()
	e.cal = cal
	e.calMu.Unlock()
}

// ResetCalibration drops the in-memory calibration back to defaults. The
// caller is responsible for clearing the persisted copy.
func (e *Engine) ResetCalibration() {
	e.setCalibration(storage.Calibration{HeadspaceMM: defaultHeadspaceMM})
}

// targetDistance resolves a fill percentage into a raw sensor-distance
// threshold. The sensor reads distance to the water surface, so higher fill
// percentages map to smaller distances. Falls back to fallbackMM when the
// calibration is unusable.
func targetDistance(cal storage.Calibration, targetPercent int, fallbackMM int) int {
	if targetPercent < 0 {
		targetPercent = 0
	}
	if targetPercent > 100 {
		targetPercent = 100
	}
	if !cal.Valid() {
		return fallbackMM
	}
	return cal.RawEmptyMM - cal.RangeMM()*targetPercent/100
}

func (e *Engine) appendLedger(event ledger.EventType, payload map[string]any) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.AppendWithSource(event, "routine", payload); err != nil {
		log.Warn().Err(err).Str("event", string(event)).Msg("Failed to append ledger event")
	}
}
