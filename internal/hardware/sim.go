package hardware

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/actuator"
)

// SimConfig shapes the simulated vessel.
type SimConfig struct {
	EmptyMM     int     // distance reading with the vessel empty
	FullMM      int     // distance reading with the vessel full
	DrainRate   float64 // mm of level change per second at 100% drain duty
	FillRate    float64 // mm of level change per second at 100% source duty
	NoiseMM     float64 // uniform sensor noise amplitude
	SupplyMV    float64
	FaultChance float64 // probability a read returns -1, [0,1)
}

// DefaultSimConfig returns a rig roughly matching the bench vessel.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		EmptyMM:   800,
		FullMM:    100,
		DrainRate: 6.0,
		FillRate:  5.0,
		NoiseMM:   1.5,
		SupplyMV:  12000,
	}
}

// SimRig is an in-process stand-in for the pump drivers, distance sensor and
// power monitor. Pump duties move a modeled water level over time, so control
// loops behave much like they do against the real vessel.
type SimRig struct {
	cfg SimConfig

	mu         sync.Mutex
	distanceMM float64
	duties     map[actuator.Index]int
	lastStep   time.Time
	rng        *rand.Rand
}

// NewSimRig creates a simulated rig starting at the given distance reading.
func NewSimRig(cfg SimConfig, startMM int) *SimRig {
	return &SimRig{
		cfg:        cfg,
		distanceMM: float64(startMM),
		duties:     make(map[actuator.Index]int),
		lastStep:   time.Now(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Drive implements actuator.Driver.
func (r *SimRig) Drive(idx actuator.Index, duty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step(time.Now())
	r.duties[idx] = duty
	log.Debug().Str("actuator", idx.String()).Int("duty", duty).Msg("Sim rig drive")
	return nil
}

// ReadLevelMM implements LevelSensor.
func (r *SimRig) ReadLevelMM() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step(time.Now())

	if r.cfg.FaultChance > 0 && r.rng.Float64() < r.cfg.FaultChance {
		return -1
	}

	noise := 0.0
	if r.cfg.NoiseMM > 0 {
		noise = (r.rng.Float64()*2 - 1) * r.cfg.NoiseMM
	}
	return int(r.distanceMM + noise)
}

// ReadPowerMW implements PowerMonitor: sum of nominal pump draws scaled by duty.
func (r *SimRig) ReadPowerMW() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	power := 0.0
	for idx, duty := range r.duties {
		switch idx {
		case actuator.AirPump:
			power += 1000.0 * float64(duty) / 100.0
		case actuator.SourcePump:
			power += 1500.0 * float64(duty) / 100.0
		case actuator.DrainPump:
			power += 2000.0 * float64(duty) / 100.0
		case actuator.PlanterPump:
			power += 1200.0 * float64(duty) / 100.0
		case actuator.LedArray:
			power += 5000.0 * float64(duty) / 100.0
		}
	}
	return power
}

// ReadVoltageMV implements PowerMonitor.
func (r *SimRig) ReadVoltageMV() float64 { return r.cfg.SupplyMV }

// ReadCurrentMA implements PowerMonitor.
func (r *SimRig) ReadCurrentMA() float64 {
	if r.cfg.SupplyMV <= 0 {
		return 0
	}
	return r.ReadPowerMW() / (r.cfg.SupplyMV / 1000.0)
}

// step advances the water level model. Caller holds r.mu.
func (r *SimRig) step(now time.Time) {
	dt := now.Sub(r.lastStep).Seconds()
	r.lastStep = now
	if dt <= 0 {
		return
	}

	// Draining raises the distance reading, filling lowers it.
	r.distanceMM += r.cfg.DrainRate * float64(r.duties[actuator.DrainPump]) / 100.0 * dt
	r.distanceMM -= r.cfg.FillRate * float64(r.duties[actuator.SourcePump]) / 100.0 * dt

	if r.distanceMM > float64(r.cfg.EmptyMM) {
		r.distanceMM = float64(r.cfg.EmptyMM)
	}
	if r.distanceMM < float64(r.cfg.FullMM) {
		r.distanceMM = float64(r.cfg.FullMM)
	}
}
