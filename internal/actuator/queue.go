package actuator

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultQueueCapacity matches the firmware's command queue depth.
const DefaultQueueCapacity = 10

// Queue serializes all actuator commands through one consumer goroutine.
// Any goroutine may enqueue; only the consumer drives hardware and updates
// the state array, so state writes never race.
type Queue struct {
	driver   Driver
	commands chan Command

	mu     sync.Mutex
	states [indexCount]State
}

// NewQueue creates a command queue with the default capacity.
func NewQueue(driver Driver) *Queue {
	return NewQueueWithCapacity(driver, DefaultQueueCapacity)
}

// NewQueueWithCapacity creates a command queue with a custom capacity.
func NewQueueWithCapacity(driver Driver, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		driver:   driver,
		commands: make(chan Command, capacity),
	}
}

// Enqueue submits a command for serialized execution. It blocks while the
// queue is full: producers stall rather than drop commands. Returns early
// only if ctx is cancelled.
func (q *Queue) Enqueue(ctx context.Context, cmd Command) error {
	select {
	case q.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes commands until ctx is cancelled. Commands are applied in
// global FIFO order across all producers.
func (q *Queue) Run(ctx context.Context) {
	log.Info().Msg("Actuator queue started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Actuator queue stopping")
			return
		case cmd := <-q.commands:
			q.apply(cmd)
		}
	}
}

// apply clamps, drives hardware, and updates tracked state. A malformed
// index is logged and dropped; schedule loops re-issue on the next tick if
// state is still wrong.
func (q *Queue) apply(cmd Command) {
	if !cmd.Index.Valid() {
		log.Warn().Int("index", int(cmd.Index)).Msg("Dropping command for unknown actuator")
		return
	}

	duty := ClampDuty(cmd.Duty)

	if err := q.driver.Drive(cmd.Index, duty); err != nil {
		log.Error().Err(err).
			Str("actuator", cmd.Index.String()).
			Int("duty", duty).
			Msg("Driver call failed")
		// Tracked state still follows the command: the next re-issue will
		// retry the hardware.
	}

	q.mu.Lock()
	q.states[cmd.Index] = State{
		IsOn:             duty > 0,
		DutyPercent:      float64(duty),
		EstimatedPowerMW: maxPowerMW(cmd.Index) * float64(duty) / 100.0,
	}
	q.mu.Unlock()

	log.Debug().
		Str("actuator", cmd.Index.String()).
		Int("duty", duty).
		Msg("Actuator duty applied")
}

// State returns the tracked state of a single actuator.
func (q *Queue) State(idx Index) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !idx.Valid() {
		return State{}
	}
	return q.states[idx]
}

// Snapshot returns a copy of all actuator states. Staleness is tolerable
// for telemetry; the consumer goroutine is the sole writer.
func (q *Queue) Snapshot() map[string]State {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := make(map[string]State, int(indexCount))
	for i := Index(0); i < indexCount; i++ {
		snap[i.String()] = q.states[i]
	}
	return snap
}
