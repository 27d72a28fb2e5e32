package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/actuator"
)

// Apply intervals. The planter runs faster because its within-hour on/off
// transition should land accurate to half a second.
const (
	DefaultLightAirInterval = time.Second
	DefaultPlanterInterval  = 500 * time.Millisecond
)

// dutyUnknown is the lastApplied sentinel before the first tick.
const dutyUnknown = -1

// lightAirDecision is the change-detection edge trigger for the light and
// air schedules: a command is sent only when the target duty differs from
// the last applied one, so a constant schedule never floods the queue.
func lightAirDecision(duty, lastApplied int) (out int, send bool) {
	duty = actuator.ClampDuty(duty)
	if duty == lastApplied {
		return duty, false
	}
	return duty, true
}

// planterDecision implements the planter pump's within-hour
// time-proportioning. 0 and 100 behave like the light/air fast path; any
// intermediate duty toggles the pump fully on for duty% of each hour and is
// re-evaluated every tick so the transition stays sharp.
func planterDecision(duty, lastDuty, secIntoHour int) (out int, send bool) {
	duty = actuator.ClampDuty(duty)

	switch duty {
	case 0:
		return 0, duty != lastDuty
	case 100:
		return 100, duty != lastDuty
	}

	onSeconds := duty * 3600 / 100
	if secIntoHour < onSeconds {
		return 100, true
	}
	return 0, true
}

// Applier is the per-schedule application task: each tick it reads the
// current hour's duty from the store and decides whether to enqueue an
// actuator command.
type Applier struct {
	t        Type
	store    *Store
	queue    *actuator.Queue
	interval time.Duration
	now      func() time.Time
}

// NewApplier creates the application task for one schedule type. A zero
// interval selects the default for the type.
func NewApplier(t Type, store *Store, queue *actuator.Queue, interval time.Duration) *Applier {
	if interval <= 0 {
		if t == Planter {
			interval = DefaultPlanterInterval
		} else {
			interval = DefaultLightAirInterval
		}
	}
	return &Applier{
		t:        t,
		store:    store,
		queue:    queue,
		interval: interval,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (a *Applier) Run(ctx context.Context) {
	log.Info().Str("schedule", a.t.String()).Dur("interval", a.interval).Msg("Schedule applier started")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	lastApplied := dutyUnknown
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("schedule", a.t.String()).Msg("Schedule applier stopping")
			return
		case <-ticker.C:
			lastApplied = a.tick(ctx, lastApplied)
		}
	}
}

// tick evaluates one interval and returns the new lastApplied value.
func (a *Applier) tick(ctx context.Context, lastApplied int) int {
	now := a.now()
	duty := a.store.At(a.t, now.Hour())

	var out int
	var send bool
	if a.t == Planter {
		sec := now.Minute()*60 + now.Second()
		out, send = planterDecision(duty, lastApplied, sec)
		duty = actuator.ClampDuty(duty)
	} else {
		out, send = lightAirDecision(duty, lastApplied)
		duty = out
	}

	if send {
		if err := a.queue.Enqueue(ctx, actuator.Command{Index: a.t.Actuator(), Duty: out}); err != nil {
			// Shutdown race; the next boot re-applies the schedule.
			return lastApplied
		}
	}
	// For the planter, lastApplied tracks the schedule duty (the 0/100 fast
	// path keys off it); for light/air it tracks the sent duty. Both equal
	// the clamped schedule value here.
	return duty
}
