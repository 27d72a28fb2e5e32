package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/ledger"
	"github.com/dokzlo13/podd/internal/routine"
)

// ErrQueueFull is returned when the bounded update queue cannot accept
// another schedule push.
var ErrQueueFull = errors.New("schedule: update queue full")

const (
	updateQueueCapacity = 10
	idleLogInterval     = 10 * time.Second
)

type update struct {
	t     Type
	table Table
}

// Manager serializes schedule updates: front ends submit new tables into a
// bounded queue and a single task applies them to the store, re-arms the
// fixed-ID registry record, and persists. With no traffic it periodically
// re-logs the current tables as a diagnostic.
type Manager struct {
	store    *Store
	registry *routine.Registry
	ledger   *ledger.Ledger

	updates chan update
}

// NewManager creates a schedule manager. The ledger may be nil.
func NewManager(store *Store, registry *routine.Registry, l *ledger.Ledger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		ledger:   l,
		updates:  make(chan update, updateQueueCapacity),
	}
}

// Submit queues a schedule update. Returns ErrQueueFull when the manager is
// backed up; no state is mutated in that case.
func (m *Manager) Submit(t Type, table Table) error {
	if !t.Valid() {
		return errors.New("schedule: unknown schedule type")
	}
	select {
	case m.updates <- update{t: t, table: table}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run applies queued updates until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	log.Info().Msg("Schedule manager started")
	idle := time.NewTimer(idleLogInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Schedule manager stopping")
			return

		case u := <-m.updates:
			m.apply(u)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleLogInterval)

		case <-idle.C:
			m.logTables()
			idle.Reset(idleLogInterval)
		}
	}
}

// apply installs one update. The fixed-ID registry record tracks the push:
// re-armed to pending, then completed or failed around persistence.
func (m *Manager) apply(u update) {
	gen, err := m.registry.FindOrCreate(u.t.RecordID(), u.t.RoutineName())
	if err != nil {
		log.Error().Err(err).Str("schedule", u.t.String()).Msg("No registry slot for schedule routine")
		// Still apply the update; the record is tracking only.
	} else {
		m.registry.Update(u.t.RecordID(), gen, func(r *routine.Record) {
			r.Status = routine.StatusRunning
		})
	}

	setErr := m.store.Set(u.t, u.table)

	if err == nil {
		status := routine.StatusCompleted
		if setErr != nil {
			status = routine.StatusFailed
		}
		m.registry.Update(u.t.RecordID(), gen, func(r *routine.Record) {
			r.Status = status
		})
	}

	if m.ledger != nil {
		payload := map[string]any{"schedule": u.t.String(), "ok": setErr == nil}
		if err := m.ledger.AppendWithSource(ledger.EventScheduleUpdated, "schedule-manager", payload); err != nil {
			log.Warn().Err(err).Msg("Failed to append ledger event")
		}
	}

	if setErr == nil {
		log.Info().Str("schedule", u.t.String()).Msg("Schedule updated")
	}
}

func (m *Manager) logTables() {
	for t := Type(0); t < typeCount; t++ {
		table := m.store.Get(t)
		log.Debug().
			Str("schedule", t.String()).
			Ints("hours", table[:]).
			Msg("Current schedule")
	}
}
