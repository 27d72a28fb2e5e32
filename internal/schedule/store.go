package schedule

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/storage"
)

// Store holds the live duty tables. Each schedule has its own mutex so the
// three application tasks never contend with each other; reads are O(1).
// The in-memory table is authoritative; persistence happens outside the
// lock so a slow disk never blocks readers.
type Store struct {
	persist *storage.Store

	mu     [typeCount]sync.Mutex
	tables [typeCount]Table
}

// NewStore creates a schedule store backed by the config store.
func NewStore(persist *storage.Store) *Store {
	return &Store{persist: persist}
}

// Load pulls all persisted schedules. A missing or unreadable schedule
// defaults to all-zero; boot never fails here.
func (s *Store) Load() {
	for t := Type(0); t < typeCount; t++ {
		table, err := s.persist.LoadSchedule(t.String())
		if err != nil {
			if err == storage.ErrNotFound {
				log.Info().Str("schedule", t.String()).Msg("No stored schedule, defaulting to all-zero")
			} else {
				log.Warn().Err(err).Str("schedule", t.String()).Msg("Failed to load schedule, defaulting to all-zero")
			}
			continue
		}
		clamped := Table(table).Clamp()
		s.mu[t].Lock()
		s.tables[t] = clamped
		s.mu[t].Unlock()
		log.Info().Str("schedule", t.String()).Msg("Schedule loaded")
	}
}

// Set installs a new duty table and persists it. Values are clamped to
// [0,100]. The persist step runs after the lock is released: a crash
// mid-persist leaves the stores diverged until next boot, which is
// acceptable because the in-memory table is authoritative while running.
func (s *Store) Set(t Type, table Table) error {
	table = table.Clamp()

	s.mu[t].Lock()
	s.tables[t] = table
	s.mu[t].Unlock()

	if err := s.persist.SaveSchedule(t.String(), table); err != nil {
		log.Error().Err(err).Str("schedule", t.String()).Msg("Failed to persist schedule")
		return err
	}
	return nil
}

// At returns the target duty for one hour.
func (s *Store) At(t Type, hour int) int {
	if hour < 0 || hour > 23 {
		return 0
	}
	s.mu[t].Lock()
	defer s.mu[t].Unlock()
	return s.tables[t][hour]
}

// Get returns a copy of the full duty table.
func (s *Store) Get(t Type) Table {
	s.mu[t].Lock()
	defer s.mu[t].Unlock()
	return s.tables[t]
}
