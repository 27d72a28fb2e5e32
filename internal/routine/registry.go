package routine

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// MaxRecords is the fixed registry capacity. Completed one-shot slots are
// not recycled.
const MaxRecords = 10

var (
	// ErrNoFreeSlot is returned when the registry table is exhausted.
	ErrNoFreeSlot = errors.New("routine: no free registry slot")
	// ErrNotFound is returned when no record exists for an ID.
	ErrNotFound = errors.New("routine: record not found")
	// ErrStaleGeneration is returned when a task mutates a record that has
	// since been re-armed by a newer start. The task must self-abort.
	ErrStaleGeneration = errors.New("routine: stale generation")
)

// Registry maps externally-visible routine IDs to their records. A single
// table mutex serializes all scans and mutations; the table is tiny so
// contention is negligible.
type Registry struct {
	mu      sync.Mutex
	records [MaxRecords]Record
	nextID  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nextID: 1}
}

// Allocate claims a free slot for a one-shot routine and returns its new ID
// and generation token. Fails with ErrNoFreeSlot when the table is full.
func (g *Registry) Allocate(name string) (id int, gen uint64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.records {
		if g.records[i].InUse {
			continue
		}
		rec := &g.records[i]
		rec.InUse = true
		rec.ID = g.nextID
		g.nextID++
		rec.reset(name)
		log.Debug().Int("routine_id", rec.ID).Str("name", rec.Name).Msg("Routine slot allocated")
		return rec.ID, rec.Generation, nil
	}
	return 0, 0, ErrNoFreeSlot
}

// FindOrCreate returns the generation token for the record bound to a fixed
// ID, re-arming it to Pending. Used only by schedule routines, so repeated
// schedule pushes update one record instead of exhausting the table.
func (g *Registry) FindOrCreate(fixedID int, name string) (gen uint64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.records {
		if g.records[i].InUse && g.records[i].ID == fixedID {
			rec := &g.records[i]
			rec.reset(name)
			return rec.Generation, nil
		}
	}
	for i := range g.records {
		if g.records[i].InUse {
			continue
		}
		rec := &g.records[i]
		rec.InUse = true
		rec.ID = fixedID
		rec.reset(name)
		log.Debug().Int("routine_id", fixedID).Str("name", rec.Name).Msg("Schedule routine slot bound")
		return rec.Generation, nil
	}
	return 0, ErrNoFreeSlot
}

// Find returns a snapshot of the record for an ID.
func (g *Registry) Find(id int) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec := g.locate(id); rec != nil {
		return *rec, true
	}
	return Record{}, false
}

// Update applies fn to the record for id while holding the table lock. The
// caller's generation token must still match; otherwise the record has been
// re-armed by a newer start and ErrStaleGeneration is returned.
func (g *Registry) Update(id int, gen uint64, fn func(*Record)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.locate(id)
	if rec == nil {
		return ErrNotFound
	}
	if rec.Generation != gen {
		return ErrStaleGeneration
	}
	fn(rec)
	return nil
}

// Snapshot returns copies of all in-use records.
func (g *Registry) Snapshot() []Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Record
	for i := range g.records {
		if g.records[i].InUse {
			out = append(out, g.records[i])
		}
	}
	return out
}

// locate returns the record for id, or nil. Caller holds g.mu.
func (g *Registry) locate(id int) *Record {
	for i := range g.records {
		if g.records[i].InUse && g.records[i].ID == id {
			return &g.records[i]
		}
	}
	return nil
}
