package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/dokzlo13/podd/internal/routine"
)

func startManager(t *testing.T, store *Store, registry *routine.Registry) *Manager {
	t.Helper()
	m := NewManager(store, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m
}

func waitRecordStatus(t *testing.T, registry *routine.Registry, id int, want routine.Status) routine.Record {
	t.Helper()
	stop := time.Now().Add(2 * time.Second)
	for time.Now().Before(stop) {
		if rec, ok := registry.Find(id); ok && rec.Status == want {
			return rec
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("record %d never reached status %s", id, want)
	return routine.Record{}
}

func TestManagerAppliesUpdate(t *testing.T) {
	store := newTestStore(t)
	registry := routine.NewRegistry()
	m := startManager(t, store, registry)

	var table Table
	table[8] = 60

	if err := m.Submit(Light, table); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := waitRecordStatus(t, registry, Light.RecordID(), routine.StatusCompleted)
	if rec.Name != "light_schedule" {
		t.Errorf("record name = %q, want light_schedule", rec.Name)
	}
	if got := store.At(Light, 8); got != 60 {
		t.Errorf("At(light, 8) = %d, want 60", got)
	}
}

func TestManagerReusesFixedRecordSlot(t *testing.T) {
	store := newTestStore(t)
	registry := routine.NewRegistry()
	m := startManager(t, store, registry)

	var first, second Table
	first[0] = 10
	second[0] = 90

	if err := m.Submit(Air, first); err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	waitRecordStatus(t, registry, Air.RecordID(), routine.StatusCompleted)

	if err := m.Submit(Air, second); err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	stop := time.Now().Add(2 * time.Second)
	for time.Now().Before(stop) {
		if store.At(Air, 0) == 90 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := store.At(Air, 0); got != 90 {
		t.Fatalf("At(air, 0) = %d, want 90", got)
	}

	rec := waitRecordStatus(t, registry, Air.RecordID(), routine.StatusCompleted)
	if rec.Generation < 2 {
		t.Errorf("generation = %d, want >= 2 after two pushes", rec.Generation)
	}

	// Both pushes share one slot.
	count := 0
	for _, r := range registry.Snapshot() {
		if r.ID == Air.RecordID() {
			count++
		}
	}
	if count != 1 {
		t.Errorf("found %d records for the air schedule, want 1", count)
	}
}

func TestSubmitRejectsUnknownType(t *testing.T) {
	m := NewManager(newTestStore(t), routine.NewRegistry(), nil)
	if err := m.Submit(Type(7), Table{}); err == nil {
		t.Fatal("Submit accepted an unknown schedule type")
	}
}

func TestSubmitReportsFullQueue(t *testing.T) {
	// Manager is not running, so the bounded queue fills up.
	m := NewManager(newTestStore(t), routine.NewRegistry(), nil)

	for i := 0; i < updateQueueCapacity; i++ {
		if err := m.Submit(Light, Table{}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := m.Submit(Light, Table{}); err != ErrQueueFull {
		t.Fatalf("Submit on full queue = %v, want ErrQueueFull", err)
	}
}
