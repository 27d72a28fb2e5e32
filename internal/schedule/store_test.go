package schedule

import (
	"path/filepath"
	"testing"

	"github.com/dokzlo13/podd/internal/db"
	"github.com/dokzlo13/podd/internal/storage"
)

func TestStoreDefaultsToZero(t *testing.T) {
	store := newTestStore(t)
	store.Load()

	for typ := Type(0); typ < typeCount; typ++ {
		for hour := 0; hour < 24; hour++ {
			if got := store.At(typ, hour); got != 0 {
				t.Fatalf("At(%s, %d) = %d, want 0", typ, hour, got)
			}
		}
	}
}

func TestStoreAtOutOfRangeHour(t *testing.T) {
	store := newTestStore(t)

	var table Table
	for i := range table {
		table[i] = 50
	}
	if err := store.Set(Air, table); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if got := store.At(Air, -1); got != 0 {
		t.Errorf("At(air, -1) = %d, want 0", got)
	}
	if got := store.At(Air, 24); got != 0 {
		t.Errorf("At(air, 24) = %d, want 0", got)
	}
}

func TestStoreSetClamps(t *testing.T) {
	store := newTestStore(t)

	var table Table
	table[0] = -5
	table[1] = 150
	table[2] = 70
	if err := store.Set(Light, table); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := store.Get(Light)
	if got[0] != 0 || got[1] != 100 || got[2] != 70 {
		t.Errorf("clamped table = %v, want [0 100 70 ...]", got[:3])
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podd.sqlite")

	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	store := NewStore(storage.New(database.DB))
	var table Table
	for i := range table {
		table[i] = i * 4
	}
	if err := store.Set(Planter, table); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	reopened, err := db.Open(path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer reopened.Close()

	fresh := NewStore(storage.New(reopened.DB))
	fresh.Load()

	if got := fresh.Get(Planter); got != table {
		t.Errorf("reloaded table = %v, want %v", got, table)
	}
	// The other schedules were never set and stay zero after Load.
	if got := fresh.Get(Light); got != (Table{}) {
		t.Errorf("light table = %v, want all-zero", got)
	}
}
