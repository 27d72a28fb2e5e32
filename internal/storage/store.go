// Package storage is the pod's durable configuration store: the three duty
// schedules and the tank calibration, persisted as JSON rows in SQLite.
// Load failures degrade to defaults, they never block startup.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no value has been persisted under a key.
var ErrNotFound = errors.New("storage: not found")

const (
	keyCalibration    = "pod_calibration"
	keySchedulePrefix = "schedule_"
)

// Calibration holds the raw sensor distances captured by the calibration
// routine. The sensor reads distance down to the water surface, so a
// calibration is valid only when the empty reading exceeds the full one.
type Calibration struct {
	RawEmptyMM  int  `json:"raw_empty_mm"`
	RawFullMM   int  `json:"raw_full_mm"`
	HeadspaceMM int  `json:"headspace_mm"`
	Calibrated  bool `json:"calibrated"`
}

// Valid reports whether the calibration can be used to resolve fill targets.
func (c Calibration) Valid() bool {
	return c.Calibrated && c.RawEmptyMM-c.RawFullMM > 0
}

// RangeMM is the usable distance span between empty and full.
func (c Calibration) RangeMM() int {
	return c.RawEmptyMM - c.RawFullMM
}

// Store persists pod configuration through the shared SQLite connection.
type Store struct {
	db *sql.DB
}

// New creates a config store using the provided database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveSchedule persists a 24-entry duty table under the schedule type name.
func (s *Store) SaveSchedule(name string, hours [24]int) error {
	return s.save(keySchedulePrefix+name, hours[:])
}

// LoadSchedule retrieves a persisted duty table. Returns ErrNotFound when
// the schedule was never saved.
func (s *Store) LoadSchedule(name string) ([24]int, error) {
	var out [24]int
	var values []int
	if err := s.load(keySchedulePrefix+name, &values); err != nil {
		return out, err
	}
	if len(values) != 24 {
		return out, fmt.Errorf("storage: schedule %q has %d entries, want 24", name, len(values))
	}
	copy(out[:], values)
	return out, nil
}

// SaveCalibration persists the tank calibration.
func (s *Store) SaveCalibration(cal Calibration) error {
	return s.save(keyCalibration, cal)
}

// LoadCalibration retrieves the persisted tank calibration.
func (s *Store) LoadCalibration() (Calibration, error) {
	var cal Calibration
	if err := s.load(keyCalibration, &cal); err != nil {
		return Calibration{}, err
	}
	return cal, nil
}

func (s *Store) save(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	now := time.Now().UTC().Unix()
	_, err = s.db.Exec(`
		INSERT INTO pod_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, string(data), now)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) load(key string, out any) error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM pod_config WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
