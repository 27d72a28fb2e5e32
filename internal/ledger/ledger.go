// Package ledger provides an append-only event history for podd, used for
// auditing routine runs and schedule changes. Ledger failures are logged by
// callers and never affect control flow.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventRoutineStarted   EventType = "routine_started"
	EventRoutineCompleted EventType = "routine_completed"
	EventRoutineFailed    EventType = "routine_failed"
	EventScheduleUpdated  EventType = "schedule_updated"
	EventCalibrationSaved EventType = "calibration_saved"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventID   string
	EventType EventType
	Timestamp time.Time
	Payload   map[string]any
	Source    string
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, payload map[string]any) error {
	return l.AppendWithSource(eventType, "", payload)
}

// AppendWithSource adds a new event tagged with its originating component
func (l *Ledger) AppendWithSource(eventType EventType, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()

	_, err = l.db.Exec(`
		INSERT INTO event_ledger (event_id, event_type, timestamp, payload, source)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), string(eventType), now, string(payloadJSON), source)

	return err
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_id, event_type, timestamp, payload, source
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetRecent returns the most recent entries across all event types
func (l *Ledger) GetRecent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_id, event_type, timestamp, payload, source
		FROM event_ledger
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var payload sql.NullString
		var source sql.NullString

		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &ts, &payload, &source); err != nil {
			return nil, err
		}

		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Source = source.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload for entry %d: %w", e.ID, err)
			}
		}

		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
