package store

import (
	"context"
	"fmt"
	"time"
)

// CheatingEvent is a persisted actionable decision. Created exactly once
// per decision; never mutated or deleted from the alert path.
type CheatingEvent struct {
	ID              string // assigned by the database on insert
	SessionID       string
	EventType       string
	Severity        string
	ConfidenceLevel float64
	Details         string
	DetectedAt      time.Time // assigned by the database on insert
}

// InsertCheatingEvent writes a new cheating event and fills in the
// storage-assigned id and detection timestamp.
func (s *Store) InsertCheatingEvent(ctx context.Context, ev *CheatingEvent) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cheating_events (session_id, event_type, severity, confidence_level, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, detected_at`,
		ev.SessionID, ev.EventType, ev.Severity, ev.ConfidenceLevel, ev.Details,
	).Scan(&ev.ID, &ev.DetectedAt)
	if err != nil {
		return fmt.Errorf("InsertCheatingEvent: %w", err)
	}
	return nil
}

// ListEventsBySession returns a session's cheating events, newest first.
func (s *Store) ListEventsBySession(ctx context.Context, sessionID string) ([]*CheatingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, severity, confidence_level, details, detected_at
		FROM cheating_events
		WHERE session_id = $1
		ORDER BY detected_at DESC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("ListEventsBySession: %w", err)
	}
	defer rows.Close()

	var events []*CheatingEvent
	for rows.Next() {
		var ev CheatingEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.Severity,
			&ev.ConfidenceLevel, &ev.Details, &ev.DetectedAt); err != nil {
			return nil, fmt.Errorf("ListEventsBySession: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
