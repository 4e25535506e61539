package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is a monitored exam-taking instance joined with its exam and
// examinee names.
type Session struct {
	ID           string
	Status       string
	RiskLevel    string
	Score        sql.NullFloat64
	MaxScore     sql.NullFloat64
	StartedAt    time.Time
	EndedAt      sql.NullTime
	ExamTitle    string
	ExamineeName string
}

// RiskSummary holds risk-level counts across all sessions for the
// dashboard header.
type RiskSummary struct {
	Total  int
	Low    int
	Medium int
	High   int
}

// ListLiveSessions returns all sessions currently in the "live" state,
// newest first.
func (s *Store) ListLiveSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.status, s.risk_level, s.score, s.max_score,
		       s.started_at, s.ended_at,
		       COALESCE(e.title, ''), COALESCE(x.full_name, '')
		FROM sessions s
		LEFT JOIN exams e ON e.id = s.exam_id
		LEFT JOIN examinees x ON x.id = s.examinee_id
		WHERE s.status = 'live'
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListLiveSessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Status, &sess.RiskLevel, &sess.Score, &sess.MaxScore,
			&sess.StartedAt, &sess.EndedAt, &sess.ExamTitle, &sess.ExamineeName); err != nil {
			return nil, fmt.Errorf("ListLiveSessions: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// GetSession returns a single session by id, or sql.ErrNoRows.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.status, s.risk_level, s.score, s.max_score,
		       s.started_at, s.ended_at,
		       COALESCE(e.title, ''), COALESCE(x.full_name, '')
		FROM sessions s
		LEFT JOIN exams e ON e.id = s.exam_id
		LEFT JOIN examinees x ON x.id = s.examinee_id
		WHERE s.id = $1`,
		id,
	).Scan(&sess.ID, &sess.Status, &sess.RiskLevel, &sess.Score, &sess.MaxScore,
		&sess.StartedAt, &sess.EndedAt, &sess.ExamTitle, &sess.ExamineeName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("GetSession: %w", err)
	}
	return &sess, nil
}

// RiskSummary returns session counts per risk level.
func (s *Store) RiskSummary(ctx context.Context) (*RiskSummary, error) {
	var sum RiskSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE risk_level = 'low'),
		       COUNT(*) FILTER (WHERE risk_level = 'medium'),
		       COUNT(*) FILTER (WHERE risk_level = 'high')
		FROM sessions`).Scan(&sum.Total, &sum.Low, &sum.Medium, &sum.High)
	if err != nil {
		return nil, fmt.Errorf("RiskSummary: %w", err)
	}
	return &sum, nil
}

// UpdateSessionRisk sets only the session's risk_level column. No other
// session field is ever written from the alert path.
func (s *Store) UpdateSessionRisk(ctx context.Context, sessionID, riskLevel string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET risk_level = $1 WHERE id = $2`,
		riskLevel, sessionID)
	if err != nil {
		return fmt.Errorf("UpdateSessionRisk: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("UpdateSessionRisk: session %s not found", sessionID)
	}
	return nil
}

// SubmitScore records the examinee's final score and closes the session.
func (s *Store) SubmitScore(ctx context.Context, sessionID string, score, maxScore float64, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET score = $1, max_score = $2, ended_at = $3, status = 'ended'
		WHERE id = $4`,
		score, maxScore, endedAt, sessionID)
	if err != nil {
		return fmt.Errorf("SubmitScore: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("SubmitScore: session %s: %w", sessionID, sql.ErrNoRows)
	}
	return nil
}
