package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/examtrace/sentinel/internal/chread"
	"github.com/examtrace/sentinel/internal/store"
)

func sessionResp(s *store.Session) SessionResp {
	resp := SessionResp{
		ID:           s.ID,
		Status:       s.Status,
		RiskLevel:    s.RiskLevel,
		StartedAt:    s.StartedAt,
		ExamTitle:    s.ExamTitle,
		ExamineeName: s.ExamineeName,
	}
	if s.Score.Valid {
		resp.Score = &s.Score.Float64
	}
	if s.MaxScore.Valid {
		resp.MaxScore = &s.MaxScore.Float64
	}
	if s.EndedAt.Valid {
		resp.EndedAt = &s.EndedAt.Time
	}
	return resp
}

// handleListSessions implements GET /api/sessions.
func (d *Dependencies) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := d.Store.ListLiveSessions(r.Context())
	if err != nil {
		d.Logger.Error("list sessions failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list sessions"})
		return
	}

	resp := make([]SessionResp, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionResp(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRiskSummary implements GET /api/sessions/summary.
func (d *Dependencies) handleRiskSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := d.Store.RiskSummary(r.Context())
	if err != nil {
		d.Logger.Error("risk summary failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to summarize sessions"})
		return
	}
	writeJSON(w, http.StatusOK, RiskSummaryResp{
		Total:  summary.Total,
		Low:    summary.Low,
		Medium: summary.Medium,
		High:   summary.High,
	})
}

// handleGetSession implements GET /api/sessions/{session_id}.
func (d *Dependencies) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	session, err := d.Store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found"})
			return
		}
		d.Logger.Error("get session failed", zap.String("session_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to load session"})
		return
	}
	writeJSON(w, http.StatusOK, sessionResp(session))
}

// handleListSessionAlerts implements GET /api/sessions/{session_id}/alerts.
func (d *Dependencies) handleListSessionAlerts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	events, err := d.Store.ListEventsBySession(r.Context(), id)
	if err != nil {
		d.Logger.Error("list session alerts failed", zap.String("session_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list alerts"})
		return
	}

	resp := make([]CheatingEventResp, 0, len(events))
	for _, ev := range events {
		resp = append(resp, CheatingEventResp{
			ID:              ev.ID,
			SessionID:       ev.SessionID,
			EventType:       ev.EventType,
			Severity:        ev.Severity,
			ConfidenceLevel: ev.ConfidenceLevel,
			Details:         ev.Details,
			DetectedAt:      ev.DetectedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListTelemetry implements GET /api/telemetry/recent.
// Returns 503 when no ClickHouse reader is configured.
func (d *Dependencies) handleListTelemetry(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Telemetry audit trail not configured"})
		return
	}

	q := r.URL.Query()
	params := chread.ListRecentParams{
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("page_size"), 50),
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 500 {
		params.PageSize = 50
	}
	if v := q.Get("session_id"); v != "" {
		params.SessionID = &v
	}
	if v := q.Get("outcome"); v != "" {
		params.Outcome = &v
	}
	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid start_time (want RFC3339)"})
			return
		}
		params.StartTime = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid end_time (want RFC3339)"})
			return
		}
		params.EndTime = &t
	}

	rows, total, err := d.Reader.ListRecent(r.Context(), params)
	if err != nil {
		d.Logger.Error("list telemetry failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list telemetry"})
		return
	}

	records := make([]TelemetryRecordResp, 0, len(rows))
	for _, row := range rows {
		records = append(records, TelemetryRecordResp{
			RequestID:          row.RequestID,
			SessionID:          row.SessionID,
			DeviceID:           row.DeviceID,
			SceneName:          row.SceneName,
			Timestamp:          row.Timestamp,
			Outcome:            row.Outcome,
			Reason:             row.Reason,
			Prediction:         row.Prediction,
			Confidence:         row.Confidence,
			Severity:           row.Severity,
			RiskLevel:          row.RiskLevel,
			FrameCount:         row.FrameCount,
			Signals:            row.Signals,
			InferenceLatencyMs: row.InferenceLatencyMs,
			AlertID:            row.AlertID,
			PersistFailed:      row.PersistFailed == 1,
		})
	}
	writeJSON(w, http.StatusOK, TelemetryListResp{
		Records:  records,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// handleGetAnalytics implements GET /api/analytics.
func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Telemetry audit trail not configured"})
		return
	}

	days := queryInt(r.URL.Query().Get("days"), 7)
	if days < 1 || days > 90 {
		days = 7
	}

	result, err := d.Reader.GetAnalytics(r.Context(), days)
	if err != nil {
		d.Logger.Error("analytics failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to compute analytics"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
