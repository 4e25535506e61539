package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse telemetry_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// TelemetryRow represents a single row from the telemetry_events table.
type TelemetryRow struct {
	RequestID          string    `json:"request_id"`
	SessionID          string    `json:"session_id"`
	DeviceID           string    `json:"device_id"`
	SceneName          string    `json:"scene_name"`
	Timestamp          time.Time `json:"timestamp"`
	Outcome            string    `json:"outcome"`
	Reason             string    `json:"reason"`
	Prediction         string    `json:"prediction"`
	Confidence         float32   `json:"confidence"`
	Severity           string    `json:"severity"`
	RiskLevel          string    `json:"risk_level"`
	FrameCount         uint32    `json:"frame_count"`
	Signals            []string  `json:"signals"`
	InferenceLatencyMs float32   `json:"inference_latency_ms"`
	AlertID            string    `json:"alert_id"`
	PersistFailed      uint8     `json:"persist_failed"`
}

// ListRecentParams holds filters and pagination for telemetry listing.
type ListRecentParams struct {
	SessionID *string
	Outcome   *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// ListRecent returns paginated, filtered telemetry records and the total count.
func (r *Reader) ListRecent(ctx context.Context, params ListRecentParams) ([]TelemetryRow, int, error) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.SessionID != nil {
		conditions = append(conditions, "session_id = @session_id")
		args = append(args, clickhouse.Named("session_id", *params.SessionID))
	}
	if params.Outcome != nil {
		conditions = append(conditions, "outcome = @outcome")
		args = append(args, clickhouse.Named("outcome", *params.Outcome))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM telemetry_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListRecent count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT request_id, session_id, device_id, scene_name, timestamp, "+
			"outcome, reason, prediction, confidence, severity, risk_level, "+
			"frame_count, signals, inference_latency_ms, alert_id, persist_failed "+
			"FROM telemetry_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListRecent query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []TelemetryRow
	for rows.Next() {
		var t TelemetryRow
		if err := rows.Scan(
			&t.RequestID, &t.SessionID, &t.DeviceID, &t.SceneName, &t.Timestamp,
			&t.Outcome, &t.Reason, &t.Prediction, &t.Confidence, &t.Severity, &t.RiskLevel,
			&t.FrameCount, &t.Signals, &t.InferenceLatencyMs, &t.AlertID, &t.PersistFailed,
		); err != nil {
			return nil, 0, fmt.Errorf("ListRecent scan: %w", err)
		}
		records = append(records, t)
	}

	return records, int(total), rows.Err()
}

// SummaryStats holds aggregate batch counts.
type SummaryStats struct {
	TotalBatches int `json:"total_batches"`
	Alerts       int `json:"alerts"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// SignalCount holds a signal flag and its count.
type SignalCount struct {
	Signal string `json:"signal"`
	Count  int    `json:"count"`
}

// LatencyStats holds inference latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// SessionCount holds a session_id and its alert count.
type SessionCount struct {
	SessionID string `json:"session_id"`
	Count     int    `json:"count"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	AlertsOverTime     []TimeSeriesBucket `json:"alerts_over_time"`
	TopSignals         []SignalCount      `json:"top_signals"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
	TopSessions        []SessionCount     `json:"top_sessions"`
}

// GetAnalytics returns aggregated telemetry analytics over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts
	var total, alerts, skipped, failed uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total_batches, "+
			"countIf(alert_id != '') as alerts, "+
			"countIf(outcome = 'skipped' OR outcome = 'backoff_activated') as skipped, "+
			"countIf(outcome = 'inference_failed') as failed "+
			"FROM telemetry_events "+
			"WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &alerts, &skipped, &failed)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalBatches: int(total),
		Alerts:       int(alerts),
		Skipped:      int(skipped),
		Failed:       int(failed),
	}

	// Alerts over time (hourly)
	aotRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM telemetry_events "+
			"WHERE alert_id != '' AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics alerts_over_time: %w", err)
	}
	defer func() { _ = aotRows.Close() }()
	for aotRows.Next() {
		var hour time.Time
		var count uint64
		if err := aotRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics alerts_over_time scan: %w", err)
		}
		result.AlertsOverTime = append(result.AlertsOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top signal flags among alerting batches
	sigRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(signals) as signal, count() as count "+
			"FROM telemetry_events "+
			"WHERE alert_id != '' AND timestamp >= @range_start "+
			"GROUP BY signal ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_signals: %w", err)
	}
	defer func() { _ = sigRows.Close() }()
	for sigRows.Next() {
		var sig string
		var count uint64
		if err := sigRows.Scan(&sig, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_signals scan: %w", err)
		}
		result.TopSignals = append(result.TopSignals, SignalCount{
			Signal: sig, Count: int(count),
		})
	}

	// Inference latency percentiles (last 24h, admitted batches only)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(inference_latency_ms) as p50, "+
			"quantile(0.95)(inference_latency_ms) as p95, "+
			"quantile(0.99)(inference_latency_ms) as p99 "+
			"FROM telemetry_events "+
			"WHERE outcome = 'ok' AND timestamp >= @day_start",
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Sessions with the most alerts
	sessRows, err := r.conn.Query(ctx,
		"SELECT session_id, count() as count "+
			"FROM telemetry_events "+
			"WHERE alert_id != '' AND session_id != '' AND timestamp >= @range_start "+
			"GROUP BY session_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_sessions: %w", err)
	}
	defer func() { _ = sessRows.Close() }()
	for sessRows.Next() {
		var sid string
		var count uint64
		if err := sessRows.Scan(&sid, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_sessions scan: %w", err)
		}
		result.TopSessions = append(result.TopSessions, SessionCount{
			SessionID: sid, Count: int(count),
		})
	}

	// Ensure slices are non-nil for JSON serialization
	if result.AlertsOverTime == nil {
		result.AlertsOverTime = []TimeSeriesBucket{}
	}
	if result.TopSignals == nil {
		result.TopSignals = []SignalCount{}
	}
	if result.TopSessions == nil {
		result.TopSessions = []SessionCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
