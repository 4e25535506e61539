package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes telemetry audit records to ClickHouse
// asynchronously. Write() is non-blocking; records are buffered and
// batch-inserted in a background goroutine, so a slow or down ClickHouse
// never stalls the telemetry ingest path.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *TelemetryRecord
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN sets TLS when ?secure=true is in the DSN; enforce it here
	// so managed deployments on secure ports work either way.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *TelemetryRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues a telemetry record for async insertion.
// Non-blocking: drops the record if the buffer is full.
func (w *ClickHouseWriter) Write(rec *TelemetryRecord) {
	select {
	case w.buffer <- rec:
	default:
		w.logger.Warn("clickhouse buffer full, dropping record",
			zap.String("request_id", rec.RequestID),
		)
	}
}

// Close signals the flush loop to drain remaining records, waits for it
// to finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*TelemetryRecord, 0, flushBatch)

	for {
		select {
		case rec := <-w.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			// Drain remaining records from buffer
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case rec := <-w.buffer:
					batch = append(batch, rec)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []*TelemetryRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO telemetry_events (
			request_id, session_id, device_id, scene_name, timestamp,
			outcome, reason, prediction, confidence, severity, risk_level,
			frame_count, signals,
			max_abs_yaw_deg, max_abs_pitch_deg, max_hand_movement, max_voice_activity,
			inference_latency_ms, alert_id, persist_failed
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		var persistFailedUint8 uint8
		if r.PersistFailed {
			persistFailedUint8 = 1
		}

		if err := batch.Append(
			r.RequestID,
			r.SessionID,
			r.DeviceID,
			r.SceneName,
			r.Timestamp,
			r.Outcome,
			r.Reason,
			r.Prediction,
			r.Confidence,
			r.Severity,
			r.RiskLevel,
			r.FrameCount,
			r.Signals,
			r.MaxAbsYawDeg,
			r.MaxAbsPitchDeg,
			r.MaxHandMovement,
			r.MaxVoiceActivity,
			r.InferenceLatencyMs,
			r.AlertID,
			persistFailedUint8,
		); err != nil {
			w.logger.Error("clickhouse append record failed",
				zap.String("request_id", r.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback TelemetryWriter for local development.
// It logs records as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(rec *TelemetryRecord) {
	w.logger.Info("telemetry_event",
		zap.String("request_id", rec.RequestID),
		zap.String("session_id", rec.SessionID),
		zap.String("device_id", rec.DeviceID),
		zap.String("outcome", rec.Outcome),
		zap.String("reason", rec.Reason),
		zap.String("prediction", rec.Prediction),
		zap.Float32("confidence", rec.Confidence),
		zap.String("severity", rec.Severity),
		zap.String("risk_level", rec.RiskLevel),
		zap.Uint32("frame_count", rec.FrameCount),
		zap.Strings("signals", rec.Signals),
		zap.Float32("inference_latency_ms", rec.InferenceLatencyMs),
	)
}

func (w *LogWriter) Close() {}
