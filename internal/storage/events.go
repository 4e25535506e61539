package storage

import "time"

// TelemetryWriter is the interface for writing telemetry audit records.
// Write() must NEVER block the caller.
type TelemetryWriter interface {
	Write(rec *TelemetryRecord)
	Close()
}

// TelemetryRecord is the audit trail row for one processed batch. One
// record per non-rejected submission, whatever the outcome.
type TelemetryRecord struct {
	RequestID          string
	SessionID          string
	DeviceID           string
	SceneName          string
	Timestamp          time.Time
	Outcome            string // ok, skipped, backoff_activated, inference_failed
	Reason             string
	Prediction         string
	Confidence         float32
	Severity           string
	RiskLevel          string
	FrameCount         uint32
	Signals            []string
	MaxAbsYawDeg       float32
	MaxAbsPitchDeg     float32
	MaxHandMovement    float32
	MaxVoiceActivity   float32
	InferenceLatencyMs float32
	AlertID            string // empty unless an alert was persisted
	PersistFailed      bool
}
