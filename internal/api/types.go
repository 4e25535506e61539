package api

import "time"

// --- POST /v1/telemetry request/response ---

// TelemetryRequest is the JSON body for POST /v1/telemetry.
type TelemetryRequest struct {
	SessionID string      `json:"session_id"`
	DeviceID  string      `json:"device_id,omitempty"`
	SceneName string      `json:"scene_name,omitempty"`
	Frames    [][]float64 `json:"frames"`
}

// TelemetryResponse reports the pipeline outcome to the submitting device.
type TelemetryResponse struct {
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
	Prediction    string     `json:"prediction,omitempty"`
	Confidence    float64    `json:"confidence"`
	Severity      string     `json:"severity,omitempty"`
	RiskLevel     string     `json:"risk_level,omitempty"`
	EventID       string     `json:"event_id,omitempty"`
	PersistFailed bool       `json:"persist_failed,omitempty"`
}

// --- Sessions ---

// SessionResp is one proctored session as returned by the session endpoints.
type SessionResp struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	RiskLevel    string     `json:"risk_level"`
	Score        *float64   `json:"score"`
	MaxScore     *float64   `json:"max_score"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	ExamTitle    string     `json:"exam_title"`
	ExamineeName string     `json:"examinee_name"`
}

// RiskSummaryResp aggregates live sessions by risk level.
type RiskSummaryResp struct {
	Total  int `json:"total"`
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// CheatingEventResp mirrors the persisted cheating event record.
type CheatingEventResp struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	EventType       string    `json:"event_type"`
	Severity        string    `json:"severity"`
	ConfidenceLevel float64   `json:"confidence_level"`
	Details         string    `json:"details"`
	DetectedAt      time.Time `json:"detected_at"`
}

// --- VR device endpoints ---

// VRPingResp acknowledges a device heartbeat.
type VRPingResp struct {
	Status string `json:"status"`
	Device string `json:"device"`
}

// SubmitScoreReq is the JSON body for POST /api/vr/score.
type SubmitScoreReq struct {
	SessionID string  `json:"session_id"`
	Score     float64 `json:"score"`
	MaxScore  float64 `json:"max_score"`
}

// --- Device key management ---

// CreateDeviceKeyReq is the JSON body for POST /api/devices.
type CreateDeviceKeyReq struct {
	Label string `json:"label"`
}

// CreateDeviceKeyResp includes the plaintext device key (shown once).
type CreateDeviceKeyResp struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceKeyResp is one device key record (no plaintext key).
type DeviceKeyResp struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	KeyPrefix string    `json:"key_prefix"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Telemetry audit trail ---

// TelemetryListResp is a page of telemetry audit records.
type TelemetryListResp struct {
	Records  []TelemetryRecordResp `json:"records"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
}

// TelemetryRecordResp is one audit record from ClickHouse.
type TelemetryRecordResp struct {
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
	PersistFailed      bool      `json:"persist_failed"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
