package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/examtrace/sentinel/internal/pipeline"
)

// maxTelemetryBody caps the request body: 60 frames of 12 floats is a
// few KB, so 1 MB leaves generous headroom.
const maxTelemetryBody = 1 << 20

// telemetrySchema is the wire contract for POST /v1/telemetry. Frame
// count and arity are checked by the pipeline, not the schema, so the
// limits stay configurable.
const telemetrySchema = `{
	"type": "object",
	"required": ["session_id", "frames"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"device_id": {"type": "string"},
		"scene_name": {"type": "string"},
		"frames": {
			"type": "array",
			"items": {
				"type": "array",
				"items": {"type": "number"}
			}
		}
	},
	"additionalProperties": false
}`

var telemetrySchemaCompiled = mustCompileTelemetrySchema()

func mustCompileTelemetrySchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(telemetrySchema), &doc); err != nil {
		panic("telemetry schema is not valid JSON: " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("telemetry.json", doc); err != nil {
		panic("telemetry schema resource: " + err.Error())
	}
	sch, err := c.Compile("telemetry.json")
	if err != nil {
		panic("telemetry schema compile: " + err.Error())
	}
	return sch
}

// handleTelemetry implements POST /v1/telemetry.
// Device auth middleware has already validated the Bearer key.
func (d *Dependencies) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTelemetryBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResp{Detail: "Request body too large"})
		return
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := telemetrySchemaCompiled.Validate(doc); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Schema validation failed: " + err.Error()})
		return
	}

	var req TelemetryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	batch := pipeline.Batch{
		SessionID: req.SessionID,
		DeviceID:  req.DeviceID,
		SceneName: req.SceneName,
		Frames:    req.Frames,
	}
	if batch.DeviceID == "" {
		if device := deviceFromContext(r.Context()); device != nil {
			batch.DeviceID = device.Label
		}
	}

	out := d.Pipeline.Process(r.Context(), batch)

	resp := TelemetryResponse{
		Status:        out.Status.String(),
		Reason:        out.Reason,
		Confidence:    out.Confidence,
		EventID:       out.EventID,
		PersistFailed: out.PersistFailed,
	}
	if !out.RetryAt.IsZero() {
		retryAt := out.RetryAt
		resp.RetryAt = &retryAt
	}
	if out.Status != pipeline.StatusRejected {
		resp.RiskLevel = out.RiskLevel.String()
	}
	if out.Status == pipeline.StatusOK {
		resp.Prediction = out.Prediction
		resp.Severity = out.Severity.String()
	}

	writeJSON(w, httpStatusFor(out.Status), resp)
}

// httpStatusFor maps a pipeline status to an HTTP status code. Skipped
// and backoff are normal operating conditions, not errors.
func httpStatusFor(s pipeline.Status) int {
	switch s {
	case pipeline.StatusRejected:
		return http.StatusBadRequest
	case pipeline.StatusInferenceFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}
