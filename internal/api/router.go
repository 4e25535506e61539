package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/examtrace/sentinel/internal/auth"
	"github.com/examtrace/sentinel/internal/chread"
	"github.com/examtrace/sentinel/internal/fanout"
	"github.com/examtrace/sentinel/internal/pipeline"
	"github.com/examtrace/sentinel/internal/store"
)

// Processor runs one telemetry batch through the decision pipeline.
type Processor interface {
	Process(ctx context.Context, batch pipeline.Batch) pipeline.Outcome
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store     *store.Store
	Pipeline  Processor
	Auth      auth.Authenticator
	Hub       *fanout.Hub
	Reader    *chread.Reader // nil if ClickHouse unavailable
	Logger    *zap.Logger
	JWTSecret []byte
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Device endpoints (Bearer dvk_ key)
	mux.HandleFunc("POST /v1/telemetry", deps.deviceAuthMiddleware(deps.handleTelemetry))
	mux.HandleFunc("POST /api/vr/ping", deps.deviceAuthMiddleware(deps.handleVRPing))
	mux.HandleFunc("POST /api/vr/score", deps.deviceAuthMiddleware(deps.handleVRScore))

	// Proctor dashboard (Bearer JWT)
	mux.HandleFunc("GET /api/sessions", deps.jwtMiddleware(deps.handleListSessions))
	mux.HandleFunc("GET /api/sessions/summary", deps.jwtMiddleware(deps.handleRiskSummary))
	mux.HandleFunc("GET /api/sessions/{session_id}", deps.jwtMiddleware(deps.handleGetSession))
	mux.HandleFunc("GET /api/sessions/{session_id}/alerts", deps.jwtMiddleware(deps.handleListSessionAlerts))
	mux.HandleFunc("GET /api/telemetry/recent", deps.jwtMiddleware(deps.handleListTelemetry))
	mux.HandleFunc("GET /api/analytics", deps.jwtMiddleware(deps.handleGetAnalytics))
	mux.HandleFunc("GET /api/stream", deps.jwtMiddleware(deps.handleStream))

	// Device key management (Bearer JWT)
	mux.HandleFunc("POST /api/devices", deps.jwtMiddleware(deps.handleCreateDeviceKey))
	mux.HandleFunc("GET /api/devices", deps.jwtMiddleware(deps.handleListDeviceKeys))
	mux.HandleFunc("POST /api/devices/{key_id}/revoke", deps.jwtMiddleware(deps.handleRevokeDeviceKey))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
