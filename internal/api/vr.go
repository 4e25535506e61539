package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// handleVRPing implements POST /api/vr/ping. A cheap reachability probe
// for headsets, authenticated the same way as telemetry.
func (d *Dependencies) handleVRPing(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())
	resp := VRPingResp{Status: "ok"}
	if device != nil {
		resp.Device = device.Label
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVRScore implements POST /api/vr/score. The headset reports the
// final exam score when the examinee finishes; the session is closed in
// the same update.
func (d *Dependencies) handleVRScore(w http.ResponseWriter, r *http.Request) {
	var req SubmitScoreReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "session_id is required"})
		return
	}
	if req.Score < 0 || req.MaxScore <= 0 || req.Score > req.MaxScore {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "score must be within [0, max_score]"})
		return
	}

	err := d.Store.SubmitScore(r.Context(), req.SessionID, req.Score, req.MaxScore, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found"})
			return
		}
		d.Logger.Error("submit score failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to submit score"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
