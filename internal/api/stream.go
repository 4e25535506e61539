package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// heartbeatInterval is how often an SSE comment line is sent so proxies
// don't drop an idle stream.
const heartbeatInterval = 15 * time.Second

// handleStream implements GET /api/stream.
//
// Server-sent events: every subscriber receives the global status feed;
// passing ?session_id= additionally joins that session's alert room.
// The subscription is dropped when the client disconnects.
func (d *Dependencies) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Streaming not supported"})
		return
	}

	sessionID := r.URL.Query().Get("session_id")

	sub := d.Hub.Join(sessionID)
	defer d.Hub.Leave(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-sub.C():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				d.Logger.Error("stream event marshal failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
