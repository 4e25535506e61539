package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// handleCreateDeviceKey implements POST /api/devices.
// The plaintext key appears in this response only.
func (d *Dependencies) handleCreateDeviceKey(w http.ResponseWriter, r *http.Request) {
	var req CreateDeviceKeyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "label is required"})
		return
	}

	key, plaintext, err := d.Store.CreateDeviceKey(r.Context(), req.Label)
	if err != nil {
		d.Logger.Error("create device key failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create device key"})
		return
	}

	writeJSON(w, http.StatusCreated, CreateDeviceKeyResp{
		ID:        key.ID,
		Label:     key.Label,
		Key:       plaintext,
		KeyPrefix: key.KeyPrefix,
		CreatedAt: key.CreatedAt,
	})
}

// handleListDeviceKeys implements GET /api/devices.
func (d *Dependencies) handleListDeviceKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := d.Store.ListDeviceKeys(r.Context())
	if err != nil {
		d.Logger.Error("list device keys failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list device keys"})
		return
	}

	resp := make([]DeviceKeyResp, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, DeviceKeyResp{
			ID:        k.ID,
			Label:     k.Label,
			KeyPrefix: k.KeyPrefix,
			Revoked:   k.Revoked,
			CreatedAt: k.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevokeDeviceKey implements POST /api/devices/{key_id}/revoke.
// Takes effect immediately for new lookups; a cached entry survives
// until its TTL expires.
func (d *Dependencies) handleRevokeDeviceKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("key_id")

	if err := d.Store.RevokeDeviceKey(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Device key not found"})
			return
		}
		d.Logger.Error("revoke device key failed", zap.String("key_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to revoke device key"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
