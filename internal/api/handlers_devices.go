package api

import (
	"net/http"
	"time"
)

// scanDevices runs a discovery scan and returns the streaming-capable devices
// found. An optional timeout (seconds) can be supplied in the body.
func (h *Handlers) scanDevices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timeout int `json:"timeout"`
	}
	_ = decode(r, &req) // empty body means default timeout

	var timeout time.Duration
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}

	devices, err := h.fleet.Scan(r.Context(), timeout)
	if err != nil {
		fail(w, http.StatusInternalServerError, "scan failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"devices": devices,
		"count":   len(devices),
	})
}

// getDevices returns the persisted catalog plus the live connection set.
func (h *Handlers) getDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.catalog.Devices(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, "failed to load devices: "+err.Error())
		return
	}
	connected := h.fleet.ConnectedIDs()
	for i := range devices {
		devices[i].IsActive = h.fleet.IsConnected(devices[i].ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"devices":   devices,
		"connected": connected,
	})
}

// connectDevice connects to a known or discovered device. Stored credentials
// are applied automatically by the registry.
func (h *Handlers) connectDevice(w http.ResponseWriter, r *http.Request) {
	id, httpErr := deviceID(r)
	if httpErr != "" {
		fail(w, http.StatusBadRequest, httpErr)
		return
	}
	if !h.fleet.Connect(r.Context(), id, "") {
		fail(w, http.StatusBadGateway, "could not connect to device "+id)
		return
	}
	ok(w)
}

// disconnectDevice drops the live connection, if any. Idempotent.
func (h *Handlers) disconnectDevice(w http.ResponseWriter, r *http.Request) {
	id, httpErr := deviceID(r)
	if httpErr != "" {
		fail(w, http.StatusBadRequest, httpErr)
		return
	}
	h.fleet.Disconnect(r.Context(), id)
	ok(w)
}

func deviceID(r *http.Request) (string, string) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decode(r, &req); err != nil {
		return "", "invalid request body"
	}
	if req.DeviceID == "" {
		return "", "device_id is required"
	}
	return req.DeviceID, ""
}
