package api

import (
	"net/http"

	"github.com/lumacast/lumacast-go/internal/models"
)

// startPairing begins a pairing handshake with a device.
func (h *Handlers) startPairing(w http.ResponseWriter, r *http.Request) {
	id, httpErr := deviceID(r)
	if httpErr != "" {
		fail(w, http.StatusBadRequest, httpErr)
		return
	}

	res, err := h.pairing.Start(r.Context(), id)
	if err != nil {
		fail(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.PairingStartedResponse{
		Success:           true,
		DeviceProvidesPIN: res.DeviceProvidesPIN,
		DeviceName:        res.DeviceName,
	})
}

// completePairing submits the PIN for an in-flight handshake. On success the
// device is credentialed and connected.
func (h *Handlers) completePairing(w http.ResponseWriter, r *http.Request) {
	var req models.CompletePairingRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID == "" {
		fail(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if !h.pairing.Complete(r.Context(), req.DeviceID, req.PIN) {
		fail(w, http.StatusBadGateway, "pairing failed for device "+req.DeviceID)
		return
	}
	ok(w)
}

// cancelPairing abandons an in-flight handshake.
func (h *Handlers) cancelPairing(w http.ResponseWriter, r *http.Request) {
	id, httpErr := deviceID(r)
	if httpErr != "" {
		fail(w, http.StatusBadRequest, httpErr)
		return
	}
	if !h.pairing.Cancel(id) {
		fail(w, http.StatusNotFound, "no pairing in progress for device "+id)
		return
	}
	ok(w)
}
