// Package api implements the HTTP control surface for the lumacast daemon.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/lumacast/lumacast-go/internal/config"
	"github.com/lumacast/lumacast-go/internal/models"
	"github.com/lumacast/lumacast-go/internal/pairing"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	fleet    Fleet
	catalog  Catalog
	pairing  Pairing
	rotation Rotation
	events   EventBus
	settings config.Settings
}

// Fleet is the interface the handlers use to talk to the device registry.
type Fleet interface {
	Scan(ctx context.Context, timeout time.Duration) ([]models.Device, error)
	Connect(ctx context.Context, id, credentials string) bool
	Disconnect(ctx context.Context, id string)
	IsConnected(id string) bool
	ConnectedIDs() []string
}

// Catalog lists the persisted device catalog.
type Catalog interface {
	Devices(ctx context.Context) ([]models.Device, error)
}

// Pairing drives the pairing handshake lifecycle.
type Pairing interface {
	Start(ctx context.Context, id string) (*pairing.StartResult, error)
	Complete(ctx context.Context, id, pin string) bool
	Cancel(id string) bool
}

// Rotation is the interface to the rotation controller.
type Rotation interface {
	Configure(ctx context.Context, req models.ConfigureRequest) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Advance() error
	Rewind() error
	Retime(interval time.Duration) error
	Status() models.RotationStatus
}

// EventBus is the interface for subscribing to daemon events.
type EventBus interface {
	Subscribe(id string) <-chan models.Event
	Unsubscribe(id string)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if appErr, ok := err.(*models.AppError); ok {
		w.WriteHeader(appErr.Status)
		_ = json.NewEncoder(w).Encode(appErr)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(models.ErrInternal(err.Error()))
}

// ok writes the plain success envelope.
func ok(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// fail writes the failure envelope with a specific reason.
func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
