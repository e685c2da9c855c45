package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/lumacast/lumacast-go/internal/artifacts"
	"github.com/lumacast/lumacast-go/internal/models"
	"github.com/lumacast/lumacast-go/internal/rotation"
)

// getDirectories lists browsable content directories under the configured
// images base directory.
func (h *Handlers) getDirectories(w http.ResponseWriter, r *http.Request) {
	dirs := artifacts.ListDirectories(h.settings.DefaultImagesDir, h.settings.SupportedImageFormats)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"directories": dirs,
	})
}

// configureSlideshow installs a new rotation configuration.
func (h *Handlers) configureSlideshow(w http.ResponseWriter, r *http.Request) {
	var req models.ConfigureRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ImagesDirectory == "" {
		fail(w, http.StatusBadRequest, "images_directory is required")
		return
	}
	if err := h.rotation.Configure(r.Context(), req); err != nil {
		status := http.StatusBadRequest
		var stateErr *rotation.StateError
		if errors.As(err, &stateErr) {
			status = http.StatusConflict
		}
		fail(w, status, err.Error())
		return
	}
	ok(w)
}

func (h *Handlers) startSlideshow(w http.ResponseWriter, r *http.Request) {
	if err := h.rotation.Start(r.Context()); err != nil {
		fail(w, http.StatusConflict, err.Error())
		return
	}
	ok(w)
}

func (h *Handlers) stopSlideshow(w http.ResponseWriter, r *http.Request) {
	if err := h.rotation.Stop(r.Context()); err != nil {
		fail(w, http.StatusConflict, err.Error())
		return
	}
	ok(w)
}

func (h *Handlers) slideshowStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  h.rotation.Status(),
	})
}

// nextImages advances the rotation by one fleet-sized block.
func (h *Handlers) nextImages(w http.ResponseWriter, r *http.Request) {
	if err := h.rotation.Advance(); err != nil {
		fail(w, http.StatusConflict, err.Error())
		return
	}
	ok(w)
}

// previousImages rewinds the rotation to the previous complete block.
func (h *Handlers) previousImages(w http.ResponseWriter, r *http.Request) {
	if err := h.rotation.Rewind(); err != nil {
		fail(w, http.StatusConflict, err.Error())
		return
	}
	ok(w)
}

func (h *Handlers) updateDisplayTime(w http.ResponseWriter, r *http.Request) {
	var req models.DisplayTimeRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.rotation.Retime(time.Duration(req.DisplayTime) * time.Second); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	ok(w)
}
