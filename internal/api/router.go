package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumacast/lumacast-go/internal/auth"
	"github.com/lumacast/lumacast-go/internal/config"
)

// NewRouter creates and returns the main HTTP router.
func NewRouter(fleet Fleet, catalog Catalog, pairing Pairing, rotation Rotation, authSvc *auth.Service, bus EventBus, settings config.Settings) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(middleware.CleanPath)

	h := &Handlers{
		fleet:    fleet,
		catalog:  catalog,
		pairing:  pairing,
		rotation: rotation,
		events:   bus,
		settings: settings,
	}

	r.Group(func(r chi.Router) {
		r.Use(authSvc.Middleware)

		// Devices
		r.Post("/api/scan-devices", h.scanDevices)
		r.Get("/api/devices", h.getDevices)
		r.Post("/api/connect-device", h.connectDevice)
		r.Post("/api/disconnect-device", h.disconnectDevice)

		// Pairing
		r.Post("/api/start-pairing", h.startPairing)
		r.Post("/api/complete-pairing", h.completePairing)
		r.Post("/api/cancel-pairing", h.cancelPairing)

		// Content
		r.Get("/api/directories", h.getDirectories)

		// Slideshow
		r.Post("/api/configure-slideshow", h.configureSlideshow)
		r.Post("/api/start-slideshow", h.startSlideshow)
		r.Post("/api/stop-slideshow", h.stopSlideshow)
		r.Get("/api/slideshow-status", h.slideshowStatus)
		r.Post("/api/next-images", h.nextImages)
		r.Post("/api/previous-images", h.previousImages)
		r.Post("/api/update-display-time", h.updateDisplayTime)

		// SSE
		r.Get("/api/subscribe", h.subscribe)
	})

	return r
}

// corsMiddleware adds permissive CORS headers for local network access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
