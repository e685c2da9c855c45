// Command lumacast is the display-fleet slideshow daemon. It discovers
// networked display devices, pairs and connects to them, and rotates image
// or video content across the fleet on a timer, serving artifacts from a
// local HTTP origin.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lumacast/lumacast-go/internal/api"
	"github.com/lumacast/lumacast-go/internal/artifacts"
	"github.com/lumacast/lumacast-go/internal/auth"
	"github.com/lumacast/lumacast-go/internal/composer"
	"github.com/lumacast/lumacast-go/internal/config"
	"github.com/lumacast/lumacast-go/internal/dispatch"
	"github.com/lumacast/lumacast-go/internal/events"
	"github.com/lumacast/lumacast-go/internal/models"
	"github.com/lumacast/lumacast-go/internal/pairing"
	"github.com/lumacast/lumacast-go/internal/protocol"
	"github.com/lumacast/lumacast-go/internal/registry"
	"github.com/lumacast/lumacast-go/internal/rotation"
	"github.com/lumacast/lumacast-go/internal/store"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "HTTP listen address")
		cfgDir  = flag.String("config-dir", "", "config directory (default: ~/.config/lumacast)")
		restore = flag.Bool("restore", true, "restore the last saved slideshow configuration on startup")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	// Configure logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Resolve config directory
	if *cfgDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*cfgDir = filepath.Join(home, ".config", "lumacast")
	}
	if err := os.MkdirAll(*cfgDir, 0755); err != nil {
		slog.Error("cannot create config directory", "path", *cfgDir, "err", err)
		os.Exit(1)
	}

	settings := config.FromEnv()

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Device catalog
	st, err := store.OpenSQLite(*cfgDir)
	if err != nil {
		slog.Error("cannot open device catalog", "path", *cfgDir, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// Event bus
	bus := events.NewBus()

	// Protocol transport
	scanner := protocol.NewZeroconfScanner()
	dialer := &protocol.HTTPDialer{}

	// Device registry + health checks
	reg := registry.New(st, scanner, dialer, settings)
	reg.SetDefaultAuthCallback(func(deviceID, reason string) {
		bus.Publish(models.StatusEvent{
			Kind:     models.StatusAuthenticationRequired,
			DeviceID: deviceID,
			Message:  reason,
		})
	})
	go reg.Run(ctx)

	// Pairing
	pairMgr := pairing.NewManager(scanner, protocol.UnsupportedPairer{}, st, reg, settings)

	// Artifact preparation + content server
	preparer, err := artifacts.NewPreparer(settings.MaxImageWidth, settings.MaxImageHeight, settings.ImageQuality)
	if err != nil {
		slog.Error("cannot create artifact workspace", "err", err)
		os.Exit(1)
	}
	defer preparer.Cleanup()

	content := artifacts.NewServer(settings.MaxPublishedArtifacts, preparer.TempDir())
	if err := content.Start(); err != nil {
		slog.Error("content server failed to start", "err", err)
		os.Exit(1)
	}
	slog.Info("content server listening", "base_url", content.BaseURL())

	// Video composition
	comp, err := composer.NewManager(func(ev models.ProgressEvent) {
		bus.Publish(ev)
	})
	if err != nil {
		slog.Error("cannot create video workspace", "err", err)
		os.Exit(1)
	}
	defer comp.Cleanup()

	// Dispatch + rotation
	disp := dispatch.New(reg, settings.PlayOnUnavailable)
	ctrl := rotation.New(
		reg,
		disp,
		preparer.Prepare,
		content.PublishURL,
		comp,
		st,
		bus,
		settings,
	)
	if *restore {
		ctrl.LoadLastSession(ctx)
	}

	// Auth service
	authSvc, err := auth.NewService(*cfgDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}
	defer authSvc.Close()

	// HTTP server
	router := api.NewRouter(reg, st, pairMgr, ctrl, authSvc, bus, settings)
	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("lumacast listening", "addr", *addr, "config", *cfgDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	// Stop the rotation before tearing down connections so devices get a
	// clean stop command.
	if err := ctrl.Stop(shutCtx); err != nil {
		slog.Debug("rotation not running at shutdown", "err", err)
	}
	reg.DisconnectAll(shutCtx)

	if err := content.Close(shutCtx); err != nil {
		slog.Warn("content server shutdown error", "err", err)
	}
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}
