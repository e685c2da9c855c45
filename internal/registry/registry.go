// Package registry owns the catalog of known devices and their live
// connections. All exported methods are safe to call concurrently.
//
// Transport failures are expected here: they are logged, reflected in the
// persisted device status, and reported as boolean results. Only programming
// errors propagate.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lumacast/lumacast-go/internal/config"
	"github.com/lumacast/lumacast-go/internal/models"
	"github.com/lumacast/lumacast-go/internal/protocol"
	"github.com/lumacast/lumacast-go/internal/store"
)

// AuthCallback is invoked when a connect attempt surfaces a pairing
// requirement instead of failing outright.
type AuthCallback func(deviceID, reason string)

// connection tracks one live session.
type connection struct {
	session     protocol.Session
	device      models.Device
	connectedAt time.Time
}

// Registry is the device catalog plus the live connection map.
type Registry struct {
	store    store.Store
	scanner  protocol.Scanner
	dialer   protocol.Dialer
	settings config.Settings

	mu            sync.Mutex
	discovered    map[string]models.Device
	conns         map[string]*connection
	authCallbacks map[string]AuthCallback
	defaultAuth   AuthCallback
}

// New creates a Registry.
func New(st store.Store, scanner protocol.Scanner, dialer protocol.Dialer, settings config.Settings) *Registry {
	return &Registry{
		store:         st,
		scanner:       scanner,
		dialer:        dialer,
		settings:      settings,
		discovered:    make(map[string]models.Device),
		conns:         make(map[string]*connection),
		authCallbacks: make(map[string]AuthCallback),
	}
}

// Scan discovers devices for the given window, keeps only those advertising
// the streaming protocol, and upserts each into the persistent catalog.
func (r *Registry) Scan(ctx context.Context, timeout time.Duration) ([]models.Device, error) {
	if timeout <= 0 {
		timeout = r.settings.ScanTimeout
	}
	slog.Info("registry: scanning for devices", "timeout", timeout)

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	descriptors, err := r.scanner.Scan(sctx)
	if err != nil {
		slog.Error("registry: scan failed", "err", err)
		return nil, err
	}

	var found []models.Device
	for _, desc := range descriptors {
		if !desc.HasService(protocol.ServiceAirPlay) {
			slog.Debug("registry: skipping device without streaming service", "device", desc.ID)
			continue
		}
		d := models.Device{
			ID:      desc.ID,
			Name:    desc.Name,
			Address: desc.Address,
			Port:    desc.Port,
			Type:    protocol.ServiceAirPlay,
		}
		r.mu.Lock()
		r.discovered[d.ID] = d
		r.mu.Unlock()

		if err := r.store.UpsertDevice(ctx, d); err != nil {
			slog.Error("registry: persist discovered device", "device", d.ID, "err", err)
		}
		found = append(found, d)
	}

	slog.Info("registry: scan complete", "found", len(found))
	return found, nil
}

// Connect establishes a session to a known device using the default timeout.
// Stored credentials take precedence over the argument. Returns false on any
// failure; a failure that looks like a pairing requirement additionally fires
// the device's authentication callback.
func (r *Registry) Connect(ctx context.Context, id, credentials string) bool {
	return r.connect(ctx, id, credentials, r.settings.ConnectTimeout)
}

// ConnectWithTimeout is Connect with an explicit bound, used for the longer
// post-pairing connect.
func (r *Registry) ConnectWithTimeout(ctx context.Context, id, credentials string, timeout time.Duration) bool {
	return r.connect(ctx, id, credentials, timeout)
}

func (r *Registry) connect(ctx context.Context, id, credentials string, timeout time.Duration) bool {
	device := r.resolveDevice(ctx, id)
	if device == nil {
		slog.Error("registry: device not found", "device", id)
		return false
	}
	if device.Credentials != "" {
		credentials = device.Credentials
	}

	desc := protocol.Descriptor{
		ID:       device.ID,
		Name:     device.Name,
		Address:  device.Address,
		Port:     device.Port,
		Services: []string{protocol.ServiceAirPlay},
	}

	slog.Info("registry: connecting", "device", id, "name", device.Name, "addr", device.Address)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := r.dialer.Connect(cctx, desc, credentials)
	if err != nil {
		r.markInactive(ctx, id)
		if cctx.Err() != nil {
			slog.Error("registry: connection timeout", "device", id, "timeout", timeout)
			return false
		}
		slog.Error("registry: connection failed", "device", id, "err", err)
		if needsPairing(err) {
			slog.Info("registry: device requires pairing", "device", id)
			r.fireAuthCallback(id, "device requires pairing")
		}
		return false
	}

	r.mu.Lock()
	if old, ok := r.conns[id]; ok {
		_ = old.session.Close()
	}
	r.conns[id] = &connection{session: session, device: *device, connectedAt: time.Now()}
	r.mu.Unlock()

	if err := r.store.UpdateStatus(ctx, id, true, 0); err != nil {
		slog.Warn("registry: persist status", "device", id, "err", err)
	}
	slog.Info("registry: connected", "device", id, "name", device.Name)
	return true
}

// resolveDevice finds device info: persisted catalog first, then the
// discovered-but-unsaved cache.
func (r *Registry) resolveDevice(ctx context.Context, id string) *models.Device {
	if d, err := r.store.Device(ctx, id); err == nil && d != nil {
		return d
	} else if err != nil {
		slog.Warn("registry: catalog lookup failed", "device", id, "err", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.discovered[id]; ok {
		cp := d
		return &cp
	}
	return nil
}

// Disconnect releases the device's connection. Idempotent.
func (r *Registry) Disconnect(ctx context.Context, id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := conn.session.Close(); err != nil {
		slog.Warn("registry: close session", "device", id, "err", err)
	}
	r.markInactive(ctx, id)
	slog.Info("registry: disconnected", "device", id)
}

// DisconnectAll releases every live connection.
func (r *Registry) DisconnectAll(ctx context.Context) {
	for _, id := range r.ConnectedIDs() {
		r.Disconnect(ctx, id)
	}
}

// Reconnect disconnects (if connected) and retries the connection up to the
// configured attempt count with a fixed delay between attempts.
func (r *Registry) Reconnect(ctx context.Context, id string) bool {
	if r.IsConnected(id) {
		r.Disconnect(ctx, id)
	}

	attempts := r.settings.ReconnectAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		slog.Info("registry: reconnection attempt", "device", id, "attempt", attempt, "of", attempts)
		if r.Connect(ctx, id, "") {
			return true
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(r.settings.ReconnectDelay):
			}
		}
	}
	slog.Error("registry: reconnection failed", "device", id, "attempts", attempts)
	return false
}

// HealthCheck marks invalid connections inactive and schedules background
// reconnects. It never blocks on reconnection itself.
func (r *Registry) HealthCheck(ctx context.Context) {
	r.mu.Lock()
	stale := make([]string, 0)
	for id, conn := range r.conns {
		if conn.session == nil || !conn.session.Valid() {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	for _, id := range stale {
		slog.Warn("registry: device appears disconnected", "device", id)
		r.markInactive(ctx, id)
		go r.Reconnect(context.WithoutCancel(ctx), id)
	}
}

// Run performs periodic health checks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.settings.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.HealthCheck(ctx)
		}
	}
}

// IsConnected reports whether the device has a live connection.
func (r *Registry) IsConnected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// ConnectedIDs returns the ids of all live connections, sorted for
// deterministic iteration.
func (r *Registry) ConnectedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Session returns the live session for a device.
func (r *Registry) Session(id string) (protocol.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return conn.session, true
}

// DeviceInfo returns device details, preferring live connection state over
// the persisted catalog over the discovery cache.
func (r *Registry) DeviceInfo(ctx context.Context, id string) *models.Device {
	r.mu.Lock()
	if conn, ok := r.conns[id]; ok {
		d := conn.device
		d.IsActive = true
		d.LastConnected = conn.connectedAt
		r.mu.Unlock()
		return &d
	}
	r.mu.Unlock()
	return r.resolveDevice(ctx, id)
}

// RegisterAuthCallback registers a per-device pairing-required callback.
func (r *Registry) RegisterAuthCallback(id string, cb AuthCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authCallbacks[id] = cb
}

// SetDefaultAuthCallback registers the fallback pairing-required callback
// used for devices without a specific one.
func (r *Registry) SetDefaultAuthCallback(cb AuthCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultAuth = cb
}

func (r *Registry) fireAuthCallback(id, reason string) {
	r.mu.Lock()
	cb, ok := r.authCallbacks[id]
	if !ok {
		cb = r.defaultAuth
	}
	r.mu.Unlock()
	if cb != nil {
		cb(id, reason)
	}
}

func (r *Registry) markInactive(ctx context.Context, id string) {
	if err := r.store.UpdateStatus(ctx, id, false, -1); err != nil {
		slog.Warn("registry: persist inactive status", "device", id, "err", err)
	}
}

// needsPairing reports whether a connection error indicates the device wants
// an authentication/pairing exchange rather than being unreachable.
func needsPairing(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"authentication", "pin", "pairing", "credentials"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
