// Package pairing runs the per-device pairing handshake that produces
// durable credentials. At most one handshake exists per device; sessions are
// torn down on every exit path, success or failure.
package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumacast/lumacast-go/internal/config"
	"github.com/lumacast/lumacast-go/internal/models"
	"github.com/lumacast/lumacast-go/internal/protocol"
	"github.com/lumacast/lumacast-go/internal/store"
)

// Connector is the slice of the registry the pairing flow needs to establish
// the first credentialed connection after a successful handshake.
type Connector interface {
	ConnectWithTimeout(ctx context.Context, id, credentials string, timeout time.Duration) bool
}

// session is one in-flight handshake.
type session struct {
	handshake  protocol.Handshake
	descriptor protocol.Descriptor
	device     models.Device
}

// StartResult reports how the handshake proceeds: whether the device shows
// the PIN on its own screen, plus its display name for prompts.
type StartResult struct {
	DeviceProvidesPIN bool
	DeviceName        string
}

// Manager owns all in-flight pairing sessions.
type Manager struct {
	scanner   protocol.Scanner
	pairer    protocol.Pairer
	store     store.Store
	connector Connector
	settings  config.Settings

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a pairing Manager.
func NewManager(scanner protocol.Scanner, pairer protocol.Pairer, st store.Store, connector Connector, settings config.Settings) *Manager {
	return &Manager{
		scanner:   scanner,
		pairer:    pairer,
		store:     st,
		connector: connector,
		settings:  settings,
		sessions:  make(map[string]*session),
	}
}

// Start begins a pairing handshake with a device. The device is re-discovered
// first: pairing requirements are only reported on live descriptors, never on
// catalog entries.
func (m *Manager) Start(ctx context.Context, id string) (*StartResult, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("pairing already in progress for device %s", id)
	}
	m.mu.Unlock()

	device, err := m.store.Device(ctx, id)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("device %s not found", id)
	}

	lctx, cancel := context.WithTimeout(ctx, m.settings.ScanTimeout)
	defer cancel()
	desc, err := m.scanner.Lookup(lctx, id)
	if err != nil {
		return nil, fmt.Errorf("discovery lookup failed: %w", err)
	}
	if desc == nil {
		return nil, fmt.Errorf("device %s not found during scan", id)
	}
	if !desc.HasService(protocol.ServiceAirPlay) {
		return nil, fmt.Errorf("device %s does not advertise a streaming service", id)
	}

	switch desc.Pairing {
	case protocol.PairingNotNeeded:
		return nil, fmt.Errorf("pairing not required for device %s", id)
	case protocol.PairingUnsupported:
		return nil, fmt.Errorf("pairing not supported for device %s", id)
	case protocol.PairingDisabled:
		return nil, fmt.Errorf("pairing is disabled on device %s; check its streaming settings", id)
	}

	handshake, err := m.pairer.Pair(ctx, *desc)
	if err != nil {
		return nil, fmt.Errorf("begin pairing: %w", err)
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		_ = handshake.Close()
		return nil, fmt.Errorf("pairing already in progress for device %s", id)
	}
	m.sessions[id] = &session{handshake: handshake, descriptor: *desc, device: *device}
	m.mu.Unlock()

	slog.Info("pairing: started", "device", id, "name", device.Name,
		"device_provides_pin", handshake.DeviceProvidesPIN())
	return &StartResult{
		DeviceProvidesPIN: handshake.DeviceProvidesPIN(),
		DeviceName:        device.Name,
	}, nil
}

// Complete submits the PIN, finalizes the handshake, persists the returned
// credentials, and immediately connects with them. The session is removed and
// the handshake released on every path out of this function.
func (m *Manager) Complete(ctx context.Context, id, pin string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		slog.Error("pairing: no active session", "device", id)
		return false
	}

	// Validate before touching the device.
	if !validPIN(pin) {
		slog.Error("pairing: invalid PIN format", "device", id)
		return false
	}

	defer m.teardown(id, sess)

	if err := sess.handshake.PIN(pin); err != nil {
		slog.Error("pairing: submit PIN", "device", id, "err", err)
		return false
	}
	if err := sess.handshake.Finish(ctx); err != nil {
		slog.Error("pairing: finish handshake", "device", id, "err", err)
		return false
	}
	if !sess.handshake.HasPaired() {
		slog.Error("pairing: handshake completed without credentials", "device", id)
		return false
	}

	credentials := sess.handshake.Credentials()
	if err := m.store.UpdateCredentials(ctx, id, credentials); err != nil {
		slog.Error("pairing: persist credentials", "device", id, "err", err)
		return false
	}

	if !m.connector.ConnectWithTimeout(ctx, id, credentials, m.settings.PairedConnectTimeout) {
		slog.Error("pairing: connect after pairing failed", "device", id)
		return false
	}

	slog.Info("pairing: paired and connected", "device", id)
	return true
}

// Cancel aborts an in-flight handshake. Returns false if none existed.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := sess.handshake.Close(); err != nil {
		slog.Warn("pairing: close handshake on cancel", "device", id, "err", err)
	}
	slog.Info("pairing: cancelled", "device", id)
	return true
}

// Active reports whether a pairing session exists for the device.
func (m *Manager) Active(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

func (m *Manager) teardown(id string, sess *session) {
	if err := sess.handshake.Close(); err != nil {
		slog.Warn("pairing: close handshake", "device", id, "err", err)
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// validPIN requires exactly four numeric digits.
func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
