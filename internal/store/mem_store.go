package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumacast/lumacast-go/internal/models"
)

// MemStore is an in-memory Store used in tests and for ephemeral runs.
type MemStore struct {
	mu       sync.Mutex
	devices  map[string]models.Device
	sessions []models.SessionRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{devices: make(map[string]models.Device)}
}

func (m *MemStore) Device(_ context.Context, id string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, nil
	}
	cp := d
	return &cp, nil
}

func (m *MemStore) Devices(context.Context) ([]models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		d.Credentials = ""
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) UpsertDevice(_ context.Context, d models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.devices[d.ID]; ok && d.Credentials == "" {
		d.Credentials = prev.Credentials
	}
	d.LastConnected = time.Now()
	m.devices[d.ID] = d
	return nil
}

func (m *MemStore) RemoveDevice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, id)
	return nil
}

func (m *MemStore) UpdateStatus(_ context.Context, id string, active bool, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil
	}
	d.IsActive = active
	d.LastConnected = time.Now()
	if attempts >= 0 {
		d.ConnectionAttempts = attempts
	}
	m.devices[id] = d
	return nil
}

func (m *MemStore) UpdateCredentials(_ context.Context, id, credentials string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil
	}
	d.Credentials = credentials
	m.devices[id] = d
	return nil
}

func (m *MemStore) SaveSession(_ context.Context, rec models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, rec)
	return nil
}

func (m *MemStore) LastSession(context.Context) (*models.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil, nil
	}
	cp := m.sessions[len(m.sessions)-1]
	return &cp, nil
}

func (m *MemStore) Close() error { return nil }

// Ensure MemStore implements Store.
var _ Store = (*MemStore)(nil)
