// Package store persists the device catalog, device credentials, and
// resumable rotation sessions. Credentials are encrypted at rest.
package store

import (
	"context"

	"github.com/lumacast/lumacast-go/internal/models"
)

// Store is the interface for the persistent device catalog.
type Store interface {
	// Device returns the device with the given id, or nil if unknown.
	// Credentials are returned decrypted.
	Device(ctx context.Context, id string) (*models.Device, error)

	// Devices returns all known devices ordered by name. Credentials are
	// omitted.
	Devices(ctx context.Context) ([]models.Device, error)

	// UpsertDevice inserts or replaces a device by id.
	UpsertDevice(ctx context.Context, d models.Device) error

	// RemoveDevice deletes a device from the catalog.
	RemoveDevice(ctx context.Context, id string) error

	// UpdateStatus records the active flag and last-connected time.
	// attempts < 0 leaves the connection-attempt counter untouched.
	UpdateStatus(ctx context.Context, id string, active bool, attempts int) error

	// UpdateCredentials stores a new credential blob for the device.
	UpdateCredentials(ctx context.Context, id, credentials string) error

	// SaveSession persists a rotation configuration for later resumption.
	SaveSession(ctx context.Context, rec models.SessionRecord) error

	// LastSession returns the most recently saved session, or nil.
	LastSession(ctx context.Context) (*models.SessionRecord, error)

	// Close releases the underlying resources.
	Close() error
}
