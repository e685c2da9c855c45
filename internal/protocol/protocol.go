// Package protocol defines the discovery/connect/pair/stream capability
// surface the rest of the daemon is written against, plus the mDNS-based
// discovery implementation. The wire protocol itself is pluggable: the
// registry consumes Scanner/Dialer/Pairer and never touches transports
// directly.
package protocol

import "context"

// Service names a streaming protocol a device advertises.
const ServiceAirPlay = "AirPlay"

// Feature names queried on a live session.
const (
	FeaturePlayURL    = "play_url"
	FeatureStreamFile = "stream_file"
)

// FeatureState is the reported availability of a session feature.
type FeatureState int

const (
	FeatureUnknown FeatureState = iota
	FeatureAvailable
	FeatureUnavailable
	FeatureUnsupported
)

func (s FeatureState) String() string {
	switch s {
	case FeatureAvailable:
		return "available"
	case FeatureUnavailable:
		return "unavailable"
	case FeatureUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// PairingRequirement is what a live descriptor reports about pairing.
type PairingRequirement int

const (
	PairingMandatory PairingRequirement = iota
	PairingNotNeeded
	PairingUnsupported
	PairingDisabled
)

// Descriptor describes a discovered device. Pairing requirements are only
// trustworthy on descriptors freshly returned by a Scanner, never on cached
// or persisted copies.
type Descriptor struct {
	ID       string
	Name     string
	Address  string
	Port     int
	Services []string
	Pairing  PairingRequirement
}

// HasService reports whether the descriptor advertises the named protocol.
func (d Descriptor) HasService(name string) bool {
	for _, s := range d.Services {
		if s == name {
			return true
		}
	}
	return false
}

// Scanner discovers devices on the local network.
type Scanner interface {
	// Scan browses for devices until ctx is done and returns everything found.
	Scan(ctx context.Context) ([]Descriptor, error)

	// Lookup re-discovers a single device by id for a fresh descriptor.
	Lookup(ctx context.Context, id string) (*Descriptor, error)
}

// Session is a live streaming connection to one device.
type Session interface {
	// PlayURL asks the device to fetch and display/play the artifact at url.
	PlayURL(ctx context.Context, url string) error

	// Stop halts playback.
	Stop(ctx context.Context) error

	// Feature returns the cached state of a named session feature.
	Feature(name string) FeatureState

	// Valid reports whether the session is still usable.
	Valid() bool

	// Close tears the session down. Idempotent.
	Close() error
}

// Dialer establishes sessions. Credentials may be empty for unpaired devices.
type Dialer interface {
	Connect(ctx context.Context, desc Descriptor, credentials string) (Session, error)
}

// Handshake is an in-progress pairing exchange.
type Handshake interface {
	// DeviceProvidesPIN reports whether the device displays the PIN (true) or
	// expects this side to show one.
	DeviceProvidesPIN() bool

	// PIN submits the PIN before Finish.
	PIN(pin string) error

	// Finish completes the exchange.
	Finish(ctx context.Context) error

	// HasPaired reports whether Finish produced usable credentials.
	HasPaired() bool

	// Credentials returns the durable credential blob after a successful pair.
	Credentials() string

	// Close releases handshake resources. Idempotent, safe on failure paths.
	Close() error
}

// Pairer starts pairing handshakes.
type Pairer interface {
	Pair(ctx context.Context, desc Descriptor) (Handshake, error)
}
