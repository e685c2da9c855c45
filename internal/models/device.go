// Package models defines the data structures shared across the lumacast
// daemon. JSON field names match the original wire format of the control
// surface for compatibility with existing front-ends.
package models

import "time"

// Device is a display device known to the system, either discovered on the
// network or loaded from the persistent catalog.
type Device struct {
	ID                 string    `json:"device_id"`
	Name               string    `json:"name"`
	Address            string    `json:"address"`
	Port               int       `json:"port"`
	Type               string    `json:"device_type"`
	Credentials        string    `json:"-"` // decrypted in memory, never serialized
	LastConnected      time.Time `json:"last_connected"`
	IsActive           bool      `json:"is_active"`
	ConnectionAttempts int       `json:"connection_attempts"`
}

// SessionRecord is a resumable rotation configuration.
type SessionRecord struct {
	Name            string   `json:"session_name"`
	ImagesDirectory string   `json:"images_directory"`
	DisplayTime     int      `json:"display_time"` // seconds
	DeviceIDs       []string `json:"active_devices"`
}

// Stats accumulates counters for one rotation run.
type Stats struct {
	StartedAt       time.Time `json:"started_at"`
	ImagesDisplayed int       `json:"images_displayed"`
	CyclesCompleted int       `json:"cycles_completed"`
	Errors          int       `json:"errors"`
}

// RotationStatus is a snapshot of the rotation controller state.
type RotationStatus struct {
	IsRunning          bool     `json:"is_running"`
	ImagesDirectory    string   `json:"images_directory"`
	ImagesCount        int      `json:"images_count"`
	ActiveDevices      []string `json:"active_devices"`
	DisplayTime        int      `json:"display_time"` // seconds
	CurrentIndex       int      `json:"current_index"`
	VideoMode          bool     `json:"video_mode"`
	TransitionDuration float64  `json:"transition_duration"` // seconds
	Stats              Stats    `json:"stats"`
	ConnectedDevices   []string `json:"connected_devices"`
}
