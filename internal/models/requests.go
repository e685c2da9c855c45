package models

// DeviceRequest addresses an operation at a single device.
type DeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// CompletePairingRequest carries the PIN for an in-flight pairing.
type CompletePairingRequest struct {
	DeviceID string `json:"device_id"`
	PIN      string `json:"pin"`
}

// ConfigureRequest configures a rotation.
type ConfigureRequest struct {
	ImagesDirectory    string   `json:"images_directory"`
	Devices            []string `json:"devices"`
	DisplayTime        int      `json:"display_time"`         // seconds, 0 = default
	VideoMode          bool     `json:"video_mode"`           // composite mode
	TransitionDuration float64  `json:"transition_duration"`  // seconds
}

// DisplayTimeRequest updates the tick interval of a running rotation.
type DisplayTimeRequest struct {
	DisplayTime int `json:"display_time"` // seconds
}

// PairingStartedResponse is returned when a pairing handshake begins.
type PairingStartedResponse struct {
	Success           bool   `json:"success"`
	DeviceProvidesPIN bool   `json:"device_provides_pin"`
	DeviceName        string `json:"device_name"`
}
