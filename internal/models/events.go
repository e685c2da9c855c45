package models

import "time"

// Event is one of the three closed event variants published on the bus:
// StatusEvent, ErrorEvent, or ProgressEvent.
type Event interface {
	// EventName is the SSE event name the variant is delivered under.
	EventName() string
}

// Status event kinds.
const (
	StatusConfigurationUpdated   = "configuration_updated"
	StatusSlideshowStarted       = "slideshow_started"
	StatusSlideshowStopped       = "slideshow_stopped"
	StatusCycleCompleted         = "cycle_completed"
	StatusImagesDisplayed        = "images_displayed"
	StatusVideoSlideshowRunning  = "video_slideshow_running"
	StatusDisplayTimeUpdated     = "display_time_updated"
	StatusAuthenticationRequired = "authentication_required"
)

// StatusEvent reports a rotation state change. Kind selects which payload
// fields are populated.
type StatusEvent struct {
	Kind               string            `json:"type"`
	ImagesCount        int               `json:"images_count,omitempty"`
	DevicesCount       int               `json:"devices_count,omitempty"`
	DisplayTime        int               `json:"display_time,omitempty"`
	Directory          string            `json:"directory,omitempty"`
	VideoMode          bool              `json:"video_mode,omitempty"`
	TransitionDuration float64           `json:"transition_duration,omitempty"`
	StartedAt          string            `json:"started_at,omitempty"`
	StoppedAt          string            `json:"stopped_at,omitempty"`
	Cycles             int               `json:"cycles,omitempty"`
	CurrentIndex       int               `json:"current_index,omitempty"`
	Distribution       map[string]string `json:"distribution,omitempty"`
	DevicesStreaming   int               `json:"devices_streaming,omitempty"`
	DeviceID           string            `json:"device_id,omitempty"`
	Message            string            `json:"message,omitempty"`
	Stats              *Stats            `json:"stats,omitempty"`
}

func (StatusEvent) EventName() string { return "status" }

// ErrorEvent reports a failure, optionally scoped to one device.
type ErrorEvent struct {
	Message   string    `json:"message"`
	DeviceID  string    `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (ErrorEvent) EventName() string { return "error" }

// ProgressEvent reports composite artifact preparation progress.
type ProgressEvent struct {
	Stage        string `json:"stage"` // "starting" | "creating" | "completed" | "error"
	CurrentFrame int    `json:"current_frame"`
	TotalFrames  int    `json:"total_frames"`
	Error        string `json:"error,omitempty"`
}

func (ProgressEvent) EventName() string { return "progress" }
