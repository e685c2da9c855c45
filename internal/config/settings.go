// Package config holds runtime settings for the lumacast daemon.
// Every setting has a sensible default and may be overridden by a
// LUMACAST_-prefixed environment variable.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings are the tunable parameters of the daemon.
type Settings struct {
	// Discovery and connection
	ScanTimeout          time.Duration // device discovery window
	ConnectTimeout       time.Duration // per-attempt connection bound
	PairedConnectTimeout time.Duration // longer bound for the connect right after pairing
	ReconnectAttempts    int
	ReconnectDelay       time.Duration
	HealthCheckInterval  time.Duration

	// Rotation
	DefaultDisplayTime time.Duration
	MaxDisplays        int
	CycleBuffer        time.Duration // slack added to composite cycle sleeps

	// Content
	DefaultImagesDir string // base directory offered for browsing

	// Artifact preparation
	SupportedImageFormats []string
	MaxImageWidth         int
	MaxImageHeight        int
	ImageQuality          int // JPEG quality
	MaxPublishedArtifacts int // content server table bound

	// Devices occasionally report the play feature as unavailable even though
	// streaming works. When true, a play is still attempted in that state.
	PlayOnUnavailable bool
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		ScanTimeout:           5 * time.Second,
		ConnectTimeout:        10 * time.Second,
		PairedConnectTimeout:  15 * time.Second,
		ReconnectAttempts:     3,
		ReconnectDelay:        2 * time.Second,
		HealthCheckInterval:   30 * time.Second,
		DefaultDisplayTime:    5 * time.Second,
		MaxDisplays:           16,
		CycleBuffer:           5 * time.Second,
		DefaultImagesDir:      "./images",
		SupportedImageFormats: []string{".jpg", ".jpeg", ".png", ".gif"},
		MaxImageWidth:         3840,
		MaxImageHeight:        2160,
		ImageQuality:          85,
		MaxPublishedArtifacts: 256,
		PlayOnUnavailable:     true,
	}
}

// FromEnv returns Default overridden by any LUMACAST_* environment variables.
func FromEnv() Settings {
	s := Default()
	envSeconds("LUMACAST_SCAN_TIMEOUT", &s.ScanTimeout)
	envSeconds("LUMACAST_CONNECT_TIMEOUT", &s.ConnectTimeout)
	envSeconds("LUMACAST_PAIRED_CONNECT_TIMEOUT", &s.PairedConnectTimeout)
	envInt("LUMACAST_RECONNECT_ATTEMPTS", &s.ReconnectAttempts)
	envSeconds("LUMACAST_RECONNECT_DELAY", &s.ReconnectDelay)
	envSeconds("LUMACAST_HEALTH_CHECK_INTERVAL", &s.HealthCheckInterval)
	envSeconds("LUMACAST_DEFAULT_DISPLAY_TIME", &s.DefaultDisplayTime)
	envInt("LUMACAST_MAX_DISPLAYS", &s.MaxDisplays)
	envString("LUMACAST_IMAGES_DIR", &s.DefaultImagesDir)
	envInt("LUMACAST_MAX_IMAGE_WIDTH", &s.MaxImageWidth)
	envInt("LUMACAST_MAX_IMAGE_HEIGHT", &s.MaxImageHeight)
	envInt("LUMACAST_IMAGE_QUALITY", &s.ImageQuality)
	envInt("LUMACAST_MAX_PUBLISHED_ARTIFACTS", &s.MaxPublishedArtifacts)
	envBool("LUMACAST_PLAY_ON_UNAVAILABLE", &s.PlayOnUnavailable)
	return s
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envSeconds(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}
