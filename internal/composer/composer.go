// Package composer renders an image set into a single looping slideshow
// video. Strategies are ranked: crossfade rendering is preferred when the
// encoder supports it, with a plain cut-based render as fallback.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lumacast/lumacast-go/internal/models"
)

// Params controls a single render.
type Params struct {
	DurationPerImage   time.Duration
	TransitionDuration time.Duration
	Width              int
	Height             int
	FPS                int
	UseTransitions     bool
}

func (p Params) withDefaults() Params {
	if p.Width <= 0 {
		p.Width = 1920
	}
	if p.Height <= 0 {
		p.Height = 1080
	}
	if p.FPS <= 0 {
		p.FPS = 30
	}
	if p.DurationPerImage <= 0 {
		p.DurationPerImage = 5 * time.Second
	}
	if p.TransitionDuration <= 0 {
		p.TransitionDuration = time.Second
	}
	return p
}

// totalFrames is the frame count of the finished video, used for progress.
func (p Params) totalFrames(imageCount int) int {
	seconds := p.DurationPerImage.Seconds() * float64(imageCount)
	if p.UseTransitions && imageCount > 1 {
		seconds -= p.TransitionDuration.Seconds() * float64(imageCount-1)
	}
	return int(seconds * float64(p.FPS))
}

// ProgressFunc receives render progress. Implementations must not block.
type ProgressFunc func(models.ProgressEvent)

// Composer renders images into a video file and returns its path.
type Composer interface {
	Compose(ctx context.Context, images []string, key string, params Params) (string, error)
}

// strategy is one way of producing the video.
type strategy interface {
	name() string
	available() bool
	// supports reports whether the strategy can handle this render.
	supports(images []string, params Params) bool
	compose(ctx context.Context, images []string, outPath string, params Params) error
}

// Manager picks the best available strategy and caches finished renders by
// key so an unchanged image set is not re-encoded every configure call.
type Manager struct {
	outDir     string
	strategies []strategy
	progress   ProgressFunc

	mu    sync.Mutex
	cache map[string]string
}

// NewManager creates a Manager rendering into a fresh temp directory.
// progress may be nil.
func NewManager(progress ProgressFunc) (*Manager, error) {
	dir, err := os.MkdirTemp("", "lumacast_videos_")
	if err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}
	return &Manager{
		outDir: dir,
		strategies: []strategy{
			&ffmpegXfade{},
			&ffmpegConcat{},
		},
		progress: progress,
		cache:    make(map[string]string),
	}, nil
}

// OutDir returns the directory finished videos are written to.
func (m *Manager) OutDir() string { return m.outDir }

// Cleanup removes all rendered videos.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	m.cache = make(map[string]string)
	m.mu.Unlock()
	os.RemoveAll(m.outDir)
}

// Invalidate drops the cached render for key, if any.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path, ok := m.cache[key]; ok {
		os.Remove(path)
		delete(m.cache, key)
	}
}

// Compose renders images into a video, reusing a previous render when the
// same key was already produced and the file is still on disk.
func (m *Manager) Compose(ctx context.Context, images []string, key string, params Params) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("no images to compose")
	}
	params = params.withDefaults()

	m.mu.Lock()
	if path, ok := m.cache[key]; ok {
		if _, err := os.Stat(path); err == nil {
			m.mu.Unlock()
			slog.Debug("composer: reusing cached video", "key", key, "path", path)
			return path, nil
		}
		delete(m.cache, key)
	}
	m.mu.Unlock()

	strat := m.pick(images, params)
	if strat == nil {
		return "", fmt.Errorf("no video encoder available (ffmpeg not found)")
	}

	totalFrames := params.totalFrames(len(images))
	m.emit(models.ProgressEvent{Stage: "starting", TotalFrames: totalFrames})

	outPath := filepath.Join(m.outDir, key+".mp4")
	done := make(chan struct{})
	go m.estimateProgress(done, totalFrames, params)

	slog.Info("composer: rendering video",
		"key", key, "images", len(images), "strategy", strat.name())
	err := strat.compose(ctx, images, outPath, params)
	close(done)
	if err != nil {
		os.Remove(outPath)
		m.emit(models.ProgressEvent{Stage: "error", TotalFrames: totalFrames, Error: err.Error()})
		return "", fmt.Errorf("render video: %w", err)
	}

	m.emit(models.ProgressEvent{Stage: "completed", CurrentFrame: totalFrames, TotalFrames: totalFrames})

	m.mu.Lock()
	m.cache[key] = outPath
	m.mu.Unlock()
	return outPath, nil
}

func (m *Manager) pick(images []string, params Params) strategy {
	for _, s := range m.strategies {
		if s.available() && s.supports(images, params) {
			return s
		}
	}
	return nil
}

// estimateProgress publishes a time-based estimate while the encoder runs.
// Encoding is assumed to take roughly twice the video's play time; the
// estimate never reports more than 95% until the render actually finishes.
func (m *Manager) estimateProgress(done <-chan struct{}, totalFrames int, params Params) {
	if m.progress == nil || totalFrames <= 0 {
		return
	}
	expected := 2 * time.Duration(totalFrames) * time.Second / time.Duration(params.FPS)
	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			frac := float64(time.Since(start)) / float64(expected)
			if frac > 0.95 {
				frac = 0.95
			}
			m.emit(models.ProgressEvent{
				Stage:        "creating",
				CurrentFrame: int(frac * float64(totalFrames)),
				TotalFrames:  totalFrames,
			})
		}
	}
}

func (m *Manager) emit(ev models.ProgressEvent) {
	if m.progress != nil {
		m.progress(ev)
	}
}
