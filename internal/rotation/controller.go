// Package rotation implements the orchestration core: it owns the rotation
// state (offset, active device set, content set, mode), drives the timed
// loop, and coordinates the registry, dispatcher, and content server.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/lumacast/lumacast-go/internal/artifacts"
	"github.com/lumacast/lumacast-go/internal/composer"
	"github.com/lumacast/lumacast-go/internal/config"
	"github.com/lumacast/lumacast-go/internal/models"
)

// Fleet is the slice of the device registry the controller uses.
type Fleet interface {
	ConnectedIDs() []string
	IsConnected(id string) bool
	Reconnect(ctx context.Context, id string) bool
}

// Dispatcher fans play/stop commands out to devices.
type Dispatcher interface {
	PlayMany(ctx context.Context, assignments map[string]string) map[string]bool
	StopAll(ctx context.Context, ids []string) map[string]bool
}

// SessionStore persists resumable rotation configurations.
type SessionStore interface {
	SaveSession(ctx context.Context, rec models.SessionRecord) error
	LastSession(ctx context.Context) (*models.SessionRecord, error)
}

// EventSink receives controller events. Publish must not block.
type EventSink interface {
	Publish(ev models.Event)
}

// StateError reports a control operation issued in an incompatible run
// state, as opposed to a bad request.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return e.Msg }

func errWrongState(msg string) error { return &StateError{Msg: msg} }

// PrepareFunc converts a source image into a delivery-ready local file.
type PrepareFunc func(path string) (string, error)

// PublishFunc registers a local file with the content server and returns
// the URL devices fetch it from.
type PublishFunc func(path string) (string, error)

// configState is the immutable result of one successful Configure call.
// Replaced wholesale on reconfiguration.
type configState struct {
	directory  string
	images     []string
	devices    []string
	videoMode  bool
	transition time.Duration
}

// Controller drives the rotation. All control operations are safe to call
// while the loop is running; the loop reads offset and interval at tick
// boundaries under the same lock the control operations take.
type Controller struct {
	fleet    Fleet
	dispatch Dispatcher
	prepare  PrepareFunc
	publish  PublishFunc
	composer composer.Composer
	sessions SessionStore
	bus      EventSink
	settings config.Settings

	mu          sync.Mutex
	cfg         *configState
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	offset      int
	displayTime time.Duration
	stats       models.Stats
}

// New creates a Controller. composer may be nil when composite mode is not
// needed (Configure will reject video mode in that case).
func New(
	fleet Fleet,
	dispatch Dispatcher,
	prepare PrepareFunc,
	publish PublishFunc,
	comp composer.Composer,
	sessions SessionStore,
	bus EventSink,
	settings config.Settings,
) *Controller {
	return &Controller{
		fleet:       fleet,
		dispatch:    dispatch,
		prepare:     prepare,
		publish:     publish,
		composer:    comp,
		sessions:    sessions,
		bus:         bus,
		settings:    settings,
		displayTime: settings.DefaultDisplayTime,
	}
}

// Configure validates and installs a new rotation configuration. The content
// set and device list are replaced atomically: any validation failure leaves
// the previous configuration untouched. Never starts the loop.
func (c *Controller) Configure(ctx context.Context, req models.ConfigureRequest) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errWrongState("slideshow is running, stop it before reconfiguring")
	}
	c.mu.Unlock()

	if len(req.Devices) == 0 {
		return fmt.Errorf("no devices specified")
	}
	if len(req.Devices) > c.settings.MaxDisplays {
		return fmt.Errorf("too many devices: %d requested, %d supported", len(req.Devices), c.settings.MaxDisplays)
	}
	if req.VideoMode && c.composer == nil {
		return fmt.Errorf("video mode is not available")
	}

	images, err := artifacts.LoadLibrary(req.ImagesDirectory, c.settings.SupportedImageFormats)
	if err != nil {
		return err
	}

	connected := 0
	for _, id := range req.Devices {
		if c.fleet.IsConnected(id) {
			connected++
		}
	}
	if connected == 0 {
		return fmt.Errorf("none of the requested devices are connected")
	}
	if connected < len(req.Devices) {
		slog.Warn("rotation: some requested devices are not connected",
			"requested", len(req.Devices), "connected", connected)
	}

	displayTime := c.settings.DefaultDisplayTime
	if req.DisplayTime > 0 {
		displayTime = time.Duration(req.DisplayTime) * time.Second
	}

	cfg := &configState{
		directory:  req.ImagesDirectory,
		images:     images,
		devices:    slices.Clone(req.Devices),
		videoMode:  req.VideoMode,
		transition: time.Duration(req.TransitionDuration * float64(time.Second)),
	}

	// Re-check under the lock: Start may have raced through while the lock
	// was released for validation I/O. Installing would swap the config out
	// from under a live loop.
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errWrongState("slideshow is running, stop it before reconfiguring")
	}
	c.cfg = cfg
	c.offset = 0
	c.displayTime = displayTime
	c.mu.Unlock()

	rec := models.SessionRecord{
		Name:            filepath.Base(req.ImagesDirectory),
		ImagesDirectory: req.ImagesDirectory,
		DisplayTime:     int(displayTime.Seconds()),
		DeviceIDs:       cfg.devices,
	}
	if err := c.sessions.SaveSession(ctx, rec); err != nil {
		slog.Error("rotation: failed to persist session", "err", err)
	}

	slog.Info("rotation: configured",
		"directory", req.ImagesDirectory,
		"images", len(images),
		"devices", len(cfg.devices),
		"display_time", displayTime,
		"video_mode", req.VideoMode)

	c.bus.Publish(models.StatusEvent{
		Kind:               models.StatusConfigurationUpdated,
		ImagesCount:        len(images),
		DevicesCount:       len(cfg.devices),
		DisplayTime:        int(displayTime.Seconds()),
		Directory:          req.ImagesDirectory,
		VideoMode:          req.VideoMode,
		TransitionDuration: req.TransitionDuration,
	})
	return nil
}

// Start spawns the rotation loop. Fails if already running or unconfigured.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("slideshow is already running")
	}
	if c.cfg == nil || len(c.cfg.images) == 0 || len(c.cfg.devices) == 0 {
		return fmt.Errorf("slideshow is not configured")
	}

	// The loop outlives the request that started it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.stats = models.Stats{StartedAt: time.Now()}

	go c.run(loopCtx, c.done)

	slog.Info("rotation: started", "images", len(c.cfg.images), "devices", len(c.cfg.devices))
	c.bus.Publish(models.StatusEvent{
		Kind:         models.StatusSlideshowStarted,
		ImagesCount:  len(c.cfg.images),
		DevicesCount: len(c.cfg.devices),
		DisplayTime:  int(c.displayTime.Seconds()),
		StartedAt:    c.stats.StartedAt.Format(time.RFC3339),
	})
	return nil
}

// Stop cancels the loop, waits for it to acknowledge, then issues a stop
// command to every active device. Fails if not running.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("slideshow is not running")
	}
	cancel := c.cancel
	done := c.done
	devices := slices.Clone(c.cfg.devices)
	c.mu.Unlock()

	// Await loop termination before stopping playback so the loop cannot
	// issue another play after our stop.
	cancel()
	<-done

	c.dispatch.StopAll(ctx, devices)

	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.done = nil
	stats := c.stats
	c.mu.Unlock()

	slog.Info("rotation: stopped",
		"images_displayed", stats.ImagesDisplayed,
		"cycles", stats.CyclesCompleted,
		"errors", stats.Errors)
	c.bus.Publish(models.StatusEvent{
		Kind:      models.StatusSlideshowStopped,
		StoppedAt: time.Now().Format(time.RFC3339),
		Stats:     &stats,
	})
	return nil
}

// Advance moves the offset forward by one fleet-sized block. The change is
// consumed by the next loop tick. Fails if not running.
func (c *Controller) Advance() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return fmt.Errorf("slideshow is not running")
	}
	m := len(c.cfg.images)
	c.offset += len(c.cfg.devices)
	if c.offset >= m {
		c.offset = 0
	}
	slog.Debug("rotation: advanced", "offset", c.offset)
	return nil
}

// Rewind moves the offset back to the start of the previous complete
// fleet-sized block, wrapping from 0 to the last complete block.
// Fails if not running.
func (c *Controller) Rewind() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return fmt.Errorf("slideshow is not running")
	}
	n := len(c.cfg.devices)
	m := len(c.cfg.images)
	next := c.offset - n
	if next < 0 {
		if c.offset == 0 {
			next = lastCompleteBlock(m, n)
		} else {
			next = 0
		}
	}
	c.offset = next
	slog.Debug("rotation: rewound", "offset", c.offset)
	return nil
}

// lastCompleteBlock returns the start index of the last block of n items
// that fits entirely within m items. Zero when no complete block fits.
func lastCompleteBlock(m, n int) int {
	if n <= 0 || m < n {
		return 0
	}
	return (m - n) / n * n
}

// Retime updates the tick interval used by subsequent waits.
func (c *Controller) Retime(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("display time must be positive")
	}
	c.mu.Lock()
	c.displayTime = interval
	c.mu.Unlock()

	slog.Info("rotation: display time updated", "interval", interval)
	c.bus.Publish(models.StatusEvent{
		Kind:        models.StatusDisplayTimeUpdated,
		DisplayTime: int(interval.Seconds()),
	})
	return nil
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() models.RotationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := models.RotationStatus{
		IsRunning:        c.running,
		DisplayTime:      int(c.displayTime.Seconds()),
		CurrentIndex:     c.offset,
		Stats:            c.stats,
		ConnectedDevices: c.fleet.ConnectedIDs(),
	}
	if c.cfg != nil {
		st.ImagesDirectory = c.cfg.directory
		st.ImagesCount = len(c.cfg.images)
		st.ActiveDevices = slices.Clone(c.cfg.devices)
		st.VideoMode = c.cfg.videoMode
		st.TransitionDuration = c.cfg.transition.Seconds()
	}
	return st
}

// LoadLastSession restores the most recently saved configuration, if any.
// Failure to restore (missing directory, devices offline) is logged, not
// fatal: the daemon starts unconfigured.
func (c *Controller) LoadLastSession(ctx context.Context) bool {
	rec, err := c.sessions.LastSession(ctx)
	if err != nil {
		slog.Error("rotation: failed to load last session", "err", err)
		return false
	}
	if rec == nil {
		return false
	}

	req := models.ConfigureRequest{
		ImagesDirectory: rec.ImagesDirectory,
		Devices:         rec.DeviceIDs,
		DisplayTime:     rec.DisplayTime,
	}
	if err := c.Configure(ctx, req); err != nil {
		slog.Warn("rotation: could not restore last session",
			"session", rec.Name, "err", err)
		return false
	}
	slog.Info("rotation: restored last session", "session", rec.Name)
	return true
}
