package rotation_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lumacast/lumacast-go/internal/composer"
	"github.com/lumacast/lumacast-go/internal/config"
	"github.com/lumacast/lumacast-go/internal/models"
	"github.com/lumacast/lumacast-go/internal/rotation"
)

// fakeFleet reports a fixed connected set and records reconnect requests.
type fakeFleet struct {
	mu            sync.Mutex
	connected     map[string]bool
	reconnects    []string
	onIsConnected func() // one-shot, fires before the next IsConnected answer
}

func (f *fakeFleet) setHook(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onIsConnected = hook
}

func (f *fakeFleet) takeHook() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	hook := f.onIsConnected
	f.onIsConnected = nil
	return hook
}

func (f *fakeFleet) ConnectedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.connected))
	for id := range f.connected {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeFleet) IsConnected(id string) bool {
	if hook := f.takeHook(); hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[id]
}

func (f *fakeFleet) Reconnect(ctx context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects = append(f.reconnects, id)
	return false
}

// fakeDispatch records every PlayMany call and scripts per-device outcomes.
type fakeDispatch struct {
	mu       sync.Mutex
	plays    []map[string]string
	stops    [][]string
	failures map[string]bool // devices that report false
	ticks    chan struct{}
}

func newFakeDispatch() *fakeDispatch {
	return &fakeDispatch{
		failures: make(map[string]bool),
		ticks:    make(chan struct{}, 64),
	}
}

func (d *fakeDispatch) PlayMany(ctx context.Context, assignments map[string]string) map[string]bool {
	cp := make(map[string]string, len(assignments))
	results := make(map[string]bool, len(assignments))
	d.mu.Lock()
	for id, url := range assignments {
		cp[id] = url
		results[id] = !d.failures[id]
	}
	d.plays = append(d.plays, cp)
	d.mu.Unlock()
	select {
	case d.ticks <- struct{}{}:
	default:
	}
	return results
}

func (d *fakeDispatch) StopAll(ctx context.Context, ids []string) map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops = append(d.stops, ids)
	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		results[id] = true
	}
	return results
}

func (d *fakeDispatch) playCall(i int) map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.plays) {
		return nil
	}
	return d.plays[i]
}

func (d *fakeDispatch) playCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.plays)
}

// fakeComposer records every render request and returns deterministic paths.
type fakeComposer struct {
	mu    sync.Mutex
	calls []composeCall
}

type composeCall struct {
	key    string
	images []string
}

func (fc *fakeComposer) Compose(ctx context.Context, images []string, key string, params composer.Params) (string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.calls = append(fc.calls, composeCall{key: key, images: append([]string(nil), images...)})
	return "/videos/" + key + ".mp4", nil
}

func (fc *fakeComposer) callFor(key string) *composeCall {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for i := range fc.calls {
		if fc.calls[i].key == key {
			return &fc.calls[i]
		}
	}
	return nil
}

func (fc *fakeComposer) callCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.calls)
}

// fakeSessions is an in-memory session store.
type fakeSessions struct {
	mu   sync.Mutex
	last *models.SessionRecord
}

func (s *fakeSessions) SaveSession(ctx context.Context, rec models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &rec
	return nil
}

func (s *fakeSessions) LastSession(ctx context.Context) (*models.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

// fakeBus records published events.
type fakeBus struct {
	mu     sync.Mutex
	events []models.Event
}

func (b *fakeBus) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *fakeBus) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events {
		if st, ok := ev.(models.StatusEvent); ok {
			out = append(out, st.Kind)
		}
	}
	return out
}

func (b *fakeBus) hasKind(kind string) bool {
	for _, k := range b.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// writeImages creates n dummy image files img1.png..imgN.png and returns the
// directory.
func writeImages(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("img%d.png", i))
		if err := os.WriteFile(name, []byte("png"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type fixture struct {
	ctrl     *rotation.Controller
	fleet    *fakeFleet
	dispatch *fakeDispatch
	sessions *fakeSessions
	bus      *fakeBus
}

func newFixture(t *testing.T, tickInterval time.Duration, devices ...string) *fixture {
	t.Helper()
	connected := make(map[string]bool, len(devices))
	for _, d := range devices {
		connected[d] = true
	}
	f := &fixture{
		fleet:    &fakeFleet{connected: connected},
		dispatch: newFakeDispatch(),
		sessions: &fakeSessions{},
		bus:      &fakeBus{},
	}

	settings := config.Default()
	settings.DefaultDisplayTime = tickInterval

	prepare := func(path string) (string, error) { return path, nil }
	publish := func(path string) (string, error) {
		return "http://origin/" + filepath.Base(path), nil
	}

	f.ctrl = rotation.New(f.fleet, f.dispatch, prepare, publish, nil, f.sessions, f.bus, settings)
	t.Cleanup(func() {
		_ = f.ctrl.Stop(context.Background())
	})
	return f
}

func (f *fixture) configure(t *testing.T, dir string, devices ...string) {
	t.Helper()
	err := f.ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: dir,
		Devices:         devices,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
}

func (f *fixture) waitTicks(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for f.dispatch.playCount() < n {
		select {
		case <-f.dispatch.ticks:
		case <-deadline:
			t.Fatalf("timed out waiting for %d ticks, got %d", n, f.dispatch.playCount())
		}
	}
}

func (f *fixture) waitOffset(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if f.ctrl.Status().CurrentIndex == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("offset = %d, want %d", f.ctrl.Status().CurrentIndex, want)
}

func TestConfigureValidation(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0")

	// Missing directory
	err := f.ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: filepath.Join(t.TempDir(), "nope"),
		Devices:         []string{"dev0"},
	})
	if err == nil {
		t.Error("expected error for missing directory")
	}

	// Directory with no supported artifacts
	err = f.ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: t.TempDir(),
		Devices:         []string{"dev0"},
	})
	if err == nil {
		t.Error("expected error for empty directory")
	}

	// No connected device
	err = f.ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: writeImages(t, 3),
		Devices:         []string{"offline"},
	})
	if err == nil {
		t.Error("expected error when no requested device is connected")
	}

	// No devices at all
	err = f.ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: writeImages(t, 3),
	})
	if err == nil {
		t.Error("expected error for empty device list")
	}
}

func TestConfigureFailureLeavesPreviousConfigUntouched(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0")
	goodDir := writeImages(t, 4)
	f.configure(t, goodDir, "dev0")

	err := f.ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: t.TempDir(), // no artifacts
		Devices:         []string{"dev0"},
	})
	if err == nil {
		t.Fatal("expected configure to fail")
	}

	st := f.ctrl.Status()
	if st.ImagesDirectory != goodDir {
		t.Errorf("directory = %q, want previous %q", st.ImagesDirectory, goodDir)
	}
	if st.ImagesCount != 4 {
		t.Errorf("images count = %d, want 4", st.ImagesCount)
	}
	if len(st.ActiveDevices) != 1 || st.ActiveDevices[0] != "dev0" {
		t.Errorf("active devices = %v, want [dev0]", st.ActiveDevices)
	}
}

func TestConfigurePersistsSessionAndEmitsEvent(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0", "dev1")
	dir := writeImages(t, 6)
	f.configure(t, dir, "dev0", "dev1")

	rec, _ := f.sessions.LastSession(context.Background())
	if rec == nil {
		t.Fatal("no session persisted")
	}
	if rec.ImagesDirectory != dir {
		t.Errorf("session directory = %q, want %q", rec.ImagesDirectory, dir)
	}
	if len(rec.DeviceIDs) != 2 {
		t.Errorf("session devices = %v, want 2 entries", rec.DeviceIDs)
	}
	if !f.bus.hasKind(models.StatusConfigurationUpdated) {
		t.Error("configuration_updated event not published")
	}
}

func TestConfigureRejectedWhileRunning(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0")
	dir := writeImages(t, 3)
	f.configure(t, dir, "dev0")
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := f.ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: writeImages(t, 5),
		Devices:         []string{"dev0"},
	})
	if err == nil {
		t.Fatal("configure while running should fail")
	}
	var stateErr *rotation.StateError
	if !errors.As(err, &stateErr) {
		t.Errorf("error %v should be a state error", err)
	}
}

// Start can slip in while Configure has the lock released for validation; the
// new config must not be installed under a live loop.
func TestConfigureRejectedWhenStartWinsValidationRace(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0")
	f.configure(t, writeImages(t, 3), "dev0")

	// Fire Start from inside the validation window: after Configure's
	// initial running check, before the install.
	f.fleet.setHook(func() {
		if err := f.ctrl.Start(context.Background()); err != nil {
			t.Errorf("start during validation window: %v", err)
		}
	})

	err := f.ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: writeImages(t, 5),
		Devices:         []string{"dev0"},
	})
	if err == nil {
		t.Fatal("configure must fail when the slideshow started mid-validation")
	}
	var stateErr *rotation.StateError
	if !errors.As(err, &stateErr) {
		t.Errorf("error %v should be a state error", err)
	}

	st := f.ctrl.Status()
	if !st.IsRunning {
		t.Error("slideshow should still be running")
	}
	if st.ImagesCount != 3 {
		t.Errorf("images count = %d, want the pre-existing 3", st.ImagesCount)
	}
}

func TestStartRequiresConfiguration(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0")
	if err := f.ctrl.Start(context.Background()); err == nil {
		t.Error("start on unconfigured controller should fail")
	}
}

func TestRoundRobinWalk(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond, "dev0", "dev1", "dev2")
	f.configure(t, writeImages(t, 12), "dev0", "dev1", "dev2")

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitTicks(t, 5)
	if err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Tick 0: offset 0 → img1, img2, img3 across the fleet.
	want := map[string]string{
		"dev0": "http://origin/img1.png",
		"dev1": "http://origin/img2.png",
		"dev2": "http://origin/img3.png",
	}
	got := f.dispatch.playCall(0)
	for dev, url := range want {
		if got[dev] != url {
			t.Errorf("tick 0: %s got %q, want %q", dev, got[dev], url)
		}
	}

	// Tick 1: offset 3 → img4, img5, img6.
	want = map[string]string{
		"dev0": "http://origin/img4.png",
		"dev1": "http://origin/img5.png",
		"dev2": "http://origin/img6.png",
	}
	got = f.dispatch.playCall(1)
	for dev, url := range want {
		if got[dev] != url {
			t.Errorf("tick 1: %s got %q, want %q", dev, got[dev], url)
		}
	}

	// Tick 4 wraps back to the start of the set.
	got = f.dispatch.playCall(4)
	if got["dev0"] != "http://origin/img1.png" {
		t.Errorf("tick 4: dev0 got %q, want wrap to img1", got["dev0"])
	}

	// 12 items / 3 devices → a full cycle completes after 4 ticks.
	st := f.ctrl.Status()
	if st.Stats.CyclesCompleted < 1 {
		t.Errorf("cycles = %d, want >= 1", st.Stats.CyclesCompleted)
	}
	if !f.bus.hasKind(models.StatusCycleCompleted) {
		t.Error("cycle_completed event not published")
	}
	if !f.bus.hasKind(models.StatusImagesDisplayed) {
		t.Error("images_displayed event not published")
	}
}

func TestCompositeModeRendersOncePerDeviceAndCycles(t *testing.T) {
	fleet := &fakeFleet{connected: map[string]bool{"dev0": true, "dev1": true}}
	disp := newFakeDispatch()
	comp := &fakeComposer{}
	bus := &fakeBus{}

	settings := config.Default()
	settings.DefaultDisplayTime = time.Millisecond
	settings.CycleBuffer = time.Millisecond

	publish := func(path string) (string, error) {
		return "http://origin/" + filepath.Base(path), nil
	}
	prepare := func(path string) (string, error) { return path, nil }

	ctrl := rotation.New(fleet, disp, prepare, publish, comp, &fakeSessions{}, bus, settings)
	t.Cleanup(func() { _ = ctrl.Stop(context.Background()) })

	dir := writeImages(t, 5)
	err := ctrl.Configure(context.Background(), models.ConfigureRequest{
		ImagesDirectory: dir,
		Devices:         []string{"dev0", "dev1"},
		VideoMode:       true,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Three cycles re-issue the same two videos without re-rendering.
	deadline := time.After(5 * time.Second)
	for disp.playCount() < 3 {
		select {
		case <-disp.ticks:
		case <-deadline:
			t.Fatalf("timed out waiting for 3 cycles, got %d", disp.playCount())
		}
	}
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if n := comp.callCount(); n != 2 {
		t.Fatalf("compose calls = %d, want one per device", n)
	}

	// Device at fleet position i covers the whole set strided by the fleet
	// size: 5 images over 2 devices gives dev0 1,3,5,2,4 and dev1 2,4,1,3,5.
	wantOrders := map[string][]string{
		"device_dev0_5images": {"img1.png", "img3.png", "img5.png", "img2.png", "img4.png"},
		"device_dev1_5images": {"img2.png", "img4.png", "img1.png", "img3.png", "img5.png"},
	}
	for key, want := range wantOrders {
		call := comp.callFor(key)
		if call == nil {
			t.Errorf("no compose call for key %s", key)
			continue
		}
		if len(call.images) != len(want) {
			t.Errorf("%s: %d images, want %d", key, len(call.images), len(want))
			continue
		}
		for i := range want {
			if filepath.Base(call.images[i]) != want[i] {
				t.Errorf("%s position %d: got %s, want %s", key, i, filepath.Base(call.images[i]), want[i])
			}
		}
	}

	// Every cycle replays the same published videos.
	first := disp.playCall(0)
	if first["dev0"] != "http://origin/device_dev0_5images.mp4" ||
		first["dev1"] != "http://origin/device_dev1_5images.mp4" {
		t.Errorf("cycle 0 assignments = %v", first)
	}
	second := disp.playCall(1)
	for dev, url := range first {
		if second[dev] != url {
			t.Errorf("cycle 1: %s got %q, want reuse of %q", dev, second[dev], url)
		}
	}

	if !bus.hasKind(models.StatusVideoSlideshowRunning) {
		t.Error("video_slideshow_running event not published")
	}
	if !bus.hasKind(models.StatusCycleCompleted) {
		t.Error("cycle_completed event not published")
	}
	st := ctrl.Status()
	if st.Stats.CyclesCompleted < 3 {
		t.Errorf("cycles = %d, want >= 3", st.Stats.CyclesCompleted)
	}
	if st.Stats.ImagesDisplayed < 3*2*5 {
		t.Errorf("images displayed = %d, want at least streaming×set per cycle", st.Stats.ImagesDisplayed)
	}
}

func TestAdvanceAndRewind(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0", "dev1", "dev2")
	f.configure(t, writeImages(t, 10), "dev0", "dev1", "dev2")

	if err := f.ctrl.Advance(); err == nil {
		t.Error("advance before start should fail")
	}
	if err := f.ctrl.Rewind(); err == nil {
		t.Error("rewind before start should fail")
	}

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitTicks(t, 1)
	// First tick consumed offset 0 and advanced past its block.
	f.waitOffset(t, 3)

	if err := f.ctrl.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	f.waitOffset(t, 6)
	if err := f.ctrl.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// 6+3 = 9 < 10, no wrap yet.
	f.waitOffset(t, 9)
	if err := f.ctrl.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// 9+3 = 12 >= 10 → wrap to 0.
	f.waitOffset(t, 0)

	// Rewinding from 0 lands on the last complete 3-sized block: 6.
	if err := f.ctrl.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	f.waitOffset(t, 6)
	if err := f.ctrl.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	f.waitOffset(t, 3)
	if err := f.ctrl.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	f.waitOffset(t, 0)
}

func TestStopIssuesStopAllAndReportsStats(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond, "dev0", "dev1")
	f.configure(t, writeImages(t, 4), "dev0", "dev1")

	if err := f.ctrl.Stop(context.Background()); err == nil {
		t.Error("stop before start should fail")
	}

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.ctrl.Start(context.Background()); err == nil {
		t.Error("second start while running should fail")
	}

	f.waitTicks(t, 2)
	if err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	f.dispatch.mu.Lock()
	stops := len(f.dispatch.stops)
	f.dispatch.mu.Unlock()
	if stops != 1 {
		t.Errorf("StopAll calls = %d, want 1", stops)
	}
	if f.ctrl.Status().IsRunning {
		t.Error("controller still reports running after stop")
	}
	if !f.bus.hasKind(models.StatusSlideshowStopped) {
		t.Error("slideshow_stopped event not published")
	}

	// Restartable after stop.
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestDeviceFailureSchedulesReconnect(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond, "dev0", "dev1")
	f.dispatch.failures["dev1"] = true
	f.configure(t, writeImages(t, 4), "dev0", "dev1")

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.waitTicks(t, 2)
	if err := f.ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	st := f.ctrl.Status()
	if st.Stats.Errors == 0 {
		t.Error("device failures should increment the error counter")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.fleet.mu.Lock()
		n := len(f.fleet.reconnects)
		f.fleet.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("no reconnect scheduled for failing device")
}

func TestRetime(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0")

	if err := f.ctrl.Retime(0); err == nil {
		t.Error("retime should reject non-positive intervals")
	}
	if err := f.ctrl.Retime(-time.Second); err == nil {
		t.Error("retime should reject negative intervals")
	}
	if err := f.ctrl.Retime(7 * time.Second); err != nil {
		t.Fatalf("retime: %v", err)
	}
	if got := f.ctrl.Status().DisplayTime; got != 7 {
		t.Errorf("display time = %d, want 7", got)
	}
	if !f.bus.hasKind(models.StatusDisplayTimeUpdated) {
		t.Error("display_time_updated event not published")
	}
}

func TestLoadLastSession(t *testing.T) {
	f := newFixture(t, time.Hour, "dev0")
	dir := writeImages(t, 3)

	if f.ctrl.LoadLastSession(context.Background()) {
		t.Error("restore with no saved session should report false")
	}

	f.sessions.last = &models.SessionRecord{
		Name:            "gallery",
		ImagesDirectory: dir,
		DisplayTime:     5,
		DeviceIDs:       []string{"dev0"},
	}
	if !f.ctrl.LoadLastSession(context.Background()) {
		t.Fatal("restore with a valid session should succeed")
	}
	st := f.ctrl.Status()
	if st.ImagesDirectory != dir || st.ImagesCount != 3 {
		t.Errorf("restored status = %+v", st)
	}

	// Restore pointing at a vanished directory fails quietly.
	f.sessions.last = &models.SessionRecord{
		ImagesDirectory: filepath.Join(t.TempDir(), "gone"),
		DeviceIDs:       []string{"dev0"},
	}
	if f.ctrl.LoadLastSession(context.Background()) {
		t.Error("restore with missing directory should report false")
	}
}
