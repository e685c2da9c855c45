package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lumacast/lumacast-go/internal/composer"
	"github.com/lumacast/lumacast-go/internal/models"
)

// tickState is the loop's read of the shared state at a tick boundary.
type tickState struct {
	offset      int
	images      []string
	devices     []string
	displayTime time.Duration
	transition  time.Duration
}

func (c *Controller) snapshot() tickState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tickState{
		offset:      c.offset,
		images:      c.cfg.images,
		devices:     c.cfg.devices,
		displayTime: c.displayTime,
		transition:  c.cfg.transition,
	}
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.mu.Lock()
	videoMode := c.cfg.videoMode
	c.mu.Unlock()

	if videoMode {
		c.runComposite(ctx)
	} else {
		c.runIndividual(ctx)
	}
	slog.Debug("rotation: loop exited")
}

// runIndividual streams one image per device per tick, round-robin over the
// content set.
func (c *Controller) runIndividual(ctx context.Context) {
	for {
		ts := c.snapshot()
		m := len(ts.images)
		n := len(ts.devices)

		// Prepare and publish this tick's assignment.
		assignments := make(map[string]string, n)
		distribution := make(map[string]string, n)
		for i, dev := range ts.devices {
			src := ts.images[(ts.offset+i)%m]
			url, err := c.preparePublish(src)
			if err != nil {
				slog.Error("rotation: failed to prepare image", "device", dev, "image", src, "err", err)
				c.recordError(dev, fmt.Sprintf("failed to prepare %s: %v", filepath.Base(src), err))
				continue
			}
			assignments[dev] = url
			distribution[dev] = filepath.Base(src)
		}

		results := c.dispatch.PlayMany(ctx, assignments)
		if ctx.Err() != nil {
			return
		}

		streaming := 0
		for dev, ok := range results {
			if ok {
				streaming++
				continue
			}
			c.recordError(dev, "failed to display image")
			delete(distribution, dev)
			// Fire-and-forget: reconnects must never block the tick.
			go c.fleet.Reconnect(context.WithoutCancel(ctx), dev)
		}

		wrapped := c.advanceTick(n, m, streaming)
		if wrapped {
			c.publishCycleCompleted()
		}
		c.bus.Publish(models.StatusEvent{
			Kind:             models.StatusImagesDisplayed,
			Distribution:     distribution,
			DevicesStreaming: streaming,
			CurrentIndex:     c.currentOffset(),
		})

		if !c.sleep(ctx, ts.displayTime) {
			return
		}
	}
}

// runComposite renders one looping video per device (each covering the whole
// content set in a device-specific order), streams them once, then re-issues
// the same videos each cycle.
func (c *Controller) runComposite(ctx context.Context) {
	ts := c.snapshot()
	m := len(ts.images)
	n := len(ts.devices)

	params := composer.Params{
		DurationPerImage:   ts.displayTime,
		TransitionDuration: ts.transition,
		UseTransitions:     ts.transition > 0,
	}

	// Composition happens once per configuration. The key is derived from
	// device and item count so an unchanged set reuses the previous render.
	assignments := make(map[string]string, n)
	for i, dev := range ts.devices {
		sub := stridedSubsequence(ts.images, i, n)
		key := fmt.Sprintf("device_%s_%dimages", dev, m)
		path, err := c.composer.Compose(ctx, sub, key, params)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("rotation: video composition failed", "device", dev, "err", err)
			c.recordError(dev, fmt.Sprintf("video composition failed: %v", err))
			continue
		}
		url, err := c.publish(path)
		if err != nil {
			slog.Error("rotation: failed to publish video", "device", dev, "err", err)
			c.recordError(dev, fmt.Sprintf("failed to publish video: %v", err))
			continue
		}
		assignments[dev] = url
	}
	if len(assignments) == 0 {
		slog.Error("rotation: no composite videos could be produced, loop exiting")
		return
	}

	for {
		results := c.dispatch.PlayMany(ctx, assignments)
		if ctx.Err() != nil {
			return
		}

		streaming := 0
		for dev, ok := range results {
			if ok {
				streaming++
				continue
			}
			c.recordError(dev, "failed to start video playback")
			go c.fleet.Reconnect(context.WithoutCancel(ctx), dev)
		}

		c.mu.Lock()
		c.stats.CyclesCompleted++
		c.stats.ImagesDisplayed += streaming * m
		c.mu.Unlock()

		c.bus.Publish(models.StatusEvent{
			Kind:             models.StatusVideoSlideshowRunning,
			DevicesStreaming: streaming,
			DevicesCount:     n,
			ImagesCount:      m,
		})
		c.publishCycleCompleted()

		// The videos self-loop on the device; wake up after one full pass
		// plus slack and re-issue in case a device dropped the stream.
		c.mu.Lock()
		perImage := c.displayTime
		c.mu.Unlock()
		cycle := perImage*time.Duration(m) + c.settings.CycleBuffer
		if !c.sleep(ctx, cycle) {
			return
		}
	}
}

// stridedSubsequence returns the content set reordered for fleet position i:
// item (i + j*n) mod m for j = 0..m-1. Each device covers the whole set in a
// distinct order.
func stridedSubsequence(images []string, i, n int) []string {
	m := len(images)
	out := make([]string, 0, m)
	for j := 0; j < m; j++ {
		out = append(out, images[(i+j*n)%m])
	}
	return out
}

func (c *Controller) preparePublish(src string) (string, error) {
	local, err := c.prepare(src)
	if err != nil {
		return "", err
	}
	return c.publish(local)
}

// advanceTick moves the offset past this tick's block and reports whether it
// wrapped to the start of the content set.
func (c *Controller) advanceTick(n, m, streamed int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ImagesDisplayed += streamed
	c.offset += n
	if c.offset >= m {
		c.offset = 0
		c.stats.CyclesCompleted++
		return true
	}
	return false
}

func (c *Controller) currentOffset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

func (c *Controller) recordError(deviceID, msg string) {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
	c.bus.Publish(models.ErrorEvent{
		Message:   msg,
		DeviceID:  deviceID,
		Timestamp: time.Now(),
	})
}

func (c *Controller) publishCycleCompleted() {
	c.mu.Lock()
	cycles := c.stats.CyclesCompleted
	c.mu.Unlock()
	slog.Info("rotation: cycle completed", "cycles", cycles)
	c.bus.Publish(models.StatusEvent{
		Kind:   models.StatusCycleCompleted,
		Cycles: cycles,
	})
}

// sleep waits for d or until the context is cancelled. Returns false on
// cancellation.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
