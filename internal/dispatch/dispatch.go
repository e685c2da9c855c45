// Package dispatch fans play/stop commands out to the fleet. One device's
// failure — error, timeout, or panic — never blocks or poisons the others:
// every device in the request gets exactly one boolean outcome.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lumacast/lumacast-go/internal/protocol"
)

const (
	// commandTimeout bounds a single play/stop command so one slow device
	// cannot stall the tick past this point.
	commandTimeout = 15 * time.Second

	// dispatchInterval paces command bursts so a large fleet does not hammer
	// the network in a single instant.
	dispatchInterval = 50 * time.Millisecond
	dispatchBurst    = 8
)

// Connections is the slice of the registry the dispatcher reads.
type Connections interface {
	IsConnected(id string) bool
	Session(id string) (protocol.Session, bool)
}

// Dispatcher issues concurrent play/stop commands against live connections.
type Dispatcher struct {
	conns   Connections
	limiter *rate.Limiter

	// PlayOnUnavailable keeps the original behavior of attempting a stream
	// even when the device reports the play feature as unavailable, since
	// some firmware misreports the state.
	playOnUnavailable bool
}

// New creates a Dispatcher.
func New(conns Connections, playOnUnavailable bool) *Dispatcher {
	return &Dispatcher{
		conns:             conns,
		limiter:           rate.NewLimiter(rate.Every(dispatchInterval), dispatchBurst),
		playOnUnavailable: playOnUnavailable,
	}
}

// PlayMany issues one play command per entry concurrently and returns an
// outcome for every requested device. Devices without a live connection are
// skipped (logged, recorded false) rather than attempted.
func (d *Dispatcher) PlayMany(ctx context.Context, assignments map[string]string) map[string]bool {
	results := make(map[string]bool, len(assignments))
	if len(assignments) == 0 {
		return results
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for id, url := range assignments {
		if !d.conns.IsConnected(id) {
			slog.Warn("dispatch: skipping disconnected device", "device", id)
			mu.Lock()
			results[id] = false
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(id, url string) {
			defer wg.Done()
			ok := false
			defer func() {
				if r := recover(); r != nil {
					slog.Error("dispatch: play panicked", "device", id, "panic", r)
					ok = false
				}
				mu.Lock()
				results[id] = ok
				mu.Unlock()
			}()
			ok = d.playOne(ctx, id, url)
		}(id, url)
	}
	wg.Wait()
	return results
}

// StopAll issues a stop command to each id concurrently, with the same skip
// and fault-isolation behavior as PlayMany.
func (d *Dispatcher) StopAll(ctx context.Context, ids []string) map[string]bool {
	results := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return results
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, id := range ids {
		if !d.conns.IsConnected(id) {
			slog.Warn("dispatch: skipping disconnected device", "device", id)
			mu.Lock()
			results[id] = false
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ok := false
			defer func() {
				if r := recover(); r != nil {
					slog.Error("dispatch: stop panicked", "device", id, "panic", r)
					ok = false
				}
				mu.Lock()
				results[id] = ok
				mu.Unlock()
			}()
			ok = d.stopOne(ctx, id)
		}(id)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) playOne(ctx context.Context, id, url string) bool {
	session, ok := d.conns.Session(id)
	if !ok {
		slog.Warn("dispatch: no session for device", "device", id)
		return false
	}

	switch state := session.Feature(protocol.FeaturePlayURL); state {
	case protocol.FeatureUnsupported:
		slog.Error("dispatch: device does not support url playback", "device", id)
		return false
	case protocol.FeatureUnavailable:
		if !d.playOnUnavailable {
			slog.Warn("dispatch: play feature unavailable, not attempting", "device", id)
			return false
		}
		slog.Warn("dispatch: play feature reported unavailable, attempting anyway", "device", id)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := session.PlayURL(cctx, url); err != nil {
		slog.Error("dispatch: play failed", "device", id, "url", url, "err", err)
		return false
	}
	slog.Debug("dispatch: playing", "device", id, "url", url)
	return true
}

func (d *Dispatcher) stopOne(ctx context.Context, id string) bool {
	session, ok := d.conns.Session(id)
	if !ok {
		return false
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return false
	}
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := session.Stop(cctx); err != nil {
		slog.Error("dispatch: stop failed", "device", id, "err", err)
		return false
	}
	slog.Debug("dispatch: stopped playback", "device", id)
	return true
}
