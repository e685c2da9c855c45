package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lumacast/lumacast-go/internal/dispatch"
	"github.com/lumacast/lumacast-go/internal/protocol"
)

// fakeSession scripts per-call behavior for one device.
type fakeSession struct {
	mu        sync.Mutex
	playErr   error
	stopErr   error
	panicOn   bool
	feature   protocol.FeatureState
	playCalls int
	stopCalls int
}

func (s *fakeSession) PlayURL(ctx context.Context, url string) error {
	s.mu.Lock()
	s.playCalls++
	s.mu.Unlock()
	if s.panicOn {
		panic("scripted panic")
	}
	return s.playErr
}

func (s *fakeSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopCalls++
	s.mu.Unlock()
	return s.stopErr
}

func (s *fakeSession) Feature(name string) protocol.FeatureState { return s.feature }
func (s *fakeSession) Valid() bool                               { return true }
func (s *fakeSession) Close() error                              { return nil }

func (s *fakeSession) plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playCalls
}

type fakeConns struct {
	sessions map[string]*fakeSession
}

func (c *fakeConns) IsConnected(id string) bool {
	_, ok := c.sessions[id]
	return ok
}

func (c *fakeConns) Session(id string) (protocol.Session, bool) {
	s, ok := c.sessions[id]
	return s, ok
}

func TestPlayManyCollectsEveryResult(t *testing.T) {
	conns := &fakeConns{sessions: map[string]*fakeSession{
		"dev-ok":    {feature: protocol.FeatureAvailable},
		"dev-err":   {feature: protocol.FeatureAvailable, playErr: errors.New("boom")},
		"dev-panic": {feature: protocol.FeatureAvailable, panicOn: true},
	}}
	d := dispatch.New(conns, true)

	results := d.PlayMany(context.Background(), map[string]string{
		"dev-ok":      "http://origin/image_1.jpg",
		"dev-err":     "http://origin/image_2.jpg",
		"dev-panic":   "http://origin/image_3.jpg",
		"dev-missing": "http://origin/image_4.jpg",
	})

	if len(results) != 4 {
		t.Fatalf("got %d results, want one per requested device (4)", len(results))
	}
	want := map[string]bool{
		"dev-ok":      true,
		"dev-err":     false,
		"dev-panic":   false,
		"dev-missing": false,
	}
	for id, wantOK := range want {
		got, present := results[id]
		if !present {
			t.Errorf("device %s missing from results", id)
			continue
		}
		if got != wantOK {
			t.Errorf("device %s: got %v, want %v", id, got, wantOK)
		}
	}
}

func TestPlayManySkipsDisconnected(t *testing.T) {
	conns := &fakeConns{sessions: map[string]*fakeSession{}}
	d := dispatch.New(conns, true)

	results := d.PlayMany(context.Background(), map[string]string{
		"gone": "http://origin/image_1.jpg",
	})
	if ok := results["gone"]; ok {
		t.Error("disconnected device should map to false")
	}
}

func TestPlayManyFeatureGate(t *testing.T) {
	unsupported := &fakeSession{feature: protocol.FeatureUnsupported}
	unavailable := &fakeSession{feature: protocol.FeatureUnavailable}
	conns := &fakeConns{sessions: map[string]*fakeSession{
		"no-support": unsupported,
		"flaky":      unavailable,
	}}

	// Unsupported always fails fast; unavailable is attempted when the
	// policy allows it.
	d := dispatch.New(conns, true)
	results := d.PlayMany(context.Background(), map[string]string{
		"no-support": "http://origin/a.jpg",
		"flaky":      "http://origin/b.jpg",
	})
	if results["no-support"] {
		t.Error("unsupported device should fail")
	}
	if unsupported.plays() != 0 {
		t.Error("unsupported device should never be contacted")
	}
	if !results["flaky"] {
		t.Error("unavailable device should succeed when attempted")
	}
	if unavailable.plays() != 1 {
		t.Errorf("unavailable device plays = %d, want 1", unavailable.plays())
	}

	// With the policy off, unavailable is not attempted either.
	strict := dispatch.New(conns, false)
	results = strict.PlayMany(context.Background(), map[string]string{
		"flaky": "http://origin/b.jpg",
	})
	if results["flaky"] {
		t.Error("unavailable device should fail when policy disallows attempts")
	}
	if unavailable.plays() != 1 {
		t.Errorf("unavailable device contacted despite policy, plays = %d", unavailable.plays())
	}
}

// Mixing connected and disconnected devices makes the dispatch loop record
// skip outcomes while per-device goroutines are already writing theirs; both
// writers must go through the same lock. Run with -race.
func TestPlayManyMixedFleetConcurrentWrites(t *testing.T) {
	sessions := map[string]*fakeSession{}
	assignments := map[string]string{}
	for i := 0; i < 12; i++ {
		id := string(rune('a' + i))
		assignments[id] = "http://origin/image_1.jpg"
		if i%2 == 0 {
			sessions[id] = &fakeSession{feature: protocol.FeatureAvailable}
		}
	}
	conns := &fakeConns{sessions: sessions}
	d := dispatch.New(conns, true)

	for round := 0; round < 5; round++ {
		results := d.PlayMany(context.Background(), assignments)
		if len(results) != len(assignments) {
			t.Fatalf("round %d: got %d results, want %d", round, len(results), len(assignments))
		}
		for id := range assignments {
			_, connected := sessions[id]
			if results[id] != connected {
				t.Errorf("round %d: device %s = %v, want %v", round, id, results[id], connected)
			}
		}
	}

	ids := make([]string, 0, len(assignments))
	for id := range assignments {
		ids = append(ids, id)
	}
	stopped := d.StopAll(context.Background(), ids)
	if len(stopped) != len(ids) {
		t.Fatalf("got %d stop results, want %d", len(stopped), len(ids))
	}
}

func TestStopAll(t *testing.T) {
	good := &fakeSession{feature: protocol.FeatureAvailable}
	bad := &fakeSession{feature: protocol.FeatureAvailable, stopErr: errors.New("refused")}
	conns := &fakeConns{sessions: map[string]*fakeSession{
		"a": good,
		"b": bad,
	}}
	d := dispatch.New(conns, true)

	results := d.StopAll(context.Background(), []string{"a", "b", "c"})
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results["a"] || results["b"] || results["c"] {
		t.Errorf("unexpected results: %v", results)
	}
}
