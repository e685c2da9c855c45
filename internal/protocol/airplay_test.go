package protocol_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/lumacast/lumacast-go/internal/protocol"
)

// fakeReceiver emulates a legacy AirPlay control channel.
type fakeReceiver struct {
	mu         sync.Mutex
	playBodies []string
	stops      int
	rejectAll  bool // respond 401 to everything
}

func (f *fakeReceiver) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.rejectAll {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/server-info":
			w.WriteHeader(http.StatusOK)
		case "/play":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.playBodies = append(f.playBodies, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case "/stop":
			f.mu.Lock()
			f.stops++
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	})
}

func startReceiver(t *testing.T, f *fakeReceiver) protocol.Descriptor {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return protocol.Descriptor{
		ID:       "tv1",
		Name:     "Test TV",
		Address:  u.Hostname(),
		Port:     port,
		Services: []string{protocol.ServiceAirPlay},
	}
}

func TestHTTPDialerPlayAndStop(t *testing.T) {
	recv := &fakeReceiver{}
	desc := startReceiver(t, recv)

	d := &protocol.HTTPDialer{}
	session, err := d.Connect(context.Background(), desc, "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	if got := session.Feature(protocol.FeaturePlayURL); got != protocol.FeatureAvailable {
		t.Errorf("feature = %v, want available after a 200 probe", got)
	}

	if err := session.PlayURL(context.Background(), "http://origin/image_1.jpg"); err != nil {
		t.Fatalf("play: %v", err)
	}
	recv.mu.Lock()
	body := recv.playBodies[0]
	recv.mu.Unlock()
	if !strings.Contains(body, "Content-Location: http://origin/image_1.jpg") {
		t.Errorf("play body = %q", body)
	}
	if !strings.Contains(body, "Start-Position: 0.0") {
		t.Errorf("play body missing start position: %q", body)
	}

	if err := session.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	recv.mu.Lock()
	stops := recv.stops
	recv.mu.Unlock()
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}

	if !session.Valid() {
		t.Error("session should be valid before close")
	}
	session.Close()
	if session.Valid() {
		t.Error("session should be invalid after close")
	}
	if err := session.PlayURL(context.Background(), "http://origin/x.jpg"); err == nil {
		t.Error("play on a closed session should fail")
	}
}

func TestHTTPDialerSurfacesPairingRequirement(t *testing.T) {
	recv := &fakeReceiver{rejectAll: true}
	desc := startReceiver(t, recv)

	d := &protocol.HTTPDialer{}
	session, err := d.Connect(context.Background(), desc, "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	if got := session.Feature(protocol.FeaturePlayURL); got != protocol.FeatureUnavailable {
		t.Errorf("feature = %v, want unavailable after a 401 probe", got)
	}

	err = session.PlayURL(context.Background(), "http://origin/image_1.jpg")
	if err == nil {
		t.Fatal("play should fail on a rejecting device")
	}
	// The registry keys its pairing detection off this phrasing.
	if !strings.Contains(err.Error(), "pairing") {
		t.Errorf("error %q does not indicate a pairing requirement", err)
	}
}

func TestHTTPDialerConnectRefused(t *testing.T) {
	d := &protocol.HTTPDialer{}
	desc := protocol.Descriptor{ID: "gone", Address: "127.0.0.1", Port: 1} // nothing listens here
	if _, err := d.Connect(context.Background(), desc, ""); err == nil {
		t.Error("connect to a closed port should fail")
	}
}
