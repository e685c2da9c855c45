package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPDialer speaks the plain HTTP control channel of first-generation
// AirPlay receivers: POST /play with a Content-Location body, POST /stop.
// Devices that require the encrypted AirPlay 2 transport reject these
// requests with an authentication error, which the registry surfaces as a
// pairing requirement.
type HTTPDialer struct {
	// RequestTimeout bounds individual play/stop requests. Zero means 10s.
	RequestTimeout time.Duration
}

// Connect verifies TCP reachability, probes /server-info for the capability
// cache, and returns a session.
func (d *HTTPDialer) Connect(ctx context.Context, desc Descriptor, credentials string) (Session, error) {
	addr := net.JoinHostPort(desc.Address, fmt.Sprintf("%d", desc.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("airplay: dial %s: %w", addr, err)
	}
	conn.Close()

	timeout := d.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	s := &httpSession{
		base:        "http://" + addr,
		client:      &http.Client{Timeout: timeout},
		credentials: credentials,
		features:    map[string]FeatureState{},
	}
	s.probeFeatures(ctx)
	return s, nil
}

type httpSession struct {
	base        string
	client      *http.Client
	credentials string

	mu       sync.Mutex
	features map[string]FeatureState
	closed   bool
}

// probeFeatures queries /server-info once and caches the result. A device
// that answers the legacy control channel supports PlayURL; one that rejects
// it with 401/403 has the feature present but gated behind pairing.
func (s *httpSession) probeFeatures(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/server-info", nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		slog.Debug("airplay: server-info probe failed", "err", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case resp.StatusCode == http.StatusOK:
		s.features[FeaturePlayURL] = FeatureAvailable
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		s.features[FeaturePlayURL] = FeatureUnavailable
	default:
		s.features[FeaturePlayURL] = FeatureUnknown
	}
}

func (s *httpSession) PlayURL(ctx context.Context, url string) error {
	if s.isClosed() {
		return errors.New("airplay: session closed")
	}
	body := fmt.Sprintf("Content-Location: %s\nStart-Position: 0.0\n", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/play", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/parameters")
	return s.do(req)
}

func (s *httpSession) Stop(ctx context.Context) error {
	if s.isClosed() {
		return errors.New("airplay: session closed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/stop", nil)
	if err != nil {
		return err
	}
	return s.do(req)
}

func (s *httpSession) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("airplay: %s rejected: device requires pairing (status %d)", req.URL.Path, resp.StatusCode)
	default:
		return fmt.Errorf("airplay: %s failed: status %d", req.URL.Path, resp.StatusCode)
	}
}

func (s *httpSession) Feature(name string) FeatureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features[name]
}

func (s *httpSession) Valid() bool { return !s.isClosed() }

func (s *httpSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *httpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// UnsupportedPairer is the pairer used when the built-in transport has no
// pairing exchange. Start attempts fail with a clear reason; devices paired
// out-of-band still work because their credentials load from the store.
type UnsupportedPairer struct{}

func (UnsupportedPairer) Pair(context.Context, Descriptor) (Handshake, error) {
	return nil, errors.New("airplay: pairing is not supported by the built-in transport; pair out-of-band and import credentials")
}
