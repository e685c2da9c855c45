package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// videoExtensions map published files to the video_ name prefix; everything
// else is published as image_.
var videoExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true,
}

// Server is the local origin devices pull artifacts from. Published names are
// generated from a monotonic counter, never content-addressed, so re-publishing
// the same file yields a fresh name (some devices cache aggressively by URL).
type Server struct {
	maxEntries int
	managedDir string // temp files under this dir are unlinked when swept

	mu      sync.Mutex
	files   map[string]string // public name -> local path
	order   []string          // publish order, oldest first
	counter int

	ln      net.Listener
	srv     *http.Server
	baseURL string
}

// NewServer creates a content server. maxEntries bounds the publish table;
// managedDir marks the directory whose files may be deleted on sweep.
func NewServer(maxEntries int, managedDir string) *Server {
	return &Server{
		maxEntries: maxEntries,
		managedDir: managedDir,
		files:      make(map[string]string),
	}
}

// Start binds an ephemeral port on all interfaces and begins serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return fmt.Errorf("artifacts: listen: %w", err)
	}
	s.ln = ln

	r := chi.NewRouter()
	r.Get("/{name}", s.serveArtifact)

	s.srv = &http.Server{Handler: r}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("artifacts: server error", "err", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	s.baseURL = fmt.Sprintf("http://%s:%d", outboundIP(), port)
	slog.Info("artifacts: content server listening", "base_url", s.baseURL)
	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// BaseURL returns the device-reachable URL prefix.
func (s *Server) BaseURL() string { return s.baseURL }

// Publish registers a local file under a generated public name and returns
// that name.
func (s *Server) Publish(localPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	kind, ext := "image", ".jpg"
	if e := strings.ToLower(filepath.Ext(localPath)); videoExtensions[e] {
		kind, ext = "video", e
	} else if e != "" {
		ext = e
	}
	name := fmt.Sprintf("%s_%d%s", kind, s.counter, ext)

	s.files[name] = localPath
	s.order = append(s.order, name)
	s.sweepLocked()
	return name
}

// PublishURL publishes the file and returns its full URL. Fails if the
// server has not been started.
func (s *Server) PublishURL(localPath string) (string, error) {
	if s.baseURL == "" {
		return "", errors.New("artifacts: content server not started")
	}
	return s.baseURL + "/" + s.Publish(localPath), nil
}

// Resolve maps a public name back to its local path.
func (s *Server) Resolve(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.files[name]
	return path, ok
}

// sweepLocked drops the oldest entries beyond the table bound, unlinking
// swept files that live in the managed temp directory.
func (s *Server) sweepLocked() {
	for len(s.order) > s.maxEntries {
		oldest := s.order[0]
		s.order = s.order[1:]
		path := s.files[oldest]
		delete(s.files, oldest)
		if s.managedDir != "" && strings.HasPrefix(path, s.managedDir+string(filepath.Separator)) {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("artifacts: sweep temp file", "path", path, "err", err)
			}
		}
	}
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, ok := s.Resolve(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	// ServeFile sets Content-Type and Content-Length and handles range
	// requests, which some video players rely on.
	http.ServeFile(w, r, path)
}

// Close shuts the HTTP server down and clears the publish table.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.files = make(map[string]string)
	s.order = nil
	s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// outboundIP returns the address devices can reach this host on. The UDP
// dial never sends packets; it only selects the default route's source IP.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
