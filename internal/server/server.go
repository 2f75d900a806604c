// Package server exposes the frame pipeline over HTTP: a websocket that
// answers frame requests, a small JSON API over the frame cache, and the
// metrics and debug endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/pointframe/internal/dispatch"
	"github.com/banshee-data/pointframe/internal/framecache"
	"github.com/banshee-data/pointframe/internal/monitoring"
	"github.com/banshee-data/pointframe/internal/pointcloud"
	"github.com/banshee-data/pointframe/internal/viewer"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	// DefaultMaxMessageBytes bounds one websocket message. It fits a little
	// over a million packed points.
	DefaultMaxMessageBytes = 16 << 20
)

// Config holds server settings.
type Config struct {
	ListenAddr string
	// MaxMessageBytes is the websocket read limit.
	MaxMessageBytes int64
	// Downsample applies to packed frames, which carry no config of their
	// own. Clients override it per connection with ?mode= and ?n=.
	Downsample pointcloud.DownsampleConfig
	// ClientFrameRate caps frames per second accepted from each websocket
	// client; frames over the limit are answered with a queue_full error.
	// Zero disables the cap.
	ClientFrameRate float64
	// Gatherer backs /metrics. Nil leaves the route unmounted.
	Gatherer prometheus.Gatherer
}

// Server serves one Viewer. The dispatcher is optional and only feeds
// /api/status; it is nil when frames are processed remotely.
type Server struct {
	cfg        Config
	viewer     *viewer.Viewer
	dispatcher *dispatch.Dispatcher
	upgrader   websocket.Upgrader
	handler    http.Handler
	logf       func(format string, v ...interface{})
	started    time.Time

	mu      sync.Mutex
	clients map[string]*client
}

// New builds the server and its routes.
func New(cfg Config, v *viewer.Viewer, d *dispatch.Dispatcher) (*Server, error) {
	if v == nil {
		return nil, errors.New("server: viewer is required")
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.Downsample.Mode == "" {
		cfg.Downsample = pointcloud.DefaultDownsampleConfig()
	}
	if err := cfg.Downsample.Validate(); err != nil {
		return nil, fmt.Errorf("server: default downsample: %w", err)
	}
	if cfg.ClientFrameRate < 0 {
		return nil, fmt.Errorf("server: client frame rate must not be negative, got %v", cfg.ClientFrameRate)
	}

	s := &Server{
		cfg:        cfg,
		viewer:     v,
		dispatcher: d,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logf:    monitoring.Prefixed("Server"),
		started: time.Now(),
		clients: make(map[string]*client),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/api/frames/", s.handleFrameByID)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if err := framecache.AttachAdminRoutes(mux, v.Store()); err != nil {
		return nil, fmt.Errorf("server: admin routes: %w", err)
	}
	s.handler = mux
	return s, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on cfg.ListenAddr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then shuts down and closes
// every websocket client.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	s.logf("HTTP server listening on %s", lis.Addr())
	if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
