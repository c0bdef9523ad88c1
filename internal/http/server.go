// Package http serves the token-exchange backend and the JSON control API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/escalation"
	"spinsync/internal/metrics"
	"spinsync/internal/session"
)

const (
	handoffCapacity = 64
	shutdownTimeout = 10 * time.Second
)

// Authenticator runs the authorization-code flow.
type Authenticator interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code, redirectURI string) (core.AuthTokens, error)
}

// Sessions owns the signed-in session.
type Sessions interface {
	Current() *session.Session
	Login(ctx context.Context, tokens core.AuthTokens, user *core.User) error
	UpdateUser(ctx context.Context, user core.User) error
	Logout(ctx context.Context) error
}

// Pinger reports whether local storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Catalog serves search and library reads.
type Catalog interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]core.Track, error)
	PlaylistTracks(ctx context.Context, playlistID string, offset, limit int) ([]core.Track, error)
	Track(ctx context.Context, trackID string) (*core.Track, error)
	CurrentUser(ctx context.Context) (*core.User, error)
}

// DeviceDirectory lists devices.
type DeviceDirectory interface {
	Refresh(ctx context.Context) ([]core.Device, error)
	Snapshot() ([]core.Device, time.Time)
}

// DeviceWatcher polls devices while a selection surface is open.
type DeviceWatcher interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// Transferer moves playback between devices.
type Transferer interface {
	TransferAndRefresh(ctx context.Context, deviceID, deviceName string, shouldPlay bool) ([]core.Device, error)
}

// PlaybackController runs user playback actions.
type PlaybackController interface {
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	ToggleShuffle(ctx context.Context) error
	CycleRepeat(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, percent int) error
	PlayURIs(ctx context.Context, uris []string) error
}

// PlaybackState exposes the believed playback state.
type PlaybackState interface {
	State() *core.PlaybackState
	Sync(ctx context.Context) (*core.PlaybackState, error)
}

// Escalation is the restriction-error prompt.
type Escalation interface {
	Observe(err error)
	Pending() (escalation.Prompt, bool)
	Resolve(ctx context.Context, decision escalation.Decision) (*core.Device, error)
}

// Services are the components the routes call into.
type Services struct {
	Auth        Authenticator
	Sessions    Sessions
	Store       Pinger
	Catalog     Catalog
	Directory   DeviceDirectory
	Watcher     DeviceWatcher
	Transfer    Transferer
	Playback    PlaybackController
	State       PlaybackState
	Escalation  Escalation
	Gatherer    prometheus.Gatherer
	RedirectURL string
}

type Server struct {
	config   *core.ServerConfig
	services Services
	logger   *zap.Logger
	metrics  *metrics.Metrics
	handoffs *expirable.LRU[string, core.AuthTokens]
	router   chi.Router
	server   *http.Server
	now      func() time.Time
}

func NewServer(config *core.ServerConfig, services Services, m *metrics.Metrics, logger *zap.Logger) *Server {
	ttl := config.HandoffTTL
	if ttl <= 0 {
		ttl = core.DefaultHandoffTTL
	}
	if services.Gatherer == nil {
		services.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   config,
		services: services,
		logger:   logger,
		metrics:  m,
		handoffs: expirable.NewLRU[string, core.AuthTokens](handoffCapacity, nil, ttl),
		router:   chi.NewRouter(),
		now:      time.Now,
	}
	s.setupRoutes()
	s.server = createHTTPServer(config, s.router)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.HandlerFor(s.services.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/", s.handleIndex)

	r.Get("/callback", s.handleCallback)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/token", s.handleToken)
			r.Get("/login", s.handleLogin)
			r.Get("/handoff/{id}", s.handleHandoff)
			r.Get("/session", s.handleSession)
			r.Post("/logout", s.handleLogout)
		})

		r.Get("/devices", s.handleDevices)
		r.Get("/devices/watch", s.handleWatchStatus)
		r.Post("/devices/watch", s.handleWatchStart)
		r.Delete("/devices/watch", s.handleWatchStop)
		r.Post("/devices/{id}/transfer", s.handleTransfer)

		r.Get("/playback", s.handlePlayback)
		r.Post("/playback/{action}", s.handlePlaybackAction)

		r.Get("/search", s.handleSearch)
		r.Get("/playlists/{id}/tracks", s.handlePlaylistTracks)
		r.Get("/tracks/{id}", s.handleTrack)

		r.Get("/escalation", s.handleEscalation)
		r.Post("/escalation", s.handleResolveEscalation)
	})
}

// instrument counts requests by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(route, fmt.Sprintf("%d", status))
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully and stops the device watcher.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
		if s.services.Watcher != nil {
			s.services.Watcher.Stop()
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "spinsync"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.services.Store != nil {
		if err := s.services.Store.Ping(r.Context()); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "service": "spinsync"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": "spinsync"})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(indexPage))
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
    <title>spinsync</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1 class="header">spinsync</h1>
    <p>Spotify playback device control</p>

    <h2>Endpoints</h2>
    <div class="endpoint"><a href="/api/auth/login">Login</a> - Sign in with Spotify</div>
    <div class="endpoint"><a href="/api/devices">Devices</a> - Available playback devices</div>
    <div class="endpoint"><a href="/api/playback">Playback</a> - Current playback state</div>
    <div class="endpoint"><a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">Ready</a> - Readiness check</div>
</body>
</html>`
