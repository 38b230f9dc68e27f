package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/netutil"

	"github.com/Quertz/joker/internal/config"
	"github.com/Quertz/joker/internal/content"
	"github.com/Quertz/joker/internal/health"
	"github.com/Quertz/joker/internal/logging"
	"github.com/Quertz/joker/internal/metrics"
	"github.com/Quertz/joker/internal/updater"
)

var log = logging.L("server")

// ServiceName is reported by the info and health endpoints.
const ServiceName = "Joker"

// Per-route request budgets. Routes not listed use the configured default.
var routeRates = map[string]string{
	"/":              "50 per minute",
	"/joke":          "200 per minute",
	"/languages":     "50 per minute",
	"/categories":    "50 per minute",
	"/stats":         "30 per minute",
	"/update-status": "10 per minute",
}

// UpdateStatusProvider is the part of the updater the API exposes.
type UpdateStatusProvider interface {
	Status() updater.Status
}

// Options are the collaborators the server is built from. Updater and
// Metrics may be nil.
type Options struct {
	Config  *config.Config
	Store   *content.Store
	Health  *health.Monitor
	Updater UpdateStatusProvider
	Metrics *metrics.Metrics
	Version string
}

// Server is the HTTP API.
type Server struct {
	cfg         *config.Config
	store       *content.Store
	health      *health.Monitor
	updater     UpdateStatusProvider
	metrics     *metrics.Metrics
	version     string
	defaultRate Rate
	startedAt   time.Time
	now         func() time.Time

	router   *gin.Engine
	limiters map[string]*limiterStore
}

// New builds the router. It fails only on an unparsable rate limit.
func New(opts Options) (*Server, error) {
	defaultRate, err := ParseRate(opts.Config.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate_limit: %w", err)
	}

	s := &Server{
		cfg:         opts.Config,
		store:       opts.Store,
		health:      opts.Health,
		updater:     opts.Updater,
		metrics:     opts.Metrics,
		version:     opts.Version,
		defaultRate: defaultRate,
		startedAt:   time.Now(),
		now:         time.Now,
		limiters:    make(map[string]*limiterStore),
	}
	if s.health == nil {
		s.health = health.NewMonitor()
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.HandleMethodNotAllowed = false
	s.router.Use(requestID(), s.requestLogger(), recovery(), securityHeaders(), cors(opts.Config.CORSOrigins))
	if err := s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully within the configured shutdown timeout.
// Concurrent connections are capped at max_connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ln = netutil.LimitListener(ln, s.cfg.MaxConnections)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting Joker API", "addr", ln.Addr().String(), "maxConnections", s.cfg.MaxConnections)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server", "timeout", s.cfg.ShutdownTimeout())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
