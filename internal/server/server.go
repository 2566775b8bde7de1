package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zsiec/rtspsource/internal/config"
	apperrors "github.com/zsiec/rtspsource/internal/errors"
	"github.com/zsiec/rtspsource/internal/health"
	"github.com/zsiec/rtspsource/internal/logger"
)

const healthCheckInterval = 30 * time.Second

// Server is the HTTP control and status API of one session engine.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       *logrus.Logger
	controller   Controller
	defaultURL   string
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	limiter      *rate.Limiter
}

// Option customises a Server.
type Option func(*Server)

// WithDefaultURL sets the URL opened when an open request carries none.
func WithDefaultURL(url string) Option {
	return func(s *Server) { s.defaultURL = url }
}

// WithHealthChecker registers an extra health checker.
func WithHealthChecker(c health.Checker) Option {
	return func(s *Server) { s.healthMgr.Register(c) }
}

// New builds the server and its routes. The controller is always registered
// as the "session" health check.
func New(cfg *config.ServerConfig, log *logrus.Logger, ctrl Controller, opts ...Option) *Server {
	limit := rate.Inf
	if cfg.ControlRate > 0 {
		limit = rate.Limit(cfg.ControlRate)
	}
	burst := cfg.ControlBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		controller:   ctrl,
		healthMgr:    health.NewManager(log),
		errorHandler: apperrors.NewErrorHandler(log),
		limiter:      rate.NewLimiter(limit, burst),
	}
	s.healthMgr.Register(health.NewSessionChecker(ctrl))
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Addr is the listen address derived from the configuration.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.ListenAddr, strconv.Itoa(s.config.Port))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.healthMgr.StartPeriodicChecks(ctx, healthCheckInterval)

	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting control server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests within the configured shutdown timeout.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down control server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown control server: %w", err)
	}

	s.logger.Info("Control server shutdown complete")
	return nil
}

func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	// Control routes sit on the root router so a method mismatch reaches
	// MethodNotAllowedHandler.
	s.router.HandleFunc("/api/v1/session", s.handleStatus).Methods(http.MethodGet)
	s.controlRoute("/api/v1/session/open", s.handleOpen)
	s.controlRoute("/api/v1/session/play", s.handlePlay)
	s.controlRoute("/api/v1/session/stop", s.handleStop)
	s.controlRoute("/api/v1/session/reconnect", s.handleReconnect)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

func (s *Server) controlRoute(path string, h http.HandlerFunc) {
	s.router.Handle(path, s.rateLimitMiddleware(h)).Methods(http.MethodPost)
}

// Router returns the router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}
