package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/health"
	"github.com/zsiec/slate/internal/logger"
)

// Server represents the HTTP/3 control API server.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	http3Server  *http3.Server
	httpServer   *http.Server // HTTP/1.1 fallback server
	logger       *logrus.Logger
	redis        *redis.Client
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler

	// Additional handlers can be registered
	additionalRoutes []func(*mux.Router)
}

// New creates a new server instance. redisClient may be nil when the node
// runs without a fleet registry.
func New(cfg *config.ServerConfig, log *logrus.Logger, redisClient *redis.Client) *Server {
	router := mux.NewRouter()
	healthMgr := health.NewManager(log)
	errorHandler := errors.NewErrorHandler(log)

	s := &Server{
		config:           cfg,
		router:           router,
		logger:           log,
		redis:            redisClient,
		healthMgr:        healthMgr,
		errorHandler:     errorHandler,
		additionalRoutes: make([]func(*mux.Router), 0),
	}

	if redisClient != nil {
		s.healthMgr.Register(health.NewRedisChecker(redisClient))
	}

	return s
}

// RegisterHealthChecker adds a checker to the server's health manager.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthMgr.Register(c)
}

// Start starts the HTTP/3 server.
func (s *Server) Start(ctx context.Context) error {
	// TLS configuration
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{"h3"},
	}

	// Load certificates
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	// QUIC configuration
	quicConfig := &quic.Config{
		MaxIncomingStreams:    s.config.MaxIncomingStreams,
		MaxIncomingUniStreams: s.config.MaxIncomingUniStreams,
		MaxIdleTimeout:        s.config.MaxIdleTimeout,
	}

	// HTTP/3 server
	s.http3Server = &http3.Server{
		Addr:       fmt.Sprintf(":%d", s.config.HTTP3Port),
		Handler:    s.router,
		QUICConfig: quicConfig,
		TLSConfig:  tlsConfig,
	}

	// Setup routes
	s.setupRoutes()

	// Start periodic health checks
	go s.healthMgr.StartPeriodicChecks(ctx, 30*time.Second)

	// Start HTTP/1.1 fallback server if enabled
	if s.config.EnableHTTP {
		if err := s.startHTTPServer(); err != nil {
			return fmt.Errorf("failed to start HTTP/1.1 server: %w", err)
		}
	}

	// Start HTTP/3 server
	s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.http3Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP/3 server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Warn("HTTP/1.1 server shutdown error")
		}
	}

	// Note: http3.Server.Close() doesn't support context-based shutdown
	// The timeout is handled at the application level
	if err := s.http3Server.Close(); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("HTTP/3 server shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Apply global middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	// Health endpoints
	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	// Version endpoint
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Only register placeholder if no additional routes were registered
	if len(s.additionalRoutes) == 0 {
		// Placeholder endpoint - replaced when capture is wired via RegisterRoutes
		api.HandleFunc("/devices", s.handleDevicesPlaceholder).Methods("GET")
	}

	// Register any additional routes
	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	// 404 handler
	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// startHTTPServer starts the HTTP/1.1 fallback server for clients without
// QUIC support
func (s *Server) startHTTPServer() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
	}

	// Load certificates
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		TLSConfig:    tlsConfig,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	// Start server in background
	go func() {
		s.logger.WithField("port", s.config.HTTPPort).Info("Starting fallback HTTP server")

		if err := s.httpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP/1.1 server error")
		}
	}()

	return nil
}

// RegisterRoutes adds additional route handlers to the server
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
