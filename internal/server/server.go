// ABOUTME: Server orchestrator that wires the store, auth gate, registry, and transports
// ABOUTME: Manages service startup, HTTP serving, and graceful shutdown lifecycle

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/openmcp/openmcp/internal/auth"
	"github.com/openmcp/openmcp/internal/browser"
	"github.com/openmcp/openmcp/internal/config"
	"github.com/openmcp/openmcp/internal/httpapi"
	"github.com/openmcp/openmcp/internal/mcpserver"
	"github.com/openmcp/openmcp/internal/metrics"
	"github.com/openmcp/openmcp/internal/registry"
	"github.com/openmcp/openmcp/internal/service"
	"github.com/openmcp/openmcp/internal/store"
	"github.com/openmcp/openmcp/internal/webcrawler"
	"github.com/openmcp/openmcp/internal/websearch"
)

// Server orchestrates the openmcp components. It owns the key store, the
// auth gate, the service registry, and the HTTP server that carries the
// REST API, the streaming endpoints, and the MCP transport.
type Server struct {
	config     *config.Config
	store      store.KeyStore
	gate       *auth.Gate
	registry   *registry.Registry
	metrics    *metrics.Metrics
	browserSvc *browser.Service
	httpServer *http.Server
	logger     *slog.Logger

	// gaugeStop terminates the active-session gauge refresher.
	gaugeStop chan struct{}
}

// initStore opens the key store at the configured path. OPENMCP_DB_PATH
// overrides the config for tests and ad-hoc deployments.
func initStore(cfg *config.Config) (store.KeyStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("OPENMCP_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// registerServices registers every known service implementation with the
// registry. Registration is unconditional; only services enabled in config
// are started.
func (s *Server) registerServices() error {
	browserSvc := browser.New(browser.Options{
		Logger:        s.logger,
		WaitTimeout:   s.config.Sessions.WaitTimeout,
		SweepInterval: s.config.Sessions.SweepInterval,
	})
	s.browserSvc = browserSvc

	if err := s.registry.Register("browser", browserSvc); err != nil {
		return err
	}
	if err := s.registry.Register("websearch", websearch.New(s.logger)); err != nil {
		return err
	}
	if err := s.registry.Register("webcrawler", webcrawler.New(s.logger)); err != nil {
		return err
	}
	return nil
}

// startEnabledServices starts the services enabled in config, passing each
// its settings block. A service that fails to start is logged and left in
// the failed state; it can be retried later and does not block serving.
func (s *Server) startEnabledServices(ctx context.Context) {
	for _, svcCfg := range s.config.Services {
		if !svcCfg.Enabled {
			continue
		}
		settings := svcCfg.Settings
		if s.config.Sessions.IdleTimeout > 0 && svcCfg.Name == "browser" {
			settings = withDefault(settings, "idle_timeout", s.config.Sessions.IdleTimeout.String())
		}
		if err := s.registry.Start(ctx, svcCfg.Name, settings); err != nil {
			s.logger.Error("service failed to start", "service", svcCfg.Name, "error", err)
			continue
		}
		s.logger.Info("service started", "service", svcCfg.Name)
	}
}

// withDefault returns settings with key set to value unless already present.
// The input map is not mutated.
func withDefault(settings map[string]any, key string, value any) map[string]any {
	if _, ok := settings[key]; ok {
		return settings
	}
	out := make(map[string]any, len(settings)+1)
	for k, v := range settings {
		out[k] = v
	}
	out[key] = value
	return out
}

// bootstrapKey creates an initial admin key when the store is empty and
// bootstrap is enabled. The plaintext is logged exactly once; it cannot be
// recovered afterwards.
func (s *Server) bootstrapKey(ctx context.Context) error {
	if !s.config.Auth.BootstrapKey {
		return nil
	}
	existing, err := s.store.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing keys for bootstrap: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	plaintext, record, err := s.gate.IssueKey(ctx, "bootstrap-admin", []string{auth.CapabilityAll}, 0)
	if err != nil {
		return fmt.Errorf("issuing bootstrap key: %w", err)
	}
	s.logger.Warn("created bootstrap admin key; store it now, it will not be shown again",
		"key_id", record.ID,
		"key", plaintext,
	)
	return nil
}

// New builds a fully wired Server from config. Nothing is listening until
// Run is called.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	keys, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	var verifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("auth.jwt_secret not set; access tokens disabled")
	}

	gate := auth.NewGate(auth.Config{
		Keys:                 keys,
		Verifier:             verifier,
		Logger:               logger,
		AllowLoopback:        cfg.Auth.AllowLoopback,
		LoopbackCapabilities: cfg.Auth.LoopbackCapabilities,
	})

	reg := registry.NewRegistry(logger.With("component", "registry"))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	srv := &Server{
		config:   cfg,
		store:    keys,
		gate:     gate,
		registry: reg,
		metrics:  m,
		logger:   logger.With("component", "server"),
	}

	if m != nil {
		reg.SetDispatchHook(srv.observeDispatch)
	}

	if err := srv.registerServices(); err != nil {
		return nil, fmt.Errorf("registering services: %w", err)
	}

	mux := http.NewServeMux()
	httpapi.New(reg, gate, m, logger).Register(mux)
	mcpserver.NewServer(reg, gate, logger).RegisterRoutes(mux)
	if m != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, m.Handler())
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// observeDispatch feeds registry dispatch outcomes into the metrics
// registry. Installed as the single dispatch hook so transports never
// double-count.
func (s *Server) observeDispatch(name string, duration time.Duration, result *service.ToolCallResult) {
	ok := result != nil && result.Err == nil
	s.metrics.ObserveDispatch(name, duration, ok)
}

// startSessionGauge periodically refreshes the active-session gauge from
// the browser service. No-op when metrics are disabled.
func (s *Server) startSessionGauge() {
	if s.metrics == nil {
		return
	}
	s.gaugeStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.metrics.SetActiveSessions("browser", s.browserSvc.SessionCount())
			case <-s.gaugeStop:
				return
			}
		}
	}()
}

func (s *Server) stopSessionGauge() {
	if s.gaugeStop != nil {
		close(s.gaugeStop)
		s.gaugeStop = nil
	}
}

// Run starts the enabled services and the HTTP server, then blocks until
// the context is canceled or the server fails. Returns nil on graceful
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	if err := s.bootstrapKey(ctx); err != nil {
		return err
	}

	s.startEnabledServices(ctx)
	s.startSessionGauge()

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown stops everything with a fresh context. The original run
// context is already canceled at this point.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server, stops all services (closing their
// sessions), and closes the store. Safe to call once after Run returns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopSessionGauge()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	s.registry.StopAll(ctx)

	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("shutdown complete")
	return nil
}
