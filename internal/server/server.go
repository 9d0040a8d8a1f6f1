// Package server exposes context building, redaction and reinjection over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/safedom/internal/audit"
	"github.com/raaihank/safedom/internal/config"
	"github.com/raaihank/safedom/internal/logger"
	"github.com/raaihank/safedom/internal/privacy"
	"github.com/raaihank/safedom/internal/vault"
	"github.com/raaihank/safedom/internal/websocket"
)

const version = "0.1.0"

// state is the part of the server that a config reload replaces
type state struct {
	config   *config.Config
	detector *privacy.Detector
}

// Server represents the SafeDOM HTTP service
type Server struct {
	state    atomic.Pointer[state]
	logger   *logger.Logger
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub
	store    vault.Store
	recorder audit.Recorder
	limiter  *RateLimiter

	startTime       time.Time
	totalRequests   atomic.Int64
	totalRedactions atomic.Int64
}

// Option customises a Server
type Option func(*Server)

// WithStore replaces the vault chosen from configuration
func WithStore(store vault.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithRecorder replaces the audit recorder chosen from configuration
func WithRecorder(recorder audit.Recorder) Option {
	return func(s *Server) { s.recorder = recorder }
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Server, error) {
	detector, err := privacy.New(cfg.Privacy.Config, log.WithComponent("privacy"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redaction detector: %w", err)
	}

	s := &Server{
		logger:    log.WithComponent("server"),
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	s.state.Store(&state{config: cfg, detector: detector})

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		if s.store, err = newStore(cfg.Vault, log); err != nil {
			return nil, err
		}
	}
	if s.recorder == nil {
		if s.recorder, err = newRecorder(cfg.Audit, log); err != nil {
			s.store.Close()
			return nil, err
		}
	}

	s.wsHub = websocket.NewHub(&websocket.HubConfig{
		BroadcastRedactions:   cfg.WebSocket.Events.BroadcastRedactions,
		BroadcastReinjections: cfg.WebSocket.Events.BroadcastReinjections,
		BroadcastSystem:       cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections:  cfg.WebSocket.Events.BroadcastConnections,
		Username:              cfg.WebSocket.Username,
		Password:              cfg.WebSocket.Password,
		AllowedOrigins:        cfg.WebSocket.AllowedOrigins,
	}, log.WithComponent("websocket").Logger)

	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

func newStore(cfg config.VaultConfig, log *logger.Logger) (vault.Store, error) {
	if !cfg.Enabled {
		return vault.NewMemoryStore(cfg.TTL), nil
	}
	store, err := vault.NewRedisStore(vault.Config{
		RedisURL:  cfg.RedisURL,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.TTL,
		PoolSize:  cfg.PoolSize,
	}, log.WithComponent("vault").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault: %w", err)
	}
	return store, nil
}

func newRecorder(cfg config.AuditConfig, log *logger.Logger) (audit.Recorder, error) {
	if !cfg.Enabled {
		return audit.NopRecorder{}, nil
	}
	recorder, err := audit.NewPostgresRecorder(audit.Config{
		DatabaseURL:  cfg.DatabaseURL,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	}, log.WithComponent("audit").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit recorder: %w", err)
	}
	return recorder, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	cfg := s.current().config
	if cfg.WebSocket.Enabled {
		s.router.HandleFunc(cfg.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/context", s.handleContext).Methods(http.MethodPost)
	api.HandleFunc("/redact", s.handleRedact).Methods(http.MethodPost)
	api.HandleFunc("/reinject", s.handleReinject).Methods(http.MethodPost)
	api.HandleFunc("/placeholders/unknown", s.handleUnknownPlaceholders).Methods(http.MethodPost)
	api.HandleFunc("/rules", s.handleRules).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the background workers and serves HTTP until the server stops
func (s *Server) Start(ctx context.Context) error {
	cfg := s.current().config
	s.logger.Info("Starting SafeDOM server",
		zap.Int("port", cfg.Server.Port),
		zap.Int("active_rules", len(s.current().detector.Rules())),
		zap.Bool("vault_redis", cfg.Vault.Enabled),
		zap.Bool("audit_enabled", cfg.Audit.Enabled),
	)

	go s.wsHub.Run(ctx)
	go s.broadcastStatus(ctx, 30*time.Second)
	if s.limiter != nil {
		go s.limiter.Run(ctx, cfg.RateLimit.CleanupInterval)
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and closes the backing stores
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping SafeDOM server")
	err := s.server.Shutdown(ctx)
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := s.recorder.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// UpdateConfig rebuilds the rule set from cfg and swaps it in. On error the
// running configuration is kept.
func (s *Server) UpdateConfig(cfg *config.Config) error {
	detector, err := privacy.New(cfg.Privacy.Config, s.logger.WithComponent("privacy"))
	if err != nil {
		return fmt.Errorf("failed to rebuild redaction rules: %w", err)
	}
	s.state.Store(&state{config: cfg, detector: detector})
	s.logger.Info("Configuration reloaded", zap.Int("active_rules", len(detector.Rules())))
	return nil
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

func (s *Server) current() *state {
	return s.state.Load()
}

func (s *Server) broadcastStatus(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: s.status(),
			})
		}
	}
}

func (s *Server) status() websocket.SystemStatusEvent {
	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		TotalRequests:    s.totalRequests.Load(),
		TotalRedactions:  s.totalRedactions.Load(),
		ActiveRules:      len(s.current().detector.Rules()),
		ConnectedClients: int(s.wsHub.GetStats().ActiveConnections),
	}
}
