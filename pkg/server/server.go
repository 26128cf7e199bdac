// Package server wires the gateway together: the HTTP surface, the socket
// engine, access control, the tool registry, and health monitoring.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/toolgate/toolgate/pkg/access"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/health"
	"github.com/toolgate/toolgate/pkg/logging"
	"github.com/toolgate/toolgate/pkg/metrics"
	"github.com/toolgate/toolgate/pkg/protocol"
	"github.com/toolgate/toolgate/pkg/tools"
)

// ServerName identifies this gateway in stats and server/info responses.
const ServerName = "toolgate"

// Server composes every subsystem behind one HTTP listener.
type Server struct {
	logger  *slog.Logger
	level   *slog.LevelVar
	version string

	cfgMu sync.RWMutex
	cfg   *config.Config

	store      *access.Store
	limiter    *access.Limiter
	gate       *access.Gate
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	monitor    *health.Monitor
	metrics    *metrics.Registry
	engine     *protocol.Engine

	httpServer *http.Server
	started    time.Time
	requests   *metrics.Histogram

	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithLogLevel hands the server the level var behind its logger so the
// runtime config surface can adjust verbosity.
func WithLogLevel(level *slog.LevelVar) Option {
	return func(s *Server) { s.level = level }
}

// WithVersion sets the version string reported by stats surfaces.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// storeAuthenticator adapts the key store to the socket engine's auth model.
type storeAuthenticator struct {
	store *access.Store
}

func (a storeAuthenticator) Authenticate(key string) (*protocol.User, error) {
	rec, err := a.store.Validate(key, "")
	if err != nil {
		return nil, err
	}
	return &protocol.User{Name: rec.Name, Permissions: rec.Permissions}, nil
}

// New builds a fully wired server from configuration. The executor is the
// capability that actually runs tool calls.
func New(cfg *config.Config, executor tools.Executor, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		logger:  logging.Nop(),
		cfg:     cfg,
		version: "dev",
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = metrics.NewRegistry()
	s.requests = s.metrics.NewHistogram("http_request_duration_seconds",
		"HTTP request latency by method.", metrics.DefaultBuckets, "method")

	s.store = access.NewStore(s.logger)
	s.limiter = access.NewLimiter(cfg.Access.RateLimitPerMinute, cfg.Access.RateLimitPerHour)
	s.gate = access.NewGate(access.GateConfig{
		RequireKeys:     cfg.Access.RequireKeys,
		AllowedOrigins:  cfg.Access.AllowedOrigins,
		BlockedIPs:      cfg.Access.BlockedIPs,
		MaxPayloadBytes: cfg.Access.MaxPayloadBytes,
	}, s.store, s.limiter, s.logger)

	s.engine = protocol.NewEngine(protocol.Config{
		MaxConnections: cfg.Protocol.MaxConnections,
		MaxMessageSize: cfg.Protocol.MaxMessageSize,
		PingInterval:   cfg.Protocol.PingInterval.Duration(),
		PongTimeout:    cfg.Protocol.PongTimeout.Duration(),
		RequireAuth:    cfg.Protocol.RequireAuth,
		AllowedOrigins: cfg.Protocol.AllowedOrigins,
	}, storeAuthenticator{store: s.store}, s.logger)

	// Registry and monitor events fan out to socket subscribers: alerts to
	// the privileged alerts room, everything else to all authenticated
	// connections.
	notify := func(event string, payload map[string]any) {
		if event == "alert" {
			s.engine.PublishToRoom(protocol.AlertsRoom, event, payload)
			return
		}
		s.engine.Publish(event, payload)
	}

	s.registry = tools.NewRegistry(executor, tools.DefaultInvokeTimeout, notify, s.logger)
	s.monitor = health.NewMonitor(health.Config{
		CollectInterval:    cfg.Health.CollectInterval.Duration(),
		Retention:          cfg.Health.Retention.Duration(),
		AlertDedupWindow:   cfg.Health.AlertDedupWindow.Duration(),
		MaxDataPoints:      cfg.Health.MaxDataPoints,
		MemoryThresholdPct: cfg.Health.MemoryThresholdPct,
		ErrorRateThreshold: cfg.Health.ErrorRateThreshold,
		MaxAlerts:          cfg.Health.MaxAlerts,
		DataDir:            cfg.Health.DataDir,
	}, s.metrics, notify, s.logger)

	s.dispatcher = tools.NewDispatcher(s.registry, ServerName, s.version, s.monitor.RecordToolCall)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:      s.withMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Registry exposes the tool registry so callers can register tools.
func (s *Server) Registry() *tools.Registry { return s.registry }

// KeyStore exposes the API key store.
func (s *Server) KeyStore() *access.Store { return s.store }

// Engine exposes the socket engine.
func (s *Server) Engine() *protocol.Engine { return s.engine }

// Handler returns the fully wrapped HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Bootstrap creates the initial admin key and returns it; the raw value is
// not recoverable afterwards.
func (s *Server) Bootstrap() string {
	return s.store.Bootstrap()
}

// Start begins serving and launches the background loops. It does not block.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}

	go s.monitor.Run(s.ctx)
	go s.engine.Run(s.ctx)

	s.logger.Info("gateway listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts everything down: background loops, live socket connections,
// then the HTTP listener with a bounded drain.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.monitor.Stop()
	s.engine.Close()
	return s.httpServer.Shutdown(ctx)
}

// Config returns the live configuration.
func (s *Server) Config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// applyConfig swaps in an updated configuration and pushes the mutable
// settings into running components.
func (s *Server) applyConfig(next *config.Config) {
	s.cfgMu.Lock()
	s.cfg = next
	s.cfgMu.Unlock()

	s.limiter.SetLimits(next.Access.RateLimitPerMinute, next.Access.RateLimitPerHour)
	s.gate.SetMaxPayloadBytes(next.Access.MaxPayloadBytes)
	s.engine.SetLiveness(next.Protocol.PingInterval.Duration(), next.Protocol.PongTimeout.Duration())
	s.monitor.SetThresholds(next.Health.MemoryThresholdPct, next.Health.ErrorRateThreshold)

	if s.level != nil {
		s.level.Set(logging.ParseLevel(next.Logging.Level))
	}
}
