package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/valve-calibrator/internal/calibration"
	"github.com/nerrad567/valve-calibrator/internal/device"
	"github.com/nerrad567/valve-calibrator/internal/infrastructure/config"
	"github.com/nerrad567/valve-calibrator/internal/infrastructure/logging"
	"github.com/nerrad567/valve-calibrator/internal/pipeline"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// StateReader is the read side of the device state store.
// *device.MemoryStore satisfies it.
type StateReader interface {
	Get(id string) (device.CoupledState, error)
	Snapshot() map[string]device.CoupledState
	ReadyCount() int
}

// ConnectionChecker reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
}

// DispatcherStats exposes dispatcher counters. *pipeline.Dispatcher satisfies it.
type DispatcherStats interface {
	Stats() pipeline.Stats
}

// PublisherStats exposes publish counters. *calibration.Publisher satisfies it.
type PublisherStats interface {
	Stats() calibration.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Store      StateReader
	MQTT       ConnectionChecker // optional
	Dispatcher DispatcherStats   // optional
	Publisher  PublisherStats    // optional
	Version    string
}

// Server serves the device state over HTTP and WebSocket.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	store      StateReader
	mqtt       ConnectionChecker
	dispatcher DispatcherStats
	publisher  PublisherStats
	hub        *Hub
	version    string
	startTime  time.Time
	server     *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		store:      deps.Store,
		mqtt:       deps.MQTT,
		dispatcher: deps.Dispatcher,
		publisher:  deps.Publisher,
		hub:        NewHub(deps.WS, deps.Logger),
		version:    deps.Version,
		startTime:  time.Now(),
	}, nil
}

// withWebSocketDefaults fills zero values that would otherwise stall the
// ping loop or reject every frame.
func withWebSocketDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return cfg
}

// Hub returns the WebSocket hub. It is the state observer to hand to the
// pipeline handler.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine.
//
// The listener is bound synchronously so a port conflict is reported
// here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stops the hub, which disconnects WebSocket clients. Hijacked
	// connections are not covered by Shutdown.
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
