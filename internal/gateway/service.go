package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/harry-urek/Live-Poll/internal/poll"
	"github.com/harry-urek/Live-Poll/internal/timer"
)

// Service assembles the poll gateway: session store, timer coordinator,
// event router, connection manager and HTTP handlers.
type Service struct {
	session           *poll.Session
	timers            *timer.Coordinator
	router            *Router
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	snapshotHandler   *SnapshotHandler
}

// Config holds service configuration.
type Config struct {
	ConnectionConfig ConnectionConfig
	Settings         poll.Settings
	GraceDelay       time.Duration
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		Settings:         poll.DefaultSettings(),
		GraceDelay:       DefaultGraceDelay,
	}
}

// NewService wires up the gateway with a real clock.
func NewService(config Config) *Service {
	return NewServiceWithClock(config, clockwork.NewRealClock())
}

// NewServiceWithClock wires up the gateway with an injected clock.
func NewServiceWithClock(config Config, clock clockwork.Clock) *Service {
	session := poll.NewSession(config.Settings, clock)
	timers := timer.New(clock)
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	router := NewRouter(session, timers, connectionManager, clock)
	if config.GraceDelay > 0 {
		router.SetGraceDelay(config.GraceDelay)
	}
	connectionManager.SetRouter(router)

	return &Service{
		session:           session,
		timers:            timers,
		router:            router,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		snapshotHandler:   NewSnapshotHandler(session, router),
	}
}

// Start runs the broadcast loop until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting poll gateway service")

	go s.connectionManager.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("poll gateway service shutting down")
	s.router.Shutdown()
	s.timers.StopAll()
	return nil
}

// RegisterRoutes registers the WebSocket and snapshot routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.snapshotHandler.RegisterRoutes(mux)
	log.Info().Msg("poll gateway routes registered")
}

// Session exposes the state store for read-only callers.
func (s *Service) Session() *poll.Session {
	return s.session
}

// Router exposes the event router.
func (s *Service) Router() *Router {
	return s.router
}
