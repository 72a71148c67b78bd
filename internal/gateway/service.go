package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/party"
)

// Service is the session and connection manager: it owns the WebSocket
// surface, the liveness monitor and the HTTP room endpoints, and routes
// validated intents into the party service.
type Service struct {
	clock             clockwork.Clock
	party             *party.Service
	connectionManager *ConnectionManager
	monitor           *Monitor
}

// NewService creates a new gateway service around the party service. The
// connection manager is passed in because it doubles as the party service's
// broadcaster when no relay is configured.
func NewService(clock clockwork.Clock, partySvc *party.Service, cm *ConnectionManager) *Service {
	s := &Service{
		clock:             clock,
		party:             partySvc,
		connectionManager: cm,
	}
	s.monitor = NewMonitor(clock, partySvc.HeartbeatInterval(), reaperAdapter{partySvc}, cm)
	return s
}

// Start begins the gateway service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting gateway service")

	go s.connectionManager.Start(ctx)
	go s.monitor.Run(ctx)

	<-ctx.Done()
	log.Info().Msg("gateway service shutting down")
	return nil
}

// RegisterRoutes registers the WebSocket and room HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", s.HandleConnectionStats)
	mux.HandleFunc("/rooms", s.HandleCreateRoom)
	mux.HandleFunc("/rooms/", s.HandleRoomSnapshot)
	log.Info().Msg("gateway routes registered")
}

// reaperAdapter converts the party service's reap results to the monitor's
// session tuples.
type reaperAdapter struct {
	party *party.Service
}

func (r reaperAdapter) ReapStale() []ReapedSession {
	reaped := r.party.ReapStale()
	out := make([]ReapedSession, len(reaped))
	for i, rr := range reaped {
		out[i] = ReapedSession{RoomCode: rr.Code, SessionID: rr.Result.Left.ID}
	}
	return out
}
