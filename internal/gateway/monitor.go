package gateway

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Reaper removes participants whose heartbeats lapsed and reports which
// sessions were dropped. Implemented by the party service.
type Reaper interface {
	ReapStale() []ReapedSession
}

// ReapedSession names one dropped session.
type ReapedSession struct {
	RoomCode  string
	SessionID string
}

// Monitor periodically sweeps for lapsed heartbeats and closes the sockets
// of removed participants. The membership events themselves are broadcast by
// the reaper.
type Monitor struct {
	clock    clockwork.Clock
	interval time.Duration
	reaper   Reaper
	closer   interface {
		CloseSession(roomCode, sessionID string)
	}
}

// NewMonitor creates a liveness monitor sweeping at the given interval.
func NewMonitor(clock clockwork.Clock, interval time.Duration, reaper Reaper, cm *ConnectionManager) *Monitor {
	return &Monitor{
		clock:    clock,
		interval: interval,
		reaper:   reaper,
		closer:   cm,
	}
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.interval).Msg("session monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session monitor shutting down")
			return
		case <-ticker.Chan():
			for _, dropped := range m.reaper.ReapStale() {
				m.closer.CloseSession(dropped.RoomCode, dropped.SessionID)
			}
		}
	}
}
