package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/events"
	"github.com/reelsync/reelsync/internal/party"
)

// HandleRoomConnection attaches a client to a room over WebSocket. A plain
// join passes ?code= and ?name=; a reconnect within the grace window passes
// ?code= and ?session_id= to resume the same participant.
func (s *Service) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	sessionID := r.URL.Query().Get("session_id")
	if name == "" && sessionID == "" {
		http.Error(w, "name or session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.connectionManager.Upgrade(w, r, s.handleIntent)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to upgrade WebSocket connection")
		return
	}

	var snapshot events.RoomSnapshotPayload
	if sessionID != "" {
		snapshot, err = s.party.Resume(r.Context(), code, sessionID)
	} else {
		snapshot, err = s.party.Join(r.Context(), code, name)
	}
	if err != nil {
		s.rejectConnection(conn, code, err)
		return
	}

	// Snapshot first, then subscribe: its revision anchors the client's
	// delta filtering, and full playback snapshots heal any delta accepted
	// in between.
	ev, evErr := events.New(code, events.EventTypeRoomSnapshot, snapshot, s.clock.Now())
	if evErr != nil {
		log.Error().Err(evErr).Str("room_code", code).Msg("failed to build snapshot event")
		conn.closeSend()
		return
	}
	ev.Revision = snapshot.Playback.Revision
	s.connectionManager.EnqueueDirect(conn, ev)
	s.connectionManager.Attach(conn, code, snapshot.SessionID)
}

// rejectConnection delivers the failure to the client and closes the socket.
func (s *Service) rejectConnection(conn *Connection, code string, cause error) {
	ev, err := events.New(code, events.EventTypeError, events.ErrorPayload{
		Kind:   party.KindFor(cause),
		Detail: cause.Error(),
	}, s.clock.Now())
	if err == nil {
		s.connectionManager.EnqueueDirect(conn, ev)
	}
	log.Info().
		Err(cause).
		Str("room_code", code).
		Msg("connection rejected")
	// Closing the send channel, not the socket: the write pump flushes the
	// queued error frame, then sends the close frame and tears the socket
	// down. Closing the socket here would drop the frame.
	conn.closeSend()
}

// HandleConnectionStats returns statistics about active connections
func (s *Service) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := s.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, map[string]int{
		"total_connections": total,
		"active_rooms":      rooms,
	})
}
