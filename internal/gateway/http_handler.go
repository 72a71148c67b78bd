package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/room"
)

// CreateRoomRequest is the body of POST /rooms.
type CreateRoomRequest struct {
	HostName             string `json:"host_name"`
	VideoSource          string `json:"video_source"`
	HostControlsPlayback *bool  `json:"host_controls_playback,omitempty"`
}

// HandleCreateRoom creates a room and returns the full snapshot, including
// the host's session id for the follow-up WebSocket attach.
func (s *Service) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.HostName) == "" {
		http.Error(w, "host_name is required", http.StatusBadRequest)
		return
	}

	hostControls := true
	if req.HostControlsPlayback != nil {
		hostControls = *req.HostControlsPlayback
	}

	snapshot, err := s.party.CreateRoom(r.Context(), req.HostName, req.VideoSource, hostControls)
	if err != nil {
		log.Error().Err(err).Msg("failed to create room")
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, snapshot)
}

// HandleRoomSnapshot serves GET /rooms/{code}: the current full state, used
// by clients that want to inspect a room before joining.
func (s *Service) HandleRoomSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := strings.TrimPrefix(r.URL.Path, "/rooms/")
	if code == "" || strings.Contains(code, "/") {
		http.Error(w, "room code is required", http.StatusBadRequest)
		return
	}

	snapshot, err := s.party.Snapshot(code)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("room_code", code).Msg("failed to build room snapshot")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeJSON(w, snapshot)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
