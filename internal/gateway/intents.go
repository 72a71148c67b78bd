package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/events"
	"github.com/reelsync/reelsync/internal/party"
)

// handleIntent dispatches one client frame. A true return terminates the
// connection: malformed envelopes and frames from a connection that never
// completed a join are fatal protocol violations; domain failures are
// answered with an Error event and the connection lives on.
func (s *Service) handleIntent(c *Connection, message []byte) bool {
	var intent events.Intent
	if err := json.Unmarshal(message, &intent); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("malformed intent envelope")
		return true
	}
	if c.RoomCode == "" || c.SessionID == "" {
		return true
	}

	ctx := context.Background()
	code, session := c.RoomCode, c.SessionID

	var err error
	switch intent.Type {
	case events.IntentTypePlay:
		var p events.PlayIntent
		if err = json.Unmarshal(intent.Data, &p); err == nil {
			err = s.party.Play(ctx, code, session, p.KnownRevision)
		}

	case events.IntentTypePause:
		var p events.PauseIntent
		if err = json.Unmarshal(intent.Data, &p); err == nil {
			err = s.party.Pause(ctx, code, session, p.KnownRevision)
		}

	case events.IntentTypeSeek:
		var p events.SeekIntent
		if err = json.Unmarshal(intent.Data, &p); err == nil {
			err = s.party.Seek(ctx, code, session, p.TargetSeconds, p.KnownRevision)
		}

	case events.IntentTypeChangeSource:
		var p events.ChangeSourceIntent
		if err = json.Unmarshal(intent.Data, &p); err == nil {
			err = s.party.ChangeSource(ctx, code, session, p.VideoSource)
		}

	case events.IntentTypeSendChat:
		var p events.SendChatIntent
		if err = json.Unmarshal(intent.Data, &p); err == nil {
			err = s.party.SendChat(ctx, code, session, p.MessageID, p.Content)
		}

	case events.IntentTypeTransferHost:
		var p events.TransferHostIntent
		if err = json.Unmarshal(intent.Data, &p); err == nil {
			err = s.party.TransferHost(ctx, code, session, p.ToParticipantID)
		}

	case events.IntentTypeSetControlMode:
		var p events.SetControlModeIntent
		if err = json.Unmarshal(intent.Data, &p); err == nil {
			err = s.party.SetControlMode(ctx, code, session, p.HostControlsPlayback)
		}

	case events.IntentTypeHeartbeat:
		var p events.HeartbeatIntent
		if err = json.Unmarshal(intent.Data, &p); err == nil {
			err = s.handleHeartbeat(c, p)
		}

	case events.IntentTypeLeave:
		if err = s.party.Leave(ctx, code, session); err == nil {
			// Graceful departure: the read pump exits on the closed socket.
			c.Conn.Close()
			return false
		}

	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("intent_type", string(intent.Type)).
			Msg("unknown intent type")
		return false
	}

	if err != nil {
		s.sendError(c, err)
		// A stale mutation means the client's replica fell behind; hand it a
		// fresh snapshot to resynchronize from instead of letting it retry.
		if party.KindFor(err) == events.ErrorKindStaleRevision {
			s.sendSnapshot(c)
		}
	}
	return false
}

func (s *Service) sendSnapshot(c *Connection) {
	snapshot, err := s.party.Snapshot(c.RoomCode)
	if err != nil {
		log.Error().Err(err).Str("room_code", c.RoomCode).Msg("failed to build resync snapshot")
		return
	}
	snapshot.SessionID = c.SessionID
	ev, err := events.New(c.RoomCode, events.EventTypeRoomSnapshot, snapshot, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build resync snapshot event")
		return
	}
	ev.Revision = snapshot.Playback.Revision
	s.connectionManager.EnqueueDirect(c, ev)
}

// handleHeartbeat records liveness and answers with the server clock so the
// client's reconciler can refresh its offset estimate.
func (s *Service) handleHeartbeat(c *Connection, p events.HeartbeatIntent) error {
	serverTime, err := s.party.Heartbeat(c.RoomCode, c.SessionID)
	if err != nil {
		return err
	}
	ev, evErr := events.New(c.RoomCode, events.EventTypePong, events.PongPayload{
		ClientSentAtMs: p.ClientSentAtMs,
		ServerTime:     serverTime,
	}, s.clock.Now())
	if evErr != nil {
		return evErr
	}
	s.connectionManager.EnqueueDirect(c, ev)
	return nil
}

func (s *Service) sendError(c *Connection, cause error) {
	ev, err := events.New(c.RoomCode, events.EventTypeError, events.ErrorPayload{
		Kind:   party.KindFor(cause),
		Detail: cause.Error(),
	}, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build error event")
		return
	}
	s.connectionManager.EnqueueDirect(c, ev)
}
