package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope pushed to every connected session in a room.
// Playback events carry Revision, chat events carry Sequence; clients use
// whichever is present to discard duplicates and stale deliveries.
type Event struct {
	ID        string          `json:"id"`
	RoomCode  string          `json:"room_code"`
	Type      EventType       `json:"type"`
	Revision  uint64          `json:"revision,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New wraps a payload in an addressed envelope stamped with the given time,
// so callers stay on their injected clock.
func New(roomCode string, t EventType, payload interface{}, at time.Time) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New().String(),
		RoomCode:  roomCode,
		Type:      t,
		Timestamp: at,
		Data:      data,
	}, nil
}

// EventType represents the type of room event
type EventType string

const (
	EventTypeRoomSnapshot       EventType = "RoomSnapshot"
	EventTypePlaybackDelta      EventType = "PlaybackDelta"
	EventTypeParticipantJoined  EventType = "ParticipantJoined"
	EventTypeParticipantLeft    EventType = "ParticipantLeft"
	EventTypeHostChanged        EventType = "HostChanged"
	EventTypeControlModeChanged EventType = "ControlModeChanged"
	EventTypeChatMessage        EventType = "ChatMessage"
	EventTypePong               EventType = "Pong"
	EventTypeError              EventType = "Error"
)

// PlaybackState is the wire form of the authoritative per-room playback record.
// The actual play-head is PositionSeconds plus the time elapsed since
// PositionAsOf while IsPlaying; paused state is read literally.
type PlaybackState struct {
	IsPlaying       bool      `json:"is_playing"`
	PositionSeconds float64   `json:"position_seconds"`
	PositionAsOf    time.Time `json:"position_as_of"`
	VideoSource     string    `json:"video_source"`
	Revision        uint64    `json:"revision"`
}

// Participant is the wire form of a room member.
type Participant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsHost    bool      `json:"is_host"`
	JoinedAt  time.Time `json:"joined_at"`
	Connected bool      `json:"connected"`
}

// ChatMessage is the wire form of a sequenced chat message.
type ChatMessage struct {
	ID         string    `json:"id"`
	RoomCode   string    `json:"room_code"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	Sequence   uint64    `json:"sequence"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoomSnapshotPayload is delivered to a joining client before it is
// subscribed to the live delta stream. The playback revision anchors the
// client's subsequent delta filtering.
type RoomSnapshotPayload struct {
	RoomID               string        `json:"room_id"`
	RoomCode             string        `json:"room_code"`
	HostID               string        `json:"host_id"`
	SessionID            string        `json:"session_id"`
	HostControlsPlayback bool          `json:"host_controls_playback"`
	CreatedAt            time.Time     `json:"created_at"`
	Playback             PlaybackState `json:"playback"`
	Participants         []Participant `json:"participants"`
	ChatHistory          []ChatMessage `json:"chat_history"`
}

// ParticipantJoinedPayload announces a new room member.
type ParticipantJoinedPayload struct {
	Participant Participant `json:"participant"`
}

// ParticipantLeftPayload announces a departed room member.
type ParticipantLeftPayload struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Reason        string `json:"reason"` // "left" or "timeout"
}

// HostChangedPayload announces host failover or explicit transfer.
type HostChangedPayload struct {
	HostID string `json:"host_id"`
	Name   string `json:"name"`
}

// ControlModeChangedPayload announces a change to the room's playback
// authorization policy.
type ControlModeChangedPayload struct {
	HostControlsPlayback bool `json:"host_controls_playback"`
}

// PongPayload echoes the client's send time alongside the server clock so
// the client can estimate its offset.
type PongPayload struct {
	ClientSentAtMs int64     `json:"client_sent_at_ms"`
	ServerTime     time.Time `json:"server_time"`
}

// ErrorPayload carries a protocol or authorization failure back to the
// offending session only.
type ErrorPayload struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// ErrorKind identifies the failure class of an Error event.
type ErrorKind string

const (
	ErrorKindRoomNotFound       ErrorKind = "RoomNotFound"
	ErrorKindNotAuthorized      ErrorKind = "NotAuthorized"
	ErrorKindNotHost            ErrorKind = "NotHost"
	ErrorKindUnknownParticipant ErrorKind = "UnknownParticipant"
	ErrorKindStaleRevision      ErrorKind = "StaleRevision"
	ErrorKindBadRequest         ErrorKind = "BadRequest"
)
