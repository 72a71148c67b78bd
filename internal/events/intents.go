package events

import "encoding/json"

// Intent is the frame clients send over an established connection.
type Intent struct {
	Type IntentType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// IntentType represents the type of client intent
type IntentType string

const (
	IntentTypePlay           IntentType = "Play"
	IntentTypePause          IntentType = "Pause"
	IntentTypeSeek           IntentType = "Seek"
	IntentTypeChangeSource   IntentType = "ChangeSource"
	IntentTypeSendChat       IntentType = "SendChat"
	IntentTypeTransferHost   IntentType = "TransferHost"
	IntentTypeSetControlMode IntentType = "SetControlMode"
	IntentTypeLeave          IntentType = "Leave"
	IntentTypeHeartbeat      IntentType = "Heartbeat"
)

// PlayIntent and PauseIntent may carry the revision the client last applied
// so stale mutations are rejected instead of clobbering newer state.
type PlayIntent struct {
	KnownRevision *uint64 `json:"known_revision,omitempty"`
}

type PauseIntent struct {
	KnownRevision *uint64 `json:"known_revision,omitempty"`
}

type SeekIntent struct {
	TargetSeconds float64 `json:"target_seconds"`
	KnownRevision *uint64 `json:"known_revision,omitempty"`
}

type ChangeSourceIntent struct {
	VideoSource string `json:"video_source"`
}

// SendChatIntent carries a client-generated message id so at-least-once
// retries deduplicate server-side.
type SendChatIntent struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type TransferHostIntent struct {
	ToParticipantID string `json:"to_participant_id"`
}

type SetControlModeIntent struct {
	HostControlsPlayback bool `json:"host_controls_playback"`
}

// HeartbeatIntent doubles as the clock-sync ping; the pong echoes
// ClientSentAtMs next to the server clock.
type HeartbeatIntent struct {
	ClientSentAtMs int64 `json:"client_sent_at_ms"`
}
