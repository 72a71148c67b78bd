package playback

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/reelsync/reelsync/internal/events"
)

var (
	// ErrNotAuthorized is returned when a non-host attempts a playback
	// mutation in a room where the host controls playback.
	ErrNotAuthorized = errors.New("playback: not authorized")

	// ErrStaleRevision is returned when a mutation carries a known revision
	// older than the authoritative one. The client should resynchronize from
	// a fresh snapshot rather than retry.
	ErrStaleRevision = errors.New("playback: stale revision")
)

// Machine is the authoritative play/pause/seek/source state for one room.
// It is not safe for concurrent use; all mutations for a room are serialized
// by the room's actor.
type Machine struct {
	clock clockwork.Clock
	state events.PlaybackState
}

// NewMachine creates a machine for a freshly created room: paused at
// position 0, revision 0.
func NewMachine(clock clockwork.Clock, videoSource string) *Machine {
	return &Machine{
		clock: clock,
		state: events.PlaybackState{
			IsPlaying:       false,
			PositionSeconds: 0,
			PositionAsOf:    clock.Now(),
			VideoSource:     videoSource,
			Revision:        0,
		},
	}
}

// Snapshot returns a copy of the current authoritative state.
func (m *Machine) Snapshot() events.PlaybackState {
	return m.state
}

// CommandKind represents the type of playback mutation
type CommandKind string

const (
	CommandPlay         CommandKind = "Play"
	CommandPause        CommandKind = "Pause"
	CommandSeek         CommandKind = "Seek"
	CommandChangeSource CommandKind = "ChangeSource"
)

// Command is a validated playback intent. FromHost and HostOnly are resolved
// by the caller from room membership and the room's control mode at the time
// the intent reaches the serialization point.
type Command struct {
	Kind          CommandKind
	TargetSeconds float64
	VideoSource   string
	FromHost      bool
	HostOnly      bool
	KnownRevision *uint64
}

// Apply runs a command against the machine. It returns the resulting state
// and whether the state changed (an accepted no-op transition, e.g. Play
// while already playing, changes nothing and must not bump the revision or
// produce a broadcast).
func (m *Machine) Apply(cmd Command) (events.PlaybackState, bool, error) {
	// ChangeSource is host-only regardless of control mode.
	if cmd.Kind == CommandChangeSource {
		if !cmd.FromHost {
			return m.state, false, ErrNotAuthorized
		}
	} else if cmd.HostOnly && !cmd.FromHost {
		return m.state, false, ErrNotAuthorized
	}

	if cmd.KnownRevision != nil && *cmd.KnownRevision < m.state.Revision {
		return m.state, false, ErrStaleRevision
	}

	now := m.clock.Now()
	switch cmd.Kind {
	case CommandPlay:
		if m.state.IsPlaying {
			return m.state, false, nil
		}
		m.state.IsPlaying = true
		m.state.PositionAsOf = now

	case CommandPause:
		if !m.state.IsPlaying {
			return m.state, false, nil
		}
		m.state.PositionSeconds += now.Sub(m.state.PositionAsOf).Seconds()
		m.state.PositionAsOf = now
		m.state.IsPlaying = false

	case CommandSeek:
		target := cmd.TargetSeconds
		if target < 0 {
			target = 0
		}
		m.state.PositionSeconds = target
		m.state.PositionAsOf = now

	case CommandChangeSource:
		m.state.VideoSource = cmd.VideoSource
		m.state.IsPlaying = false
		m.state.PositionSeconds = 0
		m.state.PositionAsOf = now

	default:
		return m.state, false, errors.New("playback: unknown command")
	}

	m.state.Revision++
	return m.state, true, nil
}

// PositionAt projects the play-head of a snapshot to the given instant.
func PositionAt(st events.PlaybackState, now time.Time) float64 {
	if !st.IsPlaying {
		return st.PositionSeconds
	}
	pos := st.PositionSeconds + now.Sub(st.PositionAsOf).Seconds()
	if pos < 0 {
		return 0
	}
	return pos
}
