package party

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/chat"
	"github.com/reelsync/reelsync/internal/events"
	"github.com/reelsync/reelsync/internal/playback"
	"github.com/reelsync/reelsync/internal/room"
)

// Broadcaster pushes an accepted event to every connected session in a room.
// The transport must preserve per-room ordering; cross-room ordering is
// irrelevant.
type Broadcaster interface {
	Broadcast(roomCode string, event *events.Event)
}

// Journal is an optional durable log of accepted playback revisions and chat
// messages. Append failures are logged and never block a broadcast.
type Journal interface {
	AppendPlayback(ctx context.Context, roomCode string, st events.PlaybackState) error
	AppendChat(ctx context.Context, msg events.ChatMessage) error
}

// Config holds party service tunables.
type Config struct {
	Registry          room.Config
	ChatHistoryLimit  int
	HeartbeatInterval time.Duration
	HeartbeatMisses   int
}

// DefaultConfig returns default party service configuration
func DefaultConfig() Config {
	return Config{
		Registry:          room.DefaultConfig(),
		ChatHistoryLimit:  chat.DefaultHistoryLimit,
		HeartbeatInterval: 3 * time.Second,
		HeartbeatMisses:   3,
	}
}

// actor bundles the per-room authoritative state that must mutate as one
// logical unit: playback machine, chat sequencer and membership changes all
// run under its lock. Different rooms proceed fully in parallel.
type actor struct {
	mu        sync.Mutex
	machine   *playback.Machine
	sequencer *chat.Sequencer
}

// Service is the serialization point for all room intents. Intents are
// applied in the order they reach the per-room actor, which is not
// necessarily client send order under varying network latency.
type Service struct {
	clock       clockwork.Clock
	cfg         Config
	registry    *room.Registry
	broadcaster Broadcaster
	journal     Journal

	mu     sync.Mutex
	actors map[string]*actor
}

// NewService creates the party service. journal may be nil.
func NewService(clock clockwork.Clock, cfg Config, broadcaster Broadcaster, journal Journal) *Service {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.HeartbeatMisses <= 0 {
		cfg.HeartbeatMisses = DefaultConfig().HeartbeatMisses
	}
	s := &Service{
		clock:       clock,
		cfg:         cfg,
		broadcaster: broadcaster,
		journal:     journal,
		actors:      make(map[string]*actor),
	}
	s.registry = room.NewRegistry(clock, cfg.Registry, s.dropActor)
	return s
}

// Close releases registry timers.
func (s *Service) Close() {
	s.registry.Close()
}

// HeartbeatInterval exposes the configured heartbeat cadence.
func (s *Service) HeartbeatInterval() time.Duration {
	return s.cfg.HeartbeatInterval
}

// CreateRoom creates a room with its host participant and initial playback
// state (paused, position 0, revision 0).
func (s *Service) CreateRoom(ctx context.Context, hostName, videoSource string, hostControlsPlayback bool) (events.RoomSnapshotPayload, error) {
	info, host, err := s.registry.CreateRoom(hostName, videoSource, hostControlsPlayback)
	if err != nil {
		return events.RoomSnapshotPayload{}, err
	}

	a := &actor{
		machine:   playback.NewMachine(s.clock, videoSource),
		sequencer: chat.NewSequencer(s.clock, info.Code, s.cfg.ChatHistoryLimit),
	}
	s.mu.Lock()
	s.actors[info.Code] = a
	s.mu.Unlock()

	return s.snapshot(info, a, host.ID), nil
}

// Join adds a participant and returns the full room snapshot the client
// renders before deltas start arriving. Other sessions receive a
// ParticipantJoined event.
func (s *Service) Join(ctx context.Context, code, displayName string) (events.RoomSnapshotPayload, error) {
	a, err := s.actorFor(code)
	if err != nil {
		return events.RoomSnapshotPayload{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	info, p, err := s.registry.Join(code, displayName)
	if err != nil {
		return events.RoomSnapshotPayload{}, err
	}

	s.broadcast(code, events.EventTypeParticipantJoined, 0, 0, events.ParticipantJoinedPayload{Participant: p})
	return s.snapshot(info, a, p.ID), nil
}

// Resume restores a reconnecting session and returns a fresh snapshot
// without join/leave churn.
func (s *Service) Resume(ctx context.Context, code, sessionID string) (events.RoomSnapshotPayload, error) {
	a, err := s.actorFor(code)
	if err != nil {
		return events.RoomSnapshotPayload{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	info, p, err := s.registry.Resume(code, sessionID)
	if err != nil {
		return events.RoomSnapshotPayload{}, err
	}
	return s.snapshot(info, a, p.ID), nil
}

// Snapshot returns the room's full state without touching membership.
func (s *Service) Snapshot(code string) (events.RoomSnapshotPayload, error) {
	a, err := s.actorFor(code)
	if err != nil {
		return events.RoomSnapshotPayload{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := s.registry.Info(code)
	if err != nil {
		return events.RoomSnapshotPayload{}, err
	}
	return s.snapshot(info, a, ""), nil
}

// Leave removes a participant, with host failover when the host departs.
func (s *Service) Leave(ctx context.Context, code, sessionID string) error {
	a, err := s.actorFor(code)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := s.registry.Leave(code, sessionID)
	if err != nil {
		return err
	}
	s.announceDeparture(code, res, "left")
	return nil
}

// Play starts playback. Host-gated unless the room is in free-for-all mode.
func (s *Service) Play(ctx context.Context, code, sessionID string, knownRevision *uint64) error {
	return s.applyPlayback(ctx, code, sessionID, playback.Command{
		Kind:          playback.CommandPlay,
		KnownRevision: knownRevision,
	})
}

// Pause stops playback, folding elapsed time into the stored position.
func (s *Service) Pause(ctx context.Context, code, sessionID string, knownRevision *uint64) error {
	return s.applyPlayback(ctx, code, sessionID, playback.Command{
		Kind:          playback.CommandPause,
		KnownRevision: knownRevision,
	})
}

// Seek moves the play-head without changing the play/pause state.
func (s *Service) Seek(ctx context.Context, code, sessionID string, targetSeconds float64, knownRevision *uint64) error {
	return s.applyPlayback(ctx, code, sessionID, playback.Command{
		Kind:          playback.CommandSeek,
		TargetSeconds: targetSeconds,
		KnownRevision: knownRevision,
	})
}

// ChangeSource swaps the video source and resets playback. Host only,
// regardless of control mode.
func (s *Service) ChangeSource(ctx context.Context, code, sessionID, videoSource string) error {
	return s.applyPlayback(ctx, code, sessionID, playback.Command{
		Kind:        playback.CommandChangeSource,
		VideoSource: videoSource,
	})
}

func (s *Service) applyPlayback(ctx context.Context, code, sessionID string, cmd playback.Command) error {
	a, err := s.actorFor(code)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	isHost, hostControls, _, err := s.registry.ParticipantRole(code, sessionID)
	if err != nil {
		return err
	}
	cmd.FromHost = isHost
	cmd.HostOnly = hostControls

	st, changed, err := a.machine.Apply(cmd)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	// Full snapshot, not a diff: clients recovering from a transient
	// disconnect converge from any single delta.
	s.broadcast(code, events.EventTypePlaybackDelta, st.Revision, 0, st)

	if s.journal != nil {
		if err := s.journal.AppendPlayback(ctx, code, st); err != nil {
			log.Error().Err(err).Str("room_code", code).Msg("journal playback append failed")
		}
	}
	return nil
}

// SendChat sequences a message and broadcasts it. Duplicate message ids from
// at-least-once retries rebroadcast the originally accepted message.
func (s *Service) SendChat(ctx context.Context, code, sessionID, messageID, content string) error {
	a, err := s.actorFor(code)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	_, _, name, err := s.registry.ParticipantRole(code, sessionID)
	if err != nil {
		return err
	}

	msg, accepted := a.sequencer.Append(sessionID, name, messageID, content)
	s.broadcast(code, events.EventTypeChatMessage, 0, msg.Sequence, msg)

	if accepted && s.journal != nil {
		if err := s.journal.AppendChat(ctx, msg); err != nil {
			log.Error().Err(err).Str("room_code", code).Msg("journal chat append failed")
		}
	}
	return nil
}

// TransferHost hands host to another member and broadcasts HostChanged.
func (s *Service) TransferHost(ctx context.Context, code, fromID, toID string) error {
	a, err := s.actorFor(code)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	to, err := s.registry.TransferHost(code, fromID, toID)
	if err != nil {
		return err
	}
	s.broadcast(code, events.EventTypeHostChanged, 0, 0, events.HostChangedPayload{HostID: to.ID, Name: to.Name})
	return nil
}

// SetControlMode toggles free-for-all playback control. Host only.
func (s *Service) SetControlMode(ctx context.Context, code, sessionID string, hostControlsPlayback bool) error {
	a, err := s.actorFor(code)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := s.registry.SetControlMode(code, sessionID, hostControlsPlayback); err != nil {
		return err
	}
	s.broadcast(code, events.EventTypeControlModeChanged, 0, 0, events.ControlModeChangedPayload{
		HostControlsPlayback: hostControlsPlayback,
	})
	return nil
}

// Heartbeat records liveness and returns the server time for the pong.
func (s *Service) Heartbeat(code, sessionID string) (time.Time, error) {
	if err := s.registry.Heartbeat(code, sessionID); err != nil {
		return time.Time{}, err
	}
	return s.clock.Now(), nil
}

// ReapStale removes participants whose heartbeats lapsed and broadcasts the
// resulting membership events. Called periodically by the session monitor.
// It returns the removed sessions so the transport can close them.
func (s *Service) ReapStale() []room.Reaped {
	staleAfter := s.cfg.HeartbeatInterval * time.Duration(s.cfg.HeartbeatMisses-1)
	dropAfter := s.cfg.HeartbeatInterval * time.Duration(s.cfg.HeartbeatMisses)

	var reaped []room.Reaped
	for _, code := range s.registry.ActiveCodes() {
		a, err := s.actorFor(code)
		if err != nil {
			continue
		}
		// Removal and announcement run under the actor lock so membership
		// events interleave with joins and playback deltas in the order the
		// room accepted them.
		a.mu.Lock()
		for _, res := range s.registry.ReapRoomStale(code, staleAfter, dropAfter) {
			s.announceDeparture(code, res, "timeout")
			reaped = append(reaped, room.Reaped{Code: code, Result: res})
		}
		a.mu.Unlock()
	}
	return reaped
}

func (s *Service) announceDeparture(code string, res room.LeaveResult, reason string) {
	s.broadcast(code, events.EventTypeParticipantLeft, 0, 0, events.ParticipantLeftPayload{
		ParticipantID: res.Left.ID,
		Name:          res.Left.Name,
		Reason:        reason,
	})
	if res.NewHost != nil {
		s.broadcast(code, events.EventTypeHostChanged, 0, 0, events.HostChangedPayload{
			HostID: res.NewHost.ID,
			Name:   res.NewHost.Name,
		})
	}
}

// snapshot builds the full-state payload under the actor lock, so any delta
// accepted afterwards carries a higher revision than the snapshot anchors.
func (s *Service) snapshot(info room.Info, a *actor, sessionID string) events.RoomSnapshotPayload {
	return events.RoomSnapshotPayload{
		RoomID:               info.ID,
		RoomCode:             info.Code,
		HostID:               info.HostID,
		SessionID:            sessionID,
		HostControlsPlayback: info.HostControlsPlayback,
		CreatedAt:            info.CreatedAt,
		Playback:             a.machine.Snapshot(),
		Participants:         info.Participants,
		ChatHistory:          a.sequencer.History(),
	}
}

// actorFor looks up the per-room actor, recreating it from the registry when
// absent so a room is never left without its authoritative state.
func (s *Service) actorFor(code string) (*actor, error) {
	s.mu.Lock()
	if a, ok := s.actors[code]; ok {
		s.mu.Unlock()
		return a, nil
	}
	s.mu.Unlock()

	info, err := s.registry.Info(code)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actors[code]; ok {
		return a, nil
	}
	a := &actor{
		machine:   playback.NewMachine(s.clock, info.VideoSource),
		sequencer: chat.NewSequencer(s.clock, code, s.cfg.ChatHistoryLimit),
	}
	s.actors[code] = a
	return a, nil
}

// dropActor is the registry's reclaim hook.
func (s *Service) dropActor(code string) {
	s.mu.Lock()
	delete(s.actors, code)
	s.mu.Unlock()
}

func (s *Service) broadcast(code string, t events.EventType, revision, sequence uint64, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Str("event_type", string(t)).Msg("failed to marshal event payload")
		return
	}
	s.broadcaster.Broadcast(code, &events.Event{
		ID:        uuid.New().String(),
		RoomCode:  code,
		Type:      t,
		Revision:  revision,
		Sequence:  sequence,
		Timestamp: s.clock.Now(),
		Data:      data,
	})
}
