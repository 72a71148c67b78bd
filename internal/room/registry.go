package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/reelsync/reelsync/internal/events"
)

var (
	// ErrRoomNotFound is returned for joins and intents against a code that
	// does not exist or whose room is closed.
	ErrRoomNotFound = errors.New("room: not found")

	// ErrNotHost is returned when a non-host attempts a host-only room
	// operation such as a host transfer.
	ErrNotHost = errors.New("room: not host")

	// ErrUnknownParticipant is returned when an operation names a session id
	// that is not a member of the room.
	ErrUnknownParticipant = errors.New("room: unknown participant")
)

// Config holds registry tunables.
type Config struct {
	// ReclaimGrace is how long an emptied room is kept before it is
	// destroyed. A (re)join within the window cancels reclamation.
	ReclaimGrace time.Duration

	// CodeRetries bounds collision retries during room creation.
	CodeRetries int
}

// DefaultConfig returns default registry configuration
func DefaultConfig() Config {
	return Config{
		ReclaimGrace: 5 * time.Minute,
		CodeRetries:  5,
	}
}

// LeaveResult describes the membership change produced by a departure.
type LeaveResult struct {
	Left    events.Participant
	NewHost *events.Participant
	Emptied bool
}

// Reaped describes a participant removed by heartbeat timeout.
type Reaped struct {
	Code   string
	Result LeaveResult
}

// Registry is the authoritative room-code → room map and the exclusive owner
// of Room and Participant lifetimes. The map is the only structure shared
// across rooms and is safe for concurrent access; per-room intent
// serialization happens in the party service above it.
type Registry struct {
	clock clockwork.Clock
	cfg   Config

	mu    sync.RWMutex
	rooms map[string]*Room

	timersMu sync.Mutex
	timers   map[string]clockwork.Timer

	// onReclaim is invoked after a room is destroyed, outside registry locks.
	onReclaim func(code string)

	done chan struct{}
}

// NewRegistry creates an empty registry. onReclaim may be nil.
func NewRegistry(clock clockwork.Clock, cfg Config, onReclaim func(code string)) *Registry {
	if cfg.ReclaimGrace <= 0 {
		cfg.ReclaimGrace = DefaultConfig().ReclaimGrace
	}
	if cfg.CodeRetries <= 0 {
		cfg.CodeRetries = DefaultConfig().CodeRetries
	}
	return &Registry{
		clock:     clock,
		cfg:       cfg,
		rooms:     make(map[string]*Room),
		timers:    make(map[string]clockwork.Timer),
		onReclaim: onReclaim,
		done:      make(chan struct{}),
	}
}

// Close cancels all pending reclaim timers.
func (r *Registry) Close() {
	close(r.done)
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	for code, timer := range r.timers {
		stopAndDrainTimer(timer)
		delete(r.timers, code)
	}
}

// CreateRoom allocates a unique code and creates the host participant.
// Playback state is initialized by the caller.
func (r *Registry) CreateRoom(hostName, videoSource string, hostControlsPlayback bool) (Info, events.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for attempt := 0; ; attempt++ {
		c, err := generateCode()
		if err != nil {
			return Info{}, events.Participant{}, err
		}
		if _, taken := r.rooms[c]; !taken {
			code = c
			break
		}
		if attempt >= r.cfg.CodeRetries {
			return Info{}, events.Participant{}, fmt.Errorf("room: code space collision after %d attempts", attempt+1)
		}
	}

	now := r.clock.Now()
	host := &Participant{
		ID:       uuid.New().String(),
		Name:     hostName,
		IsHost:   true,
		JoinedAt: now,
		LastSeen: now,
		Conn:     ConnConnected,
		joinSeq:  1,
	}
	rm := &Room{
		id:                   uuid.New().String(),
		code:                 code,
		hostID:               host.ID,
		videoSource:          videoSource,
		createdAt:            now,
		status:               StatusActive,
		hostControlsPlayback: hostControlsPlayback,
		participants:         map[string]*Participant{host.ID: host},
		nextJoinSeq:          2,
	}
	r.rooms[code] = rm

	log.Info().
		Str("room_code", code).
		Str("host_id", host.ID).
		Bool("host_controls_playback", hostControlsPlayback).
		Msg("room created")
	return rm.info(), host.wire(), nil
}

// Info returns a copy of the room's identity and membership. Closed rooms
// are not found.
func (r *Registry) Info(code string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[code]
	if !ok || rm.status == StatusClosed {
		return Info{}, ErrRoomNotFound
	}
	return rm.info(), nil
}

// ParticipantRole reports whether the session is a member and whether it is
// the host, alongside the room's playback control mode.
func (r *Registry) ParticipantRole(code, participantID string) (isHost, hostControlsPlayback bool, name string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[code]
	if !ok || rm.status == StatusClosed {
		return false, false, "", ErrRoomNotFound
	}
	p := rm.participants[participantID]
	if p == nil {
		return false, false, "", ErrUnknownParticipant
	}
	return p.IsHost, rm.hostControlsPlayback, p.Name, nil
}

// Join adds a non-host participant. Joining an idle-empty room revives it
// and promotes the joiner to host, since the invariant of exactly one host
// holds whenever the room is non-empty.
func (r *Registry) Join(code, displayName string) (Info, events.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok || rm.status == StatusClosed {
		return Info{}, events.Participant{}, ErrRoomNotFound
	}

	now := r.clock.Now()
	p := &Participant{
		ID:       uuid.New().String(),
		Name:     displayName,
		JoinedAt: now,
		LastSeen: now,
		Conn:     ConnConnected,
		joinSeq:  rm.nextJoinSeq,
	}
	rm.nextJoinSeq++
	rm.participants[p.ID] = p

	if rm.status == StatusIdleEmpty {
		rm.status = StatusActive
		p.IsHost = true
		rm.hostID = p.ID
	}

	r.cancelReclaim(code)

	log.Info().
		Str("room_code", code).
		Str("participant_id", p.ID).
		Bool("is_host", p.IsHost).
		Int("participants", len(rm.participants)).
		Msg("participant joined")
	return rm.info(), p.wire(), nil
}

// Resume restores a participant reconnecting with the same session id within
// the grace window, without generating join/leave churn.
func (r *Registry) Resume(code, participantID string) (Info, events.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok || rm.status == StatusClosed {
		return Info{}, events.Participant{}, ErrRoomNotFound
	}
	p := rm.participants[participantID]
	if p == nil {
		return Info{}, events.Participant{}, ErrUnknownParticipant
	}
	p.Conn = ConnConnected
	p.LastSeen = r.clock.Now()

	log.Info().
		Str("room_code", code).
		Str("participant_id", participantID).
		Msg("participant resumed")
	return rm.info(), p.wire(), nil
}

// Leave removes a participant. A departing host triggers failover to the
// longest-tenured remaining member; an emptied room turns idle-empty and a
// reclaim timer is armed.
func (r *Registry) Leave(code, participantID string) (LeaveResult, error) {
	r.mu.Lock()
	res, err := r.leaveLocked(code, participantID)
	r.mu.Unlock()
	if err != nil {
		return res, err
	}
	if res.Emptied {
		r.armReclaim(code)
	}
	return res, nil
}

func (r *Registry) leaveLocked(code, participantID string) (LeaveResult, error) {
	rm, ok := r.rooms[code]
	if !ok || rm.status == StatusClosed {
		return LeaveResult{}, ErrRoomNotFound
	}
	p := rm.participants[participantID]
	if p == nil {
		return LeaveResult{}, ErrUnknownParticipant
	}

	delete(rm.participants, participantID)
	p.Conn = ConnDisconnected
	res := LeaveResult{Left: p.wire()}

	if len(rm.participants) == 0 {
		rm.status = StatusIdleEmpty
		res.Emptied = true
		log.Info().Str("room_code", code).Msg("room emptied; reclaim pending")
		return res, nil
	}

	if p.IsHost {
		next := rm.longestTenured()
		next.IsHost = true
		rm.hostID = next.ID
		wired := next.wire()
		res.NewHost = &wired
		log.Info().
			Str("room_code", code).
			Str("host_id", next.ID).
			Msg("host failover")
	}
	return res, nil
}

// TransferHost hands host explicitly from one member to another.
func (r *Registry) TransferHost(code, fromID, toID string) (events.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok || rm.status == StatusClosed {
		return events.Participant{}, ErrRoomNotFound
	}
	from := rm.participants[fromID]
	if from == nil {
		return events.Participant{}, ErrUnknownParticipant
	}
	if !from.IsHost {
		return events.Participant{}, ErrNotHost
	}
	to := rm.participants[toID]
	if to == nil {
		return events.Participant{}, ErrUnknownParticipant
	}
	if fromID == toID {
		return to.wire(), nil
	}

	from.IsHost = false
	to.IsHost = true
	rm.hostID = to.ID

	log.Info().
		Str("room_code", code).
		Str("from", fromID).
		Str("to", toID).
		Msg("host transferred")
	return to.wire(), nil
}

// SetControlMode toggles the room's free-for-all playback policy. Host only.
func (r *Registry) SetControlMode(code, fromID string, hostControlsPlayback bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok || rm.status == StatusClosed {
		return ErrRoomNotFound
	}
	from := rm.participants[fromID]
	if from == nil {
		return ErrUnknownParticipant
	}
	if !from.IsHost {
		return ErrNotHost
	}
	rm.hostControlsPlayback = hostControlsPlayback
	return nil
}

// Heartbeat records liveness for a participant. A stale participant heard
// from again inside the drop window is restored without membership events.
func (r *Registry) Heartbeat(code, participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok || rm.status == StatusClosed {
		return ErrRoomNotFound
	}
	p := rm.participants[participantID]
	if p == nil {
		return ErrUnknownParticipant
	}
	p.LastSeen = r.clock.Now()
	p.Conn = ConnConnected
	return nil
}

// ActiveCodes lists the rooms eligible for a heartbeat sweep.
func (r *Registry) ActiveCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.rooms))
	for code, rm := range r.rooms {
		if rm.status == StatusActive {
			codes = append(codes, code)
		}
	}
	return codes
}

// ReapRoomStale sweeps one room: participants silent beyond staleAfter are
// marked stale, those silent beyond dropAfter are removed as if they left,
// with host failover applied. It covers a single room so the caller can hold
// that room's serialization lock and broadcast removals in acceptance order.
func (r *Registry) ReapRoomStale(code string, staleAfter, dropAfter time.Duration) []LeaveResult {
	now := r.clock.Now()
	var removed []LeaveResult
	emptied := false

	r.mu.Lock()
	rm, ok := r.rooms[code]
	if !ok || rm.status != StatusActive {
		r.mu.Unlock()
		return nil
	}
	var due []string
	for id, p := range rm.participants {
		silent := now.Sub(p.LastSeen)
		switch {
		case silent >= dropAfter:
			due = append(due, id)
		case silent >= staleAfter && p.Conn == ConnConnected:
			p.Conn = ConnStale
			log.Debug().
				Str("room_code", code).
				Str("participant_id", id).
				Dur("silent", silent).
				Msg("participant stale")
		}
	}
	for _, id := range due {
		res, err := r.leaveLocked(code, id)
		if err != nil {
			continue
		}
		log.Info().
			Str("room_code", code).
			Str("participant_id", id).
			Msg("participant timed out")
		removed = append(removed, res)
		if res.Emptied {
			emptied = true
		}
	}
	r.mu.Unlock()

	if emptied {
		r.armReclaim(code)
	}
	return removed
}

// armReclaim starts the destruction countdown for an emptied room,
// replacing any timer already pending for the code.
func (r *Registry) armReclaim(code string) {
	r.timersMu.Lock()
	if existing, ok := r.timers[code]; ok {
		stopAndDrainTimer(existing)
	}
	timer := r.clock.NewTimer(r.cfg.ReclaimGrace)
	r.timers[code] = timer
	r.timersMu.Unlock()

	go func() {
		select {
		case <-timer.Chan():
			r.timersMu.Lock()
			delete(r.timers, code)
			r.timersMu.Unlock()
			r.reclaim(code)
		case <-r.done:
		}
	}()
}

// cancelReclaim stops a pending reclaim timer, if any.
func (r *Registry) cancelReclaim(code string) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if timer, ok := r.timers[code]; ok {
		stopAndDrainTimer(timer)
		delete(r.timers, code)
		log.Debug().Str("room_code", code).Msg("reclaim cancelled")
	}
}

// reclaim destroys an idle-empty room once its grace period lapses.
func (r *Registry) reclaim(code string) {
	r.mu.Lock()
	rm, ok := r.rooms[code]
	if !ok || rm.status != StatusIdleEmpty {
		// A join revived the room between timer fire and reclaim.
		r.mu.Unlock()
		return
	}
	rm.status = StatusClosed
	delete(r.rooms, code)
	r.mu.Unlock()

	log.Info().Str("room_code", code).Msg("room reclaimed")
	if r.onReclaim != nil {
		r.onReclaim(code)
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel so the
// waiting goroutine cannot observe a stale fire.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
