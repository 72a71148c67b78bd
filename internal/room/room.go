package room

import (
	"time"

	"github.com/reelsync/reelsync/internal/events"
)

// Status represents the lifecycle state of a room
type Status string

const (
	StatusActive    Status = "active"
	StatusIdleEmpty Status = "idle-empty"
	StatusClosed    Status = "closed"
)

// ConnStatus represents the liveness of a participant's connection
type ConnStatus string

const (
	ConnConnected    ConnStatus = "connected"
	ConnStale        ConnStatus = "stale"
	ConnDisconnected ConnStatus = "disconnected"
)

// Participant is a room member, created on join-accept and destroyed on
// explicit leave or heartbeat timeout.
type Participant struct {
	ID       string
	Name     string
	IsHost   bool
	JoinedAt time.Time
	LastSeen time.Time
	Conn     ConnStatus

	// joinSeq orders participants by tenure; the lowest surviving value wins
	// host failover.
	joinSeq uint64
}

func (p *Participant) wire() events.Participant {
	return events.Participant{
		ID:        p.ID,
		Name:      p.Name,
		IsHost:    p.IsHost,
		JoinedAt:  p.JoinedAt,
		Connected: p.Conn == ConnConnected,
	}
}

// Room is the authoritative record for one room code. It never escapes the
// registry; callers receive Info copies so membership reads cannot race the
// reaper.
type Room struct {
	id                   string
	code                 string
	hostID               string
	videoSource          string
	createdAt            time.Time
	status               Status
	hostControlsPlayback bool

	participants map[string]*Participant
	nextJoinSeq  uint64
}

// Info is a point-in-time copy of a room's identity and membership, with
// participants ordered by tenure.
type Info struct {
	ID                   string
	Code                 string
	HostID               string
	VideoSource          string
	CreatedAt            time.Time
	Status               Status
	HostControlsPlayback bool
	Participants         []events.Participant
}

func (r *Room) info() Info {
	members := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		members = append(members, p)
	}
	sortByTenure(members)

	wire := make([]events.Participant, len(members))
	for i, p := range members {
		wire[i] = p.wire()
	}
	return Info{
		ID:                   r.id,
		Code:                 r.code,
		HostID:               r.hostID,
		VideoSource:          r.videoSource,
		CreatedAt:            r.createdAt,
		Status:               r.status,
		HostControlsPlayback: r.hostControlsPlayback,
		Participants:         wire,
	}
}

// longestTenured returns the member with the lowest join sequence, or nil
// when the room is empty.
func (r *Room) longestTenured() *Participant {
	var oldest *Participant
	for _, p := range r.participants {
		if oldest == nil || p.joinSeq < oldest.joinSeq {
			oldest = p
		}
	}
	return oldest
}

func sortByTenure(ps []*Participant) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].joinSeq < ps[j-1].joinSeq; j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}
