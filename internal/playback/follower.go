package playback

import "github.com/reelsync/reelsync/internal/events"

// Follower is the client-side replica of a room's playback state. Deltas may
// arrive more than once or out of order; the revision comparison makes
// replays and stale deliveries no-ops.
type Follower struct {
	state  events.PlaybackState
	primed bool
}

// NewFollower creates a follower anchored on a snapshot.
func NewFollower(snapshot events.PlaybackState) *Follower {
	return &Follower{state: snapshot, primed: true}
}

// Apply merges a delivered delta. It returns true only when the delta's
// revision is greater than the last one applied.
func (f *Follower) Apply(delta events.PlaybackState) bool {
	if f.primed && delta.Revision <= f.state.Revision {
		return false
	}
	f.state = delta
	f.primed = true
	return true
}

// State returns the last applied snapshot.
func (f *Follower) State() events.PlaybackState {
	return f.state
}
