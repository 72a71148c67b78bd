package playback

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func uptr(v uint64) *uint64 { return &v }

func TestNewMachineInitialState(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMachine(clock, "https://cdn.example/movie.mp4")

	st := m.Snapshot()
	if st.IsPlaying {
		t.Error("expected new machine to be paused")
	}
	if st.PositionSeconds != 0 {
		t.Errorf("expected position 0, got %f", st.PositionSeconds)
	}
	if st.Revision != 0 {
		t.Errorf("expected revision 0, got %d", st.Revision)
	}
	if st.VideoSource != "https://cdn.example/movie.mp4" {
		t.Errorf("unexpected video source %q", st.VideoSource)
	}
}

func TestPlayProjectsPosition(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMachine(clock, "src")

	st, changed, err := m.Apply(Command{Kind: CommandPlay, FromHost: true, HostOnly: true})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !changed {
		t.Fatal("expected play to change state")
	}
	if !st.IsPlaying || st.Revision != 1 {
		t.Fatalf("expected playing at revision 1, got playing=%v revision=%d", st.IsPlaying, st.Revision)
	}

	clock.Advance(5 * time.Second)
	if got := PositionAt(st, clock.Now()); got != 5 {
		t.Errorf("expected projected position 5, got %f", got)
	}
}

func TestPauseFoldsElapsedTime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMachine(clock, "src")

	if _, _, err := m.Apply(Command{Kind: CommandPlay, FromHost: true}); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.Advance(7 * time.Second)

	st, changed, err := m.Apply(Command{Kind: CommandPause, FromHost: true})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !changed {
		t.Fatal("expected pause to change state")
	}
	if st.IsPlaying {
		t.Error("expected paused state")
	}
	if st.PositionSeconds != 7 {
		t.Errorf("expected folded position 7, got %f", st.PositionSeconds)
	}

	// Paused state is read literally regardless of elapsed time.
	clock.Advance(time.Minute)
	if got := PositionAt(st, clock.Now()); got != 7 {
		t.Errorf("expected frozen position 7, got %f", got)
	}
}

func TestRedundantTransitionsAreNoOps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMachine(clock, "src")

	// Pause while already paused.
	st, changed, err := m.Apply(Command{Kind: CommandPause, FromHost: true})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if changed {
		t.Error("expected pause-while-paused to be a no-op")
	}
	if st.Revision != 0 {
		t.Errorf("no-op must not bump revision, got %d", st.Revision)
	}

	if _, _, err := m.Apply(Command{Kind: CommandPlay, FromHost: true}); err != nil {
		t.Fatalf("play: %v", err)
	}

	// Play while already playing.
	st, changed, err = m.Apply(Command{Kind: CommandPlay, FromHost: true})
	if err != nil {
		t.Fatalf("second play: %v", err)
	}
	if changed {
		t.Error("expected play-while-playing to be a no-op")
	}
	if st.Revision != 1 {
		t.Errorf("no-op must not bump revision, got %d", st.Revision)
	}
}

func TestSeek(t *testing.T) {
	tests := []struct {
		name    string
		target  float64
		wantPos float64
	}{
		{name: "forward", target: 90.5, wantPos: 90.5},
		{name: "negative clamps to zero", target: -12, wantPos: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			m := NewMachine(clock, "src")
			if _, _, err := m.Apply(Command{Kind: CommandPlay, FromHost: true}); err != nil {
				t.Fatalf("play: %v", err)
			}

			st, changed, err := m.Apply(Command{Kind: CommandSeek, TargetSeconds: tt.target, FromHost: true})
			if err != nil {
				t.Fatalf("seek: %v", err)
			}
			if !changed {
				t.Fatal("expected seek to change state")
			}
			if st.PositionSeconds != tt.wantPos {
				t.Errorf("expected position %f, got %f", tt.wantPos, st.PositionSeconds)
			}
			if !st.IsPlaying {
				t.Error("seek must not change the play/pause state")
			}
		})
	}
}

func TestChangeSourceResetsPlayback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMachine(clock, "old")
	if _, _, err := m.Apply(Command{Kind: CommandPlay, FromHost: true}); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.Advance(30 * time.Second)

	st, changed, err := m.Apply(Command{Kind: CommandChangeSource, VideoSource: "new", FromHost: true})
	if err != nil {
		t.Fatalf("change source: %v", err)
	}
	if !changed {
		t.Fatal("expected change source to change state")
	}
	if st.VideoSource != "new" {
		t.Errorf("expected source %q, got %q", "new", st.VideoSource)
	}
	if st.IsPlaying || st.PositionSeconds != 0 {
		t.Errorf("expected paused at 0 after source change, got playing=%v pos=%f", st.IsPlaying, st.PositionSeconds)
	}
	if st.Revision != 2 {
		t.Errorf("expected revision 2, got %d", st.Revision)
	}
}

func TestAuthorization(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{
			name:    "non-host play rejected when host controls playback",
			cmd:     Command{Kind: CommandPlay, FromHost: false, HostOnly: true},
			wantErr: ErrNotAuthorized,
		},
		{
			name: "non-host play allowed in free-for-all",
			cmd:  Command{Kind: CommandPlay, FromHost: false, HostOnly: false},
		},
		{
			name:    "non-host source change rejected even in free-for-all",
			cmd:     Command{Kind: CommandChangeSource, VideoSource: "x", FromHost: false, HostOnly: false},
			wantErr: ErrNotAuthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := clockwork.NewFakeClock()
			m := NewMachine(clock, "src")
			before := m.Snapshot()

			st, changed, err := m.Apply(tt.cmd)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if changed {
					t.Error("rejected command must not change state")
				}
				if st.Revision != before.Revision {
					t.Errorf("rejected command must not bump revision, got %d", st.Revision)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !changed {
				t.Error("expected accepted command to change state")
			}
		})
	}
}

func TestStaleRevisionRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMachine(clock, "src")
	if _, _, err := m.Apply(Command{Kind: CommandPlay, FromHost: true}); err != nil {
		t.Fatalf("play: %v", err)
	}

	_, changed, err := m.Apply(Command{Kind: CommandSeek, TargetSeconds: 10, FromHost: true, KnownRevision: uptr(0)})
	if !errors.Is(err, ErrStaleRevision) {
		t.Fatalf("expected ErrStaleRevision, got %v", err)
	}
	if changed {
		t.Error("stale command must not change state")
	}
	if m.Snapshot().Revision != 1 {
		t.Errorf("expected revision 1, got %d", m.Snapshot().Revision)
	}

	// Matching the current revision is accepted.
	st, _, err := m.Apply(Command{Kind: CommandSeek, TargetSeconds: 10, FromHost: true, KnownRevision: uptr(1)})
	if err != nil {
		t.Fatalf("seek at current revision: %v", err)
	}
	if st.Revision != 2 {
		t.Errorf("expected revision 2, got %d", st.Revision)
	}
}

func TestRevisionStrictlyIncreases(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMachine(clock, "src")

	cmds := []Command{
		{Kind: CommandPlay, FromHost: true},
		{Kind: CommandSeek, TargetSeconds: 5, FromHost: true},
		{Kind: CommandPause, FromHost: true},
		{Kind: CommandChangeSource, VideoSource: "other", FromHost: true},
	}
	var last uint64
	for i, cmd := range cmds {
		st, changed, err := m.Apply(cmd)
		if err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
		if !changed {
			t.Fatalf("command %d: expected a state change", i)
		}
		if st.Revision != last+1 {
			t.Fatalf("command %d: expected revision %d, got %d", i, last+1, st.Revision)
		}
		last = st.Revision
	}
}
