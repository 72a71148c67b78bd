package room

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestRegistry(t *testing.T, onReclaim func(code string)) (*Registry, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	r := NewRegistry(clock, DefaultConfig(), onReclaim)
	t.Cleanup(r.Close)
	return r, clock
}

func TestCreateRoom(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if len(info.Code) != codeLength {
		t.Errorf("expected code length %d, got %q", codeLength, info.Code)
	}
	for _, c := range info.Code {
		if !strings.ContainsRune(codeAlphabet, c) {
			t.Errorf("code %q contains character outside alphabet", info.Code)
		}
	}
	if !host.IsHost {
		t.Error("creator must be host")
	}
	if info.HostID != host.ID {
		t.Errorf("expected host id %s, got %s", host.ID, info.HostID)
	}
	if info.Status != StatusActive {
		t.Errorf("expected active room, got %s", info.Status)
	}
	if !info.HostControlsPlayback {
		t.Error("expected host-controlled playback")
	}
}

func TestJoinAndMembershipVisibility(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	created, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	info, p, err := r.Join(created.Code, "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.IsHost {
		t.Error("joiner of an active room must not be host")
	}
	if len(info.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(info.Participants))
	}
	// Tenure ordering: host first.
	if info.Participants[0].ID != host.ID {
		t.Errorf("expected host first in tenure order, got %s", info.Participants[0].ID)
	}
	if info.Participants[1].ID != p.ID {
		t.Errorf("expected joiner second, got %s", info.Participants[1].ID)
	}
}

func TestJoinUnknownCode(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	if _, _, err := r.Join("NOSUCH", "Bob"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestHostFailoverToLongestTenured(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	_, bob, err := r.Join(info.Code, "Bob")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	if _, _, err := r.Join(info.Code, "Carol"); err != nil {
		t.Fatalf("join carol: %v", err)
	}

	res, err := r.Leave(info.Code, host.ID)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.NewHost == nil {
		t.Fatal("expected host failover")
	}
	if res.NewHost.ID != bob.ID {
		t.Errorf("expected longest-tenured %s to become host, got %s", bob.ID, res.NewHost.ID)
	}

	after, err := r.Info(info.Code)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if after.HostID != bob.ID {
		t.Errorf("expected host id %s, got %s", bob.ID, after.HostID)
	}
	hosts := 0
	for _, p := range after.Participants {
		if p.IsHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Errorf("expected exactly one host, got %d", hosts)
	}
}

func TestNonHostLeaveKeepsHost(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	_, bob, err := r.Join(info.Code, "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := r.Leave(info.Code, bob.ID)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if res.NewHost != nil {
		t.Error("non-host departure must not change the host")
	}
	after, _ := r.Info(info.Code)
	if after.HostID != host.ID {
		t.Errorf("expected host unchanged, got %s", after.HostID)
	}
}

func TestTransferHost(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	_, bob, err := r.Join(info.Code, "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := r.TransferHost(info.Code, bob.ID, host.ID); !errors.Is(err, ErrNotHost) {
		t.Errorf("expected ErrNotHost from non-host transfer, got %v", err)
	}
	if _, err := r.TransferHost(info.Code, host.ID, "missing"); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("expected ErrUnknownParticipant for missing target, got %v", err)
	}

	to, err := r.TransferHost(info.Code, host.ID, bob.ID)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !to.IsHost || to.ID != bob.ID {
		t.Errorf("expected %s to be host, got %+v", bob.ID, to)
	}
	after, _ := r.Info(info.Code)
	if after.HostID != bob.ID {
		t.Errorf("expected host id %s, got %s", bob.ID, after.HostID)
	}
}

func TestSetControlModeRequiresHost(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	_, bob, err := r.Join(info.Code, "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := r.SetControlMode(info.Code, bob.ID, false); !errors.Is(err, ErrNotHost) {
		t.Errorf("expected ErrNotHost, got %v", err)
	}
	if err := r.SetControlMode(info.Code, host.ID, false); err != nil {
		t.Fatalf("set control mode: %v", err)
	}
	after, _ := r.Info(info.Code)
	if after.HostControlsPlayback {
		t.Error("expected free-for-all after toggle")
	}
}

func TestEmptiedRoomIsReclaimedAfterGrace(t *testing.T) {
	reclaimed := make(chan string, 1)
	r, clock := newTestRegistry(t, func(code string) { reclaimed <- code })

	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	res, err := r.Leave(info.Code, host.ID)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !res.Emptied {
		t.Fatal("expected room to be emptied")
	}

	// Inside the grace window the room is idle-empty, not destroyed.
	if _, _, err := r.Join(info.Code, "Bob"); err != nil {
		t.Fatalf("join during grace should succeed: %v", err)
	}

	// Empty it again and let the grace lapse.
	after, _ := r.Info(info.Code)
	if _, err := r.Leave(info.Code, after.HostID); err != nil {
		t.Fatalf("second leave: %v", err)
	}
	clock.Advance(DefaultConfig().ReclaimGrace)

	select {
	case code := <-reclaimed:
		if code != info.Code {
			t.Errorf("expected reclaim of %s, got %s", info.Code, code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reclaim")
	}

	if _, err := r.Info(info.Code); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected reclaimed room to be gone, got %v", err)
	}
}

func TestRejoinDuringGracePromotesToHostAndCancelsReclaim(t *testing.T) {
	reclaimed := make(chan string, 1)
	r, clock := newTestRegistry(t, func(code string) { reclaimed <- code })

	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := r.Leave(info.Code, host.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	_, bob, err := r.Join(info.Code, "Bob")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !bob.IsHost {
		t.Error("joiner reviving an idle-empty room must become host")
	}

	clock.Advance(DefaultConfig().ReclaimGrace * 2)
	select {
	case code := <-reclaimed:
		t.Fatalf("room %s reclaimed despite revival", code)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := r.Info(info.Code); err != nil {
		t.Errorf("expected revived room to survive, got %v", err)
	}
}

func TestResumeRestoresConnection(t *testing.T) {
	r, clock := newTestRegistry(t, nil)
	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	// Mark the host stale, then resume with the same session id.
	clock.Advance(7 * time.Second)
	r.ReapRoomStale(info.Code, 6*time.Second, 9*time.Second)

	stale, _ := r.Info(info.Code)
	if stale.Participants[0].Connected {
		t.Fatal("expected participant to be stale")
	}

	_, p, err := r.Resume(info.Code, host.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !p.Connected {
		t.Error("expected resumed participant to be connected")
	}
	if _, _, err := r.Resume(info.Code, "missing"); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("expected ErrUnknownParticipant, got %v", err)
	}
}

func TestReapStaleDropsSilentParticipantsWithFailover(t *testing.T) {
	r, clock := newTestRegistry(t, nil)
	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	_, bob, err := r.Join(info.Code, "Bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	staleAfter := 6 * time.Second
	dropAfter := 9 * time.Second

	if codes := r.ActiveCodes(); len(codes) != 1 || codes[0] != info.Code {
		t.Fatalf("expected active codes [%s], got %v", info.Code, codes)
	}

	// Both go quiet past the stale mark; only Bob keeps heartbeating.
	clock.Advance(7 * time.Second)
	if removed := r.ReapRoomStale(info.Code, staleAfter, dropAfter); len(removed) != 0 {
		t.Fatalf("expected stale marking only, got %d removals", len(removed))
	}
	if err := r.Heartbeat(info.Code, bob.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	clock.Advance(3 * time.Second)
	removed := r.ReapRoomStale(info.Code, staleAfter, dropAfter)
	if len(removed) != 1 {
		t.Fatalf("expected 1 removal, got %d", len(removed))
	}
	got := removed[0]
	if got.Left.ID != host.ID {
		t.Errorf("expected host %s reaped, got %+v", host.ID, got)
	}
	if got.NewHost == nil || got.NewHost.ID != bob.ID {
		t.Errorf("expected failover to %s, got %+v", bob.ID, got.NewHost)
	}

	after, _ := r.Info(info.Code)
	if len(after.Participants) != 1 || after.HostID != bob.ID {
		t.Errorf("expected only %s hosting, got %+v", bob.ID, after)
	}
}

func TestHeartbeatRestoresStaleParticipant(t *testing.T) {
	r, clock := newTestRegistry(t, nil)
	info, host, err := r.CreateRoom("Alice", "src", true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	clock.Advance(7 * time.Second)
	r.ReapRoomStale(info.Code, 6*time.Second, 9*time.Second)
	if err := r.Heartbeat(info.Code, host.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// Fresh again: the next sweep removes nothing.
	clock.Advance(3 * time.Second)
	if removed := r.ReapRoomStale(info.Code, 6*time.Second, 9*time.Second); len(removed) != 0 {
		t.Errorf("expected no removals after heartbeat, got %d", len(removed))
	}
	after, _ := r.Info(info.Code)
	if !after.Participants[0].Connected {
		t.Error("expected heartbeat to restore connected status")
	}
}
