package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/reelsync/reelsync/internal/events"
	"github.com/reelsync/reelsync/internal/party"
)

func newTestGateway(t *testing.T) (*Service, *party.Service) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cm := NewConnectionManager(DefaultConnectionConfig())
	partySvc := party.NewService(clock, party.DefaultConfig(), cm, nil)
	t.Cleanup(partySvc.Close)
	return NewService(clock, partySvc, cm), partySvc
}

func TestHandleCreateRoom(t *testing.T) {
	gw, _ := newTestGateway(t)

	body := `{"host_name":"Alice","video_source":"https://cdn.example/movie.mp4"}`
	req := httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(body))
	rec := httptest.NewRecorder()
	gw.HandleCreateRoom(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap events.RoomSnapshotPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if snap.RoomCode == "" || snap.SessionID == "" {
		t.Errorf("expected room code and session id, got %+v", snap)
	}
	if snap.SessionID != snap.HostID {
		t.Errorf("creator session %s should be host %s", snap.SessionID, snap.HostID)
	}
	if !snap.HostControlsPlayback {
		t.Error("control mode must default to host-controlled")
	}
}

func TestHandleCreateRoomValidation(t *testing.T) {
	gw, _ := newTestGateway(t)

	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
	}{
		{name: "missing host name", method: http.MethodPost, body: `{"video_source":"x"}`, wantCode: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, body: `{`, wantCode: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, body: ``, wantCode: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/rooms", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			gw.HandleCreateRoom(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestHandleRoomSnapshot(t *testing.T) {
	gw, _ := newTestGateway(t)

	create := httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(`{"host_name":"Alice"}`))
	createRec := httptest.NewRecorder()
	gw.HandleCreateRoom(createRec, create)
	var created events.RoomSnapshotPayload
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/rooms/"+created.RoomCode, nil)
	rec := httptest.NewRecorder()
	gw.HandleRoomSnapshot(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap events.RoomSnapshotPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.RoomCode != created.RoomCode {
		t.Errorf("expected code %s, got %s", created.RoomCode, snap.RoomCode)
	}
	// A read-only snapshot carries no session identity.
	if snap.SessionID != "" {
		t.Errorf("expected empty session id, got %s", snap.SessionID)
	}
}

func TestHandleRoomSnapshotNotFound(t *testing.T) {
	gw, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/rooms/NOSUCH", nil)
	rec := httptest.NewRecorder()
	gw.HandleRoomSnapshot(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
