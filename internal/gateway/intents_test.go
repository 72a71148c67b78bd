package gateway

import "testing"

func TestHandleIntentFatalClassification(t *testing.T) {
	gw, _ := newTestGateway(t)

	tests := []struct {
		name      string
		conn      *Connection
		message   string
		wantFatal bool
	}{
		{
			name:      "malformed envelope is fatal",
			conn:      &Connection{ID: "c1", RoomCode: "ABCDEF", SessionID: "s1"},
			message:   `{not json`,
			wantFatal: true,
		},
		{
			name:      "intent before join completes is fatal",
			conn:      &Connection{ID: "c2"},
			message:   `{"type":"Play","data":{}}`,
			wantFatal: true,
		},
		{
			name:      "unknown intent type is ignored",
			conn:      &Connection{ID: "c3", RoomCode: "ABCDEF", SessionID: "s1"},
			message:   `{"type":"Dance","data":{}}`,
			wantFatal: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gw.handleIntent(tt.conn, []byte(tt.message)); got != tt.wantFatal {
				t.Errorf("expected fatal=%v, got %v", tt.wantFatal, got)
			}
		})
	}
}
