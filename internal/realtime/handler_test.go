package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/markb/filepulse/internal/auth"
)

const testSecret = "test-secret-key-min-32-characters"

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	svc := NewService(auth.NewVerifier(testSecret), nil)
	srv := httptest.NewServer(http.HandlerFunc(svc.HandleWebSocket))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, &auth.Identity{
		UserID: userID,
		Name:   "User " + userID,
		Email:  userID + "@example.com",
	}, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func readMessage(t *testing.T, ws *websocket.Conn) *Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func TestHandleWebSocketRejectsMissingCredential(t *testing.T) {
	_, wsURL := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake to fail without a credential")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}
}

func TestHandleWebSocketRejectsInvalidCredential(t *testing.T) {
	_, wsURL := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bogus", nil)
	if err == nil {
		t.Fatal("expected handshake to fail with a bogus credential")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}
}

func TestHandleWebSocketAcceptsQueryToken(t *testing.T) {
	_, wsURL := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+mintToken(t, "user-a"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	data, _ := NewViewRequest(EventStartViewing, "file-1").Encode()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	// First message is the scoped viewer list.
	msg := readMessage(t, ws)
	if msg.Event != EventViewersUpdated {
		t.Fatalf("expected %s, got %s", EventViewersUpdated, msg.Event)
	}
	var payload ViewersUpdated
	if err := msg.Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.FileID != "file-1" || len(payload.Viewers) != 1 {
		t.Errorf("unexpected update: %+v", payload)
	}
	if payload.Viewers[0].ID != "user-a" {
		t.Errorf("unexpected viewer: %+v", payload.Viewers[0])
	}
}

func TestHandleWebSocketAcceptsBearerHeader(t *testing.T) {
	_, wsURL := newTestServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+mintToken(t, "user-a"))
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial with bearer header: %v", err)
	}
	ws.Close()
}

func TestHandleWebSocketHeartbeat(t *testing.T) {
	_, wsURL := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+mintToken(t, "user-a"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	data, _ := (&Message{Event: EventHeartbeat}).Encode()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, ws)
	if msg.Event != EventHeartbeat {
		t.Errorf("expected heartbeat echo, got %s", msg.Event)
	}
}

func TestHandleWebSocketMalformedEventKeepsConnectionOpen(t *testing.T) {
	_, wsURL := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+mintToken(t, "user-a"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// Garbage frame, then an event with no fileId: both dropped silently.
	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	data, _ := NewMessage(EventStartViewing, map[string]any{})
	raw, _ := data.Encode()
	ws.WriteMessage(websocket.TextMessage, raw)

	// The connection must still work.
	valid, _ := NewViewRequest(EventStartViewing, "file-1").Encode()
	if err := ws.WriteMessage(websocket.TextMessage, valid); err != nil {
		t.Fatalf("write after malformed frames: %v", err)
	}
	msg := readMessage(t, ws)
	if msg.Event != EventViewersUpdated {
		t.Errorf("expected viewers update, got %s", msg.Event)
	}
}
