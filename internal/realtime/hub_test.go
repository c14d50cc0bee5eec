package realtime

import (
	"testing"

	"github.com/markb/filepulse/internal/auth"
)

func testIdentity(userID string) *auth.Identity {
	return &auth.Identity{
		UserID: userID,
		Name:   "User " + userID,
		Email:  userID + "@example.com",
	}
}

// drain decodes everything queued on a connection's send buffer.
func drain(t *testing.T, c *Conn) []*Message {
	t.Helper()
	var msgs []*Message
	for {
		select {
		case data := <-c.send:
			msg, err := DecodeMessage(data)
			if err != nil {
				t.Fatalf("undecodable outbound message: %v", err)
			}
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

// viewersFrom decodes a file-viewers-updated message.
func viewersFrom(t *testing.T, msg *Message) ViewersUpdated {
	t.Helper()
	if msg.Event != EventViewersUpdated {
		t.Fatalf("expected %s, got %s", EventViewersUpdated, msg.Event)
	}
	var payload ViewersUpdated
	if err := msg.Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return payload
}

func TestNewHub(t *testing.T) {
	hub := NewHub(nil)
	if hub == nil {
		t.Fatal("hub should not be nil")
	}
	if hub.connections == nil {
		t.Error("connections map should be initialized")
	}
	if hub.groups == nil {
		t.Error("groups map should be initialized")
	}
	if hub.registry == nil {
		t.Error("registry should be initialized")
	}
}

func TestHubStartViewing(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))

	hub.handleStartViewing(a, "file-1")

	viewers := hub.Registry().Viewers("file-1")
	if len(viewers) != 1 {
		t.Fatalf("expected 1 viewer, got %d", len(viewers))
	}
	if viewers[0].ConnID != a.ID() {
		t.Errorf("viewer conn id mismatch: got %s", viewers[0].ConnID)
	}
	if a.currentViewing() != "file-1" {
		t.Errorf("connection should be bound to file-1, got %q", a.currentViewing())
	}

	msgs := drain(t, a)
	if len(msgs) != 2 {
		t.Fatalf("expected scoped update + global joined, got %d messages", len(msgs))
	}
	payload := viewersFrom(t, msgs[0])
	if payload.FileID != "file-1" || len(payload.Viewers) != 1 {
		t.Errorf("unexpected scoped update: %+v", payload)
	}
	if msgs[1].Event != EventViewerJoined {
		t.Errorf("expected global joined event, got %s", msgs[1].Event)
	}
}

func TestHubSecondViewerSeesBoth(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))
	b := hub.NewConn(nil, testIdentity("user-b"))

	hub.handleStartViewing(a, "file-1")
	drain(t, a)
	drain(t, b)

	hub.handleStartViewing(b, "file-1")

	// A is in the group, so it gets the scoped update with both viewers
	// plus the global joined event.
	msgs := drain(t, a)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages for A, got %d", len(msgs))
	}
	payload := viewersFrom(t, msgs[0])
	if len(payload.Viewers) != 2 {
		t.Errorf("expected both viewers in update, got %d", len(payload.Viewers))
	}
}

func TestHubGlobalEventReachesNonSubscribers(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))
	c := hub.NewConn(nil, testIdentity("user-c")) // never joins any file

	hub.handleStartViewing(a, "file-1")

	// C is not in file-1's group: it gets only the global joined event.
	msgs := drain(t, c)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message for non-subscriber, got %d", len(msgs))
	}
	if msgs[0].Event != EventViewerJoined {
		t.Errorf("expected %s, got %s", EventViewerJoined, msgs[0].Event)
	}
	var payload ViewerJoined
	if err := msgs[0].Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.FileID != "file-1" || payload.Viewer.ID != "user-a" {
		t.Errorf("unexpected joined payload: %+v", payload)
	}
}

func TestHubStopViewing(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))
	b := hub.NewConn(nil, testIdentity("user-b"))

	hub.handleStartViewing(a, "file-1")
	hub.handleStartViewing(b, "file-1")
	drain(t, a)
	drain(t, b)

	hub.handleStopViewing(a, "file-1")

	if a.currentViewing() != "" {
		t.Error("binding should be cleared after stop")
	}
	viewers := hub.Registry().Viewers("file-1")
	if len(viewers) != 1 || viewers[0].ID != "user-b" {
		t.Error("only user-b should remain")
	}

	// A left the group before the broadcast: it only sees the global left event.
	msgsA := drain(t, a)
	if len(msgsA) != 1 || msgsA[0].Event != EventViewerLeft {
		t.Errorf("expected only global left event for A, got %d messages", len(msgsA))
	}

	msgsB := drain(t, b)
	if len(msgsB) != 2 {
		t.Fatalf("expected scoped update + global left for B, got %d", len(msgsB))
	}
	payload := viewersFrom(t, msgsB[0])
	if len(payload.Viewers) != 1 || payload.Viewers[0].ID != "user-b" {
		t.Errorf("unexpected viewer set after stop: %+v", payload.Viewers)
	}
}

func TestHubStopViewingNoOpSuppressesBroadcast(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))
	b := hub.NewConn(nil, testIdentity("user-b"))

	hub.handleStartViewing(b, "file-1")
	drain(t, a)
	drain(t, b)

	// A never viewed file-1.
	hub.handleStopViewing(a, "file-1")

	if got := len(drain(t, a)) + len(drain(t, b)); got != 0 {
		t.Errorf("no-op stop must emit zero broadcasts, got %d", got)
	}
	if len(hub.Registry().Viewers("file-1")) != 1 {
		t.Error("registry should be unchanged")
	}
}

func TestHubImplicitSwitch(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))

	hub.handleStartViewing(a, "file-1")
	drain(t, a)

	// Starting a different file without an explicit stop leaves file-1.
	hub.handleStartViewing(a, "file-2")

	if hub.Registry().Viewers("file-1") != nil {
		t.Error("file-1 should be empty after implicit switch")
	}
	if len(hub.Registry().Viewers("file-2")) != 1 {
		t.Error("file-2 should have one viewer")
	}
	if a.currentViewing() != "file-2" {
		t.Errorf("binding should follow the switch, got %q", a.currentViewing())
	}
}

func TestHubIdempotentRejoin(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))

	hub.handleStartViewing(a, "file-1")
	first := hub.Registry().Viewers("file-1")[0]
	drain(t, a)

	hub.handleStartViewing(a, "file-1")
	viewers := hub.Registry().Viewers("file-1")
	if len(viewers) != 1 {
		t.Fatalf("expected exactly 1 record after re-join, got %d", len(viewers))
	}
	if viewers[0].JoinedAt.Before(first.JoinedAt) {
		t.Error("joinedAt should be updated to the second call's time")
	}

	msgs := drain(t, a)
	if len(msgs) != 2 {
		t.Errorf("re-join should broadcast like a join, got %d messages", len(msgs))
	}
}

func TestHubDisconnectCompleteness(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))
	b := hub.NewConn(nil, testIdentity("user-b"))

	hub.handleStartViewing(b, "file-1")
	hub.handleStartViewing(a, "file-1")
	drain(t, a)
	drain(t, b)

	a.Close()

	if got := hub.Stats().Connections; got != 1 {
		t.Errorf("expected 1 connection after close, got %d", got)
	}

	viewers := hub.Registry().Viewers("file-1")
	if len(viewers) != 1 || viewers[0].ID != "user-b" {
		t.Error("user-a must be absent from file-1 after disconnect")
	}

	msgs := drain(t, b)
	var updates, lefts int
	for _, msg := range msgs {
		switch msg.Event {
		case EventViewersUpdated:
			updates++
			payload := viewersFrom(t, msg)
			if len(payload.Viewers) != 1 || payload.Viewers[0].ID != "user-b" {
				t.Errorf("unexpected viewer set after disconnect: %+v", payload.Viewers)
			}
		case EventViewerLeft:
			lefts++
		}
	}
	if updates != 1 {
		t.Errorf("expected exactly one updated-list broadcast per affected file, got %d", updates)
	}
	if lefts != 1 {
		t.Errorf("expected one global left event, got %d", lefts)
	}
}

func TestHubDisconnectIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))

	hub.handleStartViewing(a, "file-1")
	a.Close()
	a.Close() // second close must not panic or re-broadcast

	if hub.Registry().FileCount() != 0 {
		t.Error("registry should be empty after disconnect")
	}
}

func TestHubScenario(t *testing.T) {
	// A starts viewing, B joins, A disconnects, B stops.
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))
	b := hub.NewConn(nil, testIdentity("user-b"))

	hub.handleStartViewing(a, "file-1")
	if len(hub.Registry().Viewers("file-1")) != 1 {
		t.Fatal("expected {A} after A joins")
	}

	hub.handleStartViewing(b, "file-1")
	if len(hub.Registry().Viewers("file-1")) != 2 {
		t.Fatal("expected {A,B} after B joins")
	}
	drain(t, a)
	drain(t, b)

	a.Close()
	msgs := drain(t, b)
	var sawUpdate, sawLeft bool
	for _, msg := range msgs {
		switch msg.Event {
		case EventViewersUpdated:
			payload := viewersFrom(t, msg)
			if len(payload.Viewers) != 1 || payload.Viewers[0].ID != "user-b" {
				t.Errorf("expected only B after A's disconnect, got %+v", payload.Viewers)
			}
			sawUpdate = true
		case EventViewerLeft:
			var payload ViewerLeft
			if err := msg.Decode(&payload); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if payload.FileID != "file-1" || payload.UserID != "user-a" {
				t.Errorf("unexpected left payload: %+v", payload)
			}
			sawLeft = true
		}
	}
	if !sawUpdate || !sawLeft {
		t.Error("expected both the scoped update and the global left event")
	}

	hub.handleStopViewing(b, "file-1")
	if hub.Registry().Viewers("file-1") != nil {
		t.Error("file-1 entry should be deleted entirely after the last stop")
	}
}

func TestHubStats(t *testing.T) {
	hub := NewHub(nil)
	a := hub.NewConn(nil, testIdentity("user-a"))
	_ = hub.NewConn(nil, testIdentity("user-b"))

	hub.handleStartViewing(a, "file-1")

	stats := hub.Stats()
	if stats.Connections != 2 {
		t.Errorf("expected 2 connections, got %d", stats.Connections)
	}
	if stats.Files != 1 {
		t.Errorf("expected 1 tracked file, got %d", stats.Files)
	}
	if len(stats.FileDetails) != 1 || stats.FileDetails[0].Viewers != 1 {
		t.Errorf("unexpected file details: %+v", stats.FileDetails)
	}
}
