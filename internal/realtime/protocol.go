// Package realtime implements the viewer-presence protocol for filepulse.
// It tracks which authenticated users currently have a file open and fans
// that state out over WebSocket: a full viewer list to everyone watching the
// same file, plus lightweight join/leave events to every connection for live
// badges in list views.
package realtime

import (
	"encoding/json"
	"fmt"
)

// Message is the wire envelope for all presence traffic.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client events
const (
	EventStartViewing = "start-viewing-file"
	EventStopViewing  = "stop-viewing-file"
	EventHeartbeat    = "heartbeat"
)

// Server events
const (
	EventViewersUpdated = "file-viewers-updated"
	EventViewerJoined   = "user-started-viewing-file"
	EventViewerLeft     = "user-stopped-viewing-file"
)

// ViewRequest is the payload of start-viewing-file and stop-viewing-file.
type ViewRequest struct {
	FileID string `json:"fileId"`
}

// ViewersUpdated carries the full current viewer set for one file.
// Scoped to the file's broadcast group.
type ViewersUpdated struct {
	FileID  string   `json:"fileId"`
	Viewers []Viewer `json:"viewers"`
}

// ViewerJoined announces a single new viewer. Delivered globally.
type ViewerJoined struct {
	FileID string `json:"fileId"`
	Viewer Viewer `json:"viewer"`
}

// ViewerLeft announces a departed viewer. Delivered globally.
type ViewerLeft struct {
	FileID string `json:"fileId"`
	UserID string `json:"userId"`
}

// NewMessage builds a message with a JSON-encoded payload.
func NewMessage(event string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return &Message{Event: event, Payload: data}, nil
}

// NewViewersUpdated creates a file-viewers-updated message.
func NewViewersUpdated(fileID string, viewers []Viewer) *Message {
	if viewers == nil {
		viewers = []Viewer{}
	}
	msg, _ := NewMessage(EventViewersUpdated, ViewersUpdated{FileID: fileID, Viewers: viewers})
	return msg
}

// NewViewerJoined creates a user-started-viewing-file message.
func NewViewerJoined(fileID string, viewer Viewer) *Message {
	msg, _ := NewMessage(EventViewerJoined, ViewerJoined{FileID: fileID, Viewer: viewer})
	return msg
}

// NewViewerLeft creates a user-stopped-viewing-file message.
func NewViewerLeft(fileID, userID string) *Message {
	msg, _ := NewMessage(EventViewerLeft, ViewerLeft{FileID: fileID, UserID: userID})
	return msg
}

// NewViewRequest creates a start- or stop-viewing-file message.
func NewViewRequest(event, fileID string) *Message {
	msg, _ := NewMessage(event, ViewRequest{FileID: fileID})
	return msg
}

// Encode serializes a message to JSON bytes.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Event)
	}
	return json.Unmarshal(m.Payload, v)
}

// DecodeMessage parses JSON bytes into a Message.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid message format: %w", err)
	}
	return &msg, nil
}
