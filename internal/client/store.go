// Package client implements the filepulse client: a presence store that
// reduces server events into per-file viewer state, and a connection layer
// that dials, reconnects with backoff, and resubscribes after reconnection.
package client

import (
	"sync"

	"github.com/markb/filepulse/internal/realtime"
)

// Event is a presence change consumed by the Store. The variants mirror the
// server's outbound events.
type Event interface {
	isEvent()
}

// ViewersSet replaces a file's full viewer list.
type ViewersSet struct {
	FileID  string
	Viewers []realtime.Viewer
}

// ViewerJoined is the global joined event, used for badges.
type ViewerJoined struct {
	FileID string
	Viewer realtime.Viewer
}

// ViewerLeft is the global left event, used for badges.
type ViewerLeft struct {
	FileID string
	UserID string
}

func (ViewersSet) isEvent()   {}
func (ViewerJoined) isEvent() {}
func (ViewerLeft) isEvent()   {}

// Store holds the client's view of presence. Full viewer lists are replaced
// wholesale (the server always broadcasts the complete set, never a delta);
// a separate badge projection is maintained from the global events for files
// whose full list was never fetched.
type Store struct {
	mu      sync.RWMutex
	lists   map[string][]realtime.Viewer   // fileID -> full viewer list
	badges  map[string]map[string]struct{} // fileID -> set of userIDs
	viewing string                         // file the local user is viewing
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		lists:  make(map[string][]realtime.Viewer),
		badges: make(map[string]map[string]struct{}),
	}
}

// Apply reduces one event into the store.
func (s *Store) Apply(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case ViewersSet:
		viewers := make([]realtime.Viewer, len(e.Viewers))
		copy(viewers, e.Viewers)
		s.lists[e.FileID] = viewers

	case ViewerJoined:
		badge, ok := s.badges[e.FileID]
		if !ok {
			badge = make(map[string]struct{})
			s.badges[e.FileID] = badge
		}
		badge[e.Viewer.ID] = struct{}{}

	case ViewerLeft:
		if badge, ok := s.badges[e.FileID]; ok {
			delete(badge, e.UserID)
			if len(badge) == 0 {
				delete(s.badges, e.FileID)
			}
		}
	}
}

// Viewers returns the last known full viewer list for a file. ok is false if
// no full list has ever been received for it.
func (s *Store) Viewers(fileID string) ([]realtime.Viewer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	viewers, ok := s.lists[fileID]
	if !ok {
		return nil, false
	}
	out := make([]realtime.Viewer, len(viewers))
	copy(out, viewers)
	return out, true
}

// BadgeCount returns the number of distinct users seen viewing a file via
// the global events.
func (s *Store) BadgeCount(fileID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.badges[fileID])
}

// SetViewing records the file the local user is viewing. Called optimistically
// when the start-viewing request is issued, before any server acknowledgment.
func (s *Store) SetViewing(fileID string) {
	s.mu.Lock()
	s.viewing = fileID
	s.mu.Unlock()
}

// ClearViewing clears the local binding if it still points at fileID.
func (s *Store) ClearViewing(fileID string) {
	s.mu.Lock()
	if s.viewing == fileID {
		s.viewing = ""
	}
	s.mu.Unlock()
}

// Viewing returns the file the local user is currently viewing, if any.
func (s *Store) Viewing() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewing
}
