package realtime

import (
	"sort"
	"sync"
	"time"
)

// Viewer is one identity's active-viewing claim on a file.
type Viewer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	ConnID   string    `json:"connectionId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Change pairs a file with its viewer set after a mutation.
type Change struct {
	FileID  string
	Viewers []Viewer
}

// Registry tracks which users are viewing which files. Entries are created
// lazily on the first viewer and deleted as soon as the last viewer leaves,
// so an empty set is never stored. At most one Viewer exists per
// (fileID, userID) pair; a repeat join replaces the previous record.
type Registry struct {
	mu    sync.Mutex
	files map[string]map[string]Viewer // fileID -> userID -> Viewer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		files: make(map[string]map[string]Viewer),
	}
}

// UpsertViewer inserts or replaces the viewer record for viewer.ID under
// fileID and returns the full current viewer set.
func (r *Registry) UpsertViewer(fileID string, viewer Viewer) []Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()

	viewers, ok := r.files[fileID]
	if !ok {
		viewers = make(map[string]Viewer)
		r.files[fileID] = viewers
	}
	viewers[viewer.ID] = viewer

	return snapshot(viewers)
}

// RemoveViewer removes the viewer record for userID under fileID if present.
// It returns the remaining viewer set and whether a removal actually
// occurred; callers must not broadcast when nothing changed. Unknown ids are
// a silent no-op, never an error.
func (r *Registry) RemoveViewer(fileID, userID string) ([]Viewer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	viewers, ok := r.files[fileID]
	if !ok {
		return nil, false
	}
	if _, ok := viewers[userID]; !ok {
		return snapshot(viewers), false
	}

	delete(viewers, userID)
	if len(viewers) == 0 {
		delete(r.files, fileID)
		return []Viewer{}, true
	}
	return snapshot(viewers), true
}

// RemoveViewerEverywhere removes userID from every file it is viewing and
// returns the changed (fileID, viewers) pairs so each can be broadcast
// independently. Used on disconnect.
func (r *Registry) RemoveViewerEverywhere(userID string) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []Change
	for fileID, viewers := range r.files {
		if _, ok := viewers[userID]; !ok {
			continue
		}
		delete(viewers, userID)
		if len(viewers) == 0 {
			delete(r.files, fileID)
			changes = append(changes, Change{FileID: fileID, Viewers: []Viewer{}})
		} else {
			changes = append(changes, Change{FileID: fileID, Viewers: snapshot(viewers)})
		}
	}
	return changes
}

// Viewers returns the current viewer set for a file, or nil if untracked.
func (r *Registry) Viewers(fileID string) []Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()

	viewers, ok := r.files[fileID]
	if !ok {
		return nil
	}
	return snapshot(viewers)
}

// FileCount returns the number of files with at least one viewer.
func (r *Registry) FileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// ViewerCounts returns the viewer count per tracked file.
func (r *Registry) ViewerCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int, len(r.files))
	for fileID, viewers := range r.files {
		counts[fileID] = len(viewers)
	}
	return counts
}

// snapshot copies a viewer set into a slice ordered by join time so
// broadcasts are stable. Caller must hold the registry lock.
func snapshot(viewers map[string]Viewer) []Viewer {
	out := make([]Viewer, 0, len(viewers))
	for _, v := range viewers {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
