package realtime

import (
	"sync"
	"time"

	"github.com/markb/filepulse/internal/log"
)

// Recorder receives join/leave notifications for the viewer history trail.
// Implementations must be safe for concurrent use; calls are made from
// handler goroutines and must not block.
type Recorder interface {
	RecordJoin(fileID string, viewer Viewer)
	RecordLeave(fileID, userID string, at time.Time)
}

// Hub owns the presence registry, all live connections, and the per-file
// broadcast groups. Presence mutations are serialized by evmu so that for a
// single file, scoped broadcasts are enqueued in the same order the mutating
// events were processed.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Conn            // connID -> Conn
	groups      map[string]map[string]*Conn // fileID -> connID -> Conn

	evmu     sync.Mutex
	registry *Registry
	recorder Recorder // may be nil
}

// HubStats contains presence statistics.
type HubStats struct {
	Connections int         `json:"connections"`
	Files       int         `json:"files"`
	FileDetails []FileStats `json:"file_details"`
}

// FileStats contains per-file statistics.
type FileStats struct {
	FileID  string `json:"file_id"`
	Viewers int    `json:"viewers"`
}

// NewHub creates a new Hub.
func NewHub(recorder Recorder) *Hub {
	return &Hub{
		connections: make(map[string]*Conn),
		groups:      make(map[string]map[string]*Conn),
		registry:    NewRegistry(),
		recorder:    recorder,
	}
}

// Registry returns the presence registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Stats returns current presence statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	connections := len(h.connections)
	h.mu.RUnlock()

	counts := h.registry.ViewerCounts()
	stats := HubStats{
		Connections: connections,
		Files:       len(counts),
		FileDetails: make([]FileStats, 0, len(counts)),
	}
	for fileID, n := range counts {
		stats.FileDetails = append(stats.FileDetails, FileStats{FileID: fileID, Viewers: n})
	}
	return stats
}

// registerConn adds a connection to the hub.
func (h *Hub) registerConn(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.id] = conn
}

// handleStartViewing processes a start-viewing-file event: upserts the
// viewer record, binds the connection to the file (implicitly stopping any
// previous binding), joins the file's broadcast group, and emits the scoped
// viewer list plus a global joined event.
func (h *Hub) handleStartViewing(c *Conn, fileID string) {
	if c.identity == nil {
		log.Debug("realtime: start-viewing without identity", "conn_id", c.id)
		return
	}

	// A connection is bound to one file at a time; switching files without
	// an explicit stop first leaves the old file cleanly.
	if prev := c.currentViewing(); prev != "" && prev != fileID {
		h.handleStopViewing(c, prev)
	}

	h.evmu.Lock()
	defer h.evmu.Unlock()

	viewer := Viewer{
		ID:       c.identity.UserID,
		Name:     c.identity.Name,
		Email:    c.identity.Email,
		ConnID:   c.id,
		JoinedAt: time.Now().UTC(),
	}

	viewers := h.registry.UpsertViewer(fileID, viewer)
	h.joinGroup(fileID, c)
	c.setViewing(fileID)

	h.broadcastToGroup(fileID, NewViewersUpdated(fileID, viewers))
	h.broadcastGlobal(NewViewerJoined(fileID, viewer))

	if h.recorder != nil {
		go h.recorder.RecordJoin(fileID, viewer)
	}

	log.Debug("realtime: viewer joined", "file_id", fileID, "user_id", viewer.ID, "conn_id", c.id, "viewers", len(viewers))
}

// handleStopViewing processes a stop-viewing-file event. Stopping a file the
// user was not viewing is a harmless no-op and emits nothing.
func (h *Hub) handleStopViewing(c *Conn, fileID string) {
	if c.identity == nil {
		log.Debug("realtime: stop-viewing without identity", "conn_id", c.id)
		return
	}

	h.evmu.Lock()
	defer h.evmu.Unlock()

	viewers, removed := h.registry.RemoveViewer(fileID, c.identity.UserID)
	if !removed {
		return
	}

	h.leaveGroup(fileID, c)
	c.clearViewing(fileID)

	h.broadcastToGroup(fileID, NewViewersUpdated(fileID, viewers))
	h.broadcastGlobal(NewViewerLeft(fileID, c.identity.UserID))

	if h.recorder != nil {
		go h.recorder.RecordLeave(fileID, c.identity.UserID, time.Now().UTC())
	}

	log.Debug("realtime: viewer left", "file_id", fileID, "user_id", c.identity.UserID, "conn_id", c.id, "viewers", len(viewers))
}

// dropConn removes a closed connection from the hub and purges its viewer
// records from every file, broadcasting one update per affected file. This
// runs for explicit closes and abrupt disconnects alike, so no file is ever
// left with a phantom viewer.
func (h *Hub) dropConn(c *Conn) {
	h.mu.Lock()
	delete(h.connections, c.id)
	for fileID, group := range h.groups {
		if _, ok := group[c.id]; ok {
			delete(group, c.id)
			if len(group) == 0 {
				delete(h.groups, fileID)
			}
		}
	}
	h.mu.Unlock()

	if c.identity == nil {
		return
	}

	h.evmu.Lock()
	defer h.evmu.Unlock()

	now := time.Now().UTC()
	changes := h.registry.RemoveViewerEverywhere(c.identity.UserID)
	for _, change := range changes {
		h.broadcastToGroup(change.FileID, NewViewersUpdated(change.FileID, change.Viewers))
		h.broadcastGlobal(NewViewerLeft(change.FileID, c.identity.UserID))

		if h.recorder != nil {
			go h.recorder.RecordLeave(change.FileID, c.identity.UserID, now)
		}
	}

	if len(changes) > 0 {
		log.Debug("realtime: connection cleanup", "conn_id", c.id, "user_id", c.identity.UserID, "files", len(changes))
	}
}

// joinGroup adds a connection to a file's broadcast group.
func (h *Hub) joinGroup(fileID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[fileID]
	if !ok {
		group = make(map[string]*Conn)
		h.groups[fileID] = group
	}
	group[c.id] = c
}

// leaveGroup removes a connection from a file's broadcast group, deleting
// the group once empty.
func (h *Hub) leaveGroup(fileID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[fileID]
	if !ok {
		return
	}
	delete(group, c.id)
	if len(group) == 0 {
		delete(h.groups, fileID)
	}
}

// broadcastToGroup sends a message to every connection in a file's broadcast
// group. Delivery is fire-and-forget via each connection's send buffer; a
// failed recipient never aborts delivery to the others.
func (h *Hub) broadcastToGroup(fileID string, msg *Message) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.groups[fileID]))
	for _, c := range h.groups[fileID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Send(msg)
	}
}

// broadcastGlobal sends a message to every connected session regardless of
// group membership.
func (h *Hub) broadcastGlobal(msg *Message) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Send(msg)
	}
}
