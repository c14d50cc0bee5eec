package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/markb/filepulse/internal/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (CORS handled elsewhere)
	},
}

// HandleWebSocket handles WebSocket upgrade requests. The credential must
// verify before the upgrade; an unauthenticated connection never produces a
// session and never reaches the presence handlers.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	identity, err := s.verifier.Verify(token)
	if err != nil {
		log.Debug("realtime: credential rejected", "error", err.Error())
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("realtime: upgrade failed", "error", err.Error())
		return
	}

	conn := s.hub.NewConn(ws, identity)
	log.Debug("realtime: new connection", "conn_id", conn.ID(), "user_id", identity.UserID)

	go conn.WritePump()
	go conn.ReadPump()
}

// bearerToken extracts a bearer credential from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
