package realtime

import (
	"github.com/markb/filepulse/internal/auth"
)

// Service provides the presence-tracking endpoint. It owns the hub and the
// registry for the lifetime of the process; construct it once at startup and
// pass it by reference.
type Service struct {
	hub      *Hub
	verifier *auth.Verifier
}

// NewService creates a new presence service. recorder may be nil to disable
// the viewer-history trail.
func NewService(verifier *auth.Verifier, recorder Recorder) *Service {
	return &Service{
		hub:      NewHub(recorder),
		verifier: verifier,
	}
}

// Hub returns the connection hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Stats returns presence statistics.
func (s *Service) Stats() HubStats {
	return s.hub.Stats()
}
