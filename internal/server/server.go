package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/markb/filepulse/internal/auth"
	"github.com/markb/filepulse/internal/history"
	"github.com/markb/filepulse/internal/log"
	"github.com/markb/filepulse/internal/realtime"
)

// Config holds server configuration.
type Config struct {
	JWTSecret   string
	HistoryPath string // path to the history database; "" disables history
}

// Server wires the presence service, identity verifier, and viewer history
// behind one HTTP surface.
type Server struct {
	router   *chi.Mux
	verifier *auth.Verifier
	presence *realtime.Service
	history  *history.Store

	httpServer   *http.Server
	httpsServer  *http.Server
	httpRedirect *http.Server
}

// New creates a server from the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}

	s := &Server{
		router:   chi.NewRouter(),
		verifier: auth.NewVerifier(cfg.JWTSecret),
	}

	var recorder realtime.Recorder
	if cfg.HistoryPath != "" {
		store, err := history.New(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("init history: %w", err)
		}
		s.history = store
		recorder = store
	}

	s.presence = realtime.NewService(s.verifier, recorder)
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	// CORS middleware for browser-based apps
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(log.RequestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/presence/v1", func(r chi.Router) {
		r.Get("/websocket", s.presence.HandleWebSocket)
		r.Get("/stats", s.handleStats)
		r.Get("/history/{fileID}", s.handleHistory)
	})
}

// Router returns the HTTP router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Presence returns the presence service.
func (s *Server) Presence() *realtime.Service {
	return s.presence
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.presence.Stats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "history_disabled",
			"message": "viewer history is not enabled",
		})
		return
	}

	fileID := chi.URLParam(r, "fileID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := s.history.Recent(fileID, limit)
	if err != nil {
		log.Error("history query failed", "file_id", fileID, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "history_error",
			"message": "failed to query viewer history",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id": fileID,
		"events":  events,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server(s) and closes the history
// store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if s.httpsServer != nil {
		if err := s.httpsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTPS server: %w", err))
		}
	}
	if s.httpRedirect != nil {
		if err := s.httpRedirect.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP redirect server: %w", err))
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server: %w", err))
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
