// Package server provides the HTTP server for the formcheck form analysis service.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/ayusman/formcheck/internal/app"
	"github.com/ayusman/formcheck/internal/server/api"
	"github.com/ayusman/formcheck/internal/store"
)

// Service is the session pipeline the server exposes. *app.App implements it.
type Service interface {
	StartSession(id string)
	ProcessFrame(ctx context.Context, id, image string) (*app.FrameResult, error)
	EndSession(ctx context.Context, id, subjectID, programID string) (*app.EndResult, error)
	AbandonSession(id string)
	LoadReference(ctx context.Context) (int, error)
	Status() app.Status
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Service   Service
	// AllowedOrigin restricts websocket clients to one browser origin. Empty or
	// "*" accepts any origin.
	AllowedOrigin string
}

// Server represents the HTTP server for the formcheck application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.Service != nil {
		s.mux.Handle("/api/session", NewSessionHandler(s.config.Service, s.config.AllowedOrigin))
		s.mux.HandleFunc("/api/reference/reload", s.handleReload)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health. reference_frames is 0 while
// the service runs without a reference.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}

	if s.config.Service != nil {
		st := s.config.Service.Status()
		response["reference_frames"] = st.ReferenceFrames
		response["active_sessions"] = st.ActiveSessions
		response["workers"] = st.Workers
		if st.ReferenceFrames == 0 {
			response["status"] = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleReload handles POST /api/reference/reload. A failed reload leaves the
// current reference in place.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	frames, err := s.config.Service.LoadReference(r.Context())
	if err != nil {
		log.Printf("Reference reload failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"reference_frames": frames})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// ListenAndServe starts the HTTP server on the given address and shuts it down
// gracefully when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
