package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - live progress streaming
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Ingestion jobs
	mux.HandleFunc("/api/ingest", s.app.JobHandler.SubmitHandler)
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListHandler)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/config", s.app.APIHandler.ConfigHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes job-related requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method == http.MethodGet {
		if strings.HasSuffix(path, "/events") {
			s.app.JobHandler.EventsHandler(w, r)
			return
		}
		s.app.JobHandler.GetHandler(w, r)
		return
	}

	if r.Method == http.MethodPost && strings.HasSuffix(path, "/cancel") {
		s.app.JobHandler.CancelHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
