package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.sink != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.sink.Ping(ctx); err != nil {
			slog.Warn("Health check: store unreachable", "error", err)
			response.Status = "degraded"
			response.Database = "unavailable"
		} else {
			response.Database = "ok"
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// referenceHandler returns the configured vendor and meaning lists.
func (s *Server) referenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := ReferenceResponse{
		Vendors:  s.reference.Vendors,
		Meanings: s.reference.Meanings,
		Strict:   s.strictReference,
	}
	if response.Vendors == nil {
		response.Vendors = []string{}
	}
	if response.Meanings == nil {
		response.Meanings = []string{}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// can't send another response
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
