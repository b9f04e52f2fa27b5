package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok"}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}

// handleRemoteHealth probes the generation service on behalf of the caller.
func (s *Server) handleRemoteHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RemoteHealth(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, "generation service unreachable: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}
