package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20  // 1 MB for JSON bodies
	maxUploadSize    = 32 << 20 // 32 MB for image uploads
)

// submitTextRequest is the JSON body for POST /v1/jobs/text.
type submitTextRequest struct {
	Prompt  string `json:"prompt"`
	Quality string `json:"quality"`
	Seed    *int   `json:"seed"`
}

// listJobsResponse wraps the live job list.
type listJobsResponse struct {
	Jobs  []*model.Job `json:"jobs"`
	Total int          `json:"total"`
}

func (s *Server) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	var req submitTextRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	seed := model.DefaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	job, err := s.engine.SubmitText(r.Context(), req.Prompt, req.Quality, seed)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleSubmitImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("read image upload", "error", err)
		s.writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	seed := model.DefaultSeed
	if v := r.FormValue("seed"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			seed = n
		}
	}

	job, err := s.engine.SubmitImage(r.Context(), header.Filename, image, r.FormValue("quality"), seed)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

// writeSubmitError maps engine validation errors to 400s and everything else
// to a 500.
func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptyPrompt),
		errors.Is(err, engine.ErrEmptyImage),
		errors.Is(err, engine.ErrInvalidQuality):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.engine.List()
	if jobs == nil {
		jobs = []*model.Job{}
	}
	s.writeJSON(w, http.StatusOK, listJobsResponse{Jobs: jobs, Total: len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, ok := s.engine.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, ok := s.engine.Remove(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// clearCompletedResponse is the JSON response for DELETE /v1/jobs/completed.
type clearCompletedResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, clearCompletedResponse{Removed: s.engine.ClearCompleted()})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
