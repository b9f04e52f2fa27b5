// testserver runs a stub TRELLIS-style generation service for development
// and E2E testing. Jobs advance on wall-clock time through the real stage
// vocabulary; a prompt starting with "fail:" fails after the first stage.
// Usage: go run ./cmd/testserver
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

var stubStages = []string{"Generating image", "Generating 3D mesh", "Exporting GLB"}

// qualityFactor stretches the per-stage delay the way real presets stretch
// generation time.
var qualityFactor = map[string]int{
	"superfast": 1,
	"fast":      2,
	"balanced":  3,
	"high":      5,
}

type stubJob struct {
	id        string
	kind      string
	prompt    string
	quality   string
	seed      int
	createdAt time.Time
}

type stubService struct {
	mu         sync.Mutex
	jobs       map[string]*stubJob
	order      []string
	nextID     int
	stageDelay time.Duration
	logger     *slog.Logger
}

func newStubService(stageDelay time.Duration, logger *slog.Logger) *stubService {
	return &stubService{
		jobs:       make(map[string]*stubJob),
		stageDelay: stageDelay,
		logger:     logger,
	}
}

func (s *stubService) admit(kind, prompt, quality string, seed int) *stubJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	j := &stubJob{
		id:        fmt.Sprintf("stub-%d", s.nextID),
		kind:      kind,
		prompt:    prompt,
		quality:   quality,
		seed:      seed,
		createdAt: time.Now(),
	}
	s.jobs[j.id] = j
	s.order = append(s.order, j.id)
	s.logger.Info("job admitted", "job_id", j.id, "kind", kind, "quality", quality)
	return j
}

func (s *stubService) lookup(id string) (*stubJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// stageDur is the per-stage wall time for a job, scaled by its quality.
func (s *stubService) stageDur(j *stubJob) time.Duration {
	f := qualityFactor[j.quality]
	if f == 0 {
		f = 1
	}
	return s.stageDelay * time.Duration(f)
}

// statusOf derives a job's current state from how long it has existed.
func (s *stubService) statusOf(j *stubJob, now time.Time) map[string]any {
	out := map[string]any{
		"job_id":  j.id,
		"type":    j.kind,
		"status":  "queued",
		"prompt":  j.prompt,
		"quality": j.quality,
	}

	stage := s.stageDur(j)
	elapsed := now.Sub(j.createdAt)
	if elapsed < stage {
		return out
	}

	if strings.HasPrefix(j.prompt, "fail:") && elapsed >= 2*stage {
		out["status"] = "failed"
		out["error"] = "generation failed: " + strings.TrimPrefix(j.prompt, "fail:")
		return out
	}

	total := stage * time.Duration(1+len(stubStages))
	if elapsed < total {
		idx := int((elapsed-stage)/stage) % len(stubStages)
		out["status"] = "running"
		out["stage"] = fmt.Sprintf("%d/%d", idx+1, len(stubStages))
		out["stage_description"] = stubStages[idx]
		return out
	}

	out["status"] = "done"
	out["result"] = s.resultOf(j)
	out["timings"] = map[string]float64{
		"generation": (stage * time.Duration(len(stubStages))).Seconds(),
		"total":      total.Seconds(),
	}
	return out
}

// resultOf lists artifact paths relative to the service base URL. Image-to-3D
// jobs produce no separate preview, matching the real service.
func (s *stubService) resultOf(j *stubJob) map[string]string {
	r := map[string]string{"glb": "download/" + j.id + "/model.glb"}
	if j.kind == "text" {
		r["image"] = "download/" + j.id + "/preview.png"
	}
	return r
}

func (s *stubService) done(j *stubJob, now time.Time) bool {
	if strings.HasPrefix(j.prompt, "fail:") {
		return false
	}
	return now.Sub(j.createdAt) >= s.stageDur(j)*time.Duration(1+len(stubStages))
}

func (s *stubService) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt  string `json:"prompt"`
		Quality string `json:"quality"`
		Seed    int    `json:"seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	j := s.admit("text", req.Prompt, req.Quality, req.Seed)
	writeJSON(w, http.StatusOK, map[string]string{"job_id": j.id, "status": "queued"})
}

func (s *stubService) handleSubmitImage(w http.ResponseWriter, r *http.Request) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image file is required"})
		return
	}
	f.Close()

	q := r.URL.Query()
	seed, _ := strconv.Atoi(q.Get("seed"))
	j := s.admit("image", hdr.Filename, q.Get("quality"), seed)
	writeJSON(w, http.StatusOK, map[string]string{"job_id": j.id, "status": "queued"})
}

func (s *stubService) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(chi.URLParam(r, "jobID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.statusOf(j, time.Now()))
}

func (s *stubService) handleResult(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(chi.URLParam(r, "jobID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	now := time.Now()
	st := s.statusOf(j, now)
	if st["status"] == "failed" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": st["error"].(string)})
		return
	}
	if !s.done(j, now) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  s.resultOf(j),
		"timings": st["timings"],
	})
}

func (s *stubService) handleList(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("status")
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	s.mu.Lock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	s.mu.Unlock()

	now := time.Now()
	jobs := make([]map[string]any, 0, limit)
	// Newest first.
	for i := len(ids) - 1; i >= 0 && len(jobs) < limit; i-- {
		j, ok := s.lookup(ids[i])
		if !ok {
			continue
		}
		st := s.statusOf(j, now)
		if filter != "" && st["status"] != filter {
			continue
		}
		jobs = append(jobs, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs)})
}

func (s *stubService) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	s.logger.Info("job deleted", "job_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *stubService) handleDownload(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(chi.URLParam(r, "jobID"))
	if !ok || !s.done(j, time.Now()) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}

	file := chi.URLParam(r, "file")
	switch {
	case strings.HasSuffix(file, ".glb"):
		w.Header().Set("Content-Type", "model/gltf-binary")
		// A real GLB magic header keeps viewers and sniffers honest.
		w.Write(append([]byte("glTF"), []byte(fmt.Sprintf("stub model for %s seed %d", j.id, j.seed))...))
	case strings.HasSuffix(file, ".png"):
		w.Header().Set("Content-Type", "image/png")
		w.Write(append([]byte("\x89PNG\r\n\x1a\n"), []byte("stub preview "+j.id)...))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "trellis2"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	addr := ":8000"
	if v := os.Getenv("TESTSERVER_ADDR"); v != "" {
		addr = v
	}
	stageDelay := 500 * time.Millisecond
	if v := os.Getenv("TESTSERVER_STAGE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			stageDelay = d
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	svc := newStubService(stageDelay, logger)

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Post("/submit/text", svc.handleSubmitText)
	r.Post("/submit/image", svc.handleSubmitImage)
	r.Get("/status/{jobID}", svc.handleStatus)
	r.Get("/result/{jobID}", svc.handleResult)
	r.Get("/jobs", svc.handleList)
	r.Delete("/jobs/{jobID}", svc.handleDelete)
	r.Get("/download/{jobID}/{file}", svc.handleDownload)

	logger.Info("testserver: starting", "addr", addr, "stage_delay", stageDelay)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
