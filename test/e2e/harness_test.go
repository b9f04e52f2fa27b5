package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	startupTimeout = 10 * time.Second
	settleTimeout  = 15 * time.Second
	pollInterval   = 50 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "anvil-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "anvil")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/anvil")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// stubRemote fakes the generation service: first poll reports running, the
// next reports done (or failed for "fail:" prompts). Every artifact download
// is served with a recognizable magic prefix.
type stubRemote struct {
	mu      sync.Mutex
	nextID  int
	prompts map[string]string
	polls   map[string]int
	deleted []string
	ts      *httptest.Server
}

func newStubRemote(t *testing.T) *stubRemote {
	t.Helper()
	s := &stubRemote{
		prompts: make(map[string]string),
		polls:   make(map[string]int),
	}

	mux := chi.NewRouter()
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStubJSON(w, 200, map[string]string{"status": "healthy", "service": "trellis2"})
	})
	mux.Post("/submit/text", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		writeStubJSON(w, 200, map[string]string{"job_id": s.admit(req.Prompt), "status": "queued"})
	})
	mux.Post("/submit/image", func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile("file")
		if err != nil {
			writeStubJSON(w, 400, map[string]string{"error": "image file is required"})
			return
		}
		writeStubJSON(w, 200, map[string]string{"job_id": s.admit(hdr.Filename), "status": "queued"})
	})
	mux.Get("/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.mu.Lock()
		prompt, ok := s.prompts[id]
		s.polls[id]++
		n := s.polls[id]
		s.mu.Unlock()
		if !ok {
			writeStubJSON(w, 404, map[string]string{"error": "job not found"})
			return
		}

		out := map[string]any{"job_id": id, "type": "text", "status": "running"}
		switch {
		case n == 1:
			out["stage_description"] = "Generating 3D mesh"
		case strings.HasPrefix(prompt, "fail:"):
			out["status"] = "failed"
			out["error"] = "generation failed: " + strings.TrimPrefix(prompt, "fail:")
		default:
			out["status"] = "done"
			out["result"] = map[string]string{
				"glb":   "download/" + id + "/model.glb",
				"image": "download/" + id + "/preview.png",
			}
			out["timings"] = map[string]float64{"total": 21.5}
		}
		writeStubJSON(w, 200, out)
	})
	mux.Get("/download/{id}/{file}", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(chi.URLParam(r, "file"), ".glb") {
			w.Write([]byte("glTF e2e model " + chi.URLParam(r, "id")))
			return
		}
		w.Write([]byte("\x89PNG e2e preview"))
	})
	mux.Delete("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.mu.Lock()
		_, ok := s.prompts[id]
		delete(s.prompts, id)
		s.deleted = append(s.deleted, id)
		s.mu.Unlock()
		if !ok {
			writeStubJSON(w, 404, map[string]string{"error": "job not found"})
			return
		}
		writeStubJSON(w, 200, map[string]string{"status": "deleted"})
	})

	s.ts = httptest.NewServer(mux)
	t.Cleanup(s.ts.Close)
	return s
}

func (s *stubRemote) admit(prompt string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("remote-%d", s.nextID)
	s.prompts[id] = prompt
	return id
}

func (s *stubRemote) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func writeStubJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// daemonProc holds a running anvil daemon subprocess and its output.
type daemonProc struct {
	cmd       *exec.Cmd
	stdout    *lockedBuffer
	url       string
	addr      string
	outputDir string
}

// startDaemon launches "anvil serve" on a free port, pointed at remoteURL,
// and waits for /healthz.
func startDaemon(t *testing.T, binary, remoteURL string) *daemonProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	outputDir := filepath.Join(t.TempDir(), "outputs")

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary, "serve")
	cmd.Env = append(os.Environ(),
		"ANVIL_LISTEN_ADDR="+addr,
		"ANVIL_SERVER_URL="+remoteURL,
		"ANVIL_DB_PATH="+filepath.Join(t.TempDir(), "anvil.db"),
		"ANVIL_OUTPUT_DIR="+outputDir,
		"ANVIL_POLL_INTERVAL=20ms",
		"ANVIL_TICK_INTERVAL=5ms",
		"ANVIL_LOG_LEVEL=info",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start daemon: %v", err)
	}

	d := &daemonProc{
		cmd:       cmd,
		stdout:    stdout,
		url:       "http://" + addr,
		addr:      addr,
		outputDir: outputDir,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(d.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return d
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("daemon did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

// submitText posts a text job to the daemon and returns the decoded job.
func (d *daemonProc) submitText(t *testing.T, prompt, quality string) map[string]any {
	t.Helper()
	body := fmt.Sprintf(`{"prompt":%q,"quality":%q}`, prompt, quality)
	resp, err := http.Post(d.url+"/v1/jobs/text", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs/text: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 202 {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("submit status = %d, want 202\nbody: %s", resp.StatusCode, raw)
	}
	var job map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	return job
}

// getJob fetches one job snapshot from the daemon.
func (d *daemonProc) getJob(t *testing.T, id string) (map[string]any, int) {
	t.Helper()
	resp, err := http.Get(d.url + "/v1/jobs/" + id)
	if err != nil {
		t.Fatalf("GET /v1/jobs/%s: %v", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, resp.StatusCode
	}
	var job map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job, resp.StatusCode
}

// waitJobStatus polls the daemon until the job reports the expected status.
func (d *daemonProc) waitJobStatus(t *testing.T, id, expected string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last map[string]any
	for time.Now().Before(deadline) {
		job, code := d.getJob(t, id)
		if code == 200 {
			last = job
			if job["status"] == expected {
				return job
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("job %s did not reach %q within %v\nlast: %v\ndaemon output:\n%s",
		id, expected, timeout, last, d.stdout.String())
	return nil
}
