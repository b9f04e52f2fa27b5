package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func TestBinaryBuildsAndServes(t *testing.T) {
	binary := getBinary(t)
	if _, err := os.Stat(binary); os.IsNotExist(err) {
		t.Fatal("binary does not exist after build")
	}

	stub := newStubRemote(t)
	d := startDaemon(t, binary, stub.ts.URL)

	resp, err := http.Get(d.url + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestTextJobFullLifecycle(t *testing.T) {
	stub := newStubRemote(t)
	d := startDaemon(t, getBinary(t), stub.ts.URL)

	job := d.submitText(t, "a walnut side table", "superfast")
	id, _ := job["id"].(string)
	if len(id) != 26 {
		t.Fatalf("id = %v, expected 26-char ULID", job["id"])
	}
	if job["status"] != "created" {
		t.Errorf("initial status = %v, want created", job["status"])
	}

	final := d.waitJobStatus(t, id, "completed", settleTimeout)

	if final["remote_id"] == nil || final["remote_id"] == "" {
		t.Error("completed job missing remote_id")
	}
	if polls, _ := final["polls"].(float64); polls < 2 {
		t.Errorf("polls = %v, want >= 2", final["polls"])
	}
	timings, _ := final["timings"].(map[string]any)
	if timings["total"] != 21.5 {
		t.Errorf("timings.total = %v, want 21.5", timings["total"])
	}

	locals, _ := final["local_artifacts"].(map[string]any)
	modelPath, _ := locals["model"].(string)
	if modelPath == "" {
		t.Fatalf("completed job has no model artifact: %v", final["local_artifacts"])
	}
	data, err := os.ReadFile(modelPath)
	if err != nil {
		t.Fatalf("read downloaded artifact: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("glTF")) {
		t.Errorf("artifact content = %q, want glTF prefix", data)
	}
	if !strings.HasPrefix(modelPath, d.outputDir) {
		t.Errorf("artifact %s not under output dir %s", modelPath, d.outputDir)
	}
}

func TestImageJobFullLifecycle(t *testing.T) {
	stub := newStubRemote(t)
	d := startDaemon(t, getBinary(t), stub.ts.URL)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "sketch.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("png-payload"))
	mw.Close()

	resp, err := http.Post(d.url+"/v1/jobs/image?quality=fast", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /v1/jobs/image: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 202 {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 202\nbody: %s", resp.StatusCode, raw)
	}

	var job map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job["kind"] != "image" {
		t.Errorf("kind = %v, want image", job["kind"])
	}
	if job["image_name"] != "sketch.png" {
		t.Errorf("image_name = %v, want sketch.png", job["image_name"])
	}

	d.waitJobStatus(t, job["id"].(string), "completed", settleTimeout)
}

func TestFailedJobReportsError(t *testing.T) {
	stub := newStubRemote(t)
	d := startDaemon(t, getBinary(t), stub.ts.URL)

	job := d.submitText(t, "fail:model too large", "superfast")
	final := d.waitJobStatus(t, job["id"].(string), "failed", settleTimeout)

	errMsg, _ := final["error"].(string)
	if !strings.Contains(errMsg, "model too large") {
		t.Errorf("error = %q, want the remote failure message", errMsg)
	}
	if final["local_artifacts"] != nil {
		t.Errorf("failed job should have no artifacts, got %v", final["local_artifacts"])
	}
}

func TestEventStreamDeliversLifecycle(t *testing.T) {
	stub := newStubRemote(t)
	d := startDaemon(t, getBinary(t), stub.ts.URL)

	job := d.submitText(t, "a copper kettle", "superfast")
	id := job["id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", d.url+"/v1/jobs/"+id+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var statuses []string
	var doneStatus string
	doneNext := false
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "event: done":
			doneNext = true
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			if doneNext {
				doneStatus = payload
			} else {
				var ev map[string]any
				if json.Unmarshal([]byte(payload), &ev) == nil {
					if s, ok := ev["status"].(string); ok {
						statuses = append(statuses, s)
					}
				}
			}
		}
		if doneStatus != "" {
			break
		}
	}

	// The stream may open at any point in the lifecycle; whatever it delivers
	// must never move backwards and must finish with the terminal transition.
	// Poll progress repeats the processing status, so equal ranks are fine.
	if len(statuses) == 0 {
		t.Fatal("no events received before done")
	}
	rank := map[string]int{"submitting": 0, "processing": 1, "done": 2, "completed": 3}
	prev := -1
	for _, s := range statuses {
		r, known := rank[s]
		if !known {
			t.Errorf("unexpected event status %q", s)
			continue
		}
		if r < prev {
			t.Errorf("events out of lifecycle order: %v", statuses)
		}
		prev = r
	}
	if statuses[len(statuses)-1] != "completed" {
		t.Errorf("last event status = %q, want completed", statuses[len(statuses)-1])
	}
	if doneStatus != "completed" {
		t.Errorf("done payload = %q, want completed", doneStatus)
	}
}

func TestHistorySurvivesRegistryRemoval(t *testing.T) {
	stub := newStubRemote(t)
	d := startDaemon(t, getBinary(t), stub.ts.URL)

	job := d.submitText(t, "a birch stool", "superfast")
	id := job["id"].(string)
	d.waitJobStatus(t, id, "completed", settleTimeout)

	req, _ := http.NewRequest("DELETE", d.url+"/v1/jobs/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE job: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}

	if _, code := d.getJob(t, id); code != 404 {
		t.Errorf("removed job still in registry, status %d", code)
	}

	histResp, err := http.Get(d.url + "/v1/history")
	if err != nil {
		t.Fatalf("GET /v1/history: %v", err)
	}
	defer histResp.Body.Close()
	var hist map[string]any
	if err := json.NewDecoder(histResp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if total, _ := hist["total"].(float64); total < 1 {
		t.Errorf("history total = %v, want >= 1", hist["total"])
	}
	jobs, _ := hist["jobs"].([]any)
	found := false
	for _, raw := range jobs {
		if j, ok := raw.(map[string]any); ok && j["id"] == id {
			found = true
			if j["status"] != "completed" {
				t.Errorf("journaled status = %v, want completed", j["status"])
			}
		}
	}
	if !found {
		t.Errorf("removed job %s not found in history", id)
	}
}

func TestMetricsExposed(t *testing.T) {
	stub := newStubRemote(t)
	d := startDaemon(t, getBinary(t), stub.ts.URL)

	job := d.submitText(t, "a brass lamp", "superfast")
	d.waitJobStatus(t, job["id"].(string), "completed", settleTimeout)

	resp, err := http.Get(d.url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	for _, metric := range []string{
		"anvil_http_requests_total",
		"anvil_http_request_duration_seconds",
		"anvil_scheduler_ticks_total",
		"anvil_jobs_submitted_total",
		"anvil_jobs_finished_total",
		"anvil_artifact_downloads_total",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output missing %s", metric)
		}
	}
}

func TestStructuredJSONLogs(t *testing.T) {
	stub := newStubRemote(t)
	d := startDaemon(t, getBinary(t), stub.ts.URL)

	resp, err := http.Get(d.url + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(d.stdout.String(), `"msg":"request"`) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	foundRequestLog := false
	sc := bufio.NewScanner(strings.NewReader(d.stdout.String()))
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal([]byte(sc.Text()), &entry); err != nil {
			continue
		}
		if msg, ok := entry["msg"].(string); ok && msg == "request" {
			foundRequestLog = true
			for _, key := range []string{"method", "path", "status", "duration_ms"} {
				if _, ok := entry[key]; !ok {
					t.Errorf("request log missing field %q", key)
				}
			}
		}
	}
	if !foundRequestLog {
		t.Errorf("no structured request log found in stdout\noutput:\n%s", d.stdout.String())
	}
}
