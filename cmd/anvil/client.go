package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/anvil/internal/config"
	"github.com/seantiz/anvil/internal/model"
)

// apiClient talks to a running anvil daemon over its control API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base: apiBaseURL(),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiBaseURL resolves the daemon address: the --api flag wins, otherwise it
// is derived from the same ANVIL_LISTEN_ADDR the daemon binds to.
func apiBaseURL() string {
	if apiURL != "" {
		return strings.TrimRight(apiURL, "/")
	}
	addr := config.Load().ListenAddr
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}

type listJobsResult struct {
	Jobs  []*model.Job `json:"jobs"`
	Total int          `json:"total"`
}

type historyResult struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type statsResult struct {
	Total       int            `json:"total"`
	Active      int            `json:"active"`
	ByStatus    map[string]int `json:"by_status"`
	ByKind      map[string]int `json:"by_kind"`
	AvgElapsedS float64        `json:"avg_elapsed_s"`
}

func (c *apiClient) getJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := c.get(ctx, "/v1/jobs/"+id, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) del(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) submitText(ctx context.Context, prompt, quality string, seed *int) (*model.Job, error) {
	payload := struct {
		Prompt  string `json:"prompt"`
		Quality string `json:"quality,omitempty"`
		Seed    *int   `json:"seed,omitempty"`
	}{Prompt: prompt, Quality: quality, Seed: seed}

	var job model.Job
	if err := c.postJSON(ctx, "/v1/jobs/text", payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *apiClient) submitImage(ctx context.Context, filename string, data []byte, quality string, seed *int) (*model.Job, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if quality != "" {
		if err := mw.WriteField("quality", quality); err != nil {
			return nil, err
		}
	}
	if seed != nil {
		if err := mw.WriteField("seed", strconv.Itoa(*seed)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/jobs/image", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job model.Job
	if err := c.do(req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// events opens the SSE stream for a job. The returned response uses a client
// without a timeout so the stream can outlive long generations; the caller
// owns the body.
func (c *apiClient) events(ctx context.Context, id string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/jobs/"+id+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, apiError(resp)
	}
	return resp, nil
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError turns an error response into something readable, preferring the
// daemon's {"error": "..."} body over the bare status code.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return errors.New(e.Error)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
