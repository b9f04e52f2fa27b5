package trellis

import (
	"errors"
	"fmt"
)

// Remote job status values reported by the service. Anything outside this
// vocabulary is treated by callers as still in progress, so the service can
// grow new intermediate statuses without breaking clients.
const (
	RemoteQueued  = "queued"
	RemoteRunning = "running"
	RemoteDone    = "done"
	RemoteFailed  = "failed"
)

// ErrNotFound is returned when the service does not know the job.
var ErrNotFound = errors.New("job not found")

// ErrNotReady is returned by Result while the job has not finished yet.
var ErrNotReady = errors.New("job not ready")

// APIError is a non-2xx response from the service, carrying the HTTP status
// and the error message parsed from the body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("service error: %s (status %d)", e.Message, e.StatusCode)
}

// TextSubmitRequest is the body for POST /submit/text.
type TextSubmitRequest struct {
	Prompt  string `json:"prompt"`
	Quality string `json:"quality"`
	Seed    int    `json:"seed"`
}

// SubmitResponse is the service's acknowledgement of a submission.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ResultPayload names the artifacts of a finished job as paths relative to
// the service base URL. Image is empty for image-to-3D jobs, which produce
// no separate preview.
type ResultPayload struct {
	GLB   string `json:"glb"`
	Image string `json:"image,omitempty"`
}

// StatusResponse is one job as reported by GET /status/{job_id} and inside
// GET /jobs listings.
type StatusResponse struct {
	JobID            string             `json:"job_id"`
	Type             string             `json:"type"`
	Status           string             `json:"status"`
	Prompt           string             `json:"prompt,omitempty"`
	Quality          string             `json:"quality,omitempty"`
	Stage            string             `json:"stage,omitempty"`
	StageDescription string             `json:"stage_description,omitempty"`
	Error            string             `json:"error,omitempty"`
	Result           *ResultPayload     `json:"result,omitempty"`
	Timings          map[string]float64 `json:"timings,omitempty"`
}

// ListResponse is the body of GET /jobs.
type ListResponse struct {
	Jobs  []StatusResponse `json:"jobs"`
	Total int              `json:"total"`
}

// ResultResponse is the body of GET /result/{job_id} once the job is done.
type ResultResponse struct {
	Result  *ResultPayload     `json:"result"`
	Timings map[string]float64 `json:"timings,omitempty"`
}
