package model

import "time"

// Job status constants.
const (
	StatusCreated        = "created"
	StatusSubmitting     = "submitting"
	StatusProcessing     = "processing"
	StatusDone           = "done"
	StatusFailed         = "failed"
	StatusCompleted      = "completed"
	StatusDownloadFailed = "download_failed"
)

// Job kind constants. The wire names match the remote service's job types.
const (
	KindText  = "text"
	KindImage = "image"
)

// Artifact kind constants.
const (
	ArtifactModel   = "model"
	ArtifactPreview = "preview-image"
)

// FetchOrder lists artifact kinds in the order they are downloaded.
var FetchOrder = []string{ArtifactModel, ArtifactPreview}

// validTransitions maps each status to the set of statuses it may transition to.
// Processing polls update the record in place without a transition, so there is
// no processing→processing edge here.
var validTransitions = map[string]map[string]bool{
	StatusCreated: {
		StatusSubmitting: true,
	},
	StatusSubmitting: {
		StatusProcessing: true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusDone:   true,
		StatusFailed: true,
	},
	StatusDone: {
		StatusCompleted:      true,
		StatusDownloadFailed: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a status is terminal: no routine will ever mutate
// a job again once it reaches one of these.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusDownloadFailed:
		return true
	}
	return false
}

// Job represents one remote generation request tracked by the orchestrator.
// ID is assigned locally at submission time and remains the caller's handle;
// RemoteID is filled in once the service acknowledges the submit.
type Job struct {
	ID             string             `json:"id"`
	RemoteID       string             `json:"remote_id,omitempty"`
	Kind           string             `json:"kind"`
	Status         string             `json:"status"`
	Prompt         string             `json:"prompt,omitempty"`
	ImageName      string             `json:"image_name,omitempty"`
	Quality        string             `json:"quality"`
	Seed           int                `json:"seed"`
	Stage          string             `json:"stage,omitempty"`
	Error          string             `json:"error,omitempty"`
	Polls          int                `json:"polls"`
	ArtifactURLs   map[string]string  `json:"artifact_urls,omitempty"`
	LocalArtifacts map[string]string  `json:"local_artifacts,omitempty"`
	ArtifactErrors map[string]string  `json:"artifact_errors,omitempty"`
	Timings        map[string]float64 `json:"timings,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	SubmittedAt    *time.Time         `json:"submitted_at,omitempty"`
	StartedAt      *time.Time         `json:"started_at,omitempty"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return Terminal(j.Status)
}

// Elapsed returns how long the job has spent in remote processing: from the
// submitting→processing transition until now, or until the job finished.
// Zero before processing starts.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := now
	if j.FinishedAt != nil {
		end = *j.FinishedAt
	}
	if end.Before(*j.StartedAt) {
		return 0
	}
	return end.Sub(*j.StartedAt)
}

// Clone returns a deep copy of the job. Snapshots handed to callers must not
// alias the maps the owning routine keeps mutating.
func (j *Job) Clone() *Job {
	c := *j
	c.ArtifactURLs = cloneMap(j.ArtifactURLs)
	c.LocalArtifacts = cloneMap(j.LocalArtifacts)
	c.ArtifactErrors = cloneMap(j.ArtifactErrors)
	if j.Timings != nil {
		c.Timings = make(map[string]float64, len(j.Timings))
		for k, v := range j.Timings {
			c.Timings[k] = v
		}
	}
	c.SubmittedAt = cloneTime(j.SubmittedAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
