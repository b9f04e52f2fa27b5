package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/anvil/internal/artifact"
	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/sched"
	"github.com/seantiz/anvil/internal/store"
	"github.com/seantiz/anvil/internal/trellis"
)

// Submission validation errors.
var (
	ErrEmptyPrompt    = errors.New("prompt must not be empty")
	ErrEmptyImage     = errors.New("image must not be empty")
	ErrInvalidQuality = errors.New("invalid quality preset")
)

// DefaultPollInterval matches the poll cadence of the generation service's
// own reference clients.
const DefaultPollInterval = 2 * time.Second

// DefaultTickInterval is the cadence at which Run advances the scheduler.
const DefaultTickInterval = 100 * time.Millisecond

// Options tune the engine's scheduling cadence. Zero values select the
// defaults.
type Options struct {
	PollInterval time.Duration
	TickInterval time.Duration
}

// Engine tracks every generation job and drives each one through its
// lifecycle on the cooperative scheduler: submit to the remote service, poll
// until the remote run finishes, then fetch artifacts.
//
// The in-memory registry is the source of truth for live jobs; the journal
// keeps a persistent history that survives restarts.
type Engine struct {
	client    *trellis.Client
	artifacts *artifact.Store
	journal   store.Store
	logger    *slog.Logger
	broker    *Broker
	sched     *sched.Scheduler

	pollInterval time.Duration
	tickInterval time.Duration

	mu    sync.RWMutex
	jobs  map[string]*jobEntry
	order []string
}

// jobEntry pairs a job record with its routine's control handles. The record
// is mutated only through the engine's lock; callers always receive clones.
type jobEntry struct {
	job    *model.Job
	task   *sched.Task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// finish settles the entry exactly once, releasing waiters and the
// active-jobs gauge whether the job ended on its own or was removed
// mid-flight.
func (en *jobEntry) finish() {
	en.once.Do(func() {
		close(en.done)
		jobsActive.Dec()
	})
}

// NewEngine creates an engine wired to the given service client, artifact
// store and journal.
func NewEngine(client *trellis.Client, artifacts *artifact.Store, journal store.Store, logger *slog.Logger, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	return &Engine{
		client:       client,
		artifacts:    artifacts,
		journal:      journal,
		logger:       logger,
		broker:       NewBroker(),
		sched:        sched.New(logger),
		pollInterval: opts.PollInterval,
		tickInterval: opts.TickInterval,
		jobs:         make(map[string]*jobEntry),
	}
}

// SubmitText creates a text-to-3D job and registers its routine. The
// returned snapshot is already tracked under its local id; the remote
// submission happens on the next tick.
func (e *Engine) SubmitText(ctx context.Context, prompt, quality string, seed int) (*model.Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	quality, err := resolveQuality(quality)
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:        model.NewID(),
		Kind:      model.KindText,
		Status:    model.StatusCreated,
		Prompt:    prompt,
		Quality:   quality,
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
	}
	return e.track(ctx, job, nil), nil
}

// SubmitImage creates an image-to-3D job from raw image bytes and registers
// its routine. filename is kept for display and reused as the upload form
// filename; it defaults to image.png.
func (e *Engine) SubmitImage(ctx context.Context, filename string, image []byte, quality string, seed int) (*model.Job, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	quality, err := resolveQuality(quality)
	if err != nil {
		return nil, err
	}
	if filename == "" {
		filename = "image.png"
	}

	job := &model.Job{
		ID:        model.NewID(),
		Kind:      model.KindImage,
		Status:    model.StatusCreated,
		ImageName: filename,
		Quality:   quality,
		Seed:      seed,
		CreatedAt: time.Now().UTC(),
	}
	return e.track(ctx, job, image), nil
}

func resolveQuality(quality string) (string, error) {
	if quality == "" {
		return model.DefaultQuality, nil
	}
	if !model.ValidQuality(quality) {
		return "", fmt.Errorf("%w: %q", ErrInvalidQuality, quality)
	}
	return quality, nil
}

// track journals the job, registers its routine and exposes the entry in the
// registry. The snapshot and the journal row are taken before registration:
// once registered, the routine may step and mutate the record on any tick.
func (e *Engine) track(ctx context.Context, job *model.Job, image []byte) *model.Job {
	snap := job.Clone()
	if err := e.journal.CreateJob(ctx, snap); err != nil {
		e.logger.Warn("journal create failed", "job_id", job.ID, "error", err)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	en := &jobEntry{
		job:    job,
		ctx:    jobCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	en.task = e.sched.Register(newJobRoutine(e, en, image))

	e.mu.Lock()
	e.jobs[job.ID] = en
	e.order = append(e.order, job.ID)
	e.mu.Unlock()

	jobsSubmittedTotal.WithLabelValues(job.Kind).Inc()
	jobsActive.Inc()
	e.logger.Info("job tracked", "job_id", job.ID, "kind", job.Kind, "quality", job.Quality)
	return snap
}

// Get returns a snapshot of a tracked job by its local id.
func (e *Engine) Get(id string) (*model.Job, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.jobs[id]
	if !ok {
		return nil, false
	}
	return en.job.Clone(), true
}

// List returns snapshots of all tracked jobs in insertion order.
func (e *Engine) List() []*model.Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.Job, 0, len(e.order))
	for _, id := range e.order {
		if en, ok := e.jobs[id]; ok {
			out = append(out, en.job.Clone())
		}
	}
	return out
}

// Remove drops a job from the registry, cancelling its routine and any
// in-flight service call if it is still active, and returns the final
// snapshot. Removing an unknown id is a no-op. Journal history is kept.
func (e *Engine) Remove(id string) (*model.Job, bool) {
	e.mu.Lock()
	en, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return nil, false
	}
	delete(e.jobs, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	snap := en.job.Clone()
	e.mu.Unlock()

	en.cancel()
	if en.task != nil {
		en.task.Cancel()
	}
	en.finish()
	e.broker.Close(id)
	e.logger.Info("job removed", "job_id", id, "status", snap.Status)
	return snap, true
}

// ClearCompleted removes every job that has reached a terminal status and
// returns how many were dropped.
func (e *Engine) ClearCompleted() int {
	e.mu.RLock()
	ids := make([]string, 0, len(e.order))
	for _, id := range e.order {
		if en, ok := e.jobs[id]; ok && en.job.Terminal() {
			ids = append(ids, id)
		}
	}
	e.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		if _, ok := e.Remove(id); ok {
			removed++
		}
	}
	return removed
}

// Watch subscribes to lifecycle events for a job. The returned channel is
// closed once the job settles; subscribing after that yields an
// already-closed channel.
func (e *Engine) Watch(id string) (<-chan Event, func()) {
	return e.broker.Subscribe(id)
}

// Done returns a channel that is closed when the job settles, either by
// reaching a terminal status or by removal.
func (e *Engine) Done(id string) (<-chan struct{}, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.jobs[id]
	if !ok {
		return nil, false
	}
	return en.done, true
}

// Stats combines journal aggregates with the live count of active jobs.
type Stats struct {
	store.JobStats
	Active int `json:"active"`
}

// Stats reports aggregate job statistics.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	js, err := e.journal.GetJobStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}

	e.mu.RLock()
	active := 0
	for _, en := range e.jobs {
		if !en.job.Terminal() {
			active++
		}
	}
	e.mu.RUnlock()

	return &Stats{JobStats: *js, Active: active}, nil
}

// History lists journaled jobs, newest first, with the total row count.
func (e *Engine) History(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	return e.journal.ListJobs(ctx, limit, offset)
}

// RemoteHealth checks that the generation service is reachable and healthy.
func (e *Engine) RemoteHealth(ctx context.Context) error {
	return e.client.Health(ctx)
}

// Run drives the scheduler at the configured tick interval until ctx is
// cancelled. It blocks.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine running", "tick_interval", e.tickInterval, "poll_interval", e.pollInterval)
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return
		case now := <-ticker.C:
			e.Tick(now)
		}
	}
}

// Tick advances every runnable job routine by one step. It is exposed so
// hosts and tests can drive the engine on their own clock.
func (e *Engine) Tick(now time.Time) int {
	ticksTotal.Inc()
	return e.sched.Tick(now)
}

// transition applies a validated status change plus any extra mutation,
// journals the new snapshot and publishes an event. An invalid transition is
// logged and ignored.
func (e *Engine) transition(en *jobEntry, now time.Time, to string, fn func(j *model.Job)) *model.Job {
	e.mu.Lock()
	from := en.job.Status
	if !model.ValidTransition(from, to) {
		snap := en.job.Clone()
		e.mu.Unlock()
		e.logger.Error("invalid job transition", "job_id", snap.ID, "from", from, "to", to)
		return snap
	}
	en.job.Status = to
	if fn != nil {
		fn(en.job)
	}
	snap := en.job.Clone()
	e.mu.Unlock()

	e.journalUpdate(snap)
	e.publish(snap, now)
	return snap
}

// progress records poll feedback without changing status.
func (e *Engine) progress(en *jobEntry, now time.Time, stage string, polls int) {
	e.mu.Lock()
	en.job.Stage = stage
	en.job.Polls = polls
	snap := en.job.Clone()
	e.mu.Unlock()

	e.journalUpdate(snap)
	e.publish(snap, now)
}

func (e *Engine) recordArtifact(en *jobEntry, kind, localPath string) {
	e.mu.Lock()
	if en.job.LocalArtifacts == nil {
		en.job.LocalArtifacts = make(map[string]string)
	}
	en.job.LocalArtifacts[kind] = localPath
	snap := en.job.Clone()
	e.mu.Unlock()
	e.journalUpdate(snap)
}

func (e *Engine) recordArtifactError(en *jobEntry, kind string, err error) {
	e.mu.Lock()
	if en.job.ArtifactErrors == nil {
		en.job.ArtifactErrors = make(map[string]string)
	}
	en.job.ArtifactErrors[kind] = err.Error()
	snap := en.job.Clone()
	e.mu.Unlock()
	e.journalUpdate(snap)
}

// snapshot returns a clone of the entry's record.
func (e *Engine) snapshot(en *jobEntry) *model.Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return en.job.Clone()
}

// finishJob records terminal bookkeeping for a job that ended on its own.
func (e *Engine) finishJob(en *jobEntry, status string) {
	jobsFinishedTotal.WithLabelValues(status).Inc()
	en.finish()
	e.broker.Close(en.job.ID)
}

// journalUpdate persists a snapshot. Journal writes are best-effort; the
// live registry stays authoritative.
func (e *Engine) journalUpdate(j *model.Job) {
	if err := e.journal.UpdateJob(context.Background(), j); err != nil {
		e.logger.Warn("journal update failed", "job_id", j.ID, "error", err)
	}
}

func (e *Engine) publish(j *model.Job, at time.Time) {
	e.broker.Publish(j.ID, Event{
		JobID:  j.ID,
		Status: j.Status,
		Stage:  j.Stage,
		Error:  j.Error,
		At:     at.UTC(),
	})
}
