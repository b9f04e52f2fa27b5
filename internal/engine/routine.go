package engine

import (
	"fmt"
	"path"
	"time"

	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/sched"
	"github.com/seantiz/anvil/internal/trellis"
)

type jobPhase int

const (
	phaseSubmit jobPhase = iota
	phaseSubmitWait
	phasePoll
	phasePollWait
	phaseFinalize
)

// jobRoutine drives one job through submit, poll and finalize. Each service
// call runs off-loop behind an Await suspension so a slow remote never
// blocks other jobs' ticks. Immutable job fields are copied at construction;
// everything mutable goes through the engine's lock helpers.
type jobRoutine struct {
	e   *Engine
	ent *jobEntry

	localID   string
	kind      string
	prompt    string
	imageName string
	quality   string
	seed      int

	phase    jobPhase
	remoteID string
	polls    int

	imageData []byte
	submitOp  *sched.Op[*trellis.SubmitResponse]
	pollOp    *sched.Op[*trellis.StatusResponse]
}

func newJobRoutine(e *Engine, en *jobEntry, image []byte) *jobRoutine {
	return &jobRoutine{
		e:         e,
		ent:       en,
		localID:   en.job.ID,
		kind:      en.job.Kind,
		prompt:    en.job.Prompt,
		imageName: en.job.ImageName,
		quality:   en.job.Quality,
		seed:      en.job.Seed,
		imageData: image,
	}
}

func (r *jobRoutine) Step(now time.Time) sched.Yield {
	switch r.phase {
	case phaseSubmit:
		return r.stepSubmit(now)
	case phaseSubmitWait:
		return r.stepSubmitWait(now)
	case phasePoll:
		return r.stepPoll()
	case phasePollWait:
		return r.stepPollWait(now)
	case phaseFinalize:
		return r.stepFinalize(now)
	}
	return sched.Stop()
}

func (r *jobRoutine) stepSubmit(now time.Time) sched.Yield {
	r.e.transition(r.ent, now, model.StatusSubmitting, func(j *model.Job) {
		t := now.UTC()
		j.SubmittedAt = &t
	})

	ctx := r.ent.ctx
	if r.kind == model.KindImage {
		name, data := r.imageName, r.imageData
		quality, seed := r.quality, r.seed
		r.submitOp = sched.Go(func() (*trellis.SubmitResponse, error) {
			return r.e.client.SubmitImage(ctx, name, data, quality, seed)
		})
	} else {
		req := trellis.TextSubmitRequest{Prompt: r.prompt, Quality: r.quality, Seed: r.seed}
		r.submitOp = sched.Go(func() (*trellis.SubmitResponse, error) {
			return r.e.client.SubmitText(ctx, req)
		})
	}

	r.phase = phaseSubmitWait
	return sched.Continue(sched.Await(r.submitOp))
}

func (r *jobRoutine) stepSubmitWait(now time.Time) sched.Yield {
	resp, err := r.submitOp.Result()
	r.submitOp = nil
	r.imageData = nil
	if err != nil {
		return r.fail(now, fmt.Sprintf("submit: %v", err))
	}
	if resp.JobID == "" {
		return r.fail(now, "submit: response missing job id")
	}

	r.remoteID = resp.JobID
	r.e.transition(r.ent, now, model.StatusProcessing, func(j *model.Job) {
		j.RemoteID = resp.JobID
		t := now.UTC()
		j.StartedAt = &t
	})
	r.e.logger.Info("job submitted", "job_id", r.localID, "remote_id", resp.JobID)

	// First poll goes out on the next tick rather than after a full poll
	// interval, so short jobs complete promptly.
	r.phase = phasePoll
	return sched.Continue(sched.NextTick())
}

func (r *jobRoutine) stepPoll() sched.Yield {
	ctx, remoteID := r.ent.ctx, r.remoteID
	r.pollOp = sched.Go(func() (*trellis.StatusResponse, error) {
		return r.e.client.Status(ctx, remoteID)
	})
	r.phase = phasePollWait
	return sched.Continue(sched.Await(r.pollOp))
}

func (r *jobRoutine) stepPollWait(now time.Time) sched.Yield {
	st, err := r.pollOp.Result()
	r.pollOp = nil
	if err != nil {
		return r.fail(now, fmt.Sprintf("poll: %v", err))
	}

	r.polls++
	pollsTotal.Inc()

	switch st.Status {
	case trellis.RemoteDone:
		snap := r.e.transition(r.ent, now, model.StatusDone, func(j *model.Job) {
			j.Stage = stageOf(st)
			j.Polls = r.polls
			urls := make(map[string]string)
			if st.Result != nil {
				if st.Result.GLB != "" {
					urls[model.ArtifactModel] = st.Result.GLB
				}
				if st.Result.Image != "" {
					urls[model.ArtifactPreview] = st.Result.Image
				}
			}
			if len(urls) > 0 {
				j.ArtifactURLs = urls
			}
			if len(st.Timings) > 0 {
				j.Timings = st.Timings
			}
		})
		r.phase = phaseFinalize
		if len(snap.ArtifactURLs) == 0 {
			return sched.Continue(sched.NextTick())
		}
		return sched.Spawn(newFetchRoutine(r.e, r.ent, snap.ArtifactURLs))

	case trellis.RemoteFailed:
		msg := st.Error
		if msg == "" {
			msg = "job failed"
		}
		return r.fail(now, msg)

	default:
		// queued, running, or any status added later: still in progress.
		r.e.progress(r.ent, now, stageOf(st), r.polls)
		r.phase = phasePoll
		return sched.Continue(sched.After(r.e.pollInterval))
	}
}

func (r *jobRoutine) stepFinalize(now time.Time) sched.Yield {
	snap := r.e.snapshot(r.ent)
	outcome := model.StatusCompleted
	if len(snap.ArtifactURLs) > 0 && len(snap.LocalArtifacts) == 0 {
		outcome = model.StatusDownloadFailed
	}

	r.e.transition(r.ent, now, outcome, func(j *model.Job) {
		t := now.UTC()
		j.FinishedAt = &t
	})
	r.e.finishJob(r.ent, outcome)
	r.e.logger.Info("job finished", "job_id", r.localID, "status", outcome,
		"artifacts", len(snap.LocalArtifacts), "polls", r.polls)
	return sched.Stop()
}

// fail marks the job failed and ends the routine. The failure lives on the
// job record, not on the scheduler task.
func (r *jobRoutine) fail(now time.Time, msg string) sched.Yield {
	r.e.transition(r.ent, now, model.StatusFailed, func(j *model.Job) {
		j.Error = msg
		j.Polls = r.polls
		t := now.UTC()
		j.FinishedAt = &t
	})
	r.e.finishJob(r.ent, model.StatusFailed)
	r.e.logger.Warn("job failed", "job_id", r.localID, "error", msg)
	return sched.Stop()
}

func stageOf(st *trellis.StatusResponse) string {
	if st.StageDescription != "" {
		return st.StageDescription
	}
	return st.Status
}

// fetchRoutine downloads a finished job's artifacts one at a time, spawning
// one child routine per artifact in a stable order. Individual failures are
// recorded on the job and never abort the remaining fetches.
type fetchRoutine struct {
	e     *Engine
	ent   *jobEntry
	urls  map[string]string
	kinds []string
	idx   int
}

func newFetchRoutine(e *Engine, en *jobEntry, urls map[string]string) *fetchRoutine {
	kinds := make([]string, 0, len(urls))
	for _, k := range model.FetchOrder {
		if _, ok := urls[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return &fetchRoutine{e: e, ent: en, urls: urls, kinds: kinds}
}

func (r *fetchRoutine) Step(time.Time) sched.Yield {
	if r.idx >= len(r.kinds) {
		return sched.Stop()
	}
	kind := r.kinds[r.idx]
	r.idx++
	return sched.Spawn(newDownloadRoutine(r.e, r.ent, kind, r.urls[kind]))
}

// downloadRoutine streams one artifact from the service into the local
// store. The transfer runs off-loop; the routine just launches it and
// records the outcome.
type downloadRoutine struct {
	e       *Engine
	ent     *jobEntry
	kind    string
	url     string
	op      *sched.Op[string]
	started bool
}

func newDownloadRoutine(e *Engine, en *jobEntry, kind, url string) *downloadRoutine {
	return &downloadRoutine{e: e, ent: en, kind: kind, url: url}
}

func (r *downloadRoutine) Step(time.Time) sched.Yield {
	if !r.started {
		r.started = true
		ctx := r.ent.ctx
		url := r.url
		key := path.Join(r.ent.job.ID, path.Base(url))
		r.op = sched.Go(func() (string, error) {
			body, err := r.e.client.Download(ctx, url)
			if err != nil {
				return "", err
			}
			defer body.Close()
			local, _, err := r.e.artifacts.Save(ctx, key, body)
			return local, err
		})
		return sched.Continue(sched.Await(r.op))
	}

	local, err := r.op.Result()
	if err != nil {
		artifactDownloadsTotal.WithLabelValues("error").Inc()
		r.e.recordArtifactError(r.ent, r.kind, err)
		r.e.logger.Warn("artifact download failed", "job_id", r.ent.job.ID, "artifact", r.kind, "error", err)
		return sched.Stop()
	}

	artifactDownloadsTotal.WithLabelValues("ok").Inc()
	r.e.recordArtifact(r.ent, r.kind, local)
	r.e.logger.Info("artifact downloaded", "job_id", r.ent.job.ID, "artifact", r.kind, "path", local)
	return sched.Stop()
}
