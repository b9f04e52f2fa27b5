package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCanceled is the task error after Cancel stops a task before its root
// routine finished on its own.
var ErrCanceled = errors.New("task canceled")

// frame is one entry in a task's routine stack. A fresh frame's zero-value
// suspension is NextTick, so a newly pushed routine first runs on a later tick.
type frame struct {
	r    Routine
	susp Suspension
}

// Task is the scheduler's handle for one registered root routine and the
// stack of children it spawns. It completes when the root routine terminates
// or when Cancel is called, whichever comes first.
type Task struct {
	stack []frame
	once  sync.Once
	done  chan struct{}
	err   error
}

func newTask(r Routine) *Task {
	return &Task{
		stack: []frame{{r: r}},
		done:  make(chan struct{}),
	}
}

func (t *Task) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *Task) completed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the task completes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's terminal error: nil while running or after a clean
// finish, ErrCanceled after Cancel, or the root routine's failure.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancel stops the task: the scheduler never steps it again. In-flight
// external operations are not interrupted here; the caller's transport layer
// aborts them if it can, otherwise they finish and their results are
// discarded. Cancel is idempotent.
func (t *Task) Cancel() {
	t.complete(ErrCanceled)
}

// Scheduler drives a set of root routines forward, one step per tick each,
// in registration order. Register and Cancel are safe to call from any
// goroutine; Tick must be driven from a single goroutine, either manually or
// via Run.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []*Task
	tasks   []*Task

	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		quit:   make(chan struct{}),
	}
}

// Register adds a root routine and returns its task handle. The routine takes
// its first step on the tick after registration; Register never blocks.
func (s *Scheduler) Register(r Routine) *Task {
	t := newTask(r)
	s.mu.Lock()
	s.pending = append(s.pending, t)
	s.mu.Unlock()
	return t
}

// Len reports how many tasks the scheduler is tracking, including ones
// registered since the last tick. Completed and canceled tasks drop out of
// the count when the next tick compacts the active set.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks) + len(s.pending)
}

// Tick advances every runnable task by one step, in registration order, using
// now as the observed clock. A task is runnable when it is not complete and
// its top routine's suspension is satisfied. Returns the number of steps
// executed. Not safe for concurrent use with itself.
func (s *Scheduler) Tick(now time.Time) int {
	s.mu.Lock()
	s.tasks = append(s.tasks, s.pending...)
	s.pending = nil
	snapshot := make([]*Task, len(s.tasks))
	copy(snapshot, s.tasks)
	s.mu.Unlock()

	steps := 0
	for _, t := range snapshot {
		if t.completed() {
			continue
		}
		if s.advance(t, now) {
			steps++
		}
	}

	s.mu.Lock()
	active := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.completed() {
			active = append(active, t)
		}
	}
	s.tasks = active
	s.mu.Unlock()

	return steps
}

// advance steps the task's top routine once if its suspension is satisfied.
// Reports whether a step executed.
func (s *Scheduler) advance(t *Task, now time.Time) bool {
	idx := len(t.stack) - 1
	if !t.stack[idx].susp.ready(now) {
		return false
	}

	y := s.step(t.stack[idx].r, now)

	switch y.action {
	case actionContinue:
		t.stack[idx].susp = y.susp.resolve(now)
	case actionSpawn:
		t.stack = append(t.stack, frame{r: y.child})
	default: // actionStop, actionFail
		t.stack = t.stack[:idx]
		if idx == 0 {
			t.complete(y.err)
			return true
		}
		if y.err != nil {
			// A child's error does not unwind into the parent; it is
			// expected to have recorded the failure in shared state.
			s.logger.Debug("nested routine failed", "error", y.err)
		}
		// Parent resumes on a later tick, with no value from the child.
		t.stack[idx-1].susp = Suspension{}
	}
	return true
}

// step invokes the routine, converting a panic into a failure so one
// misbehaving routine cannot take down the tick loop.
func (s *Scheduler) step(r Routine, now time.Time) (y Yield) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("routine panicked", "panic", rec)
			y = Fail(fmt.Errorf("routine panic: %v", rec))
		}
	}()
	return r.Step(now)
}

// Run drives ticks at the given interval until ctx is cancelled or Shutdown
// is called. It is the only goroutine that may call Tick while it runs.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Shutdown stops a running Run loop. Registered tasks are left as they are;
// ticking simply stops. Safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.quitOnce.Do(func() {
		close(s.quit)
	})
}
