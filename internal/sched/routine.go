package sched

import "time"

// Routine is a resumable unit of work. The scheduler calls Step at most once
// per tick; each call must return promptly with an instruction for what to do
// next. The now argument is the driving tick's observed time.
type Routine interface {
	Step(now time.Time) Yield
}

// StepFunc adapts a function to the Routine interface.
type StepFunc func(now time.Time) Yield

// Step calls f.
func (f StepFunc) Step(now time.Time) Yield { return f(now) }

type action int

const (
	actionContinue action = iota
	actionSpawn
	actionStop
	actionFail
)

// Yield is a routine's instruction to the scheduler: keep stepping under a new
// suspension, run a child routine to completion first, or terminate.
type Yield struct {
	action action
	susp   Suspension
	child  Routine
	err    error
}

// Continue suspends the routine per s; the scheduler steps it again once the
// suspension is satisfied.
func Continue(s Suspension) Yield {
	return Yield{action: actionContinue, susp: s}
}

// Spawn pushes child onto the routine's stack. The child takes its first step
// on a later tick and runs to completion before the parent resumes; no value
// flows back, so parent and child communicate through shared state.
func Spawn(child Routine) Yield {
	return Yield{action: actionSpawn, child: child}
}

// Stop terminates the routine successfully.
func Stop() Yield {
	return Yield{action: actionStop}
}

// Fail terminates the routine with an error. A failing child does not
// propagate its error to the parent; a failing root surfaces it on the Task.
func Fail(err error) Yield {
	return Yield{action: actionFail, err: err}
}
