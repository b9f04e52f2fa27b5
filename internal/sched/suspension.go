package sched

import "time"

// Awaitable is an external operation a routine can suspend on. Done must be
// non-blocking; it is polled once per tick while the routine waits.
type Awaitable interface {
	Done() bool
}

type suspKind int

const (
	suspNextTick suspKind = iota
	suspUntil
	suspAfter
	suspAwait
)

// Suspension describes why a routine paused and the condition under which it
// becomes eligible to resume. The zero value resumes on the next tick.
type Suspension struct {
	kind suspKind
	at   time.Time
	d    time.Duration
	op   Awaitable
}

// NextTick suspends until the scheduler's next tick, unconditionally.
func NextTick() Suspension {
	return Suspension{kind: suspNextTick}
}

// Until suspends until the first tick whose observed time is at or past t.
func Until(t time.Time) Suspension {
	return Suspension{kind: suspUntil, at: t}
}

// After suspends for d measured from the tick at which the routine yielded.
// The delay is anchored to the scheduler's clock, not the wall clock at
// construction time, so it stays deterministic under a manually driven Tick.
func After(d time.Duration) Suspension {
	return Suspension{kind: suspAfter, d: d}
}

// Await suspends until op reports completion. Success and failure both count
// as complete; the routine inspects the operation's own result on resume.
func Await(op Awaitable) Suspension {
	return Suspension{kind: suspAwait, op: op}
}

// ready reports whether the suspension is satisfied at the given tick time.
func (s Suspension) ready(now time.Time) bool {
	switch s.kind {
	case suspUntil:
		return !now.Before(s.at)
	case suspAwait:
		return s.op.Done()
	default:
		return true
	}
}

// resolve pins relative suspensions against the tick clock so later readiness
// checks compare absolute times.
func (s Suspension) resolve(now time.Time) Suspension {
	if s.kind == suspAfter {
		return Suspension{kind: suspUntil, at: now.Add(s.d)}
	}
	return s
}
