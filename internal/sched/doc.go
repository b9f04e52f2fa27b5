// Package sched implements a cooperative, tick-driven scheduler. Root
// routines advance at most one step per tick, suspend on explicit conditions
// (next tick, wall-clock deadline, external operation), and may spawn nested
// child routines that run to completion before the parent resumes. All
// stepping happens on the single goroutine driving Tick; concurrency is
// interleaving across ticks, not parallel execution.
package sched
