package sched

// Op is an asynchronous operation running on its own goroutine, exposed to
// routines as an Awaitable. Routines suspend on it with Await and read the
// outcome with Result once Done reports true.
type Op[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go starts fn on a new goroutine and returns a handle for awaiting it.
// Cancellation is the caller's concern: fn should observe a context so that
// an abandoned operation unwinds instead of running to completion for nothing.
func Go[T any](fn func() (T, error)) *Op[T] {
	op := &Op[T]{done: make(chan struct{})}
	go func() {
		defer close(op.done)
		op.val, op.err = fn()
	}()
	return op
}

// Done reports whether the operation has finished, without blocking.
func (o *Op[T]) Done() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Result returns the operation's outcome. Valid only after Done reports true.
func (o *Op[T]) Result() (T, error) {
	return o.val, o.err
}
