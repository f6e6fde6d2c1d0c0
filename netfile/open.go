package netfile

import (
	"context"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Async open coordination
// -----------------------------------------------------------------------------

// OpenStatus is the state of an open request.
type OpenStatus int32

const (
	// OpenNotStarted means no open has been issued.
	OpenNotStarted OpenStatus = iota

	// OpenInProgress means an asynchronous open is in flight.
	OpenInProgress

	// OpenSucceeded is terminal: the session is open.
	OpenSucceeded

	// OpenFailed is terminal: the open was refused.
	OpenFailed
)

func (s OpenStatus) String() string {
	switch s {
	case OpenNotStarted:
		return "not-started"
	case OpenInProgress:
		return "in-progress"
	case OpenSucceeded:
		return "succeeded"
	case OpenFailed:
		return "failed"
	}
	return "unknown"
}

// terminal reports whether the status is one of the two end states.
func (s OpenStatus) terminal() bool {
	return s == OpenSucceeded || s == OpenFailed
}

// opener coordinates a single open request that may complete in the
// background. The state transitions once, NotStarted -> InProgress ->
// {Succeeded, Failed}, and never regresses. Completion closes a
// one-shot channel, so waiting is safe even after the open has
// already resolved.
type opener struct {
	status atomic.Int32
	once   sync.Once
	done   chan struct{}

	// err is written exactly once, before done is closed.
	err error
}

func newOpener() *opener {
	return &opener{done: make(chan struct{})}
}

// start marks the open as in flight.
func (o *opener) start() {
	o.status.Store(int32(OpenInProgress))
}

// complete records the open outcome and wakes every waiter. Calling
// it again after a terminal state is a no-op.
func (o *opener) complete(err error) {
	o.once.Do(func() {
		o.err = err
		if err != nil {
			o.status.Store(int32(OpenFailed))
		} else {
			o.status.Store(int32(OpenSucceeded))
		}
		close(o.done)
	})
}

// wait blocks until the open reaches a terminal state, then returns
// its outcome. Returns immediately when already terminal.
func (o *opener) wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current open state.
func (o *opener) Status() OpenStatus {
	return OpenStatus(o.status.Load())
}
