package dispatch

import (
	"context"
	errors2 "errors"
	"sync"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// ErrCancelled is the outcome of a send cancelled before it started.
var ErrCancelled = errors2.New("send cancelled before start")

type futureState int

const (
	futureQueued futureState = iota
	futureRunning
	futureDone
)

// Future is the one-shot result of a send. It is resolved exactly once by
// the worker that ran the send, or by Cancel.
type Future struct {
	handle  model.Handle
	mx      sync.Mutex
	state   futureState
	outcome Outcome
	done    chan struct{}
}

func newFuture(h model.Handle) *Future {
	return &Future{handle: h, done: make(chan struct{})}
}

// Handle returns the pending-send handle.
func (f *Future) Handle() model.Handle {
	return f.handle
}

// Cancel stops the send if it has not started yet and reports whether it did.
// Once the network call has begun Cancel returns false.
func (f *Future) Cancel() bool {
	return f.resolve(futureQueued, Outcome{Err: ErrCancelled, Finished: time.Now()})
}

// Done is closed when the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get waits for the outcome. If ctx ends first errors.ErrTimeout is returned
// for a deadline and the context error otherwise.
func (f *Future) Get(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		f.mx.Lock()
		defer f.mx.Unlock()
		return f.outcome, nil
	case <-ctx.Done():
		if errors2.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{}, errors.ErrTimeout
		}
		return Outcome{}, ctx.Err()
	}
}

// IsCancelled reports whether the future was cancelled before it started.
func (f *Future) IsCancelled() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.state == futureDone && errors2.Is(f.outcome.Err, ErrCancelled)
}

// start moves a queued future to running. It fails if the future was cancelled.
func (f *Future) start() bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.state != futureQueued {
		return false
	}
	f.state = futureRunning
	return true
}

func (f *Future) complete(o Outcome) {
	f.resolve(futureRunning, o)
}

func (f *Future) resolve(from futureState, o Outcome) bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.state != from {
		return false
	}
	f.state = futureDone
	f.outcome = o
	close(f.done)
	return true
}
