package dispatch

import (
	"sync"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors/keys"
	"go.uber.org/zap"
)

type notification struct {
	handle   model.Handle
	outcome  Outcome
	callback CompletionFunc
}

// notifier invokes completion callbacks one at a time on its own goroutine,
// in the order the sends finished. Callbacks may call back into the engine
// without blocking the worker that produced the result.
type notifier struct {
	log   *zap.Logger
	queue chan notification
	poll  time.Duration
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newNotifier(log *zap.Logger, size int, poll time.Duration) *notifier {
	if size < 1 {
		size = 1
	}
	if poll <= 0 {
		poll = time.Second
	}
	n := &notifier{
		log:   log,
		queue: make(chan notification, size),
		poll:  poll,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go n.run()
	return n
}

// push blocks while the queue is full.
func (n *notifier) push(nt notification) {
	n.queue <- nt
}

func (n *notifier) run() {
	defer close(n.done)
	ticker := time.NewTicker(n.poll)
	defer ticker.Stop()
	for {
		select {
		case nt := <-n.queue:
			n.invoke(nt)
		case <-ticker.C:
			// periodic wake up, only used to notice a shutdown request
			select {
			case <-n.stop:
				if len(n.queue) == 0 {
					return
				}
			default:
			}
		}
	}
}

func (n *notifier) invoke(nt notification) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("completion callback panicked", zap.Uint64(keys.SendHandle, uint64(nt.handle)), zap.Any("panic", r))
		}
	}()
	if nt.callback != nil {
		nt.callback(nt.handle, nt.outcome)
	}
}

// close waits until every queued notification was delivered. Nothing may be
// pushed afterwards.
func (n *notifier) close() {
	n.once.Do(func() { close(n.stop) })
	<-n.done
}
