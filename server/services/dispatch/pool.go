package dispatch

import (
	"sync"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/server/errors/keys"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// pool runs tasks on core permanent workers, growing up to max workers while
// no worker is idle. Extra workers exit after keepAlive without work.
// Submissions never block: they queue without bound in FIFO order.
type pool struct {
	log       *zap.Logger
	core      int
	keepAlive time.Duration
	extra     *semaphore.Weighted

	mx     sync.Mutex
	closed bool
	submit chan func()
	jobs   chan func()
	wg     sync.WaitGroup
}

func newPool(log *zap.Logger, core, max int, keepAlive time.Duration) *pool {
	if core < 1 {
		core = 1
	}
	if max < core {
		max = core
	}
	p := &pool{
		log:       log,
		core:      core,
		keepAlive: keepAlive,
		extra:     semaphore.NewWeighted(int64(max - core)),
		submit:    make(chan func(), 16),
		jobs:      make(chan func()),
	}
	for i := 0; i < core; i++ {
		p.wg.Add(1)
		go p.coreWorker()
	}
	p.wg.Add(1)
	go p.intake()
	log.Debug("worker pool started", zap.Int(keys.Workers, core), zap.Int("max", max))
	return p
}

// Submit queues task. It reports false once the pool is closed.
func (p *pool) Submit(task func()) bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.closed {
		return false
	}
	p.submit <- task
	return true
}

// Close stops accepting tasks, runs everything already queued and waits for
// the workers to exit.
func (p *pool) Close() {
	p.mx.Lock()
	if !p.closed {
		p.closed = true
		close(p.submit)
	}
	p.mx.Unlock()
	p.wg.Wait()
}

func (p *pool) intake() {
	defer p.wg.Done()
	var queue []func()
	for {
		var (
			out  chan func()
			next func()
		)
		if len(queue) > 0 {
			out = p.jobs
			next = queue[0]
		}
		select {
		case task, ok := <-p.submit:
			if !ok {
				for _, t := range queue {
					p.jobs <- t
				}
				close(p.jobs)
				return
			}
			queue = append(queue, task)
			queue = p.handOff(queue)
		case out <- next:
			queue = queue[1:]
		}
	}
}

// handOff gives the head of the queue to an idle worker, or to a new extra
// worker if none is idle and the cap allows.
func (p *pool) handOff(queue []func()) []func() {
	select {
	case p.jobs <- queue[0]:
		return queue[1:]
	default:
	}
	if p.extra.TryAcquire(1) {
		p.wg.Add(1)
		go p.extraWorker(queue[0])
		return queue[1:]
	}
	return queue
}

func (p *pool) coreWorker() {
	defer p.wg.Done()
	for task := range p.jobs {
		p.run(task)
	}
}

func (p *pool) extraWorker(first func()) {
	defer p.wg.Done()
	defer p.extra.Release(1)
	p.run(first)
	idle := time.NewTimer(p.keepAlive)
	defer idle.Stop()
	for {
		select {
		case task, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(task)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(p.keepAlive)
		case <-idle.C:
			return
		}
	}
}

func (p *pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("dispatch task panicked", zap.Any("panic", r))
		}
	}()
	task()
}
