package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors/keys"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/retry"
	"go.uber.org/zap"
)

// redispatcher provides FailRetry tasks again after a backoff.
type redispatcher struct {
	policy   retry.Policy
	attempts int

	ctx    context.Context
	cancel context.CancelFunc
	mx     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// WithRedispatch makes the engine redispatch tasks that failed to deliver,
// waiting policy.NextRetry between attempts. A task that used up attempts
// dispatches is failed.
func WithRedispatch(policy retry.Policy, attempts int) Option {
	return func(e *Engine) {
		if attempts < 1 {
			attempts = 1
		}
		ctx, cancel := context.WithCancel(context.Background())
		e.redispatch = &redispatcher{policy: policy, attempts: attempts, ctx: ctx, cancel: cancel}
	}
}

func (rd *redispatcher) schedule(e *Engine, h model.Handle, attempt int) {
	rd.mx.Lock()
	defer rd.mx.Unlock()
	if rd.closed {
		return
	}
	rd.wg.Add(1)
	go func() {
		defer rd.wg.Done()
		if err := retry.Sleep(rd.ctx, rd.policy, attempt-1); err != nil {
			return
		}
		_, err := e.retryTask(rd.ctx, h, "", false)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("redispatch failed", zap.Uint64(keys.NodeInstance, uint64(h)), zap.Int(keys.Attempt, attempt+1), zap.Error(err))
		}
	}()
}

func (rd *redispatcher) close() {
	rd.mx.Lock()
	rd.closed = true
	rd.mx.Unlock()
	rd.cancel()
	rd.wg.Wait()
}
