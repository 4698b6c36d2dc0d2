package dispatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/dispatch"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type call struct {
	handle  model.Handle
	outcome dispatch.Outcome
}

type recorder struct {
	ch chan call
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan call, 64)}
}

func (r *recorder) callback(h model.Handle, o dispatch.Outcome) {
	r.ch <- call{handle: h, outcome: o}
}

func (r *recorder) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-r.ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no completion callback")
		return call{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case c := <-r.ch:
		t.Fatalf("unexpected completion for %v", c.handle)
	case <-time.After(wait):
	}
}

// gated blocks every delivery until release is closed.
type gated struct {
	started chan string
	release chan struct{}
	once    sync.Once
	active  int32
	peak    int32
}

func newGated() *gated {
	return &gated{started: make(chan string, 16), release: make(chan struct{})}
}

func (g *gated) Deliver(ctx context.Context, msg *dispatch.Message) (dispatch.Response, error) {
	n := atomic.AddInt32(&g.active, 1)
	defer atomic.AddInt32(&g.active, -1)
	for {
		p := atomic.LoadInt32(&g.peak)
		if n <= p || atomic.CompareAndSwapInt32(&g.peak, p, n) {
			break
		}
	}
	g.started <- msg.ID
	select {
	case <-g.release:
		return dispatch.Response{StatusCode: 200}, nil
	case <-ctx.Done():
		return dispatch.Response{}, ctx.Err()
	}
}

func (g *gated) open() {
	g.once.Do(func() { close(g.release) })
}

func (g *gated) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-g.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not start")
		return ""
	}
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Deliver(ctx context.Context, msg *dispatch.Message) (dispatch.Response, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(dispatch.Response), args.Error(1)
}

func newDispatcher(t *testing.T, tr dispatch.Transport, opts dispatch.Options) (*dispatch.Dispatcher, *storage.Store) {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := storage.New(log, storage.NewMemory())
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	d := dispatch.New(log, store, dispatch.Transports{"test": tr}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
		_ = store.Close()
	})
	return d, store
}

func TestSendDelivers(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Deliver", mock.Anything, mock.MatchedBy(func(m *dispatch.Message) bool {
		return m.Destination == "test://orders" && m.ID != "" && m.Headers["Message-ID"] == m.ID
	})).Return(dispatch.Response{StatusCode: 202, Body: []byte("ok")}, nil).Once()
	d, _ := newDispatcher(t, tr, dispatch.Options{})
	rec := newRecorder()
	ctx := context.Background()

	f, err := d.Send(ctx, &dispatch.Message{Destination: "test://orders", Body: []byte("<order/>")}, rec.callback)
	require.NoError(t, err)

	c := rec.next(t)
	assert.Equal(t, f.Handle(), c.handle)
	assert.True(t, c.outcome.Delivered())
	assert.Equal(t, 202, c.outcome.StatusCode)

	o, err := f.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), o.Body)

	stored, err := d.Delivery(ctx, f.Handle())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Delivered, stored.State)
	assert.Equal(t, 202, stored.StatusCode)
	assert.False(t, stored.Finished.IsZero())
	tr.AssertExpectations(t)
}

func TestSendUnknownScheme(t *testing.T) {
	d, _ := newDispatcher(t, &mockTransport{}, dispatch.Options{})
	_, err := d.Send(context.Background(), &dispatch.Message{Destination: "ftp://files"}, nil)
	assert.ErrorIs(t, err, errors.ErrNoTransport)
}

func TestFailedDeliveryRecorded(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Deliver", mock.Anything, mock.Anything).
		Return(dispatch.Response{StatusCode: 503}, &errors.HTTPResponseError{StatusCode: 503}).Once()
	d, _ := newDispatcher(t, tr, dispatch.Options{})
	rec := newRecorder()

	f, err := d.Send(context.Background(), &dispatch.Message{Destination: "test://x"}, rec.callback)
	require.NoError(t, err)
	c := rec.next(t)
	assert.False(t, c.outcome.Delivered())
	var herr *errors.HTTPResponseError
	require.ErrorAs(t, c.outcome.Err, &herr)
	assert.Equal(t, 503, herr.StatusCode)

	stored, err := d.Delivery(context.Background(), f.Handle())
	require.NoError(t, err)
	assert.Equal(t, dispatch.DeliveryFailed, stored.State)
	assert.NotEmpty(t, stored.Error)
}

func TestUnclassifiedErrorBecomesConnectionError(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Deliver", mock.Anything, mock.Anything).Return(dispatch.Response{}, context.Canceled).Once()
	d, _ := newDispatcher(t, tr, dispatch.Options{})
	rec := newRecorder()

	_, err := d.Send(context.Background(), &dispatch.Message{Destination: "test://x"}, rec.callback)
	require.NoError(t, err)
	c := rec.next(t)
	var cerr *errors.ConnectionError
	require.ErrorAs(t, c.outcome.Err, &cerr)
	assert.ErrorIs(t, c.outcome.Err, context.Canceled)
}

func TestCallbacksInCompletionOrder(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Deliver", mock.Anything, mock.Anything).Return(dispatch.Response{StatusCode: 200}, nil)
	d, _ := newDispatcher(t, tr, dispatch.Options{CoreWorkers: 1, MaxWorkers: 1})
	rec := newRecorder()

	var handles []model.Handle
	for i := 0; i < 5; i++ {
		f, err := d.Send(context.Background(), &dispatch.Message{Destination: "test://x"}, rec.callback)
		require.NoError(t, err)
		handles = append(handles, f.Handle())
	}
	for _, h := range handles {
		assert.Equal(t, h, rec.next(t).handle)
	}
}

func TestPoolGrowsToMax(t *testing.T) {
	g := newGated()
	defer g.open()
	d, _ := newDispatcher(t, g, dispatch.Options{CoreWorkers: 1, MaxWorkers: 3})
	rec := newRecorder()

	for i := 0; i < 4; i++ {
		_, err := d.Send(context.Background(), &dispatch.Message{Destination: "test://x"}, rec.callback)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		g.waitStarted(t)
	}
	select {
	case <-g.started:
		t.Fatal("fourth delivery started beyond the worker cap")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&g.peak))
	assert.Equal(t, 4, d.Pending())

	g.open()
	for i := 0; i < 4; i++ {
		assert.True(t, rec.next(t).outcome.Delivered())
	}
	assert.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestCancelQueuedSend(t *testing.T) {
	g := newGated()
	defer g.open()
	d, _ := newDispatcher(t, g, dispatch.Options{CoreWorkers: 1, MaxWorkers: 1})
	rec := newRecorder()
	ctx := context.Background()

	first, err := d.Send(ctx, &dispatch.Message{Destination: "test://a"}, rec.callback)
	require.NoError(t, err)
	g.waitStarted(t)
	second, err := d.Send(ctx, &dispatch.Message{Destination: "test://b"}, rec.callback)
	require.NoError(t, err)

	assert.False(t, d.Cancel(first.Handle()), "a started send cannot be cancelled")
	assert.True(t, d.Cancel(second.Handle()))
	assert.True(t, second.IsCancelled())

	g.open()
	c := rec.next(t)
	assert.Equal(t, first.Handle(), c.handle)
	assert.True(t, c.outcome.Delivered())
	c = rec.next(t)
	assert.Equal(t, second.Handle(), c.handle)
	assert.ErrorIs(t, c.outcome.Err, dispatch.ErrCancelled)

	stored, err := d.Delivery(ctx, second.Handle())
	require.NoError(t, err)
	assert.Equal(t, dispatch.DeliveryCancelled, stored.State)
}

func TestFutureGetTimeout(t *testing.T) {
	g := newGated()
	defer g.open()
	d, _ := newDispatcher(t, g, dispatch.Options{})

	f, err := d.Send(context.Background(), &dispatch.Message{Destination: "test://x"}, nil)
	require.NoError(t, err)
	g.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Get(ctx)
	assert.ErrorIs(t, err, errors.ErrTimeout)

	g.open()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future never completed")
	}
}

func TestSendTxWaitsForCommit(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Deliver", mock.Anything, mock.Anything).Return(dispatch.Response{StatusCode: 200}, nil).Once()
	d, store := newDispatcher(t, tr, dispatch.Options{})
	rec := newRecorder()

	tx := store.Begin(context.Background())
	h, err := d.SendTx(tx, &dispatch.Message{Destination: "test://x"}, rec.callback)
	require.NoError(t, err)
	assert.True(t, h.Valid())
	_, pending := d.Future(h)
	assert.False(t, pending)
	rec.none(t, 50*time.Millisecond)

	require.NoError(t, tx.Commit())
	assert.Equal(t, h, rec.next(t).handle)
	tr.AssertExpectations(t)
}

func TestSendTxRolledBack(t *testing.T) {
	tr := &mockTransport{}
	d, store := newDispatcher(t, tr, dispatch.Options{})
	rec := newRecorder()

	tx := store.Begin(context.Background())
	h, err := d.SendTx(tx, &dispatch.Message{Destination: "test://x"}, rec.callback)
	require.NoError(t, err)
	tx.Rollback()

	rec.none(t, 50*time.Millisecond)
	_, err = d.Delivery(context.Background(), h)
	assert.ErrorIs(t, err, errors.ErrHandleNotFound)
	tr.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestCloseCancelsQueuedAndWaitsForInFlight(t *testing.T) {
	g := newGated()
	defer g.open()
	d, _ := newDispatcher(t, g, dispatch.Options{CoreWorkers: 1, MaxWorkers: 1})
	rec := newRecorder()
	ctx := context.Background()

	running, err := d.Send(ctx, &dispatch.Message{Destination: "test://a"}, rec.callback)
	require.NoError(t, err)
	g.waitStarted(t)
	queued, err := d.Send(ctx, &dispatch.Message{Destination: "test://b"}, rec.callback)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.open()
	}()
	require.NoError(t, d.Close(ctx))

	assert.True(t, queued.IsCancelled())
	o, err := running.Get(ctx)
	require.NoError(t, err)
	assert.True(t, o.Delivered())
	assert.Len(t, rec.ch, 2, "every finished send is notified before Close returns")

	late, err := d.Send(ctx, &dispatch.Message{Destination: "test://c"}, rec.callback)
	require.NoError(t, err)
	o, err = late.Get(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, o.Err, errors.ErrClosed)
	c := rec.next(t)
	assert.Equal(t, late.Handle(), c.handle)
	assert.ErrorIs(t, c.outcome.Err, errors.ErrClosed)
	assert.ErrorIs(t, d.Close(ctx), errors.ErrClosed)
}

func TestSendTxCommittedAfterCloseNotifies(t *testing.T) {
	tr := &mockTransport{}
	d, store := newDispatcher(t, tr, dispatch.Options{})
	rec := newRecorder()
	ctx := context.Background()

	tx := store.Begin(ctx)
	h, err := d.SendTx(tx, &dispatch.Message{Destination: "test://x"}, rec.callback)
	require.NoError(t, err)
	require.NoError(t, d.Close(ctx))
	require.NoError(t, tx.Commit())

	c := rec.next(t)
	assert.Equal(t, h, c.handle)
	assert.ErrorIs(t, c.outcome.Err, errors.ErrClosed)
	assert.False(t, c.outcome.Delivered())

	del, err := d.Delivery(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, dispatch.DeliveryCancelled, del.State)
	tr.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}
