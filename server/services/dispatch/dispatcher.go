package dispatch

import (
	"context"
	errors2 "errors"
	"fmt"
	"sync"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/common"
	"github.com/pdvrieze/ProcessManager-sub007/common/header"
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors/keys"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options tune the dispatcher.
type Options struct {
	CoreWorkers     int
	MaxWorkers      int
	KeepAlive       time.Duration
	NotifierQueue   int
	PollInterval    time.Duration
	SendTimeout     time.Duration
	ConflictRetries int
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		CoreWorkers:     2,
		MaxWorkers:      8,
		KeepAlive:       30 * time.Second,
		NotifierQueue:   64,
		PollInterval:    time.Second,
		SendTimeout:     30 * time.Second,
		ConflictRetries: 5,
	}
}

// Dispatcher sends messages asynchronously. Sends run on a bounded, growing
// worker pool; their outcomes are recorded in the store and handed to the
// completion callback on a single notifier goroutine.
type Dispatcher struct {
	log        *zap.Logger
	store      *storage.Store
	deliveries *storage.Table[Delivery]
	transports Transports
	opts       Options
	tracer     trace.Tracer

	pool     *pool
	notifier *notifier

	ctx    context.Context
	cancel context.CancelFunc

	mx      sync.Mutex
	closed  bool
	pending map[model.Handle]*Future
}

// New starts a dispatcher. Close must be called to release its goroutines.
func New(log *zap.Logger, store *storage.Store, transports Transports, opts Options) *Dispatcher {
	def := DefaultOptions()
	if opts.CoreWorkers == 0 {
		opts.CoreWorkers = def.CoreWorkers
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = def.MaxWorkers
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = def.KeepAlive
	}
	if opts.NotifierQueue == 0 {
		opts.NotifierQueue = def.NotifierQueue
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.SendTimeout == 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.ConflictRetries == 0 {
		opts.ConflictRetries = def.ConflictRetries
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		log:        log,
		store:      store,
		deliveries: storage.NewTable[Delivery](DeliveryTable),
		transports: transports,
		opts:       opts,
		tracer:     otel.Tracer("github.com/pdvrieze/ProcessManager-sub007/dispatch"),
		pool:       newPool(log, opts.CoreWorkers, opts.MaxWorkers, opts.KeepAlive),
		notifier:   newNotifier(log, opts.NotifierQueue, opts.PollInterval),
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[model.Handle]*Future),
	}
}

// Send records and queues msg in one step. It never blocks past enqueue.
func (d *Dispatcher) Send(ctx context.Context, msg *Message, cb CompletionFunc) (*Future, error) {
	var h model.Handle
	err := storage.Update(ctx, d.store, d.opts.ConflictRetries, func(tx *storage.Tx) error {
		var err error
		h, err = d.record(tx, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d.enqueue(h, msg, cb), nil
}

// SendTx records msg inside tx and queues it only once tx commits. The
// returned pending-send handle is valid immediately.
func (d *Dispatcher) SendTx(tx *storage.Tx, msg *Message, cb CompletionFunc) (model.Handle, error) {
	h, err := d.record(tx, msg)
	if err != nil {
		return model.NoHandle, err
	}
	tx.OnCommit(func() { d.enqueue(h, msg, cb) })
	return h, nil
}

// Future returns the future of a send that has not finished yet.
func (d *Dispatcher) Future(h model.Handle) (*Future, bool) {
	d.mx.Lock()
	defer d.mx.Unlock()
	f, ok := d.pending[h]
	return f, ok
}

// Cancel cancels a queued send. It reports false once the send has started.
func (d *Dispatcher) Cancel(h model.Handle) bool {
	f, ok := d.Future(h)
	return ok && f.Cancel()
}

// Delivery returns the stored record of a send.
func (d *Dispatcher) Delivery(ctx context.Context, h model.Handle) (*Delivery, error) {
	var rec *Delivery
	err := storage.View(ctx, d.store, func(tx *storage.Tx) error {
		var err error
		rec, err = d.deliveries.Get(tx, h)
		return err
	})
	return rec, err
}

// Pending returns the number of sends that have not finished.
func (d *Dispatcher) Pending() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return len(d.pending)
}

// Close cancels queued sends, waits for in-flight ones and for every
// completion callback to run. If ctx ends first in-flight sends are aborted.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mx.Lock()
	if d.closed {
		d.mx.Unlock()
		return errors.ErrClosed
	}
	d.closed = true
	queued := make([]*Future, 0, len(d.pending))
	for _, f := range d.pending {
		queued = append(queued, f)
	}
	d.mx.Unlock()

	for _, f := range queued {
		f.Cancel()
	}
	drained := make(chan struct{})
	go func() {
		d.pool.Close()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		d.cancel()
		<-drained
	}
	d.notifier.close()
	d.cancel()
	return err
}

func (d *Dispatcher) record(tx *storage.Tx, msg *Message) (model.Handle, error) {
	if _, err := d.transports.forDestination(msg.Destination); err != nil {
		return model.NoHandle, err
	}
	if msg.ID == "" {
		msg.ID = common.NewMessageID()
	}
	hdr := make(header.Values)
	for k, v := range header.FromCtx(tx.Context()) {
		hdr[k] = v
	}
	for k, v := range msg.Headers {
		hdr[k] = v
	}
	hdr[header.MessageID] = msg.ID
	msg.Headers = hdr
	h, err := d.deliveries.Put(tx, &Delivery{
		MessageID:   msg.ID,
		Destination: msg.Destination,
		State:       Queued,
		Queued:      time.Now(),
	})
	if err != nil {
		return model.NoHandle, fmt.Errorf("record delivery: %w", err)
	}
	return h, nil
}

func (d *Dispatcher) enqueue(h model.Handle, msg *Message, cb CompletionFunc) *Future {
	f := newFuture(h)
	d.mx.Lock()
	if d.closed {
		d.mx.Unlock()
		f.resolve(futureQueued, Outcome{Err: errors.ErrClosed, Finished: time.Now()})
		d.finish(h, DeliveryCancelled, f.outcome)
		d.log.Warn("send after close", zap.Uint64(keys.SendHandle, uint64(h)), zap.String(keys.MessageID, msg.ID))
		// the notifier is gone, so the caller's goroutine reports the outcome
		if cb != nil {
			cb(h, f.outcome)
		}
		return f
	}
	d.pending[h] = f
	// Close flips closed under mx before closing the pool, so Submit succeeds
	d.pool.Submit(func() { d.deliver(f, msg, cb) })
	d.mx.Unlock()
	return f
}

func (d *Dispatcher) deliver(f *Future, msg *Message, cb CompletionFunc) {
	h := f.Handle()
	defer func() {
		d.mx.Lock()
		delete(d.pending, h)
		d.mx.Unlock()
	}()

	if !f.start() {
		o, _ := f.Get(context.Background())
		d.finish(h, DeliveryCancelled, o)
		d.notifier.push(notification{handle: h, outcome: o, callback: cb})
		return
	}
	d.update(h, func(rec *Delivery) { rec.State = InFlight })

	ctx, span := d.tracer.Start(d.ctx, "deliver", trace.WithAttributes(
		attribute.String(keys.MessageID, msg.ID),
		attribute.String(keys.Destination, msg.Destination),
		attribute.Int64(keys.SendHandle, int64(h)),
	))
	ctx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	o := d.call(ctx, msg)
	cancel()
	if o.Err != nil {
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, o.Err.Error())
	}
	span.SetAttributes(attribute.Int(keys.StatusCode, o.StatusCode))
	span.End()

	state := Delivered
	if !o.Delivered() {
		state = DeliveryFailed
		d.log.Info("delivery failed",
			zap.Uint64(keys.SendHandle, uint64(h)),
			zap.String(keys.MessageID, msg.ID),
			zap.String(keys.Destination, msg.Destination),
			zap.Int(keys.StatusCode, o.StatusCode),
			zap.Error(o.Err))
	}
	d.finish(h, state, o)
	f.complete(o)
	d.notifier.push(notification{handle: h, outcome: o, callback: cb})
}

func (d *Dispatcher) call(ctx context.Context, msg *Message) Outcome {
	tr, err := d.transports.forDestination(msg.Destination)
	if err != nil {
		return Outcome{Err: err, Finished: time.Now()}
	}
	resp, err := tr.Deliver(ctx, msg)
	var herr *errors.HTTPResponseError
	var cerr *errors.ConnectionError
	if err != nil && !errors2.As(err, &herr) && !errors2.As(err, &cerr) {
		// unclassified transport failures never reached the remote party
		err = &errors.ConnectionError{Destination: msg.Destination, Err: err}
	}
	return Outcome{Response: resp, Err: err, Finished: time.Now()}
}

func (d *Dispatcher) finish(h model.Handle, state DeliveryState, o Outcome) {
	d.update(h, func(rec *Delivery) {
		rec.State = state
		rec.StatusCode = o.StatusCode
		rec.Finished = o.Finished
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
	})
}

func (d *Dispatcher) update(h model.Handle, fn func(rec *Delivery)) {
	err := storage.Update(context.Background(), d.store, d.opts.ConflictRetries, func(tx *storage.Tx) error {
		rec, err := d.deliveries.Get(tx, h)
		if err != nil {
			return err
		}
		fn(rec)
		_, err = d.deliveries.Set(tx, h, rec)
		return err
	})
	if err != nil {
		d.log.Error("update delivery record", zap.Uint64(keys.SendHandle, uint64(h)), zap.Error(err))
	}
}
