package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors/keys"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/dispatch"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/storage"
	"github.com/pdvrieze/ProcessManager-sub007/server/vars"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine contains the process execution functions. Every operation runs in
// its own transaction unless the context carries one from InTx, and takes the
// calling principal for authorization.
type Engine struct {
	log        *zap.Logger
	store      *storage.Store
	sender     Sender
	auth       Authorizer
	tracer     trace.Tracer
	retries    int
	endpoint   string
	redispatch *redispatcher
	ctx        context.Context
	cancel     context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthorizer replaces the default OwnerOnly authorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) { e.auth = a }
}

// WithConflictRetries bounds how often an operation is re-run after losing a
// commit race.
func WithConflictRetries(n int) Option {
	return func(e *Engine) { e.retries = n }
}

// WithEndpoint sets the value of the "endpoint" template name: the address
// remote parties use to report back.
func WithEndpoint(url string) Option {
	return func(e *Engine) { e.endpoint = url }
}

// NewEngine returns an instance of the process engine.
func NewEngine(log *zap.Logger, store *storage.Store, sender Sender, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		log:     log,
		store:   store,
		sender:  sender,
		auth:    OwnerOnly,
		tracer:  otel.Tracer("github.com/pdvrieze/ProcessManager-sub007/workflow"),
		retries: 5,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Close stops pending automatic redispatches. Completion callbacks arriving
// afterwards are dropped.
func (e *Engine) Close() {
	if e.redispatch != nil {
		e.redispatch.close()
	}
	e.cancel()
}

type txKey struct{}

// InTx runs fn in one transaction. Engine operations called with the context
// passed to fn join that transaction; fn is re-run from scratch after a
// commit conflict.
func (e *Engine) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*storage.Tx); ok {
		return fn(ctx)
	}
	return storage.Update(ctx, e.store, e.retries, func(tx *storage.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (e *Engine) update(ctx context.Context, fn func(tx *storage.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*storage.Tx); ok {
		return fn(tx)
	}
	return storage.Update(ctx, e.store, e.retries, fn)
}

func (e *Engine) view(ctx context.Context, fn func(tx *storage.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*storage.Tx); ok {
		return fn(tx)
	}
	return storage.View(ctx, e.store, fn)
}

func (e *Engine) authorize(ctx context.Context, principal, op, owner string) error {
	if err := e.auth.Authorize(ctx, principal, op, owner); err != nil {
		return e.engineErr(ctx, "not authorized", err, zap.String(keys.Principal, principal), zap.String(keys.Operation, op), zap.String(keys.Owner, owner))
	}
	return nil
}

func (e *Engine) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// engineErr logs err with the given fields, records it on the current span
// and returns it unchanged.
func (e *Engine) engineErr(ctx context.Context, msg string, err error, z ...zap.Field) error {
	z = append(z, zap.Error(err))
	e.log.Error(msg, z...)
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

// AddProcessModel stores a validated copy of pm and returns its handle. A
// model without owner is owned by principal.
func (e *Engine) AddProcessModel(ctx context.Context, pm *model.ProcessModel, principal string) (model.Handle, error) {
	ctx, span := e.span(ctx, "AddProcessModel")
	defer span.End()
	if pm == nil {
		return model.NoHandle, fmt.Errorf("nil process model: %w", errors.ErrInvalidModel)
	}
	if err := model.Validate(pm); err != nil {
		return model.NoHandle, e.engineErr(ctx, "rejected process model", err, zap.String(keys.ModelName, pm.Name))
	}
	owner := pm.Owner
	if owner == "" {
		owner = principal
	}
	if err := e.authorize(ctx, principal, "addProcessModel", owner); err != nil {
		return model.NoHandle, err
	}
	var h model.Handle
	err := e.update(ctx, func(tx *storage.Tx) error {
		c := pm.Clone()
		c.Owner = owner
		if c.UUID == uuid.Nil {
			c.UUID = uuid.New()
		}
		var err error
		h, err = modelTable.Put(tx, c)
		return err
	})
	if err != nil {
		return model.NoHandle, e.engineErr(ctx, "failed to store process model", err, zap.String(keys.ModelName, pm.Name))
	}
	e.log.Info("process model added", zap.Uint64(keys.ModelHandle, uint64(h)), zap.String(keys.ModelName, pm.Name), zap.String(keys.Owner, owner))
	return h, nil
}

// GetProcessModel returns the model stored under h.
func (e *Engine) GetProcessModel(ctx context.Context, h model.Handle, principal string) (*model.ProcessModel, error) {
	var pm *model.ProcessModel
	err := e.view(ctx, func(tx *storage.Tx) error {
		var err error
		if pm, err = modelTable.Get(tx, h); err != nil {
			return err
		}
		return e.authorize(ctx, principal, "getProcessModel", pm.Owner)
	})
	if err != nil {
		return nil, err
	}
	return pm, nil
}

// ListProcessModels returns the models principal may read, in handle order.
func (e *Engine) ListProcessModels(ctx context.Context, principal string) ([]*model.ProcessModel, error) {
	var ret []*model.ProcessModel
	err := e.view(ctx, func(tx *storage.Tx) error {
		ret = nil
		return modelTable.Iterate(tx, func(_ model.Handle, pm *model.ProcessModel) error {
			if e.auth.Authorize(ctx, principal, "listProcessModels", pm.Owner) == nil {
				ret = append(ret, pm)
			}
			return nil
		})
	})
	return ret, err
}

// StartProcess creates an instance of the model and runs it up to the first
// tasks. payload feeds the result bindings of the start nodes. A zero id is
// replaced by a random one.
func (e *Engine) StartProcess(ctx context.Context, principal string, modelHandle model.Handle, name string, id uuid.UUID, payload string) (model.Handle, error) {
	ctx, span := e.span(ctx, "StartProcess", attribute.Int64(keys.ModelHandle, int64(modelHandle)))
	defer span.End()
	if id == uuid.Nil {
		id = uuid.New()
	}
	var h model.Handle
	err := e.update(ctx, func(tx *storage.Tx) error {
		pm, err := modelTable.Get(tx, modelHandle)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, principal, "startProcess", pm.Owner); err != nil {
			return err
		}
		pi := &model.ProcessInstance{
			Model:   pm.Handle,
			Name:    name,
			UUID:    id,
			Owner:   principal,
			Created: time.Now(),
			State:   model.Initialized,
			Input:   payload,
		}
		if h, err = instanceTable.Put(tx, pi); err != nil {
			return err
		}
		r := e.newRun(tx, pm, pi)
		if err := r.start(payload); err != nil {
			return err
		}
		return r.flush()
	})
	if err != nil && !errors.KeepsChanges(err) {
		return model.NoHandle, e.engineErr(ctx, "failed to start process", err,
			zap.Uint64(keys.ModelHandle, uint64(modelHandle)),
			zap.String(keys.InstanceName, name),
			zap.String(keys.Principal, principal))
	}
	span.SetAttributes(attribute.Int64(keys.ProcessInstance, int64(h)))
	e.log.Info("process started", zap.Uint64(keys.ProcessInstance, uint64(h)), zap.Uint64(keys.ModelHandle, uint64(modelHandle)), zap.String(keys.InstanceName, name))
	return h, err
}

// nodeOp loads the instance owning a node instance, authorizes principal
// against its owner and applies fn. It returns the resulting state.
func (e *Engine) nodeOp(ctx context.Context, op string, h model.Handle, principal string, fn func(r *run, ni *model.NodeInstance) error) (model.NodeState, error) {
	ctx, span := e.span(ctx, op, attribute.Int64(keys.NodeInstance, int64(h)))
	defer span.End()
	var state model.NodeState
	err := e.update(ctx, func(tx *storage.Tx) error {
		stored, err := nodeTable.Get(tx, h)
		if err != nil {
			return err
		}
		r, err := e.loadRun(tx, stored.Instance)
		if err != nil {
			return err
		}
		if op != "redispatch" {
			if err := e.authorize(ctx, principal, op, r.pi.Owner); err != nil {
				return err
			}
		}
		ni := r.nis[h]
		prev := ni.State
		if err := fn(r, ni); err != nil {
			return err
		}
		state = ni.State
		e.log.Debug(op, r.fields(ni, zap.Stringer(keys.PreviousState, prev))...)
		return r.flush()
	})
	if err != nil && !errors.KeepsChanges(err) {
		return state, e.engineErr(ctx, op+" failed", err, zap.Uint64(keys.NodeInstance, uint64(h)), zap.String(keys.Principal, principal))
	}
	return state, err
}

// TakeTask claims a task. Of two callers only one wins; the other gets
// errors.ErrPermissionDenied.
func (e *Engine) TakeTask(ctx context.Context, h model.Handle, principal string) (model.NodeState, error) {
	return e.nodeOp(ctx, "takeTask", h, principal, func(r *run, ni *model.NodeInstance) error {
		if err := ni.Take(); err != nil {
			return err
		}
		return r.save(ni)
	})
}

// StartTask records that remote processing began.
func (e *Engine) StartTask(ctx context.Context, h model.Handle, principal string) (model.NodeState, error) {
	return e.nodeOp(ctx, "startTask", h, principal, func(r *run, ni *model.NodeInstance) error {
		if err := ni.Start(); err != nil {
			return err
		}
		return r.save(ni)
	})
}

// FinishTask completes a task with payload and advances the process. A task
// that was not yet taken or started is walked through those states first.
func (e *Engine) FinishTask(ctx context.Context, h model.Handle, payload string, principal string) (model.NodeState, error) {
	return e.nodeOp(ctx, "finishTask", h, principal, func(r *run, ni *model.NodeInstance) error {
		if ni.State == model.Sent || ni.State == model.Acknowledged {
			if err := ni.Take(); err != nil {
				return err
			}
		}
		if ni.State == model.Taken {
			if err := ni.Start(); err != nil {
				return err
			}
		}
		node := r.pm.Node(ni.NodeID)
		results, err := vars.Results(e.log, payload, node.Results)
		if err != nil {
			return err
		}
		if err := ni.Finish(results); err != nil {
			return err
		}
		return r.completed(ni)
	})
}

// FailTask ends a task with cause. Successors only reachable through it are
// cancelled.
func (e *Engine) FailTask(ctx context.Context, h model.Handle, cause string, principal string) (model.NodeState, error) {
	return e.nodeOp(ctx, "failTask", h, principal, func(r *run, ni *model.NodeInstance) error {
		if err := ni.Fail(cause); err != nil {
			return err
		}
		return r.ended(ni)
	})
}

// CancelTask aborts a task that has not started remotely, cascading to the
// successors that can no longer run.
func (e *Engine) CancelTask(ctx context.Context, h model.Handle, principal string) (model.NodeState, error) {
	return e.nodeOp(ctx, "cancelTask", h, principal, func(r *run, ni *model.NodeInstance) error {
		if err := ni.Cancel(); err != nil {
			return err
		}
		r.cancelSend(ni)
		return r.ended(ni)
	})
}

// RetryTask dispatches a FailRetry task again, reusing its node instance.
func (e *Engine) RetryTask(ctx context.Context, h model.Handle, principal string) (model.NodeState, error) {
	return e.retryTask(ctx, h, principal, true)
}

func (e *Engine) retryTask(ctx context.Context, h model.Handle, principal string, explicit bool) (model.NodeState, error) {
	op := "retryTask"
	if !explicit {
		op = "redispatch"
	}
	return e.nodeOp(ctx, op, h, principal, func(r *run, ni *model.NodeInstance) error {
		if ni.State != model.FailRetry {
			if !explicit {
				return nil
			}
			return &errors.StateError{Handle: uint64(ni.Handle), Transition: op, From: ni.State.String()}
		}
		return r.provide(ni, r.pm.Node(ni.NodeID))
	})
}

// GetProcessInstance returns a snapshot of the process instance h.
func (e *Engine) GetProcessInstance(ctx context.Context, h model.Handle, principal string) (*model.ProcessInstance, error) {
	var pi *model.ProcessInstance
	err := e.view(ctx, func(tx *storage.Tx) error {
		var err error
		if pi, err = instanceTable.Get(tx, h); err != nil {
			return err
		}
		return e.authorize(ctx, principal, "getProcessInstance", pi.Owner)
	})
	if err != nil {
		return nil, err
	}
	return pi, nil
}

// GetNodeInstance returns a snapshot of the node instance h.
func (e *Engine) GetNodeInstance(ctx context.Context, h model.Handle, principal string) (*model.NodeInstance, error) {
	var ni *model.NodeInstance
	err := e.view(ctx, func(tx *storage.Tx) error {
		var err error
		if ni, err = nodeTable.Get(tx, h); err != nil {
			return err
		}
		pi, err := instanceTable.Get(tx, ni.Instance)
		if err != nil {
			return err
		}
		return e.authorize(ctx, principal, "getNodeInstance", pi.Owner)
	})
	if err != nil {
		return nil, err
	}
	return ni, nil
}

// NodeInstances returns every node instance of the process instance h in
// creation order.
func (e *Engine) NodeInstances(ctx context.Context, h model.Handle, principal string) ([]*model.NodeInstance, error) {
	var ret []*model.NodeInstance
	err := e.view(ctx, func(tx *storage.Tx) error {
		r, err := e.loadRun(tx, h)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, principal, "getProcessInstance", r.pi.Owner); err != nil {
			return err
		}
		ret = r.nodes()
		return nil
	})
	return ret, err
}

// CancelInstance ends the process instance h. Tasks that already started
// remotely are failed, every other active node instance is cancelled.
func (e *Engine) CancelInstance(ctx context.Context, h model.Handle, principal string) error {
	ctx, span := e.span(ctx, "CancelInstance", attribute.Int64(keys.ProcessInstance, int64(h)))
	defer span.End()
	err := e.update(ctx, func(tx *storage.Tx) error {
		r, err := e.loadRun(tx, h)
		if err != nil {
			return err
		}
		if err := e.authorize(ctx, principal, "cancelInstance", r.pi.Owner); err != nil {
			return err
		}
		if r.pi.State.IsFinal() {
			return &errors.StateError{Handle: uint64(h), Transition: "cancelInstance", From: r.pi.State.String()}
		}
		for _, ah := range append([]model.Handle(nil), r.pi.Active...) {
			ni := r.nis[ah]
			if ni.State == model.Started {
				err = ni.Fail("process instance cancelled")
			} else {
				err = ni.Cancel()
				r.cancelSend(ni)
			}
			if err != nil {
				return err
			}
			if err := r.retire(ni); err != nil {
				return err
			}
		}
		r.pi.State = model.InstanceCancelled
		r.piDirty = true
		return r.flush()
	})
	if err != nil {
		return e.engineErr(ctx, "failed to cancel process instance", err, zap.Uint64(keys.ProcessInstance, uint64(h)))
	}
	e.log.Info("process instance cancelled", zap.Uint64(keys.ProcessInstance, uint64(h)), zap.String(keys.Principal, principal))
	return nil
}

// NodeInstanceXML returns the audit form of the node instance h.
func (e *Engine) NodeInstanceXML(ctx context.Context, h model.Handle, principal string) ([]byte, error) {
	ni, err := e.GetNodeInstance(ctx, h, principal)
	if err != nil {
		return nil, err
	}
	return MarshalNodeInstance(ni)
}

func (e *Engine) completion(h model.Handle) dispatch.CompletionFunc {
	return func(send model.Handle, o dispatch.Outcome) {
		e.onMessageCompletion(h, send, o)
	}
}

// onMessageCompletion applies the outcome of a send to its task: a delivery
// acknowledges it, a failure moves it to FailRetry. Outcomes for a send that
// is no longer the task's current one are ignored.
func (e *Engine) onMessageCompletion(h, send model.Handle, o dispatch.Outcome) {
	if e.ctx.Err() != nil {
		return
	}
	err := storage.Update(e.ctx, e.store, e.retries, func(tx *storage.Tx) error {
		stored, err := nodeTable.Get(tx, h)
		if err != nil {
			return err
		}
		if stored.Send != send || stored.State != model.Sent {
			e.log.Debug("stale send outcome", zap.Uint64(keys.NodeInstance, uint64(h)), zap.Uint64(keys.SendHandle, uint64(send)), zap.Stringer(keys.State, stored.State))
			return nil
		}
		r, err := e.loadRun(tx, stored.Instance)
		if err != nil {
			return err
		}
		ni := r.nis[h]
		if o.Delivered() {
			if err := ni.Acknowledge(); err != nil {
				return err
			}
			return r.save(ni)
		}
		cause := fmt.Sprintf("status %d", o.StatusCode)
		if o.Err != nil {
			cause = o.Err.Error()
		}
		if err := ni.DispatchFailed(cause); err != nil {
			return err
		}
		e.log.Info("dispatch failed", r.fields(ni, zap.Uint64(keys.SendHandle, uint64(send)), zap.Int(keys.StatusCode, o.StatusCode), zap.Error(o.Err))...)
		if err := r.save(ni); err != nil {
			return err
		}
		if err := r.retryLater(ni); err != nil {
			return err
		}
		return r.flush()
	})
	if err != nil {
		e.log.Error("failed to apply send outcome", zap.Uint64(keys.NodeInstance, uint64(h)), zap.Uint64(keys.SendHandle, uint64(send)), zap.Error(err))
	}
}
