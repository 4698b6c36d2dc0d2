package workflow

import (
	errors2 "errors"
	"fmt"
	"sort"

	"github.com/pdvrieze/ProcessManager-sub007/common/expression"
	"github.com/pdvrieze/ProcessManager-sub007/common/header"
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors/keys"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/dispatch"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/storage"
	"github.com/pdvrieze/ProcessManager-sub007/server/template"
	"github.com/pdvrieze/ProcessManager-sub007/server/vars"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	modelTable    = storage.NewTable[model.ProcessModel]("models")
	instanceTable = storage.NewTable[model.ProcessInstance]("instances")
	nodeTable     = storage.NewTable[model.NodeInstance]("nodeinstances")
)

// run drives one process instance inside one transaction. Every node
// instance of the process instance is loaded up front; flush writes the
// process instance back if it changed.
type run struct {
	e       *Engine
	tx      *storage.Tx
	pm      *model.ProcessModel
	pi      *model.ProcessInstance
	nis     map[model.Handle]*model.NodeInstance
	order   []model.Handle
	piDirty bool
	// errs collects failures that are reported to the caller while the
	// transaction still commits.
	errs error
}

func (e *Engine) newRun(tx *storage.Tx, pm *model.ProcessModel, pi *model.ProcessInstance) *run {
	return &run{e: e, tx: tx, pm: pm, pi: pi, nis: make(map[model.Handle]*model.NodeInstance)}
}

func (e *Engine) loadRun(tx *storage.Tx, h model.Handle) (*run, error) {
	pi, err := instanceTable.Get(tx, h)
	if err != nil {
		return nil, err
	}
	pm, err := modelTable.Get(tx, pi.Model)
	if err != nil {
		return nil, err
	}
	r := e.newRun(tx, pm, pi)
	r.order = append(append(r.order, pi.Active...), pi.Finished...)
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	for _, nh := range r.order {
		ni, err := nodeTable.Get(tx, nh)
		if err != nil {
			return nil, err
		}
		r.nis[nh] = ni
	}
	return r, nil
}

func (r *run) fields(ni *model.NodeInstance, z ...zap.Field) []zap.Field {
	return append(z,
		zap.Uint64(keys.ProcessInstance, uint64(r.pi.Handle)),
		zap.Uint64(keys.NodeInstance, uint64(ni.Handle)),
		zap.String(keys.NodeID, ni.NodeID),
		zap.Stringer(keys.State, ni.State),
	)
}

func (r *run) create(nodeID string, preds []model.Handle, state model.NodeState) (*model.NodeInstance, error) {
	ni := &model.NodeInstance{
		Instance:     r.pi.Handle,
		NodeID:       nodeID,
		Predecessors: preds,
		State:        state,
	}
	h, err := nodeTable.Put(r.tx, ni)
	if err != nil {
		return nil, fmt.Errorf("create node instance for %s: %w", nodeID, err)
	}
	r.nis[h] = ni
	r.order = append(r.order, h)
	r.pi.Activate(h)
	r.piDirty = true
	r.e.log.Debug("node instance created", r.fields(ni)...)
	return ni, nil
}

func (r *run) save(ni *model.NodeInstance) error {
	_, err := nodeTable.Set(r.tx, ni.Handle, ni)
	return err
}

// byNode returns the node instance of nodeID. Graphs are acyclic, so there is
// at most one per process instance.
func (r *run) byNode(nodeID string) *model.NodeInstance {
	for i := len(r.order) - 1; i >= 0; i-- {
		if ni := r.nis[r.order[i]]; ni.NodeID == nodeID {
			return ni
		}
	}
	return nil
}

func (r *run) lookup(nodeID, name string) (model.ProcessData, bool) {
	ni := r.byNode(nodeID)
	if ni == nil || ni.State != model.Complete {
		return model.ProcessData{}, false
	}
	return model.FindData(ni.Results, name)
}

// start creates and runs the start node instances.
func (r *run) start(payload string) error {
	r.pi.State = model.InstanceStarted
	r.piDirty = true
	for _, sn := range r.pm.StartNodes() {
		ni, err := r.create(sn.ID, nil, model.Pending)
		if err != nil {
			return err
		}
		results, err := vars.Results(r.e.log, payload, sn.Results)
		if err != nil {
			return err
		}
		if err := r.runInternal(ni, results); err != nil {
			return err
		}
	}
	return nil
}

// runInternal walks a node that is not a task through its states.
func (r *run) runInternal(ni *model.NodeInstance, results []model.ProcessData) error {
	for _, step := range []func() error{ni.Provide, ni.Take, ni.Start} {
		if err := step(); err != nil {
			return err
		}
	}
	if err := ni.Finish(results); err != nil {
		return err
	}
	return r.completed(ni)
}

func (r *run) retire(ni *model.NodeInstance) error {
	r.pi.Retire(ni.Handle)
	r.piDirty = true
	return r.save(ni)
}

// completed advances the graph past a node instance that reached Complete.
func (r *run) completed(ni *model.NodeInstance) error {
	if err := r.retire(ni); err != nil {
		return err
	}
	for _, s := range r.pm.Node(ni.NodeID).Successors {
		if err := r.arrive(s, ni, true); err != nil {
			return err
		}
	}
	return nil
}

// ended propagates a dead path past a node instance that was cancelled or failed.
func (r *run) ended(ni *model.NodeInstance) error {
	if err := r.retire(ni); err != nil {
		return err
	}
	r.e.log.Debug("node instance ended", r.fields(ni)...)
	for _, s := range r.pm.Node(ni.NodeID).Successors {
		if err := r.arrive(s, ni, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) arrive(nodeID string, pred *model.NodeInstance, live bool) error {
	node := r.pm.Node(nodeID)
	if node.Kind == model.KindJoin {
		return r.arriveJoin(node, pred, live)
	}
	ni, err := r.create(node.ID, []model.Handle{pred.Handle}, model.Pending)
	if err != nil {
		return err
	}
	if !live {
		if err := ni.Cancel(); err != nil {
			return err
		}
		return r.ended(ni)
	}
	return r.activate(ni, node)
}

// arriveJoin registers a predecessor at a join. The join fires once min
// predecessors completed, and is cancelled once too many of them ended
// without completing for min to be reached.
func (r *run) arriveJoin(node *model.Node, pred *model.NodeInstance, live bool) error {
	j := r.byNode(node.ID)
	if j == nil {
		var err error
		if j, err = r.create(node.ID, nil, model.Awaiting); err != nil {
			return err
		}
	}
	if j.State != model.Awaiting {
		if live && !j.State.IsTerminal() && j.AddPredecessor(pred.Handle) {
			return r.save(j)
		}
		return nil
	}
	if live {
		j.AddPredecessor(pred.Handle)
	}
	dead := 0
	for _, p := range node.Predecessors {
		if ni := r.byNode(p); ni != nil && (ni.State == model.Cancelled || ni.State == model.Failed) {
			dead++
		}
	}
	r.e.log.Debug("join arrival", r.fields(j, zap.Int(keys.PredecessorArrival, len(j.Predecessors)), zap.Int("dead", dead))...)
	switch {
	case len(j.Predecessors) >= node.Min:
		if err := j.Fire(); err != nil {
			return err
		}
		return r.activate(j, node)
	case len(node.Predecessors)-dead < node.Min:
		if err := j.Cancel(); err != nil {
			return err
		}
		return r.ended(j)
	}
	return r.save(j)
}

// activate runs a Pending node instance: internal nodes complete at once,
// tasks have their inputs resolved and are handed to the dispatcher.
func (r *run) activate(ni *model.NodeInstance, node *model.Node) error {
	if !node.IsTask() {
		return r.runInternal(ni, nil)
	}
	defines, err := vars.Defines(node.ID, node.Defines, r.lookup)
	if err != nil {
		return r.templateFailed(ni, err)
	}
	ok, err := expression.Condition(r.e.log, node.Condition, vars.Env(defines))
	if err != nil {
		return r.templateFailed(ni, &errors.TemplateError{NodeID: node.ID, Err: err})
	}
	if !ok {
		if err := ni.Cancel(); err != nil {
			return err
		}
		r.e.log.Debug("condition false, skipping", r.fields(ni)...)
		return r.ended(ni)
	}
	body, err := template.Render(node.Message, template.Values(append(defines, r.builtins(ni)...)))
	if err != nil {
		return r.templateFailed(ni, err)
	}
	ni.Body = body
	return r.provide(ni, node)
}

func (r *run) builtins(ni *model.NodeInstance) []model.ProcessData {
	return []model.ProcessData{
		model.Scalar("handle", ni.Handle.String()),
		model.Scalar("instancehandle", r.pi.Handle.String()),
		model.Scalar("nodeid", ni.NodeID),
		model.Scalar("owner", r.pi.Owner),
		model.Scalar("endpoint", r.e.endpoint),
	}
}

// templateFailed fails a task whose message could not be produced. The
// failure is committed and reported to the caller.
func (r *run) templateFailed(ni *model.NodeInstance, err error) error {
	var terr *errors.TemplateError
	if errors2.As(err, &terr) && terr.NodeID == "" {
		terr.NodeID = ni.NodeID
	}
	if ferr := ni.Fail(err.Error()); ferr != nil {
		return ferr
	}
	r.e.log.Error("template resolution failed", r.fields(ni, zap.Error(err))...)
	r.errs = multierr.Append(r.errs, err)
	return r.ended(ni)
}

// provide sends a task. Tasks without a message wait for a worker to take
// them through the engine.
func (r *run) provide(ni *model.NodeInstance, node *model.Node) error {
	if node.Message == nil {
		if err := ni.Provide(); err != nil {
			return err
		}
		return r.save(ni)
	}
	msg := &dispatch.Message{
		Destination: node.Message.Destination,
		Method:      node.Message.Method,
		ContentType: node.Message.ContentType,
		Body:        []byte(ni.Body),
		Headers: header.Values{
			header.Instance:     r.pi.Handle.String(),
			header.NodeInstance: ni.Handle.String(),
		},
	}
	send, err := r.e.sender.SendTx(r.tx, msg, r.e.completion(ni.Handle))
	if err != nil {
		if !errors2.Is(err, errors.ErrNoTransport) {
			return err
		}
		if ferr := ni.FailCreation(err.Error()); ferr != nil {
			return ferr
		}
		r.e.log.Warn("task could not be dispatched", r.fields(ni, zap.Error(err))...)
		if err := r.save(ni); err != nil {
			return err
		}
		return r.retryLater(ni)
	}
	if err := ni.Provide(); err != nil {
		return err
	}
	ni.Send = send
	r.e.log.Debug("task sent", r.fields(ni, zap.Uint64(keys.SendHandle, uint64(send)), zap.Int(keys.Attempt, ni.Attempts))...)
	return r.save(ni)
}

// retryLater schedules an automatic redispatch of a FailRetry task, or fails
// it once the attempt budget is spent. Without redispatch it does nothing.
func (r *run) retryLater(ni *model.NodeInstance) error {
	rd := r.e.redispatch
	if rd == nil {
		return nil
	}
	if ni.Attempts >= rd.attempts {
		if err := ni.Fail(fmt.Sprintf("gave up after %d dispatch attempts: %s", ni.Attempts, ni.Failure)); err != nil {
			return err
		}
		r.e.log.Warn("task failed permanently", r.fields(ni)...)
		return r.ended(ni)
	}
	h, attempt := ni.Handle, ni.Attempts
	r.tx.OnCommit(func() { rd.schedule(r.e, h, attempt) })
	return nil
}

// cancelSend stops the pending send of ni once the transaction commits.
func (r *run) cancelSend(ni *model.NodeInstance) {
	if !ni.Send.Valid() {
		return
	}
	send := ni.Send
	r.tx.OnCommit(func() { r.e.sender.Cancel(send) })
}

// checkFinished completes the process instance once nothing is active.
func (r *run) checkFinished() {
	if r.pi.State != model.InstanceStarted || len(r.pi.Active) > 0 {
		return
	}
	failed, ended := false, false
	for _, h := range r.order {
		ni := r.nis[h]
		if ni.State == model.Failed {
			failed = true
		}
		if ni.State == model.Complete && r.pm.Node(ni.NodeID).Kind == model.KindEnd {
			ended = true
		}
	}
	if failed && !ended {
		r.pi.State = model.InstanceFailed
	} else {
		r.pi.State = model.Finished
	}
	r.pi.Results = r.results()
	r.piDirty = true
	r.e.log.Info("process instance ended",
		zap.Uint64(keys.ProcessInstance, uint64(r.pi.Handle)),
		zap.String(keys.InstanceName, r.pi.Name),
		zap.Stringer(keys.State, r.pi.State))
}

// results is the union of the activity results no define consumes.
func (r *run) results() []model.ProcessData {
	type ref struct{ node, name string }
	consumed := make(map[ref]struct{})
	for _, n := range r.pm.Nodes {
		for _, d := range n.Defines {
			if d.RefNode == "" {
				continue
			}
			name := d.RefName
			if name == "" {
				name = d.Name
			}
			consumed[ref{d.RefNode, name}] = struct{}{}
		}
	}
	var ret []model.ProcessData
	for _, h := range r.order {
		ni := r.nis[h]
		if ni.State != model.Complete || !r.pm.Node(ni.NodeID).IsTask() {
			continue
		}
		for _, d := range ni.Results {
			if _, ok := consumed[ref{ni.NodeID, d.Name}]; !ok {
				ret = append(ret, d)
			}
		}
	}
	return ret
}

// flush finishes the instance if possible and writes it back. It returns the
// collected errors that must reach the caller.
func (r *run) flush() error {
	r.checkFinished()
	if r.piDirty {
		if _, err := instanceTable.Set(r.tx, r.pi.Handle, r.pi); err != nil {
			return err
		}
		r.piDirty = false
	}
	return r.errs
}

// nodes returns the node instances in creation order.
func (r *run) nodes() []*model.NodeInstance {
	ret := make([]*model.NodeInstance, 0, len(r.order))
	for _, h := range r.order {
		ret = append(ret, r.nis[h].Clone())
	}
	return ret
}
