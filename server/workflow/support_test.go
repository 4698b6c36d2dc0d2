package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/dispatch"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/storage"
	"github.com/pdvrieze/ProcessManager-sub007/server/template"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const owner = "paul"

var peNS = map[string]string{"pe": template.Namespace}

// sent is a message the engine handed over in a committed transaction.
type sent struct {
	handle model.Handle
	msg    *dispatch.Message
	cb     dispatch.CompletionFunc
}

// fakeSender collects sends once their transaction commits. Tests resolve
// them by hand through deliver and fail.
type fakeSender struct {
	mx        sync.Mutex
	next      model.Handle
	sends     []sent
	cancelled []model.Handle
}

func (f *fakeSender) SendTx(tx *storage.Tx, msg *dispatch.Message, cb dispatch.CompletionFunc) (model.Handle, error) {
	f.mx.Lock()
	f.next++
	h := f.next + 1000
	f.mx.Unlock()
	tx.OnCommit(func() {
		f.mx.Lock()
		defer f.mx.Unlock()
		f.sends = append(f.sends, sent{handle: h, msg: msg, cb: cb})
	})
	return h, nil
}

func (f *fakeSender) Cancel(h model.Handle) bool {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.cancelled = append(f.cancelled, h)
	return true
}

func (f *fakeSender) all() []sent {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]sent(nil), f.sends...)
}

func (f *fakeSender) deliver(s sent) {
	s.cb(s.handle, dispatch.Outcome{Response: dispatch.Response{StatusCode: 200}})
}

func (f *fakeSender) fail(s sent, err error) {
	s.cb(s.handle, dispatch.Outcome{Err: err})
}

// mockSender is a testify mock of Sender.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendTx(tx *storage.Tx, msg *dispatch.Message, cb dispatch.CompletionFunc) (model.Handle, error) {
	args := m.Called(tx, msg, cb)
	return args.Get(0).(model.Handle), args.Error(1)
}

func (m *mockSender) Cancel(h model.Handle) bool {
	return m.Called(h).Bool(0)
}

func newStore(t *testing.T) *storage.Store {
	s := storage.New(zaptest.NewLogger(t), storage.NewMemory())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEngine(t *testing.T, sender Sender, opts ...Option) *Engine {
	e := NewEngine(zaptest.NewLogger(t), newStore(t), sender, opts...)
	t.Cleanup(e.Close)
	return e
}

func greeting(dest string) model.MessageTemplate {
	return model.MessageTemplate{
		Destination: dest,
		ContentType: "text/xml",
		Body:        `<greet><pe:attribute name="node" value="nodeid"/><pe:value value="owner"/></greet>`,
		Namespaces:  peNS,
	}
}

// linearModel is start -> ac1 -> end.
func linearModel(t *testing.T, dest string) *model.ProcessModel {
	pm, err := model.NewProcessModel("linear", owner,
		model.StartNode("start"),
		model.ActivityNode("ac1", "start").WithMessage(greeting(dest)).WithResult("user", ""),
		model.EndNode("end", "ac1"),
	)
	require.NoError(t, err)
	return pm
}

// splitJoinModel is start -> a -> split(2,2) -> {b, c} -> join(2,2) -> end.
func splitJoinModel(t *testing.T, dest string) *model.ProcessModel {
	pm, err := model.NewProcessModel("splitjoin", owner,
		model.StartNode("start"),
		model.ActivityNode("a", "start").WithMessage(greeting(dest)),
		model.SplitNode("split", "a", 2, 2),
		model.ActivityNode("b", "split").WithMessage(greeting(dest)).WithResult("b", ""),
		model.ActivityNode("c", "split").WithMessage(greeting(dest)).WithResult("c", ""),
		model.JoinNode("join", 2, 2, "b", "c"),
		model.EndNode("end", "join"),
	)
	require.NoError(t, err)
	return pm
}

func addModel(t *testing.T, e *Engine, pm *model.ProcessModel) model.Handle {
	h, err := e.AddProcessModel(context.Background(), pm, owner)
	require.NoError(t, err)
	return h
}

func start(t *testing.T, e *Engine, pm *model.ProcessModel) model.Handle {
	h, err := e.StartProcess(context.Background(), owner, addModel(t, e, pm), "test", uuid.Nil, "")
	require.NoError(t, err)
	return h
}

// byNode returns the latest node instance of nodeID in pi.
func byNode(t *testing.T, e *Engine, pi model.Handle, nodeID string) *model.NodeInstance {
	nis, err := e.NodeInstances(context.Background(), pi, owner)
	require.NoError(t, err)
	var ret *model.NodeInstance
	for _, ni := range nis {
		if ni.NodeID == nodeID {
			ret = ni
		}
	}
	require.NotNil(t, ret, "no node instance for %s", nodeID)
	return ret
}

func instanceState(t *testing.T, e *Engine, pi model.Handle) model.InstanceState {
	got, err := e.GetProcessInstance(context.Background(), pi, owner)
	require.NoError(t, err)
	return got.State
}
