package model

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// ProcessData is an immutable named value. Value holds an XML fragment; a
// scalar is stored as escaped character data.
type ProcessData struct {
	Name  string
	Value string
}

// Scalar creates a ProcessData holding plain text.
func Scalar(name, text string) ProcessData {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(text))
	return ProcessData{Name: name, Value: sb.String()}
}

// Fragment creates a ProcessData holding an XML fragment verbatim.
func Fragment(name, fragment string) ProcessData {
	return ProcessData{Name: name, Value: fragment}
}

// FindData returns the first entry named name.
func FindData(data []ProcessData, name string) (ProcessData, bool) {
	for _, d := range data {
		if d.Name == name {
			return d, true
		}
	}
	return ProcessData{}, false
}

// ProcessInstance is one execution of a process model.
type ProcessInstance struct {
	Handle   Handle
	Model    Handle
	Name     string
	UUID     uuid.UUID
	Owner    string
	Created  time.Time
	State    InstanceState
	Active   []Handle
	Finished []Handle
	Results  []ProcessData
	// Input is the payload the instance was started with.
	Input string
}

// Activate records h as an active node instance.
func (pi *ProcessInstance) Activate(h Handle) {
	for _, a := range pi.Active {
		if a == h {
			return
		}
	}
	pi.Active = append(pi.Active, h)
}

// Retire moves h from the active to the finished set.
func (pi *ProcessInstance) Retire(h Handle) {
	for i, a := range pi.Active {
		if a == h {
			pi.Active = append(pi.Active[:i:i], pi.Active[i+1:]...)
			pi.Finished = append(pi.Finished, h)
			return
		}
	}
}

// NodeInstance is one activation of a node within a process instance. It is
// only mutated inside a transaction, through the transition methods below.
type NodeInstance struct {
	Handle       Handle
	Instance     Handle
	NodeID       string
	Predecessors []Handle
	State        NodeState
	Results      []ProcessData
	Body         string
	Failure      string
	// Send is the handle of the most recent pending send.
	Send     Handle
	Attempts int
}

func (ni *NodeInstance) illegal(transition string) error {
	return &errors.StateError{Handle: uint64(ni.Handle), Transition: transition, From: ni.State.String()}
}

// Provide hands the instance to the dispatcher. A FailRetry instance is
// provided again without being recreated.
func (ni *NodeInstance) Provide() error {
	switch ni.State {
	case Pending, FailRetry:
		ni.State = Sent
		ni.Attempts++
		ni.Failure = ""
		return nil
	}
	return ni.illegal("provideTask")
}

// DispatchFailed records a retryable delivery failure.
func (ni *NodeInstance) DispatchFailed(cause string) error {
	if ni.State != Sent {
		return ni.illegal("dispatchFailed")
	}
	ni.State = FailRetry
	ni.Failure = cause
	return nil
}

// Acknowledge records that the remote party received the task.
func (ni *NodeInstance) Acknowledge() error {
	if ni.State != Sent {
		return ni.illegal("acknowledgeTask")
	}
	ni.State = Acknowledged
	return nil
}

// Take claims the task. Only the first caller wins; a second take fails with
// errors.ErrPermissionDenied.
func (ni *NodeInstance) Take() error {
	switch ni.State {
	case Sent, Acknowledged:
		ni.State = Taken
		return nil
	case Taken:
		return fmt.Errorf("node instance %d: %w", ni.Handle, errors.ErrPermissionDenied)
	}
	return ni.illegal("takeTask")
}

func (ni *NodeInstance) Start() error {
	if ni.State != Taken {
		return ni.illegal("startTask")
	}
	ni.State = Started
	return nil
}

// Finish completes the task with the extracted results.
func (ni *NodeInstance) Finish(results []ProcessData) error {
	if ni.State != Started {
		return ni.illegal("finishTask")
	}
	ni.State = Complete
	ni.Results = results
	return nil
}

// Fail terminates the task with a cause.
func (ni *NodeInstance) Fail(cause string) error {
	if ni.State.IsTerminal() {
		return ni.illegal("failTask")
	}
	ni.State = Failed
	ni.Failure = cause
	return nil
}

// FailCreation records that a dispatch could not be constructed. It counts
// as an attempt.
func (ni *NodeInstance) FailCreation(cause string) error {
	switch ni.State {
	case Pending, FailRetry:
		ni.State = FailRetry
		ni.Attempts++
		ni.Failure = cause
		return nil
	}
	return ni.illegal("failTaskCreation")
}

// Cancel aborts the task. Tasks already started remotely cannot be cancelled.
func (ni *NodeInstance) Cancel() error {
	switch {
	case ni.State == Started:
		return fmt.Errorf("node instance %d: %w", ni.Handle, errors.ErrTaskStarted)
	case ni.State.IsTerminal():
		return ni.illegal("cancelTask")
	}
	ni.State = Cancelled
	return nil
}

// Fire releases a join once its threshold is reached.
func (ni *NodeInstance) Fire() error {
	if ni.State != Awaiting {
		return ni.illegal("fire")
	}
	ni.State = Pending
	return nil
}

// AddPredecessor records an arrival. Duplicates are ignored and arrival order
// is kept.
func (ni *NodeInstance) AddPredecessor(h Handle) bool {
	for _, p := range ni.Predecessors {
		if p == h {
			return false
		}
	}
	ni.Predecessors = append(ni.Predecessors, h)
	return true
}

// Clone returns a deep copy.
func (ni *NodeInstance) Clone() *NodeInstance {
	c := *ni
	c.Predecessors = append([]Handle(nil), ni.Predecessors...)
	c.Results = append([]ProcessData(nil), ni.Results...)
	return &c
}

// SetHandle is called by the store when the instance is first persisted.
func (pi *ProcessInstance) SetHandle(h Handle) { pi.Handle = h }

// SetHandle is called by the store when the node instance is first persisted.
func (ni *NodeInstance) SetHandle(h Handle) { ni.Handle = h }
