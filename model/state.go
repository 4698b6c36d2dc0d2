package model

import "fmt"

// NodeState is the lifecycle state of a NodeInstance.
type NodeState int

const (
	// Pending instances are created but not dispatched.
	Pending NodeState = iota
	// FailRetry instances failed to dispatch and may be provided again.
	FailRetry
	// Sent instances are handed to the dispatcher.
	Sent
	// Acknowledged instances were received by the remote party.
	Acknowledged
	// Taken instances are claimed by exactly one handler.
	Taken
	// Started instances are being processed remotely.
	Started
	// Complete is terminal success.
	Complete
	// Failed is terminal failure.
	Failed
	// Cancelled is terminal abort.
	Cancelled
	// Awaiting is the state of a join that has not yet fired.
	Awaiting
)

var nodeStateNames = [...]string{
	"Pending", "FailRetry", "Sent", "Acknowledged", "Taken",
	"Started", "Complete", "Failed", "Cancelled", "Awaiting",
}

func (s NodeState) String() string {
	if s < 0 || int(s) >= len(nodeStateNames) {
		return fmt.Sprintf("NodeState(%d)", int(s))
	}
	return nodeStateNames[s]
}

// ParseNodeState is the inverse of NodeState.String.
func ParseNodeState(s string) (NodeState, error) {
	for i, n := range nodeStateNames {
		if n == s {
			return NodeState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node state %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s NodeState) IsTerminal() bool {
	return s == Complete || s == Failed || s == Cancelled
}

// IsActive reports whether an instance in this state is still owned by the
// runtime, that is not terminal.
func (s NodeState) IsActive() bool {
	return !s.IsTerminal()
}

// InstanceState is the overall state of a ProcessInstance.
type InstanceState int

const (
	Initialized InstanceState = iota
	InstanceStarted
	Finished
	InstanceCancelled
	InstanceFailed
)

var instanceStateNames = [...]string{"Initialized", "Started", "Finished", "Cancelled", "Failed"}

func (s InstanceState) String() string {
	if s < 0 || int(s) >= len(instanceStateNames) {
		return fmt.Sprintf("InstanceState(%d)", int(s))
	}
	return instanceStateNames[s]
}

// ParseInstanceState is the inverse of InstanceState.String.
func ParseInstanceState(s string) (InstanceState, error) {
	for i, n := range instanceStateNames {
		if n == s {
			return InstanceState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown instance state %q", s)
}

// IsFinal reports whether the instance can no longer change.
func (s InstanceState) IsFinal() bool {
	return s == Finished || s == InstanceCancelled || s == InstanceFailed
}
