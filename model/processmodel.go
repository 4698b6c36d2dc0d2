package model

import (
	"github.com/google/uuid"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// ProcessModel is an immutable graph of nodes. Once validated it is shared by
// every instance started from it.
type ProcessModel struct {
	Handle Handle
	UUID   uuid.UUID
	Name   string
	Owner  string
	Nodes  []*Node
}

// NewProcessModel builds a model from nodes whose edges are declared through
// their predecessors. Successor lists are derived here, then the whole graph
// is validated. No partially valid model is ever returned.
func NewProcessModel(name, owner string, nodes ...*Node) (*ProcessModel, error) {
	pm := &ProcessModel{
		UUID:  uuid.New(),
		Name:  name,
		Owner: owner,
		Nodes: make([]*Node, 0, len(nodes)),
	}
	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		if n == nil {
			return nil, &errors.ValidationError{Reason: "nil node"}
		}
		c := n.clone()
		c.Successors = nil
		pm.Nodes = append(pm.Nodes, c)
		if _, dup := byID[c.ID]; !dup {
			byID[c.ID] = c
		}
	}
	for _, n := range pm.Nodes {
		for _, p := range n.Predecessors {
			if pred, ok := byID[p]; ok && !contains(pred.Successors, n.ID) {
				pred.Successors = append(pred.Successors, n.ID)
			}
		}
	}
	if err := Validate(pm); err != nil {
		return nil, err
	}
	return pm, nil
}

// Node returns the node with the given id, or nil.
func (pm *ProcessModel) Node(id string) *Node {
	for _, n := range pm.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// StartNodes returns the start node of every connected subgraph, in model order.
func (pm *ProcessModel) StartNodes() []*Node {
	var ret []*Node
	for _, n := range pm.Nodes {
		if n.Kind == KindStart {
			ret = append(ret, n)
		}
	}
	return ret
}

// IsAncestor reports whether ancestor can reach id by following successor edges.
func (pm *ProcessModel) IsAncestor(ancestor, id string) bool {
	seen := make(map[string]struct{})
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n := pm.Node(cur)
		if n == nil {
			continue
		}
		for _, p := range n.Predecessors {
			if p == ancestor {
				return true
			}
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				queue = append(queue, p)
			}
		}
	}
	return false
}

// SetHandle is called by the store when the model is first persisted.
func (pm *ProcessModel) SetHandle(h Handle) { pm.Handle = h }

// Clone returns a deep copy of the model.
func (pm *ProcessModel) Clone() *ProcessModel {
	c := *pm
	c.Nodes = make([]*Node, len(pm.Nodes))
	for i, n := range pm.Nodes {
		c.Nodes[i] = n.clone()
	}
	return &c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
