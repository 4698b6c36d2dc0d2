package model

import (
	"fmt"

	"github.com/pdvrieze/ProcessManager-sub007/common/expression"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"go.uber.org/multierr"
)

// Validate checks the structural invariants of a process model. Every defect
// found is reported; the returned error combines one *errors.ValidationError
// per defect and unwraps to errors.ErrInvalidModel.
func Validate(pm *ProcessModel) error {
	v := &validator{pm: pm, byID: make(map[string]*Node, len(pm.Nodes))}
	v.identities()
	v.references()
	for _, n := range pm.Nodes {
		v.variant(n)
	}
	if v.err != nil {
		// graph level checks assume a well formed edge set
		return v.err
	}
	if !v.acyclic() {
		return v.err
	}
	v.components()
	v.reachability()
	for _, n := range pm.Nodes {
		v.bindings(n)
	}
	return v.err
}

type validator struct {
	pm   *ProcessModel
	byID map[string]*Node
	err  error
}

func (v *validator) fail(id string, format string, args ...any) {
	v.err = multierr.Append(v.err, &errors.ValidationError{NodeID: id, Reason: fmt.Sprintf(format, args...)})
}

func (v *validator) identities() {
	if len(v.pm.Nodes) == 0 {
		v.fail("", "model has no nodes")
	}
	for _, n := range v.pm.Nodes {
		if n == nil {
			v.fail("", "nil node")
			continue
		}
		if n.ID == "" {
			v.fail("", "node without id (label %q)", n.Label)
			continue
		}
		if _, dup := v.byID[n.ID]; dup {
			v.fail(n.ID, "duplicate node id")
			continue
		}
		v.byID[n.ID] = n
	}
}

func (v *validator) references() {
	for _, n := range v.pm.Nodes {
		if n == nil {
			continue
		}
		for _, p := range n.Predecessors {
			pred, ok := v.byID[p]
			if !ok {
				v.fail(n.ID, "predecessor %q does not exist", p)
				continue
			}
			if !contains(pred.Successors, n.ID) {
				v.fail(n.ID, "predecessor %q does not list it as successor", p)
			}
		}
		for _, s := range n.Successors {
			succ, ok := v.byID[s]
			if !ok {
				v.fail(n.ID, "successor %q does not exist", s)
				continue
			}
			if !contains(succ.Predecessors, n.ID) {
				v.fail(n.ID, "successor %q does not list it as predecessor", s)
			}
		}
		if dup := duplicate(n.Predecessors); dup != "" {
			v.fail(n.ID, "predecessor %q listed twice", dup)
		}
	}
}

func (v *validator) variant(n *Node) {
	if n == nil || n.ID == "" {
		return
	}
	switch n.Kind {
	case KindStart:
		if len(n.Predecessors) != 0 {
			v.fail(n.ID, "start node has predecessors")
		}
		if len(n.Successors) == 0 {
			v.fail(n.ID, "start node has no successors")
		}
	case KindEnd:
		if len(n.Successors) != 0 {
			v.fail(n.ID, "end node has successors")
		}
		v.singlePredecessor(n)
	case KindActivity:
		v.singlePredecessor(n)
		if len(n.Successors) == 0 {
			v.fail(n.ID, "activity has no successors")
		}
		if err := expression.Validate(n.Condition); err != nil {
			v.fail(n.ID, "condition does not compile: %s", err)
		}
		if n.Message != nil && n.Message.Destination == "" {
			v.fail(n.ID, "message without destination")
		}
	case KindSplit:
		v.singlePredecessor(n)
		v.thresholds(n)
		if len(n.Successors) < n.Min {
			v.fail(n.ID, "split has %d successors, fewer than min %d", len(n.Successors), n.Min)
		}
		if len(n.Successors) > n.Max {
			v.fail(n.ID, "split has %d successors, more than max %d", len(n.Successors), n.Max)
		}
	case KindJoin:
		v.thresholds(n)
		if len(n.Predecessors) < n.Min {
			v.fail(n.ID, "join has %d predecessors, fewer than min %d", len(n.Predecessors), n.Min)
		}
		if len(n.Predecessors) > n.Max {
			v.fail(n.ID, "join has %d predecessors, more than max %d", len(n.Predecessors), n.Max)
		}
		if len(n.Successors) == 0 {
			v.fail(n.ID, "join has no successors")
		}
	default:
		v.fail(n.ID, "unknown node kind %d", n.Kind)
	}
	if n.Kind != KindActivity && (n.Condition != "" || n.Message != nil) {
		v.fail(n.ID, "only activities carry conditions or messages")
	}
}

func (v *validator) singlePredecessor(n *Node) {
	switch len(n.Predecessors) {
	case 0:
		v.fail(n.ID, "%s node has no predecessor", n.Kind)
	case 1:
	default:
		v.fail(n.ID, "%s node has %d predecessors, only joins may have more than one", n.Kind, len(n.Predecessors))
	}
}

func (v *validator) thresholds(n *Node) {
	if n.Min < 1 {
		v.fail(n.ID, "min must be at least 1, got %d", n.Min)
	}
	if n.Max < n.Min {
		v.fail(n.ID, "max %d is less than min %d", n.Max, n.Min)
	}
}

// acyclic runs Kahn's algorithm over the successor edges.
func (v *validator) acyclic() bool {
	in := make(map[string]int, len(v.pm.Nodes))
	for _, n := range v.pm.Nodes {
		in[n.ID] = len(n.Predecessors)
	}
	var queue []string
	for _, n := range v.pm.Nodes {
		if in[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, s := range v.byID[id].Successors {
			in[s]--
			if in[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if visited == len(v.pm.Nodes) {
		return true
	}
	for _, n := range v.pm.Nodes {
		if in[n.ID] > 0 {
			v.fail(n.ID, "node is part of a cycle")
		}
	}
	return false
}

// components checks that each weakly connected subgraph has exactly one start.
func (v *validator) components() {
	parent := make(map[string]string, len(v.pm.Nodes))
	var find func(string) string
	find = func(id string) string {
		if p := parent[id]; p != id {
			parent[id] = find(p)
		}
		return parent[id]
	}
	for _, n := range v.pm.Nodes {
		parent[n.ID] = n.ID
	}
	for _, n := range v.pm.Nodes {
		for _, s := range n.Successors {
			parent[find(s)] = find(n.ID)
		}
	}
	starts := make(map[string][]string)
	var order []string
	for _, n := range v.pm.Nodes {
		root := find(n.ID)
		if _, ok := starts[root]; !ok {
			starts[root] = nil
			order = append(order, root)
		}
		if n.Kind == KindStart {
			starts[root] = append(starts[root], n.ID)
		}
	}
	for _, root := range order {
		switch len(starts[root]) {
		case 1:
		case 0:
			v.fail(root, "connected subgraph has no start node")
		default:
			v.fail(root, "connected subgraph has %d start nodes %v", len(starts[root]), starts[root])
		}
	}
}

func (v *validator) reachability() {
	seen := make(map[string]struct{}, len(v.pm.Nodes))
	var queue []string
	for _, n := range v.pm.Nodes {
		if n.Kind == KindStart {
			seen[n.ID] = struct{}{}
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, s := range v.byID[id].Successors {
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				queue = append(queue, s)
			}
		}
	}
	for _, n := range v.pm.Nodes {
		if _, ok := seen[n.ID]; !ok {
			v.fail(n.ID, "node is not reachable from a start node")
		}
	}
}

func (v *validator) bindings(n *Node) {
	names := make(map[string]struct{}, len(n.Defines))
	for _, d := range n.Defines {
		if d.Name == "" {
			v.fail(n.ID, "define without name")
			continue
		}
		if _, dup := names[d.Name]; dup {
			v.fail(n.ID, "define %q declared twice", d.Name)
		}
		names[d.Name] = struct{}{}
		if d.RefNode == "" {
			continue
		}
		if _, ok := v.byID[d.RefNode]; !ok {
			v.fail(n.ID, "define %q refers to unknown node %q", d.Name, d.RefNode)
			continue
		}
		if !v.pm.IsAncestor(d.RefNode, n.ID) {
			v.fail(n.ID, "define %q refers to %q which is not an ancestor", d.Name, d.RefNode)
		}
	}
	results := make(map[string]struct{}, len(n.Results))
	for _, r := range n.Results {
		if r.Name == "" {
			v.fail(n.ID, "result without name")
			continue
		}
		if _, dup := results[r.Name]; dup {
			v.fail(n.ID, "result %q declared twice", r.Name)
		}
		results[r.Name] = struct{}{}
	}
}

func duplicate(list []string) string {
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		if _, ok := seen[s]; ok {
			return s
		}
		seen[s] = struct{}{}
	}
	return ""
}
