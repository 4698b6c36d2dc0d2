package model

import "fmt"

// Namespace is the XML namespace of process models and node instance documents.
const Namespace = "http://adaptivity.nl/ProcessEngine/"

// NodeKind selects the variant of a Node.
type NodeKind int

const (
	KindStart NodeKind = iota
	KindActivity
	KindSplit
	KindJoin
	KindEnd
)

var kindNames = [...]string{"start", "activity", "split", "join", "end"}

func (k NodeKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseNodeKind is the inverse of NodeKind.String.
func ParseNodeKind(s string) (NodeKind, error) {
	for i, n := range kindNames {
		if n == s {
			return NodeKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// DefineBinding is a named input of a node. The value is taken from the
// result RefName of the ancestor RefNode, optionally narrowed by the XPath
// Path. With no RefNode the Literal value is used.
type DefineBinding struct {
	Name    string
	RefNode string
	RefName string
	Path    string
	Literal string
}

// ResultBinding names a piece of a task's completion payload. An empty Path
// binds the whole payload.
type ResultBinding struct {
	Name string
	Path string
}

// MessageTemplate is the outbound message of an activity. Body is an XML
// fragment that may contain placeholders, Namespaces holds the prefix
// declarations that were in scope where the body was written.
type MessageTemplate struct {
	Destination string
	Method      string
	ContentType string
	Body        string
	Namespaces  map[string]string
}

// Node is one vertex of a process model. Kind selects which of the variant
// specific fields are meaningful: Min and Max for splits and joins, Condition
// and Message for activities.
type Node struct {
	ID           string
	Label        string
	Kind         NodeKind
	Predecessors []string
	Successors   []string
	Defines      []DefineBinding
	Results      []ResultBinding

	Min int
	Max int

	Condition string
	Message   *MessageTemplate
}

// StartNode creates the entry point of a process.
func StartNode(id string) *Node {
	return &Node{ID: id, Kind: KindStart}
}

// ActivityNode creates an activity following predecessor.
func ActivityNode(id, predecessor string) *Node {
	return &Node{ID: id, Kind: KindActivity, Predecessors: []string{predecessor}}
}

// SplitNode creates a split that fans out to between min and max successors.
func SplitNode(id, predecessor string, min, max int) *Node {
	return &Node{ID: id, Kind: KindSplit, Predecessors: []string{predecessor}, Min: min, Max: max}
}

// JoinNode creates a join that fires once min of its predecessors completed.
func JoinNode(id string, min, max int, predecessors ...string) *Node {
	return &Node{ID: id, Kind: KindJoin, Predecessors: predecessors, Min: min, Max: max}
}

// EndNode creates a terminal node.
func EndNode(id, predecessor string) *Node {
	return &Node{ID: id, Kind: KindEnd, Predecessors: []string{predecessor}}
}

func (n *Node) WithLabel(label string) *Node {
	n.Label = label
	return n
}

func (n *Node) WithCondition(expr string) *Node {
	n.Condition = expr
	return n
}

func (n *Node) WithMessage(m MessageTemplate) *Node {
	n.Message = &m
	return n
}

func (n *Node) WithResult(name, path string) *Node {
	n.Results = append(n.Results, ResultBinding{Name: name, Path: path})
	return n
}

func (n *Node) WithDefine(d DefineBinding) *Node {
	n.Defines = append(n.Defines, d)
	return n
}

// IsTask reports whether instances of the node are handed to a remote party.
func (n *Node) IsTask() bool {
	return n.Kind == KindActivity
}

func (n *Node) clone() *Node {
	c := *n
	c.Predecessors = append([]string(nil), n.Predecessors...)
	c.Successors = append([]string(nil), n.Successors...)
	c.Defines = append([]DefineBinding(nil), n.Defines...)
	c.Results = append([]ResultBinding(nil), n.Results...)
	if n.Message != nil {
		m := *n.Message
		if n.Message.Namespaces != nil {
			m.Namespaces = make(map[string]string, len(n.Message.Namespaces))
			for k, v := range n.Message.Namespaces {
				m.Namespaces[k] = v
			}
		}
		c.Message = &m
	}
	return &c
}
