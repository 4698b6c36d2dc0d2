package parser

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/google/uuid"
	"github.com/pdvrieze/ProcessManager-sub007/model"
)

var (
	ErrNotProcessModel  = errors.New("document is not a process model")
	ErrMissingAttribute = errors.New("missing attribute")
	ErrBadNumber        = errors.New("attribute is not a number")
	ErrUnknownElement   = errors.New("unknown element")
)

// ParserError locates a parse failure.
type ParserError struct {
	Err     error
	Context string
}

func (e ParserError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Context)
}

func (e ParserError) Unwrap() error { return e.Err }

// Parse reads a processModel document and returns the validated model.
//
//	<pe:processModel xmlns:pe="http://adaptivity.nl/ProcessEngine/" name="..." owner="...">
//	  <pe:start id="start"/>
//	  <pe:activity id="ac1" predecessor="start">
//	    <pe:message url="..." method="POST" type="application/xml">...</pe:message>
//	  </pe:activity>
//	  <pe:end id="end" predecessor="ac1"/>
//	</pe:processModel>
func Parse(rdr io.Reader) (*model.ProcessModel, error) {
	doc, err := xmlquery.Parse(rdr)
	if err != nil {
		return nil, fmt.Errorf("read process model: %w", err)
	}
	root := documentElement(doc)
	if root == nil || root.NamespaceURI != model.Namespace || root.Data != "processModel" {
		return nil, &ParserError{Err: ErrNotProcessModel, Context: describe(root)}
	}

	nodes := make([]*model.Node, 0)
	for _, el := range childElements(root) {
		if el.NamespaceURI != model.Namespace {
			continue
		}
		n, err := parseNode(el)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	pm, err := model.NewProcessModel(root.SelectAttr("name"), root.SelectAttr("owner"), nodes...)
	if err != nil {
		return nil, err
	}
	if u := root.SelectAttr("uuid"); u != "" {
		id, err := uuid.Parse(u)
		if err != nil {
			return nil, &ParserError{Err: err, Context: "processModel@uuid"}
		}
		pm.UUID = id
	}
	return pm, nil
}

func parseNode(el *xmlquery.Node) (*model.Node, error) {
	id := el.SelectAttr("id")
	if id == "" {
		return nil, &ParserError{Err: ErrMissingAttribute, Context: el.Data + "@id"}
	}
	kind, err := model.ParseNodeKind(el.Data)
	if err != nil {
		return nil, &ParserError{Err: ErrUnknownElement, Context: el.Data}
	}
	n := &model.Node{ID: id, Kind: kind, Label: el.SelectAttr("name")}
	if p := el.SelectAttr("predecessor"); p != "" {
		n.Predecessors = append(n.Predecessors, p)
	}
	if kind == model.KindSplit || kind == model.KindJoin {
		if n.Min, err = intAttr(el, "min"); err != nil {
			return nil, err
		}
		if n.Max, err = intAttr(el, "max"); err != nil {
			return nil, err
		}
	}
	for _, c := range childElements(el) {
		if c.NamespaceURI != model.Namespace {
			continue
		}
		switch c.Data {
		case "predecessor":
			n.Predecessors = append(n.Predecessors, strings.TrimSpace(c.InnerText()))
		case "define":
			n.Defines = append(n.Defines, model.DefineBinding{
				Name:    c.SelectAttr("name"),
				RefNode: c.SelectAttr("refnode"),
				RefName: c.SelectAttr("refname"),
				Path:    c.SelectAttr("xpath"),
				Literal: strings.TrimSpace(c.InnerText()),
			})
		case "result":
			n.Results = append(n.Results, model.ResultBinding{
				Name: c.SelectAttr("name"),
				Path: c.SelectAttr("xpath"),
			})
		case "condition":
			n.Condition = strings.TrimSpace(c.InnerText())
		case "message":
			n.Message = parseMessage(c)
		default:
			return nil, &ParserError{Err: ErrUnknownElement, Context: id + "/" + c.Data}
		}
	}
	return n, nil
}

func parseMessage(el *xmlquery.Node) *model.MessageTemplate {
	m := &model.MessageTemplate{
		Destination: el.SelectAttr("url"),
		Method:      el.SelectAttr("method"),
		ContentType: el.SelectAttr("type"),
		Namespaces:  namespacesInScope(el),
	}
	var sb strings.Builder
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(c.OutputXML(true))
	}
	m.Body = strings.TrimSpace(sb.String())
	return m
}

// namespacesInScope collects the prefix declarations visible at el, inner
// declarations shadowing outer ones.
func namespacesInScope(el *xmlquery.Node) map[string]string {
	ns := make(map[string]string)
	for n := el; n != nil; n = n.Parent {
		for _, a := range n.Attr {
			var prefix string
			switch {
			case a.Name.Space == "xmlns":
				prefix = a.Name.Local
			case a.Name.Space == "" && a.Name.Local == "xmlns":
				prefix = ""
			default:
				continue
			}
			if _, shadowed := ns[prefix]; !shadowed {
				ns[prefix] = a.Value
			}
		}
	}
	return ns
}

func intAttr(el *xmlquery.Node, name string) (int, error) {
	s := el.SelectAttr(name)
	if s == "" {
		return 0, &ParserError{Err: ErrMissingAttribute, Context: el.SelectAttr("id") + "@" + name}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ParserError{Err: ErrBadNumber, Context: el.SelectAttr("id") + "@" + name}
	}
	return v, nil
}

func documentElement(doc *xmlquery.Node) *xmlquery.Node {
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

func childElements(n *xmlquery.Node) []*xmlquery.Node {
	var ret []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			ret = append(ret, c)
		}
	}
	return ret
}

func describe(n *xmlquery.Node) string {
	if n == nil {
		return "empty document"
	}
	return "{" + n.NamespaceURI + "}" + n.Data
}
