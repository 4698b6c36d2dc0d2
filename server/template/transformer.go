package template

import (
	errors2 "errors"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// Namespace marks placeholder elements in message templates.
const Namespace = "http://adaptivity.nl/ProcessEngine/activity"

// ErrUnknownName is returned by a Context that has no value for a name.
var ErrUnknownName = errors2.New("unknown value name")

// Context resolves the names used by placeholders.
type Context interface {
	// ResolveElementValue returns the nodes spliced in for an element placeholder.
	ResolveElementValue(name string) (*Fragment, error)
	// ResolveAttributeValue returns the value of an attribute placeholder.
	ResolveAttributeValue(name string) (string, error)
	// ResolveAttributeName returns the attribute name used when the
	// placeholder does not give one.
	ResolveAttributeName(name string) (string, error)
}

// Transformer substitutes placeholders in XML message templates.
//
// Placeholders live in Namespace:
//
//	<umh:attribute value="data" name="attr"/>   adds attr="..." to the enclosing element
//	<umh:element value="data" xpath="path"/>   splices in the nodes of data
//	<umh:value value="data"/>                  same as element
//
// Any failure is returned as *errors.TemplateError.
type Transformer struct {
	ctx Context
}

// NewTransformer returns a transformer resolving names through ctx.
func NewTransformer(ctx Context) *Transformer {
	return &Transformer{ctx: ctx}
}

// Transform resolves every placeholder in body. ns holds the prefix
// declarations in scope where the body was written.
func (t *Transformer) Transform(body string, ns map[string]string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", nil
	}
	f, err := ParseFragment(body, ns)
	if err != nil {
		return "", &errors.TemplateError{Err: err}
	}
	var sb strings.Builder
	w := &writer{sb: &sb, ns: f.ns}
	for c := f.root.FirstChild; c != nil; c = c.NextSibling {
		if err := t.node(w, c, true); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func (t *Transformer) node(w *writer, n *xmlquery.Node, top bool) error {
	if n.Type != xmlquery.ElementNode {
		w.node(n, top)
		return nil
	}
	if n.NamespaceURI == Namespace {
		switch n.Data {
		case "element", "value":
			return t.splice(w, n)
		case "attribute":
			return &errors.TemplateError{Name: n.SelectAttr("value"), Err: fmt.Errorf("attribute placeholder outside an element")}
		default:
			return &errors.TemplateError{Err: fmt.Errorf("unknown placeholder %q", n.Data)}
		}
	}

	attrs := attributes(n)
	var children []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.NamespaceURI == Namespace && c.Data == "attribute" {
			a, err := t.attribute(c)
			if err != nil {
				return err
			}
			attrs = append(attrs, a)
			continue
		}
		children = append(children, c)
	}
	var err error
	w.element(n, attrs, top, func() {
		for _, c := range children {
			if err = t.node(w, c, false); err != nil {
				return
			}
		}
	})
	return err
}

func (t *Transformer) attribute(n *xmlquery.Node) (attribute, error) {
	name := n.SelectAttr("value")
	if name == "" {
		return attribute{}, &errors.TemplateError{Err: fmt.Errorf("attribute placeholder without value")}
	}
	value, err := t.ctx.ResolveAttributeValue(name)
	if err != nil {
		return attribute{}, &errors.TemplateError{Name: name, Err: err}
	}
	local := n.SelectAttr("name")
	if local == "" {
		if local, err = t.ctx.ResolveAttributeName(name); err != nil {
			return attribute{}, &errors.TemplateError{Name: name, Err: err}
		}
	}
	return attribute{local: local, value: value}, nil
}

func (t *Transformer) splice(w *writer, n *xmlquery.Node) error {
	name := n.SelectAttr("value")
	if name == "" {
		return &errors.TemplateError{Err: fmt.Errorf("%s placeholder without value", n.Data)}
	}
	f, err := t.ctx.ResolveElementValue(name)
	if err != nil {
		return &errors.TemplateError{Name: name, Err: err}
	}
	if path := n.SelectAttr("xpath"); path != "" {
		if f, err = f.Select(path); err != nil {
			return &errors.TemplateError{Name: name, Err: err}
		}
	}
	sw := &writer{sb: w.sb, ns: f.ns}
	for _, c := range f.Nodes() {
		sw.node(c, true)
	}
	return nil
}
