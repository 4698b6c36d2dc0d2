package template

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Fragment is a parsed XML fragment: zero or more elements and text nodes
// without a common root. Namespace prefixes declared outside the fragment are
// kept so it can be written out on its own.
type Fragment struct {
	root *xmlquery.Node
	ns   map[string]string
}

// ParseFragment parses s with the prefix declarations ns in scope.
func ParseFragment(s string, ns map[string]string) (*Fragment, error) {
	var sb strings.Builder
	sb.WriteString("<fragment")
	for _, p := range sortedPrefixes(ns) {
		if p == "" {
			sb.WriteString(` xmlns="`)
		} else {
			sb.WriteString(" xmlns:" + p + `="`)
		}
		_ = xml.EscapeText(&sb, []byte(ns[p]))
		sb.WriteString(`"`)
	}
	sb.WriteString(">")
	sb.WriteString(s)
	sb.WriteString("</fragment>")

	doc, err := xmlquery.Parse(strings.NewReader(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	root := doc.FirstChild
	for root != nil && root.Type != xmlquery.ElementNode {
		root = root.NextSibling
	}
	if root == nil {
		return nil, fmt.Errorf("parse fragment: no content")
	}
	cp := make(map[string]string, len(ns))
	for k, v := range ns {
		cp[k] = v
	}
	return &Fragment{root: root, ns: cp}, nil
}

// Nodes returns the top level nodes of the fragment.
func (f *Fragment) Nodes() []*xmlquery.Node {
	var ret []*xmlquery.Node
	for c := f.root.FirstChild; c != nil; c = c.NextSibling {
		ret = append(ret, c)
	}
	return ret
}

// Text returns the concatenated character data of the fragment.
func (f *Fragment) Text() string {
	return f.root.InnerText()
}

// Select evaluates an XPath expression against the fragment. Absolute paths
// start at the fragment, so "/user/name" selects the name of a top level
// user element. Selected attributes become text.
func (f *Fragment) Select(path string) (*Fragment, error) {
	expr := strings.TrimSpace(path)
	if strings.HasPrefix(expr, "/") {
		expr = "." + expr
	}
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", path, err)
	}
	var sb strings.Builder
	w := &writer{sb: &sb, ns: f.ns}
	for _, n := range xmlquery.QuerySelectorAll(f.root, compiled) {
		w.node(n, true)
	}
	return ParseFragment(sb.String(), f.ns)
}

// String writes the fragment back out as XML.
func (f *Fragment) String() string {
	var sb strings.Builder
	w := &writer{sb: &sb, ns: f.ns}
	for c := f.root.FirstChild; c != nil; c = c.NextSibling {
		w.node(c, true)
	}
	return sb.String()
}

// writer serializes xmlquery nodes. Top level elements receive the
// declarations of ns for the prefixes used in their subtree and not declared
// by the element itself.
type writer struct {
	sb *strings.Builder
	ns map[string]string
}

func (w *writer) node(n *xmlquery.Node, top bool) {
	switch n.Type {
	case xmlquery.ElementNode:
		w.element(n, attributes(n), top, func() {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				w.node(c, false)
			}
		})
	case xmlquery.TextNode, xmlquery.AttributeNode:
		w.text(n.InnerText())
	case xmlquery.CharDataNode:
		w.sb.WriteString("<![CDATA[" + n.Data + "]]>")
	case xmlquery.CommentNode:
		w.sb.WriteString("<!--" + n.Data + "-->")
	}
}

func (w *writer) element(n *xmlquery.Node, attrs []attribute, top bool, children func()) {
	name := qname(n.Prefix, n.Data)
	w.sb.WriteString("<" + name)
	if top {
		used := make(map[string]bool)
		usedPrefixes(n, w.ns, used)
		for _, p := range sortedPrefixes(w.ns) {
			if !used[p] || w.ns[p] == Namespace || declares(attrs, p) {
				continue
			}
			w.attr(qname(xmlnsPrefix(p), xmlnsLocal(p)), w.ns[p])
		}
	}
	for _, a := range attrs {
		if a.isDecl() && a.value == Namespace {
			continue
		}
		w.attr(qname(a.space, a.local), a.value)
	}
	w.sb.WriteString(">")
	children()
	w.sb.WriteString("</" + name + ">")
}

// usedPrefixes adds to used the prefixes of ns that name an element or
// attribute in the subtree of n. Placeholders are not written, so their
// prefixes do not count.
func usedPrefixes(n *xmlquery.Node, ns map[string]string, used map[string]bool) {
	if n.Type != xmlquery.ElementNode || n.NamespaceURI == Namespace {
		return
	}
	if _, ok := ns[n.Prefix]; ok {
		used[n.Prefix] = true
	}
	for _, a := range n.Attr {
		if a.Name.Space == "" || a.Name.Space == "xmlns" {
			continue
		}
		if _, ok := ns[a.Name.Space]; ok {
			used[a.Name.Space] = true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		usedPrefixes(c, ns, used)
	}
}

func (w *writer) attr(name, value string) {
	w.sb.WriteString(" " + name + `="`)
	_ = xml.EscapeText(w.sb, []byte(value))
	w.sb.WriteString(`"`)
}

func (w *writer) text(s string) {
	_ = xml.EscapeText(w.sb, []byte(s))
}

func qname(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

// attribute is an attribute as written: space holds the prefix.
type attribute struct {
	space, local, value string
}

func attributes(n *xmlquery.Node) []attribute {
	ret := make([]attribute, 0, len(n.Attr))
	for _, a := range n.Attr {
		ret = append(ret, attribute{space: a.Name.Space, local: a.Name.Local, value: a.Value})
	}
	return ret
}

func (a attribute) isDecl() bool {
	return a.space == "xmlns" || (a.space == "" && a.local == "xmlns")
}

func declares(attrs []attribute, prefix string) bool {
	for _, a := range attrs {
		if !a.isDecl() {
			continue
		}
		if (prefix == "" && a.space == "") || (a.space == "xmlns" && a.local == prefix) {
			return true
		}
	}
	return false
}

func xmlnsPrefix(p string) string {
	if p == "" {
		return ""
	}
	return "xmlns"
}

func xmlnsLocal(p string) string {
	if p == "" {
		return "xmlns"
	}
	return p
}

func sortedPrefixes(ns map[string]string) []string {
	ret := make([]string, 0, len(ns))
	for p := range ns {
		ret = append(ret, p)
	}
	sort.Strings(ret)
	return ret
}
