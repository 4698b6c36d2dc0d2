package template

import (
	"fmt"

	"github.com/pdvrieze/ProcessManager-sub007/model"
)

// Values is a Context over a list of process data. The first entry with a
// name wins.
type Values []model.ProcessData

// ResolveElementValue implements Context.
func (v Values) ResolveElementValue(name string) (*Fragment, error) {
	d, ok := model.FindData(v, name)
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownName)
	}
	return ParseFragment(d.Value, nil)
}

// ResolveAttributeValue implements Context. The value is the character data
// of the named entry.
func (v Values) ResolveAttributeValue(name string) (string, error) {
	f, err := v.ResolveElementValue(name)
	if err != nil {
		return "", err
	}
	return f.Text(), nil
}

// ResolveAttributeName implements Context. An entry is its own attribute name.
func (v Values) ResolveAttributeName(name string) (string, error) {
	if _, ok := model.FindData(v, name); !ok {
		return "", fmt.Errorf("%q: %w", name, ErrUnknownName)
	}
	return name, nil
}

// Render resolves the body of tmpl against ctx.
func Render(tmpl *model.MessageTemplate, ctx Context) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	return NewTransformer(ctx).Transform(tmpl.Body, tmpl.Namespaces)
}
