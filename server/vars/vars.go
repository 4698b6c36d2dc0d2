package vars

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"github.com/pdvrieze/ProcessManager-sub007/server/template"
	"go.uber.org/zap"
)

// Lookup returns the result name of the node instance for nodeID.
type Lookup func(nodeID, name string) (model.ProcessData, bool)

// Results applies result bindings to a completion payload. A binding without
// a path takes the whole payload; a path selecting nothing gives an empty value.
func Results(log *zap.Logger, payload string, bindings []model.ResultBinding) ([]model.ProcessData, error) {
	if len(bindings) == 0 {
		return nil, nil
	}
	f, err := template.ParseFragment(payload, nil)
	if err != nil {
		log.Error("unreadable payload", zap.Error(err))
		return nil, fmt.Errorf("read payload: %s: %w", err.Error(), errors.ErrWorkflowFatal)
	}
	ret := make([]model.ProcessData, 0, len(bindings))
	for _, b := range bindings {
		if b.Path == "" {
			ret = append(ret, model.Fragment(b.Name, f.String()))
			continue
		}
		sel, err := f.Select(b.Path)
		if err != nil {
			return nil, fmt.Errorf("result %q: %s: %w", b.Name, err.Error(), errors.ErrWorkflowFatal)
		}
		ret = append(ret, model.Fragment(b.Name, sel.String()))
	}
	return ret, nil
}

// Defines resolves the inputs of a node. Values referring to an ancestor
// that produced no such result fail with *errors.TemplateError.
func Defines(nodeID string, bindings []model.DefineBinding, lookup Lookup) ([]model.ProcessData, error) {
	ret := make([]model.ProcessData, 0, len(bindings))
	for _, b := range bindings {
		if b.RefNode == "" {
			ret = append(ret, model.Scalar(b.Name, b.Literal))
			continue
		}
		ref := b.RefName
		if ref == "" {
			ref = b.Name
		}
		d, ok := lookup(b.RefNode, ref)
		if !ok {
			return nil, &errors.TemplateError{
				NodeID: nodeID,
				Name:   b.Name,
				Err:    fmt.Errorf("no result %q on node %q: %w", ref, b.RefNode, template.ErrUnknownName),
			}
		}
		if b.Path == "" {
			ret = append(ret, model.Fragment(b.Name, d.Value))
			continue
		}
		f, err := template.ParseFragment(d.Value, nil)
		if err == nil {
			f, err = f.Select(b.Path)
		}
		if err != nil {
			return nil, &errors.TemplateError{NodeID: nodeID, Name: b.Name, Err: err}
		}
		ret = append(ret, model.Fragment(b.Name, f.String()))
	}
	return ret, nil
}

// Env returns the expression environment for data: each entry by name,
// holding its text as a bool, int, float64 or string.
func Env(data []model.ProcessData) map[string]any {
	env := make(map[string]any, len(data))
	for _, d := range data {
		if _, ok := env[d.Name]; ok {
			continue
		}
		env[d.Name] = typed(text(d))
	}
	return env
}

func text(d model.ProcessData) string {
	f, err := template.ParseFragment(d.Value, nil)
	if err != nil {
		return d.Value
	}
	return strings.TrimSpace(f.Text())
}

func typed(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
