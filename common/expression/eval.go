package expression

import (
	"fmt"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/ast"
	"github.com/antonmedv/expr/parser"
	errors2 "github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"go.uber.org/zap"
)

// Eval evaluates exp against vars and asserts the result type.
func Eval[T any](log *zap.Logger, exp string, vars map[string]any) (T, error) {
	var zero T
	ex, err := expr.Compile(exp)
	if err != nil {
		return zero, fmt.Errorf("compile %q: %s: %w", exp, err.Error(), errors2.ErrWorkflowFatal)
	}

	res, err := expr.Run(ex, vars)
	if err != nil {
		return zero, fmt.Errorf("evaluate %q: %w", exp, err)
	}

	v, ok := res.(T)
	if !ok {
		errex := fmt.Errorf("expression %q evaluated to %T, wanted %T: %w", exp, res, zero, errors2.ErrWorkflowFatal)
		log.Error(errex.Error())
		return zero, errex
	}
	return v, nil
}

// Condition evaluates an activity condition. An empty condition is true.
func Condition(log *zap.Logger, exp string, vars map[string]any) (bool, error) {
	exp = strings.TrimSpace(exp)
	if exp == "" {
		return true, nil
	}
	return Eval[bool](log, exp, vars)
}

// Validate checks that exp compiles without evaluating it.
func Validate(exp string) error {
	if strings.TrimSpace(exp) == "" {
		return nil
	}
	if _, err := expr.Compile(exp); err != nil {
		return fmt.Errorf("compile %q: %w", exp, err)
	}
	return nil
}

// GetVariables returns the identifiers referenced by exp.
func GetVariables(exp string) (map[string]struct{}, error) {
	ret := make(map[string]struct{})
	exp = strings.TrimSpace(exp)
	if len(exp) == 0 {
		return ret, nil
	}
	c, err := parser.Parse(exp)
	if err != nil {
		return nil, err
	}

	g := &variableWalker{v: ret}
	ast.Walk(&c.Node, g)
	return g.v, nil
}

type variableWalker struct {
	v map[string]struct{}
}

func (w *variableWalker) Enter(n *ast.Node) {
	switch t := (*n).(type) {
	case *ast.IdentifierNode:
		w.v[t.Value] = struct{}{}
	}
}

func (w *variableWalker) Exit(n *ast.Node) {}
